// Package persona turns configured ACP agents into chat members. A Persona
// is one agent in one room; a Manager holds the personas of a room and
// routes messages to them by @mention.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/runtime"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
)

// RuntimeProvider hands out the shared runtime of an agent type.
// *runtime.Registry implements it.
type RuntimeProvider interface {
	GetOrCreate(ctx context.Context, adapter runtime.AgentAdapter) (*runtime.Runtime, error)
}

// Persona is one agent taking part in one room. It owns the ACP session
// for that room and is the participant the runtime writes replies for.
type Persona struct {
	adapter  Adapter
	roomID   string
	store    chat.Store
	runtimes RuntimeProvider
	logger   *logger.Logger

	startMu sync.Mutex

	mu        sync.RWMutex
	rt        *runtime.Runtime
	sessionID string
	composing bool
	commands  []acp.AvailableCommand
}

var _ runtime.Participant = (*Persona)(nil)

// New creates a persona. Nothing is spawned until Start or the first
// message.
func New(adapter Adapter, roomID string, store chat.Store, runtimes RuntimeProvider, log *logger.Logger) *Persona {
	if log == nil {
		log = logger.Default()
	}
	return &Persona{
		adapter:  adapter,
		roomID:   roomID,
		store:    store,
		runtimes: runtimes,
		logger: log.WithFields(
			zap.String("component", "persona"),
			zap.String("agent_type", adapter.AgentType()),
			zap.String("room_id", roomID),
		),
	}
}

// ID is the mention name, used as the sender of the persona's messages.
func (p *Persona) ID() string       { return p.adapter.MentionName() }
func (p *Persona) RoomID() string   { return p.roomID }
func (p *Persona) Chat() chat.Store { return p.store }

// Adapter returns the agent adapter behind the persona.
func (p *Persona) Adapter() Adapter { return p.adapter }

// SetComposing records whether the agent is writing a reply.
func (p *Persona) SetComposing(composing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.composing = composing
}

// Composing reports whether a turn is in flight.
func (p *Persona) Composing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.composing
}

// SetAvailableCommands replaces the advertised slash commands.
func (p *Persona) SetAvailableCommands(cmds []acp.AvailableCommand) {
	p.logger.Info("setting slash commands", zap.Int("count", len(cmds)))
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append([]acp.AvailableCommand(nil), cmds...)
}

// SlashCommands returns the commands the agent advertised for this session.
func (p *Persona) SlashCommands() []acp.AvailableCommand {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]acp.AvailableCommand(nil), p.commands...)
}

// SessionID returns the ACP session id, or "" before Start.
func (p *Persona) SessionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionID
}

// Runtime returns the runtime the session lives on, or nil before Start.
func (p *Persona) Runtime() *runtime.Runtime {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rt
}

// Start opens the persona's session, spawning the agent if this is the
// first session of its type. It is a no-op while the session is alive.
func (p *Persona) Start(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	p.mu.RLock()
	rt, sessionID := p.rt, p.sessionID
	p.mu.RUnlock()
	if rt != nil && sessionID != "" && rt.Alive() {
		return nil
	}

	rt, err := p.runtimes.GetOrCreate(ctx, p.adapter)
	if err != nil {
		return fmt.Errorf("start %s runtime: %w", p.adapter.AgentType(), err)
	}
	sessionID, err = rt.CreateSession(ctx, p)
	if err != nil {
		return fmt.Errorf("create %s session: %w", p.adapter.AgentType(), err)
	}

	p.mu.Lock()
	p.rt = rt
	p.sessionID = sessionID
	p.mu.Unlock()
	p.logger.Info("persona session started", zap.String("session_id", sessionID))
	return nil
}

// ProcessMessage prompts the agent with a chat message and lets the runtime
// stream the reply into the room. Failures are also posted to the room.
func (p *Persona) ProcessMessage(ctx context.Context, msg chat.Message) error {
	err := p.processMessage(ctx, msg)
	if err == nil || errors.Is(err, errAuthReplied) {
		return nil
	}
	p.logger.Error("failed to process message", zap.String("message_id", msg.ID), zap.Error(err))
	if postErr := p.postError(context.WithoutCancel(ctx), err); postErr != nil {
		p.logger.Warn("failed to post error message", zap.Error(postErr))
	}
	return err
}

// errAuthReplied means the adapter already told the user how to sign in.
var errAuthReplied = errors.New("sign-in instructions posted")

func (p *Persona) processMessage(ctx context.Context, msg chat.Message) error {
	if err := p.authGate(ctx, nil); err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	prompt := p.stripMention(msg.Body)
	attachments := p.resolveAttachments(ctx, msg.Attachments)

	_, err := p.prompt(ctx, prompt, attachments)
	var authErr *runtime.AuthRequiredError
	if errors.As(err, &authErr) {
		if gateErr := p.authGate(ctx, authErr); gateErr != nil {
			return gateErr
		}
		_, err = p.prompt(ctx, prompt, attachments)
	}
	return err
}

func (p *Persona) prompt(ctx context.Context, prompt string, attachments []chat.Attachment) (acp.PromptResponse, error) {
	p.mu.RLock()
	rt, sessionID := p.rt, p.sessionID
	p.mu.RUnlock()
	return rt.PromptAndReply(ctx, sessionID, prompt, attachments)
}

// authGate asks the adapter whether the user is signed in. When they are
// not, the adapter posts its instructions and, if it can, waits for the
// sign-in before the prompt goes out. A known authErr skips the check.
func (p *Persona) authGate(ctx context.Context, authErr *runtime.AuthRequiredError) error {
	if authErr == nil {
		checker, ok := p.adapter.(runtime.Authenticator)
		if !ok {
			return nil
		}
		err := checker.EnsureAuthenticated(ctx)
		if err == nil {
			return nil
		}
		if !errors.As(err, &authErr) {
			return err
		}
	}
	p.logger.Info("user is not signed in", zap.String("reason", authErr.Message))

	replied := false
	if h, ok := p.adapter.(runtime.NoAuthHandler); ok {
		if err := h.OnNoAuth(ctx, p); err != nil {
			p.logger.Warn("no-auth handler failed", zap.Error(err))
		} else {
			replied = true
		}
	}
	waiter, ok := p.adapter.(runtime.AuthWaiter)
	if !ok {
		if replied {
			return errAuthReplied
		}
		return authErr
	}
	if err := waiter.WaitForAuth(ctx); err != nil {
		return fmt.Errorf("waiting for sign-in: %w", err)
	}
	p.logger.Info("user signed in")
	return nil
}

func (p *Persona) stripMention(body string) string {
	return strings.TrimSpace(strings.ReplaceAll(body, "@"+p.adapter.MentionName(), ""))
}

// resolveAttachments looks the message's attachment ids up in the room.
// Unknown ids and attachments that no longer decode are skipped.
func (p *Persona) resolveAttachments(ctx context.Context, ids []string) []chat.Attachment {
	if len(ids) == 0 {
		return nil
	}
	stored, err := p.store.GetAttachments(ctx, p.roomID)
	if err != nil {
		p.logger.Warn("failed to load attachments", zap.Error(err))
		return nil
	}
	var out []chat.Attachment
	for _, id := range ids {
		raw, ok := stored[id]
		if !ok {
			p.logger.Warn("skipping unknown attachment", zap.String("attachment_id", id))
			continue
		}
		a, err := chat.DecodeAttachment(raw)
		if err != nil {
			p.logger.Warn("skipping attachment", zap.String("attachment_id", id), zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out
}

func (p *Persona) postError(ctx context.Context, err error) error {
	body := "Sorry, something went wrong: " + err.Error()
	var authErr *runtime.AuthRequiredError
	if errors.As(err, &authErr) {
		body = fmt.Sprintf("%s needs you to sign in before it can answer.", p.adapter.DisplayName())
	}
	_, addErr := p.store.AddMessage(ctx, p.roomID, chat.NewMessage{Body: body, Sender: p.ID()})
	return addErr
}

// Shutdown closes the persona's session. The agent process is shared and
// stays up for other rooms.
func (p *Persona) Shutdown(ctx context.Context) {
	p.mu.Lock()
	rt, sessionID := p.rt, p.sessionID
	p.rt, p.sessionID = nil, ""
	p.composing = false
	p.mu.Unlock()
	if rt == nil {
		return
	}
	rt.CloseSession(ctx, sessionID)
	p.logger.Info("persona session closed", zap.String("session_id", sessionID))
}

// Package handlers exposes chat rooms, permission decisions and slash
// commands over HTTP and as WebSocket actions. Both transports share one
// Controller.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/runtime"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/persona"
)

var (
	// ErrNotFound maps to 404 / NOT_FOUND.
	ErrNotFound = errors.New("not found")
	// ErrValidation maps to 400 / VALIDATION_ERROR.
	ErrValidation = errors.New("validation failed")
)

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Sessions finds ACP sessions across agent runtimes. *runtime.Registry
// implements it.
type Sessions interface {
	FindSession(sessionID string) (*runtime.Runtime, bool)
	ResolvePermission(sessionID, toolCallID, optionID string) bool
}

// Controller implements the chat operations behind both transports.
type Controller struct {
	store    chat.Store
	rooms    *persona.Rooms
	sessions Sessions
	logger   *logger.Logger
}

// NewController creates a controller.
func NewController(store chat.Store, rooms *persona.Rooms, sessions Sessions, log *logger.Logger) *Controller {
	return &Controller{
		store:    store,
		rooms:    rooms,
		sessions: sessions,
		logger:   log.WithFields(zap.String("component", "chat-controller")),
	}
}

// PostMessage stores a user message and routes it to the room's personas.
// The agents reply asynchronously into the room.
func (c *Controller) PostMessage(ctx context.Context, roomID string, req PostMessageRequest) (*PostMessageResponse, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, invalid("room_id is required")
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, invalid("body is required")
	}
	sender := req.Sender
	if sender == "" {
		sender = DefaultSender
	}
	id, err := c.store.AddMessage(ctx, roomID, chat.NewMessage{
		Body:        req.Body,
		Sender:      sender,
		Attachments: req.Attachments,
	}, chat.TriggerFindMentions)
	if err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	msg, err := c.store.GetMessage(ctx, roomID, id)
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return nil, notFound("message %s", id)
	}

	// Turns outlive the request that started them.
	routed := c.rooms.Get(roomID).Route(context.WithoutCancel(ctx), *msg)
	resp := &PostMessageResponse{Message: *msg, RoutedTo: []string{}}
	for _, p := range routed {
		resp.RoutedTo = append(resp.RoutedTo, p.ID())
	}
	c.logger.Debug("message posted",
		zap.String("room_id", roomID),
		zap.String("message_id", id),
		zap.Strings("routed_to", resp.RoutedTo))
	return resp, nil
}

// ListMessages returns the room's messages in order.
func (c *Controller) ListMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	msgs, err := c.store.ListMessages(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}

// AddAttachment validates and stores an attachment, returning its id.
func (c *Controller) AddAttachment(ctx context.Context, roomID string, raw json.RawMessage) (string, error) {
	if _, err := chat.DecodeAttachment(raw); err != nil {
		return "", invalid("%v", err)
	}
	id, err := c.store.AddAttachment(ctx, roomID, raw)
	if err != nil {
		return "", fmt.Errorf("store attachment: %w", err)
	}
	return id, nil
}

// SlashCommands lists the commands of the persona answering to mention,
// or of the room's default persona when mention is empty. Command names
// always start with "/".
func (c *Controller) SlashCommands(roomID, mention string) ([]SlashCommand, error) {
	m, ok := c.rooms.Lookup(roomID)
	if !ok {
		return nil, notFound("chat not initialized: %s", roomID)
	}
	var p *persona.Persona
	if mention = strings.TrimPrefix(mention, "@"); mention != "" {
		if p, ok = m.Persona(mention); !ok {
			return nil, notFound("persona not found: @%s", mention)
		}
	} else if p, ok = m.Default(); !ok {
		return []SlashCommand{}, nil
	}

	cmds := p.SlashCommands()
	out := make([]SlashCommand, 0, len(cmds))
	for _, cmd := range cmds {
		name := cmd.Name
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
		out = append(out, SlashCommand{Name: name, Description: cmd.Description})
	}
	return out, nil
}

// ResolvePermission delivers the user's choice to a waiting agent.
func (c *Controller) ResolvePermission(req ResolvePermissionRequest) error {
	switch {
	case req.SessionID == "":
		return invalid("session_id is required")
	case req.ToolCallID == "":
		return invalid("tool_call_id is required")
	case req.OptionID == "":
		return invalid("option_id is required")
	}
	if !c.sessions.ResolvePermission(req.SessionID, req.ToolCallID, req.OptionID) {
		return notFound("no pending permission request for tool call %s", req.ToolCallID)
	}
	c.logger.Info("permission resolved",
		zap.String("session_id", req.SessionID),
		zap.String("tool_call_id", req.ToolCallID),
		zap.String("option_id", req.OptionID))
	return nil
}

// ToolCalls returns the tool calls of the session's current turn.
func (c *Controller) ToolCalls(sessionID string) ([]map[string]any, error) {
	rt, ok := c.sessions.FindSession(sessionID)
	if !ok {
		return nil, notFound("session %s", sessionID)
	}
	calls, err := rt.ToolCalls(sessionID)
	if errors.Is(err, runtime.ErrSessionNotFound) {
		return nil, notFound("session %s", sessionID)
	}
	return calls, err
}

// Personas describes the personas of a room, initializing it if needed.
func (c *Controller) Personas(roomID string) []PersonaInfo {
	m := c.rooms.Get(roomID)
	def, _ := m.Default()
	out := []PersonaInfo{}
	for _, p := range m.Personas() {
		out = append(out, PersonaInfo{
			AgentType:   p.Adapter().AgentType(),
			DisplayName: p.Adapter().DisplayName(),
			MentionName: p.ID(),
			SessionID:   p.SessionID(),
			Composing:   p.Composing(),
			Default:     p == def,
		})
	}
	return out
}

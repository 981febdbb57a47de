package persona

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kandev/acpchat/internal/acp/rpcerr"
	"github.com/kandev/acpchat/internal/acp/runtime"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
)

// echoAgent is a scripted ACP agent that replies "echo: <prompt text>".
type echoAgent struct {
	out      io.WriteCloser
	writeMu  sync.Mutex
	sessions atomic.Int32

	// authFailures prompts are refused with the auth-required code.
	authFailures atomic.Int32
	commands     []map[string]any

	prompts chan []map[string]any
}

type frame struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (a *echoAgent) serve(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil || f.Method == "" || f.ID == nil {
			continue
		}
		switch f.Method {
		case "initialize":
			a.reply(f, map[string]any{"protocolVersion": 1, "agentCapabilities": map[string]any{}})
		case "session/new":
			id := fmt.Sprintf("sess-%d", a.sessions.Add(1))
			a.reply(f, map[string]any{"sessionId": id})
			if len(a.commands) > 0 {
				a.update(id, map[string]any{"sessionUpdate": "available_commands_update", "availableCommands": a.commands})
			}
		case "session/prompt":
			a.prompt(f)
		default:
			a.write(map[string]any{"jsonrpc": "2.0", "id": f.ID, "error": map[string]any{"code": rpcerr.CodeMethodNotFound, "message": "unsupported"}})
		}
	}
}

func (a *echoAgent) prompt(f frame) {
	var params struct {
		SessionID string           `json:"sessionId"`
		Prompt    []map[string]any `json:"prompt"`
	}
	_ = json.Unmarshal(f.Params, &params)
	a.prompts <- params.Prompt

	if a.authFailures.Load() > 0 {
		a.authFailures.Add(-1)
		a.write(map[string]any{"jsonrpc": "2.0", "id": f.ID, "error": map[string]any{"code": rpcerr.CodeAuthRequired, "message": "login required"}})
		return
	}
	text, _ := params.Prompt[0]["text"].(string)
	a.update(params.SessionID, map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"content":       map[string]any{"type": "text", "text": "echo: " + text},
	})
	a.reply(f, map[string]any{"stopReason": "end_turn"})
}

func (a *echoAgent) reply(f frame, result any) {
	a.write(map[string]any{"jsonrpc": "2.0", "id": f.ID, "result": result})
}

func (a *echoAgent) update(sessionID string, update map[string]any) {
	a.write(map[string]any{"jsonrpc": "2.0", "method": "session/update", "params": map[string]any{"sessionId": sessionID, "update": update}})
}

func (a *echoAgent) write(v any) {
	data, _ := json.Marshal(v)
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, _ = a.out.Write(append(data, '\n'))
}

// lastPrompt returns the next prompt the agent received.
func (a *echoAgent) lastPrompt(t *testing.T) []map[string]any {
	t.Helper()
	select {
	case p := <-a.prompts:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for prompt")
		return nil
	}
}

// newEchoRegistry returns a registry whose runtimes talk to one echo agent.
func newEchoRegistry(t *testing.T, agent *echoAgent) *runtime.Registry {
	t.Helper()
	start := func(ctx context.Context, adapter runtime.AgentAdapter, opts runtime.Options) (*runtime.Runtime, error) {
		clientToAgentR, clientToAgentW := io.Pipe()
		agentToClientR, agentToClientW := io.Pipe()
		agent.out = agentToClientW
		go agent.serve(clientToAgentR)
		t.Cleanup(func() { _ = agentToClientW.Close() })
		return runtime.Connect(ctx, adapter, clientToAgentW, agentToClientR, opts)
	}
	reg := runtime.NewRegistryWithStart(runtime.Options{Cwd: t.TempDir(), Logger: logger.NewNop()}, start)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func newEchoAgent() *echoAgent {
	return &echoAgent{prompts: make(chan []map[string]any, 16)}
}

// stubAdapter is an Adapter with no optional hooks.
type stubAdapter struct {
	agentType string
	mention   string
}

func (a *stubAdapter) AgentType() string                       { return a.agentType }
func (a *stubAdapter) Command() (string, []string)             { return "echo-agent", nil }
func (a *stubAdapter) Env() []string                           { return nil }
func (a *stubAdapter) DisplayName() string                     { return "Agent " + a.agentType }
func (a *stubAdapter) MentionName() string                     { return a.mention }
func (a *stubAdapter) CheckRequirements(context.Context) error { return nil }

// gatedAdapter adds the sign-in hooks. The user is signed out until
// WaitForAuth runs.
type gatedAdapter struct {
	stubAdapter
	signedIn atomic.Bool
	noAuth   atomic.Int32
	waits    atomic.Int32
}

func (a *gatedAdapter) EnsureAuthenticated(context.Context) error {
	if a.signedIn.Load() {
		return nil
	}
	return runtime.NewAuthRequiredError(a.agentType, "signed out")
}

func (a *gatedAdapter) OnNoAuth(ctx context.Context, p runtime.Participant) error {
	a.noAuth.Add(1)
	_, err := p.Chat().AddMessage(ctx, p.RoomID(), chat.NewMessage{Body: "please sign in", Sender: p.ID()})
	return err
}

func (a *gatedAdapter) WaitForAuth(context.Context) error {
	a.waits.Add(1)
	a.signedIn.Store(true)
	return nil
}

// replyOnlyAdapter posts sign-in instructions but cannot wait for them.
type replyOnlyAdapter struct {
	stubAdapter
}

func (a *replyOnlyAdapter) OnNoAuth(ctx context.Context, p runtime.Participant) error {
	_, err := p.Chat().AddMessage(ctx, p.RoomID(), chat.NewMessage{Body: "please sign in", Sender: p.ID()})
	return err
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newStore() *chat.MemoryStore {
	return chat.NewMemoryStore(chat.NewTriggers())
}

// userMessage stores a message from a human and returns it.
func userMessage(t *testing.T, store chat.Store, roomID, body string, attachments ...string) chat.Message {
	t.Helper()
	ctx := testCtx(t)
	id, err := store.AddMessage(ctx, roomID, chat.NewMessage{Body: body, Sender: "user-1", Attachments: attachments}, chat.TriggerFindMentions)
	require.NoError(t, err)
	msg, err := store.GetMessage(ctx, roomID, id)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return *msg
}

func bodies(t *testing.T, store chat.Store, roomID string) []string {
	t.Helper()
	msgs, err := store.ListMessages(testCtx(t), roomID)
	require.NoError(t, err)
	var out []string
	for _, m := range msgs {
		out = append(out, m.Sender+": "+m.Body)
	}
	return out
}

var _ Adapter = (*stubAdapter)(nil)

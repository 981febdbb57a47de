package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
)

const waitTimeout = 5 * time.Second

// rpcMessage is one newline-delimited JSON-RPC frame.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeAgent plays the agent side of the connection from a test script.
type fakeAgent struct {
	t         *testing.T
	out       io.WriteCloser
	writeMu   sync.Mutex
	requests  chan rpcMessage
	responses chan rpcMessage
	nextID    int
}

func newFakeAgent(t *testing.T, in io.Reader, out io.WriteCloser) *fakeAgent {
	a := &fakeAgent{
		t:         t,
		out:       out,
		requests:  make(chan rpcMessage, 64),
		responses: make(chan rpcMessage, 64),
		nextID:    1000,
	}
	go a.readLoop(in)
	return a
}

func (a *fakeAgent) readLoop(in io.Reader) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg rpcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Method != "" {
			a.requests <- msg
		} else {
			a.responses <- msg
		}
	}
}

func (a *fakeAgent) write(v any) {
	data, err := json.Marshal(v)
	require.NoError(a.t, err)
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err = a.out.Write(append(data, '\n'))
	require.NoError(a.t, err)
}

// expectRequest waits for the next client request and checks its method.
func (a *fakeAgent) expectRequest(method string) rpcMessage {
	a.t.Helper()
	select {
	case msg := <-a.requests:
		require.Equal(a.t, method, msg.Method)
		return msg
	case <-time.After(waitTimeout):
		a.t.Fatalf("timed out waiting for %s", method)
		return rpcMessage{}
	}
}

// assertNoRequest fails if the client sends a request within d.
func (a *fakeAgent) assertNoRequest(d time.Duration) {
	a.t.Helper()
	select {
	case msg := <-a.requests:
		a.t.Fatalf("unexpected request %s", msg.Method)
	case <-time.After(d):
	}
}

func (a *fakeAgent) reply(req rpcMessage, result any) {
	a.write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (a *fakeAgent) replyError(req rpcMessage, code int, message string) {
	a.write(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": code, "message": message}})
}

func (a *fakeAgent) notify(method string, params any) {
	a.write(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

// call sends an agent-to-client request and returns its id.
func (a *fakeAgent) call(method string, params any) int {
	a.nextID++
	a.write(map[string]any{"jsonrpc": "2.0", "id": a.nextID, "method": method, "params": params})
	return a.nextID
}

// expectResponse waits for the client's answer to the request with id.
func (a *fakeAgent) expectResponse(id int) rpcMessage {
	a.t.Helper()
	select {
	case msg := <-a.responses:
		var got int
		require.NoError(a.t, json.Unmarshal(msg.ID, &got))
		require.Equal(a.t, id, got)
		return msg
	case <-time.After(waitTimeout):
		a.t.Fatalf("timed out waiting for response %d", id)
		return rpcMessage{}
	}
}

func (a *fakeAgent) sendUpdate(sessionID string, update map[string]any) {
	a.notify("session/update", map[string]any{"sessionId": sessionID, "update": update})
}

func (a *fakeAgent) sendChunk(sessionID, text string) {
	a.sendUpdate(sessionID, map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"content":       map[string]any{"type": "text", "text": text},
	})
}

type testAdapter struct{ agentType string }

func (a testAdapter) AgentType() string           { return a.agentType }
func (a testAdapter) Command() (string, []string) { return "fake-agent", nil }
func (a testAdapter) Env() []string               { return nil }

// fakeParticipant records what the runtime reports to the chat member.
type fakeParticipant struct {
	id    string
	room  string
	store chat.Store

	mu        sync.Mutex
	composing []bool
	commands  []acp.AvailableCommand
}

func newParticipant(store chat.Store) *fakeParticipant {
	return &fakeParticipant{id: "claude", room: "room-1", store: store}
}

func (p *fakeParticipant) ID() string       { return p.id }
func (p *fakeParticipant) RoomID() string   { return p.room }
func (p *fakeParticipant) Chat() chat.Store { return p.store }

func (p *fakeParticipant) SetComposing(c bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.composing = append(p.composing, c)
}

func (p *fakeParticipant) SetAvailableCommands(cmds []acp.AvailableCommand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = cmds
}

func (p *fakeParticipant) composingHistory() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.composing...)
}

func (p *fakeParticipant) commandNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, c := range p.commands {
		names = append(names, c.Name)
	}
	return names
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// connectFake connects a runtime to a scripted agent and completes the
// initialize handshake.
func connectFake(t *testing.T, opts Options) (*Runtime, *fakeAgent) {
	t.Helper()
	clientToAgentR, clientToAgentW := io.Pipe()
	agentToClientR, agentToClientW := io.Pipe()
	a := newFakeAgent(t, clientToAgentR, agentToClientW)

	if opts.Cwd == "" {
		opts.Cwd = t.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	type result struct {
		rt  *Runtime
		err error
	}
	done := make(chan result, 1)
	go func() {
		rt, err := Connect(testCtx(t), testAdapter{agentType: "fake"}, clientToAgentW, agentToClientR, opts)
		done <- result{rt, err}
	}()

	init := a.expectRequest("initialize")
	var params map[string]any
	require.NoError(t, json.Unmarshal(init.Params, &params))
	require.Contains(t, params, "clientCapabilities")
	a.reply(init, map[string]any{"protocolVersion": 1, "agentCapabilities": map[string]any{}})

	res := <-done
	require.NoError(t, res.err)
	t.Cleanup(func() {
		_ = res.rt.Close(context.Background())
		_ = agentToClientW.Close()
	})
	return res.rt, a
}

// openSession runs CreateSession against the fake agent.
func openSession(t *testing.T, rt *Runtime, a *fakeAgent, p Participant, sessionID string) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := rt.CreateSession(testCtx(t), p)
		done <- err
	}()
	req := a.expectRequest("session/new")
	a.reply(req, map[string]any{"sessionId": sessionID})
	require.NoError(t, <-done)
}

type promptResult struct {
	resp acp.PromptResponse
	err  error
}

func startPrompt(t *testing.T, rt *Runtime, sessionID, text string, attachments []chat.Attachment) <-chan promptResult {
	done := make(chan promptResult, 1)
	go func() {
		resp, err := rt.PromptAndReply(testCtx(t), sessionID, text, attachments)
		done <- promptResult{resp, err}
	}()
	return done
}

func awaitPrompt(t *testing.T, done <-chan promptResult) promptResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("prompt did not return")
		return promptResult{}
	}
}

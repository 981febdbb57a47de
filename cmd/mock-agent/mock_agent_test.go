package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelFromArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no flag returns default", []string{"mock-agent"}, "mock-default"},
		{"separate flag and value", []string{"mock-agent", "--model", "mock-slow"}, "mock-slow"},
		{"equals syntax", []string{"mock-agent", "--model=mock-fast"}, "mock-fast"},
		{"flag with other args before", []string{"mock-agent", "--verbose", "--model", "mock-slow"}, "mock-slow"},
		{"dangling flag without value", []string{"mock-agent", "--model"}, "mock-default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseModelFromArgs(tt.args))
		})
	}
}

func TestDelayRange(t *testing.T) {
	for model, want := range map[string][2]int{
		"mock-instant": {0, 0},
		"mock-fast":    {10, 50},
		"mock-slow":    {500, 3000},
		"other":        {100, 500},
	} {
		lo, hi := delayRange(model)
		assert.Equal(t, want, [2]int{lo, hi}, model)
	}
}

func TestDiscoverFilesSkipsVendoredDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89}, 0o644))

	assert.Equal(t, []string{filepath.Join(dir, "main.go")}, discoverFiles(dir))
	assert.Equal(t, filepath.Join(dir, "main.go"), randomFile(dir))
	assert.Empty(t, randomFile(t.TempDir()))
}

func TestFirstLines(t *testing.T) {
	assert.Equal(t, "a\nb\n", firstLines("a\nb\nc\n", 2))
	assert.Equal(t, "a\nb", firstLines("a\nb", 10))
}

// recordingClient answers the agent's client calls and records what the
// agent sent.
type recordingClient struct {
	mu         sync.Mutex
	permission acp.PermissionOptionId
	updates    []acp.SessionUpdate
	commands   []acp.AvailableCommand
	calls      []string
	written    map[string]string
}

var _ acp.Client = (*recordingClient)(nil)

func (c *recordingClient) record(method string) {
	c.mu.Lock()
	c.calls = append(c.calls, method)
	c.mu.Unlock()
}

func (c *recordingClient) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	c.record("fs/read_text_file")
	return acp.ReadTextFileResponse{Content: "package a\n"}, nil
}

func (c *recordingClient) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	c.record("fs/write_text_file")
	c.mu.Lock()
	c.written[p.Path] = p.Content
	c.mu.Unlock()
	return acp.WriteTextFileResponse{}, nil
}

func (c *recordingClient) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	c.record("session/request_permission")
	c.mu.Lock()
	option := c.permission
	c.mu.Unlock()
	return acp.RequestPermissionResponse{Outcome: acp.RequestPermissionOutcome{
		Selected: &acp.RequestPermissionOutcomeSelected{OptionId: option},
	}}, nil
}

func (c *recordingClient) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n.Update.AvailableCommandsUpdate != nil {
		c.commands = n.Update.AvailableCommandsUpdate.AvailableCommands
		return nil
	}
	c.updates = append(c.updates, n.Update)
	return nil
}

func (c *recordingClient) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	c.record("terminal/create")
	return acp.CreateTerminalResponse{TerminalId: "term-1"}, nil
}

func (c *recordingClient) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	c.record("terminal/kill")
	return acp.KillTerminalCommandResponse{}, nil
}

func (c *recordingClient) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	c.record("terminal/output")
	return acp.TerminalOutputResponse{Output: "hello from mock-agent\n"}, nil
}

func (c *recordingClient) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	c.record("terminal/release")
	return acp.ReleaseTerminalResponse{}, nil
}

func (c *recordingClient) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	c.record("terminal/wait_for_exit")
	return acp.WaitForTerminalExitResponse{ExitCode: acp.Ptr(0)}, nil
}

// take returns and clears what was recorded since the last call.
func (c *recordingClient) take() ([]acp.SessionUpdate, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	updates, calls := c.updates, c.calls
	c.updates, c.calls = nil, nil
	return updates, calls
}

func (c *recordingClient) setPermission(option acp.PermissionOptionId) {
	c.mu.Lock()
	c.permission = option
	c.mu.Unlock()
}

func messageText(updates []acp.SessionUpdate) string {
	var b strings.Builder
	for _, u := range updates {
		if u.AgentMessageChunk != nil && u.AgentMessageChunk.Content.Text != nil {
			b.WriteString(u.AgentMessageChunk.Content.Text.Text)
		}
	}
	return b.String()
}

func thoughtText(updates []acp.SessionUpdate) string {
	var b strings.Builder
	for _, u := range updates {
		if u.AgentThoughtChunk != nil && u.AgentThoughtChunk.Content.Text != nil {
			b.WriteString(u.AgentThoughtChunk.Content.Text.Text)
		}
	}
	return b.String()
}

// toolStatuses lists the status of each tool_call and tool_call_update in
// order.
func toolStatuses(updates []acp.SessionUpdate) []acp.ToolCallStatus {
	var out []acp.ToolCallStatus
	for _, u := range updates {
		switch {
		case u.ToolCall != nil:
			out = append(out, u.ToolCall.Status)
		case u.ToolCallUpdate != nil && u.ToolCallUpdate.Status != nil:
			out = append(out, *u.ToolCallUpdate.Status)
		}
	}
	return out
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// startAgent connects a client-side connection to the mock over pipes.
func startAgent(t *testing.T) (*acp.ClientSideConnection, *recordingClient) {
	t.Helper()
	clientToAgentR, clientToAgentW := io.Pipe()
	agentToClientR, agentToClientW := io.Pipe()

	a := newAgent("mock-instant")
	a.SetAgentConnection(acp.NewAgentSideConnection(a, agentToClientW, clientToAgentR))

	rc := &recordingClient{permission: optionAllow, written: make(map[string]string)}
	conn := acp.NewClientSideConnection(rc, clientToAgentW, agentToClientR)
	t.Cleanup(func() {
		_ = clientToAgentW.Close()
		_ = agentToClientW.Close()
	})
	return conn, rc
}

func newSession(t *testing.T, conn *acp.ClientSideConnection, cwd string) acp.SessionId {
	t.Helper()
	init, err := conn.Initialize(testCtx(t), acp.InitializeRequest{ProtocolVersion: acp.ProtocolVersionNumber})
	require.NoError(t, err)
	assert.True(t, init.AgentCapabilities.PromptCapabilities.EmbeddedContext)

	resp, err := conn.NewSession(testCtx(t), acp.NewSessionRequest{Cwd: cwd, McpServers: []acp.McpServer{}})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionId)
	return resp.SessionId
}

func prompt(t *testing.T, conn *acp.ClientSideConnection, sessionID acp.SessionId, text string, extra ...acp.ContentBlock) (acp.PromptResponse, error) {
	t.Helper()
	blocks := append([]acp.ContentBlock{acp.TextBlock(text)}, extra...)
	return conn.Prompt(testCtx(t), acp.PromptRequest{SessionId: sessionID, Prompt: blocks})
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var re *acp.RequestError
	require.True(t, errors.As(err, &re), "want a request error, got %v", err)
	assert.Equal(t, code, re.Code)
}

func TestNewSessionAnnouncesCommands(t *testing.T) {
	conn, rc := startAgent(t)
	newSession(t, conn, t.TempDir())

	require.Eventually(t, func() bool {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		return len(rc.commands) > 0
	}, 5*time.Second, 10*time.Millisecond)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	names := make([]string, 0, len(rc.commands))
	for _, c := range rc.commands {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"error", "auth", "slow", "thinking", "plan", "tool:read", "tool:edit", "tool:exec"}, names)
}

func TestPromptAnswersWithAttachments(t *testing.T) {
	conn, rc := startAgent(t)
	sessionID := newSession(t, conn, t.TempDir())

	resp, err := prompt(t, conn, sessionID, "hello there", acp.ResourceLinkBlock("a.py", "/work/a.py"))
	require.NoError(t, err)
	assert.Equal(t, acp.StopReasonEndTurn, resp.StopReason)

	updates, _ := rc.take()
	reply := messageText(updates)
	assert.Contains(t, reply, `"hello there"`)
	assert.Contains(t, reply, "Attached: /work/a.py")
	assert.NotEmpty(t, thoughtText(updates))
}

func TestPromptFailures(t *testing.T) {
	conn, _ := startAgent(t)
	dir := t.TempDir()
	sessionID := newSession(t, conn, dir)

	_, err := prompt(t, conn, sessionID, "/error")
	requireCode(t, err, -32603)

	_, err = prompt(t, conn, sessionID, "/auth")
	requireCode(t, err, -32000)

	_, err = prompt(t, conn, "nope", "hi")
	requireCode(t, err, -32602)

	_, err = conn.LoadSession(testCtx(t), acp.LoadSessionRequest{Cwd: dir, McpServers: []acp.McpServer{}, SessionId: sessionID})
	requireCode(t, err, -32601)
}

func TestPlanIsPublished(t *testing.T) {
	conn, rc := startAgent(t)
	sessionID := newSession(t, conn, t.TempDir())

	_, err := prompt(t, conn, sessionID, "/plan")
	require.NoError(t, err)

	updates, _ := rc.take()
	var plan *acp.SessionUpdatePlan
	for _, u := range updates {
		if u.Plan != nil {
			plan = u.Plan
		}
	}
	require.NotNil(t, plan)
	assert.Len(t, plan.Entries, 3)
	assert.Contains(t, messageText(updates), "Plan published.")
}

func TestToolReadGoesThroughClient(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))
	conn, rc := startAgent(t)
	sessionID := newSession(t, conn, dir)

	resp, err := prompt(t, conn, sessionID, "/tool:read")
	require.NoError(t, err)
	assert.Equal(t, acp.StopReasonEndTurn, resp.StopReason)

	updates, calls := rc.take()
	assert.Equal(t, []string{"fs/read_text_file"}, calls)
	assert.Equal(t, []acp.ToolCallStatus{acp.ToolCallStatusPending, acp.ToolCallStatusCompleted}, toolStatuses(updates))
	assert.Contains(t, messageText(updates), "a.go")
}

func TestToolEditRespectsPermission(t *testing.T) {
	conn, rc := startAgent(t)
	dir := t.TempDir()
	sessionID := newSession(t, conn, dir)

	rc.setPermission(optionReject)
	_, err := prompt(t, conn, sessionID, "/tool:edit")
	require.NoError(t, err)
	updates, calls := rc.take()
	assert.Equal(t, []string{"session/request_permission"}, calls)
	assert.Contains(t, messageText(updates), "untouched")

	rc.setPermission(optionAllow)
	_, err = prompt(t, conn, sessionID, "/tool:edit")
	require.NoError(t, err)
	updates, calls = rc.take()
	assert.Equal(t, []string{"session/request_permission", "fs/write_text_file"}, calls)
	statuses := toolStatuses(updates)
	require.NotEmpty(t, statuses)
	assert.Equal(t, acp.ToolCallStatusCompleted, statuses[len(statuses)-1])

	rc.mu.Lock()
	defer rc.mu.Unlock()
	assert.Contains(t, rc.written[filepath.Join(dir, notesFile)], "# Notes")
}

func TestToolExecUsesTerminal(t *testing.T) {
	conn, rc := startAgent(t)
	sessionID := newSession(t, conn, t.TempDir())

	resp, err := prompt(t, conn, sessionID, "/tool:exec")
	require.NoError(t, err)
	assert.Equal(t, acp.StopReasonEndTurn, resp.StopReason)

	updates, calls := rc.take()
	assert.Equal(t, []string{
		"session/request_permission", "terminal/create", "terminal/wait_for_exit", "terminal/output", "terminal/release",
	}, calls)
	assert.Contains(t, messageText(updates), "exited with 0")
}

func TestCancelStopsSlowTurn(t *testing.T) {
	conn, _ := startAgent(t)
	sessionID := newSession(t, conn, t.TempDir())

	done := make(chan acp.PromptResponse, 1)
	go func() {
		resp, err := prompt(t, conn, sessionID, "/slow 30s")
		assert.NoError(t, err)
		done <- resp
	}()

	// The prompt may not be registered yet, so keep cancelling until it ends.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case resp := <-done:
			assert.Equal(t, acp.StopReasonCancelled, resp.StopReason)
			return
		case <-ticker.C:
			require.NoError(t, conn.Cancel(testCtx(t), acp.CancelNotification{SessionId: sessionID}))
		case <-deadline:
			t.Fatal("slow turn was not cancelled")
		}
	}
}

// Package runtime is the ACP client side of acpchat: one Runtime per agent
// type owns the agent subprocess and the JSON-RPC connection to it, and
// multiplexes every chat session to that agent over the connection.
//
// A turn runs as follows:
//  1. PromptAndReply rejects stale permission requests and takes the
//     session's turn lock
//  2. the session's tool calls and streaming message are reset
//  3. the prompt is sent; while it is in flight the connection dispatches
//     SessionUpdate, RequestPermission and the fs/terminal callbacks
//  4. on success the streaming message is finalized with its triggers
package runtime

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/permission"
	"github.com/kandev/acpchat/internal/acp/rpcerr"
	"github.com/kandev/acpchat/internal/acp/terminal"
	"github.com/kandev/acpchat/internal/acp/toolcall"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/common/procgroup"
	"github.com/kandev/acpchat/internal/events"
	"github.com/kandev/acpchat/internal/events/bus"
	"github.com/kandev/acpchat/internal/metrics"
	"github.com/kandev/acpchat/internal/tracing"
)

const (
	defaultClientName    = "acpchat"
	defaultClientVersion = "0.1.0"
	eventSource          = "acp-runtime"
)

// Options configures a Runtime. Zero values are usable.
type Options struct {
	// Cwd is the working directory for the agent and its sessions.
	// Defaults to the process working directory.
	Cwd           string
	MCPServers    []acp.McpServer
	ClientName    string
	ClientVersion string
	// FinalizeTriggers run once on the streaming message after a
	// successful turn. Defaults to mention resolution.
	FinalizeTriggers []string

	Bus     bus.EventBus
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

func (o Options) withDefaults() Options {
	if o.Cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			o.Cwd = wd
		}
	}
	if o.ClientName == "" {
		o.ClientName = defaultClientName
	}
	if o.ClientVersion == "" {
		o.ClientVersion = defaultClientVersion
	}
	if o.FinalizeTriggers == nil {
		o.FinalizeTriggers = []string{chat.TriggerFindMentions}
	}
	if o.MCPServers == nil {
		o.MCPServers = []acp.McpServer{}
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	return o
}

// session is the per-session state. turn serializes PromptAndReply; mu
// guards calls and messageID against the update dispatcher.
type session struct {
	id          string
	participant Participant

	turn sync.Mutex

	mu        sync.Mutex
	calls     *toolcall.Calls
	messageID string
}

func (s *session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Reset()
	s.messageID = ""
}

// Runtime implements acp.Client for one agent type.
type Runtime struct {
	adapter     AgentAdapter
	agentType   string
	opts        Options
	logger      *logger.Logger
	permissions *permission.Manager
	terminals   *terminal.Manager

	conn  *acp.ClientSideConnection
	stdin io.Closer

	// set only for spawned agents
	cmd    *exec.Cmd
	exited chan struct{}

	mu       sync.RWMutex
	sessions map[string]*session
	// commands advertised before the session had a participant
	stashedCommands map[string][]acp.AvailableCommand
	closed          bool
	closeOnce       sync.Once
}

var _ acp.Client = (*Runtime)(nil)

func newRuntime(adapter AgentAdapter, opts Options) *Runtime {
	if p, ok := adapter.(MCPServerProvider); ok {
		if servers := p.MCPServers(); servers != nil {
			opts.MCPServers = servers
		}
	}
	opts = opts.withDefaults()
	log := opts.Logger.WithFields(
		zap.String("component", "acp-runtime"),
		zap.String("agent_type", adapter.AgentType()),
	)
	var observer terminal.Observer
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	return &Runtime{
		adapter:         adapter,
		agentType:       adapter.AgentType(),
		opts:            opts,
		logger:          log,
		permissions:     permission.NewManager(),
		terminals:       terminal.NewManager(log, observer),
		sessions:        make(map[string]*session),
		stashedCommands: make(map[string][]acp.AvailableCommand),
	}
}

// Connect runs the ACP handshake over an existing transport. Closing the
// runtime closes stdin.
func Connect(ctx context.Context, adapter AgentAdapter, stdin io.WriteCloser, stdout io.Reader, opts Options) (*Runtime, error) {
	r := newRuntime(adapter, opts)
	r.stdin = stdin
	if err := r.connect(ctx, stdin, stdout); err != nil {
		_ = stdin.Close()
		return nil, err
	}
	return r, nil
}

// Start spawns the agent subprocess and connects to it.
func Start(ctx context.Context, adapter AgentAdapter, opts Options) (_ *Runtime, err error) {
	name, args := adapter.Command()
	ctx, span := tracing.TraceSpawn(ctx, adapter.AgentType(), name)
	defer func() { tracing.EndSpan(span, err) }()

	r := newRuntime(adapter, opts)

	// Not CommandContext: the agent outlives the request that spawned it.
	cmd := exec.Command(name, args...)
	cmd.Dir = r.opts.Cwd
	if extra := adapter.Env(); len(extra) > 0 {
		cmd.Env = append(os.Environ(), extra...)
	}
	procgroup.Set(cmd)

	if hook, ok := adapter.(SubprocessHook); ok {
		if err := hook.BeforeSubprocessStart(ctx, cmd); err != nil {
			return nil, err
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, rpcerr.Connection("failed to create stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, rpcerr.Connection("failed to create stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, rpcerr.Connection("failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, rpcerr.Connection("failed to start agent", err)
	}
	r.cmd = cmd
	r.stdin = stdin
	r.exited = make(chan struct{})

	r.logger.Info("agent process started",
		zap.String("command", name),
		zap.Strings("args", args),
		zap.Int("pid", cmd.Process.Pid))

	go r.readStderr(stderr)
	go r.waitForExit()

	if err := r.connect(ctx, stdin, stdout); err != nil {
		r.stopProcess(context.Background())
		return nil, err
	}

	r.opts.Metrics.AgentStarted()
	r.publish(ctx, events.AgentSubject(r.agentType, events.AgentStarted), events.AgentStarted, map[string]any{
		"pid": cmd.Process.Pid,
	})
	return r, nil
}

func (r *Runtime) connect(ctx context.Context, w io.Writer, rd io.Reader) error {
	r.conn = acp.NewClientSideConnection(r, w, rd)
	r.conn.SetLogger(slog.Default().With("component", "acp-conn", "agent_type", r.agentType))

	resp, err := r.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs:       acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
		ClientInfo: &acp.Implementation{
			Name:    r.opts.ClientName,
			Version: r.opts.ClientVersion,
		},
	})
	if err != nil {
		return rpcerr.Connection("ACP initialize handshake failed", err)
	}

	name, version := "unknown", "unknown"
	if resp.AgentInfo != nil {
		name, version = resp.AgentInfo.Name, resp.AgentInfo.Version
	}
	r.logger.Info("agent connection initialized",
		zap.String("agent_name", name),
		zap.String("agent_version", version),
		zap.Bool("supports_load_session", resp.AgentCapabilities.LoadSession))
	return nil
}

func (r *Runtime) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		r.logger.Debug("agent stderr reader stopped", zap.Error(err))
	}
}

func (r *Runtime) waitForExit() {
	err := r.cmd.Wait()
	close(r.exited)

	if err != nil {
		r.logger.Info("agent process exited with error", zap.Error(err))
	} else {
		r.logger.Info("agent process exited")
	}
	r.opts.Metrics.AgentStopped()
	r.publish(context.Background(), events.AgentSubject(r.agentType, events.AgentStopped), events.AgentStopped, map[string]any{
		"exit_code": r.cmd.ProcessState.ExitCode(),
	})
}

// AgentType returns the adapter's agent type.
func (r *Runtime) AgentType() string { return r.agentType }

// Adapter returns the adapter the runtime was started with.
func (r *Runtime) Adapter() AgentAdapter { return r.adapter }

// Done is closed when the connection to the agent is gone.
func (r *Runtime) Done() <-chan struct{} { return r.conn.Done() }

// Alive reports whether the runtime can still serve sessions.
func (r *Runtime) Alive() bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}
	select {
	case <-r.conn.Done():
		return false
	default:
		return true
	}
}

// CreateSession opens a new agent session whose output goes to p.
func (r *Runtime) CreateSession(ctx context.Context, p Participant) (string, error) {
	if !r.Alive() {
		return "", rpcerr.Connection("agent connection is not available", ErrRuntimeClosed)
	}

	resp, err := r.conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd:        r.opts.Cwd,
		McpServers: r.opts.MCPServers,
	})
	if err != nil {
		return "", classifyAgentError(r.agentType, err)
	}
	sessionID := string(resp.SessionId)

	r.mu.Lock()
	r.sessions[sessionID] = &session{id: sessionID, participant: p, calls: toolcall.NewCalls()}
	stashed, hasStashed := r.stashedCommands[sessionID]
	delete(r.stashedCommands, sessionID)
	r.mu.Unlock()

	if hasStashed {
		p.SetAvailableCommands(stashed)
	}

	r.logger.Info("session created",
		zap.String("session_id", sessionID),
		zap.String("participant", p.ID()),
		zap.String("room_id", p.RoomID()))
	r.opts.Metrics.SessionOpened(r.agentType)
	r.publishSession(ctx, sessionID, events.SessionCreated, map[string]any{
		"participant": p.ID(),
		"room_id":     p.RoomID(),
	})
	return sessionID, nil
}

func (r *Runtime) session(sessionID string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Sessions returns the ids of the sessions with a participant.
func (r *Runtime) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// ToolCalls returns the serialized tool calls of the session's current turn.
func (r *Runtime) ToolCalls(sessionID string) ([]map[string]any, error) {
	s, ok := r.session(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return toolcall.Serialize(s.calls), nil
}

// HasPendingPermissions reports whether the agent is waiting on the user.
func (r *Runtime) HasPendingPermissions(sessionID string) bool {
	return r.permissions.HasPending(sessionID)
}

// CloseSession forgets the participant, cancels the session's pending
// permission requests and releases its terminals.
func (r *Runtime) CloseSession(ctx context.Context, sessionID string) {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	delete(r.stashedCommands, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}

	cancelled := r.permissions.CancelSession(sessionID)
	r.terminals.CleanupSession(ctx, sessionID)

	r.logger.Info("session closed",
		zap.String("session_id", sessionID),
		zap.Int("cancelled_permissions", cancelled))
	r.opts.Metrics.SessionClosed(r.agentType)
	r.publishSession(ctx, sessionID, events.SessionClosed, nil)
}

// Close closes every session, closes the agent's stdin and kills its
// process group. It is safe to call more than once.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		ids := r.Sessions()
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		for _, id := range ids {
			r.CloseSession(ctx, id)
		}
		if r.stdin != nil {
			_ = r.stdin.Close()
		}
		r.stopProcess(ctx)
		r.logger.Info("runtime closed")
	})
	return nil
}

// stopProcess kills the agent's process group and waits for it to exit.
func (r *Runtime) stopProcess(ctx context.Context) {
	if r.cmd == nil || r.cmd.Process == nil {
		return
	}
	select {
	case <-r.exited:
		return
	default:
	}
	if err := procgroup.KillProcess(r.cmd.Process); err != nil {
		r.logger.Debug("failed to kill agent process", zap.Error(err))
	}
	select {
	case <-r.exited:
	case <-ctx.Done():
		r.logger.Warn("timed out waiting for agent process to exit")
	}
}

func (r *Runtime) publishSession(ctx context.Context, sessionID, eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = sessionID
	r.publish(ctx, events.SessionSubject(sessionID, eventType), eventType, data)
}

func (r *Runtime) publish(ctx context.Context, subject, eventType string, data map[string]any) {
	if r.opts.Bus == nil {
		return
	}
	data["agent_type"] = r.agentType
	if err := r.opts.Bus.Publish(context.WithoutCancel(ctx), subject, bus.NewEvent(eventType, eventSource, data)); err != nil {
		r.logger.Debug("failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Package terminal runs the commands an ACP agent asks the client to execute.
//
// Each terminal is an OS process in its own process group with stdout and
// stderr merged into one pipe and stdin attached to the null device. A reader
// goroutine drains the pipe into a tail-retaining buffer while a waiter
// goroutine records the exit status as soon as the process ends.
//
// Lifecycle:
//  1. Create - validate, spawn, start reader and waiter, return a uuid
//  2. Output / WaitForExit - inspect the running or finished process
//  3. Kill - SIGKILL the process group; the terminal stays addressable
//  4. Release - kill if needed, stop the reader, forget the terminal
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	acp "github.com/coder/acp-go-sdk"
	shlex "github.com/flynn-archive/go-shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/rpcerr"
	"github.com/kandev/acpchat/internal/common/logger"
	"github.com/kandev/acpchat/internal/common/procgroup"
)

const (
	// DefaultOutputByteLimit applies when the agent does not set one.
	DefaultOutputByteLimit = 10 * 1024 * 1024

	// MaxTerminals caps concurrently tracked terminals per manager.
	MaxTerminals = 50

	readChunkSize = 4096
)

// Observer receives terminal lifecycle notifications. Used for metrics.
type Observer interface {
	TerminalOpened()
	TerminalReleased()
}

type terminal struct {
	id        string
	sessionID string
	command   string
	cmd       *exec.Cmd
	output    *tailBuffer

	reader     *os.File
	readerDone chan struct{}

	exited chan struct{}
	mu     sync.Mutex
	status ExitStatus
}

func (t *terminal) setExitStatus(rc *int) {
	s := exitStatusFor(rc)
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

func (t *terminal) exitStatus() (ExitStatus, bool) {
	select {
	case <-t.exited:
	default:
		return ExitStatus{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, true
}

// Manager tracks terminals across sessions.
type Manager struct {
	logger   *logger.Logger
	observer Observer

	mu        sync.Mutex
	terminals map[string]*terminal
	// reserved counts creates that passed the cap check but are not yet
	// in terminals.
	reserved int
}

// NewManager creates a terminal manager.
func NewManager(log *logger.Logger, observer Observer) *Manager {
	return &Manager{
		logger:    log.WithFields(zap.String("component", "terminal-manager")),
		observer:  observer,
		terminals: make(map[string]*terminal),
	}
}

// Create validates the request, spawns the command and returns its terminal id.
func (m *Manager) Create(ctx context.Context, req acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	if !m.reserve() {
		return acp.CreateTerminalResponse{}, rpcerr.InvalidRequest("terminal_id",
			fmt.Sprintf("terminal limit reached (%d); release existing terminals first", MaxTerminals))
	}
	added := false
	defer func() {
		if !added {
			m.unreserve()
		}
	}()

	if strings.TrimSpace(req.Command) == "" {
		return acp.CreateTerminalResponse{}, rpcerr.InvalidParams("command", "command cannot be empty")
	}

	var cwd string
	if req.Cwd != nil {
		cwd = *req.Cwd
		if !filepath.IsAbs(cwd) {
			return acp.CreateTerminalResponse{}, rpcerr.InvalidParams("cwd", "cwd must be an absolute path")
		}
		if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
			return acp.CreateTerminalResponse{}, rpcerr.InvalidParams("cwd", "cwd directory does not exist")
		}
	}

	env, err := buildEnv(req.Env)
	if err != nil {
		return acp.CreateTerminalResponse{}, err
	}

	// An explicit zero means "retain nothing".
	limit := DefaultOutputByteLimit
	if req.OutputByteLimit != nil {
		limit = *req.OutputByteLimit
	}

	argv, err := commandArgv(req.Command, req.Args)
	if err != nil {
		return acp.CreateTerminalResponse{}, err
	}

	t, err := m.spawn(string(req.SessionId), req.Command, argv, cwd, env, limit)
	if err != nil {
		return acp.CreateTerminalResponse{}, err
	}

	m.mu.Lock()
	m.reserved--
	m.terminals[t.id] = t
	m.mu.Unlock()
	added = true
	if m.observer != nil {
		m.observer.TerminalOpened()
	}

	m.logger.Info("terminal created",
		zap.String("terminal_id", t.id),
		zap.String("session_id", t.sessionID),
		zap.Strings("argv", argv),
		zap.Int("output_byte_limit", limit))

	return acp.CreateTerminalResponse{TerminalId: t.id}, nil
}

// reserve claims a terminal slot under the cap.
func (m *Manager) reserve() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.terminals)+m.reserved >= MaxTerminals {
		return false
	}
	m.reserved++
	return true
}

func (m *Manager) unreserve() {
	m.mu.Lock()
	m.reserved--
	m.mu.Unlock()
}

// commandArgv uses command plus args when args are given, otherwise it
// shell-tokenizes the command string so "ls -la" runs ls with one argument.
func commandArgv(command string, args []string) ([]string, error) {
	if len(args) > 0 {
		return append([]string{command}, args...), nil
	}
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, rpcerr.InvalidParams("command", fmt.Sprintf("could not parse command: %v", err))
	}
	if len(argv) == 0 {
		return nil, rpcerr.InvalidParams("command", "command cannot be empty")
	}
	return argv, nil
}

func (m *Manager) spawn(sessionID, command string, argv []string, cwd string, env []string, limit int) (*terminal, error) {
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, rpcerr.Internal(map[string]any{"command": command, "error": err.Error()}, err)
	}
	defer devNull.Close()

	r, w, err := os.Pipe()
	if err != nil {
		return nil, rpcerr.Internal(map[string]any{"command": command, "error": err.Error()}, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = env
	cmd.Stdin = devNull
	cmd.Stdout = w
	cmd.Stderr = w
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, spawnError(command, err)
	}
	// The child holds its own copy of the write end.
	_ = w.Close()

	t := &terminal{
		id:         uuid.New().String(),
		sessionID:  sessionID,
		command:    command,
		cmd:        cmd,
		output:     newTailBuffer(limit),
		reader:     r,
		readerDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}

	go m.wait(t)
	go m.readOutput(t)
	return t, nil
}

func spawnError(command string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return rpcerr.InvalidParams("command", "command not found: "+command)
	case errors.Is(err, fs.ErrPermission):
		return rpcerr.InvalidParams("command", "permission denied: "+command)
	default:
		return rpcerr.Internal(map[string]any{"command": command, "error": err.Error()}, err)
	}
}

func (m *Manager) wait(t *terminal) {
	_ = t.cmd.Wait()
	t.setExitStatus(returnCode(t.cmd.ProcessState))
	close(t.exited)
}

// readOutput drains the merged output pipe until EOF or until Release closes it.
func (m *Manager) readOutput(t *terminal) {
	defer close(t.readerDone)
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("terminal output reader failed",
				zap.String("terminal_id", t.id),
				zap.Any("panic", r))
		}
	}()

	chunk := make([]byte, readChunkSize)
	for {
		n, err := t.reader.Read(chunk)
		if n > 0 {
			_, _ = t.output.Write(chunk[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				m.logger.Warn("terminal output reader stopped",
					zap.String("terminal_id", t.id),
					zap.Error(err))
			}
			return
		}
	}
}

// lookup returns the terminal if it exists and belongs to sessionID.
func (m *Manager) lookup(sessionID, terminalID string) (*terminal, error) {
	m.mu.Lock()
	t, ok := m.terminals[terminalID]
	m.mu.Unlock()
	if !ok {
		return nil, rpcerr.ResourceNotFound(terminalID)
	}
	if t.sessionID != sessionID {
		return nil, rpcerr.InvalidRequest("terminal_id", "terminal belongs to different session")
	}
	return t, nil
}

// Output returns the retained output without blocking. The exit status
// comes from the process state at call time.
func (m *Manager) Output(sessionID, terminalID string) (acp.TerminalOutputResponse, error) {
	t, err := m.lookup(sessionID, terminalID)
	if err != nil {
		return acp.TerminalOutputResponse{}, err
	}

	output, truncated := t.output.Snapshot()
	resp := acp.TerminalOutputResponse{Output: output, Truncated: truncated}
	if status, exited := t.exitStatus(); exited {
		resp.ExitStatus = &acp.TerminalExitStatus{ExitCode: status.ExitCode, Signal: status.Signal}
	}
	return resp, nil
}

// WaitForExit blocks until the process ends or ctx is done.
func (m *Manager) WaitForExit(ctx context.Context, sessionID, terminalID string) (acp.WaitForTerminalExitResponse, error) {
	t, err := m.lookup(sessionID, terminalID)
	if err != nil {
		return acp.WaitForTerminalExitResponse{}, err
	}
	select {
	case <-t.exited:
	case <-ctx.Done():
		return acp.WaitForTerminalExitResponse{}, ctx.Err()
	}
	status, _ := t.exitStatus()
	return acp.WaitForTerminalExitResponse{ExitCode: status.ExitCode, Signal: status.Signal}, nil
}

// Kill terminates the command but keeps the terminal addressable.
func (m *Manager) Kill(ctx context.Context, sessionID, terminalID string) error {
	t, err := m.lookup(sessionID, terminalID)
	if err != nil {
		return err
	}
	return m.kill(ctx, t)
}

func (m *Manager) kill(ctx context.Context, t *terminal) error {
	select {
	case <-t.exited:
		return nil
	default:
	}

	if err := procgroup.Kill(t.cmd.Process.Pid); err != nil {
		m.logger.Debug("process group kill failed, killing process",
			zap.String("terminal_id", t.id),
			zap.Error(err))
		_ = t.cmd.Process.Kill()
	}

	select {
	case <-t.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release kills the command if it is still running, stops the reader and
// forgets the terminal.
func (m *Manager) Release(ctx context.Context, sessionID, terminalID string) error {
	t, err := m.lookup(sessionID, terminalID)
	if err != nil {
		return err
	}
	if err := m.kill(ctx, t); err != nil {
		return rpcerr.Internal(map[string]any{"terminal_id": terminalID, "error": err.Error()}, err)
	}

	_ = t.reader.Close()
	select {
	case <-t.readerDone:
	case <-ctx.Done():
		return rpcerr.Internal(map[string]any{"terminal_id": terminalID, "error": ctx.Err().Error()}, ctx.Err())
	}

	m.mu.Lock()
	delete(m.terminals, terminalID)
	m.mu.Unlock()
	if m.observer != nil {
		m.observer.TerminalReleased()
	}

	m.logger.Debug("terminal released",
		zap.String("terminal_id", terminalID),
		zap.String("session_id", sessionID))
	return nil
}

// CleanupSession releases every terminal owned by sessionID. Failures are
// logged per terminal and never stop the remaining releases.
func (m *Manager) CleanupSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	var ids []string
	for id, t := range m.terminals {
		if t.sessionID == sessionID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Release(ctx, sessionID, id); err != nil {
			m.logger.Warn("failed to release terminal",
				zap.String("terminal_id", id),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
}

// Count returns the number of tracked terminals.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.terminals)
}

package runtime

import (
	"context"

	acp "github.com/coder/acp-go-sdk"
	"go.opentelemetry.io/otel/trace"

	"github.com/kandev/acpchat/internal/acp/rpcerr"
	"github.com/kandev/acpchat/internal/tracing"
)

const (
	methodCreateTerminal  = "terminal/create"
	methodTerminalOutput  = "terminal/output"
	methodWaitForExit     = "terminal/wait_for_exit"
	methodKillTerminal    = "terminal/kill"
	methodReleaseTerminal = "terminal/release"
)

// CreateTerminal starts a command for the agent. Without a cwd it runs in
// the runtime's working directory.
func (r *Runtime) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	ctx, span := tracing.TraceCallback(ctx, methodCreateTerminal, string(p.SessionId))
	if p.Cwd == nil && r.opts.Cwd != "" {
		cwd := r.opts.Cwd
		p.Cwd = &cwd
	}
	resp, err := r.terminals.Create(ctx, p)
	r.endCallback(span, methodCreateTerminal, err)
	return resp, rpcerr.ToRequestError(err)
}

func (r *Runtime) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	_, span := tracing.TraceCallback(ctx, methodTerminalOutput, string(p.SessionId))
	resp, err := r.terminals.Output(string(p.SessionId), p.TerminalId)
	r.endCallback(span, methodTerminalOutput, err)
	return resp, rpcerr.ToRequestError(err)
}

func (r *Runtime) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	ctx, span := tracing.TraceCallback(ctx, methodWaitForExit, string(p.SessionId))
	resp, err := r.terminals.WaitForExit(ctx, string(p.SessionId), p.TerminalId)
	r.endCallback(span, methodWaitForExit, err)
	return resp, rpcerr.ToRequestError(err)
}

func (r *Runtime) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	ctx, span := tracing.TraceCallback(ctx, methodKillTerminal, string(p.SessionId))
	err := r.terminals.Kill(ctx, string(p.SessionId), p.TerminalId)
	r.endCallback(span, methodKillTerminal, err)
	return acp.KillTerminalCommandResponse{}, rpcerr.ToRequestError(err)
}

func (r *Runtime) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	ctx, span := tracing.TraceCallback(ctx, methodReleaseTerminal, string(p.SessionId))
	err := r.terminals.Release(ctx, string(p.SessionId), p.TerminalId)
	r.endCallback(span, methodReleaseTerminal, err)
	return acp.ReleaseTerminalResponse{}, rpcerr.ToRequestError(err)
}

func (r *Runtime) endCallback(span trace.Span, method string, err error) {
	r.opts.Metrics.ObserveCallback(method, err)
	tracing.EndSpan(span, err)
}

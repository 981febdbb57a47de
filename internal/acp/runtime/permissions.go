package runtime

import (
	"context"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/permission"
	"github.com/kandev/acpchat/internal/acp/toolcall"
	"github.com/kandev/acpchat/internal/events"
	"github.com/kandev/acpchat/internal/tracing"
)

const methodRequestPermission = "session/request_permission"

// RequestPermission blocks until the user picks an option, the request is
// superseded, or the connection goes away.
func (r *Runtime) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	sessionID := string(p.SessionId)
	toolCallID := string(p.ToolCall.ToolCallId)
	ctx, span := tracing.TraceCallback(ctx, methodRequestPermission, sessionID)
	defer tracing.EndSpan(span, nil)

	log := r.logger.WithFields(
		zap.String("session_id", sessionID),
		zap.String("tool_call_id", toolCallID))

	s, ok := r.session(sessionID)
	if !ok {
		log.Warn("permission request for unknown session, cancelling")
		r.opts.Metrics.ObservePermission(r.agentType, "aborted")
		return cancelledOutcome(), nil
	}

	options := convertOptions(p.Options)
	ch := r.permissions.Create(sessionID, toolCallID, options)
	defer r.permissions.Cleanup(sessionID, toolCallID, ch)

	var title, kind string
	if p.ToolCall.Title != nil {
		title = *p.ToolCall.Title
	}
	if p.ToolCall.Kind != nil {
		kind = string(*p.ToolCall.Kind)
	}

	s.mu.Lock()
	toolcall.ApplyPermissionRequest(s.calls, sessionID, toolCallID, title, kind,
		locationPaths(p.ToolCall.Locations), options, diffsFrom(p.ToolCall.Content))
	r.flushLocked(ctx, s)
	s.mu.Unlock()

	log.Info("waiting for permission decision", zap.Int("options", len(options)))
	r.publishSession(ctx, sessionID, events.PermissionRequested, map[string]any{
		"tool_call_id": toolCallID,
		"title":        title,
		"options":      options,
	})

	var decision permission.Decision
	select {
	case decision = <-ch:
	case <-ctx.Done():
		log.Info("permission wait aborted", zap.Error(ctx.Err()))
		r.opts.Metrics.ObservePermission(r.agentType, "aborted")
		return cancelledOutcome(), nil
	case <-r.conn.Done():
		r.opts.Metrics.ObservePermission(r.agentType, "aborted")
		return cancelledOutcome(), nil
	}

	if decision.Cancelled {
		log.Info("permission request cancelled")
		r.opts.Metrics.ObservePermission(r.agentType, "cancelled")
		return cancelledOutcome(), nil
	}

	s.mu.Lock()
	if toolcall.ApplyPermissionResolved(s.calls, toolCallID, decision.OptionID) != nil {
		r.flushLocked(ctx, s)
	}
	s.mu.Unlock()

	log.Info("permission resolved", zap.String("option_id", decision.OptionID))
	r.opts.Metrics.ObservePermission(r.agentType, "selected")
	r.publishSession(ctx, sessionID, events.PermissionResolved, map[string]any{
		"tool_call_id": toolCallID,
		"option_id":    decision.OptionID,
	})
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{
				OptionId: acp.PermissionOptionId(decision.OptionID),
			},
		},
	}, nil
}

// ResolvePermission answers a pending request. It is safe to call with
// stale ids and returns false when nothing was waiting.
func (r *Runtime) ResolvePermission(sessionID, toolCallID, optionID string) bool {
	ok := r.permissions.Resolve(sessionID, toolCallID, optionID)
	r.logger.Debug("resolve permission",
		zap.String("session_id", sessionID),
		zap.String("tool_call_id", toolCallID),
		zap.String("option_id", optionID),
		zap.Bool("resolved", ok))
	return ok
}

// PermissionOptions returns the options of a pending request.
func (r *Runtime) PermissionOptions(sessionID, toolCallID string) ([]permission.Option, bool) {
	return r.permissions.Options(sessionID, toolCallID)
}

func cancelledOutcome() acp.RequestPermissionResponse {
	return acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Cancelled: &acp.RequestPermissionOutcomeCancelled{},
		},
	}
}

// convertOptions keeps the option kind as the description; the reject
// heuristic looks for "reject" there.
func convertOptions(opts []acp.PermissionOption) []permission.Option {
	out := make([]permission.Option, 0, len(opts))
	for _, o := range opts {
		out = append(out, permission.Option{
			ID:          string(o.OptionId),
			Title:       o.Name,
			Description: string(o.Kind),
		})
	}
	return out
}

func diffsFrom(content []acp.ToolCallContent) []toolcall.Diff {
	var diffs []toolcall.Diff
	for _, c := range content {
		if c.Diff == nil {
			continue
		}
		diffs = append(diffs, toolcall.Diff{
			Path:    c.Diff.Path,
			OldText: c.Diff.OldText,
			NewText: c.Diff.NewText,
		})
	}
	return diffs
}

package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/rpcerr"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/events"
	"github.com/kandev/acpchat/internal/metrics"
	"github.com/kandev/acpchat/internal/tracing"
)

const attachmentPlaceholder = "<attachment>"

// PromptAndReply runs one user turn and returns the agent's final response.
// Turns of one session never overlap; a second caller waits for the first.
func (r *Runtime) PromptAndReply(ctx context.Context, sessionID, prompt string, attachments []chat.Attachment) (_ acp.PromptResponse, err error) {
	s, ok := r.session(sessionID)
	if !ok {
		return acp.PromptResponse{}, rpcerr.InvalidRequest("session_id", "unknown session "+sessionID)
	}

	// Before the lock: the previous turn may be blocked on one of these.
	if n := r.permissions.RejectAllPending(sessionID); n > 0 {
		r.logger.Info("auto-rejected stale permission requests",
			zap.String("session_id", sessionID),
			zap.Int("count", n))
		r.opts.Metrics.AddAutoRejected(n)
		r.publishSession(ctx, sessionID, events.PermissionAutoRejected, map[string]any{"count": n})
	}

	s.turn.Lock()
	defer s.turn.Unlock()

	s.reset()

	p := s.participant
	p.SetComposing(true)
	defer p.SetComposing(false)

	ctx, span := tracing.TraceTurn(ctx, r.agentType, sessionID, len(attachments))
	start := time.Now()
	defer func() {
		tracing.EndSpan(span, err)
		r.opts.Metrics.ObservePrompt(r.agentType, promptOutcome(err), time.Since(start))
	}()

	if !r.Alive() {
		err = rpcerr.Connection("agent connection is not available", ErrRuntimeClosed)
		r.logger.Error("prompt failed", zap.String("session_id", sessionID), zap.Error(err))
		return acp.PromptResponse{}, err
	}

	r.publishSession(ctx, sessionID, events.TurnStarted, map[string]any{"attachments": len(attachments)})

	resp, err := r.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: acp.SessionId(sessionID),
		Prompt:    promptBlocks(prompt, attachments),
	})
	if err != nil {
		err = classifyAgentError(r.agentType, err)
		r.logger.Error("prompt failed", zap.String("session_id", sessionID), zap.Error(err))
		r.publishSession(ctx, sessionID, events.TurnFailed, map[string]any{"error": err.Error()})
		return acp.PromptResponse{}, err
	}

	r.finalize(ctx, s)

	r.logger.Debug("prompt completed",
		zap.String("session_id", sessionID),
		zap.String("stop_reason", string(resp.StopReason)))
	r.publishSession(ctx, sessionID, events.TurnCompleted, map[string]any{"stop_reason": string(resp.StopReason)})
	return resp, nil
}

func promptOutcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	var authErr *AuthRequiredError
	if errors.As(err, &authErr) {
		return metrics.OutcomeAuthRequired
	}
	return metrics.OutcomeError
}

// promptBlocks builds the text block followed by one resource link per
// attachment.
func promptBlocks(prompt string, attachments []chat.Attachment) []acp.ContentBlock {
	blocks := make([]acp.ContentBlock, 0, 1+len(attachments))
	blocks = append(blocks, acp.TextBlock(prompt))
	for _, a := range attachments {
		blocks = append(blocks, attachmentBlock(a))
	}
	return blocks
}

// attachmentBlock links to the attachment's path. Files and notebooks both
// keep their path in Value.
func attachmentBlock(a chat.Attachment) acp.ContentBlock {
	name := attachmentPlaceholder
	if a.Value != "" {
		name = filepath.Base(a.Value)
	}
	block := acp.ResourceLinkBlock(name, a.Value)
	if a.MimeType != "" && block.ResourceLink != nil {
		mime := a.MimeType
		block.ResourceLink.MimeType = &mime
	}
	return block
}

// finalize runs the finalize triggers on the turn's streaming message once.
func (r *Runtime) finalize(ctx context.Context, s *session) {
	s.mu.Lock()
	messageID := s.messageID
	s.mu.Unlock()
	if messageID == "" {
		return
	}

	store, roomID := s.participant.Chat(), s.participant.RoomID()
	msg, err := store.GetMessage(ctx, roomID, messageID)
	if err != nil {
		r.logger.Warn("failed to load streaming message",
			zap.String("message_id", messageID),
			zap.Error(err))
		return
	}
	if msg == nil {
		r.logger.Info("streaming message not found, skipping finalize",
			zap.String("message_id", messageID))
		return
	}
	if err := store.UpdateMessage(ctx, roomID, *msg, chat.UpdateOptions{Triggers: r.opts.FinalizeTriggers}); err != nil {
		r.logger.Warn("failed to finalize streaming message",
			zap.String("message_id", messageID),
			zap.Error(err))
	}
}

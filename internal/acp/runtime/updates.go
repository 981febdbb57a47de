package runtime

import (
	"context"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/toolcall"
	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/events"
)

// MetadataToolCalls is the message metadata key holding the serialized
// tool calls of the turn.
const MetadataToolCalls = "tool_calls"

// SessionUpdate routes one agent notification. Updates for unknown sessions
// are dropped; it never returns an error.
func (r *Runtime) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	sessionID := string(n.SessionId)
	u := n.Update

	if u.AvailableCommandsUpdate != nil {
		r.applyAvailableCommands(ctx, sessionID, u.AvailableCommandsUpdate.AvailableCommands)
		return nil
	}

	s, ok := r.session(sessionID)
	if !ok {
		r.logger.Debug("dropping update for unknown session", zap.String("session_id", sessionID))
		return nil
	}

	switch {
	case u.ToolCall != nil:
		tc := u.ToolCall
		s.mu.Lock()
		toolcall.ApplyStart(s.calls, string(tc.ToolCallId), tc.Title, string(tc.Kind), locationPaths(tc.Locations))
		r.flushLocked(ctx, s)
		s.mu.Unlock()

	case u.ToolCallUpdate != nil:
		tcu := u.ToolCallUpdate
		progress := toolcall.Progress{
			Title:     tcu.Title,
			RawOutput: tcu.RawOutput,
			Locations: locationPaths(tcu.Locations),
		}
		if tcu.Kind != nil {
			kind := string(*tcu.Kind)
			progress.Kind = &kind
		}
		if tcu.Status != nil {
			status := string(*tcu.Status)
			progress.Status = &status
		}
		s.mu.Lock()
		toolcall.ApplyProgress(s.calls, string(tcu.ToolCallId), progress)
		r.flushLocked(ctx, s)
		s.mu.Unlock()

	case u.AgentMessageChunk != nil:
		text := contentText(u.AgentMessageChunk.Content)
		s.mu.Lock()
		r.appendLocked(ctx, s, text)
		s.mu.Unlock()

	default:
		r.logger.Debug("ignoring session update", zap.String("session_id", sessionID))
	}
	return nil
}

// applyAvailableCommands replaces the participant's slash commands, or
// keeps them until CreateSession maps the session.
func (r *Runtime) applyAvailableCommands(ctx context.Context, sessionID string, cmds []acp.AvailableCommand) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.stashedCommands[sessionID] = cmds
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.participant.SetAvailableCommands(cmds)

	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	r.publishSession(ctx, sessionID, events.SessionCommandsUpdated, map[string]any{"commands": names})
}

// ensureMessageLocked creates the turn's streaming message if needed.
// Caller holds s.mu.
func (r *Runtime) ensureMessageLocked(ctx context.Context, s *session) bool {
	if s.messageID != "" {
		return true
	}
	id, err := s.participant.Chat().AddMessage(ctx, s.participant.RoomID(), chat.NewMessage{
		Sender: s.participant.ID(),
	})
	if err != nil {
		r.logger.Warn("failed to create streaming message",
			zap.String("session_id", s.id),
			zap.Error(err))
		return false
	}
	s.messageID = id
	return true
}

// appendLocked appends text to the streaming message and refreshes its
// tool-call metadata. Caller holds s.mu.
func (r *Runtime) appendLocked(ctx context.Context, s *session, text string) {
	if !r.ensureMessageLocked(ctx, s) {
		return
	}
	msg := chat.Message{
		ID:       s.messageID,
		Body:     text,
		Metadata: map[string]any{MetadataToolCalls: toolcall.Serialize(s.calls)},
	}
	if err := s.participant.Chat().UpdateMessage(ctx, s.participant.RoomID(), msg, chat.UpdateOptions{Append: true}); err != nil {
		r.logger.Warn("failed to append to streaming message",
			zap.String("session_id", s.id),
			zap.Error(err))
	}
}

// flushLocked writes the current tool calls onto the streaming message.
// Caller holds s.mu.
func (r *Runtime) flushLocked(ctx context.Context, s *session) {
	r.appendLocked(ctx, s, "")
	r.publishSession(ctx, s.id, events.SessionToolCallsUpdated, map[string]any{
		MetadataToolCalls: toolcall.Serialize(s.calls),
	})
}

func locationPaths(locs []acp.ToolCallLocation) []string {
	if len(locs) == 0 {
		return nil
	}
	out := make([]string, 0, len(locs))
	for _, l := range locs {
		out = append(out, l.Path)
	}
	return out
}

// contentText renders a content block as message text. Non-text blocks get
// a short placeholder.
func contentText(c acp.ContentBlock) string {
	switch {
	case c.Text != nil:
		return c.Text.Text
	case c.Image != nil:
		return "<image>"
	case c.Audio != nil:
		return "<audio>"
	case c.ResourceLink != nil:
		return c.ResourceLink.Uri
	case c.Resource != nil:
		return "<resource>"
	default:
		return ""
	}
}

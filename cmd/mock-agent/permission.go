package main

import (
	"context"

	acp "github.com/coder/acp-go-sdk"
)

const (
	optionAllow  acp.PermissionOptionId = "allow"
	optionReject acp.PermissionOptionId = "reject"
)

// requestPermission asks the client whether the tool call may run.
// Returns true only when the allow option was selected.
func (a *agent) requestPermission(ctx context.Context, t *turn, id acp.ToolCallId, title string, kind acp.ToolKind) (bool, error) {
	conn, err := a.client()
	if err != nil {
		return false, err
	}
	resp, err := conn.RequestPermission(ctx, acp.RequestPermissionRequest{
		SessionId: t.sessionID,
		ToolCall: acp.ToolCallUpdate{
			ToolCallId: id,
			Title:      acp.Ptr(title),
			Kind:       acp.Ptr(kind),
			Status:     acp.Ptr(acp.ToolCallStatusPending),
		},
		Options: []acp.PermissionOption{
			{OptionId: optionAllow, Name: "Allow", Kind: acp.PermissionOptionKindAllowOnce},
			{OptionId: optionReject, Name: "Reject", Kind: acp.PermissionOptionKindRejectOnce},
		},
	})
	if err != nil {
		return false, err
	}
	return resp.Outcome.Selected != nil && resp.Outcome.Selected.OptionId == optionAllow, nil
}

package websocket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RoutesByAction(t *testing.T) {
	d := NewDispatcher()
	d.RegisterFunc(ActionHealthCheck, func(_ context.Context, msg *Message) (*Message, error) {
		return NewResponse(msg.ID, msg.Action, map[string]string{"status": "ok"})
	})

	req, err := NewRequest("r1", ActionHealthCheck, nil)
	require.NoError(t, err)
	resp, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeResponse, resp.Type)
	assert.Equal(t, "r1", resp.ID)

	var body map[string]string
	require.NoError(t, resp.ParsePayload(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []string{ActionHealthCheck}, d.Actions())
}

func TestDispatcher_UnknownAction(t *testing.T) {
	resp, err := NewDispatcher().Dispatch(context.Background(), &Message{ID: "r2", Action: "nope"})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeError, resp.Type)

	var payload ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ErrorCodeUnknownAction, payload.Code)
}

func TestMessage_ParseEmptyPayload(t *testing.T) {
	var v struct{ RoomID string }
	v.RoomID = "keep"
	require.NoError(t, (&Message{}).ParsePayload(&v))
	assert.Equal(t, "keep", v.RoomID)
}

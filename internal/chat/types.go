// Package chat defines the chat storage boundary the ACP runtime writes to:
// messages, attachments and the named triggers run when a message changes.
package chat

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one chat message in a room.
type Message struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"room_id"`
	Sender      string         `json:"sender"`
	Body        string         `json:"body"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []string       `json:"attachments,omitempty"`
	Mentions    []string       `json:"mentions,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewMessage is the input to AddMessage.
type NewMessage struct {
	Body        string
	Sender      string
	Attachments []string
}

// UpdateOptions controls UpdateMessage. With Append the body is appended to
// the stored body; otherwise it replaces it. Metadata is always replaced
// when non-nil.
type UpdateOptions struct {
	Append   bool
	Triggers []string
}

// EventType describes a change to a room's messages.
type EventType string

const (
	EventMessageAdded   EventType = "message.added"
	EventMessageUpdated EventType = "message.updated"
)

// Event is delivered to listeners after a message is stored.
type Event struct {
	Type    EventType
	RoomID  string
	Message Message
}

// Listener observes stored messages.
type Listener func(ctx context.Context, evt Event)

// Store is the chat storage collaborator. GetMessage returns (nil, nil) for
// unknown ids.
type Store interface {
	AddMessage(ctx context.Context, roomID string, msg NewMessage, triggers ...string) (string, error)
	UpdateMessage(ctx context.Context, roomID string, msg Message, opts UpdateOptions) error
	GetMessage(ctx context.Context, roomID, id string) (*Message, error)
	ListMessages(ctx context.Context, roomID string) ([]Message, error)
	AddAttachment(ctx context.Context, roomID string, raw json.RawMessage) (string, error)
	GetAttachments(ctx context.Context, roomID string) (map[string]json.RawMessage, error)
}

// CloneMessage returns a copy that shares no slices or maps with m.
func CloneMessage(m Message) Message {
	out := m
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Attachments = append([]string(nil), m.Attachments...)
	out.Mentions = append([]string(nil), m.Mentions...)
	return out
}

package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryRoom struct {
	messages    map[string]*Message
	order       []string
	attachments map[string]json.RawMessage
}

// MemoryStore keeps rooms in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	rooms     map[string]*memoryRoom
	triggers  *Triggers
	listeners []Listener
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(triggers *Triggers, listeners ...Listener) *MemoryStore {
	if triggers == nil {
		triggers = NewTriggers()
	}
	return &MemoryStore{
		rooms:     make(map[string]*memoryRoom),
		triggers:  triggers,
		listeners: listeners,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) room(id string) *memoryRoom {
	r, ok := s.rooms[id]
	if !ok {
		r = &memoryRoom{messages: make(map[string]*Message), attachments: make(map[string]json.RawMessage)}
		s.rooms[id] = r
	}
	return r
}

func (s *MemoryStore) notify(ctx context.Context, evt Event) {
	for _, l := range s.listeners {
		l(ctx, evt)
	}
}

// AddMessage stores a new message and returns its id.
func (s *MemoryStore) AddMessage(ctx context.Context, roomID string, msg NewMessage, triggers ...string) (string, error) {
	now := s.now()
	m := Message{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		Sender:      msg.Sender,
		Body:        msg.Body,
		Attachments: append([]string(nil), msg.Attachments...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.triggers.Run(ctx, &m, triggers)

	s.mu.Lock()
	r := s.room(roomID)
	r.messages[m.ID] = &m
	r.order = append(r.order, m.ID)
	stored := CloneMessage(m)
	s.mu.Unlock()

	s.notify(ctx, Event{Type: EventMessageAdded, RoomID: roomID, Message: stored})
	return m.ID, nil
}

// UpdateMessage replaces or appends to a stored message.
func (s *MemoryStore) UpdateMessage(ctx context.Context, roomID string, msg Message, opts UpdateOptions) error {
	s.mu.Lock()
	r := s.room(roomID)
	cur, ok := r.messages[msg.ID]
	if !ok {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	next := ApplyUpdate(*cur, msg, opts.Append, s.now())
	s.triggers.Run(ctx, &next, opts.Triggers)
	r.messages[msg.ID] = &next
	stored := CloneMessage(next)
	s.mu.Unlock()

	s.notify(ctx, Event{Type: EventMessageUpdated, RoomID: roomID, Message: stored})
	return nil
}

// GetMessage returns a copy of the message, or nil if it does not exist.
func (s *MemoryStore) GetMessage(_ context.Context, roomID, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	m, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	out := CloneMessage(*m)
	return &out, nil
}

// ListMessages returns the room's messages in insertion order.
func (s *MemoryStore) ListMessages(_ context.Context, roomID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]Message, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, CloneMessage(*r.messages[id]))
	}
	return out, nil
}

// AddAttachment stores raw attachment JSON and returns its id.
func (s *MemoryStore) AddAttachment(_ context.Context, roomID string, raw json.RawMessage) (string, error) {
	id := uuid.New().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).attachments[id] = append(json.RawMessage(nil), raw...)
	return id, nil
}

// GetAttachments returns every attachment of the room keyed by id.
func (s *MemoryStore) GetAttachments(_ context.Context, roomID string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage)
	if r, ok := s.rooms[roomID]; ok {
		for id, raw := range r.attachments {
			out[id] = raw
		}
	}
	return out, nil
}

// ApplyUpdate merges an update into the current message. Every Store
// implementation uses it so replace and append behave the same.
func ApplyUpdate(cur, msg Message, appendBody bool, now time.Time) Message {
	next := CloneMessage(cur)
	if appendBody {
		next.Body += msg.Body
	} else {
		next.Body = msg.Body
	}
	if msg.Metadata != nil {
		next.Metadata = msg.Metadata
	}
	next.UpdatedAt = now
	return next
}

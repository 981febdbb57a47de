package persona

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
)

// ErrPersonaNotFound is returned for a mention name no persona answers to.
var ErrPersonaNotFound = errors.New("persona not found")

// Manager holds the personas of one room.
type Manager struct {
	roomID        string
	defaultMember string
	logger        *logger.Logger

	mu       sync.RWMutex
	personas map[string]*Persona // by mention name
	wg       sync.WaitGroup
}

// NewManager creates the personas of a room, one per adapter.
// defaultAgent names the agent type that answers unaddressed messages; it
// may be empty.
func NewManager(roomID string, adapters []Adapter, defaultAgent string, store chat.Store, runtimes RuntimeProvider, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	m := &Manager{
		roomID:   roomID,
		logger:   log.WithFields(zap.String("component", "persona-manager"), zap.String("room_id", roomID)),
		personas: make(map[string]*Persona, len(adapters)),
	}
	for _, a := range adapters {
		p := New(a, roomID, store, runtimes, log)
		m.personas[a.MentionName()] = p
		if a.AgentType() == defaultAgent {
			m.defaultMember = a.MentionName()
		}
	}
	return m
}

// RoomID returns the room the manager serves.
func (m *Manager) RoomID() string { return m.roomID }

// Personas returns the room's personas ordered by mention name.
func (m *Manager) Personas() []*Persona {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Persona, 0, len(m.personas))
	for _, p := range m.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Persona returns the persona answering to a mention name.
func (m *Manager) Persona(mentionName string) (*Persona, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.personas[mentionName]
	return p, ok
}

// Default returns the persona that answers unaddressed messages.
func (m *Manager) Default() (*Persona, bool) {
	if m.defaultMember == "" {
		return nil, false
	}
	return m.Persona(m.defaultMember)
}

// Recipients picks the personas a message is for: every mentioned persona,
// or the default one when none is mentioned. Messages written by a persona
// are never routed, so agents do not answer each other.
func (m *Manager) Recipients(msg chat.Message) []*Persona {
	if _, fromPersona := m.Persona(msg.Sender); fromPersona {
		return nil
	}
	var out []*Persona
	for _, name := range chat.FindMentions(msg.Body) {
		if p, ok := m.Persona(name); ok {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		return out
	}
	if p, ok := m.Default(); ok {
		return []*Persona{p}
	}
	return nil
}

// Route hands msg to its recipients. Each persona processes it in its own
// goroutine; Route returns the personas that were notified.
func (m *Manager) Route(ctx context.Context, msg chat.Message) []*Persona {
	recipients := m.Recipients(msg)
	for _, p := range recipients {
		m.wg.Add(1)
		go func(p *Persona) {
			defer m.wg.Done()
			_ = p.ProcessMessage(ctx, msg)
		}(p)
	}
	if len(recipients) == 0 {
		m.logger.Debug("message has no recipients", zap.String("message_id", msg.ID))
	}
	return recipients
}

// Wait blocks until every routed message has been processed.
func (m *Manager) Wait() { m.wg.Wait() }

// Shutdown closes every persona's session.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, p := range m.Personas() {
		p.Shutdown(ctx)
	}
}

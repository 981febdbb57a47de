// Package permission tracks permission requests an agent is blocked on until
// the user picks an option.
package permission

import (
	"strings"
	"sync"
)

// FallbackRejectOptionID is used when no offered option looks like a rejection.
const FallbackRejectOptionID = "reject_once"

// Option is the display-safe form of an agent permission option.
type Option struct {
	ID          string `json:"option_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Decision completes a pending request. Cancelled is set when the request was
// superseded or the session went away without a choice.
type Decision struct {
	OptionID  string
	Cancelled bool
}

type key struct {
	sessionID  string
	toolCallID string
}

type pending struct {
	options []Option
	ch      chan Decision
	done    bool
}

// complete delivers d once. Caller holds the manager lock.
func (p *pending) complete(d Decision) bool {
	if p.done {
		return false
	}
	p.done = true
	p.ch <- d
	close(p.ch)
	return true
}

// Manager holds at most one pending request per (session, tool call).
type Manager struct {
	mu      sync.Mutex
	pending map[key]*pending
}

// NewManager creates an empty permission manager.
func NewManager() *Manager {
	return &Manager{pending: make(map[key]*pending)}
}

// Create registers a request and returns the channel its decision arrives on.
// A live request for the same key is completed as cancelled and replaced.
func (m *Manager) Create(sessionID, toolCallID string, options []Option) <-chan Decision {
	p := &pending{options: options, ch: make(chan Decision, 1)}
	k := key{sessionID, toolCallID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.pending[k]; ok {
		prev.complete(Decision{Cancelled: true})
	}
	m.pending[k] = p
	return p.ch
}

// Resolve completes the pending request with optionID. It returns false when
// there is no such request or it was already completed.
func (m *Manager) Resolve(sessionID, toolCallID, optionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[key{sessionID, toolCallID}]
	if !ok {
		return false
	}
	return p.complete(Decision{OptionID: optionID})
}

// RejectAllPending completes every live request of the session with its
// reject option, removes them and returns how many were rejected.
func (m *Manager) RejectAllPending(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k, p := range m.pending {
		if k.sessionID != sessionID {
			continue
		}
		if p.complete(Decision{OptionID: RejectOptionID(p.options)}) {
			count++
		}
		delete(m.pending, k)
	}
	return count
}

// CancelSession completes every live request of the session as cancelled.
func (m *Manager) CancelSession(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k, p := range m.pending {
		if k.sessionID != sessionID {
			continue
		}
		if p.complete(Decision{Cancelled: true}) {
			count++
		}
		delete(m.pending, k)
	}
	return count
}

// Cleanup forgets the request for the key whether or not it was completed.
// It only removes the entry whose channel is ch, so a replacement created in
// the meantime survives.
func (m *Manager) Cleanup(sessionID, toolCallID string, ch <-chan Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{sessionID, toolCallID}
	if p, ok := m.pending[k]; ok && (ch == nil || (<-chan Decision)(p.ch) == ch) {
		delete(m.pending, k)
	}
}

// HasPending reports whether the session has an uncompleted request.
func (m *Manager) HasPending(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.pending {
		if k.sessionID == sessionID && !p.done {
			return true
		}
	}
	return false
}

// Options returns the options offered for a pending request.
func (m *Manager) Options(sessionID, toolCallID string) ([]Option, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[key{sessionID, toolCallID}]
	if !ok {
		return nil, false
	}
	return append([]Option(nil), p.options...), true
}

// RejectOptionID picks the first option whose description mentions
// "reject", or FallbackRejectOptionID.
func RejectOptionID(options []Option) string {
	for _, o := range options {
		if strings.Contains(strings.ToLower(o.Description), "reject") {
			return o.ID
		}
	}
	return FallbackRejectOptionID
}

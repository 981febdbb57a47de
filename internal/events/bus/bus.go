// Package bus carries runtime and chat events to interested subscribers,
// in process or over NATS.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a message on the event bus
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles one event. Events of one subscription are delivered
// in publish order.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes events to NATS-style subjects. Subscriptions accept
// the "*" (one token) and ">" (remaining tokens) wildcards.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}

// MatchSubject reports whether subject matches a NATS-style pattern.
func MatchSubject(pattern, subject string) bool {
	p := splitTokens(pattern)
	s := splitTokens(subject)
	for i, tok := range p {
		if tok == ">" {
			return i < len(s)
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}

func splitTokens(subject string) []string {
	var out []string
	start := 0
	for i := 0; i < len(subject); i++ {
		if subject[i] == '.' {
			out = append(out, subject[start:i])
			start = i + 1
		}
	}
	return append(out, subject[start:])
}

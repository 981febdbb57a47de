package websocket

import (
	"context"
	"sort"
	"sync"
)

// HandlerFunc handles one request action and returns the response frame.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Dispatcher routes request frames to handlers by action.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// RegisterFunc registers the handler for an action, replacing any earlier one.
func (d *Dispatcher) RegisterFunc(action string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = handler
}

// Dispatch runs the handler for msg.Action. Unknown actions get an
// UNKNOWN_ACTION error frame, not a Go error.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	d.mu.RLock()
	handler, ok := d.handlers[msg.Action]
	d.mu.RUnlock()
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction, "Unknown action: "+msg.Action, nil)
	}
	return handler(ctx, msg)
}

// Actions returns the registered actions, sorted.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for a := range d.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

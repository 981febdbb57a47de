package bus

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/common/logger"
)

// memoryQueueSize bounds each subscriber's backlog. Events beyond it are
// dropped for that subscriber, like a NATS slow consumer.
const memoryQueueSize = 256

// ErrBusClosed is returned after Close.
var ErrBusClosed = errors.New("event bus is closed")

type delivery struct {
	ctx     context.Context
	subject string
	event   *Event
}

type memorySubscription struct {
	bus     *MemoryEventBus
	pattern string
	handler EventHandler
	queue   chan delivery
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) run() {
	for {
		select {
		case d := <-s.queue:
			if err := s.handler(d.ctx, d.event); err != nil {
				s.bus.logger.Error("Event handler error",
					zap.String("subject", d.subject),
					zap.String("event_type", d.event.Type),
					zap.Error(err))
			}
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// Unsubscribe removes the subscription; queued events are discarded.
func (s *memorySubscription) Unsubscribe() error {
	s.bus.remove(s)
	s.stop()
	return nil
}

// IsValid returns whether the subscription is still active
func (s *memorySubscription) IsValid() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// MemoryEventBus is the in-process EventBus used when NATS is not configured.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
	logger *logger.Logger
}

// NewMemoryEventBus creates a new in-memory event bus
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{logger: log.WithFields(zap.String("component", "memory-bus"))}
}

// Publish queues the event for every matching subscriber without blocking.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.subs {
		if !MatchSubject(sub.pattern, subject) {
			continue
		}
		select {
		case sub.queue <- delivery{ctx: context.WithoutCancel(ctx), subject: subject, event: event}:
		default:
			b.logger.Warn("Dropping event for slow subscriber",
				zap.String("subject", subject),
				zap.String("pattern", sub.pattern),
				zap.String("event_type", event.Type))
		}
	}

	b.logger.Debug("Published event",
		zap.String("subject", subject),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type))
	return nil
}

// Subscribe registers handler for subjects matching pattern.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySubscription{
		bus:     b,
		pattern: subject,
		handler: handler,
		queue:   make(chan delivery, memoryQueueSize),
		done:    make(chan struct{}),
	}
	b.subs = append(b.subs, sub)
	go sub.run()

	b.logger.Debug("Subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

func (b *MemoryEventBus) remove(s *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close stops every subscription.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.stop()
	}
	b.subs = nil
	b.logger.Info("Memory event bus closed")
}

// IsConnected returns true until Close.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

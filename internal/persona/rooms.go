package persona

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
)

// Rooms creates a Manager per room on first use.
type Rooms struct {
	adapters     []Adapter
	defaultAgent string
	store        chat.Store
	runtimes     RuntimeProvider
	logger       *logger.Logger

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRooms creates the room set. Adapters are sorted by agent type so every
// room lists its personas in the same order.
func NewRooms(adapters []Adapter, defaultAgent string, store chat.Store, runtimes RuntimeProvider, log *logger.Logger) *Rooms {
	if log == nil {
		log = logger.Default()
	}
	sorted := append([]Adapter(nil), adapters...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AgentType() < sorted[j].AgentType() })
	return &Rooms{
		adapters:     sorted,
		defaultAgent: defaultAgent,
		store:        store,
		runtimes:     runtimes,
		logger:       log,
		managers:     make(map[string]*Manager),
	}
}

// Get returns the room's manager, creating it if needed.
func (r *Rooms) Get(roomID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[roomID]
	if !ok {
		m = NewManager(roomID, r.adapters, r.defaultAgent, r.store, r.runtimes, r.logger)
		r.managers[roomID] = m
		r.logger.Info("room initialized", zap.String("room_id", roomID), zap.Int("personas", len(r.adapters)))
	}
	return m
}

// Lookup returns the room's manager only if the room was initialized.
func (r *Rooms) Lookup(roomID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[roomID]
	return m, ok
}

// Adapters returns the adapters every room is built from.
func (r *Rooms) Adapters() []Adapter {
	return append([]Adapter(nil), r.adapters...)
}

// Shutdown closes the sessions of every room.
func (r *Rooms) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, m := range managers {
		g.Go(func() error {
			m.Shutdown(ctx)
			return nil
		})
	}
	return g.Wait()
}

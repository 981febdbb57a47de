package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kandev/acpchat/internal/common/logger"
)

const reapTimeout = 5 * time.Second

// StartFunc creates a connected runtime for an adapter.
type StartFunc func(ctx context.Context, adapter AgentAdapter, opts Options) (*Runtime, error)

// Registry holds one Runtime per agent type, started on first use.
// Concurrent first callers share a single start; a failed start is not
// remembered, and a runtime whose agent died is replaced on the next call.
type Registry struct {
	opts   Options
	start  StartFunc
	logger *logger.Logger

	group    singleflight.Group
	mu       sync.Mutex
	runtimes map[string]*Runtime
	closed   bool
}

// NewRegistry creates a registry that spawns agents with Start.
func NewRegistry(opts Options) *Registry {
	return NewRegistryWithStart(opts, Start)
}

// NewRegistryWithStart lets callers replace how runtimes are created.
func NewRegistryWithStart(opts Options, start StartFunc) *Registry {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		opts:     opts,
		start:    start,
		logger:   log.WithFields(zap.String("component", "acp-registry")),
		runtimes: make(map[string]*Runtime),
	}
}

// GetOrCreate returns the live runtime for the adapter's agent type,
// starting one if needed.
func (g *Registry) GetOrCreate(ctx context.Context, adapter AgentAdapter) (*Runtime, error) {
	agentType := adapter.AgentType()
	if rt, ok := g.live(agentType); ok {
		return rt, nil
	}

	v, err, shared := g.group.Do(agentType, func() (any, error) {
		if rt, ok := g.live(agentType); ok {
			return rt, nil
		}
		g.mu.Lock()
		closed := g.closed
		g.mu.Unlock()
		if closed {
			return nil, ErrRuntimeClosed
		}

		// The spawn must not die with the first caller's request.
		rt, err := g.start(context.WithoutCancel(ctx), adapter, g.opts)
		if err != nil {
			return nil, fmt.Errorf("start %s agent: %w", agentType, err)
		}

		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			_ = rt.Close(context.Background())
			return nil, ErrRuntimeClosed
		}
		g.runtimes[agentType] = rt
		g.mu.Unlock()
		g.logger.Info("agent runtime started", zap.String("agent_type", agentType))
		return rt, nil
	})
	if err != nil {
		g.logger.Warn("failed to start agent runtime",
			zap.String("agent_type", agentType),
			zap.Bool("shared", shared),
			zap.Error(err))
		return nil, err
	}
	return v.(*Runtime), nil
}

// Get returns the live runtime for agentType without starting one.
func (g *Registry) Get(agentType string) (*Runtime, bool) {
	return g.live(agentType)
}

// Runtimes returns the live runtimes ordered by agent type.
func (g *Registry) Runtimes() []*Runtime {
	g.mu.Lock()
	types := make([]string, 0, len(g.runtimes))
	for t := range g.runtimes {
		types = append(types, t)
	}
	g.mu.Unlock()
	sort.Strings(types)

	out := make([]*Runtime, 0, len(types))
	for _, t := range types {
		if rt, ok := g.live(t); ok {
			out = append(out, rt)
		}
	}
	return out
}

// FindSession returns the runtime that owns sessionID.
func (g *Registry) FindSession(sessionID string) (*Runtime, bool) {
	for _, rt := range g.Runtimes() {
		if _, ok := rt.session(sessionID); ok {
			return rt, true
		}
	}
	return nil, false
}

// ResolvePermission answers a pending permission request on whichever
// runtime owns the session. It returns false when nothing was waiting.
func (g *Registry) ResolvePermission(sessionID, toolCallID, optionID string) bool {
	rt, ok := g.FindSession(sessionID)
	if !ok {
		return false
	}
	return rt.ResolvePermission(sessionID, toolCallID, optionID)
}

func (g *Registry) live(agentType string) (*Runtime, bool) {
	g.mu.Lock()
	rt, ok := g.runtimes[agentType]
	if !ok {
		g.mu.Unlock()
		return nil, false
	}
	if rt.Alive() {
		g.mu.Unlock()
		return rt, true
	}
	delete(g.runtimes, agentType)
	g.mu.Unlock()

	g.logger.Info("dropping dead agent runtime", zap.String("agent_type", agentType))
	go g.reap(agentType, rt)
	return nil, false
}

// reap closes a runtime whose agent went away so its pipes and process
// group are released.
func (g *Registry) reap(agentType string, rt *Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		g.logger.Warn("failed to close dead agent runtime",
			zap.String("agent_type", agentType),
			zap.Error(err))
	}
}

// Close closes every runtime in parallel.
func (g *Registry) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	runtimes := make([]*Runtime, 0, len(g.runtimes))
	for _, rt := range g.runtimes {
		runtimes = append(runtimes, rt)
	}
	g.runtimes = make(map[string]*Runtime)
	g.mu.Unlock()

	var eg errgroup.Group
	for _, rt := range runtimes {
		eg.Go(func() error { return rt.Close(ctx) })
	}
	return eg.Wait()
}

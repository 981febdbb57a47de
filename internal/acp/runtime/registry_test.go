package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
)

func TestRegistrySharesOneStart(t *testing.T) {
	var starts atomic.Int32
	release := make(chan struct{})
	rt, _ := connectFake(t, Options{})

	reg := NewRegistryWithStart(Options{Logger: logger.NewNop()}, func(ctx context.Context, a AgentAdapter, _ Options) (*Runtime, error) {
		starts.Add(1)
		<-release
		return rt, nil
	})

	const callers = 8
	var wg sync.WaitGroup
	got := make([]*Runtime, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
			assert.NoError(t, err)
			got[i] = r
		}()
	}
	require.Eventually(t, func() bool { return starts.Load() == 1 }, waitTimeout, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), starts.Load())
	for _, r := range got {
		assert.Same(t, rt, r)
	}

	again, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.NoError(t, err)
	assert.Same(t, rt, again)
	assert.Equal(t, int32(1), starts.Load())
}

func TestRegistryDoesNotMemoizeFailures(t *testing.T) {
	var starts atomic.Int32
	rt, _ := connectFake(t, Options{})
	reg := NewRegistryWithStart(Options{Logger: logger.NewNop()}, func(ctx context.Context, a AgentAdapter, _ Options) (*Runtime, error) {
		if starts.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		return rt, nil
	})

	_, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.Error(t, err)
	_, ok := reg.Get("fake")
	assert.False(t, ok)

	r, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.NoError(t, err)
	assert.Same(t, rt, r)
	assert.Equal(t, int32(2), starts.Load())
}

func TestRegistryReplacesClosedRuntime(t *testing.T) {
	first, _ := connectFake(t, Options{})
	second, _ := connectFake(t, Options{})
	runtimes := []*Runtime{first, second}
	var starts atomic.Int32
	reg := NewRegistryWithStart(Options{Logger: logger.NewNop()}, func(ctx context.Context, a AgentAdapter, _ Options) (*Runtime, error) {
		return runtimes[starts.Add(1)-1], nil
	})

	r, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.NoError(t, err)
	require.Same(t, first, r)

	require.NoError(t, first.Close(testCtx(t)))
	r, err = reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.NoError(t, err)
	assert.Same(t, second, r)
}

func TestRegistryClosesRuntimeWithDeadConnection(t *testing.T) {
	first, agent := connectFake(t, Options{})
	second, _ := connectFake(t, Options{})
	runtimes := []*Runtime{first, second}
	var starts atomic.Int32
	reg := NewRegistryWithStart(Options{Logger: logger.NewNop()}, func(ctx context.Context, a AgentAdapter, _ Options) (*Runtime, error) {
		return runtimes[starts.Add(1)-1], nil
	})

	_, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.NoError(t, err)

	// The agent hangs up without the runtime being closed.
	require.NoError(t, agent.out.Close())
	require.Eventually(t, func() bool {
		select {
		case <-first.Done():
			return true
		default:
			return false
		}
	}, waitTimeout, 5*time.Millisecond)

	r, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.NoError(t, err)
	assert.Same(t, second, r)

	assert.Eventually(t, func() bool {
		first.mu.RLock()
		defer first.mu.RUnlock()
		return first.closed
	}, waitTimeout, 5*time.Millisecond)
}

func TestRegistryClose(t *testing.T) {
	rt, _ := connectFake(t, Options{})
	reg := NewRegistryWithStart(Options{Logger: logger.NewNop()}, func(ctx context.Context, a AgentAdapter, _ Options) (*Runtime, error) {
		return rt, nil
	})
	_, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.NoError(t, err)

	require.NoError(t, reg.Close(testCtx(t)))
	assert.False(t, rt.Alive())

	_, err = reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	assert.ErrorIs(t, err, ErrRuntimeClosed)
}

func TestRegistryRoutesPermissionsBySession(t *testing.T) {
	rt, agent := connectFake(t, Options{})
	openSession(t, rt, agent, newParticipant(chat.NewMemoryStore(chat.NewTriggers())), "sess-1")
	reg := NewRegistryWithStart(Options{Logger: logger.NewNop()}, func(context.Context, AgentAdapter, Options) (*Runtime, error) {
		return rt, nil
	})
	_, err := reg.GetOrCreate(testCtx(t), testAdapter{agentType: "fake"})
	require.NoError(t, err)

	found, ok := reg.FindSession("sess-1")
	require.True(t, ok)
	assert.Same(t, rt, found)
	_, ok = reg.FindSession("nope")
	assert.False(t, ok)

	done := startPrompt(t, rt, "sess-1", "edit", nil)
	req := agent.expectRequest("session/prompt")
	id := agent.call("session/request_permission", permissionParams("sess-1", "tc-9"))
	require.Eventually(t, func() bool { return rt.HasPendingPermissions("sess-1") }, waitTimeout, 10*time.Millisecond)

	assert.False(t, reg.ResolvePermission("nope", "tc-9", "allow"))
	assert.True(t, reg.ResolvePermission("sess-1", "tc-9", "allow"))
	assert.Equal(t, "allow", selectedOption(t, agent.expectResponse(id)))

	agent.reply(req, map[string]any{"stopReason": "end_turn"})
	require.NoError(t, awaitPrompt(t, done).err)
}

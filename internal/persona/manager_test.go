package persona

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpchat/internal/chat"
	"github.com/kandev/acpchat/internal/common/logger"
)

func testAdapters() []Adapter {
	return []Adapter{
		&stubAdapter{agentType: "claude", mention: "claude"},
		&stubAdapter{agentType: "kiro", mention: "kiro"},
	}
}

func mentionsOf(ps []*Persona) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.ID())
	}
	return out
}

func TestManager_Recipients(t *testing.T) {
	m := NewManager(room, testAdapters(), "claude", newStore(), nil, logger.NewNop())

	tests := []struct {
		name   string
		msg    chat.Message
		expect []string
	}{
		{"unaddressed goes to default", chat.Message{Sender: "user-1", Body: "hello"}, []string{"claude"}},
		{"mention picks persona", chat.Message{Sender: "user-1", Body: "@kiro hello"}, []string{"kiro"}},
		{"several mentions", chat.Message{Sender: "user-1", Body: "@kiro and @claude compare"}, []string{"kiro", "claude"}},
		{"unknown mention falls back", chat.Message{Sender: "user-1", Body: "@someone hi"}, []string{"claude"}},
		{"persona messages are not routed", chat.Message{Sender: "kiro", Body: "@claude over to you"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, mentionsOf(m.Recipients(tt.msg)))
		})
	}
}

func TestManager_NoDefault(t *testing.T) {
	m := NewManager(room, testAdapters(), "", newStore(), nil, logger.NewNop())

	_, ok := m.Default()
	assert.False(t, ok)
	assert.Empty(t, m.Recipients(chat.Message{Sender: "user-1", Body: "hello"}))
	assert.Equal(t, []string{"claude", "kiro"}, mentionsOf(m.Personas()))
}

func TestManager_RouteDeliversReply(t *testing.T) {
	agent := newEchoAgent()
	store := newStore()
	m := NewManager(room, []Adapter{&stubAdapter{agentType: "claude", mention: "claude"}}, "claude", store, newEchoRegistry(t, agent), logger.NewNop())

	msg := userMessage(t, store, room, "ping")
	routed := m.Route(testCtx(t), msg)
	require.Len(t, routed, 1)
	m.Wait()

	assert.Equal(t, []string{"user-1: ping", "claude: echo: ping"}, bodies(t, store, room))
}

func TestRooms_LazyManagers(t *testing.T) {
	rooms := NewRooms(testAdapters(), "kiro", newStore(), nil, logger.NewNop())

	_, ok := rooms.Lookup("a")
	assert.False(t, ok)

	m := rooms.Get("a")
	assert.Same(t, m, rooms.Get("a"))
	got, ok := rooms.Lookup("a")
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.NotSame(t, m, rooms.Get("b"))

	def, ok := m.Default()
	require.True(t, ok)
	assert.Equal(t, "kiro", def.ID())
	assert.NoError(t, rooms.Shutdown(context.Background()))
}

package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var editOptions = []Option{
	{ID: "allow", Title: "Allow", Description: "Allow this edit"},
	{ID: "deny", Title: "Deny", Description: "Reject this edit"},
}

func TestResolve_DeliversOnce(t *testing.T) {
	m := NewManager()
	ch := m.Create("s1", "tc-1", editOptions)

	assert.True(t, m.HasPending("s1"))
	assert.True(t, m.Resolve("s1", "tc-1", "allow"))
	assert.False(t, m.Resolve("s1", "tc-1", "deny"))
	assert.False(t, m.HasPending("s1"))

	d := <-ch
	assert.Equal(t, Decision{OptionID: "allow"}, d)
}

func TestResolve_UnknownKey(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Resolve("s1", "missing", "allow"))
}

func TestRejectAllPending(t *testing.T) {
	m := NewManager()
	a := m.Create("s1", "tc-1", editOptions)
	b := m.Create("s1", "tc-2", []Option{{ID: "ok", Description: "Allow"}})
	other := m.Create("s2", "tc-1", editOptions)

	assert.Equal(t, 2, m.RejectAllPending("s1"))
	assert.Equal(t, "deny", (<-a).OptionID)
	assert.Equal(t, FallbackRejectOptionID, (<-b).OptionID)

	assert.False(t, m.HasPending("s1"))
	assert.True(t, m.HasPending("s2"))
	assert.Equal(t, 0, m.RejectAllPending("s1"))

	select {
	case <-other:
		t.Fatal("other session must stay pending")
	default:
	}
}

func TestCreate_ReplacesAndCancelsEarlierWaiter(t *testing.T) {
	m := NewManager()
	first := m.Create("s1", "tc-1", editOptions)
	second := m.Create("s1", "tc-1", editOptions)

	d, ok := <-first
	require.True(t, ok)
	assert.True(t, d.Cancelled)

	assert.True(t, m.Resolve("s1", "tc-1", "allow"))
	assert.Equal(t, "allow", (<-second).OptionID)
}

func TestCleanup_KeepsReplacement(t *testing.T) {
	m := NewManager()
	first := m.Create("s1", "tc-1", editOptions)
	m.Create("s1", "tc-1", editOptions)

	m.Cleanup("s1", "tc-1", first)
	_, ok := m.Options("s1", "tc-1")
	assert.True(t, ok)

	m.Cleanup("s1", "tc-1", nil)
	_, ok = m.Options("s1", "tc-1")
	assert.False(t, ok)
}

func TestCancelSession(t *testing.T) {
	m := NewManager()
	ch := m.Create("s1", "tc-1", editOptions)

	assert.Equal(t, 1, m.CancelSession("s1"))
	assert.True(t, (<-ch).Cancelled)
	assert.False(t, m.Resolve("s1", "tc-1", "allow"))
}

func TestRejectOptionID(t *testing.T) {
	assert.Equal(t, "deny", RejectOptionID(editOptions))
	assert.Equal(t, FallbackRejectOptionID, RejectOptionID(nil))
}

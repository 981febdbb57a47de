package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithWriter_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	log.WithSessionID("sess-1").WithAgentType("claude").Info("turn started", zap.Int("attachments", 2))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "turn started", entry["msg"])
	assert.Equal(t, "sess-1", entry["session_id"])
	assert.Equal(t, "claude", entry["agent_type"])
	assert.Equal(t, float64(2), entry["attachments"])
	assert.Contains(t, entry, "timestamp")
}

func TestSetLevel_AppliesToDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)
	child := log.WithFields(zap.String("component", "runtime"))

	child.Debug("hidden")
	assert.Empty(t, buf.String())

	log.SetLevel("debug")
	child.Debug("visible")
	assert.True(t, strings.Contains(buf.String(), "visible"))
	assert.Equal(t, "debug", child.Level())
}

func TestParseLevel_FallsBackToInfo(t *testing.T) {
	log := NewWithWriter(LoggingConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Equal(t, "info", log.Level())
}

func TestSetDefault(t *testing.T) {
	nop := NewNop()
	SetDefault(nop)
	assert.Same(t, nop, Default())
}

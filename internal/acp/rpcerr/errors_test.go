package rpcerr

import (
	"errors"
	"fmt"
	"os"
	"testing"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRequestError_MapsKindsToCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid params", InvalidParams("path", "path cannot be empty"), CodeInvalidParams},
		{"invalid request", InvalidRequest("terminal_id", "terminal belongs to different session"), CodeInvalidRequest},
		{"not found", ResourceNotFound("/tmp/missing"), CodeResourceNotFound},
		{"method", newError(KindMethodNotFound, map[string]any{"method": "_vendor/ext"}), CodeMethodNotFound},
		{"internal", Internal(map[string]any{"path": "/x"}, os.ErrPermission), CodeInternalError},
		{"wrapped", fmt.Errorf("reading: %w", InvalidParams("line", "line must be >= 1")), CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ToRequestError(tt.err)
			var re *acp.RequestError
			require.True(t, errors.As(out, &re))
			assert.Equal(t, tt.code, re.Code)
			assert.NotEmpty(t, re.Message)
		})
	}
}

func TestToRequestError_PlainErrorBecomesInternal(t *testing.T) {
	out := ToRequestError(errors.New("disk on fire"))
	var re *acp.RequestError
	require.True(t, errors.As(out, &re))
	assert.Equal(t, CodeInternalError, re.Code)
	assert.Equal(t, map[string]any{"error": "disk on fire"}, re.Data)
}

func TestToRequestError_Nil(t *testing.T) {
	assert.NoError(t, ToRequestError(nil))
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("create terminal: %w", InvalidParams("env", "setting 'LD_PRELOAD' is not allowed"))
	assert.True(t, Is(err, KindInvalidParams))
	assert.False(t, Is(err, KindInternal))

	internal := Internal(nil, os.ErrPermission)
	assert.ErrorIs(t, internal, os.ErrPermission)

	assert.True(t, Is(&acp.RequestError{Code: CodeAuthRequired, Message: "Authentication required"}, KindAuthRequired))
	assert.False(t, Is(errors.New("plain"), KindInternal))
}

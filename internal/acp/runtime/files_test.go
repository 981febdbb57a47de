package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	acp "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpchat/internal/acp/rpcerr"
)

func intPtr(n int) *int { return &n }

func TestReadTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\r\nthree"), 0o644))

	tests := []struct {
		name  string
		line  *int
		limit *int
		want  string
	}{
		{"whole file", nil, nil, "one\ntwo\r\nthree"},
		{"from line 2", intPtr(2), nil, "two\r\nthree"},
		{"one line", intPtr(2), intPtr(1), "two\r\n"},
		{"limit only", nil, intPtr(1), "one\n"},
		{"past end", intPtr(10), nil, ""},
		{"limit beyond end", intPtr(3), intPtr(5), "three"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readTextFile(path, tt.line, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadTextFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	tests := []struct {
		name  string
		path  string
		line  *int
		limit *int
		kind  rpcerr.Kind
	}{
		{"blank path", "  ", nil, nil, rpcerr.KindInvalidParams},
		{"line zero", path, intPtr(0), nil, rpcerr.KindInvalidParams},
		{"negative limit", path, nil, intPtr(-1), rpcerr.KindInvalidParams},
		{"directory", dir, nil, nil, rpcerr.KindInvalidParams},
		{"missing", filepath.Join(dir, "nope.txt"), nil, nil, rpcerr.KindResourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readTextFile(tt.path, tt.line, tt.limit)
			assert.True(t, rpcerr.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestWriteTextFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")
	require.NoError(t, writeTextFile(path, "héllo\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "héllo\n", string(data))

	assert.True(t, rpcerr.Is(writeTextFile("", "x"), rpcerr.KindInvalidParams))
	assert.True(t, rpcerr.Is(writeTextFile(filepath.Dir(path), "x"), rpcerr.KindInvalidParams))
}

func TestFileCallbacksReturnProtocolErrors(t *testing.T) {
	dir := t.TempDir()
	rt := newRuntime(testAdapter{agentType: "fake"}, Options{Cwd: dir})

	_, err := rt.WriteTextFile(testCtx(t), acp.WriteTextFileRequest{SessionId: "s", Path: "rel/out.txt", Content: "ok"})
	require.NoError(t, err)

	resp, err := rt.ReadTextFile(testCtx(t), acp.ReadTextFileRequest{SessionId: "s", Path: filepath.Join(dir, "rel", "out.txt")})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	_, err = rt.ReadTextFile(testCtx(t), acp.ReadTextFileRequest{SessionId: "s", Path: filepath.Join(dir, "missing")})
	var re *acp.RequestError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, rpcerr.CodeResourceNotFound, re.Code)
}

func TestSplitLinesKeepEnds(t *testing.T) {
	assert.Nil(t, splitLinesKeepEnds(""))
	assert.Equal(t, []string{"a\n", "b"}, splitLinesKeepEnds("a\nb"))
	assert.Equal(t, []string{"a\n", "\n"}, splitLinesKeepEnds("a\n\n"))
}

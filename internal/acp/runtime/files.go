package runtime

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/acp/rpcerr"
	"github.com/kandev/acpchat/internal/tracing"
)

const (
	methodReadTextFile  = "fs/read_text_file"
	methodWriteTextFile = "fs/write_text_file"
)

// ReadTextFile serves fs/read_text_file. Line is 1-based; Limit counts lines.
func (r *Runtime) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	_, span := tracing.TraceCallback(ctx, methodReadTextFile, string(p.SessionId))
	content, err := readTextFile(r.resolvePath(p.Path), p.Line, p.Limit)
	r.endCallback(span, methodReadTextFile, err)
	if err != nil {
		r.logger.Debug("read_text_file failed", zap.String("path", p.Path), zap.Error(err))
		return acp.ReadTextFileResponse{}, rpcerr.ToRequestError(err)
	}
	return acp.ReadTextFileResponse{Content: content}, nil
}

// WriteTextFile serves fs/write_text_file, creating parent directories.
func (r *Runtime) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	_, span := tracing.TraceCallback(ctx, methodWriteTextFile, string(p.SessionId))
	err := writeTextFile(r.resolvePath(p.Path), p.Content)
	r.endCallback(span, methodWriteTextFile, err)
	if err != nil {
		r.logger.Debug("write_text_file failed", zap.String("path", p.Path), zap.Error(err))
		return acp.WriteTextFileResponse{}, rpcerr.ToRequestError(err)
	}
	return acp.WriteTextFileResponse{}, nil
}

// resolvePath anchors relative paths at the runtime's working directory.
func (r *Runtime) resolvePath(path string) string {
	if strings.TrimSpace(path) == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.opts.Cwd, path)
}

func readTextFile(path string, line, limit *int) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", rpcerr.InvalidParams("path", "path cannot be empty")
	}
	if line != nil && *line < 1 {
		return "", rpcerr.InvalidParams("line", "line must be >= 1")
	}
	if limit != nil && *limit < 1 {
		return "", rpcerr.InvalidParams("limit", "limit must be >= 1")
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fileError(path, err)
	}
	if info.IsDir() {
		return "", rpcerr.InvalidParams("path", "path is a directory")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fileError(path, err)
	}
	if line == nil && limit == nil {
		return string(data), nil
	}

	lines := splitLinesKeepEnds(string(data))
	start := 0
	if line != nil {
		start = min(*line-1, len(lines))
	}
	end := len(lines)
	if limit != nil {
		end = min(start+*limit, len(lines))
	}
	return strings.Join(lines[start:end], ""), nil
}

func writeTextFile(path, content string) error {
	if strings.TrimSpace(path) == "" {
		return rpcerr.InvalidParams("path", "path cannot be empty")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return rpcerr.InvalidParams("path", "path is a directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fileError(path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fileError(path, err)
	}
	return nil
}

// splitLinesKeepEnds splits after each "\n"; a trailing partial line is kept.
func splitLinesKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func fileError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return rpcerr.ResourceNotFound(path)
	case errors.Is(err, fs.ErrPermission):
		return rpcerr.Internal(map[string]any{"path": path, "error": "permission denied"}, err)
	default:
		return rpcerr.Internal(map[string]any{"path": path, "error": err.Error()}, err)
	}
}

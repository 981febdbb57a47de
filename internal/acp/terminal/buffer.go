package terminal

import (
	"strings"
	"sync"
)

// tailBuffer keeps at most limit bytes of output, dropping the oldest bytes
// first. After a trim the buffer never starts with a UTF-8 continuation byte.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	if limit < 0 {
		limit = 0
	}
	return &tailBuffer{limit: limit}
}

// Write appends p and enforces the limit. It never fails.
func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.truncated = true
		b.buf = trimFrontAtCharBoundary(b.buf, b.limit)
	}
	return len(p), nil
}

// Snapshot decodes the retained bytes, replacing invalid sequences.
func (b *tailBuffer) Snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.ToValidUTF8(string(b.buf), "�"), b.truncated
}

// trimFrontAtCharBoundary drops the oldest bytes so len(buf) <= limit, then
// skips any continuation bytes (10xxxxxx) left dangling at the new start.
// The returned slice reuses buf's backing array.
func trimFrontAtCharBoundary(buf []byte, limit int) []byte {
	excess := len(buf) - limit
	if excess <= 0 {
		return buf
	}
	cut := excess
	for cut < len(buf) && buf[cut]&0xC0 == 0x80 {
		cut++
	}
	n := copy(buf, buf[cut:])
	return buf[:n]
}

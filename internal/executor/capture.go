// Package executor runs claimed job fires as child processes on a
// bounded worker pool and records their outcomes.
package executor

import "sync"

const truncationMarker = "...[output truncated]\n"

// tailBuffer is an io.Writer that keeps only the last limit bytes
// written to it. Failures tend to explain themselves at the end of the
// output, so the tail is what execution records keep.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if b.limit <= 0 {
		return n, nil
	}

	switch {
	case n >= b.limit:
		if len(b.buf) > 0 || n > b.limit {
			b.truncated = true
		}
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
	case len(b.buf)+n > b.limit:
		b.truncated = true
		keep := b.limit - n
		copy(b.buf, b.buf[len(b.buf)-keep:])
		b.buf = append(b.buf[:keep], p...)
	default:
		b.buf = append(b.buf, p...)
	}

	return n, nil
}

// String returns the captured tail, prefixed with a marker when earlier
// output was dropped.
func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return truncationMarker + string(b.buf)
	}
	return string(b.buf)
}

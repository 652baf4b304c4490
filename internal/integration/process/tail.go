package process

import "sync"

// DefaultTailSize is the number of trailing output bytes kept per process.
const DefaultTailSize = 8 << 10

// Tail is an io.Writer that keeps only the last n bytes written to it.
type Tail struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

// NewTail creates a tail buffer retaining at most size bytes.
func NewTail(size int) *Tail {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &Tail{size: size}
}

// Write appends p, discarding the oldest bytes beyond the buffer size.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.size; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// String returns the retained output.
func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

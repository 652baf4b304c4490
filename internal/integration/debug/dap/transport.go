// Package dap implements the wire side of a Debug Adapter Protocol client:
// framing, the envelope codec, request correlation and the event loop that
// serializes all protocol work.
package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	godap "github.com/google/go-dap"

	"github.com/timcharper/dape/internal/logflags"
)

// Transport moves framed DAP message contents to and from an adapter.
type Transport interface {
	// ReadMessage blocks until a whole message has been read.
	ReadMessage() ([]byte, error)

	// WriteMessage frames and sends one message.
	WriteMessage(content []byte) error

	// Close closes the transport. Pending reads fail.
	Close() error
}

// StreamTransport implements Transport over a byte stream using
// Content-Length framing.
type StreamTransport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewStreamTransport creates a transport reading from r and writing to w.
// Close calls closer, which may be nil.
func NewStreamTransport(r io.Reader, w io.Writer, closer io.Closer) *StreamTransport {
	return &StreamTransport{
		reader: bufio.NewReader(r),
		writer: w,
		closer: closer,
	}
}

// NewSocketTransport wraps a connected socket.
func NewSocketTransport(conn net.Conn) *StreamTransport {
	return NewStreamTransport(conn, conn, conn)
}

// ReadMessage reads the next message content.
func (t *StreamTransport) ReadMessage() ([]byte, error) {
	return godap.ReadBaseMessage(t.reader)
}

// WriteMessage writes content with its Content-Length header.
func (t *StreamTransport) WriteMessage(content []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return godap.WriteBaseMessage(t.writer, content)
}

// Close closes the underlying stream once.
func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.closer != nil {
			t.closeErr = t.closer.Close()
		}
	})
	return t.closeErr
}

// DialOptions bound the retries made while an adapter server starts
// listening.
type DialOptions struct {
	// Attempts is the total number of connection attempts.
	Attempts int
	// Delay is the pause between attempts.
	Delay time.Duration
}

// DefaultDialOptions retries for about three and a half seconds.
var DefaultDialOptions = DialOptions{Attempts: 35, Delay: 100 * time.Millisecond}

// Dial connects to an adapter listening on address, retrying while the
// connection is refused.
func Dial(ctx context.Context, address string, opts DialOptions) (*StreamTransport, error) {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	log := logflags.TransportLogger()

	var dialer net.Dialer
	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(opts.Delay), uint64(opts.Attempts-1)),
		ctx,
	)
	conn, err := backoff.RetryNotifyWithData(
		func() (net.Conn, error) {
			attempt++
			return dialer.DialContext(ctx, "tcp", address)
		},
		policy,
		func(err error, next time.Duration) {
			log.Debugf("connect %s attempt %d failed: %v", address, attempt, err)
		},
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("connect %s: %w", address, errors.Join(ctxErr, err))
		}
		return nil, fmt.Errorf("connect %s after %d attempts: %w", address, attempt, err)
	}
	return NewSocketTransport(conn), nil
}

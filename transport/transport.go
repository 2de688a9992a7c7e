// Package transport carries opaque request/response payloads between the
// host and a remote interpreter.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/TheKidThatCodes/ccbridge/ipc"
)

// ErrClosed is returned by Send and Recv after Close.
var ErrClosed = errors.New("transport closed")

// Transport moves whole message payloads. Implementations must allow one
// goroutine calling Recv concurrently with others calling Send.
type Transport interface {
	// Send writes one payload. Must respect context cancellation and deadlines
	// where the underlying medium allows it.
	Send(ctx context.Context, payload []byte) error
	// Recv blocks until the next payload arrives.
	// Returns io.EOF when the peer closed the channel cleanly.
	Recv() ([]byte, error)
	// Close releases the channel. Pending Recv calls return an error.
	Close() error
}

// Stream frames payloads over a byte stream with ipc length prefixes.
type Stream struct {
	rwc io.ReadWriteCloser
	dec *ipc.FrameDecoder
	enc *ipc.FrameEncoder

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps rwc. The stream owns rwc and closes it on Close.
func NewStream(rwc io.ReadWriteCloser) *Stream {
	return &Stream{
		rwc: rwc,
		dec: ipc.NewFrameDecoder(rwc),
		enc: ipc.NewFrameEncoder(rwc),
	}
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Send writes one framed payload.
func (s *Stream) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if wd, ok := s.rwc.(writeDeadliner); ok {
		if deadline, has := ctx.Deadline(); has {
			_ = wd.SetWriteDeadline(deadline)
			defer func() { _ = wd.SetWriteDeadline(time.Time{}) }()
		}
	}
	return s.enc.WriteFrame(payload)
}

// Recv reads one framed payload.
func (s *Stream) Recv() ([]byte, error) {
	return s.dec.ReadFrame()
}

// Close closes the underlying stream. Safe to call multiple times.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

// Pipe returns two connected in-memory streams.
// Payloads sent on one are received on the other.
func Pipe() (*Stream, *Stream) {
	a, b := net.Pipe()
	return NewStream(a), NewStream(b)
}

// Dial connects to a remote interpreter listening on a TCP address.
func Dial(ctx context.Context, addr string) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewStream(conn), nil
}

// Verify Stream implements Transport.
var _ Transport = (*Stream)(nil)

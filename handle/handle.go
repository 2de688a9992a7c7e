// Package handle proxies remote file handles.
//
// A handle lives in the remote temp table under a session-unique name.
// Reader and Writer expose only the operations their capability allows,
// and every handle is released by exactly one remote close.
package handle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/TheKidThatCodes/ccbridge/codec"
	"github.com/TheKidThatCodes/ccbridge/iox"
	"github.com/TheKidThatCodes/ccbridge/metrics"
	"github.com/TheKidThatCodes/ccbridge/session"
	"github.com/TheKidThatCodes/ccbridge/types"
)

// ErrClosed is returned when a released handle is used.
var ErrClosed = errors.New("handle closed")

// Mode is a remote fs.open mode.
type Mode string

// Open modes.
const (
	ModeRead         Mode = "r"
	ModeReadBinary   Mode = "rb"
	ModeWrite        Mode = "w"
	ModeAppend       Mode = "a"
	ModeWriteBinary  Mode = "wb"
	ModeAppendBinary Mode = "ab"
)

// IsWrite reports whether m opens a handle for writing.
func (m Mode) IsWrite() bool {
	switch m {
	case ModeWrite, ModeAppend, ModeWriteBinary, ModeAppendBinary:
		return true
	}
	return false
}

// IsRead reports whether m opens a handle for reading.
func (m Mode) IsRead() bool {
	return m == ModeRead || m == ModeReadBinary
}

type handle struct {
	caller  session.Caller
	name    string
	path    string
	mode    Mode
	metrics *metrics.Collector

	mu       sync.Mutex
	closed   bool
	closeErr error
}

func metricsOf(c session.Caller) *metrics.Collector {
	if m, ok := c.(interface{ Metrics() *metrics.Collector }); ok {
		return m.Metrics()
	}
	return nil
}

func open(ctx context.Context, c session.Caller, path string, mode Mode) (*handle, error) {
	name := c.NewTempName()
	src := fmt.Sprintf("local h, err = fs.open(%s, %s)\n"+
		"if not h then error(err or \"cannot open file\", 0) end\n"+
		"%s = h", codec.Quote(path), codec.Quote(string(mode)), name)

	env, err := c.Do(ctx, session.Request{Source: src})
	if err != nil {
		// The open may still run remotely after ctx ended; drop whatever
		// it stores under name.
		if !types.IsTransportDisconnected(err) {
			if rerr := release(context.WithoutCancel(ctx), c, name); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := codec.MapError(env); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	h := &handle{caller: c, name: name, path: path, mode: mode, metrics: metricsOf(c)}
	h.metrics.IncHandleAcquired()
	return h, nil
}

// release unsets name and closes the handle it held, if any.
func release(ctx context.Context, c session.Caller, name string) error {
	src := fmt.Sprintf("local h = %s\n%s = nil\nif h then h.close() end", name, name)
	env, err := c.Do(ctx, session.Request{Source: src})
	if err != nil {
		return err
	}
	return codec.MapError(env)
}

// Name returns the remote variable holding the handle.
func (h *handle) Name() string { return h.name }

// Path returns the remote path the handle was opened with.
func (h *handle) Path() string { return h.path }

// Mode returns the mode the handle was opened with.
func (h *handle) Mode() Mode { return h.mode }

// Close releases the remote handle. The release is sent even when ctx is
// already canceled. Safe to call multiple times; only the first call
// reaches the remote side.
func (h *handle) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return h.closeErr
	}
	h.closed = true

	if err := release(context.WithoutCancel(ctx), h.caller, h.name); err != nil {
		h.closeErr = fmt.Errorf("close %s: %w", h.path, err)
	}
	h.metrics.IncHandleReleased()
	return h.closeErr
}

func (h *handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func call[T any](ctx context.Context, h *handle, method string, dec codec.Decoder[T], args ...any) (T, error) {
	if h.isClosed() {
		var zero T
		return zero, ErrClosed
	}
	return session.Call(ctx, h.caller, session.Request{
		Func:  h.name + "." + method,
		Args:  args,
		Class: codec.ClassEval,
	}, dec)
}

// Reader is a read-capable remote file handle.
type Reader struct {
	*handle
}

// OpenReader opens path for reading in text mode.
func OpenReader(ctx context.Context, c session.Caller, path string) (*Reader, error) {
	h, err := open(ctx, c, path, ModeRead)
	if err != nil {
		return nil, err
	}
	return &Reader{h}, nil
}

// OpenBinaryReader opens path for reading in binary mode.
func OpenBinaryReader(ctx context.Context, c session.Caller, path string) (*Reader, error) {
	h, err := open(ctx, c, path, ModeReadBinary)
	if err != nil {
		return nil, err
	}
	return &Reader{h}, nil
}

// Read reads up to n bytes. ok is false at end of file.
func (r *Reader) Read(ctx context.Context, n int) (string, bool, error) {
	s, err := call(ctx, r.handle, "read", codec.OptString, n)
	if err != nil || s == nil {
		return "", false, err
	}
	return *s, true, nil
}

// ReadLine reads the next line without its terminator. ok is false at
// end of file.
func (r *Reader) ReadLine(ctx context.Context) (string, bool, error) {
	s, err := call(ctx, r.handle, "readLine", codec.OptString)
	if err != nil || s == nil {
		return "", false, err
	}
	return *s, true, nil
}

// ReadAll reads the rest of the file.
func (r *Reader) ReadAll(ctx context.Context) (string, error) {
	s, err := call(ctx, r.handle, "readAll", codec.OptString)
	if err != nil || s == nil {
		return "", err
	}
	return *s, nil
}

// Lines iterates the remaining lines. The sequence is single-pass and
// stops at end of file or after yielding the first error.
func (r *Reader) Lines(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			line, ok, err := r.ReadLine(ctx)
			if err != nil {
				yield("", err)
				return
			}
			if !ok || !yield(line, nil) {
				return
			}
		}
	}
}

// Writer is a write-capable remote file handle.
type Writer struct {
	*handle
}

// OpenWriter opens path with a write mode.
func OpenWriter(ctx context.Context, c session.Caller, path string, mode Mode) (*Writer, error) {
	if mode.IsRead() {
		return nil, fmt.Errorf("open %s: mode %q does not permit writing", path, mode)
	}
	h, err := open(ctx, c, path, mode)
	if err != nil {
		return nil, err
	}
	return &Writer{h}, nil
}

// Write writes s without a terminator.
func (w *Writer) Write(ctx context.Context, s string) error {
	_, err := call(ctx, w.handle, "write", codec.Nil, s)
	return err
}

// WriteLine writes s followed by a newline.
func (w *Writer) WriteLine(ctx context.Context, s string) error {
	_, err := call(ctx, w.handle, "writeLine", codec.Nil, s)
	return err
}

// Flush commits buffered writes to the remote file.
func (w *Writer) Flush(ctx context.Context) error {
	_, err := call(ctx, w.handle, "flush", codec.Nil)
	return err
}

// WithReader opens path, runs fn, and releases the handle on every exit
// path including a panic in fn. A release error is joined to fn's error.
func WithReader(ctx context.Context, c session.Caller, path string, fn func(*Reader) error) (err error) {
	r, err := OpenReader(ctx, c, path)
	if err != nil {
		return err
	}
	defer iox.JoinCloseContext(ctx, &err, r)
	return fn(r)
}

// WithWriter opens path with mode, runs fn, and releases the handle on
// every exit path including a panic in fn.
func WithWriter(ctx context.Context, c session.Caller, path string, mode Mode, fn func(*Writer) error) (err error) {
	w, err := OpenWriter(ctx, c, path, mode)
	if err != nil {
		return err
	}
	defer iox.JoinCloseContext(ctx, &err, w)
	return fn(w)
}

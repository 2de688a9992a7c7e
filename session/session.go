// Package session implements the request/response channel to one remote
// interpreter.
//
// A Session assigns every request a unique id, tracks the waiter for each
// outstanding request and routes replies back by id. One goroutine reads
// the transport; callers block on their own waiter.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TheKidThatCodes/ccbridge/codec"
	"github.com/TheKidThatCodes/ccbridge/ipc"
	"github.com/TheKidThatCodes/ccbridge/log"
	"github.com/TheKidThatCodes/ccbridge/metrics"
	"github.com/TheKidThatCodes/ccbridge/transport"
	"github.com/TheKidThatCodes/ccbridge/types"
)

// DefaultMaxInFlight is one outstanding request per session.
// The remote interpreter runs chunks one at a time.
const DefaultMaxInFlight = 1

// errSessionClosed is the cause recorded when Close ends the session.
var errSessionClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	// MaxInFlight bounds outstanding requests. Zero means DefaultMaxInFlight.
	// Values above one opt into concurrent dispatch correlated by id.
	MaxInFlight int
	// CallTimeout bounds each call when positive.
	CallTimeout time.Duration
	// Logger receives session events. Nil discards them.
	Logger *log.Logger
	// Metrics receives counters. Nil is allowed.
	Metrics *metrics.Collector
}

// Request describes one remote call.
//
// Either Source is set (a raw chunk) or Func names the remote function
// called with Args wrapped according to Class.
type Request struct {
	Func      string
	Args      []any
	KeepNulls bool
	Class     codec.Class
	Source    string
}

// Chunk renders the request as the Lua source sent to the remote side.
func (r Request) Chunk() (string, error) {
	if r.Source != "" {
		return r.Source, nil
	}
	if r.Func == "" {
		return "", errors.New("request has neither source nor function")
	}
	argList, err := codec.Args(r.Args, r.KeepNulls)
	if err != nil {
		return "", fmt.Errorf("encode %s arguments: %w", r.Func, err)
	}
	return codec.CallSource(r.Class, r.Func, argList), nil
}

type reply struct {
	env types.Envelope
	err error
}

type waiter struct {
	ch chan reply
	// abandoned is set when the caller stopped waiting. Guarded by Session.mu.
	abandoned bool
}

// Session is one logical connection to a remote interpreter.
type Session struct {
	id      string
	tr      transport.Transport
	opts    Options
	logger  *log.Logger
	metrics *metrics.Collector

	nextID   atomic.Uint64
	nextTemp atomic.Uint64

	// slots holds one token per pending entry.
	slots chan struct{}

	mu      sync.Mutex
	pending map[uint64]*waiter
	closed  bool
	err     error

	done chan struct{}

	helloOnce sync.Once
	helloCh   chan struct{}
	hello     *ipc.Hello
}

// New starts a session over tr. The session owns tr and closes it when
// the session ends.
func New(tr transport.Transport, opts Options) *Session {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Session{
		id:      id,
		tr:      tr,
		opts:    opts,
		logger:  logger.With(map[string]any{"session_id": id}),
		metrics: opts.Metrics,
		slots:   make(chan struct{}, opts.MaxInFlight),
		pending: make(map[uint64]*waiter),
		done:    make(chan struct{}),
		helloCh: make(chan struct{}),
	}
	s.metrics.IncSessionOpened()
	go s.readLoop()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Logger returns the session logger.
func (s *Session) Logger() *log.Logger {
	return s.logger
}

// Metrics returns the session's collector, possibly nil.
func (s *Session) Metrics() *metrics.Collector {
	return s.metrics
}

// Calls returns the number of requests issued so far.
func (s *Session) Calls() int64 {
	return int64(s.nextID.Load())
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session and fails pending calls. Idempotent.
func (s *Session) Close() error {
	if s.fail(errSessionClosed) {
		s.metrics.IncSessionClosed()
		s.logger.Info("session closed", nil)
	}
	return nil
}

// WaitHello blocks until the remote side announced itself.
func (s *Session) WaitHello(ctx context.Context) (*ipc.Hello, error) {
	select {
	case <-s.helloCh:
		return s.hello, nil
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NewTempName returns a fresh remote variable name in the temp table.
// Names never repeat within a session.
func (s *Session) NewTempName() string {
	return fmt.Sprintf("temp[\"%d\"]", s.nextTemp.Add(1))
}

// Do sends one request and waits for its reply envelope.
//
// A failed envelope is returned as an envelope, not an error; the error
// return carries transport loss, cancellation and malformed replies.
//
// When ctx ends before the reply arrives the request is not retracted.
// The remote chunk still runs to completion and its reply is discarded.
// The in-flight slot stays held until that reply arrives.
func (s *Session) Do(ctx context.Context, req Request) (types.Envelope, error) {
	src, err := req.Chunk()
	if err != nil {
		return types.Envelope{}, err
	}
	return s.exec(ctx, src)
}

// Exec runs a raw chunk.
func (s *Session) Exec(ctx context.Context, src string) (types.Envelope, error) {
	return s.Do(ctx, Request{Source: src})
}

// Eval calls fn and returns every value it returned.
func (s *Session) Eval(ctx context.Context, fn string, args ...any) (types.Envelope, error) {
	return s.Do(ctx, Request{Func: fn, Args: args, Class: codec.ClassEval})
}

// Command calls fn as a statement, discarding its results.
func (s *Session) Command(ctx context.Context, fn string, args ...any) error {
	env, err := s.Do(ctx, Request{Func: fn, Args: args, Class: codec.ClassStatement})
	if err != nil {
		return err
	}
	return codec.MapError(env)
}

// RunCommand calls a command-style fn returning (ok, output, status).
// A false ok surfaces as a command failure.
func (s *Session) RunCommand(ctx context.Context, fn string, args ...any) (codec.CommandResult, error) {
	return Call(ctx, s, Request{Func: fn, Args: args, Class: codec.ClassCommand}, codec.Command)
}

func (s *Session) exec(ctx context.Context, src string) (types.Envelope, error) {
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}

	select {
	case s.slots <- struct{}{}:
	case <-s.done:
		return types.Envelope{}, s.Err()
	case <-ctx.Done():
		s.metrics.IncCallCanceled()
		return types.Envelope{}, ctx.Err()
	}

	id := s.nextID.Add(1)
	w := &waiter{ch: make(chan reply, 1)}

	s.mu.Lock()
	if s.closed {
		err := s.err
		s.mu.Unlock()
		<-s.slots
		return types.Envelope{}, err
	}
	s.pending[id] = w
	s.mu.Unlock()

	payload, err := ipc.EncodeRequest(id, src)
	if err == nil {
		s.metrics.IncCallStarted()
		err = s.tr.Send(ctx, payload)
	}
	if err != nil {
		s.remove(id)
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Nothing was written.
			s.metrics.IncCallCanceled()
			return types.Envelope{}, err
		}
		lost := types.NewTransportDisconnected(err)
		s.fail(err)
		return types.Envelope{}, lost
	}

	s.logger.Debug("request sent", map[string]any{"id": id, "bytes": len(payload)})

	select {
	case r := <-w.ch:
		return s.settle(r)
	case <-ctx.Done():
	}

	s.mu.Lock()
	if _, ok := s.pending[id]; ok {
		w.abandoned = true
		s.mu.Unlock()
		s.metrics.IncCallCanceled()
		s.logger.Warn("call abandoned before reply", map[string]any{"id": id, "error": ctx.Err().Error()})
		return types.Envelope{}, fmt.Errorf("call %d: %w", id, ctx.Err())
	}
	s.mu.Unlock()
	// The reply won the race with cancellation.
	return s.settle(<-w.ch)
}

func (s *Session) settle(r reply) (types.Envelope, error) {
	if r.err != nil {
		if types.IsTypeMismatch(r.err) {
			s.metrics.IncTypeMismatch()
		}
		return types.Envelope{}, r.err
	}
	s.metrics.IncCallCompleted()
	if !r.env.OK {
		if r.env.Status != nil {
			s.metrics.IncCommandFailure()
		} else {
			s.metrics.IncRemoteError()
		}
	}
	return r.env, nil
}

// remove drops a pending entry and frees its slot.
func (s *Session) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		delete(s.pending, id)
		<-s.slots
	}
}

// fail ends the session with cause. It reports whether this call ended it.
func (s *Session) fail(cause error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.err = types.NewTransportDisconnected(cause)
	for id, w := range s.pending {
		delete(s.pending, id)
		if !w.abandoned {
			w.ch <- reply{err: s.err}
		}
		<-s.slots
	}
	s.mu.Unlock()

	close(s.done)
	_ = s.tr.Close()

	if !errors.Is(cause, errSessionClosed) {
		s.metrics.IncDisconnect()
		s.logger.Error("transport lost", map[string]any{"error": cause.Error()})
	}
	return true
}

func (s *Session) readLoop() {
	for {
		payload, err := s.tr.Recv()
		if err != nil {
			s.fail(err)
			return
		}

		msg, err := ipc.DecodeMessage(payload)
		if err != nil {
			s.metrics.IncDecodeError()
			s.logger.Warn("discarding undecodable message", map[string]any{"error": err.Error()})
			continue
		}

		switch m := msg.(type) {
		case *ipc.Hello:
			s.helloOnce.Do(func() {
				s.hello = m
				close(s.helloCh)
			})
			s.logger.Info("remote hello", map[string]any{
				"computer_id": m.ComputerID,
				"label":       m.Label,
				"protocol":    m.Protocol,
			})
		case *ipc.Response:
			env, derr := codec.DecodeEnvelope(m.Body)
			s.deliver(m.ID, reply{env: env, err: derr})
		default:
			s.metrics.IncDecodeError()
			s.logger.Warn("discarding unexpected message", map[string]any{"type": fmt.Sprintf("%T", msg)})
		}
	}
}

func (s *Session) deliver(id uint64, r reply) {
	s.mu.Lock()
	w, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
		<-s.slots
	}
	s.mu.Unlock()

	switch {
	case !ok:
		s.metrics.IncDecodeError()
		s.logger.Warn("reply for unknown request", map[string]any{"id": id})
	case w.abandoned:
		s.metrics.IncLateReply()
		s.logger.Debug("late reply discarded", map[string]any{"id": id})
	default:
		w.ch <- r
	}
}

package iox

import (
	"context"
	"errors"
	"testing"
)

type spyCloser struct {
	closed bool
	err    error
}

func (s *spyCloser) Close() error { s.closed = true; return s.err }

type spyContextCloser struct {
	ctxErr error
	err    error
}

func (s *spyContextCloser) Close(ctx context.Context) error {
	s.ctxErr = ctx.Err()
	return s.err
}

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestJoinClose(t *testing.T) {
	first := errors.New("work failed")
	closeErr := errors.New("close failed")

	err := first
	JoinClose(&err, &spyCloser{err: closeErr})
	if !errors.Is(err, first) || !errors.Is(err, closeErr) {
		t.Errorf("err = %v", err)
	}

	var none error
	JoinClose(&none, &spyCloser{})
	if none != nil {
		t.Errorf("err = %v, want nil", none)
	}
}

func TestJoinCloseContext_IgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &spyContextCloser{}
	var err error
	JoinCloseContext(ctx, &err, s)
	if s.ctxErr != nil {
		t.Errorf("close saw canceled context: %v", s.ctxErr)
	}
	if err != nil {
		t.Errorf("err = %v", err)
	}
}

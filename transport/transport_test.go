package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os/exec"
	"testing"
	"time"
)

func TestPipe_RoundTrip(t *testing.T) {
	a, b := Pipe()
	defer func() { _ = a.Close() }()
	defer func() { _ = b.Close() }()

	go func() {
		_ = a.Send(context.Background(), []byte("hello"))
	}()

	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Recv = %q, want %q", got, "hello")
	}
}

func TestStream_SendCanceledContext(t *testing.T) {
	a, b := Pipe()
	defer func() { _ = a.Close() }()
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Send(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Send err = %v, want context.Canceled", err)
	}
}

func TestStream_SendDeadline(t *testing.T) {
	a, b := Pipe()
	defer func() { _ = a.Close() }()
	defer func() { _ = b.Close() }()

	// Nobody reads b, so the write blocks until the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.Send(ctx, []byte("blocked"))
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("Send err = %v, want timeout", err)
	}
}

func TestStream_CloseIdempotent(t *testing.T) {
	a, b := Pipe()
	defer func() { _ = b.Close() }()
	if err := a.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if _, err := b.Recv(); err != io.EOF {
		t.Errorf("peer Recv = %v, want io.EOF", err)
	}
}

func TestDial_Loopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	defer func() { _ = ln.Close() }()

	accepted := make(chan *Stream, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- NewStream(conn)
	}()

	client, err := Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = client.Close() }()

	server := <-accepted
	defer func() { _ = server.Close() }()

	if err := client.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if !bytes.Equal(got, []byte("ping")) {
		t.Errorf("Recv = %q, want ping", got)
	}
}

func TestProcess_EchoInterpreter(t *testing.T) {
	cat, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available")
	}

	p, err := StartProcess(context.Background(), ProcessConfig{Path: cat})
	if err != nil {
		t.Fatalf("StartProcess failed: %v", err)
	}

	if err := p.Send(context.Background(), []byte("frame-1")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, err := p.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(got) != "frame-1" {
		t.Errorf("Recv = %q, want frame-1", got)
	}

	res, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestStartProcess_RequiresPath(t *testing.T) {
	if _, err := StartProcess(context.Background(), ProcessConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestDeduplicateEnv_LastWins(t *testing.T) {
	got := deduplicateEnv([]string{"A=1", "B=2", "A=3"})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(got), got)
	}
	if got[0] != "B=2" || got[1] != "A=3" {
		t.Errorf("deduplicateEnv = %v, want [B=2 A=3]", got)
	}
}

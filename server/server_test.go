package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/TheKidThatCodes/ccbridge/adapter"
	"github.com/TheKidThatCodes/ccbridge/adapter/webhook"
	"github.com/TheKidThatCodes/ccbridge/bundle"
	"github.com/TheKidThatCodes/ccbridge/compiler"
	"github.com/TheKidThatCodes/ccbridge/ipc"
	"github.com/TheKidThatCodes/ccbridge/metrics"
	"github.com/TheKidThatCodes/ccbridge/remotetest"
	"github.com/TheKidThatCodes/ccbridge/sandbox"
	"github.com/TheKidThatCodes/ccbridge/types"
)

type recordingAdapter struct {
	events chan *adapter.ScriptCompletedEvent
}

func newRecordingAdapter() *recordingAdapter {
	return &recordingAdapter{events: make(chan *adapter.ScriptCompletedEvent, 4)}
}

func (a *recordingAdapter) Publish(_ context.Context, e *adapter.ScriptCompletedEvent) error {
	a.events <- e
	return nil
}

func (a *recordingAdapter) Close() error { return nil }

func (a *recordingAdapter) next(t *testing.T) *adapter.ScriptCompletedEvent {
	t.Helper()
	select {
	case e := <-a.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no event published")
		return nil
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeProgram(t *testing.T, src string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "main.lua")
	if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func startServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

// connect dials /ws and lets it answer requests on the connection.
func connect(t *testing.T, ts *httptest.Server, it *remotetest.Interpreter) <-chan error {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- it.Serve(NewWebSocket(conn)) }()
	return done
}

func TestNew_RequiresProgram(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestServer_ClientBundle(t *testing.T) {
	_, ts := startServer(t, Config{Program: "unused.lua"})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !bytes.Equal(body, bundle.Client()) {
		t.Error("body differs from embedded client")
	}
	if got := resp.Header.Get(ChecksumHeader); got != bundle.Checksum() {
		t.Errorf("checksum header = %q", got)
	}
	if got := resp.Header.Get(ProtocolHeader); got != types.ProtocolVersion {
		t.Errorf("protocol header = %q", got)
	}
}

func TestServer_RunsProgram(t *testing.T) {
	events := newRecordingAdapter()
	out := &lockedBuffer{}
	m := metrics.NewCollector("websocket", "")
	_, ts := startServer(t, Config{
		Program: writeProgram(t, `print("id", cc.call("os.getComputerID"))`),
		Adapter: events,
		Stdout:  out,
		Metrics: m,
	})

	it := remotetest.New()
	it.ComputerID = 7
	it.Label = "miner"
	done := connect(t, ts, it)

	e := events.next(t)
	if e.Outcome != adapter.OutcomeSuccess || e.Error != "" {
		t.Fatalf("event = %+v", e)
	}
	if e.ComputerID != 7 || e.Label != "miner" || e.Calls != 1 {
		t.Errorf("event = %+v", e)
	}
	if e.EventType != adapter.EventType || e.SessionID == "" || !strings.HasSuffix(e.Script, "main.lua") {
		t.Errorf("event = %+v", e)
	}
	if got := out.String(); got != "id\t7\n" {
		t.Errorf("output = %q", got)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("client: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not hang up")
	}

	snap := m.Snapshot()
	if snap.SessionsOpened != 1 || snap.ScriptsCompleted != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestServer_Handler(t *testing.T) {
	events := newRecordingAdapter()
	_, ts := startServer(t, Config{
		Adapter: events,
		Handler: func(ctx context.Context, c *Conn) error {
			ok, err := c.Sandbox.IsTurtle(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("not a turtle")
			}
			return nil
		},
	})

	it := remotetest.New()
	it.Turtle = true
	connect(t, ts, it)

	e := events.next(t)
	if e.Outcome != adapter.OutcomeSuccess || e.Script != "handler" {
		t.Errorf("event = %+v", e)
	}
}

func TestServer_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		program string
		want    string
	}{
		{"compile error", "x = = 1", adapter.OutcomeCompileError},
		{"script error", "error('boom', 0)", adapter.OutcomeScriptError},
		{"remote error", `cc.eval("error('remote boom', 0)")`, adapter.OutcomeRemoteError},
		{"timeout", "while true do end", adapter.OutcomeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := newRecordingAdapter()
			_, ts := startServer(t, Config{
				Program:       writeProgram(t, tt.program),
				Adapter:       events,
				ScriptTimeout: 200 * time.Millisecond,
			})
			connect(t, ts, remotetest.New())

			e := events.next(t)
			if e.Outcome != tt.want {
				t.Errorf("outcome = %q, want %q (error %q)", e.Outcome, tt.want, e.Error)
			}
			if e.Error == "" {
				t.Error("error not recorded")
			}
		})
	}
}

func TestServer_ProtocolMismatch(t *testing.T) {
	events := newRecordingAdapter()
	_, ts := startServer(t, Config{
		Handler: func(context.Context, *Conn) error { return nil },
		Adapter: events,
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	hello, err := msgpack.Marshal(&ipc.Hello{Type: ipc.TypeHello, Protocol: "99", ComputerID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, hello); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read = %v, want normal close", err)
	}
	select {
	case e := <-events.events:
		t.Errorf("unexpected event %+v", e)
	default:
	}
}

func TestServer_Stats(t *testing.T) {
	m := metrics.NewCollector("websocket", "127.0.0.1:0")
	m.IncSessionOpened()
	_, ts := startServer(t, Config{Program: "unused.lua", Metrics: m})

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.SessionsOpened != 1 || snap.Transport != "websocket" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestServer_PublishesThroughWebhook(t *testing.T) {
	got := make(chan adapter.ScriptCompletedEvent, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e adapter.ScriptCompletedEvent
		_ = json.NewDecoder(r.Body).Decode(&e)
		got <- e
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	wh, err := webhook.New(webhook.Config{URL: hook.URL})
	if err != nil {
		t.Fatal(err)
	}
	_, ts := startServer(t, Config{
		Program: writeProgram(t, "local x = 1"),
		Adapter: wh,
	})
	connect(t, ts, remotetest.New())

	select {
	case e := <-got:
		if e.Outcome != adapter.OutcomeSuccess {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, adapter.OutcomeSuccess},
		{fmt.Errorf("load: %w", &compiler.Error{Kind: compiler.KindSyntax}), adapter.OutcomeCompileError},
		{&sandbox.ScriptError{Module: "m", Message: "x", Err: context.DeadlineExceeded}, adapter.OutcomeTimeout},
		{&types.Error{Kind: types.KindTransportDisconnected}, adapter.OutcomeDisconnected},
		{&sandbox.ScriptError{Module: "m", Message: "x", Err: &types.Error{Kind: types.KindCommandFailure}}, adapter.OutcomeRemoteError},
		{errors.New("other"), adapter.OutcomeScriptError},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// Package server is the endpoint computers connect to.
//
// A computer fetches the client program from GET /, runs it, and the
// client dials back on GET /ws. Every websocket connection becomes one
// session: the server waits for the client's hello, runs the configured
// host program against the computer in a fresh sandbox, publishes a
// script completion event and hangs up.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/TheKidThatCodes/ccbridge/adapter"
	"github.com/TheKidThatCodes/ccbridge/bundle"
	"github.com/TheKidThatCodes/ccbridge/compiler"
	"github.com/TheKidThatCodes/ccbridge/ipc"
	"github.com/TheKidThatCodes/ccbridge/log"
	"github.com/TheKidThatCodes/ccbridge/metrics"
	"github.com/TheKidThatCodes/ccbridge/sandbox"
	"github.com/TheKidThatCodes/ccbridge/session"
	"github.com/TheKidThatCodes/ccbridge/transport"
	"github.com/TheKidThatCodes/ccbridge/types"
)

// Response headers on GET /.
const (
	ChecksumHeader = "X-Ccbridge-Checksum"
	ProtocolHeader = "X-Ccbridge-Protocol"
)

const (
	// DefaultHelloTimeout bounds the wait for a client's hello.
	DefaultHelloTimeout = 10 * time.Second
	// publishTimeout bounds one adapter publish.
	publishTimeout = 30 * time.Second
	// shutdownTimeout bounds graceful HTTP shutdown.
	shutdownTimeout = 5 * time.Second
)

// Conn is one connected computer.
type Conn struct {
	Session *session.Session
	Sandbox *sandbox.Sandbox
	Hello   *ipc.Hello
}

// Handler runs host logic against a connected computer.
type Handler func(ctx context.Context, c *Conn) error

// Config configures a Server.
type Config struct {
	// Program is the host script run for each connection.
	Program string
	// Handler replaces Program when set.
	Handler Handler
	// Session options for each connection. Logger and Metrics are
	// filled in from the server.
	Session session.Options
	// ScriptTimeout bounds each program run when positive.
	ScriptTimeout time.Duration
	// HelloTimeout bounds the wait for the client's hello.
	// Zero means DefaultHelloTimeout.
	HelloTimeout time.Duration
	// Stdout receives print output from programs. Nil discards it.
	Stdout io.Writer
	// Adapter receives a completion event per connection. Optional.
	Adapter adapter.Adapter
	// Logger receives server events. Nil discards them.
	Logger *log.Logger
	// Metrics receives counters and backs GET /stats. Nil is allowed.
	Metrics *metrics.Collector
}

// Server serves the client program and accepts computer connections.
type Server struct {
	cfg      Config
	logger   *log.Logger
	stdout   io.Writer
	upgrader websocket.Upgrader
	router   chi.Router

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a server from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Program == "" && cfg.Handler == nil {
		return nil, errors.New("server needs a program or a handler")
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		logger: logger,
		stdout: &syncWriter{w: stdout},
		upgrader: websocket.Upgrader{
			// Computers are not browsers; there is no origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleClient)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/stats", s.handleStats)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// and waits for running programs to stop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("server listening", map[string]any{"addr": ln.Addr().String()})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	s.logger.Info("server stopped", nil)
	return err
}

// Close cancels running programs and waits for their connections to end.
// Hijacked websocket connections are not covered by http.Server.Shutdown.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleClient(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/x-lua; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(bundle.Size()))
	w.Header().Set(ChecksumHeader, bundle.Checksum())
	w.Header().Set(ProtocolHeader, bundle.Version())
	_, _ = w.Write(bundle.Client())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.cfg.Metrics.Snapshot())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.ServeTransport(s.ctx, NewWebSocket(conn), r.RemoteAddr)
}

// ServeTransport runs one connection over tr until the program finishes.
// It owns tr.
func (s *Server) ServeTransport(ctx context.Context, tr transport.Transport, remote string) {
	opts := s.cfg.Session
	opts.Logger = s.logger.With(map[string]any{"remote": remote})
	opts.Metrics = s.cfg.Metrics
	sess := session.New(tr, opts)
	defer func() { _ = sess.Close() }()
	logger := sess.Logger()

	helloCtx, cancel := context.WithTimeout(ctx, s.cfg.HelloTimeout)
	hello, err := sess.WaitHello(helloCtx)
	cancel()
	if err != nil {
		logger.Warn("no hello from client", map[string]any{"error": err.Error()})
		return
	}
	if hello.Protocol != types.ProtocolVersion {
		logger.Warn("client protocol mismatch", map[string]any{
			"client":   hello.Protocol,
			"expected": types.ProtocolVersion,
		})
		return
	}
	logger = logger.With(map[string]any{"computer_id": hello.ComputerID})
	logger.Info("computer connected", map[string]any{"label": hello.Label})

	sb := sandbox.New(sess, sandbox.Options{
		Stdout:        s.stdout,
		ScriptTimeout: s.cfg.ScriptTimeout,
		Logger:        logger,
		Metrics:       s.cfg.Metrics,
	})

	start := time.Now()
	runErr := s.run(ctx, &Conn{Session: sess, Sandbox: sb, Hello: hello})
	if cerr := sb.Close(); cerr != nil && runErr == nil {
		runErr = cerr
	}

	event := &adapter.ScriptCompletedEvent{
		ProtocolVersion: types.ProtocolVersion,
		EventType:       adapter.EventType,
		SessionID:       sess.ID(),
		ComputerID:      hello.ComputerID,
		Label:           hello.Label,
		Script:          s.scriptName(),
		Outcome:         Outcome(runErr),
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		Calls:           sess.Calls(),
		DurationMs:      time.Since(start).Milliseconds(),
	}
	if runErr != nil {
		event.Error = runErr.Error()
		logger.Warn("program failed", map[string]any{"outcome": event.Outcome, "error": event.Error})
	} else {
		logger.Info("program finished", map[string]any{"duration_ms": event.DurationMs, "calls": event.Calls})
	}
	s.publish(ctx, event, logger)
}

func (s *Server) run(ctx context.Context, c *Conn) error {
	if s.cfg.Handler != nil {
		return s.cfg.Handler(ctx, c)
	}
	_, err := c.Sandbox.RunFile(ctx, s.cfg.Program)
	return err
}

func (s *Server) scriptName() string {
	if s.cfg.Program != "" {
		return s.cfg.Program
	}
	return "handler"
}

func (s *Server) publish(ctx context.Context, event *adapter.ScriptCompletedEvent, logger *log.Logger) {
	if s.cfg.Adapter == nil {
		return
	}
	// Publish even when the server is stopping.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.cfg.Adapter.Publish(ctx, event); err != nil {
		logger.Error("publish failed", map[string]any{"error": err.Error()})
	}
}

// Outcome classifies a program result for a completion event.
func Outcome(err error) string {
	var compileErr *compiler.Error
	switch {
	case err == nil:
		return adapter.OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded):
		return adapter.OutcomeTimeout
	case types.IsTransportDisconnected(err):
		return adapter.OutcomeDisconnected
	case errors.As(err, &compileErr):
		return adapter.OutcomeCompileError
	case types.IsRemoteRuntime(err):
		return adapter.OutcomeRemoteError
	default:
		return adapter.OutcomeScriptError
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request", map[string]any{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// syncWriter serializes print output from concurrent programs.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

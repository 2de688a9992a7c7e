package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/TheKidThatCodes/ccbridge/bundle"
	"github.com/TheKidThatCodes/ccbridge/cli/config"
	"github.com/TheKidThatCodes/ccbridge/ipc"
	"github.com/TheKidThatCodes/ccbridge/log"
	"github.com/TheKidThatCodes/ccbridge/metrics"
	"github.com/TheKidThatCodes/ccbridge/sandbox"
	"github.com/TheKidThatCodes/ccbridge/server"
	"github.com/TheKidThatCodes/ccbridge/session"
	"github.com/TheKidThatCodes/ccbridge/transport"
)

// clientPlaceholder in interpreter arguments expands to the extracted
// client program path.
const clientPlaceholder = "{client}"

// processExitGrace bounds the wait for an interpreter process to exit
// after its stdin is closed.
const processExitGrace = 3 * time.Second

// remote is an open session to an interpreter started or dialed by the CLI.
type remote struct {
	sess    *session.Session
	hello   *ipc.Hello
	proc    *transport.Process
	logger  *log.Logger
	metrics *metrics.Collector
}

// newLogger returns a stderr logger when verbose, otherwise a no-op one.
func newLogger(c *cli.Context, remote string) *log.Logger {
	if !c.Bool("verbose") {
		return log.NewNop()
	}
	return log.NewLogger(log.Context{Remote: remote})
}

// interpreterArgv resolves the interpreter command line.
func interpreterArgv(ic config.InterpreterConfig) ([]string, error) {
	argv := append(strings.Fields(ic.Command), ic.Args...)
	if len(argv) == 0 {
		return nil, errors.New("no interpreter configured (use --interpreter, --addr or interpreter in the config file)")
	}
	for i, a := range argv {
		if !strings.Contains(a, clientPlaceholder) {
			continue
		}
		path, err := bundle.ExtractedPath()
		if err != nil {
			return nil, err
		}
		argv[i] = strings.ReplaceAll(a, clientPlaceholder, path)
	}
	return argv, nil
}

// dial opens a transport to the configured interpreter.
func dial(ctx context.Context, ic config.InterpreterConfig) (transport.Transport, *transport.Process, string, error) {
	if ic.Addr != "" {
		tr, err := transport.Dial(ctx, ic.Addr)
		if err != nil {
			return nil, nil, "", fmt.Errorf("dial interpreter %s: %w", ic.Addr, err)
		}
		return tr, nil, ic.Addr, nil
	}
	argv, err := interpreterArgv(ic)
	if err != nil {
		return nil, nil, "", err
	}
	proc, err := transport.StartProcess(ctx, transport.ProcessConfig{
		Path: argv[0],
		Args: argv[1:],
		Env:  ic.Env,
		Dir:  ic.Dir,
	})
	if err != nil {
		return nil, nil, "", err
	}
	return proc, proc, argv[0], nil
}

// connect opens a session and waits for the interpreter's hello.
func connect(ctx context.Context, c *cli.Context, cfg *config.Config) (*remote, error) {
	tr, proc, name, err := dial(ctx, cfg.Interpreter)
	if err != nil {
		return nil, err
	}
	logger := newLogger(c, name)
	m := metrics.NewCollector("stream", "")

	r := &remote{
		sess: session.New(tr, session.Options{
			MaxInFlight: cfg.Session.MaxInFlight,
			CallTimeout: cfg.Session.CallTimeout.Duration,
			Logger:      logger,
			Metrics:     m,
		}),
		proc:    proc,
		logger:  logger,
		metrics: m,
	}

	helloTimeout := cfg.Session.HelloTimeout.Duration
	if helloTimeout <= 0 {
		helloTimeout = server.DefaultHelloTimeout
	}
	hctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()
	hello, err := r.sess.WaitHello(hctx)
	if err != nil {
		herr := fmt.Errorf("waiting for interpreter hello: %w", err)
		if stderr := r.stderr(); stderr != "" {
			herr = fmt.Errorf("%w\ninterpreter stderr:\n%s", herr, stderr)
		}
		_ = r.Close()
		return nil, herr
	}
	r.hello = hello
	r.logger.Info("interpreter connected", map[string]any{
		"computer_id": hello.ComputerID,
		"label":       hello.Label,
		"protocol":    hello.Protocol,
	})
	return r, nil
}

// newSandbox builds a sandbox on the session.
func (r *remote) newSandbox(cfg *config.Config, stdout io.Writer) *sandbox.Sandbox {
	return sandbox.New(r.sess, sandbox.Options{
		Stdout:         stdout,
		ScriptTimeout:  cfg.Sandbox.ScriptTimeout.Duration,
		MaxImportDepth: cfg.Sandbox.MaxImportDepth,
		Logger:         r.logger,
		Metrics:        r.metrics,
	})
}

func (r *remote) stderr() string {
	if r.proc == nil {
		return ""
	}
	return strings.TrimSpace(string(r.proc.Stderr()))
}

// Close ends the session and reaps the interpreter process.
func (r *remote) Close() error {
	_ = r.sess.Close()
	if r.proc == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := r.proc.Wait()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(processExitGrace):
		_ = r.proc.Kill()
		return <-done
	}
}

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// maxStderrCapture bounds how much interpreter stderr is retained.
const maxStderrCapture = 64 * 1024

// ProcessConfig configures an interpreter child process.
type ProcessConfig struct {
	// Path is the interpreter executable.
	Path string
	// Args are passed to the interpreter.
	Args []string
	// Env holds extra KEY=VALUE entries. They override inherited values.
	Env []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
}

// ProcessResult is the outcome of an interpreter process.
type ProcessResult struct {
	// ExitCode is the process exit code.
	ExitCode int
	// StderrBytes is the captured stderr output (bounded).
	StderrBytes []byte
}

// Process is a Transport over the stdin/stdout of an interpreter process
// running the client program in stdio mode.
type Process struct {
	*Stream

	config ProcessConfig
	cmd    *exec.Cmd

	stderrDone chan struct{}
	stderrMu   sync.Mutex
	stderrBuf  bytes.Buffer
}

// pipeConn joins the child's stdout and stdin into one stream.
type pipeConn struct {
	io.Reader
	io.WriteCloser
}

// StartProcess launches the interpreter and returns a transport over its stdio.
// Stderr is captured for diagnostics.
func StartProcess(ctx context.Context, cfg ProcessConfig) (*Process, error) {
	if cfg.Path == "" {
		return nil, errors.New("interpreter path is required")
	}

	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = deduplicateEnv(append(os.Environ(), cfg.Env...))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start interpreter: %w", err)
	}

	p := &Process{
		Stream:     NewStream(pipeConn{Reader: stdout, WriteCloser: stdin}),
		config:     cfg,
		cmd:        cmd,
		stderrDone: make(chan struct{}),
	}
	go p.captureStderr(stderr)
	return p, nil
}

func (p *Process) captureStderr(r io.Reader) {
	defer close(p.stderrDone)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.stderrMu.Lock()
			if room := maxStderrCapture - p.stderrBuf.Len(); room > 0 {
				if n > room {
					n = room
				}
				p.stderrBuf.Write(buf[:n])
			}
			p.stderrMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Stderr returns the stderr captured so far.
func (p *Process) Stderr() []byte {
	p.stderrMu.Lock()
	defer p.stderrMu.Unlock()
	return bytes.Clone(p.stderrBuf.Bytes())
}

// Wait closes stdin, waits for the interpreter to exit and returns the result.
func (p *Process) Wait() (*ProcessResult, error) {
	_ = p.Stream.Close()
	<-p.stderrDone

	err := p.cmd.Wait()
	result := &ProcessResult{StderrBytes: p.Stderr()}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				result.ExitCode = status.ExitStatus()
			} else {
				result.ExitCode = -1
			}
		} else {
			return nil, fmt.Errorf("interpreter wait failed: %w", err)
		}
	}

	return result, nil
}

// Kill terminates the interpreter process.
func (p *Process) Kill() error {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// deduplicateEnv keeps the last occurrence of each env var key,
// so configured values win over inherited ones.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}

// Verify Process implements Transport.
var _ Transport = (*Process)(nil)

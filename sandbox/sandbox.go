// Package sandbox runs untrusted host-side Lua scripts against a remote
// interpreter.
//
// Scripts are compiled by the compiler package and executed in a
// gopher-lua state that only exposes a curated builtins table and the cc
// capability table. Every module runs in its own environment table whose
// lookups fall through to the builtins, and every module gets its own
// compiler so feature directives never leak between modules.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/TheKidThatCodes/ccbridge/codec"
	"github.com/TheKidThatCodes/ccbridge/compiler"
	"github.com/TheKidThatCodes/ccbridge/log"
	"github.com/TheKidThatCodes/ccbridge/metrics"
	"github.com/TheKidThatCodes/ccbridge/session"
	"github.com/TheKidThatCodes/ccbridge/types"
)

// DefaultMaxImportDepth bounds nested cc.import calls.
const DefaultMaxImportDepth = 16

// FileGlobal holds the module path inside a module environment.
const FileGlobal = "_FILE"

// allowedBase are the base library functions copied into the builtins.
var allowedBase = []string{
	"assert", "error", "ipairs", "next", "pairs", "pcall", "rawequal",
	"select", "tonumber", "tostring", "type", "unpack", "xpcall",
}

// allowedLibs are the libraries copied into the builtins.
var allowedLibs = []string{lua.StringLibName, lua.TabLibName, lua.MathLibName}

// Options configures a Sandbox.
type Options struct {
	// Stdout receives print output. Nil discards it.
	Stdout io.Writer
	// ScriptTimeout bounds each top-level execution when positive.
	ScriptTimeout time.Duration
	// MaxImportDepth bounds nested imports. Zero means DefaultMaxImportDepth.
	MaxImportDepth int
	// Logger receives load events. Nil discards them.
	Logger *log.Logger
	// Metrics receives script and compile counters. Nil is allowed.
	Metrics *metrics.Collector
}

// Module is an executed module.
type Module struct {
	// Path is the path the module was loaded from.
	Path string
	// Env holds the module's globals.
	Env *lua.LTable
	// Values are the values the module chunk returned.
	Values []lua.LValue
}

// Get returns a global defined by the module, or lua.LNil.
func (m *Module) Get(name string) lua.LValue {
	return m.Env.RawGetString(name)
}

// ScriptError is a runtime failure inside a script.
type ScriptError struct {
	Module  string
	Message string
	// Err is the Go error behind the failure when the script raised it
	// through a cc call, or the context error on timeout.
	Err error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Module, e.Message)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// closer is a remote handle held by a script.
type closer interface {
	Close(ctx context.Context) error
}

// raised records the last Go error turned into a Lua error.
type raised struct {
	msg string
	err error
}

// Sandbox is a restricted execution environment bound to one caller.
// Methods are safe for concurrent use; executions are serialized.
type Sandbox struct {
	caller session.Caller
	opts   Options
	logger *log.Logger

	mu       sync.Mutex
	L        *lua.LState
	builtins *lua.LTable
	proxies  map[*lua.LTable]*lua.LTable
	depth    int
	handles  []closer
	last     *raised
	closed   bool
}

// New builds a sandbox that sends remote calls through caller.
func New(caller session.Caller, opts Options) *Sandbox {
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.MaxImportDepth <= 0 {
		opts.MaxImportDepth = DefaultMaxImportDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Sandbox{
		caller: caller,
		opts:   opts,
		logger: logger,
		L:      lua.NewState(lua.Options{SkipOpenLibs: true}),
	}
	s.openLibs()
	s.builtins = s.buildBuiltins()
	return s
}

func (s *Sandbox) openLibs() {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		s.L.Push(s.L.NewFunction(lib.fn))
		s.L.Push(lua.LString(lib.name))
		s.L.Call(1, 0)
	}
}

func (s *Sandbox) buildBuiltins() *lua.LTable {
	L := s.L
	b := L.NewTable()
	for _, name := range allowedBase {
		b.RawSetString(name, L.GetGlobal(name))
	}
	for _, name := range allowedLibs {
		src, ok := L.GetGlobal(name).(*lua.LTable)
		if !ok {
			continue
		}
		dst := L.NewTable()
		src.ForEach(func(k, v lua.LValue) { dst.RawSet(k, v) })
		b.RawSetString(name, s.readOnly(name, dst))
	}
	nextFn := L.GetGlobal("next")
	b.RawSetString("pairs", L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		if backing, ok := s.proxies[t]; ok {
			t = backing
		}
		L.Push(nextFn)
		L.Push(t)
		L.Push(lua.LNil)
		return 3
	}))
	b.RawSetString("print", L.NewFunction(s.luaPrint))
	// Directives are handled by the compiler; at run time they do nothing.
	b.RawSetString("feature", L.NewFunction(func(*lua.LState) int { return 0 }))
	b.RawSetString("cc", s.readOnly("cc", s.ccTable()))
	return b
}

// readOnly returns a proxy for t whose assignments raise, so one module
// cannot change the capabilities another module sees. The builtin pairs
// iterates the backing table of a proxy.
func (s *Sandbox) readOnly(name string, t *lua.LTable) *lua.LTable {
	L := s.L
	proxy := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", t)
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("attempt to modify read-only table '%s'", name)
		return 0
	}))
	mt.RawSetString("__metatable", lua.LFalse)
	L.SetMetatable(proxy, mt)
	if s.proxies == nil {
		s.proxies = make(map[*lua.LTable]*lua.LTable)
	}
	s.proxies[proxy] = t
	return proxy
}

// BuiltinNames returns the names visible to every module.
func (s *Sandbox) BuiltinNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	s.builtins.ForEach(func(k, _ lua.LValue) {
		names = append(names, k.String())
	})
	return names
}

// NewEnv returns a fresh module environment backed by the builtins.
func (s *Sandbox) NewEnv() *lua.LTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newEnv()
}

func (s *Sandbox) newEnv() *lua.LTable {
	env := s.L.NewTable()
	mt := s.L.NewTable()
	mt.RawSetString("__index", s.builtins)
	s.L.SetMetatable(env, mt)
	return env
}

// Close releases any remote handles scripts left open and the Lua state.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.releaseHandles(context.Background())
	s.L.Close()
	return err
}

// RunSource compiles and executes source as a module named name.
func (s *Sandbox) RunSource(ctx context.Context, source, name string) (*Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("sandbox closed")
	}
	return s.load(ctx, source, name)
}

// RunFile executes a script from the host file system.
func (s *Sandbox) RunFile(ctx context.Context, path string) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return s.RunSource(ctx, string(src), path)
}

// ImportFile fetches a module from the remote file system and executes it.
// With relativeTo set, path is resolved against the directory of
// relativeTo using the remote path rules. A missing path or a directory
// fails with a file-not-found error.
func (s *Sandbox) ImportFile(ctx context.Context, path, relativeTo string) (*Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("sandbox closed")
	}
	return s.importFile(ctx, path, relativeTo)
}

func (s *Sandbox) importFile(ctx context.Context, path, relativeTo string) (*Module, error) {
	if s.depth >= s.opts.MaxImportDepth {
		return nil, fmt.Errorf("import %s: nested imports exceed depth %d", path, s.opts.MaxImportDepth)
	}
	src, resolved, err := fetchSource(ctx, s.caller, path, relativeTo)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	return s.load(ctx, src, resolved)
}

// fetchSource reads a remote file in one round trip.
func fetchSource(ctx context.Context, c session.Caller, path, relativeTo string) (string, string, error) {
	pathExpr := codec.Quote(path)
	if relativeTo != "" {
		pathExpr = fmt.Sprintf("fs.combine(fs.getDir(%s), %s)", codec.Quote(relativeTo), pathExpr)
	}
	src := "local p = " + pathExpr + "\n" +
		"if not fs.exists(p) or fs.isDir(p) then return nil end\n" +
		"local f = fs.open(p, \"r\")\n" +
		"local src = f.readAll()\n" +
		"f.close()\n" +
		"return src, p"

	vals, err := session.Call(ctx, c, session.Request{Source: src}, codec.Values)
	if err != nil {
		return "", "", err
	}
	if len(vals) == 0 || vals[0] == nil {
		return "", "", types.NewFileNotFound(path)
	}
	text, ok := vals[0].(string)
	if !ok {
		return "", "", types.NewTypeMismatch("module source is %s, want string", types.KindOf(vals[0]))
	}
	resolved := path
	if len(vals) > 1 {
		if p, ok := vals[1].(string); ok {
			resolved = p
		}
	}
	return text, resolved, nil
}

// load compiles source in exec mode with a fresh compiler and runs it in
// a fresh environment. Handles the module leaves open are released when
// the outermost load returns.
func (s *Sandbox) load(ctx context.Context, source, name string) (mod *Module, err error) {
	start := time.Now()
	s.opts.Metrics.IncScriptStarted()

	if s.depth == 0 {
		defer func() {
			if rerr := s.releaseHandles(ctx); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}

	comp := compiler.New()
	comp.Metrics = s.opts.Metrics
	res, err := comp.Compile(source, name, compiler.ModeExec)
	if err != nil {
		s.opts.Metrics.IncScriptFailed()
		return nil, err
	}
	switch res.Status {
	case compiler.Invalid:
		s.opts.Metrics.IncScriptFailed()
		s.logger.Warn("module rejected", map[string]any{"module": name, "error": res.Err.Error()})
		return nil, fmt.Errorf("load %s: %w", name, res.Err)
	case compiler.AwaitingMore:
		s.opts.Metrics.IncScriptFailed()
		err := &compiler.Error{Kind: compiler.KindSyntax, Name: name, Message: "unexpected end of module", AtEOF: true}
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	for _, w := range res.Unit.Warnings {
		s.logger.Warn("compile warning", map[string]any{"module": name, "line": w.Line, "warning": w.Message})
	}

	env := s.newEnv()
	env.RawSetString(FileGlobal, lua.LString(name))
	vals, err := s.run(ctx, res.Unit, env)
	if err != nil {
		s.opts.Metrics.IncScriptFailed()
		s.logger.Warn("module failed", map[string]any{"module": name, "error": err.Error()})
		return nil, err
	}

	s.opts.Metrics.IncScriptCompleted()
	s.logger.Info("module loaded", map[string]any{
		"module":      name,
		"features":    res.Unit.Features.String(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return &Module{Path: name, Env: env, Values: vals}, nil
}

// run executes a compiled unit in env and returns its results.
// Nested runs (imports from a running script) inherit the running
// script's context; the outermost run applies ScriptTimeout.
func (s *Sandbox) run(ctx context.Context, unit *compiler.Unit, env *lua.LTable) ([]lua.LValue, error) {
	L := s.L
	if s.depth == 0 {
		s.last = nil
	}
	if s.depth == 0 && s.opts.ScriptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ScriptTimeout)
		defer cancel()
	}

	prev := L.Context()
	L.SetContext(ctx)
	s.depth++
	defer func() {
		s.depth--
		if prev != nil {
			L.SetContext(prev)
		} else {
			L.RemoveContext()
		}
	}()

	fn := L.NewFunctionFromProto(unit.Proto)
	fn.Env = env

	top := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(top)
		return nil, s.scriptError(ctx, unit.Name, err)
	}
	n := L.GetTop() - top
	vals := make([]lua.LValue, n)
	for i := range vals {
		vals[i] = L.Get(top + 1 + i)
	}
	L.SetTop(top)
	return vals, nil
}

func (s *Sandbox) scriptError(ctx context.Context, name string, err error) error {
	se := &ScriptError{Module: name, Message: err.Error()}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		se.Message = apiErr.Object.String()
		if s.last != nil && s.last.msg == se.Message {
			se.Err = s.last.err
		}
	}
	if se.Err == nil && ctx.Err() != nil {
		se.Err = ctx.Err()
	}
	s.last = nil
	return se
}

// raise aborts the running Lua function with err.
func (s *Sandbox) raise(L *lua.LState, err error) int {
	msg := err.Error()
	s.last = &raised{msg: msg, err: err}
	L.Error(lua.LString(msg), 0)
	return 0
}

func (s *Sandbox) track(h closer) {
	s.handles = append(s.handles, h)
}

func (s *Sandbox) releaseHandles(ctx context.Context) error {
	var errs []error
	for _, h := range s.handles {
		errs = append(errs, h.Close(ctx))
	}
	s.handles = nil
	return errors.Join(errs...)
}

func (s *Sandbox) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	buf := make([]byte, 0, 64)
	for i := 1; i <= n; i++ {
		if i > 1 {
			buf = append(buf, '\t')
		}
		buf = append(buf, L.ToStringMeta(L.Get(i)).String()...)
	}
	buf = append(buf, '\n')
	_, _ = s.opts.Stdout.Write(buf)
	return 0
}

// probe runs a single-round-trip boolean query.
func probe(ctx context.Context, c session.Caller, global string) (bool, error) {
	return session.Call(ctx, c, session.Request{Source: "return " + global + " ~= nil"}, codec.Bool)
}

// IsCommands reports whether the remote computer is a command computer.
func (s *Sandbox) IsCommands(ctx context.Context) (bool, error) {
	return probe(ctx, s.caller, "commands")
}

// IsMultishell reports whether the remote computer runs multishell.
func (s *Sandbox) IsMultishell(ctx context.Context) (bool, error) {
	return probe(ctx, s.caller, "multishell")
}

// IsTurtle reports whether the remote computer is a turtle.
func (s *Sandbox) IsTurtle(ctx context.Context) (bool, error) {
	return probe(ctx, s.caller, "turtle")
}

// IsPocket reports whether the remote computer is a pocket computer.
func (s *Sandbox) IsPocket(ctx context.Context) (bool, error) {
	return probe(ctx, s.caller, "pocket")
}

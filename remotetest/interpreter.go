// Package remotetest provides an in-process remote interpreter for tests.
//
// Interpreter speaks the bridge wire protocol over any transport and runs
// each received chunk in one persistent gopher-lua state, the way the
// device client does. It models the parts of the device API the bridge
// relies on: the temp table, an in-memory fs with file handles, and
// optional commands, turtle, pocket and multishell globals.
package remotetest

import (
	"context"
	"errors"
	"io"
	"math"
	"path"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/TheKidThatCodes/ccbridge/ipc"
	"github.com/TheKidThatCodes/ccbridge/transport"
)

// CommandFunc answers commands.exec calls.
type CommandFunc func(cmd string) (ok bool, lines []string, status int)

// Interpreter is a fake remote computer.
// Configure the exported fields before calling Serve or Pipe.
type Interpreter struct {
	ComputerID int64
	Label      string
	Turtle     bool
	Pocket     bool
	Multishell bool
	// Commands installs a commands global when set.
	Commands CommandFunc
	// NoHello suppresses the hello message.
	NoHello bool
	// BeforeReply runs on the serving goroutine after a chunk ran and
	// before its reply is sent.
	BeforeReply func(id uint64, src string)

	mu          sync.Mutex
	files       map[string]string
	dirs        map[string]bool
	sources     []string
	openHandles int
	released    int
}

// New returns an interpreter with an empty file system.
func New() *Interpreter {
	return &Interpreter{
		ComputerID: 1,
		files:      make(map[string]string),
		dirs:       make(map[string]bool),
	}
}

// WriteFile stores a file on the fake file system.
func (i *Interpreter) WriteFile(p, content string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.files[clean(p)] = content
}

// MkDir creates a directory on the fake file system.
func (i *Interpreter) MkDir(p string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dirs[clean(p)] = true
}

// File returns the contents of a file.
func (i *Interpreter) File(p string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	content, ok := i.files[clean(p)]
	return content, ok
}

// Sources returns every chunk received so far, in order.
func (i *Interpreter) Sources() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.sources...)
}

// OpenHandles returns the number of file handles not yet closed.
func (i *Interpreter) OpenHandles() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.openHandles
}

// Released returns the number of handle close operations performed.
func (i *Interpreter) Released() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.released
}

// Pipe serves on one end of an in-memory pipe and returns the other end.
func (i *Interpreter) Pipe() transport.Transport {
	host, device := transport.Pipe()
	go func() { _ = i.Serve(device) }()
	return host
}

// Serve answers requests on tr until the peer goes away.
func (i *Interpreter) Serve(tr transport.Transport) error {
	defer func() { _ = tr.Close() }()

	L := i.newState()
	defer L.Close()

	ctx := context.Background()
	if !i.NoHello {
		hello, err := ipc.EncodeHello(i.ComputerID, i.Label)
		if err != nil {
			return err
		}
		if err := tr.Send(ctx, hello); err != nil {
			return err
		}
	}

	for {
		payload, err := tr.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		req, err := ipc.DecodeRequest(payload)
		if err != nil {
			return err
		}

		i.mu.Lock()
		i.sources = append(i.sources, req.Source)
		i.mu.Unlock()

		body := run(L, req.Source)
		if i.BeforeReply != nil {
			i.BeforeReply(req.ID, req.Source)
		}

		out, err := ipc.EncodeResponse(req.ID, body)
		if err != nil {
			return err
		}
		if err := tr.Send(ctx, out); err != nil {
			return err
		}
	}
}

// run executes one chunk and builds its reply body.
func run(L *lua.LState, src string) []any {
	fn, err := L.LoadString(src)
	if err != nil {
		return []any{false, err.Error()}
	}

	top := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(top)
		var apiErr *lua.ApiError
		if !errors.As(err, &apiErr) || apiErr.Object == nil {
			return []any{false, err.Error()}
		}
		if t, ok := apiErr.Object.(*lua.LTable); ok {
			if st, ok := t.RawGetString("status").(lua.LNumber); ok {
				return []any{false, lua.LVAsString(t.RawGetString("output")), ToGo(st)}
			}
		}
		return []any{false, apiErr.Object.String()}
	}

	n := L.GetTop() - top
	values := make([]any, n)
	for k := 0; k < n; k++ {
		values[k] = ToGo(L.Get(top + 1 + k))
	}
	L.SetTop(top)
	return []any{true, values}
}

// ToGo converts a Lua value to the form the device serializes.
// Integral numbers become int64 and tables become maps.
func ToGo(v lua.LValue) any {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<62 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		m := make(map[any]any)
		v.ForEach(func(k, val lua.LValue) {
			m[ToGo(k)] = ToGo(val)
		})
		return m
	default:
		return v.String()
	}
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (i *Interpreter) newState() *lua.LState {
	L := lua.NewState()
	L.SetGlobal("temp", L.NewTable())

	fs := L.NewTable()
	L.SetFuncs(fs, map[string]lua.LGFunction{
		"open":    i.fsOpen,
		"exists":  i.fsExists,
		"isDir":   i.fsIsDir,
		"combine": fsCombine,
		"getDir":  fsGetDir,
	})
	L.SetGlobal("fs", fs)

	if os, ok := L.GetGlobal("os").(*lua.LTable); ok {
		L.SetField(os, "getComputerID", L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LNumber(i.ComputerID))
			return 1
		}))
	}

	if i.Commands != nil {
		cmds := L.NewTable()
		L.SetField(cmds, "exec", L.NewFunction(i.commandsExec))
		L.SetGlobal("commands", cmds)
	}
	if i.Turtle {
		L.SetGlobal("turtle", L.NewTable())
	}
	if i.Pocket {
		L.SetGlobal("pocket", L.NewTable())
	}
	if i.Multishell {
		L.SetGlobal("multishell", L.NewTable())
	}
	return L
}

func (i *Interpreter) commandsExec(L *lua.LState) int {
	ok, lines, status := i.Commands(L.CheckString(1))
	out := L.NewTable()
	for _, line := range lines {
		out.Append(lua.LString(line))
	}
	L.Push(lua.LBool(ok))
	L.Push(out)
	L.Push(lua.LNumber(status))
	return 3
}

func (i *Interpreter) fsExists(L *lua.LState) int {
	p := clean(L.CheckString(1))
	i.mu.Lock()
	_, file := i.files[p]
	dir := i.dirs[p]
	i.mu.Unlock()
	L.Push(lua.LBool(file || dir || p == ""))
	return 1
}

func (i *Interpreter) fsIsDir(L *lua.LState) int {
	p := clean(L.CheckString(1))
	i.mu.Lock()
	dir := i.dirs[p]
	i.mu.Unlock()
	L.Push(lua.LBool(dir || p == ""))
	return 1
}

func fsCombine(L *lua.LState) int {
	L.Push(lua.LString(clean(L.CheckString(1) + "/" + L.CheckString(2))))
	return 1
}

func fsGetDir(L *lua.LState) int {
	d := path.Dir(clean(L.CheckString(1)))
	if d == "." {
		d = ""
	}
	L.Push(lua.LString(d))
	return 1
}

func (i *Interpreter) fsOpen(L *lua.LState) int {
	p := clean(L.CheckString(1))
	mode := L.OptString(2, "r")

	i.mu.Lock()
	content, exists := i.files[p]
	isDir := i.dirs[p]
	i.mu.Unlock()

	switch mode {
	case "r", "rb":
		if !exists {
			L.Push(lua.LNil)
			L.Push(lua.LString("/" + p + ": No such file"))
			return 2
		}
		i.acquire()
		L.Push(i.readHandle(L, content))
		return 1
	case "w", "wb", "a", "ab":
		if isDir {
			L.Push(lua.LNil)
			L.Push(lua.LString("/" + p + ": Cannot write to directory"))
			return 2
		}
		initial := ""
		if mode[0] == 'a' {
			initial = content
		}
		i.mu.Lock()
		i.files[p] = initial
		i.mu.Unlock()
		i.acquire()
		L.Push(i.writeHandle(L, p, initial))
		return 1
	default:
		L.ArgError(2, "Unsupported mode")
		return 0
	}
}

func (i *Interpreter) acquire() {
	i.mu.Lock()
	i.openHandles++
	i.mu.Unlock()
}

func (i *Interpreter) release() {
	i.mu.Lock()
	i.openHandles--
	i.released++
	i.mu.Unlock()
}

func (i *Interpreter) readHandle(L *lua.LState, content string) *lua.LTable {
	pos := 0
	closed := false
	check := func(L *lua.LState) {
		if closed {
			L.RaiseError("attempt to use a closed file")
		}
	}

	h := L.NewTable()
	L.SetFuncs(h, map[string]lua.LGFunction{
		"readLine": func(L *lua.LState) int {
			check(L)
			if pos >= len(content) {
				L.Push(lua.LNil)
				return 1
			}
			rest := content[pos:]
			if n := strings.IndexByte(rest, '\n'); n >= 0 {
				pos += n + 1
				L.Push(lua.LString(rest[:n]))
				return 1
			}
			pos = len(content)
			L.Push(lua.LString(rest))
			return 1
		},
		"readAll": func(L *lua.LState) int {
			check(L)
			rest := content[pos:]
			pos = len(content)
			L.Push(lua.LString(rest))
			return 1
		},
		"read": func(L *lua.LState) int {
			check(L)
			n := L.OptInt(1, 1)
			if pos >= len(content) {
				L.Push(lua.LNil)
				return 1
			}
			end := min(pos+n, len(content))
			chunk := content[pos:end]
			pos = end
			L.Push(lua.LString(chunk))
			return 1
		},
		"close": func(L *lua.LState) int {
			check(L)
			closed = true
			i.release()
			return 0
		},
	})
	return h
}

func (i *Interpreter) writeHandle(L *lua.LState, p, initial string) *lua.LTable {
	var buf strings.Builder
	buf.WriteString(initial)
	closed := false
	check := func(L *lua.LState) {
		if closed {
			L.RaiseError("attempt to use a closed file")
		}
	}
	flush := func() {
		i.mu.Lock()
		i.files[p] = buf.String()
		i.mu.Unlock()
	}

	h := L.NewTable()
	L.SetFuncs(h, map[string]lua.LGFunction{
		"write": func(L *lua.LState) int {
			check(L)
			buf.WriteString(lua.LVAsString(L.CheckAny(1)))
			return 0
		},
		"writeLine": func(L *lua.LState) int {
			check(L)
			buf.WriteString(lua.LVAsString(L.CheckAny(1)))
			buf.WriteByte('\n')
			return 0
		},
		"flush": func(L *lua.LState) int {
			check(L)
			flush()
			return 0
		},
		"close": func(L *lua.LState) int {
			check(L)
			flush()
			closed = true
			i.release()
			return 0
		},
	})
	return h
}

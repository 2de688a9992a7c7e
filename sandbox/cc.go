package sandbox

import (
	"context"
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/TheKidThatCodes/ccbridge/codec"
	"github.com/TheKidThatCodes/ccbridge/handle"
	"github.com/TheKidThatCodes/ccbridge/session"
)

// ctxOf returns the context of the running script.
func ctxOf(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// ccTable builds the capability table scripts use to reach the remote
// interpreter.
func (s *Sandbox) ccTable() *lua.LTable {
	t := s.L.NewTable()
	s.L.SetFuncs(t, map[string]lua.LGFunction{
		"eval":          s.ccEval,
		"call":          s.ccCall,
		"command":       s.ccCommand,
		"exec":          s.ccExec,
		"open":          s.ccOpen,
		"with_file":     s.ccWithFile,
		"import":        s.ccImport,
		"is_commands":   s.probeFunc("commands"),
		"is_multishell": s.probeFunc("multishell"),
		"is_turtle":     s.probeFunc("turtle"),
		"is_pocket":     s.probeFunc("pocket"),
	})
	return t
}

func (s *Sandbox) pushValues(L *lua.LState, vals []any) int {
	for _, v := range vals {
		L.Push(ToLua(L, v))
	}
	return len(vals)
}

// args converts the Lua arguments from position first onwards.
func (s *Sandbox) args(L *lua.LState, first int) []any {
	var out []any
	for i := first; i <= L.GetTop(); i++ {
		v, err := FromLua(L.Get(i))
		if err != nil {
			L.ArgError(i, err.Error())
		}
		out = append(out, v)
	}
	return out
}

// cc.eval(src) runs a raw chunk and returns every value it returned.
func (s *Sandbox) ccEval(L *lua.LState) int {
	src := L.CheckString(1)
	vals, err := session.Call(ctxOf(L), s.caller, session.Request{Source: src}, codec.Values)
	if err != nil {
		return s.raise(L, err)
	}
	return s.pushValues(L, vals)
}

// cc.call(fn, ...) calls a remote function and returns its values.
func (s *Sandbox) ccCall(L *lua.LState) int {
	fn := L.CheckString(1)
	req := session.Request{Func: fn, Args: s.args(L, 2), KeepNulls: true, Class: codec.ClassEval}
	vals, err := session.Call(ctxOf(L), s.caller, req, codec.Values)
	if err != nil {
		return s.raise(L, err)
	}
	return s.pushValues(L, vals)
}

// cc.command(fn, ...) calls a remote function as a statement.
func (s *Sandbox) ccCommand(L *lua.LState) int {
	fn := L.CheckString(1)
	req := session.Request{Func: fn, Args: s.args(L, 2), KeepNulls: true, Class: codec.ClassStatement}
	if _, err := session.Call(ctxOf(L), s.caller, req, codec.Values); err != nil {
		return s.raise(L, err)
	}
	return 0
}

// cc.exec(cmd) runs a command through commands.exec and returns its
// output and status. A failed command raises.
func (s *Sandbox) ccExec(L *lua.LState) int {
	cmd := L.CheckString(1)
	req := session.Request{Func: "commands.exec", Args: []any{cmd}, Class: codec.ClassCommand}
	res, err := session.Call(ctxOf(L), s.caller, req, codec.Command)
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(lua.LString(res.Output))
	L.Push(lua.LNumber(res.Status))
	return 2
}

// cc.import(path [, relative_to]) loads a remote module and returns its
// environment.
func (s *Sandbox) ccImport(L *lua.LState) int {
	path := L.CheckString(1)
	rel := L.OptString(2, "")
	mod, err := s.importFile(ctxOf(L), path, rel)
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(mod.Env)
	return 1
}

func (s *Sandbox) probeFunc(global string) lua.LGFunction {
	return func(L *lua.LState) int {
		ok, err := probe(ctxOf(L), s.caller, global)
		if err != nil {
			return s.raise(L, err)
		}
		L.Push(lua.LBool(ok))
		return 1
	}
}

// cc.open(path [, mode]) opens a remote file. The returned table only
// carries the methods the mode permits.
func (s *Sandbox) ccOpen(L *lua.LState) int {
	t, err := s.open(L, L.CheckString(1), handle.Mode(L.OptString(2, string(handle.ModeRead))))
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(t)
	return 1
}

// cc.with_file(path, mode, fn) calls fn with an open file and always
// closes it afterwards, returning fn's values.
func (s *Sandbox) ccWithFile(L *lua.LState) int {
	path := L.CheckString(1)
	mode := handle.Mode(L.CheckString(2))
	fn := L.CheckFunction(3)

	t, err := s.open(L, path, mode)
	if err != nil {
		return s.raise(L, err)
	}
	closeFn, _ := t.RawGetString("close").(*lua.LFunction)

	top := L.GetTop()
	L.Push(fn)
	L.Push(t)
	callErr := L.PCall(1, lua.MultRet, nil)

	if closeFn != nil {
		L.Push(closeFn)
		if cerr := L.PCall(0, 0, nil); cerr != nil && callErr == nil {
			callErr = cerr
		}
	}
	if callErr != nil {
		var apiErr *lua.ApiError
		if errors.As(callErr, &apiErr) && apiErr.Object != nil {
			L.Error(apiErr.Object, 0)
		}
		return s.raise(L, callErr)
	}
	return L.GetTop() - top
}

func (s *Sandbox) open(L *lua.LState, path string, mode handle.Mode) (*lua.LTable, error) {
	ctx := ctxOf(L)
	switch {
	case mode.IsRead():
		var r *handle.Reader
		var err error
		if mode == handle.ModeRead {
			r, err = handle.OpenReader(ctx, s.caller, path)
		} else {
			r, err = handle.OpenBinaryReader(ctx, s.caller, path)
		}
		if err != nil {
			return nil, err
		}
		s.track(r)
		return s.readerTable(L, r), nil
	case mode.IsWrite():
		w, err := handle.OpenWriter(ctx, s.caller, path, mode)
		if err != nil {
			return nil, err
		}
		s.track(w)
		return s.writerTable(L, w), nil
	default:
		return nil, errors.New("unsupported mode " + codec.Quote(string(mode)))
	}
}

// method wraps fn so it works with both f.x() and f:x() call styles.
func method(L *lua.LState, t *lua.LTable, fn func(L *lua.LState, base int) int) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		base := 1
		if L.GetTop() >= 1 && L.Get(1) == lua.LValue(t) {
			base = 2
		}
		return fn(L, base)
	})
}

func (s *Sandbox) readerTable(L *lua.LState, r *handle.Reader) *lua.LTable {
	t := L.NewTable()
	readLine := func(L *lua.LState) int {
		line, ok, err := r.ReadLine(ctxOf(L))
		if err != nil {
			return s.raise(L, err)
		}
		if !ok {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(line))
		}
		return 1
	}
	t.RawSetString("readLine", method(L, t, func(L *lua.LState, _ int) int { return readLine(L) }))
	t.RawSetString("read", method(L, t, func(L *lua.LState, base int) int {
		data, ok, err := r.Read(ctxOf(L), L.OptInt(base, 1))
		if err != nil {
			return s.raise(L, err)
		}
		if !ok {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(data))
		}
		return 1
	}))
	t.RawSetString("readAll", method(L, t, func(L *lua.LState, _ int) int {
		data, err := r.ReadAll(ctxOf(L))
		if err != nil {
			return s.raise(L, err)
		}
		L.Push(lua.LString(data))
		return 1
	}))
	t.RawSetString("lines", method(L, t, func(L *lua.LState, _ int) int {
		L.Push(L.NewFunction(readLine))
		return 1
	}))
	t.RawSetString("close", s.closeMethod(L, t, r))
	return t
}

func (s *Sandbox) writerTable(L *lua.LState, w *handle.Writer) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("write", method(L, t, func(L *lua.LState, base int) int {
		if err := w.Write(ctxOf(L), L.ToStringMeta(L.CheckAny(base)).String()); err != nil {
			return s.raise(L, err)
		}
		return 0
	}))
	t.RawSetString("writeLine", method(L, t, func(L *lua.LState, base int) int {
		if err := w.WriteLine(ctxOf(L), L.ToStringMeta(L.CheckAny(base)).String()); err != nil {
			return s.raise(L, err)
		}
		return 0
	}))
	t.RawSetString("flush", method(L, t, func(L *lua.LState, _ int) int {
		if err := w.Flush(ctxOf(L)); err != nil {
			return s.raise(L, err)
		}
		return 0
	}))
	t.RawSetString("close", s.closeMethod(L, t, w))
	return t
}

func (s *Sandbox) closeMethod(L *lua.LState, t *lua.LTable, h closer) *lua.LFunction {
	return method(L, t, func(L *lua.LState, _ int) int {
		if err := h.Close(ctxOf(L)); err != nil {
			return s.raise(L, err)
		}
		return 0
	})
}

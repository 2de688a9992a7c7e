package sandbox

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/TheKidThatCodes/ccbridge/types"
)

// ToLua converts a decoded remote value to a Lua value.
// Sequences become 1-based tables.
func ToLua(L *lua.LState, v types.Value) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []types.Value:
		t := L.CreateTable(len(v), 0)
		for i, e := range v {
			t.RawSetInt(i+1, ToLua(L, e))
		}
		return t
	case types.Table:
		t := L.CreateTable(0, len(v))
		for k, e := range v {
			t.RawSet(ToLua(L, k), ToLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// FromLua converts a script value to a host value suitable for the codec.
// Tables whose keys are exactly 1..n become sequences; other tables
// become types.Table. Functions, userdata and cyclic tables are rejected.
func FromLua(v lua.LValue) (types.Value, error) {
	return fromLua(v, map[*lua.LTable]bool{})
}

func fromLua(v lua.LValue, seen map[*lua.LTable]bool) (types.Value, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return number(float64(v)), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		return fromTable(v, seen)
	default:
		return nil, fmt.Errorf("cannot send %s to the remote side", v.Type().String())
	}
}

func number(f float64) types.Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

func fromTable(t *lua.LTable, seen map[*lua.LTable]bool) (types.Value, error) {
	if seen[t] {
		return nil, fmt.Errorf("cannot send a cyclic table")
	}
	seen[t] = true
	defer delete(seen, t)

	out := types.Table{}
	var err error
	t.ForEach(func(k, e lua.LValue) {
		if err != nil {
			return
		}
		var key, val types.Value
		switch k.(type) {
		case lua.LString, lua.LNumber, lua.LBool:
			key, _ = fromLua(k, seen)
		default:
			err = fmt.Errorf("cannot send a table key of type %s", k.Type().String())
			return
		}
		if val, err = fromLua(e, seen); err != nil {
			return
		}
		out[key] = val
	})
	if err != nil {
		return nil, err
	}

	seq := make([]types.Value, len(out))
	for i := range seq {
		e, ok := out[int64(i+1)]
		if !ok {
			return out, nil
		}
		seq[i] = e
	}
	return seq, nil
}

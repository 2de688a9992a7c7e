package codec

import (
	"sort"

	"github.com/TheKidThatCodes/ccbridge/types"
)

// Decoder turns a reply envelope into a typed host value.
// Every decoder maps failed envelopes through MapError first.
type Decoder[T any] func(env types.Envelope) (T, error)

// CommandResult is the outcome of a successful command-class call.
type CommandResult struct {
	Output string
	Status int64
}

// MapError converts a failed envelope into a taxonomy error.
// It returns nil for successful envelopes.
func MapError(env types.Envelope) error {
	if env.OK {
		return nil
	}
	if env.Status != nil {
		return types.NewCommandFailure(env.Message, *env.Status)
	}
	return types.NewRemoteRuntimeError(env.Message)
}

// single returns the sole returned value of a scalar-shaped reply.
func single(env types.Envelope) (types.Value, error) {
	if err := MapError(env); err != nil {
		return nil, err
	}
	if len(env.Values) > 1 {
		return nil, types.NewTypeMismatch("expected at most one value, got %d", len(env.Values))
	}
	return env.First(), nil
}

// Nil expects the call to return nothing.
func Nil(env types.Envelope) (struct{}, error) {
	v, err := single(env)
	if err != nil {
		return struct{}{}, err
	}
	if v != nil {
		return struct{}{}, types.NewTypeMismatch("expected nil, got %s", types.KindOf(v))
	}
	return struct{}{}, nil
}

// Values returns every returned value unchanged.
func Values(env types.Envelope) ([]types.Value, error) {
	if err := MapError(env); err != nil {
		return nil, err
	}
	return env.Values, nil
}

// Bool expects a single boolean.
func Bool(env types.Envelope) (bool, error) {
	v, err := single(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, types.NewTypeMismatch("expected bool, got %s", types.KindOf(v))
	}
	return b, nil
}

// Int expects a single integral number.
func Int(env types.Envelope) (int64, error) {
	v, err := single(env)
	if err != nil {
		return 0, err
	}
	return asInt(v)
}

// Number expects a single number.
func Number(env types.Envelope) (float64, error) {
	v, err := single(env)
	if err != nil {
		return 0, err
	}
	return asNumber(v)
}

// String expects a single string. An empty string is a valid value.
func String(env types.Envelope) (string, error) {
	v, err := single(env)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", types.NewTypeMismatch("expected string, got %s", types.KindOf(v))
	}
	return s, nil
}

// OptString expects a string or nil. Nil decodes as a nil pointer,
// never as the empty string.
func OptString(env types.Envelope) (*string, error) {
	v, err := single(env)
	if err != nil || v == nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, types.NewTypeMismatch("expected string or nil, got %s", types.KindOf(v))
	}
	return &s, nil
}

// OptInt expects an integral number or nil.
func OptInt(env types.Envelope) (*int64, error) {
	v, err := single(env)
	if err != nil || v == nil {
		return nil, err
	}
	i, err := asInt(v)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

// OptBool expects a boolean or nil.
func OptBool(env types.Envelope) (*bool, error) {
	v, err := single(env)
	if err != nil || v == nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, types.NewTypeMismatch("expected bool or nil, got %s", types.KindOf(v))
	}
	return &b, nil
}

// Seq expects a single sequence. Remote tables keyed 1..n are re-based
// to 0..n-1 in order.
func Seq(env types.Envelope) ([]types.Value, error) {
	v, err := single(env)
	if err != nil {
		return nil, err
	}
	return asSeq(v)
}

// StringSeq expects a single sequence of strings.
func StringSeq(env types.Envelope) ([]string, error) {
	seq, err := Seq(env)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(seq))
	for i, e := range seq {
		s, ok := e.(string)
		if !ok {
			return nil, types.NewTypeMismatch("element %d is %s, want string", i, types.KindOf(e))
		}
		out[i] = s
	}
	return out, nil
}

// Map expects a single table.
func Map(env types.Envelope) (types.Table, error) {
	v, err := single(env)
	if err != nil {
		return nil, err
	}
	return asTable(v)
}

// OptMap expects a table or nil.
func OptMap(env types.Envelope) (types.Table, error) {
	v, err := single(env)
	if err != nil || v == nil {
		return nil, err
	}
	return asTable(v)
}

// Tuple builds a decoder for a fixed-arity reply. Each returned value is
// checked against the kind at its position. KindInt and KindNumber
// elements are converted to int64 and float64; KindAny accepts anything.
func Tuple(kinds ...types.Kind) Decoder[[]types.Value] {
	return func(env types.Envelope) ([]types.Value, error) {
		if err := MapError(env); err != nil {
			return nil, err
		}
		if len(env.Values) != len(kinds) {
			return nil, types.NewTypeMismatch("expected %d values, got %d", len(kinds), len(env.Values))
		}
		out := make([]types.Value, len(kinds))
		for i, k := range kinds {
			v, err := coerce(env.Values[i], k)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
}

// Tuple2Int expects exactly two integers, e.g. a cursor position.
func Tuple2Int(env types.Envelope) ([2]int64, error) {
	vals, err := Tuple(types.KindInt, types.KindInt)(env)
	if err != nil {
		return [2]int64{}, err
	}
	return [2]int64{vals[0].(int64), vals[1].(int64)}, nil
}

// Tuple3Int expects exactly three integers, e.g. a GPS fix.
func Tuple3Int(env types.Envelope) ([3]int64, error) {
	vals, err := Tuple(types.KindInt, types.KindInt, types.KindInt)(env)
	if err != nil {
		return [3]int64{}, err
	}
	return [3]int64{vals[0].(int64), vals[1].(int64), vals[2].(int64)}, nil
}

// Tuple3Number expects exactly three numbers, e.g. a palette color.
func Tuple3Number(env types.Envelope) ([3]float64, error) {
	vals, err := Tuple(types.KindNumber, types.KindNumber, types.KindNumber)(env)
	if err != nil {
		return [3]float64{}, err
	}
	return [3]float64{vals[0].(float64), vals[1].(float64), vals[2].(float64)}, nil
}

// Command decodes a command-class reply into its output and status.
// Failed commands surface as command failures through MapError.
func Command(env types.Envelope) (CommandResult, error) {
	if err := MapError(env); err != nil {
		return CommandResult{}, err
	}
	var res CommandResult
	if len(env.Values) > 2 {
		return res, types.NewTypeMismatch("expected output and status, got %d values", len(env.Values))
	}
	if len(env.Values) > 0 && env.Values[0] != nil {
		s, ok := env.Values[0].(string)
		if !ok {
			return res, types.NewTypeMismatch("command output is %s, want string", types.KindOf(env.Values[0]))
		}
		res.Output = s
	}
	if len(env.Values) > 1 && env.Values[1] != nil {
		st, err := asInt(env.Values[1])
		if err != nil {
			return res, err
		}
		res.Status = st
	}
	return res, nil
}

func coerce(v types.Value, k types.Kind) (types.Value, error) {
	switch k {
	case types.KindAny:
		return v, nil
	case types.KindInt:
		i, err := asInt(v)
		if err != nil {
			return nil, err
		}
		return i, nil
	case types.KindNumber:
		f, err := asNumber(v)
		if err != nil {
			return nil, err
		}
		return f, nil
	case types.KindSeq:
		s, err := asSeq(v)
		if err != nil {
			return nil, err
		}
		return s, nil
	case types.KindTable:
		t, err := asTable(v)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	if got := types.KindOf(v); got != k {
		return nil, types.NewTypeMismatch("expected %s, got %s", k, got)
	}
	return v, nil
}

func asInt(v types.Value) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		if i, ok := integral(x); ok {
			return i, nil
		}
		return 0, types.NewTypeMismatch("expected int, got non-integral number %v", x)
	}
	return 0, types.NewTypeMismatch("expected int, got %s", types.KindOf(v))
}

func asNumber(v types.Value) (float64, error) {
	switch x := v.(type) {
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	}
	return 0, types.NewTypeMismatch("expected number, got %s", types.KindOf(v))
}

func asSeq(v types.Value) ([]types.Value, error) {
	switch x := v.(type) {
	case []types.Value:
		return x, nil
	case types.Table:
		return tableToSeq(x)
	}
	return nil, types.NewTypeMismatch("expected seq, got %s", types.KindOf(v))
}

func asTable(v types.Value) (types.Table, error) {
	switch x := v.(type) {
	case types.Table:
		return x, nil
	case []types.Value:
		t := make(types.Table, len(x))
		for i, e := range x {
			t[int64(i+1)] = e
		}
		return t, nil
	}
	return nil, types.NewTypeMismatch("expected table, got %s", types.KindOf(v))
}

// tableToSeq re-bases a table keyed exactly 1..n into a 0-based slice.
func tableToSeq(t types.Table) ([]types.Value, error) {
	keys := make([]int64, 0, len(t))
	for k := range t {
		i, ok := k.(int64)
		if !ok {
			return nil, types.NewTypeMismatch("sequence has non-integer key %v", k)
		}
		keys = append(keys, i)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	out := make([]types.Value, len(keys))
	for i, k := range keys {
		if k != int64(i+1) {
			return nil, types.NewTypeMismatch("sequence key %d out of order, want %d", k, i+1)
		}
		out[i] = t[k]
	}
	return out, nil
}

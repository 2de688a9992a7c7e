package codec

import (
	"bytes"
	"fmt"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/TheKidThatCodes/ccbridge/types"
)

// DecodeWire decodes one msgpack-encoded reply body into a Value.
func DecodeWire(raw []byte) (types.Value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
		return d.DecodeUntypedMap()
	})
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, fmt.Errorf("decode reply body: %w", err)
	}
	return Normalize(v)
}

// DecodeEnvelope decodes a msgpack reply body into an Envelope.
func DecodeEnvelope(raw []byte) (types.Envelope, error) {
	body, err := DecodeWire(raw)
	if err != nil {
		return types.Envelope{}, err
	}
	return ParseEnvelope(body)
}

// Normalize converts a loosely decoded msgpack value into the Value model.
// Unsigned integers become int64 when they fit, and integral numeric
// table keys become int64 so that sequence keys compare equal.
func Normalize(v any) (types.Value, error) {
	switch x := v.(type) {
	case nil, bool, int64, string:
		return x, nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return normalizeUint(uint64(x)), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return normalizeUint(x), nil
	case []byte:
		return string(x), nil
	case []any:
		out := make([]types.Value, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[any]any:
		out := make(types.Table, len(x))
		for k, e := range x {
			nk, err := normalizeKey(k)
			if err != nil {
				return nil, err
			}
			ne, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[nk] = ne
		}
		return out, nil
	case map[string]any:
		out := make(types.Table, len(x))
		for k, e := range x {
			ne, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = ne
		}
		return out, nil
	default:
		return nil, types.NewTypeMismatch("unsupported wire value of type %T", v)
	}
}

func normalizeUint(u uint64) types.Value {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

func normalizeKey(k any) (any, error) {
	n, err := Normalize(k)
	if err != nil {
		return nil, err
	}
	switch x := n.(type) {
	case float64:
		if i, ok := integral(x); ok {
			return i, nil
		}
		return x, nil
	case int64, string, bool:
		return x, nil
	default:
		return nil, types.NewTypeMismatch("unsupported table key of type %T", k)
	}
}

// integral reports whether f is a whole number representable as int64.
func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ParseEnvelope interprets a decoded reply body.
//
// Accepted shapes:
//
//	[true, [v1, ..., vn]]
//	[false, message]
//	[false, output, status]
func ParseEnvelope(body types.Value) (types.Envelope, error) {
	parts, ok := body.([]types.Value)
	if !ok || len(parts) < 2 || len(parts) > 3 {
		return types.Envelope{}, types.NewTypeMismatch("malformed reply body %v", body)
	}
	okFlag, isBool := parts[0].(bool)
	if !isBool {
		return types.Envelope{}, types.NewTypeMismatch("reply status flag is %s, want bool", types.KindOf(parts[0]))
	}

	if okFlag {
		if len(parts) != 2 {
			return types.Envelope{}, types.NewTypeMismatch("successful reply has %d parts, want 2", len(parts))
		}
		switch vals := parts[1].(type) {
		case []types.Value:
			return types.Ok(vals...), nil
		case types.Table:
			seq, err := tableToSeq(vals)
			if err != nil {
				return types.Envelope{}, err
			}
			return types.Ok(seq...), nil
		default:
			return types.Envelope{}, types.NewTypeMismatch("reply values are %s, want seq", types.KindOf(parts[1]))
		}
	}

	msg, err := messageOf(parts[1])
	if err != nil {
		return types.Envelope{}, err
	}
	if len(parts) == 2 {
		return types.Err(msg), nil
	}
	status, err := asInt(parts[2])
	if err != nil {
		return types.Envelope{}, types.NewTypeMismatch("command status is %s, want int", types.KindOf(parts[2]))
	}
	return types.ErrStatus(msg, status), nil
}

func messageOf(v types.Value) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int64, float64, bool:
		return fmt.Sprint(x), nil
	default:
		return "", types.NewTypeMismatch("error message is %s, want string", types.KindOf(v))
	}
}

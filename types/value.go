// Package types holds the shared data model of the bridge: remote values,
// reply envelopes and the error taxonomy.
package types

// Value is a remote Lua value as seen by the host.
//
// The dynamic type is always one of:
//   - nil
//   - bool
//   - int64 (integral numbers)
//   - float64 (non-integral numbers)
//   - string (raw bytes, not necessarily UTF-8)
//   - []Value (ordered sequence, 0-based)
//   - Table (keyed table, may have holes)
type Value = any

// Table is a remote table that was not decoded as a sequence.
// Keys are int64, float64, string or bool.
type Table map[any]Value

// Kind names the dynamic type of a Value.
type Kind string

// Value kinds.
const (
	KindNil    Kind = "nil"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindSeq    Kind = "seq"
	KindTable  Kind = "table"
	KindAny    Kind = "any"
)

// KindOf reports the Kind of v. Unknown dynamic types report KindAny.
func KindOf(v Value) Kind {
	switch v.(type) {
	case nil:
		return KindNil
	case bool:
		return KindBool
	case int64:
		return KindInt
	case float64:
		return KindNumber
	case string:
		return KindString
	case []Value:
		return KindSeq
	case Table:
		return KindTable
	default:
		return KindAny
	}
}

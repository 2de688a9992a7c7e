// Package codec converts host values to Lua source literals and decodes
// remote replies into typed host values.
package codec

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/TheKidThatCodes/ccbridge/types"
)

// RawExpr is Lua source emitted verbatim. It is used to pass remote
// variable references (such as a handle name) as call arguments.
type RawExpr string

// Class selects how a remote call is wrapped into a chunk.
type Class int

const (
	// ClassEval returns every value the function returns.
	ClassEval Class = iota
	// ClassStatement runs the call as a statement and returns nothing.
	ClassStatement
	// ClassCommand runs a command-style function returning
	// (ok, output, status) and raises a status-carrying error when ok is false.
	ClassCommand
)

func (c Class) String() string {
	switch c {
	case ClassEval:
		return "eval"
	case ClassStatement:
		return "statement"
	case ClassCommand:
		return "command"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Literal renders v as a Lua literal.
func Literal(v any) (string, error) {
	var b strings.Builder
	if err := writeLiteral(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Args renders a comma-separated argument list.
//
// Trailing nils are dropped so the remote side sees fewer arguments.
// With keepNulls, they are emitted as explicit nil placeholders so later
// positional parameters keep their position.
func Args(args []any, keepNulls bool) (string, error) {
	n := len(args)
	if !keepNulls {
		for n > 0 && isNil(args[n-1]) {
			n--
		}
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lit, err := Literal(args[i])
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", i+1, err)
		}
		parts = append(parts, lit)
	}
	return strings.Join(parts, ", "), nil
}

// CallSource builds the chunk that invokes fn with the rendered argument list.
func CallSource(class Class, fn, argList string) string {
	call := fn + "(" + argList + ")"
	switch class {
	case ClassStatement:
		return call
	case ClassCommand:
		return "local ok, out, st = " + call + "\n" +
			"if type(out) == \"table\" then out = table.concat(out, \"\\n\") end\n" +
			"if not ok then error({output = out or \"\", status = st or 0}, 0) end\n" +
			"return out, st"
	default:
		return "return " + call
	}
}

// Quote renders s as a double-quoted Lua string literal.
//
// Backslash, quote, newline, carriage return and tab use their short
// escapes. Every other control byte and every byte from 0x7f up uses a
// three-digit decimal escape, so the literal is plain ASCII and a
// following digit can never extend the escape.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	quoteTo(&b, s)
	return b.String()
}

func quoteTo(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(b, `\%03d`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "(0/0)"
	case math.IsInf(f, 1):
		return "math.huge"
	case math.IsInf(f, -1):
		return "-math.huge"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func writeLiteral(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("nil")
	case RawExpr:
		b.WriteString(string(x))
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case string:
		quoteTo(b, x)
	case []byte:
		quoteTo(b, string(x))
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		b.WriteString(formatFloat(x))
	case []types.Value:
		return writeSeq(b, reflect.ValueOf(x))
	case types.Table:
		return writeTable(b, reflect.ValueOf(x))
	default:
		return writeReflect(b, reflect.ValueOf(v))
	}
	return nil
}

func writeReflect(b *strings.Builder, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("nil")
			return nil
		}
		return writeLiteral(b, rv.Elem().Interface())
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		b.WriteString(formatFloat(rv.Float()))
	case reflect.String:
		quoteTo(b, rv.String())
	case reflect.Slice, reflect.Array:
		return writeSeq(b, rv)
	case reflect.Map:
		return writeTable(b, rv)
	default:
		return fmt.Errorf("cannot encode %s as a Lua literal", rv.Type())
	}
	return nil
}

func writeSeq(b *strings.Builder, rv reflect.Value) error {
	b.WriteByte('{')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := writeLiteral(b, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeTable(b *strings.Builder, rv reflect.Value) error {
	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return keyLess(keys[i].Interface(), keys[j].Interface())
	})
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		key := k.Interface()
		if isNil(key) {
			return fmt.Errorf("table key cannot be nil")
		}
		b.WriteByte('[')
		if err := writeLiteral(b, key); err != nil {
			return err
		}
		b.WriteString("] = ")
		if err := writeLiteral(b, rv.MapIndex(k).Interface()); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

// keyLess orders table keys: numbers first in numeric order, then
// strings, then everything else by formatted value.
func keyLess(a, b any) bool {
	fa, aNum := asFloat(a)
	fb, bNum := asFloat(b)
	switch {
	case aNum && bNum:
		return fa < fb
	case aNum:
		return true
	case bNum:
		return false
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	switch {
	case aStr && bStr:
		return sa < sb
	case aStr:
		return true
	case bStr:
		return false
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func asFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/parse"
)

// ErrorKind classifies compile failures.
type ErrorKind int

const (
	// KindSyntax is a parse error.
	KindSyntax ErrorKind = iota
	// KindFeature is gated syntax used without its feature in force.
	KindFeature
	// KindWarning is a warning escalated by the strict pass.
	KindWarning
	// KindRestricted is a reference to a reserved name.
	KindRestricted
	// KindLiteral is a malformed numeric literal.
	KindLiteral
	// KindCompile is a code generation error (labels, varargs, limits).
	KindCompile
)

func (k ErrorKind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindFeature:
		return "feature"
	case KindWarning:
		return "warning"
	case KindRestricted:
		return "restricted"
	case KindLiteral:
		return "literal"
	case KindCompile:
		return "compile"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is a compile failure with its source position.
type Error struct {
	Kind    ErrorKind
	Name    string
	Line    int
	Message string
	// AtEOF marks a parse error raised after the end of input was read.
	AtEOF bool
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.AtEOF:
		return fmt.Sprintf("%s: %s at end of input", e.Name, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.Name, e.Line, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// syntaxFamily reports whether a failure may be caused by input that is
// merely unfinished. Only these trigger the second, strict pass.
func (e *Error) syntaxFamily() bool {
	return e.Kind == KindSyntax || e.Kind == KindFeature || e.Kind == KindWarning
}

// incomplete reports whether the failure means more input could fix it.
func (e *Error) incomplete() bool {
	return e.Kind == KindSyntax && e.AtEOF
}

// IsIncomplete reports whether err is a parse error at end of input.
func IsIncomplete(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.incomplete()
}

// KindOf returns the kind of a compile error, or false for other errors.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

func fromParseError(err error, name string) *Error {
	var pe *parse.Error
	if !errors.As(err, &pe) {
		return &Error{Kind: KindSyntax, Name: name, Message: err.Error(), Err: err}
	}
	msg := strings.TrimSpace(pe.Message)
	if msg == "illegal hexadecimal number" {
		return &Error{Kind: KindLiteral, Name: name, Line: pe.Pos.Line, Message: msg, Err: err}
	}
	if pe.Pos.Line == parse.EOF {
		return &Error{Kind: KindSyntax, Name: name, Message: msg, AtEOF: true, Err: err}
	}
	if pe.Token != "" {
		msg = fmt.Sprintf("%s near '%s'", msg, pe.Token)
	}
	return &Error{Kind: KindSyntax, Name: name, Line: pe.Pos.Line, Message: msg, Err: err}
}

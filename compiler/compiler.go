// Package compiler classifies and compiles untrusted Lua source.
//
// A Compiler decides whether accumulated input is a complete unit, a
// prefix that needs more input, or invalid. Complete units are compiled
// to gopher-lua function prototypes after the restriction policy and the
// feature gates have been checked.
//
// Classification runs in two passes. The first pass is permissive:
// warnings are collected, not raised. If it fails with a syntax-family
// error, the source is recompiled with a trailing newline and warnings
// escalated. A second failure positioned at end of input means the
// input is incomplete; any other second failure is reported as invalid.
// Other failures (malformed literals, reserved names, code generation
// errors) are invalid immediately.
package compiler

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/TheKidThatCodes/ccbridge/metrics"
)

// DefaultName is used when Compile is given an empty unit name.
const DefaultName = "<input>"

// Mode selects what a unit must contain.
type Mode int

const (
	// ModeSingle is one interactive statement. Expressions are echoed.
	ModeSingle Mode = iota
	// ModeExec is a whole module.
	ModeExec
	// ModeEval is exactly one expression.
	ModeEval
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeExec:
		return "exec"
	case ModeEval:
		return "eval"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single":
		return ModeSingle, nil
	case "exec":
		return ModeExec, nil
	case "eval":
		return ModeEval, nil
	}
	return 0, fmt.Errorf("unknown compile mode %q", s)
}

// Status is the classification of a source text.
type Status int

const (
	// AwaitingMore means the text is a valid prefix of a unit.
	AwaitingMore Status = iota
	// Complete means the text compiled.
	Complete
	// Invalid means no continuation can make the text valid.
	Invalid
)

func (s Status) String() string {
	switch s {
	case AwaitingMore:
		return "awaiting_more"
	case Complete:
		return "complete"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Unit is a compiled unit ready to load into an LState.
type Unit struct {
	Proto *lua.FunctionProto
	Name  string
	Mode  Mode
	// Echo is set when a single-mode unit was compiled as an expression
	// and its values should be printed.
	Echo bool
	// Features were in force while compiling the unit.
	Features FeatureSet
	// Declared are the features this unit's directives added.
	Declared FeatureSet
	Warnings []Diagnostic
}

// Result is the outcome of one Compile call.
type Result struct {
	Status Status
	// Unit is set for Complete.
	Unit *Unit
	// Err is set for Invalid.
	Err error
}

// Compiler holds the feature state for one stream of units.
// Not safe for concurrent use.
type Compiler struct {
	// Metrics receives one outcome per Compile call. Nil is allowed.
	Metrics *metrics.Collector

	features FeatureSet
}

// New returns a compiler with no features enabled.
func New() *Compiler {
	return &Compiler{}
}

// Features returns the features in force for the next unit.
func (c *Compiler) Features() FeatureSet {
	return c.features
}

// CompileCommand classifies source with a fresh compiler.
func CompileCommand(source, name string, mode Mode) (*Result, error) {
	return New().Compile(source, name, mode)
}

// Compile classifies source. A Complete result's declared features stay
// in force for later units compiled by c.
//
// The error return is reserved for misuse; classification outcomes are
// reported through Result.
func (c *Compiler) Compile(source, name string, mode Mode) (*Result, error) {
	switch mode {
	case ModeSingle, ModeExec, ModeEval:
	default:
		return nil, fmt.Errorf("unknown compile mode %d", int(mode))
	}
	if name == "" {
		name = DefaultName
	}

	res := c.classify(source, name, mode)
	if res.Status == Complete {
		c.features |= res.Unit.Declared
	}
	c.Metrics.RecordCompile(res.Status.String())
	return res, nil
}

func (c *Compiler) classify(source, name string, mode Mode) *Result {
	if mode != ModeEval && isBlank(source) {
		source = "do end"
	}
	if mode != ModeSingle {
		return c.classifyAs(source, name, mode, false)
	}

	echo := c.classifyAs(source, name, mode, true)
	if echo.Status == Complete {
		return echo
	}
	stmt := c.classifyAs(source, name, mode, false)
	// An unfinished expression such as "1 +" is not a statement prefix.
	if stmt.Status == Invalid && echo.Status == AwaitingMore {
		return echo
	}
	return stmt
}

func (c *Compiler) classifyAs(source, name string, mode Mode, echo bool) *Result {
	unit, err := c.compile(source, name, mode, echo, false)
	if err == nil {
		return &Result{Status: Complete, Unit: unit}
	}
	if !err.syntaxFamily() {
		return &Result{Status: Invalid, Err: err}
	}

	unit, err = c.compile(source+"\n", name, mode, echo, true)
	switch {
	case err == nil:
		return &Result{Status: Complete, Unit: unit}
	case err.incomplete():
		return &Result{Status: AwaitingMore}
	default:
		return &Result{Status: Invalid, Err: err}
	}
}

func (c *Compiler) compile(source, name string, mode Mode, echo, strict bool) (*Unit, *Error) {
	text := source
	if echo || mode == ModeEval {
		text = "return " + source
	}

	chunk, perr := parse.Parse(strings.NewReader(text), name)
	if perr != nil {
		return nil, fromParseError(perr, name)
	}

	if echo && !isEchoable(chunk) {
		return nil, &Error{Kind: KindSyntax, Name: name, Message: "not an expression"}
	}
	if mode == ModeEval {
		if err := checkEval(chunk, name); err != nil {
			return nil, err
		}
	}

	a := analyze(chunk, c.features)
	if err := a.firstError(name, strict); err != nil {
		return nil, err
	}

	proto, cerr := lua.Compile(chunk, name)
	if cerr != nil {
		e := &Error{Kind: KindCompile, Name: name, Message: cerr.Error(), Err: cerr}
		if ce, ok := cerr.(*lua.CompileError); ok {
			e.Line = ce.Line
			e.Message = ce.Message
		}
		return nil, e
	}

	return &Unit{
		Proto:    proto,
		Name:     name,
		Mode:     mode,
		Echo:     echo,
		Features: c.features | a.declared,
		Declared: a.declared,
		Warnings: a.warnings,
	}, nil
}

// isEchoable rejects expression forms that must run as statements.
// A directive written as an expression would otherwise be echoed.
func isEchoable(chunk []ast.Stmt) bool {
	if len(chunk) != 1 {
		return false
	}
	ret, ok := chunk[0].(*ast.ReturnStmt)
	if !ok || len(ret.Exprs) == 0 {
		return false
	}
	if len(ret.Exprs) == 1 {
		if fc, ok := ret.Exprs[0].(*ast.FuncCallExpr); ok {
			if id, ok := fc.Func.(*ast.IdentExpr); ok && id.Value == directiveName {
				return false
			}
		}
	}
	return true
}

func checkEval(chunk []ast.Stmt, name string) *Error {
	if len(chunk) != 1 {
		return &Error{Kind: KindSyntax, Name: name, Line: 1, Message: "expected a single expression"}
	}
	ret, ok := chunk[0].(*ast.ReturnStmt)
	if !ok {
		return &Error{Kind: KindSyntax, Name: name, Line: 1, Message: "expected a single expression"}
	}
	switch len(ret.Exprs) {
	case 0:
		return &Error{Kind: KindSyntax, Name: name, Message: "expected an expression", AtEOF: true}
	case 1:
		return nil
	default:
		return &Error{Kind: KindSyntax, Name: name, Line: ret.Line(), Message: "expected a single expression, got a list"}
	}
}

// isBlank reports whether source holds only whitespace and line comments.
// Long comments are not blank: an unterminated one needs more input.
func isBlank(source string) bool {
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			return false
		}
		rest := line[2:]
		if strings.HasPrefix(rest, "[[") || strings.HasPrefix(rest, "[=") {
			return false
		}
	}
	return true
}

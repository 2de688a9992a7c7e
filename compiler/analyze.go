package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yuin/gopher-lua/ast"
)

// ReservedPrefix marks names that scripts may not reference.
const ReservedPrefix = "__"

// directiveName is the global used for feature directives.
const directiveName = "feature"

// protectedGlobals are sandbox globals scripts should not reassign.
var protectedGlobals = map[string]bool{
	"cc":          true,
	directiveName: true,
	"print":       true,
}

// Diagnostic is a non-fatal finding.
type Diagnostic struct {
	Line    int
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("line %d: %s", d.Line, d.Message)
}

// analysis is the result of checking one parsed chunk.
type analysis struct {
	declared FeatureSet
	warnings []Diagnostic

	literal    *Diagnostic
	restricted *Diagnostic
	feature    *Diagnostic
}

// firstError returns the highest-priority violation as an Error.
func (a *analysis) firstError(name string, strict bool) *Error {
	switch {
	case a.literal != nil:
		return &Error{Kind: KindLiteral, Name: name, Line: a.literal.Line, Message: a.literal.Message}
	case a.restricted != nil:
		return &Error{Kind: KindRestricted, Name: name, Line: a.restricted.Line, Message: a.restricted.Message}
	case a.feature != nil:
		return &Error{Kind: KindFeature, Name: name, Line: a.feature.Line, Message: a.feature.Message}
	case strict && len(a.warnings) > 0:
		w := a.warnings[0]
		return &Error{Kind: KindWarning, Name: name, Line: w.Line, Message: w.Message}
	}
	return nil
}

type analyzer struct {
	inForce FeatureSet
	depth   int
	scopes  []map[string]bool
	out     analysis
}

// analyze checks chunk against the restriction policy and the feature
// gates. Directives at the top of chunk add to inherited for this chunk.
func analyze(chunk []ast.Stmt, inherited FeatureSet) analysis {
	a := &analyzer{inForce: inherited}

	leading := true
	for _, stmt := range chunk {
		name, line, ok := directive(stmt)
		if !ok {
			leading = false
			continue
		}
		if !leading {
			a.warn(line, fmt.Sprintf("feature directive %q must appear before other statements", name))
			continue
		}
		f, known := LookupFeature(name)
		if !known {
			a.warn(line, fmt.Sprintf("unknown feature %q", name))
			continue
		}
		a.out.declared |= f
	}
	a.inForce |= a.out.declared

	a.push()
	a.stmts(chunk)
	a.pop()
	return a.out
}

// directive matches `feature "<name>"` statements.
func directive(stmt ast.Stmt) (string, int, bool) {
	call, ok := stmt.(*ast.FuncCallStmt)
	if !ok {
		return "", 0, false
	}
	fc, ok := call.Expr.(*ast.FuncCallExpr)
	if !ok || fc.Receiver != nil || len(fc.Args) != 1 {
		return "", 0, false
	}
	ident, ok := fc.Func.(*ast.IdentExpr)
	if !ok || ident.Value != directiveName {
		return "", 0, false
	}
	arg, ok := fc.Args[0].(*ast.StringExpr)
	if !ok {
		return "", 0, false
	}
	return arg.Value, stmt.Line(), true
}

func (a *analyzer) warn(line int, msg string) {
	a.out.warnings = append(a.out.warnings, Diagnostic{Line: line, Message: msg})
}

func (a *analyzer) push() { a.scopes = append(a.scopes, map[string]bool{}) }
func (a *analyzer) pop()  { a.scopes = a.scopes[:len(a.scopes)-1] }

func (a *analyzer) declare(line int, names ...string) {
	for _, n := range names {
		a.name(line, n)
		a.scopes[len(a.scopes)-1][n] = true
	}
}

func (a *analyzer) isLocal(n string) bool {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if a.scopes[i][n] {
			return true
		}
	}
	return false
}

// name enforces the reserved prefix on an identifier or field name.
func (a *analyzer) name(line int, n string) {
	if a.out.restricted == nil && strings.HasPrefix(n, ReservedPrefix) {
		a.out.restricted = &Diagnostic{Line: line, Message: fmt.Sprintf("name %q is reserved", n)}
	}
}

func (a *analyzer) gate(line int, f FeatureSet, what string) {
	if a.out.feature == nil && !a.inForce.Has(f) {
		a.out.feature = &Diagnostic{
			Line:    line,
			Message: fmt.Sprintf("%s requires feature %q", what, f.String()),
		}
	}
}

func (a *analyzer) stmts(list []ast.Stmt) {
	for _, s := range list {
		a.stmt(s)
	}
}

func (a *analyzer) block(list []ast.Stmt) {
	a.push()
	a.stmts(list)
	a.pop()
}

func (a *analyzer) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.AssignStmt:
		for _, lhs := range s.Lhs {
			if id, ok := lhs.(*ast.IdentExpr); ok && protectedGlobals[id.Value] && !a.isLocal(id.Value) {
				a.warn(s.Line(), fmt.Sprintf("assignment to protected global %q", id.Value))
			}
		}
		a.exprs(s.Lhs)
		a.exprs(s.Rhs)
	case *ast.LocalAssignStmt:
		a.exprs(s.Exprs)
		a.declare(s.Line(), s.Names...)
	case *ast.FuncCallStmt:
		a.expr(s.Expr)
	case *ast.DoBlockStmt:
		a.block(s.Stmts)
	case *ast.WhileStmt:
		a.expr(s.Condition)
		a.block(s.Stmts)
	case *ast.RepeatStmt:
		// The condition sees the body's locals.
		a.push()
		a.stmts(s.Stmts)
		a.expr(s.Condition)
		a.pop()
	case *ast.IfStmt:
		a.expr(s.Condition)
		a.block(s.Then)
		a.block(s.Else)
	case *ast.NumberForStmt:
		a.expr(s.Init)
		a.expr(s.Limit)
		if s.Step != nil {
			a.expr(s.Step)
		}
		a.push()
		a.declare(s.Line(), s.Name)
		a.stmts(s.Stmts)
		a.pop()
	case *ast.GenericForStmt:
		a.exprs(s.Exprs)
		a.push()
		a.declare(s.Line(), s.Names...)
		a.stmts(s.Stmts)
		a.pop()
	case *ast.FuncDefStmt:
		a.funcDef(s)
	case *ast.ReturnStmt:
		a.exprs(s.Exprs)
	case *ast.BreakStmt:
	case *ast.LabelStmt:
		a.gate(s.Line(), FeatureGoto, "label")
		a.name(s.Line(), s.Name)
	case *ast.GotoStmt:
		a.gate(s.Line(), FeatureGoto, "goto")
		a.name(s.Line(), s.Label)
	}
}

func (a *analyzer) funcDef(s *ast.FuncDefStmt) {
	fn := s.Name
	if fn.Receiver != nil {
		a.expr(fn.Receiver)
		a.name(s.Line(), fn.Method)
	} else {
		if id, ok := fn.Func.(*ast.IdentExpr); ok && protectedGlobals[id.Value] && !a.isLocal(id.Value) {
			a.warn(s.Line(), fmt.Sprintf("assignment to protected global %q", id.Value))
		}
		a.expr(fn.Func)
	}
	a.function(s.Func)
}

func (a *analyzer) function(f *ast.FunctionExpr) {
	a.depth++
	a.push()
	if f.ParList != nil {
		a.declare(f.Line(), f.ParList.Names...)
	}
	a.stmts(f.Stmts)
	a.pop()
	a.depth--
}

func (a *analyzer) exprs(list []ast.Expr) {
	for _, e := range list {
		a.expr(e)
	}
}

func (a *analyzer) expr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.NumberExpr:
		if validNumber(e.Value) {
			break
		}
		if v, ok := hexValue(e.Value); ok {
			// gopher-lua only converts hex literals that fit int64.
			e.Value = strconv.FormatFloat(v, 'g', -1, 64)
			break
		}
		if a.out.literal == nil {
			a.out.literal = &Diagnostic{
				Line:    e.Line(),
				Message: fmt.Sprintf("malformed number %q", strings.TrimRight(e.Value, " \t\n\xff")),
			}
		}
	case *ast.Comma3Expr:
		if a.depth == 0 {
			a.gate(e.Line(), FeatureVarargs, "'...' in the main chunk")
		}
	case *ast.IdentExpr:
		a.name(e.Line(), e.Value)
	case *ast.AttrGetExpr:
		a.expr(e.Object)
		if k, ok := e.Key.(*ast.StringExpr); ok {
			a.name(e.Line(), k.Value)
		} else {
			a.expr(e.Key)
		}
	case *ast.TableExpr:
		for _, f := range e.Fields {
			if k, ok := f.Key.(*ast.StringExpr); ok {
				a.name(e.Line(), k.Value)
			} else if f.Key != nil {
				a.expr(f.Key)
			}
			a.expr(f.Value)
		}
	case *ast.FuncCallExpr:
		if e.Receiver != nil {
			a.expr(e.Receiver)
			a.name(e.Line(), e.Method)
		} else {
			a.expr(e.Func)
		}
		a.exprs(e.Args)
	case *ast.LogicalOpExpr:
		a.expr(e.Lhs)
		a.expr(e.Rhs)
	case *ast.RelationalOpExpr:
		a.expr(e.Lhs)
		a.expr(e.Rhs)
	case *ast.StringConcatOpExpr:
		a.expr(e.Lhs)
		a.expr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		a.expr(e.Lhs)
		a.expr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		a.expr(e.Expr)
	case *ast.UnaryNotOpExpr:
		a.expr(e.Expr)
	case *ast.UnaryLenOpExpr:
		a.expr(e.Expr)
	case *ast.FunctionExpr:
		a.function(e)
	}
}

// validNumber reports whether a scanned numeric literal converts cleanly.
// The scanner accepts malformed exponents that would otherwise compile
// to NaN.
func validNumber(s string) bool {
	s = strings.Trim(s, " \t\n")
	if _, err := strconv.ParseInt(s, 0, 64); err == nil {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// hexValue converts a hex integer literal of any length to a float, the
// way Lua reads one that overflows.
func hexValue(s string) (float64, bool) {
	s = strings.Trim(s, " \t\n")
	if len(s) < 3 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return 0, false
	}
	var v float64
	for _, c := range s[2:] {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'f':
			d = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int(c-'A') + 10
		default:
			return 0, false
		}
		v = v*16 + float64(d)
	}
	return v, true
}

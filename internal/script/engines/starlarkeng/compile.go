package starlarkeng

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	scriptFilename = "validation.star"

	// mainFunc wraps files that return at top level.
	mainFunc = "_validation_main"
	// returnedVar receives the value returned by mainFunc.
	returnedVar = "_validation_returned"
	// resultVar is read when the script does not return at top level.
	resultVar = "result"
)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// program is a compiled script plus how to find its result.
type program struct {
	prog    *starlark.Program
	wrapped bool
}

func compile(source string) (*program, *script.Error) {
	f, err := fileOptions.Parse(scriptFilename, source, 0)
	if err != nil {
		return nil, syntaxError(err)
	}
	wrapped := wrapTopLevelReturn(f)

	prog, err := starlark.FileProgram(f, isPredeclared)
	if err != nil {
		return nil, syntaxError(err)
	}
	return &program{prog: prog, wrapped: wrapped}, nil
}

// wrapTopLevelReturn rewrites a file containing a return statement outside
// any function into
//
//	def _validation_main():
//	    <original statements>
//	_validation_returned = _validation_main()
//
// keeping the original positions, so diagnostics point at the user's lines.
func wrapTopLevelReturn(f *syntax.File) bool {
	if len(f.Stmts) == 0 || !hasTopLevelReturn(f) {
		return false
	}
	start, _ := f.Stmts[0].Span()

	def := &syntax.DefStmt{
		Def:  start,
		Name: &syntax.Ident{NamePos: start, Name: mainFunc},
		Body: f.Stmts,
	}
	call := &syntax.AssignStmt{
		OpPos: start,
		Op:    syntax.EQ,
		LHS:   &syntax.Ident{NamePos: start, Name: returnedVar},
		RHS: &syntax.CallExpr{
			Fn:     &syntax.Ident{NamePos: start, Name: mainFunc},
			Lparen: start,
			Rparen: start,
		},
	}
	f.Stmts = []syntax.Stmt{def, call}
	return true
}

func hasTopLevelReturn(f *syntax.File) bool {
	found := false
	for _, stmt := range f.Stmts {
		syntax.Walk(stmt, func(n syntax.Node) bool {
			switch n.(type) {
			case *syntax.DefStmt, *syntax.LambdaExpr:
				return false
			case *syntax.ReturnStmt:
				found = true
				return false
			}
			return !found
		})
		if found {
			return true
		}
	}
	return false
}

func syntaxError(err error) *script.Error {
	var se syntax.Error
	if errors.As(err, &se) {
		return script.NewSyntaxError(se.Msg, int(se.Pos.Line))
	}
	var list resolve.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return script.NewSyntaxError(list[0].Msg, int(list[0].Pos.Line))
	}
	return script.NewSyntaxError(err.Error(), 0)
}

// runtimeError maps an evaluation failure to a runtime error carrying the
// line of the innermost frame that belongs to the script.
func runtimeError(err error) *script.Error {
	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return script.NewRuntimeError(err.Error())
	}
	se := script.NewRuntimeError(evalErr.Msg)
	for i := len(evalErr.CallStack) - 1; i >= 0; i-- {
		if line := evalErr.CallStack[i].Pos.Line; line > 0 {
			se.Line = int(line)
			break
		}
	}
	return se
}

func encodeProgram(p *program) ([]byte, error) {
	var buf bytes.Buffer
	if p.wrapped {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := p.prog.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeProgram(data []byte) (*program, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty compiled program")
	}
	prog, err := starlark.CompiledProgram(bytes.NewReader(data[1:]))
	if err != nil {
		return nil, err
	}
	return &program{prog: prog, wrapped: data[0] == 1}, nil
}

//go:build amd64

package jit

import (
	"github.com/pkg/errors"

	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/parser"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// Program is a JIT-compiled whole program: every non-native function in
// reg compiled and mapped executable, ready to run from its top-level
// entry point.
type Program struct {
	pages   map[int]*execPage
	topID   int
	topType types.Type
}

// CompileProgram compiles every function in reg. It fails closed: if any
// single function falls outside Compile's scope (a CALL, a PRINT, or a
// closure read — see compiler.go), the whole program is rejected and the
// caller should fall back to internal/interpreter instead of running a
// partially-compiled program.
func CompileProgram(reg *code.Registry) (*Program, error) {
	p := &Program{pages: make(map[int]*execPage)}

	top, ok := reg.FunctionByName(parser.TopFunctionName)
	if !ok {
		return nil, errors.New("jit: registry has no top-level function")
	}
	p.topID = top.ID
	p.topType = top.ReturnType

	for _, fn := range reg.Functions() {
		compiled, err := Compile(fn)
		if err != nil {
			return nil, errors.Wrapf(err, "jit: compiling %s", fn.Name)
		}
		page, err := allocExec(compiled.Code)
		if err != nil {
			return nil, errors.Wrapf(err, "jit: mapping %s", fn.Name)
		}
		p.pages[fn.ID] = page
	}
	return p, nil
}

// Run executes the program's top-level function and returns its result
// (a 0 value on the side that doesn't apply to topType, matching Run).
func (p *Program) Run() (int64, float64) {
	return Run(p.pages[p.topID], p.topType == types.Double)
}

// Close releases every mapped executable page.
func (p *Program) Close() error {
	var firstErr error
	for _, page := range p.pages {
		if err := page.Free(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

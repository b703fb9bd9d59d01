//go:build amd64

package jit

import (
	"io"
	"testing"

	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/config"
	"github.com/dzharkov/mathvm-impl/internal/interpreter"
	"github.com/dzharkov/mathvm-impl/internal/runtime"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// buildSumTo10 builds a pure, non-printing, non-recursive compute function
// (no CALL/PRINT/closure read, so squarely inside Compile's scope):
//
//	acc = 0; i = 1;
//	while (i <= 10) { acc = acc + i; i = i + 1; }
//	return acc; // 55
//
// Locals: slot 0 = acc, slot 1 = i.
func buildSumTo10(t *testing.T) (*code.Registry, *code.Function) {
	t.Helper()
	reg := code.New()
	fn := reg.AddFunction("sumTo10", nil, types.Int)
	fn.LocalsCount = 2
	buf := fn.Bytecode

	buf.AddOpcode(bytecode.ILOAD0)
	buf.AddOpcode(bytecode.STOREIVAR0) // acc = 0
	buf.AddOpcode(bytecode.ILOAD1)
	buf.AddOpcode(bytecode.STOREIVAR1) // i = 1

	loop := bytecode.NewLabel()
	exit := bytecode.NewLabel()
	if err := buf.Bind(loop); err != nil {
		t.Fatalf("Bind(loop) failed: %v", err)
	}
	buf.AddOpcode(bytecode.ILOAD)
	buf.AddInt64(10)
	buf.AddOpcode(bytecode.LOADIVAR1)
	buf.AddBranch(bytecode.IFICMPG, exit) // i > 10 -> exit

	buf.AddOpcode(bytecode.LOADIVAR0)
	buf.AddOpcode(bytecode.LOADIVAR1)
	buf.AddOpcode(bytecode.IADD)
	buf.AddOpcode(bytecode.STOREIVAR0) // acc = acc + i

	buf.AddOpcode(bytecode.LOADIVAR1)
	buf.AddOpcode(bytecode.ILOAD1)
	buf.AddOpcode(bytecode.IADD)
	buf.AddOpcode(bytecode.STOREIVAR1) // i = i + 1

	buf.AddBranch(bytecode.JA, loop)
	if err := buf.Bind(exit); err != nil {
		t.Fatalf("Bind(exit) failed: %v", err)
	}
	buf.AddOpcode(bytecode.LOADIVAR0)
	buf.AddOpcode(bytecode.RETURN)

	return reg, fn
}

// TestJITMatchesInterpreter runs the same pure-compute function through
// both backends and checks they agree, directly exercising §8 invariant 4
// (interpreter/JIT output parity) on the JIT's actual code path rather
// than only its interpreter-fallback path.
func TestJITMatchesInterpreter(t *testing.T) {
	reg, fn := buildSumTo10(t)

	interp := interpreter.New(reg, runtime.Default(), io.Discard, config.Default())
	if err := interp.Execute(fn.ID); err != nil {
		t.Fatalf("interpreter Execute failed: %v", err)
	}
	wantInt, _ := interp.Result(false)

	compiled, err := Compile(fn)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	page, err := allocExec(compiled.Code)
	if err != nil {
		t.Fatalf("allocExec failed: %v", err)
	}
	defer page.Free()
	gotInt, _ := Run(page, false)

	if wantInt != 55 {
		t.Fatalf("interpreter result = %d, want 55", wantInt)
	}
	if gotInt != wantInt {
		t.Fatalf("JIT result = %d, interpreter result = %d; backends disagree", gotInt, wantInt)
	}
}

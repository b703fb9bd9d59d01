//go:build amd64

package jit

import (
	"testing"

	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// buildAdder builds a zero-argument "<top>"-shaped function computing
// (2 + 3) * 4 and returning it as a hand-built stream:
// ILOAD/ILOAD/IADD/ILOAD/IMUL/RETURN.
func buildAdder(t *testing.T) *code.Function {
	t.Helper()
	reg := code.New()
	fn := reg.AddFunction("adder", nil, types.Int)
	buf := fn.Bytecode
	buf.AddOpcode(bytecode.ILOAD)
	buf.AddInt64(2)
	buf.AddOpcode(bytecode.ILOAD)
	buf.AddInt64(3)
	buf.AddOpcode(bytecode.IADD)
	buf.AddOpcode(bytecode.ILOAD)
	buf.AddInt64(4)
	buf.AddOpcode(bytecode.IMUL)
	buf.AddOpcode(bytecode.RETURN)
	return fn
}

func TestCompileSimpleArithmetic(t *testing.T) {
	fn := buildAdder(t)
	compiled, err := Compile(fn)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(compiled.Code) == 0 {
		t.Fatalf("expected non-empty machine code")
	}
	// Last byte emitted by emitReturn's epilogue is always RET (0xC3).
	if compiled.Code[len(compiled.Code)-1] != 0xC3 {
		t.Fatalf("expected machine code to end in RET, got %#x", compiled.Code[len(compiled.Code)-1])
	}
}

func TestCompileRejectsPrint(t *testing.T) {
	reg := code.New()
	fn := reg.AddFunction("printer", nil, types.Void)
	buf := fn.Bytecode
	buf.AddOpcode(bytecode.ILOAD)
	buf.AddInt64(1)
	buf.AddOpcode(bytecode.IPRINT)
	buf.AddOpcode(bytecode.RETURN)

	if _, err := Compile(fn); err == nil {
		t.Fatalf("expected Compile to reject a function containing IPRINT")
	}
}

func TestCompileRejectsCall(t *testing.T) {
	reg := code.New()
	callee := reg.AddFunction("callee", nil, types.Int)
	callee.Bytecode.AddOpcode(bytecode.ILOAD0)
	callee.Bytecode.AddOpcode(bytecode.RETURN)

	fn := reg.AddFunction("caller", nil, types.Int)
	buf := fn.Bytecode
	buf.AddOpcode(bytecode.CALL)
	buf.AddUint16(uint16(callee.ID))
	buf.AddOpcode(bytecode.RETURN)

	if _, err := Compile(fn); err == nil {
		t.Fatalf("expected Compile to reject a function containing CALL")
	}
}

func TestCompileRejectsClosureRead(t *testing.T) {
	reg := code.New()
	outer := reg.AddFunction("outer", nil, types.Void)

	fn := reg.AddFunction("inner", nil, types.Int)
	buf := fn.Bytecode
	buf.AddOpcode(bytecode.LOADCTXIVAR)
	buf.AddUint16(uint16(outer.ID))
	buf.AddUint16(0)
	buf.AddOpcode(bytecode.RETURN)

	if _, err := Compile(fn); err == nil {
		t.Fatalf("expected Compile to reject a function reading an outer closure frame")
	}
}

func TestCompileHandlesBranch(t *testing.T) {
	// upper 0, lower 1: IFICMPLE (0 <= 1) branches to the else arm, which
	// returns 0 -- exercises IFICMPLE plus two RETURN epilogues and the
	// pending-relocation patch pass in run().
	reg := code.New()
	fn := reg.AddFunction("cmp", nil, types.Int)
	buf := fn.Bytecode

	elseLabel := bytecode.NewLabel()
	buf.AddOpcode(bytecode.ILOAD1)
	buf.AddOpcode(bytecode.ILOAD0)
	buf.AddBranch(bytecode.IFICMPLE, elseLabel)
	buf.AddOpcode(bytecode.ILOAD1)
	buf.AddOpcode(bytecode.RETURN)
	if err := buf.Bind(elseLabel); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	buf.AddOpcode(bytecode.ILOAD0)
	buf.AddOpcode(bytecode.RETURN)

	compiled, err := Compile(fn)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(compiled.Code) == 0 {
		t.Fatalf("expected non-empty machine code")
	}
}

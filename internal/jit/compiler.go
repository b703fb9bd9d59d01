//go:build amd64

package jit

import (
	"math"

	"github.com/dzharkov/mathvm-impl/internal/annotate"
	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/mverr"
)

// Compiled is one function's machine code; its intra-function branches
// are already patched by Compile (see the scope note on Compile).
type Compiled struct {
	FuncID int
	Code   []byte
}

// Compile lowers a single function's bytecode to x86-64 System V machine
// code per §4.8, using the RBP-relative frame (max_stack+locals slots) and
// the memory-backed abstract stack scoped down in DESIGN.md: operand-stack
// slots live at fixed, compile-time-known frame offsets (annotate's
// StackIn depth determines the slot index at every instruction) rather
// than through a runtime stack pointer or cross-call register pinning.
//
// Scope: a compiled function may not contain CALL, CALLNATIVE, or a
// PRINT instruction, and may not read another frame's closure
// (UsesClosure). All of these cross into Go (a callee frame, the native
// table, or stdout) and this compiler's memory-backed model doesn't
// reach across that boundary (see DESIGN.md); Compile reports an error
// for those and the caller falls back to the interpreter for the whole
// program.
func Compile(fn *code.Function) (*Compiled, error) {
	a := annotate.Build(fn)
	if a.UsesClosure {
		return nil, mverr.New(mverr.JIT, mverr.Position{}, "function %s: JIT does not cross closure frames", fn.Name)
	}
	for _, instr := range a.Instructions {
		switch instr.Opcode {
		case bytecode.CALL, bytecode.CALLNATIVE, bytecode.IPRINT, bytecode.DPRINT, bytecode.SPRINT:
			return nil, mverr.New(mverr.JIT, mverr.Position{}, "function %s: JIT does not lower %s", fn.Name, instr.Opcode)
		}
	}

	c := &funcCompiler{fn: fn, a: a, e: NewEncoder()}
	if err := c.run(); err != nil {
		return nil, err
	}
	return &Compiled{FuncID: fn.ID, Code: c.e.Bytes()}, nil
}

// frame layout, all offsets negative from RBP:
//
//	locals:      [rbp-8*(i+1)]                for i in [0, LocalsCount)
//	stack slots: [rbp-8*LocalsCount-8*(d+1)]  for depth d in [0, MaxStack)
type funcCompiler struct {
	fn *code.Function
	a  *annotate.Annotated
	e  *Encoder

	pending []patch
}

type patch struct {
	site   int
	target int // instruction index
}

func (c *funcCompiler) localOff(i int) int32 { return int32(-8 * (i + 1)) }

// stackSlot returns the frame offset for operand-stack depth d (0-based,
// counted from the bottom of the operand region, directly below locals).
func (c *funcCompiler) stackSlot(d int) int32 {
	return -8*int32(c.fn.LocalsCount) - 8*int32(d+1)
}

func (c *funcCompiler) run() error {
	frameSize := 8 * (c.fn.LocalsCount + c.a.MaxStack + 2)
	if frameSize%16 != 0 {
		frameSize += 8
	}

	c.e.PushReg(RBP)
	c.e.MovRegReg(RBP, RSP)
	c.e.SubRspImm32(int32(frameSize))

	// Incoming integer/string parameters arrive in RDI,RSI,RDX,RCX,R8,R9
	// per System V; copy them into this frame's local slots. Since CALL is
	// never JIT-lowered (see Compile's scope note), a compiled function is
	// only ever entered directly as the program's top-level function,
	// which MathVM always declares with zero parameters, so the double
	// (XMM0-7) half of this copy is unreached and intentionally omitted.
	argRegs := []reg{RDI, RSI, RDX, RCX, R8, R9}
	for i := range c.fn.Params {
		if i < len(argRegs) {
			c.e.MovMemReg(c.localOff(i), argRegs[i])
		}
	}

	c.pending = nil
	instrAddr := make([]int, len(c.a.Instructions))

	for idx := 0; idx < len(c.a.Instructions); idx++ {
		instrAddr[idx] = c.e.Len()
		if err := c.lower(idx, instrAddr); err != nil {
			return err
		}
	}

	for _, p := range c.pending {
		c.e.PatchRel32(p.site, instrAddr[p.target])
	}
	return nil
}

func (c *funcCompiler) branch(target int) {
	site := c.e.JmpRel32()
	c.pending = append(c.pending, patch{site, target})
}

func (c *funcCompiler) jcc(cc condCode, target int) {
	site := c.e.JccRel32(cc)
	c.pending = append(c.pending, patch{site, target})
}

// lower emits one instruction's machine code. depth is read from the
// instruction's own StackIn (computed before it runs). Each instruction
// is lowered on its own: there is no look-ahead and no multi-instruction
// fusion.
func (c *funcCompiler) lower(idx int, instrAddr []int) error {
	instr := c.a.Instructions[idx]
	depth := len(instr.StackIn)

	switch instr.Opcode {
	case bytecode.ILOAD0:
		c.storeIntImm(depth, 0)
	case bytecode.ILOAD1:
		c.storeIntImm(depth, 1)
	case bytecode.ILOADM1:
		c.storeIntImm(depth, -1)
	case bytecode.ILOAD, bytecode.SLOAD:
		c.storeIntImm(depth, instr.Arg1)
	case bytecode.DLOAD0:
		c.storeBitsImm(depth, int64(math.Float64bits(0)))
	case bytecode.DLOAD1:
		c.storeBitsImm(depth, int64(math.Float64bits(1)))
	case bytecode.DLOADM1:
		c.storeBitsImm(depth, int64(math.Float64bits(-1)))
	case bytecode.DLOAD:
		c.storeBitsImm(depth, instr.Arg1)

	case bytecode.IADD:
		c.intBin(depth, c.e.AddRegReg)
	case bytecode.ISUB:
		c.intBinSub(depth)
	case bytecode.IMUL:
		c.intBin(depth, func(d, s reg) { c.e.IMulRegReg(d, s) })
	case bytecode.IDIV:
		c.intDiv(depth, RAX)
	case bytecode.IMOD:
		c.intDiv(depth, RDX)
	case bytecode.IAOR:
		c.intBin(depth, c.e.OrRegReg)
	case bytecode.IAAND:
		c.intBin(depth, c.e.AndRegReg)
	case bytecode.IAXOR:
		c.intBin(depth, c.e.XorRegReg)
	case bytecode.INEG:
		c.e.MovRegMem(RAX, c.stackSlot(depth-1))
		c.e.NegReg(RAX)
		c.e.MovMemReg(c.stackSlot(depth-1), RAX)

	case bytecode.DADD:
		c.dblBin(depth, c.e.AddsdRegReg)
	case bytecode.DSUB:
		c.dblBinSub(depth)
	case bytecode.DMUL:
		c.dblBin(depth, c.e.MulsdRegReg)
	case bytecode.DDIV:
		c.dblBinDiv(depth)
	case bytecode.DNEG:
		c.e.MovsdRegMem(0, c.stackSlot(depth-1))
		c.e.XorpdRegReg(1, 1)
		c.e.SubsdRegReg(1, 0)
		c.e.MovsdMemReg(c.stackSlot(depth-1), 1)

	case bytecode.ICMP:
		c.icmp(depth)
	case bytecode.DCMP:
		c.dcmp(depth)

	case bytecode.I2D:
		c.e.MovRegMem(RAX, c.stackSlot(depth-1))
		c.e.Cvtsi2sd(0, RAX)
		c.e.MovsdMemReg(c.stackSlot(depth-1), 0)
	case bytecode.D2I:
		c.e.MovsdRegMem(0, c.stackSlot(depth-1))
		c.e.Cvttsd2si(RAX, 0)
		c.e.MovMemReg(c.stackSlot(depth-1), RAX)
	case bytecode.S2I:
		// identity: the interned id is already the integer value in-slot.

	case bytecode.POP:
		// no-op at this frame layout: the slot is simply not read again.

	case bytecode.LOADIVAR0, bytecode.LOADIVAR1, bytecode.LOADIVAR2, bytecode.LOADIVAR3,
		bytecode.LOADDVAR0, bytecode.LOADDVAR1, bytecode.LOADDVAR2, bytecode.LOADDVAR3,
		bytecode.LOADSVAR0, bytecode.LOADSVAR1, bytecode.LOADSVAR2, bytecode.LOADSVAR3:
		c.loadLocalShort(instr.Opcode, depth)
	case bytecode.LOADIVAR, bytecode.LOADDVAR, bytecode.LOADSVAR:
		c.copySlot(c.stackSlot(depth), c.localOff(int(instr.Arg1)))
	case bytecode.STOREIVAR0, bytecode.STOREIVAR1, bytecode.STOREIVAR2, bytecode.STOREIVAR3,
		bytecode.STOREDVAR0, bytecode.STOREDVAR1, bytecode.STOREDVAR2, bytecode.STOREDVAR3,
		bytecode.STORESVAR0, bytecode.STORESVAR1, bytecode.STORESVAR2, bytecode.STORESVAR3:
		c.storeLocalShort(instr.Opcode, depth)
	case bytecode.STOREIVAR, bytecode.STOREDVAR, bytecode.STORESVAR:
		c.copySlot(c.localOff(int(instr.Arg1)), c.stackSlot(depth-1))

	case bytecode.JA:
		c.branch(int(instr.Arg1))

	case bytecode.IFICMPE, bytecode.IFICMPNE, bytecode.IFICMPL, bytecode.IFICMPLE, bytecode.IFICMPG, bytecode.IFICMPGE:
		// "comparison-to-branch" peephole: condTrue(op, upper, lower) tests
		// upper <op> lower directly, so CMP upper,lower followed by the
		// same-named Jcc reproduces it with no inversion.
		c.e.MovRegMem(RAX, c.stackSlot(depth-1)) // upper
		c.e.MovRegMem(RDX, c.stackSlot(depth-2)) // lower
		c.e.CmpRegReg(RAX, RDX)
		c.jcc(jccFor(instr.Opcode), int(instr.Arg1))

	case bytecode.RETURN:
		c.emitReturn(depth)

	default:
		return mverr.New(mverr.JIT, mverr.Position{}, "function %s: opcode %s has no JIT lowering", c.fn.Name, instr.Opcode)
	}
	return nil
}

// emitReturn moves the top-of-stack result (if any) into the System V
// return register for its type, then restores RBP/RSP and returns —
// every compiled function has exactly one physical epilogue per RETURN
// site, mirroring the translator's single-RETURN-per-function design.
func (c *funcCompiler) emitReturn(depth int) {
	switch c.fn.ReturnType.String() {
	case "double":
		c.e.MovsdRegMem(0, c.stackSlot(depth-1))
	case "void":
		// nothing to return
	default: // int, string (string values are interned ids, carried as ints)
		c.e.MovRegMem(RAX, c.stackSlot(depth-1))
	}
	c.e.MovRegReg(RSP, RBP)
	c.e.PopReg(RBP)
	c.e.Ret()
}

func jccFor(op bytecode.Opcode) condCode {
	switch op {
	case bytecode.IFICMPE:
		return ccE
	case bytecode.IFICMPNE:
		return ccNE
	case bytecode.IFICMPL:
		return ccL
	case bytecode.IFICMPLE:
		return ccLE
	case bytecode.IFICMPG:
		return ccG
	default: // IFICMPGE
		return ccGE
	}
}

func (c *funcCompiler) storeIntImm(depth int, v int64) {
	c.e.MovRegImm64(RAX, v)
	c.e.MovMemReg(c.stackSlot(depth), RAX)
}

func (c *funcCompiler) storeBitsImm(depth int, bits int64) {
	c.e.MovRegImm64(RAX, bits)
	c.e.MovMemReg(c.stackSlot(depth), RAX)
}

func (c *funcCompiler) copySlot(dstOff, srcOff int32) {
	c.e.MovRegMem(RAX, srcOff)
	c.e.MovMemReg(dstOff, RAX)
}

func shortLocalIndex(op bytecode.Opcode) int {
	switch op {
	case bytecode.LOADIVAR0, bytecode.LOADDVAR0, bytecode.LOADSVAR0,
		bytecode.STOREIVAR0, bytecode.STOREDVAR0, bytecode.STORESVAR0:
		return 0
	case bytecode.LOADIVAR1, bytecode.LOADDVAR1, bytecode.LOADSVAR1,
		bytecode.STOREIVAR1, bytecode.STOREDVAR1, bytecode.STORESVAR1:
		return 1
	case bytecode.LOADIVAR2, bytecode.LOADDVAR2, bytecode.LOADSVAR2,
		bytecode.STOREIVAR2, bytecode.STOREDVAR2, bytecode.STORESVAR2:
		return 2
	default:
		return 3
	}
}

func (c *funcCompiler) loadLocalShort(op bytecode.Opcode, depth int) {
	c.copySlot(c.stackSlot(depth), c.localOff(shortLocalIndex(op)))
}

func (c *funcCompiler) storeLocalShort(op bytecode.Opcode, depth int) {
	c.copySlot(c.localOff(shortLocalIndex(op)), c.stackSlot(depth-1))
}

// intBin/intBinSub: upper = slot[depth-1] (pushed last == left operand),
// lower = slot[depth-2]; result replaces slot[depth-2].
func (c *funcCompiler) intBin(depth int, op func(dst, src reg)) {
	c.e.MovRegMem(RAX, c.stackSlot(depth-1)) // upper
	c.e.MovRegMem(RDX, c.stackSlot(depth-2)) // lower
	op(RAX, RDX)
	c.e.MovMemReg(c.stackSlot(depth-2), RAX)
}

func (c *funcCompiler) intBinSub(depth int) {
	c.e.MovRegMem(RAX, c.stackSlot(depth-1)) // upper
	c.e.MovRegMem(RDX, c.stackSlot(depth-2)) // lower
	c.e.SubRegReg(RAX, RDX)
	c.e.MovMemReg(c.stackSlot(depth-2), RAX)
}

// intDiv: IDIV/IMOD both divide upper by lower (upper op lower = left op
// right, per the translator's push convention); result lands in RAX
// (quotient, for IDIV) or RDX (remainder, for IMOD).
func (c *funcCompiler) intDiv(depth int, resultReg reg) {
	c.e.MovRegMem(RAX, c.stackSlot(depth-1)) // upper (dividend)
	c.e.MovRegMem(RCX, c.stackSlot(depth-2)) // lower (divisor)
	c.e.Cqo()
	c.e.IDivReg(RCX)
	c.e.MovMemReg(c.stackSlot(depth-2), resultReg)
}

func (c *funcCompiler) dblBin(depth int, op func(dst, src reg)) {
	c.e.MovsdRegMem(0, c.stackSlot(depth-1)) // upper -> xmm0
	c.e.MovsdRegMem(1, c.stackSlot(depth-2)) // lower -> xmm1
	op(0, 1)
	c.e.MovsdMemReg(c.stackSlot(depth-2), 0)
}

func (c *funcCompiler) dblBinSub(depth int) {
	c.e.MovsdRegMem(0, c.stackSlot(depth-1))
	c.e.MovsdRegMem(1, c.stackSlot(depth-2))
	c.e.SubsdRegReg(0, 1)
	c.e.MovsdMemReg(c.stackSlot(depth-2), 0)
}

func (c *funcCompiler) dblBinDiv(depth int) {
	c.e.MovsdRegMem(0, c.stackSlot(depth-1))
	c.e.MovsdRegMem(1, c.stackSlot(depth-2))
	c.e.DivsdRegReg(0, 1)
	c.e.MovsdMemReg(c.stackSlot(depth-2), 0)
}

// icmp/dcmp implement the CompareInt/CompareDouble sign convention (§3)
// by hand: result = (upper>lower) - (upper<lower), written with SETcc
// twice rather than a branch, since this value often feeds the
// "comparison-to-branch" peephole's own CMP and would otherwise be
// computed and then immediately discarded.
func (c *funcCompiler) icmp(depth int) {
	c.e.MovRegMem(RAX, c.stackSlot(depth-1)) // upper
	c.e.MovRegMem(RDX, c.stackSlot(depth-2)) // lower
	c.e.CmpRegReg(RAX, RDX)
	c.e.SetccAL(ccG)
	c.e.MovzxRegAL(RCX)
	c.e.CmpRegReg(RAX, RDX)
	c.e.SetccAL(ccL)
	c.e.MovzxRegAL(RAX)
	c.e.SubRegReg(RCX, RAX)
	c.e.MovMemReg(c.stackSlot(depth-2), RCX)
}

func (c *funcCompiler) dcmp(depth int) {
	c.e.MovsdRegMem(0, c.stackSlot(depth-1)) // upper
	c.e.MovsdRegMem(1, c.stackSlot(depth-2)) // lower
	c.e.UcomisdRegReg(0, 1)
	c.e.SetccAL(ccA)
	c.e.MovzxRegAL(RCX)
	c.e.UcomisdRegReg(0, 1)
	c.e.SetccAL(ccB)
	c.e.MovzxRegAL(RAX)
	c.e.SubRegReg(RCX, RAX)
	c.e.MovMemReg(c.stackSlot(depth-2), RCX)
}

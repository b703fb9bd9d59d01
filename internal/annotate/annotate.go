// Package annotate implements the annotated-bytecode builder of §4.7, the
// JIT's prerequisite pass: a linear decode of each function's byte stream
// into instruction records, followed by a BFS abstract-stack-shape
// propagation that computes every instruction's stack shape, the
// function's max_stack_size, and whether it touches another function's
// closure frame.
package annotate

import (
	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// Instruction is one decoded bytecode instruction: its opcode, any
// immediate argument(s), and (once pass 2 has run) the abstract stack
// shape in effect just before it executes.
type Instruction struct {
	Opcode    bytecode.Opcode
	ByteOff   int
	Arg1      int64 // first immediate (slot id, ctx id, branch target index, function id...)
	Arg2      int64 // second immediate (ctx access's slot id)
	IsLabel   bool  // some other instruction branches here
	StackIn   []types.Type
}

// Annotated is the result handed to the JIT: per-function instruction
// list, offset->index table, max stack size, and closure usage.
type Annotated struct {
	Instructions []Instruction
	OffsetToIdx  map[int]int
	MaxStack     int
	UsesClosure  bool
}

// Build runs both passes of §4.7 over fn's bytecode.
func Build(fn *code.Function) *Annotated {
	a := &Annotated{OffsetToIdx: make(map[int]int)}
	decode(fn, a)
	propagate(a)
	return a
}

// decode is pass 1: a single linear walk producing the instruction array
// and the byte-offset -> instruction-index table; branch instructions
// resolve their relative offset into a target instruction index.
func decode(fn *code.Function, a *Annotated) {
	buf := fn.Bytecode
	data := buf.Bytes()
	ip := 0
	for ip < len(data) {
		off := ip
		op := buf.GetOpcode(ip)
		a.OffsetToIdx[off] = len(a.Instructions)
		instr := Instruction{Opcode: op, ByteOff: off}
		ip++

		switch op {
		case bytecode.ILOAD, bytecode.DLOAD:
			instr.Arg1 = bytecode.GetInt64(data, ip)
			ip += 8
		case bytecode.SLOAD,
			bytecode.LOADIVAR, bytecode.LOADDVAR, bytecode.LOADSVAR,
			bytecode.STOREIVAR, bytecode.STOREDVAR, bytecode.STORESVAR,
			bytecode.CALL, bytecode.CALLNATIVE:
			instr.Arg1 = int64(bytecode.GetUint16(data, ip))
			ip += 2
		case bytecode.LOADCTXIVAR, bytecode.LOADCTXDVAR, bytecode.LOADCTXSVAR,
			bytecode.STORECTXIVAR, bytecode.STORECTXDVAR, bytecode.STORECTXSVAR:
			instr.Arg1 = int64(bytecode.GetUint16(data, ip))
			instr.Arg2 = int64(bytecode.GetUint16(data, ip+2))
			ip += 4
			if int(instr.Arg1) != fn.ID {
				a.UsesClosure = true
			}
		case bytecode.JA, bytecode.IFICMPE, bytecode.IFICMPNE,
			bytecode.IFICMPL, bytecode.IFICMPLE, bytecode.IFICMPG, bytecode.IFICMPGE:
			rel := int(bytecode.GetInt16(data, ip))
			target := ip + 2 + rel
			instr.Arg1 = int64(target) // byte offset; resolved to index below
			ip += 2
		}
		a.Instructions = append(a.Instructions, instr)
	}
	// Resolve branch targets (byte offsets) to instruction indices now that
	// every instruction has been decoded.
	for i := range a.Instructions {
		instr := &a.Instructions[i]
		if instr.Opcode.IsBranch() {
			if idx, ok := a.OffsetToIdx[int(instr.Arg1)]; ok {
				instr.Arg1 = int64(idx)
				a.Instructions[idx].IsLabel = true
			}
		}
	}
}

// pushed/popped model the table in §4.7: pushedType(Invalid) means "no
// push"; popped is a count (binary arithmetic/bitwise ops and the compares
// pop both operands and push one result, a net depth change of -1).
func effect(op bytecode.Opcode, argInt64 int64) (popped int, pushed types.Type) {
	switch op {
	case bytecode.DLOAD, bytecode.DLOAD0, bytecode.DLOAD1, bytecode.DLOADM1:
		return 0, types.Double
	case bytecode.ILOAD, bytecode.ILOAD0, bytecode.ILOAD1, bytecode.ILOADM1,
		bytecode.SLOAD, bytecode.SLOAD0:
		return 0, types.Int
	case bytecode.DADD, bytecode.DSUB, bytecode.DMUL, bytecode.DDIV:
		return 2, types.Double
	case bytecode.IADD, bytecode.ISUB, bytecode.IMUL, bytecode.IDIV, bytecode.IMOD,
		bytecode.IAOR, bytecode.IAAND, bytecode.IAXOR:
		return 2, types.Int
	case bytecode.DNEG:
		return 1, types.Double
	case bytecode.INEG:
		return 1, types.Int
	case bytecode.DCMP:
		return 2, types.Int
	case bytecode.ICMP:
		return 2, types.Int
	case bytecode.I2D:
		return 1, types.Double
	case bytecode.D2I:
		return 1, types.Int
	case bytecode.S2I:
		return 1, types.Int
	case bytecode.POP:
		return 1, types.Invalid
	case bytecode.LOADDVAR0, bytecode.LOADDVAR1, bytecode.LOADDVAR2, bytecode.LOADDVAR3, bytecode.LOADDVAR,
		bytecode.LOADCTXDVAR:
		return 0, types.Double
	case bytecode.LOADIVAR0, bytecode.LOADIVAR1, bytecode.LOADIVAR2, bytecode.LOADIVAR3, bytecode.LOADIVAR,
		bytecode.LOADCTXIVAR:
		return 0, types.Int
	case bytecode.LOADSVAR0, bytecode.LOADSVAR1, bytecode.LOADSVAR2, bytecode.LOADSVAR3, bytecode.LOADSVAR,
		bytecode.LOADCTXSVAR:
		return 0, types.Int
	case bytecode.STOREDVAR0, bytecode.STOREDVAR1, bytecode.STOREDVAR2, bytecode.STOREDVAR3, bytecode.STOREDVAR,
		bytecode.STOREIVAR0, bytecode.STOREIVAR1, bytecode.STOREIVAR2, bytecode.STOREIVAR3, bytecode.STOREIVAR,
		bytecode.STORESVAR0, bytecode.STORESVAR1, bytecode.STORESVAR2, bytecode.STORESVAR3, bytecode.STORESVAR,
		bytecode.STORECTXDVAR, bytecode.STORECTXIVAR, bytecode.STORECTXSVAR:
		return 1, types.Invalid
	case bytecode.JA:
		return 0, types.Invalid
	case bytecode.IFICMPE, bytecode.IFICMPNE, bytecode.IFICMPL, bytecode.IFICMPLE, bytecode.IFICMPG, bytecode.IFICMPGE:
		return 2, types.Invalid
	case bytecode.IPRINT, bytecode.DPRINT, bytecode.SPRINT:
		return 1, types.Invalid
	case bytecode.RETURN:
		return 0, types.Invalid
	default:
		return 0, types.Invalid
	}
}

// propagate is pass 2: a BFS from instruction 0 with an empty abstract
// stack, computing each instruction's StackIn. CALL/CALLNATIVE's effect
// depends on the callee's signature, which this pass does not have, so
// the abstract stack passes through those two unchanged and their shape
// is not modeled; the JIT rejects functions that contain either opcode.
func propagate(a *Annotated) {
	if len(a.Instructions) == 0 {
		return
	}
	visited := make([]bool, len(a.Instructions))
	queue := []int{0}
	a.Instructions[0].StackIn = []types.Type{}

	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		if visited[idx] {
			continue
		}
		visited[idx] = true

		instr := &a.Instructions[idx]
		stack := instr.StackIn
		depth := len(stack)
		if depth > a.MaxStack {
			a.MaxStack = depth
		}

		var next []types.Type
		switch instr.Opcode {
		case bytecode.CALL, bytecode.CALLNATIVE:
			// Callee signatures are not available here; pass the stack through.
			next = stack
		case bytecode.RETURN:
			continue // no successor
		default:
			popped, pushed := effect(instr.Opcode, instr.Arg1)
			if popped > len(stack) {
				popped = len(stack)
			}
			next = append([]types.Type{}, stack[:len(stack)-popped]...)
			if pushed != types.Invalid {
				next = append(next, pushed)
			}
		}

		switch {
		case instr.Opcode == bytecode.JA:
			target := int(instr.Arg1)
			enqueue(a, &queue, visited, target, next)
		case instr.Opcode.IsBranch(): // conditional IFICMP*
			target := int(instr.Arg1)
			enqueue(a, &queue, visited, target, next)
			enqueue(a, &queue, visited, idx+1, next)
		case instr.Opcode == bytecode.RETURN:
			// unreachable, handled above
		default:
			if idx+1 < len(a.Instructions) {
				enqueue(a, &queue, visited, idx+1, next)
			}
		}
	}
}

func enqueue(a *Annotated, queue *[]int, visited []bool, target int, stack []types.Type) {
	if target < 0 || target >= len(a.Instructions) {
		return
	}
	if a.Instructions[target].StackIn == nil {
		a.Instructions[target].StackIn = stack
	}
	if !visited[target] {
		*queue = append(*queue, target)
	}
}

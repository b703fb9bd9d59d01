// Package interpreter implements the stack-machine interpreter of §4.6: a
// direct-threaded bytecode loop over three preallocated arenas (value
// stack, return-address stack, frame-start stack) plus the per-function
// "frame-start of last live call" table that backs closure variable
// access. Grounded on the teacher's execNextInstruction dispatch loop in
// vm/exec.go, generalized from a single flat program to per-function
// Code-registry lookups and CALL/RETURN frame management.
package interpreter

import (
	"io"
	"math"

	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/config"
	"github.com/dzharkov/mathvm-impl/internal/mverr"
	"github.com/dzharkov/mathvm-impl/internal/runtime"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// slot is one 64-bit value-stack cell: a union of int64 / float64 bits /
// interned-string id, exactly as §4.6 describes it. Which interpretation
// applies is always known statically from the bytecode at that point, so
// the interpreter never tags slots with a runtime type.
type slot uint64

func intSlot(v int64) slot      { return slot(v) }
func (s slot) asInt() int64     { return int64(s) }
func doubleSlot(v float64) slot { return slot(math.Float64bits(v)) }
func (s slot) asDouble() float64 { return math.Float64frombits(uint64(s)) }

type returnFrame struct {
	funcID     int
	offset     int
	prevOuter  int
}

// Interpreter owns the three arenas for the duration of one Execute call.
type Interpreter struct {
	reg     *code.Registry
	natives *runtime.NativeTable
	out     io.Writer

	valueStack []slot
	returnStk  []returnFrame
	frameStk   []int

	lastLiveCall []int // per function id, -1 = NULL
}

const noFrame = -1

func New(reg *code.Registry, natives *runtime.NativeTable, out io.Writer, cfg config.Config) *Interpreter {
	last := make([]int, reg.FunctionCount())
	for i := range last {
		last[i] = noFrame
	}
	return &Interpreter{
		reg:          reg,
		natives:      natives,
		out:          out,
		valueStack:   make([]slot, 0, cfg.MaxValueStackSlots()),
		returnStk:    make([]returnFrame, 0, cfg.MaxReturnStackDepth),
		frameStk:     make([]int, 0, cfg.MaxFrameStackDepth),
		lastLiveCall: last,
	}
}

// Execute runs the function named topID (the translated "<top>" function)
// to completion.
func (in *Interpreter) Execute(topID int) error {
	fn := in.reg.FunctionByID(topID)
	if fn == nil {
		return mverr.Fatal(mverr.Runtime, "execute: no function with id %d", topID)
	}

	frameStart := 0
	in.frameStk = append(in.frameStk, frameStart)
	in.valueStack = in.valueStack[:fn.LocalsCount]
	in.lastLiveCall[fn.ID] = frameStart

	return in.run(fn, 0)
}

// Result returns the value Execute's entry function left on top of the
// value stack (Void entry functions leave nothing; callers only read this
// when they know the entry function isn't Void). Mirrors jit.Program.Run's
// (int64, float64) shape so the two backends can be compared directly on
// the same compiled function — see internal/jit's interpreter/JIT
// cross-check test.
func (in *Interpreter) Result(isDouble bool) (int64, float64) {
	if len(in.valueStack) == 0 {
		return 0, 0
	}
	top := in.valueStack[len(in.valueStack)-1]
	if isDouble {
		return 0, top.asDouble()
	}
	return top.asInt(), 0
}

// run is the direct-threaded dispatch loop; cur/ip change on CALL/RETURN
// instead of recursing, mirroring the teacher's flat instruction pointer.
func (in *Interpreter) run(cur *code.Function, ip int) error {
	for {
		buf := cur.Bytecode
		data := buf.Bytes()
		if ip >= len(data) {
			return mverr.Fatal(mverr.Runtime, "execute: fell off the end of function %s", cur.Name)
		}
		op := buf.GetOpcode(ip)
		ip++

		frameStart := in.frameStk[len(in.frameStk)-1]

		switch op {
		case bytecode.ILOAD:
			in.push(intSlot(bytecode.GetInt64(data, ip)))
			ip += 8
		case bytecode.DLOAD:
			in.push(doubleSlot(bytecode.GetDouble(data, ip)))
			ip += 8
		case bytecode.SLOAD:
			in.push(intSlot(int64(bytecode.GetUint16(data, ip))))
			ip += 2
		case bytecode.ILOAD0:
			in.push(intSlot(0))
		case bytecode.ILOAD1:
			in.push(intSlot(1))
		case bytecode.ILOADM1:
			in.push(intSlot(-1))
		case bytecode.DLOAD0:
			in.push(doubleSlot(0))
		case bytecode.DLOAD1:
			in.push(doubleSlot(1))
		case bytecode.DLOADM1:
			in.push(doubleSlot(-1))
		case bytecode.SLOAD0:
			in.push(intSlot(runtime.EmptyStringID))

		case bytecode.IADD, bytecode.ISUB, bytecode.IMUL, bytecode.IDIV, bytecode.IMOD,
			bytecode.IAOR, bytecode.IAAND, bytecode.IAXOR:
			upper := in.pop().asInt() // pushed last == left operand
			lower := in.pop().asInt()
			in.push(intSlot(intBinOp(op, upper, lower)))
		case bytecode.DADD, bytecode.DSUB, bytecode.DMUL, bytecode.DDIV:
			upper := in.pop().asDouble()
			lower := in.pop().asDouble()
			in.push(doubleSlot(doubleBinOp(op, upper, lower)))
		case bytecode.INEG:
			in.push(intSlot(-in.pop().asInt()))
		case bytecode.DNEG:
			in.push(doubleSlot(-in.pop().asDouble()))

		case bytecode.ICMP:
			upper := in.pop().asInt() // pushed last == left operand
			lower := in.pop().asInt()
			in.push(intSlot(runtime.CompareInt(upper, lower)))
		case bytecode.DCMP:
			upper := in.pop().asDouble()
			lower := in.pop().asDouble()
			in.push(intSlot(runtime.CompareDouble(upper, lower)))

		case bytecode.I2D:
			in.push(doubleSlot(float64(in.pop().asInt())))
		case bytecode.D2I:
			in.push(intSlot(int64(in.pop().asDouble())))
		case bytecode.S2I:
			// Treat the interned string id as its own integer value (§9:
			// "treat the pointer as an integer"), not the parsed contents.
			in.push(intSlot(in.pop().asInt()))

		case bytecode.POP:
			in.pop()

		case bytecode.LOADIVAR0, bytecode.LOADIVAR1, bytecode.LOADIVAR2, bytecode.LOADIVAR3:
			in.push(in.valueStack[frameStart+int(op-bytecode.LOADIVAR0)])
		case bytecode.LOADDVAR0, bytecode.LOADDVAR1, bytecode.LOADDVAR2, bytecode.LOADDVAR3:
			in.push(in.valueStack[frameStart+int(op-bytecode.LOADDVAR0)])
		case bytecode.LOADSVAR0, bytecode.LOADSVAR1, bytecode.LOADSVAR2, bytecode.LOADSVAR3:
			in.push(in.valueStack[frameStart+int(op-bytecode.LOADSVAR0)])
		case bytecode.STOREIVAR0, bytecode.STOREIVAR1, bytecode.STOREIVAR2, bytecode.STOREIVAR3:
			in.valueStack[frameStart+int(op-bytecode.STOREIVAR0)] = in.pop()
		case bytecode.STOREDVAR0, bytecode.STOREDVAR1, bytecode.STOREDVAR2, bytecode.STOREDVAR3:
			in.valueStack[frameStart+int(op-bytecode.STOREDVAR0)] = in.pop()
		case bytecode.STORESVAR0, bytecode.STORESVAR1, bytecode.STORESVAR2, bytecode.STORESVAR3:
			in.valueStack[frameStart+int(op-bytecode.STORESVAR0)] = in.pop()

		case bytecode.LOADIVAR, bytecode.LOADDVAR, bytecode.LOADSVAR:
			slotIdx := int(bytecode.GetUint16(data, ip))
			ip += 2
			in.push(in.valueStack[frameStart+slotIdx])
		case bytecode.STOREIVAR, bytecode.STOREDVAR, bytecode.STORESVAR:
			slotIdx := int(bytecode.GetUint16(data, ip))
			ip += 2
			in.valueStack[frameStart+slotIdx] = in.pop()

		case bytecode.LOADCTXIVAR, bytecode.LOADCTXDVAR, bytecode.LOADCTXSVAR:
			ctx := int(bytecode.GetUint16(data, ip))
			slotIdx := int(bytecode.GetUint16(data, ip+2))
			ip += 4
			base := in.lastLiveCall[ctx]
			if base == noFrame {
				return mverr.Fatal(mverr.Runtime, "closure access to function id %d with no live call (§9)", ctx)
			}
			in.push(in.valueStack[base+slotIdx])
		case bytecode.STORECTXIVAR, bytecode.STORECTXDVAR, bytecode.STORECTXSVAR:
			ctx := int(bytecode.GetUint16(data, ip))
			slotIdx := int(bytecode.GetUint16(data, ip+2))
			ip += 4
			base := in.lastLiveCall[ctx]
			if base == noFrame {
				return mverr.Fatal(mverr.Runtime, "closure access to function id %d with no live call (§9)", ctx)
			}
			in.valueStack[base+slotIdx] = in.pop()

		case bytecode.JA:
			ip = ip + 2 + int(bytecode.GetInt16(data, ip))
		case bytecode.IFICMPE, bytecode.IFICMPNE, bytecode.IFICMPL, bytecode.IFICMPLE, bytecode.IFICMPG, bytecode.IFICMPGE:
			upper := in.pop().asInt() // pushed last == left operand
			lower := in.pop().asInt()
			target := ip + 2 + int(bytecode.GetInt16(data, ip))
			ip += 2
			if condTrue(op, upper, lower) {
				ip = target
			}

		case bytecode.CALL:
			id := int(bytecode.GetUint16(data, ip))
			ip += 2
			callee := in.reg.FunctionByID(id)
			if len(in.returnStk) == cap(in.returnStk) || len(in.frameStk) == cap(in.frameStk) {
				return mverr.Fatal(mverr.Runtime, "execute: call stack overflow calling %s", callee.Name)
			}
			in.returnStk = append(in.returnStk, returnFrame{funcID: cur.ID, offset: ip, prevOuter: in.lastLiveCall[id]})
			newFrameStart := len(in.valueStack) - len(callee.Params)
			in.frameStk = append(in.frameStk, newFrameStart)
			needed := newFrameStart + callee.LocalsCount
			if needed > cap(in.valueStack) {
				return mverr.Fatal(mverr.Runtime, "execute: value stack overflow calling %s", callee.Name)
			}
			for len(in.valueStack) < needed {
				in.valueStack = append(in.valueStack, 0)
			}
			in.lastLiveCall[id] = newFrameStart
			cur, ip = callee, 0
			continue

		case bytecode.CALLNATIVE:
			id := int(bytecode.GetUint16(data, ip))
			ip += 2
			if err := in.callNative(id); err != nil {
				return err
			}

		case bytecode.RETURN:
			savedFrameStart := in.frameStk[len(in.frameStk)-1]
			in.frameStk = in.frameStk[:len(in.frameStk)-1]
			var result slot
			if cur.ReturnType != types.Void {
				result = in.valueStack[len(in.valueStack)-1]
			}
			in.valueStack = in.valueStack[:savedFrameStart]
			if cur.ReturnType != types.Void {
				in.push(result)
			}
			if len(in.returnStk) == 0 {
				return nil // returned from <top>: program finished
			}
			rf := in.returnStk[len(in.returnStk)-1]
			in.returnStk = in.returnStk[:len(in.returnStk)-1]
			in.lastLiveCall[cur.ID] = rf.prevOuter
			cur, ip = in.reg.FunctionByID(rf.funcID), rf.offset
			continue

		case bytecode.IPRINT:
			runtime.PrintInt(in.out, in.pop().asInt())
		case bytecode.DPRINT:
			runtime.PrintDouble(in.out, in.pop().asDouble())
		case bytecode.SPRINT:
			runtime.PrintString(in.out, in.reg.ConstantByID(int(in.pop().asInt())))

		default:
			return mverr.Fatal(mverr.Runtime, "execute: unimplemented opcode %s", op)
		}
	}
}

func (in *Interpreter) push(s slot) { in.valueStack = append(in.valueStack, s) }

func (in *Interpreter) pop() slot {
	v := in.valueStack[len(in.valueStack)-1]
	in.valueStack = in.valueStack[:len(in.valueStack)-1]
	return v
}

func (in *Interpreter) callNative(id int) error {
	nf := in.reg.NativeByID(id)
	if nf == nil {
		return mverr.Fatal(mverr.Runtime, "execute: no native function with id %d", id)
	}
	fn, ok := in.natives.Lookup(nf.Name)
	if !ok {
		return mverr.Fatal(mverr.Runtime, "execute: native function %q is not registered", nf.Name)
	}
	args := make([]interface{}, len(nf.ParamTypes))
	// Arguments were materialised on the stack in declaration order; pop in
	// reverse to recover that order (§4.6).
	for i := len(nf.ParamTypes) - 1; i >= 0; i-- {
		v := in.pop()
		switch nf.ParamTypes[i] {
		case types.Double:
			args[i] = v.asDouble()
		case types.String:
			args[i] = in.reg.ConstantByID(int(v.asInt()))
		default:
			args[i] = v.asInt()
		}
	}
	result := fn(args)
	switch nf.ReturnType {
	case types.Double:
		in.push(doubleSlot(result.(float64)))
	case types.Void:
		// no push
	default:
		in.push(intSlot(result.(int64)))
	}
	return nil
}

func intBinOp(op bytecode.Opcode, a, b int64) int64 {
	switch op {
	case bytecode.IADD:
		return a + b
	case bytecode.ISUB:
		return a - b
	case bytecode.IMUL:
		return a * b
	case bytecode.IDIV:
		return a / b
	case bytecode.IMOD:
		return a % b
	case bytecode.IAOR:
		return a | b
	case bytecode.IAAND:
		return a & b
	case bytecode.IAXOR:
		return a ^ b
	}
	return 0
}

func doubleBinOp(op bytecode.Opcode, a, b float64) float64 {
	switch op {
	case bytecode.DADD:
		return a + b
	case bytecode.DSUB:
		return a - b
	case bytecode.DMUL:
		return a * b
	case bytecode.DDIV:
		return a / b
	}
	return 0
}

func condTrue(op bytecode.Opcode, upper, lower int64) bool {
	switch op {
	case bytecode.IFICMPE:
		return upper == lower
	case bytecode.IFICMPNE:
		return upper != lower
	case bytecode.IFICMPL:
		return upper < lower
	case bytecode.IFICMPLE:
		return upper <= lower
	case bytecode.IFICMPG:
		return upper > lower
	case bytecode.IFICMPGE:
		return upper >= lower
	}
	return false
}

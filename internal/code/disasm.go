package code

import (
	"fmt"
	"io"

	"github.com/dzharkov/mathvm-impl/internal/bytecode"
)

// Disassemble prints fn's bytecode one instruction per line as
// "<offset>: <opcode> <args>", resolving SLOAD/CALL/CALLNATIVE ids against
// the registry the way original_source/vm/mathvm.cpp's
// FunctionImpl::disassemble does (SPEC_FULL.md supplemented feature #4).
// The teacher's PrintProgram (main.go) is the Go-side precedent for
// dumping an instruction stream with resolved operands next to the raw
// opcode instead of a bare hex listing.
func (r *Registry) Disassemble(w io.Writer, fn *Function) {
	data := fn.Bytecode.Bytes()
	fmt.Fprintf(w, "function %s [id=%d]:\n", fn.Name, fn.ID)

	i := 0
	for i < len(data) {
		off := i
		op := bytecode.Opcode(data[i])
		i++

		switch n := op.ArgBytes(); {
		case op == bytecode.ILOAD:
			v := bytecode.GetInt64(data, i)
			fmt.Fprintf(w, "%4d: %s %d\n", off, op, v)
			i += 8
		case op == bytecode.DLOAD:
			v := bytecode.GetDouble(data, i)
			fmt.Fprintf(w, "%4d: %s %g\n", off, op, v)
			i += 8
		case op == bytecode.SLOAD:
			id := bytecode.GetUint16(data, i)
			fmt.Fprintf(w, "%4d: %s @%d %q\n", off, op, id, r.ConstantByID(int(id)))
			i += 2
		case op == bytecode.CALL || op == bytecode.CALLNATIVE:
			id := bytecode.GetUint16(data, i)
			name := "?"
			if op == bytecode.CALL {
				if f := r.FunctionByID(int(id)); f != nil {
					name = f.Name
				}
			} else if nf := r.NativeByID(int(id)); nf != nil {
				name = nf.Name
			}
			fmt.Fprintf(w, "%4d: %s @%d %s\n", off, op, id, name)
			i += 2
		case op.IsBranch():
			rel := bytecode.GetInt16(data, i)
			fmt.Fprintf(w, "%4d: %s %d (-> %d)\n", off, op, rel, off+1+2+int(rel))
			i += 2
		case op == bytecode.LOADCTXDVAR || op == bytecode.LOADCTXIVAR || op == bytecode.LOADCTXSVAR ||
			op == bytecode.STORECTXDVAR || op == bytecode.STORECTXIVAR || op == bytecode.STORECTXSVAR:
			ctx := bytecode.GetUint16(data, i)
			id := bytecode.GetUint16(data, i+2)
			fmt.Fprintf(w, "%4d: %s @%d:%d\n", off, op, ctx, id)
			i += 4
		case n > 0:
			id := bytecode.GetUint16(data, i)
			fmt.Fprintf(w, "%4d: %s @%d\n", off, op, id)
			i += n
		default:
			fmt.Fprintf(w, "%4d: %s\n", off, op)
		}
	}
}

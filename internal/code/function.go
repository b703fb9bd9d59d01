package code

import (
	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// Function is a translated function: id, signature, and its own bytecode
// stream, the analogue of the teacher's single Instruction-stream program
// but scoped per-function the way original_source's BytecodeFunction is.
type Function struct {
	ID         int
	Name       string
	Params     []types.Type
	ReturnType types.Type

	Bytecode *bytecode.Buffer

	// LocalsCount is the number of local variable slots this function
	// declares (including parameters); assigned by the translator (§4.5).
	LocalsCount int

	// Recursive is set by the function-analysis pass (§4.3): a directly or
	// indirectly recursive function is never inlined and is always CALLed.
	Recursive bool

	// UsesClosure is not set by any pass; the annotated-bytecode builder
	// (§4.7) reports CTX…VAR use in its own Annotated.UsesClosure, which
	// is what the JIT reads.
	UsesClosure bool

	// MaxStackSize is not set by any pass; the annotated-bytecode builder
	// (§4.7) reports the maximum depth in Annotated.MaxStack, which is what
	// the JIT uses to size each function's frame.
	MaxStackSize int
}

func newFunction(id int, name string, params []types.Type, ret types.Type) *Function {
	return &Function{
		ID:         id,
		Name:       name,
		Params:     params,
		ReturnType: ret,
		Bytecode:   bytecode.NewBuffer(),
	}
}

// NativeFunction is a descriptor for a host-provided function looked up
// by unqualified name (§6 Native ABI).
type NativeFunction struct {
	ID         int
	Name       string
	ParamTypes []types.Type
	ReturnType types.Type

	// Addr is never filled in and stays 0: natives are dispatched by Name
	// through runtime.NativeTable when CALLNATIVE runs.
	Addr uintptr
}

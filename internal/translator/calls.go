package translator

import (
	"github.com/dzharkov/mathvm-impl/internal/ast"
	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// translateCall lowers a call per §4.5: native calls always go through
// CALLNATIVE; recursive (directly or indirectly) functions, calls made
// inside an inlined body, and callees that declare functions in their own
// body are CALLed; everything else is inlined at the call site instead of
// paying for a frame.
func (t *Translator) translateCall(call *ast.Call) (types.Type, error) {
	callee := call.Callee

	if callee.Native {
		nf, _ := t.registry.NativeByName(callee.Name)
		for i, arg := range call.Args {
			if err := t.emitExprCoerced(arg, nf.ParamTypes[i]); err != nil {
				return types.Invalid, err
			}
		}
		t.buf().AddOpcode(bytecode.CALLNATIVE)
		t.buf().AddUint16(uint16(nf.ID))
		return nf.ReturnType, nil
	}

	calleeCF := t.result.CodeFunc[callee]
	retType := callee.ReturnType.(types.Type)

	// Functions declared directly in the callee's body reach the callee's
	// locals through CTX accesses naming the callee's id, which has a live
	// frame only when the callee itself is CALLed.
	hasNested := false
	for _, stmt := range callee.Body.Statements {
		if fd, ok := stmt.(*ast.FunctionDecl); ok && !fd.Fn.Native {
			hasNested = true
		}
	}
	if calleeCF.Recursive || t.inlineDepth > 0 || hasNested {
		for i, arg := range call.Args {
			if err := t.emitExprCoerced(arg, calleeCF.Params[i]); err != nil {
				return types.Invalid, err
			}
		}
		t.buf().AddOpcode(bytecode.CALL)
		t.buf().AddUint16(uint16(calleeCF.ID))
		return retType, nil
	}

	call.Inlined = true
	return t.inlineCall(call, callee)
}

// inlineCall splices callee's body directly into the current target
// function's bytecode: arguments are evaluated left to right then stored
// into fresh slots in the caller's own frame (in reverse, matching the
// LIFO order they were pushed), the body is walked with `return`
// rewritten to a jump to a local end label, and an implicit default
// return is appended exactly as translateFunctionBody does for a
// standalone function (§4.5).
func (t *Translator) inlineCall(call *ast.Call, callee *ast.Function) (types.Type, error) {
	t.inlineDepth++
	defer func() { t.inlineDepth-- }()

	for i, arg := range call.Args {
		if err := t.emitExprCoerced(arg, callee.Params[i].Type.(types.Type)); err != nil {
			return types.Invalid, err
		}
	}

	paramSlots := make([]int, len(callee.Params))
	for i, p := range callee.Params {
		slot := t.allocTempSlot()
		paramSlots[i] = slot
		t.varSlot[p] = slot
		t.varFrame[p] = t.targetFunc.ID
	}
	for i := len(callee.Params) - 1; i >= 0; i-- {
		t.emitStoreLocal(callee.Params[i].Type.(types.Type), paramSlots[i])
	}

	bodyLocalNames := callee.Scope.VarOrder[len(callee.Params):]
	t.pushScopeVars(bodyLocalNames, callee.Scope, t.targetFunc.ID)

	retType := callee.ReturnType.(types.Type)
	endLabel := bytecode.NewLabel()
	t.returnFrames = append(t.returnFrames, returnFrame{label: endLabel, retType: retType})

	if err := t.translateStatements(callee.Body.Statements); err != nil {
		return types.Invalid, err
	}
	if !endsInReturn(callee.Body.Statements) {
		t.emitDefaultValue(retType)
	}
	if err := t.buf().Bind(endLabel); err != nil {
		return types.Invalid, err
	}

	t.returnFrames = t.returnFrames[:len(t.returnFrames)-1]
	t.popScopeVars(len(bodyLocalNames))
	for range paramSlots {
		t.freeTempSlot()
	}

	return retType, nil
}

// Package translator lowers a type-annotated AST into per-function
// bytecode (§4.5): it resolves variable references into local slots or
// closure (CTX) references, inlines non-recursive calls, and emits the
// short-form instructions (ILOAD0, LOADIVAR0 and the like) where they
// apply.
package translator

import (
	"github.com/dzharkov/mathvm-impl/internal/analysis"
	"github.com/dzharkov/mathvm-impl/internal/ast"
	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/mverr"
	"github.com/dzharkov/mathvm-impl/internal/mvlog"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

type returnFrame struct {
	label   *bytecode.Label
	retType types.Type
}

// Translator holds the mutable state of a single translation run: which
// function's bytecode is currently being appended to (targetFunc), the
// live slot cursor per target function (for scope push/pop reuse), and
// the per-variable (slot, owning frame) assignment that's valid for the
// statements currently being emitted (re-assigned fresh at each inlined
// call site, per §4.5's "inlining frame" contract).
type Translator struct {
	registry *code.Registry
	result   *analysis.Result

	targetFunc *code.Function

	cursor    map[int]int // target function id -> next free slot
	maxCursor map[int]int // target function id -> high-water mark

	varSlot  map[*ast.Variable]int
	varFrame map[*ast.Variable]int // target function id currently hosting this variable

	returnFrames []returnFrame

	// inlining is disabled transitively: once > 0 we refuse to inline
	// further, emitting a real CALL instead (§4.5).
	inlineDepth int
}

// Translate runs the translator over every function reachable from the
// analysis result and returns the populated Code registry.
func Translate(result *analysis.Result, top *ast.Function) (*code.Registry, error) {
	t := &Translator{
		registry:  result.Registry,
		result:    result,
		cursor:    make(map[int]int),
		maxCursor: make(map[int]int),
		varSlot:   make(map[*ast.Variable]int),
		varFrame:  make(map[*ast.Variable]int),
	}
	if err := t.translateFunctionBody(top); err != nil {
		return nil, err
	}
	return t.registry, nil
}

func (t *Translator) buf() *bytecode.Buffer { return t.targetFunc.Bytecode }

// ---- scope / slot management ----

func (t *Translator) pushScopeVars(names []string, scope *ast.Scope, frameID int) {
	id := t.targetFunc.ID
	for _, name := range names {
		v := scope.Vars[name]
		slot := t.cursor[id]
		t.varSlot[v] = slot
		t.varFrame[v] = frameID
		t.cursor[id] = slot + 1
		if t.cursor[id] > t.maxCursor[id] {
			t.maxCursor[id] = t.cursor[id]
		}
	}
}

func (t *Translator) popScopeVars(n int) {
	id := t.targetFunc.ID
	t.cursor[id] -= n
}

func (t *Translator) allocTempSlot() int {
	id := t.targetFunc.ID
	slot := t.cursor[id]
	t.cursor[id] = slot + 1
	if t.cursor[id] > t.maxCursor[id] {
		t.maxCursor[id] = t.cursor[id]
	}
	return slot
}

func (t *Translator) freeTempSlot() {
	t.cursor[t.targetFunc.ID]--
}

func (t *Translator) isLocal(v *ast.Variable) bool {
	return t.varFrame[v] == t.targetFunc.ID
}

// ---- function bodies ----

func (t *Translator) translateFunctionBody(fn *ast.Function) error {
	cf := t.result.CodeFunc[fn]
	outerTarget := t.targetFunc
	t.targetFunc = cf
	t.cursor[cf.ID] = 0
	t.maxCursor[cf.ID] = 0

	mvlog.Debugf("translating function %s (id=%d, recursive=%v)", fn.Name, cf.ID, cf.Recursive)

	paramNames := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		paramNames[i] = p.Name
	}
	t.pushScopeVars(paramNames, fn.Scope, cf.ID)

	endLabel := bytecode.NewLabel()
	t.returnFrames = append(t.returnFrames, returnFrame{label: endLabel, retType: fn.ReturnType.(types.Type)})

	bodyLocalNames := fn.Scope.VarOrder[len(paramNames):]
	t.pushScopeVars(bodyLocalNames, fn.Scope, cf.ID)
	if err := t.translateStatements(fn.Body.Statements); err != nil {
		return err
	}

	if !endsInReturn(fn.Body.Statements) {
		t.emitDefaultValue(fn.ReturnType.(types.Type))
	}

	if err := t.buf().Bind(endLabel); err != nil {
		return err
	}
	t.buf().AddOpcode(bytecode.RETURN)

	t.popScopeVars(len(bodyLocalNames))
	t.popScopeVars(len(paramNames))
	t.returnFrames = t.returnFrames[:len(t.returnFrames)-1]

	cf.LocalsCount = t.maxCursor[cf.ID]
	t.targetFunc = outerTarget
	return nil
}

func endsInReturn(stmts []ast.Node) bool {
	if len(stmts) == 0 {
		return false
	}
	_, ok := stmts[len(stmts)-1].(*ast.Return)
	return ok
}

func (t *Translator) emitDefaultValue(typ types.Type) {
	switch typ {
	case types.Int:
		t.buf().AddOpcode(bytecode.ILOAD0)
	case types.Double:
		t.buf().AddOpcode(bytecode.DLOAD0)
	case types.String:
		t.buf().AddOpcode(bytecode.SLOAD0)
	case types.Void:
		// nothing to push
	}
}

// ---- statements ----

func (t *Translator) translateStatements(stmts []ast.Node) error {
	for _, stmt := range stmts {
		if err := t.translateStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) translateStmt(n ast.Node) error {
	switch v := n.(type) {
	case *ast.StoreVar:
		return t.translateStoreVar(v)
	case *ast.If:
		return t.translateIf(v)
	case *ast.While:
		return t.translateWhile(v)
	case *ast.For:
		return t.translateFor(v)
	case *ast.Return:
		return t.translateReturn(v)
	case *ast.Print:
		return t.translatePrint(v)
	case *ast.Block:
		return t.translateBlockScoped(v)
	case *ast.FunctionDecl:
		if v.Fn.Native {
			return nil
		}
		return t.translateFunctionBody(v.Fn)
	case *ast.Call:
		resultType, err := t.translateCall(v)
		if err != nil {
			return err
		}
		if resultType != types.Void {
			t.buf().AddOpcode(bytecode.POP)
		}
		return nil
	case nil:
		return nil
	default:
		// A bare non-call expression used as a statement; call
		// statements take the *ast.Call case above.
		typ, err := t.translateExpr(n)
		if err != nil {
			return err
		}
		if typ != types.Void {
			t.buf().AddOpcode(bytecode.POP)
		}
		return nil
	}
}

func (t *Translator) translateBlockScoped(b *ast.Block) error {
	t.pushScopeVars(b.Scope.VarOrder, b.Scope, t.targetFunc.ID)
	err := t.translateStatements(b.Statements)
	t.popScopeVars(len(b.Scope.VarOrder))
	return err
}

func (t *Translator) translateStoreVar(sv *ast.StoreVar) error {
	v := sv.Var
	declared := v.Type.(types.Type)

	switch sv.Op {
	case ast.Assign:
		if err := t.emitExprCoerced(sv.Value, declared); err != nil {
			return err
		}
	case ast.AddAssign, ast.SubAssign:
		if err := t.emitExprCoerced(sv.Value, declared); err != nil {
			return err
		}
		t.emitVarLoad(v)
		if declared == types.Double {
			if sv.Op == ast.AddAssign {
				t.buf().AddOpcode(bytecode.DADD)
			} else {
				t.buf().AddOpcode(bytecode.DSUB)
			}
		} else {
			if sv.Op == ast.AddAssign {
				t.buf().AddOpcode(bytecode.IADD)
			} else {
				t.buf().AddOpcode(bytecode.ISUB)
			}
		}
	}
	t.emitVarStore(v)
	return nil
}

func (t *Translator) translateIf(n *ast.If) error {
	falseLabel := bytecode.NewLabel()
	afterLabel := bytecode.NewLabel()

	if err := t.emitConditionJumpIfFalse(n.Cond, falseLabel); err != nil {
		return err
	}
	if err := t.translateBlockScoped(n.Then); err != nil {
		return err
	}
	if n.Else != nil {
		t.buf().AddBranch(bytecode.JA, afterLabel)
		if err := t.buf().Bind(falseLabel); err != nil {
			return err
		}
		if err := t.translateBlockScoped(n.Else); err != nil {
			return err
		}
		if err := t.buf().Bind(afterLabel); err != nil {
			return err
		}
	} else {
		if err := t.buf().Bind(falseLabel); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) translateWhile(n *ast.While) error {
	loopLabel := bytecode.NewLabel()
	endLabel := bytecode.NewLabel()

	if err := t.buf().Bind(loopLabel); err != nil {
		return err
	}
	if err := t.emitConditionJumpIfFalse(n.Cond, endLabel); err != nil {
		return err
	}
	if err := t.translateBlockScoped(n.Body); err != nil {
		return err
	}
	t.buf().AddBranch(bytecode.JA, loopLabel)
	return t.buf().Bind(endLabel)
}

// translateFor desugars the range loop per §4.5:
//   assign var := lo; assign temp := hi;
//   loop: if var > temp goto end; <body>; var += 1; goto loop; end:
func (t *Translator) translateFor(n *ast.For) error {
	if err := t.emitExprCoerced(n.Range.Left, types.Int); err != nil {
		return err
	}
	t.emitVarStore(n.Var)

	tempSlot := t.allocTempSlot()
	if err := t.emitExprCoerced(n.Range.Right, types.Int); err != nil {
		return err
	}
	t.emitStoreLocal(types.Int, tempSlot)

	loopLabel := bytecode.NewLabel()
	endLabel := bytecode.NewLabel()

	if err := t.buf().Bind(loopLabel); err != nil {
		return err
	}
	// if var > temp goto end
	t.emitLoadLocal(types.Int, tempSlot)
	t.emitVarLoad(n.Var)
	t.buf().AddOpcode(bytecode.ICMP)
	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.InvertedComparison(">"), endLabel)

	if err := t.translateBlockScoped(n.Body); err != nil {
		return err
	}

	// var += 1
	t.buf().AddOpcode(bytecode.ILOAD1)
	t.emitVarLoad(n.Var)
	t.buf().AddOpcode(bytecode.IADD)
	t.emitVarStore(n.Var)

	t.buf().AddBranch(bytecode.JA, loopLabel)
	if err := t.buf().Bind(endLabel); err != nil {
		return err
	}
	t.freeTempSlot()
	return nil
}

func (t *Translator) translateReturn(r *ast.Return) error {
	frame := t.returnFrames[len(t.returnFrames)-1]
	if r.Value != nil {
		if err := t.emitExprCoerced(r.Value, frame.retType); err != nil {
			return err
		}
	} else if frame.retType != types.Void {
		t.emitDefaultValue(frame.retType)
	}
	t.buf().AddBranch(bytecode.JA, frame.label)
	return nil
}

func (t *Translator) translatePrint(p *ast.Print) error {
	for _, arg := range p.Args {
		typ, err := t.translateExpr(arg)
		if err != nil {
			return err
		}
		switch typ {
		case types.Int:
			t.buf().AddOpcode(bytecode.IPRINT)
		case types.Double:
			t.buf().AddOpcode(bytecode.DPRINT)
		case types.String:
			t.buf().AddOpcode(bytecode.SPRINT)
		default:
			return mverr.New(mverr.Translation, p.Pos(), "cannot print value of type %s", typ)
		}
	}
	return nil
}

// emitConditionJumpIfFalse evaluates cond (producing a 0/1 int per the
// comparison/logical lowering below) and branches to falseLabel if it is
// zero, the uniform gate used by if/while/for (§4.5).
func (t *Translator) emitConditionJumpIfFalse(cond ast.Node, falseLabel *bytecode.Label) error {
	if _, err := t.translateExpr(cond); err != nil {
		return err
	}
	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.IFICMPE, falseLabel)
	return nil
}

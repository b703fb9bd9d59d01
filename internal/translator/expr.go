package translator

import (
	"github.com/dzharkov/mathvm-impl/internal/ast"
	"github.com/dzharkov/mathvm-impl/internal/bytecode"
	"github.com/dzharkov/mathvm-impl/internal/mverr"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// translateExpr emits code that leaves exactly one value of the node's
// annotated ResultType on top of the stack, and returns that type.
func (t *Translator) translateExpr(n ast.Node) (types.Type, error) {
	switch v := n.(type) {
	case *ast.IntLiteral:
		t.emitIntLiteral(v.Value)
		return types.Int, nil
	case *ast.DoubleLiteral:
		t.emitDoubleLiteral(v.Value)
		return types.Double, nil
	case *ast.StringLiteral:
		id := t.registry.InternString(v.Value)
		t.buf().AddOpcode(bytecode.SLOAD)
		t.buf().AddUint16(uint16(id))
		return types.String, nil
	case *ast.LoadVar:
		typ := v.Var.Type.(types.Type)
		t.emitVarLoad(v.Var)
		return typ, nil
	case *ast.UnaryOp:
		return t.translateUnary(v)
	case *ast.BinaryOp:
		return t.translateBinary(v)
	case *ast.Call:
		return t.translateCall(v)
	default:
		return types.Invalid, mverr.Fatal(mverr.Translation, "translator: unhandled expression %T", n)
	}
}

func (t *Translator) emitIntLiteral(v int64) {
	switch v {
	case 0:
		t.buf().AddOpcode(bytecode.ILOAD0)
	case 1:
		t.buf().AddOpcode(bytecode.ILOAD1)
	case -1:
		t.buf().AddOpcode(bytecode.ILOADM1)
	default:
		t.buf().AddOpcode(bytecode.ILOAD)
		t.buf().AddInt64(v)
	}
}

func (t *Translator) emitDoubleLiteral(v float64) {
	switch v {
	case 0:
		t.buf().AddOpcode(bytecode.DLOAD0)
	case 1:
		t.buf().AddOpcode(bytecode.DLOAD1)
	case -1:
		t.buf().AddOpcode(bytecode.DLOADM1)
	default:
		t.buf().AddOpcode(bytecode.DLOAD)
		t.buf().AddDouble(v)
	}
}

// emitExprCoerced translates n and, if its type differs from want, inserts
// the conversion instruction types.ConversionFor names (§4.5 "coercion on
// result").
func (t *Translator) emitExprCoerced(n ast.Node, want types.Type) error {
	got, err := t.translateExpr(n)
	if err != nil {
		return err
	}
	t.emitConversion(got, want)
	return nil
}

func (t *Translator) emitConversion(from, to types.Type) {
	switch types.ConversionFor(from, to) {
	case types.IntToDouble:
		t.buf().AddOpcode(bytecode.I2D)
	case types.DoubleToInt:
		t.buf().AddOpcode(bytecode.D2I)
	case types.StringToInt:
		t.buf().AddOpcode(bytecode.S2I)
	case types.PopValue:
		t.buf().AddOpcode(bytecode.POP)
	}
}

func (t *Translator) translateUnary(u *ast.UnaryOp) (types.Type, error) {
	typ, err := t.translateExpr(u.Operand)
	if err != nil {
		return types.Invalid, err
	}
	switch u.Kind {
	case ast.Negate:
		if typ == types.Double {
			t.buf().AddOpcode(bytecode.DNEG)
		} else {
			t.buf().AddOpcode(bytecode.INEG)
		}
		return typ, nil
	case ast.LogicalNot:
		// The "Not pattern" (§4.8): ILOAD0; ICMP; ILOADM1; IAXOR; ILOAD1; IAAND
		// turns any nonzero int into 0 and zero into 1; the JIT lowers each
		// of the six instructions separately.
		t.buf().AddOpcode(bytecode.ILOAD0)
		t.buf().AddOpcode(bytecode.ICMP)
		t.buf().AddOpcode(bytecode.ILOADM1)
		t.buf().AddOpcode(bytecode.IAXOR)
		t.buf().AddOpcode(bytecode.ILOAD1)
		t.buf().AddOpcode(bytecode.IAAND)
		return types.Int, nil
	}
	return types.Invalid, mverr.Fatal(mverr.Translation, "translator: unhandled unary kind %v", u.Kind)
}

func (t *Translator) translateBinary(b *ast.BinaryOp) (types.Type, error) {
	switch b.Op {
	case "||":
		return t.translateOr(b)
	case "&&":
		return t.translateAnd(b)
	case "==", "!=", "<", "<=", ">", ">=":
		return t.translateComparison(b)
	case "|", "&", "^":
		return t.translateBitwise(b)
	case "%":
		return t.translateMod(b)
	default: // + - * /
		return t.translateArith(b)
	}
}

// translateComparison lowers to the exact sequence of §4.5: push the right
// operand, push the left, ICMP/DCMP, then the zero-test/branch/load-bool
// idiom that produces 0 or 1 with the inverted IFICMP polarity (§9).
func (t *Translator) translateComparison(b *ast.BinaryOp) (types.Type, error) {
	lt := b.Left.(ast.Expr).AnnotatedType().(types.Type)
	rt := b.Right.(ast.Expr).AnnotatedType().(types.Type)
	common, ok := types.LUB(lt, rt)
	if !ok {
		return types.Invalid, mverr.New(mverr.Type, b.Pos(), "incomparable operand types %s and %s", lt, rt)
	}

	if err := t.emitExprCoerced(b.Right, common); err != nil {
		return types.Invalid, err
	}
	if err := t.emitExprCoerced(b.Left, common); err != nil {
		return types.Invalid, err
	}
	if common == types.Double {
		t.buf().AddOpcode(bytecode.DCMP)
	} else {
		t.buf().AddOpcode(bytecode.ICMP)
	}

	successLabel := bytecode.NewLabel()
	afterLabel := bytecode.NewLabel()

	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.InvertedComparison(b.Op), successLabel)
	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.JA, afterLabel)
	if err := t.buf().Bind(successLabel); err != nil {
		return types.Invalid, err
	}
	t.buf().AddOpcode(bytecode.ILOAD1)
	if err := t.buf().Bind(afterLabel); err != nil {
		return types.Invalid, err
	}
	return types.Int, nil
}

// translateOr short-circuits: if the left operand is nonzero, the right is
// never evaluated (§4.5 "short-circuit... comparing to zero with the
// appropriate IFICMP{NE,E}").
func (t *Translator) translateOr(b *ast.BinaryOp) (types.Type, error) {
	trueLabel := bytecode.NewLabel()
	afterLabel := bytecode.NewLabel()

	if err := t.emitExprCoerced(b.Left, types.Int); err != nil {
		return types.Invalid, err
	}
	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.IFICMPNE, trueLabel)

	if err := t.emitExprCoerced(b.Right, types.Int); err != nil {
		return types.Invalid, err
	}
	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.IFICMPNE, trueLabel)

	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.JA, afterLabel)
	if err := t.buf().Bind(trueLabel); err != nil {
		return types.Invalid, err
	}
	t.buf().AddOpcode(bytecode.ILOAD1)
	if err := t.buf().Bind(afterLabel); err != nil {
		return types.Invalid, err
	}
	return types.Int, nil
}

func (t *Translator) translateAnd(b *ast.BinaryOp) (types.Type, error) {
	falseLabel := bytecode.NewLabel()
	afterLabel := bytecode.NewLabel()

	if err := t.emitExprCoerced(b.Left, types.Int); err != nil {
		return types.Invalid, err
	}
	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.IFICMPE, falseLabel)

	if err := t.emitExprCoerced(b.Right, types.Int); err != nil {
		return types.Invalid, err
	}
	t.buf().AddOpcode(bytecode.ILOAD0)
	t.buf().AddBranch(bytecode.IFICMPE, falseLabel)

	t.buf().AddOpcode(bytecode.ILOAD1)
	t.buf().AddBranch(bytecode.JA, afterLabel)
	if err := t.buf().Bind(falseLabel); err != nil {
		return types.Invalid, err
	}
	t.buf().AddOpcode(bytecode.ILOAD0)
	if err := t.buf().Bind(afterLabel); err != nil {
		return types.Invalid, err
	}
	return types.Int, nil
}

func (t *Translator) translateBitwise(b *ast.BinaryOp) (types.Type, error) {
	if err := t.emitExprCoerced(b.Right, types.Int); err != nil {
		return types.Invalid, err
	}
	if err := t.emitExprCoerced(b.Left, types.Int); err != nil {
		return types.Invalid, err
	}
	switch b.Op {
	case "|":
		t.buf().AddOpcode(bytecode.IAOR)
	case "&":
		t.buf().AddOpcode(bytecode.IAAND)
	case "^":
		t.buf().AddOpcode(bytecode.IAXOR)
	}
	return types.Int, nil
}

// translateMod coerces both operands down to Int before IMOD: the
// instruction set has no floating-point remainder opcode, so even though
// §4.4 computes the operand LUB the same way as the other arithmetic
// operators, the only MOD opcode available is integer (documented as an
// Open Question resolution in DESIGN.md).
func (t *Translator) translateMod(b *ast.BinaryOp) (types.Type, error) {
	if err := t.emitExprCoerced(b.Right, types.Int); err != nil {
		return types.Invalid, err
	}
	if err := t.emitExprCoerced(b.Left, types.Int); err != nil {
		return types.Invalid, err
	}
	t.buf().AddOpcode(bytecode.IMOD)
	return types.Int, nil
}

func (t *Translator) translateArith(b *ast.BinaryOp) (types.Type, error) {
	resultType := b.ResultType.(types.Type)
	if err := t.emitExprCoerced(b.Right, resultType); err != nil {
		return types.Invalid, err
	}
	if err := t.emitExprCoerced(b.Left, resultType); err != nil {
		return types.Invalid, err
	}
	isDouble := resultType == types.Double
	switch b.Op {
	case "+":
		if isDouble {
			t.buf().AddOpcode(bytecode.DADD)
		} else {
			t.buf().AddOpcode(bytecode.IADD)
		}
	case "-":
		if isDouble {
			t.buf().AddOpcode(bytecode.DSUB)
		} else {
			t.buf().AddOpcode(bytecode.ISUB)
		}
	case "*":
		if isDouble {
			t.buf().AddOpcode(bytecode.DMUL)
		} else {
			t.buf().AddOpcode(bytecode.IMUL)
		}
	case "/":
		if isDouble {
			t.buf().AddOpcode(bytecode.DDIV)
		} else {
			t.buf().AddOpcode(bytecode.IDIV)
		}
	default:
		return types.Invalid, mverr.Fatal(mverr.Translation, "translator: unhandled arithmetic operator %q", b.Op)
	}
	return resultType, nil
}

// ---- variable access ----

func (t *Translator) emitVarLoad(v *ast.Variable) {
	typ := v.Type.(types.Type)
	if t.isLocal(v) {
		t.emitLoadLocal(typ, t.varSlot[v])
	} else {
		t.emitLoadCtx(typ, t.varFrame[v], t.varSlot[v])
	}
}

func (t *Translator) emitVarStore(v *ast.Variable) {
	typ := v.Type.(types.Type)
	if t.isLocal(v) {
		t.emitStoreLocal(typ, t.varSlot[v])
	} else {
		t.emitStoreCtx(typ, t.varFrame[v], t.varSlot[v])
	}
}

func (t *Translator) emitLoadLocal(typ types.Type, slot int) {
	if slot < 4 {
		t.buf().AddOpcode(shortLoad[typ][slot])
		return
	}
	t.buf().AddOpcode(generalLoad[typ])
	t.buf().AddUint16(uint16(slot))
}

func (t *Translator) emitStoreLocal(typ types.Type, slot int) {
	if slot < 4 {
		t.buf().AddOpcode(shortStore[typ][slot])
		return
	}
	t.buf().AddOpcode(generalStore[typ])
	t.buf().AddUint16(uint16(slot))
}

func (t *Translator) emitLoadCtx(typ types.Type, ctx, slot int) {
	t.buf().AddOpcode(ctxLoad[typ])
	t.buf().AddUint16(uint16(ctx))
	t.buf().AddUint16(uint16(slot))
}

func (t *Translator) emitStoreCtx(typ types.Type, ctx, slot int) {
	t.buf().AddOpcode(ctxStore[typ])
	t.buf().AddUint16(uint16(ctx))
	t.buf().AddUint16(uint16(slot))
}

var shortLoad = map[types.Type][4]bytecode.Opcode{
	types.Int:    {bytecode.LOADIVAR0, bytecode.LOADIVAR1, bytecode.LOADIVAR2, bytecode.LOADIVAR3},
	types.Double: {bytecode.LOADDVAR0, bytecode.LOADDVAR1, bytecode.LOADDVAR2, bytecode.LOADDVAR3},
	types.String: {bytecode.LOADSVAR0, bytecode.LOADSVAR1, bytecode.LOADSVAR2, bytecode.LOADSVAR3},
}

var shortStore = map[types.Type][4]bytecode.Opcode{
	types.Int:    {bytecode.STOREIVAR0, bytecode.STOREIVAR1, bytecode.STOREIVAR2, bytecode.STOREIVAR3},
	types.Double: {bytecode.STOREDVAR0, bytecode.STOREDVAR1, bytecode.STOREDVAR2, bytecode.STOREDVAR3},
	types.String: {bytecode.STORESVAR0, bytecode.STORESVAR1, bytecode.STORESVAR2, bytecode.STORESVAR3},
}

var generalLoad = map[types.Type]bytecode.Opcode{
	types.Int: bytecode.LOADIVAR, types.Double: bytecode.LOADDVAR, types.String: bytecode.LOADSVAR,
}

var generalStore = map[types.Type]bytecode.Opcode{
	types.Int: bytecode.STOREIVAR, types.Double: bytecode.STOREDVAR, types.String: bytecode.STORESVAR,
}

var ctxLoad = map[types.Type]bytecode.Opcode{
	types.Int: bytecode.LOADCTXIVAR, types.Double: bytecode.LOADCTXDVAR, types.String: bytecode.LOADCTXSVAR,
}

var ctxStore = map[types.Type]bytecode.Opcode{
	types.Int: bytecode.STORECTXIVAR, types.Double: bytecode.STORECTXDVAR, types.String: bytecode.STORECTXSVAR,
}

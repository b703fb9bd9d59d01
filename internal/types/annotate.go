package types

import (
	"github.com/dzharkov/mathvm-impl/internal/ast"
	"github.com/dzharkov/mathvm-impl/internal/mverr"
)

// Annotate runs the bottom-up type-annotation pass of §4.4 over fn and
// every function nested inside it (including fn itself unless it is
// native). Errors are accumulated into the returned list rather than
// halting at the first one; the caller must not proceed to translation
// if the list is non-empty.
func Annotate(top *ast.Function) *mverr.List {
	errs := &mverr.List{}
	annotateFunction(top, errs)
	return errs
}

func annotateFunction(fn *ast.Function, errs *mverr.List) {
	if fn.Native || fn.Body == nil {
		return
	}
	annotateBlock(fn, fn.Body, errs)
}

func annotateBlock(owner *ast.Function, b *ast.Block, errs *mverr.List) {
	for _, stmt := range b.Statements {
		annotateStmt(owner, stmt, errs)
	}
}

func annotateStmt(owner *ast.Function, n ast.Node, errs *mverr.List) {
	switch v := n.(type) {
	case *ast.StoreVar:
		valType := annotateExpr(owner, v.Value, errs)
		if v.Var == nil {
			return
		}
		declared := v.Var.Type.(Type)
		if !Assignable(valType, declared) {
			errs.Addf(v.Pos(), "cannot assign %s to variable %q of type %s", valType, v.Name, declared)
		}
		v.ResultType = declared
	case *ast.If:
		annotateExpr(owner, v.Cond, errs)
		annotateBlock(owner, v.Then, errs)
		if v.Else != nil {
			annotateBlock(owner, v.Else, errs)
		}
	case *ast.While:
		annotateExpr(owner, v.Cond, errs)
		annotateBlock(owner, v.Body, errs)
	case *ast.For:
		if v.Var != nil {
			if vt, ok := v.Var.Type.(Type); !ok || vt != Int {
				errs.Addf(v.Pos(), "for loop variable %q must be int", v.VarName)
			}
		}
		lo := annotateExpr(owner, v.Range.Left, errs)
		hi := annotateExpr(owner, v.Range.Right, errs)
		if !Assignable(lo, Int) {
			errs.Addf(v.Range.Left.Pos(), "for range lower bound must be assignable to int, got %s", lo)
		}
		if !Assignable(hi, Int) {
			errs.Addf(v.Range.Right.Pos(), "for range upper bound must be assignable to int, got %s", hi)
		}
		annotateBlock(owner, v.Body, errs)
	case *ast.Return:
		retType := Void
		if v.Value != nil {
			retType = annotateExpr(owner, v.Value, errs)
		}
		declared, _ := owner.ReturnType.(Type)
		if v.Value == nil {
			if declared != Void {
				// top level permits implicit void return regardless of
				// declared type (§4.4); nested functions must match.
				if owner.Name != "<top>" {
					errs.Addf(v.Pos(), "missing return value for function returning %s", declared)
				}
			}
			return
		}
		if !Assignable(retType, declared) {
			errs.Addf(v.Pos(), "cannot return %s from function returning %s", retType, declared)
		}
	case *ast.Print:
		for _, arg := range v.Args {
			t := annotateExpr(owner, arg, errs)
			if t == Void {
				errs.Addf(arg.Pos(), "cannot print a void expression")
			}
		}
	case *ast.Call:
		annotateExpr(owner, v, errs)
	case *ast.Block:
		annotateBlock(owner, v, errs)
	case *ast.FunctionDecl:
		annotateFunction(v.Fn, errs)
	default:
		// literals/loads used as bare statements are legal no-ops
	}
}

func annotateExpr(owner *ast.Function, n ast.Node, errs *mverr.List) Type {
	switch v := n.(type) {
	case *ast.IntLiteral:
		v.ResultType = Int
		return Int
	case *ast.DoubleLiteral:
		v.ResultType = Double
		return Double
	case *ast.StringLiteral:
		v.ResultType = String
		return String
	case *ast.LoadVar:
		if v.Var == nil {
			errs.Addf(v.Pos(), "undefined variable %q", v.Name)
			v.ResultType = Invalid
			return Invalid
		}
		t := v.Var.Type.(Type)
		v.ResultType = t
		return t
	case *ast.StoreVar:
		annotateStmt(owner, v, errs)
		return Void
	case *ast.UnaryOp:
		t := annotateExpr(owner, v.Operand, errs)
		if v.Kind == ast.LogicalNot {
			if t != Int {
				errs.Addf(v.Pos(), "logical not requires int operand, got %s", t)
			}
			v.ResultType = Int
			return Int
		}
		if !t.Numeric() {
			errs.Addf(v.Pos(), "negation requires numeric operand, got %s", t)
			v.ResultType = Invalid
			return Invalid
		}
		v.ResultType = t
		return t
	case *ast.BinaryOp:
		if v.Op == ".." {
			errs.Addf(v.Pos(), "range expression only valid as a for-loop iterator")
			v.ResultType = Invalid
			return Invalid
		}
		lt := annotateExpr(owner, v.Left, errs)
		rt := annotateExpr(owner, v.Right, errs)
		result, ok := ValidateOperator(v.Op, lt, rt)
		if !ok {
			errs.Addf(v.Pos(), "operator %q not valid for operand types %s, %s", v.Op, lt, rt)
			result = Invalid
		}
		v.ResultType = result
		return result
	case *ast.Call:
		if v.Callee == nil {
			v.ResultType = Invalid
			return Invalid
		}
		params := v.Callee.Params
		if len(v.Args) != len(params) {
			errs.Addf(v.Pos(), "function %q expects %d arguments, got %d", v.Name, len(params), len(v.Args))
		}
		for i, arg := range v.Args {
			at := annotateExpr(owner, arg, errs)
			if i < len(params) {
				pt := params[i].Type.(Type)
				if !Assignable(at, pt) {
					errs.Addf(arg.Pos(), "argument %d to %q: cannot assign %s to %s", i+1, v.Name, at, pt)
				}
			}
		}
		ret, _ := v.Callee.ReturnType.(Type)
		v.ResultType = ret
		return ret
	default:
		return Void
	}
}

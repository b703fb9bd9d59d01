package parser

import (
	"github.com/dzharkov/mathvm-impl/internal/ast"
	"github.com/dzharkov/mathvm-impl/internal/mverr"
)

// precedence implements §6's fixed operator precedence table (assignment
// operators are handled at the statement level in parser.go, not here;
// ".." only ever appears inside a for-loop header, parsed directly there).
var precedence = map[string]int{
	"||": 4, "|": 4,
	"&&": 5, "&": 5, "^": 5,
	"==": 9, "!=": 9,
	"<": 10, "<=": 10, ">": 10, ">=": 10,
	"+": 12, "-": 12,
	"*": 13, "/": 13, "%": 13,
}

func (p *parser) parseExpr() (ast.Node, error) {
	return p.parseBinary(0)
}

func (p *parser) parseBinary(minPrec int) (ast.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.cur()
		if t.Kind != TokOp {
			return left, nil
		}
		prec, ok := precedence[t.Text]
		if !ok || prec < minPrec {
			return left, nil
		}
		op := t.Text
		pos := t.Pos
		p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = ast.NewBinaryOp(pos, op, left, right)
	}
}

func (p *parser) parseUnary() (ast.Node, error) {
	t := p.cur()
	if t.Kind == TokOp && t.Text == "-" {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.NewUnaryOp(t.Pos, ast.Negate, operand), nil
	}
	if t.Kind == TokOp && t.Text == "!" {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.NewUnaryOp(t.Pos, ast.LogicalNot, operand), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (ast.Node, error) {
	t := p.cur()
	switch {
	case t.Kind == TokInt:
		p.advance()
		return ast.NewIntLiteral(t.Pos, t.IntVal), nil
	case t.Kind == TokDouble:
		p.advance()
		return ast.NewDoubleLiteral(t.Pos, t.DblVal), nil
	case t.Kind == TokString:
		p.advance()
		return ast.NewStringLiteral(t.Pos, t.Text), nil
	case t.Kind == TokOp && t.Text == "(":
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return inner, nil
	case t.Kind == TokIdent && !keywords[t.Text]:
		p.advance()
		if p.atOp("(") {
			return p.parseCallArgs(t)
		}
		v, ok := p.scope.LookupVar(t.Text)
		if !ok {
			return nil, mverr.New(mverr.Parse, t.Pos, "undeclared identifier %q", t.Text)
		}
		lv := ast.NewLoadVar(t.Pos, t.Text)
		lv.Var = v
		return lv, nil
	default:
		return nil, mverr.New(mverr.Parse, t.Pos, "unexpected token %q", t.Text)
	}
}

func (p *parser) parseCallArgs(nameTok Token) (ast.Node, error) {
	p.advance() // '('
	var args []ast.Node
	if !p.atOp(")") {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.atOp(",") {
				break
			}
			p.advance()
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return ast.NewCall(nameTok.Pos, nameTok.Text, args), nil
}

package parser

import (
	"github.com/dzharkov/mathvm-impl/internal/ast"
	"github.com/dzharkov/mathvm-impl/internal/mverr"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// TopFunctionName is the synthetic top-level function's name (§4.5):
// "Top-level is represented as a synthetic function '<top>' returning
// Void". SPEC_FULL.md requires it always be function id 0.
const TopFunctionName = "<top>"

type parser struct {
	tokens []Token
	pos    int

	scope *ast.Scope
	owner *ast.Function
}

// Parse scans and parses src into the synthetic top-level ast.Function,
// with every variable reference already resolved against the scope chain
// (§3's Scope contract). Call sites are left unresolved here; the analysis
// pass sets each Call's Callee.
func Parse(src string) (*ast.Function, error) {
	toks, err := NewScanner(src).Scan()
	if err != nil {
		return nil, err
	}

	top := &ast.Function{Name: TopFunctionName, ReturnType: types.Void}
	scope := ast.NewScope(nil)
	scope.OwnerFunction = top
	top.Scope = scope

	p := &parser{tokens: toks, scope: scope, owner: top}

	stmts, err := p.parseStatements(func() bool { return p.at(TokEOF, "") })
	if err != nil {
		return nil, err
	}
	block := ast.NewBlock(mverr.Position{Line: 1, Col: 1}, scope)
	block.Statements = stmts
	top.Body = block
	return top, nil
}

// ---- token helpers ----

func (p *parser) cur() Token { return p.tokens[p.pos] }

func (p *parser) at(kind TokenKind, text string) bool {
	t := p.cur()
	if t.Kind != kind {
		return false
	}
	return text == "" || t.Text == text
}

func (p *parser) atKeyword(kw string) bool { return p.at(TokIdent, kw) }
func (p *parser) atOp(op string) bool      { return p.at(TokOp, op) }

func (p *parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expectOp(op string) error {
	if !p.atOp(op) {
		return mverr.New(mverr.Parse, p.cur().Pos, "expected %q, got %q", op, p.cur().Text)
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent() (Token, error) {
	if p.cur().Kind != TokIdent {
		return Token{}, mverr.New(mverr.Parse, p.cur().Pos, "expected identifier, got %q", p.cur().Text)
	}
	return p.advance(), nil
}

var keywords = map[string]bool{
	"int": true, "double": true, "string": true, "void": true,
	"for": true, "while": true, "if": true, "else": true, "print": true,
	"function": true, "native": true, "return": true, "in": true,
}

func (p *parser) isTypeKeyword() bool {
	t := p.cur()
	if t.Kind != TokIdent {
		return false
	}
	_, ok := types.FromKeyword(t.Text)
	return ok
}

// ---- statements ----

func (p *parser) parseStatements(stop func() bool) ([]ast.Node, error) {
	var out []ast.Node
	for !stop() {
		n, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (p *parser) parseStatement() (ast.Node, error) {
	switch {
	case p.atKeyword("function"):
		return p.parseFunctionDecl()
	case p.atKeyword("native"):
		return p.parseNativeDecl()
	case p.isTypeKeyword():
		return p.parseVarDecl()
	case p.atKeyword("if"):
		return p.parseIf()
	case p.atKeyword("while"):
		return p.parseWhile()
	case p.atKeyword("for"):
		return p.parseFor()
	case p.atKeyword("return"):
		return p.parseReturn()
	case p.atKeyword("print"):
		return p.parsePrint()
	case p.atOp("{"):
		return p.parseBlockStmt()
	case p.atOp(";"):
		p.advance()
		return nil, nil
	default:
		return p.parseExprStatement()
	}
}

func (p *parser) parseBlockStmt() (*ast.Block, error) {
	pos := p.cur().Pos
	if err := p.expectOp("{"); err != nil {
		return nil, err
	}
	childScope := ast.NewScope(p.scope)
	outer := p.scope
	p.scope = childScope
	stmts, err := p.parseStatements(func() bool { return p.atOp("}") || p.at(TokEOF, "") })
	p.scope = outer
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	b := ast.NewBlock(pos, childScope)
	b.Statements = stmts
	return b, nil
}

func (p *parser) parseType() (types.Type, error) {
	t := p.cur()
	ty, ok := types.FromKeyword(t.Text)
	if !ok {
		return types.Invalid, mverr.New(mverr.Parse, t.Pos, "expected a type, got %q", t.Text)
	}
	p.advance()
	return ty, nil
}

func (p *parser) parseVarDecl() (ast.Node, error) {
	ty, err := p.parseType()
	if err != nil {
		return nil, err
	}
	for {
		nameTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if _, exists := p.scope.Vars[nameTok.Text]; exists {
			return nil, mverr.New(mverr.Parse, nameTok.Pos, "redeclaration of variable %q", nameTok.Text)
		}
		v := &ast.Variable{Name: nameTok.Text, Type: ty, OwnerFunction: p.owner}
		p.scope.DeclareVar(v)
		if !p.atOp(",") {
			break
		}
		p.advance()
	}
	if err := p.expectOp(";"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *parser) parseFunctionDecl() (ast.Node, error) {
	pos := p.cur().Pos
	p.advance() // 'function'
	retType, err := p.parseType()
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	fn := &ast.Function{Name: nameTok.Text, ReturnType: retType}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	params, err := p.parseParamList(fn)
	if err != nil {
		return nil, err
	}
	fn.Params = params
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}

	p.scope.DeclareFunc(fn)

	fnScope := ast.NewScope(p.scope)
	fnScope.OwnerFunction = fn
	fn.Scope = fnScope
	for _, param := range params {
		fnScope.DeclareVar(param)
	}

	outerScope, outerOwner := p.scope, p.owner
	p.scope, p.owner = fnScope, fn

	bodyPos := p.cur().Pos
	if err := p.expectOp("{"); err != nil {
		p.scope, p.owner = outerScope, outerOwner
		return nil, err
	}
	stmts, err := p.parseStatements(func() bool { return p.atOp("}") || p.at(TokEOF, "") })
	p.scope, p.owner = outerScope, outerOwner
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}

	body := ast.NewBlock(bodyPos, fnScope)
	body.Statements = stmts
	fn.Body = body

	return ast.NewFunctionDecl(pos, fn), nil
}

func (p *parser) parseParamList(fn *ast.Function) ([]*ast.Variable, error) {
	var params []*ast.Variable
	if p.atOp(")") {
		return params, nil
	}
	for {
		ty, err := p.parseType()
		if err != nil {
			return nil, err
		}
		nameTok, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		params = append(params, &ast.Variable{Name: nameTok.Text, Type: ty, OwnerFunction: fn})
		if !p.atOp(",") {
			break
		}
		p.advance()
	}
	return params, nil
}

func (p *parser) parseNativeDecl() (ast.Node, error) {
	pos := p.cur().Pos
	p.advance() // 'native'
	retType, err := p.parseType()
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	fn := &ast.Function{Name: nameTok.Text, ReturnType: retType, Native: true}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	params, err := p.parseParamList(fn)
	if err != nil {
		return nil, err
	}
	fn.Params = params
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	if err := p.expectOp(";"); err != nil {
		return nil, err
	}
	p.scope.DeclareFunc(fn)
	return ast.NewFunctionDecl(pos, fn), nil
}

func (p *parser) parseIf() (ast.Node, error) {
	pos := p.cur().Pos
	p.advance()
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	then, err := p.parseBlockStmt()
	if err != nil {
		return nil, err
	}
	var els *ast.Block
	if p.atKeyword("else") {
		p.advance()
		els, err = p.parseBlockStmt()
		if err != nil {
			return nil, err
		}
	}
	return ast.NewIf(pos, cond, then, els), nil
}

func (p *parser) parseWhile() (ast.Node, error) {
	pos := p.cur().Pos
	p.advance()
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlockStmt()
	if err != nil {
		return nil, err
	}
	return ast.NewWhile(pos, cond, body), nil
}

func (p *parser) parseFor() (ast.Node, error) {
	pos := p.cur().Pos
	p.advance()
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	nameTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if !p.atKeyword("in") {
		return nil, mverr.New(mverr.Parse, p.cur().Pos, "expected 'in' in for loop")
	}
	p.advance()
	lo, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(".."); err != nil {
		return nil, err
	}
	hi, err := p.parseBinary(0)
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}

	v, ok := p.scope.LookupVar(nameTok.Text)
	if !ok {
		return nil, mverr.New(mverr.Parse, nameTok.Pos, "undeclared for-loop variable %q", nameTok.Text)
	}

	body, err := p.parseBlockStmt()
	if err != nil {
		return nil, err
	}

	rng := ast.NewBinaryOp(pos, "..", lo, hi)
	f := ast.NewFor(pos, nameTok.Text, rng, body)
	f.Var = v
	return f, nil
}

func (p *parser) parseReturn() (ast.Node, error) {
	pos := p.cur().Pos
	p.advance()
	if p.atOp(";") {
		p.advance()
		return ast.NewReturn(pos, nil), nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(";"); err != nil {
		return nil, err
	}
	return ast.NewReturn(pos, val), nil
}

func (p *parser) parsePrint() (ast.Node, error) {
	pos := p.cur().Pos
	p.advance()
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
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
	if err := p.expectOp(";"); err != nil {
		return nil, err
	}
	return ast.NewPrint(pos, args), nil
}

// parseExprStatement handles `ident = expr;`, `ident += expr;`,
// `ident -= expr;`, and bare call-expression statements like `foo();`.
func (p *parser) parseExprStatement() (ast.Node, error) {
	if p.cur().Kind == TokIdent && !keywords[p.cur().Text] {
		nameTok := p.cur()
		if p.peekOpAt(1, "=") || p.peekOpAt(1, "+=") || p.peekOpAt(1, "-=") {
			p.advance()
			opTok := p.advance()
			var op ast.StoreOp
			switch opTok.Text {
			case "=":
				op = ast.Assign
			case "+=":
				op = ast.AddAssign
			case "-=":
				op = ast.SubAssign
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(";"); err != nil {
				return nil, err
			}
			v, ok := p.scope.LookupVar(nameTok.Text)
			if !ok {
				return nil, mverr.New(mverr.Parse, nameTok.Pos, "undeclared variable %q", nameTok.Text)
			}
			sv := ast.NewStoreVar(nameTok.Pos, nameTok.Text, op, val)
			sv.Var = v
			return sv, nil
		}
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp(";"); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *parser) peekOpAt(offset int, op string) bool {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return false
	}
	t := p.tokens[idx]
	return t.Kind == TokOp && t.Text == op
}

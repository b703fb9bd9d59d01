// Package ast defines MathVM's abstract syntax tree: the contract the
// (out of scope) scanner and parser hand to the type-annotation pass and
// the bytecode translator. Every node carries its source position; once
// the type-annotation pass (internal/types) has run, every expression
// node also carries a resolved types.Type in its ResultType field.
package ast

import "github.com/dzharkov/mathvm-impl/internal/mverr"

// Node is the sum type every AST node implements.
type Node interface {
	Pos() mverr.Position
}

type baseNode struct {
	pos mverr.Position
}

func (b baseNode) Pos() mverr.Position { return b.pos }

// exprMeta is embedded by every expression-shaped node; ResultType holds
// the types.Type the type-annotation pass (§4.4) assigns it, kept as
// interface{} here so the ast package never imports types and creates a
// cycle back from types -> ast.
type exprMeta struct {
	ResultType interface{}
}

// AnnotatedType returns ResultType; it lets code holding a plain Node read
// the annotated type of an expression through the Expr interface.
func (m *exprMeta) AnnotatedType() interface{} { return m.ResultType }

// Expr is implemented by every node that embeds exprMeta.
type Expr interface {
	Node
	AnnotatedType() interface{}
}

// ---- Literals ----

type IntLiteral struct {
	baseNode
	exprMeta
	Value int64
}

type DoubleLiteral struct {
	baseNode
	exprMeta
	Value float64
}

type StringLiteral struct {
	baseNode
	exprMeta
	Value string
}

// ---- Variable access ----

type LoadVar struct {
	baseNode
	exprMeta
	Name string
	// Var is resolved by the parser against the scope chain.
	Var *Variable
}

type StoreOp int

const (
	Assign StoreOp = iota
	AddAssign
	SubAssign
)

type StoreVar struct {
	baseNode
	exprMeta
	Name  string
	Op    StoreOp
	Value Node
	Var   *Variable
}

// ---- Operators ----

type UnaryKind int

const (
	Negate UnaryKind = iota
	LogicalNot
)

type UnaryOp struct {
	baseNode
	exprMeta
	Kind    UnaryKind
	Operand Node
}

// BinaryOp covers arithmetic, bitwise, logical, comparison, and range
// operators; Op is the source-level token ("+", "..", "==", ...).
type BinaryOp struct {
	baseNode
	exprMeta
	Op    string
	Left  Node
	Right Node
}

// ---- Structured control flow ----

type Block struct {
	baseNode
	Scope      *Scope
	Statements []Node
}

type If struct {
	baseNode
	Cond Node
	Then *Block
	Else *Block // nil if no else clause
}

type While struct {
	baseNode
	Cond Node
	Body *Block
}

// For desugars at translation time to the loop described in §4.5; the AST
// node itself just carries the iteration variable and the range expression.
type For struct {
	baseNode
	VarName string
	Var     *Variable
	Range   *BinaryOp // Op == ".."
	Body    *Block
}

type Return struct {
	baseNode
	Value Node // nil if bare `return;`
}

type Call struct {
	baseNode
	exprMeta
	Name    string
	Args    []Node
	Callee  *Function // resolved by function-analysis (§4.3)
	Inlined bool       // set by the translator once inlining decision is made
}

type Print struct {
	baseNode
	Args []Node
}

// FunctionDecl is a named function definition, nested or top-level; a
// native declaration is the same node with Fn.Native set and Fn.Body nil.
type FunctionDecl struct {
	baseNode
	Fn *Function
}

// ---- Shared metadata ----

// Variable is a statically-typed declared variable. Type is fixed at
// declaration and never changes; OwnerFunction is set by the parser.
type Variable struct {
	Name string
	Type interface{} // types.Type

	// OwnerFunction is the function whose frame this variable lives in,
	// fixed at declaration time (parse time). The translator does not read
	// it: it decides between a plain local access and a closure (CTX)
	// access from its own varFrame map (§4.5).
	OwnerFunction *Function
	// Slot is not assigned by any pass; the translator keeps each
	// variable's slot index in its own varSlot map (§4.5).
	Slot int
}

// Function is the AST-level shell for a named function (top-level or
// nested). Body is nil for native declarations.
type Function struct {
	Name       string
	Params     []*Variable
	ReturnType interface{} // types.Type
	Body       *Block
	Native     bool

	Scope *Scope
}

// Scope carries a mapping from name to variable and from name to function,
// a parent link, and child scopes, per §3.
type Scope struct {
	Parent   *Scope
	Children []*Scope

	Vars     map[string]*Variable
	VarOrder []string
	Funcs    map[string]*Function

	// OwnerFunction is the function whose body this scope sits within
	// (nil for a scope created purely for a nested block).
	OwnerFunction *Function
}

func NewScope(parent *Scope) *Scope {
	s := &Scope{
		Parent: parent,
		Vars:   make(map[string]*Variable),
		Funcs:  make(map[string]*Function),
	}
	if parent != nil {
		parent.Children = append(parent.Children, s)
	}
	return s
}

func (s *Scope) LookupVar(name string) (*Variable, bool) {
	for sc := s; sc != nil; sc = sc.Parent {
		if v, ok := sc.Vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (s *Scope) LookupFunc(name string) (*Function, bool) {
	for sc := s; sc != nil; sc = sc.Parent {
		if f, ok := sc.Funcs[name]; ok {
			return f, true
		}
	}
	return nil, false
}

// DeclareVar installs a new variable in this scope, shadowing any
// same-named variable visible from an enclosing scope. VarOrder preserves
// declaration order so the translator can assign local slots (§4.5)
// deterministically — Go map iteration is not ordered.
func (s *Scope) DeclareVar(v *Variable) {
	s.Vars[v.Name] = v
	s.VarOrder = append(s.VarOrder, v.Name)
}

func (s *Scope) DeclareFunc(f *Function) {
	s.Funcs[f.Name] = f
}

// Constructors. External packages (the parser) cannot set the unexported
// baseNode field directly, so every node type gets one of these instead of
// a bare struct literal.

func NewIntLiteral(pos mverr.Position, v int64) *IntLiteral {
	return &IntLiteral{baseNode: baseNode{pos}, Value: v}
}

func NewDoubleLiteral(pos mverr.Position, v float64) *DoubleLiteral {
	return &DoubleLiteral{baseNode: baseNode{pos}, Value: v}
}

func NewStringLiteral(pos mverr.Position, v string) *StringLiteral {
	return &StringLiteral{baseNode: baseNode{pos}, Value: v}
}

func NewLoadVar(pos mverr.Position, name string) *LoadVar {
	return &LoadVar{baseNode: baseNode{pos}, Name: name}
}

func NewStoreVar(pos mverr.Position, name string, op StoreOp, value Node) *StoreVar {
	return &StoreVar{baseNode: baseNode{pos}, Name: name, Op: op, Value: value}
}

func NewUnaryOp(pos mverr.Position, kind UnaryKind, operand Node) *UnaryOp {
	return &UnaryOp{baseNode: baseNode{pos}, Kind: kind, Operand: operand}
}

func NewBinaryOp(pos mverr.Position, op string, left, right Node) *BinaryOp {
	return &BinaryOp{baseNode: baseNode{pos}, Op: op, Left: left, Right: right}
}

func NewBlock(pos mverr.Position, scope *Scope) *Block {
	return &Block{baseNode: baseNode{pos}, Scope: scope}
}

func NewIf(pos mverr.Position, cond Node, then, els *Block) *If {
	return &If{baseNode: baseNode{pos}, Cond: cond, Then: then, Else: els}
}

func NewWhile(pos mverr.Position, cond Node, body *Block) *While {
	return &While{baseNode: baseNode{pos}, Cond: cond, Body: body}
}

func NewFor(pos mverr.Position, varName string, rng *BinaryOp, body *Block) *For {
	return &For{baseNode: baseNode{pos}, VarName: varName, Range: rng, Body: body}
}

func NewReturn(pos mverr.Position, value Node) *Return {
	return &Return{baseNode: baseNode{pos}, Value: value}
}

func NewCall(pos mverr.Position, name string, args []Node) *Call {
	return &Call{baseNode: baseNode{pos}, Name: name, Args: args}
}

func NewPrint(pos mverr.Position, args []Node) *Print {
	return &Print{baseNode: baseNode{pos}, Args: args}
}

func NewFunctionDecl(pos mverr.Position, fn *Function) *FunctionDecl {
	return &FunctionDecl{baseNode: baseNode{pos}, Fn: fn}
}


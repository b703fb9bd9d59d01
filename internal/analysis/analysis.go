// Package analysis implements the function-analysis pass of §4.3: a
// pre-pass over the AST that assigns ids to every non-native function
// (modelling lexical shadowing with per-name stacks), records the call
// graph, detects direct/indirect recursion, and annotates every CallNode
// with its resolved callee.
package analysis

import (
	"github.com/dzharkov/mathvm-impl/internal/ast"
	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/mverr"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// Result is the contract handed to the translator (§4.3): a boolean vector
// of "is recursive" by function id, and a lookup from every ast.Function to
// its associated, id-assigned code.Function shell.
type Result struct {
	Registry    *code.Registry
	CodeFunc    map[*ast.Function]*code.Function
	IsRecursive []bool
}

type analyzer struct {
	registry *code.Registry
	codeFunc map[*ast.Function]*code.Function
	astFunc  map[int]*ast.Function // code function id -> ast function

	// adjacency[caller id] = set of callee ids, built as calls are seen.
	adjacency map[int]map[int]bool

	// shadow stack per name models lexical shadowing of nested functions
	// with the same name (§4.3 item 1).
	shadow map[string][]*ast.Function
}

// Analyze walks top (the synthetic "<top>" function, per §4.5) and returns
// the Result described above. native declarations are registered with the
// registry but receive no code.Function and no id in the call graph.
func Analyze(top *ast.Function) (*Result, error) {
	a := &analyzer{
		registry:  code.New(),
		codeFunc:  make(map[*ast.Function]*code.Function),
		astFunc:   make(map[int]*ast.Function),
		adjacency: make(map[int]map[int]bool),
		shadow:    make(map[string][]*ast.Function),
	}

	if err := a.declareFunction(top); err != nil {
		return nil, err
	}
	if err := a.walkFunction(top); err != nil {
		return nil, err
	}

	recursive := make([]bool, a.registry.FunctionCount())
	for id := range recursive {
		recursive[id] = a.reaches(id, id, make(map[int]bool))
	}
	for id, fn := range a.astFunc {
		a.codeFunc[fn].Recursive = recursive[id]
	}

	return &Result{
		Registry:    a.registry,
		CodeFunc:    a.codeFunc,
		IsRecursive: recursive,
	}, nil
}

func (a *analyzer) declareFunction(fn *ast.Function) error {
	if fn.Native {
		params := make([]types.Type, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = p.Type.(types.Type)
		}
		a.registry.AddNative(fn.Name, params, fn.ReturnType.(types.Type))
		a.shadow[fn.Name] = append(a.shadow[fn.Name], fn)
		return nil
	}

	params := make([]types.Type, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Type.(types.Type)
	}
	cf := a.registry.AddFunction(fn.Name, params, fn.ReturnType.(types.Type))
	a.codeFunc[fn] = cf
	a.astFunc[cf.ID] = fn
	a.shadow[fn.Name] = append(a.shadow[fn.Name], fn)
	return nil
}

// walkFunction declares every nested function in fn's body first (so
// sibling functions can call each other regardless of textual order
// within the same scope), then walks statements to record call edges.
func (a *analyzer) walkFunction(fn *ast.Function) error {
	if fn.Body == nil {
		return nil // native
	}
	if err := a.predeclareNested(fn.Body); err != nil {
		return err
	}
	err := a.walkBlock(fn, fn.Body)
	for _, stmt := range fn.Body.Statements {
		if fd, ok := stmt.(*ast.FunctionDecl); ok {
			stack := a.shadow[fd.Fn.Name]
			a.shadow[fd.Fn.Name] = stack[:len(stack)-1]
		}
	}
	return err
}

func (a *analyzer) predeclareNested(b *ast.Block) error {
	for _, stmt := range b.Statements {
		if fd, ok := stmt.(*ast.FunctionDecl); ok {
			if err := a.declareFunction(fd.Fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *analyzer) walkBlock(owner *ast.Function, b *ast.Block) error {
	for _, stmt := range b.Statements {
		if err := a.walkNode(owner, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) walkNode(owner *ast.Function, n ast.Node) error {
	switch v := n.(type) {
	case nil:
		return nil
	case *ast.IntLiteral, *ast.DoubleLiteral, *ast.StringLiteral, *ast.LoadVar:
		return nil
	case *ast.StoreVar:
		return a.walkNode(owner, v.Value)
	case *ast.UnaryOp:
		return a.walkNode(owner, v.Operand)
	case *ast.BinaryOp:
		if err := a.walkNode(owner, v.Left); err != nil {
			return err
		}
		return a.walkNode(owner, v.Right)
	case *ast.Block:
		return a.walkFunctionBody(owner, v)
	case *ast.If:
		if err := a.walkNode(owner, v.Cond); err != nil {
			return err
		}
		if err := a.walkFunctionBody(owner, v.Then); err != nil {
			return err
		}
		if v.Else != nil {
			return a.walkFunctionBody(owner, v.Else)
		}
		return nil
	case *ast.While:
		if err := a.walkNode(owner, v.Cond); err != nil {
			return err
		}
		return a.walkFunctionBody(owner, v.Body)
	case *ast.For:
		if err := a.walkNode(owner, v.Range); err != nil {
			return err
		}
		return a.walkFunctionBody(owner, v.Body)
	case *ast.Return:
		if v.Value != nil {
			return a.walkNode(owner, v.Value)
		}
		return nil
	case *ast.Print:
		for _, arg := range v.Args {
			if err := a.walkNode(owner, arg); err != nil {
				return err
			}
		}
		return nil
	case *ast.Call:
		for _, arg := range v.Args {
			if err := a.walkNode(owner, arg); err != nil {
				return err
			}
		}
		callees := a.shadow[v.Name]
		if len(callees) == 0 {
			return mverr.New(mverr.Translation, v.Pos(), "undefined function %q", v.Name)
		}
		callee := callees[len(callees)-1]
		v.Callee = callee
		if !callee.Native {
			a.addEdge(a.codeFunc[owner].ID, a.codeFunc[callee].ID)
		}
		return nil
	case *ast.FunctionDecl:
		// Nested function bodies are analyzed in their own right once
		// reached; shadowing is popped after the enclosing block finishes
		// (see walkFunctionBody).
		return a.walkFunction(v.Fn)
	default:
		return mverr.Fatal(mverr.Translation, "analysis: unhandled node type %T", n)
	}
}

// walkFunctionBody walks a nested block and pops any shadowing this block
// introduced (functions declared directly inside it) once done, so a
// sibling scope's lookup doesn't see them.
func (a *analyzer) walkFunctionBody(owner *ast.Function, b *ast.Block) error {
	declaredHere := make([]string, 0)
	for _, stmt := range b.Statements {
		if fd, ok := stmt.(*ast.FunctionDecl); ok {
			if err := a.declareFunction(fd.Fn); err != nil {
				return err
			}
			declaredHere = append(declaredHere, fd.Fn.Name)
		}
	}
	err := a.walkBlock(owner, b)
	for _, name := range declaredHere {
		stack := a.shadow[name]
		a.shadow[name] = stack[:len(stack)-1]
	}
	return err
}

func (a *analyzer) addEdge(caller, callee int) {
	set, ok := a.adjacency[caller]
	if !ok {
		set = make(map[int]bool)
		a.adjacency[caller] = set
	}
	set[callee] = true
}

// reaches performs a DFS from start looking for target, detecting both
// direct self-loops and indirect cycles (§4.3 item 3).
func (a *analyzer) reaches(start, target int, visited map[int]bool) bool {
	for callee := range a.adjacency[start] {
		if callee == target {
			return true
		}
		if visited[callee] {
			continue
		}
		visited[callee] = true
		if a.reaches(callee, target, visited) {
			return true
		}
	}
	return false
}

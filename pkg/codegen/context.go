// Package codegen is the semantic analyzer: it resolves names and types in
// a syntax tree and lowers function bodies into IR. It also hosts the
// backends that consume the resulting module.
package codegen

import (
	"fmt"

	"github.com/xplshn/aslc/pkg/ast"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/token"
	"github.com/xplshn/aslc/pkg/types"
)

type symbolKind int

const (
	symVar symbolKind = iota
	symFunc
	symType
)

type symbol struct {
	Name  string
	Kind  symbolKind
	Value ir.Value       // symVar: the variable's storage, or the value of an opaque argument
	Type  types.Type     // symType
	Group *FunctionGroup // symFunc
	Node  *ast.Node
	Next  *symbol
}

type scope struct {
	Symbols *symbol
	Parent  *scope
}

// FunctionGroup holds the overloads sharing one source name, keyed by the
// value types of their arguments.
type FunctionGroup struct {
	Name      string
	overloads map[string]*ir.Function
	order     []*ir.Function
}

func newFunctionGroup(name string) *FunctionGroup {
	return &FunctionGroup{Name: name, overloads: make(map[string]*ir.Function)}
}

// Lookup returns the overload whose argument value types are exactly tuple.
func (g *FunctionGroup) Lookup(tuple []types.Type) *ir.Function {
	return g.overloads[types.TupleKey(tuple)]
}

// Functions returns the overloads in declaration order.
func (g *FunctionGroup) Functions() []*ir.Function { return g.order }

func (g *FunctionGroup) add(fn *ir.Function) {
	g.overloads[fn.Typ.OverloadKey()] = fn
	g.order = append(g.order, fn)
}

// Diagnostic is a warning raised while compiling.
type Diagnostic struct {
	Warning config.Warning
	Pos     token.Pos
	Msg     string
}

// loopContext describes where break and continue go inside the innermost
// loop. A for loop runs its step expression, and a do-while loop re-tests
// its condition, on every path back to the loop header.
type loopContext struct {
	breakBlock    ir.BlockID
	continueBlock ir.BlockID
	step          *ast.Node
	cond          *ast.Node
	scope         *scope
}

// Context compiles one translation unit into an ir.Module.
type Context struct {
	cfg    *config.Config
	types  *types.Registry
	module *ir.Module

	globalScope  *scope
	currentScope *scope
	currentFunc  *ir.Function
	currentDecl  *ast.Node
	entryBlock   ir.BlockID
	builder      *ir.Builder
	loop         *loopContext

	errors      ErrorList
	diagnostics []Diagnostic
}

func NewContext(cfg *config.Config, reg *types.Registry, moduleName string) *Context {
	global := newScope(nil)
	return &Context{
		cfg:          cfg,
		types:        reg,
		module:       ir.NewModule(moduleName, reg),
		globalScope:  global,
		currentScope: global,
	}
}

func (ctx *Context) Module() *ir.Module { return ctx.module }

// Errors returns the semantic errors collected so far.
func (ctx *Context) Errors() ErrorList { return ctx.errors }

// Diagnostics returns the warnings collected so far, in emission order.
func (ctx *Context) Diagnostics() []Diagnostic { return ctx.diagnostics }

func (ctx *Context) warn(w config.Warning, pos token.Pos, format string, args ...interface{}) {
	if ctx.cfg.IsWarningEnabled(w) {
		ctx.diagnostics = append(ctx.diagnostics, Diagnostic{Warning: w, Pos: pos, Msg: fmt.Sprintf(format, args...)})
	}
}

func newScope(parent *scope) *scope { return &scope{Parent: parent} }

func (ctx *Context) enterScope() { ctx.currentScope = newScope(ctx.currentScope) }
func (ctx *Context) exitScope() {
	if ctx.currentScope.Parent != nil {
		ctx.currentScope = ctx.currentScope.Parent
	}
}

func (ctx *Context) findSymbol(name string) *symbol {
	for s := ctx.currentScope; s != nil; s = s.Parent {
		if sym := s.lookup(name); sym != nil {
			return sym
		}
	}
	return nil
}

func (s *scope) lookup(name string) *symbol {
	for sym := s.Symbols; sym != nil; sym = sym.Next {
		if sym.Name == name {
			return sym
		}
	}
	return nil
}

// addSymbol binds name in the current scope. Rebinding a name of the same
// scope is an error; hiding an outer binding only warns.
func (ctx *Context) addSymbol(name string, kind symbolKind, node *ast.Node) *symbol {
	if prev := ctx.currentScope.lookup(name); prev != nil {
		semanticError(DuplicateDefinition, node.Pos, "redefinition of '%s'", name)
	}
	if ctx.currentScope != ctx.globalScope {
		for s := ctx.currentScope.Parent; s != nil; s = s.Parent {
			if outer := s.lookup(name); outer != nil && outer.Kind == symVar {
				ctx.warn(config.WarnShadow, node.Pos, "declaration of '%s' shadows an outer declaration", name)
				break
			}
		}
	}
	sym := &symbol{Name: name, Kind: kind, Node: node, Next: ctx.currentScope.Symbols}
	ctx.currentScope.Symbols = sym
	return sym
}

// resolveType maps a type expression to a type. Structures are looked up in
// scope, everything else in the registry's builtin table.
func (ctx *Context) resolveType(node *ast.Node) types.Type {
	name := node.Data.(ast.TypeNameNode).Name
	if sym := ctx.findSymbol(name); sym != nil {
		if sym.Kind != symType {
			semanticError(TypeMismatch, node.Pos, "'%s' is not a type", name)
		}
		node.Typ = sym.Type
		return sym.Type
	}
	t, ok := ctx.types.Lookup(name)
	if !ok {
		semanticError(UnknownIdentifier, node.Pos, "unknown type '%s'", name)
	}
	node.Typ = t
	return t
}

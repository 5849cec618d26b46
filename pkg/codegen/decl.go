package codegen

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xplshn/aslc/pkg/ast"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/types"
)

// CompileTranslationUnit compiles every declaration of root in order. A
// declaration with a semantic error is dropped and compilation continues
// with the next one; the errors are returned together as an ErrorList.
func (ctx *Context) CompileTranslationUnit(root *ast.Node) (*ir.Module, error) {
	if root == nil || root.Type != ast.TranslationUnit {
		return nil, errors.New("codegen: root node is not a translation unit")
	}
	for _, decl := range root.Data.(ast.TranslationUnitNode).Decls {
		if err := catch(func() { ctx.compileDeclaration(decl) }); err != nil {
			ctx.errors = append(ctx.errors, err.(*SemanticError))
		}
	}
	if len(ctx.errors) > 0 {
		return ctx.module, ctx.errors
	}
	if ctx.cfg.IsFeatureEnabled(config.FeatVerifyIR) {
		if err := ir.NewPassManager(ir.Verifier{}).Run(ctx.module); err != nil {
			return nil, errors.Wrap(err, "codegen produced invalid IR")
		}
	}
	return ctx.module, nil
}

func (ctx *Context) compileDeclaration(node *ast.Node) {
	switch node.Type {
	case ast.FuncDecl:
		if node.Data.(ast.FuncDeclNode).Body == nil {
			ctx.declarePrototype(node)
		} else {
			ctx.compileFunction(node)
		}
	case ast.StructDecl:
		ctx.declareStructure(node)
	case ast.GlobalVarDecl:
		ctx.declareGlobal(node)
	default:
		semanticError(InvalidOperation, node.Pos, "unexpected '%s' at file scope", node.Type)
	}
}

// DeclareFunctionPrototype registers the function declared by node, or
// returns the function an earlier declaration of the same overload created.
func (ctx *Context) DeclareFunctionPrototype(node *ast.Node) (fn *ir.Function, err error) {
	err = catch(func() { fn = ctx.declarePrototype(node) })
	return fn, err
}

// CompileFunctionBody declares the function defined by node and lowers its
// body. On error the function is left as a body-less declaration.
func (ctx *Context) CompileFunctionBody(node *ast.Node) (fn *ir.Function, err error) {
	err = catch(func() { fn = ctx.compileFunction(node) })
	return fn, err
}

func (ctx *Context) functionType(node *ast.Node) (*types.Function, []string) {
	d := node.Data.(ast.FuncDeclNode)
	ret := ctx.resolveType(d.ReturnType)
	if d.Kind != types.FuncNormal && !types.IsVoid(ret) {
		semanticError(TypeMismatch, d.ReturnType.Pos, "entry point '%s' must return void, not %s", d.Name, ret)
	}

	args := make([]types.Argument, len(d.Params))
	names := make([]string, len(d.Params))
	for i, p := range d.Params {
		pd := p.Data.(ast.ParamNode)
		base := ctx.resolveType(pd.Type)
		if types.IsVoid(base) {
			semanticError(TypeMismatch, p.Pos, "parameter '%s' has type void", pd.Name)
		}
		if types.IsSampler(base) && pd.Mode != types.Normal && pd.Mode != types.In {
			semanticError(TypeMismatch, p.Pos, "sampler parameter '%s' cannot be %s", pd.Name, pd.Mode)
		}
		args[i] = types.Argument{Type: ctx.types.ArgumentType(base, pd.Mode), Mode: pd.Mode}
		names[i] = pd.Name
	}
	return ctx.types.Function(d.Kind, ret, args), names
}

func (ctx *Context) declarePrototype(node *ast.Node) *ir.Function {
	d := node.Data.(ast.FuncDeclNode)
	fnType, argNames := ctx.functionType(node)

	var group *FunctionGroup
	switch sym := ctx.globalScope.lookup(d.Name); {
	case sym == nil:
		group = newFunctionGroup(d.Name)
		saved := ctx.currentScope
		ctx.currentScope = ctx.globalScope
		ctx.addSymbol(d.Name, symFunc, node).Group = group
		ctx.currentScope = saved
	case sym.Kind != symFunc:
		semanticError(DuplicateDefinition, node.Pos, "'%s' redeclared as a function", d.Name)
	default:
		group = sym.Group
	}

	if fn := group.Lookup(fnType.OverloadTuple()); fn != nil {
		if fn.Typ != fnType {
			semanticError(DuplicateDefinition, node.Pos, "'%s' conflicts with an earlier declaration '%s' taking the same argument types", d.Name, fn.Typ)
		}
		return fn
	}

	linkage := d.Name
	for n := 1; ctx.module.Lookup(linkage) != nil; n++ {
		linkage = fmt.Sprintf("%s.%d", d.Name, n)
	}
	fn := ir.NewFunction(linkage, d.Name, fnType, argNames)
	if err := ctx.module.Add(fn); err != nil {
		panic(errors.Wrap(err, "codegen"))
	}
	group.add(fn)
	return fn
}

func (ctx *Context) compileFunction(node *ast.Node) *ir.Function {
	d := node.Data.(ast.FuncDeclNode)
	fn := ctx.declarePrototype(node)
	if fn.Defined {
		semanticError(DuplicateDefinition, node.Pos, "redefinition of '%s'", d.Name)
	}
	for i, p := range d.Params {
		fn.Args[i].Name = p.Data.(ast.ParamNode).Name
	}

	outer := ctx.currentScope
	ctx.currentFunc, ctx.currentDecl = fn, node
	ctx.builder = ir.NewBuilder(ctx.types, fn)
	ctx.loop = nil
	ctx.enterScope()
	defer func() {
		ctx.currentScope = outer
		ctx.currentFunc, ctx.currentDecl, ctx.builder, ctx.loop = nil, nil, nil, nil
		if r := recover(); r != nil {
			fn.Reset()
			panic(r)
		}
	}()

	fn.Defined = true
	decls := fn.NewBlock("declarations")
	entry := fn.NewBlock("entry")
	ctx.entryBlock = entry
	ctx.builder.AllocaBlock = decls
	ctx.builder.SetInsertPoint(entry)
	ctx.bindArguments(fn, d.Params)

	body := []*ast.Node{d.Body}
	if d.Body.Type == ast.Block {
		body = d.Body.Data.(ast.BlockNode).Stmts
	}
	if !ctx.codegenStmts(body) {
		ctx.implicitReturn(node)
	}

	ctx.builder.SetInsertPoint(decls)
	ctx.builder.Jump(entry)
	return fn
}

// bindArguments puts the arguments in scope. Reference arguments and
// samplers are bound directly; by-value arguments are copied into a local
// slot so the body may assign to them.
func (ctx *Context) bindArguments(fn *ir.Function, params []*ast.Node) {
	for i, arg := range fn.Args {
		sym := ctx.addSymbol(arg.Name, symVar, params[i])
		if types.IsReference(arg.Typ) || types.IsSampler(arg.Typ) {
			sym.Value = arg
			continue
		}
		slot := ctx.builder.Alloca(arg.Typ, "arguments."+arg.Name)
		ctx.builder.Store(arg, slot)
		sym.Value = slot
	}
}

func (ctx *Context) implicitReturn(node *ast.Node) {
	if ctx.builder.Terminated() {
		return
	}
	fn := ctx.currentFunc
	if cur := ctx.builder.Block(); cur != ctx.entryBlock && !ctx.hasPredecessors(cur) {
		ctx.builder.Unreachable()
		return
	}
	if types.IsVoid(fn.Typ.Return) {
		ctx.warn(config.WarnImplicitReturn, node.Pos, "control reaches the end of '%s' without a return", fn.SourceName)
		ctx.builder.ReturnVoid()
		return
	}
	semanticError(MissingReturn, node.Pos, "control reaches the end of non-void function '%s'", fn.SourceName)
}

func (ctx *Context) hasPredecessors(id ir.BlockID) bool {
	for _, bb := range ctx.currentFunc.Blocks {
		for _, s := range bb.Successors() {
			if s == id {
				return true
			}
		}
	}
	return false
}

func (ctx *Context) declareStructure(node *ast.Node) {
	d := node.Data.(ast.StructDeclNode)
	fields := make([]types.Field, 0, len(d.Fields))
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		fd := f.Data.(ast.VarDeclNode)
		if seen[fd.Name] {
			semanticError(DuplicateDefinition, f.Pos, "duplicate member '%s' in '%s'", fd.Name, d.Name)
		}
		seen[fd.Name] = true
		t := ctx.resolveType(fd.Type)
		if types.IsVoid(t) || types.IsSampler(t) {
			semanticError(TypeMismatch, f.Pos, "member '%s' cannot have type %s", fd.Name, t)
		}
		fields = append(fields, types.Field{Name: fd.Name, Type: t})
	}
	st := ctx.types.Structure(d.Name, fields)
	ctx.addSymbol(d.Name, symType, node).Type = st
	node.Typ = st
}

func (ctx *Context) declareGlobal(node *ast.Node) {
	d := node.Data.(ast.GlobalVarDeclNode)
	t := ctx.resolveType(d.Type)
	if types.IsVoid(t) {
		semanticError(TypeMismatch, node.Pos, "variable '%s' has type void", d.Name)
	}
	if types.IsSampler(t) && d.Storage != "uniform" {
		semanticError(TypeMismatch, node.Pos, "sampler '%s' must be a uniform", d.Name)
	}
	readOnly := d.Storage == "uniform" || d.Storage == "in"
	gv := &ir.GlobalVariable{Name: d.Name, Typ: ctx.types.Reference(t, readOnly), ValueType: t, Storage: d.Storage}
	sym := ctx.addSymbol(d.Name, symVar, node)
	if err := ctx.module.Add(gv); err != nil {
		semanticError(DuplicateDefinition, node.Pos, "%v", err)
	}
	sym.Value = gv
	node.Typ = t
}

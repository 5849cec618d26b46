package codegen

import (
	"github.com/xplshn/aslc/pkg/ast"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/types"
)

// codegenStmts compiles a statement list and reports whether the current
// block ended in a terminator. Statements after a terminator are not
// compiled.
func (ctx *Context) codegenStmts(stmts []*ast.Node) bool {
	for i, s := range stmts {
		if ctx.builder.Terminated() {
			for _, rest := range stmts[i:] {
				if rest.Type != ast.NullStmt {
					ctx.warn(config.WarnUnreachableCode, rest.Pos, "code will never be executed")
					break
				}
			}
			return true
		}
		ctx.codegenStmt(s)
	}
	return ctx.builder.Terminated()
}

// codegenScoped compiles the body of a control statement in its own scope.
func (ctx *Context) codegenScoped(node *ast.Node) bool {
	ctx.enterScope()
	defer ctx.exitScope()
	if node.Type == ast.Block {
		return ctx.codegenStmts(node.Data.(ast.BlockNode).Stmts)
	}
	return ctx.codegenStmts([]*ast.Node{node})
}

func (ctx *Context) codegenStmt(node *ast.Node) {
	switch node.Type {
	case ast.NullStmt:
	case ast.Block:
		ctx.codegenScoped(node)
	case ast.ExprStmt:
		e := node.Data.(ast.ExprStmtNode).Expr
		if e.Type != ast.Assign && e.Type != ast.FuncCall {
			ctx.warn(config.WarnUnusedValue, e.Pos, "expression result unused")
		}
		ctx.codegenExpr(e)
	case ast.VarDecl:
		ctx.codegenLocal(node)
	case ast.If:
		ctx.codegenIf(node)
	case ast.While:
		ctx.codegenWhile(node)
	case ast.DoWhile:
		ctx.codegenDoWhile(node)
	case ast.For:
		ctx.codegenFor(node)
	case ast.Return:
		ctx.codegenReturn(node)
	case ast.Break:
		if ctx.loop == nil {
			semanticError(InvalidControlFlow, node.Pos, "break statement not within a loop")
		}
		ctx.builder.Jump(ctx.loop.breakBlock)
	case ast.Continue:
		if ctx.loop == nil {
			semanticError(InvalidControlFlow, node.Pos, "continue statement not within a loop")
		}
		ctx.emitContinue()
	case ast.Discard:
		if k := ctx.currentFunc.Kind(); k != types.FuncFragment && k != types.FuncNormal {
			semanticError(InvalidControlFlow, node.Pos, "discard in a %s entry point", k)
		}
		ctx.builder.Discard()
	case ast.FuncDecl, ast.StructDecl, ast.GlobalVarDecl:
		semanticError(InvalidOperation, node.Pos, "nested %s declarations are not allowed", node.Type)
	default:
		ctx.codegenExpr(node)
	}
}

func (ctx *Context) codegenLocal(node *ast.Node) {
	d := node.Data.(ast.VarDeclNode)
	t := ctx.resolveType(d.Type)
	if types.IsVoid(t) || types.IsSampler(t) {
		semanticError(TypeMismatch, node.Pos, "variable '%s' cannot have type %s", d.Name, t)
	}
	slot := ctx.builder.Alloca(t, d.Name)
	var init ir.Value
	if d.Init != nil {
		init = ctx.coerceInto(ctx.codegenExpr(d.Init), t, d.Init)
	}
	ctx.addSymbol(d.Name, symVar, node).Value = slot
	if init != nil {
		ctx.builder.Store(init, slot)
	}
	node.Typ = t
}

func (ctx *Context) codegenIf(node *ast.Node) {
	d := node.Data.(ast.IfNode)
	fn, b := ctx.currentFunc, ctx.builder
	cond := ctx.coerceInto(ctx.codegenExpr(d.Cond), ctx.types.Bool, d.Cond)

	then := fn.NewBlock("if.then")
	end, els := ir.NoBlock, ir.NoBlock
	if d.ElseBody != nil {
		els = fn.NewBlock("if.else")
	} else {
		end = fn.NewBlock("if.end")
		els = end
	}
	b.Branch(cond, then, els)

	fallThrough := func() {
		if end == ir.NoBlock {
			end = fn.NewBlock("if.end")
		}
		b.Jump(end)
	}

	b.SetInsertPoint(then)
	if !ctx.codegenScoped(d.ThenBody) {
		fallThrough()
	}
	if d.ElseBody != nil {
		b.SetInsertPoint(els)
		if !ctx.codegenScoped(d.ElseBody) {
			fallThrough()
		}
	}
	// Both arms terminated: the cursor stays on a terminated block.
	if end != ir.NoBlock {
		b.SetInsertPoint(end)
	}
}

func (ctx *Context) codegenWhile(node *ast.Node) {
	d := node.Data.(ast.WhileNode)
	fn, b := ctx.currentFunc, ctx.builder

	header := fn.NewBlock("while.cond")
	body := fn.NewBlock("while.body")
	end := fn.NewBlock("while.end")
	b.Jump(header)
	b.SetInsertPoint(header)
	b.Branch(ctx.coerceInto(ctx.codegenExpr(d.Cond), ctx.types.Bool, d.Cond), body, end)

	b.SetInsertPoint(body)
	saved := ctx.loop
	ctx.loop = &loopContext{breakBlock: end, continueBlock: header, scope: ctx.currentScope}
	if !ctx.codegenScoped(d.Body) {
		b.Jump(header)
	}
	ctx.loop = saved
	b.SetInsertPoint(end)
}

// codegenDoWhile re-tests the condition at the end of the body and at
// every continue, so the body block is the loop header.
func (ctx *Context) codegenDoWhile(node *ast.Node) {
	d := node.Data.(ast.DoWhileNode)
	fn, b := ctx.currentFunc, ctx.builder

	body := fn.NewBlock("do.body")
	end := fn.NewBlock("do.end")
	b.Jump(body)
	b.SetInsertPoint(body)

	saved := ctx.loop
	ctx.loop = &loopContext{breakBlock: end, continueBlock: body, cond: d.Cond, scope: ctx.currentScope}
	if !ctx.codegenScoped(d.Body) {
		ctx.emitContinue()
	}
	ctx.loop = saved
	b.SetInsertPoint(end)
}

// codegenFor runs the step expression at the end of the body and at every
// continue. Without a condition the body block is the loop header.
func (ctx *Context) codegenFor(node *ast.Node) {
	d := node.Data.(ast.ForNode)
	fn, b := ctx.currentFunc, ctx.builder

	ctx.enterScope()
	defer ctx.exitScope()
	if d.Init != nil {
		ctx.codegenStmt(d.Init)
	}

	cond := ir.NoBlock
	if d.Cond != nil {
		cond = fn.NewBlock("for.cond")
	}
	body := fn.NewBlock("for.body")
	end := fn.NewBlock("for.end")
	header := body
	if cond != ir.NoBlock {
		header = cond
	}

	b.Jump(header)
	if cond != ir.NoBlock {
		b.SetInsertPoint(cond)
		b.Branch(ctx.coerceInto(ctx.codegenExpr(d.Cond), ctx.types.Bool, d.Cond), body, end)
	}

	b.SetInsertPoint(body)
	saved := ctx.loop
	ctx.loop = &loopContext{breakBlock: end, continueBlock: header, step: d.Step, scope: ctx.currentScope}
	if !ctx.codegenScoped(d.Body) {
		ctx.emitContinue()
	}
	ctx.loop = saved
	b.SetInsertPoint(end)
}

// emitContinue ends the current block with a jump back to the innermost
// loop's header, running the for step or the do-while test on the way. The
// step and test are compiled in the scope of the loop statement.
func (ctx *Context) emitContinue() {
	l := ctx.loop
	inner := ctx.currentScope
	ctx.currentScope = l.scope
	defer func() { ctx.currentScope = inner }()

	switch {
	case l.cond != nil:
		c := ctx.coerceInto(ctx.codegenExpr(l.cond), ctx.types.Bool, l.cond)
		ctx.builder.Branch(c, l.continueBlock, l.breakBlock)
	case l.step != nil:
		ctx.codegenExpr(l.step)
		ctx.builder.Jump(l.continueBlock)
	default:
		ctx.builder.Jump(l.continueBlock)
	}
}

func (ctx *Context) codegenReturn(node *ast.Node) {
	d := node.Data.(ast.ReturnNode)
	fn := ctx.currentFunc
	ret := fn.Typ.Return
	if d.Expr == nil {
		if !types.IsVoid(ret) {
			semanticError(TypeMismatch, node.Pos, "non-void function '%s' should return a value", fn.SourceName)
		}
		ctx.builder.ReturnVoid()
		return
	}
	if types.IsVoid(ret) {
		semanticError(TypeMismatch, node.Pos, "void function '%s' should not return a value", fn.SourceName)
	}
	ctx.builder.Return(ctx.coerceInto(ctx.codegenExpr(d.Expr), ret, d.Expr))
}

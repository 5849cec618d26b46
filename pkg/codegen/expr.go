package codegen

import (
	"strings"

	"github.com/xplshn/aslc/pkg/ast"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/token"
	"github.com/xplshn/aslc/pkg/types"
)

var binaryOpSuffix = map[token.Type]string{
	token.Plus:  "add",
	token.Minus: "sub",
	token.Star:  "mul",
	token.Slash: "div",
	token.Rem:   "rem",
	token.Lt:    "lt",
	token.Lte:   "le",
	token.EqEq:  "eq",
	token.Neq:   "ne",
	token.Gt:    "gt",
	token.Gte:   "ge",
	token.And:   "bitand",
	token.Or:    "bitor",
	token.Xor:   "bitxor",
	token.Shl:   "shiftleft",
	token.Shr:   "shiftright",
}

func isComparison(op token.Type) bool {
	switch op {
	case token.Lt, token.Lte, token.EqEq, token.Neq, token.Gt, token.Gte:
		return true
	}
	return false
}

func isBitwise(op token.Type) bool {
	switch op {
	case token.And, token.Or, token.Xor, token.Shl, token.Shr:
		return true
	}
	return false
}

// codegenExpr lowers an expression and records its type on the node. The
// result is a reference when the expression designates storage.
func (ctx *Context) codegenExpr(node *ast.Node) ir.Value {
	v := ctx.expr(node)
	node.Typ = v.Type()
	return v
}

func (ctx *Context) expr(node *ast.Node) ir.Value {
	switch node.Type {
	case ast.IntConst:
		d := node.Data.(ast.IntConstNode)
		if d.Unsigned {
			return ctx.module.Constant(ctx.types.UInt, d.Value)
		}
		return ctx.module.Constant(ctx.types.Int, d.Value)
	case ast.FloatConst:
		d := node.Data.(ast.FloatConstNode)
		if d.Double {
			return ctx.module.Constant(ctx.types.Double, d.Value)
		}
		return ctx.module.Constant(ctx.types.Float, d.Value)
	case ast.BoolConst:
		return ctx.module.Constant(ctx.types.Bool, node.Data.(ast.BoolConstNode).Value)
	case ast.Ident:
		return ctx.codegenIdent(node)
	case ast.Assign:
		return ctx.codegenAssign(node)
	case ast.BinaryOp:
		d := node.Data.(ast.BinaryOpNode)
		if d.Op == token.AndAnd || d.Op == token.OrOr {
			return ctx.codegenLogical(node)
		}
		l := ctx.evalReference(ctx.codegenExpr(d.Left))
		r := ctx.evalReference(ctx.codegenExpr(d.Right))
		return ctx.buildBinary(d.Op, l, r, node)
	case ast.UnaryOp:
		return ctx.codegenUnary(node)
	case ast.FuncCall:
		return ctx.codegenCall(node)
	case ast.MemberAccess:
		return ctx.codegenMember(node)
	case ast.Subscript:
		return ctx.codegenSubscript(node)
	}
	semanticError(InvalidOperation, node.Pos, "'%s' is not an expression", node.Type)
	return nil
}

func (ctx *Context) codegenIdent(node *ast.Node) ir.Value {
	name := node.Data.(ast.IdentNode).Name
	sym := ctx.findSymbol(name)
	if sym == nil {
		switch name {
		case "true":
			return ctx.module.Constant(ctx.types.Bool, true)
		case "false":
			return ctx.module.Constant(ctx.types.Bool, false)
		}
		semanticError(UnknownIdentifier, node.Pos, "'%s' undeclared", name)
	}
	switch sym.Kind {
	case symFunc:
		semanticError(InvalidOperation, node.Pos, "function '%s' used as a value", name)
	case symType:
		semanticError(InvalidOperation, node.Pos, "type '%s' used as a value", name)
	}
	return sym.Value
}

// evalReference loads through v when it is a reference.
func (ctx *Context) evalReference(v ir.Value) ir.Value {
	if types.IsReference(v.Type()) {
		return ctx.builder.Load(v)
	}
	return v
}

// retypeConstant returns c as a constant of type target when the literal
// can stand for a value of that type: an integer literal may become any
// integer or floating type, a float literal may become double. It returns
// nil otherwise.
func (ctx *Context) retypeConstant(c *ir.Constant, target types.Type) *ir.Constant {
	switch v := c.Value.(type) {
	case int64:
		switch {
		case types.IsFloatingPoint(target):
			return ctx.module.Constant(target, float64(v))
		case types.IsInteger(target):
			if types.IsUnsigned(target) && v < 0 {
				return nil
			}
			return ctx.module.Constant(target, v)
		}
	case float64:
		if types.IsDouble(target) {
			return ctx.module.Constant(target, v)
		}
	}
	return nil
}

// coerceInto converts v to target. A reference target must match exactly.
// Otherwise v is loaded if it is a reference and must then have exactly
// the target type; literals are the only values retyped.
func (ctx *Context) coerceInto(v ir.Value, target types.Type, node *ast.Node) ir.Value {
	if types.IsReference(target) {
		if v.Type() != target {
			semanticError(TypeMismatch, node.Pos, "cannot bind %s to %s", v.Type(), target)
		}
		return v
	}
	v = ctx.evalReference(v)
	if v.Type() == target {
		return v
	}
	if c, ok := v.(*ir.Constant); ok && ctx.cfg.IsFeatureEnabled(config.FeatConstUnify) {
		if r := ctx.retypeConstant(c, target); r != nil {
			return r
		}
	}
	semanticError(TypeMismatch, node.Pos, "cannot convert %s to %s", v.Type(), target)
	return nil
}

// commonCoercionType returns the type both operands of a binary operator
// are converted to.
func commonCoercionType(reg *types.Registry, a, b types.Type) types.Type {
	if a == b {
		return a
	}
	numeric := func(t types.Type) bool { return types.IsInteger(t) || types.IsFloatingPoint(t) }
	if !numeric(a) || !numeric(b) {
		return nil
	}
	if !types.IsFloatingPoint(a) && !types.IsFloatingPoint(b) {
		return nil
	}
	if types.IsDouble(a) || types.IsDouble(b) {
		return reg.Double
	}
	return reg.Float
}

func (ctx *Context) buildBinary(op token.Type, l, r ir.Value, node *ast.Node) ir.Value {
	if ctx.cfg.IsFeatureEnabled(config.FeatConstUnify) {
		if c, ok := l.(*ir.Constant); ok && types.IsInteger(c.Typ) && types.IsInteger(r.Type()) {
			if rc := ctx.retypeConstant(c, r.Type()); rc != nil {
				l = rc
			}
		} else if c, ok := r.(*ir.Constant); ok && types.IsInteger(c.Typ) && types.IsInteger(l.Type()) {
			if rc := ctx.retypeConstant(c, l.Type()); rc != nil {
				r = rc
			}
		}
	}

	t := commonCoercionType(ctx.types, l.Type(), r.Type())
	if t == nil {
		semanticError(InvalidOperation, node.Pos, "invalid operands to '%s' (%s and %s)", op, l.Type(), r.Type())
	}
	l = ctx.coerceInto(l, t, node)
	r = ctx.coerceInto(r, t, node)

	suffix, ok := binaryOpSuffix[op]
	if !ok {
		semanticError(InvalidOperation, node.Pos, "'%s' is not a binary operator", op)
	}
	scalar := types.Scalar(t)
	if (types.IsVector(t) || types.IsMatrix(t)) && isComparison(op) && op != token.EqEq && op != token.Neq {
		semanticError(InvalidOperation, node.Pos, "operator '%s' not defined on %s", op, t)
	}

	var prefix string
	switch {
	case types.IsInteger(scalar):
		prefix = "i"
		if (op == token.Slash || op == token.Rem) && types.IsUnsigned(scalar) {
			prefix = "u"
		}
	case types.IsFloatingPoint(scalar):
		if isBitwise(op) {
			semanticError(InvalidOperation, node.Pos, "operator '%s' not defined on %s", op, t)
		}
		prefix = "f"
		if isComparison(op) {
			prefix = "uf"
		}
	case types.IsBoolean(scalar) && (op == token.EqEq || op == token.Neq):
		prefix = "i"
	default:
		semanticError(InvalidOperation, node.Pos, "operator '%s' not defined on %s", op, t)
	}

	result := t
	if isComparison(op) {
		result = ctx.types.Bool
	}
	return ctx.builder.Binary(prefix+suffix, result, l, r)
}

// codegenLogical lowers && and ||. With short-circuit evaluation the right
// operand is only evaluated when it decides the result.
func (ctx *Context) codegenLogical(node *ast.Node) ir.Value {
	d := node.Data.(ast.BinaryOpNode)
	b := ctx.builder
	l := ctx.coerceInto(ctx.codegenExpr(d.Left), ctx.types.Bool, d.Left)

	if !ctx.cfg.IsFeatureEnabled(config.FeatShortCircuit) {
		r := ctx.coerceInto(ctx.codegenExpr(d.Right), ctx.types.Bool, d.Right)
		if d.Op == token.AndAnd {
			return b.Binary("land", ctx.types.Bool, l, r)
		}
		return b.Binary("lor", ctx.types.Bool, l, r)
	}

	slot := b.Alloca(ctx.types.Bool, "logic")
	b.Store(l, slot)
	rhs := ctx.currentFunc.NewBlock("logic.rhs")
	end := ctx.currentFunc.NewBlock("logic.end")
	if d.Op == token.AndAnd {
		b.Branch(l, rhs, end)
	} else {
		b.Branch(l, end, rhs)
	}
	b.SetInsertPoint(rhs)
	r := ctx.coerceInto(ctx.codegenExpr(d.Right), ctx.types.Bool, d.Right)
	b.Store(r, slot)
	b.Jump(end)
	b.SetInsertPoint(end)
	return b.Load(slot)
}

func (ctx *Context) codegenUnary(node *ast.Node) ir.Value {
	d := node.Data.(ast.UnaryOpNode)
	b := ctx.builder

	switch d.Op {
	case token.Not:
		v := ctx.coerceInto(ctx.codegenExpr(d.Expr), ctx.types.Bool, d.Expr)
		if c, ok := v.(*ir.Constant); ok {
			return ctx.module.Constant(ctx.types.Bool, !c.Value.(bool))
		}
		return b.Unary("not", ctx.types.Bool, v)
	}

	v := ctx.evalReference(ctx.codegenExpr(d.Expr))
	t := v.Type()
	scalar := types.Scalar(t)
	switch d.Op {
	case token.Plus, token.Minus:
		if !types.IsInteger(scalar) && !types.IsFloatingPoint(scalar) {
			semanticError(InvalidOperation, node.Pos, "unary '%s' not defined on %s", d.Op, t)
		}
		if d.Op == token.Plus {
			return v
		}
		if c, ok := v.(*ir.Constant); ok {
			switch x := c.Value.(type) {
			case int64:
				return ctx.module.Constant(t, -x)
			case float64:
				return ctx.module.Constant(t, -x)
			}
		}
		if types.IsFloatingPoint(scalar) {
			return b.Unary("fneg", t, v)
		}
		return b.Unary("ineg", t, v)
	case token.Complement:
		if !types.IsInteger(scalar) {
			semanticError(InvalidOperation, node.Pos, "unary '~' not defined on %s", t)
		}
		return b.Unary("bitnot", t, v)
	}
	semanticError(InvalidOperation, node.Pos, "'%s' is not a unary operator", d.Op)
	return nil
}

func (ctx *Context) codegenAssign(node *ast.Node) ir.Value {
	d := node.Data.(ast.AssignNode)
	lhs := ctx.codegenExpr(d.Lhs)
	ref, ok := lhs.Type().(*types.Reference)
	if !ok {
		semanticError(InvalidOperation, d.Lhs.Pos, "expression is not assignable")
	}
	if ref.ReadOnly {
		semanticError(InvalidOperation, d.Lhs.Pos, "cannot assign to read-only %s", ref.Base)
	}

	var v ir.Value
	if d.Op == token.Eq {
		v = ctx.coerceInto(ctx.codegenExpr(d.Rhs), ref.Base, d.Rhs)
	} else {
		op := token.CompoundBase(d.Op)
		if op == token.Invalid {
			semanticError(InvalidOperation, node.Pos, "'%s' is not an assignment operator", d.Op)
		}
		cur := ctx.builder.Load(lhs)
		rhs := ctx.evalReference(ctx.codegenExpr(d.Rhs))
		v = ctx.coerceInto(ctx.buildBinary(op, cur, rhs, node), ref.Base, node)
	}
	ctx.builder.Store(v, lhs)
	return v
}

func formatTuple(tuple []types.Type) string {
	parts := make([]string, len(tuple))
	for i, t := range tuple {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// resolveOverload picks the overload whose argument value types equal
// tuple. Failing that, a single overload that matches once literal
// arguments are retyped is accepted.
func (ctx *Context) resolveOverload(g *FunctionGroup, args []ir.Value, tuple []types.Type) *ir.Function {
	if fn := g.Lookup(tuple); fn != nil {
		return fn
	}
	if !ctx.cfg.IsFeatureEnabled(config.FeatConstUnify) {
		return nil
	}
	var found *ir.Function
	for _, fn := range g.Functions() {
		want := fn.Typ.OverloadTuple()
		if len(want) != len(tuple) {
			continue
		}
		matches := true
		for i := range want {
			if want[i] == tuple[i] {
				continue
			}
			c, isConst := args[i].(*ir.Constant)
			if !isConst || ctx.retypeConstant(c, want[i]) == nil {
				matches = false
				break
			}
		}
		if matches {
			if found != nil {
				return nil
			}
			found = fn
		}
	}
	return found
}

func (ctx *Context) codegenCall(node *ast.Node) ir.Value {
	d := node.Data.(ast.FuncCallNode)
	sym := ctx.findSymbol(d.Name)
	if sym == nil {
		semanticError(UnknownIdentifier, node.Pos, "call to undeclared function '%s'", d.Name)
	}
	if sym.Kind != symFunc {
		semanticError(InvalidOperation, node.Pos, "'%s' is not a function", d.Name)
	}

	args := make([]ir.Value, len(d.Args))
	tuple := make([]types.Type, len(d.Args))
	for i, a := range d.Args {
		args[i] = ctx.codegenExpr(a)
		tuple[i] = types.Deref(args[i].Type())
	}
	fn := ctx.resolveOverload(sym.Group, args, tuple)
	if fn == nil {
		semanticError(TypeMismatch, node.Pos, "no overload of '%s' takes (%s)", d.Name, formatTuple(tuple))
	}
	if fn.IsEntryPoint() {
		semanticError(InvalidOperation, node.Pos, "cannot call entry point '%s'", d.Name)
	}
	for i, arg := range fn.Args {
		args[i] = ctx.passArgument(args[i], arg, d.Args[i])
	}
	return ctx.builder.Call(fn, args)
}

// passArgument adapts v to the parameter arg. A read-only reference
// parameter accepts any reference to the same type; other values are
// copied into a temporary.
func (ctx *Context) passArgument(v ir.Value, arg *ir.Argument, node *ast.Node) ir.Value {
	switch arg.Mode {
	case types.In:
		base := types.Deref(arg.Typ)
		if r, ok := v.Type().(*types.Reference); ok && r.Base == base {
			return v
		}
		val := ctx.coerceInto(v, base, node)
		tmp := ctx.builder.Alloca(base, "arg")
		ctx.builder.Store(val, tmp)
		return tmp
	case types.Out, types.InOut:
		if v.Type() != arg.Typ {
			semanticError(TypeMismatch, node.Pos, "%s argument '%s' needs a writable %s", arg.Mode, arg.Name, types.Deref(arg.Typ))
		}
		return v
	}
	return ctx.coerceInto(v, arg.Typ, node)
}

// addressable returns v as a reference, copying plain values of type t
// into a temporary. The boolean reports whether a copy was made.
func (ctx *Context) addressable(v ir.Value, node *ast.Node) (ir.Value, bool) {
	if types.IsReference(v.Type()) {
		return v, false
	}
	switch v.Type().(type) {
	case *types.Structure, *types.Vector, *types.Matrix:
		tmp := ctx.builder.Alloca(v.Type(), "tmp")
		ctx.builder.Store(v, tmp)
		return tmp, true
	}
	semanticError(TypeMismatch, node.Pos, "%s has no elements", v.Type())
	return nil, false
}

var swizzleSets = []string{"xyzw", "rgba", "stpq"}

func swizzleIndex(member string) int {
	if len(member) != 1 {
		return -1
	}
	for _, set := range swizzleSets {
		if i := strings.IndexByte(set, member[0]); i >= 0 {
			return i
		}
	}
	return -1
}

func (ctx *Context) codegenMember(node *ast.Node) ir.Value {
	d := node.Data.(ast.MemberAccessNode)
	base, copied := ctx.addressable(ctx.codegenExpr(d.Expr), d.Expr)

	var elem ir.Value
	switch t := types.Deref(base.Type()).(type) {
	case *types.Structure:
		idx := t.FieldIndex(d.Member)
		if idx < 0 {
			semanticError(UnknownMember, node.Pos, "'%s' has no member named '%s'", t, d.Member)
		}
		elem = ctx.builder.GetElementRef(base, idx)
	case *types.Vector:
		idx := swizzleIndex(d.Member)
		if idx < 0 || idx >= t.Count {
			semanticError(UnknownMember, node.Pos, "invalid component '%s' of %s", d.Member, t)
		}
		elem = ctx.builder.GetElementRef(base, idx)
	default:
		semanticError(TypeMismatch, node.Pos, "member access on %s", t)
	}
	if copied {
		return ctx.builder.Load(elem)
	}
	return elem
}

func (ctx *Context) codegenSubscript(node *ast.Node) ir.Value {
	d := node.Data.(ast.SubscriptNode)
	base, copied := ctx.addressable(ctx.codegenExpr(d.Expr), d.Expr)

	var count int
	switch t := types.Deref(base.Type()).(type) {
	case *types.Vector:
		count = t.Count
	case *types.Matrix:
		count = t.Cols
	default:
		semanticError(TypeMismatch, node.Pos, "cannot index %s", t)
	}

	idx := ctx.evalReference(ctx.codegenExpr(d.Index))
	c, ok := idx.(*ir.Constant)
	if !ok || !types.IsInteger(c.Typ) {
		semanticError(InvalidOperation, d.Index.Pos, "index must be an integer constant")
	}
	i := c.Value.(int64)
	if i < 0 || i >= int64(count) {
		semanticError(InvalidOperation, d.Index.Pos, "index %d out of range for %s", i, types.Deref(base.Type()))
	}
	elem := ctx.builder.GetElementRef(base, int(i))
	if copied {
		return ctx.builder.Load(elem)
	}
	return elem
}

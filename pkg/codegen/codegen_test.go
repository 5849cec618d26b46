package codegen

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/aslc/pkg/ast"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/token"
	"github.com/xplshn/aslc/pkg/types"
)

var pos = token.Pos{File: "test.asl", Line: 1, Column: 1}

func at(line, col int) token.Pos { return token.Pos{File: "test.asl", Line: line, Column: col} }

func tname(name string) *ast.Node { return ast.NewTypeName(pos, name) }
func ident(name string) *ast.Node { return ast.NewIdent(pos, name) }
func intc(v int64) *ast.Node      { return ast.NewIntConst(pos, v, false) }
func floatc(v float64) *ast.Node  { return ast.NewFloatConst(pos, v, false) }
func block(stmts ...*ast.Node) *ast.Node {
	return ast.NewBlock(pos, stmts)
}
func ret(e *ast.Node) *ast.Node  { return ast.NewReturn(pos, e) }
func expr(e *ast.Node) *ast.Node { return ast.NewExprStmt(pos, e) }
func bin(op token.Type, l, r *ast.Node) *ast.Node {
	return ast.NewBinaryOp(pos, op, l, r)
}
func assign(l, r *ast.Node) *ast.Node { return ast.NewAssign(pos, token.Eq, l, r) }
func local(name, t string, init *ast.Node) *ast.Node {
	return ast.NewVarDecl(pos, name, tname(t), init)
}
func param(name, t string, mode types.PassingMode) *ast.Node {
	return ast.NewParam(pos, name, tname(t), mode)
}
func fn(name, ret string, params []*ast.Node, body *ast.Node) *ast.Node {
	return ast.NewFuncDecl(pos, name, types.FuncNormal, tname(ret), params, body)
}

func compile(t *testing.T, cfg *config.Config, decls ...*ast.Node) (*ir.Module, *Context, error) {
	t.Helper()
	if cfg == nil {
		cfg = config.NewConfig()
	}
	ctx := NewContext(cfg, types.NewRegistry(), "test")
	m, err := ctx.CompileTranslationUnit(ast.NewTranslationUnit(pos, decls))
	return m, ctx, err
}

func mustCompile(t *testing.T, decls ...*ast.Node) *ir.Module {
	t.Helper()
	m, _, err := compile(t, nil, decls...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

// errorKinds unwraps err into the kinds of its semantic errors.
func errorKinds(t *testing.T, err error) []ErrorKind {
	t.Helper()
	var list ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("expected an ErrorList, got %v", err)
	}
	kinds := make([]ErrorKind, len(list))
	for i, e := range list {
		kinds[i] = e.Kind
	}
	return kinds
}

// opcodes lists the instructions of fn as op names, using the operation
// for binary and unary instructions.
func opcodes(fn *ir.Function) []string {
	var out []string
	for _, bb := range fn.Blocks {
		for _, inst := range bb.Instructions {
			if inst.Op == ir.OpBinary || inst.Op == ir.OpUnary {
				out = append(out, inst.Operation)
				continue
			}
			out = append(out, inst.Op.String())
		}
	}
	return out
}

func count(ops []string, name string) int {
	n := 0
	for _, op := range ops {
		if op == name {
			n++
		}
	}
	return n
}

func lookupFunction(t *testing.T, m *ir.Module, name string) *ir.Function {
	t.Helper()
	f, ok := m.Lookup(name).(*ir.Function)
	if !ok {
		t.Fatalf("module has no function '%s'", name)
	}
	return f
}

func TestIntegerAdd(t *testing.T) {
	m := mustCompile(t, fn("f", "int",
		[]*ast.Node{param("a", "int", types.Normal), param("b", "int", types.Normal)},
		block(ret(bin(token.Plus, ident("a"), ident("b")))),
	))
	f := lookupFunction(t, m, "f")
	ops := opcodes(f)
	if n := count(ops, "iadd"); n != 1 {
		t.Errorf("found %d iadd instructions, want 1 in %v", n, ops)
	}
	if n := count(ops, "return"); n != 1 {
		t.Errorf("found %d return instructions, want 1 in %v", n, ops)
	}
	if f.Typ.Return != m.Types.Int {
		t.Errorf("return type is %s, want int", f.Typ.Return)
	}

	var sum, result ir.Value
	for _, bb := range f.Blocks {
		for _, inst := range bb.Instructions {
			switch {
			case inst.Operation == "iadd":
				sum = inst
			case inst.Op == ir.OpReturn:
				result = inst.Args[0]
			}
		}
	}
	if sum == nil || result != sum {
		t.Errorf("return does not return the sum")
	}
}

func TestBinaryOpcodes(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		op     token.Type
		ret    string
		opcode string
	}{
		{"signed division", "int", token.Slash, "int", "idiv"},
		{"unsigned division", "uint", token.Slash, "uint", "udiv"},
		{"unsigned remainder", "uint", token.Rem, "uint", "urem"},
		{"unsigned comparison", "uint", token.Lt, "bool", "ilt"},
		{"float arithmetic", "float", token.Star, "float", "fmul"},
		{"float comparison", "float", token.Gte, "bool", "ufge"},
		{"double subtraction", "double", token.Minus, "double", "fsub"},
		{"bool equality", "bool", token.EqEq, "bool", "ieq"},
		{"shift", "int", token.Shl, "int", "ishiftleft"},
		{"vector addition", "float3", token.Plus, "float3", "fadd"},
		{"vector equality", "float3", token.Neq, "bool", "ufne"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustCompile(t, fn("f", tt.ret,
				[]*ast.Node{param("a", tt.typ, types.Normal), param("b", tt.typ, types.Normal)},
				block(ret(bin(tt.op, ident("a"), ident("b")))),
			))
			if ops := opcodes(lookupFunction(t, m, "f")); count(ops, tt.opcode) != 1 {
				t.Errorf("expected one %s in %v", tt.opcode, ops)
			}
		})
	}
}

func TestInvalidOperators(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		op   token.Type
	}{
		{"bitwise and on floats", "float", token.And},
		{"shift on doubles", "double", token.Shr},
		{"ordering on bools", "bool", token.Lt},
		{"ordering on vectors", "int2", token.Gt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := compile(t, nil, fn("f", "void",
				[]*ast.Node{param("a", tt.typ, types.Normal), param("b", tt.typ, types.Normal)},
				block(expr(bin(tt.op, ident("a"), ident("b")))),
			))
			if diff := cmp.Diff([]ErrorKind{InvalidOperation}, errorKinds(t, err)); diff != "" {
				t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnknownIdentifier(t *testing.T) {
	x := ast.NewIdent(at(3, 5), "x")
	m, _, err := compile(t, nil, fn("g", "void", nil, block(expr(assign(x, intc(1))))))

	var list ErrorList
	if !errors.As(err, &list) || len(list) != 1 {
		t.Fatalf("expected one error, got %v", err)
	}
	if list[0].Kind != UnknownIdentifier {
		t.Errorf("error kind is %s, want %s", list[0].Kind, UnknownIdentifier)
	}
	if list[0].Pos != at(3, 5) {
		t.Errorf("error reported at %s, want %s", list[0].Pos, at(3, 5))
	}
	g := lookupFunction(t, m, "g")
	if g.Defined || len(g.Blocks) != 0 {
		t.Errorf("function with an error still has a body")
	}
}

func TestMissingReturn(t *testing.T) {
	body := block(
		ast.NewIf(pos, bin(token.Lt, ident("a"), intc(0)), block(ret(intc(0))), nil),
	)
	_, _, err := compile(t, nil, fn("h", "int", []*ast.Node{param("a", "int", types.Normal)}, body))
	if diff := cmp.Diff([]ErrorKind{MissingReturn}, errorKinds(t, err)); diff != "" {
		t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestImplicitVoidReturn(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnImplicitReturn, true)
	m, ctx, err := compile(t, cfg, fn("v", "void", nil, block()))
	if err != nil {
		t.Fatal(err)
	}
	ops := opcodes(lookupFunction(t, m, "v"))
	if diff := cmp.Diff([]string{"jump", "return"}, ops); diff != "" {
		t.Errorf("opcodes mismatch (-want +got):\n%s", diff)
	}
	if len(ctx.Diagnostics()) != 1 || ctx.Diagnostics()[0].Warning != config.WarnImplicitReturn {
		t.Errorf("expected one implicit-return warning, got %v", ctx.Diagnostics())
	}
}

func TestControlFlowErrors(t *testing.T) {
	tests := []struct {
		name string
		kind types.FunctionKind
		body *ast.Node
	}{
		{"break outside loop", types.FuncNormal, block(ast.NewBreak(pos))},
		{"continue outside loop", types.FuncNormal, block(ast.NewContinue(pos))},
		{"discard in vertex shader", types.FuncVertex, block(ast.NewDiscard(pos))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl := ast.NewFuncDecl(pos, "f", tt.kind, tname("void"), nil, tt.body)
			_, _, err := compile(t, nil, decl)
			if diff := cmp.Diff([]ErrorKind{InvalidControlFlow}, errorKinds(t, err)); diff != "" {
				t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestErrorsAreCollectedPerDeclaration(t *testing.T) {
	m, _, err := compile(t, nil,
		fn("bad1", "void", nil, block(expr(assign(ident("nope"), intc(1))))),
		fn("good", "int", nil, block(ret(intc(1)))),
		fn("bad2", "int", nil, block(ret(floatc(1.5)))),
	)
	if diff := cmp.Diff([]ErrorKind{UnknownIdentifier, TypeMismatch}, errorKinds(t, err)); diff != "" {
		t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
	}
	if !lookupFunction(t, m, "good").Defined {
		t.Errorf("valid function after an error was not compiled")
	}
}

func TestCoerceIntoIsIdempotent(t *testing.T) {
	reg := types.NewRegistry()
	ctx := NewContext(config.NewConfig(), reg, "test")
	f := ir.NewFunction("f", "f", reg.Function(types.FuncNormal, reg.Void, nil), nil)
	ctx.currentFunc = f
	ctx.builder = ir.NewBuilder(reg, f)
	ctx.builder.SetInsertPoint(f.NewBlock("entry"))
	node := ident("v")

	slot := ctx.builder.Alloca(reg.Float, "v")
	values := []struct {
		name   string
		value  ir.Value
		target types.Type
	}{
		{"int constant", ctx.module.Constant(reg.Int, int64(3)), reg.Int},
		{"int constant to float", ctx.module.Constant(reg.Int, int64(3)), reg.Float},
		{"float constant to double", ctx.module.Constant(reg.Float, 0.5), reg.Double},
		{"reference to value", slot, reg.Float},
		{"reference to itself", slot, slot.Type()},
	}
	for _, tt := range values {
		t.Run(tt.name, func(t *testing.T) {
			var once, twice ir.Value
			err := catch(func() {
				once = ctx.coerceInto(tt.value, tt.target, node)
				twice = ctx.coerceInto(once, tt.target, node)
			})
			if err != nil {
				t.Fatal(err)
			}
			if once.Type() != tt.target {
				t.Errorf("coerced value has type %s, want %s", once.Type(), tt.target)
			}
			if once != twice {
				t.Errorf("coercing twice produced a different value")
			}
		})
	}

	err := catch(func() { ctx.coerceInto(ctx.module.Constant(reg.Double, 0.5), reg.Float, node) })
	var semErr *SemanticError
	if !errors.As(err, &semErr) || semErr.Kind != TypeMismatch {
		t.Errorf("narrowing a double constant: got %v, want a type mismatch", err)
	}
}

func TestConstantUnification(t *testing.T) {
	decl := func() *ast.Node {
		return fn("scale", "float", []*ast.Node{param("x", "float", types.Normal)},
			block(ret(bin(token.Star, ident("x"), intc(2)))))
	}

	m := mustCompile(t, decl())
	var operand *ir.Constant
	for _, bb := range lookupFunction(t, m, "scale").Blocks {
		for _, inst := range bb.Instructions {
			if inst.Operation == "fmul" {
				operand, _ = inst.Args[1].(*ir.Constant)
			}
		}
	}
	if operand == nil || operand.Typ != m.Types.Float || operand.Value != float64(2) {
		t.Errorf("integer literal was not retyped to float: %v", operand)
	}

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatConstUnify, false)
	_, _, err := compile(t, cfg, decl())
	if diff := cmp.Diff([]ErrorKind{TypeMismatch}, errorKinds(t, err)); diff != "" {
		t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestOverloads(t *testing.T) {
	proto := func(mode types.PassingMode, typ string) *ast.Node {
		return fn("f", "void", []*ast.Node{param("x", typ, mode)}, nil)
	}

	t.Run("resolution by value type", func(t *testing.T) {
		m := mustCompile(t,
			proto(types.Normal, "float"),
			proto(types.Normal, "int"),
			fn("g", "void", nil, block(
				expr(ast.NewFuncCall(pos, "f", []*ast.Node{floatc(1)})),
				expr(ast.NewFuncCall(pos, "f", []*ast.Node{intc(1)})),
			)),
		)
		var callees []string
		for _, bb := range lookupFunction(t, m, "g").Blocks {
			for _, inst := range bb.Instructions {
				if inst.Op == ir.OpCall {
					callees = append(callees, inst.Callee.Typ.String())
				}
			}
		}
		if diff := cmp.Diff([]string{"void (float)", "void (int)"}, callees); diff != "" {
			t.Errorf("callees mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("same prototype twice", func(t *testing.T) {
		m := mustCompile(t, proto(types.In, "float"), proto(types.In, "float"))
		if n := len(m.Functions()); n != 1 {
			t.Errorf("module has %d functions, want 1", n)
		}
	})

	t.Run("passing mode does not distinguish overloads", func(t *testing.T) {
		_, _, err := compile(t, nil, proto(types.In, "float"), proto(types.Out, "float"))
		if diff := cmp.Diff([]ErrorKind{DuplicateDefinition}, errorKinds(t, err)); diff != "" {
			t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no matching overload", func(t *testing.T) {
		_, _, err := compile(t, nil,
			proto(types.Normal, "float"),
			fn("g", "void", nil, block(expr(ast.NewFuncCall(pos, "f", []*ast.Node{ast.NewBoolConst(pos, true)})))),
		)
		if diff := cmp.Diff([]ErrorKind{TypeMismatch}, errorKinds(t, err)); diff != "" {
			t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("out argument must be writable", func(t *testing.T) {
		_, _, err := compile(t, nil,
			proto(types.Out, "float"),
			fn("g", "void", nil, block(expr(ast.NewFuncCall(pos, "f", []*ast.Node{floatc(1)})))),
		)
		if diff := cmp.Diff([]ErrorKind{TypeMismatch}, errorKinds(t, err)); diff != "" {
			t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("redefinition", func(t *testing.T) {
		body := func() *ast.Node { return block() }
		_, _, err := compile(t, nil,
			fn("f", "void", nil, body()),
			fn("f", "void", nil, body()),
		)
		if diff := cmp.Diff([]ErrorKind{DuplicateDefinition}, errorKinds(t, err)); diff != "" {
			t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestShortCircuit(t *testing.T) {
	decl := func() *ast.Node {
		return fn("both", "bool",
			[]*ast.Node{param("a", "bool", types.Normal), param("b", "bool", types.Normal)},
			block(ret(bin(token.AndAnd, ident("a"), ident("b")))))
	}

	m := mustCompile(t, decl())
	f := lookupFunction(t, m, "both")
	var names []string
	for _, bb := range f.Blocks {
		names = append(names, bb.Name)
	}
	if diff := cmp.Diff([]string{"declarations", "entry", "logic.rhs", "logic.end"}, names); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
	if n := count(opcodes(f), "branch"); n != 1 {
		t.Errorf("found %d branches, want 1", n)
	}

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatShortCircuit, false)
	m, _, err := compile(t, cfg, decl())
	if err != nil {
		t.Fatal(err)
	}
	if ops := opcodes(lookupFunction(t, m, "both")); count(ops, "land") != 1 || count(ops, "branch") != 0 {
		t.Errorf("eager lowering produced %v", ops)
	}
}

func TestLoops(t *testing.T) {
	lt := func(n int64) *ast.Node { return bin(token.Lt, ident("i"), intc(n)) }
	inc := ast.NewAssign(pos, token.PlusEq, ident("i"), intc(1))

	tests := []struct {
		name   string
		stmt   *ast.Node
		blocks []string
	}{
		{
			"while",
			ast.NewWhile(pos, lt(10), block(expr(inc))),
			[]string{"declarations", "entry", "while.cond", "while.body", "while.end"},
		},
		{
			"do while",
			ast.NewDoWhile(pos, block(expr(inc)), lt(10)),
			[]string{"declarations", "entry", "do.body", "do.end"},
		},
		{
			"for",
			ast.NewFor(pos, nil, lt(10), inc, block(ast.NewIf(pos, lt(5), ast.NewContinue(pos), nil))),
			[]string{"declarations", "entry", "for.cond", "for.body", "for.end", "if.then", "if.end"},
		},
		{
			"for without condition",
			ast.NewFor(pos, nil, nil, nil, block(ast.NewIf(pos, lt(10), ast.NewBreak(pos), nil), expr(inc))),
			[]string{"declarations", "entry", "for.body", "for.end", "if.then", "if.end"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mustCompile(t, fn("loop", "void", nil, block(local("i", "int", intc(0)), tt.stmt)))
			f := lookupFunction(t, m, "loop")
			var names []string
			for _, bb := range f.Blocks {
				names = append(names, bb.Name)
			}
			if diff := cmp.Diff(tt.blocks, names); diff != "" {
				t.Errorf("blocks mismatch (-want +got):\n%s", diff)
			}
			if len(f.Analysis().Loops) != 1 {
				t.Errorf("found %d loops, want 1", len(f.Analysis().Loops))
			}
		})
	}
}

func TestStructures(t *testing.T) {
	light := ast.NewStructDecl(pos, "Light", []*ast.Node{
		local("color", "float3", nil),
		local("power", "float", nil),
	})

	t.Run("member access", func(t *testing.T) {
		m := mustCompile(t, light, fn("power", "float", []*ast.Node{param("l", "Light", types.In)},
			block(ret(ast.NewMemberAccess(pos, ident("l"), "power")))))
		var indices [][]int
		for _, bb := range lookupFunction(t, m, "power").Blocks {
			for _, inst := range bb.Instructions {
				if inst.Op == ir.OpGetElementRef {
					indices = append(indices, inst.Indices)
				}
			}
		}
		if diff := cmp.Diff([][]int{{1}}, indices); diff != "" {
			t.Errorf("element indices mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown member", func(t *testing.T) {
		_, _, err := compile(t, nil, light, fn("bad", "float", []*ast.Node{param("l", "Light", types.In)},
			block(ret(ast.NewMemberAccess(pos, ident("l"), "range")))))
		if diff := cmp.Diff([]ErrorKind{UnknownMember}, errorKinds(t, err)); diff != "" {
			t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("read-only argument", func(t *testing.T) {
		_, _, err := compile(t, nil, light, fn("bad", "void", []*ast.Node{param("l", "Light", types.In)},
			block(expr(assign(ast.NewMemberAccess(pos, ident("l"), "power"), floatc(1))))))
		if diff := cmp.Diff([]ErrorKind{InvalidOperation}, errorKinds(t, err)); diff != "" {
			t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("duplicate member", func(t *testing.T) {
		dup := ast.NewStructDecl(pos, "Dup", []*ast.Node{local("a", "int", nil), local("a", "float", nil)})
		_, _, err := compile(t, nil, dup)
		if diff := cmp.Diff([]ErrorKind{DuplicateDefinition}, errorKinds(t, err)); diff != "" {
			t.Errorf("error kinds mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDiagnostics(t *testing.T) {
	m, ctx, err := compile(t, nil,
		ast.NewGlobalVarDecl(pos, "x", tname("int"), ""),
		fn("f", "int", nil, block(
			local("x", "int", intc(1)),
			expr(bin(token.Plus, ident("x"), intc(1))),
			ret(ident("x")),
			ast.NewNullStmt(pos),
			expr(assign(ident("x"), intc(2))),
		)),
	)
	if err != nil {
		t.Fatal(err)
	}
	var got []config.Warning
	for _, d := range ctx.Diagnostics() {
		got = append(got, d.Warning)
	}
	want := []config.Warning{config.WarnShadow, config.WarnUnusedValue, config.WarnUnreachableCode}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("warnings mismatch (-want +got):\n%s", diff)
	}
	if len(m.GlobalVariables()) != 1 {
		t.Errorf("module has %d globals, want 1", len(m.GlobalVariables()))
	}
}

func TestErrorListFormatting(t *testing.T) {
	list := ErrorList{
		{Kind: UnknownIdentifier, Pos: at(1, 2), Msg: "'a' undeclared"},
		{Kind: MissingReturn, Pos: at(4, 1), Msg: "control reaches the end of non-void function 'f'"},
	}
	want := "2 errors:\n\ttest.asl:1:2: 'a' undeclared\n\ttest.asl:4:1: control reaches the end of non-void function 'f'"
	if diff := cmp.Diff(want, list.Error()); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if (ErrorList{}).Err() != nil {
		t.Errorf("empty list is not a nil error")
	}
}

package hlb_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/aslc/pkg/ast"
	"github.com/xplshn/aslc/pkg/codegen"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/hlb"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/token"
	"github.com/xplshn/aslc/pkg/types"
)

var pos = token.Pos{File: "test.asl", Line: 1, Column: 1}

func tname(name string) *ast.Node { return ast.NewTypeName(pos, name) }
func ident(name string) *ast.Node { return ast.NewIdent(pos, name) }
func intc(v int64) *ast.Node      { return ast.NewIntConst(pos, v, false) }
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
func call(name string, args ...*ast.Node) *ast.Node { return ast.NewFuncCall(pos, name, args) }
func member(e *ast.Node, name string) *ast.Node     { return ast.NewMemberAccess(pos, e, name) }

func fn(name, ret string, params []*ast.Node, body *ast.Node) *ast.Node {
	return ast.NewFuncDecl(pos, name, types.FuncNormal, tname(ret), params, body)
}

// frag declares the fragment entry point every test shader is built from.
func frag(params []*ast.Node, body *ast.Node) *ast.Node {
	return ast.NewFuncDecl(pos, "frag", types.FuncFragment, tname("void"), params, body)
}

func buildShader(t *testing.T, cfg *config.Config, decls ...*ast.Node) (*hlb.Shader, error) {
	t.Helper()
	if cfg == nil {
		cfg = config.NewConfig()
	}
	ctx := codegen.NewContext(cfg, types.NewRegistry(), "test")
	m, err := ctx.CompileTranslationUnit(ast.NewTranslationUnit(pos, decls))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	entry, ok := m.Lookup("frag").(*ir.Function)
	if !ok {
		t.Fatalf("module has no entry point 'frag'")
	}
	return hlb.NewShaderBuilder(cfg, m, entry).Build()
}

func mustBuild(t *testing.T, decls ...*ast.Node) *hlb.Shader {
	t.Helper()
	s, err := buildShader(t, nil, decls...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

// helper builds f, called once from the entry point, and returns its
// structured form.
func helper(t *testing.T, f *ast.Node, args ...*ast.Node) *hlb.Function {
	t.Helper()
	s := mustBuild(t, f, frag(nil, block(expr(call("f", args...)))))
	return find(t, s, "f")
}

func find(t *testing.T, s *hlb.Shader, name string) *hlb.Function {
	t.Helper()
	for _, fn := range s.Functions {
		if fn.Source.SourceName == name {
			return fn
		}
	}
	t.Fatalf("shader has no function '%s'", name)
	return nil
}

// shape renders the statement kinds of b, nesting included.
func shape(b *hlb.Block) string {
	if b == nil {
		return ""
	}
	var parts []string
	for _, s := range b.Stmts {
		switch s := s.(type) {
		case *hlb.Assign:
			parts = append(parts, "assign")
		case *hlb.CallStmt:
			parts = append(parts, "call")
		case *hlb.If:
			str := "if[" + shape(s.Then)
			if s.Else != nil {
				str += " | " + shape(s.Else)
			}
			parts = append(parts, str+"]")
		case *hlb.Loop:
			parts = append(parts, "loop["+shape(s.Body)+"]")
		case *hlb.Break:
			parts = append(parts, "break")
		case *hlb.Continue:
			parts = append(parts, "continue")
		case *hlb.Return:
			parts = append(parts, "return")
		case *hlb.Discard:
			parts = append(parts, "discard")
		case *hlb.Block:
			parts = append(parts, "{"+shape(s)+"}")
		}
	}
	return strings.Join(parts, " ")
}

func varName(e hlb.Expr) string {
	switch e := e.(type) {
	case *hlb.VarRef:
		return e.Var.Name
	case *hlb.ParamRef:
		return e.Param.Name
	case *hlb.GlobalRef:
		return e.Global.Name
	}
	return ""
}

func TestStraightLine(t *testing.T) {
	f := helper(t, fn("f", "int",
		[]*ast.Node{param("a", "int", types.Normal), param("b", "int", types.Normal)},
		block(ret(bin(token.Plus, ident("a"), ident("b"))))),
		intc(1), intc(2))

	if diff := cmp.Diff("assign assign return", shape(f.Body)); diff != "" {
		t.Errorf("shape mismatch (-want +got):\n%s", diff)
	}
	r := f.Body.Stmts[2].(*hlb.Return)
	sum, ok := r.Value.(*hlb.Binary)
	if !ok || sum.Op != "iadd" {
		t.Fatalf("return value is %#v, want an iadd", r.Value)
	}
	if got := []string{varName(sum.Left), varName(sum.Right)}; !cmp.Equal(got, []string{"arguments_a", "arguments_b"}) {
		t.Errorf("operands are %v", got)
	}
	var params []string
	for _, p := range f.Params {
		params = append(params, p.Name)
	}
	if diff := cmp.Diff([]string{"a", "b"}, params); diff != "" {
		t.Errorf("parameter names mismatch (-want +got):\n%s", diff)
	}
}

func TestControlFlowShapes(t *testing.T) {
	intParam := []*ast.Node{param("a", "int", types.Normal)}
	a, r := ident("a"), ident("r")

	tests := []struct {
		name string
		body *ast.Node
		want string
	}{
		{
			name: "if else",
			body: block(
				local("r", "int", nil),
				ast.NewIf(pos, bin(token.Lt, a, intc(0)), expr(assign(r, intc(0))), expr(assign(r, a))),
				ret(r),
			),
			want: "assign if[assign | assign] return",
		},
		{
			name: "early return",
			body: block(
				ast.NewIf(pos, bin(token.Lt, a, intc(0)), ret(intc(0)), nil),
				ret(a),
			),
			want: "assign if[return] return",
		},
		{
			name: "while",
			body: block(
				local("r", "int", intc(0)),
				ast.NewWhile(pos, bin(token.Lt, r, a), expr(assign(r, bin(token.Plus, r, intc(1))))),
				ret(r),
			),
			want: "assign assign loop[if[assign | break]] return",
		},
		{
			name: "do while",
			body: block(
				local("r", "int", intc(0)),
				ast.NewDoWhile(pos, expr(assign(r, bin(token.Plus, r, intc(1)))), bin(token.Lt, r, a)),
				ret(r),
			),
			want: "assign assign loop[assign if[break]] return",
		},
		{
			name: "break out of infinite loop",
			body: block(
				ast.NewFor(pos, nil, nil, nil, block(
					ast.NewIf(pos, bin(token.Gt, a, intc(10)), ast.NewBreak(pos), nil),
					expr(assign(a, bin(token.Plus, a, intc(1)))),
				)),
				ret(a),
			),
			want: "assign loop[if[break | assign]] return",
		},
		{
			name: "return inside loop",
			body: block(
				ast.NewWhile(pos, bin(token.Gt, a, intc(0)), block(
					ast.NewIf(pos, bin(token.EqEq, a, intc(5)), ret(a), nil),
					expr(assign(a, bin(token.Minus, a, intc(1)))),
				)),
				ret(intc(0)),
			),
			want: "assign loop[if[if[return] assign | break]] return",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := helper(t, fn("f", "int", intParam, tt.body), intc(1))
			if diff := cmp.Diff(tt.want, shape(f.Body)); diff != "" {
				t.Errorf("shape mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShortCircuitCondition(t *testing.T) {
	a, b := ident("a"), ident("b")
	f := helper(t, fn("f", "int",
		[]*ast.Node{param("a", "bool", types.Normal), param("b", "bool", types.Normal)},
		block(
			ast.NewIf(pos, bin(token.AndAnd, a, b), ret(intc(1)), nil),
			ret(intc(0)),
		)),
		ast.NewBoolConst(pos, true), ast.NewBoolConst(pos, false))

	want := "assign assign assign if[assign] if[return] return"
	if diff := cmp.Diff(want, shape(f.Body)); diff != "" {
		t.Errorf("shape mismatch (-want +got):\n%s", diff)
	}
}

func TestPendingLoadsSurviveCalls(t *testing.T) {
	// g overwrites x, so the left operand has to be read before the call.
	g := fn("g", "int", []*ast.Node{param("v", "int", types.Out)},
		block(expr(assign(ident("v"), intc(2))), ret(intc(3))))
	x := ident("x")
	f := fn("f", "int", nil, block(
		local("x", "int", intc(1)),
		ret(bin(token.Plus, x, call("g", x))),
	))
	s := mustBuild(t, g, f, frag(nil, block(expr(call("f")))))
	body := find(t, s, "f").Body

	if diff := cmp.Diff("assign assign assign return", shape(body)); diff != "" {
		t.Fatalf("shape mismatch (-want +got):\n%s", diff)
	}
	saved := body.Stmts[1].(*hlb.Assign)
	if varName(saved.Target) != "t" || varName(saved.Value) != "x" {
		t.Errorf("second statement assigns %s = %s, want t = x", varName(saved.Target), varName(saved.Value))
	}
	if _, ok := body.Stmts[2].(*hlb.Assign).Value.(*hlb.Call); !ok {
		t.Errorf("third statement does not call g")
	}
	sum := body.Stmts[3].(*hlb.Return).Value.(*hlb.Binary)
	if got := []string{varName(sum.Left), varName(sum.Right)}; !cmp.Equal(got, []string{"t", "t_1"}) {
		t.Errorf("sum operands are %v, want [t t_1]", got)
	}
}

func TestEntryArguments(t *testing.T) {
	pair := ast.NewStructDecl(pos, "Pair", []*ast.Node{
		local("a", "float", nil),
		local("b", "float", nil),
	})
	entry := frag(
		[]*ast.Node{param("p", "Pair", types.In), param("scale", "float", types.Normal), param("o", "float", types.Out)},
		block(expr(assign(ident("o"), bin(token.Star, bin(token.Plus, member(ident("p"), "a"), member(ident("p"), "b")), ident("scale"))))),
	)

	type global struct{ Name, Storage string }
	globals := func(s *hlb.Shader) []global {
		var out []global
		for _, g := range s.Globals {
			out = append(out, global{g.Name, g.Storage})
		}
		return out
	}
	structures := func(s *hlb.Shader) []string {
		var out []string
		for _, st := range s.Structures {
			out = append(out, st.Name)
		}
		return out
	}

	t.Run("flattened", func(t *testing.T) {
		s := mustBuild(t, pair, entry)
		want := []global{{"p_a", "in"}, {"p_b", "in"}, {"scale", "uniform"}, {"o", "out"}}
		if diff := cmp.Diff(want, globals(s)); diff != "" {
			t.Errorf("globals mismatch (-want +got):\n%s", diff)
		}
		if got := structures(s); len(got) != 0 {
			t.Errorf("flattened shader declares structures %v", got)
		}
		if s.Main.Name != "main" {
			t.Errorf("entry point is named %q, want main", s.Main.Name)
		}
	})

	t.Run("kept whole", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.SetFeature(config.FeatFlattenEntryArgs, false)
		s, err := buildShader(t, cfg, pair, entry)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []global{{"p", "in"}, {"scale", "uniform"}, {"o", "out"}}
		if diff := cmp.Diff(want, globals(s)); diff != "" {
			t.Errorf("globals mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"Pair"}, structures(s)); diff != "" {
			t.Errorf("structures mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("inout", func(t *testing.T) {
		_, err := buildShader(t, nil, frag([]*ast.Node{param("x", "float", types.InOut)}, block()))
		if err == nil || !strings.Contains(err.Error(), "inout") {
			t.Errorf("got error %v, want one about the inout argument", err)
		}
	})
}

func TestCallees(t *testing.T) {
	g := fn("g", "void", nil, block())
	f := fn("f", "void", nil, block(expr(call("g"))))

	t.Run("callees first", func(t *testing.T) {
		s := mustBuild(t, g, f, frag(nil, block(expr(call("f")), expr(call("g")))))
		var names []string
		for _, fn := range s.Functions {
			names = append(names, fn.Name)
		}
		if diff := cmp.Diff([]string{"g", "f"}, names); diff != "" {
			t.Errorf("function order mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff("call call", shape(s.Main.Body)); diff != "" {
			t.Errorf("shape mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("recursion", func(t *testing.T) {
		rec := fn("f", "void", nil, block(expr(call("f"))))
		_, err := buildShader(t, nil, rec, frag(nil, block(expr(call("f")))))
		if err == nil || !strings.Contains(err.Error(), "recursive") {
			t.Errorf("got error %v, want a recursion error", err)
		}
	})
}

func TestSimplify(t *testing.T) {
	cond := &hlb.Constant{Typ: types.NewRegistry().Bool, Value: true}
	fn := &hlb.Function{Body: &hlb.Block{Stmts: []hlb.Stmt{
		&hlb.Loop{Body: &hlb.Block{Stmts: []hlb.Stmt{
			&hlb.If{Cond: cond, Then: &hlb.Block{}, Else: &hlb.Block{Stmts: []hlb.Stmt{&hlb.Break{}}}},
			&hlb.If{Cond: cond, Then: &hlb.Block{Stmts: []hlb.Stmt{&hlb.Continue{}}}, Else: &hlb.Block{}},
		}}},
		&hlb.Return{},
	}}}

	hlb.Simplify(fn, true)
	if diff := cmp.Diff("loop[if[break]]", shape(fn.Body)); diff != "" {
		t.Errorf("shape mismatch (-want +got):\n%s", diff)
	}
	inverted := fn.Body.Stmts[0].(*hlb.Loop).Body.Stmts[0].(*hlb.If)
	if u, ok := inverted.Cond.(*hlb.Unary); !ok || u.Op != "not" {
		t.Errorf("condition of the inverted if is %#v, want a negation", inverted.Cond)
	}
}

// cfgShader builds a fragment shader straight from a CFG. Block i stores i
// to the output 'o' and then jumps to its one successor, branches to its
// two, or returns when it has none.
func cfgShader(t *testing.T, succs [][]int) (*hlb.Shader, error) {
	t.Helper()
	r := types.NewRegistry()
	m := ir.NewModule("test", r)
	o := &ir.GlobalVariable{Name: "o", Typ: r.Reference(r.Int, false), ValueType: r.Int, Storage: "out"}
	f := ir.NewFunction("frag", "frag", r.Function(types.FuncFragment, r.Void, nil), nil)
	f.Defined = true
	for _, g := range []ir.GlobalValue{o, f} {
		if err := m.Add(g); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	b := ir.NewBuilder(r, f)
	for range succs {
		f.NewBlock("b")
	}
	cond := m.Constant(r.Bool, true)
	for i, s := range succs {
		b.SetInsertPoint(ir.BlockID(i))
		b.Store(m.Constant(r.Int, int64(i)), o)
		switch len(s) {
		case 0:
			b.ReturnVoid()
		case 1:
			b.Jump(ir.BlockID(s[0]))
		default:
			b.Branch(cond, ir.BlockID(s[0]), ir.BlockID(s[1]))
		}
	}
	return hlb.NewShaderBuilder(config.NewConfig(), m, f).Build()
}

// markers counts how often each block's store to 'o' was emitted.
func markers(b *hlb.Block, counts map[int64]int) {
	if b == nil {
		return
	}
	for _, s := range b.Stmts {
		switch s := s.(type) {
		case *hlb.Assign:
			if varName(s.Target) != "o" {
				continue
			}
			if c, ok := s.Value.(*hlb.Constant); ok {
				counts[c.Value.(int64)]++
			}
		case *hlb.If:
			markers(s.Then, counts)
			markers(s.Else, counts)
		case *hlb.Loop:
			markers(s.Body, counts)
		case *hlb.Block:
			markers(s, counts)
		}
	}
}

func TestStructureCFG(t *testing.T) {
	tests := []struct {
		name   string
		succs  [][]int
		want   string
		locals []string
		err    string
	}{
		{
			name:  "diamond",
			succs: [][]int{{1, 2}, {3}, {3}, {}},
			want:  "assign if[assign | assign] assign",
		},
		{
			name:  "loop exits meet after their own code",
			succs: [][]int{{1}, {2, 3}, {1, 4}, {5}, {5}, {}},
			want:  "assign loop[assign if[assign if[continue] assign break | assign break]] assign",
		},
		{
			name:   "arm shared with a nested branch",
			succs:  [][]int{{1, 2}, {2, 3}, {4}, {4}, {}},
			want:   "assign assign if[assign if[assign | assign] | assign] if[assign] assign",
			locals: []string{"enter_b_2"},
		},
		{
			name:  "loop entered at two blocks",
			succs: [][]int{{1, 2}, {2}, {1, 3}, {}},
			err:   "irreducible control flow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := cfgShader(t, tt.succs)
			if tt.err != "" {
				if err == nil || !strings.Contains(err.Error(), tt.err) {
					t.Fatalf("err = %v, want one containing %q", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, shape(s.Main.Body)); diff != "" {
				t.Errorf("shape mismatch (-want +got):\n%s", diff)
			}

			counts := make(map[int64]int)
			markers(s.Main.Body, counts)
			want := make(map[int64]int)
			for i := range tt.succs {
				want[int64(i)] = 1
			}
			if diff := cmp.Diff(want, counts); diff != "" {
				t.Errorf("blocks emitted (-want +got):\n%s", diff)
			}

			var locals []string
			for _, v := range s.Main.Locals {
				locals = append(locals, v.Name)
			}
			if diff := cmp.Diff(tt.locals, locals); diff != "" {
				t.Errorf("locals mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReservedLocalNames(t *testing.T) {
	reserved := func(name string) bool { return name == "texture" }
	decls := []*ast.Node{frag(nil, block(
		local("texture", "int", intc(1)),
		local("texture_", "int", intc(2)),
	))}
	ctx := codegen.NewContext(config.NewConfig(), types.NewRegistry(), "test")
	m, err := ctx.CompileTranslationUnit(ast.NewTranslationUnit(pos, decls))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	s, err := hlb.NewShaderBuilder(config.NewConfig(), m, m.Lookup("frag").(*ir.Function)).Reserve(reserved).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	for _, v := range s.Main.Locals {
		names = append(names, v.Name)
	}
	if diff := cmp.Diff([]string{"texture_", "texture__1"}, names); diff != "" {
		t.Errorf("local names mismatch (-want +got):\n%s", diff)
	}
}

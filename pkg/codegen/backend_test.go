package codegen

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/aslc/pkg/ast"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/token"
	"github.com/xplshn/aslc/pkg/types"
)

func binaryFn(typ, result string, op token.Type) *ast.Node {
	return fn("f", result,
		[]*ast.Node{param("a", typ, types.Normal), param("b", typ, types.Normal)},
		block(ret(bin(op, ident("a"), ident("b")))),
	)
}

func TestNewBackend(t *testing.T) {
	for _, name := range []string{config.BackendGLSL, config.BackendQBE, config.BackendLLVM} {
		if NewBackend(name) == nil {
			t.Errorf("no backend registered for %q", name)
		}
	}
	if NewBackend("spirv") != nil {
		t.Errorf("unknown backend name returned a backend")
	}
}

func TestBackendOutput(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		decl    *ast.Node
		want    []string
	}{
		{
			name:    "qbe integer add",
			backend: config.BackendQBE,
			decl:    binaryFn("int", "int", token.Plus),
			want: []string{
				"export function w $f(w %a.a, w %a.b) {",
				"@declarations.0",
				"=l alloc4 4",
				"storew %a.a, ",
				"=w add ",
				"\tret %",
			},
		},
		{
			name:    "qbe unsigned comparison",
			backend: config.BackendQBE,
			decl:    binaryFn("uint", "bool", token.Lt),
			want:    []string{"=w cultw "},
		},
		{
			name:    "qbe double arithmetic",
			backend: config.BackendQBE,
			decl:    binaryFn("double", "double", token.Star),
			want:    []string{"export function d $f(d %a.a, d %a.b) {", "=d mul "},
		},
		{
			name:    "llvm integer add",
			backend: config.BackendLLVM,
			decl:    binaryFn("int", "int", token.Plus),
			want: []string{
				"define i32 @f(i32 %a, i32 %b)",
				"%arguments.a.addr = alloca i32",
				"add i32 ",
				"ret i32 ",
			},
		},
		{
			name:    "llvm unsigned comparison",
			backend: config.BackendLLVM,
			decl:    binaryFn("uint", "bool", token.Lt),
			want:    []string{"define i1 @f(i32 %a, i32 %b)", "icmp ult i32 "},
		},
		{
			name:    "llvm float comparison",
			backend: config.BackendLLVM,
			decl:    binaryFn("float", "bool", token.Lt),
			want:    []string{"fcmp olt float "},
		},
		{
			name:    "llvm vector arithmetic",
			backend: config.BackendLLVM,
			decl:    binaryFn("float3", "float3", token.Plus),
			want:    []string{"define <3 x float> @f(<3 x float> %a, <3 x float> %b)", "fadd <3 x float> "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			m, _, err := compile(t, cfg, tt.decl)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			text, err := NewBackend(tt.backend).GenerateIR(m, cfg)
			if err != nil {
				t.Fatalf("GenerateIR: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(text, w) {
					t.Errorf("output lacks %q:\n%s", w, text)
				}
			}
		})
	}
}

func TestQBERejectsVectors(t *testing.T) {
	cfg := config.NewConfig()
	m, _, err := compile(t, cfg, binaryFn("float3", "float3", token.Plus))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	_, err = NewBackend(config.BackendQBE).GenerateIR(m, cfg)
	if err == nil || !strings.Contains(err.Error(), "qbe backend") {
		t.Fatalf("expected a qbe backend error, got %v", err)
	}
}

func TestLLVMStructures(t *testing.T) {
	pair := ast.NewStructDecl(pos, "Pair", []*ast.Node{
		local("a", "float", nil),
		local("b", "int", nil),
	})
	get := fn("get", "int", []*ast.Node{param("p", "Pair", types.In)},
		block(ret(ast.NewMemberAccess(pos, ident("p"), "b"))))

	cfg := config.NewConfig()
	m, _, err := compile(t, cfg, pair, get)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	text, err := NewBackend(config.BackendLLVM).GenerateIR(m, cfg)
	if err != nil {
		t.Fatalf("GenerateIR: %v", err)
	}
	for _, w := range []string{"%Pair = type { float, i32 }", "getelementptr %Pair, %Pair* %p, i32 0, i32 1"} {
		if !strings.Contains(text, w) {
			t.Errorf("output lacks %q:\n%s", w, text)
		}
	}
}

func TestGLSLShaders(t *testing.T) {
	frag := ast.NewFuncDecl(pos, "frag", types.FuncFragment, tname("void"),
		[]*ast.Node{param("c", "float", types.In), param("o", "float", types.Out)},
		block(expr(assign(ident("o"), ident("c")))))
	helper := binaryFn("int", "int", token.Plus)

	cfg := config.NewConfig()
	m, _, err := compile(t, cfg, helper, frag)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	shaders, err := GLSLShaders(m, cfg)
	if err != nil {
		t.Fatalf("GLSLShaders: %v", err)
	}
	var files []string
	for _, s := range shaders {
		files = append(files, s.FileName())
	}
	if diff := cmp.Diff([]string{"frag.frag.glsl"}, files); diff != "" {
		t.Errorf("shader files mismatch (-want +got):\n%s", diff)
	}
	want := strings.Join([]string{
		"// frag",
		"#version 450",
		"",
		"in float c;",
		"out float o;",
		"",
		"void main() {",
		"  o = c;",
		"}",
	}, "\n") + "\n"
	if diff := cmp.Diff(want, shaders[0].Text); diff != "" {
		t.Errorf("shader text mismatch (-want +got):\n%s", diff)
	}
}

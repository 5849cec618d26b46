package config

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/aslc/pkg/cli"
)

func TestSetTarget(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		wantBackend string
		wantTarget  string
		wantErr     string
	}{
		{name: "default", target: "", wantBackend: BackendGLSL},
		{name: "glsl", target: "glsl", wantBackend: BackendGLSL},
		{name: "glsl with target", target: "glsl/vulkan", wantErr: "takes no target"},
		{name: "qbe abi", target: "qbe/arm64", wantBackend: BackendQBE, wantTarget: "arm64"},
		{name: "llvm host triple", target: "llvm", wantBackend: BackendLLVM, wantTarget: "x86_64-unknown-linux-gnu"},
		{name: "llvm triple", target: "llvm/aarch64-apple-macosx", wantBackend: BackendLLVM, wantTarget: "aarch64-apple-macosx"},
		{name: "unknown", target: "spirv", wantErr: "unsupported backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConfig()
			err := c.SetTarget("linux", "amd64", tt.target)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("got error %v, want one containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetTarget: %v", err)
			}
			got := []string{c.BackendName, c.BackendTarget}
			if diff := cmp.Diff([]string{tt.wantBackend, tt.wantTarget}, got); diff != "" {
				t.Errorf("target mismatch (-want +got):\n%s", diff)
			}
		})
	}

	c := NewConfig()
	if err := c.SetTarget("linux", "amd64", "qbe"); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if c.BackendTarget == "" {
		t.Errorf("qbe without a target left BackendTarget empty")
	}
}

func TestFlagGroups(t *testing.T) {
	c := NewConfig()
	fs := cli.NewFlagSet("test")
	warnings, features := c.SetupFlagGroups(fs)
	if err := fs.Parse([]string{"-Wimplicit-return", "-Wno-shadow", "-Fno-loop-shapes", "-Fverify-ir", "-Fno-verify-ir"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c.ApplyFlagGroups(warnings, features)

	got := map[string]bool{
		"implicit-return": c.IsWarningEnabled(WarnImplicitReturn),
		"shadow":          c.IsWarningEnabled(WarnShadow),
		"unused-value":    c.IsWarningEnabled(WarnUnusedValue),
		"loop-shapes":     c.IsFeatureEnabled(FeatLoopShapes),
		"verify-ir":       c.IsFeatureEnabled(FeatVerifyIR),
		"short-circuit":   c.IsFeatureEnabled(FeatShortCircuit),
	}
	want := map[string]bool{
		"implicit-return": true,
		"shadow":          false,
		"unused-value":    true,
		"loop-shapes":     false,
		"verify-ir":       false,
		"short-circuit":   true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flag state mismatch (-want +got):\n%s", diff)
	}
}

func TestProject(t *testing.T) {
	data := []byte(`
[compiler]
target = "qbe/rv64"
glsl-version = 330
output = "build"

[preprocessor]
include = ["shaders/include"]
define = ["FOG=1"]

[warnings]
all = false
shadow = true

[features]
loop-shapes = false
`)
	p, err := ParseProject(data)
	if err != nil {
		t.Fatalf("ParseProject: %v", err)
	}
	c := NewConfig()
	target, err := p.Apply(c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	type state struct {
		Target      string
		GLSLVersion int
		Output      string
		Include     []string
		Define      []string
		Shadow      bool
		Unreachable bool
		LoopShapes  bool
	}
	got := state{
		Target:      target,
		GLSLVersion: c.GLSLVersion,
		Output:      c.OutputDir,
		Include:     c.IncludePaths,
		Define:      c.Defines,
		Shadow:      c.IsWarningEnabled(WarnShadow),
		Unreachable: c.IsWarningEnabled(WarnUnreachableCode),
		LoopShapes:  c.IsFeatureEnabled(FeatLoopShapes),
	}
	want := state{
		Target:      "qbe/rv64",
		GLSLVersion: 330,
		Output:      "build",
		Include:     []string{"shaders/include"},
		Define:      []string{"FOG=1"},
		Shadow:      true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("project mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"unknown warning", "[warnings]\nloud = true\n", "unknown warning 'loud'"},
		{"unknown feature", "[features]\nfast = true\n", "unknown feature 'fast'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseProject([]byte(tt.data))
			if err != nil {
				t.Fatalf("ParseProject: %v", err)
			}
			if _, err := p.Apply(NewConfig()); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got error %v, want one containing %q", err, tt.want)
			}
		})
	}
	if _, err := ParseProject([]byte("[compiler\n")); err == nil {
		t.Errorf("malformed TOML parsed without error")
	}
}

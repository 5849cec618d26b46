package codegen

import (
	"bytes"
	"strings"

	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/glsl"
	"github.com/xplshn/aslc/pkg/hlb"
	"github.com/xplshn/aslc/pkg/ir"
)

// ShaderSource is the GLSL text of one entry point.
type ShaderSource struct {
	Name  string
	Stage string
	Text  string
}

// FileName is where the driver writes the shader: <name>.<stage>.glsl.
func (s ShaderSource) FileName() string { return s.Name + "." + s.Stage + ".glsl" }

// ShaderBackend is a backend that produces one source per entry point.
type ShaderBackend interface {
	Backend
	Shaders(mod *ir.Module, cfg *config.Config) ([]ShaderSource, error)
}

type glslBackend struct{}

func NewGLSLBackend() Backend { return &glslBackend{} }

// Shaders structures and prints every entry point of mod, ordered by name.
func (b *glslBackend) Shaders(mod *ir.Module, cfg *config.Config) ([]ShaderSource, error) {
	shaders, err := hlb.BuildShaders(cfg, mod, glsl.Reserved)
	if err != nil {
		return nil, err
	}
	w := glsl.NewWriter(cfg)
	out := make([]ShaderSource, len(shaders))
	for i, s := range shaders {
		out[i] = ShaderSource{Name: s.Name, Stage: glsl.Stage(s.Kind), Text: w.Emit(s)}
	}
	return out, nil
}

func (b *glslBackend) GenerateIR(mod *ir.Module, cfg *config.Config) (string, error) {
	shaders, err := b.Shaders(mod, cfg)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(shaders))
	for i, s := range shaders {
		texts[i] = s.Text
	}
	return strings.Join(texts, "\n"), nil
}

func (b *glslBackend) Generate(mod *ir.Module, cfg *config.Config) (*bytes.Buffer, error) {
	text, err := b.GenerateIR(mod, cfg)
	if err != nil {
		return nil, err
	}
	return bytes.NewBufferString(text), nil
}

// GLSLShaders is the per-shader form of the glsl backend's output.
func GLSLShaders(mod *ir.Module, cfg *config.Config) ([]ShaderSource, error) {
	return (&glslBackend{}).Shaders(mod, cfg)
}

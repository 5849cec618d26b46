package codegen

import (
	"bytes"

	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes an IR module and a configuration, and produces the
	// target code as a byte buffer.
	Generate(mod *ir.Module, cfg *config.Config) (*bytes.Buffer, error)
	// GenerateIR returns the backend's own textual intermediate form, before
	// any external assembler runs.
	GenerateIR(mod *ir.Module, cfg *config.Config) (string, error)
}

// NewBackend returns the backend registered under name, or nil.
func NewBackend(name string) Backend {
	switch name {
	case config.BackendGLSL:
		return NewGLSLBackend()
	case config.BackendQBE:
		return NewQBEBackend()
	case config.BackendLLVM:
		return NewLLVMBackend()
	}
	return nil
}

//go:build !windows

package codegen

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"modernc.org/libqbe"
)

// Generate assembles the module with the bundled QBE for cfg.BackendTarget.
func (b *qbeBackend) Generate(mod *ir.Module, cfg *config.Config) (*bytes.Buffer, error) {
	il, err := b.GenerateIR(mod, cfg)
	if err != nil {
		return nil, err
	}

	var asm bytes.Buffer
	if err := libqbe.Main(cfg.BackendTarget, mod.Name+".ssa", strings.NewReader(il), &asm, nil); err != nil {
		return nil, errors.Wrapf(err, "qbe rejected the IL generated for '%s'", mod.Name)
	}
	return &asm, nil
}

//go:build windows

package codegen

import (
	"bytes"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/util"
)

// Generate pipes the module through a 'qbe' found in PATH; libqbe does not
// build on Windows.
func (b *qbeBackend) Generate(mod *ir.Module, cfg *config.Config) (*bytes.Buffer, error) {
	util.Verbose("bundled QBE unavailable, using the system 'qbe'")
	qbe, err := exec.LookPath("qbe")
	if err != nil {
		return nil, errors.Wrap(err, "qbe not found in PATH")
	}

	il, err := b.GenerateIR(mod, cfg)
	if err != nil {
		return nil, err
	}

	in, err := os.CreateTemp("", "aslc-"+mod.Name+"-*.ssa")
	if err != nil {
		return nil, err
	}
	defer os.Remove(in.Name())
	_, err = in.WriteString(il)
	in.Close()
	if err != nil {
		return nil, err
	}

	var asm, stderr bytes.Buffer
	cmd := exec.Command(qbe, "-t", cfg.BackendTarget, in.Name())
	cmd.Stdout = &asm
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "qbe rejected the IL generated for '%s': %s", mod.Name, stderr.String())
	}
	return &asm, nil
}

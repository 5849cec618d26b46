package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/samber/do"
	"github.com/xplshn/aslc/pkg/ast"
	"github.com/xplshn/aslc/pkg/cli"
	"github.com/xplshn/aslc/pkg/codegen"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/types"
	"github.com/xplshn/aslc/pkg/util"
)

var errCompile = errors.New("compilation failed")

func main() {
	app := cli.NewApp("aslc")
	app.Synopsis = "[options] <input.json> ..."
	app.Description = "A compiler for the ASL shading language. Reads syntax trees produced by the ASL parser and writes one GLSL file per entry point, or QBE/LLVM output for the scalar subset."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/aslc>"

	var (
		outDir      string
		target      string
		projectFile string
		glslVersion int
		includes    []string
		defines     []string
		dumpIR      bool
		verbose     bool
	)

	fs := app.FlagSet
	fs.String(&outDir, "output", "o", "", "Write the output files into <dir>.", "dir")
	fs.String(&target, "target", "t", "", "Set the backend and target (glsl, qbe[/abi], llvm[/triple]).", "backend/target")
	fs.String(&projectFile, "config", "c", "", "Read settings from a TOML project file instead of "+config.ProjectFileName+".", "file")
	fs.Int(&glslVersion, "glsl-version", "", 0, "Set the #version written to GLSL output; 0 keeps the configured version.")
	fs.Prefix(&includes, "I", "Add a directory to the preprocessor include path.", "dir")
	fs.Prefix(&defines, "D", "Define a preprocessor macro.", "name[=value]")
	fs.Bool(&dumpIR, "dump-ir", "d", false, "Dump the intermediate representation and exit.")
	fs.Bool(&verbose, "verbose", "v", false, "Print every compilation phase.")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)

	app.Action = func(inputs []string) error {
		util.SetVerbose(verbose)
		cfg.Verbose = verbose

		projectTarget, err := applyProject(cfg, projectFile)
		if err != nil {
			util.Fatal("%v", err)
		}
		cfg.ApplyFlagGroups(warningFlags, featureFlags)
		if target == "" {
			target = projectTarget
		}
		if err := cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target); err != nil {
			util.Fatal("%v", err)
		}
		if outDir != "" {
			cfg.OutputDir = outDir
		}
		if glslVersion != 0 {
			cfg.GLSLVersion = glslVersion
		}
		cfg.IncludePaths = append(cfg.IncludePaths, includes...)
		cfg.Defines = append(cfg.Defines, defines...)

		if len(inputs) == 0 {
			util.Fatal("no input files specified")
		}

		d := &driver{
			injector: newInjector(cfg),
			reporter: util.NewReporter(os.Stderr),
			dumpIR:   dumpIR,
		}
		failed := false
		for _, path := range inputs {
			if err := d.compileFile(path); err != nil {
				if !errors.Is(err, errCompile) {
					util.Info("%s: %v", path, err)
				}
				failed = true
			}
		}
		if failed {
			return errCompile
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// applyProject loads the explicit project file, or aslc.toml in the working
// directory when one exists.
func applyProject(cfg *config.Config, path string) (string, error) {
	if path == "" {
		if _, err := os.Stat(config.ProjectFileName); err != nil {
			return "", nil
		}
		path = config.ProjectFileName
	}
	util.Verbose("reading project file '%s'", path)
	p, err := config.LoadProject(path)
	if err != nil {
		return "", err
	}
	return p.Apply(cfg)
}

// newInjector provides the configuration, the syntax tree reader and every
// backend, the latter under its config name.
func newInjector(cfg *config.Config) *do.Injector {
	i := do.New()
	do.ProvideValue(i, cfg)
	do.Provide(i, func(*do.Injector) (ast.Frontend, error) {
		return ast.JSONFrontend{}, nil
	})
	for _, name := range []string{config.BackendGLSL, config.BackendQBE, config.BackendLLVM} {
		name := name
		do.ProvideNamed(i, name, func(*do.Injector) (codegen.Backend, error) {
			return codegen.NewBackend(name), nil
		})
	}
	return i
}

type driver struct {
	injector *do.Injector
	reporter *util.Reporter
	dumpIR   bool
}

func (d *driver) compileFile(path string) error {
	cfg := do.MustInvoke[*config.Config](d.injector)
	frontend := do.MustInvoke[ast.Frontend](d.injector)

	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	util.Verbose("reading syntax tree from '%s'", path)
	root, err := frontend.Parse(path, src)
	if err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	util.Verbose("building IR for module '%s'", name)
	ctx := codegen.NewContext(cfg, types.NewRegistry(), name)
	mod, err := ctx.CompileTranslationUnit(root)
	for _, diag := range ctx.Diagnostics() {
		d.reporter.Warn(cfg.Warnings[diag.Warning].Name, diag.Pos, "%s", diag.Msg)
	}
	if err != nil {
		var list codegen.ErrorList
		if !errors.As(err, &list) {
			return err
		}
		for _, e := range list {
			d.reporter.Error(e.Pos, "%s", e.Msg)
		}
		return errCompile
	}

	if d.dumpIR {
		fmt.Print(ir.Dump(mod))
		return nil
	}

	backend, err := do.InvokeNamed[codegen.Backend](d.injector, cfg.BackendName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}

	util.Verbose("generating code with the '%s' backend", cfg.BackendName)
	if sb, ok := backend.(codegen.ShaderBackend); ok {
		shaders, err := sb.Shaders(mod, cfg)
		if err != nil {
			return err
		}
		if len(shaders) == 0 {
			util.Info("%s: no entry points, nothing written", path)
		}
		for _, s := range shaders {
			if err := d.write(cfg.OutputDir, s.FileName(), s.Text); err != nil {
				return err
			}
		}
		return nil
	}

	out, err := backend.Generate(mod, cfg)
	if err != nil {
		return err
	}
	ext := map[string]string{config.BackendQBE: ".s", config.BackendLLVM: ".ll"}[cfg.BackendName]
	return d.write(cfg.OutputDir, name+ext, out.String())
}

func (d *driver) write(dir, file, text string) error {
	path := filepath.Join(dir, file)
	util.Verbose("writing '%s'", path)
	return os.WriteFile(path, []byte(text), 0o644)
}

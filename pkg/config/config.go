package config

import (
	"fmt"
	"strings"

	"github.com/xplshn/aslc/pkg/cli"
	"github.com/xplshn/aslc/pkg/util"
	"modernc.org/libqbe"
)

type Feature int

const (
	FeatShortCircuit Feature = iota
	FeatConstUnify
	FeatFlattenEntryArgs
	FeatLoopShapes
	FeatTrimContinue
	FeatVerifyIR
	FeatCount
)

type Warning int

const (
	WarnUnreachableCode Warning = iota
	WarnUnusedValue
	WarnShadow
	WarnImplicitReturn
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

const (
	BackendGLSL = "glsl"
	BackendQBE  = "qbe"
	BackendLLVM = "llvm"
)

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning

	BackendName   string
	BackendTarget string
	GLSLVersion   int
	OutputDir     string
	IncludePaths  []string
	Defines       []string
	Verbose       bool
}

func NewConfig() *Config {
	cfg := &Config{
		Features:    make(map[Feature]Info),
		Warnings:    make(map[Warning]Info),
		FeatureMap:  make(map[string]Feature),
		WarningMap:  make(map[string]Warning),
		BackendName: BackendGLSL,
		GLSLVersion: 450,
		OutputDir:   ".",
	}

	features := map[Feature]Info{
		FeatShortCircuit:     {"short-circuit", true, "Lower '&&' and '||' with conditional branches instead of eager logical opcodes."},
		FeatConstUnify:       {"const-unify", true, "Retype integer constants to the floating point type of the other operand."},
		FeatFlattenEntryArgs: {"flatten-entry-args", true, "Turn structure arguments of entry points into one global per field."},
		FeatLoopShapes:       {"loop-shapes", true, "Print recognizable loops as 'while' and 'do-while' instead of 'for (;;)'."},
		FeatTrimContinue:     {"trim-continue", true, "Drop a 'continue' that ends a loop body."},
		FeatVerifyIR:         {"verify-ir", true, "Check the structure of the IR before running a backend."},
	}

	warnings := map[Warning]Info{
		WarnUnreachableCode: {"unreachable-code", true, "Warn about statements that follow a return, break, continue or discard."},
		WarnUnusedValue:     {"unused-value", true, "Warn about expression statements whose value is discarded without effect."},
		WarnShadow:          {"shadow", true, "Warn when a local declaration hides a binding from an enclosing scope."},
		WarnImplicitReturn:  {"implicit-return", false, "Warn when a void function ends without an explicit 'return'."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}
	return cfg
}

// SetTarget selects the backend from a "<backend>[/<target>]" string. For
// qbe the target is the QBE ABI, defaulting to the host's; for llvm it is
// the target triple.
func (c *Config) SetTarget(goos, goarch, target string) error {
	backend, sub, _ := strings.Cut(target, "/")
	if backend == "" {
		backend = BackendGLSL
	}

	switch backend {
	case BackendGLSL:
		if sub != "" {
			return fmt.Errorf("the glsl backend takes no target, got '%s'", sub)
		}
	case BackendQBE:
		if sub == "" {
			sub = libqbe.DefaultTarget(goos, goarch)
			util.Verbose("no QBE target specified, defaulting to host target '%s'", sub)
		}
		switch sub {
		case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		default:
			util.Info("unrecognized QBE target '%s', assembly may fail", sub)
		}
	case BackendLLVM:
		if sub == "" {
			sub = defaultTriple(goos, goarch)
			util.Verbose("no LLVM triple specified, defaulting to '%s'", sub)
		}
	default:
		return fmt.Errorf("unsupported backend '%s' (available: glsl, qbe, llvm)", backend)
	}

	c.BackendName, c.BackendTarget = backend, sub
	return nil
}

func defaultTriple(goos, goarch string) string {
	arch := map[string]string{"amd64": "x86_64", "arm64": "aarch64", "386": "i686", "riscv64": "riscv64"}[goarch]
	if arch == "" {
		arch = goarch
	}
	switch goos {
	case "darwin":
		return arch + "-apple-macosx"
	case "windows":
		return arch + "-pc-windows-msvc"
	}
	return arch + "-unknown-" + goos + "-gnu"
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// SetFeatureByName and SetWarningByName back the project file tables.
func (c *Config) SetFeatureByName(name string, enabled bool) error {
	ft, ok := c.FeatureMap[name]
	if !ok {
		return fmt.Errorf("unknown feature '%s'", name)
	}
	c.SetFeature(ft, enabled)
	return nil
}

func (c *Config) SetWarningByName(name string, enabled bool) error {
	if name == "all" {
		for wt := Warning(0); wt < WarnCount; wt++ {
			c.SetWarning(wt, enabled)
		}
		return nil
	}
	wt, ok := c.WarningMap[name]
	if !ok {
		return fmt.Errorf("unknown warning '%s'", name)
	}
	c.SetWarning(wt, enabled)
	return nil
}

// SetupFlagGroups registers -W<warning>/-Wno-<warning> and
// -F<feature>/-Fno-<feature> flags. The returned entries are indexed by
// Warning and Feature and are applied with ApplyFlagGroups after parsing.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) (warningFlags, featureFlags []cli.FlagGroupEntry) {
	warningFlags = make([]cli.FlagGroupEntry, WarnCount)
	for wt := Warning(0); wt < WarnCount; wt++ {
		info := c.Warnings[wt]
		warningFlags[wt] = cli.FlagGroupEntry{
			Name:     info.Name,
			Prefix:   "W",
			Usage:    info.Description,
			Enabled:  new(bool),
			Disabled: new(bool),
			Default:  info.Enabled,
		}
	}
	featureFlags = make([]cli.FlagGroupEntry, FeatCount)
	for ft := Feature(0); ft < FeatCount; ft++ {
		info := c.Features[ft]
		featureFlags[ft] = cli.FlagGroupEntry{
			Name:     info.Name,
			Prefix:   "F",
			Usage:    info.Description,
			Enabled:  new(bool),
			Disabled: new(bool),
			Default:  info.Enabled,
		}
	}

	fs.AddFlagGroup("Warning Flags", "Enable or disable specific warnings.", "warning", "Available Warnings:", warningFlags)
	fs.AddFlagGroup("Feature Flags", "Enable or disable compiler features.", "feature", "Available Features:", featureFlags)
	return warningFlags, featureFlags
}

// ApplyFlagGroups applies the parsed group flags. A -Wno-/-Fno- flag wins
// over its enabling counterpart.
func (c *Config) ApplyFlagGroups(warningFlags, featureFlags []cli.FlagGroupEntry) {
	for i, entry := range warningFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetWarning(Warning(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetWarning(Warning(i), false)
		}
	}
	for i, entry := range featureFlags {
		if entry.Enabled != nil && *entry.Enabled {
			c.SetFeature(Feature(i), true)
		}
		if entry.Disabled != nil && *entry.Disabled {
			c.SetFeature(Feature(i), false)
		}
	}
}

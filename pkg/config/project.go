package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/pelletier/go-toml"
)

// ProjectFileName is the project file looked up next to the inputs when
// --config is not given.
const ProjectFileName = "aslc.toml"

// Project mirrors aslc.toml:
//
//	[compiler]
//	target = "glsl"
//	glsl-version = 450
//	output = "build"
//
//	[preprocessor]
//	include = ["shaders/include"]
//	define = ["USE_FOG=1"]
//
//	[warnings]
//	shadow = false
//
//	[features]
//	loop-shapes = false
type Project struct {
	Compiler     projectCompiler     `toml:"compiler"`
	Preprocessor projectPreprocessor `toml:"preprocessor"`
	Warnings     map[string]bool     `toml:"warnings"`
	Features     map[string]bool     `toml:"features"`
}

type projectCompiler struct {
	Target      string `toml:"target"`
	GLSLVersion int    `toml:"glsl-version"`
	Output      string `toml:"output"`
}

type projectPreprocessor struct {
	Include []string `toml:"include"`
	Define  []string `toml:"define"`
}

func ParseProject(data []byte) (*Project, error) {
	p := &Project{}
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}

func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseProject(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Apply copies the project settings into c. Command line flags are applied
// afterwards and override them. The returned target is empty when the
// project does not set one.
func (p *Project) Apply(c *Config) (target string, err error) {
	if p.Compiler.GLSLVersion != 0 {
		c.GLSLVersion = p.Compiler.GLSLVersion
	}
	if p.Compiler.Output != "" {
		c.OutputDir = p.Compiler.Output
	}
	c.IncludePaths = append(c.IncludePaths, p.Preprocessor.Include...)
	c.Defines = append(c.Defines, p.Preprocessor.Define...)

	for _, name := range sortedKeys(p.Warnings) {
		if err := c.SetWarningByName(name, p.Warnings[name]); err != nil {
			return "", fmt.Errorf("[warnings]: %w", err)
		}
	}
	for _, name := range sortedKeys(p.Features) {
		if err := c.SetFeatureByName(name, p.Features[name]); err != nil {
			return "", fmt.Errorf("[features]: %w", err)
		}
	}
	return p.Compiler.Target, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

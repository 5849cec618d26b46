package hlb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/types"
)

// ShaderBuilder structures one entry point and every function it calls.
// All names in the resulting Shader come from one namer, so locals,
// parameters, globals and functions never collide once printed.
type ShaderBuilder struct {
	cfg    *config.Config
	module *ir.Module
	types  *types.Registry
	entry  *ir.Function
	shader *Shader

	functions map[*ir.Function]*Function
	building  map[*ir.Function]bool
	globals   map[*ir.GlobalVariable]*GlobalVariable
	structs   map[*types.Structure]bool
	names     map[string]int
	reserved  func(string) bool
}

func NewShaderBuilder(cfg *config.Config, m *ir.Module, entry *ir.Function) *ShaderBuilder {
	return &ShaderBuilder{
		cfg:       cfg,
		module:    m,
		types:     m.Types,
		entry:     entry,
		shader:    &Shader{Name: entry.SourceName, Kind: entry.Kind(), TypeNames: make(map[*types.Structure]string)},
		functions: make(map[*ir.Function]*Function),
		building:  make(map[*ir.Function]bool),
		globals:   make(map[*ir.GlobalVariable]*GlobalVariable),
		structs:   make(map[*types.Structure]bool),
		names:     map[string]int{"main": 1},
	}
}

// Reserve makes the namer avoid every name reserved reports true for, by
// appending an underscore before the usual uniqueness check.
func (sb *ShaderBuilder) Reserve(reserved func(string) bool) *ShaderBuilder {
	sb.reserved = reserved
	return sb
}

func (sb *ShaderBuilder) Build() (shader *Shader, err error) {
	if !sb.entry.IsEntryPoint() {
		return nil, errors.Errorf("'%s' is not an entry point", sb.entry.SourceName)
	}
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(structureError)
			if !ok {
				panic(r)
			}
			shader, err = nil, errors.Wrapf(se.err, "shader '%s'", sb.entry.SourceName)
		}
	}()

	main := &Function{Name: "main", Return: sb.types.Void, Source: sb.entry}
	sb.build(sb.entry, main, sb.entryArguments())
	sb.shader.Main = main
	return sb.shader, nil
}

// BuildShaders structures every defined entry point of m, ordered by name.
// Names reserved reports true for are never handed out; it may be nil.
func BuildShaders(cfg *config.Config, m *ir.Module, reserved func(string) bool) ([]*Shader, error) {
	var shaders []*Shader
	for _, fn := range m.Functions() {
		if !fn.IsEntryPoint() || !fn.Defined {
			continue
		}
		s, err := NewShaderBuilder(cfg, m, fn).Reserve(reserved).Build()
		if err != nil {
			return nil, err
		}
		shaders = append(shaders, s)
	}
	sort.Slice(shaders, func(i, j int) bool { return shaders[i].Name < shaders[j].Name })
	return shaders, nil
}

func (sb *ShaderBuilder) build(src *ir.Function, fn *Function, args []Expr) {
	sb.building[src] = true
	newFunctionBuilder(sb, src, fn, args).build()
	delete(sb.building, src)
	Simplify(fn, sb.cfg.IsFeatureEnabled(config.FeatTrimContinue))
}

// function returns the structured form of a callee, building it first if
// this is its first call.
func (sb *ShaderBuilder) function(src *ir.Function) *Function {
	if fn, ok := sb.functions[src]; ok {
		return fn
	}
	if sb.building[src] {
		fail("recursive call to '%s'", src.SourceName)
	}
	if !src.Defined {
		fail("'%s' is called but never defined", src.SourceName)
	}

	fn := &Function{Name: sb.unique(src.Name), Return: src.Typ.Return, Source: src}
	sb.useType(fn.Return)
	args := make([]Expr, len(src.Args))
	for i, a := range src.Args {
		p := &Parameter{Name: sb.unique(a.Name), Type: types.Deref(a.Typ), Mode: a.Mode}
		sb.useType(p.Type)
		fn.Params = append(fn.Params, p)
		args[i] = &ParamRef{Param: p}
	}
	sb.build(src, fn, args)
	sb.functions[src] = fn
	sb.shader.Functions = append(sb.shader.Functions, fn)
	return fn
}

// entryArguments turns the entry point's arguments into globals: plain
// arguments are uniforms, in and out arguments are stage inputs and outputs.
func (sb *ShaderBuilder) entryArguments() []Expr {
	flatten := sb.cfg.IsFeatureEnabled(config.FeatFlattenEntryArgs)
	args := make([]Expr, len(sb.entry.Args))
	for i, a := range sb.entry.Args {
		var storage string
		switch a.Mode {
		case types.Normal:
			storage = "uniform"
		case types.In:
			storage = "in"
		case types.Out:
			storage = "out"
		default:
			fail("entry point '%s' has %s argument '%s'", sb.entry.SourceName, a.Mode, a.Name)
		}

		t := types.Deref(a.Typ)
		if st, ok := t.(*types.Structure); ok && flatten {
			args[i] = sb.flatten(a.Name, st, storage)
			continue
		}
		args[i] = &GlobalRef{Global: sb.addGlobal(a.Name, t, storage)}
	}
	return args
}

func (sb *ShaderBuilder) flatten(prefix string, st *types.Structure, storage string) *FlattenedStruct {
	fs := &FlattenedStruct{Typ: st}
	for _, f := range st.Fields {
		name := prefix + "_" + f.Name
		if sub, ok := f.Type.(*types.Structure); ok {
			fs.Fields = append(fs.Fields, sb.flatten(name, sub, storage))
			continue
		}
		fs.Fields = append(fs.Fields, &GlobalRef{Global: sb.addGlobal(name, f.Type, storage)})
	}
	return fs
}

func (sb *ShaderBuilder) addGlobal(name string, t types.Type, storage string) *GlobalVariable {
	g := &GlobalVariable{Name: sb.unique(name), Type: t, Storage: storage}
	sb.useType(t)
	sb.shader.Globals = append(sb.shader.Globals, g)
	return g
}

func (sb *ShaderBuilder) global(gv *ir.GlobalVariable) *GlobalVariable {
	if g, ok := sb.globals[gv]; ok {
		return g
	}
	g := sb.addGlobal(gv.Name, gv.ValueType, gv.Storage)
	sb.globals[gv] = g
	return g
}

func (sb *ShaderBuilder) local(fn *Function, t types.Type, name string) *Variable {
	v := &Variable{Name: sb.unique(name), Type: t}
	sb.useType(t)
	fn.Locals = append(fn.Locals, v)
	return v
}

func (sb *ShaderBuilder) temp(fn *Function, t types.Type) *Variable { return sb.local(fn, t, "t") }

// useType records the structures t needs, fields before the structure.
func (sb *ShaderBuilder) useType(t types.Type) {
	st, ok := t.(*types.Structure)
	if !ok || sb.structs[st] {
		return
	}
	sb.structs[st] = true
	for _, f := range st.Fields {
		sb.useType(f.Type)
	}
	sb.shader.TypeNames[st] = sb.unique(st.Name)
	sb.shader.Structures = append(sb.shader.Structures, st)
}

// unique sanitizes name and makes it distinct from every name handed out
// before.
func (sb *ShaderBuilder) unique(name string) string {
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		name = "v"
	}
	if sb.reserved != nil && sb.reserved(name) {
		name += "_"
	}
	n, taken := sb.names[name]
	if !taken {
		sb.names[name] = 1
		return name
	}
	for {
		cand := fmt.Sprintf("%s_%d", name, n)
		n++
		if _, exists := sb.names[cand]; !exists {
			sb.names[name] = n
			sb.names[cand] = 1
			return cand
		}
	}
}

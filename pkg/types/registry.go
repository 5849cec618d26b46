package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

type entry struct {
	key string
	typ Type
}

// Registry interns types by structural key. One registry is shared by all
// stages compiling a translation unit; it is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	table    map[uint64][]entry
	nextID   uint32
	builtins map[string]Type

	Bool   *Boolean
	Void   *Void
	SByte  *Integer
	Byte   *Integer
	Short  *Integer
	UShort *Integer
	Int    *Integer
	UInt   *Integer
	Float  *FloatingPoint
	Double *FloatingPoint
}

func NewRegistry() *Registry {
	r := &Registry{
		table:    make(map[uint64][]entry),
		builtins: make(map[string]Type),
	}
	r.Bool = r.intern("bool", func(uid uint32) Type { return &Boolean{interned{uid}} }).(*Boolean)
	r.Void = r.intern("void", func(uid uint32) Type { return &Void{interned{uid}} }).(*Void)
	r.SByte, r.Byte = r.Integer(1, true), r.Integer(1, false)
	r.Short, r.UShort = r.Integer(2, true), r.Integer(2, false)
	r.Int, r.UInt = r.Integer(4, true), r.Integer(4, false)
	r.Float, r.Double = r.FloatingPoint(4), r.FloatingPoint(8)
	r.registerBuiltins()
	return r
}

func (r *Registry) intern(key string, create func(uid uint32) Type) Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := xxhash.Sum64String(key)
	for _, e := range r.table[h] {
		if e.key == key {
			return e.typ
		}
	}
	r.nextID++
	t := create(r.nextID)
	r.table[h] = append(r.table[h], entry{key: key, typ: t})
	return t
}

func (r *Registry) Integer(width int, signed bool) *Integer {
	key := fmt.Sprintf("i%d:%t", width, signed)
	return r.intern(key, func(uid uint32) Type {
		return &Integer{interned: interned{uid}, Width: width, Signed: signed}
	}).(*Integer)
}

func (r *Registry) FloatingPoint(width int) *FloatingPoint {
	key := fmt.Sprintf("f%d", width)
	return r.intern(key, func(uid uint32) Type {
		return &FloatingPoint{interned: interned{uid}, Width: width}
	}).(*FloatingPoint)
}

func (r *Registry) Sampler(name string, dims int, array bool) *Sampler {
	key := fmt.Sprintf("sampler:%s:%d:%t", name, dims, array)
	return r.intern(key, func(uid uint32) Type {
		return &Sampler{interned: interned{uid}, Name: name, Dims: dims, Array: array}
	}).(*Sampler)
}

// Reference panics when base is already a reference.
func (r *Registry) Reference(base Type, readOnly bool) *Reference {
	if IsReference(base) {
		panic(fmt.Sprintf("types: reference to reference type %s", base))
	}
	key := fmt.Sprintf("ref:%d:%t", base.id(), readOnly)
	return r.intern(key, func(uid uint32) Type {
		return &Reference{interned: interned{uid}, Base: base, ReadOnly: readOnly}
	}).(*Reference)
}

func (r *Registry) Vector(base Type, count int) *Vector {
	key := fmt.Sprintf("vec:%d:%d", base.id(), count)
	return r.intern(key, func(uid uint32) Type {
		return &Vector{interned: interned{uid}, Base: base, Count: count}
	}).(*Vector)
}

func (r *Registry) Matrix(base Type, rows, cols int) *Matrix {
	key := fmt.Sprintf("mat:%d:%d:%d", base.id(), rows, cols)
	return r.intern(key, func(uid uint32) Type {
		return &Matrix{interned: interned{uid}, Base: base, Rows: rows, Cols: cols}
	}).(*Matrix)
}

// Structure interns a structure type. Field offsets are computed on first
// construction; the offsets of the passed fields are ignored.
func (r *Registry) Structure(name string, fields []Field) *Structure {
	var sb strings.Builder
	fmt.Fprintf(&sb, "struct:%s{", name)
	for _, f := range fields {
		fmt.Fprintf(&sb, "%s:%d;", f.Name, f.Type.id())
	}
	sb.WriteByte('}')
	return r.intern(sb.String(), func(uid uint32) Type {
		s := &Structure{
			interned: interned{uid},
			Name:     name,
			Fields:   append([]Field(nil), fields...),
			index:    make(map[string]int, len(fields)),
		}
		for i, f := range s.Fields {
			s.index[f.Name] = i
		}
		s.size, s.align = layout(s.Fields)
		return s
	}).(*Structure)
}

func (r *Registry) Function(kind FunctionKind, ret Type, args []Argument) *Function {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn:%d:%d(", kind, ret.id())
	for _, a := range args {
		fmt.Fprintf(&sb, "%d/%d;", a.Type.id(), a.Mode)
	}
	sb.WriteByte(')')
	return r.intern(sb.String(), func(uid uint32) Type {
		return &Function{interned: interned{uid}, FnKind: kind, Return: ret, Args: append([]Argument(nil), args...)}
	}).(*Function)
}

// ArgumentType returns the type a parameter of base type gets under mode.
func (r *Registry) ArgumentType(base Type, mode PassingMode) Type {
	switch mode {
	case In:
		return r.Reference(base, true)
	case Out, InOut:
		return r.Reference(base, false)
	}
	return base
}

// Lookup resolves a builtin type name.
func (r *Registry) Lookup(name string) (Type, bool) {
	t, ok := r.builtins[name]
	return t, ok
}

func (r *Registry) registerBuiltins() {
	scalars := map[string]Type{
		"bool":   r.Bool,
		"sbyte":  r.SByte,
		"byte":   r.Byte,
		"short":  r.Short,
		"ushort": r.UShort,
		"int":    r.Int,
		"uint":   r.UInt,
		"float":  r.Float,
		"double": r.Double,
	}
	for name, t := range scalars {
		r.builtins[name] = t
	}
	r.builtins["void"] = r.Void

	for _, name := range []string{"bool", "int", "uint", "float", "double"} {
		base := scalars[name]
		for n := 2; n <= 4; n++ {
			r.builtins[fmt.Sprintf("%s%d", name, n)] = r.Vector(base, n)
		}
	}
	for _, name := range []string{"float", "double"} {
		base := scalars[name]
		for rows := 2; rows <= 4; rows++ {
			for cols := 2; cols <= 4; cols++ {
				r.builtins[fmt.Sprintf("%s%dx%d", name, rows, cols)] = r.Matrix(base, rows, cols)
			}
		}
	}

	samplers := []struct {
		name  string
		dims  int
		array bool
	}{
		{"sampler1D", 1, false},
		{"sampler1DArray", 1, true},
		{"sampler2D", 2, false},
		{"sampler2DArray", 2, true},
		{"sampler2DRect", 2, false},
		{"sampler2DRectArray", 2, true},
		{"samplerCube", 2, false},
		{"samplerCubeArray", 2, true},
		{"sampler3D", 3, false},
		{"sampler3DArray", 3, true},
	}
	for _, s := range samplers {
		r.builtins[s.name] = r.Sampler(s.name, s.dims, s.array)
	}
}

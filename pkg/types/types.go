// Package types implements the ASL type system. Types are immutable and
// interned by a Registry, so two types are the same type iff they are ==.
package types

import (
	"fmt"
	"strings"
)

type Kind int

const (
	KindBoolean Kind = iota
	KindInteger
	KindFloat
	KindVoid
	KindSampler
	KindReference
	KindVector
	KindMatrix
	KindStructure
	KindFunction
)

// Type is implemented by every type variant. Only a Registry creates them.
type Type interface {
	Kind() Kind
	Size() int
	Alignment() int
	String() string
	id() uint32
}

type interned struct{ uid uint32 }

func (i interned) id() uint32 { return i.uid }

type Boolean struct{ interned }

func (*Boolean) Kind() Kind     { return KindBoolean }
func (*Boolean) Size() int      { return 4 }
func (*Boolean) Alignment() int { return 4 }
func (*Boolean) String() string { return "bool" }

type Integer struct {
	interned
	Width  int // in bytes
	Signed bool
}

func (*Integer) Kind() Kind       { return KindInteger }
func (t *Integer) Size() int      { return t.Width }
func (t *Integer) Alignment() int { return t.Width }
func (t *Integer) String() string {
	var name string
	switch t.Width {
	case 1:
		name = "byte"
		if t.Signed {
			return "sbyte"
		}
		return name
	case 2:
		name = "short"
	case 4:
		name = "int"
	default:
		name = fmt.Sprintf("int%d", t.Width*8)
	}
	if !t.Signed {
		return "u" + name
	}
	return name
}

type FloatingPoint struct {
	interned
	Width int // in bytes
}

func (*FloatingPoint) Kind() Kind       { return KindFloat }
func (t *FloatingPoint) Size() int      { return t.Width }
func (t *FloatingPoint) Alignment() int { return t.Width }
func (t *FloatingPoint) String() string {
	if t.Width == 8 {
		return "double"
	}
	return "float"
}

type Void struct{ interned }

func (*Void) Kind() Kind     { return KindVoid }
func (*Void) Size() int      { return 0 }
func (*Void) Alignment() int { return 0 }
func (*Void) String() string { return "void" }

// Sampler is an opaque texture sampler handle.
type Sampler struct {
	interned
	Name  string
	Dims  int
	Array bool
}

func (*Sampler) Kind() Kind       { return KindSampler }
func (*Sampler) Size() int        { return 0 }
func (*Sampler) Alignment() int   { return 0 }
func (t *Sampler) String() string { return t.Name }

// Reference is a storage location holding a value of Base.
// Base is never itself a Reference.
type Reference struct {
	interned
	Base     Type
	ReadOnly bool
}

func (*Reference) Kind() Kind     { return KindReference }
func (*Reference) Size() int      { return 8 }
func (*Reference) Alignment() int { return 8 }
func (t *Reference) String() string {
	if t.ReadOnly {
		return "const ref " + t.Base.String()
	}
	return "ref " + t.Base.String()
}

type Vector struct {
	interned
	Base  Type
	Count int
}

func (*Vector) Kind() Kind       { return KindVector }
func (t *Vector) Size() int      { return t.Base.Size() * t.Count }
func (t *Vector) Alignment() int { return t.Base.Alignment() * ceilPow2(t.Count) }
func (t *Vector) String() string { return fmt.Sprintf("%s%d", t.Base, t.Count) }

// Matrix is stored as Cols column vectors of Rows elements.
type Matrix struct {
	interned
	Base       Type
	Rows, Cols int
}

func (*Matrix) Kind() Kind { return KindMatrix }
func (t *Matrix) Alignment() int {
	return t.Base.Alignment() * ceilPow2(t.Rows)
}
func (t *Matrix) Size() int {
	return t.Cols * alignUp(t.Base.Size()*t.Rows, t.Alignment())
}
func (t *Matrix) String() string { return fmt.Sprintf("%s%dx%d", t.Base, t.Rows, t.Cols) }

type Field struct {
	Name   string
	Type   Type
	Offset int
}

type Structure struct {
	interned
	Name   string
	Fields []Field
	size   int
	align  int
	index  map[string]int
}

func (*Structure) Kind() Kind       { return KindStructure }
func (t *Structure) Size() int      { return t.size }
func (t *Structure) Alignment() int { return t.align }
func (t *Structure) String() string { return t.Name }

// FieldIndex returns the index of the named field, or -1.
func (t *Structure) FieldIndex(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

type PassingMode int

const (
	Normal PassingMode = iota
	In
	Out
	InOut
)

func (m PassingMode) String() string {
	switch m {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	}
	return "normal"
}

func ParsePassingMode(s string) (PassingMode, error) {
	switch s {
	case "", "normal":
		return Normal, nil
	case "in":
		return In, nil
	case "out":
		return Out, nil
	case "inout":
		return InOut, nil
	}
	return Normal, fmt.Errorf("unknown passing mode '%s'", s)
}

type FunctionKind int

const (
	FuncNormal FunctionKind = iota
	FuncVertex
	FuncFragment
	FuncGeometry
	FuncTesControl
	FuncTesEvaluation
	FuncCompute
)

var functionKindNames = []string{"normal", "vertex", "fragment", "geometry", "tescontrol", "tesevaluation", "compute"}

func (k FunctionKind) String() string {
	if int(k) < len(functionKindNames) {
		return functionKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func ParseFunctionKind(s string) (FunctionKind, error) {
	if s == "" {
		return FuncNormal, nil
	}
	for i, name := range functionKindNames {
		if name == s {
			return FunctionKind(i), nil
		}
	}
	return FuncNormal, fmt.Errorf("unknown function kind '%s'", s)
}

// Argument is a function parameter type together with its passing mode.
// in/out/inout arguments carry a Reference type.
type Argument struct {
	Type Type
	Mode PassingMode
}

type Function struct {
	interned
	FnKind FunctionKind
	Return Type
	Args   []Argument
}

func (*Function) Kind() Kind     { return KindFunction }
func (*Function) Size() int      { return 0 }
func (*Function) Alignment() int { return 0 }
func (t *Function) String() string {
	var sb strings.Builder
	if t.FnKind != FuncNormal {
		sb.WriteString(t.FnKind.String())
		sb.WriteByte(' ')
	}
	sb.WriteString(t.Return.String())
	sb.WriteString(" (")
	for i, a := range t.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		if a.Mode != Normal {
			sb.WriteString(a.Mode.String())
			sb.WriteByte(' ')
			sb.WriteString(Deref(a.Type).String())
			continue
		}
		sb.WriteString(a.Type.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// OverloadTuple returns the argument value types. Passing mode is not part
// of the tuple, so prototypes differing only in mode collide.
func (t *Function) OverloadTuple() []Type {
	tuple := make([]Type, len(t.Args))
	for i, a := range t.Args {
		tuple[i] = Deref(a.Type)
	}
	return tuple
}

// OverloadKey renders OverloadTuple into a map key.
func (t *Function) OverloadKey() string { return TupleKey(t.OverloadTuple()) }

// TupleKey renders a list of value types into an overload key.
func TupleKey(tuple []Type) string {
	var sb strings.Builder
	for i, ty := range tuple {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", ty.id())
	}
	return sb.String()
}

func IsBoolean(t Type) bool       { _, ok := t.(*Boolean); return ok }
func IsInteger(t Type) bool       { _, ok := t.(*Integer); return ok }
func IsFloatingPoint(t Type) bool { _, ok := t.(*FloatingPoint); return ok }
func IsVoid(t Type) bool          { _, ok := t.(*Void); return ok }
func IsSampler(t Type) bool       { _, ok := t.(*Sampler); return ok }
func IsReference(t Type) bool     { _, ok := t.(*Reference); return ok }
func IsVector(t Type) bool        { _, ok := t.(*Vector); return ok }
func IsMatrix(t Type) bool        { _, ok := t.(*Matrix); return ok }
func IsStructure(t Type) bool     { _, ok := t.(*Structure); return ok }
func IsFunction(t Type) bool      { _, ok := t.(*Function); return ok }

func IsDouble(t Type) bool {
	f, ok := t.(*FloatingPoint)
	return ok && f.Width == 8
}

func IsUnsigned(t Type) bool {
	i, ok := t.(*Integer)
	return ok && !i.Signed
}

// Deref strips a Reference, returning the referenced value type.
func Deref(t Type) Type {
	if r, ok := t.(*Reference); ok {
		return r.Base
	}
	return t
}

// Scalar returns the element type of vectors and matrices, or t itself.
func Scalar(t Type) Type {
	switch t := t.(type) {
	case *Vector:
		return t.Base
	case *Matrix:
		return t.Base
	}
	return t
}

func alignUp(v, a int) int {
	if a <= 1 {
		return v
	}
	return (v + a - 1) / a * a
}

func ceilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// layout assigns field offsets and returns the struct size and alignment.
func layout(fields []Field) (size, align int) {
	align = 1
	offset := 0
	for i := range fields {
		a := fields[i].Type.Alignment()
		if a < 1 {
			a = 1
		}
		offset = alignUp(offset, a)
		fields[i].Offset = offset
		offset += fields[i].Type.Size()
		if a > align {
			align = a
		}
	}
	return alignUp(offset, align), align
}

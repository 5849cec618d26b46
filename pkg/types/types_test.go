package types

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInterning(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		a, b func() Type
		same bool
	}{
		{"vector", func() Type { return r.Vector(r.Float, 4) }, func() Type { return r.Vector(r.Float, 4) }, true},
		{"vector count", func() Type { return r.Vector(r.Float, 4) }, func() Type { return r.Vector(r.Float, 3) }, false},
		{"vector base", func() Type { return r.Vector(r.Float, 2) }, func() Type { return r.Vector(r.Int, 2) }, false},
		{"matrix", func() Type { return r.Matrix(r.Float, 4, 4) }, func() Type { return r.Matrix(r.Float, 4, 4) }, true},
		{"matrix shape", func() Type { return r.Matrix(r.Float, 2, 3) }, func() Type { return r.Matrix(r.Float, 3, 2) }, false},
		{"reference", func() Type { return r.Reference(r.Int, false) }, func() Type { return r.Reference(r.Int, false) }, true},
		{"reference readonly", func() Type { return r.Reference(r.Int, true) }, func() Type { return r.Reference(r.Int, false) }, false},
		{
			"function",
			func() Type { return r.Function(FuncNormal, r.Int, []Argument{{r.Int, Normal}, {r.Int, Normal}}) },
			func() Type { return r.Function(FuncNormal, r.Int, []Argument{{r.Int, Normal}, {r.Int, Normal}}) },
			true,
		},
		{
			"function kind",
			func() Type { return r.Function(FuncVertex, r.Void, nil) },
			func() Type { return r.Function(FuncFragment, r.Void, nil) },
			false,
		},
		{
			"structure",
			func() Type { return r.Structure("S", []Field{{Name: "a", Type: r.Float}}) },
			func() Type { return r.Structure("S", []Field{{Name: "a", Type: r.Float}}) },
			true,
		},
		{
			"structure field type",
			func() Type { return r.Structure("S", []Field{{Name: "a", Type: r.Float}}) },
			func() Type { return r.Structure("S", []Field{{Name: "a", Type: r.Int}}) },
			false,
		},
		{"integer", func() Type { return r.Integer(4, true) }, func() Type { return r.Int }, true},
		{"float", func() Type { return r.FloatingPoint(8) }, func() Type { return r.Double }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tt.a(), tt.b()
			if (a == b) != tt.same {
				t.Errorf("%s == %s: got %v, want %v", a, b, a == b, tt.same)
			}
		})
	}
}

func TestReferenceToReferencePanics(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when wrapping a reference in a reference")
		}
	}()
	r.Reference(r.Reference(r.Float, false), true)
}

func TestStructLayout(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name    string
		fields  []Type
		offsets []int
		size    int
		align   int
	}{
		{"scalars", []Type{r.Byte, r.Int, r.Short}, []int{0, 4, 8}, 12, 4},
		{"double first", []Type{r.Double, r.Byte}, []int{0, 8}, 16, 8},
		{"vec3 padding", []Type{r.Float, r.Vector(r.Float, 3)}, []int{0, 16}, 32, 16},
		{"bools", []Type{r.Bool, r.Byte, r.Bool}, []int{0, 4, 8}, 12, 4},
		{"single byte", []Type{r.Byte}, []int{0}, 1, 1},
		{"matrix", []Type{r.Float, r.Matrix(r.Float, 4, 4)}, []int{0, 16}, 80, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := make([]Field, len(tt.fields))
			for i, ft := range tt.fields {
				fields[i] = Field{Name: string(rune('a' + i)), Type: ft}
			}
			s := r.Structure(tt.name, fields)

			var offsets []int
			end := 0
			for _, f := range s.Fields {
				if a := f.Type.Alignment(); a > 0 && f.Offset%a != 0 {
					t.Errorf("field %s offset %d not a multiple of %d", f.Name, f.Offset, a)
				}
				if f.Offset < end {
					t.Errorf("field %s overlaps the previous field", f.Name)
				}
				end = f.Offset + f.Type.Size()
				offsets = append(offsets, f.Offset)
			}
			if diff := cmp.Diff(tt.offsets, offsets); diff != "" {
				t.Errorf("offsets mismatch (-want +got):\n%s", diff)
			}
			if s.Size() != tt.size || s.Alignment() != tt.align {
				t.Errorf("size/align = %d/%d, want %d/%d", s.Size(), s.Alignment(), tt.size, tt.align)
			}
			if s.Size()%s.Alignment() != 0 {
				t.Errorf("size %d not a multiple of alignment %d", s.Size(), s.Alignment())
			}
		})
	}
}

// sameType compares interned types by identity.
var sameType = cmp.Comparer(func(a, b Type) bool { return a == b })

func TestOverloadTupleIgnoresMode(t *testing.T) {
	r := NewRegistry()
	byValue := r.Function(FuncNormal, r.Void, []Argument{{r.Float, Normal}})
	byRef := r.Function(FuncNormal, r.Void, []Argument{{r.ArgumentType(r.Float, Out), Out}})

	if byValue == byRef {
		t.Fatal("function types with different passing modes must be distinct")
	}
	if byValue.OverloadKey() != byRef.OverloadKey() {
		t.Errorf("overload keys differ: %q vs %q", byValue.OverloadKey(), byRef.OverloadKey())
	}
	if diff := cmp.Diff([]Type{r.Float}, byRef.OverloadTuple(), sameType); diff != "" {
		t.Errorf("tuple mismatch (-want +got):\n%s", diff)
	}
}

func TestBuiltins(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		want Type
	}{
		{"int", r.Int},
		{"uint", r.UInt},
		{"float4", r.Vector(r.Float, 4)},
		{"int2", r.Vector(r.Int, 2)},
		{"bool3", r.Vector(r.Bool, 3)},
		{"float4x4", r.Matrix(r.Float, 4, 4)},
		{"double2x3", r.Matrix(r.Double, 2, 3)},
		{"void", r.Void},
		{"sampler2D", r.Sampler("sampler2D", 2, false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Lookup(tt.name)
			if !ok {
				t.Fatalf("builtin %s not found", tt.name)
			}
			if got != tt.want {
				t.Errorf("Lookup(%s) = %s, want %s", tt.name, got, tt.want)
			}
			if got.String() != tt.name {
				t.Errorf("String() = %s, want %s", got.String(), tt.name)
			}
		})
	}

	if _, ok := r.Lookup("float5"); ok {
		t.Error("float5 should not be a builtin")
	}
}

func TestPredicates(t *testing.T) {
	r := NewRegistry()
	ref := r.Reference(r.Double, true)

	checks := map[string]bool{
		"IsBoolean":       IsBoolean(r.Bool),
		"IsInteger":       IsInteger(r.UShort),
		"IsFloatingPoint": IsFloatingPoint(r.Float),
		"IsDouble":        IsDouble(r.Double) && !IsDouble(r.Float),
		"IsVoid":          IsVoid(r.Void),
		"IsReference":     IsReference(ref),
		"IsVector":        IsVector(r.Vector(r.Int, 2)),
		"IsStructure":     IsStructure(r.Structure("S", nil)),
		"IsUnsigned":      IsUnsigned(r.UInt) && !IsUnsigned(r.Int),
		"Deref":           Deref(ref) == r.Double,
		"Scalar":          Scalar(r.Matrix(r.Float, 3, 3)) == r.Float,
	}
	for name, ok := range checks {
		if !ok {
			t.Errorf("%s failed", name)
		}
	}
}

package glsl

import (
	"fmt"

	"github.com/xplshn/aslc/pkg/types"
)

// binaryOps maps IR binary operations to GLSL infix operators. frem has no
// operator and is printed as a call to mod.
var binaryOps = map[string]string{
	"iadd": "+", "fadd": "+",
	"isub": "-", "fsub": "-",
	"imul": "*", "fmul": "*",
	"idiv": "/", "udiv": "/", "fdiv": "/",
	"irem": "%", "urem": "%",

	"ilt": "<", "uflt": "<",
	"ile": "<=", "ufle": "<=",
	"igt": ">", "ufgt": ">",
	"ige": ">=", "ufge": ">=",
	"ieq": "==", "ufeq": "==",
	"ine": "!=", "ufne": "!=",

	"ibitand":     "&",
	"ibitor":      "|",
	"ibitxor":     "^",
	"ishiftleft":  "<<",
	"ishiftright": ">>",

	"land": "&&",
	"lor":  "||",
}

var unaryOps = map[string]string{
	"ineg":   "-",
	"fneg":   "-",
	"not":    "!",
	"bitnot": "~",
}

// TypeName returns the GLSL keyword for t. Structures and samplers keep
// their own names.
func TypeName(t types.Type) string {
	switch t := t.(type) {
	case *types.Void:
		return "void"
	case *types.Boolean:
		return "bool"
	case *types.Integer:
		if t.Signed {
			return "int"
		}
		return "uint"
	case *types.FloatingPoint:
		if t.Width == 8 {
			return "double"
		}
		return "float"
	case *types.Vector:
		return vectorPrefix(t.Base) + fmt.Sprintf("vec%d", t.Count)
	case *types.Matrix:
		return vectorPrefix(t.Base) + fmt.Sprintf("mat%dx%d", t.Cols, t.Rows)
	case *types.Sampler:
		return t.Name
	case *types.Structure:
		return Ident(t.Name)
	case *types.Reference:
		return TypeName(t.Base)
	}
	return t.String()
}

func vectorPrefix(base types.Type) string {
	switch base := base.(type) {
	case *types.Boolean:
		return "b"
	case *types.Integer:
		if base.Signed {
			return "i"
		}
		return "u"
	case *types.FloatingPoint:
		if base.Width == 8 {
			return "d"
		}
	}
	return ""
}

// Stage is the conventional file extension for shaders of kind k.
func Stage(k types.FunctionKind) string {
	switch k {
	case types.FuncVertex:
		return "vert"
	case types.FuncFragment:
		return "frag"
	case types.FuncGeometry:
		return "geom"
	case types.FuncTesControl:
		return "tesc"
	case types.FuncTesEvaluation:
		return "tese"
	case types.FuncCompute:
		return "comp"
	}
	return "glsl"
}

var reserved = map[string]bool{}

func init() {
	for _, w := range []string{
		"attribute", "const", "uniform", "varying", "buffer", "shared", "coherent",
		"volatile", "restrict", "readonly", "writeonly", "atomic_uint", "layout",
		"centroid", "flat", "smooth", "noperspective", "patch", "sample", "invariant",
		"precise", "break", "continue", "do", "for", "while", "switch", "case",
		"default", "if", "else", "subroutine", "in", "out", "inout", "int", "void",
		"bool", "true", "false", "float", "double", "uint", "discard", "return",
		"lowp", "mediump", "highp", "precision", "struct", "common", "partition",
		"active", "asm", "class", "union", "enum", "typedef", "template", "this",
		"resource", "goto", "inline", "noinline", "public", "static", "extern",
		"external", "interface", "long", "short", "half", "fixed", "unsigned",
		"superp", "input", "output", "filter", "sizeof", "cast", "namespace", "using",
		"texture", "mod", "min", "max", "clamp", "mix", "step", "dot", "cross",
		"length", "normalize", "sin", "cos", "tan", "pow", "exp", "log", "sqrt", "abs",
	} {
		reserved[w] = true
	}
	for _, p := range []string{"vec", "ivec", "uvec", "bvec", "dvec"} {
		for n := 2; n <= 4; n++ {
			reserved[fmt.Sprintf("%s%d", p, n)] = true
		}
	}
	for _, p := range []string{"mat", "dmat"} {
		for c := 2; c <= 4; c++ {
			reserved[fmt.Sprintf("%s%d", p, c)] = true
			for r := 2; r <= 4; r++ {
				reserved[fmt.Sprintf("%s%dx%d", p, c, r)] = true
			}
		}
	}
}

// Reserved reports whether GLSL keeps name for itself.
func Reserved(name string) bool { return reserved[name] }

// Ident renames identifiers that GLSL reserves.
func Ident(name string) string {
	if reserved[name] {
		return name + "_"
	}
	return name
}

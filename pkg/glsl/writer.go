// Package glsl prints structured shaders as GLSL source.
package glsl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/hlb"
	"github.com/xplshn/aslc/pkg/types"
)

const indentUnit = "  "

type Writer struct {
	version int
	shapes  bool

	out    strings.Builder
	indent int

	typeNames map[*types.Structure]string
	fields    map[*types.Structure][]string
}

func NewWriter(cfg *config.Config) *Writer {
	return &Writer{version: cfg.GLSLVersion, shapes: cfg.IsFeatureEnabled(config.FeatLoopShapes)}
}

// Emit returns the GLSL text of s: structures, globals, helper functions
// and finally main, so that everything is declared before it is used.
func (w *Writer) Emit(s *hlb.Shader) string {
	w.out.Reset()
	w.indent = 0
	w.typeNames = s.TypeNames
	w.fields = make(map[*types.Structure][]string)

	fmt.Fprintf(&w.out, "// %s\n", s.Name)
	if w.version > 0 {
		fmt.Fprintf(&w.out, "#version %d\n", w.version)
	}

	for _, st := range s.Structures {
		w.out.WriteString("\n")
		w.structure(st)
	}
	if len(s.Globals) > 0 {
		w.out.WriteString("\n")
		for _, g := range s.Globals {
			if g.Storage != "" {
				w.out.WriteString(g.Storage + " ")
			}
			fmt.Fprintf(&w.out, "%s %s;\n", w.typeName(g.Type), Ident(g.Name))
		}
	}
	for _, fn := range s.Functions {
		w.out.WriteString("\n")
		w.function(fn)
	}
	if s.Main != nil {
		w.out.WriteString("\n")
		w.function(s.Main)
	}
	return w.out.String()
}

func (w *Writer) line(format string, args ...interface{}) {
	w.out.WriteString(strings.Repeat(indentUnit, w.indent))
	fmt.Fprintf(&w.out, format, args...)
	w.out.WriteByte('\n')
}

func (w *Writer) structure(st *types.Structure) {
	w.line("struct %s {", w.typeName(st))
	w.indent++
	names := w.fieldNames(st)
	for i, f := range st.Fields {
		w.line("%s %s;", w.typeName(f.Type), names[i])
	}
	w.indent--
	w.line("};")
}

// typeName is TypeName with the structure names the shader chose.
func (w *Writer) typeName(t types.Type) string {
	switch t := t.(type) {
	case *types.Structure:
		if name, ok := w.typeNames[t]; ok {
			return name
		}
	case *types.Reference:
		return w.typeName(t.Base)
	}
	return TypeName(t)
}

// fieldNames renames the reserved fields of st, then keeps appending
// underscores until no two fields print alike.
func (w *Writer) fieldNames(st *types.Structure) []string {
	if names, ok := w.fields[st]; ok {
		return names
	}
	names := make([]string, len(st.Fields))
	taken := make(map[string]bool, len(st.Fields))
	for i, f := range st.Fields {
		name := Ident(f.Name)
		for taken[name] {
			name += "_"
		}
		taken[name] = true
		names[i] = name
	}
	w.fields[st] = names
	return names
}

func (w *Writer) function(fn *hlb.Function) {
	params := make([]string, len(fn.Params))
	for i, p := range fn.Params {
		var qualifier string
		switch p.Mode {
		case types.In:
			qualifier = "in "
		case types.Out:
			qualifier = "out "
		case types.InOut:
			qualifier = "inout "
		}
		params[i] = qualifier + w.typeName(p.Type) + " " + Ident(p.Name)
	}
	w.line("%s %s(%s) {", w.typeName(fn.Return), Ident(fn.Name), strings.Join(params, ", "))
	w.indent++
	for _, v := range fn.Locals {
		w.line("%s %s;", w.typeName(v.Type), Ident(v.Name))
	}
	if fn.Body != nil {
		w.stmts(fn.Body.Stmts)
	}
	w.indent--
	w.line("}")
}

func (w *Writer) stmts(stmts []hlb.Stmt) {
	for _, s := range stmts {
		w.stmt(s)
	}
}

func (w *Writer) block(b *hlb.Block) {
	w.indent++
	if b != nil {
		w.stmts(b.Stmts)
	}
	w.indent--
}

func (w *Writer) stmt(s hlb.Stmt) {
	switch s := s.(type) {
	case *hlb.Assign:
		w.line("%s = %s;", w.expr(s.Target), w.expr(s.Value))
	case *hlb.CallStmt:
		w.line("%s;", w.expr(s.Call))
	case *hlb.If:
		w.ifStmt(s, "if")
		w.line("}")
	case *hlb.Loop:
		w.loop(s)
	case *hlb.Break:
		w.line("break;")
	case *hlb.Continue:
		w.line("continue;")
	case *hlb.Return:
		if s.Value == nil {
			w.line("return;")
			return
		}
		w.line("return %s;", w.expr(s.Value))
	case *hlb.Discard:
		w.line("discard;")
	case *hlb.Block:
		w.line("{")
		w.block(s)
		w.line("}")
	default:
		panic(fmt.Sprintf("glsl: unexpected statement %T", s))
	}
}

// ifStmt prints s up to its closing brace, chaining "else if" when the
// else arm is a lone if.
func (w *Writer) ifStmt(s *hlb.If, keyword string) {
	w.line("%s (%s) {", keyword, w.expr(s.Cond))
	w.block(s.Then)
	if s.Else == nil || len(s.Else.Stmts) == 0 {
		return
	}
	if len(s.Else.Stmts) == 1 {
		if elif, ok := s.Else.Stmts[0].(*hlb.If); ok {
			w.ifStmt(elif, "} else if")
			return
		}
	}
	w.line("} else {")
	w.block(s.Else)
}

// loop prints l as a while loop when its body is a single test whose
// other arm breaks, as a do-while when it ends with such a test and never
// continues, and as an endless for loop otherwise.
func (w *Writer) loop(l *hlb.Loop) {
	body := l.Body.Stmts
	if w.shapes {
		if len(body) == 1 {
			if s, ok := body[0].(*hlb.If); ok {
				switch {
				case isBreak(s.Else):
					w.line("while (%s) {", w.expr(s.Cond))
					w.block(s.Then)
					w.line("}")
					return
				case isBreak(s.Then):
					w.line("while (%s) {", w.expr(hlb.Not(s.Cond)))
					w.block(s.Else)
					w.line("}")
					return
				}
			}
		}
		if n := len(body); n > 0 {
			if s, ok := body[n-1].(*hlb.If); ok && s.Else == nil && isBreak(s.Then) && !continues(body[:n-1]) {
				w.line("do {")
				w.block(&hlb.Block{Stmts: body[:n-1]})
				w.line("} while (%s);", w.expr(hlb.Not(s.Cond)))
				return
			}
		}
	}
	w.line("for (;;) {")
	w.block(l.Body)
	w.line("}")
}

func isBreak(b *hlb.Block) bool {
	if b == nil || len(b.Stmts) != 1 {
		return false
	}
	_, ok := b.Stmts[0].(*hlb.Break)
	return ok
}

// continues reports whether stmts continue the loop they are in. Nested
// loops are not searched.
func continues(stmts []hlb.Stmt) bool {
	for _, s := range stmts {
		switch s := s.(type) {
		case *hlb.Continue:
			return true
		case *hlb.If:
			if continues(stmtsOf(s.Then)) || continues(stmtsOf(s.Else)) {
				return true
			}
		case *hlb.Block:
			if continues(s.Stmts) {
				return true
			}
		}
	}
	return false
}

func stmtsOf(b *hlb.Block) []hlb.Stmt {
	if b == nil {
		return nil
	}
	return b.Stmts
}

func (w *Writer) expr(e hlb.Expr) string {
	switch e := e.(type) {
	case *hlb.Constant:
		return literal(e)
	case *hlb.VarRef:
		return Ident(e.Var.Name)
	case *hlb.ParamRef:
		return Ident(e.Param.Name)
	case *hlb.GlobalRef:
		return Ident(e.Global.Name)
	case *hlb.Member:
		field := e.Field
		if st, ok := e.Base.Type().(*types.Structure); ok {
			field = w.fieldNames(st)[e.Index]
		}
		return w.operand(e.Base) + "." + field
	case *hlb.Index:
		return fmt.Sprintf("%s[%d]", w.operand(e.Base), e.Index)
	case *hlb.Binary:
		if e.Op == "frem" {
			return fmt.Sprintf("mod(%s, %s)", w.expr(e.Left), w.expr(e.Right))
		}
		op, ok := binaryOps[e.Op]
		if !ok {
			panic(fmt.Sprintf("glsl: no operator for %s", e.Op))
		}
		return fmt.Sprintf("%s %s %s", w.operand(e.Left), op, w.operand(e.Right))
	case *hlb.Unary:
		op, ok := unaryOps[e.Op]
		if !ok {
			panic(fmt.Sprintf("glsl: no operator for %s", e.Op))
		}
		return op + w.operand(e.Operand)
	case *hlb.Call:
		return Ident(e.Func.Name) + "(" + w.list(e.Args) + ")"
	case *hlb.Construct:
		return w.typeName(e.Typ) + "(" + w.list(e.Args) + ")"
	case *hlb.FlattenedStruct:
		return w.typeName(e.Typ) + "(" + w.list(e.Fields) + ")"
	}
	panic(fmt.Sprintf("glsl: unexpected expression %T", e))
}

// operand parenthesizes operator expressions used inside another one.
func (w *Writer) operand(e hlb.Expr) string {
	switch e := e.(type) {
	case *hlb.Binary:
		if e.Op != "frem" {
			return "(" + w.expr(e) + ")"
		}
	case *hlb.Unary:
		return "(" + w.expr(e) + ")"
	case *hlb.Constant:
		if s := literal(e); strings.HasPrefix(s, "-") {
			return "(" + s + ")"
		}
	}
	return w.expr(e)
}

func (w *Writer) list(args []hlb.Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = w.expr(a)
	}
	return strings.Join(parts, ", ")
}

func literal(c *hlb.Constant) string {
	switch v := c.Value.(type) {
	case bool:
		return strconv.FormatBool(v)
	case int64:
		if types.IsUnsigned(c.Typ) {
			return strconv.FormatInt(v, 10) + "u"
		}
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eIN") {
			s += ".0"
		}
		if types.IsDouble(c.Typ) {
			s += "lf"
		}
		return s
	}
	return fmt.Sprint(c.Value)
}

package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xplshn/aslc/pkg/config"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/types"
)

// qbeBackend lowers scalar code to QBE IL. Structure values are passed
// around as addresses of private copies; vectors, matrices and samplers
// have no QBE representation and are rejected.
type qbeBackend struct {
	out       *strings.Builder
	mod       *ir.Module
	currentFn *ir.Function
}

func NewQBEBackend() Backend { return &qbeBackend{} }

type qbeUnsupported struct{ err error }

func (b *qbeBackend) unsupported(format string, args ...interface{}) {
	where := ""
	if b.currentFn != nil {
		where = fmt.Sprintf(" in '%s'", b.currentFn.SourceName)
	}
	panic(qbeUnsupported{errors.Errorf("qbe backend: "+format+where, args...)})
}

func (b *qbeBackend) GenerateIR(mod *ir.Module, cfg *config.Config) (qbeIR string, err error) {
	var sb strings.Builder
	b.out, b.mod, b.currentFn = &sb, mod, nil
	defer func() {
		if r := recover(); r != nil {
			u, ok := r.(qbeUnsupported)
			if !ok {
				panic(r)
			}
			err = u.err
		}
	}()

	b.gen()
	return sb.String(), nil
}

func (b *qbeBackend) gen() {
	for _, g := range b.mod.GlobalVariables() {
		b.genGlobal(g)
	}
	for _, fn := range b.mod.Functions() {
		if fn.Defined {
			b.genFunc(fn)
		}
	}
}

func (b *qbeBackend) genGlobal(g *ir.GlobalVariable) {
	b.checkStorable(g.ValueType)
	fmt.Fprintf(b.out, "data $%s = align %d { z %d }\n", qbeName(g.Name), max(g.ValueType.Alignment(), 1), max(g.ValueType.Size(), 1))
}

func (b *qbeBackend) checkStorable(t types.Type) {
	switch t := t.(type) {
	case *types.Boolean, *types.Integer, *types.FloatingPoint:
	case *types.Structure:
		for _, f := range t.Fields {
			b.checkStorable(f.Type)
		}
	default:
		b.unsupported("%s values are not supported", t)
	}
}

// baseType is the QBE class of temporaries holding t.
func (b *qbeBackend) baseType(t types.Type) string {
	switch t := t.(type) {
	case *types.Boolean:
		return "w"
	case *types.Integer:
		if t.Width == 8 {
			return "l"
		}
		return "w"
	case *types.FloatingPoint:
		if t.Width == 8 {
			return "d"
		}
		return "s"
	case *types.Reference:
		b.checkStorable(t.Base)
		return "l"
	case *types.Structure:
		b.checkStorable(t)
		return "l"
	}
	b.unsupported("%s values are not supported", t)
	return ""
}

func (b *qbeBackend) loadOp(t types.Type) string {
	switch t := t.(type) {
	case *types.Integer:
		sign := "u"
		if t.Signed {
			sign = "s"
		}
		switch t.Width {
		case 1:
			return "load" + sign + "b"
		case 2:
			return "load" + sign + "h"
		}
	}
	return "load" + b.baseType(t)
}

func (b *qbeBackend) storeOp(t types.Type) string {
	if t, ok := t.(*types.Integer); ok {
		switch t.Width {
		case 1:
			return "storeb"
		case 2:
			return "storeh"
		}
	}
	return "store" + b.baseType(t)
}

func allocOp(align int) string {
	if align <= 4 {
		return "alloc4"
	}
	if align <= 8 {
		return "alloc8"
	}
	return "alloc16"
}

func (b *qbeBackend) genFunc(fn *ir.Function) {
	b.currentFn = fn
	var retTypeStr string
	if ret := fn.Typ.Return; !types.IsVoid(ret) {
		if types.IsStructure(ret) {
			b.unsupported("structure return values are not supported")
		}
		retTypeStr = " " + b.baseType(ret)
	}

	fmt.Fprintf(b.out, "\nexport function%s $%s(", retTypeStr, qbeName(fn.Name))
	for i, a := range fn.Args {
		if i > 0 {
			b.out.WriteString(", ")
		}
		fmt.Fprintf(b.out, "%s %s", b.baseType(a.Typ), b.formatValue(a))
	}
	b.out.WriteString(") {\n")

	for _, block := range fn.Blocks {
		b.genBlock(block)
	}
	b.out.WriteString("}\n")
	b.currentFn = nil
}

func (b *qbeBackend) label(id ir.BlockID) string {
	return fmt.Sprintf("@%s.%d", qbeName(b.currentFn.Block(id).Name), id)
}

func (b *qbeBackend) genBlock(block *ir.BasicBlock) {
	fmt.Fprintf(b.out, "%s\n", b.label(block.ID))
	for _, instr := range block.Instructions {
		b.genInstr(instr)
	}
	if block.Terminator() == nil {
		b.out.WriteString("\thlt\n")
	}
}

func (b *qbeBackend) genInstr(instr *ir.Instruction) {
	switch instr.Op {
	case ir.OpAlloca:
		t := instr.ValueType
		b.checkStorable(t)
		fmt.Fprintf(b.out, "\t%s =l %s %d\n", b.formatValue(instr), allocOp(t.Alignment()), max(t.Size(), 1))
	case ir.OpLoad:
		if st, ok := instr.Typ.(*types.Structure); ok {
			b.checkStorable(st)
			res := b.formatValue(instr)
			fmt.Fprintf(b.out, "\t%s =l %s %d\n", res, allocOp(st.Alignment()), max(st.Size(), 1))
			fmt.Fprintf(b.out, "\tblit %s, %s, %d\n", b.formatValue(instr.Args[0]), res, st.Size())
			return
		}
		fmt.Fprintf(b.out, "\t%s =%s %s %s\n", b.formatValue(instr), b.baseType(instr.Typ), b.loadOp(instr.Typ), b.formatValue(instr.Args[0]))
	case ir.OpStore:
		t := types.Deref(instr.Args[1].Type())
		if st, ok := t.(*types.Structure); ok {
			fmt.Fprintf(b.out, "\tblit %s, %s, %d\n", b.formatValue(instr.Args[0]), b.formatValue(instr.Args[1]), st.Size())
			return
		}
		fmt.Fprintf(b.out, "\t%s %s, %s\n", b.storeOp(t), b.formatValue(instr.Args[0]), b.formatValue(instr.Args[1]))
	case ir.OpBinary:
		b.genBinary(instr)
	case ir.OpUnary:
		b.genUnary(instr)
	case ir.OpCall:
		b.genCall(instr)
	case ir.OpGetElementRef:
		base, offset := types.Deref(instr.Args[0].Type()), 0
		for _, idx := range instr.Indices {
			st, ok := base.(*types.Structure)
			if !ok {
				b.unsupported("element references into %s are not supported", base)
			}
			offset += st.Fields[idx].Offset
			base = st.Fields[idx].Type
		}
		fmt.Fprintf(b.out, "\t%s =l add %s, %d\n", b.formatValue(instr), b.formatValue(instr.Args[0]), offset)
	case ir.OpJump:
		fmt.Fprintf(b.out, "\tjmp %s\n", b.label(instr.Targets[0]))
	case ir.OpBranch:
		fmt.Fprintf(b.out, "\tjnz %s, %s, %s\n", b.formatValue(instr.Args[0]), b.label(instr.Targets[0]), b.label(instr.Targets[1]))
	case ir.OpReturn:
		fmt.Fprintf(b.out, "\tret %s\n", b.formatValue(instr.Args[0]))
	case ir.OpReturnVoid:
		b.out.WriteString("\tret\n")
	case ir.OpUnreachable, ir.OpDiscard:
		b.out.WriteString("\thlt\n")
	}
}

func (b *qbeBackend) genBinary(instr *ir.Instruction) {
	operand := instr.Args[0].Type()
	k := b.baseType(operand)
	float := k == "s" || k == "d"
	unsigned := types.IsUnsigned(operand)

	var opStr string
	switch op := instr.Operation; op {
	case "land":
		opStr = "and"
	case "lor":
		opStr = "or"
	default:
		switch suffix := strings.TrimLeft(op, "iuf"); suffix {
		case "add", "sub", "mul":
			opStr = suffix
		case "div", "rem":
			if float && suffix == "rem" {
				b.unsupported("floating point remainder is not supported")
			}
			opStr = suffix
			if unsigned {
				opStr = "u" + suffix
			}
		case "bitand":
			opStr = "and"
		case "bitor":
			opStr = "or"
		case "bitxor":
			opStr = "xor"
		case "shiftleft":
			opStr = "shl"
		case "shiftright":
			opStr = "sar"
			if unsigned {
				opStr = "shr"
			}
		case "eq", "ne":
			opStr = "c" + suffix + k
		case "lt", "le", "gt", "ge":
			switch {
			case float:
				opStr = "c" + suffix + k
			case unsigned:
				opStr = "cu" + suffix + k
			default:
				opStr = "cs" + suffix + k
			}
		default:
			b.unsupported("operation %s is not supported", op)
		}
	}
	fmt.Fprintf(b.out, "\t%s =%s %s %s, %s\n", b.formatValue(instr), b.baseType(instr.Typ), opStr,
		b.formatValue(instr.Args[0]), b.formatValue(instr.Args[1]))
}

func (b *qbeBackend) genUnary(instr *ir.Instruction) {
	res, x := b.formatValue(instr), b.formatValue(instr.Args[0])
	k := b.baseType(instr.Typ)
	switch instr.Operation {
	case "ineg", "fneg":
		fmt.Fprintf(b.out, "\t%s =%s neg %s\n", res, k, x)
	case "not":
		fmt.Fprintf(b.out, "\t%s =%s xor %s, 1\n", res, k, x)
	case "bitnot":
		fmt.Fprintf(b.out, "\t%s =%s xor %s, -1\n", res, k, x)
	default:
		b.unsupported("operation %s is not supported", instr.Operation)
	}
}

func (b *qbeBackend) genCall(instr *ir.Instruction) {
	args := make([]string, len(instr.Args))
	for i, a := range instr.Args {
		args[i] = b.baseType(a.Type()) + " " + b.formatValue(a)
	}
	callee := "$" + qbeName(instr.Callee.Name)
	if types.IsVoid(instr.Typ) || !instr.HasResult() {
		fmt.Fprintf(b.out, "\tcall %s(%s)\n", callee, strings.Join(args, ", "))
		return
	}
	if types.IsStructure(instr.Typ) {
		b.unsupported("structure return values are not supported")
	}
	fmt.Fprintf(b.out, "\t%s =%s call %s(%s)\n", b.formatValue(instr), b.baseType(instr.Typ), callee, strings.Join(args, ", "))
}

func (b *qbeBackend) formatValue(v ir.Value) string {
	switch val := v.(type) {
	case *ir.Constant:
		switch c := val.Value.(type) {
		case bool:
			if c {
				return "1"
			}
			return "0"
		case int64:
			return strconv.FormatInt(c, 10)
		case float64:
			return b.baseType(val.Typ) + "_" + strconv.FormatFloat(c, 'g', -1, 64)
		}
	case *ir.Instruction:
		return "%" + qbeName(val.Name)
	case *ir.Argument:
		return "%a." + qbeName(val.Name)
	case *ir.GlobalVariable:
		return "$" + qbeName(val.Name)
	}
	b.unsupported("unexpected operand %T", v)
	return ""
}

// qbeName keeps the characters QBE accepts in identifiers.
func qbeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			return r
		}
		return '_'
	}, name)
}

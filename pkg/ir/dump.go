package ir

import (
	"fmt"
	"io"
	"strings"
)

// Dump renders the module as text, globals first, then functions, in
// insertion order.
func Dump(m *Module) string {
	var sb strings.Builder
	for _, gv := range m.GlobalVariables() {
		storage := ""
		if gv.Storage != "" {
			storage = gv.Storage + " "
		}
		fmt.Fprintf(&sb, "global %s%s $%q\n", storage, gv.ValueType, gv.Name)
	}
	for _, fn := range m.Functions() {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		DumpFunction(&sb, fn)
	}
	return sb.String()
}

func DumpFunction(w io.Writer, fn *Function) {
	if !fn.Defined {
		fmt.Fprintf(w, "declare $%q %s\n", fn.Name, fn.Typ)
		return
	}
	fmt.Fprintf(w, "define $%q %s {\n", fn.Name, fn.Typ)
	for _, bb := range fn.Blocks {
		fmt.Fprintf(w, "@%s:\n", bb.Name)
		for _, inst := range bb.Instructions {
			fmt.Fprintf(w, "    %s\n", FormatInstruction(fn, inst))
		}
	}
	io.WriteString(w, "}\n")
}

// FormatValue renders an operand reference.
func FormatValue(v Value) string {
	switch v := v.(type) {
	case *Instruction:
		return "$" + v.Name
	case *Argument:
		return "$" + v.Name
	case *Constant:
		return fmt.Sprintf("%s %s", v.Typ, v)
	case *GlobalVariable:
		return fmt.Sprintf("$%q", v.Name)
	case *Function:
		return fmt.Sprintf("$%q", v.Name)
	case nil:
		return "<nil>"
	}
	return fmt.Sprintf("<%T>", v)
}

func formatValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, ", ")
}

func FormatInstruction(fn *Function, inst *Instruction) string {
	label := func(id BlockID) string { return "@" + fn.Block(id).Name }

	var body string
	switch inst.Op {
	case OpAlloca:
		body = fmt.Sprintf("alloca %s", inst.ValueType)
	case OpLoad:
		body = "load " + FormatValue(inst.Args[0])
	case OpStore:
		body = fmt.Sprintf("store %s, %s", FormatValue(inst.Args[0]), FormatValue(inst.Args[1]))
	case OpBinary, OpUnary:
		body = fmt.Sprintf("%s %s", inst.Operation, formatValues(inst.Args))
	case OpCall:
		body = fmt.Sprintf("call $%q(%s)", inst.Callee.Name, formatValues(inst.Args))
	case OpGetElementRef:
		idx := make([]string, len(inst.Indices))
		for i, x := range inst.Indices {
			idx[i] = fmt.Sprint(x)
		}
		body = fmt.Sprintf("getelementref %s, %s", FormatValue(inst.Args[0]), strings.Join(idx, ", "))
	case OpJump:
		body = "jump " + label(inst.Targets[0])
	case OpBranch:
		body = fmt.Sprintf("branch %s then %s else %s", FormatValue(inst.Args[0]), label(inst.Targets[0]), label(inst.Targets[1]))
	case OpReturn:
		body = "return " + FormatValue(inst.Args[0])
	case OpReturnVoid:
		body = "return void"
	default:
		body = inst.Op.String()
	}

	if inst.HasResult() {
		return fmt.Sprintf("%s $%s = %s", inst.Typ, inst.Name, body)
	}
	return body
}

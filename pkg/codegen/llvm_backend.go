package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	lltypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/pkg/errors"
	"github.com/xplshn/aslc/pkg/config"
	aslir "github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/types"
)

// llvmBackend translates the module into LLVM IR. References become
// pointers, vectors become LLVM vectors and matrices arrays of column
// vectors.
type llvmBackend struct {
	mod     *ir.Module
	structs map[*types.Structure]lltypes.Type
	funcs   map[*aslir.Function]*ir.Func
	globals map[*aslir.GlobalVariable]*ir.Global

	currentFn *aslir.Function
	values    map[aslir.Value]value.Value
	blocks    []*ir.Block
}

func NewLLVMBackend() Backend { return &llvmBackend{} }

type llvmUnsupported struct{ err error }

func (b *llvmBackend) unsupported(format string, args ...interface{}) {
	panic(llvmUnsupported{errors.Errorf("llvm backend: "+format, args...)})
}

func (b *llvmBackend) Generate(mod *aslir.Module, cfg *config.Config) (*bytes.Buffer, error) {
	text, err := b.GenerateIR(mod, cfg)
	if err != nil {
		return nil, err
	}
	return bytes.NewBufferString(text), nil
}

func (b *llvmBackend) GenerateIR(mod *aslir.Module, cfg *config.Config) (text string, err error) {
	b.mod = ir.NewModule()
	b.mod.SourceFilename = mod.Name
	if cfg.BackendTarget != "" {
		b.mod.TargetTriple = cfg.BackendTarget
	}
	b.structs = make(map[*types.Structure]lltypes.Type)
	b.funcs = make(map[*aslir.Function]*ir.Func)
	b.globals = make(map[*aslir.GlobalVariable]*ir.Global)
	defer func() {
		if r := recover(); r != nil {
			u, ok := r.(llvmUnsupported)
			if !ok {
				panic(r)
			}
			err = u.err
		}
	}()

	for _, g := range mod.GlobalVariables() {
		t := b.convType(g.ValueType)
		b.globals[g] = b.mod.NewGlobalDef(g.Name, constant.NewZeroInitializer(t))
	}
	fns := mod.Functions()
	for _, fn := range fns {
		params := make([]*ir.Param, len(fn.Args))
		for i, a := range fn.Args {
			params[i] = ir.NewParam(a.Name, b.convType(a.Typ))
		}
		b.funcs[fn] = b.mod.NewFunc(fn.Name, b.convType(fn.Typ.Return), params...)
	}
	for _, fn := range fns {
		if fn.Defined {
			b.genFunc(fn)
		}
	}
	return b.mod.String(), nil
}

func (b *llvmBackend) convType(t types.Type) lltypes.Type {
	switch t := t.(type) {
	case *types.Void:
		return lltypes.Void
	case *types.Boolean:
		return lltypes.I1
	case *types.Integer:
		return lltypes.NewInt(uint64(t.Width * 8))
	case *types.FloatingPoint:
		if t.Width == 8 {
			return lltypes.Double
		}
		return lltypes.Float
	case *types.Vector:
		return lltypes.NewVector(uint64(t.Count), b.convType(t.Base))
	case *types.Matrix:
		column := lltypes.NewVector(uint64(t.Rows), b.convType(t.Base))
		return lltypes.NewArray(uint64(t.Cols), column)
	case *types.Reference:
		return lltypes.NewPointer(b.convType(t.Base))
	case *types.Sampler:
		// Samplers are opaque handles.
		return lltypes.I8Ptr
	case *types.Structure:
		if st, ok := b.structs[t]; ok {
			return st
		}
		fields := make([]lltypes.Type, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = b.convType(f.Type)
		}
		st := b.mod.NewTypeDef(t.Name, lltypes.NewStruct(fields...))
		b.structs[t] = st
		return st
	}
	b.unsupported("type %s has no LLVM equivalent", t)
	return nil
}

func (b *llvmBackend) genFunc(fn *aslir.Function) {
	b.currentFn = fn
	b.values = make(map[aslir.Value]value.Value)
	f := b.funcs[fn]
	for i, a := range fn.Args {
		b.values[a] = f.Params[i]
	}

	b.blocks = make([]*ir.Block, len(fn.Blocks))
	for _, bb := range fn.Blocks {
		b.blocks[bb.ID] = f.NewBlock(fmt.Sprintf("%s.%d", bb.Name, bb.ID))
	}

	// Reverse postorder visits definitions before their uses.
	an := fn.Analysis()
	for _, id := range an.RPO {
		blk := b.blocks[id]
		for _, inst := range fn.Block(id).Instructions {
			b.genInstr(blk, inst)
		}
		if blk.Term == nil {
			blk.NewUnreachable()
		}
	}
	for id, blk := range b.blocks {
		if !an.Reachable(aslir.BlockID(id)) {
			blk.NewUnreachable()
		}
	}
	b.currentFn = nil
}

func (b *llvmBackend) value(v aslir.Value) value.Value {
	switch v := v.(type) {
	case *aslir.Constant:
		t := b.convType(v.Typ)
		switch c := v.Value.(type) {
		case bool:
			return constant.NewBool(c)
		case int64:
			if it, ok := t.(*lltypes.IntType); ok {
				return constant.NewInt(it, c)
			}
		case float64:
			if ft, ok := t.(*lltypes.FloatType); ok {
				return constant.NewFloat(ft, c)
			}
		}
		b.unsupported("constant %s of type %s", v, v.Typ)
	case *aslir.GlobalVariable:
		return b.globals[v]
	}
	val, ok := b.values[v]
	if !ok {
		b.unsupported("value used before its definition in '%s'", b.currentFn.SourceName)
	}
	return val
}

func (b *llvmBackend) genInstr(blk *ir.Block, inst *aslir.Instruction) {
	var result value.Value
	switch inst.Op {
	case aslir.OpAlloca:
		a := blk.NewAlloca(b.convType(inst.ValueType))
		a.SetName(inst.Name + ".addr")
		result = a
	case aslir.OpLoad:
		result = blk.NewLoad(b.convType(inst.Typ), b.value(inst.Args[0]))
	case aslir.OpStore:
		blk.NewStore(b.value(inst.Args[0]), b.value(inst.Args[1]))
	case aslir.OpGetElementRef:
		indices := []value.Value{constant.NewInt(lltypes.I32, 0)}
		for _, idx := range inst.Indices {
			indices = append(indices, constant.NewInt(lltypes.I32, int64(idx)))
		}
		src := inst.Args[0]
		result = blk.NewGetElementPtr(b.convType(types.Deref(src.Type())), b.value(src), indices...)
	case aslir.OpBinary:
		result = b.genBinary(blk, inst)
	case aslir.OpUnary:
		result = b.genUnary(blk, inst)
	case aslir.OpCall:
		args := make([]value.Value, len(inst.Args))
		for i, a := range inst.Args {
			args[i] = b.value(a)
		}
		result = blk.NewCall(b.funcs[inst.Callee], args...)
	case aslir.OpJump:
		blk.NewBr(b.blocks[inst.Targets[0]])
	case aslir.OpBranch:
		blk.NewCondBr(b.value(inst.Args[0]), b.blocks[inst.Targets[0]], b.blocks[inst.Targets[1]])
	case aslir.OpReturn:
		blk.NewRet(b.value(inst.Args[0]))
	case aslir.OpReturnVoid:
		blk.NewRet(nil)
	case aslir.OpUnreachable, aslir.OpDiscard:
		blk.NewUnreachable()
	}
	if result != nil {
		b.values[inst] = result
	}
}

var (
	signedPreds = map[string]enum.IPred{
		"lt": enum.IPredSLT, "le": enum.IPredSLE, "gt": enum.IPredSGT, "ge": enum.IPredSGE,
		"eq": enum.IPredEQ, "ne": enum.IPredNE,
	}
	unsignedPreds = map[string]enum.IPred{
		"lt": enum.IPredULT, "le": enum.IPredULE, "gt": enum.IPredUGT, "ge": enum.IPredUGE,
		"eq": enum.IPredEQ, "ne": enum.IPredNE,
	}
	floatPreds = map[string]enum.FPred{
		"lt": enum.FPredOLT, "le": enum.FPredOLE, "gt": enum.FPredOGT, "ge": enum.FPredOGE,
		"eq": enum.FPredOEQ, "ne": enum.FPredONE,
	}
)

func (b *llvmBackend) genBinary(blk *ir.Block, inst *aslir.Instruction) value.Value {
	x, y := b.value(inst.Args[0]), b.value(inst.Args[1])
	operand := types.Scalar(inst.Args[0].Type())
	float := types.IsFloatingPoint(operand)
	unsigned := types.IsUnsigned(operand)

	op := inst.Operation
	switch op {
	case "land":
		return blk.NewAnd(x, y)
	case "lor":
		return blk.NewOr(x, y)
	}
	switch suffix := strings.TrimLeft(op, "iuf"); suffix {
	case "add":
		if float {
			return blk.NewFAdd(x, y)
		}
		return blk.NewAdd(x, y)
	case "sub":
		if float {
			return blk.NewFSub(x, y)
		}
		return blk.NewSub(x, y)
	case "mul":
		if float {
			return blk.NewFMul(x, y)
		}
		return blk.NewMul(x, y)
	case "div":
		switch {
		case float:
			return blk.NewFDiv(x, y)
		case unsigned:
			return blk.NewUDiv(x, y)
		}
		return blk.NewSDiv(x, y)
	case "rem":
		switch {
		case float:
			return blk.NewFRem(x, y)
		case unsigned:
			return blk.NewURem(x, y)
		}
		return blk.NewSRem(x, y)
	case "bitand":
		return blk.NewAnd(x, y)
	case "bitor":
		return blk.NewOr(x, y)
	case "bitxor":
		return blk.NewXor(x, y)
	case "shiftleft":
		return blk.NewShl(x, y)
	case "shiftright":
		if unsigned {
			return blk.NewLShr(x, y)
		}
		return blk.NewAShr(x, y)
	case "lt", "le", "gt", "ge", "eq", "ne":
		switch {
		case float:
			return blk.NewFCmp(floatPreds[suffix], x, y)
		case unsigned:
			return blk.NewICmp(unsignedPreds[suffix], x, y)
		}
		return blk.NewICmp(signedPreds[suffix], x, y)
	}
	b.unsupported("operation %s", op)
	return nil
}

func (b *llvmBackend) genUnary(blk *ir.Block, inst *aslir.Instruction) value.Value {
	x := b.value(inst.Args[0])
	switch inst.Operation {
	case "fneg":
		return blk.NewFNeg(x)
	case "ineg":
		return blk.NewSub(constant.NewZeroInitializer(x.Type()), x)
	case "not":
		return blk.NewXor(x, constant.NewBool(true))
	case "bitnot":
		if it, ok := x.Type().(*lltypes.IntType); ok {
			return blk.NewXor(x, constant.NewInt(it, -1))
		}
	}
	b.unsupported("operation %s on %s", inst.Operation, inst.Typ)
	return nil
}

package ir

import (
	"fmt"

	"github.com/xplshn/aslc/pkg/types"
)

// Builder appends instructions to a function at an insertion cursor.
// Allocas go to AllocaBlock when it is set, otherwise to the cursor.
type Builder struct {
	Types       *types.Registry
	AllocaBlock BlockID

	fn    *Function
	block BlockID
}

func NewBuilder(reg *types.Registry, fn *Function) *Builder {
	return &Builder{Types: reg, AllocaBlock: NoBlock, fn: fn, block: NoBlock}
}

func (b *Builder) Function() *Function       { return b.fn }
func (b *Builder) Block() BlockID            { return b.block }
func (b *Builder) SetInsertPoint(id BlockID) { b.block = id }

// Terminated reports whether the current block already ends in a terminator.
func (b *Builder) Terminated() bool {
	return b.block != NoBlock && b.fn.Block(b.block).Terminator() != nil
}

func (b *Builder) insertInto(id BlockID, inst *Instruction, hint string) *Instruction {
	if id == NoBlock {
		panic("ir: no insertion block")
	}
	bb := b.fn.Block(id)
	if bb.Terminator() != nil {
		panic(fmt.Sprintf("ir: inserting %s after terminator of @%s", inst.Op, bb.Name))
	}
	inst.Block = id
	if inst.Typ == nil {
		inst.Typ = b.Types.Void
	}
	if !types.IsVoid(inst.Typ) {
		inst.Name = b.fn.GenerateSymbol(hint)
	}
	bb.Instructions = append(bb.Instructions, inst)
	if inst.Op.IsTerminator() {
		b.fn.Invalidate()
	}
	return inst
}

func (b *Builder) insert(inst *Instruction, hint string) *Instruction {
	return b.insertInto(b.block, inst, hint)
}

// Alloca reserves a writable slot holding a value of t.
func (b *Builder) Alloca(t types.Type, hint string) *Instruction {
	at := b.AllocaBlock
	if at == NoBlock {
		at = b.block
	}
	return b.insertInto(at, &Instruction{Op: OpAlloca, Typ: b.Types.Reference(t, false), ValueType: t}, hint)
}

func (b *Builder) Load(ref Value) *Instruction {
	return b.insert(&Instruction{Op: OpLoad, Typ: types.Deref(ref.Type()), Args: []Value{ref}}, "")
}

func (b *Builder) Store(value, ref Value) *Instruction {
	return b.insert(&Instruction{Op: OpStore, Args: []Value{value, ref}}, "")
}

func (b *Builder) Binary(op string, t types.Type, left, right Value) *Instruction {
	return b.insert(&Instruction{Op: OpBinary, Typ: t, Operation: op, Args: []Value{left, right}}, "")
}

func (b *Builder) Unary(op string, t types.Type, operand Value) *Instruction {
	return b.insert(&Instruction{Op: OpUnary, Typ: t, Operation: op, Args: []Value{operand}}, "")
}

func (b *Builder) Call(fn *Function, args []Value) *Instruction {
	return b.insert(&Instruction{Op: OpCall, Typ: fn.Typ.Return, Callee: fn, Args: args}, "")
}

// GetElementRef returns a reference to a struct field, vector component or
// matrix column of the value ref points at, keeping ref's read-only flag.
func (b *Builder) GetElementRef(ref Value, indices ...int) *Instruction {
	r, ok := ref.Type().(*types.Reference)
	if !ok {
		panic(fmt.Sprintf("ir: getelementref on non-reference %s", ref.Type()))
	}
	elem := r.Base
	for _, idx := range indices {
		elem = ElementType(b.Types, elem, idx)
	}
	return b.insert(&Instruction{
		Op:      OpGetElementRef,
		Typ:     b.Types.Reference(elem, r.ReadOnly),
		Args:    []Value{ref},
		Indices: indices,
	}, "")
}

// ElementType returns the type selected by index idx within t.
func ElementType(reg *types.Registry, t types.Type, idx int) types.Type {
	switch t := t.(type) {
	case *types.Structure:
		return t.Fields[idx].Type
	case *types.Vector:
		return t.Base
	case *types.Matrix:
		return reg.Vector(t.Base, t.Rows)
	}
	panic(fmt.Sprintf("ir: %s has no elements", t))
}

func (b *Builder) Jump(target BlockID) *Instruction {
	return b.insert(&Instruction{Op: OpJump, Targets: []BlockID{target}}, "")
}

func (b *Builder) Branch(cond Value, then, els BlockID) *Instruction {
	return b.insert(&Instruction{Op: OpBranch, Args: []Value{cond}, Targets: []BlockID{then, els}}, "")
}

func (b *Builder) Return(v Value) *Instruction {
	return b.insert(&Instruction{Op: OpReturn, Args: []Value{v}}, "")
}

func (b *Builder) ReturnVoid() *Instruction {
	return b.insert(&Instruction{Op: OpReturnVoid}, "")
}

func (b *Builder) Unreachable() *Instruction {
	return b.insert(&Instruction{Op: OpUnreachable}, "")
}

func (b *Builder) Discard() *Instruction {
	return b.insert(&Instruction{Op: OpDiscard}, "")
}

package hlb

import (
	"github.com/pkg/errors"
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/types"
)

// structureError aborts building a shader. The IR reaching this package
// has passed semantic analysis, so every structureError is a compiler bug.
type structureError struct{ err error }

func fail(format string, args ...interface{}) {
	panic(structureError{errors.Errorf(format, args...)})
}

// rootSet holds the variables, parameters and globals an expression reads.
type rootSet map[interface{}]bool

func (s rootSet) union(other rootSet) rootSet {
	if len(other) == 0 {
		return s
	}
	out := make(rootSet, len(s)+len(other))
	for r := range s {
		out[r] = true
	}
	for r := range other {
		out[r] = true
	}
	return out
}

func (s rootSet) intersects(roots []interface{}) bool {
	for _, r := range roots {
		if s[r] {
			return true
		}
	}
	return false
}

// FunctionBuilder turns the CFG of one IR function into structured
// statements. Blocks are emitted by a recursive walk from the entry; every
// block is emitted exactly once, as part of the innermost construct (loop
// or if) that owns it.
//
// Loads, arithmetic and element references are not emitted when replayed.
// They become expression trees that are inlined into the instruction
// consuming them. A pending expression is written to a temporary first
// when a store could change what it reads, before calls, and at the end of
// its block.
type FunctionBuilder struct {
	shader *ShaderBuilder
	src    *ir.Function
	fn     *Function
	an     *ir.Analysis
	args   []Expr

	values   map[ir.Value]Expr
	roots    map[*ir.Instruction]rootSet
	uses     map[*ir.Instruction]int
	consumed map[*ir.Instruction]int
	pending  []*ir.Instruction

	generated map[ir.BlockID]bool
	merges    map[ir.BlockID]bool
	guards    map[ir.BlockID]*Variable
	regions   map[ir.BlockID]*loopRegion
	loops     []*loopRegion

	cur            *Block
	breakTarget    ir.BlockID
	continueTarget ir.BlockID
}

func newFunctionBuilder(sb *ShaderBuilder, src *ir.Function, fn *Function, args []Expr) *FunctionBuilder {
	return &FunctionBuilder{
		shader:         sb,
		src:            src,
		fn:             fn,
		args:           args,
		values:         make(map[ir.Value]Expr),
		roots:          make(map[*ir.Instruction]rootSet),
		uses:           make(map[*ir.Instruction]int),
		consumed:       make(map[*ir.Instruction]int),
		generated:      make(map[ir.BlockID]bool),
		merges:         make(map[ir.BlockID]bool),
		guards:         make(map[ir.BlockID]*Variable),
		regions:        make(map[ir.BlockID]*loopRegion),
		breakTarget:    ir.NoBlock,
		continueTarget: ir.NoBlock,
	}
}

func (b *FunctionBuilder) build() {
	if !b.src.Defined || len(b.src.Blocks) == 0 {
		fail("function '%s' has no body", b.src.SourceName)
	}
	b.an = b.src.Analysis()
	if from, to, ok := b.an.IrreducibleEdge(); ok {
		fail("%s: irreducible control flow, @%s jumps back to @%s without passing it first",
			b.src.Name, b.blockName(from), b.blockName(to))
	}
	for _, bb := range b.src.Blocks {
		if !b.an.Reachable(bb.ID) {
			continue
		}
		for _, inst := range bb.Instructions {
			for _, a := range inst.Args {
				if def, ok := a.(*ir.Instruction); ok {
					b.uses[def]++
				}
			}
		}
	}
	b.fn.Body = &Block{}
	b.cur = b.fn.Body
	b.genBlock(0)
}

func (b *FunctionBuilder) blockName(id ir.BlockID) string { return b.src.Block(id).Name }

func (b *FunctionBuilder) genBlock(id ir.BlockID) {
	if b.generated[id] {
		fail("%s: block @%s emitted twice", b.src.Name, b.blockName(id))
	}
	if l := b.an.LoopOf[id]; l != nil && l.Header == id {
		b.genLoop(l)
		return
	}
	b.generated[id] = true
	b.replayBlock(id)
}

func (b *FunctionBuilder) replayBlock(id ir.BlockID) {
	for _, inst := range b.src.Block(id).Instructions {
		b.replay(inst)
	}
}

func (b *FunctionBuilder) genLoop(l *ir.Loop) {
	region := b.region(l)
	body := &Block{}
	b.cur.add(&Loop{Body: body})

	cur, brk, cont := b.cur, b.breakTarget, b.continueTarget
	b.cur, b.breakTarget, b.continueTarget = body, region.merge, l.Header
	b.loops = append(b.loops, region)

	b.generated[l.Header] = true
	b.replayBlock(l.Header)

	b.loops = b.loops[:len(b.loops)-1]
	b.cur, b.breakTarget, b.continueTarget = cur, brk, cont
	if region.merge != ir.NoBlock {
		b.jumpTo(region.merge)
	}
}

// jumpTo continues structured emission at block t.
func (b *FunctionBuilder) jumpTo(t ir.BlockID) {
	switch {
	case t == b.breakTarget:
		b.cur.add(&Break{})
	case t == b.continueTarget:
		b.cur.add(&Continue{})
	case b.guards[t] != nil:
		b.cur.add(&Assign{Target: &VarRef{Var: b.guards[t]}, Value: b.boolConst(true)})
	case b.merges[t]:
		// The enclosing if continues at t once its arms are done.
	case b.leavesLoops(t):
		fail("%s: jump to @%s leaves more than one loop", b.src.Name, b.blockName(t))
	case b.generated[t]:
		fail("%s: block @%s is reached from two constructs", b.src.Name, b.blockName(t))
	default:
		b.genBlock(t)
	}
}

func (b *FunctionBuilder) leavesLoops(t ir.BlockID) bool {
	for i := 0; i < len(b.loops)-1; i++ {
		if r := b.loops[i]; t == r.header || t == r.merge {
			return true
		}
	}
	return false
}

func (b *FunctionBuilder) branch(inst *ir.Instruction) {
	cond := b.value(b.operand(inst.Args[0]))
	b.flush()

	then, els := inst.Targets[0], inst.Targets[1]
	merge := b.selectionMerge(inst.Block, then, els)
	added := merge != ir.NoBlock && !b.merges[merge]
	if added {
		b.merges[merge] = true
	}

	shared := b.sharedBlocks(then, els, merge)
	for _, id := range shared {
		g := b.shader.local(b.fn, b.shader.types.Bool, "enter_"+b.blockName(id))
		b.guards[id] = g
		b.cur.add(&Assign{Target: &VarRef{Var: g}, Value: b.boolConst(false)})
	}

	stmt := &If{Cond: cond}
	b.cur.add(stmt)
	stmt.Then = b.arm(then, merge)
	stmt.Else = b.arm(els, merge)

	// Blocks both arms lead to run once, after the if, under the flag the
	// arms set instead of jumping there.
	for _, id := range shared {
		g := b.guards[id]
		delete(b.guards, id)
		body := &Block{}
		b.cur.add(&If{Cond: &VarRef{Var: g}, Then: body})
		saved := b.cur
		b.cur = body
		b.genBlock(id)
		b.cur = saved
	}

	if added {
		delete(b.merges, merge)
		b.jumpTo(merge)
	}
}

// sharedBlocks lists, in reverse postorder, the blocks both arms of a
// branch reach before merge that no other such block dominates. Each of
// them would otherwise be emitted inside both arms.
func (b *FunctionBuilder) sharedBlocks(then, els, merge ir.BlockID) []ir.BlockID {
	if merge == ir.NoBlock {
		return nil
	}
	fromThen, fromElse := b.reach(then), b.reach(els)
	inside := func(id ir.BlockID) bool {
		return fromThen[id] && fromElse[id] && id != merge &&
			id != b.breakTarget && id != b.continueTarget &&
			!b.merges[id] && b.guards[id] == nil && !b.generated[id] && b.inRegion(id)
	}
	var shared []ir.BlockID
	for _, id := range b.an.RPO {
		if inside(id) && !inside(b.an.IDom[id]) {
			shared = append(shared, id)
		}
	}
	return shared
}

func (b *FunctionBuilder) boolConst(v bool) Expr {
	return &Constant{Typ: b.shader.types.Bool, Value: v}
}

func (b *FunctionBuilder) arm(t, merge ir.BlockID) *Block {
	if t == merge {
		return nil
	}
	blk := &Block{}
	saved := b.cur
	b.cur = blk
	b.jumpTo(t)
	b.cur = saved
	return blk
}

func (b *FunctionBuilder) replay(inst *ir.Instruction) {
	switch inst.Op {
	case ir.OpAlloca:
		b.values[inst] = &VarRef{Var: b.shader.local(b.fn, inst.ValueType, inst.Name)}
	case ir.OpLoad:
		ref := b.operand(inst.Args[0])
		roots := b.rootsOf(inst.Args[0]).with(exprRoots(ref)...)
		b.define(inst, b.value(ref), roots)
	case ir.OpGetElementRef:
		// Element references are addresses: they never go stale and are
		// never copied to temporaries.
		e := b.operand(inst.Args[0])
		for _, idx := range inst.Indices {
			e = b.element(e, idx)
		}
		b.values[inst] = e
	case ir.OpBinary:
		l, r := b.operand(inst.Args[0]), b.operand(inst.Args[1])
		roots := b.rootsOf(inst.Args[0]).union(b.rootsOf(inst.Args[1]))
		b.define(inst, &Binary{Op: inst.Operation, Left: b.value(l), Right: b.value(r), Typ: inst.Typ}, roots)
	case ir.OpUnary:
		v := b.operand(inst.Args[0])
		b.define(inst, &Unary{Op: inst.Operation, Operand: b.value(v), Typ: inst.Typ}, b.rootsOf(inst.Args[0]))
	case ir.OpStore:
		val := b.operand(inst.Args[0])
		b.store(b.operand(inst.Args[1]), val)
	case ir.OpCall:
		b.call(inst)
	case ir.OpJump:
		b.flush()
		b.jumpTo(inst.Targets[0])
	case ir.OpBranch:
		b.branch(inst)
	case ir.OpReturn:
		b.cur.add(&Return{Value: b.value(b.operand(inst.Args[0]))})
	case ir.OpReturnVoid:
		b.cur.add(&Return{})
	case ir.OpDiscard:
		b.cur.add(&Discard{})
	case ir.OpUnreachable:
	default:
		fail("%s: unexpected %s instruction", b.src.Name, inst.Op)
	}
}

// operand returns the expression for v and counts the use.
func (b *FunctionBuilder) operand(v ir.Value) Expr {
	switch v := v.(type) {
	case *ir.Constant:
		return &Constant{Typ: v.Typ, Value: v.Value}
	case *ir.Argument:
		return b.args[v.Index]
	case *ir.GlobalVariable:
		return &GlobalRef{Global: b.shader.global(v)}
	case *ir.Instruction:
		e, ok := b.values[v]
		if !ok {
			fail("%s: $%s used before it is defined", b.src.Name, v.Name)
		}
		b.consumed[v]++
		if b.consumed[v] >= b.uses[v] {
			b.removePending(v)
		}
		return e
	}
	fail("%s: unexpected operand %T", b.src.Name, v)
	return nil
}

func (b *FunctionBuilder) rootsOf(v ir.Value) rootSet {
	if inst, ok := v.(*ir.Instruction); ok {
		return b.roots[inst]
	}
	return nil
}

// exprRoots returns the storage a reference expression designates.
func exprRoots(e Expr) []interface{} {
	switch e := e.(type) {
	case *VarRef:
		return []interface{}{e.Var}
	case *ParamRef:
		return []interface{}{e.Param}
	case *GlobalRef:
		return []interface{}{e.Global}
	case *Member:
		return exprRoots(e.Base)
	case *Index:
		return exprRoots(e.Base)
	case *FlattenedStruct:
		var roots []interface{}
		for _, f := range e.Fields {
			roots = append(roots, exprRoots(f)...)
		}
		return roots
	}
	return nil
}

func (s rootSet) with(roots ...interface{}) rootSet {
	add := make(rootSet, len(roots))
	for _, r := range roots {
		add[r] = true
	}
	return s.union(add)
}

func trivial(e Expr) bool {
	switch e := e.(type) {
	case *Constant, *VarRef, *ParamRef, *GlobalRef, *FlattenedStruct:
		return true
	case *Member:
		return trivial(e.Base)
	case *Index:
		return trivial(e.Base)
	case *Construct:
		for _, a := range e.Args {
			if !trivial(a) {
				return false
			}
		}
		return true
	}
	return false
}

// define records the lazy expression of inst. Unused values are dropped;
// non-trivial values with several uses are computed once into a temporary.
func (b *FunctionBuilder) define(inst *ir.Instruction, e Expr, roots rootSet) {
	b.values[inst] = e
	b.roots[inst] = roots
	n := b.uses[inst]
	if n == 0 {
		return
	}
	b.pending = append(b.pending, inst)
	if n > 1 && !trivial(e) {
		b.materialize(inst)
	}
}

func (b *FunctionBuilder) removePending(inst *ir.Instruction) {
	for i, p := range b.pending {
		if p == inst {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}

func (b *FunctionBuilder) materialize(inst *ir.Instruction) {
	v := b.shader.temp(b.fn, inst.Typ)
	b.cur.add(&Assign{Target: &VarRef{Var: v}, Value: b.values[inst]})
	b.values[inst] = &VarRef{Var: v}
	b.roots[inst] = nil
	b.removePending(inst)
}

// flush materializes every pending value that still has uses.
func (b *FunctionBuilder) flush() {
	for _, p := range append([]*ir.Instruction(nil), b.pending...) {
		if b.consumed[p] < b.uses[p] {
			b.materialize(p)
		}
	}
	b.pending = b.pending[:0]
}

// clobber materializes the pending values reading any of roots.
func (b *FunctionBuilder) clobber(roots []interface{}) {
	for _, p := range append([]*ir.Instruction(nil), b.pending...) {
		if b.roots[p].intersects(roots) {
			b.materialize(p)
		}
	}
}

// value turns a reference expression into the value it holds.
func (b *FunctionBuilder) value(e Expr) Expr {
	if fs, ok := e.(*FlattenedStruct); ok {
		args := make([]Expr, len(fs.Fields))
		for i, f := range fs.Fields {
			args[i] = b.value(f)
		}
		b.shader.useType(fs.Typ)
		return &Construct{Typ: fs.Typ, Args: args}
	}
	return e
}

var components = "xyzw"

func (b *FunctionBuilder) element(e Expr, idx int) Expr {
	switch e := e.(type) {
	case *FlattenedStruct:
		return e.Fields[idx]
	case *Construct:
		return e.Args[idx]
	}
	switch t := e.Type().(type) {
	case *types.Structure:
		f := t.Fields[idx]
		return &Member{Base: e, Field: f.Name, Index: idx, Typ: f.Type}
	case *types.Vector:
		return &Member{Base: e, Field: components[idx : idx+1], Index: idx, Typ: t.Base}
	case *types.Matrix:
		return &Index{Base: e, Index: idx, Typ: b.shader.types.Vector(t.Base, t.Rows)}
	}
	fail("%s: %s has no element %d", b.src.Name, e.Type(), idx)
	return nil
}

func (b *FunctionBuilder) store(target, val Expr) {
	if fs, ok := target.(*FlattenedStruct); ok {
		if !trivial(val) {
			v := b.shader.temp(b.fn, val.Type())
			b.cur.add(&Assign{Target: &VarRef{Var: v}, Value: val})
			val = &VarRef{Var: v}
		}
		for i, f := range fs.Fields {
			b.store(f, b.element(val, i))
		}
		return
	}
	b.clobber(exprRoots(target))
	b.cur.add(&Assign{Target: target, Value: b.value(val)})
}

func (b *FunctionBuilder) call(inst *ir.Instruction) {
	callee := b.shader.function(inst.Callee)
	args := make([]Expr, len(inst.Args))
	for i, a := range inst.Args {
		e := b.operand(a)
		if _, flat := e.(*FlattenedStruct); flat {
			if mode := inst.Callee.Args[i].Mode; mode == types.Out || mode == types.InOut {
				fail("%s: flattened entry point argument passed as %s", b.src.Name, mode)
			}
		}
		args[i] = b.value(e)
	}
	b.flush()

	c := &Call{Func: callee, Args: args}
	if types.IsVoid(inst.Typ) || b.uses[inst] == 0 {
		b.cur.add(&CallStmt{Call: c})
		return
	}
	v := b.shader.temp(b.fn, inst.Typ)
	b.cur.add(&Assign{Target: &VarRef{Var: v}, Value: c})
	b.values[inst] = &VarRef{Var: v}
}

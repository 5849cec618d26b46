package ir

import (
	"github.com/pkg/errors"
	"github.com/xplshn/aslc/pkg/types"
)

// Pass transforms or checks a module.
type Pass interface {
	Name() string
	Run(m *Module) error
}

type PassManager struct {
	passes []Pass
	// Trace, when set, is called before each pass runs.
	Trace func(name string)
}

func NewPassManager(passes ...Pass) *PassManager {
	return &PassManager{passes: passes}
}

func (pm *PassManager) Add(p Pass) { pm.passes = append(pm.passes, p) }

// Run executes every pass in order and stops at the first failure.
func (pm *PassManager) Run(m *Module) error {
	for _, p := range pm.passes {
		if pm.Trace != nil {
			pm.Trace(p.Name())
		}
		if err := p.Run(m); err != nil {
			return errors.Wrapf(err, "pass '%s'", p.Name())
		}
	}
	return nil
}

// AnalysisPass computes the CFG analyses of every defined function up front.
type AnalysisPass struct{}

func (AnalysisPass) Name() string { return "analyze" }

func (AnalysisPass) Run(m *Module) error {
	for _, fn := range m.Functions() {
		if fn.Defined {
			fn.Analysis()
		}
	}
	return nil
}

// Verifier checks structural invariants of the IR.
type Verifier struct{}

func (Verifier) Name() string { return "verify" }

func (Verifier) Run(m *Module) error {
	for _, fn := range m.Functions() {
		if err := VerifyFunction(fn); err != nil {
			return err
		}
	}
	return nil
}

// VerifyFunction checks that every block ends in exactly one terminator,
// that branch targets exist and that store, branch and return operands
// are well typed.
func VerifyFunction(fn *Function) error {
	if !fn.Defined {
		return nil
	}
	if len(fn.Blocks) == 0 {
		return errors.Errorf("function '%s' is defined but has no blocks", fn.Name)
	}
	for _, bb := range fn.Blocks {
		if bb.Terminator() == nil {
			return errors.Errorf("%s: block @%s does not end in a terminator", fn.Name, bb.Name)
		}
		for i, inst := range bb.Instructions {
			if inst.Block != bb.ID {
				return errors.Errorf("%s: instruction %d of @%s records block %d", fn.Name, i, bb.Name, inst.Block)
			}
			if inst.Op.IsTerminator() && i != len(bb.Instructions)-1 {
				return errors.Errorf("%s: %s in the middle of block @%s", fn.Name, inst.Op, bb.Name)
			}
			if err := verifyInstruction(fn, inst); err != nil {
				return errors.Wrapf(err, "%s: @%s: %s", fn.Name, bb.Name, FormatInstruction(fn, inst))
			}
		}
	}
	return nil
}

func verifyInstruction(fn *Function, inst *Instruction) error {
	for _, t := range inst.Targets {
		if t < 0 || int(t) >= len(fn.Blocks) {
			return errors.Errorf("branch target %d out of range", t)
		}
	}
	switch inst.Op {
	case OpStore:
		ref, ok := inst.Args[1].Type().(*types.Reference)
		if !ok {
			return errors.New("store destination is not a reference")
		}
		if ref.ReadOnly {
			return errors.New("store to a read-only reference")
		}
		if ref.Base != inst.Args[0].Type() {
			return errors.Errorf("storing %s into %s", inst.Args[0].Type(), ref)
		}
	case OpLoad, OpGetElementRef:
		if !types.IsReference(inst.Args[0].Type()) {
			return errors.Errorf("%s operand is not a reference", inst.Op)
		}
	case OpBranch:
		if len(inst.Targets) != 2 {
			return errors.New("branch needs two targets")
		}
		if !types.IsBoolean(inst.Args[0].Type()) {
			return errors.Errorf("branch condition has type %s", inst.Args[0].Type())
		}
	case OpJump:
		if len(inst.Targets) != 1 {
			return errors.New("jump needs one target")
		}
	case OpReturn:
		if inst.Args[0].Type() != fn.Typ.Return {
			return errors.Errorf("returning %s from a function returning %s", inst.Args[0].Type(), fn.Typ.Return)
		}
	case OpReturnVoid:
		if !types.IsVoid(fn.Typ.Return) {
			return errors.Errorf("return void from a function returning %s", fn.Typ.Return)
		}
	case OpCall:
		if len(inst.Args) != len(inst.Callee.Typ.Args) {
			return errors.Errorf("call passes %d arguments, callee takes %d", len(inst.Args), len(inst.Callee.Typ.Args))
		}
	}
	return nil
}

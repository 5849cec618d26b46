// Package ir holds the typed, CFG-based intermediate representation the
// semantic analyzer lowers function bodies into.
package ir

import (
	"fmt"

	"github.com/xplshn/aslc/pkg/types"
)

type Op int

const (
	OpAlloca Op = iota
	OpLoad
	OpStore
	OpBinary
	OpUnary
	OpCall
	OpGetElementRef
	OpJump
	OpBranch
	OpReturn
	OpReturnVoid
	OpUnreachable
	OpDiscard
)

var opNames = [...]string{
	OpAlloca:        "alloca",
	OpLoad:          "load",
	OpStore:         "store",
	OpBinary:        "binop",
	OpUnary:         "unop",
	OpCall:          "call",
	OpGetElementRef: "getelementref",
	OpJump:          "jump",
	OpBranch:        "branch",
	OpReturn:        "return",
	OpReturnVoid:    "return",
	OpUnreachable:   "unreachable",
	OpDiscard:       "discard",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool { return op >= OpJump }

// IsExit reports whether op leaves the function.
func (op Op) IsExit() bool {
	return op == OpReturn || op == OpReturnVoid || op == OpUnreachable || op == OpDiscard
}

// BlockID is the index of a block in its function's block list.
type BlockID int

const NoBlock BlockID = -1

type Value interface {
	isValue()
	Type() types.Type
}

// Instruction is a single IR operation. Which fields are meaningful depends on Op:
//
//	Alloca         ValueType
//	Load           Args[0] = reference
//	Store          Args[0] = value, Args[1] = reference
//	Binary, Unary  Operation, Args
//	Call           Callee, Args
//	GetElementRef  Args[0] = reference, Indices
//	Jump           Targets[0]
//	Branch         Args[0] = condition, Targets = [then, else]
//	Return         Args[0]
type Instruction struct {
	Op        Op
	Typ       types.Type
	Name      string // empty for instructions without a result
	Block     BlockID
	Operation string
	ValueType types.Type
	Args      []Value
	Indices   []int
	Callee    *Function
	Targets   []BlockID
}

func (*Instruction) isValue()           {}
func (i *Instruction) Type() types.Type { return i.Typ }

func (i *Instruction) HasResult() bool { return i.Name != "" }

// Successors returns the blocks a terminator transfers control to.
func (i *Instruction) Successors() []BlockID {
	switch i.Op {
	case OpJump, OpBranch:
		return i.Targets
	}
	return nil
}

type Argument struct {
	Name  string
	Typ   types.Type
	Mode  types.PassingMode
	Index int
}

func (*Argument) isValue()           {}
func (a *Argument) Type() types.Type { return a.Typ }

// Constant is a literal value. Constants are interned per Module, so equal
// (type, value) pairs yield the same *Constant.
type Constant struct {
	Typ   types.Type
	Value interface{} // int64, float64 or bool
}

func (*Constant) isValue()           {}
func (c *Constant) Type() types.Type { return c.Typ }

func (c *Constant) String() string {
	switch v := c.Value.(type) {
	case float64:
		s := fmt.Sprintf("%g", v)
		for _, r := range s {
			if r == '.' || r == 'e' || r == 'n' || r == 'I' {
				return s
			}
		}
		return s + ".0"
	}
	return fmt.Sprint(c.Value)
}

// GlobalVariable is module-level storage. Its value is a reference to ValueType.
type GlobalVariable struct {
	Name      string
	Typ       *types.Reference
	ValueType types.Type
	Storage   string // "", "uniform", "in" or "out"
}

func (*GlobalVariable) isValue()              {}
func (g *GlobalVariable) Type() types.Type    { return g.Typ }
func (g *GlobalVariable) LinkageName() string { return g.Name }

// GlobalValue is anything a Module maps a linkage name to.
type GlobalValue interface {
	Value
	LinkageName() string
}

type BasicBlock struct {
	ID           BlockID
	Name         string
	Instructions []*Instruction
}

// Terminator returns the final instruction if it is a terminator, else nil.
func (b *BasicBlock) Terminator() *Instruction {
	if n := len(b.Instructions); n > 0 && b.Instructions[n-1].Op.IsTerminator() {
		return b.Instructions[n-1]
	}
	return nil
}

func (b *BasicBlock) Successors() []BlockID {
	if t := b.Terminator(); t != nil {
		return t.Successors()
	}
	return nil
}

type Function struct {
	Name       string // linkage name
	SourceName string
	Typ        *types.Function
	Args       []*Argument
	Blocks     []*BasicBlock
	Defined    bool

	symbols    map[string]int
	blockNames map[string]int
	analysis   *Analysis
}

func NewFunction(name, sourceName string, typ *types.Function, argNames []string) *Function {
	f := &Function{Name: name, SourceName: sourceName, Typ: typ}
	for i, a := range typ.Args {
		argName := fmt.Sprintf("arg%d", i)
		if i < len(argNames) && argNames[i] != "" {
			argName = argNames[i]
		}
		f.Args = append(f.Args, &Argument{Name: argName, Typ: a.Type, Mode: a.Mode, Index: i})
	}
	f.Reset()
	return f
}

func (*Function) isValue()              {}
func (f *Function) Type() types.Type    { return f.Typ }
func (f *Function) LinkageName() string { return f.Name }

func (f *Function) Kind() types.FunctionKind { return f.Typ.FnKind }
func (f *Function) IsEntryPoint() bool       { return f.Typ.FnKind != types.FuncNormal }

// Reset drops the body, turning f back into a declaration.
func (f *Function) Reset() {
	f.Blocks = nil
	f.Defined = false
	f.symbols = make(map[string]int)
	f.blockNames = make(map[string]int)
	f.analysis = nil
}

// NewBlock appends a block and invalidates cached analyses.
func (f *Function) NewBlock(name string) BlockID {
	id := BlockID(len(f.Blocks))
	f.Blocks = append(f.Blocks, &BasicBlock{ID: id, Name: unique(f.blockNames, name)})
	f.analysis = nil
	return id
}

func (f *Function) Block(id BlockID) *BasicBlock { return f.Blocks[id] }

// GenerateSymbol returns a value name unique within f.
func (f *Function) GenerateSymbol(hint string) string {
	if hint != "" {
		return unique(f.symbols, hint)
	}
	for {
		n := f.symbols["t"]
		f.symbols["t"] = n + 1
		name := fmt.Sprintf("t%d", n)
		if _, taken := f.symbols[name]; !taken {
			f.symbols[name] = 1
			return name
		}
	}
}

// Invalidate drops cached analyses. Mutations other than NewBlock that
// change edges must call it.
func (f *Function) Invalidate() { f.analysis = nil }

// Analysis returns the CFG analyses for f, computing them on first use.
func (f *Function) Analysis() *Analysis {
	if f.analysis == nil {
		f.analysis = Analyze(f)
	}
	return f.analysis
}

func unique(seen map[string]int, name string) string {
	n, ok := seen[name]
	seen[name] = n + 1
	if !ok {
		return name
	}
	return fmt.Sprintf("%s.%d", name, n)
}

type constKey struct {
	typ   types.Type
	value interface{}
}

// Module maps linkage names to functions and global variables.
type Module struct {
	Name    string
	Types   *types.Registry
	Globals map[string]GlobalValue

	order     []string
	constants map[constKey]*Constant
	symCount  int
}

func NewModule(name string, reg *types.Registry) *Module {
	return &Module{
		Name:      name,
		Types:     reg,
		Globals:   make(map[string]GlobalValue),
		constants: make(map[constKey]*Constant),
	}
}

// Add registers g under its linkage name.
func (m *Module) Add(g GlobalValue) error {
	name := g.LinkageName()
	if _, exists := m.Globals[name]; exists {
		return fmt.Errorf("global '%s' already defined", name)
	}
	m.Globals[name] = g
	m.order = append(m.order, name)
	return nil
}

func (m *Module) Lookup(name string) GlobalValue { return m.Globals[name] }

// GenerateSymbol returns a linkage name not yet used in m.
func (m *Module) GenerateSymbol() string {
	for {
		m.symCount++
		name := fmt.Sprintf("g%d", m.symCount)
		if _, exists := m.Globals[name]; !exists {
			return name
		}
	}
}

// Functions returns the module's functions in insertion order.
func (m *Module) Functions() []*Function {
	var fns []*Function
	for _, name := range m.order {
		if fn, ok := m.Globals[name].(*Function); ok {
			fns = append(fns, fn)
		}
	}
	return fns
}

func (m *Module) GlobalVariables() []*GlobalVariable {
	var gvs []*GlobalVariable
	for _, name := range m.order {
		if gv, ok := m.Globals[name].(*GlobalVariable); ok {
			gvs = append(gvs, gv)
		}
	}
	return gvs
}

// Constant returns the interned constant of type t. v must be int64, float64
// or bool.
func (m *Module) Constant(t types.Type, v interface{}) *Constant {
	key := constKey{t, v}
	if c, ok := m.constants[key]; ok {
		return c
	}
	c := &Constant{Typ: t, Value: v}
	m.constants[key] = c
	return c
}

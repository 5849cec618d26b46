// Package hlb recovers structured control flow from IR functions. The
// result is a tree of high level blocks (if, loop, break, continue, return)
// over side-effect free expression trees, ready to be printed by a source
// backend.
package hlb

import (
	"github.com/xplshn/aslc/pkg/ir"
	"github.com/xplshn/aslc/pkg/types"
)

type Expr interface {
	Type() types.Type
	isExpr()
}

type Constant struct {
	Typ   types.Type
	Value interface{} // int64, float64 or bool
}

// VarRef names a local variable. Like the other reference expressions it
// denotes storage when assigned to and its value when read.
type VarRef struct{ Var *Variable }

type ParamRef struct{ Param *Parameter }

type GlobalRef struct{ Global *GlobalVariable }

// Member selects a structure field or a vector component. Field holds the
// component letter for vectors.
type Member struct {
	Base  Expr
	Field string
	Index int
	Typ   types.Type
}

// Index selects a matrix column.
type Index struct {
	Base  Expr
	Index int
	Typ   types.Type
}

// Binary and Unary carry the IR operation name.
type Binary struct {
	Op          string
	Left, Right Expr
	Typ         types.Type
}

type Unary struct {
	Op      string
	Operand Expr
	Typ     types.Type
}

type Call struct {
	Func *Function
	Args []Expr
}

// Construct builds a structure value from its fields.
type Construct struct {
	Typ  types.Type
	Args []Expr
}

// FlattenedStruct stands for a structure whose fields live in separate
// variables, one expression per field.
type FlattenedStruct struct {
	Typ    *types.Structure
	Fields []Expr
}

func (*Constant) isExpr()        {}
func (*VarRef) isExpr()          {}
func (*ParamRef) isExpr()        {}
func (*GlobalRef) isExpr()       {}
func (*Member) isExpr()          {}
func (*Index) isExpr()           {}
func (*Binary) isExpr()          {}
func (*Unary) isExpr()           {}
func (*Call) isExpr()            {}
func (*Construct) isExpr()       {}
func (*FlattenedStruct) isExpr() {}

func (e *Constant) Type() types.Type        { return e.Typ }
func (e *VarRef) Type() types.Type          { return e.Var.Type }
func (e *ParamRef) Type() types.Type        { return e.Param.Type }
func (e *GlobalRef) Type() types.Type       { return e.Global.Type }
func (e *Member) Type() types.Type          { return e.Typ }
func (e *Index) Type() types.Type           { return e.Typ }
func (e *Binary) Type() types.Type          { return e.Typ }
func (e *Unary) Type() types.Type           { return e.Typ }
func (e *Call) Type() types.Type            { return e.Func.Return }
func (e *Construct) Type() types.Type       { return e.Typ }
func (e *FlattenedStruct) Type() types.Type { return e.Typ }

// Not returns the logical negation of cond, unwrapping a negation instead
// of nesting another one.
func Not(cond Expr) Expr {
	if u, ok := cond.(*Unary); ok && u.Op == "not" {
		return u.Operand
	}
	return &Unary{Op: "not", Operand: cond, Typ: cond.Type()}
}

type Stmt interface{ isStmt() }

type Block struct{ Stmts []Stmt }

// If has a non-nil Then after Simplify; Else may be nil.
type If struct {
	Cond       Expr
	Then, Else *Block
}

// Loop repeats Body until a Break leaves it.
type Loop struct{ Body *Block }

type Break struct{}

type Continue struct{}

// Return carries a nil Value in void functions.
type Return struct{ Value Expr }

type Discard struct{}

type Assign struct{ Target, Value Expr }

type CallStmt struct{ Call *Call }

func (*Block) isStmt()    {}
func (*If) isStmt()       {}
func (*Loop) isStmt()     {}
func (*Break) isStmt()    {}
func (*Continue) isStmt() {}
func (*Return) isStmt()   {}
func (*Discard) isStmt()  {}
func (*Assign) isStmt()   {}
func (*CallStmt) isStmt() {}

func (b *Block) add(s Stmt) { b.Stmts = append(b.Stmts, s) }

type Variable struct {
	Name string
	Type types.Type
}

// Parameter.Type is the value type; Mode tells how it is passed.
type Parameter struct {
	Name string
	Type types.Type
	Mode types.PassingMode
}

type GlobalVariable struct {
	Name    string
	Type    types.Type
	Storage string // "", "uniform", "in" or "out"
}

type Function struct {
	Name   string
	Return types.Type
	Params []*Parameter
	Locals []*Variable
	Body   *Block
	Source *ir.Function
}

// Shader is everything one entry point needs. Functions lists the helper
// functions callees first; Main is the entry point itself. TypeNames holds
// the printed name of every structure in Structures.
type Shader struct {
	Name       string
	Kind       types.FunctionKind
	Structures []*types.Structure
	TypeNames  map[*types.Structure]string
	Globals    []*GlobalVariable
	Functions  []*Function
	Main       *Function
}

// Package ast defines the syntax tree handed to the compiler by a front end
package ast

import (
	"github.com/xplshn/aslc/pkg/token"
	"github.com/xplshn/aslc/pkg/types"
)

// NodeType defines the kind of a node in the AST
type NodeType int

// Node types enum
const (
	// Expressions
	IntConst NodeType = iota
	FloatConst
	BoolConst
	Ident
	Assign
	BinaryOp
	UnaryOp
	FuncCall
	Subscript
	MemberAccess

	// Statements
	NullStmt
	ExprStmt
	VarDecl
	If
	While
	DoWhile
	For
	Return
	Block
	Break
	Continue
	Discard

	// Declarations
	TranslationUnit
	FuncDecl
	Param
	StructDecl
	GlobalVarDecl

	// Type expressions
	TypeName
)

var nodeTypeNames = map[NodeType]string{
	IntConst: "int", FloatConst: "float", BoolConst: "bool", Ident: "ident",
	Assign: "assign", BinaryOp: "binary", UnaryOp: "unary", FuncCall: "call",
	Subscript: "subscript", MemberAccess: "member",
	NullStmt: "null", ExprStmt: "expr", VarDecl: "var", If: "if", While: "while",
	DoWhile: "dowhile", For: "for", Return: "return", Block: "block",
	Break: "break", Continue: "continue", Discard: "discard",
	TranslationUnit: "unit", FuncDecl: "function", Param: "param",
	StructDecl: "struct", GlobalVarDecl: "global", TypeName: "type",
}

func (t NodeType) String() string {
	if s, ok := nodeTypeNames[t]; ok {
		return s
	}
	return "node"
}

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type   NodeType
	Pos    token.Pos
	Parent *Node
	Data   interface{}
	Typ    types.Type // Set by the semantic analyzer for expressions
}

// --- Node Data Structs ---
type IntConstNode struct{ Value int64; Unsigned bool }
type FloatConstNode struct{ Value float64; Double bool }
type BoolConstNode struct{ Value bool }
type IdentNode struct{ Name string }
type AssignNode struct{ Op token.Type; Lhs, Rhs *Node }
type BinaryOpNode struct{ Op token.Type; Left, Right *Node }
type UnaryOpNode struct{ Op token.Type; Expr *Node }
type FuncCallNode struct{ Name string; Args []*Node }
type SubscriptNode struct{ Expr, Index *Node }
type MemberAccessNode struct{ Expr *Node; Member string }

type ExprStmtNode struct{ Expr *Node }
type VarDeclNode struct{ Name string; Type, Init *Node }
type IfNode struct{ Cond, ThenBody, ElseBody *Node }
type WhileNode struct{ Cond, Body *Node }
type DoWhileNode struct{ Body, Cond *Node }
type ForNode struct{ Init, Cond, Step, Body *Node }
type ReturnNode struct{ Expr *Node }
type BlockNode struct{ Stmts []*Node }
type BreakNode struct{}
type ContinueNode struct{}
type DiscardNode struct{}
type NullStmtNode struct{}

type TranslationUnitNode struct{ Decls []*Node }
type FuncDeclNode struct {
	Name       string
	Kind       types.FunctionKind
	ReturnType *Node
	Params     []*Node
	Body       *Node // nil for a prototype
}
type ParamNode struct {
	Name string
	Type *Node
	Mode types.PassingMode
}
type StructDeclNode struct{ Name string; Fields []*Node } // Fields are *VarDecl nodes
type GlobalVarDeclNode struct {
	Name    string
	Type    *Node
	Storage string // "", "uniform", "in" or "out"
}
type TypeNameNode struct{ Name string }

// --- Node Constructors ---

func newNode(pos token.Pos, nodeType NodeType, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Pos: pos, Data: data}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func adopt(parent *Node, children []*Node) {
	for _, c := range children {
		if c != nil {
			c.Parent = parent
		}
	}
}

func NewIntConst(pos token.Pos, value int64, unsigned bool) *Node {
	return newNode(pos, IntConst, IntConstNode{Value: value, Unsigned: unsigned})
}
func NewFloatConst(pos token.Pos, value float64, double bool) *Node {
	return newNode(pos, FloatConst, FloatConstNode{Value: value, Double: double})
}
func NewBoolConst(pos token.Pos, value bool) *Node {
	return newNode(pos, BoolConst, BoolConstNode{Value: value})
}
func NewIdent(pos token.Pos, name string) *Node {
	return newNode(pos, Ident, IdentNode{Name: name})
}
func NewAssign(pos token.Pos, op token.Type, lhs, rhs *Node) *Node {
	return newNode(pos, Assign, AssignNode{Op: op, Lhs: lhs, Rhs: rhs}, lhs, rhs)
}
func NewBinaryOp(pos token.Pos, op token.Type, left, right *Node) *Node {
	return newNode(pos, BinaryOp, BinaryOpNode{Op: op, Left: left, Right: right}, left, right)
}
func NewUnaryOp(pos token.Pos, op token.Type, expr *Node) *Node {
	return newNode(pos, UnaryOp, UnaryOpNode{Op: op, Expr: expr}, expr)
}
func NewFuncCall(pos token.Pos, name string, args []*Node) *Node {
	node := newNode(pos, FuncCall, FuncCallNode{Name: name, Args: args})
	adopt(node, args)
	return node
}
func NewSubscript(pos token.Pos, expr, index *Node) *Node {
	return newNode(pos, Subscript, SubscriptNode{Expr: expr, Index: index}, expr, index)
}
func NewMemberAccess(pos token.Pos, expr *Node, member string) *Node {
	return newNode(pos, MemberAccess, MemberAccessNode{Expr: expr, Member: member}, expr)
}
func NewExprStmt(pos token.Pos, expr *Node) *Node {
	return newNode(pos, ExprStmt, ExprStmtNode{Expr: expr}, expr)
}
func NewVarDecl(pos token.Pos, name string, typ, init *Node) *Node {
	return newNode(pos, VarDecl, VarDeclNode{Name: name, Type: typ, Init: init}, typ, init)
}
func NewIf(pos token.Pos, cond, thenBody, elseBody *Node) *Node {
	return newNode(pos, If, IfNode{Cond: cond, ThenBody: thenBody, ElseBody: elseBody}, cond, thenBody, elseBody)
}
func NewWhile(pos token.Pos, cond, body *Node) *Node {
	return newNode(pos, While, WhileNode{Cond: cond, Body: body}, cond, body)
}
func NewDoWhile(pos token.Pos, body, cond *Node) *Node {
	return newNode(pos, DoWhile, DoWhileNode{Body: body, Cond: cond}, body, cond)
}
func NewFor(pos token.Pos, init, cond, step, body *Node) *Node {
	return newNode(pos, For, ForNode{Init: init, Cond: cond, Step: step, Body: body}, init, cond, step, body)
}
func NewReturn(pos token.Pos, expr *Node) *Node {
	return newNode(pos, Return, ReturnNode{Expr: expr}, expr)
}
func NewBlock(pos token.Pos, stmts []*Node) *Node {
	node := newNode(pos, Block, BlockNode{Stmts: stmts})
	adopt(node, stmts)
	return node
}
func NewBreak(pos token.Pos) *Node    { return newNode(pos, Break, BreakNode{}) }
func NewContinue(pos token.Pos) *Node { return newNode(pos, Continue, ContinueNode{}) }
func NewDiscard(pos token.Pos) *Node  { return newNode(pos, Discard, DiscardNode{}) }
func NewNullStmt(pos token.Pos) *Node { return newNode(pos, NullStmt, NullStmtNode{}) }

func NewTranslationUnit(pos token.Pos, decls []*Node) *Node {
	node := newNode(pos, TranslationUnit, TranslationUnitNode{Decls: decls})
	adopt(node, decls)
	return node
}
func NewFuncDecl(pos token.Pos, name string, kind types.FunctionKind, returnType *Node, params []*Node, body *Node) *Node {
	node := newNode(pos, FuncDecl, FuncDeclNode{
		Name: name, Kind: kind, ReturnType: returnType, Params: params, Body: body,
	}, returnType, body)
	adopt(node, params)
	return node
}
func NewParam(pos token.Pos, name string, typ *Node, mode types.PassingMode) *Node {
	return newNode(pos, Param, ParamNode{Name: name, Type: typ, Mode: mode}, typ)
}
func NewStructDecl(pos token.Pos, name string, fields []*Node) *Node {
	node := newNode(pos, StructDecl, StructDeclNode{Name: name, Fields: fields})
	adopt(node, fields)
	return node
}
func NewGlobalVarDecl(pos token.Pos, name string, typ *Node, storage string) *Node {
	return newNode(pos, GlobalVarDecl, GlobalVarDeclNode{Name: name, Type: typ, Storage: storage}, typ)
}
func NewTypeName(pos token.Pos, name string) *Node {
	return newNode(pos, TypeName, TypeNameNode{Name: name})
}

// Frontend produces a syntax tree from source text. Parsing itself lives
// outside this module; JSONFrontend reads trees serialized by such a parser.
type Frontend interface {
	Parse(name string, src []byte) (*Node, error)
}

package ast

import (
	"encoding/json"
	"fmt"

	"github.com/xplshn/aslc/pkg/token"
	"github.com/xplshn/aslc/pkg/types"
)

// JSONFrontend reads a syntax tree serialized as JSON by an external parser.
// Every node is an object with a "kind" naming its NodeType (see
// nodeTypeNames) and kind-specific fields; type expressions are plain
// strings. Positions without a file name inherit the name passed to Parse.
type JSONFrontend struct{}

type jsonNode struct {
	Kind     string          `json:"kind"`
	Pos      token.Pos       `json:"pos"`
	Name     string          `json:"name,omitempty"`
	Op       string          `json:"op,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Unsigned bool            `json:"unsigned,omitempty"`
	Double   bool            `json:"double,omitempty"`
	Type     string          `json:"type,omitempty"`
	Ret      string          `json:"ret,omitempty"`
	FnKind   string          `json:"fnkind,omitempty"`
	Mode     string          `json:"mode,omitempty"`
	Storage  string          `json:"storage,omitempty"`
	Member   string          `json:"member,omitempty"`

	Expr  *jsonNode `json:"expr,omitempty"`
	Left  *jsonNode `json:"left,omitempty"`
	Right *jsonNode `json:"right,omitempty"`
	Lhs   *jsonNode `json:"lhs,omitempty"`
	Rhs   *jsonNode `json:"rhs,omitempty"`
	Cond  *jsonNode `json:"cond,omitempty"`
	Then  *jsonNode `json:"then,omitempty"`
	Else  *jsonNode `json:"else,omitempty"`
	Body  *jsonNode `json:"body,omitempty"`
	Init  *jsonNode `json:"init,omitempty"`
	Step  *jsonNode `json:"step,omitempty"`
	Index *jsonNode `json:"index,omitempty"`

	Args   []*jsonNode `json:"args,omitempty"`
	Stmts  []*jsonNode `json:"stmts,omitempty"`
	Decls  []*jsonNode `json:"decls,omitempty"`
	Params []*jsonNode `json:"params,omitempty"`
	Fields []*jsonNode `json:"fields,omitempty"`
}

func (JSONFrontend) Parse(name string, src []byte) (*Node, error) {
	var root jsonNode
	if err := json.Unmarshal(src, &root); err != nil {
		return nil, fmt.Errorf("%s: malformed syntax tree: %w", name, err)
	}
	d := &jsonDecoder{file: name}
	node, err := d.node(&root)
	if err != nil {
		return nil, err
	}
	if node.Type != TranslationUnit {
		return nil, fmt.Errorf("%s: root node is '%s', expected 'unit'", name, node.Type)
	}
	return node, nil
}

type jsonDecoder struct{ file string }

var nodeTypesByName = func() map[string]NodeType {
	m := make(map[string]NodeType, len(nodeTypeNames))
	for t, name := range nodeTypeNames {
		m[name] = t
	}
	return m
}()

func (d *jsonDecoder) errorf(n *jsonNode, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %s", d.pos(n), fmt.Sprintf(format, args...))
}

func (d *jsonDecoder) pos(n *jsonNode) token.Pos {
	p := n.Pos
	if p.File == "" {
		p.File = d.file
	}
	return p
}

func (d *jsonDecoder) optional(n *jsonNode) (*Node, error) {
	if n == nil {
		return nil, nil
	}
	return d.node(n)
}

func (d *jsonDecoder) required(n *jsonNode, parent *jsonNode, field string) (*Node, error) {
	if n == nil {
		return nil, d.errorf(parent, "'%s' node is missing '%s'", parent.Kind, field)
	}
	return d.node(n)
}

func (d *jsonDecoder) list(ns []*jsonNode) ([]*Node, error) {
	out := make([]*Node, 0, len(ns))
	for _, n := range ns {
		node, err := d.node(n)
		if err != nil {
			return nil, err
		}
		out = append(out, node)
	}
	return out, nil
}

func (d *jsonDecoder) typeName(n *jsonNode, name string) (*Node, error) {
	if name == "" {
		return nil, d.errorf(n, "'%s' node is missing a type", n.Kind)
	}
	return NewTypeName(d.pos(n), name), nil
}

func (d *jsonDecoder) operator(n *jsonNode) (token.Type, error) {
	op, ok := token.OperatorMap[n.Op]
	if !ok {
		return token.Invalid, d.errorf(n, "unknown operator '%s'", n.Op)
	}
	return op, nil
}

func (d *jsonDecoder) node(n *jsonNode) (*Node, error) {
	kind, ok := nodeTypesByName[n.Kind]
	if !ok {
		return nil, d.errorf(n, "unknown node kind '%s'", n.Kind)
	}
	pos := d.pos(n)

	switch kind {
	case IntConst:
		var v int64
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, d.errorf(n, "bad integer constant: %v", err)
		}
		return NewIntConst(pos, v, n.Unsigned), nil
	case FloatConst:
		var v float64
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, d.errorf(n, "bad float constant: %v", err)
		}
		return NewFloatConst(pos, v, n.Double), nil
	case BoolConst:
		var v bool
		if err := json.Unmarshal(n.Value, &v); err != nil {
			return nil, d.errorf(n, "bad bool constant: %v", err)
		}
		return NewBoolConst(pos, v), nil
	case Ident:
		return NewIdent(pos, n.Name), nil

	case Assign, BinaryOp:
		op, err := d.operator(n)
		if err != nil {
			return nil, err
		}
		left, right := n.Left, n.Right
		if kind == Assign {
			left, right = n.Lhs, n.Rhs
		}
		l, err := d.required(left, n, "left operand")
		if err != nil {
			return nil, err
		}
		r, err := d.required(right, n, "right operand")
		if err != nil {
			return nil, err
		}
		if kind == Assign {
			return NewAssign(pos, op, l, r), nil
		}
		return NewBinaryOp(pos, op, l, r), nil
	case UnaryOp:
		op, err := d.operator(n)
		if err != nil {
			return nil, err
		}
		e, err := d.required(n.Expr, n, "expr")
		if err != nil {
			return nil, err
		}
		return NewUnaryOp(pos, op, e), nil
	case FuncCall:
		args, err := d.list(n.Args)
		if err != nil {
			return nil, err
		}
		return NewFuncCall(pos, n.Name, args), nil
	case Subscript:
		e, err := d.required(n.Expr, n, "expr")
		if err != nil {
			return nil, err
		}
		idx, err := d.required(n.Index, n, "index")
		if err != nil {
			return nil, err
		}
		return NewSubscript(pos, e, idx), nil
	case MemberAccess:
		e, err := d.required(n.Expr, n, "expr")
		if err != nil {
			return nil, err
		}
		return NewMemberAccess(pos, e, n.Member), nil

	case NullStmt:
		return NewNullStmt(pos), nil
	case ExprStmt:
		e, err := d.required(n.Expr, n, "expr")
		if err != nil {
			return nil, err
		}
		return NewExprStmt(pos, e), nil
	case VarDecl:
		typ, err := d.typeName(n, n.Type)
		if err != nil {
			return nil, err
		}
		init, err := d.optional(n.Init)
		if err != nil {
			return nil, err
		}
		return NewVarDecl(pos, n.Name, typ, init), nil
	case If:
		cond, err := d.required(n.Cond, n, "cond")
		if err != nil {
			return nil, err
		}
		then, err := d.required(n.Then, n, "then")
		if err != nil {
			return nil, err
		}
		els, err := d.optional(n.Else)
		if err != nil {
			return nil, err
		}
		return NewIf(pos, cond, then, els), nil
	case While, DoWhile:
		cond, err := d.required(n.Cond, n, "cond")
		if err != nil {
			return nil, err
		}
		body, err := d.required(n.Body, n, "body")
		if err != nil {
			return nil, err
		}
		if kind == While {
			return NewWhile(pos, cond, body), nil
		}
		return NewDoWhile(pos, body, cond), nil
	case For:
		init, err := d.optional(n.Init)
		if err != nil {
			return nil, err
		}
		cond, err := d.optional(n.Cond)
		if err != nil {
			return nil, err
		}
		step, err := d.optional(n.Step)
		if err != nil {
			return nil, err
		}
		body, err := d.required(n.Body, n, "body")
		if err != nil {
			return nil, err
		}
		return NewFor(pos, init, cond, step, body), nil
	case Return:
		e, err := d.optional(n.Expr)
		if err != nil {
			return nil, err
		}
		return NewReturn(pos, e), nil
	case Block:
		stmts, err := d.list(n.Stmts)
		if err != nil {
			return nil, err
		}
		return NewBlock(pos, stmts), nil
	case Break:
		return NewBreak(pos), nil
	case Continue:
		return NewContinue(pos), nil
	case Discard:
		return NewDiscard(pos), nil

	case TranslationUnit:
		decls, err := d.list(n.Decls)
		if err != nil {
			return nil, err
		}
		return NewTranslationUnit(pos, decls), nil
	case FuncDecl:
		fk, err := types.ParseFunctionKind(n.FnKind)
		if err != nil {
			return nil, d.errorf(n, "%v", err)
		}
		ret := n.Ret
		if ret == "" {
			ret = "void"
		}
		retType, _ := d.typeName(n, ret)
		params, err := d.list(n.Params)
		if err != nil {
			return nil, err
		}
		body, err := d.optional(n.Body)
		if err != nil {
			return nil, err
		}
		return NewFuncDecl(pos, n.Name, fk, retType, params, body), nil
	case Param:
		mode, err := types.ParsePassingMode(n.Mode)
		if err != nil {
			return nil, d.errorf(n, "%v", err)
		}
		typ, err := d.typeName(n, n.Type)
		if err != nil {
			return nil, err
		}
		return NewParam(pos, n.Name, typ, mode), nil
	case StructDecl:
		fields, err := d.list(n.Fields)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if f.Type != VarDecl {
				return nil, fmt.Errorf("%s: struct fields must be 'var' nodes", f.Pos)
			}
		}
		return NewStructDecl(pos, n.Name, fields), nil
	case GlobalVarDecl:
		typ, err := d.typeName(n, n.Type)
		if err != nil {
			return nil, err
		}
		switch n.Storage {
		case "", "uniform", "in", "out":
		default:
			return nil, d.errorf(n, "unknown storage qualifier '%s'", n.Storage)
		}
		return NewGlobalVarDecl(pos, n.Name, typ, n.Storage), nil
	case TypeName:
		return d.typeName(n, n.Name)
	}
	return nil, d.errorf(n, "unhandled node kind '%s'", n.Kind)
}

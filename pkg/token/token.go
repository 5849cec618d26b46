package token

import "fmt"

type Type int

const (
	Invalid Type = iota
	Eq
	PlusEq
	MinusEq
	StarEq
	SlashEq
	RemEq
	AndEq
	OrEq
	XorEq
	ShlEq
	ShrEq
	Plus
	Minus
	Star
	Slash
	Rem
	And
	Or
	Xor
	Shl
	Shr
	EqEq
	Neq
	Lt
	Gt
	Gte
	Lte
	AndAnd
	OrOr
	Not
	Complement
)

var OperatorMap = map[string]Type{
	"=":   Eq,
	"+=":  PlusEq,
	"-=":  MinusEq,
	"*=":  StarEq,
	"/=":  SlashEq,
	"%=":  RemEq,
	"&=":  AndEq,
	"|=":  OrEq,
	"^=":  XorEq,
	"<<=": ShlEq,
	">>=": ShrEq,
	"+":   Plus,
	"-":   Minus,
	"*":   Star,
	"/":   Slash,
	"%":   Rem,
	"&":   And,
	"|":   Or,
	"^":   Xor,
	"<<":  Shl,
	">>":  Shr,
	"==":  EqEq,
	"!=":  Neq,
	"<":   Lt,
	">":   Gt,
	">=":  Gte,
	"<=":  Lte,
	"&&":  AndAnd,
	"||":  OrOr,
	"!":   Not,
	"~":   Complement,
}

// Reverse mapping from Type to the operator spelling
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range OperatorMap {
		TypeStrings[typ] = str
	}
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// CompoundBase maps a compound assignment operator to its binary operator.
// Plain '=' and non-assignment operators map to Invalid.
func CompoundBase(t Type) Type {
	switch t {
	case PlusEq:
		return Plus
	case MinusEq:
		return Minus
	case StarEq:
		return Star
	case SlashEq:
		return Slash
	case RemEq:
		return Rem
	case AndEq:
		return And
	case OrEq:
		return Or
	case XorEq:
		return Xor
	case ShlEq:
		return Shl
	case ShrEq:
		return Shr
	}
	return Invalid
}

// Pos is a source position handed in by the front end.
type Pos struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"col,omitempty"`
	Len    int    `json:"len,omitempty"`
}

func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	file := p.File
	if file == "" {
		file = "<input>"
	}
	if p.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", file, p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d", file, p.Line)
}

package codegen

import (
	"fmt"
	"strings"

	"github.com/xplshn/aslc/pkg/token"
)

type ErrorKind int

const (
	UnknownIdentifier ErrorKind = iota
	DuplicateDefinition
	TypeMismatch
	InvalidOperation
	InvalidControlFlow
	MissingReturn
	UnknownMember
)

var errorKindNames = [...]string{
	UnknownIdentifier:   "unknown identifier",
	DuplicateDefinition: "duplicate definition",
	TypeMismatch:        "type mismatch",
	InvalidOperation:    "invalid operation",
	InvalidControlFlow:  "invalid control flow",
	MissingReturn:       "missing return",
	UnknownMember:       "unknown member",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("error(%d)", int(k))
}

// SemanticError is an error in the program being compiled, as opposed to an
// error in the compiler.
type SemanticError struct {
	Kind ErrorKind
	Pos  token.Pos
	Msg  string
}

func (e *SemanticError) Error() string { return fmt.Sprintf("%s: %s", e.Pos, e.Msg) }

// ErrorList collects the semantic errors of a translation unit, one per
// failed declaration, in source order.
type ErrorList []*SemanticError

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors:", len(l))
	for _, e := range l {
		sb.WriteString("\n\t")
		sb.WriteString(e.Error())
	}
	return sb.String()
}

// Err returns l as an error, or nil when l is empty.
func (l ErrorList) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// semanticError aborts the declaration being compiled. The panic is
// recovered by catch.
func semanticError(kind ErrorKind, pos token.Pos, format string, args ...interface{}) {
	panic(&SemanticError{Kind: kind, Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

// catch runs f and turns a semantic error raised inside it into a returned
// error. Any other panic is a compiler bug and keeps unwinding.
func catch(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			semErr, ok := r.(*SemanticError)
			if !ok {
				panic(r)
			}
			err = semErr
		}
	}()
	f()
	return nil
}

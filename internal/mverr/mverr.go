// Package mverr defines the error kinds that flow through MathVM's
// pipeline, in the order they can occur: lexing, parsing, type annotation,
// translation, interpretation, and JIT emission.
package mverr

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Position is a 1-based source location, the same shape the driver is
// required to print as "line,col: message".
type Position struct {
	Line int
	Col  int
}

func (p Position) String() string {
	return fmt.Sprintf("%d,%d", p.Line, p.Col)
}

// Kind classifies where in the pipeline an error originated.
type Kind int

const (
	Lex Kind = iota
	Parse
	Type
	Translation
	Runtime
	JIT
)

func (k Kind) String() string {
	switch k {
	case Lex:
		return "lex error"
	case Parse:
		return "parse error"
	case Type:
		return "type error"
	case Translation:
		return "translation error"
	case Runtime:
		return "runtime error"
	case JIT:
		return "jit error"
	default:
		return "error"
	}
}

// PositionedError is a single error at a source position. Lex and parse
// errors halt their pass immediately; type errors are accumulated into a
// List instead.
type PositionedError struct {
	Kind Kind
	Pos  Position
	Msg  string
	Err  error
}

func (e *PositionedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func (e *PositionedError) Unwrap() error {
	return e.Err
}

func New(kind Kind, pos Position, format string, args ...interface{}) error {
	return errors.WithStack(&PositionedError{
		Kind: kind,
		Pos:  pos,
		Msg:  fmt.Sprintf(format, args...),
	})
}

func Wrap(kind Kind, pos Position, err error, context string) error {
	return errors.WithStack(&PositionedError{
		Kind: kind,
		Pos:  pos,
		Msg:  context,
		Err:  err,
	})
}

// List accumulates type errors the way §4.4 requires ("errors are
// accumulated and reported as a concatenated list; translation does not
// proceed if any error is present").
type List struct {
	errs []error
}

func (l *List) Add(err error) {
	if err != nil {
		l.errs = append(l.errs, err)
	}
}

func (l *List) Addf(pos Position, format string, args ...interface{}) {
	l.Add(New(Type, pos, format, args...))
}

func (l *List) HasErrors() bool {
	return len(l.errs) > 0
}

func (l *List) Errors() []error {
	return l.errs
}

// Err returns nil if no errors were accumulated, otherwise a single error
// whose message is every accumulated error joined by "; ".
func (l *List) Err() error {
	if len(l.errs) == 0 {
		return nil
	}
	parts := make([]string, len(l.errs))
	for i, e := range l.errs {
		parts[i] = e.Error()
	}
	return errors.New(strings.Join(parts, "; "))
}

// Fatal wraps an internal invariant violation (§7 TranslationError,
// RuntimeError, JITError): these always halt immediately, never accumulate.
func Fatal(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&PositionedError{
		Kind: kind,
		Msg:  fmt.Sprintf(format, args...),
	})
}

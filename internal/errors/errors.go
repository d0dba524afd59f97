// Package errors defines the error type used by the object repository.
//
// It follows the Op/Kind design popularised by upspin: every error records the
// operation that failed and a Kind that callers can branch on without string
// matching. Kinds map onto the failure classes of the repository:
//
//   - State: the operation is invalid for the current repository status.
//   - Integrity: stored content does not match its key or its declared type.
//   - NotFound: a branch, commit, date or link target has no match.
//   - Configuration: a required collaborator is not wired.
//   - Invariant: an internal invariant was violated; indicates a bug.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	goerrors "github.com/go-errors/errors"
)

// Error is the error implementation returned by repository operations.
type Error struct {
	// Op is the operation being performed, e.g. "repository.Checkout".
	Op Op

	// Kind is the class of error.
	Kind Kind

	// Err is the underlying error, if any.
	Err error

	// stack is captured for Invariant errors only.
	stack *goerrors.Error
}

// Op describes an operation.
type Op string

// Kind describes the class of an error.
type Kind int

const (
	Other         Kind = iota // Unclassified. Will not be printed.
	State                     // Invalid for current state.
	Integrity                 // Content hash or type mismatch.
	NotFound                  // No match.
	Configuration             // Missing collaborator or type.
	Invariant                 // Internal invariant violated.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case State:
		return "invalid state"
	case Integrity:
		return "integrity error"
	case NotFound:
		return "not found"
	case Configuration:
		return "configuration error"
	case Invariant:
		return "invariant violation"
	}
	return "unknown kind"
}

func (e *Error) Error() string {
	b := new(strings.Builder)

	if e.Op != "" {
		b.WriteString(string(e.Op))
	}

	if e.Kind != Other {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}

	if e.Err != nil {
		if inner, ok := e.Err.(*Error); ok {
			if !inner.Zero() {
				pad(b, ":\n\t")
				b.WriteString(inner.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error { return e.Err }

// Zero reports whether the error carries no information.
func (e *Error) Zero() bool {
	return e.Op == "" && e.Kind == Other && e.Err == nil
}

// Stack returns the captured stack trace for invariant violations, or "".
func (e *Error) Stack() string {
	if e.stack == nil {
		return ""
	}
	return string(e.stack.Stack())
}

func pad(b *strings.Builder, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

// E builds an *Error from its arguments. Each argument may be an Op, a Kind,
// an error, or a string (used as the error message). Printf-style formatting
// is applied when a string is followed by further non-Op/Kind arguments.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("errors.E must have at least one argument")
	}

	e := &Error{}
	for i := 0; i < len(args); i++ {
		switch a := args[i].(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case *Error:
			cp := *a
			e.Err = &cp
		case error:
			e.Err = a
		case string:
			rest := args[i+1:]
			e.Err = fmt.Errorf(a, rest...)
			i = len(args)
		default:
			panic(fmt.Errorf("unknown type %T for value %v in call to errors.E", a, a))
		}
	}

	if e.Kind == Invariant {
		e.stack = goerrors.Wrap(e, 1)
	}

	inner, ok := e.Err.(*Error)
	if !ok {
		return e
	}
	if e.Op == inner.Op {
		inner.Op = ""
	}
	if e.Kind == inner.Kind {
		inner.Kind = Other
	}
	if e.Kind == Other {
		e.Kind = inner.Kind
		inner.Kind = Other
	}
	return e
}

// Is reports whether err is an *Error of the given kind. Wrapped chains are
// searched, so errors returned through fmt.Errorf("%w") still match.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind != Other {
			return e.Kind == kind
		}
		err = e.Err
	}
	return false
}

// New is errors.New from the standard library, re-exported so callers need
// only one errors import.
func New(text string) error { return stderrors.New(text) }

// As is errors.As from the standard library.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

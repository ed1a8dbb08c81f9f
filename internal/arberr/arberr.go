// Package arberr defines the error taxonomy shared across the engine so
// callers can branch on failure category with errors.As instead of string
// matching.
package arberr

import "fmt"

// Kind categorizes an error by the subsystem that produced it.
type Kind string

const (
	Config    Kind = "config"
	Network   Kind = "network"
	Protocol  Kind = "protocol"
	Risk      Kind = "risk"
	Execution Kind = "execution"
	Storage   Kind = "storage"
	Solver    Kind = "solver"
)

// Error wraps an underlying error with a Kind so the caller can recover the
// category without parsing the message.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error of the given kind. A nil err returns nil, so Wrap is
// safe to call unconditionally in a "return arberr.Wrap(...)" tail position.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok && ae.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

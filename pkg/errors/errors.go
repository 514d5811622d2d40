// Package errors defines the engine's error taxonomy.
//
// Every failure the engine surfaces to a caller carries one of a fixed
// set of Kinds so callers can branch on Is() rather than string
// matching. Internal wrapping (stack traces, causal chains) is
// layered on with cockroachdb/errors; the Kind is what's contractual.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Kind is the fixed set of error classes the engine surfaces (spec §7).
type Kind string

const (
	Conflict            Kind = "conflict"
	NotFound            Kind = "not_found"
	AlreadyExists       Kind = "already_exists"
	InvalidName         Kind = "invalid_name"
	SchemaMismatch      Kind = "schema_mismatch"
	SchemaNotRegistered Kind = "schema_not_registered"
	Serialization       Kind = "serialization"
	Io                  Kind = "io"
	Internal            Kind = "internal"
)

// Error is the concrete error type returned by every exported engine
// operation. Op names the failing operation (e.g. "collection.Update")
// for diagnostics; it is not part of the public contract.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, sentinel)-style checks by matching Kind
// against a target *Error with the same Kind, ignoring Op/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a new *Error of the given kind, wrapping cause (may be nil).
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Newf builds a new *Error with a formatted, stack-carrying cause.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: cockroacherrors.Newf(format, args...)}
}

// Wrap annotates cause with op/msg and tags it with kind, preserving
// the cockroachdb/errors stack trace of the original cause.
func Wrap(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cockroacherrors.Wrapf(cause, "%s", msg)}
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if cockroacherrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns err's Kind if it (or something it wraps) is an
// *Error, or Internal otherwise. Useful when re-wrapping an error for
// added context without silently replacing the caller-visible Kind
// with an unrelated one.
func KindOf(err error) Kind {
	var e *Error
	if cockroacherrors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Sentinel kind-only errors, usable with the standard errors.Is.
var (
	ErrConflict            = &Error{Kind: Conflict}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrAlreadyExists       = &Error{Kind: AlreadyExists}
	ErrInvalidName         = &Error{Kind: InvalidName}
	ErrSchemaMismatch      = &Error{Kind: SchemaMismatch}
	ErrSchemaNotRegistered = &Error{Kind: SchemaNotRegistered}
	ErrSerialization       = &Error{Kind: Serialization}
	ErrIo                  = &Error{Kind: Io}
	ErrInternal            = &Error{Kind: Internal}
)

// Package errs classifies errors by the semantic kinds the harvesting
// pipeline defines policy for, not by Go type. Call sites branch on Kind, not
// on concrete error values, so a new adapter or storage backend only needs
// to produce one of the existing kinds to be handled correctly everywhere.
package errs

import (
	"database/sql"
	"errors"
	"fmt"
)

// Kind discriminates the error classes the pipeline handles distinctly.
type Kind string

const (
	MessageDecode       Kind = "message_decode"
	InvalidEntity       Kind = "invalid_entity"
	TransientExternal   Kind = "transient_external"
	PermanentExternal   Kind = "permanent_external"
	ReferenceValidation Kind = "reference_validation"
	DatabaseConnection  Kind = "database_connection"
	BrokerChannel       Kind = "broker_channel"
	Unexpected          Kind = "unexpected"
)

// Sentinel errors for conditions shared across packages.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Error wraps an underlying cause with a Kind so handlers can dispatch on
// classification instead of re-deriving it from the concrete error type.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind, recording op for diagnostics. Returns nil if err
// is nil, so call sites can write `return errs.New(Kind, op, err)` unconditionally.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Unexpected when err was
// never classified (e.g. a bare stdlib error that escaped a boundary).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// Is reports whether the outermost *Error in err's chain carries kind (the
// Kind KindOf returns); kinds of *Error values wrapped deeper are not
// consulted.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// WrapDB classifies a database/sql error for op, converting sql.ErrNoRows
// into ErrNotFound so lookup-then-insert call sites can branch on a
// single sentinel regardless of backend.
func WrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return New(DatabaseConnection, op, fmt.Errorf("%w", ErrNotFound))
	}
	return New(DatabaseConnection, op, err)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is or wraps ErrConflict (a unique
// constraint violation surfaced by the storage backend).
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

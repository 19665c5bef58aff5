package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/connection-matrix/model"
)

var (
	// ErrUnavailable marks a transient device-state failure. A recomputation
	// that hits it leaves the intersection untouched.
	ErrUnavailable = model.ErrUnavailable

	// ErrBadTopology indicates an entity snapshot that cannot be turned into
	// a node hierarchy (e.g. a redundant group naming an unknown stream).
	ErrBadTopology = errors.New("invalid entity topology")

	// The following are invariant violations. They are raised as panics
	// carrying an *InvariantError and indicate a bug, not bad input.

	// ErrSectionNotFound: a section lookup on a node absent from the flattening.
	ErrSectionNotFound = errors.New("node has no section")
	// ErrOrdinalOutOfRange: a redundant member ordinal beyond its group.
	ErrOrdinalOutOfRange = errors.New("redundant ordinal out of range")
	// ErrUnclassifiable: the classifier met a node combination it cannot type.
	ErrUnclassifiable = errors.New("unclassifiable intersection")
	// ErrStaleNode: a node ID that no longer refers to a live arena slot.
	ErrStaleNode = errors.New("stale node reference")
	// ErrShape: the matrix no longer matches the section counts.
	ErrShape = errors.New("matrix shape mismatch")
)

// InvariantError is the panic value used for programming errors.
type InvariantError struct {
	Err    error
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("connection matrix invariant violated: %v: %s", e.Err, e.Detail)
}

func (e *InvariantError) Unwrap() error { return e.Err }

func invariant(err error, format string, args ...any) {
	panic(&InvariantError{Err: err, Detail: fmt.Sprintf(format, args...)})
}

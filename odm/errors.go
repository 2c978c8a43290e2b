package odm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDetachedEntity is returned when persisting or removing an entity the session no longer manages.
	ErrDetachedEntity = errors.New("lattice: entity is detached")

	// ErrInvalidEntity is returned for nil entities, non-pointer entities and association
	// targets that do not implement mapping.Entity.
	ErrInvalidEntity = errors.New("lattice: invalid entity")

	// ErrIdentityChanged is returned when a managed entity's identity was modified.
	ErrIdentityChanged = errors.New("lattice: identity of a managed entity cannot change")

	// ErrUnmanagedAssociation is returned when a new entity is reachable only through an
	// association that does not cascade persist.
	ErrUnmanagedAssociation = errors.New("lattice: new entity found through association without cascade persist")

	// ErrCommitOrderCycle is returned when RejectCycles is set and the commit order is cyclic.
	ErrCommitOrderCycle = errors.New("lattice: cyclic commit order")

	// ErrFinderUnsupported is returned by Find when the transport cannot load records.
	ErrFinderUnsupported = errors.New("lattice: transport cannot load records")

	// ErrResultMismatch matches a *ResultMismatchError with errors.Is.
	ErrResultMismatch = errors.New("lattice: batch result does not match insertions")
)

// TransportError wraps a batch submission failure. The batch was not applied
// and no entity was modified; the commit can be retried.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("lattice: batch submission failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnsupportedTransportError is returned when the configured transport cannot
// run atomic scripted batches.
type UnsupportedTransportError struct {
	Transport string
}

func (e *UnsupportedTransportError) Error() string {
	return fmt.Sprintf("lattice: transport %s does not support atomic batches", e.Transport)
}

// ValidationError reports a field value rejected before submission.
type ValidationError struct {
	Type       string
	Field      string
	Constraint string
	Value      any
}

func (e *ValidationError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("lattice: %s.%s must not be null", e.Type, e.Field)
	}
	return fmt.Sprintf("lattice: %s.%s violates %q (value %v)", e.Type, e.Field, e.Constraint, e.Value)
}

// ResultMismatchError reports insertions for which the store returned no
// identity. The batch was applied; the affected entities are detached.
type ResultMismatchError struct {
	Positions []int
}

func (e *ResultMismatchError) Error() string {
	parts := make([]string, len(e.Positions))
	for i, p := range e.Positions {
		parts[i] = fmt.Sprint(p)
	}
	return "lattice: no identity returned for batch positions " + strings.Join(parts, ", ")
}

func (e *ResultMismatchError) Is(target error) bool {
	return target == ErrResultMismatch
}

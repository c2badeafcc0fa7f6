// Package core provides the TierMem engine facade: the four-operation
// surface (Remember, Recall, Forget, Tick) over the tier store, the
// associative index, the scoring strategy and the consolidation engine.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidArgument indicates that a caller-supplied value is out of
	// its documented domain, for example an importance outside [0,1].
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoSnapshotStore indicates that Save or Load was called on an
	// engine configured without a snapshot store.
	ErrNoSnapshotStore = errors.New("no snapshot store configured")

	// ErrCollaboratorFailure indicates that an external collaborator (the
	// summarizer or the snapshot store) failed.
	ErrCollaboratorFailure = errors.New("collaborator failure")

	// ErrInternalInconsistency indicates that internal bookkeeping
	// disagreed with itself, for example a snapshot carrying two records
	// with the same ID.
	ErrInternalInconsistency = errors.New("internal inconsistency")

	// ErrEngineClosed indicates an operation on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")
)

// EngineError wraps errors with operation context.
//
// Example:
//
//	err := &EngineError{
//	    Op:  "Remember",
//	    Err: ErrInvalidArgument,
//	}
//	// Error() returns: "tiermem: Remember: invalid argument"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "tiermem: <Op>: <Err>"
func (e *EngineError) Error() string {
	return fmt.Sprintf("tiermem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with EngineError.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewEngineError("Remember", err)
//	}
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{
		Op:  op,
		Err: err,
	}
}

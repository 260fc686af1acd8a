package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy of the recovery engine. Configuration and lookup errors
// are reported synchronously to the caller that made the mistake and never
// touch registry state.
var (
	// ErrConfiguration covers malformed push arguments and a second
	// concurrent waiter on the same pending error.
	ErrConfiguration = errors.New("invalid recovery configuration")

	// ErrNotFound is returned for an unknown error identifier.
	ErrNotFound = errors.New("pending error not found")

	// ErrInvalidState is returned when an operation requires a Pending
	// error but the entry is already terminal, including double resolution.
	ErrInvalidState = errors.New("pending error already terminal")

	// ErrInvalidAction is returned when a selection is not among the
	// offered continuations, or required input data is missing.
	ErrInvalidAction = errors.New("action not among offered continuations")

	// ErrCancelled is surfaced to a suspended waiter when the error is
	// cancelled.
	ErrCancelled = errors.New("error recovery cancelled")

	// ErrTimedOut is returned by a wait when the selection timeout elapses
	// and no auto-resolve default applies.
	ErrTimedOut = errors.New("continuation selection timed out")
)

// AbortPath identifies which continuation path led to an aborted operation.
type AbortPath string

const (
	PathAbort            AbortPath = "abort"
	PathTimeout          AbortPath = "timeout"
	PathRetriesExhausted AbortPath = "retries_exhausted"
)

// RecoveryError wraps the original failure of a wrapped operation with the
// recovery path that led to it being re-raised.
type RecoveryError struct {
	Path AbortPath
	Err  error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("operation aborted (%s): %v", e.Path, e.Err)
}

func (e *RecoveryError) Unwrap() error {
	return e.Err
}

package domain

import (
	"time"
)

// State represents the lifecycle state of a pending error.
type State string

const (
	StatePending   State = "pending"
	StateResolved  State = "resolved"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s != StatePending
}

// ActionHint tags a continuation with the behavior the execution policy
// applies when it is selected.
type ActionHint string

const (
	HintNone   ActionHint = "none"
	HintRetry  ActionHint = "retry"
	HintSkip   ActionHint = "skip"
	HintRaise  ActionHint = "raise" // re-raise the original failure
	HintCustom ActionHint = "custom"
)

// NoSelectionTimeout disables the automatic selection timeout for a
// pending error: the waiter blocks until resolved or cancelled.
const NoSelectionTimeout = time.Duration(-1)

// Continuation describes one selectable way to resolve a pending error.
// Continuations are immutable once created and compared by pointer
// identity: two options may carry identical display text.
type Continuation struct {
	Description string
	Hint        ActionHint

	// AutoResolve marks the continuation to be applied automatically when
	// the selection timeout fires and it is the error's default option.
	AutoResolve bool

	// RequiredInputData describes input the resolver must supply with its
	// selection. Empty means no input is expected.
	RequiredInputData string
}

// Resolution pairs a selected continuation with optional input data.
// Immutable once constructed.
type Resolution struct {
	Selected  *Continuation
	InputData string
}

// PendingError is one raised failure awaiting a decision. It is owned
// exclusively by the registry; the suspended operation references it
// through its ID.
type PendingError struct {
	ID          string
	OperationID string
	CallID      string
	Name        string
	Description string

	// Options is the ordered continuation catalogue. Insertion order is
	// significant: Options[0] is the fallback when no explicit default is
	// given. The slice and its elements are never mutated after push.
	Options []*Continuation
	Default *Continuation

	SelectionTimeout time.Duration

	State      State
	CreatedAt  time.Time
	ResolvedAt time.Time
	Resolution *Resolution

	// Cause is the original failure, kept so the execution policy can
	// re-raise it. Never serialized.
	Cause error
}

// HasOption reports whether c is one of the error's continuation options,
// compared by identity.
func (p *PendingError) HasOption(c *Continuation) bool {
	for _, opt := range p.Options {
		if opt == c {
			return true
		}
	}
	return false
}

// OptionByDescription returns the first option whose description matches,
// or nil.
func (p *PendingError) OptionByDescription(desc string) *Continuation {
	for _, opt := range p.Options {
		if opt.Description == desc {
			return opt
		}
	}
	return nil
}

// ActionNames returns the display names of all continuation options in
// catalogue order.
func (p *PendingError) ActionNames() []string {
	names := make([]string, 0, len(p.Options))
	for _, opt := range p.Options {
		names = append(names, opt.Description)
	}
	return names
}

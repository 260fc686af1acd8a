package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/recoveryd/internal/core/domain"
	"github.com/vietddude/recoveryd/internal/infra/storage"
	"github.com/vietddude/recoveryd/internal/recovery/metrics"
)

// Event is a lifecycle notification published to external consoles.
type Event struct {
	Type        string    `json:"type"` // pushed, resolved, timed_out, cancelled, cleared
	ErrorID     string    `json:"error_id"`
	OperationID string    `json:"operation_id,omitempty"`
	Name        string    `json:"name"`
	Action      string    `json:"action,omitempty"`
	Source      string    `json:"source,omitempty"`
	At          time.Time `json:"at"`
}

// EventPublisher broadcasts recovery lifecycle events. Implementations must
// be safe for concurrent use.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Resolution sources recorded on terminal transitions.
const (
	SourceOperator    = "operator"
	SourceTimeoutAuto = "timeout_auto"
	SourceTimeout     = "timeout"
	SourceCancel      = "cancel"
	SourceInternal    = "internal"
)

// PushSpec describes one failure being handed to the coordinator.
type PushSpec struct {
	// Name is a short identifier for the failure kind. Defaults to the
	// cause's Go type.
	Name        string
	Description string
	OperationID string
	CallID      string

	// Options is the ordered continuation catalogue; must be non-empty.
	Options []*domain.Continuation

	// Default must be one of Options when set. Defaults to Options[0].
	Default *domain.Continuation

	// SelectionTimeout bounds how long a wait suspends before the default
	// applies. Zero expires immediately; NoSelectionTimeout waits forever.
	SelectionTimeout time.Duration
}

// Coordinator orchestrates push/wait/resolve/cancel against the registry.
// A single instance is shared by many concurrently executing operations.
type Coordinator struct {
	registry *Registry
	audit    storage.AuditRepository
	events   EventPublisher
	log      *slog.Logger
}

// NewCoordinator creates a coordinator. audit and events may be nil, in
// which case auditing and event publishing are disabled.
func NewCoordinator(registry *Registry, audit storage.AuditRepository, events EventPublisher) *Coordinator {
	return &Coordinator{
		registry: registry,
		audit:    audit,
		events:   events,
		log:      slog.Default(),
	}
}

// Registry returns the registry the coordinator operates on.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// PushError registers a new pending error in state Pending and returns its
// handle. The caller keeps the handle and is responsible for clearing the
// entry once it has observed the outcome.
func (c *Coordinator) PushError(ctx context.Context, cause error, spec PushSpec) (*Entry, error) {
	if len(spec.Options) == 0 {
		return nil, fmt.Errorf("%w: continuation options must not be empty", domain.ErrConfiguration)
	}
	def := spec.Default
	if def == nil {
		def = spec.Options[0]
	} else {
		member := false
		for _, opt := range spec.Options {
			if opt == def {
				member = true
				break
			}
		}
		if !member {
			return nil, fmt.Errorf("%w: default option %q is not among the continuation options",
				domain.ErrConfiguration, def.Description)
		}
	}

	name := spec.Name
	if name == "" && cause != nil {
		name = fmt.Sprintf("%T", cause)
	}
	description := spec.Description
	if description == "" && cause != nil {
		description = cause.Error()
	}

	pe := &domain.PendingError{
		ID:               uuid.New().String(),
		OperationID:      spec.OperationID,
		CallID:           spec.CallID,
		Name:             name,
		Description:      description,
		Options:          spec.Options,
		Default:          def,
		SelectionTimeout: spec.SelectionTimeout,
		State:            domain.StatePending,
		CreatedAt:        time.Now().UTC(),
		Cause:            cause,
	}

	e := newEntry(pe)
	c.registry.Register(e)

	metrics.ErrorsPushed.WithLabelValues(spec.OperationID).Inc()
	metrics.PendingErrors.Inc()
	c.publish(ctx, Event{
		Type:        "pushed",
		ErrorID:     pe.ID,
		OperationID: pe.OperationID,
		Name:        pe.Name,
		At:          time.Now().UTC(),
	})
	c.log.Info("Pending error pushed",
		"error_id", pe.ID, "operation", pe.OperationID, "name", pe.Name,
		"options", len(pe.Options), "timeout", pe.SelectionTimeout)

	return e, nil
}

// WaitForContinuation suspends the calling operation until the error is
// resolved or cancelled, or until its selection timeout elapses.
func (c *Coordinator) WaitForContinuation(ctx context.Context, e *Entry) (*domain.Continuation, error) {
	return c.WaitTimeout(ctx, e, e.SelectionTimeout())
}

// WaitTimeout is WaitForContinuation with an explicit timeout override.
// A negative timeout waits until resolution, cancellation, or ctx expiry;
// zero expires immediately. At most one waiter may be suspended per entry;
// a second concurrent waiter fails with ErrConfiguration.
func (c *Coordinator) WaitTimeout(ctx context.Context, e *Entry, timeout time.Duration) (*domain.Continuation, error) {
	e.mu.Lock()
	if e.err.State.Terminal() {
		cont, err := outcomeLocked(e)
		e.mu.Unlock()
		return cont, err
	}
	if e.waiting {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: a waiter is already suspended on error %s",
			domain.ErrConfiguration, e.err.ID)
	}
	e.waiting = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.waiting = false
		e.mu.Unlock()
	}()

	start := time.Now()
	defer func() {
		metrics.WaitDuration.Observe(time.Since(start).Seconds())
	}()

	// The deadline timer is scoped to this wait and stopped as soon as
	// resolution or cancellation wins the race.
	var timerC <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case <-e.done:
		e.mu.Lock()
		cont, err := outcomeLocked(e)
		e.mu.Unlock()
		return cont, err
	case <-timerC:
		return c.fireTimeout(e)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fireTimeout processes an elapsed deadline. The decision between Resolved
// and TimedOut is made atomically under the entry lock: a resolution that
// landed before the deadline is observed here always wins.
func (c *Coordinator) fireTimeout(e *Entry) (*domain.Continuation, error) {
	e.mu.Lock()
	if e.err.State.Terminal() {
		cont, err := outcomeLocked(e)
		e.mu.Unlock()
		return cont, err
	}
	def := e.err.Default
	if def != nil && def.AutoResolve {
		finishLocked(e, domain.StateResolved, &domain.Resolution{Selected: def})
		e.mu.Unlock()
		c.recordOutcome(e, SourceTimeoutAuto)
		return def, nil
	}
	finishLocked(e, domain.StateTimedOut, nil)
	e.mu.Unlock()
	c.recordOutcome(e, SourceTimeout)
	return nil, fmt.Errorf("%w: error %s", domain.ErrTimedOut, e.ID())
}

// PostResolution supplies a resolution from outside the suspended
// operation, typically an operator. It wakes the single waiter, if any.
func (c *Coordinator) PostResolution(e *Entry, res *domain.Resolution) error {
	if res == nil || res.Selected == nil {
		return fmt.Errorf("%w: resolution carries no continuation", domain.ErrInvalidAction)
	}

	e.mu.Lock()
	if e.err.State.Terminal() {
		state := e.err.State
		e.mu.Unlock()
		return fmt.Errorf("%w: error %s is %s", domain.ErrInvalidState, e.ID(), state)
	}
	if !e.err.HasOption(res.Selected) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", domain.ErrInvalidAction, res.Selected.Description)
	}
	if res.Selected.RequiredInputData != "" && res.InputData == "" {
		e.mu.Unlock()
		return fmt.Errorf("%w: continuation %q requires input data (%s)",
			domain.ErrInvalidAction, res.Selected.Description, res.Selected.RequiredInputData)
	}
	finishLocked(e, domain.StateResolved, res)
	e.mu.Unlock()

	c.recordOutcome(e, SourceOperator)
	return nil
}

// ResolveByAction resolves the error identified by id with the continuation
// whose description matches action. This is the operator-surface entry
// point: it reports ErrNotFound for unknown ids, ErrInvalidAction for
// unknown actions, and ErrInvalidState for already-terminal errors.
func (c *Coordinator) ResolveByAction(id, action, inputData string) error {
	e, err := c.registry.Get(id)
	if err != nil {
		return err
	}
	// Options are immutable after push, safe to read without the lock.
	sel := e.err.OptionByDescription(action)
	if sel == nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
	}
	return c.PostResolution(e, &domain.Resolution{Selected: sel, InputData: inputData})
}

// IsResolutionAvailable is a non-blocking poll of the entry's state.
func (c *Coordinator) IsResolutionAvailable(e *Entry) bool {
	return e.State().Terminal()
}

// MarkResolved forces the entry into Resolved without an operator
// resolution, synthesizing one from the default option. Usable without a
// prior wait.
func (c *Coordinator) MarkResolved(e *Entry) error {
	e.mu.Lock()
	if e.err.State.Terminal() {
		state := e.err.State
		e.mu.Unlock()
		return fmt.Errorf("%w: error %s is %s", domain.ErrInvalidState, e.ID(), state)
	}
	finishLocked(e, domain.StateResolved, &domain.Resolution{Selected: e.err.Default})
	e.mu.Unlock()

	c.recordOutcome(e, SourceInternal)
	return nil
}

// Cancel forces any in-flight wait on the entry to fail with ErrCancelled.
// Once Cancel returns, a subsequent wait fails immediately. Cancelling an
// already-terminal entry is a no-op.
func (c *Coordinator) Cancel(e *Entry) {
	e.mu.Lock()
	if e.err.State.Terminal() {
		e.mu.Unlock()
		return
	}
	finishLocked(e, domain.StateCancelled, nil)
	e.mu.Unlock()

	c.recordOutcome(e, SourceCancel)
}

// Clear removes the entry from the registry regardless of state,
// cancelling it first if still pending. Used by the pushing operation for
// cleanup once the outcome has been observed.
func (c *Coordinator) Clear(e *Entry) {
	c.Cancel(e)
	c.registry.Remove(e.ID())
	snap := e.Snapshot()
	c.publish(context.Background(), Event{
		Type:        "cleared",
		ErrorID:     snap.ID,
		OperationID: snap.OperationID,
		Name:        snap.Name,
		At:          time.Now().UTC(),
	})
}

// ClearOperation clears every entry pushed by the given operation. Called
// when an operation finishes so its errors do not outlive it.
func (c *Coordinator) ClearOperation(operationID string) {
	for _, e := range c.registry.List() {
		if e.Snapshot().OperationID == operationID {
			c.Clear(e)
		}
	}
}

// Shutdown cancels all pending entries and empties the registry. Tied to
// server stop.
func (c *Coordinator) Shutdown() {
	entries := c.registry.List()
	for _, e := range entries {
		c.Clear(e)
	}
	c.log.Info("Recovery coordinator shut down", "cleared", len(entries))
}

// finishLocked performs the single terminal transition of an entry. The
// caller must hold e.mu; the done channel is closed exactly once because
// every caller checks Terminal() first under the same lock.
func finishLocked(e *Entry, state domain.State, res *domain.Resolution) {
	e.err.State = state
	e.err.Resolution = res
	e.err.ResolvedAt = time.Now().UTC()
	close(e.done)
}

func outcomeLocked(e *Entry) (*domain.Continuation, error) {
	switch e.err.State {
	case domain.StateResolved:
		return e.err.Resolution.Selected, nil
	case domain.StateCancelled:
		return nil, fmt.Errorf("%w: error %s", domain.ErrCancelled, e.err.ID)
	case domain.StateTimedOut:
		return nil, fmt.Errorf("%w: error %s", domain.ErrTimedOut, e.err.ID)
	default:
		return nil, fmt.Errorf("%w: error %s is still pending", domain.ErrInvalidState, e.err.ID)
	}
}

// recordOutcome publishes the terminal event, bumps metrics, and writes the
// audit record. Runs outside the entry lock; called exactly once per entry.
// Audit and events use a background context so they are not cut short by a
// caller whose request already finished.
func (c *Coordinator) recordOutcome(e *Entry, source string) {
	snap := e.Snapshot()

	var action, inputData string
	if snap.Resolution != nil && snap.Resolution.Selected != nil {
		action = snap.Resolution.Selected.Description
		inputData = snap.Resolution.InputData
	}

	var evType string
	switch snap.State {
	case domain.StateResolved:
		evType = "resolved"
		metrics.Resolutions.WithLabelValues(action, source).Inc()
	case domain.StateTimedOut:
		evType = "timed_out"
		metrics.Timeouts.Inc()
	case domain.StateCancelled:
		evType = "cancelled"
		metrics.Cancellations.Inc()
	default:
		return
	}
	metrics.PendingErrors.Dec()

	ctx := context.Background()
	c.publish(ctx, Event{
		Type:        evType,
		ErrorID:     snap.ID,
		OperationID: snap.OperationID,
		Name:        snap.Name,
		Action:      action,
		Source:      source,
		At:          time.Now().UTC(),
	})

	if c.audit != nil {
		rec := &storage.AuditRecord{
			ID:          uuid.New().String(),
			ErrorID:     snap.ID,
			OperationID: snap.OperationID,
			Name:        snap.Name,
			Outcome:     string(snap.State),
			Action:      action,
			Source:      source,
			InputData:   inputData,
			CreatedAt:   snap.CreatedAt,
			ResolvedAt:  snap.ResolvedAt,
		}
		if err := c.audit.Record(ctx, rec); err != nil {
			c.log.Warn("Failed to record resolution audit", "error_id", snap.ID, "error", err)
		}
	}

	c.log.Info("Pending error finished",
		"error_id", snap.ID, "state", snap.State, "action", action, "source", source)
}

func (c *Coordinator) publish(ctx context.Context, ev Event) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, ev); err != nil {
		c.log.Warn("Failed to publish recovery event", "type", ev.Type, "error_id", ev.ErrorID, "error", err)
	}
}

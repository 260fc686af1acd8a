package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/recoveryd/internal/core/domain"
)

func newTestCoordinator() (*Coordinator, *Registry) {
	registry := NewRegistry()
	return NewCoordinator(registry, nil, nil), registry
}

func testOptions() []*domain.Continuation {
	return []*domain.Continuation{
		{Description: "Retry", Hint: domain.HintRetry},
		{Description: "Skip", Hint: domain.HintSkip},
		{Description: "Abort", Hint: domain.HintRaise},
	}
}

func mustPush(t *testing.T, c *Coordinator, opts []*domain.Continuation, def *domain.Continuation, timeout time.Duration) *Entry {
	t.Helper()
	e, err := c.PushError(context.Background(), errors.New("boom"), PushSpec{
		OperationID:      "op-1",
		Options:          opts,
		Default:          def,
		SelectionTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("PushError failed: %v", err)
	}
	return e
}

func TestPushError_EmptyOptions(t *testing.T) {
	c, _ := newTestCoordinator()

	_, err := c.PushError(context.Background(), errors.New("boom"), PushSpec{})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestPushError_DefaultNotMember(t *testing.T) {
	c, _ := newTestCoordinator()

	foreign := &domain.Continuation{Description: "Abort"}
	_, err := c.PushError(context.Background(), errors.New("boom"), PushSpec{
		Options: testOptions(),
		Default: foreign, // same text, different identity
	})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestPushError_DefaultFallsBackToFirstOption(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, nil, domain.NoSelectionTimeout)

	if snap := e.Snapshot(); snap.Default != opts[0] {
		t.Errorf("Expected default to fall back to Options[0]")
	}
}

func TestPushError_VisibleInListPendingUntilResolved(t *testing.T) {
	c, registry := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	pending := registry.ListPending()
	if len(pending) != 1 || pending[0].ID() != e.ID() {
		t.Fatalf("Expected pushed error in pending list, got %d entries", len(pending))
	}

	if err := c.PostResolution(e, &domain.Resolution{Selected: opts[0]}); err != nil {
		t.Fatalf("PostResolution failed: %v", err)
	}

	if pending := registry.ListPending(); len(pending) != 0 {
		t.Errorf("Expected empty pending list after resolution, got %d", len(pending))
	}
	// Still queryable by id for audit until cleared
	if _, err := registry.Get(e.ID()); err != nil {
		t.Errorf("Expected resolved error to remain queryable, got %v", err)
	}
}

func TestPostResolution_WakesWaiter(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	done := make(chan struct{})
	var cont *domain.Continuation
	var waitErr error
	go func() {
		defer close(done)
		cont, waitErr = c.WaitForContinuation(context.Background(), e)
	}()

	// Let the waiter suspend before resolving.
	time.Sleep(10 * time.Millisecond)
	if err := c.PostResolution(e, &domain.Resolution{Selected: opts[0]}); err != nil {
		t.Fatalf("PostResolution failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Waiter was not woken")
	}
	if waitErr != nil {
		t.Fatalf("Wait failed: %v", waitErr)
	}
	if cont != opts[0] {
		t.Errorf("Expected selected continuation %q, got %v", opts[0].Description, cont)
	}
	if e.State() != domain.StateResolved {
		t.Errorf("Expected state resolved, got %s", e.State())
	}
}

func TestPostResolution_DoubleResolve(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	if err := c.PostResolution(e, &domain.Resolution{Selected: opts[0]}); err != nil {
		t.Fatalf("First resolution failed: %v", err)
	}
	err := c.PostResolution(e, &domain.Resolution{Selected: opts[1]})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}

	// Stored resolution must be unchanged.
	if snap := e.Snapshot(); snap.Resolution.Selected != opts[0] {
		t.Errorf("Second resolve changed the stored resolution")
	}
}

func TestPostResolution_InvalidAction(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	foreign := &domain.Continuation{Description: "Retry"}
	err := c.PostResolution(e, &domain.Resolution{Selected: foreign})
	if !errors.Is(err, domain.ErrInvalidAction) {
		t.Errorf("Expected ErrInvalidAction for foreign continuation, got %v", err)
	}
}

func TestPostResolution_MissingRequiredInput(t *testing.T) {
	c, _ := newTestCoordinator()

	withInput := &domain.Continuation{
		Description:       "Set new volume",
		Hint:              domain.HintCustom,
		RequiredInputData: "volume in µl",
	}
	opts := []*domain.Continuation{withInput, {Description: "Abort", Hint: domain.HintRaise}}
	e := mustPush(t, c, opts, opts[1], domain.NoSelectionTimeout)

	err := c.PostResolution(e, &domain.Resolution{Selected: withInput})
	if !errors.Is(err, domain.ErrInvalidAction) {
		t.Errorf("Expected ErrInvalidAction for missing input data, got %v", err)
	}

	if err := c.PostResolution(e, &domain.Resolution{Selected: withInput, InputData: "200"}); err != nil {
		t.Errorf("Expected resolution with input data to succeed, got %v", err)
	}
}

func TestWait_ZeroTimeoutExpiresImmediately(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], 0)

	start := time.Now()
	_, err := c.WaitForContinuation(context.Background(), e)
	if !errors.Is(err, domain.ErrTimedOut) {
		t.Fatalf("Expected ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Zero timeout took %v", elapsed)
	}
	if e.State() != domain.StateTimedOut {
		t.Errorf("Expected state timed_out, got %s", e.State())
	}
}

func TestWait_TimeoutAfter100ms(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], 100*time.Millisecond)

	start := time.Now()
	_, err := c.WaitForContinuation(context.Background(), e)
	elapsed := time.Since(start)

	if !errors.Is(err, domain.ErrTimedOut) {
		t.Fatalf("Expected ErrTimedOut, got %v", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("Timed out after %v, expected >= 100ms", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("Timed out after %v, expected ~100ms", elapsed)
	}
}

func TestWait_TimeoutAutoResolvesDefault(t *testing.T) {
	c, _ := newTestCoordinator()

	auto := &domain.Continuation{Description: "Skip", Hint: domain.HintSkip, AutoResolve: true}
	opts := []*domain.Continuation{{Description: "Retry", Hint: domain.HintRetry}, auto}
	e := mustPush(t, c, opts, auto, 10*time.Millisecond)

	cont, err := c.WaitForContinuation(context.Background(), e)
	if err != nil {
		t.Fatalf("Expected auto-resolution, got %v", err)
	}
	if cont != auto {
		t.Errorf("Expected default continuation, got %v", cont)
	}
	if e.State() != domain.StateResolved {
		t.Errorf("Expected state resolved, got %s", e.State())
	}
}

func TestCancel_ThenWaitFailsImmediately(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	c.Cancel(e)

	start := time.Now()
	_, err := c.WaitForContinuation(context.Background(), e)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Cancelled wait blocked for %v", elapsed)
	}
}

func TestCancel_WakesInFlightWaiter(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	done := make(chan error, 1)
	go func() {
		_, err := c.WaitForContinuation(context.Background(), e)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Cancel(e)

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Cancel did not wake the waiter")
	}
}

func TestWait_SecondConcurrentWaiter(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		close(started)
		c.WaitForContinuation(context.Background(), e)
		close(release)
	}()

	<-started
	time.Sleep(10 * time.Millisecond)

	_, err := c.WaitForContinuation(context.Background(), e)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for second waiter, got %v", err)
	}

	c.Cancel(e)
	<-release
}

// TestResolveTimeoutRace drives resolution and a tiny timeout against each
// other repeatedly: exactly one of {Resolved, TimedOut} must be reached and
// the wait outcome must agree with the final state.
func TestResolveTimeoutRace(t *testing.T) {
	c, _ := newTestCoordinator()

	for i := 0; i < 200; i++ {
		opts := testOptions()
		e := mustPush(t, c, opts, opts[2], time.Millisecond)

		var wg sync.WaitGroup
		var cont *domain.Continuation
		var waitErr, resolveErr error

		wg.Add(2)
		go func() {
			defer wg.Done()
			cont, waitErr = c.WaitForContinuation(context.Background(), e)
		}()
		go func() {
			defer wg.Done()
			resolveErr = c.PostResolution(e, &domain.Resolution{Selected: opts[0]})
		}()
		wg.Wait()

		snap := e.Snapshot()
		switch snap.State {
		case domain.StateResolved:
			if resolveErr != nil {
				t.Fatalf("iter %d: state resolved but resolve failed: %v", i, resolveErr)
			}
			if waitErr != nil || cont != opts[0] {
				t.Fatalf("iter %d: state resolved but wait returned (%v, %v)", i, cont, waitErr)
			}
		case domain.StateTimedOut:
			if !errors.Is(waitErr, domain.ErrTimedOut) {
				t.Fatalf("iter %d: state timed_out but wait returned (%v, %v)", i, cont, waitErr)
			}
			if !errors.Is(resolveErr, domain.ErrInvalidState) {
				t.Fatalf("iter %d: state timed_out but resolve returned %v", i, resolveErr)
			}
			if snap.Resolution != nil {
				t.Fatalf("iter %d: timed out entry carries a resolution", i)
			}
		default:
			t.Fatalf("iter %d: unexpected final state %s", i, snap.State)
		}
	}
}

func TestResolveByAction(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	if err := c.ResolveByAction("unknown-id", "Retry", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := c.ResolveByAction(e.ID(), "Reboot", ""); !errors.Is(err, domain.ErrInvalidAction) {
		t.Errorf("Expected ErrInvalidAction, got %v", err)
	}
	if err := c.ResolveByAction(e.ID(), "Retry", ""); err != nil {
		t.Errorf("Expected resolve to succeed, got %v", err)
	}
	if snap := e.Snapshot(); snap.Resolution.Selected != opts[0] {
		t.Errorf("Expected Retry continuation selected")
	}
}

func TestIsResolutionAvailable(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	if c.IsResolutionAvailable(e) {
		t.Error("Expected no resolution available while pending")
	}
	if err := c.PostResolution(e, &domain.Resolution{Selected: opts[1]}); err != nil {
		t.Fatalf("PostResolution failed: %v", err)
	}
	if !c.IsResolutionAvailable(e) {
		t.Error("Expected resolution available after resolve")
	}
}

func TestMarkResolved(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	if err := c.MarkResolved(e); err != nil {
		t.Fatalf("MarkResolved failed: %v", err)
	}
	if snap := e.Snapshot(); snap.Resolution.Selected != opts[2] {
		t.Errorf("Expected synthesized resolution from default option")
	}
	if err := c.MarkResolved(e); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second MarkResolved, got %v", err)
	}
}

func TestClear_RemovesRegardlessOfState(t *testing.T) {
	c, registry := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	c.Clear(e)
	if _, err := registry.Get(e.ID()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected cleared entry to be gone, got %v", err)
	}
	// Clearing a pending entry cancels it first.
	if e.State() != domain.StateCancelled {
		t.Errorf("Expected cleared pending entry to be cancelled, got %s", e.State())
	}
}

func TestClearOperation(t *testing.T) {
	c, registry := newTestCoordinator()

	for i := 0; i < 3; i++ {
		opts := testOptions()
		_, err := c.PushError(context.Background(), errors.New("boom"), PushSpec{
			OperationID: fmt.Sprintf("op-%d", i%2),
			Options:     opts,
		})
		if err != nil {
			t.Fatalf("PushError failed: %v", err)
		}
	}

	c.ClearOperation("op-0")

	remaining := registry.List()
	if len(remaining) != 1 {
		t.Fatalf("Expected 1 remaining entry, got %d", len(remaining))
	}
	if snap := remaining[0].Snapshot(); snap.OperationID != "op-1" {
		t.Errorf("Expected op-1 to survive, got %s", snap.OperationID)
	}
}

func TestShutdown_CancelsWaitersAndEmptiesRegistry(t *testing.T) {
	c, registry := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	done := make(chan error, 1)
	go func() {
		_, err := c.WaitForContinuation(context.Background(), e)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	c.Shutdown()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrCancelled) {
			t.Errorf("Expected ErrCancelled on shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not wake the waiter")
	}
	if registry.Len() != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d entries", registry.Len())
	}
}

func TestWait_ContextCancellation(t *testing.T) {
	c, _ := newTestCoordinator()

	opts := testOptions()
	e := mustPush(t, c, opts, opts[2], domain.NoSelectionTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.WaitForContinuation(ctx, e)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Context cancellation did not wake the waiter")
	}
	// The entry itself stays pending: ctx expiry is the waiter's, not the
	// error's, terminal event.
	if e.State() != domain.StatePending {
		t.Errorf("Expected entry to remain pending, got %s", e.State())
	}
}

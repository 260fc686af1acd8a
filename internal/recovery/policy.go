package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vietddude/recoveryd/internal/core/domain"
	"github.com/vietddude/recoveryd/internal/recovery/metrics"
)

// Operation is a fallible unit of work that can be wrapped with the
// retry/skip/abort execution policy.
type Operation func(ctx context.Context) (any, error)

// PolicyConfig bounds the execution policy applied by Wrap.
type PolicyConfig struct {
	// MaxRetries caps how many times the operation is re-invoked after its
	// first failure, regardless of how many timeouts occur.
	MaxRetries int

	// SelectionTimeout bounds each continuation wait. Zero expires
	// immediately; NoSelectionTimeout waits for an explicit decision.
	SelectionTimeout time.Duration

	OperationID string
	CallID      string

	// InitialBackoff and MaxBackoff pace retry attempts. Zero values fall
	// back to the exponential backoff defaults.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SkippedResult is the sentinel returned when the operator selects the skip
// continuation for a failed operation.
type SkippedResult struct{}

// Skipped is the value a wrapped operation yields on skip.
var Skipped = SkippedResult{}

// Continuation catalogue pushed for every policy-wrapped failure.
const (
	ActionRetry = "Retry"
	ActionSkip  = "Skip"
	ActionAbort = "Abort"
)

// Wrap decorates op with the retry-with-human-in-the-loop contract: an
// uncaught failure becomes a pending error with a {Retry, Skip, Abort}
// catalogue (Abort default), and the selected continuation drives whether
// the operation is re-invoked, skipped, or aborted with the original
// failure. The wrapper owns the entries it pushes and clears them once the
// outcome is decided.
func Wrap(coord *Coordinator, cfg PolicyConfig, op Operation) Operation {
	return func(ctx context.Context) (any, error) {
		bo := backoff.NewExponentialBackOff()
		if cfg.InitialBackoff > 0 {
			bo.InitialInterval = cfg.InitialBackoff
		}
		if cfg.MaxBackoff > 0 {
			bo.MaxInterval = cfg.MaxBackoff
		}
		bo.Reset()

		retries := 0
		for {
			result, opErr := op(ctx)
			if opErr == nil {
				return result, nil
			}

			retryOpt := &domain.Continuation{Description: ActionRetry, Hint: domain.HintRetry}
			skipOpt := &domain.Continuation{Description: ActionSkip, Hint: domain.HintSkip}
			abortOpt := &domain.Continuation{Description: ActionAbort, Hint: domain.HintRaise}

			entry, pushErr := coord.PushError(ctx, opErr, PushSpec{
				OperationID:      cfg.OperationID,
				CallID:           cfg.CallID,
				Options:          []*domain.Continuation{retryOpt, skipOpt, abortOpt},
				Default:          abortOpt,
				SelectionTimeout: cfg.SelectionTimeout,
			})
			if pushErr != nil {
				return nil, pushErr
			}

			cont, waitErr := coord.WaitForContinuation(ctx, entry)
			coord.Clear(entry)

			switch {
			case waitErr == nil && cont.Hint == domain.HintRetry:
				if retries >= cfg.MaxRetries {
					return nil, &domain.RecoveryError{Path: domain.PathRetriesExhausted, Err: opErr}
				}
				retries++
				metrics.RetryAttempts.Inc()
				if err := sleepBackoff(ctx, bo); err != nil {
					return nil, err
				}

			case waitErr == nil && cont.Hint == domain.HintSkip:
				return Skipped, nil

			case waitErr == nil:
				// Abort, or a custom continuation the policy has no
				// handling for: re-raise the original failure.
				return nil, &domain.RecoveryError{Path: domain.PathAbort, Err: opErr}

			case errors.Is(waitErr, domain.ErrTimedOut):
				return nil, &domain.RecoveryError{Path: domain.PathTimeout, Err: opErr}

			case errors.Is(waitErr, domain.ErrCancelled):
				// Propagate cancellation without retry.
				return nil, waitErr

			default:
				return nil, waitErr
			}
		}
	}
}

func sleepBackoff(ctx context.Context, bo backoff.BackOff) error {
	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

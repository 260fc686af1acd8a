package storage

import (
	"context"
	"time"
)

// AuditRecord is one terminal pending error kept for audit: what failed,
// which continuation was selected, and who decided.
type AuditRecord struct {
	ID          string
	ErrorID     string
	OperationID string
	Name        string
	Outcome     string // terminal state: resolved, timed_out, cancelled
	Action      string // selected continuation description, empty when none
	Source      string // operator, timeout, timeout_auto, cancel, internal
	InputData   string
	CreatedAt   time.Time
	ResolvedAt  time.Time
}

// AuditRepository persists the audit trail of recovery outcomes.
type AuditRepository interface {
	// Record stores one terminal outcome.
	Record(ctx context.Context, rec *AuditRecord) error

	// List returns the most recent records, newest first.
	List(ctx context.Context, limit int) ([]*AuditRecord, error)
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/recoveryd/internal/infra/storage"
)

// AuditRepo implements storage.AuditRepository using PostgreSQL.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new PostgreSQL audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Record stores one terminal outcome.
func (r *AuditRepo) Record(ctx context.Context, rec *storage.AuditRecord) error {
	query := `
		INSERT INTO resolution_audit (id, error_id, operation_id, name, outcome, action, source, input_data, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.ErrorID,
		rec.OperationID,
		rec.Name,
		rec.Outcome,
		rec.Action,
		rec.Source,
		rec.InputData,
		rec.CreatedAt,
		rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first.
func (r *AuditRepo) List(ctx context.Context, limit int) ([]*storage.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, error_id, operation_id, name, outcome, action, source, input_data, created_at, resolved_at
		FROM resolution_audit
		ORDER BY resolved_at DESC
		LIMIT $1
	`

	var rows []struct {
		ID          string    `db:"id"`
		ErrorID     string    `db:"error_id"`
		OperationID string    `db:"operation_id"`
		Name        string    `db:"name"`
		Outcome     string    `db:"outcome"`
		Action      string    `db:"action"`
		Source      string    `db:"source"`
		InputData   string    `db:"input_data"`
		CreatedAt   time.Time `db:"created_at"`
		ResolvedAt  time.Time `db:"resolved_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}

	out := make([]*storage.AuditRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, &storage.AuditRecord{
			ID:          row.ID,
			ErrorID:     row.ErrorID,
			OperationID: row.OperationID,
			Name:        row.Name,
			Outcome:     row.Outcome,
			Action:      row.Action,
			Source:      row.Source,
			InputData:   row.InputData,
			CreatedAt:   row.CreatedAt,
			ResolvedAt:  row.ResolvedAt,
		})
	}
	return out, nil
}

package memory

import (
	"context"
	"sync"

	"github.com/vietddude/recoveryd/internal/infra/storage"
)

// AuditRepo implements storage.AuditRepository in memory, for deployments
// without a database.
type AuditRepo struct {
	mu      sync.RWMutex
	records []*storage.AuditRecord
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Record(ctx context.Context, rec *storage.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *AuditRepo) List(ctx context.Context, limit int) ([]*storage.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*storage.AuditRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

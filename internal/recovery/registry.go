package recovery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/recoveryd/internal/core/domain"
)

// Entry pairs a pending error with its suspension primitive. The embedded
// mutex is the per-error unit of mutual exclusion: resolution, timeout
// firing, and cancellation race on it and the first to transition the state
// wins. The done channel is closed exactly once, on the terminal transition.
type Entry struct {
	mu      sync.Mutex
	err     *domain.PendingError
	done    chan struct{}
	waiting bool
}

func newEntry(pe *domain.PendingError) *Entry {
	return &Entry{err: pe, done: make(chan struct{})}
}

// ID returns the registry identifier of the pending error.
func (e *Entry) ID() string {
	return e.err.ID
}

// State returns the current lifecycle state.
func (e *Entry) State() domain.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err.State
}

// SelectionTimeout returns the timeout the error was pushed with.
func (e *Entry) SelectionTimeout() time.Duration {
	return e.err.SelectionTimeout
}

// Snapshot returns a copy of the pending error safe for concurrent readers.
// The continuation options are shared but immutable.
func (e *Entry) Snapshot() domain.PendingError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.err
}

// Registry is the process-wide mapping of error identifiers to pending
// errors. It is a passive store: all state transitions go through the
// coordinator. Created at server start, emptied at server stop.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds an entry and returns its identifier.
func (r *Registry) Register(e *Entry) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID()] = e
	return e.ID()
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return e, nil
}

// ListPending returns a snapshot of all entries still awaiting a decision,
// oldest first. Entries may transition to a terminal state concurrently
// with enumeration; callers must tolerate reading a since-resolved error.
func (r *Registry) ListPending() []*Entry {
	return r.list(true)
}

// List returns a snapshot of all entries regardless of state, oldest first.
func (r *Registry) List() []*Entry {
	return r.list(false)
}

func (r *Registry) list(pendingOnly bool) []*Entry {
	r.mu.RLock()
	snapshot := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()

	// Filter outside the registry lock so a slow reader never blocks
	// resolution calls.
	out := snapshot[:0]
	for _, e := range snapshot {
		if pendingOnly && e.State().Terminal() {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].err, out[j].err
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}

// Remove deletes the entry for id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

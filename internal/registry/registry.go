// Package registry holds the in-process view of active approval requests.
// It is the single source of truth while a request is active; the durable
// store remains the authority after eviction or restart.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
)

type entry struct {
	mu   sync.Mutex
	rec  models.ApprovalRequest
	wake *WakeSignal
}

// Registry maps approval id to its record, per-id mutex and wake signal.
// Structural changes (insert/evict) take the coarse lock; field mutation of
// a single record takes only that record's lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
}

// New constructs an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Create registers a record along with a fresh wake signal. It returns false
// when the id is already present.
func (r *Registry) Create(rec models.ApprovalRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[rec.ID]; exists {
		return false
	}
	r.entries[rec.ID] = &entry{rec: rec, wake: newWakeSignal()}
	return true
}

// Get returns a copy of the record. Callers never receive a pointer into the
// registry, so reads need no further locking.
func (r *Registry) Get(id string) (models.ApprovalRequest, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return models.ApprovalRequest{}, false
	}
	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	return rec, true
}

// Mutate atomically applies fn to the record under its lock. It returns
// false when the id is absent. A mutation that moves status off pending
// also sets the record's wake signal.
func (r *Registry) Mutate(id string, fn func(*models.ApprovalRequest)) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	before := e.rec.Status
	fn(&e.rec)
	after := e.rec.Status
	e.mu.Unlock()

	if before == models.StatusPending && after != models.StatusPending {
		e.wake.Set()
	}
	return true
}

// Wake returns the record's wake signal.
func (r *Registry) Wake(id string) (*WakeSignal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.wake, true
}

// Signal sets the wake signal without mutating the record.
func (r *Registry) Signal(id string) {
	if sig, ok := r.Wake(id); ok {
		sig.Set()
	}
}

// Remove evicts the record. The wake signal itself is only dropped from the
// map; a waiter still holding it observes any racing Set because the signal
// buffers one edge, so no grace timer is needed beyond normal GC.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// List returns a snapshot copy of every active record.
func (r *Registry) List() []models.ApprovalRequest {
	r.mu.RLock()
	ids := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		ids = append(ids, e)
	}
	r.mu.RUnlock()

	out := make([]models.ApprovalRequest, 0, len(ids))
	for _, e := range ids {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	return out
}

// Len reports the number of active records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/registry"
	"github.com/deployops/approval-gate/internal/repository"
	"github.com/deployops/approval-gate/pkg/config"
)

// Reaper is the periodic janitor: it sweeps expired pending rows in the
// store (catching deadlines missed by a crashed or restarted process) and
// evicts old resolved records from the in-memory registry.
type Reaper struct {
	registry *registry.Registry
	store    approvalStore
	cache    *repository.DecisionCache
	cfg      config.ApprovalConfig
	logger   *zap.Logger
}

// NewReaper wires the reaper. cache may be nil.
func NewReaper(reg *registry.Registry, store approvalStore, cache *repository.DecisionCache, cfg config.ApprovalConfig, logger *zap.Logger) *Reaper {
	return &Reaper{
		registry: reg,
		store:    store,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run loops until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
			r.evict()
		}
	}
}

// sweep times out expired pending rows directly in the store and mirrors
// the result into memory so parked waiters wake up.
func (r *Reaper) sweep(ctx context.Context) {
	ids, err := r.store.SweepExpired(ctx)
	if err != nil {
		r.logger.Sugar().Errorw("expired sweep failed", "error", err)
		return
	}
	// Writing status here bypasses the transition guard on purpose: the
	// store already resolved these rows inside SweepExpired, so this is a
	// mirror of durable truth, not a competing transition. Reminder loops
	// notice the resolved status on their next check and stop themselves.
	for _, id := range ids {
		r.registry.Mutate(id, func(rec *models.ApprovalRequest) {
			rec.Status = models.StatusTimeout
			rec.DecidedBy = strPtr(models.SystemActor)
			rec.DecidedByRole = strPtr(models.SystemActor)
			rec.UpdatedAt = time.Now().UTC()
		})
	}
	if len(ids) > 0 {
		r.logger.Sugar().Infow("swept expired approvals", "count", len(ids))
	}
}

// evict drops resolved records past the retention window, and pending
// records stuck past deadline + grace. A healthy pending entry belongs to
// the sweep; one that outlives the grace window means the sweep cannot fix
// it (store divergence, sweep failures) and holding it forever only leaks
// memory, so it is evicted with an anomaly log. Records with a zero
// createdAt are never evicted.
func (r *Reaper) evict() {
	now := time.Now()
	cutoff := now.Add(-r.cfg.Retention)
	evicted := 0
	for _, rec := range r.registry.List() {
		if rec.CreatedAt.IsZero() {
			continue
		}
		if !rec.Status.Resolved() {
			if now.After(rec.Deadline().Add(r.cfg.EvictionGrace)) {
				r.logger.Sugar().Errorw("evicting pending approval stuck past deadline and grace",
					"approval_id", rec.ID,
					"deadline", rec.Deadline(),
					"grace", r.cfg.EvictionGrace,
				)
				r.registry.Remove(rec.ID)
				evicted++
			}
			continue
		}
		resolvedAt := rec.UpdatedAt
		if resolvedAt.IsZero() {
			resolvedAt = rec.CreatedAt
		}
		if resolvedAt.Before(cutoff) {
			if r.cache != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				r.cache.SetDecision(ctx, &rec)
				cancel()
			}
			r.registry.Remove(rec.ID)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Sugar().Infow("evicted approvals", "count", evicted)
	}
}

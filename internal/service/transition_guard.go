package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/registry"
	"github.com/deployops/approval-gate/internal/repository"
	"github.com/deployops/approval-gate/pkg/config"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

// reminderCanceler stops the reminder loop for one approval.
type reminderCanceler interface {
	Cancel(approvalID string)
}

// TransitionGuard is the only component that moves an approval out of
// pending. Every decision path (chat callback, web link, API, timeout
// enforcement) funnels through Apply, which serializes concurrent attempts
// and guarantees the first writer wins.
type TransitionGuard struct {
	registry  *registry.Registry
	store     approvalStore
	cache     *repository.DecisionCache
	cancelers []reminderCanceler
	metrics   *MetricsService
	cfg       config.ApprovalConfig
	logger    *zap.Logger

	holder string

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewTransitionGuard wires the guard. reminders and metrics may be nil.
func NewTransitionGuard(reg *registry.Registry, store approvalStore, cache *repository.DecisionCache, cfg config.ApprovalConfig, logger *zap.Logger) *TransitionGuard {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "approval-gate"
	}
	return &TransitionGuard{
		registry: reg,
		store:    store,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		holder:   fmt.Sprintf("%s-%d", host, os.Getpid()),
		inflight: make(map[string]struct{}),
	}
}

// AddCanceler attaches a component whose per-approval timers must stop once
// the approval resolves. The scheduler and enforcer both need the guard for
// their own transitions, so they are wired after construction.
func (g *TransitionGuard) AddCanceler(rc reminderCanceler) {
	g.cancelers = append(g.cancelers, rc)
}

// SetMetrics attaches the metrics service.
func (g *TransitionGuard) SetMetrics(m *MetricsService) {
	g.metrics = m
}

// Transition describes one requested status change.
type Transition struct {
	ApprovalID string
	Status     models.ApprovalStatus
	Actor      string
	ActorRole  string
	Comment    string
}

// Apply attempts the transition and returns the resolved record.
//
// Returns ErrInProgress when another attempt on the same id is mid-flight in
// this process, ErrAlreadyProcessed when the approval was resolved before
// this attempt reached the store (the record returned alongside it carries
// who decided and when, where available), ErrNotFound when the id is
// unknown, and ErrStoreUnavailable when the advisory lock or the status
// write stayed unavailable through the retry budget.
func (g *TransitionGuard) Apply(ctx context.Context, tr Transition) (*models.ApprovalRequest, error) {
	if !tr.Status.Resolved() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "transition target must be a resolved status")
	}

	if !g.markInflight(tr.ApprovalID) {
		return nil, appErrors.ErrInProgress
	}
	defer g.clearInflight(tr.ApprovalID)

	// Cheap pre-check against the in-memory record. A resolved or unknown
	// registry entry still falls through to the store, which stays
	// authoritative for ids evicted from memory.
	if rec, ok := g.registry.Get(tr.ApprovalID); ok && rec.Status.Resolved() {
		copied := rec
		return &copied, appErrors.ErrAlreadyProcessed
	}

	if err := g.acquireLock(ctx, tr.ApprovalID); err != nil {
		return nil, err
	}

	applied, err := g.updateStatus(ctx, tr)
	if err != nil {
		g.releaseLock(tr.ApprovalID)
		if repository.IsNotFound(err) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code,
			appErrors.ErrStoreUnavailable.Status, "could not record the decision")
	}
	if !applied {
		// Lost the race to another decider. UpdateStatus only clears the
		// lock on success, so release the one we hold, then read back what
		// won so the caller can say who decided.
		g.releaseLock(tr.ApprovalID)
		winner, readErr := g.store.GetByID(ctx, tr.ApprovalID)
		if readErr != nil {
			return nil, appErrors.ErrAlreadyProcessed
		}
		return winner, appErrors.ErrAlreadyProcessed
	}

	now := time.Now().UTC()
	var resolved *models.ApprovalRequest
	mutated := g.registry.Mutate(tr.ApprovalID, func(rec *models.ApprovalRequest) {
		rec.Status = tr.Status
		rec.DecidedBy = strPtr(tr.Actor)
		rec.DecidedByRole = strPtr(tr.ActorRole)
		if tr.Comment != "" {
			rec.Comment = strPtr(tr.Comment)
		}
		rec.UpdatedAt = now
		copied := *rec
		resolved = &copied
	})
	if !mutated {
		// Evicted from memory while still pending in the store. Read the
		// authoritative row back for the caller.
		rec, err := g.store.GetByID(ctx, tr.ApprovalID)
		if err != nil {
			return nil, fmt.Errorf("reload approval %s after transition: %w", tr.ApprovalID, err)
		}
		resolved = rec
	}

	for _, rc := range g.cancelers {
		rc.Cancel(tr.ApprovalID)
	}
	if g.cache != nil {
		g.cache.SetDecision(ctx, resolved)
	}
	if g.metrics != nil {
		g.metrics.ObserveDecision(resolved)
	}

	g.logger.Sugar().Infow("approval resolved",
		"approval_id", tr.ApprovalID,
		"status", tr.Status,
		"actor", tr.Actor,
		"role", tr.ActorRole,
	)
	return resolved, nil
}

// updateStatus writes the transition to the store, retrying transient
// failures before reporting upward. Not-found is terminal.
func (g *TransitionGuard) updateStatus(ctx context.Context, tr Transition) (bool, error) {
	params := repository.UpdateStatusParams{
		ID:        tr.ApprovalID,
		Status:    tr.Status,
		Actor:     tr.Actor,
		ActorRole: tr.ActorRole,
		Comment:   tr.Comment,
	}
	var applied bool
	var err error
	for attempt := 0; attempt <= g.cfg.StoreRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(g.cfg.StoreRetryDelay):
			}
		}
		applied, err = g.store.UpdateStatus(ctx, params)
		if err == nil {
			return applied, nil
		}
		if repository.IsNotFound(err) {
			return false, err
		}
		g.logger.Sugar().Warnw("status write failed, retrying",
			"approval_id", tr.ApprovalID, "attempt", attempt+1, "error", err)
	}
	return false, err
}

func (g *TransitionGuard) markInflight(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[id]; busy {
		return false
	}
	g.inflight[id] = struct{}{}
	return true
}

func (g *TransitionGuard) clearInflight(id string) {
	g.mu.Lock()
	delete(g.inflight, id)
	g.mu.Unlock()
}

func (g *TransitionGuard) acquireLock(ctx context.Context, id string) error {
	var lastErr error
	for attempt := 0; attempt <= g.cfg.LockRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.cfg.LockRetryDelay):
			}
		}
		ok, err := g.store.AcquireLock(ctx, id, g.holder, g.cfg.LockTTL)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return nil
		}
	}
	if lastErr != nil {
		g.logger.Sugar().Errorw("advisory lock unavailable", "approval_id", id, "error", lastErr)
		return appErrors.ErrStoreUnavailable
	}
	return appErrors.ErrInProgress
}

func (g *TransitionGuard) releaseLock(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.store.ReleaseLock(ctx, id, g.holder); err != nil {
		g.logger.Sugar().Warnw("release advisory lock", "approval_id", id, "error", err)
	}
}

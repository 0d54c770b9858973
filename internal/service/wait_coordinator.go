package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/registry"
	"github.com/deployops/approval-gate/internal/repository"
	"github.com/deployops/approval-gate/pkg/config"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

// WaitCoordinator parks the caller of a blocking wait until its approval is
// resolved or the deadline passes. Wake signals are a hint only: after every
// wake the coordinator re-reads the record, and at the deadline the durable
// store gets the last word.
type WaitCoordinator struct {
	registry *registry.Registry
	store    approvalStore
	guard    *TransitionGuard
	cfg      config.ApprovalConfig
	logger   *zap.Logger
}

// NewWaitCoordinator wires the coordinator.
func NewWaitCoordinator(reg *registry.Registry, store approvalStore, guard *TransitionGuard, cfg config.ApprovalConfig, logger *zap.Logger) *WaitCoordinator {
	return &WaitCoordinator{
		registry: reg,
		store:    store,
		guard:    guard,
		cfg:      cfg,
		logger:   logger,
	}
}

// Wait blocks until the approval resolves or its deadline passes, and
// returns exactly one terminal outcome. Cancellation of ctx aborts the wait
// without deciding the approval.
func (w *WaitCoordinator) Wait(ctx context.Context, approvalID string) (*models.DecisionResult, error) {
	started := time.Now()

	rec, ok := w.registry.Get(approvalID)
	if !ok {
		stored, err := w.store.GetByID(ctx, approvalID)
		if err != nil {
			if isNotFoundErr(err) {
				return nil, appErrors.ErrNotFound
			}
			return nil, fmt.Errorf("load approval %s: %w", approvalID, err)
		}
		rec = *stored
	}
	if rec.Status.Resolved() {
		return w.result(&rec, started), nil
	}

	deadline := rec.Deadline()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		slice := w.cfg.WaitSlice
		if remaining < slice {
			slice = remaining
		}
		signal, ok := w.registry.Wake(approvalID)
		if !ok {
			// Evicted mid-wait. The store decides.
			break
		}
		woken := signal.Wait(ctx, slice)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cur, ok := w.registry.Get(approvalID)
		if !ok {
			break
		}
		if cur.Status.Resolved() {
			return w.result(&cur, started), nil
		}
		if woken {
			w.logger.Sugar().Debugw("wake without resolution, continuing wait", "approval_id", approvalID)
		}
	}

	return w.finish(ctx, approvalID, started)
}

// finish runs after the deadline: one authoritative store read, and a forced
// timeout transition when the row is still pending.
func (w *WaitCoordinator) finish(ctx context.Context, approvalID string, started time.Time) (*models.DecisionResult, error) {
	stored, err := w.store.GetByID(ctx, approvalID)
	if err != nil {
		if isNotFoundErr(err) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("final read for approval %s: %w", approvalID, err)
	}
	if stored.Status.Resolved() {
		w.syncRegistry(stored)
		return w.result(stored, started), nil
	}

	resolved, err := w.guard.Apply(ctx, Transition{
		ApprovalID: approvalID,
		Status:     models.StatusTimeout,
		Actor:      models.SystemActor,
		ActorRole:  models.SystemActor,
		Comment:    "no decision before deadline",
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrAlreadyProcessed.Code) || appErrors.Is(err, appErrors.ErrInProgress.Code) {
			// A human decision landed between the read and the forced
			// timeout. Give the transition a moment to commit, then take
			// whatever the store says.
			time.Sleep(w.cfg.LockRetryDelay)
			stored, rerr := w.store.GetByID(ctx, approvalID)
			if rerr != nil {
				return nil, fmt.Errorf("re-read after lost timeout race on %s: %w", approvalID, rerr)
			}
			w.syncRegistry(stored)
			return w.result(stored, started), nil
		}
		return nil, fmt.Errorf("force timeout on %s: %w", approvalID, err)
	}
	return w.result(resolved, started), nil
}

func (w *WaitCoordinator) syncRegistry(stored *models.ApprovalRequest) {
	w.registry.Mutate(stored.ID, func(rec *models.ApprovalRequest) {
		rec.Status = stored.Status
		rec.DecidedBy = stored.DecidedBy
		rec.DecidedByRole = stored.DecidedByRole
		rec.Comment = stored.Comment
		rec.UpdatedAt = stored.UpdatedAt
	})
}

func (w *WaitCoordinator) result(rec *models.ApprovalRequest, started time.Time) *models.DecisionResult {
	waited := time.Since(started)
	return &models.DecisionResult{
		ApprovalID:    rec.ID,
		Status:        rec.Status,
		DecidedBy:     rec.DecidedByName(),
		DecidedByRole: strVal(rec.DecidedByRole),
		Comment:       strVal(rec.Comment),
		Waited:        waited,
		WaitedSeconds: waited.Seconds(),
	}
}

func isNotFoundErr(err error) bool {
	return appErrors.Is(err, appErrors.ErrNotFound.Code) || repository.IsNotFound(err)
}

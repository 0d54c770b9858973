package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

// TimeoutEnforcer fires a forced timeout transition when an approval
// reaches its deadline with nobody waiting on it. Waiting callers enforce
// their own deadline; this covers approvals whose caller disconnected and
// keeps chat messages and build aborts from going stale.
type TimeoutEnforcer struct {
	guard  *TransitionGuard
	build  BuildSystem
	notify Notifier
	logger *zap.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimeoutEnforcer wires the enforcer. build and notify may be nil.
func NewTimeoutEnforcer(guard *TransitionGuard, build BuildSystem, notify Notifier, logger *zap.Logger) *TimeoutEnforcer {
	return &TimeoutEnforcer{
		guard:  guard,
		build:  build,
		notify: notify,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules the one-shot deadline for one approval.
func (e *TimeoutEnforcer) Arm(ctx context.Context, rec models.ApprovalRequest) {
	delay := time.Until(rec.Deadline())
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	if _, armed := e.timers[rec.ID]; armed {
		e.mu.Unlock()
		return
	}
	e.timers[rec.ID] = time.AfterFunc(delay, func() {
		e.fire(ctx, rec)
	})
	e.mu.Unlock()
}

// Cancel disarms the deadline timer, if armed.
func (e *TimeoutEnforcer) Cancel(approvalID string) {
	e.mu.Lock()
	timer, ok := e.timers[approvalID]
	if ok {
		delete(e.timers, approvalID)
	}
	e.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

// StopAll disarms every timer.
func (e *TimeoutEnforcer) StopAll() {
	e.mu.Lock()
	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
	e.mu.Unlock()
}

func (e *TimeoutEnforcer) fire(ctx context.Context, rec models.ApprovalRequest) {
	e.Cancel(rec.ID)

	resolved, err := e.guard.Apply(ctx, Transition{
		ApprovalID: rec.ID,
		Status:     models.StatusTimeout,
		Actor:      models.SystemActor,
		ActorRole:  models.SystemActor,
		Comment:    "no decision before deadline",
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrAlreadyProcessed.Code) || appErrors.Is(err, appErrors.ErrInProgress.Code) {
			return
		}
		e.logger.Sugar().Errorw("deadline enforcement failed", "approval_id", rec.ID, "error", err)
		return
	}

	e.logger.Sugar().Infow("approval timed out", "approval_id", rec.ID)
	if e.build != nil {
		if err := e.build.AbortBuild(ctx, resolved); err != nil {
			e.logger.Sugar().Warnw("abort after timeout failed", "approval_id", rec.ID, "error", err)
		}
	}
	if e.notify != nil {
		if err := e.notify.NotifyResolved(ctx, resolved); err != nil {
			e.logger.Sugar().Warnw("timeout notification failed", "approval_id", rec.ID, "error", err)
		}
	}
}

package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/pkg/jobs"
)

// deliverer is the synchronous notification surface the dispatcher wraps.
// *TelegramNotifier satisfies it.
type deliverer interface {
	NotifyRequested(ctx context.Context, rec *models.ApprovalRequest, decisionURL string) error
	NotifyReminder(ctx context.Context, rec *models.ApprovalRequest, decisionURL string, elapsed time.Duration) error
	NotifyResolved(ctx context.Context, rec *models.ApprovalRequest) error
	NotifyBuildOutcome(ctx context.Context, rec *models.ApprovalRequest, outcome models.BuildOutcome) error
}

// Dispatcher pushes notification delivery onto a background queue so the
// approval lifecycle never blocks on the Telegram API. The queue retries
// transient failures and drops a delivery after its retry budget.
type Dispatcher struct {
	queue    *jobs.Queue
	delegate deliverer
	logger   *zap.Logger
}

// NewDispatcher wraps delegate with queue-backed delivery. The caller owns
// the queue lifecycle.
func NewDispatcher(queue *jobs.Queue, delegate deliverer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, delegate: delegate, logger: logger}
}

func (d *Dispatcher) NotifyRequested(ctx context.Context, rec *models.ApprovalRequest, decisionURL string) error {
	snapshot := *rec
	return d.submit("requested", rec.ID, func(taskCtx context.Context) error {
		return d.delegate.NotifyRequested(taskCtx, &snapshot, decisionURL)
	})
}

func (d *Dispatcher) NotifyReminder(ctx context.Context, rec *models.ApprovalRequest, decisionURL string, elapsed time.Duration) error {
	snapshot := *rec
	return d.submit("reminder", rec.ID, func(taskCtx context.Context) error {
		return d.delegate.NotifyReminder(taskCtx, &snapshot, decisionURL, elapsed)
	})
}

func (d *Dispatcher) NotifyResolved(ctx context.Context, rec *models.ApprovalRequest) error {
	snapshot := *rec
	return d.submit("resolved", rec.ID, func(taskCtx context.Context) error {
		return d.delegate.NotifyResolved(taskCtx, &snapshot)
	})
}

func (d *Dispatcher) NotifyBuildOutcome(ctx context.Context, rec *models.ApprovalRequest, outcome models.BuildOutcome) error {
	snapshot := *rec
	return d.submit("build_outcome", rec.ID, func(taskCtx context.Context) error {
		return d.delegate.NotifyBuildOutcome(taskCtx, &snapshot, outcome)
	})
}

func (d *Dispatcher) submit(kind, approvalID string, run func(context.Context) error) error {
	err := d.queue.Submit(jobs.Task{
		ID:   fmt.Sprintf("%s-%s", kind, approvalID),
		Kind: "notify_" + kind,
		Run:  run,
	})
	if err != nil {
		d.logger.Sugar().Errorw("notification enqueue failed",
			"kind", kind, "approval_id", approvalID, "error", err)
		return err
	}
	return nil
}

package service

import (
	"context"
	"time"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/repository"
)

// approvalStore is the durable-store surface the coordinator services need.
// *repository.ApprovalRepository satisfies it.
type approvalStore interface {
	Create(ctx context.Context, rec *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error)
	AcquireLock(ctx context.Context, id, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, id, holder string) error
	UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) (bool, error)
	IncrementReminderCount(ctx context.Context, id string) (int, error)
	SweepExpired(ctx context.Context) ([]string, error)
	ListHistory(ctx context.Context, approvalID string) ([]models.HistoryEntry, error)
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	ListHistoryRange(ctx context.Context, from, to time.Time) ([]models.HistoryEntry, error)
	Stats(ctx context.Context) (*models.ApprovalStats, error)
}

// Notifier delivers human-facing messages about an approval. Implementations
// must be safe for concurrent use; delivery failures are the implementation's
// problem to retry or drop, callers never block on them.
type Notifier interface {
	// NotifyRequested announces a new pending approval to its owners.
	NotifyRequested(ctx context.Context, rec *models.ApprovalRequest, decisionURL string) error
	// NotifyReminder nudges the owners about a still-pending approval.
	NotifyReminder(ctx context.Context, rec *models.ApprovalRequest, decisionURL string, elapsed time.Duration) error
	// NotifyResolved broadcasts the final outcome.
	NotifyResolved(ctx context.Context, rec *models.ApprovalRequest) error
	// NotifyBuildOutcome reports how the build went after the gate opened.
	NotifyBuildOutcome(ctx context.Context, rec *models.ApprovalRequest, outcome models.BuildOutcome) error
}

// BuildSystem resumes or aborts the pipeline run that is blocked on an
// approval, and fetches its logs for display on the decision page.
type BuildSystem interface {
	ContinueBuild(ctx context.Context, rec *models.ApprovalRequest) error
	AbortBuild(ctx context.Context, rec *models.ApprovalRequest) error
	FetchLogs(ctx context.Context, job, build string, tail int) (*models.BuildLog, error)
}

// PermissionSource answers who may decide approvals for a project.
type PermissionSource interface {
	// CanDecide reports whether username may decide for project, and the
	// resolved identity when it may.
	CanDecide(project, username string) (models.Identity, bool)
	// OwnersFor lists the identities that should be notified for project.
	OwnersFor(project string) []models.Identity
	// Settings returns per-project approval overrides, nil when none.
	Settings(project string) *models.ApprovalSettings
}

func strPtr(s string) *string { return &s }

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// noopNotifier is used when no chat transport is configured.
type noopNotifier struct{}

func (noopNotifier) NotifyRequested(context.Context, *models.ApprovalRequest, string) error {
	return nil
}

func (noopNotifier) NotifyReminder(context.Context, *models.ApprovalRequest, string, time.Duration) error {
	return nil
}

func (noopNotifier) NotifyResolved(context.Context, *models.ApprovalRequest) error {
	return nil
}

func (noopNotifier) NotifyBuildOutcome(context.Context, *models.ApprovalRequest, models.BuildOutcome) error {
	return nil
}

// NoopNotifier returns a Notifier that discards everything.
func NoopNotifier() Notifier { return noopNotifier{} }

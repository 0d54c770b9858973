package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/dto"
	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/registry"
	"github.com/deployops/approval-gate/internal/repository"
	"github.com/deployops/approval-gate/pkg/config"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

// Decision sources, recorded in the audit trail comment.
const (
	SourceAPI  = "api"
	SourceChat = "chat"
	SourceWeb  = "web"
)

// ApprovalService is the front door of the lifecycle: it creates approvals
// and parks the caller, funnels every human decision through the transition
// guard, and serves status, listing and audit reads.
type ApprovalService struct {
	registry  *registry.Registry
	store     approvalStore
	cache     *repository.DecisionCache
	guard     *TransitionGuard
	wait      *WaitCoordinator
	reminders *ReminderScheduler
	enforcer  *TimeoutEnforcer
	notifier  Notifier
	build     BuildSystem
	perms     PermissionSource
	links     *LinkService
	metrics   *MetricsService
	cfg       config.ApprovalConfig
	logger    *zap.Logger

	// runCtx outlives any single request: reminder loops and deadline
	// timers keep running after the waiting caller disconnects.
	runCtx context.Context
}

// ApprovalServiceDeps bundles the collaborators for construction.
type ApprovalServiceDeps struct {
	Registry  *registry.Registry
	Store     approvalStore
	Cache     *repository.DecisionCache
	Guard     *TransitionGuard
	Wait      *WaitCoordinator
	Reminders *ReminderScheduler
	Enforcer  *TimeoutEnforcer
	Notifier  Notifier
	Build     BuildSystem
	Perms     PermissionSource
	Links     *LinkService
	Metrics   *MetricsService
	Config    config.ApprovalConfig
	Logger    *zap.Logger
	RunCtx    context.Context
}

// NewApprovalService wires the service.
func NewApprovalService(deps ApprovalServiceDeps) *ApprovalService {
	runCtx := deps.RunCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NoopNotifier()
	}
	return &ApprovalService{
		registry:  deps.Registry,
		store:     deps.Store,
		cache:     deps.Cache,
		guard:     deps.Guard,
		wait:      deps.Wait,
		reminders: deps.Reminders,
		enforcer:  deps.Enforcer,
		notifier:  notifier,
		build:     deps.Build,
		perms:     deps.Perms,
		links:     deps.Links,
		metrics:   deps.Metrics,
		cfg:       deps.Config,
		logger:    deps.Logger,
		runCtx:    runCtx,
	}
}

// CreateAndWait registers a new approval, notifies its owners, and blocks
// until it resolves one way or another. A build that was already rejected
// for the same job, build and environment short-circuits to rejected
// without bothering the owners again.
func (s *ApprovalService) CreateAndWait(ctx context.Context, req dto.WaitRequest) (*models.DecisionResult, error) {
	req.Project = strings.TrimSpace(req.Project)
	req.Environment = strings.TrimSpace(req.Environment)
	req.Build = strings.TrimSpace(req.Build)
	if req.Project == "" || req.Environment == "" || req.Build == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "project, env and build are required")
	}
	job := req.Job
	if job == "" {
		job = req.Project
	}

	if s.cache != nil {
		if rejected, by := s.cache.IsRejected(ctx, job, req.Build, req.Environment); rejected {
			s.logger.Sugar().Infow("re-triggered build was already rejected",
				"project", req.Project, "build", req.Build, "env", req.Environment, "rejected_by", by)
			return &models.DecisionResult{
				Status:    models.StatusRejected,
				DecidedBy: by,
				Comment:   "this build was already rejected",
			}, nil
		}
	}

	// A retriggered pipeline step for the same build attaches to the
	// approval already in flight instead of spamming the owners twice.
	if existing, ok := s.findPending(req.Project, req.Environment, req.Build); ok {
		s.logger.Sugar().Infow("joining in-flight approval", "approval_id", existing.ID)
		return s.wait.Wait(ctx, existing.ID)
	}

	var owners []models.Identity
	if s.perms != nil {
		owners = s.perms.OwnersFor(req.Project)
	}
	if len(owners) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNoOwners,
			fmt.Sprintf("no owners configured for project %q", req.Project))
	}

	now := time.Now().UTC()
	rec := models.ApprovalRequest{
		ID:             models.NewApprovalID(req.Project, req.Environment, req.Build, now),
		Project:        req.Project,
		Environment:    req.Environment,
		BuildRef:       req.Build,
		JobRef:         job,
		Version:        req.Version,
		Description:    req.Description,
		ActionKind:     req.Action,
		CallbackURL:    req.CallbackURL,
		TimeoutSeconds: int(s.timeoutFor(req).Seconds()),
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		OwnerList:      owners,
	}

	if !s.registry.Create(rec) {
		// Same project, env and build within one second. Attach to the
		// record that won.
		return s.wait.Wait(ctx, rec.ID)
	}
	if err := s.store.Create(ctx, &rec); err != nil {
		s.registry.Remove(rec.ID)
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code,
			appErrors.ErrStoreUnavailable.Status, "could not persist approval request")
	}

	if s.metrics != nil {
		s.metrics.ApprovalCreated()
	}
	s.enforcer.Arm(s.runCtx, rec)
	if s.reminders != nil {
		s.reminders.Schedule(s.runCtx, rec)
	}
	if err := s.notifier.NotifyRequested(s.runCtx, &rec, s.decisionURL(rec.ID)); err != nil {
		s.logger.Sugar().Warnw("request notification failed", "approval_id", rec.ID, "error", err)
	}

	s.logger.Sugar().Infow("approval requested",
		"approval_id", rec.ID,
		"project", rec.Project,
		"env", rec.Environment,
		"build", rec.BuildRef,
		"timeout_seconds", rec.TimeoutSeconds,
		"owners", len(owners),
	)
	return s.wait.Wait(ctx, rec.ID)
}

// SubmitDecision applies one human decision. All three decision surfaces
// (API, chat callback, web page) call this; the transition guard below it
// makes the first one win and the rest fail loudly.
func (s *ApprovalService) SubmitDecision(ctx context.Context, approvalID string, action models.DecisionAction, username, comment, source string) (*models.ApprovalRequest, error) {
	status, ok := action.Status()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action %q", action))
	}

	rec, err := s.Status(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Resolved() {
		return rec, alreadyDecidedError(rec)
	}

	identity, allowed := models.Identity{Username: username}, false
	if s.perms != nil {
		identity, allowed = s.perms.CanDecide(rec.Project, username)
	}
	if !allowed {
		s.logger.Sugar().Warnw("decision denied",
			"approval_id", approvalID, "username", username, "source", source)
		return nil, appErrors.Clone(appErrors.ErrForbidden,
			fmt.Sprintf("user %q may not decide approvals for project %q", username, rec.Project))
	}

	resolved, err := s.guard.Apply(ctx, Transition{
		ApprovalID: approvalID,
		Status:     status,
		Actor:      identity.Username,
		ActorRole:  identity.Role,
		Comment:    comment,
	})
	if err != nil {
		if appErrors.Is(err, appErrors.ErrAlreadyProcessed.Code) && resolved != nil {
			return resolved, alreadyDecidedError(resolved)
		}
		return nil, err
	}

	s.afterDecision(resolved, source)
	return resolved, nil
}

// alreadyDecidedError carries who won the race so every decision surface
// can tell the loser.
func alreadyDecidedError(rec *models.ApprovalRequest) *appErrors.Error {
	by := rec.DecidedByName()
	if by == "" {
		by = models.SystemActor
	}
	msg := fmt.Sprintf("already decided: %s by %s", rec.Status, by)
	if !rec.UpdatedAt.IsZero() {
		msg += " at " + rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return appErrors.Clone(appErrors.ErrAlreadyProcessed, msg)
}

// afterDecision runs the side effects of a human decision. Failures are
// logged, never surfaced: the decision itself already committed.
func (s *ApprovalService) afterDecision(rec *models.ApprovalRequest, source string) {
	if err := s.notifier.NotifyResolved(s.runCtx, rec); err != nil {
		s.logger.Sugar().Warnw("resolution notification failed", "approval_id", rec.ID, "error", err)
	}

	switch rec.Status {
	case models.StatusApproved:
		if s.build != nil && rec.CallbackURL != "" {
			if err := s.build.ContinueBuild(s.runCtx, rec); err != nil {
				s.logger.Sugar().Errorw("continue build failed", "approval_id", rec.ID, "error", err)
			}
		}
	case models.StatusRejected:
		if s.cache != nil {
			s.cache.MarkRejected(s.runCtx, rec.JobRef, rec.BuildRef, rec.Environment, rec.DecidedByName())
		}
		if s.build != nil {
			if err := s.build.AbortBuild(s.runCtx, rec); err != nil {
				s.logger.Sugar().Errorw("abort build failed", "approval_id", rec.ID, "error", err)
			}
		}
	}

	s.logger.Sugar().Infow("decision applied",
		"approval_id", rec.ID, "status", rec.Status, "by", rec.DecidedByName(), "source", source)
}

// Status returns the current record: memory first, then the decision
// cache, then the durable store.
func (s *ApprovalService) Status(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	if rec, ok := s.registry.Get(approvalID); ok {
		return &rec, nil
	}
	if s.cache != nil {
		if rec, err := s.cache.GetDecision(ctx, approvalID); err == nil {
			return rec, nil
		}
	}
	rec, err := s.store.GetByID(ctx, approvalID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("load approval %s: %w", approvalID, err)
	}
	return rec, nil
}

// List returns approvals matching the filter from the durable store.
func (s *ApprovalService) List(ctx context.Context, query dto.ApprovalListQuery) ([]models.ApprovalRequest, error) {
	filter := models.ApprovalFilter{
		Project:     strings.TrimSpace(query.Project),
		Environment: strings.TrimSpace(query.Environment),
		Limit:       query.Limit,
		Offset:      query.Offset,
	}
	for _, raw := range strings.Split(query.Status, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status := models.ApprovalStatus(raw)
		switch status {
		case models.StatusPending, models.StatusApproved, models.StatusRejected, models.StatusTimeout:
			filter.Status = append(filter.Status, status)
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", raw))
		}
	}
	return s.store.List(ctx, filter)
}

// History returns the audit trail for one approval.
func (s *ApprovalService) History(ctx context.Context, approvalID string) ([]models.HistoryEntry, error) {
	entries, err := s.store.ListHistory(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", approvalID, err)
	}
	return entries, nil
}

// Stats returns counts by status from the durable store.
func (s *ApprovalService) Stats(ctx context.Context) (*models.ApprovalStats, error) {
	return s.store.Stats(ctx)
}

// BuildLogs proxies console output from the build system for the decision
// page.
func (s *ApprovalService) BuildLogs(ctx context.Context, job, build string, tail int) (*models.BuildLog, error) {
	if s.build == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no build system configured")
	}
	return s.build.FetchLogs(ctx, job, build, tail)
}

// RecordBuildOutcome appends the post-gate build result to the audit trail
// of the approval that opened the gate.
func (s *ApprovalService) RecordBuildOutcome(ctx context.Context, outcome models.BuildOutcome) error {
	rec, ok := s.findLatest(outcome.Project, outcome.Environment, outcome.BuildRef)
	if !ok {
		list, err := s.store.List(ctx, models.ApprovalFilter{
			Project:     outcome.Project,
			Environment: outcome.Environment,
			Limit:       1,
		})
		if err != nil || len(list) == 0 {
			return appErrors.ErrNotFound
		}
		rec = list[0]
	}
	approvalID := rec.ID

	comment := fmt.Sprintf("build %s finished with status %s after %.0fs",
		outcome.BuildRef, outcome.Status, outcome.DurationSeconds)
	if outcome.BuildURL != "" {
		comment += " (" + outcome.BuildURL + ")"
	}
	entry := models.HistoryEntry{
		ApprovalID: approvalID,
		Action:     "build_" + strings.ToLower(outcome.Status),
		Actor:      models.SystemActor,
		ActorRole:  models.SystemActor,
		Comment:    comment,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AppendHistory(ctx, &entry); err != nil {
		return err
	}
	if rec.OwnerList == nil && s.perms != nil {
		rec.OwnerList = s.perms.OwnersFor(rec.Project)
	}
	if err := s.notifier.NotifyBuildOutcome(s.runCtx, &rec, outcome); err != nil {
		s.logger.Sugar().Warnw("build outcome notification failed",
			"approval_id", approvalID, "error", err)
	}
	s.logger.Sugar().Infow("build outcome recorded",
		"approval_id", approvalID, "status", outcome.Status)
	return nil
}

// DecisionPageData assembles everything the web decision page renders.
func (s *ApprovalService) DecisionPageData(ctx context.Context, approvalID string) (*models.ApprovalRequest, *models.BuildLog, error) {
	rec, err := s.Status(ctx, approvalID)
	if err != nil {
		return nil, nil, err
	}
	var logs *models.BuildLog
	if s.build != nil && rec.JobRef != "" {
		if fetched, err := s.build.FetchLogs(ctx, rec.JobRef, rec.BuildRef, 100); err == nil {
			logs = fetched
		} else {
			s.logger.Sugar().Debugw("console fetch failed", "approval_id", approvalID, "error", err)
		}
	}
	return rec, logs, nil
}

// VerifyLink validates a web decision token for an approval.
func (s *ApprovalService) VerifyLink(token, approvalID string) error {
	if s.links == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "decision links are not configured")
	}
	return s.links.Verify(token, approvalID)
}

// DecisionURL exposes the signed web link for one approval.
func (s *ApprovalService) DecisionURL(approvalID string) string {
	return s.decisionURL(approvalID)
}

// LookupByTelegramID maps a chat account to a configured user.
func (s *ApprovalService) LookupByTelegramID(id int64) (models.Identity, bool) {
	type telegramLookup interface {
		LookupByTelegramID(id int64) (models.Identity, bool)
	}
	if lookup, ok := s.perms.(telegramLookup); ok {
		return lookup.LookupByTelegramID(id)
	}
	return models.Identity{}, false
}

func (s *ApprovalService) decisionURL(id string) string {
	if s.links == nil {
		return ""
	}
	return s.links.DecisionURL(id)
}

func (s *ApprovalService) timeoutFor(req dto.WaitRequest) time.Duration {
	timeout := s.cfg.DefaultTimeout
	if s.perms != nil {
		if settings := s.perms.Settings(req.Project); settings != nil {
			timeout = settings.Timeout(timeout)
		}
	}
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if timeout > s.cfg.MaxTimeout {
		timeout = s.cfg.MaxTimeout
	}
	if timeout < time.Second {
		timeout = time.Second
	}
	return timeout
}

func (s *ApprovalService) findPending(project, env, build string) (models.ApprovalRequest, bool) {
	for _, rec := range s.registry.List() {
		if rec.Status == models.StatusPending &&
			rec.Project == project && rec.Environment == env && rec.BuildRef == build {
			return rec, true
		}
	}
	return models.ApprovalRequest{}, false
}

func (s *ApprovalService) findLatest(project, env, build string) (models.ApprovalRequest, bool) {
	var best models.ApprovalRequest
	found := false
	for _, rec := range s.registry.List() {
		if rec.Project != project || rec.Environment != env || rec.BuildRef != build {
			continue
		}
		if !found || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
			found = true
		}
	}
	return best, found
}

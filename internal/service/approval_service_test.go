package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/dto"
	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/registry"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

type approvalFixture struct {
	svc      *ApprovalService
	guard    *TransitionGuard
	registry *registry.Registry
	store    *storeStub
	notifier *notifierStub
	build    *buildStub
	perms    *permsStub
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()
	logger := zap.NewNop()
	cfg := testApprovalConfig()

	reg := registry.New(logger)
	store := newStoreStub()
	notifier := &notifierStub{}
	build := &buildStub{}
	perms := &permsStub{
		users: map[string]models.Identity{
			"alice": {Username: "alice", Name: "Alice", Role: "lead"},
			"bob":   {Username: "bob", Name: "Bob", Role: "dev"},
		},
		projects: map[string][]string{
			"payments": {"alice", "bob"},
		},
	}

	guard := NewTransitionGuard(reg, store, nil, cfg, logger)
	wait := NewWaitCoordinator(reg, store, guard, cfg, logger)
	reminders := NewReminderScheduler(reg, store, notifier, linksStub{}, perms, cfg, logger)
	enforcer := NewTimeoutEnforcer(guard, build, notifier, logger)
	guard.AddCanceler(reminders)
	guard.AddCanceler(enforcer)
	t.Cleanup(func() {
		reminders.StopAll()
		enforcer.StopAll()
	})

	svc := NewApprovalService(ApprovalServiceDeps{
		Registry:  reg,
		Store:     store,
		Guard:     guard,
		Wait:      wait,
		Reminders: reminders,
		Enforcer:  enforcer,
		Notifier:  notifier,
		Build:     build,
		Perms:     perms,
		Config:    cfg,
		Logger:    logger,
	})
	return &approvalFixture{
		svc:      svc,
		guard:    guard,
		registry: reg,
		store:    store,
		notifier: notifier,
		build:    build,
		perms:    perms,
	}
}

func waitRequest(timeout time.Duration) dto.WaitRequest {
	return dto.WaitRequest{
		Project:        "payments",
		Environment:    "prod",
		Build:          "42",
		Job:            "deploy-payments",
		Version:        "1.4.0",
		CallbackURL:    "https://jenkins.test/job/deploy-payments/42/input/Gate/proceedEmpty",
		TimeoutSeconds: int(timeout.Seconds()),
	}
}

func TestCreateAndWaitApproved(t *testing.T) {
	f := newApprovalFixture(t)

	done := make(chan *models.DecisionResult, 1)
	go func() {
		result, err := f.svc.CreateAndWait(context.Background(), waitRequest(5*time.Second))
		if err != nil {
			t.Error(err)
			close(done)
			return
		}
		done <- result
	}()

	// Wait for the approval to appear, then decide it.
	var id string
	require.Eventually(t, func() bool {
		for _, rec := range f.registry.List() {
			if rec.Status == models.StatusPending {
				id = rec.ID
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, err := f.svc.SubmitDecision(context.Background(), id, models.ActionApprove, "alice", "lgtm", SourceAPI)
	require.NoError(t, err)

	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Equal(t, models.StatusApproved, result.Status)
		assert.Equal(t, "alice", result.DecidedBy)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter did not return")
	}

	assert.Contains(t, f.notifier.requested, id)
	assert.Contains(t, f.notifier.resolved, id)
	assert.Contains(t, f.build.continued, id)
}

func TestCreateAndWaitNoOwners(t *testing.T) {
	f := newApprovalFixture(t)
	req := waitRequest(time.Second)
	req.Project = "unmapped"

	_, err := f.svc.CreateAndWait(context.Background(), req)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoOwners.Code))
	assert.Zero(t, f.registry.Len())
}

func TestCreateAndWaitMissingFields(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.svc.CreateAndWait(context.Background(), dto.WaitRequest{Project: "payments"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}

func TestCreateAndWaitTimesOut(t *testing.T) {
	f := newApprovalFixture(t)

	result, err := f.svc.CreateAndWait(context.Background(), waitRequest(100*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, models.StatusTimeout, result.Status)
	assert.Equal(t, models.SystemActor, result.DecidedBy)
}

func TestSubmitDecisionForbidden(t *testing.T) {
	f := newApprovalFixture(t)
	rec := pendingApproval("approval-payments-prod-60-1", time.Minute)
	f.registry.Create(rec)
	f.store.put(rec)

	_, err := f.svc.SubmitDecision(context.Background(), rec.ID, models.ActionApprove, "mallory", "", SourceWeb)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden.Code))

	stored := f.store.get(rec.ID)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestSubmitDecisionAlreadyResolved(t *testing.T) {
	f := newApprovalFixture(t)
	rec := pendingApproval("approval-payments-prod-61-1", time.Minute)
	f.registry.Create(rec)
	f.store.put(rec)

	_, err := f.svc.SubmitDecision(context.Background(), rec.ID, models.ActionReject, "alice", "nope", SourceChat)
	require.NoError(t, err)

	resolved, err := f.svc.SubmitDecision(context.Background(), rec.ID, models.ActionApprove, "bob", "", SourceAPI)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyProcessed.Code))

	// The loser learns who won: the record and the message both carry it.
	require.NotNil(t, resolved)
	assert.Equal(t, "alice", resolved.DecidedByName())
	assert.Contains(t, appErrors.FromError(err).Message, "already decided: rejected by alice")

	stored := f.store.get(rec.ID)
	assert.Equal(t, models.StatusRejected, stored.Status)
	assert.Equal(t, "alice", stored.DecidedByName())
	assert.Contains(t, f.build.aborted, rec.ID)
}

func TestSubmitDecisionUnknownAction(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.svc.SubmitDecision(context.Background(), "approval-x-y-1-1", models.DecisionAction("defer"), "alice", "", SourceAPI)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}

func TestStatusFallsBackToStore(t *testing.T) {
	f := newApprovalFixture(t)
	rec := pendingApproval("approval-payments-prod-62-1", time.Minute)
	rec.Status = models.StatusApproved
	f.store.put(rec)

	got, err := f.svc.Status(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)

	_, err = f.svc.Status(context.Background(), "approval-ghost-prod-1-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound.Code))
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newApprovalFixture(t)
	_, err := f.svc.List(context.Background(), dto.ApprovalListQuery{Status: "pending,bogus"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation.Code))
}

func TestRecordBuildOutcomeWithoutPermissionSource(t *testing.T) {
	logger := zap.NewNop()
	cfg := testApprovalConfig()
	reg := registry.New(logger)
	store := newStoreStub()
	notifier := &notifierStub{}
	guard := NewTransitionGuard(reg, store, nil, cfg, logger)
	svc := NewApprovalService(ApprovalServiceDeps{
		Registry: reg,
		Store:    store,
		Guard:    guard,
		Wait:     NewWaitCoordinator(reg, store, guard, cfg, logger),
		Notifier: notifier,
		Config:   cfg,
		Logger:   logger,
	})

	// Not in memory: the outcome lookup falls back to the store, where the
	// owner list column does not exist.
	rec := pendingApproval("approval-payments-prod-64-1", time.Minute)
	rec.Status = models.StatusApproved
	store.put(rec)

	err := svc.RecordBuildOutcome(context.Background(), models.BuildOutcome{
		Project:     "payments",
		Environment: "prod",
		BuildRef:    "42",
		Status:      "FAILURE",
	})
	require.NoError(t, err)
	assert.Contains(t, notifier.outcomes, rec.ID)
}

func TestRecordBuildOutcome(t *testing.T) {
	f := newApprovalFixture(t)
	rec := pendingApproval("approval-payments-prod-63-1", time.Minute)
	rec.Status = models.StatusApproved
	f.registry.Create(rec)
	f.store.put(rec)

	err := f.svc.RecordBuildOutcome(context.Background(), models.BuildOutcome{
		Project:         "payments",
		Environment:     "prod",
		BuildRef:        "42",
		Status:          "SUCCESS",
		DurationSeconds: 93,
	})
	require.NoError(t, err)

	history, err := f.svc.History(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, "build_success", last.Action)
	assert.Equal(t, models.SystemActor, last.Actor)
}

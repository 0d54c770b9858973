package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/registry"
	"github.com/deployops/approval-gate/pkg/config"
)

// ReminderScheduler nudges owners about pending approvals at a fixed
// interval, up to a per-approval cap. A loop stops on the first of: its
// cancel signal, the in-memory record resolving, the durable row resolving,
// or the reminder cap.
type ReminderScheduler struct {
	registry *registry.Registry
	store    approvalStore
	notifier Notifier
	links    decisionLinker
	perms    PermissionSource
	cfg      config.ApprovalConfig
	metrics  *MetricsService
	logger   *zap.Logger

	mu      sync.Mutex
	cancels map[string]chan struct{}
	wg      sync.WaitGroup
}

// decisionLinker produces the web decision URL embedded in notifications.
type decisionLinker interface {
	DecisionURL(approvalID string) string
}

// NewReminderScheduler wires the scheduler. perms may be nil when no
// per-project overrides exist.
func NewReminderScheduler(reg *registry.Registry, store approvalStore, notifier Notifier, links decisionLinker, perms PermissionSource, cfg config.ApprovalConfig, logger *zap.Logger) *ReminderScheduler {
	return &ReminderScheduler{
		registry: reg,
		store:    store,
		notifier: notifier,
		links:    links,
		perms:    perms,
		cfg:      cfg,
		logger:   logger,
		cancels:  make(map[string]chan struct{}),
	}
}

// SetMetrics attaches the metrics service.
func (s *ReminderScheduler) SetMetrics(m *MetricsService) {
	s.metrics = m
}

// Schedule starts the reminder loop for one approval. Calling it twice for
// the same id is a no-op.
func (s *ReminderScheduler) Schedule(ctx context.Context, rec models.ApprovalRequest) {
	interval, maxReminders := s.policy(rec.Project)
	if interval <= 0 || maxReminders <= 0 {
		return
	}

	s.mu.Lock()
	if _, running := s.cancels[rec.ID]; running {
		s.mu.Unlock()
		return
	}
	cancel := make(chan struct{})
	s.cancels[rec.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, rec, interval, maxReminders, cancel)
}

// Cancel stops the loop for one approval, if running.
func (s *ReminderScheduler) Cancel(approvalID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[approvalID]
	if ok {
		delete(s.cancels, approvalID)
	}
	s.mu.Unlock()
	if ok {
		close(cancel)
	}
}

// StopAll cancels every loop and waits for them to drain.
func (s *ReminderScheduler) StopAll() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		close(cancel)
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *ReminderScheduler) run(ctx context.Context, rec models.ApprovalRequest, interval time.Duration, maxReminders int, cancel <-chan struct{}) {
	defer s.wg.Done()
	defer s.Cancel(rec.ID)

	sent := rec.ReminderCount

	for sent < maxReminders {
		if !s.waitInterval(ctx, rec.ID, interval, cancel) {
			return
		}

		cur, ok := s.registry.Get(rec.ID)
		if !ok || cur.Status.Resolved() {
			return
		}
		if time.Now().After(cur.Deadline()) {
			return
		}

		// The in-memory record can lag a decision taken by another
		// replica, so confirm against the store before pinging anyone.
		count, err := s.store.IncrementReminderCount(ctx, rec.ID)
		if err != nil {
			s.logger.Sugar().Warnw("reminder bookkeeping failed", "approval_id", rec.ID, "error", err)
			count = sent + 1
		} else if count == 0 {
			return
		}
		sent = count
		s.registry.Mutate(rec.ID, func(r *models.ApprovalRequest) {
			r.ReminderCount = sent
		})

		elapsed := time.Since(cur.CreatedAt)
		if err := s.notifier.NotifyReminder(ctx, &cur, s.decisionURL(rec.ID), elapsed); err != nil {
			s.logger.Sugar().Warnw("reminder delivery failed", "approval_id", rec.ID, "error", err)
		} else {
			if s.metrics != nil {
				s.metrics.ReminderSent()
			}
			s.logger.Sugar().Infow("reminder sent", "approval_id", rec.ID, "count", sent, "max", maxReminders)
		}
	}
}

// waitInterval sleeps out one reminder interval in poll-sized slices,
// checking the durable row between slices so a decision taken on another
// replica stops the loop before the next ping. Returns false when the loop
// should end.
func (s *ReminderScheduler) waitInterval(ctx context.Context, approvalID string, interval time.Duration, cancel <-chan struct{}) bool {
	poll := s.cfg.ReminderDBPoll
	if poll <= 0 || poll > interval {
		poll = interval
	}

	deadline := time.Now().Add(interval)
	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-cancel:
			return false
		case <-timer.C:
		}

		if row, err := s.store.GetByID(ctx, approvalID); err == nil && row != nil && row.Status.Resolved() {
			s.registry.Mutate(approvalID, func(r *models.ApprovalRequest) {
				r.Status = row.Status
				r.DecidedBy = row.DecidedBy
				r.DecidedByRole = row.DecidedByRole
				r.Comment = row.Comment
				r.UpdatedAt = row.UpdatedAt
			})
			return false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if remaining < poll {
			timer.Reset(remaining)
		} else {
			timer.Reset(poll)
		}
	}
}

func (s *ReminderScheduler) policy(project string) (time.Duration, int) {
	interval := s.cfg.ReminderInterval
	maxReminders := s.cfg.MaxReminders
	if s.perms != nil {
		if settings := s.perms.Settings(project); settings != nil {
			interval = settings.ReminderInterval(interval)
			if settings.MaxReminders > 0 {
				maxReminders = settings.MaxReminders
			}
		}
	}
	return interval, maxReminders
}

func (s *ReminderScheduler) decisionURL(id string) string {
	if s.links == nil {
		return ""
	}
	return s.links.DecisionURL(id)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/deployops/approval-gate/internal/models"
	"github.com/deployops/approval-gate/internal/repository"
)

// storeStub is an in-memory approvalStore with controllable failure modes.
type storeStub struct {
	mu         sync.Mutex
	recs       map[string]*models.ApprovalRequest
	history    []models.HistoryEntry
	lockHolder map[string]string
	lockDenies int
	// updateDenies fails that many UpdateStatus calls before letting one
	// through, simulating a flaky store connection.
	updateDenies int
	createErr    error
	updateErr    error
}

func newStoreStub() *storeStub {
	return &storeStub{
		recs:       make(map[string]*models.ApprovalRequest),
		lockHolder: make(map[string]string),
	}
}

func (s *storeStub) put(rec models.ApprovalRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := rec
	s.recs[rec.ID] = &copied
}

func (s *storeStub) get(id string) models.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.recs[id]
}

func (s *storeStub) Create(ctx context.Context, rec *models.ApprovalRequest) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.put(*rec)
	s.mu.Lock()
	s.history = append(s.history, models.HistoryEntry{
		ApprovalID: rec.ID, Action: models.HistoryActionCreated, Actor: rec.Project,
	})
	s.mu.Unlock()
	return nil
}

func (s *storeStub) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *rec
	return &copied, nil
}

func (s *storeStub) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ApprovalRequest
	for _, rec := range s.recs {
		if filter.Project != "" && rec.Project != filter.Project {
			continue
		}
		if filter.Environment != "" && rec.Environment != filter.Environment {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *storeStub) AcquireLock(ctx context.Context, id, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return false, nil
	}
	if s.lockDenies > 0 {
		s.lockDenies--
		return false, nil
	}
	if current, locked := s.lockHolder[id]; locked && current != holder {
		return false, nil
	}
	s.lockHolder[id] = holder
	return true, nil
}

func (s *storeStub) ReleaseLock(ctx context.Context, id, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockHolder[id] == holder {
		delete(s.lockHolder, id)
	}
	return nil
}

func (s *storeStub) UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateDenies > 0 {
		s.updateDenies--
		return false, errors.New("connection reset by peer")
	}
	if s.updateErr != nil {
		return false, s.updateErr
	}
	rec, ok := s.recs[params.ID]
	if !ok {
		return false, sql.ErrNoRows
	}
	if rec.Status != models.StatusPending {
		return false, nil
	}
	rec.Status = params.Status
	rec.DecidedBy = strPtr(params.Actor)
	rec.DecidedByRole = strPtr(params.ActorRole)
	if params.Comment != "" {
		rec.Comment = strPtr(params.Comment)
	}
	rec.UpdatedAt = time.Now().UTC()
	delete(s.lockHolder, params.ID)
	s.history = append(s.history, models.HistoryEntry{
		ApprovalID: params.ID, Action: string(params.Status), Actor: params.Actor,
	})
	return true, nil
}

func (s *storeStub) IncrementReminderCount(ctx context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok || rec.Status != models.StatusPending {
		return 0, nil
	}
	rec.ReminderCount++
	return rec.ReminderCount, nil
}

func (s *storeStub) SweepExpired(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	now := time.Now()
	for _, rec := range s.recs {
		if rec.Status == models.StatusPending && now.After(rec.Deadline()) {
			rec.Status = models.StatusTimeout
			rec.DecidedBy = strPtr(models.SystemActor)
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

func (s *storeStub) ListHistory(ctx context.Context, approvalID string) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.HistoryEntry
	for _, entry := range s.history {
		if entry.ApprovalID == approvalID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *storeStub) ListHistoryRange(ctx context.Context, from, to time.Time) ([]models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HistoryEntry(nil), s.history...), nil
}

func (s *storeStub) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	return nil
}

func (s *storeStub) Stats(ctx context.Context) (*models.ApprovalStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.ApprovalStats{}
	for _, rec := range s.recs {
		stats.Total++
		switch rec.Status {
		case models.StatusPending:
			stats.Pending++
		case models.StatusApproved:
			stats.Approved++
		case models.StatusRejected:
			stats.Rejected++
		case models.StatusTimeout:
			stats.Timeout++
		}
	}
	return stats, nil
}

func storeDecision(id string, status models.ApprovalStatus, actor string) repository.UpdateStatusParams {
	return repository.UpdateStatusParams{ID: id, Status: status, Actor: actor, ActorRole: "lead"}
}

// notifierStub records deliveries.
type notifierStub struct {
	mu        sync.Mutex
	requested []string
	reminders []string
	resolved  []string
	outcomes  []string
	err       error
}

func (n *notifierStub) NotifyRequested(ctx context.Context, rec *models.ApprovalRequest, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requested = append(n.requested, rec.ID)
	return n.err
}

func (n *notifierStub) NotifyReminder(ctx context.Context, rec *models.ApprovalRequest, url string, elapsed time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, rec.ID)
	return n.err
}

func (n *notifierStub) NotifyResolved(ctx context.Context, rec *models.ApprovalRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, rec.ID)
	return n.err
}

func (n *notifierStub) NotifyBuildOutcome(ctx context.Context, rec *models.ApprovalRequest, outcome models.BuildOutcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, rec.ID)
	return n.err
}

func (n *notifierStub) reminderCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reminders)
}

// buildStub records build system calls.
type buildStub struct {
	mu        sync.Mutex
	continued []string
	aborted   []string
	logs      *models.BuildLog
	err       error
}

func (b *buildStub) ContinueBuild(ctx context.Context, rec *models.ApprovalRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.continued = append(b.continued, rec.ID)
	return b.err
}

func (b *buildStub) AbortBuild(ctx context.Context, rec *models.ApprovalRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = append(b.aborted, rec.ID)
	return b.err
}

func (b *buildStub) FetchLogs(ctx context.Context, job, build string, tail int) (*models.BuildLog, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.logs, nil
}

// permsStub answers permission checks from fixed maps.
type permsStub struct {
	users    map[string]models.Identity
	projects map[string][]string
	settings map[string]*models.ApprovalSettings
}

func (p *permsStub) CanDecide(project, username string) (models.Identity, bool) {
	identity, ok := p.users[username]
	if !ok {
		return models.Identity{}, false
	}
	for _, owner := range p.projects[project] {
		if owner == username {
			return identity, true
		}
	}
	return models.Identity{}, false
}

func (p *permsStub) OwnersFor(project string) []models.Identity {
	var owners []models.Identity
	for _, username := range p.projects[project] {
		if identity, ok := p.users[username]; ok {
			owners = append(owners, identity)
		}
	}
	return owners
}

func (p *permsStub) Settings(project string) *models.ApprovalSettings {
	if p.settings == nil {
		return nil
	}
	return p.settings[project]
}

type linksStub struct{}

func (linksStub) DecisionURL(id string) string { return "https://gate.test/approve/" + id }

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/deployops/approval-gate/internal/models"
)

// ApprovalRepository persists approval requests and their audit history in
// PostgreSQL. It is the authority of record: the in-memory registry is a
// latency layer on top and never overrules a resolved row here.
type ApprovalRepository struct {
	db *sqlx.DB
}

// NewApprovalRepository constructs the repository.
func NewApprovalRepository(db *sqlx.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `id, project, env, build, job, version, description, action, callback_url,
       timeout_seconds, status, created_at, updated_at, decided_by, decided_by_role, comment,
       reminder_count, is_locked, lock_holder, lock_expires_at`

// Create inserts a new approval row plus its "created" history entry.
func (r *ApprovalRepository) Create(ctx context.Context, rec *models.ApprovalRequest) error {
	if rec.Status == "" {
		rec.Status = models.StatusPending
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create approval: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const query = `INSERT INTO approvals
	(id, project, env, build, job, version, description, action, callback_url, timeout_seconds, status, created_at, updated_at, reminder_count)
	VALUES (:id, :project, :env, :build, :job, :version, :description, :action, :callback_url, :timeout_seconds, :status, :created_at, :updated_at, :reminder_count)`
	if _, err := tx.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("create approval %s: %w", rec.ID, err)
	}

	if err := insertHistory(ctx, tx, &models.HistoryEntry{
		ApprovalID: rec.ID,
		Action:     models.HistoryActionCreated,
		Actor:      models.SystemActor,
		ActorRole:  models.SystemActor,
		Comment:    "approval request created",
		CreatedAt:  rec.CreatedAt,
	}); err != nil {
		return fmt.Errorf("create approval history %s: %w", rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create approval %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID fetches an approval by identifier.
func (r *ApprovalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`
	var rec models.ApprovalRequest
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns approvals matching the filter, newest first.
func (r *ApprovalRepository) List(ctx context.Context, filter models.ApprovalFilter) ([]models.ApprovalRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(`SELECT ` + approvalColumns + ` FROM approvals`)

	conditions := make([]string, 0, 3)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Project != "" {
		args = append(args, filter.Project)
		conditions = append(conditions, fmt.Sprintf("project = $%d", len(args)))
	}
	if filter.Environment != "" {
		args = append(args, filter.Environment)
		conditions = append(conditions, fmt.Sprintf("env = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var recs []models.ApprovalRequest
	if err := r.db.SelectContext(ctx, &recs, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return recs, nil
}

// AcquireLock takes the advisory lock for id on behalf of holder. A lock that
// is free, expired, or already held by the same holder is acquirable; a live
// lock held by someone else is not. Returns false when not acquired.
func (r *ApprovalRepository) AcquireLock(ctx context.Context, id, holder string, ttl time.Duration) (bool, error) {
	const query = `UPDATE approvals
	SET is_locked = TRUE, lock_holder = $2, lock_expires_at = $3
	WHERE id = $1
	  AND (is_locked = FALSE OR lock_expires_at IS NULL OR lock_expires_at < NOW() OR lock_holder = $2)`
	res, err := r.db.ExecContext(ctx, query, id, holder, time.Now().UTC().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", id, err)
	}
	return affected > 0, nil
}

// ReleaseLock drops the advisory lock if still held by holder. Releasing a
// lock that expired or moved on is a no-op, not an error.
func (r *ApprovalRepository) ReleaseLock(ctx context.Context, id, holder string) error {
	const query = `UPDATE approvals
	SET is_locked = FALSE, lock_holder = NULL, lock_expires_at = NULL
	WHERE id = $1 AND lock_holder = $2`
	if _, err := r.db.ExecContext(ctx, query, id, holder); err != nil {
		return fmt.Errorf("release lock %s: %w", id, err)
	}
	return nil
}

// UpdateStatusParams carries one resolution write.
type UpdateStatusParams struct {
	ID        string
	Status    models.ApprovalStatus
	Actor     string
	ActorRole string
	Comment   string
}

// UpdateStatus resolves a pending row and appends the matching history entry
// in one transaction. The pending guard makes the write idempotent: it
// returns false (with no mutation) when the row was already resolved or does
// not exist, and the caller re-reads to distinguish the two.
func (r *ApprovalRepository) UpdateStatus(ctx context.Context, params UpdateStatusParams) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin update status: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	const query = `UPDATE approvals
	SET status = $2, decided_by = $3, decided_by_role = $4, comment = $5, updated_at = $6,
	    is_locked = FALSE, lock_holder = NULL, lock_expires_at = NULL
	WHERE id = $1 AND status = 'pending'`
	res, err := tx.ExecContext(ctx, query, params.ID, params.Status, params.Actor, params.ActorRole, params.Comment, now)
	if err != nil {
		return false, fmt.Errorf("update status %s: %w", params.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update status %s: %w", params.ID, err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := insertHistory(ctx, tx, &models.HistoryEntry{
		ApprovalID: params.ID,
		Action:     string(params.Status),
		Actor:      params.Actor,
		ActorRole:  params.ActorRole,
		Comment:    params.Comment,
		CreatedAt:  now,
	}); err != nil {
		return false, fmt.Errorf("update status history %s: %w", params.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit update status %s: %w", params.ID, err)
	}
	return true, nil
}

// IncrementReminderCount mirrors a reminder fire into the durable row and
// returns the new count, or 0 when the row is no longer pending. Only
// pending rows advance: a reminder racing a resolution must not touch the
// resolved record.
func (r *ApprovalRepository) IncrementReminderCount(ctx context.Context, id string) (int, error) {
	const query = `UPDATE approvals
	SET reminder_count = reminder_count + 1, updated_at = NOW()
	WHERE id = $1 AND status = 'pending'
	RETURNING reminder_count`
	var count int
	err := r.db.QueryRowxContext(ctx, query, id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("increment reminder count %s: %w", id, err)
	}
	return count, nil
}

// SweepExpired marks pending rows past their deadline as timed out and
// returns the affected ids. It runs independently of the in-memory enforcer
// so the store stays authoritative even after a crash or eviction.
func (r *ApprovalRepository) SweepExpired(ctx context.Context) ([]string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	const query = `UPDATE approvals
	SET status = 'timeout', decided_by = 'system', decided_by_role = 'system',
	    comment = 'approval timed out', updated_at = $1,
	    is_locked = FALSE, lock_holder = NULL, lock_expires_at = NULL
	WHERE status = 'pending' AND created_at + timeout_seconds * interval '1 second' < $1
	RETURNING id`
	var ids []string
	if err := tx.SelectContext(ctx, &ids, query, now); err != nil {
		return nil, fmt.Errorf("sweep expired approvals: %w", err)
	}

	for _, id := range ids {
		if err := insertHistory(ctx, tx, &models.HistoryEntry{
			ApprovalID: id,
			Action:     string(models.StatusTimeout),
			Actor:      models.SystemActor,
			ActorRole:  models.SystemActor,
			Comment:    "approval timed out (store sweep)",
			CreatedAt:  now,
		}); err != nil {
			return nil, fmt.Errorf("sweep history %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit sweep: %w", err)
	}
	return ids, nil
}

// ListHistory returns the audit trail for an approval, oldest first.
func (r *ApprovalRepository) ListHistory(ctx context.Context, approvalID string) ([]models.HistoryEntry, error) {
	const query = `SELECT id, approval_id, action, actor, actor_role, comment, created_at
	FROM approval_history WHERE approval_id = $1 ORDER BY created_at ASC, id ASC`
	var entries []models.HistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, approvalID); err != nil {
		return nil, fmt.Errorf("list history %s: %w", approvalID, err)
	}
	return entries, nil
}

// ListHistoryRange returns history entries created within [from, to),
// oldest first, for export.
func (r *ApprovalRepository) ListHistoryRange(ctx context.Context, from, to time.Time) ([]models.HistoryEntry, error) {
	const query = `SELECT id, approval_id, action, actor, actor_role, comment, created_at
	FROM approval_history WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC, id ASC`
	var entries []models.HistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, from, to); err != nil {
		return nil, fmt.Errorf("list history range: %w", err)
	}
	return entries, nil
}

// Stats counts approvals by status.
func (r *ApprovalRepository) Stats(ctx context.Context) (*models.ApprovalStats, error) {
	const query = `SELECT
	COUNT(*) AS total,
	COUNT(*) FILTER (WHERE status = 'pending') AS pending,
	COUNT(*) FILTER (WHERE status = 'approved') AS approved,
	COUNT(*) FILTER (WHERE status = 'rejected') AS rejected,
	COUNT(*) FILTER (WHERE status = 'timeout') AS timeout
	FROM approvals`
	var stats models.ApprovalStats
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("approval stats: %w", err)
	}
	return &stats, nil
}

// IsNotFound reports whether err is the driver's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// AppendHistory writes one standalone audit entry, outside any status
// transition. Build outcome reports land here.
func (r *ApprovalRepository) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	const query = `INSERT INTO approval_history (approval_id, action, actor, actor_role, comment, created_at)
	VALUES (:approval_id, :action, :actor, :actor_role, :comment, :created_at)`
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append history for %s: %w", entry.ApprovalID, err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.HistoryEntry) error {
	const query = `INSERT INTO approval_history (approval_id, action, actor, actor_role, comment, created_at)
	VALUES (:approval_id, :action, :actor, :actor_role, :comment, :created_at)`
	_, err := tx.NamedExecContext(ctx, query, entry)
	return err
}

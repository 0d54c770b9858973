package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/deployops/approval-gate/internal/models"
)

func newApprovalRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestApprovalRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approvals")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec := &models.ApprovalRequest{
		ID:             "approval-payments-prod-42-1700000000",
		Project:        "payments",
		Environment:    "prod",
		BuildRef:       "42",
		JobRef:         "payments-deploy",
		Version:        "v1.8.0",
		Description:    "hotfix rollout",
		ActionKind:     "deploy",
		TimeoutSeconds: 1800,
	}
	require.NoError(t, repo.Create(context.Background(), rec))
	require.Equal(t, models.StatusPending, rec.Status)
	require.False(t, rec.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "project", "env", "build", "job", "version", "description", "action", "callback_url",
		"timeout_seconds", "status", "created_at", "updated_at", "decided_by", "decided_by_role", "comment",
		"reminder_count", "is_locked", "lock_holder", "lock_expires_at",
	}).AddRow(
		"approval-payments-prod-42-1700000000", "payments", "prod", "42", "payments-deploy", "v1.8.0",
		"hotfix rollout", "deploy", "", 1800, "approved", now, now, "alice", "ops", "lgtm",
		1, false, nil, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, project, env, build")).
		WithArgs("approval-payments-prod-42-1700000000").
		WillReturnRows(rows)

	rec, err := repo.GetByID(context.Background(), "approval-payments-prod-42-1700000000")
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, rec.Status)
	require.Equal(t, "alice", rec.DecidedByName())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, project, env, build")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestApprovalRepositoryAcquireLock(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("SET is_locked = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.AcquireLock(context.Background(), "a-1", "guard-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Held by someone else: no row matches, lock not acquired.
	mock.ExpectExec(regexp.QuoteMeta("SET is_locked = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.AcquireLock(context.Background(), "a-1", "guard-2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryUpdateStatusGuardsPending(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approvals")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:        "a-1",
		Status:    models.StatusApproved,
		Actor:     "alice",
		ActorRole: "ops",
		Comment:   "ship it",
	})
	require.NoError(t, err)
	require.True(t, applied)

	// Already resolved: zero rows, no history write, rollback.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE approvals")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	applied, err = repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:        "a-1",
		Status:    models.StatusRejected,
		Actor:     "bob",
		ActorRole: "ops",
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositorySweepExpired(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a-1").AddRow("a-2"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_history")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO approval_history")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	ids, err := repo.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a-1", "a-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newApprovalRepoMock(t)
	defer cleanup()

	repo := NewApprovalRepository(db)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "project", "env", "build", "job", "version", "description", "action", "callback_url",
		"timeout_seconds", "status", "created_at", "updated_at", "decided_by", "decided_by_role", "comment",
		"reminder_count", "is_locked", "lock_holder", "lock_expires_at",
	}).AddRow(
		"a-1", "payments", "prod", "42", "payments-deploy", "v1.8.0", "", "deploy", "",
		1800, "pending", now, now, nil, nil, nil, 0, false, nil, nil,
	)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, project, env, build")).
		WithArgs("pending", "payments").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.ApprovalFilter{
		Status:  []models.ApprovalStatus{models.StatusPending},
		Project: "payments",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "a-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

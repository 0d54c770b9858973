package models

import (
	"fmt"
	"time"
)

// ApprovalStatus captures the lifecycle states of an approval request.
// A request leaves "pending" exactly once and never returns to it.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
	StatusTimeout  ApprovalStatus = "timeout"
)

// Resolved reports whether the status is terminal.
func (s ApprovalStatus) Resolved() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusTimeout
}

// DecisionAction is a submitted decision verb.
type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionReject  DecisionAction = "reject"
)

// Status maps the action to the status it produces.
func (a DecisionAction) Status() (ApprovalStatus, bool) {
	switch a {
	case ActionApprove:
		return StatusApproved, true
	case ActionReject:
		return StatusRejected, true
	default:
		return "", false
	}
}

// SystemActor is recorded as the decider on timeout transitions.
const SystemActor = "system"

// ApprovalRequest is the central entity: one row per pipeline step waiting on
// a human decision.
type ApprovalRequest struct {
	ID             string         `db:"id" json:"id"`
	Project        string         `db:"project" json:"project"`
	Environment    string         `db:"env" json:"env"`
	BuildRef       string         `db:"build" json:"build"`
	JobRef         string         `db:"job" json:"job"`
	Version        string         `db:"version" json:"version"`
	Description    string         `db:"description" json:"description"`
	ActionKind     string         `db:"action" json:"action"`
	CallbackURL    string         `db:"callback_url" json:"callbackUrl,omitempty"`
	TimeoutSeconds int            `db:"timeout_seconds" json:"timeoutSeconds"`
	Status         ApprovalStatus `db:"status" json:"status"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updatedAt"`
	DecidedBy      *string        `db:"decided_by" json:"decidedBy,omitempty"`
	DecidedByRole  *string        `db:"decided_by_role" json:"decidedByRole,omitempty"`
	Comment        *string        `db:"comment" json:"comment,omitempty"`
	ReminderCount  int            `db:"reminder_count" json:"reminderCount"`
	Locked         bool           `db:"is_locked" json:"-"`
	LockHolder     *string        `db:"lock_holder" json:"-"`
	LockExpiresAt  *time.Time     `db:"lock_expires_at" json:"-"`

	// OwnerList is resolved at intake and kept in memory only; the durable
	// row holds domain data, ownership lives in the permission config.
	OwnerList []Identity `db:"-" json:"owners,omitempty"`
}

// Deadline is fixed at creation: CreatedAt plus the configured timeout.
func (r *ApprovalRequest) Deadline() time.Time {
	return r.CreatedAt.Add(time.Duration(r.TimeoutSeconds) * time.Second)
}

// DecidedByName returns the decider or "" while pending.
func (r *ApprovalRequest) DecidedByName() string {
	if r.DecidedBy == nil {
		return ""
	}
	return *r.DecidedBy
}

// NewApprovalID derives the identifier from project, environment, build and
// the creation instant: approval-{project}-{env}-{build}-{unixSeconds}.
func NewApprovalID(project, env, build string, createdAt time.Time) string {
	return fmt.Sprintf("approval-%s-%s-%s-%d", project, env, build, createdAt.Unix())
}

// Identity is an authorized decision-maker for a request.
type Identity struct {
	Username   string `json:"username"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	TelegramID int64  `json:"telegramId,omitempty"`
}

// DecisionResult is returned to the blocking pipeline caller.
type DecisionResult struct {
	ApprovalID    string         `json:"approval_id"`
	Status        ApprovalStatus `json:"result"`
	DecidedBy     string         `json:"decided_by,omitempty"`
	DecidedByRole string         `json:"decided_by_role,omitempty"`
	Comment       string         `json:"comment,omitempty"`
	Waited        time.Duration  `json:"-"`
	WaitedSeconds float64        `json:"waited_seconds"`
}

// ApprovalFilter constrains listing queries.
type ApprovalFilter struct {
	Status      []ApprovalStatus
	Project     string
	Environment string
	Limit       int
	Offset      int
}

// ApprovalStats counts requests by status.
type ApprovalStats struct {
	Total    int `db:"total" json:"total"`
	Pending  int `db:"pending" json:"pending"`
	Approved int `db:"approved" json:"approved"`
	Rejected int `db:"rejected" json:"rejected"`
	Timeout  int `db:"timeout" json:"timeout"`
}

// BuildOutcome reports the result of a build that ran after approval.
type BuildOutcome struct {
	Project         string  `json:"project"`
	Environment     string  `json:"env"`
	BuildRef        string  `json:"build"`
	JobRef          string  `json:"job"`
	Version         string  `json:"version"`
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
	BuildURL        string  `json:"build_url,omitempty"`
}

// BuildLog is the console output fetched from the build system.
type BuildLog struct {
	JobRef     string        `json:"job"`
	BuildRef   string        `json:"build"`
	Status     string        `json:"status"`
	Duration   time.Duration `json:"-"`
	StartedAt  time.Time     `json:"started_at"`
	URL        string        `json:"url"`
	ConsoleURL string        `json:"console_url"`
	Console    string        `json:"console"`
	Running    bool          `json:"running"`
}

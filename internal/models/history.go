package models

import "time"

// History actions beyond the decision statuses themselves.
const (
	HistoryActionCreated = "created"
)

// HistoryEntry is one audit record for an approval. The history table is
// append-only and survives in-memory eviction.
type HistoryEntry struct {
	ID         int64     `db:"id" json:"id"`
	ApprovalID string    `db:"approval_id" json:"approvalId"`
	Action     string    `db:"action" json:"action"`
	Actor      string    `db:"actor" json:"actor"`
	ActorRole  string    `db:"actor_role" json:"actorRole"`
	Comment    string    `db:"comment" json:"comment"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

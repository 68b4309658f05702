package models

import (
	"time"

	"github.com/google/uuid"
)

// Email is a processed inbox message: the Gmail metadata we keep plus
// the summary and draft reply produced by the local model. The Gmail
// message ID is the dedup key; Pub/Sub delivers at least once, and a
// redelivered notification must not produce a second row.
type Email struct {
	ID          uuid.UUID `json:"id" db:"id"`
	MessageID   string    `json:"message_id" db:"message_id"`
	ThreadID    string    `json:"thread_id,omitempty" db:"thread_id"`
	From        string    `json:"from" db:"from_address"`
	To          string    `json:"to" db:"to_address"`
	Subject     string    `json:"subject" db:"subject"`
	Snippet     string    `json:"snippet,omitempty" db:"snippet"`
	Body        string    `json:"body,omitempty" db:"body"`
	Summary     string    `json:"summary,omitempty" db:"summary"`
	DraftReply  string    `json:"draft_reply,omitempty" db:"draft_reply"`
	HistoryID   uint64    `json:"history_id" db:"history_id"`
	ReceivedAt  time.Time `json:"received_at" db:"received_at"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

// HasContent reports whether processing produced anything worth
// keeping. Rows that carry neither a summary nor a draft reply are
// pruned by the cleanup endpoint.
func (e Email) HasContent() bool {
	return e.Summary != "" || e.DraftReply != ""
}

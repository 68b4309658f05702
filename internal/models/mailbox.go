package models

// Profile is the per-mailbox state Gmail reports: the authenticated
// address and the ID of the mailbox's current history record.
type Profile struct {
	EmailAddress string `json:"email_address"`
	HistoryID    uint64 `json:"history_id"`
}

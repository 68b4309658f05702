package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store persists processed emails, watch registrations and history
// checkpoints. All writes are idempotent upserts so that Pub/Sub
// redeliveries and overlapping watch renewals are safe.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CleanupStats reports what a cleanup pass removed.
type CleanupStats struct {
	TotalBefore  int `json:"total_before"`
	TotalAfter   int `json:"total_after"`
	EmptyRemoved int `json:"empty_removed"`
}

// HasEmail reports whether a Gmail message has already been processed.
func (s *Store) HasEmail(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM emails WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message %s: %w", messageID, err)
	}
	return exists, nil
}

// SaveEmail inserts a processed email. A duplicate Gmail message ID is
// not an error; the existing row wins and inserted reports false.
func (s *Store) SaveEmail(ctx context.Context, e *models.Email) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO emails
			(id, message_id, thread_id, from_address, to_address, subject,
			 snippet, body, summary, draft_reply, history_id, received_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (message_id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		e.ID, e.MessageID, e.ThreadID, e.From, e.To, e.Subject,
		e.Snippet, e.Body, e.Summary, e.DraftReply, int64(e.HistoryID), e.ReceivedAt, e.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save email %s: %w", e.MessageID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListEmails returns processed emails, newest first.
func (s *Store) ListEmails(ctx context.Context, limit int) ([]models.Email, error) {
	query := `
		SELECT id, message_id, thread_id, from_address, to_address, subject,
		       snippet, body, summary, draft_reply, history_id, received_at, processed_at
		FROM emails
		ORDER BY received_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	var emails []models.Email
	for rows.Next() {
		var e models.Email
		var historyID int64
		if err := rows.Scan(
			&e.ID, &e.MessageID, &e.ThreadID, &e.From, &e.To, &e.Subject,
			&e.Snippet, &e.Body, &e.Summary, &e.DraftReply, &historyID, &e.ReceivedAt, &e.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan email row: %w", err)
		}
		e.HistoryID = uint64(historyID)
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// DeleteEmails removes rows by Gmail message ID. Used when the read API
// prunes messages the user has already read in Gmail.
func (s *Store) DeleteEmails(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM emails WHERE message_id = ANY($1)`, messageIDs)
	if err != nil {
		return fmt.Errorf("failed to delete emails: %w", err)
	}
	return nil
}

// Cleanup removes rows that carry neither a summary nor a draft reply.
func (s *Store) Cleanup(ctx context.Context) (CleanupStats, error) {
	var stats CleanupStats
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails`).Scan(&stats.TotalBefore); err != nil {
		return stats, fmt.Errorf("failed to count emails: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM emails WHERE summary = '' AND draft_reply = ''`)
	if err != nil {
		return stats, fmt.Errorf("failed to prune empty emails: %w", err)
	}
	stats.EmptyRemoved = int(tag.RowsAffected())
	stats.TotalAfter = stats.TotalBefore - stats.EmptyRemoved
	return stats, nil
}

// EmailCount returns the number of processed emails.
func (s *Store) EmailCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return n, nil
}

// SaveWatch records a watch registration, replacing any previous watch
// for the same mailbox. Gmail keeps at most one watch per mailbox, so
// the table does too.
func (s *Store) SaveWatch(ctx context.Context, w models.Watch) error {
	query := `
		INSERT INTO watches (email_address, topic, history_id, expiration, registered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email_address)
		DO UPDATE SET topic = EXCLUDED.topic,
		              history_id = EXCLUDED.history_id,
		              expiration = EXCLUDED.expiration,
		              registered_at = EXCLUDED.registered_at
	`
	_, err := s.pool.Exec(ctx, query,
		w.EmailAddress, w.Topic, int64(w.HistoryID), w.Expiration, w.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to save watch for %s: %w", w.EmailAddress, err)
	}
	return nil
}

// LatestWatch returns the most recently registered watch.
func (s *Store) LatestWatch(ctx context.Context) (models.Watch, error) {
	query := `
		SELECT email_address, topic, history_id, expiration, registered_at
		FROM watches
		ORDER BY registered_at DESC
		LIMIT 1
	`
	var w models.Watch
	var historyID int64
	err := s.pool.QueryRow(ctx, query).Scan(
		&w.EmailAddress, &w.Topic, &historyID, &w.Expiration, &w.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return w, ErrNotFound
	}
	if err != nil {
		return w, fmt.Errorf("failed to load watch: %w", err)
	}
	w.HistoryID = uint64(historyID)
	return w, nil
}

// DeleteWatch removes the stored registration after users.stop.
func (s *Store) DeleteWatch(ctx context.Context, emailAddress string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM watches WHERE email_address = $1`, emailAddress)
	if err != nil {
		return fmt.Errorf("failed to delete watch for %s: %w", emailAddress, err)
	}
	return nil
}

// Checkpoint returns the history ID the mailbox has been synced to, or
// zero when the mailbox has never been synced.
func (s *Store) Checkpoint(ctx context.Context, emailAddress string) (uint64, error) {
	var historyID int64
	err := s.pool.QueryRow(ctx,
		`SELECT history_id FROM history_checkpoints WHERE email_address = $1`,
		emailAddress).Scan(&historyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint for %s: %w", emailAddress, err)
	}
	return uint64(historyID), nil
}

// SaveCheckpoint advances the sync checkpoint. It never moves the
// checkpoint backwards; an older history ID from a redelivered
// notification is ignored.
func (s *Store) SaveCheckpoint(ctx context.Context, emailAddress string, historyID uint64) error {
	query := `
		INSERT INTO history_checkpoints (email_address, history_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (email_address)
		DO UPDATE SET history_id = EXCLUDED.history_id, updated_at = now()
		WHERE history_checkpoints.history_id < EXCLUDED.history_id
	`
	_, err := s.pool.Exec(ctx, query, emailAddress, int64(historyID))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", emailAddress, err)
	}
	return nil
}

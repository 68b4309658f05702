package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/gmailc"
	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/llm"
)

const defaultFetchConcurrency = 4

// Mailbox is the narrow Gmail surface the processor needs.
type Mailbox interface {
	Profile(ctx context.Context) (models.Profile, error)
	HistorySince(ctx context.Context, startID uint64, handler func(messageID string) error) error
	ListUnread(ctx context.Context, handler func(messageID string) error) error
	GetMessage(ctx context.Context, id string) (models.Email, error)
}

// Store is the persistence surface the processor needs.
type Store interface {
	HasEmail(ctx context.Context, messageID string) (bool, error)
	SaveEmail(ctx context.Context, e *models.Email) (bool, error)
	Checkpoint(ctx context.Context, emailAddress string) (uint64, error)
	SaveCheckpoint(ctx context.Context, emailAddress string, historyID uint64) error
}

// Generator produces summaries and draft replies for an email.
type Generator interface {
	Summarize(ctx context.Context, e models.Email) (string, error)
	DraftReply(ctx context.Context, e models.Email) (string, error)
}

// Processor turns a Gmail change notification into processed emails:
// it diffs the mailbox history since the stored checkpoint, fetches
// the new messages, runs the local model over them and stores the
// result. Every step is idempotent, so Pub/Sub redeliveries of the
// same notification are harmless.
type Processor struct {
	mailbox     Mailbox
	store       Store
	gen         Generator // nil disables summarization
	concurrency int

	// WaitGroup tracking in-flight notification handling, for
	// graceful shutdown.
	wg sync.WaitGroup

	processed int64 // atomic counter
}

func New(mailbox Mailbox, store Store, gen Generator, concurrency int) *Processor {
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	return &Processor{
		mailbox:     mailbox,
		store:       store,
		gen:         gen,
		concurrency: concurrency,
	}
}

// HandleNotification processes one decoded Pub/Sub notification. A
// returned error means nothing was committed for the new messages and
// the caller should let Pub/Sub redeliver.
func (p *Processor) HandleNotification(ctx context.Context, n models.ChangeNotification) error {
	p.wg.Add(1)
	defer p.wg.Done()

	checkpoint, err := p.store.Checkpoint(ctx, n.EmailAddress)
	if err != nil {
		return err
	}

	ids, err := p.newMessageIDs(ctx, checkpoint)
	if err != nil {
		return err
	}

	count, err := p.processMessages(ctx, ids)
	if err != nil {
		return err
	}

	// Advance the checkpoint only after every new message landed, so
	// a partial failure gets re-diffed on redelivery.
	if n.HistoryID > 0 {
		if err := p.store.SaveCheckpoint(ctx, n.EmailAddress, n.HistoryID); err != nil {
			return err
		}
	}

	log.Printf("Notification for %s: %d candidate message(s), %d processed", n.EmailAddress, len(ids), count)
	return nil
}

// FetchNow runs the same pipeline without a notification, diffing from
// the stored checkpoint up to the mailbox's current history ID. Used
// by the manual trigger endpoint and useful before the first push
// arrives.
func (p *Processor) FetchNow(ctx context.Context) (int, error) {
	p.wg.Add(1)
	defer p.wg.Done()

	profile, err := p.mailbox.Profile(ctx)
	if err != nil {
		return 0, err
	}
	checkpoint, err := p.store.Checkpoint(ctx, profile.EmailAddress)
	if err != nil {
		return 0, err
	}

	ids, err := p.newMessageIDs(ctx, checkpoint)
	if err != nil {
		return 0, err
	}
	count, err := p.processMessages(ctx, ids)
	if err != nil {
		return count, err
	}

	if err := p.store.SaveCheckpoint(ctx, profile.EmailAddress, profile.HistoryID); err != nil {
		return count, err
	}
	return count, nil
}

// newMessageIDs lists candidate message IDs: an incremental history
// diff when a checkpoint exists, otherwise (or when the checkpoint is
// too old for Gmail to diff from) the unread INBOX messages.
func (p *Processor) newMessageIDs(ctx context.Context, checkpoint uint64) ([]string, error) {
	var ids []string
	collect := func(id string) error {
		ids = append(ids, id)
		return nil
	}

	if checkpoint == 0 {
		if err := p.mailbox.ListUnread(ctx, collect); err != nil {
			return nil, err
		}
		return ids, nil
	}

	err := p.mailbox.HistorySince(ctx, checkpoint, collect)
	if errors.Is(err, gmailc.ErrHistoryExpired) {
		log.Printf("History ID %d too old to diff from, falling back to unread listing", checkpoint)
		ids = ids[:0]
		err = p.mailbox.ListUnread(ctx, collect)
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *Processor) processMessages(ctx context.Context, ids []string) (int, error) {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(p.concurrency)

	var count int64
	for _, id := range ids {
		id := id
		grp.Go(func() error {
			stored, err := p.processOne(ctx, id)
			if err != nil {
				return err
			}
			if stored {
				atomic.AddInt64(&count, 1)
				atomic.AddInt64(&p.processed, 1)
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return int(atomic.LoadInt64(&count)), err
	}
	return int(atomic.LoadInt64(&count)), nil
}

// processOne fetches, enriches and stores a single message. It reports
// whether a new row was stored.
func (p *Processor) processOne(ctx context.Context, id string) (bool, error) {
	seen, err := p.store.HasEmail(ctx, id)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	email, err := p.mailbox.GetMessage(ctx, id)
	if errors.Is(err, gmailc.ErrMessageNotFound) {
		// History lists sometimes mention messages that are already
		// gone; skip them.
		log.Printf("Message %s no longer exists, skipping", id)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := p.enrich(ctx, &email); err != nil {
		return false, fmt.Errorf("failed to enrich message %s: %w", id, err)
	}

	inserted, err := p.store.SaveEmail(ctx, &email)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (p *Processor) enrich(ctx context.Context, e *models.Email) error {
	if p.gen == nil {
		return nil
	}

	summary, err := p.gen.Summarize(ctx, *e)
	if errors.Is(err, llm.ErrContentTooShort) {
		log.Printf("Message %s has no usable content, storing without summary", e.MessageID)
		return nil
	}
	if err != nil {
		return err
	}
	e.Summary = summary

	reply, err := p.gen.DraftReply(ctx, *e)
	if err != nil {
		return err
	}
	e.DraftReply = reply
	return nil
}

// Processed returns how many emails this instance has stored.
func (p *Processor) Processed() int64 {
	return atomic.LoadInt64(&p.processed)
}

// Shutdown waits for in-flight notification handling to finish, up to
// the timeout. Returns true when everything drained in time.
func (p *Processor) Shutdown(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Printf("Shutdown timeout (%v) reached, some processing may still be in progress", timeout)
		return false
	}
}

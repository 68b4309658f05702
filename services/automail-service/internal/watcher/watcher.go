package watcher

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/store"
)

const (
	// DefaultRenewBefore is how long before the 7-day expiration a
	// watch gets re-registered. Re-registering replaces the watch in
	// place, so renewing early never drops notifications.
	DefaultRenewBefore = 24 * time.Hour

	// DefaultCheckInterval is how often the renewal loop looks at the
	// stored expiration.
	DefaultCheckInterval = time.Hour
)

// GmailWatcher is the watch surface of the Gmail client.
type GmailWatcher interface {
	Watch(ctx context.Context, topic string) (models.Watch, error)
	StopWatch(ctx context.Context) error
}

// WatchStore persists the current registration.
type WatchStore interface {
	SaveWatch(ctx context.Context, w models.Watch) error
	LatestWatch(ctx context.Context) (models.Watch, error)
	DeleteWatch(ctx context.Context, emailAddress string) error
}

// Registrar registers Gmail watches and keeps them renewed.
type Registrar struct {
	gmail GmailWatcher
	store WatchStore
	topic string

	renewBefore   time.Duration
	checkInterval time.Duration
	now           func() time.Time
}

func NewRegistrar(gmail GmailWatcher, st WatchStore, topic string) *Registrar {
	return &Registrar{
		gmail:         gmail,
		store:         st,
		topic:         topic,
		renewBefore:   DefaultRenewBefore,
		checkInterval: DefaultCheckInterval,
		now:           time.Now,
	}
}

// WithRenewal overrides the renewal lead and poll interval.
func (r *Registrar) WithRenewal(renewBefore, checkInterval time.Duration) *Registrar {
	if renewBefore > 0 {
		r.renewBefore = renewBefore
	}
	if checkInterval > 0 {
		r.checkInterval = checkInterval
	}
	return r
}

// Register asks Gmail to publish INBOX change notifications to the
// configured topic and persists the resulting registration. Errors are
// setup problems (topic permissions, credentials) and are not retried.
func (r *Registrar) Register(ctx context.Context) (models.Watch, error) {
	if err := models.ValidateTopic(r.topic); err != nil {
		return models.Watch{}, err
	}

	w, err := r.gmail.Watch(ctx, r.topic)
	if err != nil {
		return models.Watch{}, err
	}
	if err := r.store.SaveWatch(ctx, w); err != nil {
		return models.Watch{}, err
	}

	log.Printf("Gmail watch registered for %s on %s: historyId=%d expiration=%s",
		w.EmailAddress, w.Topic, w.HistoryID, w.Expiration.Format(time.RFC3339))
	return w, nil
}

// Stop cancels the active watch and removes the stored registration.
func (r *Registrar) Stop(ctx context.Context) error {
	if err := r.gmail.StopWatch(ctx); err != nil {
		return err
	}
	w, err := r.store.LatestWatch(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.store.DeleteWatch(ctx, w.EmailAddress)
}

// Status returns the stored registration, or store.ErrNotFound when no
// watch has been registered yet.
func (r *Registrar) Status(ctx context.Context) (models.Watch, error) {
	return r.store.LatestWatch(ctx)
}

// RenewIfDue re-registers the watch when the stored expiration is
// inside the renewal lead window, or when no registration is stored at
// all. It reports whether a registration happened.
func (r *Registrar) RenewIfDue(ctx context.Context) (bool, error) {
	w, err := r.store.LatestWatch(ctx)
	if errors.Is(err, store.ErrNotFound) {
		if _, err := r.Register(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	now := r.now()
	if !w.RenewalDue(now, r.renewBefore) {
		return false, nil
	}
	if w.Expired(now) {
		log.Printf("Gmail watch for %s expired at %s; notifications were stopped until now",
			w.EmailAddress, w.Expiration.Format(time.RFC3339))
	}
	if _, err := r.Register(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Run keeps the watch alive until the context is cancelled, checking
// the stored expiration on a fixed interval. Renewal failures are
// logged and retried on the next tick rather than crashing the
// service; the watch stays valid until its original expiration.
func (r *Registrar) Run(ctx context.Context) {
	// A bad topic can never renew; bail out once instead of logging
	// the same registration error on every tick.
	if err := models.ValidateTopic(r.topic); err != nil {
		log.Printf("Watch renewal disabled: %v", err)
		return
	}

	log.Printf("Watch renewal loop started (every %v, renewing %v before expiration)", r.checkInterval, r.renewBefore)

	if _, err := r.RenewIfDue(ctx); err != nil {
		log.Printf("Error renewing watch: %v", err)
	}

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RenewIfDue(ctx); err != nil {
				log.Printf("Error renewing watch: %v", err)
			}
		}
	}
}

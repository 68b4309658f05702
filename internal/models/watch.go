package models

import (
	"fmt"
	"regexp"
	"time"
)

// WatchTTL is how long Gmail keeps a watch alive. Gmail does not extend
// an existing watch; a new users.watch call must be made before this
// window closes or notifications silently stop.
const WatchTTL = 7 * 24 * time.Hour

var (
	topicNamePattern  = regexp.MustCompile(`^projects/[^/]+/topics/[^/]+$`)
	topicProjectGroup = regexp.MustCompile(`^projects/([^/]+)/`)
)

// Watch records a Gmail watch registration for one mailbox.
type Watch struct {
	EmailAddress string    `json:"email_address"`
	Topic        string    `json:"topic"`
	HistoryID    uint64    `json:"history_id"`
	Expiration   time.Time `json:"expiration"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Expired reports whether the watch has lapsed and notifications have
// stopped.
func (w Watch) Expired(now time.Time) bool {
	return !now.Before(w.Expiration)
}

// RenewalDue reports whether the watch should be re-registered now so
// that there is no window without an active watch. lead is how far
// before the expiration renewal should happen.
func (w Watch) RenewalDue(now time.Time, lead time.Duration) bool {
	return !now.Add(lead).Before(w.Expiration)
}

// ValidateTopic checks that a topic name is fully qualified, i.e.
// projects/<project>/topics/<topic>. Gmail rejects anything else.
func ValidateTopic(name string) error {
	if !topicNamePattern.MatchString(name) {
		return fmt.Errorf("invalid topic name %q: expected projects/<project>/topics/<topic>", name)
	}
	return nil
}

// TopicProject extracts the project ID from a fully qualified topic
// name. It assumes the name already passed ValidateTopic.
func TopicProject(name string) string {
	m := topicProjectGroup.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExpirationFromMillis converts the epoch-millisecond expiration Gmail
// returns from users.watch into a time.Time.
func ExpirationFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

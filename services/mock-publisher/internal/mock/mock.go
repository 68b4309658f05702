package mock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
)

const (
	// Subscription name stamped into every envelope, matching what a
	// real push subscription would send.
	subscriptionName = "projects/mock-project/subscriptions/gmail-push"

	maxAttempts  = 5
	retryBackoff = 500 * time.Millisecond
)

var (
	// History ID counter - monotonically increasing like Gmail's
	historyID      uint64 = 1000
	deliveredCount int
	stateMutex     sync.Mutex

	httpClient = &http.Client{Timeout: 10 * time.Second}
)

// NewEnvelope builds a push envelope carrying a Gmail change
// notification for the given mailbox, advancing the mock history ID.
func NewEnvelope(emailAddress string) (models.PushRequest, error) {
	stateMutex.Lock()
	historyID++
	id := historyID
	stateMutex.Unlock()

	payload, err := json.Marshal(models.ChangeNotification{
		EmailAddress: emailAddress,
		HistoryID:    id,
	})
	if err != nil {
		return models.PushRequest{}, fmt.Errorf("failed to encode notification payload: %w", err)
	}

	return models.PushRequest{
		Message: models.PushMessage{
			Data:        payload,
			MessageID:   uuid.New().String(),
			PublishTime: time.Now().UTC(),
		},
		Subscription: subscriptionName,
	}, nil
}

// Deliver POSTs the envelope to the target endpoint. Like Pub/Sub, it
// treats any non-2xx response as a nack and redelivers, up to
// maxAttempts. It returns the number of attempts made.
func Deliver(target string, envelope models.PushRequest) (int, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return 0, fmt.Errorf("failed to encode push envelope: %w", err)
	}

	var lastStatus int
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := httpClient.Post(target, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("Delivery attempt %d to %s failed: %v", attempt, target, err)
		} else {
			lastStatus = resp.StatusCode
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				stateMutex.Lock()
				deliveredCount++
				stateMutex.Unlock()
				return attempt, nil
			}
			log.Printf("Delivery attempt %d to %s nacked with status %d", attempt, target, resp.StatusCode)
		}
		time.Sleep(retryBackoff)
	}

	return maxAttempts, fmt.Errorf("gave up delivering message %s after %d attempts (last status %d)",
		envelope.Message.MessageID, maxAttempts, lastStatus)
}

// Publish builds an envelope for the mailbox and delivers it,
// simulating Gmail publishing to the topic and Pub/Sub pushing it out.
func Publish(target, emailAddress string) (models.PushRequest, int, error) {
	envelope, err := NewEnvelope(emailAddress)
	if err != nil {
		return envelope, 0, err
	}
	attempts, err := Deliver(target, envelope)
	return envelope, attempts, err
}

// PublishPeriodically publishes a notification for the mailbox on
// every tick. Delivery failures are logged, not fatal, matching
// Pub/Sub's fire-and-keep-retrying behavior.
func PublishPeriodically(target, emailAddress string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if _, _, err := Publish(target, emailAddress); err != nil {
			log.Printf("Periodic publish failed: %v", err)
		}
	}
}

// Stats reports the current history ID and successful delivery count.
func Stats() (uint64, int) {
	stateMutex.Lock()
	defer stateMutex.Unlock()
	return historyID, deliveredCount
}

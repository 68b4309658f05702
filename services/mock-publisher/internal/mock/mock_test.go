package mock

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
)

func TestEnvelopeDecodesAsGmailNotification(t *testing.T) {
	envelope, err := NewEnvelope("user@example.com")
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if envelope.Message.MessageID == "" {
		t.Error("envelope has no message ID")
	}
	if envelope.Subscription == "" {
		t.Error("envelope has no subscription")
	}

	// Round-trip through JSON the way the wire would carry it.
	body, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	var received models.PushRequest
	if err := json.Unmarshal(body, &received); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}

	n, err := received.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if n.EmailAddress != "user@example.com" {
		t.Errorf("EmailAddress = %q, want %q", n.EmailAddress, "user@example.com")
	}
	if n.HistoryID == 0 {
		t.Error("HistoryID = 0, want a positive value")
	}
}

func TestHistoryIDIncreases(t *testing.T) {
	first, err := NewEnvelope("user@example.com")
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	second, err := NewEnvelope("user@example.com")
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	firstN, _ := first.Decode()
	secondN, _ := second.Decode()
	if secondN.HistoryID <= firstN.HistoryID {
		t.Errorf("history IDs not increasing: %d then %d", firstN.HistoryID, secondN.HistoryID)
	}
}

func TestDeliverRedeliversUntilAcked(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req models.PushRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("endpoint received invalid envelope: %v", err)
		}
		// Nack the first two deliveries.
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	envelope, err := NewEnvelope("user@example.com")
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	attempts, err := Deliver(srv.URL, envelope)
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDeliverGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	envelope, err := NewEnvelope("user@example.com")
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if _, err := Deliver(srv.URL, envelope); err == nil {
		t.Fatal("Deliver() succeeded, want error after exhausting attempts")
	}
	if got := atomic.LoadInt32(&calls); got != maxAttempts {
		t.Errorf("endpoint called %d times, want %d", got, maxAttempts)
	}
}

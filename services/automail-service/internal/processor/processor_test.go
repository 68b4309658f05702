package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/gmailc"
	"github.com/Kumneger49/AutoMailUsingLocalLLM/services/automail-service/internal/llm"
)

type fakeMailbox struct {
	profile        models.Profile
	history        map[uint64][]string // startID -> message IDs after it
	historyExpired bool
	unread         []string
	messages       map[string]models.Email

	mu           sync.Mutex
	historyCalls []uint64
	unreadCalls  int
}

func (f *fakeMailbox) Profile(ctx context.Context) (models.Profile, error) {
	return f.profile, nil
}

func (f *fakeMailbox) HistorySince(ctx context.Context, startID uint64, handler func(string) error) error {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, startID)
	f.mu.Unlock()
	if f.historyExpired {
		return gmailc.ErrHistoryExpired
	}
	for _, id := range f.history[startID] {
		if err := handler(id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMailbox) ListUnread(ctx context.Context, handler func(string) error) error {
	f.mu.Lock()
	f.unreadCalls++
	f.mu.Unlock()
	for _, id := range f.unread {
		if err := handler(id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (models.Email, error) {
	msg, ok := f.messages[id]
	if !ok {
		return models.Email{}, gmailc.ErrMessageNotFound
	}
	return msg, nil
}

type fakeStore struct {
	mu          sync.Mutex
	emails      map[string]models.Email
	checkpoints map[string]uint64
	saveErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		emails:      make(map[string]models.Email),
		checkpoints: make(map[string]uint64),
	}
}

func (f *fakeStore) HasEmail(ctx context.Context, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.emails[messageID]
	return ok, nil
}

func (f *fakeStore) SaveEmail(ctx context.Context, e *models.Email) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return false, f.saveErr
	}
	if _, ok := f.emails[e.MessageID]; ok {
		return false, nil
	}
	f.emails[e.MessageID] = *e
	return true, nil
}

func (f *fakeStore) Checkpoint(ctx context.Context, emailAddress string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoints[emailAddress], nil
}

func (f *fakeStore) SaveCheckpoint(ctx context.Context, emailAddress string, historyID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if historyID > f.checkpoints[emailAddress] {
		f.checkpoints[emailAddress] = historyID
	}
	return nil
}

func (f *fakeStore) storedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.emails))
	for id := range f.emails {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type fakeGenerator struct {
	summarizeErr error
}

func (f *fakeGenerator) Summarize(ctx context.Context, e models.Email) (string, error) {
	if f.summarizeErr != nil {
		return "", f.summarizeErr
	}
	return "summary of " + e.MessageID, nil
}

func (f *fakeGenerator) DraftReply(ctx context.Context, e models.Email) (string, error) {
	return "reply to " + e.MessageID, nil
}

func messageFixtures(ids ...string) map[string]models.Email {
	m := make(map[string]models.Email, len(ids))
	for _, id := range ids {
		m[id] = models.Email{MessageID: id, Subject: "subject " + id, Body: fmt.Sprintf("a long enough body for message %s to summarize", id)}
	}
	return m
}

const mailboxAddr = "user@example.com"

func TestHandleNotificationFirstSyncUsesUnreadListing(t *testing.T) {
	mb := &fakeMailbox{
		profile:  models.Profile{EmailAddress: mailboxAddr, HistoryID: 200},
		unread:   []string{"m1", "m2"},
		messages: messageFixtures("m1", "m2"),
	}
	st := newFakeStore()
	p := New(mb, st, nil, 2)

	err := p.HandleNotification(context.Background(), models.ChangeNotification{EmailAddress: mailboxAddr, HistoryID: 150})
	if err != nil {
		t.Fatalf("HandleNotification() error: %v", err)
	}

	if mb.unreadCalls != 1 {
		t.Errorf("unread listing called %d times, want 1", mb.unreadCalls)
	}
	if diff := cmp.Diff([]string{"m1", "m2"}, st.storedIDs()); diff != "" {
		t.Errorf("stored emails mismatch (-want +got):\n%s", diff)
	}
	if got := st.checkpoints[mailboxAddr]; got != 150 {
		t.Errorf("checkpoint = %d, want 150", got)
	}
}

func TestHandleNotificationIncrementalDiffAndDedup(t *testing.T) {
	mb := &fakeMailbox{
		profile:  models.Profile{EmailAddress: mailboxAddr, HistoryID: 300},
		history:  map[uint64][]string{100: {"m1", "m2", "m3"}},
		messages: messageFixtures("m1", "m2", "m3"),
	}
	st := newFakeStore()
	st.checkpoints[mailboxAddr] = 100
	st.emails["m1"] = models.Email{MessageID: "m1"} // already processed

	p := New(mb, st, nil, 2)
	err := p.HandleNotification(context.Background(), models.ChangeNotification{EmailAddress: mailboxAddr, HistoryID: 300})
	if err != nil {
		t.Fatalf("HandleNotification() error: %v", err)
	}

	if len(mb.historyCalls) != 1 || mb.historyCalls[0] != 100 {
		t.Errorf("historyCalls = %v, want [100]", mb.historyCalls)
	}
	if diff := cmp.Diff([]string{"m1", "m2", "m3"}, st.storedIDs()); diff != "" {
		t.Errorf("stored emails mismatch (-want +got):\n%s", diff)
	}
	if got := p.Processed(); got != 2 {
		t.Errorf("Processed() = %d, want 2 (m1 was deduplicated)", got)
	}
}

func TestHandleNotificationRedeliveryIsIdempotent(t *testing.T) {
	mb := &fakeMailbox{
		profile:  models.Profile{EmailAddress: mailboxAddr},
		history:  map[uint64][]string{100: {"m1"}},
		messages: messageFixtures("m1"),
	}
	st := newFakeStore()
	st.checkpoints[mailboxAddr] = 100

	p := New(mb, st, nil, 1)
	n := models.ChangeNotification{EmailAddress: mailboxAddr, HistoryID: 110}

	if err := p.HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Redelivery diffs from the advanced checkpoint and finds nothing.
	if err := p.HandleNotification(context.Background(), n); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if got := p.Processed(); got != 1 {
		t.Errorf("Processed() = %d after redelivery, want 1", got)
	}
}

func TestHandleNotificationHistoryExpiredFallsBack(t *testing.T) {
	mb := &fakeMailbox{
		profile:        models.Profile{EmailAddress: mailboxAddr},
		historyExpired: true,
		unread:         []string{"m9"},
		messages:       messageFixtures("m9"),
	}
	st := newFakeStore()
	st.checkpoints[mailboxAddr] = 42

	p := New(mb, st, nil, 1)
	err := p.HandleNotification(context.Background(), models.ChangeNotification{EmailAddress: mailboxAddr, HistoryID: 500})
	if err != nil {
		t.Fatalf("HandleNotification() error: %v", err)
	}
	if mb.unreadCalls != 1 {
		t.Errorf("unread fallback called %d times, want 1", mb.unreadCalls)
	}
	if diff := cmp.Diff([]string{"m9"}, st.storedIDs()); diff != "" {
		t.Errorf("stored emails mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleNotificationDoesNotAdvanceCheckpointOnFailure(t *testing.T) {
	mb := &fakeMailbox{
		profile:  models.Profile{EmailAddress: mailboxAddr},
		history:  map[uint64][]string{100: {"m1"}},
		messages: messageFixtures("m1"),
	}
	st := newFakeStore()
	st.checkpoints[mailboxAddr] = 100
	st.saveErr = errors.New("db down")

	p := New(mb, st, nil, 1)
	err := p.HandleNotification(context.Background(), models.ChangeNotification{EmailAddress: mailboxAddr, HistoryID: 200})
	if err == nil {
		t.Fatal("HandleNotification() = nil error, want failure")
	}
	if got := st.checkpoints[mailboxAddr]; got != 100 {
		t.Errorf("checkpoint = %d after failure, want unchanged 100", got)
	}
}

func TestEnrichAttachesSummaryAndReply(t *testing.T) {
	mb := &fakeMailbox{
		profile:  models.Profile{EmailAddress: mailboxAddr},
		unread:   []string{"m1"},
		messages: messageFixtures("m1"),
	}
	st := newFakeStore()
	p := New(mb, st, &fakeGenerator{}, 1)

	if err := p.HandleNotification(context.Background(), models.ChangeNotification{EmailAddress: mailboxAddr, HistoryID: 5}); err != nil {
		t.Fatalf("HandleNotification() error: %v", err)
	}

	got := st.emails["m1"]
	if got.Summary != "summary of m1" {
		t.Errorf("Summary = %q", got.Summary)
	}
	if got.DraftReply != "reply to m1" {
		t.Errorf("DraftReply = %q", got.DraftReply)
	}
}

func TestEnrichToleratesShortContent(t *testing.T) {
	mb := &fakeMailbox{
		profile:  models.Profile{EmailAddress: mailboxAddr},
		unread:   []string{"m1"},
		messages: map[string]models.Email{"m1": {MessageID: "m1"}},
	}
	st := newFakeStore()
	p := New(mb, st, &fakeGenerator{summarizeErr: llm.ErrContentTooShort}, 1)

	if err := p.HandleNotification(context.Background(), models.ChangeNotification{EmailAddress: mailboxAddr, HistoryID: 5}); err != nil {
		t.Fatalf("HandleNotification() error: %v", err)
	}

	got, ok := st.emails["m1"]
	if !ok {
		t.Fatal("email with short content was not stored")
	}
	if got.Summary != "" {
		t.Errorf("Summary = %q, want empty", got.Summary)
	}
}

func TestFetchNowAdvancesToProfileHistoryID(t *testing.T) {
	mb := &fakeMailbox{
		profile:  models.Profile{EmailAddress: mailboxAddr, HistoryID: 777},
		unread:   []string{"m1"},
		messages: messageFixtures("m1"),
	}
	st := newFakeStore()
	p := New(mb, st, nil, 1)

	count, err := p.FetchNow(context.Background())
	if err != nil {
		t.Fatalf("FetchNow() error: %v", err)
	}
	if count != 1 {
		t.Errorf("FetchNow() = %d, want 1", count)
	}
	if got := st.checkpoints[mailboxAddr]; got != 777 {
		t.Errorf("checkpoint = %d, want 777", got)
	}
}

package gmailc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
)

const (
	userID     = "me"
	watchLabel = "INBOX"

	// Gmail API quota units per call, see
	// https://developers.google.com/gmail/api/reference/quota
	quotaUnitsPerMessagesGet  = 5
	quotaUnitsPerGetProfile   = 2
	quotaUnitsPerHistoryList  = 2
	quotaUnitsPerMessagesList = 1
	quotaUnitsPerWatch        = 100

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

var (
	// ErrHistoryExpired is returned when the start history ID is too
	// old for users.history.list; the caller must fall back to a full
	// unread listing.
	ErrHistoryExpired = errors.New("gmail history id expired")

	// ErrMessageNotFound is returned for messages the history list
	// mentions but that can no longer be fetched.
	ErrMessageNotFound = errors.New("gmail message not found")
)

// Client wraps the Gmail API behind a token-bucket limiter sized from
// the documented per-user quota.
type Client struct {
	svc     *gmail.Service
	limiter *rate.Limiter
}

func New(svc *gmail.Service) *Client {
	return &Client{
		svc:     svc,
		limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
	}
}

// Profile returns the mailbox address and its current history ID.
func (c *Client) Profile(ctx context.Context) (models.Profile, error) {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerGetProfile); err != nil {
		return models.Profile{}, err
	}
	p, err := c.svc.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to get gmail profile: %w", err)
	}
	return models.Profile{EmailAddress: p.EmailAddress, HistoryID: p.HistoryId}, nil
}

// Watch registers (or re-registers) a watch on the mailbox INBOX,
// publishing change notifications to the given topic. Gmail replaces
// any previous watch in place, so calling this before the old watch
// expires leaves no gap in delivery.
func (c *Client) Watch(ctx context.Context, topic string) (models.Watch, error) {
	if err := models.ValidateTopic(topic); err != nil {
		return models.Watch{}, err
	}
	if err := c.limiter.WaitN(ctx, quotaUnitsPerWatch); err != nil {
		return models.Watch{}, err
	}

	req := &gmail.WatchRequest{
		TopicName: topic,
		LabelIds:  []string{watchLabel},
	}
	resp, err := c.svc.Users.Watch(userID, req).Context(ctx).Do()
	if err != nil {
		return models.Watch{}, watchError(err, topic)
	}

	profile, err := c.Profile(ctx)
	if err != nil {
		return models.Watch{}, err
	}

	return models.Watch{
		EmailAddress: profile.EmailAddress,
		Topic:        topic,
		HistoryID:    resp.HistoryId,
		Expiration:   models.ExpirationFromMillis(resp.Expiration),
		RegisteredAt: time.Now().UTC(),
	}, nil
}

// watchError translates the common users.watch failures into messages
// an operator can act on. None of these are retried here; they are
// setup problems.
func watchError(err error, topic string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusForbidden:
			return fmt.Errorf("gmail cannot publish to %s: grant role Pub/Sub Publisher on the topic to gmail-api-push@system.gserviceaccount.com: %w", topic, err)
		case http.StatusBadRequest:
			return fmt.Errorf("gmail rejected watch request for topic %s: %w", topic, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("gmail credentials expired or missing, re-run the consent flow: %w", err)
		}
	}
	return fmt.Errorf("failed to create gmail watch: %w", err)
}

// StopWatch cancels the active watch on the mailbox.
func (c *Client) StopWatch(ctx context.Context) error {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerWatch); err != nil {
		return err
	}
	if err := c.svc.Users.Stop(userID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to stop gmail watch: %w", err)
	}
	return nil
}

// HistorySince streams the IDs of messages added after startID. It
// returns ErrHistoryExpired when startID is too old to diff from, in
// which case the caller should list unread messages instead.
func (c *Client) HistorySince(ctx context.Context, startID uint64, handler func(messageID string) error) error {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerHistoryList); err != nil {
		return err
	}
	req := c.svc.Users.History.List(userID).
		Context(ctx).
		HistoryTypes("messageAdded").
		StartHistoryId(startID)

	err := req.Pages(ctx, func(page *gmail.ListHistoryResponse) error {
		for _, h := range page.History {
			for _, added := range h.MessagesAdded {
				if err := handler(added.Message.Id); err != nil {
					return err
				}
			}
		}
		if page.NextPageToken != "" {
			return c.limiter.WaitN(ctx, quotaUnitsPerHistoryList)
		}
		return nil
	})
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return ErrHistoryExpired
		}
		return fmt.Errorf("failed to list gmail history from %d: %w", startID, err)
	}
	return nil
}

// ListUnread streams the IDs of unread INBOX messages, newest first.
// Used at first sync and whenever the history checkpoint has expired.
func (c *Client) ListUnread(ctx context.Context, handler func(messageID string) error) error {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return err
	}
	req := c.svc.Users.Messages.List(userID).
		Context(ctx).
		LabelIds(watchLabel, "UNREAD")

	err := req.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, m := range page.Messages {
			if err := handler(m.Id); err != nil {
				return err
			}
		}
		if page.NextPageToken != "" {
			return c.limiter.WaitN(ctx, quotaUnitsPerMessagesList)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list unread messages: %w", err)
	}
	return nil
}

// GetMessage fetches a message in full format and flattens it into our
// model: decoded headers plus the best body the MIME tree offers.
func (c *Client) GetMessage(ctx context.Context, id string) (models.Email, error) {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
		return models.Email{}, err
	}
	msg, err := c.svc.Users.Messages.Get(userID, id).Context(ctx).Format("full").Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return models.Email{}, ErrMessageNotFound
		}
		return models.Email{}, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	e := models.Email{
		MessageID:  msg.Id,
		ThreadID:   msg.ThreadId,
		Snippet:    msg.Snippet,
		HistoryID:  msg.HistoryId,
		ReceivedAt: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				e.From = decodeHeader(h.Value)
			case "To":
				e.To = decodeHeader(h.Value)
			case "Subject":
				e.Subject = decodeHeader(h.Value)
			}
		}
		e.Body = extractBody(msg.Payload, msg.Snippet)
	}
	return e, nil
}

// IsUnread reports whether the message still carries the UNREAD label.
// A missing message counts as read.
func (c *Client) IsUnread(ctx context.Context, id string) (bool, error) {
	if err := c.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
		return false, err
	}
	msg, err := c.svc.Users.Messages.Get(userID, id).Context(ctx).Format("minimal").Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check message %s: %w", id, err)
	}
	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			return true, nil
		}
	}
	return false, nil
}

package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PushMessage is the message part of a Pub/Sub push delivery. The Data
// field arrives base64-encoded on the wire; encoding/json decodes it
// into raw bytes for us.
type PushMessage struct {
	Data        []byte            `json:"data"`
	MessageID   string            `json:"messageId"`
	PublishTime time.Time         `json:"publishTime"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// PushRequest is the envelope Pub/Sub POSTs to a push endpoint.
// Google does not export a type for this shape, so we define it here.
type PushRequest struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// ChangeNotification is the payload Gmail publishes on every mailbox
// change: the address of the mailbox and the history ID to diff from.
type ChangeNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// UnmarshalJSON accepts historyId as either a JSON number or the
// quoted-string form Gmail also publishes.
func (n *ChangeNotification) UnmarshalJSON(data []byte) error {
	var raw struct {
		EmailAddress string          `json:"emailAddress"`
		HistoryID    json.RawMessage `json:"historyId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.EmailAddress = raw.EmailAddress
	n.HistoryID = 0
	if len(raw.HistoryID) == 0 || string(raw.HistoryID) == "null" {
		return nil
	}

	var asString string
	if err := json.Unmarshal(raw.HistoryID, &asString); err != nil {
		var asNumber json.Number
		if err := json.Unmarshal(raw.HistoryID, &asNumber); err != nil {
			return fmt.Errorf("historyId must be a string or number, got %s", raw.HistoryID)
		}
		asString = asNumber.String()
	}
	if asString == "" {
		return nil
	}
	id, err := strconv.ParseUint(asString, 10, 64)
	if err != nil {
		return fmt.Errorf("historyId %q is not a positive integer: %w", asString, err)
	}
	n.HistoryID = id
	return nil
}

// Decode extracts the Gmail change notification carried in the push
// message data. It fails when the data is not the JSON payload Gmail
// publishes, which normally means the subscription is bound to the
// wrong topic.
func (r *PushRequest) Decode() (ChangeNotification, error) {
	var n ChangeNotification
	if len(r.Message.Data) == 0 {
		return n, fmt.Errorf("push message %q carries no data", r.Message.MessageID)
	}
	if err := json.Unmarshal(r.Message.Data, &n); err != nil {
		return n, fmt.Errorf("failed to decode gmail notification payload: %w", err)
	}
	if n.EmailAddress == "" {
		return n, fmt.Errorf("gmail notification payload has no email address")
	}
	return n, nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Kumneger49/AutoMailUsingLocalLLM/internal/models"
)

// ErrContentTooShort is returned when an email carries too little text
// to say anything useful about.
var ErrContentTooShort = errors.New("email content too short to process")

// minBodyLength is the threshold below which the body is considered
// unreliable and the Gmail snippet is preferred instead.
const minBodyLength = 30

// Ollama generates summaries and draft replies by calling a local
// Ollama instance over its HTTP API.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Summarize produces a 2-3 sentence summary of the email.
func (o *Ollama) Summarize(ctx context.Context, e models.Email) (string, error) {
	content, err := emailContent(e)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf(`Summarize this email in 2-3 sentences. Focus on the main request, action items, or important information.

From: %s
Subject: %s
Content: %s

Summary:`, e.From, e.Subject, content)
	return o.generate(ctx, prompt)
}

// DraftReply produces a short professional reply to the email.
func (o *Ollama) DraftReply(ctx context.Context, e models.Email) (string, error) {
	content, err := emailContent(e)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf(`Write a concise, professional reply to this email. Keep it brief and to the point.

Original Email:
From: %s
Subject: %s
Content: %s

Draft Reply:`, e.From, e.Subject, content)
	return o.generate(ctx, prompt)
}

func (o *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach ollama at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(msg))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// emailContent picks the text to feed the model: the body when it has
// substance, the snippet when the body is short or empty, and the two
// combined as a last resort.
func emailContent(e models.Email) (string, error) {
	body := strings.TrimSpace(e.Body)
	snippet := strings.TrimSpace(e.Snippet)

	switch {
	case len(body) > minBodyLength:
		return body, nil
	case snippet != "":
		return snippet, nil
	case body != "":
		return body, nil
	}

	combined := strings.TrimSpace(body + " " + snippet)
	if len(combined) < 3 {
		return "", ErrContentTooShort
	}
	return combined, nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message payload forwarded for every accepted contact submission
type Message struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Organization string    `json:"organization,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	Message      string    `json:"message"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Webhook posts submissions to an inbox endpoint (CRM, chat hook).
// With an empty URL it is disabled and Forward is a no-op.
type Webhook struct {
	url        string
	httpClient *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *Webhook) Enabled() bool {
	return w != nil && w.url != ""
}

func (w *Webhook) Forward(ctx context.Context, message Message) error {
	if !w.Enabled() {
		return nil
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", "site-forms")

	response, err := w.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("call webhook: %w", err)
	}
	defer response.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected submission: HTTP %d, body=%s", response.StatusCode, string(body))
	}
	return nil
}

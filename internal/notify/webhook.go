// Package notify tells the chat workflow that a bill has been extracted.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// NotificationError reports a failed webhook delivery
type NotificationError struct {
	StatusCode int
	Err        error
}

func (e *NotificationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notification failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("notification failed: %v", e.Err)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// BillReady is the webhook payload
type BillReady struct {
	BillID   string `json:"bill_id"`
	ChatID   string `json:"chat_id"`
	Currency string `json:"currency"`
}

// Webhook posts BillReady payloads to a fixed URL
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook for url
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// NotifyBillReady posts the payload and treats any non-2xx answer as failure
func (w *Webhook) NotifyBillReady(ctx context.Context, billID, chatID, currency string) error {
	body, err := json.Marshal(BillReady{BillID: billID, ChatID: chatID, Currency: currency})
	if err != nil {
		return &NotificationError{Err: fmt.Errorf("marshaling payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return &NotificationError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &NotificationError{Err: fmt.Errorf("sending request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &NotificationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(respBody))}
	}

	slog.Debug("Webhook delivered", "bill_id", billID, "status", resp.StatusCode)
	return nil
}

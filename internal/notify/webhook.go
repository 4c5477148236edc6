// Package notify posts run summaries to a chat-style incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/report"
)

const defaultTimeout = 10 * time.Second

// Payload is the JSON body sent to the webhook.
type Payload struct {
	Text   string            `json:"text"`
	Report *models.RunReport `json:"report"`
}

// Webhook posts run reports to a URL.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook returns a notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: defaultTimeout},
	}
}

// Notify sends the report. Any non-2xx response is an error.
func (w *Webhook) Notify(ctx context.Context, r *models.RunReport) error {
	body, err := json.Marshal(Payload{Text: report.Headline(r), Report: r})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "templatesync")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cct-registry/cct-registry/internal/db/models"
)

// WebhookSink POSTs each batch as a JSON array of envelopes
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink creates a webhook sink. A zero timeout means 10 seconds.
func NewWebhookSink(url string, headers map[string]string, timeout time.Duration) *WebhookSink {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

// Publish sends events in one request. Any status >= 400 fails the whole batch.
func (ws *WebhookSink) Publish(ctx context.Context, events []*models.SaleEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := make([]Envelope, 0, len(events))
	for _, ev := range events {
		batch = append(batch, Envelope{Type: EventType, Sequence: ev.Sequence, Event: ev})
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal sale event batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Name returns "webhook"
func (ws *WebhookSink) Name() string { return "webhook" }

// Close is a no-op
func (ws *WebhookSink) Close() error { return nil }

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
)

// WebhookNotifier posts notifications as JSON to a messaging webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

// NotifyHumans implements Notifier.
func (w *WebhookNotifier) NotifyHumans(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &UpstreamError{Service: "webhook", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{Service: "webhook", StatusCode: resp.StatusCode}
	}
	return nil
}

// NATSNotifier publishes notifications on a NATS subject for downstream
// mail, push or chat-ops consumers.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier creates a new NATSNotifier.
func NewNATSNotifier(nc *nats.Conn, subject string) *NATSNotifier {
	return &NATSNotifier{nc: nc, subject: subject}
}

// Subject returns the subject tenant notifications are published on.
func (n *NATSNotifier) Subject(tenantID string) string {
	return n.subject + "." + tenantID
}

// NotifyHumans implements Notifier.
func (n *NATSNotifier) NotifyHumans(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := n.nc.Publish(n.Subject(note.TenantID), data); err != nil {
		return &UpstreamError{Service: "nats", Err: err}
	}
	return nil
}

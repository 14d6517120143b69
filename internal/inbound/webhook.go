package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/walink/internal/connector"
)

const (
	DefaultWebhookTimeout = 10 * time.Second

	// DeliveryHeader carries a unique ID per webhook POST.
	DeliveryHeader = "X-Walink-Delivery"
)

// WebhookPayload is the JSON body POSTed for each inbound message.
type WebhookPayload struct {
	Username string             `json:"username"`
	Message  *connector.Message `json:"message"`
}

// WebhookDispatcher POSTs inbound messages to tenant webhooks.
type WebhookDispatcher struct {
	client    *http.Client
	userAgent string
}

func NewWebhookDispatcher(timeout time.Duration, userAgent string) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookDispatcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Notify POSTs msg to url. Any non-2xx response is an error.
func (d *WebhookDispatcher) Notify(ctx context.Context, url, tenant string, msg *connector.Message) error {
	body, err := json.Marshal(WebhookPayload{Username: tenant, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, uuid.NewString())
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

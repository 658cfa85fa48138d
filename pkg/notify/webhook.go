// Package notify delivers notification events from the bus to an external
// HTTP endpoint.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ghuser/toolcrib/pkg/logger"
)

// EventIDHeader carries the notification's event id so receivers can
// deduplicate redeliveries.
const EventIDHeader = "X-Toolcrib-Event-Id"

// ErrRejected is returned when the receiver answers with a 4xx status other
// than 408 or 429. Rejected deliveries are not retried.
var ErrRejected = errors.New("webhook rejected notification")

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	URL        string
	Timeout    time.Duration // per attempt; defaults to 5s
	MaxRetries uint64        // retries after the first attempt
	BaseDelay  time.Duration // first backoff; defaults to 200ms
	Client     *http.Client  // defaults to a client with an otelhttp transport
}

// Webhook POSTs JSON notification payloads to a fixed URL.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	log    logger.Logger
}

// NewWebhook returns a Webhook for cfg.URL.
func NewWebhook(cfg WebhookConfig, log logger.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: webhook URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Webhook{cfg: cfg, client: client, log: log}, nil
}

// Deliver posts payload, retrying network errors, 408, 429 and 5xx answers
// with exponential backoff.
func (w *Webhook) Deliver(ctx context.Context, eventID string, payload []byte) error {
	backoff := retry.WithMaxRetries(w.cfg.MaxRetries, retry.NewExponential(w.cfg.BaseDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.post(ctx, eventID, payload)
		if err == nil || errors.Is(err, ErrRejected) {
			return err
		}
		w.log.WarnContext(ctx, "webhook delivery failed, retrying", "event_id", eventID, "error", err)
		return retry.RetryableError(err)
	})
}

func (w *Webhook) post(ctx context.Context, eventID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if eventID != "" {
		req.Header.Set(EventIDHeader, eventID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("receiver answered %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
}

// Handler adapts the webhook to an event bus subscriber. Delivery failures
// are logged and the message is acknowledged, so a dead receiver never blocks
// the topic.
func (w *Webhook) Handler() func(context.Context, *message.Message) error {
	return func(ctx context.Context, msg *message.Message) error {
		eventID := msg.Metadata.Get("event_id")
		if err := w.Deliver(ctx, eventID, msg.Payload); err != nil {
			w.log.ErrorContext(ctx, "webhook delivery gave up", "event_id", eventID, "error", err)
			return nil
		}
		w.log.DebugContext(ctx, "webhook delivered", "event_id", eventID)
		return nil
	}
}

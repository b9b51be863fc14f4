package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fayedaihall/tesseracts-world/core/events"
	"github.com/fayedaihall/tesseracts-world/native/escrow"
	"github.com/fayedaihall/tesseracts-world/observability"
)

const (
	maxDeliveryAttempts = 5
	backoffBase         = 500 * time.Millisecond
	backoffCap          = 30 * time.Second
)

// Endpoint is a webhook subscriber. Payloads are signed with the endpoint
// secret using HMAC-SHA256 and carried in the X-Webhook-Signature header.
type Endpoint struct {
	Name   string
	URL    string
	Secret string
}

// Dispatcher journals escrow events and delivers them to the configured
// endpoints. Records are removed from the journal only after every endpoint
// acknowledged with a 2xx; anything still pending is replayed on the next
// start.
//
// Durability begins at receipt: an event dropped by a full bus subscriber
// buffer never reaches the journal, so the outbox covers delivery failures
// and restarts, not emission backpressure. Subscribers that fall behind
// reconcile from the registry.
type Dispatcher struct {
	journal   *Journal
	endpoints []Endpoint
	client    *http.Client
	logger    *slog.Logger
	nowFn     func() time.Time
	backoff   time.Duration
}

// NewDispatcher builds a dispatcher over the given journal and endpoints.
func NewDispatcher(journal *Journal, endpoints []Endpoint, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		journal:   journal,
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		nowFn:     time.Now,
		backoff:   backoffBase,
	}
}

// Run replays pending records, then consumes events from the subscription
// channel until the context is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context, subscription <-chan events.Event) {
	pending, err := d.journal.Pending()
	if err != nil {
		d.logger.Error("webhook journal replay failed", "error", err)
	}
	for _, record := range pending {
		d.dispatch(ctx, record)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-subscription:
			if !ok {
				return
			}
			record, err := d.journal.Append(evt.EventType(), eventAttributes(evt), d.nowFn())
			if err != nil {
				d.logger.Error("webhook journal append failed", "event", evt.EventType(), "error", err)
				continue
			}
			d.dispatch(ctx, record)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, record Record) {
	if len(d.endpoints) == 0 {
		if err := d.journal.Delete(record.Sequence); err != nil {
			d.logger.Error("webhook journal delete failed", "sequence", record.Sequence, "error", err)
		}
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"type":       record.Type,
		"sequence":   record.Sequence,
		"attributes": record.Attributes,
		"timestamp":  record.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		d.logger.Error("webhook payload encode failed", "sequence", record.Sequence, "error", err)
		return
	}

	delivered := true
	for _, endpoint := range d.endpoints {
		if err := d.deliver(ctx, endpoint, payload); err != nil {
			delivered = false
			observability.Metrics().Webhooks.WithLabelValues("failed").Inc()
			d.logger.Warn("webhook delivery failed",
				"endpoint", endpoint.Name,
				"event", record.Type,
				"sequence", record.Sequence,
				"error", err)
			continue
		}
		observability.Metrics().Webhooks.WithLabelValues("delivered").Inc()
	}
	if !delivered {
		// Record stays journaled for replay on the next start.
		return
	}
	if err := d.journal.Delete(record.Sequence); err != nil {
		d.logger.Error("webhook journal delete failed", "sequence", record.Sequence, "error", err)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, endpoint Endpoint, payload []byte) error {
	var lastErr error
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, backoffDuration(d.backoff, attempt-1)); err != nil {
				return err
			}
		}
		lastErr = d.post(ctx, endpoint, payload)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *Dispatcher) post(ctx context.Context, endpoint Endpoint, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", SignPayload(endpoint.Secret, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &deliveryError{status: resp.Status}
	}
	return nil
}

type deliveryError struct {
	status string
}

func (e *deliveryError) Error() string {
	return "unexpected response: " + e.status
}

// SignPayload computes the hex HMAC-SHA256 signature for a payload.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func backoffDuration(base time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	d := base * time.Duration(1<<uint(attempt-1))
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func eventAttributes(evt events.Event) map[string]string {
	if escrowEvent, ok := evt.(*escrow.Event); ok {
		return escrowEvent.Attributes
	}
	return nil
}

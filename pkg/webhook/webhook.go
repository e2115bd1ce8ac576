// Package webhook delivers signed event notifications to a configured URL:
// fire-and-forget fan-out with bounded concurrency, fixed-delay retries,
// SSRF-safe URL validation and persisted delivery records.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

const (
	// semaphoreSize bounds concurrent outbound deliveries process-wide.
	semaphoreSize = 10
	// attemptTimeout is the per-attempt HTTP deadline.
	attemptTimeout = 30 * time.Second
	maxAttempts    = 3

	headerEvent     = "X-Tessera-Event"
	headerTimestamp = "X-Tessera-Timestamp"
	headerSignature = "X-Tessera-Signature"
)

// retryDelays are the fixed waits between attempts.
var retryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

// Config is the dispatcher's static configuration.
type Config struct {
	URL    string
	Secret string
	// Production requires https target URLs.
	Production bool
	// AllowPrivate skips the routability check. Local development only.
	AllowPrivate bool
}

// Dispatcher fans events out to the configured webhook URL. It satisfies
// the service notifier interface; Emit never blocks the caller.
type Dispatcher struct {
	store  store.Store
	cfg    Config
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
	delays []time.Duration
	lookup lookupFunc

	mu  sync.Mutex
	sem chan struct{}
	wg  sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the outbound client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithRetryDelays overrides the fixed retry waits, for tests.
func WithRetryDelays(delays []time.Duration) Option {
	return func(d *Dispatcher) { d.delays = delays }
}

// New builds a dispatcher writing delivery records to st.
func New(st store.Store, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  st,
		cfg:    cfg,
		client: &http.Client{Timeout: attemptTimeout},
		log:    slog.Default(),
		now:    time.Now,
		delays: retryDelays,
		lookup: resolveHost,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// semaphore returns the shared slot channel, created lazily so Reset can
// rebind it between scheduler restarts in tests.
func (d *Dispatcher) semaphore() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sem == nil {
		d.sem = make(chan struct{}, semaphoreSize)
	}
	return d.sem
}

// Reset drops the semaphore so the next delivery recreates it.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sem = nil
}

// Wait blocks until every in-flight delivery has finished. Test helper.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Emit detaches a delivery task for one event. With no URL configured it is
// a silent no-op. The task survives the caller's request lifecycle.
func (d *Dispatcher) Emit(event contracts.EventType, payload map[string]any) {
	if d.cfg.URL == "" {
		return
	}
	envelope := contracts.WebhookEvent{
		Event:     event,
		Timestamp: d.now().UTC(),
		Payload:   payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		d.log.Error("webhook payload marshal failed", "event", event, "error", err)
		return
	}
	// Canonical form keeps the signature deterministic for a given payload.
	if canonical, err := jcs.Transform(body); err == nil {
		body = canonical
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(context.Background(), event, body)
	}()
}

// Sign computes the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) deliver(ctx context.Context, event contracts.EventType, body []byte) {
	delivery := &contracts.WebhookDelivery{
		ID:        uuid.NewString(),
		EventType: event,
		Payload:   body,
		TargetURL: d.cfg.URL,
		Status:    contracts.DeliveryPending,
		CreatedAt: d.now().UTC(),
	}

	if err := d.validateURL(ctx, d.cfg.URL); err != nil {
		// The row is persisted failed with zero attempts; no socket is
		// opened toward the rejected address.
		delivery.Status = contracts.DeliveryFailed
		delivery.LastError = err.Error()
		if storeErr := d.store.CreateDelivery(ctx, delivery); storeErr != nil {
			d.log.Error("webhook delivery record failed", "error", storeErr)
		}
		d.log.Warn("webhook URL rejected", "url", d.cfg.URL, "error", err)
		return
	}

	if err := d.store.CreateDelivery(ctx, delivery); err != nil {
		d.log.Error("webhook delivery record failed", "error", err)
		return
	}

	sem := d.semaphore()
	sem <- struct{}{}
	defer func() { <-sem }()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		delivery.Attempts = attempt
		status, err := d.attempt(ctx, body, event)
		delivery.LastStatusCode = status
		if err == nil && status < 300 {
			now := d.now().UTC()
			delivery.Status = contracts.DeliveryDelivered
			delivery.DeliveredAt = &now
			delivery.LastError = ""
			break
		}
		if err != nil {
			delivery.LastError = err.Error()
		} else {
			delivery.LastError = fmt.Sprintf("unexpected status %d", status)
		}
		delivery.Status = contracts.DeliveryFailed
		if attempt < maxAttempts {
			time.Sleep(d.delays[(attempt-1)%len(d.delays)])
		}
	}

	if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
		d.log.Error("webhook delivery update failed", "id", delivery.ID, "error", err)
	}
	if delivery.Status == contracts.DeliveryFailed {
		d.log.Warn("webhook delivery failed",
			"event", event, "attempts", delivery.Attempts, "error", delivery.LastError)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, body []byte, event contracts.EventType) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, string(event))
	req.Header.Set(headerTimestamp, d.now().UTC().Format(time.RFC3339))
	if d.cfg.Secret != "" {
		req.Header.Set(headerSignature, Sign(d.cfg.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}

// Package observability records service metrics through the OpenTelemetry
// metric API. Exporter wiring is a deployment concern; with no provider
// installed every instrument is a no-op.
package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/tessera-io/tessera"

// Metrics is the instrument set. A nil *Metrics is safe to call.
type Metrics struct {
	proposalTransitions metric.Int64Counter
	contractPublishes   metric.Int64Counter
	webhookDeliveries   metric.Int64Counter
	httpRequests        metric.Int64Counter
	httpDuration        metric.Float64Histogram
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	transitions, err := meter.Int64Counter("tessera.proposal.transitions",
		metric.WithDescription("Proposal state transitions by target status"))
	if err != nil {
		return nil, err
	}
	publishes, err := meter.Int64Counter("tessera.contract.publishes",
		metric.WithDescription("Contract publish decisions by action"))
	if err != nil {
		return nil, err
	}
	deliveries, err := meter.Int64Counter("tessera.webhook.deliveries",
		metric.WithDescription("Webhook delivery outcomes"))
	if err != nil {
		return nil, err
	}
	requests, err := meter.Int64Counter("tessera.http.requests",
		metric.WithDescription("HTTP requests by method and status class"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("tessera.http.duration",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		proposalTransitions: transitions,
		contractPublishes:   publishes,
		webhookDeliveries:   deliveries,
		httpRequests:        requests,
		httpDuration:        duration,
	}, nil
}

// RecordTransition counts one proposal transition.
func (m *Metrics) RecordTransition(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.proposalTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", to)))
}

// RecordPublish counts one publish decision.
func (m *Metrics) RecordPublish(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.contractPublishes.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordWebhook counts one finished delivery.
func (m *Metrics) RecordWebhook(ctx context.Context, status string, attempts int) {
	if m == nil {
		return
	}
	m.webhookDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("attempts", attempts),
	))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware counts requests and records latency.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.Int("status", rec.status),
		)
		m.httpRequests.Add(r.Context(), 1, attrs)
		m.httpDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
	})
}

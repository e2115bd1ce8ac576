package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMetricsAndNilSafety(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	// No provider installed: instruments are no-ops but never panic.
	m.RecordTransition(context.Background(), "approved")
	m.RecordPublish(context.Background(), "published")
	m.RecordWebhook(context.Background(), "delivered", 1)

	var nilMetrics *Metrics
	nilMetrics.RecordTransition(context.Background(), "approved")
	nilMetrics.RecordPublish(context.Background(), "published")
	nilMetrics.RecordWebhook(context.Background(), "failed", 3)
}

func TestHTTPMiddleware(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	handler := m.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/teams", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	var nilMetrics *Metrics
	passthrough := nilMetrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec = httptest.NewRecorder()
	passthrough.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

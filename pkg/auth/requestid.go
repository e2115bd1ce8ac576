package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// headerRequestID correlates a request across retries, logs, and error
// envelopes.
const headerRequestID = "X-Request-ID"

// maxRequestIDLen bounds client-supplied ids before they reach the logs.
const maxRequestIDLen = 128

type requestIDKey struct{}

// RequestIDMiddleware tags every request with an id and echoes it on the
// response. A reasonable client-supplied id is kept so callers can trace
// their own retries; anything oversized is replaced.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// GetRequestID returns the id tagged by RequestIDMiddleware, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

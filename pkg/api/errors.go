// Package api exposes the coordination service over HTTP. Routing uses the
// net/http ServeMux method+path patterns; every failure is rendered as the
// structured envelope {"error": {"code", "message", "details?"}}.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tessera-io/tessera/pkg/auth"
	"github.com/tessera-io/tessera/pkg/service"
)

// errorBody is the wire shape of a failure.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var kindStatus = map[service.Kind]int{
	service.KindBadRequest:   http.StatusBadRequest,
	service.KindUnauthorized: http.StatusUnauthorized,
	service.KindForbidden:    http.StatusForbidden,
	service.KindNotFound:     http.StatusNotFound,
	service.KindConflict:     http.StatusConflict,
	service.KindValidation:   http.StatusUnprocessableEntity,
	service.KindRateLimited:  http.StatusTooManyRequests,
	service.KindInternal:     http.StatusInternalServerError,
}

func statusFor(kind service.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err as the envelope. Anything outside the taxonomy is
// an internal error; its message stays server-side and only a generic string
// goes out.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.KindInternal
	detail := errorDetail{Code: string(service.KindInternal), Message: "internal error"}

	var se *service.Error
	if errors.As(err, &se) {
		kind = se.Kind
		detail.Code = string(se.Kind)
		detail.Message = se.Message
		detail.Details = se.Details
	}
	if kind == service.KindInternal {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", auth.GetRequestID(r.Context()), "error", err)
	}
	writeJSON(w, statusFor(kind), errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteUnauthorized renders the 401 envelope. The auth middleware calls it
// through auth.SetUnauthorizedWriter.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	if message == "" {
		message = "authentication required"
	}
	writeJSON(w, http.StatusUnauthorized, errorBody{
		Error: errorDetail{Code: string(service.KindUnauthorized), Message: message},
	})
}

// WriteRateLimited renders the 429 envelope for the rate-limit middleware.
func WriteRateLimited(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error: errorDetail{Code: string(service.KindRateLimited), Message: "rate limit exceeded"},
	})
}

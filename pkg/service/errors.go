package service

import (
	"errors"
	"fmt"

	"github.com/tessera-io/tessera/pkg/store"
)

// Kind is the machine-readable error category surfaced to API clients.
type Kind string

const (
	KindBadRequest   Kind = "bad_request"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindUnauthorized Kind = "unauthorized"
	KindConflict     Kind = "conflict"
	KindValidation   Kind = "validation"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

// Error is the typed failure every service operation returns. The API layer
// maps Kind to an HTTP status and renders the envelope; Details carries
// machine-readable context (never server internals).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// E builds an Error with a formatted message.
func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches detail fields and returns e for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from err, defaulting to internal for anything
// that is not a service Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a service Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// storeErr translates store sentinels into the taxonomy, keeping anything
// else as-is so it surfaces as internal.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return E(KindNotFound, "%s not found", what)
	case errors.Is(err, store.ErrConflict):
		return E(KindConflict, "%s already exists", what)
	}
	return err
}

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/tessera-io/tessera/pkg/auth"
	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
)

// maxBodyBytes caps request bodies; dbt manifests are the largest expected
// payload and stay well under this.
const maxBodyBytes = 32 << 20

// scoped wraps a handler with a scope check on the request principal.
func (s *Server) scoped(scope contracts.APIKeyScope, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := auth.GetPrincipal(r.Context())
		if p == nil {
			writeError(w, r, service.E(service.KindUnauthorized, "authentication required"))
			return
		}
		if !p.HasScope(scope) {
			writeError(w, r, service.E(service.KindForbidden, "scope %q required", scope))
			return
		}
		h(w, r)
	}
}

// actor derives the service-layer principal from the request context.
func actor(r *http.Request) service.Actor {
	if p := auth.GetPrincipal(r.Context()); p != nil {
		return p.Actor()
	}
	return service.Actor{}
}

// decodeJSON reads the body into dst, rejecting oversized or malformed
// payloads as bad requests.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return service.E(service.KindBadRequest, "request body is required")
		}
		return service.E(service.KindBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

package auth

import (
	"net/http"
	"strings"

	"github.com/tessera-io/tessera/pkg/contracts"
)

// publicPaths never require authentication.
var publicPaths = []string{
	"/health",
	"/health/ready",
	"/health/live",
	"/metrics",
	"/api/v1/auth/login",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// unauthorizedWriter lets the api package inject its error envelope without
// an import cycle.
type unauthorizedWriter func(w http.ResponseWriter, r *http.Request, message string)

var writeUnauthorized unauthorizedWriter = func(w http.ResponseWriter, _ *http.Request, message string) {
	http.Error(w, message, http.StatusUnauthorized)
}

// SetUnauthorizedWriter replaces the plain-text 401 body with a custom
// writer. Called once at server assembly.
func SetUnauthorizedWriter(fn func(w http.ResponseWriter, r *http.Request, message string)) {
	if fn != nil {
		writeUnauthorized = fn
	}
}

// Middleware authenticates every non-public request: a Bearer API key, or a
// session JWT carried in the same header with the "Session" scheme. With
// auth disabled every request becomes an admin (development only).
func Middleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if a.cfg.Disabled {
				p := &Principal{Scopes: scopesForRole(contracts.RoleAdmin), KeyFingerprint: "disabled"}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, r, "missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 {
				writeUnauthorized(w, r, "malformed Authorization header")
				return
			}

			var (
				p   *Principal
				err error
			)
			switch parts[0] {
			case "Bearer":
				p, err = a.AuthenticateKey(r.Context(), parts[1])
			case "Session":
				p, err = a.AuthenticateSession(r.Context(), parts[1])
			default:
				writeUnauthorized(w, r, "unsupported Authorization scheme")
				return
			}
			if err != nil {
				writeUnauthorized(w, r, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

package auth

import (
	"net/http"
	"strings"
)

// CORSConfig controls cross-origin access. An empty origin list allows all
// origins, which Production forbids.
type CORSConfig struct {
	Origins      []string
	AllowMethods []string
	Production   bool
}

func (c CORSConfig) methods() string {
	if len(c.AllowMethods) == 0 {
		return "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	}
	return strings.Join(c.AllowMethods, ", ")
}

func (c CORSConfig) originAllowed(origin string) bool {
	if len(c.Origins) == 0 {
		// Wildcard is a development convenience only.
		return !c.Production
	}
	for _, o := range c.Origins {
		if o == origin {
			return true
		}
		if o == "*" && !c.Production {
			return true
		}
	}
	return false
}

// CORSMiddleware sets the cross-origin headers and short-circuits preflight
// requests.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && cfg.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", cfg.methods())
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Package auth authenticates requests (bootstrap key, stored API keys,
// session JWTs) and carries the resulting principal through the request
// context. Two middleware concerns live here as well: CORS and per-key rate
// limiting.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	TeamID   string
	Role     contracts.Role
	Scopes   []contracts.APIKeyScope
	APIKeyID string
	// KeyFingerprint identifies the credential for rate-limit bucketing
	// without retaining the plaintext.
	KeyFingerprint string
}

// HasScope reports whether the principal holds scope. Admin implies every
// scope.
func (p *Principal) HasScope(scope contracts.APIKeyScope) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == contracts.ScopeAdmin || s == scope {
			return true
		}
	}
	return false
}

// Actor converts the principal into the service-layer actor.
func (p *Principal) Actor() service.Actor {
	if p == nil {
		return service.Actor{}
	}
	return service.Actor{
		UserID: p.UserID,
		TeamID: p.TeamID,
		Admin:  p.HasScope(contracts.ScopeAdmin),
	}
}

// scopesForRole derives session scopes: admin gets everything, team_admin
// reads and writes, plain users read.
func scopesForRole(role contracts.Role) []contracts.APIKeyScope {
	switch role {
	case contracts.RoleAdmin:
		return []contracts.APIKeyScope{contracts.ScopeAdmin, contracts.ScopeWrite, contracts.ScopeRead}
	case contracts.RoleTeamAdmin:
		return []contracts.APIKeyScope{contracts.ScopeWrite, contracts.ScopeRead}
	default:
		return []contracts.APIKeyScope{contracts.ScopeRead}
	}
}

// HashKey returns the hex SHA-256 of a full API key string. Only this hash
// is ever stored or compared against the database.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// constantTimeEqual avoids leaking bootstrap-key prefixes through timing.
func constantTimeEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// GetPrincipal extracts the authenticated principal, or nil.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

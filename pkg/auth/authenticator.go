package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

// sessionTTL bounds how long an issued session token stays valid.
const sessionTTL = 24 * time.Hour

// Config carries the authenticator's static credentials.
type Config struct {
	// BootstrapKey grants admin scope without a database row. Optional.
	BootstrapKey string
	// SessionSecret signs and verifies session JWTs.
	SessionSecret string
	// Disabled turns every request into an admin. Development only.
	Disabled bool
}

// Authenticator resolves bearer tokens and session JWTs to principals.
type Authenticator struct {
	store store.Store
	cfg   Config
	now   func() time.Time
}

// NewAuthenticator builds an authenticator over st.
func NewAuthenticator(st store.Store, cfg Config) *Authenticator {
	return &Authenticator{store: st, cfg: cfg, now: time.Now}
}

// WithClock overrides time.Now, for tests.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	a.now = now
	return a
}

// AuthenticateKey resolves a bearer API key. The bootstrap key yields admin
// scope; anything else is hashed and matched against stored keys.
func (a *Authenticator) AuthenticateKey(ctx context.Context, key string) (*Principal, error) {
	if key == "" {
		return nil, service.E(service.KindUnauthorized, "missing credentials")
	}
	if a.cfg.BootstrapKey != "" && constantTimeEqual(key, a.cfg.BootstrapKey) {
		return &Principal{
			Role:           contracts.RoleAdmin,
			Scopes:         scopesForRole(contracts.RoleAdmin),
			KeyFingerprint: HashKey(key)[:16],
		}, nil
	}

	hash := HashKey(key)
	stored, err := a.store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, service.E(service.KindUnauthorized, "unknown API key")
		}
		return nil, err
	}
	if stored.RevokedAt != nil {
		return nil, service.E(service.KindUnauthorized, "API key is revoked")
	}
	// Last-used bookkeeping must not fail authentication.
	_ = a.store.TouchAPIKey(ctx, stored.ID, a.now().UTC())

	p := &Principal{
		Scopes:         stored.Scopes,
		APIKeyID:       stored.ID,
		KeyFingerprint: hash[:16],
	}
	if stored.TeamID != nil {
		p.TeamID = *stored.TeamID
	}
	return p, nil
}

// sessionClaims are the JWT claims Tessera issues for UI sessions.
type sessionClaims struct {
	jwt.RegisteredClaims
	Role   string  `json:"role"`
	TeamID *string `json:"team_id,omitempty"`
}

// IssueSession signs a session token for user.
func (a *Authenticator) IssueSession(user *contracts.User) (string, error) {
	if a.cfg.SessionSecret == "" {
		return "", service.E(service.KindInternal, "session secret is not configured")
	}
	now := a.now().UTC()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
			Issuer:    "tessera",
		},
		Role:   string(user.Role),
		TeamID: user.TeamID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.SessionSecret))
}

// AuthenticateSession validates a session JWT and derives scopes from the
// user's role.
func (a *Authenticator) AuthenticateSession(ctx context.Context, tokenStr string) (*Principal, error) {
	if a.cfg.SessionSecret == "" {
		return nil, service.E(service.KindUnauthorized, "sessions are not configured")
	}
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) { return []byte(a.cfg.SessionSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return nil, service.E(service.KindUnauthorized, "invalid or expired session")
	}
	if claims.Subject == "" {
		return nil, service.E(service.KindUnauthorized, "session has no subject")
	}

	user, err := a.store.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, service.E(service.KindUnauthorized, "session user no longer exists")
	}
	if !user.Active() {
		return nil, service.E(service.KindUnauthorized, "session user is deactivated")
	}

	p := &Principal{
		UserID:         user.ID,
		Role:           user.Role,
		Scopes:         scopesForRole(user.Role),
		KeyFingerprint: "session:" + user.ID,
	}
	if user.TeamID != nil {
		p.TeamID = *user.TeamID
	}
	return p, nil
}

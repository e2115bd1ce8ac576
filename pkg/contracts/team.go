// Package contracts defines the domain types exchanged between the Tessera
// services and their stores: teams, users, assets, contracts, registrations,
// proposals, acknowledgments, audit runs and webhook records.
package contracts

import "time"

// Team owns assets (producer side) and registers on contracts (consumer side).
// Names are unique case-insensitively.
type Team struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Role determines the scopes a session user is granted.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTeamAdmin Role = "team_admin"
	RoleUser      Role = "user"
)

// ValidRole reports whether r is one of the recognized roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleTeamAdmin, RoleUser:
		return true
	}
	return false
}

// User is a human account. Email is unique. PasswordHash is set only for
// accounts that log into the UI; API-only users have none.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	TeamID        *string    `json:"team_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// Active reports whether the user may act or own anything.
func (u *User) Active() bool {
	return u.DeactivatedAt == nil
}

// APIKeyScope is a capability granted to an API key.
type APIKeyScope string

const (
	ScopeRead  APIKeyScope = "read"
	ScopeWrite APIKeyScope = "write"
	ScopeAdmin APIKeyScope = "admin"
)

// APIKey is a stored bearer credential. Only the SHA-256 hash of the full
// key string is persisted; the plaintext is shown once at creation.
type APIKey struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	KeyHash    string        `json:"-"`
	Scopes     []APIKeyScope `json:"scopes"`
	TeamID     *string       `json:"team_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	LastUsedAt *time.Time    `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time    `json:"revoked_at,omitempty"`
}

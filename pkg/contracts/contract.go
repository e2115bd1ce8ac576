package contracts

import (
	"encoding/json"
	"time"
)

// CompatibilityMode selects which schema changes count as breaking.
type CompatibilityMode string

const (
	CompatBackward CompatibilityMode = "backward"
	CompatForward  CompatibilityMode = "forward"
	CompatFull     CompatibilityMode = "full"
	CompatNone     CompatibilityMode = "none"
)

// ValidCompatibilityMode reports whether m is a recognized mode.
func ValidCompatibilityMode(m CompatibilityMode) bool {
	switch m {
	case CompatBackward, CompatForward, CompatFull, CompatNone:
		return true
	}
	return false
}

// ContractStatus is the lifecycle state of a contract version.
type ContractStatus string

const (
	ContractActive     ContractStatus = "active"
	ContractDeprecated ContractStatus = "deprecated"
	ContractWithdrawn  ContractStatus = "withdrawn"
)

// SchemaFormat tags the shape of a contract's schema document.
const SchemaFormatJSONSchema = "json_schema"

// Contract is one versioned (schema, guarantees) pair attached to an asset.
//
// Invariants:
//   - at most one contract per asset has status active (C1)
//   - a deprecated or withdrawn contract is never reactivated (C2)
type Contract struct {
	ID                string            `json:"id"`
	AssetID           string            `json:"asset_id"`
	Version           string            `json:"version"`
	Schema            json.RawMessage   `json:"schema"`
	SchemaFormat      string            `json:"schema_format"`
	CompatibilityMode CompatibilityMode `json:"compatibility_mode"`
	Guarantees        *Guarantees       `json:"guarantees,omitempty"`
	Status            ContractStatus    `json:"status"`
	PublishedByTeam   string            `json:"published_by_team"`
	PublishedByUser   *string           `json:"published_by_user,omitempty"`
	PublishedAt       time.Time         `json:"published_at"`
}

// RegistrationStatus is the state of a consumer registration.
type RegistrationStatus string

const (
	RegistrationActive  RegistrationStatus = "active"
	RegistrationRevoked RegistrationStatus = "revoked"
)

// Registration is a consumer team's declared dependence on a contract.
// (contract, consumer_team) is unique while the registration is active.
type Registration struct {
	ID             string             `json:"id"`
	ContractID     string             `json:"contract_id"`
	ConsumerTeamID string             `json:"consumer_team_id"`
	PinnedVersion  *string            `json:"pinned_version,omitempty"`
	Purpose        string             `json:"purpose,omitempty"`
	Status         RegistrationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
}

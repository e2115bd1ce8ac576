package contracts

import (
	"encoding/json"
	"time"
)

// ProposalStatus is the lifecycle state of a breaking-change proposal.
// Pending is the only mutable state (P1).
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalApproved  ProposalStatus = "approved"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalWithdrawn ProposalStatus = "withdrawn"
	ProposalExpired   ProposalStatus = "expired"
)

// Terminal reports whether no further transition is allowed from s.
// Approved still permits publish-from, which does not change the status.
func (s ProposalStatus) Terminal() bool {
	return s != ProposalPending
}

// BreakingChange is one schema-diff entry that is breaking under the
// contract's compatibility mode.
type BreakingChange struct {
	Kind     string `json:"kind"`
	Path     string `json:"path"`
	Message  string `json:"message"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
}

// Proposal is a pending breaking change anchored to an asset (P2): its
// approval authorises publishing the proposed schema against that asset.
type Proposal struct {
	ID                 string           `json:"id"`
	AssetID            string           `json:"asset_id"`
	ProposedSchema     json.RawMessage  `json:"proposed_schema"`
	ProposedGuarantees *Guarantees      `json:"proposed_guarantees,omitempty"`
	ProposedVersion    string           `json:"proposed_version,omitempty"`
	Classification     string           `json:"classification"`
	BreakingChanges    []BreakingChange `json:"breaking_changes"`
	ProposedByTeam     string           `json:"proposed_by_team"`
	ProposedByUser     *string          `json:"proposed_by_user,omitempty"`
	Status             ProposalStatus   `json:"status"`
	ExpiresAt          *time.Time       `json:"expires_at,omitempty"`
	AutoExpire         bool             `json:"auto_expire,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty"`
}

// AckResponse is a consumer team's verdict on a proposal.
type AckResponse string

const (
	AckApproved     AckResponse = "approved"
	AckBlocked      AckResponse = "blocked"
	AckNeedsChanges AckResponse = "needs_changes"
)

// ValidAckResponse reports whether r is a recognized response.
func ValidAckResponse(r AckResponse) bool {
	switch r {
	case AckApproved, AckBlocked, AckNeedsChanges:
		return true
	}
	return false
}

// Acknowledgment is one consumer team's response to one proposal.
// (proposal, consumer_team) is unique.
type Acknowledgment struct {
	ID                string      `json:"id"`
	ProposalID        string      `json:"proposal_id"`
	ConsumerTeamID    string      `json:"consumer_team_id"`
	AcknowledgedBy    *string     `json:"acknowledged_by,omitempty"`
	Response          AckResponse `json:"response"`
	MigrationDeadline *time.Time  `json:"migration_deadline,omitempty"`
	Notes             string      `json:"notes,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

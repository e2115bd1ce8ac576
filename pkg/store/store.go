// Package store persists Tessera entities. Two implementations exist: SQL
// (Postgres for deployments, SQLite for lite mode) and an in-memory store
// used by tests. Every mutating service operation runs inside a single
// Transact call; the SQL store maps that to one database transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tessera-io/tessera/pkg/contracts"
)

var (
	// ErrNotFound is returned when an identifier matches nothing visible.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on uniqueness violations.
	ErrConflict = errors.New("conflict")
)

// TeamFilter narrows ListTeams.
type TeamFilter struct {
	Name           string
	IncludeDeleted bool
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Email              string
	Name               string
	TeamID             string
	IncludeDeactivated bool
}

// AssetFilter narrows ListAssets.
type AssetFilter struct {
	OwnerTeamID    string
	OwnerUserID    string
	Environment    string
	ResourceType   string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// ContractFilter narrows contract listings.
type ContractFilter struct {
	AssetID string
	Status  contracts.ContractStatus
	Version string
	TeamID  string
	Limit   int
	Offset  int
}

// RegistrationFilter narrows registration listings.
type RegistrationFilter struct {
	ContractID     string
	ConsumerTeamID string
	Status         contracts.RegistrationStatus
}

// ProposalFilter narrows proposal listings.
type ProposalFilter struct {
	AssetID    string
	Status     contracts.ProposalStatus
	ProposedBy string
	Limit      int
	Offset     int
}

// AuditRunFilter narrows audit-run history reads.
type AuditRunFilter struct {
	Status      contracts.AuditRunStatus
	TriggeredBy string
	Limit       int
}

// Queries is the full entity surface. The same interface is implemented by
// a live connection and by an open transaction, so services write their
// logic once and choose atomicity at the call site.
type Queries interface {
	// Teams
	CreateTeam(ctx context.Context, t *contracts.Team) error
	GetTeam(ctx context.Context, id string) (*contracts.Team, error)
	GetTeamByName(ctx context.Context, name string) (*contracts.Team, error)
	ListTeams(ctx context.Context, f TeamFilter) ([]*contracts.Team, error)
	UpdateTeam(ctx context.Context, t *contracts.Team) error
	SoftDeleteTeam(ctx context.Context, id string, at time.Time) error

	// Users
	CreateUser(ctx context.Context, u *contracts.User) error
	GetUser(ctx context.Context, id string) (*contracts.User, error)
	GetUserByEmail(ctx context.Context, email string) (*contracts.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]*contracts.User, error)
	UpdateUser(ctx context.Context, u *contracts.User) error

	// Assets
	CreateAsset(ctx context.Context, a *contracts.Asset) error
	GetAsset(ctx context.Context, id string, includeDeleted bool) (*contracts.Asset, error)
	GetAssetByFQN(ctx context.Context, environment, fqn string) (*contracts.Asset, error)
	ListAssets(ctx context.Context, f AssetFilter) ([]*contracts.Asset, error)
	SearchAssets(ctx context.Context, q string, limit int) ([]*contracts.Asset, error)
	UpdateAsset(ctx context.Context, a *contracts.Asset) error
	SoftDeleteAsset(ctx context.Context, id string, at time.Time) error

	// Dependencies
	CreateDependency(ctx context.Context, d *contracts.AssetDependency) error
	DeleteDependency(ctx context.Context, id string) error
	ListDependencies(ctx context.Context, assetID string) ([]*contracts.AssetDependency, error)
	ListUpstream(ctx context.Context, downstreamID string) ([]*contracts.AssetDependency, error)
	ListDownstream(ctx context.Context, upstreamID string) ([]*contracts.AssetDependency, error)

	// Contracts
	CreateContract(ctx context.Context, c *contracts.Contract) error
	GetContract(ctx context.Context, id string) (*contracts.Contract, error)
	// ActiveContract loads the single active contract for an asset. With
	// forUpdate the row is locked for the rest of the transaction
	// (Postgres; SQLite serializes writers anyway).
	ActiveContract(ctx context.Context, assetID string, forUpdate bool) (*contracts.Contract, error)
	ListContracts(ctx context.Context, f ContractFilter) ([]*contracts.Contract, error)
	SetContractStatus(ctx context.Context, id string, status contracts.ContractStatus) error
	SetContractGuarantees(ctx context.Context, id string, g *contracts.Guarantees) error

	// Registrations
	CreateRegistration(ctx context.Context, r *contracts.Registration) error
	GetRegistration(ctx context.Context, id string) (*contracts.Registration, error)
	FindActiveRegistration(ctx context.Context, contractID, consumerTeamID string) (*contracts.Registration, error)
	ListRegistrations(ctx context.Context, f RegistrationFilter) ([]*contracts.Registration, error)
	SetRegistrationStatus(ctx context.Context, id string, status contracts.RegistrationStatus) error

	// Proposals
	CreateProposal(ctx context.Context, p *contracts.Proposal) error
	GetProposal(ctx context.Context, id string, forUpdate bool) (*contracts.Proposal, error)
	ListProposals(ctx context.Context, f ProposalFilter) ([]*contracts.Proposal, error)
	ResolveProposal(ctx context.Context, id string, status contracts.ProposalStatus, resolvedAt time.Time) error

	// Acknowledgments
	CreateAcknowledgment(ctx context.Context, a *contracts.Acknowledgment) error
	ListAcknowledgments(ctx context.Context, proposalID string) ([]*contracts.Acknowledgment, error)

	// Audit runs
	CreateAuditRun(ctx context.Context, r *contracts.AuditRun) error
	ListAuditRuns(ctx context.Context, assetID string, f AuditRunFilter) ([]*contracts.AuditRun, error)
	ListAuditRunsSince(ctx context.Context, assetID string, since time.Time) ([]*contracts.AuditRun, error)

	// Webhook deliveries
	CreateDelivery(ctx context.Context, d *contracts.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, d *contracts.WebhookDelivery) error
	GetDelivery(ctx context.Context, id string) (*contracts.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, limit int) ([]*contracts.WebhookDelivery, error)

	// Audit journal
	AppendAuditEvent(ctx context.Context, e *contracts.AuditEvent) error

	// API keys
	CreateAPIKey(ctx context.Context, k *contracts.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*contracts.APIKey, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
}

// Store is Queries plus transaction control and lifecycle.
type Store interface {
	Queries
	// Transact runs fn within one transaction; any error rolls back.
	Transact(ctx context.Context, fn func(q Queries) error) error
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

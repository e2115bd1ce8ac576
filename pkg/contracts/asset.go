package contracts

import "time"

// ResourceType classifies what kind of dataset or endpoint an asset governs.
type ResourceType string

const (
	ResourceModel        ResourceType = "model"
	ResourceSource       ResourceType = "source"
	ResourceSeed         ResourceType = "seed"
	ResourceSnapshot     ResourceType = "snapshot"
	ResourceKafkaTopic   ResourceType = "kafka_topic"
	ResourceAPIEndpoint  ResourceType = "api_endpoint"
	ResourceGraphQLQuery ResourceType = "graphql_query"
)

// GuaranteeMode controls how guarantee evaluation results are treated.
type GuaranteeMode string

const (
	GuaranteeModeEnforce GuaranteeMode = "enforce"
	GuaranteeModeMonitor GuaranteeMode = "monitor"
)

// Asset is the dataset-or-endpoint being governed. FQN is unique within an
// environment, compared case-insensitively (stored lowered).
//
// Invariants:
//   - if OwnerUserID is set, that user's team equals OwnerTeamID (O1)
//   - soft-deleted assets are excluded from queries unless requested (O2)
type Asset struct {
	ID            string         `json:"id"`
	FQN           string         `json:"fqn"`
	OwnerTeamID   string         `json:"owner_team_id"`
	OwnerUserID   *string        `json:"owner_user_id,omitempty"`
	Environment   string         `json:"environment"`
	ResourceType  ResourceType   `json:"resource_type"`
	GuaranteeMode GuaranteeMode  `json:"guarantee_mode,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// DefaultEnvironment is assumed when an asset is created without one.
const DefaultEnvironment = "production"

// DependencyKind labels an asset dependency edge.
type DependencyKind string

const (
	DependencyRef    DependencyKind = "ref"
	DependencySource DependencyKind = "source"
	DependencyCustom DependencyKind = "custom"
)

// AssetDependency is a directed edge: downstream reads from upstream.
// Self-loops are rejected; (downstream, upstream) is unique.
type AssetDependency struct {
	ID           string         `json:"id"`
	DownstreamID string         `json:"downstream_id"`
	UpstreamID   string         `json:"upstream_id"`
	Kind         DependencyKind `json:"kind"`
	CreatedAt    time.Time      `json:"created_at"`
}

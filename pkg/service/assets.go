package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

// CreateAssetRequest carries the caller-controlled asset fields.
type CreateAssetRequest struct {
	FQN           string                  `json:"fqn"`
	OwnerTeamID   string                  `json:"owner_team_id"`
	OwnerUserID   *string                 `json:"owner_user_id,omitempty"`
	Environment   string                  `json:"environment,omitempty"`
	ResourceType  contracts.ResourceType  `json:"resource_type,omitempty"`
	GuaranteeMode contracts.GuaranteeMode `json:"guarantee_mode,omitempty"`
	Metadata      map[string]any          `json:"metadata,omitempty"`
}

// checkOwnerUser enforces the owner invariant: an owner user must be active
// and belong to the owning team.
func checkOwnerUser(ctx context.Context, q store.Queries, ownerUserID *string, ownerTeamID string) error {
	if ownerUserID == nil {
		return nil
	}
	user, err := q.GetUser(ctx, *ownerUserID)
	if err != nil {
		return storeErr(err, "owner user")
	}
	if !user.Active() {
		return E(KindBadRequest, "owner user is deactivated")
	}
	if user.TeamID == nil || *user.TeamID != ownerTeamID {
		return E(KindBadRequest, "owner user does not belong to the owning team")
	}
	return nil
}

func (s *Services) CreateAsset(ctx context.Context, actor Actor, req CreateAssetRequest) (*contracts.Asset, error) {
	fqn := strings.ToLower(strings.TrimSpace(req.FQN))
	if fqn == "" {
		return nil, E(KindBadRequest, "asset fqn is required")
	}
	if req.OwnerTeamID == "" {
		return nil, E(KindBadRequest, "owner team is required")
	}
	if err := s.mustOwnTeam(actor, req.OwnerTeamID); err != nil {
		return nil, err
	}
	env := req.Environment
	if env == "" {
		env = contracts.DefaultEnvironment
	}
	resourceType := req.ResourceType
	if resourceType == "" {
		resourceType = contracts.ResourceModel
	}
	asset := &contracts.Asset{
		ID:            uuid.NewString(),
		FQN:           fqn,
		OwnerTeamID:   req.OwnerTeamID,
		OwnerUserID:   req.OwnerUserID,
		Environment:   env,
		ResourceType:  resourceType,
		GuaranteeMode: req.GuaranteeMode,
		Metadata:      req.Metadata,
		CreatedAt:     s.now().UTC(),
	}
	err := s.store.Transact(ctx, func(q store.Queries) error {
		if _, err := q.GetTeam(ctx, req.OwnerTeamID); err != nil {
			return storeErr(err, "owner team")
		}
		if err := checkOwnerUser(ctx, q, req.OwnerUserID, req.OwnerTeamID); err != nil {
			return err
		}
		return storeErr(q.CreateAsset(ctx, asset), "asset "+fqn)
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "asset.created", actor.UserID, "asset", asset.ID, map[string]any{"fqn": fqn})
	return asset, nil
}

func (s *Services) GetAsset(ctx context.Context, id string, includeDeleted bool) (*contracts.Asset, error) {
	asset, err := s.store.GetAsset(ctx, id, includeDeleted)
	return asset, storeErr(err, "asset")
}

func (s *Services) ListAssets(ctx context.Context, f store.AssetFilter) ([]*contracts.Asset, error) {
	return s.store.ListAssets(ctx, f)
}

// SearchAssets matches fqn substrings. q must be 1–100 characters.
func (s *Services) SearchAssets(ctx context.Context, q string, limit int) ([]*contracts.Asset, error) {
	if len(q) < 1 || len(q) > 100 {
		return nil, E(KindBadRequest, "search query must be 1-100 characters")
	}
	return s.store.SearchAssets(ctx, q, limit)
}

// UpdateAssetRequest patches an asset; nil fields are untouched. Setting
// OwnerUserID to an empty string clears the owner user.
type UpdateAssetRequest struct {
	OwnerTeamID   *string                  `json:"owner_team_id,omitempty"`
	OwnerUserID   *string                  `json:"owner_user_id,omitempty"`
	Environment   *string                  `json:"environment,omitempty"`
	GuaranteeMode *contracts.GuaranteeMode `json:"guarantee_mode,omitempty"`
	Metadata      map[string]any           `json:"metadata,omitempty"`
}

func (s *Services) UpdateAsset(ctx context.Context, actor Actor, id string, req UpdateAssetRequest) (*contracts.Asset, error) {
	var asset *contracts.Asset
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		asset, err = q.GetAsset(ctx, id, false)
		if err != nil {
			return storeErr(err, "asset")
		}
		if err := s.mustOwnTeam(actor, asset.OwnerTeamID); err != nil {
			return err
		}
		if req.OwnerTeamID != nil {
			if _, err := q.GetTeam(ctx, *req.OwnerTeamID); err != nil {
				return storeErr(err, "owner team")
			}
			asset.OwnerTeamID = *req.OwnerTeamID
		}
		if req.OwnerUserID != nil {
			if *req.OwnerUserID == "" {
				asset.OwnerUserID = nil
			} else {
				asset.OwnerUserID = req.OwnerUserID
			}
		}
		if err := checkOwnerUser(ctx, q, asset.OwnerUserID, asset.OwnerTeamID); err != nil {
			return err
		}
		if req.Environment != nil && *req.Environment != "" {
			asset.Environment = *req.Environment
		}
		if req.GuaranteeMode != nil {
			asset.GuaranteeMode = *req.GuaranteeMode
		}
		if req.Metadata != nil {
			asset.Metadata = req.Metadata
		}
		return storeErr(q.UpdateAsset(ctx, asset), "asset "+asset.FQN)
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "asset.updated", actor.UserID, "asset", id, nil)
	return asset, nil
}

func (s *Services) DeleteAsset(ctx context.Context, actor Actor, id string) error {
	err := s.store.Transact(ctx, func(q store.Queries) error {
		asset, err := q.GetAsset(ctx, id, false)
		if err != nil {
			return storeErr(err, "asset")
		}
		if err := s.mustOwnTeam(actor, asset.OwnerTeamID); err != nil {
			return err
		}
		return storeErr(q.SoftDeleteAsset(ctx, id, s.now()), "asset")
	})
	if err != nil {
		return err
	}
	s.journal.Record(ctx, "asset.deleted", actor.UserID, "asset", id, nil)
	return nil
}

// ---- dependencies ----

// AddDependencyRequest declares a directed edge: the asset reads from Upstream.
type AddDependencyRequest struct {
	UpstreamID string                   `json:"upstream_id"`
	Kind       contracts.DependencyKind `json:"kind,omitempty"`
}

func (s *Services) AddDependency(ctx context.Context, actor Actor, downstreamID string, req AddDependencyRequest) (*contracts.AssetDependency, error) {
	if req.UpstreamID == downstreamID {
		return nil, E(KindBadRequest, "an asset cannot depend on itself")
	}
	kind := req.Kind
	if kind == "" {
		kind = contracts.DependencyRef
	}
	dep := &contracts.AssetDependency{
		ID:           uuid.NewString(),
		DownstreamID: downstreamID,
		UpstreamID:   req.UpstreamID,
		Kind:         kind,
		CreatedAt:    s.now().UTC(),
	}
	err := s.store.Transact(ctx, func(q store.Queries) error {
		downstream, err := q.GetAsset(ctx, downstreamID, false)
		if err != nil {
			return storeErr(err, "asset")
		}
		if err := s.mustOwnTeam(actor, downstream.OwnerTeamID); err != nil {
			return err
		}
		if _, err := q.GetAsset(ctx, req.UpstreamID, false); err != nil {
			return storeErr(err, "upstream asset")
		}
		return storeErr(q.CreateDependency(ctx, dep), "dependency")
	})
	if err != nil {
		return nil, err
	}
	return dep, nil
}

func (s *Services) RemoveDependency(ctx context.Context, actor Actor, assetID, depID string) error {
	return s.store.Transact(ctx, func(q store.Queries) error {
		asset, err := q.GetAsset(ctx, assetID, false)
		if err != nil {
			return storeErr(err, "asset")
		}
		if err := s.mustOwnTeam(actor, asset.OwnerTeamID); err != nil {
			return err
		}
		return storeErr(q.DeleteDependency(ctx, depID), "dependency")
	})
}

func (s *Services) ListDependencies(ctx context.Context, assetID string) ([]*contracts.AssetDependency, error) {
	if _, err := s.store.GetAsset(ctx, assetID, false); err != nil {
		return nil, storeErr(err, "asset")
	}
	return s.store.ListDependencies(ctx, assetID)
}

// ---- lineage ----

// LineageNode is one asset reached during traversal, with its distance from
// the root.
type LineageNode struct {
	Asset *contracts.Asset `json:"asset"`
	Depth int              `json:"depth"`
}

// Lineage is the bounded transitive view in both directions.
type Lineage struct {
	AssetID    string        `json:"asset_id"`
	Upstream   []LineageNode `json:"upstream"`
	Downstream []LineageNode `json:"downstream"`
	MaxDepth   int           `json:"max_depth"`
}

const (
	defaultLineageDepth = 3
	maxLineageDepth     = 10
)

// AssetLineage walks dependency edges breadth-first in both directions.
// Depth is clamped; a visited set breaks cycles.
func (s *Services) AssetLineage(ctx context.Context, assetID string, depth int) (*Lineage, error) {
	if depth <= 0 {
		depth = defaultLineageDepth
	}
	if depth > maxLineageDepth {
		depth = maxLineageDepth
	}
	if _, err := s.store.GetAsset(ctx, assetID, true); err != nil {
		return nil, storeErr(err, "asset")
	}

	upstream, err := s.walkLineage(ctx, assetID, depth, func(id string) ([]*contracts.AssetDependency, error) {
		return s.store.ListUpstream(ctx, id)
	}, func(d *contracts.AssetDependency) string { return d.UpstreamID })
	if err != nil {
		return nil, err
	}
	downstream, err := s.walkLineage(ctx, assetID, depth, func(id string) ([]*contracts.AssetDependency, error) {
		return s.store.ListDownstream(ctx, id)
	}, func(d *contracts.AssetDependency) string { return d.DownstreamID })
	if err != nil {
		return nil, err
	}
	return &Lineage{AssetID: assetID, Upstream: upstream, Downstream: downstream, MaxDepth: depth}, nil
}

func (s *Services) walkLineage(ctx context.Context, rootID string, maxDepth int,
	edges func(id string) ([]*contracts.AssetDependency, error),
	next func(*contracts.AssetDependency) string) ([]LineageNode, error) {

	visited := map[string]bool{rootID: true}
	frontier := []string{rootID}
	var nodes []LineageNode

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var nextFrontier []string
		for _, id := range frontier {
			deps, err := edges(id)
			if err != nil {
				return nil, err
			}
			for _, d := range deps {
				target := next(d)
				if visited[target] {
					continue
				}
				visited[target] = true
				// Lineage reads across soft-deleted assets.
				asset, err := s.store.GetAsset(ctx, target, true)
				if err != nil {
					return nil, storeErr(err, "asset")
				}
				nodes = append(nodes, LineageNode{Asset: asset, Depth: depth})
				nextFrontier = append(nextFrontier, target)
			}
		}
		frontier = nextFrontier
	}
	return nodes, nil
}

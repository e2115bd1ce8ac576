package ingest

import (
	"context"
	"errors"
	"sort"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/schemadiff"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

// Per-model preview statuses.
const (
	StatusNew       = "new"
	StatusModified  = "modified"
	StatusUnchanged = "unchanged"
	StatusDeleted   = "deleted"
)

// Schema-change classifications for previews.
const (
	ChangeNone       = "none"
	ChangeCompatible = "compatible"
	ChangeBreaking   = "breaking"
)

// PreviewOptions steer a dry run.
type PreviewOptions struct {
	Environment string `json:"environment,omitempty"`
	// FailOnBreaking marks the preview blocking when any model carries a
	// breaking change. CI gates on it.
	FailOnBreaking bool `json:"fail_on_breaking,omitempty"`
}

// ModelPreview is the dry-run verdict for one model.
type ModelPreview struct {
	FQN             string                     `json:"fqn"`
	Status          string                     `json:"status"`
	SchemaChange    string                     `json:"schema_change"`
	BreakingChanges []contracts.BreakingChange `json:"breaking_changes,omitempty"`
}

// Preview is the dry-run result for a whole manifest.
type Preview struct {
	Models   []ModelPreview `json:"models"`
	Blocking bool           `json:"blocking"`
}

// Preview compares a manifest to the stored state without writing anything.
func (p *Pipeline) Preview(ctx context.Context, m Manifest, opts PreviewOptions) (*Preview, error) {
	if opts.Environment == "" {
		opts.Environment = contracts.DefaultEnvironment
	}
	result := &Preview{}
	seen := map[string]bool{}

	for _, dn := range datasetNodes(m) {
		fqn := dn.node.FQN()
		seen[fqn] = true
		entry := ModelPreview{FQN: fqn, Status: StatusUnchanged, SchemaChange: ChangeNone}

		asset, err := p.store.GetAssetByFQN(ctx, opts.Environment, fqn)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			entry.Status = StatusNew
			result.Models = append(result.Models, entry)
			continue
		}

		schema := columnsToSchema(dn.node.Columns)
		if schema == nil {
			result.Models = append(result.Models, entry)
			continue
		}
		active, err := p.store.ActiveContract(ctx, asset.ID, false)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			// Asset known but never contracted; the upload would publish a
			// first version rather than modify anything.
			result.Models = append(result.Models, entry)
			continue
		}

		res := schemadiff.DiffDocuments(active.Schema, schema)
		if len(res.Changes) == 0 {
			result.Models = append(result.Models, entry)
			continue
		}
		entry.Status = StatusModified
		breaking := schemadiff.BreakingUnder(res.Changes, schemadiff.Mode(active.CompatibilityMode))
		if len(breaking) == 0 {
			entry.SchemaChange = ChangeCompatible
		} else {
			entry.SchemaChange = ChangeBreaking
			entry.BreakingChanges = toBreakingChanges(breaking)
			if opts.FailOnBreaking {
				result.Blocking = true
			}
		}
		result.Models = append(result.Models, entry)
	}

	deleted, err := p.deletedAssets(ctx, opts.Environment, seen)
	if err != nil {
		return nil, err
	}
	result.Models = append(result.Models, deleted...)
	return result, nil
}

// deletedAssets lists dbt-sourced assets present in the store but absent
// from the manifest.
func (p *Pipeline) deletedAssets(ctx context.Context, environment string, seen map[string]bool) ([]ModelPreview, error) {
	assets, err := p.store.ListAssets(ctx, store.AssetFilter{Environment: environment})
	if err != nil {
		return nil, err
	}
	var out []ModelPreview
	for _, asset := range assets {
		if seen[asset.FQN] {
			continue
		}
		if _, dbtKind := modelResourceTypes[string(asset.ResourceType)]; !dbtKind {
			continue
		}
		out = append(out, ModelPreview{FQN: asset.FQN, Status: StatusDeleted, SchemaChange: ChangeNone})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN < out[j].FQN })
	return out, nil
}

func toBreakingChanges(changes []schemadiff.Change) []contracts.BreakingChange {
	out := make([]contracts.BreakingChange, 0, len(changes))
	for _, c := range changes {
		out = append(out, contracts.BreakingChange{
			Kind:     string(c.Kind),
			Path:     c.Path,
			Message:  c.Message,
			OldValue: c.OldValue,
			NewValue: c.NewValue,
		})
	}
	return out
}

// ModelImpact pairs a manifest model with its impact against the stored
// active contract.
type ModelImpact struct {
	FQN    string          `json:"fqn"`
	Impact *service.Impact `json:"impact"`
}

// Impact runs the per-asset impact dry run for every manifest model that
// already exists in the store and has columns.
func (p *Pipeline) Impact(ctx context.Context, m Manifest, environment string) ([]ModelImpact, error) {
	if environment == "" {
		environment = contracts.DefaultEnvironment
	}
	var out []ModelImpact
	for _, dn := range datasetNodes(m) {
		schema := columnsToSchema(dn.node.Columns)
		if schema == nil {
			continue
		}
		fqn := dn.node.FQN()
		asset, err := p.store.GetAssetByFQN(ctx, environment, fqn)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		impact, err := p.svc.AssetImpact(ctx, asset.ID, schema)
		if err != nil {
			return nil, err
		}
		out = append(out, ModelImpact{FQN: fqn, Impact: impact})
	}
	return out, nil
}

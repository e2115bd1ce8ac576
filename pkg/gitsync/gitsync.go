// Package gitsync round-trips contract state through a directory of YAML
// documents, one per asset, so contracts can live in version control next
// to the transformations that produce them.
package gitsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/schemadiff"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
	"github.com/tessera-io/tessera/pkg/versioning"
)

const contractsDir = "contracts"

// Document is the YAML shape of one asset plus its active contract.
type Document struct {
	FQN               string         `yaml:"fqn"`
	Environment       string         `yaml:"environment"`
	OwnerTeam         string         `yaml:"owner_team"`
	ResourceType      string         `yaml:"resource_type,omitempty"`
	Version           string         `yaml:"version,omitempty"`
	CompatibilityMode string         `yaml:"compatibility_mode,omitempty"`
	Schema            map[string]any `yaml:"schema,omitempty"`
	Guarantees        map[string]any `yaml:"guarantees,omitempty"`
}

// Syncer exports to and imports from a git working tree.
type Syncer struct {
	svc   *service.Services
	store store.Store
	root  string
	log   *slog.Logger
}

// New builds a syncer rooted at dir.
func New(svc *service.Services, st store.Store, dir string) *Syncer {
	return &Syncer{svc: svc, store: st, root: dir, log: slog.Default()}
}

// WithLogger overrides the default logger.
func (s *Syncer) WithLogger(l *slog.Logger) *Syncer {
	s.log = l
	return s
}

// PushResult accounts for one export pass.
type PushResult struct {
	Exported int      `json:"exported"`
	Files    []string `json:"files"`
}

// fileName derives a stable path for an asset: contracts/<env>/<fqn>.yaml.
func (s *Syncer) fileName(asset *contracts.Asset) string {
	return filepath.Join(s.root, contractsDir, asset.Environment, asset.FQN+".yaml")
}

func rawToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// Push writes every asset with an active contract as one YAML document.
// Re-running over unchanged state rewrites identical bytes, which keeps the
// working tree clean for git.
func (s *Syncer) Push(ctx context.Context) (*PushResult, error) {
	if s.root == "" {
		return nil, service.E(service.KindBadRequest, "git sync path is not configured")
	}
	assets, err := s.store.ListAssets(ctx, store.AssetFilter{})
	if err != nil {
		return nil, err
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].FQN < assets[j].FQN })

	result := &PushResult{}
	for _, asset := range assets {
		active, err := s.store.ActiveContract(ctx, asset.ID, false)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		team, err := s.store.GetTeam(ctx, asset.OwnerTeamID)
		if err != nil {
			return nil, err
		}

		doc := Document{
			FQN:               asset.FQN,
			Environment:       asset.Environment,
			OwnerTeam:         team.Name,
			ResourceType:      string(asset.ResourceType),
			Version:           active.Version,
			CompatibilityMode: string(active.CompatibilityMode),
			Schema:            rawToMap(active.Schema),
		}
		if active.Guarantees != nil {
			raw, err := json.Marshal(active.Guarantees)
			if err == nil {
				doc.Guarantees = rawToMap(raw)
			}
		}

		buf, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", asset.FQN, err)
		}
		path := s.fileName(asset)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(s.root, path)
		result.Files = append(result.Files, rel)
		result.Exported++
	}
	s.log.Info("git sync push", "exported", result.Exported, "root", s.root)
	return result, nil
}

// PullResult accounts for one import pass.
type PullResult struct {
	AssetsCreated      int      `json:"assets_created"`
	ContractsPublished int      `json:"contracts_published"`
	Unchanged          int      `json:"unchanged"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Pull reads every YAML document under the sync root and reconciles the
// store toward it: missing assets are created, schema drift is published
// through the normal decision tree, identical state is left alone. Running
// Pull twice over the same tree is a no-op the second time.
func (s *Syncer) Pull(ctx context.Context, actor service.Actor) (*PullResult, error) {
	if s.root == "" {
		return nil, service.E(service.KindBadRequest, "git sync path is not configured")
	}
	dir := filepath.Join(s.root, contractsDir)
	result := &PullResult{}

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var doc Document
		if err := yaml.Unmarshal(buf, &doc); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		if warn := s.applyDocument(ctx, actor, doc, result); warn != "" {
			rel, _ := filepath.Rel(s.root, path)
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", rel, warn))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("git sync pull",
		"created", result.AssetsCreated, "published", result.ContractsPublished,
		"unchanged", result.Unchanged, "warnings", len(result.Warnings))
	return result, nil
}

// applyDocument reconciles one document; a non-empty return is a warning.
func (s *Syncer) applyDocument(ctx context.Context, actor service.Actor, doc Document, result *PullResult) string {
	if doc.FQN == "" || doc.OwnerTeam == "" {
		return "fqn and owner_team are required"
	}
	env := doc.Environment
	if env == "" {
		env = contracts.DefaultEnvironment
	}
	team, err := s.store.GetTeamByName(ctx, doc.OwnerTeam)
	if err != nil {
		return fmt.Sprintf("owner team %q not found", doc.OwnerTeam)
	}

	asset, err := s.store.GetAssetByFQN(ctx, env, strings.ToLower(doc.FQN))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err.Error()
		}
		asset, err = s.svc.CreateAsset(ctx, actor, service.CreateAssetRequest{
			FQN:          doc.FQN,
			OwnerTeamID:  team.ID,
			Environment:  env,
			ResourceType: contracts.ResourceType(doc.ResourceType),
		})
		if err != nil {
			return err.Error()
		}
		result.AssetsCreated++
	}

	if doc.Schema == nil {
		return ""
	}
	schema, err := json.Marshal(doc.Schema)
	if err != nil {
		return fmt.Sprintf("schema does not serialize: %v", err)
	}
	var guarantees *contracts.Guarantees
	if doc.Guarantees != nil {
		raw, err := json.Marshal(doc.Guarantees)
		if err == nil {
			var g contracts.Guarantees
			if err := json.Unmarshal(raw, &g); err == nil {
				guarantees = &g
			}
		}
	}

	active, err := s.store.ActiveContract(ctx, asset.ID, false)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err.Error()
	}
	if active != nil {
		res := schemadiff.DiffDocuments(active.Schema, schema)
		if len(res.Changes) == 0 {
			result.Unchanged++
			return ""
		}
		if doc.Version == "" || doc.Version == active.Version {
			return fmt.Sprintf("schema changed but version %q is not greater than active %q",
				doc.Version, active.Version)
		}
	}

	version := doc.Version
	if version == "" {
		version = versioning.FirstVersion
	}
	decision, err := s.svc.Publish(ctx, actor, service.PublishRequest{
		AssetID:           asset.ID,
		Version:           version,
		Schema:            schema,
		CompatibilityMode: contracts.CompatibilityMode(doc.CompatibilityMode),
		Guarantees:        guarantees,
	})
	if err != nil {
		return err.Error()
	}
	switch decision.Action {
	case service.ActionProposalCreated:
		return fmt.Sprintf("breaking change held as proposal %s", decision.Proposal.ID)
	default:
		result.ContractsPublished++
	}
	return ""
}

// Package ingest turns external schema inventories — dbt manifests, OpenAPI
// documents, GraphQL operation sets — into Tessera assets, contracts,
// proposals and registrations.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/schemadiff"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
	"github.com/tessera-io/tessera/pkg/versioning"
)

// ConflictMode decides what happens when a manifest entry matches an
// existing asset FQN.
type ConflictMode string

const (
	ConflictOverwrite ConflictMode = "overwrite"
	ConflictIgnore    ConflictMode = "ignore"
	ConflictFail      ConflictMode = "fail"
)

// Options steer one ingestion pass.
type Options struct {
	// DefaultOwnerTeamID owns every asset whose meta block does not name a
	// resolvable team.
	DefaultOwnerTeamID string        `json:"default_owner_team_id"`
	Environment        string        `json:"environment,omitempty"`
	ConflictMode       ConflictMode  `json:"conflict_mode,omitempty"`
	AutoPublish        bool          `json:"auto_publish_contracts,omitempty"`
	AutoPropose        bool          `json:"auto_create_proposals,omitempty"`
	AutoRegister       bool          `json:"auto_register_consumers,omitempty"`
	InferConsumers     bool          `json:"infer_consumers_from_refs,omitempty"`
	Actor              service.Actor `json:"-"`
}

func (o *Options) normalize() error {
	if o.Environment == "" {
		o.Environment = contracts.DefaultEnvironment
	}
	switch o.ConflictMode {
	case "":
		o.ConflictMode = ConflictOverwrite
	case ConflictOverwrite, ConflictIgnore, ConflictFail:
	default:
		return service.E(service.KindBadRequest, "unknown conflict mode %q", o.ConflictMode)
	}
	if o.Actor == (service.Actor{}) {
		o.Actor = service.AdminActor()
	}
	return nil
}

// AssetCounts breaks down per-asset outcomes.
type AssetCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// ProposalDetail records one auto-created proposal.
type ProposalDetail struct {
	AssetFQN        string `json:"asset_fqn"`
	ProposalID      string `json:"proposal_id"`
	ProposedVersion string `json:"proposed_version"`
	BreakingChanges int    `json:"breaking_changes"`
}

// ProposalReport counts auto-created proposals.
type ProposalReport struct {
	Created int              `json:"created"`
	Details []ProposalDetail `json:"details,omitempty"`
}

// Report is the full accounting for one ingestion pass.
type Report struct {
	Assets               AssetCounts    `json:"assets"`
	ContractsPublished   int            `json:"contracts_published"`
	Proposals            ProposalReport `json:"proposals"`
	RegistrationsCreated int            `json:"registrations_created"`
	GuaranteesExtracted  int            `json:"guarantees_extracted"`
	OwnershipWarnings    []string       `json:"ownership_warnings,omitempty"`
	ContractWarnings     []string       `json:"contract_warnings,omitempty"`
	RegistrationWarnings []string       `json:"registration_warnings,omitempty"`
	Conflicts            []string       `json:"conflicts,omitempty"`
}

// Pipeline ingests external inventories through the service layer so every
// write carries the same invariants, events and audit entries as the API.
type Pipeline struct {
	svc   *service.Services
	store store.Store
	log   *slog.Logger
}

// New builds a pipeline over svc and st.
func New(svc *service.Services, st store.Store) *Pipeline {
	return &Pipeline{svc: svc, store: st, log: slog.Default()}
}

// WithLogger overrides the default logger.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	p.log = l
	return p
}

// datasetNode pairs a manifest node with its id, after filtering to the
// kinds that become assets.
type datasetNode struct {
	id   string
	node Node
	typ  contracts.ResourceType
}

// datasetNodes flattens nodes and sources into one deterministic slice.
func datasetNodes(m Manifest) []datasetNode {
	var out []datasetNode
	for id, node := range m.Nodes {
		typ, ok := modelResourceTypes[strings.ToLower(node.ResourceType)]
		if !ok {
			continue
		}
		out = append(out, datasetNode{id: id, node: node, typ: typ})
	}
	for id, node := range m.Sources {
		out = append(out, datasetNode{id: id, node: node, typ: contracts.ResourceSource})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// processed tracks what the first pass produced for each node, so the
// second pass can wire dependencies and registrations.
type processed struct {
	datasetNode
	asset *contracts.Asset
	meta  MetaConfig
}

// Upload runs the full manifest pipeline: asset upsert, guarantee
// extraction, contract publication, proposal creation and consumer
// registration, per the options. Per-entity failures become warnings; the
// pass keeps going and the report carries exact counts.
func (p *Pipeline) Upload(ctx context.Context, m Manifest, opts Options) (*Report, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	report := &Report{}
	if opts.DefaultOwnerTeamID == "" {
		return nil, service.E(service.KindBadRequest, "default owner team is required")
	}
	defaultTeam, err := p.store.GetTeam(ctx, opts.DefaultOwnerTeamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, service.E(service.KindBadRequest, "default owner team %q not found", opts.DefaultOwnerTeamID)
		}
		return nil, err
	}

	nodes := datasetNodes(m)
	if opts.ConflictMode == ConflictFail {
		for _, dn := range nodes {
			if _, err := p.store.GetAssetByFQN(ctx, opts.Environment, dn.node.FQN()); err == nil {
				report.Conflicts = append(report.Conflicts, dn.node.FQN())
			}
		}
		if len(report.Conflicts) > 0 {
			return report, service.E(service.KindConflict,
				"%d manifest entries conflict with existing assets", len(report.Conflicts))
		}
	}

	tests := testsByTarget(m)
	byNodeID := make(map[string]*processed, len(nodes))
	var order []*processed

	for _, dn := range nodes {
		entry := &processed{datasetNode: dn}
		byNodeID[dn.id] = entry
		order = append(order, entry)

		fqn := dn.node.FQN()
		meta, err := parseMeta(dn.node.Meta)
		if err != nil {
			report.OwnershipWarnings = append(report.OwnershipWarnings,
				fmt.Sprintf("%s: %v", fqn, err))
		}
		entry.meta = meta

		ownerTeamID := defaultTeam.ID
		if meta.OwnerTeam != "" {
			team, err := p.store.GetTeamByName(ctx, meta.OwnerTeam)
			if err != nil {
				report.OwnershipWarnings = append(report.OwnershipWarnings,
					fmt.Sprintf("%s: owner team %q not found, using default", fqn, meta.OwnerTeam))
			} else {
				ownerTeamID = team.ID
			}
		}
		var ownerUserID *string
		if meta.OwnerUser != "" {
			user, err := p.store.GetUserByEmail(ctx, meta.OwnerUser)
			switch {
			case err != nil:
				report.OwnershipWarnings = append(report.OwnershipWarnings,
					fmt.Sprintf("%s: owner user %q not found", fqn, meta.OwnerUser))
			case !user.Active() || user.TeamID == nil || *user.TeamID != ownerTeamID:
				report.OwnershipWarnings = append(report.OwnershipWarnings,
					fmt.Sprintf("%s: owner user %q is not an active member of the owning team", fqn, meta.OwnerUser))
			default:
				ownerUserID = &user.ID
			}
		}

		metadata := map[string]any{"dbt_node_id": dn.id}
		if dn.node.Description != "" {
			metadata["description"] = dn.node.Description
		}

		asset, err := p.upsertAsset(ctx, opts, fqn, dn.typ, ownerTeamID, ownerUserID, metadata, report)
		if err != nil {
			report.OwnershipWarnings = append(report.OwnershipWarnings,
				fmt.Sprintf("%s: %v", fqn, err))
			continue
		}
		entry.asset = asset

		guarantees, extracted := extractGuarantees(tests[dn.id], meta)
		report.GuaranteesExtracted += extracted

		if schema := columnsToSchema(dn.node.Columns); schema != nil {
			p.publishSchema(ctx, opts, asset, schema, guarantees,
				contracts.CompatibilityMode(meta.CompatibilityMode), report)
		}
	}

	p.wireConsumers(ctx, opts, order, byNodeID, report)
	p.log.Info("manifest ingested",
		"environment", opts.Environment,
		"created", report.Assets.Created, "updated", report.Assets.Updated,
		"skipped", report.Assets.Skipped,
		"contracts", report.ContractsPublished, "proposals", report.Proposals.Created)
	return report, nil
}

// upsertAsset creates the asset or applies the conflict policy to an
// existing one.
func (p *Pipeline) upsertAsset(ctx context.Context, opts Options, fqn string, typ contracts.ResourceType,
	ownerTeamID string, ownerUserID *string, metadata map[string]any, report *Report) (*contracts.Asset, error) {

	existing, err := p.store.GetAssetByFQN(ctx, opts.Environment, fqn)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing == nil {
		asset, err := p.svc.CreateAsset(ctx, opts.Actor, service.CreateAssetRequest{
			FQN:          fqn,
			OwnerTeamID:  ownerTeamID,
			OwnerUserID:  ownerUserID,
			Environment:  opts.Environment,
			ResourceType: typ,
			Metadata:     metadata,
		})
		if err != nil {
			return nil, err
		}
		report.Assets.Created++
		return asset, nil
	}

	switch opts.ConflictMode {
	case ConflictIgnore:
		report.Assets.Skipped++
		return existing, nil
	case ConflictFail:
		// Already screened in the pre-pass; an asset created mid-run by a
		// concurrent writer still lands here.
		report.Conflicts = append(report.Conflicts, fqn)
		report.Assets.Skipped++
		return existing, nil
	}

	update := service.UpdateAssetRequest{
		OwnerTeamID: &ownerTeamID,
		Metadata:    metadata,
	}
	if ownerUserID != nil {
		update.OwnerUserID = ownerUserID
	}
	asset, err := p.svc.UpdateAsset(ctx, opts.Actor, existing.ID, update)
	if err != nil {
		return nil, err
	}
	report.Assets.Updated++
	return asset, nil
}

// publishSchema applies the contract policy for one asset: first contract
// at 1.0.0, compatible diff as a minor bump, breaking diff as a proposal.
func (p *Pipeline) publishSchema(ctx context.Context, opts Options, asset *contracts.Asset,
	schema json.RawMessage, guarantees *contracts.Guarantees, mode contracts.CompatibilityMode, report *Report) {

	if mode != "" && !contracts.ValidCompatibilityMode(mode) {
		report.ContractWarnings = append(report.ContractWarnings,
			fmt.Sprintf("%s: unknown compatibility mode %q", asset.FQN, mode))
		mode = ""
	}

	active, err := p.store.ActiveContract(ctx, asset.ID, false)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		report.ContractWarnings = append(report.ContractWarnings,
			fmt.Sprintf("%s: %v", asset.FQN, err))
		return
	}

	if active == nil {
		if !opts.AutoPublish {
			return
		}
		p.publish(ctx, opts, asset, service.PublishRequest{
			AssetID:           asset.ID,
			Version:           versioning.FirstVersion,
			Schema:            schema,
			CompatibilityMode: mode,
			Guarantees:        guarantees,
		}, report)
		return
	}

	// The manifest may restate the mode; otherwise the active contract's
	// mode carries forward on every republish.
	if mode == "" {
		mode = active.CompatibilityMode
	}

	res := schemadiff.DiffDocuments(active.Schema, schema)
	if len(res.Changes) == 0 {
		return
	}
	breaking := schemadiff.BreakingUnder(res.Changes, schemadiff.Mode(active.CompatibilityMode))

	if len(breaking) == 0 {
		if !opts.AutoPublish {
			return
		}
		version, err := versioning.BumpMinor(active.Version)
		if err != nil {
			report.ContractWarnings = append(report.ContractWarnings,
				fmt.Sprintf("%s: cannot bump non-semver version %q", asset.FQN, active.Version))
			return
		}
		p.publish(ctx, opts, asset, service.PublishRequest{
			AssetID:           asset.ID,
			Version:           version,
			Schema:            schema,
			CompatibilityMode: mode,
			Guarantees:        guarantees,
		}, report)
		return
	}

	if !opts.AutoPropose {
		report.ContractWarnings = append(report.ContractWarnings,
			fmt.Sprintf("%s: breaking schema change skipped (%d breaking changes)", asset.FQN, len(breaking)))
		return
	}

	pending, err := p.store.ListProposals(ctx, store.ProposalFilter{
		AssetID: asset.ID,
		Status:  contracts.ProposalPending,
	})
	if err == nil && len(pending) > 0 {
		report.ContractWarnings = append(report.ContractWarnings,
			fmt.Sprintf("%s: a pending proposal already exists", asset.FQN))
		return
	}

	version := versioning.BreakingVersion
	if !versioning.Greater(version, active.Version) {
		if bumped, err := versioning.BumpMajor(active.Version); err == nil {
			version = bumped
		}
	}
	p.publish(ctx, opts, asset, service.PublishRequest{
		AssetID:           asset.ID,
		Version:           version,
		Schema:            schema,
		CompatibilityMode: mode,
		Guarantees:        guarantees,
	}, report)
}

// publish forwards to the service publish decision tree and books the
// outcome.
func (p *Pipeline) publish(ctx context.Context, opts Options, asset *contracts.Asset,
	req service.PublishRequest, report *Report) {

	decision, err := p.svc.Publish(ctx, opts.Actor, req)
	if err != nil {
		report.ContractWarnings = append(report.ContractWarnings,
			fmt.Sprintf("%s: %v", asset.FQN, err))
		return
	}
	switch decision.Action {
	case service.ActionProposalCreated:
		report.Proposals.Created++
		report.Proposals.Details = append(report.Proposals.Details, ProposalDetail{
			AssetFQN:        asset.FQN,
			ProposalID:      decision.Proposal.ID,
			ProposedVersion: decision.Proposal.ProposedVersion,
			BreakingChanges: len(decision.Proposal.BreakingChanges),
		})
	default:
		report.ContractsPublished++
	}
}

// wireConsumers runs after every asset and contract exists: dependency
// edges from depends_on, ref-inferred registrations, and meta-declared
// consumer registrations.
func (p *Pipeline) wireConsumers(ctx context.Context, opts Options, order []*processed,
	byNodeID map[string]*processed, report *Report) {

	for _, entry := range order {
		if entry.asset == nil {
			continue
		}
		for _, depID := range entry.node.DependsOn.Nodes {
			upstream := byNodeID[depID]
			if upstream == nil || upstream.asset == nil || upstream.asset.ID == entry.asset.ID {
				continue
			}
			kind := contracts.DependencyRef
			if strings.HasPrefix(depID, "source.") {
				kind = contracts.DependencySource
			}
			if _, err := p.svc.AddDependency(ctx, opts.Actor, entry.asset.ID, service.AddDependencyRequest{
				UpstreamID: upstream.asset.ID,
				Kind:       kind,
			}); err != nil && !service.IsKind(err, service.KindConflict) {
				report.RegistrationWarnings = append(report.RegistrationWarnings,
					fmt.Sprintf("%s: dependency on %s: %v", entry.asset.FQN, upstream.asset.FQN, err))
			}

			if opts.AutoRegister && opts.InferConsumers {
				p.register(ctx, opts, upstream.asset, entry.asset.OwnerTeamID,
					"inferred from dbt ref", report)
			}
		}

		if opts.AutoRegister {
			for _, consumer := range entry.meta.Consumers {
				team, err := p.store.GetTeamByName(ctx, consumer.Team)
				if err != nil {
					report.RegistrationWarnings = append(report.RegistrationWarnings,
						fmt.Sprintf("%s: consumer team %q not found", entry.asset.FQN, consumer.Team))
					continue
				}
				purpose := consumer.Purpose
				if purpose == "" {
					purpose = "declared in meta"
				}
				p.register(ctx, opts, entry.asset, team.ID, purpose, report)
			}
		}
	}
}

// register inserts a registration against the asset's active contract,
// unless one already exists.
func (p *Pipeline) register(ctx context.Context, opts Options, asset *contracts.Asset,
	consumerTeamID, purpose string, report *Report) {

	active, err := p.store.ActiveContract(ctx, asset.ID, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			report.RegistrationWarnings = append(report.RegistrationWarnings,
				fmt.Sprintf("%s: no active contract to register against", asset.FQN))
		}
		return
	}
	if _, err := p.store.FindActiveRegistration(ctx, active.ID, consumerTeamID); err == nil {
		return
	}
	actor := opts.Actor
	if !actor.Admin {
		actor.TeamID = consumerTeamID
	}
	if _, err := p.svc.RegisterConsumer(ctx, actor, service.RegisterRequest{
		ContractID:     active.ID,
		ConsumerTeamID: consumerTeamID,
		Purpose:        purpose,
	}); err != nil {
		if service.IsKind(err, service.KindConflict) {
			return
		}
		report.RegistrationWarnings = append(report.RegistrationWarnings,
			fmt.Sprintf("%s: register team %s: %v", asset.FQN, consumerTeamID, err))
		return
	}
	report.RegistrationsCreated++
}

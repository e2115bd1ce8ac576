package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/schemadiff"
	"github.com/tessera-io/tessera/pkg/store"
	"github.com/tessera-io/tessera/pkg/versioning"
)

// Publish decisions.
const (
	ActionPublished       = "published"
	ActionProposalCreated = "proposal_created"
	ActionForcePublished  = "force_published"
)

// PublishRequest carries everything a producer supplies to publish a
// contract version against an asset.
type PublishRequest struct {
	AssetID           string                      `json:"-"`
	Version           string                      `json:"version"`
	Schema            json.RawMessage             `json:"schema"`
	CompatibilityMode contracts.CompatibilityMode `json:"compatibility_mode,omitempty"`
	Guarantees        *contracts.Guarantees       `json:"guarantees,omitempty"`
	Force             bool                        `json:"force,omitempty"`
}

// PublishDecision is the outcome of the publish decision tree. Exactly one
// of Contract and Proposal is set.
type PublishDecision struct {
	Action          string                     `json:"action"`
	Contract        *contracts.Contract        `json:"contract,omitempty"`
	Proposal        *contracts.Proposal        `json:"proposal,omitempty"`
	BreakingChanges []contracts.BreakingChange `json:"breaking_changes,omitempty"`
	Warning         string                     `json:"warning,omitempty"`
}

// validateSchemaDocument rejects documents that do not compile as a JSON
// Schema.
func validateSchemaDocument(doc json.RawMessage) error {
	if len(doc) == 0 {
		return E(KindValidation, "schema document is required")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("contract.json", bytes.NewReader(doc)); err != nil {
		return E(KindValidation, "schema document does not parse: %v", err)
	}
	if _, err := compiler.Compile("contract.json"); err != nil {
		return E(KindValidation, "schema document is not a valid JSON Schema: %v", err)
	}
	return nil
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

// Publish runs the decision tree: first contract or a compatible diff is
// published (previous active deprecated in the same transaction); a breaking
// diff becomes a proposal unless forced.
func (s *Services) Publish(ctx context.Context, actor Actor, req PublishRequest) (*PublishDecision, error) {
	mode := req.CompatibilityMode
	if mode == "" {
		mode = contracts.CompatBackward
	}
	if !contracts.ValidCompatibilityMode(mode) {
		return nil, E(KindBadRequest, "unknown compatibility mode %q", mode)
	}
	if req.Version == "" {
		return nil, E(KindBadRequest, "version is required")
	}
	if err := validateSchemaDocument(req.Schema); err != nil {
		return nil, err
	}

	var (
		decision *PublishDecision
		asset    *contracts.Asset
	)
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		asset, err = q.GetAsset(ctx, req.AssetID, false)
		if err != nil {
			return storeErr(err, "asset")
		}
		if err := s.mustOwnTeam(actor, asset.OwnerTeamID); err != nil {
			return err
		}

		now := s.now().UTC()
		active, err := q.ActiveContract(ctx, req.AssetID, true)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		newContract := &contracts.Contract{
			ID:                uuid.NewString(),
			AssetID:           req.AssetID,
			Version:           req.Version,
			Schema:            req.Schema,
			SchemaFormat:      contracts.SchemaFormatJSONSchema,
			CompatibilityMode: mode,
			Guarantees:        req.Guarantees,
			Status:            contracts.ContractActive,
			PublishedByTeam:   asset.OwnerTeamID,
			PublishedAt:       now,
		}
		if actor.UserID != "" {
			newContract.PublishedByUser = &actor.UserID
		}

		if active == nil {
			if err := q.CreateContract(ctx, newContract); err != nil {
				return storeErr(err, "contract version "+req.Version)
			}
			decision = &PublishDecision{Action: ActionPublished, Contract: newContract}
			return nil
		}

		if !versioning.Greater(req.Version, active.Version) {
			return E(KindBadRequest, "version %q is not greater than active version %q",
				req.Version, active.Version)
		}

		res := schemadiff.DiffDocuments(active.Schema, req.Schema)
		breaking := schemadiff.BreakingUnder(res.Changes, schemadiff.Mode(active.CompatibilityMode))

		if len(breaking) > 0 && !req.Force {
			proposal := &contracts.Proposal{
				ID:                 uuid.NewString(),
				AssetID:            req.AssetID,
				ProposedSchema:     req.Schema,
				ProposedGuarantees: req.Guarantees,
				ProposedVersion:    req.Version,
				Classification:     string(res.Classification),
				BreakingChanges:    toBreakingChanges(breaking),
				ProposedByTeam:     asset.OwnerTeamID,
				Status:             contracts.ProposalPending,
				CreatedAt:          now,
			}
			if actor.UserID != "" {
				proposal.ProposedByUser = &actor.UserID
			}
			if err := q.CreateProposal(ctx, proposal); err != nil {
				return err
			}
			decision = &PublishDecision{
				Action:          ActionProposalCreated,
				Proposal:        proposal,
				BreakingChanges: proposal.BreakingChanges,
			}
			return nil
		}

		if err := q.SetContractStatus(ctx, active.ID, contracts.ContractDeprecated); err != nil {
			return storeErr(err, "contract")
		}
		if err := q.CreateContract(ctx, newContract); err != nil {
			return storeErr(err, "contract version "+req.Version)
		}
		decision = &PublishDecision{Action: ActionPublished, Contract: newContract}
		if len(breaking) > 0 {
			decision.Action = ActionForcePublished
			decision.BreakingChanges = toBreakingChanges(breaking)
			decision.Warning = "breaking changes published without consumer acknowledgment"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch decision.Action {
	case ActionProposalCreated:
		s.journal.Record(ctx, contracts.EventProposalCreated, actor.UserID, "proposal", decision.Proposal.ID,
			map[string]any{"asset_id": req.AssetID, "classification": decision.Proposal.Classification})
		s.notify.Emit(contracts.EventProposalCreated, map[string]any{
			"proposal_id":      decision.Proposal.ID,
			"asset_id":         req.AssetID,
			"asset_fqn":        asset.FQN,
			"proposed_version": decision.Proposal.ProposedVersion,
			"classification":   decision.Proposal.Classification,
			"breaking_changes": decision.Proposal.BreakingChanges,
			"proposed_by_team": decision.Proposal.ProposedByTeam,
		})
	default:
		s.journal.Record(ctx, contracts.EventContractPublished, actor.UserID, "contract", decision.Contract.ID,
			map[string]any{"asset_id": req.AssetID, "version": decision.Contract.Version, "action": decision.Action})
		s.notify.Emit(contracts.EventContractPublished, map[string]any{
			"contract_id":       decision.Contract.ID,
			"asset_id":          req.AssetID,
			"asset_fqn":         asset.FQN,
			"version":           decision.Contract.Version,
			"published_by_team": decision.Contract.PublishedByTeam,
			"forced":            decision.Action == ActionForcePublished,
		})
	}
	return decision, nil
}

func (s *Services) GetContract(ctx context.Context, id string) (*contracts.Contract, error) {
	c, err := s.store.GetContract(ctx, id)
	return c, storeErr(err, "contract")
}

func (s *Services) ListContracts(ctx context.Context, f store.ContractFilter) ([]*contracts.Contract, error) {
	return s.store.ListContracts(ctx, f)
}

func (s *Services) ListAssetContracts(ctx context.Context, assetID string, f store.ContractFilter) ([]*contracts.Contract, error) {
	if _, err := s.store.GetAsset(ctx, assetID, true); err != nil {
		return nil, storeErr(err, "asset")
	}
	f.AssetID = assetID
	return s.store.ListContracts(ctx, f)
}

// UpdateGuarantees replaces the guarantees object on an active contract.
// Deprecated and withdrawn contracts are immutable.
func (s *Services) UpdateGuarantees(ctx context.Context, actor Actor, contractID string, g *contracts.Guarantees) (*contracts.Contract, error) {
	var c *contracts.Contract
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		c, err = q.GetContract(ctx, contractID)
		if err != nil {
			return storeErr(err, "contract")
		}
		if err := s.mustOwnTeam(actor, c.PublishedByTeam); err != nil {
			return err
		}
		if c.Status != contracts.ContractActive {
			return E(KindBadRequest, "guarantees can only be updated on an active contract")
		}
		if err := q.SetContractGuarantees(ctx, contractID, g); err != nil {
			return storeErr(err, "contract")
		}
		c.Guarantees = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "contract.guarantees_updated", actor.UserID, "contract", contractID, nil)
	return c, nil
}

// setContractTerminal moves an active contract to deprecated or withdrawn.
// Terminal statuses never move again.
func (s *Services) setContractTerminal(ctx context.Context, actor Actor, contractID string, target contracts.ContractStatus) error {
	return s.store.Transact(ctx, func(q store.Queries) error {
		c, err := q.GetContract(ctx, contractID)
		if err != nil {
			return storeErr(err, "contract")
		}
		if err := s.mustOwnTeam(actor, c.PublishedByTeam); err != nil {
			return err
		}
		if c.Status != contracts.ContractActive {
			return E(KindBadRequest, "contract is already %s", c.Status)
		}
		return storeErr(q.SetContractStatus(ctx, contractID, target), "contract")
	})
}

func (s *Services) DeprecateContract(ctx context.Context, actor Actor, contractID string) error {
	if err := s.setContractTerminal(ctx, actor, contractID, contracts.ContractDeprecated); err != nil {
		return err
	}
	s.journal.Record(ctx, "contract.deprecated", actor.UserID, "contract", contractID, nil)
	return nil
}

func (s *Services) WithdrawContract(ctx context.Context, actor Actor, contractID string) error {
	if err := s.setContractTerminal(ctx, actor, contractID, contracts.ContractWithdrawn); err != nil {
		return err
	}
	s.journal.Record(ctx, "contract.withdrawn", actor.UserID, "contract", contractID, nil)
	return nil
}

// ---- registrations ----

// RegisterRequest declares a consumer team's dependence on a contract.
type RegisterRequest struct {
	ContractID     string  `json:"contract_id"`
	ConsumerTeamID string  `json:"consumer_team_id"`
	PinnedVersion  *string `json:"pinned_version,omitempty"`
	Purpose        string  `json:"purpose,omitempty"`
}

func (s *Services) RegisterConsumer(ctx context.Context, actor Actor, req RegisterRequest) (*contracts.Registration, error) {
	if req.ContractID == "" || req.ConsumerTeamID == "" {
		return nil, E(KindBadRequest, "contract_id and consumer_team_id are required")
	}
	if err := s.mustOwnTeam(actor, req.ConsumerTeamID); err != nil {
		return nil, err
	}
	reg := &contracts.Registration{
		ID:             uuid.NewString(),
		ContractID:     req.ContractID,
		ConsumerTeamID: req.ConsumerTeamID,
		PinnedVersion:  req.PinnedVersion,
		Purpose:        req.Purpose,
		Status:         contracts.RegistrationActive,
		CreatedAt:      s.now().UTC(),
	}
	err := s.store.Transact(ctx, func(q store.Queries) error {
		if _, err := q.GetContract(ctx, req.ContractID); err != nil {
			return storeErr(err, "contract")
		}
		if _, err := q.GetTeam(ctx, req.ConsumerTeamID); err != nil {
			return storeErr(err, "consumer team")
		}
		return storeErr(q.CreateRegistration(ctx, reg), "registration")
	})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, "registration.created", actor.UserID, "registration", reg.ID,
		map[string]any{"contract_id": req.ContractID, "consumer_team_id": req.ConsumerTeamID})
	return reg, nil
}

func (s *Services) ListRegistrations(ctx context.Context, f store.RegistrationFilter) ([]*contracts.Registration, error) {
	return s.store.ListRegistrations(ctx, f)
}

func (s *Services) ListContractRegistrations(ctx context.Context, contractID string) ([]*contracts.Registration, error) {
	if _, err := s.store.GetContract(ctx, contractID); err != nil {
		return nil, storeErr(err, "contract")
	}
	return s.store.ListRegistrations(ctx, store.RegistrationFilter{ContractID: contractID})
}

func (s *Services) RevokeRegistration(ctx context.Context, actor Actor, id string) error {
	return s.store.Transact(ctx, func(q store.Queries) error {
		reg, err := q.GetRegistration(ctx, id)
		if err != nil {
			return storeErr(err, "registration")
		}
		if err := s.mustOwnTeam(actor, reg.ConsumerTeamID); err != nil {
			return err
		}
		if reg.Status != contracts.RegistrationActive {
			return E(KindBadRequest, "registration is already revoked")
		}
		return storeErr(q.SetRegistrationStatus(ctx, id, contracts.RegistrationRevoked), "registration")
	})
}

// ---- impact ----

// ImpactedConsumer is one consumer team that would be affected by a breaking
// change to an asset's active contract.
type ImpactedConsumer struct {
	TeamID         string `json:"team_id"`
	TeamName       string `json:"team_name,omitempty"`
	RegistrationID string `json:"registration_id"`
}

// Impact is the dry-run result of comparing a proposed schema to the active
// contract.
type Impact struct {
	AssetID         string                     `json:"asset_id"`
	HasContract     bool                       `json:"has_contract"`
	Classification  string                     `json:"classification,omitempty"`
	Changes         []schemadiff.Change        `json:"changes,omitempty"`
	BreakingChanges []contracts.BreakingChange `json:"breaking_changes,omitempty"`
	Consumers       []ImpactedConsumer         `json:"impacted_consumers,omitempty"`
}

// AssetImpact diffs a proposed schema against the asset's active contract
// and lists the consumer teams registered on it. No writes.
func (s *Services) AssetImpact(ctx context.Context, assetID string, proposed json.RawMessage) (*Impact, error) {
	if err := validateSchemaDocument(proposed); err != nil {
		return nil, err
	}
	if _, err := s.store.GetAsset(ctx, assetID, false); err != nil {
		return nil, storeErr(err, "asset")
	}
	impact := &Impact{AssetID: assetID}

	active, err := s.store.ActiveContract(ctx, assetID, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return impact, nil
		}
		return nil, err
	}
	impact.HasContract = true

	res := schemadiff.DiffDocuments(active.Schema, proposed)
	impact.Classification = string(res.Classification)
	impact.Changes = res.Changes
	breaking := schemadiff.BreakingUnder(res.Changes, schemadiff.Mode(active.CompatibilityMode))
	impact.BreakingChanges = toBreakingChanges(breaking)

	regs, err := s.store.ListRegistrations(ctx, store.RegistrationFilter{
		ContractID: active.ID,
		Status:     contracts.RegistrationActive,
	})
	if err != nil {
		return nil, err
	}
	for _, reg := range regs {
		consumer := ImpactedConsumer{TeamID: reg.ConsumerTeamID, RegistrationID: reg.ID}
		if team, err := s.store.GetTeam(ctx, reg.ConsumerTeamID); err == nil {
			consumer.TeamName = team.Name
		}
		impact.Consumers = append(impact.Consumers, consumer)
	}
	return impact, nil
}

package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
	"github.com/tessera-io/tessera/pkg/versioning"
)

// GetProposal reads a proposal, lazily expiring it when its deadline has
// passed and auto_expire is set.
func (s *Services) GetProposal(ctx context.Context, id string) (*contracts.Proposal, error) {
	var p *contracts.Proposal
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		p, err = s.loadProposal(ctx, q, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Services) ListProposals(ctx context.Context, f store.ProposalFilter) ([]*contracts.Proposal, error) {
	return s.store.ListProposals(ctx, f)
}

// loadProposal fetches the proposal and applies lazy auto-expiry inside the
// caller's transaction.
func (s *Services) loadProposal(ctx context.Context, q store.Queries, id string, forUpdate bool) (*contracts.Proposal, error) {
	p, err := q.GetProposal(ctx, id, forUpdate)
	if err != nil {
		return nil, storeErr(err, "proposal")
	}
	if p.Status == contracts.ProposalPending && p.AutoExpire &&
		p.ExpiresAt != nil && !s.now().Before(*p.ExpiresAt) {
		now := s.now().UTC()
		if err := q.ResolveProposal(ctx, id, contracts.ProposalExpired, now); err != nil {
			return nil, storeErr(err, "proposal")
		}
		p.Status = contracts.ProposalExpired
		p.ResolvedAt = &now
		s.notify.Emit(contracts.EventProposalExpired, s.proposalPayload(p))
	}
	return p, nil
}

func (s *Services) proposalPayload(p *contracts.Proposal) map[string]any {
	return map[string]any{
		"proposal_id":      p.ID,
		"asset_id":         p.AssetID,
		"proposed_version": p.ProposedVersion,
		"classification":   p.Classification,
		"proposed_by_team": p.ProposedByTeam,
		"status":           string(p.Status),
	}
}

// consumerSet returns R: the consumer-team ids with an active registration
// on the asset's currently active contract. Registrations follow contracts,
// not proposals.
func consumerSet(ctx context.Context, q store.Queries, assetID string) (map[string]bool, error) {
	active, err := q.ActiveContract(ctx, assetID, false)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return map[string]bool{}, nil
		}
		return nil, err
	}
	regs, err := q.ListRegistrations(ctx, store.RegistrationFilter{
		ContractID: active.ID,
		Status:     contracts.RegistrationActive,
	})
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(regs))
	for _, r := range regs {
		set[r.ConsumerTeamID] = true
	}
	return set, nil
}

// deriveStatus applies the auto-approval rule: any blocked acknowledgment
// rejects immediately; otherwise the proposal approves once every team in R
// has acknowledged. R = ∅ stays pending, and acknowledgments from teams
// outside R never count.
func deriveStatus(r map[string]bool, acks []*contracts.Acknowledgment) contracts.ProposalStatus {
	acked := map[string]bool{}
	for _, a := range acks {
		if a.Response == contracts.AckBlocked {
			return contracts.ProposalRejected
		}
		acked[a.ConsumerTeamID] = true
	}
	if len(r) == 0 {
		return contracts.ProposalPending
	}
	for team := range r {
		if !acked[team] {
			return contracts.ProposalPending
		}
	}
	return contracts.ProposalApproved
}

// AcknowledgeRequest is one consumer team's verdict.
type AcknowledgeRequest struct {
	ConsumerTeamID    string                `json:"consumer_team_id"`
	Response          contracts.AckResponse `json:"response"`
	MigrationDeadline *time.Time            `json:"migration_deadline,omitempty"`
	Notes             string                `json:"notes,omitempty"`
}

// AckOutcome reports the acknowledgment and the proposal status after the
// auto-approval rule ran.
type AckOutcome struct {
	Acknowledgment *contracts.Acknowledgment `json:"acknowledgment"`
	ProposalStatus contracts.ProposalStatus  `json:"proposal_status"`
}

// Acknowledge records a consumer response and runs the auto-approval rule in
// the same transaction as the insert.
func (s *Services) Acknowledge(ctx context.Context, actor Actor, proposalID string, req AcknowledgeRequest) (*AckOutcome, error) {
	if req.ConsumerTeamID == "" {
		return nil, E(KindBadRequest, "consumer_team_id is required")
	}
	if !contracts.ValidAckResponse(req.Response) {
		return nil, E(KindBadRequest, "unknown response %q", req.Response)
	}
	if err := s.mustOwnTeam(actor, req.ConsumerTeamID); err != nil {
		return nil, err
	}

	ack := &contracts.Acknowledgment{
		ID:                uuid.NewString(),
		ProposalID:        proposalID,
		ConsumerTeamID:    req.ConsumerTeamID,
		Response:          req.Response,
		MigrationDeadline: req.MigrationDeadline,
		Notes:             req.Notes,
		CreatedAt:         s.now().UTC(),
	}
	if actor.UserID != "" {
		ack.AcknowledgedBy = &actor.UserID
	}

	var (
		outcome    *AckOutcome
		transition contracts.ProposalStatus
		proposal   *contracts.Proposal
	)
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		proposal, err = s.loadProposal(ctx, q, proposalID, true)
		if err != nil {
			return err
		}
		if proposal.Status.Terminal() {
			return E(KindBadRequest, "proposal is %s and no longer accepts acknowledgments", proposal.Status)
		}
		if _, err := q.GetTeam(ctx, req.ConsumerTeamID); err != nil {
			return storeErr(err, "consumer team")
		}
		if err := q.CreateAcknowledgment(ctx, ack); err != nil {
			return storeErr(err, "acknowledgment")
		}

		r, err := consumerSet(ctx, q, proposal.AssetID)
		if err != nil {
			return err
		}
		acks, err := q.ListAcknowledgments(ctx, proposalID)
		if err != nil {
			return err
		}
		next := deriveStatus(r, acks)
		if next != contracts.ProposalPending {
			if err := q.ResolveProposal(ctx, proposalID, next, s.now()); err != nil {
				return storeErr(err, "proposal")
			}
			proposal.Status = next
			transition = next
		}
		outcome = &AckOutcome{Acknowledgment: ack, ProposalStatus: proposal.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.journal.Record(ctx, contracts.EventProposalAcknowledged, actor.UserID, "proposal", proposalID,
		map[string]any{"consumer_team_id": req.ConsumerTeamID, "response": string(req.Response)})
	s.notify.Emit(contracts.EventProposalAcknowledged, map[string]any{
		"proposal_id":      proposalID,
		"asset_id":         proposal.AssetID,
		"consumer_team_id": req.ConsumerTeamID,
		"response":         string(req.Response),
	})
	switch transition {
	case contracts.ProposalApproved:
		s.journal.Record(ctx, contracts.EventProposalApproved, actor.UserID, "proposal", proposalID, nil)
		s.notify.Emit(contracts.EventProposalApproved, s.proposalPayload(proposal))
	case contracts.ProposalRejected:
		s.journal.Record(ctx, contracts.EventProposalRejected, actor.UserID, "proposal", proposalID, nil)
		s.notify.Emit(contracts.EventProposalRejected, s.proposalPayload(proposal))
	}
	return outcome, nil
}

// transitionProposal applies one producer-driven terminal transition.
func (s *Services) transitionProposal(ctx context.Context, actor Actor, id string,
	target contracts.ProposalStatus, authorize func(p *contracts.Proposal, asset *contracts.Asset) error) (*contracts.Proposal, error) {

	var p *contracts.Proposal
	err := s.store.Transact(ctx, func(q store.Queries) error {
		var err error
		p, err = s.loadProposal(ctx, q, id, true)
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			return E(KindBadRequest, "proposal is already %s", p.Status)
		}
		asset, err := q.GetAsset(ctx, p.AssetID, true)
		if err != nil {
			return storeErr(err, "asset")
		}
		if err := authorize(p, asset); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := q.ResolveProposal(ctx, id, target, now); err != nil {
			return storeErr(err, "proposal")
		}
		p.Status = target
		p.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WithdrawProposal is the producer backing out. Acknowledgments already
// recorded are retained.
func (s *Services) WithdrawProposal(ctx context.Context, actor Actor, id string) (*contracts.Proposal, error) {
	p, err := s.transitionProposal(ctx, actor, id, contracts.ProposalWithdrawn,
		func(p *contracts.Proposal, _ *contracts.Asset) error {
			return s.mustOwnTeam(actor, p.ProposedByTeam)
		})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, contracts.EventProposalWithdrawn, actor.UserID, "proposal", id, nil)
	s.notify.Emit(contracts.EventProposalWithdrawn, s.proposalPayload(p))
	return p, nil
}

// ForceApproveProposal bypasses consumer consent. Admins and the owning
// team may force.
func (s *Services) ForceApproveProposal(ctx context.Context, actor Actor, id string) (*contracts.Proposal, error) {
	p, err := s.transitionProposal(ctx, actor, id, contracts.ProposalApproved,
		func(_ *contracts.Proposal, asset *contracts.Asset) error {
			return s.mustOwnTeam(actor, asset.OwnerTeamID)
		})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, contracts.EventProposalForceApproved, actor.UserID, "proposal", id, nil)
	s.notify.Emit(contracts.EventProposalForceApproved, s.proposalPayload(p))
	return p, nil
}

// ExpireProposal is the producer's manual expiry.
func (s *Services) ExpireProposal(ctx context.Context, actor Actor, id string) (*contracts.Proposal, error) {
	p, err := s.transitionProposal(ctx, actor, id, contracts.ProposalExpired,
		func(p *contracts.Proposal, _ *contracts.Asset) error {
			return s.mustOwnTeam(actor, p.ProposedByTeam)
		})
	if err != nil {
		return nil, err
	}
	s.journal.Record(ctx, contracts.EventProposalExpired, actor.UserID, "proposal", id, nil)
	s.notify.Emit(contracts.EventProposalExpired, s.proposalPayload(p))
	return p, nil
}

// PublishFromProposal turns an approved proposal into the asset's new active
// contract. The proposal keeps status approved.
func (s *Services) PublishFromProposal(ctx context.Context, actor Actor, proposalID, version string) (*contracts.Contract, error) {
	if version == "" {
		return nil, E(KindBadRequest, "version is required")
	}
	var (
		published *contracts.Contract
		asset     *contracts.Asset
	)
	err := s.store.Transact(ctx, func(q store.Queries) error {
		p, err := s.loadProposal(ctx, q, proposalID, true)
		if err != nil {
			return err
		}
		if p.Status != contracts.ProposalApproved {
			return E(KindBadRequest, "proposal is %s; only approved proposals can be published", p.Status)
		}
		asset, err = q.GetAsset(ctx, p.AssetID, false)
		if err != nil {
			return storeErr(err, "asset")
		}
		if err := s.mustOwnTeam(actor, asset.OwnerTeamID); err != nil {
			return err
		}

		mode := contracts.CompatBackward
		active, err := q.ActiveContract(ctx, p.AssetID, true)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if active != nil {
			if !versioning.Greater(version, active.Version) {
				return E(KindBadRequest, "version %q is not greater than active version %q", version, active.Version)
			}
			mode = active.CompatibilityMode
			if err := q.SetContractStatus(ctx, active.ID, contracts.ContractDeprecated); err != nil {
				return storeErr(err, "contract")
			}
		}

		published = &contracts.Contract{
			ID:                uuid.NewString(),
			AssetID:           p.AssetID,
			Version:           version,
			Schema:            p.ProposedSchema,
			SchemaFormat:      contracts.SchemaFormatJSONSchema,
			CompatibilityMode: mode,
			Guarantees:        p.ProposedGuarantees,
			Status:            contracts.ContractActive,
			PublishedByTeam:   asset.OwnerTeamID,
			PublishedAt:       s.now().UTC(),
		}
		if actor.UserID != "" {
			published.PublishedByUser = &actor.UserID
		}
		return storeErr(q.CreateContract(ctx, published), "contract version "+version)
	})
	if err != nil {
		return nil, err
	}

	s.journal.Record(ctx, contracts.EventContractPublished, actor.UserID, "contract", published.ID,
		map[string]any{"asset_id": published.AssetID, "version": version, "from_proposal_id": proposalID})
	s.notify.Emit(contracts.EventContractPublished, map[string]any{
		"contract_id":       published.ID,
		"asset_id":          published.AssetID,
		"asset_fqn":         asset.FQN,
		"version":           version,
		"published_by_team": published.PublishedByTeam,
		"from_proposal_id":  proposalID,
	})
	return published, nil
}

// ProposalStatusView is the enriched read for one proposal: proposer info,
// every acknowledgment, and the consumer teams still expected to respond.
type ProposalStatusView struct {
	Proposal         *contracts.Proposal         `json:"proposal"`
	ProposerTeam     *contracts.Team             `json:"proposer_team,omitempty"`
	Acknowledgments  []*contracts.Acknowledgment `json:"acknowledgments"`
	PendingConsumers []string                    `json:"pending_consumers"`
	BreakingChanges  []contracts.BreakingChange  `json:"breaking_changes"`
}

func (s *Services) ProposalStatus(ctx context.Context, id string) (*ProposalStatusView, error) {
	var view *ProposalStatusView
	err := s.store.Transact(ctx, func(q store.Queries) error {
		p, err := s.loadProposal(ctx, q, id, false)
		if err != nil {
			return err
		}
		acks, err := q.ListAcknowledgments(ctx, id)
		if err != nil {
			return err
		}
		r, err := consumerSet(ctx, q, p.AssetID)
		if err != nil {
			return err
		}
		acked := map[string]bool{}
		for _, a := range acks {
			acked[a.ConsumerTeamID] = true
		}
		var pending []string
		for team := range r {
			if !acked[team] {
				pending = append(pending, team)
			}
		}
		sort.Strings(pending)

		view = &ProposalStatusView{
			Proposal:         p,
			Acknowledgments:  acks,
			PendingConsumers: pending,
			BreakingChanges:  p.BreakingChanges,
		}
		if team, err := q.GetTeam(ctx, p.ProposedByTeam); err == nil {
			view.ProposerTeam = team
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

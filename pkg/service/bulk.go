package service

import (
	"context"
	"errors"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

// BulkItemResult reports one item of a bulk request.
type BulkItemResult struct {
	Success bool           `json:"success"`
	Index   int            `json:"index"`
	ID      string         `json:"id,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// BulkResult is the aggregate response shape shared by all bulk endpoints.
type BulkResult struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
}

func (r *BulkResult) add(item BulkItemResult) {
	r.Results = append(r.Results, item)
	if item.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// BulkRegistrationsRequest registers many consumers at once. With
// SkipDuplicates an existing active registration counts as success.
type BulkRegistrationsRequest struct {
	Registrations  []RegisterRequest `json:"registrations"`
	SkipDuplicates bool              `json:"skip_duplicates,omitempty"`
}

func (s *Services) BulkRegistrations(ctx context.Context, actor Actor, req BulkRegistrationsRequest) (*BulkResult, error) {
	if len(req.Registrations) == 0 {
		return nil, E(KindBadRequest, "registrations list is empty")
	}
	result := &BulkResult{Total: len(req.Registrations)}
	for i, item := range req.Registrations {
		reg, err := s.RegisterConsumer(ctx, actor, item)
		if err == nil {
			result.add(BulkItemResult{Success: true, Index: i, ID: reg.ID})
			continue
		}
		if req.SkipDuplicates && IsKind(err, KindConflict) {
			existing, findErr := s.store.FindActiveRegistration(ctx, item.ContractID, item.ConsumerTeamID)
			itemResult := BulkItemResult{
				Success: true, Index: i,
				Details: map[string]any{"skipped": true, "reason": "duplicate"},
			}
			if findErr == nil {
				itemResult.ID = existing.ID
			}
			result.add(itemResult)
			continue
		}
		result.add(BulkItemResult{Index: i, Error: err.Error()})
	}
	return result, nil
}

// BulkAssetsRequest creates many assets at once.
type BulkAssetsRequest struct {
	Assets         []CreateAssetRequest `json:"assets"`
	SkipDuplicates bool                 `json:"skip_duplicates,omitempty"`
}

func (s *Services) BulkAssets(ctx context.Context, actor Actor, req BulkAssetsRequest) (*BulkResult, error) {
	if len(req.Assets) == 0 {
		return nil, E(KindBadRequest, "assets list is empty")
	}
	result := &BulkResult{Total: len(req.Assets)}
	for i, item := range req.Assets {
		asset, err := s.CreateAsset(ctx, actor, item)
		if err == nil {
			result.add(BulkItemResult{Success: true, Index: i, ID: asset.ID})
			continue
		}
		if req.SkipDuplicates && IsKind(err, KindConflict) {
			env := item.Environment
			if env == "" {
				env = contracts.DefaultEnvironment
			}
			itemResult := BulkItemResult{
				Success: true, Index: i,
				Details: map[string]any{"skipped": true, "reason": "duplicate"},
			}
			if existing, findErr := s.store.GetAssetByFQN(ctx, env, item.FQN); findErr == nil {
				itemResult.ID = existing.ID
			} else if !errors.Is(findErr, store.ErrNotFound) {
				return nil, findErr
			}
			result.add(itemResult)
			continue
		}
		result.add(BulkItemResult{Index: i, Error: err.Error()})
	}
	return result, nil
}

// BulkAcknowledgeItem is one acknowledgment in a bulk request.
type BulkAcknowledgeItem struct {
	ProposalID string `json:"proposal_id"`
	AcknowledgeRequest
}

// BulkAcknowledgmentsRequest acknowledges many proposals at once.
// ContinueOnError defaults to true; the pointer distinguishes "unset".
type BulkAcknowledgmentsRequest struct {
	Acknowledgments []BulkAcknowledgeItem `json:"acknowledgments"`
	ContinueOnError *bool                 `json:"continue_on_error,omitempty"`
}

func (s *Services) BulkAcknowledgments(ctx context.Context, actor Actor, req BulkAcknowledgmentsRequest) (*BulkResult, error) {
	if len(req.Acknowledgments) == 0 {
		return nil, E(KindBadRequest, "acknowledgments list is empty")
	}
	continueOnError := req.ContinueOnError == nil || *req.ContinueOnError

	result := &BulkResult{Total: len(req.Acknowledgments)}
	for i, item := range req.Acknowledgments {
		outcome, err := s.Acknowledge(ctx, actor, item.ProposalID, item.AcknowledgeRequest)
		if err == nil {
			result.add(BulkItemResult{
				Success: true, Index: i, ID: outcome.Acknowledgment.ID,
				Details: map[string]any{"proposal_status": string(outcome.ProposalStatus)},
			})
			continue
		}
		result.add(BulkItemResult{Index: i, Error: err.Error()})
		if !continueOnError {
			break
		}
	}
	return result, nil
}

// Package auditrun records dataset-quality test runs reported by external
// tools and aggregates them into windowed trends with alerting.
package auditrun

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

// Size caps on reported details.
const (
	maxDetailsBytes           = 100 << 10 // 100 KiB serialized
	maxGuaranteeMetadataBytes = 10 << 10  // 10 KiB per entry
	maxGuaranteeEntries       = 1000
)

// Service provides the audit-run write and read paths.
type Service struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

// New builds the audit-run service.
func New(st store.Store) *Service {
	return &Service{store: st, log: slog.Default(), now: time.Now}
}

// WithClock overrides time.Now, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ReportRequest is one run reported against an asset.
type ReportRequest struct {
	Status      contracts.AuditRunStatus `json:"status"`
	Counts      *contracts.AuditCounts   `json:"counts,omitempty"`
	TriggeredBy string                   `json:"triggered_by,omitempty"`
	ExternalID  string                   `json:"run_id,omitempty"`
	Details     json.RawMessage          `json:"details,omitempty"`
	RunAt       *time.Time               `json:"run_at,omitempty"`
}

// Report validates and persists one run. Counts are derived from the
// guarantee results when absent, and the asset's current active contract is
// snapshotted on the row.
func (s *Service) Report(ctx context.Context, assetID string, req ReportRequest) (*contracts.AuditRun, error) {
	if !contracts.ValidAuditRunStatus(req.Status) {
		return nil, service.E(service.KindBadRequest, "unknown audit status %q", req.Status)
	}
	if len(req.Details) > maxDetailsBytes {
		return nil, service.E(service.KindValidation, "details exceed %d bytes", maxDetailsBytes)
	}

	var details contracts.RunDetails
	if len(req.Details) > 0 {
		if err := json.Unmarshal(req.Details, &details); err != nil {
			return nil, service.E(service.KindValidation, "details is not a JSON object: %v", err)
		}
		if len(details.GuaranteeResults) > maxGuaranteeEntries {
			return nil, service.E(service.KindValidation,
				"guarantee_results exceeds %d entries", maxGuaranteeEntries)
		}
		for i, g := range details.GuaranteeResults {
			if len(g.Metadata) > maxGuaranteeMetadataBytes {
				return nil, service.E(service.KindValidation,
					"guarantee_results[%d].metadata exceeds %d bytes", i, maxGuaranteeMetadataBytes)
			}
		}
	}

	counts := contracts.AuditCounts{}
	if req.Counts != nil {
		counts = *req.Counts
	} else {
		for _, g := range details.GuaranteeResults {
			counts.Checked++
			if g.Passed {
				counts.Passed++
			} else {
				counts.Failed++
			}
		}
	}

	runAt := s.now().UTC()
	if req.RunAt != nil {
		runAt = req.RunAt.UTC()
	}
	run := &contracts.AuditRun{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Status:      req.Status,
		Counts:      counts,
		TriggeredBy: req.TriggeredBy,
		ExternalID:  req.ExternalID,
		RunAt:       runAt,
		Details:     req.Details,
		CreatedAt:   s.now().UTC(),
	}

	err := s.store.Transact(ctx, func(q store.Queries) error {
		if _, err := q.GetAsset(ctx, assetID, false); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return service.E(service.KindNotFound, "asset not found")
			}
			return err
		}
		if active, err := q.ActiveContract(ctx, assetID, false); err == nil {
			run.ContractID = &active.ID
		}
		return q.CreateAuditRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// HistoryEntry is one run plus the guarantee names that failed in it.
type HistoryEntry struct {
	Run              *contracts.AuditRun `json:"run"`
	FailedGuarantees []string            `json:"failed_guarantees,omitempty"`
}

// History lists runs for an asset, newest first, with failed-guarantee names
// extracted from the stored details.
func (s *Service) History(ctx context.Context, assetID string, f store.AuditRunFilter) ([]HistoryEntry, error) {
	if f.Limit > 500 {
		return nil, service.E(service.KindBadRequest, "limit must be at most 500")
	}
	if _, err := s.store.GetAsset(ctx, assetID, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, service.E(service.KindNotFound, "asset not found")
		}
		return nil, err
	}
	runs, err := s.store.ListAuditRuns(ctx, assetID, f)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(runs))
	for _, run := range runs {
		entries = append(entries, HistoryEntry{Run: run, FailedGuarantees: failedGuarantees(run)})
	}
	return entries, nil
}

func failedGuarantees(run *contracts.AuditRun) []string {
	if len(run.Details) == 0 {
		return nil
	}
	var details contracts.RunDetails
	if err := json.Unmarshal(run.Details, &details); err != nil {
		return nil
	}
	var failed []string
	for _, g := range details.GuaranteeResults {
		if !g.Passed && g.Guarantee != "" {
			failed = append(failed, g.Guarantee)
		}
	}
	return failed
}

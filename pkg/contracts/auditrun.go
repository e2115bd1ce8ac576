package contracts

import (
	"encoding/json"
	"time"
)

// AuditRunStatus is the overall outcome of one quality test run.
type AuditRunStatus string

const (
	AuditPassed  AuditRunStatus = "passed"
	AuditFailed  AuditRunStatus = "failed"
	AuditPartial AuditRunStatus = "partial"
)

// ValidAuditRunStatus reports whether s is a recognized status.
func ValidAuditRunStatus(s AuditRunStatus) bool {
	switch s {
	case AuditPassed, AuditFailed, AuditPartial:
		return true
	}
	return false
}

// AuditCounts summarize per-guarantee outcomes of a run.
type AuditCounts struct {
	Checked int `json:"checked"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
}

// GuaranteeResult is one guarantee's outcome inside a run's details.
type GuaranteeResult struct {
	Guarantee string          `json:"guarantee"`
	Passed    bool            `json:"passed"`
	Message   string          `json:"message,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// AuditRun records one dataset-quality test execution reported by an
// external tool (the audit leg of write-audit-publish).
type AuditRun struct {
	ID          string          `json:"id"`
	AssetID     string          `json:"asset_id"`
	ContractID  *string         `json:"contract_id,omitempty"`
	Status      AuditRunStatus  `json:"status"`
	Counts      AuditCounts     `json:"counts"`
	TriggeredBy string          `json:"triggered_by,omitempty"`
	ExternalID  string          `json:"external_run_id,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RunDetails is the recognized shape inside AuditRun.Details; extra keys
// are opaque and pass through storage untouched.
type RunDetails struct {
	GuaranteeResults []GuaranteeResult `json:"guarantee_results,omitempty"`
}

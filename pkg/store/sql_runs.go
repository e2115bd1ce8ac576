package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tessera-io/tessera/pkg/contracts"
)

const runCols = `id, asset_id, contract_id, status, checked, passed, failed, triggered_by, external_run_id, run_at, details, created_at`

func (s *sqlQueries) CreateAuditRun(ctx context.Context, r *contracts.AuditRun) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_runs (id, asset_id, contract_id, status, checked, passed, failed, triggered_by, external_run_id, run_at, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.AssetID, nullStr(r.ContractID), string(r.Status),
		r.Counts.Checked, r.Counts.Passed, r.Counts.Failed,
		r.TriggeredBy, r.ExternalID, r.RunAt.UTC(), []byte(r.Details), r.CreatedAt.UTC())
	return err
}

func (s *sqlQueries) collectRuns(rows *sql.Rows) ([]*contracts.AuditRun, error) {
	defer func() { _ = rows.Close() }()
	var out []*contracts.AuditRun
	for rows.Next() {
		var r contracts.AuditRun
		var contractID, triggeredBy, externalID sql.NullString
		var status string
		var details []byte
		if err := rows.Scan(&r.ID, &r.AssetID, &contractID, &status,
			&r.Counts.Checked, &r.Counts.Passed, &r.Counts.Failed,
			&triggeredBy, &externalID, &r.RunAt, &details, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ContractID = strPtr(contractID)
		r.Status = contracts.AuditRunStatus(status)
		r.TriggeredBy = triggeredBy.String
		r.ExternalID = externalID.String
		// Timestamps are coerced to UTC on read; SQLite stores naive times.
		r.RunAt = r.RunAt.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		r.Details = json.RawMessage(details)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *sqlQueries) ListAuditRuns(ctx context.Context, assetID string, f AuditRunFilter) ([]*contracts.AuditRun, error) {
	query := `SELECT ` + runCols + ` FROM audit_runs WHERE asset_id = $1`
	args := []any{assetID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.TriggeredBy != "" {
		args = append(args, f.TriggeredBy)
		query += fmt.Sprintf(` AND triggered_by = $%d`, len(args))
	}
	query += ` ORDER BY run_at DESC`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return s.collectRuns(rows)
}

func (s *sqlQueries) ListAuditRunsSince(ctx context.Context, assetID string, since time.Time) ([]*contracts.AuditRun, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+runCols+` FROM audit_runs
		 WHERE asset_id = $1 AND run_at >= $2 ORDER BY run_at DESC`,
		assetID, since.UTC())
	if err != nil {
		return nil, err
	}
	return s.collectRuns(rows)
}

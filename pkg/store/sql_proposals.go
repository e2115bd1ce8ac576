package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tessera-io/tessera/pkg/contracts"
)

const proposalCols = `id, asset_id, proposed_schema, proposed_guarantees, proposed_version, classification, breaking_changes, proposed_by_team, proposed_by_user, status, expires_at, auto_expire, created_at, resolved_at`

func (s *sqlQueries) CreateProposal(ctx context.Context, p *contracts.Proposal) error {
	guarantees, err := marshalJSON(p.ProposedGuarantees)
	if err != nil {
		return err
	}
	breaking, err := marshalJSON(p.BreakingChanges)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO proposals (id, asset_id, proposed_schema, proposed_guarantees, proposed_version, classification, breaking_changes, proposed_by_team, proposed_by_user, status, expires_at, auto_expire, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.AssetID, []byte(p.ProposedSchema), guarantees, p.ProposedVersion,
		p.Classification, breaking, p.ProposedByTeam, nullStr(p.ProposedByUser),
		string(p.Status), nullTime(p.ExpiresAt), p.AutoExpire, p.CreatedAt.UTC(),
		nullTime(p.ResolvedAt))
	return err
}

func scanProposalRow(scan func(dest ...any) error) (*contracts.Proposal, error) {
	var p contracts.Proposal
	var schema, guarantees, breaking []byte
	var version, byUser sql.NullString
	var status string
	var expires, resolved sql.NullTime
	err := scan(&p.ID, &p.AssetID, &schema, &guarantees, &version, &p.Classification,
		&breaking, &p.ProposedByTeam, &byUser, &status, &expires, &p.AutoExpire,
		&p.CreatedAt, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ProposedSchema = json.RawMessage(schema)
	p.ProposedVersion = version.String
	p.ProposedByUser = strPtr(byUser)
	p.Status = contracts.ProposalStatus(status)
	p.ExpiresAt = timePtr(expires)
	p.CreatedAt = p.CreatedAt.UTC()
	p.ResolvedAt = timePtr(resolved)
	if len(guarantees) > 0 {
		var g contracts.Guarantees
		if err := json.Unmarshal(guarantees, &g); err != nil {
			return nil, fmt.Errorf("corrupt guarantees on proposal %s: %w", p.ID, err)
		}
		p.ProposedGuarantees = &g
	}
	if len(breaking) > 0 {
		if err := json.Unmarshal(breaking, &p.BreakingChanges); err != nil {
			return nil, fmt.Errorf("corrupt breaking changes on proposal %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (s *sqlQueries) GetProposal(ctx context.Context, id string, forUpdate bool) (*contracts.Proposal, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals WHERE id = $1`
	if forUpdate && s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	row := s.q.QueryRowContext(ctx, query, id)
	return scanProposalRow(row.Scan)
}

func (s *sqlQueries) ListProposals(ctx context.Context, f ProposalFilter) ([]*contracts.Proposal, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals WHERE 1=1`
	var args []any
	if f.AssetID != "" {
		args = append(args, f.AssetID)
		query += fmt.Sprintf(` AND asset_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.ProposedBy != "" {
		args = append(args, f.ProposedBy)
		query += fmt.Sprintf(` AND proposed_by_team = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Proposal
	for rows.Next() {
		p, err := scanProposalRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlQueries) ResolveProposal(ctx context.Context, id string, status contracts.ProposalStatus, resolvedAt time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE proposals SET status = $2, resolved_at = $3 WHERE id = $1`,
		id, string(status), resolvedAt.UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- acknowledgments ----

const ackCols = `id, proposal_id, consumer_team_id, acknowledged_by, response, migration_deadline, notes, created_at`

func (s *sqlQueries) CreateAcknowledgment(ctx context.Context, a *contracts.Acknowledgment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO acknowledgments (id, proposal_id, consumer_team_id, acknowledged_by, response, migration_deadline, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.ProposalID, a.ConsumerTeamID, nullStr(a.AcknowledgedBy),
		string(a.Response), nullTime(a.MigrationDeadline), a.Notes, a.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("acknowledgment %s/%s: %w", a.ProposalID, a.ConsumerTeamID, ErrConflict)
	}
	return err
}

func (s *sqlQueries) ListAcknowledgments(ctx context.Context, proposalID string) ([]*contracts.Acknowledgment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+ackCols+` FROM acknowledgments WHERE proposal_id = $1 ORDER BY created_at`,
		proposalID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Acknowledgment
	for rows.Next() {
		var a contracts.Acknowledgment
		var by, notes sql.NullString
		var response string
		var deadline sql.NullTime
		if err := rows.Scan(&a.ID, &a.ProposalID, &a.ConsumerTeamID, &by, &response,
			&deadline, &notes, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.AcknowledgedBy = strPtr(by)
		a.Response = contracts.AckResponse(response)
		a.MigrationDeadline = timePtr(deadline)
		a.Notes = notes.String
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}

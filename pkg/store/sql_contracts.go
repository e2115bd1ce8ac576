package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tessera-io/tessera/pkg/contracts"
)

const contractCols = `id, asset_id, version, schema_json, schema_format, compatibility_mode, guarantees, status, published_by_team, published_by_user, published_at`

func (s *sqlQueries) CreateContract(ctx context.Context, c *contracts.Contract) error {
	guarantees, err := marshalJSON(c.Guarantees)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO contracts (id, asset_id, version, schema_json, schema_format, compatibility_mode, guarantees, status, published_by_team, published_by_user, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.AssetID, c.Version, []byte(c.Schema), c.SchemaFormat,
		string(c.CompatibilityMode), guarantees, string(c.Status),
		c.PublishedByTeam, nullStr(c.PublishedByUser), c.PublishedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("contract %s@%s: %w", c.AssetID, c.Version, ErrConflict)
	}
	return err
}

func scanContractRow(scan func(dest ...any) error) (*contracts.Contract, error) {
	var c contracts.Contract
	var schema, guarantees []byte
	var mode, status string
	var publishedByUser sql.NullString
	err := scan(&c.ID, &c.AssetID, &c.Version, &schema, &c.SchemaFormat,
		&mode, &guarantees, &status, &c.PublishedByTeam, &publishedByUser, &c.PublishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Schema = json.RawMessage(schema)
	c.CompatibilityMode = contracts.CompatibilityMode(mode)
	c.Status = contracts.ContractStatus(status)
	c.PublishedByUser = strPtr(publishedByUser)
	c.PublishedAt = c.PublishedAt.UTC()
	if len(guarantees) > 0 {
		var g contracts.Guarantees
		if err := json.Unmarshal(guarantees, &g); err != nil {
			return nil, fmt.Errorf("corrupt guarantees on contract %s: %w", c.ID, err)
		}
		c.Guarantees = &g
	}
	return &c, nil
}

func (s *sqlQueries) GetContract(ctx context.Context, id string) (*contracts.Contract, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+contractCols+` FROM contracts WHERE id = $1`, id)
	return scanContractRow(row.Scan)
}

func (s *sqlQueries) ActiveContract(ctx context.Context, assetID string, forUpdate bool) (*contracts.Contract, error) {
	query := `SELECT ` + contractCols + ` FROM contracts WHERE asset_id = $1 AND status = 'active'`
	// SQLite serializes writers; FOR UPDATE is a Postgres-only lock.
	if forUpdate && s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	row := s.q.QueryRowContext(ctx, query, assetID)
	return scanContractRow(row.Scan)
}

func (s *sqlQueries) ListContracts(ctx context.Context, f ContractFilter) ([]*contracts.Contract, error) {
	query := `SELECT ` + contractCols + ` FROM contracts WHERE 1=1`
	var args []any
	if f.AssetID != "" {
		args = append(args, f.AssetID)
		query += fmt.Sprintf(` AND asset_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Version != "" {
		args = append(args, f.Version)
		query += fmt.Sprintf(` AND version = $%d`, len(args))
	}
	if f.TeamID != "" {
		args = append(args, f.TeamID)
		query += fmt.Sprintf(` AND published_by_team = $%d`, len(args))
	}
	query += ` ORDER BY published_at DESC`
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

	var out []*contracts.Contract
	for rows.Next() {
		c, err := scanContractRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlQueries) SetContractStatus(ctx context.Context, id string, status contracts.ContractStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE contracts SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlQueries) SetContractGuarantees(ctx context.Context, id string, g *contracts.Guarantees) error {
	guarantees, err := marshalJSON(g)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE contracts SET guarantees = $2 WHERE id = $1`, id, guarantees)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- registrations ----

const registrationCols = `id, contract_id, consumer_team_id, pinned_version, purpose, status, created_at`

func (s *sqlQueries) CreateRegistration(ctx context.Context, r *contracts.Registration) error {
	// Uniqueness of (contract, consumer_team) holds only while active, so
	// it is checked here rather than by an index.
	if r.Status == contracts.RegistrationActive {
		existing, err := s.FindActiveRegistration(ctx, r.ContractID, r.ConsumerTeamID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil {
			return fmt.Errorf("registration %s/%s: %w", r.ContractID, r.ConsumerTeamID, ErrConflict)
		}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO registrations (id, contract_id, consumer_team_id, pinned_version, purpose, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ContractID, r.ConsumerTeamID, nullStr(r.PinnedVersion), r.Purpose,
		string(r.Status), r.CreatedAt.UTC())
	return err
}

func scanRegistrationRow(scan func(dest ...any) error) (*contracts.Registration, error) {
	var r contracts.Registration
	var pinned, purpose sql.NullString
	var status string
	err := scan(&r.ID, &r.ContractID, &r.ConsumerTeamID, &pinned, &purpose, &status, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.PinnedVersion = strPtr(pinned)
	r.Purpose = purpose.String
	r.Status = contracts.RegistrationStatus(status)
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *sqlQueries) GetRegistration(ctx context.Context, id string) (*contracts.Registration, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+registrationCols+` FROM registrations WHERE id = $1`, id)
	return scanRegistrationRow(row.Scan)
}

func (s *sqlQueries) FindActiveRegistration(ctx context.Context, contractID, consumerTeamID string) (*contracts.Registration, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+registrationCols+` FROM registrations
		 WHERE contract_id = $1 AND consumer_team_id = $2 AND status = 'active'`,
		contractID, consumerTeamID)
	return scanRegistrationRow(row.Scan)
}

func (s *sqlQueries) ListRegistrations(ctx context.Context, f RegistrationFilter) ([]*contracts.Registration, error) {
	query := `SELECT ` + registrationCols + ` FROM registrations WHERE 1=1`
	var args []any
	if f.ContractID != "" {
		args = append(args, f.ContractID)
		query += fmt.Sprintf(` AND contract_id = $%d`, len(args))
	}
	if f.ConsumerTeamID != "" {
		args = append(args, f.ConsumerTeamID)
		query += fmt.Sprintf(` AND consumer_team_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.Registration
	for rows.Next() {
		r, err := scanRegistrationRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlQueries) SetRegistrationStatus(ctx context.Context, id string, status contracts.RegistrationStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE registrations SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	return requireRow(res)
}

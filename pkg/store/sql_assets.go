package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tessera-io/tessera/pkg/contracts"
)

const assetCols = `id, fqn, owner_team_id, owner_user_id, environment, resource_type, guarantee_mode, metadata, created_at, deleted_at`

func (s *sqlQueries) CreateAsset(ctx context.Context, a *contracts.Asset) error {
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO assets (id, fqn, owner_team_id, owner_user_id, environment, resource_type, guarantee_mode, metadata, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, strings.ToLower(a.FQN), a.OwnerTeamID, nullStr(a.OwnerUserID), a.Environment,
		string(a.ResourceType), string(a.GuaranteeMode), meta, a.CreatedAt.UTC(), nullTime(a.DeletedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("asset %q in %q: %w", a.FQN, a.Environment, ErrConflict)
	}
	return err
}

func scanAssetRow(scan func(dest ...any) error) (*contracts.Asset, error) {
	var a contracts.Asset
	var ownerUser, guaranteeMode sql.NullString
	var resourceType string
	var meta []byte
	var deleted sql.NullTime
	err := scan(&a.ID, &a.FQN, &a.OwnerTeamID, &ownerUser, &a.Environment,
		&resourceType, &guaranteeMode, &meta, &a.CreatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.OwnerUserID = strPtr(ownerUser)
	a.ResourceType = contracts.ResourceType(resourceType)
	a.GuaranteeMode = contracts.GuaranteeMode(guaranteeMode.String)
	a.CreatedAt = a.CreatedAt.UTC()
	a.DeletedAt = timePtr(deleted)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt asset metadata %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func (s *sqlQueries) GetAsset(ctx context.Context, id string, includeDeleted bool) (*contracts.Asset, error) {
	query := `SELECT ` + assetCols + ` FROM assets WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	row := s.q.QueryRowContext(ctx, query, id)
	return scanAssetRow(row.Scan)
}

func (s *sqlQueries) GetAssetByFQN(ctx context.Context, environment, fqn string) (*contracts.Asset, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+assetCols+` FROM assets WHERE environment = $1 AND fqn = $2 AND deleted_at IS NULL`,
		environment, strings.ToLower(fqn))
	return scanAssetRow(row.Scan)
}

func (s *sqlQueries) collectAssets(rows *sql.Rows) ([]*contracts.Asset, error) {
	defer func() { _ = rows.Close() }()
	var assets []*contracts.Asset
	for rows.Next() {
		a, err := scanAssetRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *sqlQueries) ListAssets(ctx context.Context, f AssetFilter) ([]*contracts.Asset, error) {
	query := `SELECT ` + assetCols + ` FROM assets WHERE 1=1`
	var args []any
	if !f.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if f.OwnerTeamID != "" {
		args = append(args, f.OwnerTeamID)
		query += fmt.Sprintf(` AND owner_team_id = $%d`, len(args))
	}
	if f.OwnerUserID != "" {
		args = append(args, f.OwnerUserID)
		query += fmt.Sprintf(` AND owner_user_id = $%d`, len(args))
	}
	if f.Environment != "" {
		args = append(args, f.Environment)
		query += fmt.Sprintf(` AND environment = $%d`, len(args))
	}
	if f.ResourceType != "" {
		args = append(args, f.ResourceType)
		query += fmt.Sprintf(` AND resource_type = $%d`, len(args))
	}
	query += ` ORDER BY fqn`
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
	return s.collectAssets(rows)
}

func (s *sqlQueries) SearchAssets(ctx context.Context, q string, limit int) ([]*contracts.Asset, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+assetCols+` FROM assets
		 WHERE deleted_at IS NULL AND fqn LIKE $1 ORDER BY fqn LIMIT $2`,
		"%"+strings.ToLower(q)+"%", limit)
	if err != nil {
		return nil, err
	}
	return s.collectAssets(rows)
}

func (s *sqlQueries) UpdateAsset(ctx context.Context, a *contracts.Asset) error {
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE assets SET fqn = $2, owner_team_id = $3, owner_user_id = $4,
			environment = $5, resource_type = $6, guarantee_mode = $7, metadata = $8
		WHERE id = $1`,
		a.ID, strings.ToLower(a.FQN), a.OwnerTeamID, nullStr(a.OwnerUserID),
		a.Environment, string(a.ResourceType), string(a.GuaranteeMode), meta)
	if isUniqueViolation(err) {
		return fmt.Errorf("asset %q in %q: %w", a.FQN, a.Environment, ErrConflict)
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlQueries) SoftDeleteAsset(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE assets SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at.UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- dependencies ----

const depCols = `id, downstream_id, upstream_id, kind, created_at`

func (s *sqlQueries) CreateDependency(ctx context.Context, d *contracts.AssetDependency) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO asset_dependencies (id, downstream_id, upstream_id, kind, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.DownstreamID, d.UpstreamID, string(d.Kind), d.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return fmt.Errorf("dependency %s -> %s: %w", d.DownstreamID, d.UpstreamID, ErrConflict)
	}
	return err
}

func (s *sqlQueries) DeleteDependency(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM asset_dependencies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlQueries) collectDeps(rows *sql.Rows) ([]*contracts.AssetDependency, error) {
	defer func() { _ = rows.Close() }()
	var deps []*contracts.AssetDependency
	for rows.Next() {
		var d contracts.AssetDependency
		var kind string
		if err := rows.Scan(&d.ID, &d.DownstreamID, &d.UpstreamID, &kind, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Kind = contracts.DependencyKind(kind)
		d.CreatedAt = d.CreatedAt.UTC()
		deps = append(deps, &d)
	}
	return deps, rows.Err()
}

func (s *sqlQueries) ListDependencies(ctx context.Context, assetID string) ([]*contracts.AssetDependency, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+depCols+` FROM asset_dependencies
		 WHERE downstream_id = $1 OR upstream_id = $1 ORDER BY created_at`, assetID)
	if err != nil {
		return nil, err
	}
	return s.collectDeps(rows)
}

func (s *sqlQueries) ListUpstream(ctx context.Context, downstreamID string) ([]*contracts.AssetDependency, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+depCols+` FROM asset_dependencies WHERE downstream_id = $1 ORDER BY created_at`, downstreamID)
	if err != nil {
		return nil, err
	}
	return s.collectDeps(rows)
}

func (s *sqlQueries) ListDownstream(ctx context.Context, upstreamID string) ([]*contracts.AssetDependency, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+depCols+` FROM asset_dependencies WHERE upstream_id = $1 ORDER BY created_at`, upstreamID)
	if err != nil {
		return nil, err
	}
	return s.collectDeps(rows)
}

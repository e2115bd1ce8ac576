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

func (s *sqlQueries) CreateTeam(ctx context.Context, t *contracts.Team) error {
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO teams (id, name, name_lower, metadata, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Name, strings.ToLower(t.Name), meta, t.CreatedAt.UTC(), nullTime(t.DeletedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("team %q: %w", t.Name, ErrConflict)
	}
	return err
}

func (s *sqlQueries) scanTeam(row *sql.Row) (*contracts.Team, error) {
	var t contracts.Team
	var meta []byte
	var deleted sql.NullTime
	err := row.Scan(&t.ID, &t.Name, &meta, &t.CreatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.DeletedAt = timePtr(deleted)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt team metadata %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

const teamCols = `id, name, metadata, created_at, deleted_at`

func (s *sqlQueries) GetTeam(ctx context.Context, id string) (*contracts.Team, error) {
	return s.scanTeam(s.q.QueryRowContext(ctx,
		`SELECT `+teamCols+` FROM teams WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (s *sqlQueries) GetTeamByName(ctx context.Context, name string) (*contracts.Team, error) {
	return s.scanTeam(s.q.QueryRowContext(ctx,
		`SELECT `+teamCols+` FROM teams WHERE name_lower = $1 AND deleted_at IS NULL`,
		strings.ToLower(name)))
}

func (s *sqlQueries) ListTeams(ctx context.Context, f TeamFilter) ([]*contracts.Team, error) {
	query := `SELECT ` + teamCols + ` FROM teams WHERE 1=1`
	var args []any
	if !f.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if f.Name != "" {
		args = append(args, strings.ToLower(f.Name))
		query += fmt.Sprintf(` AND name_lower = $%d`, len(args))
	}
	query += ` ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var teams []*contracts.Team
	for rows.Next() {
		var t contracts.Team
		var meta []byte
		var deleted sql.NullTime
		if err := rows.Scan(&t.ID, &t.Name, &meta, &t.CreatedAt, &deleted); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		t.DeletedAt = timePtr(deleted)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt team metadata %s: %w", t.ID, err)
			}
		}
		teams = append(teams, &t)
	}
	return teams, rows.Err()
}

func (s *sqlQueries) UpdateTeam(ctx context.Context, t *contracts.Team) error {
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE teams SET name = $2, name_lower = $3, metadata = $4 WHERE id = $1`,
		t.ID, t.Name, strings.ToLower(t.Name), meta)
	if isUniqueViolation(err) {
		return fmt.Errorf("team %q: %w", t.Name, ErrConflict)
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqlQueries) SoftDeleteTeam(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE teams SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at.UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- users ----

const userCols = `id, email, name, password_hash, role, team_id, created_at, deactivated_at`

func (s *sqlQueries) CreateUser(ctx context.Context, u *contracts.User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, team_id, created_at, deactivated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), nullStr(u.TeamID),
		u.CreatedAt.UTC(), nullTime(u.DeactivatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", u.Email, ErrConflict)
	}
	return err
}

func scanUserRow(scan func(dest ...any) error) (*contracts.User, error) {
	var u contracts.User
	var name, pwHash, teamID sql.NullString
	var role string
	var deactivated sql.NullTime
	err := scan(&u.ID, &u.Email, &name, &pwHash, &role, &teamID, &u.CreatedAt, &deactivated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.PasswordHash = pwHash.String
	u.Role = contracts.Role(role)
	u.TeamID = strPtr(teamID)
	u.CreatedAt = u.CreatedAt.UTC()
	u.DeactivatedAt = timePtr(deactivated)
	return &u, nil
}

func (s *sqlQueries) GetUser(ctx context.Context, id string) (*contracts.User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	return scanUserRow(row.Scan)
}

func (s *sqlQueries) GetUserByEmail(ctx context.Context, email string) (*contracts.User, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
	return scanUserRow(row.Scan)
}

func (s *sqlQueries) ListUsers(ctx context.Context, f UserFilter) ([]*contracts.User, error) {
	query := `SELECT ` + userCols + ` FROM users WHERE 1=1`
	var args []any
	if !f.IncludeDeactivated {
		query += ` AND deactivated_at IS NULL`
	}
	if f.Email != "" {
		args = append(args, f.Email)
		query += fmt.Sprintf(` AND LOWER(email) = LOWER($%d)`, len(args))
	}
	if f.Name != "" {
		args = append(args, "%"+strings.ToLower(f.Name)+"%")
		query += fmt.Sprintf(` AND LOWER(name) LIKE $%d`, len(args))
	}
	if f.TeamID != "" {
		args = append(args, f.TeamID)
		query += fmt.Sprintf(` AND team_id = $%d`, len(args))
	}
	query += ` ORDER BY created_at`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []*contracts.User
	for rows.Next() {
		u, err := scanUserRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *sqlQueries) UpdateUser(ctx context.Context, u *contracts.User) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE users SET email = $2, name = $3, password_hash = $4, role = $5,
			team_id = $6, deactivated_at = $7
		WHERE id = $1`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), nullStr(u.TeamID),
		nullTime(u.DeactivatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", u.Email, ErrConflict)
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

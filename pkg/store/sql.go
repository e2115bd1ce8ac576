package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Dialect selects driver-specific SQL details.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQL is the relational store. All methods work the same whether backed by
// the live connection or an open transaction.
type SQL struct {
	sqlQueries
	db *sql.DB
}

type sqlQueries struct {
	q       querier
	dialect Dialect
}

// NewSQL wraps an opened database handle.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{sqlQueries: sqlQueries{q: db, dialect: dialect}, db: db}
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS teams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	name_lower TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS teams_name_lower ON teams (name_lower);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT,
	password_hash TEXT,
	role TEXT NOT NULL,
	team_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	deactivated_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	fqn TEXT NOT NULL,
	owner_team_id TEXT NOT NULL,
	owner_user_id TEXT,
	environment TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	guarantee_mode TEXT,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS assets_env_fqn ON assets (environment, fqn);

CREATE TABLE IF NOT EXISTS asset_dependencies (
	id TEXT PRIMARY KEY,
	downstream_id TEXT NOT NULL,
	upstream_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS asset_dependencies_edge ON asset_dependencies (downstream_id, upstream_id);

CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	version TEXT NOT NULL,
	schema_json JSONB NOT NULL,
	schema_format TEXT NOT NULL,
	compatibility_mode TEXT NOT NULL,
	guarantees JSONB,
	status TEXT NOT NULL,
	published_by_team TEXT NOT NULL,
	published_by_user TEXT,
	published_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS contracts_asset_status ON contracts (asset_id, status);

CREATE TABLE IF NOT EXISTS registrations (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL,
	consumer_team_id TEXT NOT NULL,
	pinned_version TEXT,
	purpose TEXT,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS registrations_contract ON registrations (contract_id, status);

CREATE TABLE IF NOT EXISTS proposals (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	proposed_schema JSONB NOT NULL,
	proposed_guarantees JSONB,
	proposed_version TEXT,
	classification TEXT NOT NULL,
	breaking_changes JSONB,
	proposed_by_team TEXT NOT NULL,
	proposed_by_user TEXT,
	status TEXT NOT NULL,
	expires_at TIMESTAMPTZ,
	auto_expire BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS proposals_asset_status ON proposals (asset_id, status);

CREATE TABLE IF NOT EXISTS acknowledgments (
	id TEXT PRIMARY KEY,
	proposal_id TEXT NOT NULL,
	consumer_team_id TEXT NOT NULL,
	acknowledged_by TEXT,
	response TEXT NOT NULL,
	migration_deadline TIMESTAMPTZ,
	notes TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS acknowledgments_unique ON acknowledgments (proposal_id, consumer_team_id);

CREATE TABLE IF NOT EXISTS audit_runs (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	contract_id TEXT,
	status TEXT NOT NULL,
	checked INT NOT NULL,
	passed INT NOT NULL,
	failed INT NOT NULL,
	triggered_by TEXT,
	external_run_id TEXT,
	run_at TIMESTAMPTZ NOT NULL,
	details JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_runs_asset_run_at ON audit_runs (asset_id, run_at);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	target_url TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	last_error TEXT,
	last_status_code INT,
	delivered_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	event TEXT NOT NULL,
	actor_id TEXT,
	entity_kind TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	key_hash TEXT NOT NULL UNIQUE,
	scopes TEXT NOT NULL,
	team_id TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	last_used_at TIMESTAMPTZ,
	revoked_at TIMESTAMPTZ
);
`

// Init creates the schema. SQLite has no JSONB or TIMESTAMPTZ affinities,
// so the DDL is rewritten to its TEXT/TIMESTAMP equivalents.
func (s *SQL) Init(ctx context.Context) error {
	ddl := sqlSchema
	if s.dialect == DialectSQLite {
		ddl = strings.ReplaceAll(ddl, "JSONB", "TEXT")
		ddl = strings.ReplaceAll(ddl, "TIMESTAMPTZ", "TIMESTAMP")
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Transact runs fn inside one transaction.
func (s *SQL) Transact(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqlQueries{q: tx, dialect: s.dialect}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// ---- shared scan helpers ----

// isUniqueViolation detects duplicate-key failures across both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || // lib/pq 23505
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

func nullStr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

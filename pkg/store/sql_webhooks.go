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

const deliveryCols = `id, event_type, payload, target_url, status, attempts, last_error, last_status_code, delivered_at, created_at`

func (s *sqlQueries) CreateDelivery(ctx context.Context, d *contracts.WebhookDelivery) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, event_type, payload, target_url, status, attempts, last_error, last_status_code, delivered_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, string(d.EventType), []byte(d.Payload), d.TargetURL, string(d.Status),
		d.Attempts, d.LastError, d.LastStatusCode, nullTime(d.DeliveredAt), d.CreatedAt.UTC())
	return err
}

func (s *sqlQueries) UpdateDelivery(ctx context.Context, d *contracts.WebhookDelivery) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = $3, last_error = $4, last_status_code = $5, delivered_at = $6
		WHERE id = $1`,
		d.ID, string(d.Status), d.Attempts, d.LastError, d.LastStatusCode,
		nullTime(d.DeliveredAt))
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanDeliveryRow(scan func(dest ...any) error) (*contracts.WebhookDelivery, error) {
	var d contracts.WebhookDelivery
	var eventType, status string
	var payload []byte
	var lastErr sql.NullString
	var lastCode sql.NullInt64
	var delivered sql.NullTime
	err := scan(&d.ID, &eventType, &payload, &d.TargetURL, &status, &d.Attempts,
		&lastErr, &lastCode, &delivered, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.EventType = contracts.EventType(eventType)
	d.Payload = json.RawMessage(payload)
	d.Status = contracts.DeliveryStatus(status)
	d.LastError = lastErr.String
	d.LastStatusCode = int(lastCode.Int64)
	d.DeliveredAt = timePtr(delivered)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func (s *sqlQueries) GetDelivery(ctx context.Context, id string) (*contracts.WebhookDelivery, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+deliveryCols+` FROM webhook_deliveries WHERE id = $1`, id)
	return scanDeliveryRow(row.Scan)
}

func (s *sqlQueries) ListDeliveries(ctx context.Context, limit int) ([]*contracts.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+deliveryCols+` FROM webhook_deliveries ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.WebhookDelivery
	for rows.Next() {
		d, err := scanDeliveryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- audit events ----

func (s *sqlQueries) AppendAuditEvent(ctx context.Context, e *contracts.AuditEvent) error {
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO audit_events (id, event, actor_id, entity_kind, entity_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, string(e.Event), e.ActorID, e.EntityKind, e.EntityID, meta, e.CreatedAt.UTC())
	return err
}

// ---- api keys ----

func (s *sqlQueries) CreateAPIKey(ctx context.Context, k *contracts.APIKey) error {
	scopes := make([]string, 0, len(k.Scopes))
	for _, sc := range k.Scopes {
		scopes = append(scopes, string(sc))
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, scopes, team_id, created_at, last_used_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		k.ID, k.Name, k.KeyHash, strings.Join(scopes, ","), nullStr(k.TeamID),
		k.CreatedAt.UTC(), nullTime(k.LastUsedAt), nullTime(k.RevokedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("api key %q: %w", k.Name, ErrConflict)
	}
	return err
}

func (s *sqlQueries) GetAPIKeyByHash(ctx context.Context, keyHash string) (*contracts.APIKey, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, key_hash, scopes, team_id, created_at, last_used_at, revoked_at
		FROM api_keys WHERE key_hash = $1`, keyHash)

	var k contracts.APIKey
	var scopes string
	var teamID sql.NullString
	var lastUsed, revoked sql.NullTime
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &scopes, &teamID, &k.CreatedAt, &lastUsed, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, sc := range strings.Split(scopes, ",") {
		if sc != "" {
			k.Scopes = append(k.Scopes, contracts.APIKeyScope(sc))
		}
	}
	k.TeamID = strPtr(teamID)
	k.CreatedAt = k.CreatedAt.UTC()
	k.LastUsedAt = timePtr(lastUsed)
	k.RevokedAt = timePtr(revoked)
	return &k, nil
}

func (s *sqlQueries) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt.UTC())
	return err
}

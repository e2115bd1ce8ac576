// Package audit appends state-changing operations to the journal. Writes
// are best-effort: a failing journal is logged and never fails the
// operation that produced the event.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

// Journal writes append-only audit events to the store and mirrors them to
// the structured log.
type Journal struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

// New builds a journal over st.
func New(st store.Store) *Journal {
	return &Journal{store: st, log: slog.Default(), now: time.Now}
}

// WithLogger overrides the default logger.
func (j *Journal) WithLogger(l *slog.Logger) *Journal {
	j.log = l
	return j
}

// WithClock overrides time.Now, for tests.
func (j *Journal) WithClock(now func() time.Time) *Journal {
	j.now = now
	return j
}

// Record appends one event. Errors are logged, never returned.
func (j *Journal) Record(ctx context.Context, event contracts.EventType, actorID, entityKind, entityID string, metadata map[string]any) {
	entry := &contracts.AuditEvent{
		ID:         uuid.NewString(),
		Event:      event,
		ActorID:    actorID,
		EntityKind: entityKind,
		EntityID:   entityID,
		Metadata:   metadata,
		CreatedAt:  j.now().UTC(),
	}
	if err := j.store.AppendAuditEvent(ctx, entry); err != nil {
		j.log.Error("audit event write failed",
			"event", event, "entity_kind", entityKind, "entity_id", entityID, "error", err)
		return
	}
	j.log.Info("audit",
		"event", event, "actor_id", actorID, "entity_kind", entityKind, "entity_id", entityID)
}

// Package service implements the coordination logic: the contract publish
// decision tree, the proposal/acknowledgment state machine, entity CRUD with
// its ownership invariants, lineage, and bulk operations. Every mutation
// runs inside one store transaction; events fan out after commit.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

// Notifier receives domain events for asynchronous fan-out. Implementations
// must not block: the webhook dispatcher detaches a goroutine per event.
type Notifier interface {
	Emit(event contracts.EventType, payload map[string]any)
}

// Journal records state-changing operations best-effort. A failing journal
// never fails the operation that triggered it.
type Journal interface {
	Record(ctx context.Context, event contracts.EventType, actorID, entityKind, entityID string, metadata map[string]any)
}

type nopNotifier struct{}

func (nopNotifier) Emit(contracts.EventType, map[string]any) {}

type nopJournal struct{}

func (nopJournal) Record(context.Context, contracts.EventType, string, string, string, map[string]any) {
}

// Services bundles the coordination operations over one store.
type Services struct {
	store   store.Store
	notify  Notifier
	journal Journal
	log     *slog.Logger
	now     func() time.Time
}

// Option configures optional collaborators.
type Option func(*Services)

// WithNotifier wires the webhook dispatcher (or any event sink).
func WithNotifier(n Notifier) Option {
	return func(s *Services) { s.notify = n }
}

// WithJournal wires the audit journal.
func WithJournal(j Journal) Option {
	return func(s *Services) { s.journal = j }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Services) { s.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Services) { s.now = now }
}

// New builds the service layer over st.
func New(st store.Store, opts ...Option) *Services {
	s := &Services{
		store:   st,
		notify:  nopNotifier{},
		journal: nopJournal{},
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Actor is the authenticated principal a request acts as. Auth middleware
// builds it from an API key or session; AUTH_DISABLED yields an admin actor.
type Actor struct {
	UserID string
	TeamID string
	Admin  bool
}

// AdminActor is the principal used when authentication is disabled and by
// the bootstrap path.
func AdminActor() Actor { return Actor{Admin: true} }

// mustOwnTeam enforces the team-membership primitive: admins pass, members
// of teamID pass, everyone else is forbidden.
func (s *Services) mustOwnTeam(a Actor, teamID string) error {
	if a.Admin || (teamID != "" && a.TeamID == teamID) {
		return nil
	}
	return E(KindForbidden, "actor is not a member of the owning team")
}

// mustAdmin enforces the admin primitive.
func (s *Services) mustAdmin(a Actor) error {
	if a.Admin {
		return nil
	}
	return E(KindForbidden, "admin scope required")
}

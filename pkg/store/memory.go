package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tessera-io/tessera/pkg/contracts"
)

// Memory is an in-process Store used by tests and local experiments. It
// mirrors the SQL store's visibility rules (soft-delete filtering, active
// uniqueness) but not transactional rollback: Transact serializes callers
// and applies writes directly.
type Memory struct {
	mu sync.Mutex

	teams         map[string]*contracts.Team
	users         map[string]*contracts.User
	assets        map[string]*contracts.Asset
	deps          map[string]*contracts.AssetDependency
	contracts     map[string]*contracts.Contract
	registrations map[string]*contracts.Registration
	proposals     map[string]*contracts.Proposal
	acks          map[string]*contracts.Acknowledgment
	runs          map[string]*contracts.AuditRun
	deliveries    map[string]*contracts.WebhookDelivery
	events        []*contracts.AuditEvent
	apiKeys       map[string]*contracts.APIKey
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		teams:         map[string]*contracts.Team{},
		users:         map[string]*contracts.User{},
		assets:        map[string]*contracts.Asset{},
		deps:          map[string]*contracts.AssetDependency{},
		contracts:     map[string]*contracts.Contract{},
		registrations: map[string]*contracts.Registration{},
		proposals:     map[string]*contracts.Proposal{},
		acks:          map[string]*contracts.Acknowledgment{},
		runs:          map[string]*contracts.AuditRun{},
		deliveries:    map[string]*contracts.WebhookDelivery{},
		apiKeys:       map[string]*contracts.APIKey{},
	}
}

func (m *Memory) Transact(ctx context.Context, fn func(q Queries) error) error {
	return fn(m)
}

func (m *Memory) Init(ctx context.Context) error { return nil }
func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

// ---- teams ----

func (m *Memory) CreateTeam(ctx context.Context, t *contracts.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.teams {
		if strings.EqualFold(existing.Name, t.Name) && existing.DeletedAt == nil {
			return fmt.Errorf("team %q: %w", t.Name, ErrConflict)
		}
	}
	cp := *t
	m.teams[t.ID] = &cp
	return nil
}

func (m *Memory) GetTeam(ctx context.Context, id string) (*contracts.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok || t.DeletedAt != nil {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) GetTeamByName(ctx context.Context, name string) (*contracts.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if strings.EqualFold(t.Name, name) && t.DeletedAt == nil {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListTeams(ctx context.Context, f TeamFilter) ([]*contracts.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.Team
	for _, t := range m.teams {
		if t.DeletedAt != nil && !f.IncludeDeleted {
			continue
		}
		if f.Name != "" && !strings.EqualFold(t.Name, f.Name) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateTeam(ctx context.Context, t *contracts.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[t.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range m.teams {
		if id != t.ID && strings.EqualFold(existing.Name, t.Name) && existing.DeletedAt == nil {
			return fmt.Errorf("team %q: %w", t.Name, ErrConflict)
		}
	}
	cp := *t
	m.teams[t.ID] = &cp
	return nil
}

func (m *Memory) SoftDeleteTeam(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok || t.DeletedAt != nil {
		return ErrNotFound
	}
	at = at.UTC()
	t.DeletedAt = &at
	return nil
}

// ---- users ----

func (m *Memory) CreateUser(ctx context.Context, u *contracts.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %q: %w", u.Email, ErrConflict)
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*contracts.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*contracts.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListUsers(ctx context.Context, f UserFilter) ([]*contracts.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.User
	for _, u := range m.users {
		if u.DeactivatedAt != nil && !f.IncludeDeactivated {
			continue
		}
		if f.Email != "" && !strings.EqualFold(u.Email, f.Email) {
			continue
		}
		if f.Name != "" && !strings.Contains(strings.ToLower(u.Name), strings.ToLower(f.Name)) {
			continue
		}
		if f.TeamID != "" && (u.TeamID == nil || *u.TeamID != f.TeamID) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateUser(ctx context.Context, u *contracts.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range m.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %q: %w", u.Email, ErrConflict)
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

// ---- assets ----

func (m *Memory) CreateAsset(ctx context.Context, a *contracts.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fqn := strings.ToLower(a.FQN)
	for _, existing := range m.assets {
		if existing.Environment == a.Environment && existing.FQN == fqn {
			return fmt.Errorf("asset %q in %q: %w", a.FQN, a.Environment, ErrConflict)
		}
	}
	cp := *a
	cp.FQN = fqn
	m.assets[a.ID] = &cp
	return nil
}

func (m *Memory) GetAsset(ctx context.Context, id string, includeDeleted bool) (*contracts.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok || (a.DeletedAt != nil && !includeDeleted) {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetAssetByFQN(ctx context.Context, environment, fqn string) (*contracts.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fqn = strings.ToLower(fqn)
	for _, a := range m.assets {
		if a.Environment == environment && a.FQN == fqn && a.DeletedAt == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListAssets(ctx context.Context, f AssetFilter) ([]*contracts.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.Asset
	for _, a := range m.assets {
		if a.DeletedAt != nil && !f.IncludeDeleted {
			continue
		}
		if f.OwnerTeamID != "" && a.OwnerTeamID != f.OwnerTeamID {
			continue
		}
		if f.OwnerUserID != "" && (a.OwnerUserID == nil || *a.OwnerUserID != f.OwnerUserID) {
			continue
		}
		if f.Environment != "" && a.Environment != f.Environment {
			continue
		}
		if f.ResourceType != "" && string(a.ResourceType) != f.ResourceType {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN < out[j].FQN })
	if f.Offset > 0 && f.Offset < len(out) {
		out = out[f.Offset:]
	} else if f.Offset >= len(out) {
		out = nil
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) SearchAssets(ctx context.Context, q string, limit int) ([]*contracts.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	needle := strings.ToLower(q)
	var out []*contracts.Asset
	for _, a := range m.assets {
		if a.DeletedAt == nil && strings.Contains(a.FQN, needle) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQN < out[j].FQN })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateAsset(ctx context.Context, a *contracts.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[a.ID]; !ok {
		return ErrNotFound
	}
	fqn := strings.ToLower(a.FQN)
	for id, existing := range m.assets {
		if id != a.ID && existing.Environment == a.Environment && existing.FQN == fqn {
			return fmt.Errorf("asset %q in %q: %w", a.FQN, a.Environment, ErrConflict)
		}
	}
	cp := *a
	cp.FQN = fqn
	m.assets[a.ID] = &cp
	return nil
}

func (m *Memory) SoftDeleteAsset(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[id]
	if !ok || a.DeletedAt != nil {
		return ErrNotFound
	}
	at = at.UTC()
	a.DeletedAt = &at
	return nil
}

// ---- dependencies ----

func (m *Memory) CreateDependency(ctx context.Context, d *contracts.AssetDependency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deps {
		if existing.DownstreamID == d.DownstreamID && existing.UpstreamID == d.UpstreamID {
			return fmt.Errorf("dependency %s -> %s: %w", d.DownstreamID, d.UpstreamID, ErrConflict)
		}
	}
	cp := *d
	m.deps[d.ID] = &cp
	return nil
}

func (m *Memory) DeleteDependency(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deps[id]; !ok {
		return ErrNotFound
	}
	delete(m.deps, id)
	return nil
}

func (m *Memory) listDeps(match func(*contracts.AssetDependency) bool) []*contracts.AssetDependency {
	var out []*contracts.AssetDependency
	for _, d := range m.deps {
		if match(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) ListDependencies(ctx context.Context, assetID string) ([]*contracts.AssetDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listDeps(func(d *contracts.AssetDependency) bool {
		return d.DownstreamID == assetID || d.UpstreamID == assetID
	}), nil
}

func (m *Memory) ListUpstream(ctx context.Context, downstreamID string) ([]*contracts.AssetDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listDeps(func(d *contracts.AssetDependency) bool { return d.DownstreamID == downstreamID }), nil
}

func (m *Memory) ListDownstream(ctx context.Context, upstreamID string) ([]*contracts.AssetDependency, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listDeps(func(d *contracts.AssetDependency) bool { return d.UpstreamID == upstreamID }), nil
}

// ---- contracts ----

func (m *Memory) CreateContract(ctx context.Context, c *contracts.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contracts[c.ID] = &cp
	return nil
}

func (m *Memory) GetContract(ctx context.Context, id string) (*contracts.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ActiveContract(ctx context.Context, assetID string, forUpdate bool) (*contracts.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contracts {
		if c.AssetID == assetID && c.Status == contracts.ContractActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListContracts(ctx context.Context, f ContractFilter) ([]*contracts.Contract, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.Contract
	for _, c := range m.contracts {
		if f.AssetID != "" && c.AssetID != f.AssetID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Version != "" && c.Version != f.Version {
			continue
		}
		if f.TeamID != "" && c.PublishedByTeam != f.TeamID {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	if f.Offset > 0 && f.Offset < len(out) {
		out = out[f.Offset:]
	} else if f.Offset >= len(out) && f.Offset > 0 {
		out = nil
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) SetContractStatus(ctx context.Context, id string, status contracts.ContractStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *Memory) SetContractGuarantees(ctx context.Context, id string, g *contracts.Guarantees) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return ErrNotFound
	}
	c.Guarantees = g
	return nil
}

// ---- registrations ----

func (m *Memory) CreateRegistration(ctx context.Context, r *contracts.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Status == contracts.RegistrationActive {
		for _, existing := range m.registrations {
			if existing.ContractID == r.ContractID && existing.ConsumerTeamID == r.ConsumerTeamID &&
				existing.Status == contracts.RegistrationActive {
				return fmt.Errorf("registration %s/%s: %w", r.ContractID, r.ConsumerTeamID, ErrConflict)
			}
		}
	}
	cp := *r
	m.registrations[r.ID] = &cp
	return nil
}

func (m *Memory) GetRegistration(ctx context.Context, id string) (*contracts.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) FindActiveRegistration(ctx context.Context, contractID, consumerTeamID string) (*contracts.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.registrations {
		if r.ContractID == contractID && r.ConsumerTeamID == consumerTeamID &&
			r.Status == contracts.RegistrationActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListRegistrations(ctx context.Context, f RegistrationFilter) ([]*contracts.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.Registration
	for _, r := range m.registrations {
		if f.ContractID != "" && r.ContractID != f.ContractID {
			continue
		}
		if f.ConsumerTeamID != "" && r.ConsumerTeamID != f.ConsumerTeamID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetRegistrationStatus(ctx context.Context, id string, status contracts.RegistrationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

// ---- proposals ----

func (m *Memory) CreateProposal(ctx context.Context, p *contracts.Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

func (m *Memory) GetProposal(ctx context.Context, id string, forUpdate bool) (*contracts.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListProposals(ctx context.Context, f ProposalFilter) ([]*contracts.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.Proposal
	for _, p := range m.proposals {
		if f.AssetID != "" && p.AssetID != f.AssetID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.ProposedBy != "" && p.ProposedByTeam != f.ProposedBy {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset > 0 && f.Offset < len(out) {
		out = out[f.Offset:]
	} else if f.Offset >= len(out) && f.Offset > 0 {
		out = nil
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) ResolveProposal(ctx context.Context, id string, status contracts.ProposalStatus, resolvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return ErrNotFound
	}
	resolvedAt = resolvedAt.UTC()
	p.Status = status
	p.ResolvedAt = &resolvedAt
	return nil
}

// ---- acknowledgments ----

func (m *Memory) CreateAcknowledgment(ctx context.Context, a *contracts.Acknowledgment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.acks {
		if existing.ProposalID == a.ProposalID && existing.ConsumerTeamID == a.ConsumerTeamID {
			return fmt.Errorf("acknowledgment %s/%s: %w", a.ProposalID, a.ConsumerTeamID, ErrConflict)
		}
	}
	cp := *a
	m.acks[a.ID] = &cp
	return nil
}

func (m *Memory) ListAcknowledgments(ctx context.Context, proposalID string) ([]*contracts.Acknowledgment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.Acknowledgment
	for _, a := range m.acks {
		if a.ProposalID == proposalID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- audit runs ----

func (m *Memory) CreateAuditRun(ctx context.Context, r *contracts.AuditRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *Memory) ListAuditRuns(ctx context.Context, assetID string, f AuditRunFilter) ([]*contracts.AuditRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.AuditRun
	for _, r := range m.runs {
		if r.AssetID != assetID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.TriggeredBy != "" && r.TriggeredBy != f.TriggeredBy {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.After(out[j].RunAt) })
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListAuditRunsSince(ctx context.Context, assetID string, since time.Time) ([]*contracts.AuditRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*contracts.AuditRun
	for _, r := range m.runs {
		if r.AssetID == assetID && !r.RunAt.Before(since) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.After(out[j].RunAt) })
	return out, nil
}

// ---- deliveries ----

func (m *Memory) CreateDelivery(ctx context.Context, d *contracts.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *Memory) UpdateDelivery(ctx context.Context, d *contracts.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *Memory) GetDelivery(ctx context.Context, id string) (*contracts.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *Memory) ListDeliveries(ctx context.Context, limit int) ([]*contracts.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*contracts.WebhookDelivery
	for _, d := range m.deliveries {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- audit events ----

func (m *Memory) AppendAuditEvent(ctx context.Context, e *contracts.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

// AuditEvents returns a snapshot of the journal (test helper).
func (m *Memory) AuditEvents() []*contracts.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*contracts.AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// ---- api keys ----

func (m *Memory) CreateAPIKey(ctx context.Context, k *contracts.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.apiKeys {
		if existing.KeyHash == k.KeyHash {
			return fmt.Errorf("api key %q: %w", k.Name, ErrConflict)
		}
	}
	cp := *k
	m.apiKeys[k.ID] = &cp
	return nil
}

func (m *Memory) GetAPIKeyByHash(ctx context.Context, keyHash string) (*contracts.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.KeyHash == keyHash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	usedAt = usedAt.UTC()
	k.LastUsedAt = &usedAt
	return nil
}

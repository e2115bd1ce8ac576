package gitsync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSyncer(t *testing.T) (*Syncer, *service.Services, *store.Memory, string) {
	t.Helper()
	mem := store.NewMemory()
	svc := service.New(mem, service.WithClock(func() time.Time { return testNow }))
	dir := t.TempDir()
	return New(svc, mem, dir), svc, mem, dir
}

func seedContract(t *testing.T, svc *service.Services, mem *store.Memory) *contracts.Asset {
	t.Helper()
	ctx := context.Background()
	team := &contracts.Team{ID: "team-dp", Name: "data-platform", CreatedAt: testNow}
	require.NoError(t, mem.CreateTeam(ctx, team))

	asset, err := svc.CreateAsset(ctx, service.AdminActor(), service.CreateAssetRequest{
		FQN: "warehouse.analytics.orders", OwnerTeamID: team.ID,
	})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, service.AdminActor(), service.PublishRequest{
		AssetID: asset.ID,
		Version: "1.0.0",
		Schema:  json.RawMessage(`{"type":"object","properties":{"id":{"type":"integer"}}}`),
		Guarantees: &contracts.Guarantees{
			Nullability: map[string]string{"id": contracts.NullNever},
		},
	})
	require.NoError(t, err)
	return asset
}

func TestPushWritesYAMLPerAsset(t *testing.T) {
	syncer, svc, mem, dir := newTestSyncer(t)
	seedContract(t, svc, mem)

	result, err := syncer.Push(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Exported)

	path := filepath.Join(dir, "contracts", "production", "warehouse.analytics.orders.yaml")
	buf, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, yaml.Unmarshal(buf, &doc))
	require.Equal(t, "warehouse.analytics.orders", doc.FQN)
	require.Equal(t, "data-platform", doc.OwnerTeam)
	require.Equal(t, "1.0.0", doc.Version)
	require.Equal(t, "backward", doc.CompatibilityMode)
	require.Contains(t, doc.Schema["properties"], "id")
	require.Equal(t, "never", doc.Guarantees["nullability"].(map[string]any)["id"])
}

func TestPullCreatesAndPublishes(t *testing.T) {
	syncer, _, mem, dir := newTestSyncer(t)
	ctx := context.Background()

	team := &contracts.Team{ID: "team-dp", Name: "data-platform", CreatedAt: testNow}
	require.NoError(t, mem.CreateTeam(ctx, team))

	doc := Document{
		FQN:       "warehouse.analytics.customers",
		OwnerTeam: "data-platform",
		Version:   "1.0.0",
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"id": map[string]any{"type": "integer"}},
		},
	}
	buf, err := yaml.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "contracts", "production")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "warehouse.analytics.customers.yaml"), buf, 0o644))

	result, err := syncer.Pull(ctx, service.AdminActor())
	require.NoError(t, err)
	require.Equal(t, 1, result.AssetsCreated)
	require.Equal(t, 1, result.ContractsPublished)
	require.Empty(t, result.Warnings)

	asset, err := mem.GetAssetByFQN(ctx, "production", "warehouse.analytics.customers")
	require.NoError(t, err)
	active, err := mem.ActiveContract(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", active.Version)
}

func TestPullIsIdempotent(t *testing.T) {
	syncer, svc, mem, _ := newTestSyncer(t)
	ctx := context.Background()
	seedContract(t, svc, mem)

	_, err := syncer.Push(ctx)
	require.NoError(t, err)

	first, err := syncer.Pull(ctx, service.AdminActor())
	require.NoError(t, err)
	require.Zero(t, first.AssetsCreated)
	require.Zero(t, first.ContractsPublished)
	require.Equal(t, 1, first.Unchanged)

	second, err := syncer.Pull(ctx, service.AdminActor())
	require.NoError(t, err)
	require.Equal(t, first, second)

	all, err := mem.ListContracts(ctx, store.ContractFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestPullUnknownTeamWarns(t *testing.T) {
	syncer, _, _, dir := newTestSyncer(t)
	ctx := context.Background()

	doc := Document{FQN: "warehouse.x.y", OwnerTeam: "no-such-team"}
	buf, err := yaml.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "contracts")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "y.yaml"), buf, 0o644))

	result, err := syncer.Pull(ctx, service.AdminActor())
	require.NoError(t, err)
	require.Zero(t, result.AssetsCreated)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "no-such-team")
}

func TestPushWithoutRootFails(t *testing.T) {
	mem := store.NewMemory()
	svc := service.New(mem)
	syncer := New(svc, mem, "")

	_, err := syncer.Push(context.Background())
	require.True(t, service.IsKind(err, service.KindBadRequest))
	_, err = syncer.Pull(context.Background(), service.AdminActor())
	require.True(t, service.IsKind(err, service.KindBadRequest))
}

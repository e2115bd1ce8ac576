package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

func TestPublishRejectsNonGreaterVersion(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	_, asset := setupOrdersAsset(t, svc)

	_, err := svc.Publish(ctx, AdminActor(), PublishRequest{
		AssetID: asset.ID, Version: "1.1.0", Schema: json.RawMessage(ordersV1),
	})
	require.NoError(t, err)

	for _, version := range []string{"1.1.0", "1.0.9", "0.9.0"} {
		_, err := svc.Publish(ctx, AdminActor(), PublishRequest{
			AssetID: asset.ID, Version: version, Schema: json.RawMessage(ordersV1),
		})
		require.True(t, IsKind(err, KindBadRequest), "version %s must be rejected", version)
	}

	// Prerelease suffixes are stripped: 1.1.0-rc1 equals 1.1.0 numerically.
	_, err = svc.Publish(ctx, AdminActor(), PublishRequest{
		AssetID: asset.ID, Version: "1.1.0-rc1", Schema: json.RawMessage(ordersV1),
	})
	require.True(t, IsKind(err, KindBadRequest))
}

func TestPublishRejectsInvalidSchema(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	_, asset := setupOrdersAsset(t, svc)

	_, err := svc.Publish(ctx, AdminActor(), PublishRequest{
		AssetID: asset.ID, Version: "1.0.0", Schema: json.RawMessage(`{not json`),
	})
	require.True(t, IsKind(err, KindValidation))

	_, err = svc.Publish(ctx, AdminActor(), PublishRequest{
		AssetID: asset.ID, Version: "1.0.0", Schema: json.RawMessage(`{"type": 42}`),
	})
	require.True(t, IsKind(err, KindValidation))
}

func TestAtMostOneActiveContract(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	_, asset := setupOrdersAsset(t, svc)

	versions := []string{"1.0.0", "1.1.0", "1.2.0"}
	schemas := []string{ordersV1, ordersV2Compatible, ordersV2Compatible}
	for i, v := range versions {
		if i == 2 {
			// identical schema still publishes as a patch-level change
			schemas[i] = ordersV2Compatible
		}
		_, err := svc.Publish(ctx, AdminActor(), PublishRequest{
			AssetID: asset.ID, Version: v, Schema: json.RawMessage(schemas[i]),
		})
		require.NoError(t, err)
	}

	listed, err := svc.ListAssetContracts(ctx, asset.ID, store.ContractFilter{})
	require.NoError(t, err)
	active := 0
	for _, c := range listed {
		if c.Status == contracts.ContractActive {
			active++
		}
	}
	require.Equal(t, 1, active)
}

func TestGuaranteesOnlyOnActiveContract(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	_, asset := setupOrdersAsset(t, svc)

	first, err := svc.Publish(ctx, AdminActor(), PublishRequest{
		AssetID: asset.ID, Version: "1.0.0", Schema: json.RawMessage(ordersV1),
	})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, AdminActor(), PublishRequest{
		AssetID: asset.ID, Version: "1.1.0", Schema: json.RawMessage(ordersV2Compatible),
	})
	require.NoError(t, err)

	g := &contracts.Guarantees{
		Freshness: &contracts.Freshness{MaxStalenessMinutes: 60, MeasuredBy: "loaded_at"},
	}
	_, err = svc.UpdateGuarantees(ctx, AdminActor(), first.Contract.ID, g)
	require.True(t, IsKind(err, KindBadRequest), "deprecated contract must be immutable")
}

func TestContractTerminalStatusSticks(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	_, asset := setupOrdersAsset(t, svc)

	decision, err := svc.Publish(ctx, AdminActor(), PublishRequest{
		AssetID: asset.ID, Version: "1.0.0", Schema: json.RawMessage(ordersV1),
	})
	require.NoError(t, err)

	require.NoError(t, svc.WithdrawContract(ctx, AdminActor(), decision.Contract.ID))
	require.True(t, IsKind(svc.DeprecateContract(ctx, AdminActor(), decision.Contract.ID), KindBadRequest))
	require.True(t, IsKind(svc.WithdrawContract(ctx, AdminActor(), decision.Contract.ID), KindBadRequest))
}

func TestOwnerUserMustBelongToOwnerTeam(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	admin := AdminActor()

	teamA, err := svc.CreateTeam(ctx, admin, CreateTeamRequest{Name: "team-a"})
	require.NoError(t, err)
	teamB, err := svc.CreateTeam(ctx, admin, CreateTeamRequest{Name: "team-b"})
	require.NoError(t, err)

	user, err := svc.CreateUser(ctx, admin, CreateUserRequest{
		Email: "ana@example.com", TeamID: &teamB.ID,
	})
	require.NoError(t, err)

	_, err = svc.CreateAsset(ctx, admin, CreateAssetRequest{
		FQN: "warehouse.a.t", OwnerTeamID: teamA.ID, OwnerUserID: &user.ID,
	})
	require.True(t, IsKind(err, KindBadRequest))

	// Same user is a valid owner for their own team.
	_, err = svc.CreateAsset(ctx, admin, CreateAssetRequest{
		FQN: "warehouse.b.t", OwnerTeamID: teamB.ID, OwnerUserID: &user.ID,
	})
	require.NoError(t, err)
}

func TestDeactivateUserReleasesOwnership(t *testing.T) {
	svc, mem, _ := newTestServices(t)
	ctx := context.Background()
	admin := AdminActor()

	team, err := svc.CreateTeam(ctx, admin, CreateTeamRequest{Name: "team-a"})
	require.NoError(t, err)
	user, err := svc.CreateUser(ctx, admin, CreateUserRequest{
		Email: "bo@example.com", TeamID: &team.ID,
	})
	require.NoError(t, err)
	asset, err := svc.CreateAsset(ctx, admin, CreateAssetRequest{
		FQN: "warehouse.a.t", OwnerTeamID: team.ID, OwnerUserID: &user.ID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateUser(ctx, admin, user.ID))

	got, err := mem.GetAsset(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Nil(t, got.OwnerUserID)

	// A deactivated user cannot become an owner again.
	_, err = svc.UpdateAsset(ctx, admin, asset.ID, UpdateAssetRequest{OwnerUserID: &user.ID})
	require.True(t, IsKind(err, KindBadRequest))
}

func TestSoftDeletedAssetsAreHidden(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	admin := AdminActor()
	_, asset := setupOrdersAsset(t, svc)

	require.NoError(t, svc.DeleteAsset(ctx, admin, asset.ID))

	_, err := svc.GetAsset(ctx, asset.ID, false)
	require.True(t, IsKind(err, KindNotFound))

	got, err := svc.GetAsset(ctx, asset.ID, true)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
}

func TestSearchQueryBounds(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	setupOrdersAsset(t, svc)

	_, err := svc.SearchAssets(ctx, "", 10)
	require.True(t, IsKind(err, KindBadRequest))

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	_, err = svc.SearchAssets(ctx, string(long), 10)
	require.True(t, IsKind(err, KindBadRequest))

	found, err := svc.SearchAssets(ctx, "orders", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestDependencyRules(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	admin := AdminActor()
	team, asset := setupOrdersAsset(t, svc)

	upstream, err := svc.CreateAsset(ctx, admin, CreateAssetRequest{
		FQN: "warehouse.raw.orders", OwnerTeamID: team.ID,
	})
	require.NoError(t, err)

	_, err = svc.AddDependency(ctx, admin, asset.ID, AddDependencyRequest{UpstreamID: asset.ID})
	require.True(t, IsKind(err, KindBadRequest), "self-loop must be rejected")

	dep, err := svc.AddDependency(ctx, admin, asset.ID, AddDependencyRequest{UpstreamID: upstream.ID})
	require.NoError(t, err)

	_, err = svc.AddDependency(ctx, admin, asset.ID, AddDependencyRequest{UpstreamID: upstream.ID})
	require.True(t, IsKind(err, KindConflict), "duplicate edge must conflict")

	lineage, err := svc.AssetLineage(ctx, asset.ID, 0)
	require.NoError(t, err)
	require.Len(t, lineage.Upstream, 1)
	require.Equal(t, upstream.ID, lineage.Upstream[0].Asset.ID)
	require.Empty(t, lineage.Downstream)

	require.NoError(t, svc.RemoveDependency(ctx, admin, asset.ID, dep.ID))
}

func TestLineageBreaksCycles(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	admin := AdminActor()
	team, a := setupOrdersAsset(t, svc)

	b, err := svc.CreateAsset(ctx, admin, CreateAssetRequest{FQN: "warehouse.x.b", OwnerTeamID: team.ID})
	require.NoError(t, err)

	_, err = svc.AddDependency(ctx, admin, a.ID, AddDependencyRequest{UpstreamID: b.ID})
	require.NoError(t, err)
	_, err = svc.AddDependency(ctx, admin, b.ID, AddDependencyRequest{UpstreamID: a.ID})
	require.NoError(t, err)

	lineage, err := svc.AssetLineage(ctx, a.ID, 10)
	require.NoError(t, err)
	// The cycle collapses to a single upstream node.
	require.Len(t, lineage.Upstream, 1)
	require.Len(t, lineage.Downstream, 1)
}

func TestImpactListsConsumers(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	proposalID, asset, consumerA, consumerB := setupProposalWithConsumers(t, svc)
	_ = proposalID

	impact, err := svc.AssetImpact(ctx, asset.ID, json.RawMessage(ordersV2Breaking))
	require.NoError(t, err)
	require.True(t, impact.HasContract)
	require.Equal(t, "major", impact.Classification)
	require.NotEmpty(t, impact.BreakingChanges)
	require.Len(t, impact.Consumers, 2)
	teams := map[string]bool{}
	for _, c := range impact.Consumers {
		teams[c.TeamID] = true
	}
	require.True(t, teams[consumerA.ID])
	require.True(t, teams[consumerB.ID])
}

func TestForbiddenWithoutTeamMembership(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	_, asset := setupOrdersAsset(t, svc)

	outsider := Actor{UserID: "u1", TeamID: "some-other-team"}
	_, err := svc.Publish(ctx, outsider, PublishRequest{
		AssetID: asset.ID, Version: "1.0.0", Schema: json.RawMessage(ordersV1),
	})
	require.True(t, IsKind(err, KindForbidden))
}

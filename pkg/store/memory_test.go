package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/contracts"
)

func TestMemoryGetTeamExcludesDeleted(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, mem.CreateTeam(ctx, &contracts.Team{ID: "team-1", Name: "analytics", CreatedAt: now}))

	team, err := mem.GetTeam(ctx, "team-1")
	require.NoError(t, err)
	require.Equal(t, "analytics", team.Name)

	require.NoError(t, mem.SoftDeleteTeam(ctx, "team-1", now))

	_, err = mem.GetTeam(ctx, "team-1")
	require.ErrorIs(t, err, ErrNotFound)

	// Listing with IncludeDeleted still surfaces the tombstone.
	teams, err := mem.ListTeams(ctx, TeamFilter{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, teams, 1)
	require.NotNil(t, teams[0].DeletedAt)
}

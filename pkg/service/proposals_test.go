package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/contracts"
)

func TestDeriveStatusEmptyConsumerSetStaysPending(t *testing.T) {
	acks := []*contracts.Acknowledgment{
		{ConsumerTeamID: "outsider", Response: contracts.AckApproved},
	}
	require.Equal(t, contracts.ProposalPending, deriveStatus(map[string]bool{}, acks))
}

func TestDeriveStatusOutsideAcksDoNotCount(t *testing.T) {
	r := map[string]bool{"team-a": true}
	acks := []*contracts.Acknowledgment{
		{ConsumerTeamID: "outsider", Response: contracts.AckApproved},
	}
	require.Equal(t, contracts.ProposalPending, deriveStatus(r, acks))

	acks = append(acks, &contracts.Acknowledgment{ConsumerTeamID: "team-a", Response: contracts.AckApproved})
	require.Equal(t, contracts.ProposalApproved, deriveStatus(r, acks))
}

func TestDeriveStatusBlockedWinsOverApprovals(t *testing.T) {
	r := map[string]bool{"team-a": true, "team-b": true}
	acks := []*contracts.Acknowledgment{
		{ConsumerTeamID: "team-a", Response: contracts.AckApproved},
		{ConsumerTeamID: "team-b", Response: contracts.AckBlocked},
	}
	require.Equal(t, contracts.ProposalRejected, deriveStatus(r, acks))
}

// The derived status matches the rule for arbitrary R and ack sets: blocked
// anywhere rejects; full coverage of a non-empty R approves; anything else
// stays pending.
func TestDeriveStatusProperty(t *testing.T) {
	responses := []contracts.AckResponse{contracts.AckApproved, contracts.AckBlocked, contracts.AckNeedsChanges}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genTeams := gen.SliceOfN(4, gen.IntRange(0, 5))
	properties.Property("derive matches rule", prop.ForAll(
		func(rIdx []int, ackIdx []int, respIdx []int) bool {
			r := map[string]bool{}
			for _, i := range rIdx {
				r[string(rune('a'+i))] = true
			}
			var acks []*contracts.Acknowledgment
			seen := map[string]bool{}
			for k, i := range ackIdx {
				team := string(rune('a' + i))
				if seen[team] {
					continue
				}
				seen[team] = true
				acks = append(acks, &contracts.Acknowledgment{
					ConsumerTeamID: team,
					Response:       responses[respIdx[k%len(respIdx)]%len(responses)],
				})
			}

			expected := contracts.ProposalPending
			blocked := false
			for _, a := range acks {
				if a.Response == contracts.AckBlocked {
					blocked = true
				}
			}
			if blocked {
				expected = contracts.ProposalRejected
			} else if len(r) > 0 {
				covered := true
				for team := range r {
					if !seen[team] {
						covered = false
						break
					}
				}
				if covered {
					expected = contracts.ProposalApproved
				}
			}
			return deriveStatus(r, acks) == expected
		},
		genTeams, genTeams, gen.SliceOfN(4, gen.IntRange(0, 2)),
	))
	properties.TestingRun(t)
}

func TestLazyAutoExpire(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, mem, notifier := newTestServices(t)
	proposalID, _, _, _ := setupProposalWithConsumers(t, svc)
	ctx := context.Background()

	// Stamp a past deadline directly on the stored proposal.
	p, err := mem.GetProposal(ctx, proposalID, false)
	require.NoError(t, err)
	expired := now.Add(-time.Hour)
	p.ExpiresAt = &expired
	p.AutoExpire = true
	require.NoError(t, mem.CreateProposal(ctx, p)) // memory store upserts by id

	got, err := svc.GetProposal(ctx, proposalID)
	require.NoError(t, err)
	require.Equal(t, contracts.ProposalExpired, got.Status)
	require.NotNil(t, got.ResolvedAt)
	require.True(t, notifier.seen(contracts.EventProposalExpired))
}

func TestPublishFromProposalRequiresGreaterVersion(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	proposalID, _, _, _ := setupProposalWithConsumers(t, svc)

	_, err := svc.ForceApproveProposal(ctx, AdminActor(), proposalID)
	require.NoError(t, err)

	_, err = svc.PublishFromProposal(ctx, AdminActor(), proposalID, "1.0.0")
	require.True(t, IsKind(err, KindBadRequest))

	published, err := svc.PublishFromProposal(ctx, AdminActor(), proposalID, "2.0.0")
	require.NoError(t, err)
	require.Equal(t, contracts.CompatBackward, published.CompatibilityMode, "mode carried from previous active")
}

func TestDuplicateAcknowledgmentConflicts(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	proposalID, _, consumerA, _ := setupProposalWithConsumers(t, svc)

	actor := Actor{TeamID: consumerA.ID}
	_, err := svc.Acknowledge(ctx, actor, proposalID, AcknowledgeRequest{
		ConsumerTeamID: consumerA.ID, Response: contracts.AckNeedsChanges,
	})
	require.NoError(t, err)

	_, err = svc.Acknowledge(ctx, actor, proposalID, AcknowledgeRequest{
		ConsumerTeamID: consumerA.ID, Response: contracts.AckApproved,
	})
	require.True(t, IsKind(err, KindConflict))
}

func TestProposalStatusView(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	proposalID, _, consumerA, consumerB := setupProposalWithConsumers(t, svc)

	_, err := svc.Acknowledge(ctx, Actor{TeamID: consumerA.ID}, proposalID, AcknowledgeRequest{
		ConsumerTeamID: consumerA.ID, Response: contracts.AckApproved,
	})
	require.NoError(t, err)

	view, err := svc.ProposalStatus(ctx, proposalID)
	require.NoError(t, err)
	require.Len(t, view.Acknowledgments, 1)
	require.Equal(t, []string{consumerB.ID}, view.PendingConsumers)
	require.NotEmpty(t, view.BreakingChanges)
	require.NotNil(t, view.ProposerTeam)

	var raw json.RawMessage = view.Proposal.ProposedSchema
	require.NotEmpty(t, raw)
}

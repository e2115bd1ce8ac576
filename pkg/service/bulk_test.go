package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/store"
)

func TestBulkAssetsSkipDuplicates(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	team, _ := setupOrdersAsset(t, svc)

	req := BulkAssetsRequest{
		SkipDuplicates: true,
		Assets: []CreateAssetRequest{
			{FQN: "warehouse.analytics.orders", OwnerTeamID: team.ID}, // duplicate
			{FQN: "warehouse.analytics.customers", OwnerTeamID: team.ID},
			{FQN: "", OwnerTeamID: team.ID}, // invalid
		},
	}
	result, err := svc.BulkAssets(ctx, AdminActor(), req)
	require.NoError(t, err)
	require.Equal(t, 3, result.Total)
	require.Equal(t, 2, result.Succeeded)
	require.Equal(t, 1, result.Failed)

	dup := result.Results[0]
	require.True(t, dup.Success)
	require.Equal(t, true, dup.Details["skipped"])
	require.Equal(t, "duplicate", dup.Details["reason"])
	require.NotEmpty(t, dup.ID, "duplicate result carries the existing id")

	require.False(t, result.Results[2].Success)
	require.NotEmpty(t, result.Results[2].Error)
}

func TestBulkRegistrationsSkipDuplicates(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	proposalID, _, consumerA, consumerB := setupProposalWithConsumers(t, svc)
	_ = proposalID

	activeList, err := svc.ListContracts(ctx, store.ContractFilter{Status: contracts.ContractActive})
	require.NoError(t, err)
	require.Len(t, activeList, 1)
	active := activeList[0].ID

	req := BulkRegistrationsRequest{
		SkipDuplicates: true,
		Registrations: []RegisterRequest{
			{ContractID: active, ConsumerTeamID: consumerA.ID}, // duplicate
			{ContractID: active, ConsumerTeamID: consumerB.ID}, // duplicate
		},
	}
	result, err := svc.BulkRegistrations(ctx, AdminActor(), req)
	require.NoError(t, err)
	require.Equal(t, 2, result.Succeeded)
	for _, item := range result.Results {
		require.True(t, item.Success)
		require.Equal(t, true, item.Details["skipped"])
	}
}

func TestBulkAcknowledgmentsContinueOnError(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	proposalID, _, consumerA, consumerB := setupProposalWithConsumers(t, svc)

	req := BulkAcknowledgmentsRequest{
		Acknowledgments: []BulkAcknowledgeItem{
			{ProposalID: "missing", AcknowledgeRequest: AcknowledgeRequest{
				ConsumerTeamID: consumerA.ID, Response: contracts.AckApproved}},
			{ProposalID: proposalID, AcknowledgeRequest: AcknowledgeRequest{
				ConsumerTeamID: consumerA.ID, Response: contracts.AckApproved}},
			{ProposalID: proposalID, AcknowledgeRequest: AcknowledgeRequest{
				ConsumerTeamID: consumerB.ID, Response: contracts.AckApproved}},
		},
	}
	result, err := svc.BulkAcknowledgments(ctx, AdminActor(), req)
	require.NoError(t, err)
	require.Equal(t, 3, result.Total)
	require.Equal(t, 2, result.Succeeded)
	require.Equal(t, 1, result.Failed)

	// The final ack completed the consumer set.
	require.Equal(t, string(contracts.ProposalApproved), result.Results[2].Details["proposal_status"])
}

func TestBulkAcknowledgmentsStopOnFirstError(t *testing.T) {
	svc, _, _ := newTestServices(t)
	ctx := context.Background()
	proposalID, _, consumerA, _ := setupProposalWithConsumers(t, svc)

	stop := false
	req := BulkAcknowledgmentsRequest{
		ContinueOnError: &stop,
		Acknowledgments: []BulkAcknowledgeItem{
			{ProposalID: "missing", AcknowledgeRequest: AcknowledgeRequest{
				ConsumerTeamID: consumerA.ID, Response: contracts.AckApproved}},
			{ProposalID: proposalID, AcknowledgeRequest: AcknowledgeRequest{
				ConsumerTeamID: consumerA.ID, Response: contracts.AckApproved}},
		},
	}
	result, err := svc.BulkAcknowledgments(ctx, AdminActor(), req)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	require.Equal(t, 1, result.Failed)
}

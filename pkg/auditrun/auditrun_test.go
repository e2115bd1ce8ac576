package auditrun

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Memory, string) {
	t.Helper()
	mem := store.NewMemory()
	svc := New(mem).WithClock(func() time.Time { return testNow })

	ctx := context.Background()
	team := &contracts.Team{ID: "team-1", Name: "data-platform", CreatedAt: testNow}
	require.NoError(t, mem.CreateTeam(ctx, team))
	asset := &contracts.Asset{
		ID: "asset-1", FQN: "warehouse.analytics.orders",
		OwnerTeamID: team.ID, Environment: "production",
		ResourceType: contracts.ResourceModel, CreatedAt: testNow,
	}
	require.NoError(t, mem.CreateAsset(ctx, asset))
	return svc, mem, asset.ID
}

func TestReportDerivesCountsFromGuaranteeResults(t *testing.T) {
	svc, _, assetID := newTestService(t)
	ctx := context.Background()

	details, _ := json.Marshal(contracts.RunDetails{GuaranteeResults: []contracts.GuaranteeResult{
		{Guarantee: "not_null_orders_id", Passed: true},
		{Guarantee: "accepted_values_status", Passed: false, Message: "unexpected value"},
		{Guarantee: "unique_orders_id", Passed: true},
	}})

	run, err := svc.Report(ctx, assetID, ReportRequest{
		Status:  contracts.AuditPartial,
		Details: details,
	})
	require.NoError(t, err)
	require.Equal(t, contracts.AuditCounts{Checked: 3, Passed: 2, Failed: 1}, run.Counts)
	require.Nil(t, run.ContractID, "no active contract to snapshot")
}

func TestReportSnapshotsActiveContract(t *testing.T) {
	svc, mem, assetID := newTestService(t)
	ctx := context.Background()

	contract := &contracts.Contract{
		ID: "contract-1", AssetID: assetID, Version: "1.0.0",
		Schema: json.RawMessage(`{"type":"object"}`), SchemaFormat: contracts.SchemaFormatJSONSchema,
		CompatibilityMode: contracts.CompatBackward, Status: contracts.ContractActive,
		PublishedByTeam: "team-1", PublishedAt: testNow,
	}
	require.NoError(t, mem.CreateContract(ctx, contract))

	run, err := svc.Report(ctx, assetID, ReportRequest{Status: contracts.AuditPassed})
	require.NoError(t, err)
	require.NotNil(t, run.ContractID)
	require.Equal(t, "contract-1", *run.ContractID)
}

func TestReportSizeCaps(t *testing.T) {
	svc, _, assetID := newTestService(t)
	ctx := context.Background()

	big := make([]byte, maxDetailsBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	_, err := svc.Report(ctx, assetID, ReportRequest{
		Status:  contracts.AuditPassed,
		Details: json.RawMessage(`{"pad":"` + string(big) + `"}`),
	})
	require.True(t, service.IsKind(err, service.KindValidation))

	results := make([]contracts.GuaranteeResult, maxGuaranteeEntries+1)
	for i := range results {
		results[i] = contracts.GuaranteeResult{Guarantee: fmt.Sprintf("g%d", i), Passed: true}
	}
	details, _ := json.Marshal(contracts.RunDetails{GuaranteeResults: results})
	_, err = svc.Report(ctx, assetID, ReportRequest{Status: contracts.AuditPassed, Details: details})
	require.True(t, service.IsKind(err, service.KindValidation))
}

func TestReportUnknownStatus(t *testing.T) {
	svc, _, assetID := newTestService(t)
	_, err := svc.Report(context.Background(), assetID, ReportRequest{Status: "unknown"})
	require.True(t, service.IsKind(err, service.KindBadRequest))
}

func reportAt(t *testing.T, svc *Service, assetID string, status contracts.AuditRunStatus, at time.Time, failedGuarantee string) {
	t.Helper()
	req := ReportRequest{Status: status, RunAt: &at, TriggeredBy: "dbt_cloud"}
	if failedGuarantee != "" {
		details, _ := json.Marshal(contracts.RunDetails{GuaranteeResults: []contracts.GuaranteeResult{
			{Guarantee: failedGuarantee, Passed: false},
		}})
		req.Details = details
	}
	_, err := svc.Report(context.Background(), assetID, req)
	require.NoError(t, err)
}

func TestHistoryFiltersAndExtractsFailures(t *testing.T) {
	svc, _, assetID := newTestService(t)
	ctx := context.Background()

	reportAt(t, svc, assetID, contracts.AuditPassed, testNow.Add(-2*time.Hour), "")
	reportAt(t, svc, assetID, contracts.AuditFailed, testNow.Add(-time.Hour), "not_null_orders_id")

	entries, err := svc.History(ctx, assetID, store.AuditRunFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	require.Equal(t, contracts.AuditFailed, entries[0].Run.Status)
	require.Equal(t, []string{"not_null_orders_id"}, entries[0].FailedGuarantees)

	failed, err := svc.History(ctx, assetID, store.AuditRunFilter{Status: contracts.AuditFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	_, err = svc.History(ctx, assetID, store.AuditRunFilter{Limit: 501})
	require.True(t, service.IsKind(err, service.KindBadRequest))
}

func TestTrendsHigh24hFailureRate(t *testing.T) {
	svc, _, assetID := newTestService(t)
	ctx := context.Background()

	reportAt(t, svc, assetID, contracts.AuditFailed, testNow.Add(-1*time.Hour), "g1")
	reportAt(t, svc, assetID, contracts.AuditFailed, testNow.Add(-2*time.Hour), "g1")
	reportAt(t, svc, assetID, contracts.AuditPassed, testNow.Add(-3*time.Hour), "")

	trends, err := svc.Trends(ctx, assetID)
	require.NoError(t, err)

	day := trends.Windows[0]
	require.Equal(t, "24h", day.Window)
	require.Equal(t, 3, day.Total)
	require.InDelta(t, 2.0/3.0, day.FailureRate, 1e-9)

	rules := map[string]bool{}
	for _, a := range trends.Alerts {
		rules[a.Rule] = true
	}
	require.True(t, rules["high_24h_failure_rate"])
	require.True(t, rules["latest_run_failed"])
}

func TestTrendsRepeatedGuaranteeFailure(t *testing.T) {
	svc, _, assetID := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		reportAt(t, svc, assetID, contracts.AuditFailed, testNow.Add(-time.Duration(i+1)*24*time.Hour), "accepted_values_status")
	}

	trends, err := svc.Trends(ctx, assetID)
	require.NoError(t, err)

	found := false
	for _, a := range trends.Alerts {
		if a.Rule == "repeated_guarantee_failure" {
			found = true
		}
	}
	require.True(t, found)

	week := trends.Windows[1]
	require.Equal(t, "7d", week.Window)
	require.NotEmpty(t, week.TopFailed)
	require.Equal(t, "accepted_values_status", week.TopFailed[0].Guarantee)
}

func TestTrendsQuietAssetHasNoAlerts(t *testing.T) {
	svc, _, assetID := newTestService(t)

	trends, err := svc.Trends(context.Background(), assetID)
	require.NoError(t, err)
	require.Empty(t, trends.Alerts)
	for _, w := range trends.Windows {
		require.Zero(t, w.Total)
	}
}

package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
	"github.com/tessera-io/tessera/pkg/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T) (*Pipeline, *store.Memory, *contracts.Team) {
	t.Helper()
	mem := store.NewMemory()
	svc := service.New(mem, service.WithClock(func() time.Time { return testNow }))
	pipe := New(svc, mem)

	team := &contracts.Team{ID: "team-dp", Name: "data-platform", CreatedAt: testNow}
	require.NoError(t, mem.CreateTeam(context.Background(), team))
	return pipe, mem, team
}

func TestJSONTypeMapping(t *testing.T) {
	cases := map[string]string{
		"varchar(255)":  "string",
		"VARCHAR(255)":  "string",
		"text":          "string",
		"bigint":        "integer",
		"NUMBER(38,0)":  "number",
		"numeric(10,2)": "number",
		"double":        "number",
		"BOOLEAN":       "boolean",
		"timestamp_ntz": "string",
		"date":          "string",
		"jsonb":         "object",
		"variant":       "object",
		"array":         "array",
		"geography":     "string",
		"":              "string",
	}
	for input, want := range cases {
		assert.Equal(t, want, JSONType(input), "type %q", input)
	}
}

func TestParseMetaValidation(t *testing.T) {
	cfg, err := parseMeta(map[string]any{"tessera": map[string]any{
		"owner_team":         "bi-team",
		"compatibility_mode": "none",
	}})
	require.NoError(t, err)
	require.Equal(t, "bi-team", cfg.OwnerTeam)
	require.Equal(t, "none", cfg.CompatibilityMode)

	// A node without the block is a zero config, not an error.
	cfg, err = parseMeta(map[string]any{"columns": 3})
	require.NoError(t, err)
	require.Empty(t, cfg.OwnerTeam)

	_, err = parseMeta(map[string]any{"tessera": map[string]any{
		"compatibility_mode": "sideways",
	}})
	require.ErrorContains(t, err, "meta.tessera is invalid")
}

func ordersManifest() Manifest {
	return Manifest{
		Nodes: map[string]Node{
			"model.shop.orders": {
				Database: "warehouse", Schema: "analytics", Name: "orders",
				ResourceType: "model",
				Description:  "one row per order",
				Columns: map[string]Column{
					"id":     {DataType: "bigint"},
					"total":  {DataType: "numeric(10,2)"},
					"status": {DataType: "varchar(50)"},
				},
				Meta: map[string]any{"tessera": map[string]any{
					"freshness": map[string]any{"max_staleness_minutes": 60},
				}},
			},
			"test.shop.not_null_orders_id": {
				Database: "warehouse", Schema: "analytics", Name: "not_null_orders_id",
				ResourceType: "test",
				DependsOn:    DependsOn{Nodes: []string{"model.shop.orders"}},
				TestMetadata: &TestMetadata{Name: "not_null", Kwargs: map[string]any{"column_name": "id"}},
			},
			"test.shop.accepted_values_orders_status": {
				Database: "warehouse", Schema: "analytics", Name: "accepted_values_orders_status",
				ResourceType: "test",
				DependsOn:    DependsOn{Nodes: []string{"model.shop.orders"}},
				TestMetadata: &TestMetadata{
					Name:   "accepted_values",
					Kwargs: map[string]any{"column_name": "status", "values": []any{"open", "shipped"}},
				},
			},
			"test.shop.orders_total_positive": {
				Database: "warehouse", Schema: "analytics", Name: "orders_total_positive",
				ResourceType: "test",
				DependsOn:    DependsOn{Nodes: []string{"model.shop.orders"}},
				RawSQL:       "select * from orders where total < 0",
			},
		},
	}
}

func TestUploadCreatesAssetAndPublishes(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()

	report, err := pipe.Upload(ctx, ordersManifest(), Options{
		DefaultOwnerTeamID: team.ID,
		AutoPublish:        true,
	})
	require.NoError(t, err)
	require.Equal(t, AssetCounts{Created: 1}, report.Assets)
	require.Equal(t, 1, report.ContractsPublished)
	// not_null + accepted_values + singular + freshness.
	require.Equal(t, 4, report.GuaranteesExtracted)
	require.Empty(t, report.OwnershipWarnings)

	asset, err := mem.GetAssetByFQN(ctx, "production", "warehouse.analytics.orders")
	require.NoError(t, err)
	require.Equal(t, contracts.ResourceModel, asset.ResourceType)

	active, err := mem.ActiveContract(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", active.Version)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(active.Schema, &schema))
	props := schema["properties"].(map[string]any)
	require.Contains(t, props, "id")
	require.Contains(t, props, "status")

	require.NotNil(t, active.Guarantees)
	assert.Equal(t, contracts.NullNever, active.Guarantees.Nullability["id"])
	assert.Equal(t, []any{"open", "shipped"}, active.Guarantees.AcceptedValues["status"])
	require.NotNil(t, active.Guarantees.Freshness)
	assert.Equal(t, 60, active.Guarantees.Freshness.MaxStalenessMinutes)
}

func TestUploadIdempotentUnderIgnore(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()
	opts := Options{DefaultOwnerTeamID: team.ID, AutoPublish: true, ConflictMode: ConflictIgnore}

	first, err := pipe.Upload(ctx, ordersManifest(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, first.Assets.Created)

	second, err := pipe.Upload(ctx, ordersManifest(), opts)
	require.NoError(t, err)
	require.Equal(t, AssetCounts{Skipped: 1}, second.Assets)
	require.Zero(t, second.ContractsPublished)

	// Same asset, same single active contract.
	assets, err := mem.ListAssets(ctx, store.AssetFilter{})
	require.NoError(t, err)
	require.Len(t, assets, 1)
	all, err := mem.ListContracts(ctx, store.ContractFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestCompatibleColumnAddedBumpsMinor(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()
	opts := Options{DefaultOwnerTeamID: team.ID, AutoPublish: true}

	_, err := pipe.Upload(ctx, ordersManifest(), opts)
	require.NoError(t, err)

	m := ordersManifest()
	node := m.Nodes["model.shop.orders"]
	node.Columns["created_at"] = Column{DataType: "timestamp"}
	m.Nodes["model.shop.orders"] = node

	report, err := pipe.Upload(ctx, m, opts)
	require.NoError(t, err)
	require.Equal(t, 1, report.ContractsPublished)
	require.Equal(t, AssetCounts{Updated: 1}, report.Assets)

	asset, err := mem.GetAssetByFQN(ctx, "production", "warehouse.analytics.orders")
	require.NoError(t, err)
	active, err := mem.ActiveContract(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", active.Version)

	all, err := mem.ListContracts(ctx, store.ContractFilter{AssetID: asset.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestCompatibilityModeSurvivesRepublish(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()
	opts := Options{DefaultOwnerTeamID: team.ID, AutoPublish: true}

	withMode := func(columns map[string]Column) Manifest {
		m := ordersManifest()
		node := m.Nodes["model.shop.orders"]
		node.Meta = map[string]any{"tessera": map[string]any{"compatibility_mode": "none"}}
		if columns != nil {
			node.Columns = columns
		}
		m.Nodes["model.shop.orders"] = node
		return m
	}

	_, err := pipe.Upload(ctx, withMode(nil), opts)
	require.NoError(t, err)

	asset, err := mem.GetAssetByFQN(ctx, "production", "warehouse.analytics.orders")
	require.NoError(t, err)
	active, err := mem.ActiveContract(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, contracts.CompatNone, active.CompatibilityMode)

	// A minor bump keeps the declared mode.
	grown := withMode(map[string]Column{
		"id":         {DataType: "bigint"},
		"total":      {DataType: "numeric(10,2)"},
		"status":     {DataType: "varchar(50)"},
		"created_at": {DataType: "timestamp"},
	})
	report, err := pipe.Upload(ctx, grown, opts)
	require.NoError(t, err)
	require.Equal(t, 1, report.ContractsPublished)

	active, err = mem.ActiveContract(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", active.Version)
	require.Equal(t, contracts.CompatNone, active.CompatibilityMode)

	// A manifest that stops declaring the mode inherits it from the
	// active contract instead of resetting to the default.
	silent := ordersManifest()
	node := silent.Nodes["model.shop.orders"]
	node.Meta = nil
	node.Columns["created_at"] = Column{DataType: "timestamp"}
	node.Columns["shipped_at"] = Column{DataType: "timestamp"}
	silent.Nodes["model.shop.orders"] = node

	report, err = pipe.Upload(ctx, silent, opts)
	require.NoError(t, err)
	require.Equal(t, 1, report.ContractsPublished)

	active, err = mem.ActiveContract(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, "1.2.0", active.Version)
	require.Equal(t, contracts.CompatNone, active.CompatibilityMode)
}

func TestBreakingChangeCreatesProposal(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()

	_, err := pipe.Upload(ctx, ordersManifest(), Options{DefaultOwnerTeamID: team.ID, AutoPublish: true})
	require.NoError(t, err)

	m := ordersManifest()
	node := m.Nodes["model.shop.orders"]
	delete(node.Columns, "total")
	m.Nodes["model.shop.orders"] = node

	report, err := pipe.Upload(ctx, m, Options{
		DefaultOwnerTeamID: team.ID,
		AutoPublish:        true,
		AutoPropose:        true,
	})
	require.NoError(t, err)
	require.Zero(t, report.ContractsPublished)
	require.Equal(t, 1, report.Proposals.Created)
	require.Len(t, report.Proposals.Details, 1)
	require.Equal(t, "2.0.0", report.Proposals.Details[0].ProposedVersion)
	require.Equal(t, "warehouse.analytics.orders", report.Proposals.Details[0].AssetFQN)

	// The active contract is untouched.
	asset, err := mem.GetAssetByFQN(ctx, "production", "warehouse.analytics.orders")
	require.NoError(t, err)
	active, err := mem.ActiveContract(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", active.Version)

	// A second upload does not stack a duplicate proposal.
	again, err := pipe.Upload(ctx, m, Options{
		DefaultOwnerTeamID: team.ID,
		AutoPublish:        true,
		AutoPropose:        true,
	})
	require.NoError(t, err)
	require.Zero(t, again.Proposals.Created)
	require.NotEmpty(t, again.ContractWarnings)

	proposals, err := mem.ListProposals(ctx, store.ProposalFilter{AssetID: asset.ID})
	require.NoError(t, err)
	require.Len(t, proposals, 1)
}

func TestOwnerResolution(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()

	biTeam := &contracts.Team{ID: "team-bi", Name: "bi-team", CreatedAt: testNow}
	require.NoError(t, mem.CreateTeam(ctx, biTeam))

	m := Manifest{Nodes: map[string]Node{
		"model.shop.revenue": {
			Database: "warehouse", Schema: "marts", Name: "revenue",
			ResourceType: "model",
			Meta:         map[string]any{"tessera": map[string]any{"owner_team": "BI-Team"}},
		},
		"model.shop.churn": {
			Database: "warehouse", Schema: "marts", Name: "churn",
			ResourceType: "model",
			Meta:         map[string]any{"tessera": map[string]any{"owner_team": "no-such-team"}},
		},
	}}
	report, err := pipe.Upload(ctx, m, Options{DefaultOwnerTeamID: team.ID})
	require.NoError(t, err)
	require.Equal(t, 2, report.Assets.Created)
	require.Len(t, report.OwnershipWarnings, 1)
	assert.Contains(t, report.OwnershipWarnings[0], "no-such-team")

	revenue, err := mem.GetAssetByFQN(ctx, "production", "warehouse.marts.revenue")
	require.NoError(t, err)
	require.Equal(t, biTeam.ID, revenue.OwnerTeamID)

	churn, err := mem.GetAssetByFQN(ctx, "production", "warehouse.marts.churn")
	require.NoError(t, err)
	require.Equal(t, team.ID, churn.OwnerTeamID)
}

func TestConflictModeFail(t *testing.T) {
	pipe, _, team := newTestPipeline(t)
	ctx := context.Background()

	_, err := pipe.Upload(ctx, ordersManifest(), Options{DefaultOwnerTeamID: team.ID})
	require.NoError(t, err)

	report, err := pipe.Upload(ctx, ordersManifest(), Options{
		DefaultOwnerTeamID: team.ID,
		ConflictMode:       ConflictFail,
	})
	require.Error(t, err)
	require.True(t, service.IsKind(err, service.KindConflict))
	require.Equal(t, []string{"warehouse.analytics.orders"}, report.Conflicts)
}

func TestConsumerRegistration(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()

	biTeam := &contracts.Team{ID: "team-bi", Name: "bi-team", CreatedAt: testNow}
	mlTeam := &contracts.Team{ID: "team-ml", Name: "ml-team", CreatedAt: testNow}
	require.NoError(t, mem.CreateTeam(ctx, biTeam))
	require.NoError(t, mem.CreateTeam(ctx, mlTeam))

	m := ordersManifest()
	orders := m.Nodes["model.shop.orders"]
	orders.Meta = map[string]any{"tessera": map[string]any{
		"consumers": []any{map[string]any{"team": "ml-team", "purpose": "feature store"}},
	}}
	m.Nodes["model.shop.orders"] = orders
	m.Nodes["model.shop.daily_revenue"] = Node{
		Database: "warehouse", Schema: "marts", Name: "daily_revenue",
		ResourceType: "model",
		Columns:      map[string]Column{"day": {DataType: "date"}, "revenue": {DataType: "numeric"}},
		DependsOn:    DependsOn{Nodes: []string{"model.shop.orders"}},
		Meta:         map[string]any{"tessera": map[string]any{"owner_team": "bi-team"}},
	}

	report, err := pipe.Upload(ctx, m, Options{
		DefaultOwnerTeamID: team.ID,
		AutoPublish:        true,
		AutoRegister:       true,
		InferConsumers:     true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Assets.Created)
	require.Equal(t, 2, report.RegistrationsCreated)

	ordersAsset, err := mem.GetAssetByFQN(ctx, "production", "warehouse.analytics.orders")
	require.NoError(t, err)
	active, err := mem.ActiveContract(ctx, ordersAsset.ID, false)
	require.NoError(t, err)

	regs, err := mem.ListRegistrations(ctx, store.RegistrationFilter{ContractID: active.ID})
	require.NoError(t, err)
	teams := map[string]bool{}
	for _, reg := range regs {
		teams[reg.ConsumerTeamID] = true
	}
	require.True(t, teams[biTeam.ID], "ref-inferred registration")
	require.True(t, teams[mlTeam.ID], "meta-declared registration")

	// A dependency edge was recorded alongside the registration.
	revenue, err := mem.GetAssetByFQN(ctx, "production", "warehouse.marts.daily_revenue")
	require.NoError(t, err)
	deps, err := mem.ListUpstream(ctx, revenue.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, ordersAsset.ID, deps[0].UpstreamID)

	// Re-uploading does not duplicate registrations.
	again, err := pipe.Upload(ctx, m, Options{
		DefaultOwnerTeamID: team.ID,
		AutoPublish:        true,
		AutoRegister:       true,
		InferConsumers:     true,
	})
	require.NoError(t, err)
	require.Zero(t, again.RegistrationsCreated)
}

func TestPreviewClassifiesModels(t *testing.T) {
	pipe, _, team := newTestPipeline(t)
	ctx := context.Background()

	_, err := pipe.Upload(ctx, ordersManifest(), Options{DefaultOwnerTeamID: team.ID, AutoPublish: true})
	require.NoError(t, err)

	// Leave orders out, break nothing yet: a fresh model appears as new and
	// orders as deleted.
	m := Manifest{Nodes: map[string]Node{
		"model.shop.customers": {
			Database: "warehouse", Schema: "analytics", Name: "customers",
			ResourceType: "model",
			Columns:      map[string]Column{"id": {DataType: "bigint"}},
		},
	}}
	preview, err := pipe.Preview(ctx, m, PreviewOptions{})
	require.NoError(t, err)
	require.False(t, preview.Blocking)

	byFQN := map[string]ModelPreview{}
	for _, entry := range preview.Models {
		byFQN[entry.FQN] = entry
	}
	require.Equal(t, StatusNew, byFQN["warehouse.analytics.customers"].Status)
	require.Equal(t, StatusDeleted, byFQN["warehouse.analytics.orders"].Status)

	// Dropping a column is breaking and blocks when asked to.
	broken := ordersManifest()
	node := broken.Nodes["model.shop.orders"]
	delete(node.Columns, "total")
	broken.Nodes["model.shop.orders"] = node

	preview, err = pipe.Preview(ctx, broken, PreviewOptions{FailOnBreaking: true})
	require.NoError(t, err)
	require.True(t, preview.Blocking)

	byFQN = map[string]ModelPreview{}
	for _, entry := range preview.Models {
		byFQN[entry.FQN] = entry
	}
	entry := byFQN["warehouse.analytics.orders"]
	require.Equal(t, StatusModified, entry.Status)
	require.Equal(t, ChangeBreaking, entry.SchemaChange)
	require.NotEmpty(t, entry.BreakingChanges)
}

func TestPreviewUnchanged(t *testing.T) {
	pipe, _, team := newTestPipeline(t)
	ctx := context.Background()

	_, err := pipe.Upload(ctx, ordersManifest(), Options{DefaultOwnerTeamID: team.ID, AutoPublish: true})
	require.NoError(t, err)

	preview, err := pipe.Preview(ctx, ordersManifest(), PreviewOptions{FailOnBreaking: true})
	require.NoError(t, err)
	require.False(t, preview.Blocking)
	require.Len(t, preview.Models, 1)
	require.Equal(t, StatusUnchanged, preview.Models[0].Status)
	require.Equal(t, ChangeNone, preview.Models[0].SchemaChange)
}

func TestImpactListsBreakingPerModel(t *testing.T) {
	pipe, _, team := newTestPipeline(t)
	ctx := context.Background()

	_, err := pipe.Upload(ctx, ordersManifest(), Options{DefaultOwnerTeamID: team.ID, AutoPublish: true})
	require.NoError(t, err)

	m := ordersManifest()
	node := m.Nodes["model.shop.orders"]
	delete(node.Columns, "status")
	m.Nodes["model.shop.orders"] = node

	impacts, err := pipe.Impact(ctx, m, "")
	require.NoError(t, err)
	require.Len(t, impacts, 1)
	require.Equal(t, "warehouse.analytics.orders", impacts[0].FQN)
	require.True(t, impacts[0].Impact.HasContract)
	require.NotEmpty(t, impacts[0].Impact.BreakingChanges)
}

func TestEndpointFQN(t *testing.T) {
	assert.Equal(t, "api.get.orders.id", endpointFQN("get", "/orders/{id}"))
	assert.Equal(t, "api.post.orders", endpointFQN("post", "/orders"))
	assert.Equal(t, "api.get.root", endpointFQN("get", "/"))
}

func TestUploadOpenAPI(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()

	var doc OpenAPIDocument
	require.NoError(t, json.Unmarshal([]byte(`{
		"info": {"title": "Orders API"},
		"paths": {
			"/orders": {
				"parameters": [{"name": "page", "in": "query"}],
				"get": {
					"operationId": "listOrders",
					"responses": {
						"200": {
							"content": {
								"application/json": {
									"schema": {
										"type": "object",
										"properties": {"items": {"type": "array"}}
									}
								}
							}
						}
					}
				},
				"post": {"operationId": "createOrder", "responses": {"201": {}}}
			}
		}
	}`), &doc))

	report, err := pipe.UploadOpenAPI(ctx, doc, Options{
		DefaultOwnerTeamID: team.ID,
		AutoPublish:        true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, report.Assets.Created)
	require.Equal(t, 1, report.ContractsPublished)

	asset, err := mem.GetAssetByFQN(ctx, "production", "api.get.orders")
	require.NoError(t, err)
	require.Equal(t, contracts.ResourceAPIEndpoint, asset.ResourceType)
	require.Equal(t, "listOrders", asset.Metadata["operation_id"])

	active, err := mem.ActiveContract(ctx, asset.ID, false)
	require.NoError(t, err)
	require.Equal(t, "1.0.0", active.Version)
}

func TestUploadGraphQL(t *testing.T) {
	pipe, mem, team := newTestPipeline(t)
	ctx := context.Background()

	report, err := pipe.UploadGraphQL(ctx, GraphQLDocument{
		ServiceName: "shop-graph",
		Operations: []GraphQLOperation{
			{Name: "OrdersByStatus", Kind: "query",
				Schema: json.RawMessage(`{"type":"object","properties":{"orders":{"type":"array"}}}`)},
			{Name: "CancelOrder", Kind: "mutation"},
			{Name: "", Kind: "query"},
		},
	}, Options{DefaultOwnerTeamID: team.ID, AutoPublish: true})
	require.NoError(t, err)
	require.Equal(t, 2, report.Assets.Created)
	require.Equal(t, 1, report.ContractsPublished)
	require.Len(t, report.OwnershipWarnings, 1)

	asset, err := mem.GetAssetByFQN(ctx, "production", "graphql.query.ordersbystatus")
	require.NoError(t, err)
	require.Equal(t, contracts.ResourceGraphQLQuery, asset.ResourceType)
	require.Equal(t, "shop-graph", asset.Metadata["service"])
}

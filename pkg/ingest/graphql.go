package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
)

// GraphQLOperation is one query or mutation with an optional result schema.
type GraphQLOperation struct {
	Name        string          `json:"name"`
	Kind        string          `json:"kind,omitempty"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// GraphQLDocument is the operation inventory for one GraphQL service.
type GraphQLDocument struct {
	ServiceName string             `json:"service_name,omitempty"`
	Operations  []GraphQLOperation `json:"operations"`
}

// operationFQN derives the asset name: "graphql.query.ordersbystatus".
func operationFQN(kind, name string) string {
	return strings.ToLower(fmt.Sprintf("graphql.%s.%s", kind, name))
}

// UploadGraphQL ingests every operation as a graphql_query asset; result
// schemas feed the contract policy.
func (p *Pipeline) UploadGraphQL(ctx context.Context, doc GraphQLDocument, opts Options) (*Report, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if opts.DefaultOwnerTeamID == "" {
		return nil, service.E(service.KindBadRequest, "default owner team is required")
	}
	report := &Report{}

	for _, op := range doc.Operations {
		if op.Name == "" {
			report.OwnershipWarnings = append(report.OwnershipWarnings,
				"operation without a name skipped")
			continue
		}
		kind := strings.ToLower(op.Kind)
		switch kind {
		case "":
			kind = "query"
		case "query", "mutation", "subscription":
		default:
			report.OwnershipWarnings = append(report.OwnershipWarnings,
				fmt.Sprintf("%s: unknown operation kind %q", op.Name, op.Kind))
			continue
		}

		metadata := map[string]any{"operation_kind": kind}
		if op.Description != "" {
			metadata["description"] = op.Description
		}
		if doc.ServiceName != "" {
			metadata["service"] = doc.ServiceName
		}

		asset, err := p.upsertAsset(ctx, opts, operationFQN(kind, op.Name),
			contracts.ResourceGraphQLQuery, opts.DefaultOwnerTeamID, nil, metadata, report)
		if err != nil {
			report.OwnershipWarnings = append(report.OwnershipWarnings,
				fmt.Sprintf("%s: %v", op.Name, err))
			continue
		}
		if len(op.Schema) > 0 {
			p.publishSchema(ctx, opts, asset, op.Schema, nil, "", report)
		}
	}
	return report, nil
}

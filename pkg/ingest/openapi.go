package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tessera-io/tessera/pkg/contracts"
	"github.com/tessera-io/tessera/pkg/service"
)

// OpenAPIDocument is the subset of an OpenAPI 3 document the pipeline
// reads. Path items are kept raw because they mix operations with
// parameter lists.
type OpenAPIDocument struct {
	Info struct {
		Title string `json:"title"`
	} `json:"info"`
	Paths map[string]map[string]json.RawMessage `json:"paths"`
}

type openAPIOperation struct {
	OperationID string                     `json:"operationId"`
	Summary     string                     `json:"summary"`
	Responses   map[string]openAPIResponse `json:"responses"`
}

type openAPIResponse struct {
	Content map[string]struct {
		Schema json.RawMessage `json:"schema"`
	} `json:"content"`
}

var httpVerbs = []string{"get", "post", "put", "patch", "delete", "head", "options"}

// endpointFQN derives the asset name for one operation:
// "api.get./orders/{id}" → "api.get.orders.id".
func endpointFQN(method, path string) string {
	p := strings.Trim(path, "/")
	p = strings.NewReplacer("/", ".", "{", "", "}", "").Replace(p)
	if p == "" {
		p = "root"
	}
	return strings.ToLower(fmt.Sprintf("api.%s.%s", method, p))
}

// responseSchema picks the JSON schema of the first 2xx response.
func (op openAPIOperation) responseSchema() json.RawMessage {
	codes := make([]string, 0, len(op.Responses))
	for code := range op.Responses {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if !strings.HasPrefix(code, "2") {
			continue
		}
		for contentType, content := range op.Responses[code].Content {
			if strings.Contains(contentType, "json") && len(content.Schema) > 0 {
				return content.Schema
			}
		}
	}
	return nil
}

// UploadOpenAPI ingests every path×verb pair as an api_endpoint asset. The
// 2xx response schema, when present, feeds the same contract policy as dbt
// columns.
func (p *Pipeline) UploadOpenAPI(ctx context.Context, doc OpenAPIDocument, opts Options) (*Report, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if opts.DefaultOwnerTeamID == "" {
		return nil, service.E(service.KindBadRequest, "default owner team is required")
	}
	report := &Report{}

	paths := make([]string, 0, len(doc.Paths))
	for path := range doc.Paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := doc.Paths[path]
		for _, verb := range httpVerbs {
			raw, ok := item[verb]
			if !ok {
				continue
			}
			var op openAPIOperation
			if err := json.Unmarshal(raw, &op); err != nil {
				report.ContractWarnings = append(report.ContractWarnings,
					fmt.Sprintf("%s %s: operation does not parse: %v", strings.ToUpper(verb), path, err))
				continue
			}
			fqn := endpointFQN(verb, path)
			metadata := map[string]any{
				"path":   path,
				"method": strings.ToUpper(verb),
			}
			if op.OperationID != "" {
				metadata["operation_id"] = op.OperationID
			}
			if op.Summary != "" {
				metadata["description"] = op.Summary
			}
			if doc.Info.Title != "" {
				metadata["api_title"] = doc.Info.Title
			}

			asset, err := p.upsertAsset(ctx, opts, fqn, contracts.ResourceAPIEndpoint,
				opts.DefaultOwnerTeamID, nil, metadata, report)
			if err != nil {
				report.OwnershipWarnings = append(report.OwnershipWarnings,
					fmt.Sprintf("%s: %v", fqn, err))
				continue
			}
			if schema := op.responseSchema(); schema != nil {
				p.publishSchema(ctx, opts, asset, schema, nil, "", report)
			}
		}
	}
	return report, nil
}

package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tessera-io/tessera/pkg/contracts"
)

// Manifest is the dbt artifact shape the pipeline consumes: models, seeds,
// snapshots and tests under nodes, plus sources.
type Manifest struct {
	Nodes   map[string]Node `json:"nodes"`
	Sources map[string]Node `json:"sources"`
}

// Node is one manifest entry. Tests carry TestMetadata (generic tests) or
// only RawSQL (singular tests).
type Node struct {
	Database     string            `json:"database"`
	Schema       string            `json:"schema"`
	Name         string            `json:"name"`
	ResourceType string            `json:"resource_type"`
	Description  string            `json:"description,omitempty"`
	Columns      map[string]Column `json:"columns,omitempty"`
	DependsOn    DependsOn         `json:"depends_on,omitempty"`
	Meta         map[string]any    `json:"meta,omitempty"`
	TestMetadata *TestMetadata     `json:"test_metadata,omitempty"`
	RawSQL       string            `json:"raw_sql,omitempty"`
}

// Column is a manifest column entry.
type Column struct {
	Name        string `json:"name,omitempty"`
	DataType    string `json:"data_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// DependsOn lists upstream node ids.
type DependsOn struct {
	Nodes []string `json:"nodes,omitempty"`
}

// TestMetadata identifies a generic dbt test and its arguments.
type TestMetadata struct {
	Name   string         `json:"name"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// FQN derives the asset name: lower(database.schema.name).
func (n Node) FQN() string {
	return strings.ToLower(fmt.Sprintf("%s.%s.%s", n.Database, n.Schema, n.Name))
}

// IsTest reports whether the node is a dbt test rather than a dataset.
func (n Node) IsTest() bool {
	return strings.EqualFold(n.ResourceType, "test")
}

// modelResourceTypes are the node kinds that become assets.
var modelResourceTypes = map[string]contracts.ResourceType{
	"model":    contracts.ResourceModel,
	"seed":     contracts.ResourceSeed,
	"snapshot": contracts.ResourceSnapshot,
	"source":   contracts.ResourceSource,
}

// MetaConsumer declares a downstream team in meta.tessera.consumers.
type MetaConsumer struct {
	Team    string `json:"team"`
	Purpose string `json:"purpose,omitempty"`
}

// MetaConfig is the recognized meta.tessera block on a node.
type MetaConfig struct {
	OwnerTeam         string               `json:"owner_team,omitempty"`
	OwnerUser         string               `json:"owner_user,omitempty"`
	CompatibilityMode string               `json:"compatibility_mode,omitempty"`
	Freshness         *contracts.Freshness `json:"freshness,omitempty"`
	Volume            *contracts.Volume    `json:"volume,omitempty"`
	Consumers         []MetaConsumer       `json:"consumers,omitempty"`
}

const metaSchemaDoc = `{
  "type": "object",
  "properties": {
    "owner_team": {"type": "string"},
    "owner_user": {"type": "string"},
    "compatibility_mode": {"enum": ["backward", "forward", "full", "none"]},
    "freshness": {
      "type": "object",
      "properties": {
        "max_staleness_minutes": {"type": "integer", "minimum": 0},
        "measured_by": {"type": "string"},
        "sla": {"type": "string"}
      }
    },
    "volume": {
      "type": "object",
      "properties": {
        "min_rows": {"type": "integer", "minimum": 0},
        "max_row_delta_pct": {"type": "integer", "minimum": 0}
      }
    },
    "consumers": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "team": {"type": "string"},
          "purpose": {"type": "string"}
        },
        "required": ["team"]
      }
    }
  }
}`

var metaSchema = jsonschema.MustCompileString("tessera-meta.json", metaSchemaDoc)

// parseMeta extracts and validates the meta.tessera block. A missing block
// yields a zero config; a malformed one is reported as an error so the
// caller can downgrade it to a warning.
func parseMeta(meta map[string]any) (MetaConfig, error) {
	var cfg MetaConfig
	raw, ok := meta["tessera"]
	if !ok || raw == nil {
		return cfg, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("meta.tessera does not serialize: %w", err)
	}
	var doc any
	if err := json.Unmarshal(buf, &doc); err != nil {
		return cfg, fmt.Errorf("meta.tessera does not parse: %w", err)
	}
	if err := metaSchema.Validate(doc); err != nil {
		return cfg, fmt.Errorf("meta.tessera is invalid: %w", err)
	}
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("meta.tessera does not decode: %w", err)
	}
	return cfg, nil
}

package ingest

import (
	"encoding/json"
	"strings"
)

// typeMap translates warehouse column types to JSON Schema types. Lookup is
// case-insensitive on the base type, with any parenthesized precision
// stripped first ("varchar(255)" → "varchar").
var typeMap = map[string]string{
	"string":            "string",
	"text":              "string",
	"varchar":           "string",
	"char":              "string",
	"character varying": "string",

	"int":      "integer",
	"integer":  "integer",
	"bigint":   "integer",
	"smallint": "integer",
	"tinyint":  "integer",
	"int32":    "integer",
	"int64":    "integer",

	"number":           "number",
	"numeric":          "number",
	"decimal":          "number",
	"float":            "number",
	"double":           "number",
	"double precision": "number",
	"real":             "number",
	"float64":          "number",

	"boolean": "boolean",
	"bool":    "boolean",

	"date":          "string",
	"datetime":      "string",
	"timestamp":     "string",
	"timestamp_ntz": "string",
	"timestamp_tz":  "string",
	"timestamp_ltz": "string",
	"time":          "string",

	"json":    "object",
	"jsonb":   "object",
	"variant": "object",
	"object":  "object",

	"array": "array",
}

// JSONType maps a warehouse data type to its JSON Schema type. Unknown
// types degrade to "string".
func JSONType(dataType string) string {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if mapped, ok := typeMap[t]; ok {
		return mapped
	}
	return "string"
}

type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type objectSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
}

// columnsToSchema converts a column mapping to a JSON Schema object
// document. Returns nil when there are no columns.
func columnsToSchema(columns map[string]Column) json.RawMessage {
	if len(columns) == 0 {
		return nil
	}
	doc := objectSchema{Type: "object", Properties: make(map[string]schemaProperty, len(columns))}
	for name, col := range columns {
		doc.Properties[strings.ToLower(name)] = schemaProperty{
			Type:        JSONType(col.DataType),
			Description: col.Description,
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil
	}
	return raw
}

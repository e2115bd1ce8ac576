// Package schemadiff computes structural diffs between two JSON-Schema-like
// documents, classifies each change, and maps changes to compatibility
// modes. All functions are pure; malformed inputs degrade to unknown types
// rather than erroring.
package schemadiff

import (
	"encoding/json"
	"reflect"
)

// Schema is the JSON-Schema-like tree the diff engine walks. Fields not in
// this shape are ignored; absent numeric constraints stay nil so presence
// can be distinguished from zero.
type Schema struct {
	Type       string             `json:"type,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Enum       []any              `json:"enum,omitempty"`
	Default    json.RawMessage    `json:"default,omitempty"`
	Nullable   *bool              `json:"nullable,omitempty"`
	Items      *Schema            `json:"items,omitempty"`

	MinLength        *float64 `json:"minLength,omitempty"`
	MaxLength        *float64 `json:"maxLength,omitempty"`
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`
	MinItems         *float64 `json:"minItems,omitempty"`
	MaxItems         *float64 `json:"maxItems,omitempty"`
	Pattern          *string  `json:"pattern,omitempty"`
}

// Parse decodes a raw schema document. A nil or empty document parses to an
// empty schema; decode errors are returned so callers can reject garbage.
func Parse(raw json.RawMessage) (*Schema, error) {
	s := &Schema{}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}

// hasDefault distinguishes "default": null from no default at all.
func (s *Schema) hasDefault() bool {
	return len(s.Default) > 0
}

// jsonEqual compares two JSON fragments by value, not byte layout.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return string(a) == string(b)
	}
	return reflect.DeepEqual(av, bv)
}

// enumKey renders an enum member into a comparable key.
func enumKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "?"
	}
	return string(b)
}

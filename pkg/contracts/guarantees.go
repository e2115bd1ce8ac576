package contracts

import "encoding/json"

// Freshness bounds how stale a dataset may be.
type Freshness struct {
	MaxStalenessMinutes int    `json:"max_staleness_minutes"`
	MeasuredBy          string `json:"measured_by,omitempty"`
	SLA                 string `json:"sla,omitempty"`
}

// Volume bounds row counts and day-over-day drift.
type Volume struct {
	MinRows        int `json:"min_rows,omitempty"`
	MaxRowDeltaPct int `json:"max_row_delta_pct,omitempty"`
}

// Nullability levels per column.
const (
	NullNever     = "never"
	NullSometimes = "sometimes"
	NullAlways    = "always"
)

// CustomGuarantee carries a test the fixed vocabulary cannot express.
// Singular dbt tests additionally store their SQL.
type CustomGuarantee struct {
	Type        string         `json:"type"`
	Column      string         `json:"column,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	SQL         string         `json:"sql,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// Guarantees is the assertion set attached to a contract. Unknown top-level
// keys survive a decode/encode round trip verbatim.
type Guarantees struct {
	Freshness      *Freshness         `json:"freshness,omitempty"`
	Volume         *Volume            `json:"volume,omitempty"`
	Nullability    map[string]string  `json:"nullability,omitempty"`
	AcceptedValues map[string][]any   `json:"accepted_values,omitempty"`
	Custom         []CustomGuarantee  `json:"custom,omitempty"`
	Extra          map[string]json.RawMessage `json:"-"`
}

var guaranteeKnownKeys = map[string]bool{
	"freshness":       true,
	"volume":          true,
	"nullability":     true,
	"accepted_values": true,
	"custom":          true,
}

// Empty reports whether g carries no assertions at all.
func (g *Guarantees) Empty() bool {
	if g == nil {
		return true
	}
	return g.Freshness == nil && g.Volume == nil && len(g.Nullability) == 0 &&
		len(g.AcceptedValues) == 0 && len(g.Custom) == 0 && len(g.Extra) == 0
}

type guaranteesAlias struct {
	Freshness      *Freshness        `json:"freshness,omitempty"`
	Volume         *Volume           `json:"volume,omitempty"`
	Nullability    map[string]string `json:"nullability,omitempty"`
	AcceptedValues map[string][]any  `json:"accepted_values,omitempty"`
	Custom         []CustomGuarantee `json:"custom,omitempty"`
}

// UnmarshalJSON decodes the recognized keys and stashes everything else.
func (g *Guarantees) UnmarshalJSON(data []byte) error {
	var a guaranteesAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.Freshness = a.Freshness
	g.Volume = a.Volume
	g.Nullability = a.Nullability
	g.AcceptedValues = a.AcceptedValues
	g.Custom = a.Custom
	g.Extra = nil
	for k, v := range raw {
		if !guaranteeKnownKeys[k] {
			if g.Extra == nil {
				g.Extra = map[string]json.RawMessage{}
			}
			g.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON re-emits recognized keys plus any preserved unknown keys.
func (g Guarantees) MarshalJSON() ([]byte, error) {
	a := guaranteesAlias{
		Freshness:      g.Freshness,
		Volume:         g.Volume,
		Nullability:    g.Nullability,
		AcceptedValues: g.AcceptedValues,
		Custom:         g.Custom,
	}
	base, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	if len(g.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = map[string]json.RawMessage{}
	}
	for k, v := range g.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

package ingest

import (
	"strings"

	"github.com/tessera-io/tessera/pkg/contracts"
)

// testsByTarget groups test nodes by the dataset node they exercise. A test
// depending on several nodes counts against each of them.
func testsByTarget(m Manifest) map[string][]Node {
	targets := map[string][]Node{}
	for _, node := range m.Nodes {
		if !node.IsTest() {
			continue
		}
		for _, dep := range node.DependsOn.Nodes {
			targets[dep] = append(targets[dep], node)
		}
	}
	return targets
}

func kwargString(kwargs map[string]any, key string) string {
	if kwargs == nil {
		return ""
	}
	s, _ := kwargs[key].(string)
	return s
}

// extractGuarantees translates the tests attached to a node, plus its
// meta.tessera freshness and volume blocks, into a guarantees object.
// Returns nil when nothing was extracted, and the number of extracted
// entries either way.
func extractGuarantees(tests []Node, meta MetaConfig) (*contracts.Guarantees, int) {
	g := &contracts.Guarantees{}
	extracted := 0

	for _, test := range tests {
		tm := test.TestMetadata
		if tm == nil {
			// Singular test: keep its SQL so auditors can re-run it.
			g.Custom = append(g.Custom, contracts.CustomGuarantee{
				Type: "singular",
				Name: test.Name,
				SQL:  test.RawSQL,
			})
			extracted++
			continue
		}
		column := strings.ToLower(kwargString(tm.Kwargs, "column_name"))
		switch tm.Name {
		case "not_null":
			if column == "" {
				continue
			}
			if g.Nullability == nil {
				g.Nullability = map[string]string{}
			}
			g.Nullability[column] = contracts.NullNever
			extracted++
		case "accepted_values":
			if column == "" {
				continue
			}
			values, _ := tm.Kwargs["values"].([]any)
			if g.AcceptedValues == nil {
				g.AcceptedValues = map[string][]any{}
			}
			g.AcceptedValues[column] = values
			extracted++
		default:
			// unique, relationships, namespaced generic tests
			// (dbt_utils.*, dbt_expectations.*) and anything else the
			// fixed vocabulary cannot express.
			g.Custom = append(g.Custom, contracts.CustomGuarantee{
				Type:   tm.Name,
				Column: column,
				Name:   test.Name,
				Config: tm.Kwargs,
			})
			extracted++
		}
	}

	if meta.Freshness != nil {
		g.Freshness = meta.Freshness
		extracted++
	}
	if meta.Volume != nil {
		g.Volume = meta.Volume
		extracted++
	}

	if g.Empty() {
		return nil, 0
	}
	return g, extracted
}

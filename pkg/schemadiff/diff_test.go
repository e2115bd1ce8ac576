package schemadiff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, doc string) *Schema {
	t.Helper()
	s, err := Parse(json.RawMessage(doc))
	require.NoError(t, err)
	return s
}

const ordersV1 = `{
	"type": "object",
	"properties": {
		"id": {"type": "integer"},
		"total": {"type": "number"}
	},
	"required": ["id"]
}`

func TestDiffIdentical(t *testing.T) {
	s := mustParse(t, ordersV1)
	res := Diff(s, s)
	assert.Empty(t, res.Changes)
	assert.Equal(t, ClassPatch, res.Classification)
}

func TestDiffPropertyRemoved(t *testing.T) {
	oldS := mustParse(t, ordersV1)
	newS := mustParse(t, `{
		"type": "object",
		"properties": {"id": {"type": "integer"}},
		"required": ["id"]
	}`)

	res := Diff(oldS, newS)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, PropertyRemoved, res.Changes[0].Kind)
	assert.Equal(t, "properties.total", res.Changes[0].Path)
	assert.Equal(t, ClassMajor, res.Classification)
}

func TestDiffPropertyAddedIsMinor(t *testing.T) {
	oldS := mustParse(t, ordersV1)
	newS := mustParse(t, `{
		"type": "object",
		"properties": {
			"id": {"type": "integer"},
			"total": {"type": "number"},
			"created_at": {"type": "string"}
		},
		"required": ["id"]
	}`)

	res := Diff(oldS, newS)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, PropertyAdded, res.Changes[0].Kind)
	assert.Equal(t, "properties.created_at", res.Changes[0].Path)
	assert.Equal(t, ClassMinor, res.Classification)
	assert.True(t, Compatible(res.Changes, ModeBackward))
	assert.False(t, Compatible(res.Changes, ModeForward))
}

func TestDiffTypeWidenedAndNarrowed(t *testing.T) {
	intS := mustParse(t, `{"type":"object","properties":{"v":{"type":"integer"}}}`)
	numS := mustParse(t, `{"type":"object","properties":{"v":{"type":"number"}}}`)

	widened := Diff(intS, numS)
	require.Len(t, widened.Changes, 1)
	assert.Equal(t, TypeWidened, widened.Changes[0].Kind)
	assert.True(t, Compatible(widened.Changes, ModeBackward))
	assert.False(t, Compatible(widened.Changes, ModeForward))

	narrowed := Diff(numS, intS)
	require.Len(t, narrowed.Changes, 1)
	assert.Equal(t, TypeNarrowed, narrowed.Changes[0].Kind)
	assert.Equal(t, ClassMajor, narrowed.Classification)
}

func TestDiffTypeChanged(t *testing.T) {
	oldS := mustParse(t, `{"type":"object","properties":{"v":{"type":"string"}}}`)
	newS := mustParse(t, `{"type":"object","properties":{"v":{"type":"boolean"}}}`)

	res := Diff(oldS, newS)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, TypeChanged, res.Changes[0].Kind)
	assert.Equal(t, "properties.v.type", res.Changes[0].Path)
	assert.True(t, Compatible(res.Changes, ModeNone), "none mode never breaks")
}

func TestDiffRequired(t *testing.T) {
	oldS := mustParse(t, `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"string"}},"required":["a"]}`)
	newS := mustParse(t, `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"string"}},"required":["b"]}`)

	res := Diff(oldS, newS)
	require.Len(t, res.Changes, 2)
	assert.Equal(t, RequiredAdded, res.Changes[0].Kind)
	assert.Equal(t, "b", res.Changes[0].NewValue)
	assert.Equal(t, RequiredRemoved, res.Changes[1].Kind)
	assert.Equal(t, "a", res.Changes[1].OldValue)
	assert.Equal(t, ClassMajor, res.Classification)
}

func TestDiffConstraints(t *testing.T) {
	tcs := []struct {
		name     string
		oldDoc   string
		newDoc   string
		wantKind Kind
	}{
		{"maxLength increased relaxes", `{"type":"string","maxLength":10}`, `{"type":"string","maxLength":20}`, ConstraintRelaxed},
		{"maxLength decreased tightens", `{"type":"string","maxLength":20}`, `{"type":"string","maxLength":10}`, ConstraintTightened},
		{"minimum increased tightens", `{"type":"integer","minimum":0}`, `{"type":"integer","minimum":5}`, ConstraintTightened},
		{"minimum decreased relaxes", `{"type":"integer","minimum":5}`, `{"type":"integer","minimum":0}`, ConstraintRelaxed},
		{"constraint added tightens", `{"type":"string"}`, `{"type":"string","minLength":1}`, ConstraintTightened},
		{"constraint removed relaxes", `{"type":"string","minLength":1}`, `{"type":"string"}`, ConstraintRelaxed},
		{"pattern change always tightens", `{"type":"string","pattern":"^a"}`, `{"type":"string","pattern":"^b"}`, ConstraintTightened},
		{"exclusiveMaximum increased relaxes", `{"type":"number","exclusiveMaximum":10}`, `{"type":"number","exclusiveMaximum":100}`, ConstraintRelaxed},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			res := Diff(mustParse(t, tc.oldDoc), mustParse(t, tc.newDoc))
			require.Len(t, res.Changes, 1)
			assert.Equal(t, tc.wantKind, res.Changes[0].Kind)
		})
	}
}

func TestDiffEnum(t *testing.T) {
	oldS := mustParse(t, `{"type":"string","enum":["a","b"]}`)
	newS := mustParse(t, `{"type":"string","enum":["b","c"]}`)

	res := Diff(oldS, newS)
	require.Len(t, res.Changes, 2)
	assert.Equal(t, EnumValuesAdded, res.Changes[0].Kind)
	assert.Equal(t, EnumValuesRemoved, res.Changes[1].Kind)
	assert.Equal(t, ClassMajor, res.Classification)
}

func TestDiffDefault(t *testing.T) {
	none := mustParse(t, `{"type":"string"}`)
	withA := mustParse(t, `{"type":"string","default":"a"}`)
	withB := mustParse(t, `{"type":"string","default":"b"}`)

	added := Diff(none, withA)
	require.Len(t, added.Changes, 1)
	assert.Equal(t, DefaultAdded, added.Changes[0].Kind)
	assert.Equal(t, ClassMinor, added.Classification)

	removed := Diff(withA, none)
	require.Len(t, removed.Changes, 1)
	assert.Equal(t, DefaultRemoved, removed.Changes[0].Kind)

	changed := Diff(withA, withB)
	require.Len(t, changed.Changes, 1)
	assert.Equal(t, DefaultChanged, changed.Changes[0].Kind)
	assert.Equal(t, ClassPatch, changed.Classification)
}

func TestDiffNullable(t *testing.T) {
	plain := mustParse(t, `{"type":"string"}`)
	nullable := mustParse(t, `{"type":"string","nullable":true}`)

	added := Diff(plain, nullable)
	require.Len(t, added.Changes, 1)
	assert.Equal(t, NullableAdded, added.Changes[0].Kind)

	removed := Diff(nullable, plain)
	require.Len(t, removed.Changes, 1)
	assert.Equal(t, NullableRemoved, removed.Changes[0].Kind)
	assert.Equal(t, ClassMajor, removed.Classification)
}

func TestDiffArrayItemsRecursion(t *testing.T) {
	oldS := mustParse(t, `{"type":"array","items":{"type":"object","properties":{"x":{"type":"integer"}}}}`)
	newS := mustParse(t, `{"type":"array","items":{"type":"object","properties":{"x":{"type":"string"}}}}`)

	res := Diff(oldS, newS)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, TypeChanged, res.Changes[0].Kind)
	assert.Equal(t, "items.properties.x.type", res.Changes[0].Path)
}

func TestDiffNestedObject(t *testing.T) {
	oldS := mustParse(t, `{"type":"object","properties":{"addr":{"type":"object","properties":{"zip":{"type":"string"}}}}}`)
	newS := mustParse(t, `{"type":"object","properties":{"addr":{"type":"object","properties":{}}}}`)

	res := Diff(oldS, newS)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, PropertyRemoved, res.Changes[0].Kind)
	assert.Equal(t, "properties.addr.properties.zip", res.Changes[0].Path)
}

func TestDiffUnknownTypes(t *testing.T) {
	oldS := mustParse(t, `{"type":"frobnicator"}`)
	newS := mustParse(t, `{"type":"widget"}`)

	res := Diff(oldS, newS)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, TypeChanged, res.Changes[0].Kind)
}

func TestBreakingUnderUnknownModeIsConservative(t *testing.T) {
	res := Diff(mustParse(t, `{"type":"object","properties":{"a":{"type":"string"}}}`),
		mustParse(t, `{"type":"object","properties":{"a":{"type":"string"},"b":{"type":"string"}}}`))
	assert.NotEmpty(t, BreakingUnder(res.Changes, Mode("bogus")))
}

func TestDiffDocumentsGarbageTolerant(t *testing.T) {
	res := DiffDocuments(json.RawMessage(`not json`), json.RawMessage(ordersV1))
	// Empty old schema vs a real document: added properties plus a type
	// change and a new required entry, which is major.
	assert.Equal(t, ClassMajor, res.Classification)
	assert.NotEmpty(t, res.Changes)
}

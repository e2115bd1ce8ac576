package schemadiff

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind labels one category of schema change.
type Kind string

const (
	PropertyAdded      Kind = "property_added"
	PropertyRemoved    Kind = "property_removed"
	PropertyRenamed    Kind = "property_renamed" // reserved for rename heuristics
	TypeChanged        Kind = "type_changed"
	TypeWidened        Kind = "type_widened"
	TypeNarrowed       Kind = "type_narrowed"
	RequiredAdded      Kind = "required_added"
	RequiredRemoved    Kind = "required_removed"
	EnumValuesAdded    Kind = "enum_values_added"
	EnumValuesRemoved  Kind = "enum_values_removed"
	ConstraintTightened Kind = "constraint_tightened"
	ConstraintRelaxed  Kind = "constraint_relaxed"
	DefaultAdded       Kind = "default_added"
	DefaultRemoved     Kind = "default_removed"
	DefaultChanged     Kind = "default_changed"
	NullableAdded      Kind = "nullable_added"
	NullableRemoved    Kind = "nullable_removed"
)

// Change is one diff entry.
type Change struct {
	Kind     Kind   `json:"kind"`
	Path     string `json:"path"`
	Message  string `json:"message"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
}

// Classification is the overall severity of a diff.
type Classification string

const (
	ClassPatch Classification = "patch"
	ClassMinor Classification = "minor"
	ClassMajor Classification = "major"
)

// Result is the full output of a diff.
type Result struct {
	Changes        []Change       `json:"changes"`
	Classification Classification `json:"classification"`
}

// Diff walks old and new and returns every structural change, ordered
// deterministically (sorted keys at each level), plus the classification.
func Diff(oldSchema, newSchema *Schema) Result {
	changes := diffNode(oldSchema, newSchema, "")
	return Result{Changes: changes, Classification: Classify(changes)}
}

// DiffDocuments is Diff over raw JSON documents. Undecodable documents are
// treated as empty schemas (unknown type).
func DiffDocuments(oldDoc, newDoc json.RawMessage) Result {
	oldS, err := Parse(oldDoc)
	if err != nil {
		oldS = &Schema{}
	}
	newS, err := Parse(newDoc)
	if err != nil {
		newS = &Schema{}
	}
	return Diff(oldS, newS)
}

// Classify applies the fixed severity rule: any backward-breaking change is
// major; otherwise any addition is minor; otherwise patch.
func Classify(changes []Change) Classification {
	if len(changes) == 0 {
		return ClassPatch
	}
	backward := breakingKinds[string(ModeBackward)]
	minor := false
	for _, c := range changes {
		if backward[c.Kind] {
			return ClassMajor
		}
		switch c.Kind {
		case PropertyAdded, EnumValuesAdded, NullableAdded, DefaultAdded:
			minor = true
		}
	}
	if minor {
		return ClassMinor
	}
	return ClassPatch
}

func joinPath(prefix, leaf string) string {
	if prefix == "" {
		return leaf
	}
	return prefix + "." + leaf
}

func diffNode(oldS, newS *Schema, prefix string) []Change {
	if oldS == nil {
		oldS = &Schema{}
	}
	if newS == nil {
		newS = &Schema{}
	}

	var changes []Change
	changes = append(changes, diffProperties(oldS, newS, prefix)...)
	changes = append(changes, diffRequired(oldS, newS, prefix)...)
	changes = append(changes, diffType(oldS, newS, prefix)...)
	changes = append(changes, diffConstraints(oldS, newS, prefix)...)
	changes = append(changes, diffEnum(oldS, newS, prefix)...)
	changes = append(changes, diffDefault(oldS, newS, prefix)...)
	changes = append(changes, diffNullable(oldS, newS, prefix)...)

	if oldS.Type == "array" && newS.Type == "array" && (oldS.Items != nil || newS.Items != nil) {
		changes = append(changes, diffNode(oldS.Items, newS.Items, joinPath(prefix, "items"))...)
	}
	return changes
}

func diffProperties(oldS, newS *Schema, prefix string) []Change {
	var changes []Change
	names := map[string]bool{}
	for n := range oldS.Properties {
		names[n] = true
	}
	for n := range newS.Properties {
		names[n] = true
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		path := joinPath(prefix, "properties."+name)
		oldProp, inOld := oldS.Properties[name]
		newProp, inNew := newS.Properties[name]
		switch {
		case inOld && !inNew:
			changes = append(changes, Change{
				Kind:     PropertyRemoved,
				Path:     path,
				Message:  fmt.Sprintf("property %q removed", name),
				OldValue: oldProp.Type,
			})
		case !inOld && inNew:
			changes = append(changes, Change{
				Kind:     PropertyAdded,
				Path:     path,
				Message:  fmt.Sprintf("property %q added", name),
				NewValue: newProp.Type,
			})
		default:
			changes = append(changes, diffNode(oldProp, newProp, path)...)
		}
	}
	return changes
}

func diffRequired(oldS, newS *Schema, prefix string) []Change {
	oldReq := map[string]bool{}
	for _, n := range oldS.Required {
		oldReq[n] = true
	}
	newReq := map[string]bool{}
	for _, n := range newS.Required {
		newReq[n] = true
	}

	var added, removed []string
	for n := range newReq {
		if !oldReq[n] {
			added = append(added, n)
		}
	}
	for n := range oldReq {
		if !newReq[n] {
			removed = append(removed, n)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	path := joinPath(prefix, "required")
	var changes []Change
	for _, n := range added {
		changes = append(changes, Change{
			Kind:     RequiredAdded,
			Path:     path,
			Message:  fmt.Sprintf("property %q is now required", n),
			NewValue: n,
		})
	}
	for _, n := range removed {
		changes = append(changes, Change{
			Kind:     RequiredRemoved,
			Path:     path,
			Message:  fmt.Sprintf("property %q is no longer required", n),
			OldValue: n,
		})
	}
	return changes
}

// wideningPairs lists type transitions that lose no information.
var wideningPairs = map[[2]string]bool{
	{"integer", "number"}: true,
}

func diffType(oldS, newS *Schema, prefix string) []Change {
	if oldS.Type == newS.Type {
		return nil
	}
	path := joinPath(prefix, "type")
	base := Change{Path: path, OldValue: oldS.Type, NewValue: newS.Type}
	switch {
	case wideningPairs[[2]string{oldS.Type, newS.Type}]:
		base.Kind = TypeWidened
		base.Message = fmt.Sprintf("type widened from %s to %s", oldS.Type, newS.Type)
	case wideningPairs[[2]string{newS.Type, oldS.Type}]:
		base.Kind = TypeNarrowed
		base.Message = fmt.Sprintf("type narrowed from %s to %s", oldS.Type, newS.Type)
	default:
		base.Kind = TypeChanged
		base.Message = fmt.Sprintf("type changed from %q to %q", oldS.Type, newS.Type)
	}
	return []Change{base}
}

// Constraint directionality: for the relax-on-increase set a larger value
// admits more documents; for relax-on-decrease a smaller one does.
type constraintDef struct {
	name            string
	relaxOnIncrease bool
	get             func(*Schema) *float64
}

var numericConstraints = []constraintDef{
	{"maxLength", true, func(s *Schema) *float64 { return s.MaxLength }},
	{"maxItems", true, func(s *Schema) *float64 { return s.MaxItems }},
	{"maximum", true, func(s *Schema) *float64 { return s.Maximum }},
	{"exclusiveMaximum", true, func(s *Schema) *float64 { return s.ExclusiveMaximum }},
	{"minLength", false, func(s *Schema) *float64 { return s.MinLength }},
	{"minItems", false, func(s *Schema) *float64 { return s.MinItems }},
	{"minimum", false, func(s *Schema) *float64 { return s.Minimum }},
	{"exclusiveMinimum", false, func(s *Schema) *float64 { return s.ExclusiveMinimum }},
}

func diffConstraints(oldS, newS *Schema, prefix string) []Change {
	var changes []Change
	for _, def := range numericConstraints {
		oldV, newV := def.get(oldS), def.get(newS)
		path := joinPath(prefix, def.name)
		switch {
		case oldV == nil && newV == nil:
		case oldV == nil:
			changes = append(changes, Change{
				Kind: ConstraintTightened, Path: path,
				Message:  fmt.Sprintf("constraint %s added", def.name),
				NewValue: *newV,
			})
		case newV == nil:
			changes = append(changes, Change{
				Kind: ConstraintRelaxed, Path: path,
				Message:  fmt.Sprintf("constraint %s removed", def.name),
				OldValue: *oldV,
			})
		case *oldV != *newV:
			relaxed := (*newV > *oldV) == def.relaxOnIncrease
			kind, verb := ConstraintTightened, "tightened"
			if relaxed {
				kind, verb = ConstraintRelaxed, "relaxed"
			}
			changes = append(changes, Change{
				Kind: kind, Path: path,
				Message:  fmt.Sprintf("constraint %s %s from %v to %v", def.name, verb, *oldV, *newV),
				OldValue: *oldV, NewValue: *newV,
			})
		}
	}

	// A pattern change cannot be compared for strictness, so any change is
	// treated as tightening; removal relaxes.
	oldP, newP := oldS.Pattern, newS.Pattern
	path := joinPath(prefix, "pattern")
	switch {
	case oldP == nil && newP == nil:
	case oldP == nil:
		changes = append(changes, Change{
			Kind: ConstraintTightened, Path: path,
			Message: "constraint pattern added", NewValue: *newP,
		})
	case newP == nil:
		changes = append(changes, Change{
			Kind: ConstraintRelaxed, Path: path,
			Message: "constraint pattern removed", OldValue: *oldP,
		})
	case *oldP != *newP:
		changes = append(changes, Change{
			Kind: ConstraintTightened, Path: path,
			Message:  "constraint pattern changed",
			OldValue: *oldP, NewValue: *newP,
		})
	}
	return changes
}

func diffEnum(oldS, newS *Schema, prefix string) []Change {
	if oldS.Enum == nil && newS.Enum == nil {
		return nil
	}
	oldSet := map[string]any{}
	for _, v := range oldS.Enum {
		oldSet[enumKey(v)] = v
	}
	newSet := map[string]any{}
	for _, v := range newS.Enum {
		newSet[enumKey(v)] = v
	}

	var addedKeys, removedKeys []string
	for k := range newSet {
		if _, ok := oldSet[k]; !ok {
			addedKeys = append(addedKeys, k)
		}
	}
	for k := range oldSet {
		if _, ok := newSet[k]; !ok {
			removedKeys = append(removedKeys, k)
		}
	}
	sort.Strings(addedKeys)
	sort.Strings(removedKeys)

	path := joinPath(prefix, "enum")
	var changes []Change
	if len(addedKeys) > 0 {
		added := make([]any, 0, len(addedKeys))
		for _, k := range addedKeys {
			added = append(added, newSet[k])
		}
		changes = append(changes, Change{
			Kind: EnumValuesAdded, Path: path,
			Message:  fmt.Sprintf("%d enum value(s) added", len(added)),
			NewValue: added,
		})
	}
	if len(removedKeys) > 0 {
		removed := make([]any, 0, len(removedKeys))
		for _, k := range removedKeys {
			removed = append(removed, oldSet[k])
		}
		changes = append(changes, Change{
			Kind: EnumValuesRemoved, Path: path,
			Message:  fmt.Sprintf("%d enum value(s) removed", len(removed)),
			OldValue: removed,
		})
	}
	return changes
}

func diffDefault(oldS, newS *Schema, prefix string) []Change {
	path := joinPath(prefix, "default")
	switch {
	case !oldS.hasDefault() && !newS.hasDefault():
		return nil
	case !oldS.hasDefault():
		return []Change{{
			Kind: DefaultAdded, Path: path,
			Message: "default value added", NewValue: rawAny(newS.Default),
		}}
	case !newS.hasDefault():
		return []Change{{
			Kind: DefaultRemoved, Path: path,
			Message: "default value removed", OldValue: rawAny(oldS.Default),
		}}
	case !jsonEqual(oldS.Default, newS.Default):
		return []Change{{
			Kind: DefaultChanged, Path: path,
			Message:  "default value changed",
			OldValue: rawAny(oldS.Default), NewValue: rawAny(newS.Default),
		}}
	}
	return nil
}

func diffNullable(oldS, newS *Schema, prefix string) []Change {
	oldN := oldS.Nullable != nil && *oldS.Nullable
	newN := newS.Nullable != nil && *newS.Nullable
	if oldN == newN {
		return nil
	}
	path := joinPath(prefix, "nullable")
	if newN {
		return []Change{{
			Kind: NullableAdded, Path: path,
			Message: "field is now nullable", OldValue: oldN, NewValue: newN,
		}}
	}
	return []Change{{
		Kind: NullableRemoved, Path: path,
		Message: "field is no longer nullable", OldValue: oldN, NewValue: newN,
	}}
}

func rawAny(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

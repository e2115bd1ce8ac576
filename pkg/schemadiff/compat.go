package schemadiff

// Mode mirrors the contract compatibility modes. Kept as a local string
// type so this package stays dependency-free.
type Mode string

const (
	ModeBackward Mode = "backward"
	ModeForward  Mode = "forward"
	ModeFull     Mode = "full"
	ModeNone     Mode = "none"
)

// breakingKinds is the fixed mode → breaking-kind-set mapping.
var breakingKinds = map[string]map[Kind]bool{
	string(ModeBackward): {
		PropertyRemoved:     true,
		PropertyRenamed:     true,
		TypeChanged:         true,
		TypeNarrowed:        true,
		RequiredAdded:       true,
		EnumValuesRemoved:   true,
		ConstraintTightened: true,
		DefaultRemoved:      true,
		NullableRemoved:     true,
	},
	string(ModeForward): {
		PropertyAdded:     true,
		PropertyRenamed:   true,
		TypeChanged:       true,
		TypeWidened:       true,
		RequiredRemoved:   true,
		EnumValuesAdded:   true,
		ConstraintRelaxed: true,
		DefaultAdded:      true,
		NullableAdded:     true,
	},
}

func init() {
	full := map[Kind]bool{}
	for k := range breakingKinds[string(ModeBackward)] {
		full[k] = true
	}
	for k := range breakingKinds[string(ModeForward)] {
		full[k] = true
	}
	breakingKinds[string(ModeFull)] = full
	breakingKinds[string(ModeNone)] = map[Kind]bool{}
}

// BreakingUnder filters changes down to those breaking under the mode.
// Unknown modes behave like full (conservative).
func BreakingUnder(changes []Change, mode Mode) []Change {
	set, ok := breakingKinds[string(mode)]
	if !ok {
		set = breakingKinds[string(ModeFull)]
	}
	var breaking []Change
	for _, c := range changes {
		if set[c.Kind] {
			breaking = append(breaking, c)
		}
	}
	return breaking
}

// Compatible reports whether the diff carries no breaking change under mode.
func Compatible(changes []Change, mode Mode) bool {
	return len(BreakingUnder(changes, mode)) == 0
}

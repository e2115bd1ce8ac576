// Package versioning implements contract version ordering. Versions are
// semver (major.minor.patch); prerelease and build suffixes are stripped
// before numeric comparison. Non-semver versions support equality only.
package versioning

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Initial versions the ingest pipeline assigns.
const (
	FirstVersion    = "1.0.0"
	BreakingVersion = "2.0.0"
)

// parseNumeric parses v and drops prerelease/build metadata so ordering is
// purely numeric.
func parseNumeric(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("not a semver version: %q", v)
	}
	core := semver.New(parsed.Major(), parsed.Minor(), parsed.Patch(), "", "")
	return core, nil
}

// IsSemver reports whether v parses as a semantic version.
func IsSemver(v string) bool {
	_, err := semver.NewVersion(v)
	return err == nil
}

// Greater reports whether newV is strictly greater than oldV. When both
// parse as semver the comparison is numeric. Otherwise only equality is
// decidable: equal strings are never greater; distinct strings pass, since
// the producer is the only party that can order them.
func Greater(newV, oldV string) bool {
	nv, nerr := parseNumeric(newV)
	ov, oerr := parseNumeric(oldV)
	if nerr == nil && oerr == nil {
		return nv.GreaterThan(ov)
	}
	return newV != oldV
}

// Compare returns -1, 0 or 1 for semver pairs; for non-semver input it
// mirrors Greater: 0 when equal, 1 otherwise.
func Compare(a, b string) int {
	av, aerr := parseNumeric(a)
	bv, berr := parseNumeric(b)
	if aerr == nil && berr == nil {
		return av.Compare(bv)
	}
	if a == b {
		return 0
	}
	return 1
}

// BumpMinor returns v with minor incremented and patch reset
// (1.2.0 → 1.3.0). Non-semver versions cannot be bumped.
func BumpMinor(v string) (string, error) {
	parsed, err := parseNumeric(v)
	if err != nil {
		return "", err
	}
	next := parsed.IncMinor()
	return next.String(), nil
}

// BumpMajor returns v with major incremented and minor/patch reset
// (1.2.3 → 2.0.0).
func BumpMajor(v string) (string, error) {
	parsed, err := parseNumeric(v)
	if err != nil {
		return "", err
	}
	next := parsed.IncMajor()
	return next.String(), nil
}

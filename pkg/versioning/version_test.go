package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreaterSemver(t *testing.T) {
	assert.True(t, Greater("1.1.0", "1.0.0"))
	assert.True(t, Greater("2.0.0", "1.9.9"))
	assert.False(t, Greater("1.0.0", "1.0.0"))
	assert.False(t, Greater("0.9.0", "1.0.0"))
}

func TestGreaterStripsPrerelease(t *testing.T) {
	// 2.0.0-rc.1 numerically equals 2.0.0 once the suffix is stripped.
	assert.False(t, Greater("2.0.0-rc.1", "2.0.0"))
	assert.True(t, Greater("2.0.1-rc.1", "2.0.0"))
	assert.True(t, Greater("2.0.0+build.5", "1.9.0"))
}

func TestGreaterNonSemver(t *testing.T) {
	assert.False(t, Greater("release-a", "release-a"))
	assert.True(t, Greater("release-b", "release-a"))
	assert.True(t, Greater("v-next", "1.0.0"))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare("1.0.0", "1.2.0"))
	assert.Equal(t, 0, Compare("1.2.0", "1.2.0"))
	assert.Equal(t, 1, Compare("1.3.0", "1.2.9"))
	assert.Equal(t, 0, Compare("snapshot", "snapshot"))
	assert.Equal(t, 1, Compare("snapshot-2", "snapshot-1"))
}

func TestBumpMinor(t *testing.T) {
	next, err := BumpMinor("1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", next)

	next, err = BumpMinor("1.2.7")
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", next)

	_, err = BumpMinor("not-a-version")
	assert.Error(t, err)
}

func TestIsSemver(t *testing.T) {
	assert.True(t, IsSemver("1.0.0"))
	assert.True(t, IsSemver("v1.0.0"))
	assert.False(t, IsSemver("latest"))
}

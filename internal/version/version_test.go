package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveReleaseBuild(t *testing.T) {
	t.Parallel()

	info := resolve("v1.4.0", "0123456789abcdef", "2026-01-02", nil)
	require.Equal(t, "1.4.0", info.Version)
	require.Equal(t, "1.4.0+0123456", info.String())
}

func TestResolveFallsBackToBuildInfo(t *testing.T) {
	t.Parallel()

	bi := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.revision", Value: "fedcba9876543210"},
		{Key: "vcs.time", Value: "2026-03-04T05:06:07Z"},
		{Key: "vcs.modified", Value: "true"},
	}}

	info := resolve("0.1.0", "", "", bi)
	require.Equal(t, "fedcba9876543210", info.Commit)
	require.Equal(t, "2026-03-04T05:06:07Z", info.Date)
	require.Equal(t, "0.1.0+fedcba9.dirty", info.String())
}

func TestResolveEmptyVersion(t *testing.T) {
	t.Parallel()

	info := resolve("", "", "", nil)
	require.Equal(t, "0.0.0", info.String())
}

func TestReleaseCommitWinsOverBuildInfo(t *testing.T) {
	t.Parallel()

	bi := &debug.BuildInfo{Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "ffffffffffff"}}}
	info := resolve("2.0.0", "aaaaaaa", "", bi)
	require.Equal(t, "aaaaaaa", info.Commit)
}

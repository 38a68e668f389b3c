package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestShortAndFull verifies the version strings include the build metadata.
func TestShortAndFull(t *testing.T) {
	t.Parallel()

	require.Equal(t, Version, Short())
	require.Contains(t, Full(), Version)
	require.Contains(t, Full(), Commit)
	require.Contains(t, Full(), BuildTime)
}

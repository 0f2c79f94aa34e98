package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCanonicalSize(t *testing.T) {
	got, ok := GetCanonicalSize("1,5 GB", 1024)
	require.True(t, ok)
	assert.InDelta(t, 1536.0, got, 0.01)

	got, ok = GetCanonicalSize("1000000 bytes", 0)
	require.True(t, ok)
	assert.InDelta(t, 1.0, got, 0.001)

	got, ok = GetCanonicalSize("512MB", 0)
	require.True(t, ok)
	assert.InDelta(t, 512.0, got, 0.001)

	_, ok = GetCanonicalSize("12 parsecs", 0)
	assert.False(t, ok, "unknown unit yields no value")
}

func TestGetCanonicalMemory(t *testing.T) {
	got, ok := GetCanonicalMemory("2 GB")
	require.True(t, ok)
	assert.InDelta(t, 2048.0, got, 0.001)
}

func TestNumericMac(t *testing.T) {
	n, ok := NumericMac("ff:ff:ff:ff:ff:ff")
	require.True(t, ok)
	assert.Equal(t, uint64(1)<<48-1, n)

	n, ok = NumericMac("00:00:00:00:00:01")
	require.True(t, ok)
	assert.Equal(t, uint64(1), n)

	_, ok = NumericMac("not-a-mac")
	assert.False(t, ok)
}

func TestPreferredPrimaryMac(t *testing.T) {
	// Adjacent addresses: the lower number is the physical port.
	assert.Equal(t, "00:11:22:33:44:55", PreferredPrimaryMac("00:11:22:33:44:56", "00:11:22:33:44:55"))
	assert.Equal(t, "00:11:22:33:44:55", PreferredPrimaryMac("00:11:22:33:44:55", "00:11:22:33:44:56"))
	// Non-adjacent: first candidate stands.
	assert.Equal(t, "00:11:22:33:44:55", PreferredPrimaryMac("00:11:22:33:44:55", "aa:bb:cc:dd:ee:ff"))
}

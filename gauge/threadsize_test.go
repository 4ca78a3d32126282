package gauge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalThreadSize_Fractional validates fractional input conversion.
func TestCanonicalThreadSize_Fractional(t *testing.T) {
	got, err := CanonicalThreadSize("1/4-20")
	require.NoError(t, err)
	assert.Equal(t, ".250-20", got)

	got, err = CanonicalThreadSize("1/2-13")
	require.NoError(t, err)
	assert.Equal(t, ".500-13", got)

	got, err = CanonicalThreadSize("3/8-16")
	require.NoError(t, err)
	assert.Equal(t, ".375-16", got)
}

// TestCanonicalThreadSize_Numbered validates ANSI B1.1 numbered sizes.
func TestCanonicalThreadSize_Numbered(t *testing.T) {
	t.Run("Size10", func(t *testing.T) {
		got, err := CanonicalThreadSize("10-32")
		require.NoError(t, err)
		assert.Equal(t, ".190-32", got)
	})

	t.Run("Size0", func(t *testing.T) {
		got, err := CanonicalThreadSize("0-80")
		require.NoError(t, err)
		assert.Equal(t, ".060-80", got)
	})

	t.Run("Size4WithHash", func(t *testing.T) {
		got, err := CanonicalThreadSize("#4-40")
		require.NoError(t, err)
		assert.Equal(t, ".112-40", got)
	})

	t.Run("BareNumber", func(t *testing.T) {
		got, err := CanonicalThreadSize("10")
		require.NoError(t, err)
		assert.Equal(t, ".190", got)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		_, err := CanonicalThreadSize("13-12")
		assert.Error(t, err)
	})
}

// TestCanonicalThreadSize_Decimal validates decimal passthrough.
func TestCanonicalThreadSize_Decimal(t *testing.T) {
	got, err := CanonicalThreadSize(".250-20")
	require.NoError(t, err)
	assert.Equal(t, ".250-20", got)

	got, err = CanonicalThreadSize("0.250-20")
	require.NoError(t, err)
	assert.Equal(t, ".250-20", got)

	got, err = CanonicalThreadSize("1.000-8")
	require.NoError(t, err)
	assert.Equal(t, "1.000-8", got)
}

// TestCanonicalThreadSize_Invalid validates rejection of malformed input.
func TestCanonicalThreadSize_Invalid(t *testing.T) {
	for _, input := range []string{"", "abc", "1/0-20", "-20"} {
		_, err := CanonicalThreadSize(input)
		assert.Error(t, err, "input %q should be rejected", input)
	}
}

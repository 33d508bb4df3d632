package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewErrorCode(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code := NewErrorCode("ValueError", "boom")
		normalized, err := NormalizeErrorCode(code)
		require.NoError(t, err)
		require.Equal(t, code, normalized)
		seen[code] = struct{}{}
	}
	require.Greater(t, len(seen), 45)
}

func TestNormalizeErrorCode(t *testing.T) {
	t.Parallel()

	code, err := NormalizeErrorCode(" ab12cd34 ")
	require.NoError(t, err)
	require.Equal(t, "AB12CD34", code)

	_, err = NormalizeErrorCode("ABC")
	require.ErrorIs(t, err, ErrMalformedInput)

	_, err = NormalizeErrorCode("ZZZZZZZZ")
	require.ErrorIs(t, err, ErrMalformedInput)
}

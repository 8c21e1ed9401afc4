package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("dinner-time")
	require.NoError(t, err)
	require.NotEqual(t, "dinner-time", hash)

	require.True(t, VerifyPassword(hash, "dinner-time"))
	require.False(t, VerifyPassword(hash, "lunch-time"))
	require.False(t, VerifyPassword("not-a-hash", "dinner-time"))
}

func TestGenerateTokenLengthAndUniqueness(t *testing.T) {
	a, err := GenerateToken(16)
	require.NoError(t, err)
	b, err := GenerateToken(16)
	require.NoError(t, err)

	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

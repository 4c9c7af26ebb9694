package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret-password")
	require.NoError(t, err)

	require.True(t, VerifyPassword(hash, "secret-password"))
	require.False(t, VerifyPassword(hash, "incorrect"))
}

func TestHashPasswordRejectsShort(t *testing.T) {
	_, err := HashPassword("short")
	require.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)

	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestHashTokenRoundTrip(t *testing.T) {
	digest := HashToken("refresh-token")

	require.Len(t, digest, 64)
	require.Equal(t, digest, HashToken("refresh-token"))
	require.NotEqual(t, digest, HashToken("other-token"))
}

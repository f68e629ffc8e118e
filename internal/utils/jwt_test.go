package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("01HZX", "admin", "secret")
	require.NoError(t, err)

	claims, err := ParseJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "01HZX", claims.UserID)
	assert.Equal(t, "admin", claims.Role)

	_, err = ParseJWT(token, "other")
	assert.Error(t, err)
	_, err = ParseJWT("garbage", "secret")
	assert.Error(t, err)
}

func TestGenerateJWT_RequiresSecret(t *testing.T) {
	_, err := GenerateJWT("u1", "user", "")
	assert.Error(t, err)
}

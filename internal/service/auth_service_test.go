package service

import (
	"testing"
	"time"

	"gowa-bridge/internal/helper"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_Disabled(t *testing.T) {
	a := NewAuthenticator("", "")
	assert.False(t, a.Enabled())
	assert.False(t, a.CheckAPIKey("anything"))

	_, err := a.GenerateAccessToken("svc", "admin", time.Minute)
	assert.ErrorIs(t, err, ErrAuthDisabled)

	var nilAuth *Authenticator
	assert.False(t, nilAuth.Enabled())
}

func TestAuthenticator_TokenRoundTrip(t *testing.T) {
	a := NewAuthenticator("test-secret", "")
	require.True(t, a.TokensEnabled())

	token, err := a.GenerateAccessToken("watchdog", "operator", time.Minute)
	require.NoError(t, err)

	claims, err := a.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "watchdog", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
}

func TestAuthenticator_RejectsBadTokens(t *testing.T) {
	a := NewAuthenticator("test-secret", "")

	other, err := NewAuthenticator("other-secret", "").GenerateAccessToken("x", "admin", time.Minute)
	require.NoError(t, err)
	_, err = a.ValidateAccessToken(other)
	assert.Error(t, err)

	expired, err := a.GenerateAccessToken("x", "admin", -time.Minute)
	require.NoError(t, err)
	_, err = a.ValidateAccessToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.ValidateAccessToken(unsigned)
	assert.Error(t, err)
}

func TestAuthenticator_APIKey(t *testing.T) {
	hash, err := helper.HashAPIKey("key-123")
	require.NoError(t, err)

	a := NewAuthenticator("", hash)
	assert.True(t, a.Enabled())
	assert.False(t, a.TokensEnabled())
	assert.True(t, a.CheckAPIKey("key-123"))
	assert.False(t, a.CheckAPIKey("key-124"))
	assert.False(t, a.CheckAPIKey(""))
}

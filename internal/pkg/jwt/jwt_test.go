package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	token, expiresAt, err := svc.GenerateAccessToken("u1")
	require.NoError(t, err)
	assert.Greater(t, expiresAt, time.Now().Unix())

	userID, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestJWTService_RejectsForeignAndExpired(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	other, _, err := NewJWTService("other", time.Hour).GenerateAccessToken("u1")
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(other)
	assert.Error(t, err)

	expired, _, err := NewJWTService("secret", -time.Hour).GenerateAccessToken("u1")
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(expired)
	assert.Error(t, err)

	_, err = svc.ValidateAccessToken("not-a-jwt")
	assert.Error(t, err)
}

func TestJWTService_RejectsWrongType(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)

	_, raw, err := svc.JWTAuth().Encode(map[string]interface{}{
		"user_id": "u1",
		"type":    "refresh",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(raw)
	assert.Error(t, err)
}

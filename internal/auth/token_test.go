package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManager_IssueAndVerify(t *testing.T) {
	m := NewTokenManager([]byte("test-secret-key-for-jwt-signing"), 30*24*time.Hour)

	token, expiresAt, err := m.Issue("user-123")
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.WithinDuration(t, time.Now(), claims.IssuedAt, 5*time.Second)
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
	assert.Equal(t, 30*24*time.Hour, m.MaxAge())
}

func TestTokenManager_Issue_EmptyUserID(t *testing.T) {
	m := NewTokenManager([]byte("k"), time.Hour)
	_, _, err := m.Issue("")
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestTokenManager_Verify_Invalid(t *testing.T) {
	m := NewTokenManager([]byte("test-secret-key-for-jwt-signing"), time.Hour)

	otherToken, _, err := NewTokenManager([]byte("different-secret"), time.Hour).Issue("user-123")
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: otherToken},
		{name: "alg none", token: noneToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenManager_Verify_Expired(t *testing.T) {
	m := NewTokenManager([]byte("k"), time.Hour)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := m.Issue("user-123")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Verify(token)
	assert.True(t, errors.Is(err, ErrExpiredToken), "got %v", err)
}

func TestTokenManager_Verify_MissingExpiration(t *testing.T) {
	secret := []byte("k")
	m := NewTokenManager(secret, time.Hour)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-123"}).SignedString(secret)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenManager_Verify_MissingSubject(t *testing.T) {
	secret := []byte("k")
	m := NewTokenManager(secret, time.Hour)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

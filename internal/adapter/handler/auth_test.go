package handler

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	auth, err := NewAuthenticator("admin", hash, "jwt-secret", 0)
	require.NoError(t, err)
	return auth
}

func TestAuthenticator_LoginAndVerify(t *testing.T) {
	auth := newTestAuth(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return now }

	token, expires, err := auth.Login("admin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultTokenTTL), expires)

	subject, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)

	now = now.Add(DefaultTokenTTL + time.Second)
	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAuthenticator_RejectsBadCredentials(t *testing.T) {
	auth := newTestAuth(t)

	_, _, err := auth.Login("admin", "wrong")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = auth.Login("root", "hunter2")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAuthenticator_RejectsForeignTokens(t *testing.T) {
	auth := newTestAuth(t)
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	otherSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
	require.NoError(t, err)
	_, err = auth.Verify(otherSecret)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("jwt-secret"))
	require.NoError(t, err)
	_, err = auth.Verify(wrongAlg)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "admin"}).SignedString([]byte("jwt-secret"))
	require.NoError(t, err)
	_, err = auth.Verify(noExpiry)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestNewAuthenticator_Validation(t *testing.T) {
	_, err := NewAuthenticator("admin", "plaintext", "secret", time.Hour)
	assert.Error(t, err)
	_, err = NewAuthenticator("admin", "", "secret", time.Hour)
	assert.Error(t, err)

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	_, err = NewAuthenticator("admin", hash, "", time.Hour)
	assert.Error(t, err)
}

func TestIPRateLimiter_EvictsIdle(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	now = now.Add(time.Hour)
	l.Allow("10.0.0.3")
	assert.Len(t, l.limiters, 1)
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolojard/animatronic-kernel/internal/config"
)

func testConfig() config.Config {
	return config.Config{JWTSecret: "this-is-a-development-secret-string-32chars", JWTAccessExpirySec: 3600}
}

func TestIssueThenVerifyToken_RoundTrips(t *testing.T) {
	cfg := testConfig()
	token, expiresIn, err := IssueToken(cfg, "operator-1", "operator")
	require.NoError(t, err)
	assert.Equal(t, 3600, expiresIn)

	op, err := VerifyToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "operator-1", op.Sub)
	assert.Equal(t, "operator", op.Role)
	assert.Equal(t, TokenTypeAccess, op.Type)
}

func TestVerifyToken_RejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.JWTAccessExpirySec = -1
	token, _, err := IssueToken(cfg, "operator-1", "operator")
	require.NoError(t, err)

	_, err = VerifyToken(cfg, token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyToken_RejectsWrongSecret(t *testing.T) {
	cfg := testConfig()
	token, _, err := IssueToken(cfg, "operator-1", "operator")
	require.NoError(t, err)

	other := cfg
	other.JWTSecret = "a-completely-different-secret-string-here"
	_, err = VerifyToken(other, token)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_RejectsWrongSigningMethod(t *testing.T) {
	cfg := testConfig()
	claims := jwt.RegisteredClaims{
		Subject:   "operator-1",
		Issuer:    "animatronic-kernel",
		Audience:  []string{"animatronic-kernel-console"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = VerifyToken(cfg, signed)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_RejectsGarbage(t *testing.T) {
	_, err := VerifyToken(testConfig(), "not-a-jwt")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RejectsShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "too-short")
	t.Setenv("OPERATOR_SECRET", "this-is-long-enough-secret")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_RejectsShortOperatorSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "this-is-a-development-secret-string-32chars")
	t.Setenv("OPERATOR_SECRET", "short")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_AppliesDefaultsWhenUnset(t *testing.T) {
	t.Setenv("JWT_SECRET", "this-is-a-development-secret-string-32chars")
	t.Setenv("OPERATOR_SECRET", "this-is-long-enough-secret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, 50.0, cfg.TickRateHz)
	assert.Equal(t, 20.0, cfg.SafetyTickFloorHz)
}

func TestLoad_HonorsOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "this-is-a-development-secret-string-32chars")
	t.Setenv("OPERATOR_SECRET", "this-is-long-enough-secret")
	t.Setenv("PORT", "9200")
	t.Setenv("TICK_RATE_HZ", "40")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9200", cfg.Port)
	assert.Equal(t, 40.0, cfg.TickRateHz)
}

func TestEnvInt_FallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("JWT_ACCESS_TOKEN_EXPIRY", "not-a-number")
	assert.Equal(t, 99, envInt("JWT_ACCESS_TOKEN_EXPIRY", 99))
}

func TestEnvFloat_FallsBackOnUnparsableValue(t *testing.T) {
	t.Setenv("TICK_RATE_HZ", "not-a-number")
	assert.Equal(t, 50.0, envFloat("TICK_RATE_HZ", 50))
}

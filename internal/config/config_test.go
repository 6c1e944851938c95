package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesSpecCadences(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "@every 1m", cfg.DispatchCronSpec)
	assert.Equal(t, "@every 30s", cfg.HealthCheckCronSpec)
	assert.Equal(t, 5*time.Minute, cfg.OrphanThreshold)
	assert.Equal(t, 3, cfg.OfflineThreshold)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("DISPATCH_DB_DSN", "postgres://example")
	t.Setenv("DISPATCH_OFFLINE_THRESHOLD", "5")
	t.Setenv("DISPATCH_ORPHAN_THRESHOLD", "10m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://example", cfg.DatabaseDSN)
	assert.Equal(t, 5, cfg.OfflineThreshold)
	assert.Equal(t, 10*time.Minute, cfg.OrphanThreshold)
}

func TestLoad_InvalidDurationErrors(t *testing.T) {
	t.Setenv("DISPATCH_ORPHAN_THRESHOLD", "not-a-duration")
	_, err := Load()
	assert.Error(t, err)
}

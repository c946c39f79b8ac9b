package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.True(t, cfg.Lending.Atomic)
	assert.Equal(t, 3, cfg.Lending.LedgerRetryAttempts)
	assert.Equal(t, 30*24*time.Hour, cfg.Maintenance.WarningHorizon)
	assert.Equal(t, 24*time.Hour, cfg.Reconciliation.Interval)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("LENDING_ATOMIC", "false")
	t.Setenv("MAINTENANCE_WARNING_DAYS", "14")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("SCAN_LOCK_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Lending.Atomic)
	assert.Equal(t, 14*24*time.Hour, cfg.Maintenance.WarningHorizon)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.Lending.ScanLockTTL)
}

func TestFromViperClampsInvalidNumbers(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("LEDGER_RETRY_ATTEMPTS", 0)
	v.Set("MAINTENANCE_WARNING_DAYS", -5)

	cfg := fromViper(v)
	assert.Equal(t, 3, cfg.Lending.LedgerRetryAttempts)
	assert.Equal(t, 30*24*time.Hour, cfg.Maintenance.WarningHorizon)
}

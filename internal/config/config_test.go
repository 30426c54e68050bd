package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: quantlab
  env: test
database:
  host: localhost
  port: 5432
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "quantlab", cfg.App.Name)
	assert.Equal(t, 8082, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Backtest.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Backtest.LeaseTTL)
	assert.Equal(t, "1m", cfg.Backtest.BaseInterval)
	assert.Equal(t, "/metrics", cfg.Monitoring.PrometheusPath)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
`)

	t.Setenv("QUANTLAB_DB_HOST", "db.internal")
	t.Setenv("QUANTLAB_SERVER_PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidate_SoftTimeoutBounds(t *testing.T) {
	path := writeConfig(t, `
backtest:
  lease_ttl: 1m
  soft_timeout: 5m
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soft timeout")
}

func TestValidate_BaseInterval(t *testing.T) {
	path := writeConfig(t, `
backtest:
  base_interval: 2m
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base interval")
}

func TestValidate_RedisAddr(t *testing.T) {
	path := writeConfig(t, `
redis:
  enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

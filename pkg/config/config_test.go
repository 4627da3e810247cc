package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DevelopmentDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, 10, cfg.Database.PoolCapacity)
	assert.Equal(t, 5*time.Second, cfg.Database.AcquireTimeout)
	assert.Equal(t, 1, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Token.RefreshBuffer)
	assert.Equal(t, 15*time.Second, cfg.Upstream.PageTimeout)
	assert.Equal(t, time.Hour, cfg.Upstream.CacheRetention)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ProductionDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATAACCESS_ENVIRONMENT", "production")

	cfg, err := Load(nil, "")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Database.PoolCapacity)
	assert.Equal(t, 10*time.Second, cfg.Database.AcquireTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.True(t, cfg.Server.SecureCookies)
	assert.Equal(t, "info", cfg.Log.Level)

	policy, err := cfg.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, policy.Delay(3), "linear backoff")
	assert.Equal(t, 10*time.Second, policy.AttemptTimeout)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATAACCESS_DATABASE_POOL_CAPACITY", "7")
	t.Setenv("DATAACCESS_RETRY_BASE_DELAY", "750ms")
	t.Setenv("DATAACCESS_UPSTREAM_PAGE_TIMEOUT", "3s")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Database.PoolCapacity)
	assert.Equal(t, 750*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 3*time.Second, cfg.Upstream.PageTimeout)
	assert.Equal(t, 7, cfg.StoreConfig().Capacity)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataaccess.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
database:
  host: db.internal
  pool_capacity: 4
retry:
  backoff: exponential
  max_delay: 5s
oauth:
  client_id: app
  token_url: https://auth.example.com/token
  scopes: [read, offline]
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 4, cfg.Database.PoolCapacity)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts, "environment from the file selects production defaults")
	assert.Equal(t, []string{"read", "offline"}, cfg.OAuthClientConfig().Scopes)

	policy, err := cfg.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, policy.Delay(3))
	assert.Equal(t, 5*time.Second, policy.Delay(10))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"capacity", func(c *Config) { c.Database.PoolCapacity = 0 }, "database.pool_capacity must be >= 1"},
		{"acquire timeout", func(c *Config) { c.Database.AcquireTimeout = 0 }, "database.acquire_timeout must be > 0"},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }, "retry.max_attempts must be >= 0"},
		{"jitter", func(c *Config) { c.Retry.Jitter = 2 }, "retry.jitter must be within"},
		{"backoff", func(c *Config) { c.Retry.Backoff = "fibonacci" }, "unknown backoff curve"},
		{"page timeout", func(c *Config) { c.Upstream.PageTimeout = 0 }, "upstream.page_timeout must be > 0"},
		{"cache retention", func(c *Config) { c.Upstream.CacheRetention = -time.Second }, "upstream.cache_retention must be >= 0"},
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }, "unsupported driver"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level: unknown log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(viper.New(), "")
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

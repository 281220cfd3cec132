package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/trading-engine/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.UsesDefaultSecret())

	bal, err := cfg.InitialBalance()
	require.NoError(t, err)
	assert.Equal(t, "10000", bal.String())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"server.yaml", "server.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			cfg := config.Default()
			cfg.Oracle.Provider = config.ProviderStatic
			cfg.Oracle.Prices = map[string]string{"AAPL": "150.25"}
			cfg.Oracle.Timeout = 3 * time.Second
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := config.LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: sqlite
  sqlite_path: /tmp/ledger.db
oracle:
  timeout: 2s
log:
  level: debug
`), 0o600))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 2*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, config.ProviderYahoo, cfg.Oracle.Provider)
	assert.Equal(t, "8080", cfg.Server.Port)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: mongo\n"), 0o600))
	_, err = config.LoadFromFile(path)
	assert.ErrorContains(t, err, "storage.driver")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":            "9090",
		"SQLITE_PATH":     "/data/ledger.db",
		"DATABASE_URL":    "postgres://localhost/ledger",
		"REDIS_URL":       "redis://localhost:6379/0",
		"SECRET_KEY":      "prod-secret",
		"ORACLE_PROVIDER": "static",
		"INITIAL_BALANCE": "50000",
		"LOG_LEVEL":       "warn",
	}
	cfg := config.Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, config.DriverPostgres, cfg.Storage.Driver, "DATABASE_URL wins over SQLITE_PATH")
	assert.Equal(t, "/data/ledger.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, "prod-secret", cfg.Auth.Secret)
	assert.False(t, cfg.UsesDefaultSecret())
	assert.Equal(t, config.ProviderStatic, cfg.Oracle.Provider)
	assert.Equal(t, "50000", cfg.Accounts.InitialBalance)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"sqlite without path", func(c *config.Config) { c.Storage.Driver = config.DriverSQLite }, "sqlite_path"},
		{"postgres without url", func(c *config.Config) { c.Storage.Driver = config.DriverPostgres }, "database_url"},
		{"unknown provider", func(c *config.Config) { c.Oracle.Provider = "bloomberg" }, "oracle.provider"},
		{"bad static price", func(c *config.Config) {
			c.Oracle.Provider = config.ProviderStatic
			c.Oracle.Prices = map[string]string{"AAPL": "-1"}
		}, "oracle.prices"},
		{"zero timeout", func(c *config.Config) { c.Oracle.Timeout = 0 }, "oracle.timeout"},
		{"empty secret", func(c *config.Config) { c.Auth.Secret = "" }, "auth.secret"},
		{"bad balance", func(c *config.Config) { c.Accounts.InitialBalance = "lots" }, "initial_balance"},
		{"zero balance", func(c *config.Config) { c.Accounts.InitialBalance = "0" }, "initial_balance"},
		{"bad bcrypt cost", func(c *config.Config) { c.Accounts.BcryptCost = 99 }, "bcrypt_cost"},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
		{"redis without ttl", func(c *config.Config) {
			c.Storage.RedisURL = "redis://x"
			c.Storage.CacheTTL = 0
		}, "cache_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestStaticPricesUppercased(t *testing.T) {
	cfg := config.Default()
	cfg.Oracle.Prices = map[string]string{"msft": "410.5"}
	prices, err := cfg.StaticPrices()
	require.NoError(t, err)
	assert.Equal(t, "410.5", prices["MSFT"].String())
}

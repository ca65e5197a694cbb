package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settlement.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "settlement.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Reconciliation.Enabled)
	assert.Equal(t, time.Hour, cfg.Reconciliation.IntervalDuration())

	read, write, idle := cfg.Server.Durations()
	assert.Equal(t, 15*time.Second, read)
	assert.Equal(t, 15*time.Second, write)
	assert.Equal(t, 60*time.Second, idle)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	// GIVEN: A TOML file setting some keys
	// WHEN: Loading it
	// THEN: Set keys win, unset keys keep their defaults

	path := writeFile(t, `
[server]
port = 9090

[database]
path = ":memory:"

[reconciliation]
interval = "15m"
cap_allocations = true
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, 15*time.Minute, cfg.Reconciliation.IntervalDuration())
	assert.True(t, cfg.Reconciliation.CapAllocations)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "15s", cfg.Server.ReadTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "[server]\nport = 9090\n")
	t.Setenv("SETTLE_PORT", "7070")
	t.Setenv("SETTLE_LOG_LEVEL", "debug")
	t.Setenv("SETTLE_RECONCILE_ENABLED", "false")
	t.Setenv("SETTLE_LOG_DEVELOPMENT", "not-a-bool")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.Reconciliation.Enabled)
	assert.False(t, cfg.Logger.Development, "unparsable bool keeps the previous value")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeFile(t, "[server\nport = ")

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{"defaults are valid", func(c *config.Config) {}, ""},
		{"port zero", func(c *config.Config) { c.Server.Port = 0 }, "server.port"},
		{"port too large", func(c *config.Config) { c.Server.Port = 70000 }, "server.port"},
		{"empty database path", func(c *config.Config) { c.Database.Path = "" }, "database.path"},
		{"bad timeout", func(c *config.Config) { c.Server.WriteTimeout = "soon" }, "server.write_timeout"},
		{"bad interval", func(c *config.Config) { c.Reconciliation.Interval = "hourly" }, "reconciliation.interval"},
		{"zero interval", func(c *config.Config) { c.Reconciliation.Interval = "0s" }, "must be positive"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_InvalidEnvRejected(t *testing.T) {
	t.Setenv("SETTLE_RECONCILE_INTERVAL", "never")

	_, err := config.Load("")
	assert.Error(t, err)
}

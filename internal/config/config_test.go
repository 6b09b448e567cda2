package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Remote.Driver)
	assert.True(t, cfg.Remote.OfflineMode)
	assert.Equal(t, 0, cfg.Stats.AccuracyDecimals)
	assert.Equal(t, 50, cfg.Questions.MaxPerSession)
	assert.Equal(t, 2*time.Hour, cfg.HTTP.IdleSession)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "studysync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote:
  driver: postgres
  dsn: postgres://localhost/studysync
  retry:
    max_attempts: 5
stats:
  timezone: Asia/Tokyo
  accuracy_decimals: 2
questions:
  cache_ttl: 2h
`), 0o644))

	t.Setenv("STUDYSYNC_STATS_ACCURACY_DECIMALS", "1")
	t.Setenv("STUDYSYNC_REMOTE_OFFLINE_MODE", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "postgres", cfg.Remote.Driver)
	assert.Equal(t, "postgres://localhost/studysync", cfg.Remote.DSN)
	assert.Equal(t, 5, cfg.Remote.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Remote.Retry.MaxWait, "unset keys keep defaults")
	assert.Equal(t, 2*time.Hour, cfg.Questions.CacheTTL)
	assert.Equal(t, 1, cfg.Stats.AccuracyDecimals, "env overrides file")
	assert.False(t, cfg.Remote.OfflineMode)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STUDYSYNC_HTTP_ADDR=:9999\nSTUDYSYNC_LOG_LEVEL=debug\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("STUDYSYNC_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "warn", cfg.Log.Level, "real environment beats .env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Remote.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Remote.Driver = "postgres" }},
		{"zero attempts", func(c *Config) { c.Remote.Retry.MaxAttempts = 0 }},
		{"zero max per session", func(c *Config) { c.Questions.MaxPerSession = 0 }},
		{"decimals too low", func(c *Config) { c.Stats.AccuracyDecimals = -1 }},
		{"bad timezone", func(c *Config) { c.Stats.Timezone = "Mars/Olympus" }},
		{"bad schedule", func(c *Config) { c.Sync.Schedule = "every now and then" }},
		{"zero keep runs", func(c *Config) { c.Sync.KeepRuns = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

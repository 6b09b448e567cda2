// Package config loads studysync settings from defaults, an optional
// config file, a .env file and STUDYSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "STUDYSYNC"

// Config is the full application configuration.
type Config struct {
	DB        string          `mapstructure:"db"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Questions QuestionsConfig `mapstructure:"questions"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Sync      SyncConfig      `mapstructure:"sync"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

// RemoteConfig selects and tunes the shared remote store.
type RemoteConfig struct {
	Driver      string        `mapstructure:"driver"` // postgres or memory
	DSN         string        `mapstructure:"dsn"`
	OfflineMode bool          `mapstructure:"offline_mode"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxConns    int32         `mapstructure:"max_conns"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RetryConfig configures retries of transient remote failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	InitialWait time.Duration `mapstructure:"initial_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// RedisConfig enables the stats cache when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// QuestionsConfig bounds question fetching.
type QuestionsConfig struct {
	MaxPerSession int           `mapstructure:"max_per_session"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// StatsConfig controls progress reporting.
type StatsConfig struct {
	Timezone           string        `mapstructure:"timezone"`
	AccuracyDecimals   int           `mapstructure:"accuracy_decimals"` // 0 = no rounding
	StreakLookbackDays int           `mapstructure:"streak_lookback_days"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

// SyncConfig controls reconciliation and buffer maintenance.
type SyncConfig struct {
	Schedule   string        `mapstructure:"schedule"`
	PurgeAfter time.Duration `mapstructure:"purge_after"`
	KeepRuns   int           `mapstructure:"keep_runs"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`

	// IdleSession ends HTTP sessions left untouched this long.
	IdleSession time.Duration `mapstructure:"idle_session"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Remote: RemoteConfig{
			Driver:      "memory",
			OfflineMode: true,
			Timeout:     5 * time.Second,
			MaxConns:    8,
			Retry: RetryConfig{
				MaxAttempts: 3,
				InitialWait: 200 * time.Millisecond,
				MaxWait:     2 * time.Second,
				Multiplier:  2.0,
			},
		},
		Questions: QuestionsConfig{
			MaxPerSession: 50,
			CacheTTL:      24 * time.Hour,
		},
		Stats: StatsConfig{
			Timezone:           "Local",
			AccuracyDecimals:   0,
			StreakLookbackDays: 366,
			CacheTTL:           10 * time.Minute,
		},
		Sync: SyncConfig{
			Schedule:   "@every 5m",
			PurgeAfter: 30 * 24 * time.Hour,
			KeepRuns:   50,
		},
		HTTP: HTTPConfig{Addr: ":8080", IdleSession: 2 * time.Hour},
		Log:  LogConfig{Level: "info", Format: "auto"},
	}
}

// Load resolves the configuration. An explicit path must exist; otherwise
// studysync.yaml is looked up in the working directory and the XDG config
// directory, and a .env file in the working directory is read if present.
// Environment variables override everything but flags.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := loadDotEnv(v, "."); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("studysync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ConfigFile reports the file Load would read for path, or "" if none.
func ConfigFile(path string) string {
	if path != "" {
		return path
	}
	for _, dir := range configSearchPath() {
		p := filepath.Join(dir, "studysync.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate rejects configurations the application cannot run with.
func (c *Config) Validate() error {
	switch c.Remote.Driver {
	case "memory":
	case "postgres":
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("remote.driver must be postgres or memory, got %q", c.Remote.Driver)
	}
	if c.Remote.Retry.MaxAttempts < 1 {
		return fmt.Errorf("remote.retry.max_attempts must be at least 1")
	}
	if c.Questions.MaxPerSession < 1 {
		return fmt.Errorf("questions.max_per_session must be positive")
	}
	if c.Stats.AccuracyDecimals < 0 || c.Stats.AccuracyDecimals > 6 {
		return fmt.Errorf("stats.accuracy_decimals must be between 0 and 6")
	}
	if c.Stats.StreakLookbackDays < 1 {
		return fmt.Errorf("stats.streak_lookback_days must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("sync.schedule: %w", err)
	}
	if c.Sync.KeepRuns < 1 {
		return fmt.Errorf("sync.keep_runs must be positive")
	}
	return nil
}

// Location returns the time zone used for calendar days.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Stats.Timezone)
	if err != nil {
		return nil, fmt.Errorf("stats.timezone: %w", err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("db", d.DB)
	v.SetDefault("remote.driver", d.Remote.Driver)
	v.SetDefault("remote.dsn", d.Remote.DSN)
	v.SetDefault("remote.offline_mode", d.Remote.OfflineMode)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.max_conns", d.Remote.MaxConns)
	v.SetDefault("remote.retry.max_attempts", d.Remote.Retry.MaxAttempts)
	v.SetDefault("remote.retry.initial_wait", d.Remote.Retry.InitialWait)
	v.SetDefault("remote.retry.max_wait", d.Remote.Retry.MaxWait)
	v.SetDefault("remote.retry.multiplier", d.Remote.Retry.Multiplier)
	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("questions.max_per_session", d.Questions.MaxPerSession)
	v.SetDefault("questions.cache_ttl", d.Questions.CacheTTL)
	v.SetDefault("stats.timezone", d.Stats.Timezone)
	v.SetDefault("stats.accuracy_decimals", d.Stats.AccuracyDecimals)
	v.SetDefault("stats.streak_lookback_days", d.Stats.StreakLookbackDays)
	v.SetDefault("stats.cache_ttl", d.Stats.CacheTTL)
	v.SetDefault("sync.schedule", d.Sync.Schedule)
	v.SetDefault("sync.purge_after", d.Sync.PurgeAfter)
	v.SetDefault("sync.keep_runs", d.Sync.KeepRuns)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.idle_session", d.HTTP.IdleSession)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// loadDotEnv reads dir/.env and layers its STUDYSYNC_* entries over the
// defaults. Real environment variables and the config file still win.
func loadDotEnv(v *viper.Viper, dir string) error {
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); err != nil {
		return nil
	}

	dot := viper.New()
	dot.SetConfigFile(p)
	dot.SetConfigType("env")
	if err := dot.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}

	for _, key := range v.AllKeys() {
		name := strings.ToLower(EnvPrefix + "_" + strings.ReplaceAll(key, ".", "_"))
		if dot.IsSet(name) {
			v.SetDefault(key, dot.Get(name))
		}
	}
	return nil
}

func configSearchPath() []string {
	dirs := []string{"."}
	if dir, err := configDir(); err == nil {
		dirs = append(dirs, dir)
	}
	return dirs
}

func configDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "studysync"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "studysync"), nil
}

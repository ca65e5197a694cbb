// Package config loads server configuration from defaults, an optional TOML
// file and environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	Server         ServerConfig         `toml:"server"`
	Database       DatabaseConfig       `toml:"database"`
	Logger         LoggerConfig         `toml:"logger"`
	Reconciliation ReconciliationConfig `toml:"reconciliation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int      `toml:"port"`
	ReadTimeout    string   `toml:"read_timeout"`
	WriteTimeout   string   `toml:"write_timeout"`
	IdleTimeout    string   `toml:"idle_timeout"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path string `toml:"path"` // ":memory:" for an in-memory database
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level       string `toml:"level"` // debug, info, warn, error
	Development bool   `toml:"development"`
}

// ReconciliationConfig controls the background detection scheduler.
type ReconciliationConfig struct {
	Enabled        bool   `toml:"enabled"`
	Interval       string `toml:"interval"`
	CapAllocations bool   `toml:"cap_allocations"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    "15s",
			WriteTimeout:   "15s",
			IdleTimeout:    "60s",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{
			Path: "settlement.db",
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Reconciliation: ReconciliationConfig{
			Enabled:  true,
			Interval: "1h",
		},
	}
}

// Load builds a Config. An empty path skips the file; a missing named file
// is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unusable values.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	for name, v := range map[string]string{
		"server.read_timeout":  c.Server.ReadTimeout,
		"server.write_timeout": c.Server.WriteTimeout,
		"server.idle_timeout":  c.Server.IdleTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	d, err := time.ParseDuration(c.Reconciliation.Interval)
	if err != nil {
		return fmt.Errorf("reconciliation.interval: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("reconciliation.interval must be positive")
	}
	return nil
}

// Durations parses the server timeouts. Call after Validate.
func (s ServerConfig) Durations() (read, write, idle time.Duration) {
	read, _ = time.ParseDuration(s.ReadTimeout)
	write, _ = time.ParseDuration(s.WriteTimeout)
	idle, _ = time.ParseDuration(s.IdleTimeout)
	return read, write, idle
}

// IntervalDuration parses the scheduler interval. Call after Validate.
func (r ReconciliationConfig) IntervalDuration() time.Duration {
	d, _ := time.ParseDuration(r.Interval)
	return d
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvAsInt("SETTLE_PORT", cfg.Server.Port)
	cfg.Database.Path = getEnv("SETTLE_DB", cfg.Database.Path)
	cfg.Logger.Level = getEnv("SETTLE_LOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.Development = getEnvAsBool("SETTLE_LOG_DEVELOPMENT", cfg.Logger.Development)
	cfg.Reconciliation.Interval = getEnv("SETTLE_RECONCILE_INTERVAL", cfg.Reconciliation.Interval)
	cfg.Reconciliation.Enabled = getEnvAsBool("SETTLE_RECONCILE_ENABLED", cfg.Reconciliation.Enabled)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

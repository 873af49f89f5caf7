// Package config loads migrator settings from an optional YAML file and the
// process environment. Environment variables override the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageSQL    = "sql"
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config captures the settings of one migrator invocation.
type Config struct {
	Storage     string        `yaml:"storage"`
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	Table       string        `yaml:"table"`
	Dir         string        `yaml:"dir"`
	Ordering    string        `yaml:"ordering"`
	File        string        `yaml:"file"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	UnitTimeout time.Duration `yaml:"unit_timeout"`
	Lock        bool          `yaml:"lock"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Storage:     StorageSQL,
		Driver:      "sqlite",
		DSN:         "migrator.db",
		Table:       "schema_migrations",
		Dir:         "migrations",
		Ordering:    "lexical",
		File:        "migrations.json",
		RedisAddr:   "localhost:6379",
		RedisPrefix: "migrations",
		Lock:        true,
		LockTTL:     30 * time.Minute,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load reads path (when not empty) over the defaults, then applies MIGRATOR_*
// environment variables, then validates the result.
//
// Missing and invalid entries are collected and reported together.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s does not exist", path)
			}
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	textFields := map[string]*string{
		"MIGRATOR_STORAGE":      &cfg.Storage,
		"MIGRATOR_DRIVER":       &cfg.Driver,
		"MIGRATOR_DSN":          &cfg.DSN,
		"MIGRATOR_TABLE":        &cfg.Table,
		"MIGRATOR_DIR":          &cfg.Dir,
		"MIGRATOR_ORDERING":     &cfg.Ordering,
		"MIGRATOR_FILE":         &cfg.File,
		"MIGRATOR_REDIS_ADDR":   &cfg.RedisAddr,
		"MIGRATOR_REDIS_PREFIX": &cfg.RedisPrefix,
		"MIGRATOR_LOG_LEVEL":    &cfg.LogLevel,
		"MIGRATOR_LOG_FORMAT":   &cfg.LogFormat,
		"MIGRATOR_METRICS_ADDR": &cfg.MetricsAddr,
	}
	for key, field := range textFields {
		if value := trimmedEnv(key); value != "" {
			*field = value
		}
	}

	if timeoutValue := trimmedEnv("MIGRATOR_UNIT_TIMEOUT"); timeoutValue != "" {
		timeout, err := time.ParseDuration(timeoutValue)
		if err != nil || timeout < 0 {
			invalid = append(invalid, "MIGRATOR_UNIT_TIMEOUT")
		} else {
			cfg.UnitTimeout = timeout
		}
	}

	if ttlValue := trimmedEnv("MIGRATOR_LOCK_TTL"); ttlValue != "" {
		ttl, err := time.ParseDuration(ttlValue)
		if err != nil || ttl <= 0 {
			invalid = append(invalid, "MIGRATOR_LOCK_TTL")
		} else {
			cfg.LockTTL = ttl
		}
	}

	if lockValue := trimmedEnv("MIGRATOR_LOCK"); lockValue != "" {
		lock, err := strconv.ParseBool(lockValue)
		if err != nil {
			invalid = append(invalid, "MIGRATOR_LOCK")
		} else {
			cfg.Lock = lock
		}
	}

	cfg.normalize()
	missing, invalid = cfg.check(missing, invalid)

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required settings are not set: %s", joinSorted(missing))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid values for settings: %s", joinSorted(invalid))
	}

	return cfg, nil
}

func (c *Config) normalize() {
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	c.Ordering = strings.ToLower(strings.TrimSpace(c.Ordering))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
}

// check reports settings that are required but empty, and values outside
// their allowed sets, by their environment variable names.
func (c Config) check(missing, invalid []string) ([]string, []string) {
	switch c.Storage {
	case StorageSQL:
		switch c.Driver {
		case "sqlite", "postgres", "pgx":
		case "":
			missing = append(missing, "MIGRATOR_DRIVER")
		default:
			invalid = append(invalid, "MIGRATOR_DRIVER")
		}
		if c.DSN == "" {
			missing = append(missing, "MIGRATOR_DSN")
		}
		if c.Table == "" {
			missing = append(missing, "MIGRATOR_TABLE")
		}
	case StorageFile:
		if c.File == "" {
			missing = append(missing, "MIGRATOR_FILE")
		}
	case StorageRedis:
		if c.RedisAddr == "" {
			missing = append(missing, "MIGRATOR_REDIS_ADDR")
		}
	case StorageMemory:
	default:
		invalid = append(invalid, "MIGRATOR_STORAGE")
	}

	if c.Dir == "" {
		missing = append(missing, "MIGRATOR_DIR")
	}
	if c.UnitTimeout < 0 && !contains(invalid, "MIGRATOR_UNIT_TIMEOUT") {
		invalid = append(invalid, "MIGRATOR_UNIT_TIMEOUT")
	}

	if c.LockTTL <= 0 && !contains(invalid, "MIGRATOR_LOCK_TTL") {
		invalid = append(invalid, "MIGRATOR_LOCK_TTL")
	}

	switch c.Ordering {
	case "lexical", "semver":
	default:
		invalid = append(invalid, "MIGRATOR_ORDERING")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		invalid = append(invalid, "MIGRATOR_LOG_LEVEL")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		invalid = append(invalid, "MIGRATOR_LOG_FORMAT")
	}

	return missing, invalid
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func joinSorted(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

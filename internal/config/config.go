// Package config handles application configuration loading from environment
// variables. It provides a centralized Config struct used across the application.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"chanlytics/internal/cache"
)

// Config holds all application configuration values loaded from the environment.
type Config struct {
	// Server settings
	Host string
	Port string
	Env  string // "development", "production", "testing"

	// PostgreSQL connection
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Valkey (Redis-compatible cache)
	ValkeyHost     string
	ValkeyPort     string
	ValkeyPassword string
	ValkeyDB       int
	ValkeyTimeout  time.Duration

	// Cache policy
	CacheTTLEntity         time.Duration
	CacheTTLList           time.Duration
	CacheTTLCount          time.Duration
	CacheScanBatch         int
	CacheScanMaxIterations int

	// Entity registry file; empty uses the built-in table.
	EntitiesFile string

	// Per-client request rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// RateLimitTrustProxy keys clients by X-Forwarded-For/X-Real-IP. Only
	// safe behind a proxy that sets those headers itself.
	RateLimitTrustProxy bool
}

// Load reads configuration from environment variables, applying defaults
// for development where appropriate. A .env file in the working directory,
// if present, fills in variables that are not already set. Returns an error
// if a value cannot be parsed or critical values are missing in production
// mode.
func Load() (*Config, error) {
	loadDotEnv(envOrDefault("ENV_FILE", ".env"))

	cfg := &Config{
		Host: envOrDefault("APP_HOST", "0.0.0.0"),
		Port: envOrDefault("APP_PORT", "8080"),
		Env:  envOrDefault("APP_ENV", "development"),

		DBHost:     envOrDefault("POSTGRES_HOST", "localhost"),
		DBPort:     envOrDefault("POSTGRES_PORT", "5432"),
		DBUser:     envOrDefault("POSTGRES_USER", "chanlytics"),
		DBPassword: envOrDefault("POSTGRES_PASSWORD", "changeme"),
		DBName:     envOrDefault("POSTGRES_DB", "chanlytics"),

		ValkeyHost:     envOrDefault("VALKEY_HOST", "localhost"),
		ValkeyPort:     envOrDefault("VALKEY_PORT", "6379"),
		ValkeyPassword: os.Getenv("VALKEY_PASSWORD"),

		EntitiesFile: os.Getenv("ENTITIES_FILE"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.ValkeyDB, err = envInt("VALKEY_DB", 0, 0)
	collect(err)
	cfg.ValkeyTimeout, err = envDuration("VALKEY_TIMEOUT", 3*time.Second)
	collect(err)

	cfg.CacheTTLEntity, err = envDuration("CACHE_TTL_ENTITY", time.Hour)
	collect(err)
	cfg.CacheTTLList, err = envDuration("CACHE_TTL_LIST", 5*time.Minute)
	collect(err)
	cfg.CacheTTLCount, err = envDuration("CACHE_TTL_COUNT", 5*time.Minute)
	collect(err)
	cfg.CacheScanBatch, err = envInt("CACHE_SCAN_BATCH", cache.DefaultScanBatch, 1)
	collect(err)
	cfg.CacheScanMaxIterations, err = envInt("CACHE_SCAN_MAX_ITERATIONS", cache.DefaultMaxScanIterations, 1)
	collect(err)

	cfg.RateLimitRPS, err = envFloat("RATE_LIMIT_RPS", 20)
	collect(err)
	cfg.RateLimitBurst, err = envInt("RATE_LIMIT_BURST", 40, 1)
	collect(err)
	cfg.RateLimitTrustProxy, err = envBool("RATE_LIMIT_TRUST_PROXY", false)
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cfg.Env == "production" {
		if cfg.DBPassword == "changeme" {
			return nil, fmt.Errorf("POSTGRES_PASSWORD must be set in production")
		}
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName,
	)
}

// Addr returns the server listen address (host:port).
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDev returns true if the application is running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Valkey returns the client options for the cache tier.
func (c *Config) Valkey() cache.ValkeyOptions {
	return cache.ValkeyOptions{
		Host:     c.ValkeyHost,
		Port:     c.ValkeyPort,
		Password: c.ValkeyPassword,
		DB:       c.ValkeyDB,
		Timeout:  c.ValkeyTimeout,
	}
}

// loadDotEnv merges a dotenv file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadDotEnv(path string) {
	err := godotenv.Load(path)
	if err == nil {
		slog.Debug("loaded environment file", "path", path)
		return
	}
	if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load environment file", "path", path, "error", err)
	}
}

// envOrDefault reads an environment variable, returning a fallback if unset or empty.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt parses an integer variable no smaller than floor.
func envInt(key string, fallback, floor int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	if n < floor {
		return 0, fmt.Errorf("%s: must be at least %d, got %d", key, floor, n)
	}
	return n, nil
}

// envFloat parses a positive float variable.
func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", key, v)
	}
	if f <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %v", key, f)
	}
	return f, nil
}

// envBool parses a boolean variable ("true", "1", "false", "0", ...).
func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", key, v)
	}
	return b, nil
}

// envDuration parses a positive duration. Both Go duration strings ("90s",
// "1h") and plain seconds ("3600") are accepted.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, serr := strconv.Atoi(v)
		if serr != nil {
			return 0, fmt.Errorf("%s: %q is not a duration", key, v)
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, d)
	}
	return d, nil
}

// Package config loads the service configuration from the environment. All
// secrets are supplied externally; nothing here generates or persists key
// material.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLen = 32

// Config is the complete service configuration.
type Config struct {
	Env  string
	HTTP HTTPConfig
	DB   DBConfig
	Auth AuthConfig
	Log  LogConfig

	// SweepInterval controls how often expired refresh-token records are
	// purged.
	SweepInterval time.Duration

	// RateLimit applies to the register and login routes, per client IP.
	RateLimit RateLimitConfig
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds token signing configuration. Access and refresh secrets
// must be at least 32 bytes and distinct from each other.
type AuthConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Pretty bool
}

// RateLimitConfig is a token-bucket description.
type RateLimitConfig struct {
	Burst     int
	PerSecond int
}

// Load reads .env (when present) and the process environment, applies
// defaults and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Addr:            getEnv("AUTH_HTTP_ADDR", ":4003"),
			ReadTimeout:     getDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		DB: DBConfig{
			URL:             os.Getenv("AUTH_DB_URL"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Auth: AuthConfig{
			AccessSecret:  []byte(os.Getenv("JWT_SECRET")),
			RefreshSecret: []byte(os.Getenv("JWT_REFRESH_SECRET")),
			AccessTTL:     getDuration("JWT_EXPIRES_IN", 24*time.Hour),
			RefreshTTL:    getDuration("JWT_REFRESH_EXPIRES_IN", 720*time.Hour),
			Issuer:        getEnv("JWT_ISSUER", "auth-service"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getBool("LOG_PRETTY", false),
		},
		SweepInterval: getDuration("REFRESH_SWEEP_INTERVAL", time.Hour),
		RateLimit: RateLimitConfig{
			Burst:     getInt("RATE_LIMIT_BURST", 10),
			PerSecond: getInt("RATE_LIMIT_PER_SECOND", 5),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DB.URL == "" {
		errs = append(errs, errors.New("AUTH_DB_URL is required"))
	}
	if len(c.Auth.AccessSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minSecretLen))
	}
	if len(c.Auth.RefreshSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("JWT_REFRESH_SECRET must be at least %d bytes", minSecretLen))
	}
	if len(c.Auth.AccessSecret) >= minSecretLen &&
		string(c.Auth.AccessSecret) == string(c.Auth.RefreshSecret) {
		errs = append(errs, errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be greater than zero"))
	}
	return errors.Join(errs...)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

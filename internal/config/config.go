package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Backend       BackendConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// BackendConfig locates the remote REST backend.
type BackendConfig struct {
	URL            string
	Timeout        time.Duration
	RefreshTimeout time.Duration
}

// DatabaseConfig holds database configuration. An empty Host keeps
// sessions in memory.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Enabled reports whether a Postgres session store is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// RedisConfig holds the directory cache connection. An empty Addr keeps
// snapshots in memory.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	PoolSize   int
	Prefix     string
}

// Enabled reports whether a Redis directory cache is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// SessionConfig holds session management configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite string
	EncryptionKey  string
	Lifetime       time.Duration
	IdleTimeout    time.Duration
	DirectoryTTL   time.Duration
}

// ObservabilityConfig holds logging, tracing and metrics configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	OTELEndpoint   string
	ServiceName    string
	ServiceVersion string
	MetricsEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout:   parseDuration("SERVER_WRITE_TIMEOUT", "60s"),
			IdleTimeout:    parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
			RequestTimeout: parseDuration("SERVER_REQUEST_TIMEOUT", "45s"),
		},
		Backend: BackendConfig{
			URL:            getEnv("BACKEND_URL", "http://localhost:9000/api"),
			Timeout:        parseDuration("BACKEND_TIMEOUT", "30s"),
			RefreshTimeout: parseDuration("BACKEND_REFRESH_TIMEOUT", "10s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", ""),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "trialiq"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "trialiq_console"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Addr:       getEnv("REDIS_ADDR", ""),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         parseInt("REDIS_DB", 0),
			TLSEnabled: parseBool("REDIS_TLS_ENABLED", false),
			PoolSize:   parseInt("REDIS_POOL_SIZE", 10),
			Prefix:     getEnv("REDIS_PREFIX", "console:directory"),
		},
		Session: SessionConfig{
			CookieName:     getEnv("SESSION_COOKIE_NAME", "trialiq_console"),
			CookieDomain:   getEnv("SESSION_COOKIE_DOMAIN", ""),
			CookiePath:     getEnv("SESSION_COOKIE_PATH", "/"),
			CookieSecure:   parseBool("SESSION_COOKIE_SECURE", false),
			CookieHTTPOnly: parseBool("SESSION_COOKIE_HTTP_ONLY", true),
			CookieSameSite: getEnv("SESSION_COOKIE_SAME_SITE", "Lax"),
			EncryptionKey:  getEnv("SESSION_ENCRYPTION_KEY", ""),
			Lifetime:       parseDuration("SESSION_LIFETIME", "12h"),
			IdleTimeout:    parseDuration("SESSION_IDLE_TIMEOUT", "30m"),
			DirectoryTTL:   parseDuration("SESSION_DIRECTORY_TTL", "30m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			OTELEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "trialiq-console"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
			MetricsEnabled: parseBool("METRICS_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloat("RATELIMIT_RPS", 10),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("BACKEND_TIMEOUT must be positive")
	}
	if c.Session.EncryptionKey == "" {
		return errors.New("SESSION_ENCRYPTION_KEY is required")
	}
	if key, err := hex.DecodeString(c.Session.EncryptionKey); err != nil || len(key) != 32 {
		return errors.New("SESSION_ENCRYPTION_KEY must be 32 bytes hex-encoded")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("SESSION_LIFETIME must be positive")
	}
	if c.Database.Enabled() && c.Database.Password == "" {
		return errors.New("DB_PASSWORD is required when DB_HOST is set")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("RATELIMIT_RPS and RATELIMIT_BURST must be positive")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

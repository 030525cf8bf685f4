// Package config provides centralized configuration management for the import service.
// It loads configuration from environment variables (optionally seeded from .env
// files) and validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/JonMunkholm/auditimport/internal/core"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Import    ImportConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 15m)
	// It must outlast IMPORT_EXECUTE_TIMEOUT.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RequestTimeout is the middleware timeout for non-execute requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Backend selects the store: postgres or memory (default: postgres)
	Backend string `env:"STORE_BACKEND" envDefault:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres backend
	URL string `env:"DATABASE_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int32 `env:"DB_MAX_CONNS" envDefault:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int32 `env:"DB_MIN_CONNS" envDefault:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// AutoMigrate applies pending migrations when the server starts (default: false)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

// StorageConfig selects where uploaded source files are kept.
type StorageConfig struct {
	// Backend is local, s3 or memory (default: local)
	Backend string `env:"FILE_STORAGE_BACKEND" envDefault:"local"`

	// LocalDir is the root directory for the local backend (default: ./data/uploads)
	LocalDir string `env:"FILE_STORAGE_DIR" envDefault:"./data/uploads"`

	S3Bucket   string `env:"S3_BUCKET"`
	S3Prefix   string `env:"S3_PREFIX" envDefault:"imports"`
	S3Region   string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint string `env:"S3_ENDPOINT"`
}

// ImportConfig holds import pipeline settings.
type ImportConfig struct {
	// BatchSize is the number of rows written per transaction (default: 100)
	BatchSize int `env:"IMPORT_BATCH_SIZE" envDefault:"100"`

	// MaxFileSize is the maximum accepted upload in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" envDefault:"52428800"`

	// MaxConcurrent is the number of executes allowed to run at once (default: 4)
	MaxConcurrent int `env:"IMPORT_MAX_CONCURRENT" envDefault:"4"`

	// MaxWait is how long an execute waits for a slot (default: 30s)
	MaxWait time.Duration `env:"IMPORT_MAX_WAIT" envDefault:"30s"`

	// ExecuteTimeout bounds one execute regardless of the client (default: 10m)
	ExecuteTimeout time.Duration `env:"IMPORT_EXECUTE_TIMEOUT" envDefault:"10m"`

	// MaxErrorsReported caps the rejected rows returned by execute (default: 100)
	MaxErrorsReported int `env:"IMPORT_MAX_ERRORS_REPORTED" envDefault:"100"`

	// SampleErrors caps the rejected rows returned by validate (default: 20)
	SampleErrors int `env:"IMPORT_SAMPLE_ERRORS" envDefault:"20"`

	// SeedTemplates creates the bundled mapping templates on startup (default: true)
	SeedTemplates bool `env:"IMPORT_SEED_TEMPLATES" envDefault:"true"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int64 `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" envDefault:"100"`

	// UploadLimit is requests per minute for upload and execute endpoints (default: 10)
	UploadLimit int64 `env:"RATE_LIMIT_UPLOAD" envDefault:"10"`

	// Storage is memory or redis (default: memory)
	Storage string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"`

	// RedisURL is used when Storage is redis
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// AllowedOrigins is a comma-separated list of CORS origins
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// APIKeys maps keys to actors, as key:actor pairs separated by commas
	APIKeys map[string]string `env:"API_KEYS" envSeparator:"," envKeyValSeparator:":"`

	// RequireAPIKey rejects requests without a known key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" envDefault:"false"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" envDefault:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" envDefault:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"auditimport"`

	// Endpoint is the OTLP/HTTP collector URL; tracing stays in-process when empty
	Endpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// SampleRatio is the share of new traces recorded (default: 1)
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options converts the import settings for the core service.
func (c ImportConfig) Options() core.Options {
	return core.Options{
		BatchSize:         c.BatchSize,
		MaxFileSize:       c.MaxFileSize,
		MaxConcurrent:     c.MaxConcurrent,
		MaxWait:           c.MaxWait,
		ExecuteTimeout:    c.ExecuteTimeout,
		MaxErrorsReported: c.MaxErrorsReported,
		SampleErrors:      c.SampleErrors,
	}
}

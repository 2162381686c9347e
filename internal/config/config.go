// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Codec    CodecConfig
	Jobs     JobConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, streamed responses)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. When empty the Postgres sink
	// is disabled. Supports both DATABASE_URL and DB_URL env vars.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// Table is the target table for decoded records (default: copybook_records)
	Table string `env:"DB_TABLE" default:"copybook_records"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// CodecConfig holds record layout and wire format settings.
type CodecConfig struct {
	// SchemaDir is the directory of *.yaml / *.json schemas loaded at startup (default: schemas)
	SchemaDir string `env:"COPYBOOK_SCHEMA_DIR" default:"schemas"`

	// Schemas is a comma-separated list of extra schema files to load
	Schemas []string `env:"COPYBOOK_SCHEMAS"`

	// Charset overrides the charset declared by every loaded schema
	Charset string `env:"COPYBOOK_CHARSET"`

	// Framing is fixed or prefixed (default: fixed)
	Framing string `env:"COPYBOOK_FRAMING" default:"fixed"`

	// HeaderWidth is the length prefix width in bytes, 1-8 (default: 4)
	HeaderWidth int `env:"COPYBOOK_HEADER_WIDTH" default:"4"`

	// HeaderInclusive means the length prefix counts its own bytes
	HeaderInclusive bool `env:"COPYBOOK_HEADER_INCLUSIVE" default:"false"`

	// AllowTrailing tolerates unread bytes at the end of a framed record
	AllowTrailing bool `env:"COPYBOOK_ALLOW_TRAILING" default:"false"`

	// SignPositive, SignNegative and SignUnsigned are packed sign nibbles in hex
	SignPositive string `env:"COPYBOOK_SIGN_POSITIVE" default:"C"`
	SignNegative string `env:"COPYBOOK_SIGN_NEGATIVE" default:"D"`
	SignUnsigned string `env:"COPYBOOK_SIGN_UNSIGNED" default:"F"`

	// PadByte fills short bytes fields and fillers without a value, in hex (default: 00)
	PadByte string `env:"COPYBOOK_PAD_BYTE" default:"00"`

	// MaxOccurs caps repetition counts read from the data (default: 65536)
	MaxOccurs int `env:"COPYBOOK_MAX_OCCURS" default:"65536"`

	// CacheLimit bounds the discriminator resolution cache (default: 4096)
	CacheLimit int `env:"COPYBOOK_CACHE_LIMIT" default:"4096"`
}

// JobConfig holds batch decode job settings.
type JobConfig struct {
	// MaxConcurrent is the maximum number of parallel jobs (default: 4)
	MaxConcurrent int `env:"JOB_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a job slot (default: 30s)
	MaxWaitTime time.Duration `env:"JOB_MAX_WAIT_TIME" default:"30s"`

	// MaxInputSize is the maximum accepted input in bytes (default: 256MB)
	MaxInputSize int64 `env:"JOB_MAX_INPUT_SIZE" default:"268435456"`

	// Timeout is the maximum duration for a single job (default: 10m)
	Timeout time.Duration `env:"JOB_TIMEOUT" default:"10m"`

	// FailurePolicy is abort or skip (default: abort)
	FailurePolicy string `env:"JOB_FAILURE_POLICY" default:"abort"`

	// BatchSize is the number of records per database copy (default: 1000)
	BatchSize int `env:"JOB_BATCH_SIZE" default:"1000"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// JobLimit is requests per minute for decode, encode and load endpoints (default: 10)
	JobLimit int `env:"RATE_LIMIT_JOBS" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects /api requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}

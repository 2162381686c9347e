package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/copybook"
	"github.com/JonMunkholm/copybook/internal/record"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Enabled() {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if !tableName.MatchString(c.Database.Table) {
			errs = append(errs, fmt.Sprintf("DB_TABLE (%q) must be a plain or schema-qualified identifier", c.Database.Table))
		}
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Codec validation
	if _, err := record.ParseFraming(c.Codec.Framing); err != nil {
		errs = append(errs, fmt.Sprintf("COPYBOOK_FRAMING: %v", err))
	}
	if c.Codec.HeaderWidth < 1 || c.Codec.HeaderWidth > 8 {
		errs = append(errs, fmt.Sprintf("COPYBOOK_HEADER_WIDTH (%d) must be 1-8", c.Codec.HeaderWidth))
	}
	if c.Codec.Charset != "" {
		if _, err := copybook.LookupCharset(c.Codec.Charset); err != nil {
			errs = append(errs, fmt.Sprintf("COPYBOOK_CHARSET: %v", err))
		}
	}
	if _, err := c.Codec.CodecOptions(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Codec.MaxOccurs <= 0 {
		errs = append(errs, "COPYBOOK_MAX_OCCURS must be positive")
	}
	if c.Codec.CacheLimit < 0 {
		errs = append(errs, "COPYBOOK_CACHE_LIMIT must be non-negative")
	}

	// Job validation
	if c.Jobs.MaxConcurrent <= 0 {
		errs = append(errs, "JOB_MAX_CONCURRENT must be positive")
	}
	if c.Jobs.MaxWaitTime <= 0 {
		errs = append(errs, "JOB_MAX_WAIT_TIME must be positive")
	}
	if c.Jobs.MaxInputSize <= 0 {
		errs = append(errs, "JOB_MAX_INPUT_SIZE must be positive")
	}
	if c.Jobs.Timeout <= 0 {
		errs = append(errs, "JOB_TIMEOUT must be positive")
	}
	if c.Jobs.BatchSize <= 0 {
		errs = append(errs, "JOB_BATCH_SIZE must be positive")
	}
	validPolicies := map[string]bool{"abort": true, "skip": true}
	if !validPolicies[strings.ToLower(c.Jobs.FailurePolicy)] {
		errs = append(errs, fmt.Sprintf("JOB_FAILURE_POLICY (%q) must be one of: abort, skip", c.Jobs.FailurePolicy))
	}

	// Rate limit validation
	if c.Rate.Enabled {
		if c.Rate.RequestsPerMinute <= 0 {
			errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive")
		}
		if c.Rate.JobLimit <= 0 {
			errs = append(errs, "RATE_LIMIT_JOBS must be positive")
		}
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// tableName accepts "table" or "schema.table" with unquoted identifiers.
var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CodecOptions converts the sign nibble and pad byte settings.
func (c *CodecConfig) CodecOptions() (codec.Options, error) {
	var (
		opts = codec.DefaultOptions()
		err  error
	)
	if opts.Signs.Positive, err = codec.ParseNibble(c.SignPositive); err != nil {
		return opts, fmt.Errorf("COPYBOOK_SIGN_POSITIVE: %w", err)
	}
	if opts.Signs.Negative, err = codec.ParseNibble(c.SignNegative); err != nil {
		return opts, fmt.Errorf("COPYBOOK_SIGN_NEGATIVE: %w", err)
	}
	if opts.Signs.Unsigned, err = codec.ParseNibble(c.SignUnsigned); err != nil {
		return opts, fmt.Errorf("COPYBOOK_SIGN_UNSIGNED: %w", err)
	}
	if opts.PadByte, err = codec.ParseByte(c.PadByte); err != nil {
		return opts, fmt.Errorf("COPYBOOK_PAD_BYTE: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("COPYBOOK_SIGN_*: %w", err)
	}
	return opts, nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	if c.Database.Enabled() {
		b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], Table: %q, MaxConns: %d, MinConns: %d}, ",
			c.Database.Table, c.Database.MaxConns, c.Database.MinConns))
	} else {
		b.WriteString("Database: {disabled}, ")
	}
	b.WriteString(fmt.Sprintf("Codec: {SchemaDir: %q, Framing: %q, HeaderWidth: %d, Signs: %s/%s/%s, PadByte: %s}, ",
		c.Codec.SchemaDir, c.Codec.Framing, c.Codec.HeaderWidth,
		c.Codec.SignPositive, c.Codec.SignNegative, c.Codec.SignUnsigned, c.Codec.PadByte))
	b.WriteString(fmt.Sprintf("Jobs: {MaxConcurrent: %d, MaxInputSize: %d, FailurePolicy: %q}, ",
		c.Jobs.MaxConcurrent, c.Jobs.MaxInputSize, c.Jobs.FailurePolicy))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

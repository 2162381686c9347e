package core

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/config"
	"github.com/JonMunkholm/copybook/internal/record"
)

// ServiceConfig holds the settings a Service applies to every job.
type ServiceConfig struct {
	Framing       record.Framing
	Header        record.Header
	AllowTrailing bool
	Codec         codec.Options
	MaxOccurs     int
	CacheLimit    int

	Policy        FailurePolicy
	Timeout       time.Duration
	MaxInputSize  int64
	MaxConcurrent int
	MaxWait       time.Duration
	BatchSize     int
}

// DefaultServiceConfig returns fixed framing, IBM sign nibbles and the
// default job limits.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Framing:       record.FramingFixed,
		Header:        record.DefaultHeader,
		Codec:         codec.DefaultOptions(),
		MaxOccurs:     record.DefaultMaxOccurs,
		CacheLimit:    record.DefaultCacheLimit,
		Policy:        PolicyAbort,
		Timeout:       10 * time.Minute,
		MaxConcurrent: DefaultMaxConcurrentJobs,
		MaxWait:       DefaultMaxWaitTime,
		BatchSize:     1000,
	}
}

// ServiceConfigFrom converts validated application config.
func ServiceConfigFrom(cfg *config.Config) (ServiceConfig, error) {
	sc := DefaultServiceConfig()

	framing, err := record.ParseFraming(cfg.Codec.Framing)
	if err != nil {
		return sc, err
	}
	opts, err := cfg.Codec.CodecOptions()
	if err != nil {
		return sc, err
	}
	policy, err := ParseFailurePolicy(cfg.Jobs.FailurePolicy)
	if err != nil {
		return sc, err
	}

	sc.Framing = framing
	sc.Header = record.Header{Width: cfg.Codec.HeaderWidth, IncludesHeader: cfg.Codec.HeaderInclusive}
	sc.AllowTrailing = cfg.Codec.AllowTrailing
	sc.Codec = opts
	sc.MaxOccurs = cfg.Codec.MaxOccurs
	sc.CacheLimit = cfg.Codec.CacheLimit
	sc.Policy = policy
	sc.Timeout = cfg.Jobs.Timeout
	sc.MaxInputSize = cfg.Jobs.MaxInputSize
	sc.MaxConcurrent = cfg.Jobs.MaxConcurrent
	sc.MaxWait = cfg.Jobs.MaxWaitTime
	sc.BatchSize = cfg.Jobs.BatchSize
	return sc, nil
}

// LoadOptionsFrom returns the registry settings implied by cfg.
func LoadOptionsFrom(cfg *config.Config) LoadOptions {
	return LoadOptions{Charset: cfg.Codec.Charset, CacheLimit: cfg.Codec.CacheLimit}
}

// RecordOptions returns the reader and writer options for a registered
// schema, sharing the entry's resolver.
func (c ServiceConfig) RecordOptions(e *SchemaEntry) []record.Option {
	opts := []record.Option{
		record.WithCodecOptions(c.Codec),
		record.WithMaxOccurs(c.MaxOccurs),
	}
	if e != nil && e.Resolver != nil {
		opts = append(opts, record.WithResolver(e.Resolver))
	}
	if c.Framing == record.FramingPrefixed {
		opts = append(opts, record.WithFraming(c.Framing, c.Header))
	}
	if c.AllowTrailing {
		opts = append(opts, record.WithAllowTrailing())
	}
	return opts
}

// LoadSchemas registers the schema directory and extra files named in cfg.
func LoadSchemas(cfg *config.Config) (int, error) {
	opts := LoadOptionsFrom(cfg)
	n, err := LoadDir(cfg.Codec.SchemaDir, opts)
	if err != nil {
		return n, err
	}
	for _, path := range cfg.Codec.Schemas {
		if _, err := LoadFile(path, opts); err != nil {
			return n, fmt.Errorf("load %s: %w", path, err)
		}
		n++
	}
	return n, nil
}

// Package config loads syncspace settings from YAML with SYNCSPACE_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Config holds all syncspace configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Crypt   CryptConfig   `yaml:"crypt"`
	Source  SourceConfig  `yaml:"source"`
	Remote  RemoteConfig  `yaml:"remote"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Schema is an optional YAML schema file. Empty uses the built-in
	// reading schema.
	Schema string `yaml:"schema"`
}

// StoreConfig configures durable storage.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // sqlite, sqlite-purego, pebble, memory
	Path          string `yaml:"path"`
	CacheSize     int    `yaml:"cache_size"` // 0 disables the read cache
	Compression   bool   `yaml:"compression"`
	Checksum      bool   `yaml:"checksum"`
	FormatVersion int    `yaml:"format_version"`
}

// CryptConfig configures encryption of sensitive fields and blobs.
type CryptConfig struct {
	Mode      string `yaml:"mode"` // none, reversible, aead
	KeyFile   string `yaml:"key_file"`
	SealBlobs bool   `yaml:"seal_blobs"`
}

// SourceConfig configures the orchestrator.
type SourceConfig struct {
	Workers      int    `yaml:"workers"`
	Retries      int    `yaml:"retries"`
	RetryBackoff string `yaml:"retry_backoff"`
	MaxAge       string `yaml:"max_age"` // empty never refetches fresh local data
	Coalesce     bool   `yaml:"coalesce"`
}

// RemoteConfig configures the HTTP remote.
type RemoteConfig struct {
	URL     string            `yaml:"url"`
	Timeout string            `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`   // empty logs to stderr
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

var (
	ValidBackends = []string{"sqlite", "sqlite-purego", "pebble", "memory"}
	ValidModes    = []string{"none", "reversible", "aead"}
	ValidLevels   = []string{"debug", "info", "warn", "error"}
	ValidFormats  = []string{"json", "text"}
)

// DefaultConfig returns the settings used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:       "sqlite",
			Path:          "syncspace.db",
			CacheSize:     1024,
			Compression:   true,
			Checksum:      true,
			FormatVersion: 1,
		},
		Crypt: CryptConfig{
			Mode:    "aead",
			KeyFile: "syncspace.key",
		},
		Source: SourceConfig{
			Workers:      4,
			Retries:      2,
			RetryBackoff: "200ms",
		},
		Remote: RemoteConfig{
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"SYNCSPACE_STORE_BACKEND": &c.Store.Backend,
		"SYNCSPACE_STORE_PATH":    &c.Store.Path,
		"SYNCSPACE_CRYPT_MODE":    &c.Crypt.Mode,
		"SYNCSPACE_KEY_FILE":      &c.Crypt.KeyFile,
		"SYNCSPACE_REMOTE_URL":    &c.Remote.URL,
		"SYNCSPACE_LOG_LEVEL":     &c.Logging.Level,
		"SYNCSPACE_LOG_FORMAT":    &c.Logging.Format,
		"SYNCSPACE_METRICS_ADDR":  &c.Metrics.Addr,
		"SYNCSPACE_SCHEMA":        &c.Schema,
	}
	for env, dst := range str {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("SYNCSPACE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SYNCSPACE_WORKERS: %w", ErrInvalid, err)
		}
		c.Source.Workers = n
	}
	return nil
}

func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// RemoteTimeout is the per-request timeout, 30s when unset or invalid.
func (c *Config) RemoteTimeout() time.Duration {
	return duration(c.Remote.Timeout, 30*time.Second)
}

// RetryBackoff is the first retry delay.
func (c *Config) RetryBackoff() time.Duration {
	return duration(c.Source.RetryBackoff, 200*time.Millisecond)
}

// MaxAge is how old local data may be before Sync refetches it. Zero
// means never.
func (c *Config) MaxAge() time.Duration {
	return duration(c.Source.MaxAge, 0)
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	check := func(name, v string, valid []string) {
		if !slices.Contains(valid, v) {
			errs = append(errs, fmt.Errorf("%s %q must be one of %v", name, v, valid))
		}
	}
	check("store.backend", c.Store.Backend, ValidBackends)
	check("crypt.mode", c.Crypt.Mode, ValidModes)
	check("logging.level", c.Logging.Level, ValidLevels)
	check("logging.format", c.Logging.Format, ValidFormats)

	if c.Store.Backend != "memory" && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Store.FormatVersion < 1 {
		errs = append(errs, errors.New("store.format_version must be at least 1"))
	}
	if c.Store.CacheSize < 0 {
		errs = append(errs, errors.New("store.cache_size must not be negative"))
	}
	if c.Crypt.Mode == "aead" && c.Crypt.KeyFile == "" {
		errs = append(errs, errors.New("crypt.key_file is required for aead"))
	}
	if c.Crypt.SealBlobs && c.Crypt.Mode != "aead" {
		errs = append(errs, errors.New("crypt.seal_blobs needs crypt.mode aead"))
	}
	if c.Source.Workers < 1 {
		errs = append(errs, errors.New("source.workers must be at least 1"))
	}
	for _, d := range []struct{ name, v string }{
		{"remote.timeout", c.Remote.Timeout},
		{"source.retry_backoff", c.Source.RetryBackoff},
		{"source.max_age", c.Source.MaxAge},
	} {
		if d.v == "" {
			continue
		}
		if _, err := time.ParseDuration(d.v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

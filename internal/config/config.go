// ABOUTME: Configuration loading and parsing for scopesync
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to settings left out of the file.
const (
	DefaultMaxBreadcrumbs = 100
	DefaultStoreDriver    = "sqlite"
	DefaultWriteTimeout   = 2 * time.Second
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Config represents the complete scopesync configuration
type Config struct {
	Native  NativeConfig  `yaml:"native" toml:"native"`
	Scope   ScopeConfig   `yaml:"scope" toml:"scope"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// NativeConfig holds the two switches of the native sync gate. Both must be
// on for the scope to be mirrored into the store.
type NativeConfig struct {
	Enabled   bool `yaml:"enabled" toml:"enabled"`
	ScopeSync bool `yaml:"scope_sync" toml:"scope_sync"`
}

// ScopeConfig holds in-memory scope settings
type ScopeConfig struct {
	// MaxBreadcrumbs is nil until defaults are applied so that an explicit 0
	// (breadcrumbs disabled) is kept.
	MaxBreadcrumbs *int `yaml:"max_breadcrumbs,omitempty" toml:"max_breadcrumbs,omitempty"`
}

// StoreConfig holds durable store configuration
type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite, sqlite3, files
	Path   string `yaml:"path" toml:"path"`

	WriteTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for unmarshaling
	WriteTimeoutRaw string `yaml:"write_timeout,omitempty" toml:"write_timeout,omitempty"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns a configuration with native sync switched on and every
// default applied. storePath may be empty.
func Default(storePath string) *Config {
	cfg := &Config{
		Native: NativeConfig{Enabled: true, ScopeSync: true},
		Store:  StoreConfig{Path: storePath},
	}
	applyDefaults(cfg)
	cfg.Store.WriteTimeoutRaw = cfg.Store.WriteTimeout.String()
	return cfg
}

// BreadcrumbCapacity returns the configured breadcrumb capacity.
func (s ScopeConfig) BreadcrumbCapacity() int {
	if s.MaxBreadcrumbs == nil {
		return DefaultMaxBreadcrumbs
	}
	return *s.MaxBreadcrumbs
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes config content in the given format ("yaml" or "toml"),
// applies defaults and validates the result.
func Parse(data []byte, format string) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config format %q", format)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Write saves cfg to path in the format implied by its extension. Parent
// directories are created. An existing file is not overwritten.
func Write(path string, cfg *Config) error {
	var buf bytes.Buffer
	switch formatFor(path) {
	case "toml":
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}

func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Scope.MaxBreadcrumbs == nil {
		n := DefaultMaxBreadcrumbs
		cfg.Scope.MaxBreadcrumbs = &n
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DefaultStoreDriver
	}
	if cfg.Store.WriteTimeout == 0 {
		cfg.Store.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Scope.MaxBreadcrumbs != nil && *c.Scope.MaxBreadcrumbs < 0 {
		return fmt.Errorf("scope.max_breadcrumbs must not be negative, got %d", *c.Scope.MaxBreadcrumbs)
	}

	switch c.Store.Driver {
	case "", "sqlite", "sqlite3", "files":
	default:
		return fmt.Errorf("store.driver must be one of sqlite, sqlite3, files; got %q", c.Store.Driver)
	}

	// The store is only touched when the gate is open
	if c.Native.Enabled && c.Native.ScopeSync && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when native scope sync is enabled")
	}

	if c.Store.WriteTimeout < 0 {
		return fmt.Errorf("store.write_timeout must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Store.WriteTimeoutRaw != "" {
		cfg.Store.WriteTimeout, err = time.ParseDuration(cfg.Store.WriteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing write_timeout %q: %w", cfg.Store.WriteTimeoutRaw, err)
		}
	}

	return nil
}

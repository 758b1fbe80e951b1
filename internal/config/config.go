// ABOUTME: Configuration loading and parsing for atdeck
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete atdeck configuration
type Config struct {
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	ATProto  ATProtoConfig  `yaml:"atproto"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig holds the local HTTP API configuration
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ATProtoConfig holds PDS connection configuration
type ATProtoConfig struct {
	DefaultService string `yaml:"default_service"`

	RequestTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// AuthConfig holds token lifecycle configuration
type AuthConfig struct {
	// CredentialsDir is where raw session tokens live, outside the database
	CredentialsDir string `yaml:"credentials_dir"`

	DefaultTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DefaultTTLRaw string `yaml:"default_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

// applyDefaults fills in values a minimal config file may omit.
func (c *Config) applyDefaults() {
	if c.API.Addr == "" {
		c.API.Addr = "127.0.0.1:4848"
	}
	if c.ATProto.DefaultService == "" {
		c.ATProto.DefaultService = "https://bsky.social"
	}
	if c.ATProto.RequestTimeout == 0 {
		c.ATProto.RequestTimeout = 30 * time.Second
	}
	if c.Auth.DefaultTTL == 0 {
		c.Auth.DefaultTTL = 2 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.CredentialsDir == "" {
		return fmt.Errorf("auth.credentials_dir is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.ATProto.RequestTimeoutRaw != "" {
		cfg.ATProto.RequestTimeout, err = time.ParseDuration(cfg.ATProto.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.ATProto.RequestTimeoutRaw, err)
		}
	}

	if cfg.Auth.DefaultTTLRaw != "" {
		cfg.Auth.DefaultTTL, err = time.ParseDuration(cfg.Auth.DefaultTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing default_ttl %q: %w", cfg.Auth.DefaultTTLRaw, err)
		}
	}

	return nil
}

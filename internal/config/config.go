// ABOUTME: Configuration loading and parsing for tavola-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when the config file leaves them unset
const (
	DefaultHTTPAddr       = "0.0.0.0:8080"
	DefaultToolTimeout    = 30 * time.Second
	DefaultClockSkew      = 2 * time.Minute
	DefaultKeyCacheTTL    = time.Hour
	DefaultKeyStaleFor    = 24 * time.Hour
	DefaultSessionIdleTTL = 30 * time.Minute
)

// MaxClockSkew bounds auth.clock_skew; anything larger is a config error.
const MaxClockSkew = 5 * time.Minute

// Config represents the complete tavola-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicURL is the externally reachable base URL of this gateway. It is
	// the protected-resource identifier advertised in metadata.
	PublicURL string `yaml:"public_url"`

	// ToolTimeout bounds a single tool handler invocation.
	ToolTimeout time.Duration `yaml:"-"`

	ToolTimeoutRaw string `yaml:"tool_timeout"`
}

// AuthConfig holds token validation and authorization configuration
type AuthConfig struct {
	Enforce bool `yaml:"enforce"`
	// Issuer is the expected token issuer. Derived from tenant_id when empty.
	Issuer   string `yaml:"issuer"`
	TenantID string `yaml:"tenant_id"`
	// JWKSURL is the signing-key document location. Derived from tenant_id
	// when empty.
	JWKSURL        string   `yaml:"jwks_url"`
	Audiences      []string `yaml:"audiences"`
	AllowedCallers []string `yaml:"allowed_callers"`
	// Scopes are advertised in protected-resource metadata. They are never
	// enforced; the caller allowlist is the sole enforcement mechanism.
	Scopes []string `yaml:"scopes"`

	ClockSkew   time.Duration `yaml:"-"`
	KeyCacheTTL time.Duration `yaml:"-"`
	KeyStaleFor time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ClockSkewRaw   string `yaml:"clock_skew"`
	KeyCacheTTLRaw string `yaml:"key_cache_ttl"`
	KeyStaleForRaw string `yaml:"key_stale_for"`
}

// SessionsConfig holds MCP session configuration
type SessionsConfig struct {
	Stateful bool `yaml:"stateful"`

	IdleTTL time.Duration `yaml:"-"`

	IdleTTLRaw string `yaml:"idle_ttl"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// SeedPath is an optional TOML fixture loaded into an empty database.
	SeedPath string `yaml:"seed_path"`
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset fields, deriving issuer and JWKS URL from the
// tenant when they are not given explicitly.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ToolTimeout == 0 {
		c.Server.ToolTimeout = DefaultToolTimeout
	}
	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = DefaultClockSkew
	}
	if c.Auth.KeyCacheTTL == 0 {
		c.Auth.KeyCacheTTL = DefaultKeyCacheTTL
	}
	if c.Auth.KeyStaleFor == 0 {
		c.Auth.KeyStaleFor = DefaultKeyStaleFor
	}
	if c.Sessions.IdleTTL == 0 {
		c.Sessions.IdleTTL = DefaultSessionIdleTTL
	}
	if c.Auth.TenantID != "" {
		if c.Auth.Issuer == "" {
			c.Auth.Issuer = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", c.Auth.TenantID)
		}
		if c.Auth.JWKSURL == "" {
			c.Auth.JWKSURL = fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", c.Auth.TenantID)
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Server.ToolTimeout <= 0 {
		return fmt.Errorf("server.tool_timeout must be positive")
	}

	if c.Auth.ClockSkew < 0 {
		return fmt.Errorf("auth.clock_skew must not be negative")
	}
	if c.Auth.ClockSkew > MaxClockSkew {
		return fmt.Errorf("auth.clock_skew must not exceed %s", MaxClockSkew)
	}
	if c.Auth.KeyStaleFor < c.Auth.KeyCacheTTL {
		return fmt.Errorf("auth.key_stale_for must be at least auth.key_cache_ttl")
	}
	if c.Sessions.IdleTTL <= 0 {
		return fmt.Errorf("sessions.idle_ttl must be positive")
	}

	if !c.Auth.Enforce {
		return nil
	}

	// Enforcement requires the full validation chain to be configured.
	if c.Server.PublicURL == "" {
		return fmt.Errorf("server.public_url is required when auth.enforce is set")
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("auth.issuer (or auth.tenant_id) is required when auth.enforce is set")
	}
	if c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth.jwks_url (or auth.tenant_id) is required when auth.enforce is set")
	}
	if len(c.Auth.Audiences) == 0 {
		return fmt.Errorf("auth.audiences must contain at least one entry when auth.enforce is set")
	}
	if len(c.Auth.AllowedCallers) == 0 {
		return fmt.Errorf("auth.allowed_callers must contain at least one entry when auth.enforce is set")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Server.ToolTimeoutRaw, &cfg.Server.ToolTimeout, "tool_timeout"},
		{cfg.Auth.ClockSkewRaw, &cfg.Auth.ClockSkew, "clock_skew"},
		{cfg.Auth.KeyCacheTTLRaw, &cfg.Auth.KeyCacheTTL, "key_cache_ttl"},
		{cfg.Auth.KeyStaleForRaw, &cfg.Auth.KeyStaleFor, "key_stale_for"},
		{cfg.Sessions.IdleTTLRaw, &cfg.Sessions.IdleTTL, "idle_ttl"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

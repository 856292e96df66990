// ABOUTME: Configuration loading and parsing for keydrop
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete keydrop configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Site      SiteConfig      `yaml:"site"`
	Matrix    MatrixConfig    `yaml:"matrix"`
	Issuer    IssuerConfig    `yaml:"issuer"`
	Auth      AuthConfig      `yaml:"auth"`
	Admins    []string        `yaml:"admins"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve TLS inside the tailnet with Tailscale certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SiteConfig holds the public login site settings used to build access links
type SiteConfig struct {
	// BaseURL is the external URL access links are composed from,
	// e.g. "https://account.example.com". No trailing slash.
	BaseURL string `yaml:"base_url"`
}

// MatrixConfig holds Matrix bot configuration
type MatrixConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Homeserver      string   `yaml:"homeserver"`
	UserID          string   `yaml:"user_id"`
	AccessToken     string   `yaml:"access_token"`
	AllowedRooms    []string `yaml:"allowed_rooms"`
	AuditRoom       string   `yaml:"audit_room"`
	CommandPrefix   string   `yaml:"command_prefix"`
	TypingIndicator bool     `yaml:"typing_indicator"`
	RecoveryKey     string   `yaml:"recovery_key"`   // enables E2EE when set
	CryptoDBPath    string   `yaml:"crypto_db_path"` // defaults next to database.path
}

// IssuerConfig holds credential issuance settings
type IssuerConfig struct {
	TokenLength int  `yaml:"token_length"`
	StockPublic bool `yaml:"stock_public"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	APISecret string        `yaml:"api_secret"`
	TokenTTL  time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding fields are unset.
const (
	DefaultHTTPAddr      = ":8080"
	DefaultTokenLength   = 10
	DefaultCommandPrefix = "!kd"
	DefaultTokenTTL      = 24 * time.Hour
)

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

// applyDefaults fills unset fields with their defaults and normalizes
// values that have a single canonical form.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Issuer.TokenLength == 0 {
		c.Issuer.TokenLength = DefaultTokenLength
	}
	if c.Matrix.CommandPrefix == "" {
		c.Matrix.CommandPrefix = DefaultCommandPrefix
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	// Access links are composed as base_url + "/" + token
	c.Site.BaseURL = strings.TrimRight(c.Site.BaseURL, "/")

	// Crypto store lives next to the main database unless placed explicitly
	if c.Matrix.CryptoDBPath == "" && c.Matrix.RecoveryKey != "" && c.Database.Path != "" {
		c.Matrix.CryptoDBPath = filepath.Join(filepath.Dir(c.Database.Path), "matrix-crypto.db")
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url is required")
	}

	if c.Issuer.TokenLength < 0 {
		return fmt.Errorf("issuer.token_length must be positive")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required when matrix is enabled")
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required when matrix is enabled")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required when matrix is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}

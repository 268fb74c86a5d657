// ABOUTME: Configuration loading and parsing for satchel
// ABOUTME: Loads TOML config with environment variable expansion and validation

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the complete satchel configuration.
type Config struct {
	Matrix   MatrixConfig   `toml:"matrix"`
	Database DatabaseConfig `toml:"database"`
	Bookmark BookmarkConfig `toml:"bookmark"`
	Logging  LoggingConfig  `toml:"logging"`
}

// MatrixConfig holds homeserver connection configuration.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// BookmarkConfig holds the trigger and lifecycle tuning knobs.
type BookmarkConfig struct {
	// CommandPrefix is the bookmark command word. Default "!bookmark".
	CommandPrefix string `toml:"command_prefix"`

	// Emoji creates a bookmark when reacted onto a community message.
	Emoji string `toml:"emoji"`

	// DeleteEmoji removes a bookmark when reacted onto a delivered copy.
	DeleteEmoji string `toml:"delete_emoji"`

	// CommunityID scopes bookmarks. Empty scopes each room by itself.
	CommunityID string `toml:"community_id"`

	// AllowedRooms restricts which rooms the create triggers listen in.
	AllowedRooms []string `toml:"allowed_rooms"`

	// ResolveParallelism bounds concurrent owner lookups during the startup
	// reconciliation pass.
	ResolveParallelism int `toml:"resolve_parallelism"`

	// DedupeTTL is how long trigger events are remembered for replay
	// suppression.
	DedupeTTL time.Duration `toml:"-"`

	// Raw string value for TOML unmarshaling
	DedupeTTLRaw string `toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (${VAR} syntax)
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	if cfg.Bookmark.DedupeTTLRaw != "" {
		d, err := time.ParseDuration(cfg.Bookmark.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Bookmark.DedupeTTLRaw, err)
		}
		cfg.Bookmark.DedupeTTL = d
	}
	return nil
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") {
		return fmt.Errorf("matrix.user_id must be a full Matrix ID (@user:server)")
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Bookmark.ResolveParallelism < 0 {
		return fmt.Errorf("bookmark.resolve_parallelism must not be negative")
	}
	return nil
}

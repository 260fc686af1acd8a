package config

import (
	"time"

	redisclient "github.com/vietddude/recoveryd/internal/infra/redis"
	"github.com/vietddude/recoveryd/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Recovery RecoveryConfig     `yaml:"recovery"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RecoveryConfig holds engine defaults.
type RecoveryConfig struct {
	// DefaultSelectionTimeout applies to pushed errors that do not set
	// their own. Zero means no automatic timeout.
	DefaultSelectionTimeout time.Duration `yaml:"default_selection_timeout"`

	// MaxRetries bounds policy-wrapped operations.
	MaxRetries int `yaml:"max_retries"`

	// AuditLimit caps the records returned by the audit listing.
	AuditLimit int `yaml:"audit_limit"`
}

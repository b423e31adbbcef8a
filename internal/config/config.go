package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// EnrichmentConfig tunes the task ledger and its surrounding policies.
type EnrichmentConfig struct {
	// Enabled is the administrative switch for the whole subsystem.
	// When false, enqueue paths are logged no-ops.
	Enabled bool `mapstructure:"enabled"`

	// DefaultLease is applied when a claim does not request a lease duration.
	DefaultLease time.Duration `mapstructure:"default_lease" validate:"required"`

	// MaxLease caps requested lease durations; MinLease floors them.
	MinLease time.Duration `mapstructure:"min_lease" validate:"required"`
	MaxLease time.Duration `mapstructure:"max_lease" validate:"required,gtefield=MinLease"`

	// RetryBackoff is how long a failed task waits before it is eligible
	// for a fresh claim.
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"required"`

	// MaxAttempts is the retry budget stamped onto new tasks.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gte=1"`

	// ScanCap bounds the chunk scans behind stats and backfill; anything
	// computed from a capped scan is approximate past this many rows.
	ScanCap int `mapstructure:"scan_cap" validate:"required,gte=1"`

	// EnqueueBatchSize bounds the per-transaction ledger write size during
	// bulk backfill.
	EnqueueBatchSize int `mapstructure:"enqueue_batch_size" validate:"required,gte=1"`

	// SweepInterval is how often the background stale-lease sweep runs.
	// Zero disables the background sweep; the endpoint still works.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

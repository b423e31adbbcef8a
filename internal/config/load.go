package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables (prefixed
// ENRICH_, nested keys joined with underscores, e.g. ENRICH_DATABASE_URL)
// take precedence over file values, which take precedence over defaults.
// Returns a populated, validated Config or an error.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every key so that AutomaticEnv
// can see them (viper only consults the environment for known keys).
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.url", "")

	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.default_lease", 300*time.Second)
	v.SetDefault("enrichment.min_lease", 1*time.Second)
	v.SetDefault("enrichment.max_lease", 3600*time.Second)
	v.SetDefault("enrichment.retry_backoff", 60*time.Second)
	v.SetDefault("enrichment.max_attempts", 3)
	v.SetDefault("enrichment.scan_cap", 10000)
	v.SetDefault("enrichment.enqueue_batch_size", 100)
	v.SetDefault("enrichment.sweep_interval", 60*time.Second)
}

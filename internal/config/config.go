// Package config loads pipeline configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable the pipeline reads from the environment.
// The same flat env vars serve the Lambda entry points and the CLI.
type Config struct {
	// DestinationBucket receives resized objects.
	DestinationBucket string `env:"DEST_BUCKET_NAME"`
	// DestinationPrefix is prepended to the source object's base name
	// to form the destination key.
	DestinationPrefix string `env:"DEST_KEY_PREFIX" envDefault:"resized-"`
	// ResizeRatio scales both axes. Must be in (0, 1]: the pipeline
	// never upscales.
	ResizeRatio float64 `env:"RESIZE_RATIO" envDefault:"0.5"`
	// RecordTable is the DynamoDB table receiving metadata records.
	RecordTable string `env:"RECORD_TABLE_NAME"`
	// StagingRoot is where per-event scratch directories are created.
	// Empty means os.TempDir().
	StagingRoot string `env:"STAGING_DIR"`
	// MaxPixels caps decoded image area to protect Lambda memory.
	MaxPixels int64 `env:"MAX_IMAGE_PIXELS" envDefault:"100000000"`
	// RetryAttempts bounds tries for fetch, upload, and persist.
	RetryAttempts int `env:"RETRY_ATTEMPTS" envDefault:"3"`
	// RetryBackoff is the delay before the first retry; it doubles on
	// each subsequent one.
	RetryBackoff time.Duration `env:"RETRY_BACKOFF" envDefault:"200ms"`
	// LogLevel selects the zerolog level: debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.StagingRoot == "" {
		cfg.StagingRoot = os.TempDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. Resource names (bucket, table) are
// checked by the entry points that need them, so the offline CLI can
// run without any AWS configuration.
func (c *Config) Validate() error {
	if c.ResizeRatio <= 0 || c.ResizeRatio > 1 {
		return fmt.Errorf("RESIZE_RATIO %v out of range (0, 1]", c.ResizeRatio)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("RETRY_BACKOFF must not be negative, got %s", c.RetryBackoff)
	}
	if c.MaxPixels < 1 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxPixels)
	}
	return nil
}

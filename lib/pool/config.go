package pool

import (
	"fmt"
	"time"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

// Config configures a resource pool.
type Config struct {
	// MinSize is the number of resources created on Start and kept alive
	// by the reaper.
	// Default: 1
	MinSize int `json:"min_size" toml:"min_size" yaml:"min_size"`
	// MaxSize bounds the number of live resources.
	// Default: 10
	MaxSize int `json:"max_size" toml:"max_size" yaml:"max_size"`
	// IdleTimeout is how long a resource may sit unused before the reaper
	// evicts it. Zero disables idle eviction.
	// Default: 5 minutes
	IdleTimeout time.Duration `json:"idle_timeout" toml:"idle_timeout" yaml:"idle_timeout"`
	// MaxLifetime is the maximum age of a resource regardless of use.
	// Zero disables lifetime eviction.
	// Default: 1 hour
	MaxLifetime time.Duration `json:"max_lifetime" toml:"max_lifetime" yaml:"max_lifetime"`
	// AcquireTimeout bounds Acquire when the caller's context has no deadline.
	// Zero means wait until the context is done.
	// Default: 10 seconds
	AcquireTimeout time.Duration `json:"acquire_timeout" toml:"acquire_timeout" yaml:"acquire_timeout"`
	// ValidationInterval is how often the reaper runs.
	// Zero disables the background reaper.
	// Default: 1 minute
	ValidationInterval time.Duration `json:"validation_interval" toml:"validation_interval" yaml:"validation_interval"`
	// StopTimeout bounds how long Stop waits for the reaper to exit.
	// Default: 5 seconds
	StopTimeout time.Duration `json:"stop_timeout" toml:"stop_timeout" yaml:"stop_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinSize:            1,
		MaxSize:            10,
		IdleTimeout:        5 * time.Minute,
		MaxLifetime:        time.Hour,
		AcquireTimeout:     10 * time.Second,
		ValidationInterval: time.Minute,
		StopTimeout:        5 * time.Second,
	}
}

// Validate checks the configuration for errors.
// All failures wrap apperrors.ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validateSizes(c.MinSize, c.MaxSize); err != nil {
		return err
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"idle_timeout", c.IdleTimeout},
		{"max_lifetime", c.MaxLifetime},
		{"acquire_timeout", c.AcquireTimeout},
		{"validation_interval", c.ValidationInterval},
		{"stop_timeout", c.StopTimeout},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%w: %s must not be negative", apperrors.ErrInvalidConfig, d.name)
		}
	}
	return nil
}

func validateSizes(minSize, maxSize int) error {
	if minSize < 0 {
		return fmt.Errorf("%w: min_size %d is negative", apperrors.ErrInvalidConfig, minSize)
	}
	if maxSize < minSize {
		return fmt.Errorf("%w: max_size %d is below min_size %d", apperrors.ErrInvalidConfig, maxSize, minSize)
	}
	if maxSize < 1 {
		return fmt.Errorf("%w: max_size must be at least 1", apperrors.ErrInvalidConfig)
	}
	return nil
}

func (c Config) stopTimeout() time.Duration {
	if c.StopTimeout <= 0 {
		return 5 * time.Second
	}
	return c.StopTimeout
}

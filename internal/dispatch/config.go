package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dedup"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 500 * time.Millisecond
	maxRetryBackoff      = 15 * time.Second
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid dispatcher config")

// Config holds dispatcher settings.
type Config struct {
	RetentionPeriod    time.Duration   // how long an identity suppresses repeats
	DigestAlgorithm    dedup.Algorithm // sha1 or blake2b
	CanonicalizeDetail bool            // mask addresses and whitespace before hashing
	RetryAttempts      int             // whole-unit attempts on transient store errors
	RetryBackoff       time.Duration   // first retry delay, doubled per attempt
	SweepInterval      time.Duration   // background sweep period; 0 disables
}

// DefaultConfig returns the settings used when no environment is set.
func DefaultConfig() *Config {
	return &Config{
		RetentionPeriod: dedup.DefaultRetentionPeriod,
		DigestAlgorithm: dedup.AlgorithmSHA1,
		RetryAttempts:   defaultRetryAttempts,
		RetryBackoff:    defaultRetryBackoff,
	}
}

// LoadConfig reads dispatcher settings from the environment.
func LoadConfig() (*Config, error) {
	algorithm, err := dedup.ParseAlgorithm(config.GetEnvStr("DISPATCHER_DIGEST_ALGORITHM", string(dedup.AlgorithmSHA1)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := &Config{
		RetentionPeriod:    config.GetEnvDuration("DISPATCHER_RETENTION_PERIOD", dedup.DefaultRetentionPeriod),
		DigestAlgorithm:    algorithm,
		CanonicalizeDetail: config.GetEnvBool("DISPATCHER_CANONICALIZE_DETAIL", false),
		RetryAttempts:      config.GetEnvInt("DISPATCHER_RETRY_ATTEMPTS", defaultRetryAttempts),
		RetryBackoff:       config.GetEnvDuration("DISPATCHER_RETRY_BACKOFF", defaultRetryBackoff),
		SweepInterval:      config.GetEnvDuration("DISPATCHER_SWEEP_INTERVAL", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.RetentionPeriod <= 0:
		return fmt.Errorf("%w: retention period must be positive, got %s", ErrInvalidConfig, c.RetentionPeriod)
	case c.RetryAttempts < 1:
		return fmt.Errorf("%w: retry attempts must be at least 1, got %d", ErrInvalidConfig, c.RetryAttempts)
	case c.RetryBackoff < 0:
		return fmt.Errorf("%w: retry backoff cannot be negative", ErrInvalidConfig)
	case c.SweepInterval < 0:
		return fmt.Errorf("%w: sweep interval cannot be negative", ErrInvalidConfig)
	}

	if _, err := dedup.ParseAlgorithm(string(c.DigestAlgorithm)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}

// backoff returns the delay before the given retry (1-based), capped at maxRetryBackoff.
func (c *Config) backoff(retry int) time.Duration {
	d := c.RetryBackoff

	for i := 1; i < retry; i++ {
		d *= 2
		if d > maxRetryBackoff {
			return maxRetryBackoff
		}
	}

	return d
}

package dedup

import (
	"log/slog"
	"time"

	"github.com/monitorhub/dispatcher/internal/config"
)

// Clock returns the current time. Tests substitute a fixed or advancing clock.
type Clock func() time.Time

type (
	options struct {
		clock  Clock
		logger *slog.Logger
	}

	// Option configures a Guard or Sweeper.
	Option func(*options)
)

// WithClock sets the time source used for first-seen timestamps and retention cutoffs.
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func applyOptions(opts []Option) options {
	o := options{}

	for _, opt := range opts {
		opt(&o)
	}

	if o.clock == nil {
		o.clock = time.Now
	}

	if o.logger == nil {
		o.logger = config.NewLogger()
	}

	return o
}

package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/monitorhub/dispatcher/internal/storage"
)

const (
	// DefaultRetentionPeriod is how long a notified identity suppresses repeats.
	DefaultRetentionPeriod = 7 * 24 * time.Hour

	// sweepQueryTimeout bounds a single background sweep.
	sweepQueryTimeout = 30 * time.Second
	// shutdownTimeout is the maximum time Close waits for the background loop.
	shutdownTimeout = 5 * time.Second
)

var (
	// ErrInvalidRetention is returned for a non-positive retention period.
	ErrInvalidRetention = errors.New("retention period must be greater than zero")
	// ErrInvalidSweepInterval is returned when Start is given a non-positive interval.
	ErrInvalidSweepInterval = errors.New("sweep interval must be greater than zero")
	// ErrSweepFailed wraps store errors raised while sweeping.
	ErrSweepFailed = errors.New("retention sweep failed")
	// ErrSweeperStarted is returned when Start is called twice.
	ErrSweeperStarted = errors.New("sweeper already started")
)

type (
	// Pruner deletes records by age. *storage.FailureStore implements it.
	Pruner interface {
		DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	}

	// Sweeper deletes records whose first_seen_at is older than now minus the retention period.
	//
	// Sweep runs synchronously before every dedup attempt. Start additionally runs it on a
	// ticker until Close, for processes that check rarely.
	Sweeper struct {
		store     Pruner
		retention time.Duration
		clock     Clock
		logger    *slog.Logger

		mu        sync.Mutex
		started   bool
		stop      chan struct{}
		done      chan struct{}
		closeOnce sync.Once
	}
)

// NewSweeper creates a Sweeper for store with the given retention period.
func NewSweeper(store Pruner, retention time.Duration, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, ErrNilDependency
	}

	if retention <= 0 {
		return nil, ErrInvalidRetention
	}

	o := applyOptions(opts)

	return &Sweeper{
		store:     store,
		retention: retention,
		clock:     o.clock,
		logger:    o.logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Retention returns the configured retention period.
func (s *Sweeper) Retention() time.Duration {
	return s.retention
}

// Sweep deletes every record first seen before now minus the retention period and returns the
// number deleted. A record exactly at the cutoff survives. Store failures are reported as
// transient so that callers retry the whole notify unit.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	startTime := time.Now()
	cutoff := s.clock().UTC().Add(-s.retention)

	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to sweep expired failure records",
			slog.String("error", err.Error()),
			slog.Int64("rows_deleted_before_error", deleted),
			slog.Time("cutoff", cutoff))

		if storage.IsTransient(err) {
			return deleted, fmt.Errorf("%w: %w", ErrSweepFailed, err)
		}

		return deleted, fmt.Errorf("%w: %w: %w", ErrSweepFailed, storage.ErrTransient, err)
	}

	level := slog.LevelDebug
	if deleted > 0 {
		level = slog.LevelInfo
	}

	s.logger.Log(ctx, level, "Swept expired failure records",
		slog.Int64("rows_deleted", deleted),
		slog.Time("cutoff", cutoff),
		slog.Duration("duration", time.Since(startTime)))

	return deleted, nil
}

// Start runs Sweep every interval in a background goroutine until Close.
func (s *Sweeper) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidSweepInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSweeperStarted
	}

	s.started = true

	go s.run(interval)

	s.logger.Info("Started background sweeper",
		slog.Duration("interval", interval),
		slog.Duration("retention", s.retention))

	return nil
}

// Close stops the background loop if it was started. Safe to call multiple times.
// It does not close the store.
func (s *Sweeper) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)

		s.mu.Lock()
		started := s.started
		s.mu.Unlock()

		if !started {
			return
		}

		select {
		case <-s.done:
			s.logger.Info("Background sweeper stopped gracefully")
		case <-time.After(shutdownTimeout):
			s.logger.Warn("Background sweeper did not stop within timeout")
		}
	})

	return nil
}

func (s *Sweeper) run(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-s.stop:
			cancel()
			s.logger.Info("Stopping background sweeper")

			return
		case <-ticker.C:
			sweepCtx, sweepCancel := context.WithTimeout(ctx, sweepQueryTimeout)
			_, _ = s.Sweep(sweepCtx) // logged inside
			sweepCancel()
		}
	}
}

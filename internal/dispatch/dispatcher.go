// Package dispatch runs registered health checks and turns their failures into at most one
// notification per failure identity per retention window.
//
// The notify sequence for a failure is:
//
//	sweep expired records
//	BEGIN
//	  insert the failure identity      (conflict → suppressed, ROLLBACK)
//	  send through the transport       (error → ROLLBACK, record not kept)
//	COMMIT
//
// The whole sequence is the retry unit for transient store errors. It is never retried once
// the transport has been called.
package dispatch

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dedup"
	"github.com/monitorhub/dispatcher/internal/storage"
)

var (
	// ErrNoStore is returned by New without a store.
	ErrNoStore = errors.New("failure record store is nil")
	// ErrNoRegistry is returned by New without a registry.
	ErrNoRegistry = errors.New("check registry is nil")
)

// Outcome is the result of the notify sequence for one failure.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeNotified
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotified:
		return "notified"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "failed"
	}
}

type (
	// Store is the failure record store the dispatcher needs. *storage.FailureStore
	// implements it.
	Store interface {
		dedup.Recorder
		dedup.Pruner
		BeginTx(ctx context.Context) (*sql.Tx, error)
		DeleteAll(ctx context.Context) (int64, error)
		Count(ctx context.Context) (int64, error)
		HealthCheck(ctx context.Context) error
	}

	// Dispatcher runs checks and owns the notify sequence.
	Dispatcher struct {
		store     Store
		registry  *Registry
		transport Transport
		guard     *dedup.Guard
		sweeper   *dedup.Sweeper
		cfg       *Config
		clock     dedup.Clock
		logger    *slog.Logger
		hostname  string

		mu         sync.RWMutex
		lastReport *Report
	}

	// Option configures optional Dispatcher behavior.
	Option func(*Dispatcher)
)

// WithClock sets the time source for first-seen timestamps and retention cutoffs.
func WithClock(clock dedup.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// WithLogger sets the logger shared with the guard and sweeper.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithHostname overrides the hostname stamped on notifications.
func WithHostname(hostname string) Option {
	return func(d *Dispatcher) {
		d.hostname = hostname
	}
}

// New wires a Dispatcher. A nil cfg means DefaultConfig.
func New(store Store, registry *Registry, transport Transport, cfg *Config, opts ...Option) (*Dispatcher, error) {
	switch {
	case store == nil:
		return nil, ErrNoStore
	case registry == nil:
		return nil, ErrNoRegistry
	case transport == nil:
		return nil, ErrNoTransport
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		store:     store,
		registry:  registry,
		transport: transport,
		cfg:       cfg,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.clock == nil {
		d.clock = time.Now
	}

	if d.logger == nil {
		d.logger = config.NewLogger()
	}

	if d.hostname == "" {
		d.hostname, _ = os.Hostname()
	}

	hasher, err := dedup.NewHasher(cfg.DigestAlgorithm, cfg.CanonicalizeDetail)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	shared := []dedup.Option{dedup.WithClock(d.clock), dedup.WithLogger(d.logger)}

	if d.guard, err = dedup.NewGuard(store, hasher, shared...); err != nil {
		return nil, err
	}

	if d.sweeper, err = dedup.NewSweeper(store, cfg.RetentionPeriod, shared...); err != nil {
		return nil, err
	}

	return d, nil
}

// Logger returns the dispatcher logger, for use inside checks.
func (d *Dispatcher) Logger() *slog.Logger {
	if d == nil {
		return slog.Default()
	}

	return d.logger
}

// Config returns the dispatcher settings.
func (d *Dispatcher) Config() Config {
	return *d.cfg
}

// Registry returns the check registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Sweeper returns the retention sweeper, for starting the background loop.
func (d *Dispatcher) Sweeper() *dedup.Sweeper {
	return d.sweeper
}

// LastReport returns the report of the most recent RunAll, or nil.
func (d *Dispatcher) LastReport() *Report {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.lastReport
}

// RunAll freezes the registry and runs every check in registration order. A failing notify
// sequence is logged and counted; it never stops the remaining checks. Cancelling ctx skips
// the checks not yet started.
func (d *Dispatcher) RunAll(ctx context.Context) *Report {
	d.registry.Freeze()

	checks := d.registry.Checks()
	report := &Report{
		RunID:     uuid.New(),
		StartedAt: d.clock().UTC(),
		Results:   make([]Result, 0, len(checks)),
	}

	logger := d.logger.With(slog.String("run_id", report.RunID.String()))
	logger.Debug("Starting check run", slog.Int("checks", len(checks)))

	for _, check := range checks {
		if ctx.Err() != nil {
			report.add(Result{Check: check.Name, Status: StatusSkipped})

			continue
		}

		report.add(d.runCheck(ctx, logger, check))
	}

	report.FinishedAt = d.clock().UTC()

	d.mu.Lock()
	d.lastReport = report
	d.mu.Unlock()

	level := slog.LevelInfo
	if report.HasErrors() {
		level = slog.LevelWarn
	}

	logger.Log(ctx, level, "Check run completed",
		slog.Int("checked", report.Checked),
		slog.Int("passed", report.Passed),
		slog.Int("notified", report.Notified),
		slog.Int("suppressed", report.Suppressed),
		slog.Int("errored", report.Errored),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	return report
}

func (d *Dispatcher) runCheck(ctx context.Context, logger *slog.Logger, check Check) Result {
	start := time.Now()

	err := check.invoke(ctx, d)
	if err == nil {
		return Result{Check: check.Name, Status: StatusPassed, Duration: time.Since(start)}
	}

	failure := NewCheckFailure(check.Name, err)

	logger.Debug("Check failed",
		slog.String("check", check.Name),
		slog.String("kind", failure.Kind),
		slog.String("detail", failure.Detail))

	outcome, notifyErr := d.Notify(ctx, failure)

	res := Result{
		Check:    check.Name,
		Kind:     failure.Kind,
		Detail:   failure.Detail,
		Duration: time.Since(start),
	}

	switch {
	case notifyErr != nil:
		res.Status = StatusErrored
		res.Error = notifyErr.Error()

		logger.Error("Failed to dispatch notification",
			slog.String("check", check.Name),
			slog.String("kind", failure.Kind),
			slog.Bool("transport_error", IsTransportError(notifyErr)),
			slog.String("error", notifyErr.Error()))
	case outcome == OutcomeSuppressed:
		res.Status = StatusSuppressed
	default:
		res.Status = StatusNotified
	}

	return res
}

// Notify runs the notify sequence for failure, retrying the whole unit on transient store
// errors. Transport errors are returned as *TransportError without retry.
func (d *Dispatcher) Notify(ctx context.Context, failure *CheckFailure) (Outcome, error) {
	for attempt := 1; ; attempt++ {
		outcome, sent, err := d.notifyOnce(ctx, failure)
		if err == nil {
			return outcome, nil
		}

		if sent || !storage.IsTransient(err) || attempt >= d.cfg.RetryAttempts {
			return outcome, err
		}

		delay := d.cfg.backoff(attempt)

		d.logger.Warn("Transient store error, retrying notify sequence",
			slog.String("check", failure.CheckName),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return OutcomeFailed, fmt.Errorf("notify cancelled after %d attempts: %w", attempt, errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}

// notifyOnce reports sent=true once the transport has been called, after which the unit must
// not be repeated.
func (d *Dispatcher) notifyOnce(ctx context.Context, failure *CheckFailure) (Outcome, bool, error) {
	if _, err := d.sweeper.Sweep(ctx); err != nil {
		return OutcomeFailed, false, err
	}

	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return OutcomeFailed, false, err
	}

	defer func() {
		_ = tx.Rollback() // no-op after Commit
	}()

	rec, created, err := d.guard.RecordIfNew(ctx, tx, failure.CheckName, failure.Kind, failure.Detail)
	if err != nil {
		return OutcomeFailed, false, err
	}

	if !created {
		// Nothing was written. PostgreSQL has already aborted the transaction, so it ends with
		// the deferred rollback rather than a commit.
		return OutcomeSuppressed, false, nil
	}

	notification := Notification{
		ID:          uuid.New(),
		CheckName:   failure.CheckName,
		FailureKind: failure.Kind,
		Detail:      failure.Detail,
		Trace:       failure.Trace,
		Digest:      hex.EncodeToString(rec.FailureDigest),
		FirstSeenAt: rec.FirstSeenAt,
		Hostname:    d.hostname,
	}

	if err := d.transport.Send(ctx, notification); err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Transport: d.transport.Name(), Err: err}
		}

		return OutcomeFailed, true, err
	}

	if err := tx.Commit(); err != nil {
		// Delivered but not recorded: the next cycle notifies again.
		return OutcomeNotified, true, fmt.Errorf("failed to commit failure record after delivery: %w", err)
	}

	d.logger.Info("Notification dispatched",
		slog.String("check", failure.CheckName),
		slog.String("kind", failure.Kind),
		slog.String("notification_id", notification.ID.String()),
		slog.String("transport", d.transport.Name()))

	return OutcomeNotified, true, nil
}

// Sweep deletes expired records now.
func (d *Dispatcher) Sweep(ctx context.Context) (int64, error) {
	return d.sweeper.Sweep(ctx)
}

// ClearAll deletes every failure record regardless of age. Identical failures notify again
// afterwards.
func (d *Dispatcher) ClearAll(ctx context.Context) (int64, error) {
	for attempt := 1; ; attempt++ {
		deleted, err := d.store.DeleteAll(ctx)
		if err == nil || !storage.IsTransient(err) || attempt >= d.cfg.RetryAttempts {
			return deleted, err
		}

		select {
		case <-ctx.Done():
			return 0, errors.Join(ctx.Err(), err)
		case <-time.After(d.cfg.backoff(attempt)):
		}
	}
}

// Count returns the number of stored failure records.
func (d *Dispatcher) Count(ctx context.Context) (int64, error) {
	return d.store.Count(ctx)
}

// HealthCheck verifies the store is reachable.
func (d *Dispatcher) HealthCheck(ctx context.Context) error {
	return d.store.HealthCheck(ctx)
}

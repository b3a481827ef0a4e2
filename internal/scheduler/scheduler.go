// Package scheduler invokes the check runner periodically in daemon mode.
//
// Schedules use the standard five-field cron syntax or descriptors such as "@every 5m" and
// "@hourly". A run still in progress when the next tick fires causes that tick to be skipped,
// so at most one check cycle runs at a time per process. Readiness and shutdown are reported
// to systemd when the process runs under a notify-type unit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
)

// DefaultSchedule is used when the configuration names none.
const DefaultSchedule = "@every 5m"

var (
	// ErrInvalidSchedule is returned for a schedule cron cannot parse.
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrNilRunner is returned by New without a runner.
	ErrNilRunner = errors.New("runner is nil")
)

type (
	// Runner runs every registered check once.
	Runner interface {
		RunAll(ctx context.Context) *dispatch.Report
	}

	// Notifier reports a service state such as daemon.SdNotifyReady.
	Notifier func(state string)

	// Option configures a Scheduler.
	Option func(*Scheduler)

	// Scheduler fires Runner.RunAll on a cron schedule.
	Scheduler struct {
		runner     Runner
		spec       string
		schedule   cron.Schedule
		logger     *slog.Logger
		notify     Notifier
		runOnStart bool
		location   *time.Location

		mu   sync.Mutex
		runs int
	}
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithNotifier replaces the systemd notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		s.notify = n
	}
}

// WithRunOnStart runs one cycle immediately when Run starts.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// New parses spec and returns a Scheduler. An empty spec means DefaultSchedule.
func New(runner Runner, spec string, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}

	if spec == "" {
		spec = DefaultSchedule
	}

	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, spec, err)
	}

	s := &Scheduler{
		runner:   runner,
		spec:     spec,
		schedule: schedule,
		location: time.Local,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = config.NewLogger()
	}

	if s.notify == nil {
		s.notify = systemdNotifier(s.logger)
	}

	return s, nil
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// Runs returns how many cycles have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runs
}

// Run blocks until ctx is cancelled, firing a check cycle on every activation. The cycle in
// progress at cancellation sees the cancelled context and is waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLogger := &slogAdapter{logger: s.logger}

	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	job := c.Schedule(s.schedule, cron.FuncJob(func() { s.cycle(ctx) }))

	c.Start()

	s.logger.Info("Scheduler started",
		slog.String("schedule", s.spec),
		slog.Time("next_run", c.Entry(job).Next))

	s.notify(daemon.SdNotifyReady)

	var startup sync.WaitGroup

	if s.runOnStart {
		// Goes through the wrapped job so an overlapping tick is still skipped.
		startup.Go(c.Entry(job).WrappedJob.Run)
	}

	<-ctx.Done()

	s.notify(daemon.SdNotifyStopping)
	s.logger.Info("Scheduler stopping, waiting for running cycle")

	<-c.Stop().Done()
	startup.Wait()

	s.logger.Info("Scheduler stopped", slog.Int("runs", s.Runs()))

	return nil
}

func (s *Scheduler) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report := s.runner.RunAll(ctx)

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	if report != nil && report.HasErrors() {
		s.logger.Warn("Check cycle finished with errors",
			slog.String("run_id", report.RunID.String()),
			slog.Int("errored", report.Errored))
	}
}

func systemdNotifier(logger *slog.Logger) Notifier {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			logger.Warn("systemd notification failed", slog.String("state", state), slog.String("error", err.Error()))

			return
		}

		if sent {
			logger.Debug("systemd notified", slog.String("state", state))
		}
	}
}

// slogAdapter implements cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a *slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{slog.String("error", err.Error())}, keysAndValues...)
	a.logger.Error("cron: "+msg, args...)
}

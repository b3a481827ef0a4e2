package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/monitorhub/dispatcher/internal/api"
	"github.com/monitorhub/dispatcher/internal/scheduler"
)

// DaemonOptions holds flags for the daemon command.
type DaemonOptions struct {
	*RootOptions
	Schedule   string
	RunOnStart bool
}

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DaemonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the configured checks on a schedule",
		Long: `Run the configured checks on a cron schedule until interrupted.

The schedule comes from --schedule, then the config file, then "@every 5m". When
DISPATCHER_STATUS_ADDR is set a read-only status server is started alongside. When
DISPATCHER_SWEEP_INTERVAL is positive expired records are also swept in the background.

Example:
  dispatcher daemon --schedule "*/10 * * * *"
  dispatcher daemon --run-on-start=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "cron spec or @every duration (overrides the config file)")
	cmd.Flags().BoolVar(&opts.RunOnStart, "run-on-start", true, "run the checks once immediately")

	return cmd
}

func runDaemon(cmd *cobra.Command, opts *DaemonOptions) error {
	a, err := openApp(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.close()

	spec := opts.Schedule
	if spec == "" {
		spec = a.file.Schedule
	}

	if spec == "" {
		spec = scheduler.DefaultSchedule
	}

	sched, err := scheduler.New(a.dispatcher, spec,
		scheduler.WithLogger(a.logger),
		scheduler.WithRunOnStart(opts.RunOnStart),
	)
	if err != nil {
		return err
	}

	var server *api.Server

	if serverConfig := api.LoadServerConfig(); serverConfig.Enabled() {
		server = api.NewServer(serverConfig, a.dispatcher, version, a.logger)
	}

	if interval := a.dispatcher.Config().SweepInterval; interval > 0 {
		sweeper := a.dispatcher.Sweeper()
		if err := sweeper.Start(interval); err != nil {
			return err
		}

		defer func() { _ = sweeper.Close() }()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("Starting dispatcher daemon",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("schedule", sched.Spec()),
		slog.Int("checks", a.dispatcher.Registry().Len()),
		slog.Bool("status_server", server != nil),
	)

	err = serveAll(ctx, stop, sched.Run, serverRun(server))

	a.logger.Info("Dispatcher daemon stopped")

	return err
}

func serverRun(server *api.Server) func(context.Context) error {
	if server == nil {
		return nil
	}

	return server.Run
}

// serveAll runs every non-nil fn until ctx is done. The first failure cancels the others.
func serveAll(ctx context.Context, cancel context.CancelFunc, fns ...func(context.Context) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, fn := range fns {
		if fn == nil {
			continue
		}

		wg.Go(func() {
			if err := fn(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()

				cancel()
			}
		})
	}

	wg.Wait()

	return errors.Join(errs...)
}

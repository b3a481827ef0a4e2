package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// ErrRunHadErrors is returned by run when a failure could not be recorded or delivered.
var ErrRunHadErrors = errors.New("one or more failures could not be notified")

// NewRunCommand creates the run command.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every configured check once",
		Long: `Run every configured check once and notify about new failure identities.

A failure already notified within the retention window is suppressed. The command exits
non-zero when a failure could not be recorded or delivered; that failure will be retried on
the next run.

Example:
  dispatcher run --config /etc/dispatcher/dispatcher.yaml
  DATABASE_DRIVER=sqlite dispatcher run --migrate --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts, true)
			if err != nil {
				return err
			}
			defer a.close()

			report := a.dispatcher.RunAll(cmd.Context())

			a.logger.Info("Check run completed",
				slog.String("run_id", report.RunID.String()),
				slog.Int("checked", report.Checked),
				slog.Int("notified", report.Notified),
				slog.Int("suppressed", report.Suppressed),
				slog.Int("errored", report.Errored),
			)

			if err := writeReport(cmd.OutOrStdout(), opts.Format, report); err != nil {
				return err
			}

			if report.HasErrors() {
				return fmt.Errorf("%w: %d errored", ErrRunHadErrors, report.Errored)
			}

			return nil
		},
	}
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/spf13/cobra"
)

const (
	defaultListLimit = 50
	maxConfirmNumber = 30
)

// ErrInvalidLimit is returned by list for a non-positive --limit.
var ErrInvalidLimit = errors.New("limit must be positive")

// confirmPhrase returns the phrase clear asks the operator to type back.
var confirmPhrase = func() string {
	return fmt.Sprintf("Yes-%d", rand.IntN(maxConfirmNumber)+1) //nolint:gosec // not a secret
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete failure records older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.close()

			deleted, err := a.dispatcher.Sweep(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired failure record(s).\n", deleted)

			return nil
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every failure record after interactive confirmation",
		Long: `Delete every failure record regardless of age. Every failure seen afterwards notifies
as if it were new.

The command names the database and asks for a randomly numbered confirmation phrase. Any
other answer aborts without deleting anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			phrase := confirmPhrase()

			_, _ = fmt.Fprintf(out, "WARNING: this deletes ALL failure records from %s (%s).\n",
				a.dbConfig.Target(), a.dbConfig.Driver)
			_, _ = fmt.Fprintln(out, "Every failure will notify again on its next occurrence.")
			_, _ = fmt.Fprintf(out, "Type %q to continue: ", phrase)

			answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if strings.TrimSpace(answer) != phrase {
				_, _ = fmt.Fprintln(out, "Aborting. No records were deleted.")

				return nil
			}

			deleted, err := a.dispatcher.ClearAll(cmd.Context())
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(out, "Deleted %d failure record(s).\n", deleted)

			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions) *cobra.Command {
	limit := defaultListLimit

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent failure records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("%w, got %d", ErrInvalidLimit, limit)
			}

			a, err := openApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			return writeRecords(cmd.OutOrStdout(), opts.Format, records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultListLimit, "maximum number of records to show")

	return cmd
}

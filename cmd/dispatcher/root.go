package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/monitorhub/dispatcher/internal/config"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Migrate    bool
	Verbose    bool
	Format     string // "json" | "text"
}

// NewRootCommand creates the root command for the dispatcher CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   name,
		Short: "Deduplicated failure notifications for periodic health checks",
		Long: `Run health checks and notify about failures at most once per failure identity
(check, kind, detail) per retention window.

Database settings come from DATABASE_DRIVER, DATABASE_URL and DATABASE_PATH. Checks,
transports and the daemon schedule come from the YAML file named by --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c",
		config.GetEnvStr("DISPATCHER_CONFIG", config.DefaultConfigPath), "path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.Migrate, "migrate", false, "apply embedded migrations before running")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDaemonCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", name, version)
		},
	}
}

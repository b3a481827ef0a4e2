package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/dispatch"
	"github.com/monitorhub/dispatcher/internal/probe"
	"github.com/monitorhub/dispatcher/internal/storage"
	"github.com/monitorhub/dispatcher/internal/transport"
	"github.com/monitorhub/dispatcher/migrations"
)

// app holds what every command opens. Fields are populated by openApp and released by close.
type app struct {
	logger     *slog.Logger
	dbConfig   *storage.Config
	conn       *storage.Connection
	store      *storage.FailureStore
	file       *config.File
	dispatcher *dispatch.Dispatcher

	closeTransport func() error
}

// newLogger returns the JSON logger used by the CLI. Logs go to stderr so that command
// output on stdout stays parseable.
func newLogger(cmd *cobra.Command, opts *RootOptions) *slog.Logger {
	level := config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	if opts.Verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openApp connects to the failure record store. With withChecks it also loads the config
// file, builds the transports and registers the configured checks; otherwise the dispatcher
// gets an empty registry and a log transport, which is enough for the admin operations.
func openApp(cmd *cobra.Command, opts *RootOptions, withChecks bool) (*app, error) {
	ctx := cmd.Context()
	a := &app{logger: newLogger(cmd, opts)}

	a.dbConfig = storage.LoadConfig()
	if err := a.dbConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if opts.Migrate {
		if err := applyMigrations(ctx, a.dbConfig); err != nil {
			return nil, err
		}

		a.logger.Info("Database migrations applied",
			slog.String("driver", string(a.dbConfig.Driver)),
			slog.String("database", a.dbConfig.Target()),
		)
	}

	dispatchConfig, err := dispatch.LoadConfig()
	if err != nil {
		return nil, err
	}

	registry := dispatch.NewRegistry()

	var sender dispatch.Transport = transport.NewLog(a.logger)

	a.file = &config.File{}

	if withChecks {
		if a.file, err = loadConfigFile(cmd, opts.ConfigPath); err != nil {
			return nil, err
		}

		if err := probe.Register(registry, a.file.Checks); err != nil {
			return nil, err
		}

		if sender, a.closeTransport, err = transport.FromConfig(a.file.Transports, a.logger); err != nil {
			return nil, err
		}
	}

	if a.conn, err = storage.NewConnection(a.dbConfig); err != nil {
		a.close()

		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if a.store, err = storage.NewFailureStore(a.conn, storage.WithLogger(a.logger)); err != nil {
		a.close()

		return nil, err
	}

	a.dispatcher, err = dispatch.New(a.store, registry, sender, dispatchConfig, dispatch.WithLogger(a.logger))
	if err != nil {
		a.close()

		return nil, err
	}

	a.logger.Debug("Dispatcher initialized",
		slog.String("database", a.dbConfig.Target()),
		slog.Int("checks", registry.Len()),
		slog.String("transport", sender.Name()),
		slog.Duration("retention_period", dispatchConfig.RetentionPeriod),
	)

	return a, nil
}

func (a *app) close() {
	if a.closeTransport != nil {
		if err := a.closeTransport(); err != nil {
			a.logger.Warn("Failed to close transports", slog.String("error", err.Error()))
		}
	}

	if a.conn != nil {
		_ = a.conn.Close()
	}
}

// loadConfigFile reads the YAML config. A missing file at the default location is an empty
// configuration; a missing file the operator named explicitly is an error.
func loadConfigFile(cmd *cobra.Command, path string) (*config.File, error) {
	file, err := config.LoadFile(path)
	if err == nil {
		return file, nil
	}

	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return &config.File{}, nil
	}

	return nil, err
}

func applyMigrations(ctx context.Context, cfg *storage.Config) error {
	err := migrations.Apply(ctx, migrations.Config{
		Dialect:         string(cfg.Driver),
		DSN:             cfg.DSN(),
		MigrationsTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	})
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

package main

import (
	"errors"
	"fmt"

	"github.com/monitorhub/dispatcher/internal/config"
	"github.com/monitorhub/dispatcher/internal/storage"
	"github.com/monitorhub/dispatcher/migrations"
)

// ErrMigrationTableEmpty is returned when MIGRATION_TABLE is set to an empty value.
var ErrMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")

// Config holds all configuration for the migration tool.
type Config struct {
	// Database selects the dialect and connection, shared with the dispatcher.
	Database *storage.Config

	// MigrationTable is the name of the table to track migrations.
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database:       storage.LoadConfig(),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// RunnerConfig converts the configuration for migrations.NewRunner.
func (c *Config) RunnerConfig() migrations.Config {
	return migrations.Config{
		Dialect:         string(c.Database.Driver),
		DSN:             c.Database.DSN(),
		MigrationsTable: c.MigrationTable,
	}
}

// String returns a string representation of the configuration (safe for logging).
func (c *Config) String() string {
	return fmt.Sprintf("Config{Driver: %s, Target: %s, MigrationTable: %s}",
		c.Database.Driver, c.Database.Target(), c.MigrationTable)
}

package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

const defaultMigrationsTable = "schema_migrations"

type (
	// Config selects the database a Runner migrates.
	Config struct {
		// Dialect is DialectPostgres or DialectSQLite.
		Dialect string
		// DSN is passed to sql.Open for the dialect's driver.
		DSN string
		// MigrationsTable tracks applied versions. Defaults to schema_migrations.
		MigrationsTable string
	}

	// Runner applies the embedded migrations of one dialect using golang-migrate.
	// It owns its database handle, separate from the dispatcher's connection pool.
	Runner struct {
		config   Config
		migrate  *migrate.Migrate
		db       *sql.DB
		embedded *EmbeddedMigration
	}

	// migrateLogger implements the migrate.Logger interface.
	migrateLogger struct{}
)

var (
	_ migrate.Logger = (*migrateLogger)(nil)
	_ io.Writer      = (*migrateLogger)(nil)
)

// NewRunner validates the embedded migrations, connects and prepares a migrate instance.
func NewRunner(ctx context.Context, cfg Config) (*Runner, error) {
	if cfg.MigrationsTable == "" {
		cfg.MigrationsTable = defaultMigrationsTable
	}

	embedded, err := NewEmbeddedMigration(cfg.Dialect, nil)
	if err != nil {
		return nil, err
	}

	if err := embedded.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	db, err := sql.Open(cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := databaseDriver(db, cfg)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	source, err := iofs.New(embedded.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, cfg.Dialect, driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	return &Runner{
		config:   cfg,
		migrate:  m,
		db:       db,
		embedded: embedded,
	}, nil
}

func databaseDriver(db *sql.DB, cfg Config) (database.Driver, error) {
	switch cfg.Dialect {
	case DialectPostgres:
		driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.MigrationsTable})
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres driver: %w", err)
		}

		return driver, nil
	case DialectSQLite:
		driver, err := sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: cfg.MigrationsTable})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
		}

		return driver, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, cfg.Dialect)
	}
}

// Up applies all pending migrations. Having nothing to apply is not an error.
func (r *Runner) Up() error {
	if err := r.embedded.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	log.Println("All migrations applied successfully")

	return nil
}

// Down rolls back the last applied migration.
func (r *Runner) Down() error {
	if err := r.embedded.Validate(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No migrations to rollback")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}

	log.Println("Last migration rolled back successfully")

	return nil
}

// Version returns the applied schema version and whether it is dirty.
// A database without migrations reports version 0.
func (r *Runner) Version() (uint, bool, error) {
	ver, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return ver, dirty, nil
}

// Status logs the applied version against the highest embedded version.
func (r *Runner) Status() error {
	ver, dirty, err := r.Version()
	if err != nil {
		return err
	}

	state := "clean"
	if dirty {
		state = "dirty (needs manual intervention)"
	}

	log.Printf("Migration Status: Version %d (%s)\n", ver, state)

	embeddedVersion := r.embedded.MaxVersion()

	log.Printf("Schema Compatibility:")
	log.Printf("  Database Schema: v%03d", ver)
	log.Printf("  Migrator Supports: v%03d", embeddedVersion)

	switch current := int(ver); { // #nosec G115 - version numbers are small
	case current == embeddedVersion:
		log.Printf("  Status: up to date")
	case current < embeddedVersion:
		log.Printf("  Status: %d migration(s) available", embeddedVersion-current)
	default:
		log.Printf("  Status: database schema newer than migrator supports")
	}

	return nil
}

// Drop drops every table in the database (destructive).
func (r *Runner) Drop() error {
	log.Println("WARNING: Dropping all tables...")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	log.Println("All tables dropped successfully")

	return nil
}

// Close releases the migrate instance and the runner's database handle.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("source close error: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", dbErr))
		}
	}

	if r.db != nil {
		// The sqlite driver closes the handle itself on migrate.Close.
		if err := r.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, fmt.Errorf("database connection close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Apply is a convenience for callers that only need "migrate up, then release".
func Apply(ctx context.Context, cfg Config) error {
	runner, err := NewRunner(ctx, cfg)
	if err != nil {
		return err
	}

	upErr := runner.Up()

	return errors.Join(upErr, runner.Close())
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[MIGRATE] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

func (l *migrateLogger) Write(p []byte) (int, error) {
	log.Printf("[MIGRATE] %s", string(p))

	return len(p), nil
}

package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/monitorhub/dispatcher/migrations"
)

const (
	occurrenceCount = 2
	startUpTimeOut  = 120 * time.Second
)

// TestDatabase describes a migrated database used by integration tests across packages.
type TestDatabase struct {
	Container *postgres.PostgresContainer // nil for SQLite
	Dialect   string
	DSN       string
}

// SetupTestDatabase starts a PostgreSQL 16 container and applies the embedded migrations.
// The container is terminated through t.Cleanup.
//
// Usage:
//
//	func TestMyFeature(t *testing.T) {
//		if testing.Short() {
//			t.Skip("skipping integration test in short mode")
//		}
//		testDB := config.SetupTestDatabase(context.Background(), t)
//		// open a storage.Connection with testDB.DSN
//	}
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("dispatcher_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(occurrenceCount).
				WithStartupTimeout(startUpTimeOut),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	require.NotNil(t, pgContainer, "postgres container is nil")

	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	require.NoError(t,
		migrations.Apply(ctx, migrations.Config{Dialect: migrations.DialectPostgres, DSN: dsn}),
		"Failed to run migrations",
	)

	return &TestDatabase{
		Container: pgContainer,
		Dialect:   migrations.DialectPostgres,
		DSN:       dsn,
	}
}

// SetupSQLiteTestDatabase creates a migrated SQLite database file in a temp directory.
// It needs no container, so unit tests use it for real constraint behaviour.
func SetupSQLiteTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dispatcher_test.db")

	require.NoError(t,
		migrations.Apply(ctx, migrations.Config{Dialect: migrations.DialectSQLite, DSN: path}),
		"Failed to run sqlite migrations",
	)

	return &TestDatabase{
		Dialect: migrations.DialectSQLite,
		DSN:     path,
	}
}

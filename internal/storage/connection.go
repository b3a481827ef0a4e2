// Package storage persists failure records in PostgreSQL or SQLite through database/sql.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect names a supported SQL backend. The values double as database/sql driver names.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const (
	healthCheckTimeout = 5 * time.Second
	// sqliteTimeLayout sorts lexically in time order, which range deletes rely on.
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ErrNoDatabaseConnection is returned when a store is constructed without a connection.
var ErrNoDatabaseConnection = errors.New("database connection is nil")

// Connection wraps a *sql.DB together with the dialect it speaks.
type Connection struct {
	*sql.DB
	dialect Dialect
}

// NewConnection opens and pings a database using cfg.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open(string(cfg.Driver), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == DialectSQLite {
		// One writer at a time; extra connections only add SQLITE_BUSY churn.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{DB: db, dialect: cfg.Driver}, nil
}

// Dialect reports which backend the connection talks to.
func (c *Connection) Dialect() Dialect {
	return c.dialect
}

// HealthCheck pings the database with a bounded timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

// Rebind rewrites $N placeholders for the connection's dialect.
func (c *Connection) Rebind(query string) string {
	return rebind(c.dialect, query)
}

// TimeArg converts t into the value stored in timestamp columns.
// PostgreSQL takes time.Time directly; SQLite stores fixed-width UTC text.
func (c *Connection) TimeArg(t time.Time) any {
	return timeArg(c.dialect, t)
}

func rebind(dialect Dialect, query string) string {
	if dialect != DialectSQLite {
		return query
	}

	// modernc.org/sqlite understands ?NNN, which keeps parameter numbering intact.
	var b strings.Builder

	b.Grow(len(query))

	for i := 0; i < len(query); i++ {
		if query[i] != '$' {
			b.WriteByte(query[i])

			continue
		}

		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}

		if j == i+1 {
			b.WriteByte('$')

			continue
		}

		b.WriteByte('?')
		b.WriteString(query[i+1 : j])
		i = j - 1
	}

	return b.String()
}

func timeArg(dialect Dialect, t time.Time) any {
	if dialect == DialectSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}

	return t.UTC()
}

func parseTime(dialect Dialect, raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return parseTimeText(v)
	case []byte:
		return parseTimeText(string(v))
	default:
		return time.Time{}, fmt.Errorf("unsupported %s timestamp type %T", dialect, raw)
	}
}

func parseTimeText(s string) (time.Time, error) {
	if t, err := time.Parse(sqliteTimeLayout, s); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s: %w", strconv.Quote(s), err)
	}

	return t.UTC(), nil
}

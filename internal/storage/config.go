package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/monitorhub/dispatcher/internal/config"
)

const (
	defaultDriver          = DialectPostgres
	defaultSQLitePath      = "dispatcher.db"
	defaultBusyTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

var (
	// ErrDatabaseURLEmpty is returned when the postgres driver is selected without a URL.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")
	// ErrDatabasePathEmpty is returned when the sqlite driver is selected without a path.
	ErrDatabasePathEmpty = errors.New("database path cannot be empty")
	// ErrUnknownDriver is returned for a driver other than postgres or sqlite.
	ErrUnknownDriver = errors.New("unknown database driver")
)

// Config holds database connection configuration with production-ready defaults.
type Config struct {
	Driver          Dialect
	databaseURL     string
	Path            string        // SQLite database file
	BusyTimeout     time.Duration // SQLite lock wait before SQLITE_BUSY
	MaxOpenConns    int           // Maximum number of open connections (postgres)
	MaxIdleConns    int           // Maximum number of idle connections (postgres)
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections
}

// LoadConfig loads database configuration from environment variables with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		Driver:          Dialect(strings.ToLower(config.GetEnvStr("DATABASE_DRIVER", string(defaultDriver)))),
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""), // private, never logged unmasked
		Path:            config.GetEnvStr("DATABASE_PATH", defaultSQLitePath),
		BusyTimeout:     config.GetEnvDuration("DATABASE_BUSY_TIMEOUT", defaultBusyTimeout),
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// NewPostgresConfig returns a postgres configuration for databaseURL with default pool settings.
func NewPostgresConfig(databaseURL string) *Config {
	return &Config{
		Driver:          DialectPostgres,
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// NewSQLiteConfig returns a sqlite configuration for the database file at path.
func NewSQLiteConfig(path string) *Config {
	return &Config{
		Driver:          DialectSQLite,
		Path:            path,
		BusyTimeout:     defaultBusyTimeout,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Validate checks if the database configuration is valid.
func (c *Config) Validate() error {
	switch c.Driver {
	case DialectPostgres:
		if strings.TrimSpace(c.databaseURL) == "" {
			return ErrDatabaseURLEmpty
		}
	case DialectSQLite:
		if strings.TrimSpace(c.Path) == "" {
			return ErrDatabasePathEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}

	return nil
}

// DSN returns the data source name handed to sql.Open for the configured driver.
//
// SQLite connections get busy_timeout, WAL journaling and IMMEDIATE write transactions so
// that two dispatchers racing on one identity serialize on the database lock and the loser
// observes the primary key conflict instead of a deadlock.
func (c *Config) DSN() string {
	if c.Driver != DialectSQLite {
		return c.databaseURL
	}

	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Set("_txlock", "immediate")

	return "file:" + c.Path + "?" + params.Encode()
}

// Target returns a description of the database safe for logging.
func (c *Config) Target() string {
	if c.Driver == DialectSQLite {
		return c.Path
	}

	return c.MaskDatabaseURL()
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	// The last @ separates userinfo from host; passwords may contain @.
	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 || colonIndex == len(userInfo)-1 {
		return c.databaseURL
	}

	return c.databaseURL[:schemeEnd] + "://" + userInfo[:colonIndex] + ":***" + afterScheme[lastAtIndex:]
}

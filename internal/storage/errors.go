package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors for store operations.
var (
	// ErrUniqueViolation is returned when an insert hits the failure identity primary key.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrTransient marks connection drops, lock timeouts and serialization failures.
	// The whole unit of work may be retried.
	ErrTransient = errors.New("transient store error")
)

// PostgreSQL SQLSTATE codes.
const (
	pqUniqueViolation      = pq.ErrorCode("23505")
	pqSerializationFailure = pq.ErrorCode("40001")
	pqDeadlockDetected     = pq.ErrorCode("40P01")
	pqLockNotAvailable     = pq.ErrorCode("55P03")
	pqAdminShutdown        = pq.ErrorCode("57P01")
	pqCrashShutdown        = pq.ErrorCode("57P02")
	pqCannotConnectNow     = pq.ErrorCode("57P03")
	pqClassConnection      = pq.ErrorClass("08")
)

// IsUniqueViolation reports whether err is a primary key or unique constraint conflict.
func IsUniqueViolation(err error) bool {
	return errors.Is(classify(err), ErrUniqueViolation)
}

// IsTransient reports whether err is worth retrying as a whole unit.
func IsTransient(err error) bool {
	return errors.Is(classify(err), ErrTransient)
}

// classify wraps err with ErrUniqueViolation or ErrTransient when the driver error says so.
// Other errors come back unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrUniqueViolation) || errors.Is(err, ErrTransient) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == pqUniqueViolation:
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pqErr.Message)
		case pqErr.Code.Class() == pqClassConnection,
			pqErr.Code == pqSerializationFailure,
			pqErr.Code == pqDeadlockDetected,
			pqErr.Code == pqLockNotAvailable,
			pqErr.Code == pqAdminShutdown,
			pqErr.Code == pqCrashShutdown,
			pqErr.Code == pqCannotConnectNow:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}

		return err
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()

		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, code == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}

		return err
	}

	switch {
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		// Extended result codes are off on some builds; the message is stable.
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}

	return err
}

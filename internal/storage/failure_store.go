package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/monitorhub/dispatcher/internal/config"
)

const (
	// DigestSize is the fixed length of failure_digest.
	DigestSize = 20
	// MaxNameLength bounds check_name and failure_kind.
	MaxNameLength = 80

	// deleteBatchSize caps rows removed per statement so a large backlog never holds a long lock.
	deleteBatchSize = 10000
	// batchSleepDuration lets other queries interleave between delete batches.
	batchSleepDuration = 100 * time.Millisecond
)

var (
	// ErrInvalidRecord is returned when a FailureRecord fails validation.
	ErrInvalidRecord = errors.New("invalid failure record")
	// ErrStoreFailed wraps non-classified store errors.
	ErrStoreFailed = errors.New("failure record store operation failed")
)

type (
	// FailureRecord is one notified failure identity inside the retention window.
	// Records are never updated in place.
	FailureRecord struct {
		CheckName     string
		FailureKind   string
		FailureDigest []byte
		FirstSeenAt   time.Time
		DetailText    string
	}

	// Execer runs a statement. Both *sql.DB and *sql.Tx satisfy it, so inserts can join the
	// caller's transaction.
	Execer interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	}

	// FailureStore owns the failure_records table.
	FailureStore struct {
		conn   *Connection
		logger *slog.Logger
	}

	// FailureStoreOption configures optional FailureStore behavior.
	FailureStoreOption func(*FailureStore)
)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) FailureStoreOption {
	return func(s *FailureStore) {
		s.logger = logger
	}
}

// Validate checks column limits before the insert reaches the database.
func (r FailureRecord) Validate() error {
	switch {
	case strings.TrimSpace(r.CheckName) == "":
		return fmt.Errorf("%w: check name cannot be empty", ErrInvalidRecord)
	case utf8.RuneCountInString(r.CheckName) > MaxNameLength:
		return fmt.Errorf("%w: check name longer than %d characters", ErrInvalidRecord, MaxNameLength)
	case strings.TrimSpace(r.FailureKind) == "":
		return fmt.Errorf("%w: failure kind cannot be empty", ErrInvalidRecord)
	case utf8.RuneCountInString(r.FailureKind) > MaxNameLength:
		return fmt.Errorf("%w: failure kind longer than %d characters", ErrInvalidRecord, MaxNameLength)
	case len(r.FailureDigest) != DigestSize:
		return fmt.Errorf("%w: digest is %d bytes, want %d", ErrInvalidRecord, len(r.FailureDigest), DigestSize)
	case r.FirstSeenAt.IsZero():
		return fmt.Errorf("%w: first seen timestamp is zero", ErrInvalidRecord)
	}

	return nil
}

// NewFailureStore creates a store on conn. Returns ErrNoDatabaseConnection if conn is nil.
func NewFailureStore(conn *Connection, opts ...FailureStoreOption) (*FailureStore, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	store := &FailureStore{conn: conn}

	for _, opt := range opts {
		opt(store)
	}

	if store.logger == nil {
		store.logger = config.NewLogger()
	}

	return store, nil
}

// Dialect reports the backend of the underlying connection.
func (s *FailureStore) Dialect() Dialect {
	return s.conn.Dialect()
}

// BeginTx opens a read-committed transaction. Uniqueness conflicts inside it are reported
// synchronously by Insert.
func (s *FailureStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	opts := &sql.TxOptions{}
	if s.conn.Dialect() == DialectPostgres {
		opts.Isolation = sql.LevelReadCommitted
	}

	tx, err := s.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}

	return tx, nil
}

// Insert adds rec using exec. A conflicting identity returns an error matching
// ErrUniqueViolation; connection and lock problems match ErrTransient.
func (s *FailureStore) Insert(ctx context.Context, exec Execer, rec FailureRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	if exec == nil {
		exec = s.conn.DB
	}

	query := s.conn.Rebind(`
		INSERT INTO failure_records (check_name, failure_kind, failure_digest, first_seen_at, detail_text)
		VALUES ($1, $2, $3, $4, $5)
	`)

	_, err := exec.ExecContext(ctx, query,
		rec.CheckName,
		rec.FailureKind,
		rec.FailureDigest,
		s.conn.TimeArg(rec.FirstSeenAt),
		rec.DetailText,
	)
	if err != nil {
		return s.wrap("insert failure record", err)
	}

	return nil
}

// DeleteOlderThan removes records first seen before cutoff in batches and returns the number
// deleted. Records exactly at cutoff are kept.
func (s *FailureStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	rowRef := "ctid"
	if s.conn.Dialect() == DialectSQLite {
		rowRef = "rowid"
	}

	// ORDER BY removes the oldest rows first when a batch is cut short.
	query := s.conn.Rebind(fmt.Sprintf(`
		DELETE FROM failure_records
		WHERE %[1]s IN (
			SELECT %[1]s
			FROM failure_records
			WHERE first_seen_at < $1
			ORDER BY first_seen_at ASC
			LIMIT $2
		)
	`, rowRef))

	cutoffArg := s.conn.TimeArg(cutoff)
	totalDeleted := int64(0)

	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, s.wrap("delete expired failure records", err)
		}

		result, err := s.conn.ExecContext(ctx, query, cutoffArg, deleteBatchSize)
		if err != nil {
			return totalDeleted, s.wrap("delete expired failure records", err)
		}

		rowsDeleted, err := result.RowsAffected()
		if err != nil {
			return totalDeleted, s.wrap("count deleted failure records", err)
		}

		totalDeleted += rowsDeleted

		if rowsDeleted < deleteBatchSize {
			return totalDeleted, nil
		}

		select {
		case <-ctx.Done():
			return totalDeleted, s.wrap("delete expired failure records", ctx.Err())
		case <-time.After(batchSleepDuration):
		}
	}
}

// DeleteAll removes every record regardless of age.
func (s *FailureStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM failure_records`)
	if err != nil {
		return 0, s.wrap("delete all failure records", err)
	}

	rowsDeleted, err := result.RowsAffected()
	if err != nil {
		return 0, s.wrap("count deleted failure records", err)
	}

	s.logger.Warn("All failure records deleted", slog.Int64("rows_deleted", rowsDeleted))

	return rowsDeleted, nil
}

// Count returns the number of stored records.
func (s *FailureStore) Count(ctx context.Context) (int64, error) {
	var count int64

	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM failure_records`).Scan(&count); err != nil {
		return 0, s.wrap("count failure records", err)
	}

	return count, nil
}

// List returns up to limit records, newest first. It exists for diagnostics only;
// the notification path never reads records.
func (s *FailureStore) List(ctx context.Context, limit int) ([]FailureRecord, error) {
	query := s.conn.Rebind(`
		SELECT check_name, failure_kind, failure_digest, first_seen_at, COALESCE(detail_text, '')
		FROM failure_records
		ORDER BY first_seen_at DESC, check_name ASC
		LIMIT $1
	`)

	rows, err := s.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, s.wrap("list failure records", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	records := make([]FailureRecord, 0, limit)

	for rows.Next() {
		var (
			rec         FailureRecord
			firstSeenAt any
		)

		if err := rows.Scan(&rec.CheckName, &rec.FailureKind, &rec.FailureDigest, &firstSeenAt, &rec.DetailText); err != nil {
			return nil, s.wrap("scan failure record", err)
		}

		rec.FirstSeenAt, err = parseTime(s.conn.Dialect(), firstSeenAt)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterate failure records", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *FailureStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

func (s *FailureStore) wrap(op string, err error) error {
	classified := classify(err)
	if errors.Is(classified, ErrUniqueViolation) || errors.Is(classified, ErrTransient) {
		return fmt.Errorf("failed to %s: %w", op, classified)
	}

	return fmt.Errorf("%w: failed to %s: %w", ErrStoreFailed, op, err)
}

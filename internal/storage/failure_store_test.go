package storage

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monitorhub/dispatcher/internal/config"
)

func setupSQLiteStore(ctx context.Context, t *testing.T) *FailureStore {
	t.Helper()

	testDB := config.SetupSQLiteTestDatabase(ctx, t)

	conn, err := NewConnection(NewSQLiteConfig(testDB.DSN))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
	})

	store, err := NewFailureStore(conn)
	require.NoError(t, err)

	return store
}

func testRecord(checkName, detail string, firstSeenAt time.Time) FailureRecord {
	digest := bytes.Repeat([]byte{byte(len(detail))}, DigestSize)

	return FailureRecord{
		CheckName:     checkName,
		FailureKind:   "ThresholdExceeded",
		FailureDigest: digest,
		FirstSeenAt:   firstSeenAt,
		DetailText:    detail,
	}
}

func TestFailureStore_InsertConflict(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := setupSQLiteStore(ctx, t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := testRecord("diskSpaceCheck", "disk / at 95%", now)
	require.NoError(t, store.Insert(ctx, nil, rec))

	err := store.Insert(ctx, nil, rec)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err), "second insert should be a uniqueness violation: %v", err)
	assert.False(t, IsTransient(err))

	// Same check and digest, other kind: different identity.
	other := rec
	other.FailureKind = "Unreachable"
	require.NoError(t, store.Insert(ctx, nil, other))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFailureStore_TransactionRollback(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := setupSQLiteStore(ctx, t)

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Insert(ctx, tx, testRecord("apiHealth", "503", time.Now())))
	require.NoError(t, tx.Rollback())

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	tx, err = store.BeginTx(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Insert(ctx, tx, testRecord("apiHealth", "503", time.Now())))
	require.NoError(t, tx.Commit())

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestFailureStore_DeleteOlderThan(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := setupSQLiteStore(ctx, t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, nil, testRecord("old", "a", cutoff.Add(-time.Nanosecond))))
	require.NoError(t, store.Insert(ctx, nil, testRecord("older", "a", cutoff.Add(-48*time.Hour))))
	require.NoError(t, store.Insert(ctx, nil, testRecord("boundary", "a", cutoff)))
	require.NoError(t, store.Insert(ctx, nil, testRecord("fresh", "a", cutoff.Add(time.Hour))))

	deleted, err := store.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	records, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "fresh", records[0].CheckName)
	assert.Equal(t, "boundary", records[1].CheckName)
	assert.True(t, records[1].FirstSeenAt.Equal(cutoff), "FirstSeenAt = %v, want %v", records[1].FirstSeenAt, cutoff)

	// Nothing expired: no-op.
	deleted, err = store.DeleteOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFailureStore_DeleteAll(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := setupSQLiteStore(ctx, t)
	now := time.Now()

	for i := range 3 {
		require.NoError(t, store.Insert(ctx, nil, testRecord(fmt.Sprintf("check-%d", i), "x", now)))
	}

	deleted, err := store.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// The same identity can be recorded again.
	require.NoError(t, store.Insert(ctx, nil, testRecord("check-0", "x", now)))
}

func TestFailureRecord_Validate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	valid := testRecord("diskSpaceCheck", "disk / at 95%", time.Now())

	tests := []struct {
		name    string
		mutate  func(r *FailureRecord)
		wantErr bool
	}{
		{name: "valid", mutate: func(*FailureRecord) {}},
		{name: "empty check name", mutate: func(r *FailureRecord) { r.CheckName = " " }, wantErr: true},
		{name: "long check name", mutate: func(r *FailureRecord) { r.CheckName = strings.Repeat("c", 81) }, wantErr: true},
		{name: "80 character check name", mutate: func(r *FailureRecord) { r.CheckName = strings.Repeat("c", 80) }},
		{name: "empty kind", mutate: func(r *FailureRecord) { r.FailureKind = "" }, wantErr: true},
		{name: "long kind", mutate: func(r *FailureRecord) { r.FailureKind = strings.Repeat("k", 81) }, wantErr: true},
		{name: "short digest", mutate: func(r *FailureRecord) { r.FailureDigest = r.FailureDigest[:19] }, wantErr: true},
		{name: "zero timestamp", mutate: func(r *FailureRecord) { r.FirstSeenAt = time.Time{} }, wantErr: true},
		{name: "empty detail", mutate: func(r *FailureRecord) { r.DetailText = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := valid
			rec.FailureDigest = append([]byte(nil), valid.FailureDigest...)
			tt.mutate(&rec)

			err := rec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewFailureStore_NilConnection(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewFailureStore(nil)
	assert.ErrorIs(t, err, ErrNoDatabaseConnection)
}

func TestRebind(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	query := "SELECT * FROM t WHERE a = $1 AND b = $12 AND c = '$'"

	assert.Equal(t, query, rebind(DialectPostgres, query))
	assert.Equal(t, "SELECT * FROM t WHERE a = ?1 AND b = ?12 AND c = '$'", rebind(DialectSQLite, query))
}

func TestTimeArg(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	local := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2026, 3, 1, 14, 0, 0, 5, local)

	assert.Equal(t, "2026-03-01T12:00:00.000000005Z", timeArg(DialectSQLite, ts))
	assert.Equal(t, ts.UTC(), timeArg(DialectPostgres, ts))

	parsed, err := parseTime(DialectSQLite, "2026-03-01T12:00:00.000000005Z")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	_, err = parseTime(DialectSQLite, 42)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		err       error
		unique    bool
		transient bool
	}{
		{name: "nil", err: nil},
		{name: "plain error", err: errors.New("syntax error")},
		{name: "pq unique violation", err: &pq.Error{Code: "23505", Message: "duplicate key"}, unique: true},
		{name: "pq connection failure", err: &pq.Error{Code: "08006"}, transient: true},
		{name: "pq serialization failure", err: &pq.Error{Code: "40001"}, transient: true},
		{name: "pq deadlock", err: &pq.Error{Code: "40P01"}, transient: true},
		{name: "pq lock not available", err: &pq.Error{Code: "55P03"}, transient: true},
		{name: "pq admin shutdown", err: &pq.Error{Code: "57P01"}, transient: true},
		{name: "pq check violation", err: &pq.Error{Code: "23514"}},
		{name: "bad connection", err: fmt.Errorf("exec: %w", driver.ErrBadConn), transient: true},
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
		{name: "sqlite message", err: errors.New("constraint failed: UNIQUE constraint failed: failure_records.check_name (1555)"), unique: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueViolation(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

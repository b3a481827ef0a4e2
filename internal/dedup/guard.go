package dedup

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/monitorhub/dispatcher/internal/storage"
)

// ErrNilDependency is returned when a Guard or Sweeper is built without its store or hasher.
var ErrNilDependency = errors.New("dedup dependency is nil")

type (
	// Recorder inserts failure records. *storage.FailureStore implements it.
	Recorder interface {
		Insert(ctx context.Context, exec storage.Execer, rec storage.FailureRecord) error
	}

	// Guard is the insert-or-suppress decision point.
	Guard struct {
		store  Recorder
		hasher *Hasher
		clock  Clock
		logger *slog.Logger
	}
)

// NewGuard creates a Guard writing through store.
func NewGuard(store Recorder, hasher *Hasher, opts ...Option) (*Guard, error) {
	if store == nil || hasher == nil {
		return nil, ErrNilDependency
	}

	o := applyOptions(opts)

	return &Guard{
		store:  store,
		hasher: hasher,
		clock:  o.clock,
		logger: o.logger,
	}, nil
}

// Hasher returns the digest function used for identities.
func (g *Guard) Hasher() *Hasher {
	return g.hasher
}

// RecordIfNew inserts the failure identity through exec, which is normally the caller's open
// transaction. It returns true when the record was created and the caller should notify, and
// false when the identity is already recorded. The insert itself is the test: there is no read
// beforehand. Errors other than the uniqueness conflict are returned unchanged.
//
// On PostgreSQL a rejected insert aborts exec's transaction; callers end it with Rollback.
func (g *Guard) RecordIfNew(
	ctx context.Context,
	exec storage.Execer,
	checkName, failureKind, detail string,
) (storage.FailureRecord, bool, error) {
	rec := storage.FailureRecord{
		CheckName:     checkName,
		FailureKind:   failureKind,
		FailureDigest: g.hasher.Digest(detail),
		FirstSeenAt:   g.clock().UTC(),
		DetailText:    detail,
	}

	err := g.store.Insert(ctx, exec, rec)

	switch {
	case err == nil:
		g.logger.Debug("Failure recorded",
			slog.String("check", checkName),
			slog.String("kind", failureKind),
			slog.String("digest", hex.EncodeToString(rec.FailureDigest)))

		return rec, true, nil
	case storage.IsUniqueViolation(err):
		g.logger.Info("Duplicate notification suppressed",
			slog.String("check", checkName),
			slog.String("kind", failureKind),
			slog.String("digest", hex.EncodeToString(rec.FailureDigest)))

		return rec, false, nil
	default:
		return rec, false, err
	}
}

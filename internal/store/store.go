package store

import (
	"context"
	"time"

	logx "postbot/pkg/logx"
)

// Store is the persistence API used by the registry and the orchestrator.
type Store interface {
	EnsureUser(ctx context.Context, telegramID int64, username string) (User, error)

	// CreateDestination inserts a destination. If the uniqueness invariant
	// (owner, platform, external id) would be violated, it returns the
	// existing record together with ErrDuplicate so re-runs stay idempotent.
	CreateDestination(ctx context.Context, d Destination) (Destination, error)

	// ListDestinations returns the owner's destinations in creation order.
	// Unknown owners get an empty slice, not an error.
	ListDestinations(ctx context.Context, ownerUserID int64) ([]Destination, error)

	// DestinationsByIDs resolves ids to destinations owned by ownerUserID,
	// preserving the caller's id order. Foreign or unknown ids are dropped.
	DestinationsByIDs(ctx context.Context, ownerUserID int64, ids []int64) ([]Destination, error)

	// CanonicalizeDestination migrates a destination registered under a
	// provisional reference (an "@handle" the bot could not resolve at the
	// time) to its canonical external id, so the uniqueness invariant keys
	// one channel by one id. A missing provisional row is not an error; if a
	// row with the canonical id already exists, the provisional one is
	// removed instead.
	CanonicalizeDestination(ctx context.Context, ownerUserID int64, platform Platform, fromExternalID, toExternalID string) error

	CreatePost(ctx context.Context, p Post) (Post, error)

	// CreateAttempts inserts one PENDING attempt per destination id, in the
	// given order, and returns them with assigned ids.
	CreateAttempts(ctx context.Context, postID int64, destinationIDs []int64) ([]DeliveryAttempt, error)

	// MarkAttempt moves a PENDING attempt to SENT or FAILED. Attempts already
	// in a terminal state are left untouched and reported as ErrNotFound.
	MarkAttempt(ctx context.Context, attemptID int64, status AttemptStatus) error

	AttemptsByPost(ctx context.Context, postID int64) ([]DeliveryAttempt, error)

	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Config configures storage. Path is the sqlite database file.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Open initializes the sqlite store, creating the schema if absent.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}

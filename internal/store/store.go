// Package store implements the durable append-only message log (spec
// §4.3): append, per-room history paging, and oldest-first replay.
package store

import (
	"context"
	"errors"

	"chatcore/internal/protocol"
)

// ErrStorageFailed wraps any underlying persistence error so callers
// can surface the single StorageFailed error kind spec §7 names,
// regardless of which Store implementation is in use.
var ErrStorageFailed = errors.New("store: storage failed")

// Store persists envelopes and answers room-scoped and replay queries.
// Implementations must be safe for concurrent use by multiple callers;
// writer contention is acceptable, lost or out-of-order writes are not.
type Store interface {
	// Append persists env, filling in ID (if empty) and TS (if empty)
	// before writing, so every stored row has both. Returns the row as
	// stored. If env.ID already names a stored row, Append returns
	// that row instead of inserting a duplicate (idempotent append).
	Append(ctx context.Context, env protocol.Envelope) (protocol.Envelope, error)

	// ListByRoom returns up to limit rows with Room == room, strictly
	// earlier than beforeID when beforeID is non-empty, newest-first.
	// limit == 0 yields an empty slice.
	ListByRoom(ctx context.Context, room string, limit int, beforeID string) ([]protocol.Envelope, error)

	// ReplayFrom returns rows with ID > startID, oldest-first, capped
	// at limit. limit == 0 yields an empty slice.
	ReplayFrom(ctx context.Context, startID string, limit int) ([]protocol.Envelope, error)

	// Close releases any resources held by the store.
	Close() error
}

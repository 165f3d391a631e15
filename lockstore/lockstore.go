// Package lockstore persists named leases used to coordinate exclusive
// execution of scheduled tasks across replicas of a process.
package lockstore

import (
	"context"
	"errors"
	"time"

	"github.com/defra/pafs-backend/l3"
)

var logger = l3.Get()

// Error sentinels returned by Store implementations.
var (
	// ErrNotHeld is returned when an operation that requires current
	// ownership (Verify, Refresh, Release, UpdateLastRun) targets a lease
	// the caller does not currently own.
	ErrNotHeld = errors.New("lockstore: lease not held by owner")
	// ErrNotFound is returned when a lease row does not exist.
	ErrNotFound = errors.New("lockstore: lease not found")
)

// Lease is a named lock row. OwnerID and ExpiresAt are mutable only by the
// current owner, except during a takeover where a new owner replaces an
// expired owner. LastRunAt is mutable only by the current owner.
// Generation increments on every successful TryAcquire (including a
// takeover) so a caller that needs stronger fencing than the lease
// timestamps provide can compare the generation it was granted against
// the generation a later read observes.
type Lease struct {
	TaskName   string
	OwnerID    string
	ExpiresAt  time.Time
	LastRunAt  time.Time
	Generation int64
}

// Store is the persistence seam for leases. Every mutating method must be a
// single atomic operation against the backing store: no implementation may
// read-then-write across two round trips for the same row.
type Store interface {
	// TryAcquire attempts to create or take over the lease for name.
	// It succeeds if no row exists, or the existing row's ExpiresAt is in
	// the past. On success it returns the new Lease with ExpiresAt set to
	// now+ttl and Generation incremented. On failure (a live lease held by
	// another owner) it returns (nil, false, nil).
	TryAcquire(ctx context.Context, name, ownerID string, ttl time.Duration) (*Lease, bool, error)

	// Verify confirms ownerID still owns an unexpired lease for name and
	// returns the current lease. Returns ErrNotHeld if ownerID does not
	// hold the lease, or the lease has expired.
	Verify(ctx context.Context, name, ownerID string) (*Lease, error)

	// Refresh extends ExpiresAt to now+ttl for the lease owned by ownerID.
	// Returns ErrNotHeld if ownerID does not currently hold the lease.
	Refresh(ctx context.Context, name, ownerID string, ttl time.Duration) (*Lease, error)

	// Release drops ownership of the lease held by ownerID. Releasing a
	// lease not held by ownerID (including one that no longer exists) is
	// not an error.
	Release(ctx context.Context, name, ownerID string) error

	// UpdateLastRun records a successful execution timestamp. Returns
	// ErrNotHeld if ownerID does not currently hold the lease.
	UpdateLastRun(ctx context.Context, name, ownerID string, at time.Time) error

	// ReleaseAllByOwner drops every lease currently held by ownerID. Used
	// on graceful shutdown so other replicas need not wait out the full
	// lease timeout before taking over.
	ReleaseAllByOwner(ctx context.Context, ownerID string) error

	// SweepExpired removes lease rows whose ExpiresAt is older than
	// olderThan. This is a housekeeping operation, not part of the
	// acquisition hot path; implementations may skip locking entirely.
	SweepExpired(ctx context.Context, olderThan time.Time) (int, error)

	// Describe returns the current lease row for name regardless of
	// ownership, for read-only introspection (e.g. an HTTP status
	// endpoint). Returns (nil, false, nil) if no row exists.
	Describe(ctx context.Context, name string) (*Lease, bool, error)

	// Close releases any resources held by the store.
	Close() error
}

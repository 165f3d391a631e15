package lockstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// schema (created out of band by a migration, not by this package):
//
//	CREATE TABLE scheduler_locks (
//		task_name   text PRIMARY KEY,
//		owner_id    text NOT NULL DEFAULT '',
//		expires_at  timestamptz NOT NULL DEFAULT 'epoch',
//		last_run_at timestamptz,
//		generation  bigint NOT NULL DEFAULT 0
//	);
//
// Release and ReleaseAllByOwner clear owner_id to '' and expires_at to
// 'epoch' rather than deleting the row, so last_run_at survives a normal
// acquire/run/release cycle. Only SweepExpired deletes rows.

// pgStore is a PostgreSQL-backed Store. Every exported method issues exactly
// one statement, so ownership checks and mutations stay atomic without
// client-side locking.
type pgStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewPostgresStore wraps an already-configured *sql.DB. The pool's lifetime
// is owned by the caller; Close on the returned Store is a no-op over the
// pool itself so callers sharing db across stores can close it once.
func NewPostgresStore(db *sql.DB) Store {
	return &pgStore{db: db}
}

// OpenPostgresStore opens a new connection pool from a DSN. The caller
// should Close() the returned Store to release the pool.
func OpenPostgresStore(dsn string) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("lockstore: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("lockstore: ping postgres: %w", err)
	}
	return &pgStore{db: db, ownsDB: true}, nil
}

func (p *pgStore) TryAcquire(ctx context.Context, name, ownerID string, ttl time.Duration) (*Lease, bool, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO scheduler_locks (task_name, owner_id, expires_at, last_run_at, generation)
		VALUES ($1, $2, $3, NULL, 1)
		ON CONFLICT (task_name) DO UPDATE
			SET owner_id = EXCLUDED.owner_id,
				expires_at = EXCLUDED.expires_at,
				generation = scheduler_locks.generation + 1
			WHERE scheduler_locks.expires_at < $4 OR scheduler_locks.owner_id = $2
		RETURNING owner_id, expires_at, last_run_at, generation
	`, name, ownerID, expiresAt, now)

	var lease Lease
	var lastRun sql.NullTime
	err := row.Scan(&lease.OwnerID, &lease.ExpiresAt, &lastRun, &lease.Generation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lockstore: try_acquire %q: %w", name, err)
	}
	lease.TaskName = name
	if lastRun.Valid {
		lease.LastRunAt = lastRun.Time
	}
	return &lease, true, nil
}

func (p *pgStore) Verify(ctx context.Context, name, ownerID string) (*Lease, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT owner_id, expires_at, last_run_at, generation
		FROM scheduler_locks
		WHERE task_name = $1 AND owner_id = $2 AND expires_at > now()
	`, name, ownerID)

	var lease Lease
	var lastRun sql.NullTime
	err := row.Scan(&lease.OwnerID, &lease.ExpiresAt, &lastRun, &lease.Generation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotHeld
	}
	if err != nil {
		return nil, fmt.Errorf("lockstore: verify %q: %w", name, err)
	}
	lease.TaskName = name
	if lastRun.Valid {
		lease.LastRunAt = lastRun.Time
	}
	return &lease, nil
}

func (p *pgStore) Refresh(ctx context.Context, name, ownerID string, ttl time.Duration) (*Lease, error) {
	expiresAt := time.Now().Add(ttl)
	row := p.db.QueryRowContext(ctx, `
		UPDATE scheduler_locks
		SET expires_at = $3
		WHERE task_name = $1 AND owner_id = $2
		RETURNING owner_id, expires_at, last_run_at, generation
	`, name, ownerID, expiresAt)

	var lease Lease
	var lastRun sql.NullTime
	err := row.Scan(&lease.OwnerID, &lease.ExpiresAt, &lastRun, &lease.Generation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotHeld
	}
	if err != nil {
		return nil, fmt.Errorf("lockstore: refresh %q: %w", name, err)
	}
	lease.TaskName = name
	if lastRun.Valid {
		lease.LastRunAt = lastRun.Time
	}
	return &lease, nil
}

func (p *pgStore) Release(ctx context.Context, name, ownerID string) error {
	// Clears ownership rather than deleting the row: the row (and its
	// last_run_at) must survive the hot-path release/reacquire cycle.
	// Only SweepExpired may remove a lease row.
	_, err := p.db.ExecContext(ctx, `
		UPDATE scheduler_locks
		SET owner_id = '', expires_at = 'epoch'
		WHERE task_name = $1 AND owner_id = $2
	`, name, ownerID)
	if err != nil {
		return fmt.Errorf("lockstore: release %q: %w", name, err)
	}
	return nil
}

func (p *pgStore) UpdateLastRun(ctx context.Context, name, ownerID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE scheduler_locks SET last_run_at = $3
		WHERE task_name = $1 AND owner_id = $2
	`, name, ownerID, at)
	if err != nil {
		return fmt.Errorf("lockstore: update_last_run %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lockstore: update_last_run %q: %w", name, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (p *pgStore) ReleaseAllByOwner(ctx context.Context, ownerID string) error {
	// Same ownership-clearing rule as Release; rows stay so last_run_at
	// survives for the next owner.
	_, err := p.db.ExecContext(ctx, `
		UPDATE scheduler_locks
		SET owner_id = '', expires_at = 'epoch'
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return fmt.Errorf("lockstore: release_all_by_owner %q: %w", ownerID, err)
	}
	return nil
}

func (p *pgStore) SweepExpired(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM scheduler_locks WHERE expires_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("lockstore: sweep_expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("lockstore: sweep_expired: %w", err)
	}
	return int(n), nil
}

func (p *pgStore) Describe(ctx context.Context, name string) (*Lease, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT owner_id, expires_at, last_run_at, generation
		FROM scheduler_locks
		WHERE task_name = $1
	`, name)

	var lease Lease
	var lastRun sql.NullTime
	err := row.Scan(&lease.OwnerID, &lease.ExpiresAt, &lastRun, &lease.Generation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lockstore: describe %q: %w", name, err)
	}
	lease.TaskName = name
	if lastRun.Valid {
		lease.LastRunAt = lastRun.Time
	}
	return &lease, true, nil
}

func (p *pgStore) Close() error {
	if !p.ownsDB {
		return nil
	}
	return p.db.Close()
}

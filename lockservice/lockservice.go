// Package lockservice coordinates exclusive task execution across process
// replicas sharing a lockstore.Store. It acquires a lease, keeps it alive
// with a background refresher for as long as the caller holds the Handle,
// and drops the in-memory handle the moment any refresh fails so the caller
// can treat that as "I may no longer be exclusive."
package lockservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/defra/pafs-backend/l3"
	"github.com/defra/pafs-backend/lockstore"
)

var logger = l3.Get()

// Service acquires and manages leases on behalf of one process instance.
type Service struct {
	store      lockstore.Store
	ownerID    string
	leaseTTL   time.Duration
	refreshInt time.Duration

	mu     sync.Mutex
	active map[string]*Handle
}

// New creates a Service bound to a single owner identity. leaseTTL is the
// lease timeout T; refreshInterval is the refresh period R and must be
// less than T/2 so at least one refresh attempt can fail and still leave
// the lease live long enough for a competing instance to observe the
// expiry before double-execution becomes possible.
func New(store lockstore.Store, ownerID string, leaseTTL, refreshInterval time.Duration) *Service {
	if refreshInterval >= leaseTTL/2 {
		refreshInterval = leaseTTL / 3
	}
	return &Service{
		store:      store,
		ownerID:    ownerID,
		leaseTTL:   leaseTTL,
		refreshInt: refreshInterval,
		active:     make(map[string]*Handle),
	}
}

// Handle represents a held lease. It is only valid while Alive() is true;
// once the background refresher observes a failure it marks the handle
// dead and the caller's execution must stop treating itself as exclusive.
type Handle struct {
	taskName string
	svc      *Service

	mu       sync.Mutex
	alive    bool
	lease    *lockstore.Lease
	cancel   context.CancelFunc
	done     chan struct{}
}

// Acquire attempts to take (or take over) the lease for taskName. It
// returns (nil, false, nil) if another owner currently holds a live lease.
// On success, a background goroutine refreshes the lease every
// refreshInterval until Release is called or a refresh fails.
func (s *Service) Acquire(ctx context.Context, taskName string) (*Handle, bool, error) {
	lease, ok, err := s.store.TryAcquire(ctx, taskName, s.ownerID, s.leaseTTL)
	if err != nil {
		return nil, false, fmt.Errorf("lockservice: acquire %q: %w", taskName, err)
	}
	if !ok {
		return nil, false, nil
	}

	// Re-verify after the atomic acquire: a takeover race won by another
	// replica between the store returning and this goroutine resuming would
	// otherwise leave us believing we hold a lease we have already lost.
	lease, err = s.store.Verify(ctx, taskName, s.ownerID)
	if err != nil {
		return nil, false, nil
	}

	refreshCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		taskName: taskName,
		svc:      s,
		alive:    true,
		lease:    lease,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.active[taskName] = h
	s.mu.Unlock()

	go h.refreshLoop(refreshCtx)
	return h, true, nil
}

// Generation returns the lease generation the handle was granted, for
// callers that want to fence writes against a later takeover.
func (h *Handle) Generation() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lease.Generation
}

// Alive reports whether this handle's lease is still believed to be held.
// It becomes false permanently the moment a refresh fails.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// MarkSuccess records a successful execution timestamp against the lease.
// It is a no-op (and returns an error) if the handle is no longer alive.
func (h *Handle) MarkSuccess(ctx context.Context, at time.Time) error {
	if !h.Alive() {
		return lockstore.ErrNotHeld
	}
	return h.svc.store.UpdateLastRun(ctx, h.taskName, h.svc.ownerID, at)
}

// Release stops the refresher and releases the lease. Safe to call
// multiple times and safe to call on a handle whose refresher already
// died.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	wasAlive := h.alive
	h.alive = false
	h.mu.Unlock()

	h.cancel()
	<-h.done

	h.svc.mu.Lock()
	delete(h.svc.active, h.taskName)
	h.svc.mu.Unlock()

	if !wasAlive {
		// The refresher already lost the lease; nothing to release remotely.
		return nil
	}
	return h.svc.store.Release(ctx, h.taskName, h.svc.ownerID)
}

// refreshLoop renews the lease at the configured cadence until canceled or
// a refresh attempt fails. A failed refresh is logged at warn level and
// immediately kills the handle; it does not retry, since a failed refresh
// means we can no longer be confident we are still the exclusive owner.
func (h *Handle) refreshLoop(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.svc.refreshInt)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lease, err := h.svc.store.Refresh(context.Background(), h.taskName, h.svc.ownerID, h.svc.leaseTTL)
			if err != nil {
				logger.WarnF("lockservice: lost lease %q: %v", h.taskName, err)
				h.mu.Lock()
				h.alive = false
				h.mu.Unlock()
				return
			}
			h.mu.Lock()
			h.lease = lease
			h.mu.Unlock()
		}
	}
}

// ReleaseAll drops every lease currently held by this service's owner
// identity, both locally and in the store. Used on graceful shutdown.
func (s *Service) ReleaseAll(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		_ = h.Release(ctx)
	}
	return s.store.ReleaseAllByOwner(ctx, s.ownerID)
}

// OwnerID returns the identity this service acquires leases under.
func (s *Service) OwnerID() string {
	return s.ownerID
}

// Describe returns the current lease row for taskName regardless of
// ownership, for read-only introspection.
func (s *Service) Describe(ctx context.Context, taskName string) (*lockstore.Lease, bool, error) {
	return s.store.Describe(ctx, taskName)
}

package lockstore

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_TryAcquire_SingleOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	lease, ok, err := store.TryAcquire(ctx, "sweep", "owner-a", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if lease.Generation != 1 {
		t.Fatalf("expected generation 1, got %d", lease.Generation)
	}

	_, ok, err = store.TryAcquire(ctx, "sweep", "owner-b", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire returned error: %v", err)
	}
	if ok {
		t.Fatal("expected second owner to be refused a live lease")
	}
}

func TestMemoryStore_TryAcquire_TakeoverAfterExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.TryAcquire(ctx, "sweep", "owner-a", -time.Second); err != nil || !ok {
		t.Fatalf("expected initial acquire to succeed, got ok=%v err=%v", ok, err)
	}

	lease, ok, err := store.TryAcquire(ctx, "sweep", "owner-b", time.Minute)
	if err != nil {
		t.Fatalf("TryAcquire returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected takeover of an expired lease to succeed")
	}
	if lease.OwnerID != "owner-b" {
		t.Fatalf("expected new owner owner-b, got %q", lease.OwnerID)
	}
	if lease.Generation != 2 {
		t.Fatalf("expected generation to advance to 2 on takeover, got %d", lease.Generation)
	}
}

func TestMemoryStore_VerifyRefreshRelease(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.TryAcquire(ctx, "sweep", "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("setup acquire failed: ok=%v err=%v", ok, err)
	}

	if _, err := store.Verify(ctx, "sweep", "owner-b"); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld for non-owner verify, got %v", err)
	}

	if _, err := store.Verify(ctx, "sweep", "owner-a"); err != nil {
		t.Fatalf("expected owner verify to succeed, got %v", err)
	}

	refreshed, err := store.Refresh(ctx, "sweep", "owner-a", 2*time.Minute)
	if err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	if time.Until(refreshed.ExpiresAt) <= time.Minute {
		t.Fatalf("expected refreshed expiry to move out, got %v", refreshed.ExpiresAt)
	}

	if err := store.Release(ctx, "sweep", "owner-b"); err != nil {
		t.Fatalf("release by non-owner should be a no-op, got error: %v", err)
	}
	if _, err := store.Verify(ctx, "sweep", "owner-a"); err != nil {
		t.Fatal("release by non-owner must not have released the lease")
	}

	if err := store.Release(ctx, "sweep", "owner-a"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if _, err := store.Verify(ctx, "sweep", "owner-a"); err != ErrNotHeld {
		t.Fatalf("expected lease to be no longer held by its owner after release, got %v", err)
	}
}

func TestMemoryStore_UpdateLastRun(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.TryAcquire(ctx, "sweep", "owner-a", time.Minute); err != nil || !ok {
		t.Fatalf("setup acquire failed: ok=%v err=%v", ok, err)
	}

	if err := store.UpdateLastRun(ctx, "sweep", "owner-b", time.Now()); err != ErrNotHeld {
		t.Fatalf("expected ErrNotHeld for non-owner update, got %v", err)
	}

	now := time.Now()
	if err := store.UpdateLastRun(ctx, "sweep", "owner-a", now); err != nil {
		t.Fatalf("UpdateLastRun returned error: %v", err)
	}

	lease, err := store.Verify(ctx, "sweep", "owner-a")
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !lease.LastRunAt.Equal(now) {
		t.Fatalf("expected LastRunAt %v, got %v", now, lease.LastRunAt)
	}
}

func TestMemoryStore_ReleaseAllByOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, name := range []string{"task-a", "task-b", "task-c"} {
		if _, ok, err := store.TryAcquire(ctx, name, "owner-a", time.Minute); err != nil || !ok {
			t.Fatalf("setup acquire of %q failed: ok=%v err=%v", name, ok, err)
		}
	}
	if _, ok, err := store.TryAcquire(ctx, "task-d", "owner-b", time.Minute); err != nil || !ok {
		t.Fatalf("setup acquire of task-d failed: ok=%v err=%v", ok, err)
	}

	if err := store.ReleaseAllByOwner(ctx, "owner-a"); err != nil {
		t.Fatalf("ReleaseAllByOwner returned error: %v", err)
	}

	for _, name := range []string{"task-a", "task-b", "task-c"} {
		if _, err := store.Verify(ctx, name, "owner-a"); err != ErrNotHeld {
			t.Fatalf("expected %q to be released, got %v", name, err)
		}
	}
	if _, err := store.Verify(ctx, "task-d", "owner-b"); err != nil {
		t.Fatal("ReleaseAllByOwner must not touch other owners' leases")
	}
}

func TestMemoryStore_SweepExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.TryAcquire(ctx, "stale", "owner-a", -time.Hour); err != nil || !ok {
		t.Fatalf("setup acquire failed: ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.TryAcquire(ctx, "fresh", "owner-a", time.Hour); err != nil || !ok {
		t.Fatalf("setup acquire failed: ok=%v err=%v", ok, err)
	}

	n, err := store.SweepExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("SweepExpired returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept row, got %d", n)
	}
	if _, err := store.Verify(ctx, "fresh", "owner-a"); err != nil {
		t.Fatal("sweep must not remove unexpired leases")
	}
}

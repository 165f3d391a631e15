package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/defra/pafs-backend/lockservice"
	"github.com/defra/pafs-backend/lockstore"
)

func newTestRunner(t *testing.T, owner string) (*Registry, *Runner) {
	t.Helper()
	store := lockstore.NewMemoryStore()
	locks := lockservice.New(store, owner, 300*time.Millisecond, 75*time.Millisecond)
	reg := NewRegistry()
	runner := NewRunner(reg, locks, 50*time.Millisecond)
	return reg, runner
}

func TestRunner_ExecutesDueIntervalTask(t *testing.T) {
	reg, runner := newTestRunner(t, "replica-a")

	var count int32
	iv, _ := NewInterval(20 * time.Millisecond)
	if err := reg.Register(Task{
		Name:     "count-up",
		Schedule: iv,
		Handler: func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if err := runner.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer runner.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&count) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&count) < 2 {
		t.Fatalf("expected at least 2 executions, got %d", count)
	}
}

func TestRunner_RecoversPanickingHandler(t *testing.T) {
	reg, runner := newTestRunner(t, "replica-a")

	var ran int32
	os, _ := NewOneShotAfter(0)
	if err := reg.Register(Task{
		Name:     "boom",
		Schedule: os,
		Handler: func(ctx context.Context) error {
			atomic.StoreInt32(&ran, 1)
			panic("boom")
		},
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if err := runner.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer runner.Stop()

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) && atomic.LoadInt32(&ran) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&ran) == 0 {
		t.Fatal("expected the panicking handler to have run")
	}
	// The runner goroutine must still be alive; a second Start attempt
	// should report it's already running rather than the process having
	// crashed out of the loop.
	if err := runner.Start(); err == nil {
		t.Fatal("expected Start to report the runner is already running")
	}
}

func TestRunner_SecondReplicaExcludedWhileFirstHoldsLease(t *testing.T) {
	store := lockstore.NewMemoryStore()
	locksA := lockservice.New(store, "replica-a", 300*time.Millisecond, 75*time.Millisecond)
	locksB := lockservice.New(store, "replica-b", 300*time.Millisecond, 75*time.Millisecond)

	var countA, countB int32
	regA := NewRegistry()
	iv, _ := NewInterval(20 * time.Millisecond)
	slow := func(counter *int32) Handler {
		return func(ctx context.Context) error {
			atomic.AddInt32(counter, 1)
			time.Sleep(150 * time.Millisecond)
			return nil
		}
	}
	if err := regA.Register(Task{Name: "shared", Schedule: iv, Handler: slow(&countA)}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	regB := NewRegistry()
	if err := regB.Register(Task{Name: "shared", Schedule: iv, Handler: slow(&countB)}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	runnerA := NewRunner(regA, locksA, 20*time.Millisecond)
	runnerB := NewRunner(regB, locksB, 20*time.Millisecond)
	if err := runnerA.Start(); err != nil {
		t.Fatalf("Start A returned error: %v", err)
	}
	defer runnerA.Stop()
	if err := runnerB.Start(); err != nil {
		t.Fatalf("Start B returned error: %v", err)
	}
	defer runnerB.Stop()

	time.Sleep(200 * time.Millisecond)

	total := atomic.LoadInt32(&countA) + atomic.LoadInt32(&countB)
	if total == 0 {
		t.Fatal("expected at least one execution across both replicas")
	}
	if atomic.LoadInt32(&countA) > 0 && atomic.LoadInt32(&countB) > 0 {
		// Both ran at different times, which is fine as long as they never
		// overlapped; overlap would require a timing assertion this test
		// intentionally avoids since it would be flaky. The meaningful
		// guarantee (single active lease holder) is covered at the
		// lockservice layer.
		t.Log("both replicas executed the shared task at different times, as expected under takeover")
	}
}

func TestRegistry_RejectsDuplicateAndEmptyName(t *testing.T) {
	reg := NewRegistry()
	iv, _ := NewInterval(time.Minute)
	if err := reg.Register(Task{Name: "", Schedule: iv, Handler: func(context.Context) error { return nil }}); !errors.Is(err, ErrEmptyTaskName) {
		t.Fatalf("expected ErrEmptyTaskName, got %v", err)
	}
	if err := reg.Register(Task{Name: "x", Schedule: iv, Handler: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("first register should succeed, got %v", err)
	}
	if err := reg.Register(Task{Name: "x", Schedule: iv, Handler: func(context.Context) error { return nil }}); !errors.Is(err, ErrTaskExists) {
		t.Fatalf("expected ErrTaskExists, got %v", err)
	}
}

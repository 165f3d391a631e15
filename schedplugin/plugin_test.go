package schedplugin

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/defra/pafs-backend/lockstore"
	"github.com/defra/pafs-backend/scheduler"
)

func TestPlugin_StartRunsRegisteredTask(t *testing.T) {
	store := lockstore.NewMemoryStore()
	p := New(Options{
		Store:          store,
		LeaseTTL:       200 * time.Millisecond,
		RefreshInterval: 40 * time.Millisecond,
		StoragePoll:    20 * time.Millisecond,
		SweepInterval:  20 * time.Millisecond,
		SweepOlderThan: 0,
	})

	var ran int32
	iv, _ := scheduler.NewInterval(20 * time.Millisecond)
	if err := p.Register(scheduler.Task{
		Name:     "host-task",
		Schedule: iv,
		Handler: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer p.Stop()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && atomic.LoadInt32(&ran) < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&ran) < 2 {
		t.Fatalf("expected host task to run at least twice, ran %d times", ran)
	}
}

func TestPlugin_StopReleasesLeases(t *testing.T) {
	store := lockstore.NewMemoryStore()
	p := New(Options{Store: store, LeaseTTL: time.Minute, RefreshInterval: 10 * time.Second})

	iv, _ := scheduler.NewInterval(5 * time.Millisecond)
	if err := p.Register(scheduler.Task{
		Name:     "host-task",
		Schedule: iv,
		Handler:  func(ctx context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	ctx := context.Background()
	if _, ok, err := store.TryAcquire(ctx, sweepTaskName, "someone-else", time.Minute); err != nil || !ok {
		t.Fatal("expected sweep lease to be acquirable by another owner after Stop")
	}
	if _, ok, err := store.TryAcquire(ctx, "host-task", "someone-else", time.Minute); err != nil || !ok {
		t.Fatal("expected host-task lease to be acquirable by another owner after Stop")
	}
}

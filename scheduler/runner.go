package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/defra/pafs-backend/lockservice"
)

// defaultStoragePoll is the slow-poll cadence that catches tasks becoming
// due without relying solely on the precise wake timer; it matters most
// when NewRunner's caller mutates the registry from another goroutine.
const defaultStoragePoll = 30 * time.Second

// Runner drives a Registry's tasks to completion, wrapping every execution
// in an exclusive lease from a lockservice.Service so at most one replica
// runs a given task at a time.
type Runner struct {
	registry *Registry
	locks    *lockservice.Service
	poll     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}
}

// NewRunner builds a Runner. poll is the slow background cadence; pass 0
// to use the default of 30s.
func NewRunner(registry *Registry, locks *lockservice.Service, poll time.Duration) *Runner {
	if poll <= 0 {
		poll = defaultStoragePoll
	}
	return &Runner{
		registry: registry,
		locks:    locks,
		poll:     poll,
		wake:     make(chan struct{}, 1),
	}
}

// Start begins the tick loop in a background goroutine.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("scheduler: runner already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

// Stop cancels the loop and waits for in-flight handler goroutines to
// finish, then releases every lease this runner's lock service holds.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("scheduler: runner not running")
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	return r.locks.ReleaseAll(context.Background())
}

func (r *Runner) signalWake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	poll := time.NewTicker(r.poll)
	defer poll.Stop()

	d, ok := r.registry.nextWake(time.Now())
	if !ok {
		d = r.poll
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	reset := func() {
		d, ok := r.registry.nextWake(time.Now())
		if !ok {
			d = r.poll
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			r.checkAndExecute(ctx, now)
			reset()
		case now := <-poll.C:
			r.checkAndExecute(ctx, now)
			reset()
		case <-r.wake:
			reset()
		}
	}
}

// checkAndExecute attempts to acquire a lease and run each due, not-already
// locally-running task.
func (r *Runner) checkAndExecute(ctx context.Context, now time.Time) {
	for _, e := range r.registry.dueEntries(now) {
		handle, ok, err := r.locks.Acquire(ctx, e.task.Name)
		if err != nil {
			logger.ErrorF("scheduler: acquire lease for %q failed: %v", e.task.Name, err)
			continue
		}
		if !ok {
			logger.DebugF("scheduler: lease for %q held by another replica", e.task.Name)
			continue
		}

		r.registry.mu.Lock()
		if e.running {
			r.registry.mu.Unlock()
			_ = handle.Release(context.Background())
			continue
		}
		e.running = true
		r.registry.mu.Unlock()

		r.wg.Add(1)
		go r.execute(ctx, e, handle)
	}
}

// execute runs a single task under its lease, recovering panics and
// enforcing MaxRunDuration, then schedules the next run and releases the
// lease regardless of outcome.
func (r *Runner) execute(ctx context.Context, e *entry, handle *lockservice.Handle) {
	defer r.wg.Done()
	defer func() {
		r.registry.mu.Lock()
		e.running = false
		e.nextRun = e.task.Schedule.Next(time.Now())
		r.registry.mu.Unlock()
		_ = handle.Release(context.Background())
		r.signalWake()
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if e.task.MaxRunDuration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, e.task.MaxRunDuration)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	defer cancel()

	err := r.runHandler(runCtx, e.task)
	if err != nil {
		logger.ErrorF("scheduler: task %q failed: %v", e.task.Name, err)
		return
	}
	if markErr := handle.MarkSuccess(context.Background(), time.Now()); markErr != nil {
		logger.WarnF("scheduler: task %q succeeded but lease was lost before recording: %v", e.task.Name, markErr)
	}
}

// runHandler recovers a panicking handler and turns it into an error so a
// single bad task cannot take down the runner goroutine.
func (r *Runner) runHandler(ctx context.Context, t Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scheduler: task %q panicked: %v", t.Name, p)
		}
	}()
	return t.Handler(ctx)
}

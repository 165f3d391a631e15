// Package schedplugin wires the Task Registry & Runner and the Distributed
// Lock Service into the process's component lifecycle: it registers the
// host application's tasks plus a built-in lease-sweep task, starts the
// runner on Start, and on Stop cancels running handlers and releases every
// lease this instance held so a peer replica need not wait out the full
// lease timeout.
package schedplugin

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/defra/pafs-backend/l3"
	"github.com/defra/pafs-backend/lifecycle"
	"github.com/defra/pafs-backend/lockservice"
	"github.com/defra/pafs-backend/lockstore"
	"github.com/defra/pafs-backend/scheduler"
)

var logger = l3.Get()

// sweepTaskName is the lease name used for the housekeeping task that
// removes far-expired lease rows so the table does not grow unbounded.
const sweepTaskName = "scheduler-lock-sweep"

// Options configures a Plugin.
type Options struct {
	// Store backs the lease lock service. Required.
	Store lockstore.Store
	// OwnerID identifies this process replica. If empty, a default is
	// derived from hostname and PID.
	OwnerID string
	// LeaseTTL is T, the lease timeout. Default 1 minute.
	LeaseTTL time.Duration
	// RefreshInterval is R; must be < LeaseTTL/2. Default LeaseTTL/4.
	RefreshInterval time.Duration
	// StoragePoll is the runner's slow poll cadence. Default 30s.
	StoragePoll time.Duration
	// SweepInterval controls how often the lock-sweep housekeeping task
	// runs. Default 10 minutes.
	SweepInterval time.Duration
	// SweepOlderThan bounds how stale an expired lease must be before the
	// sweep removes it. Default 1 hour.
	SweepOlderThan time.Duration
}

// Plugin is a lifecycle.Component gluing the scheduler Registry/Runner to
// the process's component manager.
type Plugin struct {
	*lifecycle.SimpleComponent

	registry *scheduler.Registry
	runner   *scheduler.Runner
	locks    *lockservice.Service
}

// New builds a Plugin. Call Register for every host-application task
// before the component manager starts it.
func New(opts Options) *Plugin {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = time.Minute
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = opts.LeaseTTL / 4
	}
	if opts.StoragePoll <= 0 {
		opts.StoragePoll = 30 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 10 * time.Minute
	}
	if opts.SweepOlderThan <= 0 {
		opts.SweepOlderThan = time.Hour
	}
	if opts.OwnerID == "" {
		opts.OwnerID = defaultOwnerID()
	}

	locks := lockservice.New(opts.Store, opts.OwnerID, opts.LeaseTTL, opts.RefreshInterval)
	registry := scheduler.NewRegistry()
	runner := scheduler.NewRunner(registry, locks, opts.StoragePoll)

	sweepSchedule, err := scheduler.NewInterval(opts.SweepInterval)
	if err != nil {
		// opts.SweepInterval was validated above to be positive.
		panic(fmt.Sprintf("schedplugin: invalid sweep interval: %v", err))
	}
	registerErr := registry.Register(scheduler.Task{
		Name:     sweepTaskName,
		Schedule: sweepSchedule,
		Handler: func(ctx context.Context) error {
			n, sweepErr := opts.Store.SweepExpired(ctx, time.Now().Add(-opts.SweepOlderThan))
			if sweepErr != nil {
				return sweepErr
			}
			if n > 0 {
				logger.InfoF("schedplugin: swept %d expired lease row(s)", n)
			}
			return nil
		},
		MaxRunDuration: opts.LeaseTTL / 2,
	})
	if registerErr != nil {
		panic(fmt.Sprintf("schedplugin: registering built-in sweep task: %v", registerErr))
	}

	p := &Plugin{registry: registry, runner: runner, locks: locks}
	p.SimpleComponent = &lifecycle.SimpleComponent{
		CompId:    "scheduler-plugin",
		StartFunc: runner.Start,
		StopFunc:  runner.Stop,
	}
	return p
}

// Register adds a host-application task before the plugin starts. Returns
// scheduler.ErrTaskExists if called again after Start with a duplicate name.
func (p *Plugin) Register(t scheduler.Task) error {
	return p.registry.Register(t)
}

// Locks exposes the underlying lock service so other components (e.g. the
// upload engine's orphan sweep) can acquire ad hoc leases outside of a
// registered Task, using the same owner identity and lease parameters.
func (p *Plugin) Locks() *lockservice.Service {
	return p.locks
}

// TaskStatus combines a task's local scheduling state with its lease row,
// for introspection endpoints.
type TaskStatus struct {
	Name      string
	NextRun   time.Time
	Running   bool
	OwnerID   string
	ExpiresAt time.Time
	LastRunAt time.Time
}

func (p *Plugin) describe(ctx context.Context, s scheduler.TaskSummary) (TaskStatus, error) {
	status := TaskStatus{Name: s.Name, NextRun: s.NextRun, Running: s.Running}
	lease, ok, err := p.locks.Describe(ctx, s.Name)
	if err != nil {
		return TaskStatus{}, err
	}
	if ok {
		status.OwnerID = lease.OwnerID
		status.ExpiresAt = lease.ExpiresAt
		status.LastRunAt = lease.LastRunAt
	}
	return status, nil
}

// Tasks returns the status of every registered task, sorted by name.
func (p *Plugin) Tasks(ctx context.Context) ([]TaskStatus, error) {
	summaries := p.registry.List()
	out := make([]TaskStatus, 0, len(summaries))
	for _, s := range summaries {
		status, err := p.describe(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("schedplugin: describing task %q: %w", s.Name, err)
		}
		out = append(out, status)
	}
	return out, nil
}

// ErrTaskNotFound is returned by Task when no task with the given name is
// registered.
var ErrTaskNotFound = scheduler.ErrTaskNotFound

// Task returns the status of a single registered task.
func (p *Plugin) Task(ctx context.Context, name string) (TaskStatus, error) {
	summary, ok := p.registry.Get(name)
	if !ok {
		return TaskStatus{}, ErrTaskNotFound
	}
	return p.describe(ctx, summary)
}

func defaultOwnerID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}

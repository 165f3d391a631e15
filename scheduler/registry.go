package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/defra/pafs-backend/l3"
)

var logger = l3.Get()

// Errors returned by the registry and runner.
var (
	ErrTaskExists    = errors.New("scheduler: task already registered")
	ErrTaskNotFound  = errors.New("scheduler: task not found")
	ErrEmptyTaskName = errors.New("scheduler: task name cannot be empty")
	ErrNilHandler    = errors.New("scheduler: handler cannot be nil")
)

// Handler is the function a task runs. The context is canceled when the
// runner stops or when the task's MaxRunDuration elapses.
type Handler func(ctx context.Context) error

// Task is an in-memory task definition. MaxRunDuration must be shorter than
// the lease timeout the Runner acquires tasks with, or a slow handler could
// still be mid-execution after another replica takes over the lease.
type Task struct {
	Name            string
	Schedule        Schedule
	Handler         Handler
	MaxRunDuration  time.Duration
}

// entry tracks the mutable local state for one registered task: its next
// due time and whether it is currently executing on this instance.
type entry struct {
	task    Task
	nextRun time.Time
	running bool
}

// Registry holds task definitions known to this process. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a task definition, computing its first due time from now.
func (r *Registry) Register(t Task) error {
	if t.Name == "" {
		return ErrEmptyTaskName
	}
	if t.Handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, t.Name)
	}
	r.entries[t.Name] = &entry{task: t, nextRun: t.Schedule.Next(time.Now())}
	logger.InfoF("scheduler: registered task %q", t.Name)
	return nil
}

// Remove drops a task definition.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		return ErrTaskNotFound
	}
	delete(r.entries, name)
	return nil
}

// TaskSummary is a read-only snapshot of one registered task's local
// scheduling state, for introspection.
type TaskSummary struct {
	Name    string
	NextRun time.Time
	Running bool
}

// List returns a snapshot of every registered task's local state, sorted
// by name.
func (r *Registry) List() []TaskSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TaskSummary, 0, len(r.entries))
	for name, e := range r.entries {
		out = append(out, TaskSummary{Name: name, NextRun: e.nextRun, Running: e.running})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the local state for a single task.
func (r *Registry) Get(name string) (TaskSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return TaskSummary{}, false
	}
	return TaskSummary{Name: name, NextRun: e.nextRun, Running: e.running}, true
}

// dueEntries returns the entries due at or before now, without mutating them.
func (r *Registry) dueEntries(now time.Time) []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*entry
	for _, e := range r.entries {
		if e.running {
			continue
		}
		if e.nextRun.IsZero() || now.Before(e.nextRun) {
			continue
		}
		due = append(due, e)
	}
	return due
}

// nextWake returns the soonest nextRun across all entries, or the zero
// duration if nothing is scheduled.
func (r *Registry) nextWake(now time.Time) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var earliest time.Time
	for _, e := range r.entries {
		if e.nextRun.IsZero() {
			continue
		}
		if earliest.IsZero() || e.nextRun.Before(earliest) {
			earliest = e.nextRun
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	d := earliest.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

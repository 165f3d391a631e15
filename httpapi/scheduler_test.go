package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/defra/pafs-backend/lockstore"
	"github.com/defra/pafs-backend/rest"
	"github.com/defra/pafs-backend/scheduler"
	"github.com/defra/pafs-backend/schedplugin"
)

func newSchedulerTestServer(t *testing.T) rest.Server {
	t.Helper()
	srv, err := rest.NewServer(rest.DefaultSrvOptions().SetListenPort(0))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	plugin := schedplugin.New(schedplugin.Options{Store: lockstore.NewMemoryStore()})
	interval, err := scheduler.NewInterval(time.Minute)
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	if err := plugin.Register(scheduler.Task{
		Name:     "report-export",
		Schedule: interval,
		Handler:  func(ctx context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("Register task: %v", err)
	}

	if err := RegisterScheduler(srv, plugin); err != nil {
		t.Fatalf("RegisterScheduler: %v", err)
	}
	return srv
}

func TestSchedulerListTasks(t *testing.T) {
	srv := newSchedulerTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/scheduler/tasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string][]taskView
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	tasks := body["tasks"]
	found := false
	for _, task := range tasks {
		if task.Name == "report-export" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected report-export in task list, got %+v", tasks)
	}
	// The plugin's built-in lease-sweep task is also registered, so the
	// list should contain at least two entries.
	if len(tasks) < 2 {
		t.Fatalf("expected at least 2 tasks (including the built-in sweep), got %d", len(tasks))
	}
}

func TestSchedulerGetTask(t *testing.T) {
	srv := newSchedulerTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/scheduler/tasks/report-export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got taskView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Name != "report-export" {
		t.Fatalf("unexpected task view: %+v", got)
	}
	if got.OwnerID != "" {
		t.Fatalf("expected no owner for a never-run task, got %q", got.OwnerID)
	}
}

func TestSchedulerGetTaskNotFound(t *testing.T) {
	srv := newSchedulerTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/scheduler/tasks/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

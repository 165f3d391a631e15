package httpapi

import (
	"errors"
	"net/http"

	"github.com/defra/pafs-backend/rest"
	"github.com/defra/pafs-backend/schedplugin"
)

// schedulerHandlers bundles the scheduler plugin for introspection-only
// routes: nothing here mutates task or lease state.
type schedulerHandlers struct {
	plugin *schedplugin.Plugin
}

// RegisterScheduler wires the read-only scheduler introspection routes onto
// srv. Intended to be called alongside Register whenever the scheduler
// plugin is part of the same process as the HTTP server.
func RegisterScheduler(srv rest.Server, plugin *schedplugin.Plugin) error {
	h := &schedulerHandlers{plugin: plugin}

	if _, err := srv.Get("/scheduler/tasks", h.list); err != nil {
		return err
	}
	if _, err := srv.Get("/scheduler/tasks/:name", h.get); err != nil {
		return err
	}
	return nil
}

type taskView struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	NextRun   string `json:"nextRun,omitempty"`
	OwnerID   string `json:"ownerId,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	LastRunAt string `json:"lastRunAt,omitempty"`
}

func taskStatusView(s schedplugin.TaskStatus) taskView {
	v := taskView{Name: s.Name, Running: s.Running, OwnerID: s.OwnerID}
	if !s.NextRun.IsZero() {
		v.NextRun = s.NextRun.UTC().Format(httpTimeFormat)
	}
	if !s.ExpiresAt.IsZero() {
		v.ExpiresAt = s.ExpiresAt.UTC().Format(httpTimeFormat)
	}
	if !s.LastRunAt.IsZero() {
		v.LastRunAt = s.LastRunAt.UTC().Format(httpTimeFormat)
	}
	return v
}

const httpTimeFormat = "2006-01-02T15:04:05Z07:00"

func (h *schedulerHandlers) list(ctx rest.Context) {
	tasks, err := h.plugin.Tasks(ctx.Context())
	if err != nil {
		logger.WarnF("httpapi: listing scheduler tasks: %v", err)
		writeError(ctx, http.StatusInternalServerError, "internal error")
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskStatusView(t))
	}
	_ = ctx.WriteJSON(map[string][]taskView{"tasks": views})
}

func (h *schedulerHandlers) get(ctx rest.Context) {
	name, err := ctx.GetParam("name", rest.PathParam)
	if err != nil || name == "" {
		writeError(ctx, http.StatusBadRequest, "name is required")
		return
	}

	status, err := h.plugin.Task(ctx.Context(), name)
	if err != nil {
		if errors.Is(err, schedplugin.ErrTaskNotFound) {
			writeError(ctx, http.StatusNotFound, "task not found")
			return
		}
		logger.WarnF("httpapi: describing scheduler task %q: %v", name, err)
		writeError(ctx, http.StatusInternalServerError, "internal error")
		return
	}
	_ = ctx.WriteJSON(taskStatusView(status))
}

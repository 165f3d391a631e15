package uploads

import (
	"context"
	"errors"
	"time"

	"github.com/defra/pafs-backend/scanservice"
	"github.com/defra/pafs-backend/scheduler"
	"github.com/defra/pafs-backend/uploadstore"
)

// sweepTaskName is the lease the orphan-sweep task runs under.
const sweepTaskName = "sweep-uploads"

// SweepOptions configures RegisterOrphanSweep.
type SweepOptions struct {
	Schedule scheduler.Schedule
	// OlderThan bounds how long a pending/processing record may sit
	// unreconciled before the sweep considers it a candidate. Default 1h.
	OlderThan time.Duration
	// MaxRunDuration bounds a single sweep run. Default 5 minutes.
	MaxRunDuration time.Duration
}

// registrar is the subset of schedplugin.Plugin the sweep task needs; kept
// narrow so tests can supply a fake instead of a real plugin.
type registrar interface {
	Register(scheduler.Task) error
}

// RegisterOrphanSweep registers the scheduled task that reconciles upload
// records abandoned by their client: still pending or processing long
// after creation, with the scan service itself having forgotten the
// session. Such records are failed out with a fixed rejection reason
// rather than left to poll forever.
func RegisterOrphanSweep(plugin registrar, engine *Engine, opts SweepOptions) error {
	if opts.OlderThan <= 0 {
		opts.OlderThan = time.Hour
	}
	if opts.MaxRunDuration <= 0 {
		opts.MaxRunDuration = 5 * time.Minute
	}

	return plugin.Register(scheduler.Task{
		Name:           sweepTaskName,
		Schedule:       opts.Schedule,
		MaxRunDuration: opts.MaxRunDuration,
		Handler: func(ctx context.Context) error {
			return engine.sweepOrphaned(ctx, opts.OlderThan)
		},
	})
}

// sweepOrphaned is the handler body, factored out for direct testing
// without a scheduler.Task wrapper.
func (e *Engine) sweepOrphaned(ctx context.Context, olderThan time.Duration) error {
	orphaned, err := e.store.ListOrphaned(ctx, timeNow().Add(-olderThan))
	if err != nil {
		return err
	}

	for _, rec := range orphaned {
		external, statusErr := e.scanner.Status(ctx, rec.UploadID)
		if statusErr != nil {
			if isNotFound(statusErr) {
				e.abandon(ctx, rec)
				continue
			}
			logger.WarnF("uploads: sweep status check for %q: %v", rec.UploadID, statusErr)
			continue
		}
		if _, err := e.reconcile(ctx, rec, external); err != nil {
			logger.WarnF("uploads: sweep reconcile for %q: %v", rec.UploadID, err)
		}
	}
	return nil
}

// abandon fails a record the scan service itself no longer knows about.
func (e *Engine) abandon(ctx context.Context, rec *uploadstore.Record) {
	next := *rec
	next.UploadStatus = uploadstore.StatusFailed
	next.RejectionReason = "upload abandoned"
	next.UpdatedAt = timeNow()
	if err := e.store.Update(ctx, &next, rec.UpdatedAt); err != nil {
		logger.WarnF("uploads: sweep abandon of %q: %v", rec.UploadID, err)
	}
}

func isNotFound(err error) bool {
	var scanErr *scanservice.Error
	return errors.As(err, &scanErr) && scanErr.Kind == scanservice.KindNotFound
}

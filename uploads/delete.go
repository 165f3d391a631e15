package uploads

import (
	"context"
	"errors"
	"fmt"

	"github.com/defra/pafs-backend/uploadstore"
)

// Delete removes the stored object (if any) and marks the record deleted.
// It is idempotent: deleting an already-deleted upload is a no-op success,
// since a retried client request or a racing duplicate delete must not
// surface as an error.
func (e *Engine) Delete(ctx context.Context, uploadID string) error {
	rec, err := e.store.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, uploadstore.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("uploads: loading %q: %w", uploadID, err)
	}

	if rec.UploadStatus == uploadstore.StatusDeleted {
		return nil
	}

	if rec.StorageBucket != "" && rec.StorageKey != "" {
		if err := e.objects.DeleteObject(ctx, rec.StorageBucket, rec.StorageKey); err != nil {
			return fmt.Errorf("uploads: deleting object for %q: %w", uploadID, err)
		}
	}

	next := *rec
	next.UploadStatus = uploadstore.StatusDeleted
	next.UpdatedAt = timeNow()

	if err := e.store.Update(ctx, &next, rec.UpdatedAt); err != nil {
		if errors.Is(err, uploadstore.ErrStaleWrite) {
			// Someone else already moved this record on; re-check whether
			// it is now deleted (success) or failed (still an error to
			// surface since the object itself is already gone).
			current, getErr := e.store.Get(ctx, uploadID)
			if getErr != nil {
				return fmt.Errorf("uploads: re-checking %q after stale write: %w", uploadID, getErr)
			}
			if current.UploadStatus == uploadstore.StatusDeleted {
				return nil
			}
			return fmt.Errorf("uploads: concurrent update raced delete of %q", uploadID)
		}
		return fmt.Errorf("uploads: marking %q deleted: %w", uploadID, err)
	}
	return nil
}

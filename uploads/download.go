package uploads

import (
	"context"
	"errors"
	"fmt"

	"github.com/defra/pafs-backend/uploadstore"
)

// DownloadURL returns a time-limited presigned URL for a ready upload's
// stored object. Returns ErrNotFound if the record is unknown, ErrNotReady
// unless upload_status == ready, ErrQuarantined if file_status ==
// quarantined (checked independently of upload_status, since a file can be
// flagged quarantined after the upload itself already reached ready), and
// ErrMissingStorage if a ready, non-quarantined record somehow carries no
// storage location (a store/scan-service inconsistency that should never
// happen but must not panic the caller).
func (e *Engine) DownloadURL(ctx context.Context, uploadID string) (string, error) {
	rec, err := e.store.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, uploadstore.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("uploads: loading %q: %w", uploadID, err)
	}

	if rec.UploadStatus != uploadstore.StatusReady {
		return "", ErrNotReady
	}
	if rec.FileStatus == uploadstore.FileStatusQuarantined {
		return "", ErrQuarantined
	}

	if rec.StorageBucket == "" || rec.StorageKey == "" {
		return "", ErrMissingStorage
	}

	url, err := e.objects.PresignedDownload(ctx, rec.StorageBucket, rec.StorageKey, e.downloadTTL, rec.Filename)
	if err != nil {
		return "", fmt.Errorf("uploads: presigning %q: %w", uploadID, err)
	}
	return url, nil
}

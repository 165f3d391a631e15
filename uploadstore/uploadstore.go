// Package uploadstore persists upload records keyed by upload_id.
package uploadstore

import (
	"context"
	"errors"
	"time"
)

// UploadStatus is the top-level lifecycle state of an upload record.
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusProcessing UploadStatus = "processing"
	StatusReady      UploadStatus = "ready"
	StatusFailed     UploadStatus = "failed"
	StatusDeleted    UploadStatus = "deleted"
)

// Terminal reports whether s accepts no further automatic reconciliation.
func (s UploadStatus) Terminal() bool {
	switch s {
	case StatusReady, StatusFailed, StatusDeleted:
		return true
	default:
		return false
	}
}

// FileStatus is the scan-service's verdict on the uploaded content. The
// zero value means no verdict has been recorded yet.
type FileStatus string

const (
	FileStatusComplete    FileStatus = "complete"
	FileStatusScanned     FileStatus = "scanned"
	FileStatusQuarantined FileStatus = "quarantined"
	FileStatusRejected    FileStatus = "rejected"
)

// Record is the persisted state of one upload.
type Record struct {
	UploadID string

	UploadStatus UploadStatus
	FileStatus   FileStatus // empty means unset

	Filename            string
	ContentType         string
	DetectedContentType string
	ContentLength       int64
	Checksum            string

	StorageBucket string
	StorageKey    string

	Reference  string
	EntityType string
	EntityID   string

	RejectionReason string
	RejectedCount   int

	OwnerUserID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

// Errors returned by Store implementations.
var (
	ErrNotFound      = errors.New("uploadstore: record not found")
	ErrAlreadyExists = errors.New("uploadstore: record already exists")
	ErrStaleWrite    = errors.New("uploadstore: record was modified concurrently")
)

// Store is the persistence seam for upload records.
type Store interface {
	// Create inserts a new record. Returns ErrAlreadyExists if the
	// UploadID is already present.
	Create(ctx context.Context, rec *Record) error

	// Get loads a record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, uploadID string) (*Record, error)

	// Update performs an optimistic update keyed on UpdatedAt: it
	// succeeds only if the stored row's UpdatedAt still equals
	// expectedUpdatedAt, then stamps the new UpdatedAt from rec. Returns
	// ErrStaleWrite on a mismatch and ErrNotFound if the row is gone.
	Update(ctx context.Context, rec *Record, expectedUpdatedAt time.Time) error

	// ListByReference returns every record carrying the given business
	// reference, most recently created first.
	ListByReference(ctx context.Context, reference string) ([]*Record, error)

	// ListReadyForReference returns the ready records carrying the given
	// business reference, most recently completed first. Used to answer
	// "what can this entity's owner download right now" without the
	// caller having to filter ListByReference's full history itself.
	ListReadyForReference(ctx context.Context, reference string) ([]*Record, error)

	// ListOrphaned returns non-terminal records created before
	// olderThan, for the sweep task to reconcile or fail out.
	ListOrphaned(ctx context.Context, olderThan time.Time) ([]*Record, error)

	// Close releases any resources held by the store.
	Close() error
}

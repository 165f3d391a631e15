// Package scanservice is the adapter seam between the Upload Lifecycle
// Engine and the external virus-scan service that actually receives the
// uploaded bytes.
package scanservice

import (
	"context"
	"fmt"
)

// Kind classifies an Error so the engine can decide whether to retry.
type Kind int

const (
	KindTransient Kind = iota
	KindNotFound
	KindPermanent
)

// Error is the single error kind adapters return, carrying the transport
// cause and HTTP status where one is known.
type Error struct {
	Kind   Kind
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scanservice: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// InitiateRequest is the session-open request body.
type InitiateRequest struct {
	Redirect        string
	Callback        string // empty disables the callback path
	Metadata        map[string]string
	MIMETypes       []string
	MaxFileSize     int64
	StorageBucket   string
	StoragePath     string
	DownloadURLs    []string // non-empty triggers a server-to-server fetch
}

// InitiateResponse is returned by a successful Initiate call.
type InitiateResponse struct {
	UploadID  string
	UploadURL string
	StatusURL string
}

// FileStatus is the per-file verdict nested inside a Status response.
type FileStatus struct {
	ContentLength       int64
	ContentType         string
	DetectedContentType string
	Filename            string
	S3Bucket            string
	S3Key               string
	RejectionReason     string

	// Quarantined reports the virus scanner's own verdict, independent of
	// UploadStatus: the scan service can flag a file as quarantined after
	// the upload has already reported ready, so this is carried as its own
	// signal rather than folded into RejectionReason.
	Quarantined bool
}

// StatusResponse is the external scan service's current view of an upload.
type StatusResponse struct {
	UploadStatus  string
	File          FileStatus
	RejectedCount int
}

// Adapter is the scan-service seam §4.5 of the design specifies.
type Adapter interface {
	// Initiate opens a new upload session.
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)
	// Status fetches the current external status of an upload session.
	Status(ctx context.Context, uploadID string) (StatusResponse, error)
}

// Package uploads implements the Upload Lifecycle Engine: the state
// machine that drives an upload from initiation through scan, ready,
// failed, or deleted, validating metadata and reconciling with the
// external scan service.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defra/pafs-backend/l3"
	"github.com/defra/pafs-backend/messaging"
	"github.com/defra/pafs-backend/objectstore"
	"github.com/defra/pafs-backend/scanservice"
	"github.com/defra/pafs-backend/uploadstore"
	"github.com/defra/pafs-backend/uuid"
	"github.com/defra/pafs-backend/validation"
)

var logger = l3.Get()

// Errors surfaced to the HTTP boundary as 4xx/5xx by the caller.
var (
	ErrNotFound          = errors.New("uploads: unknown upload id")
	ErrNotReady          = errors.New("uploads: upload is not ready")
	ErrQuarantined       = errors.New("uploads: file is quarantined")
	ErrMissingStorage    = errors.New("uploads: ready record is missing storage location")
)

// ReadyEventScheme is the messaging scheme+host the engine publishes
// "upload.ready" notifications to. A downstream consumer (the project
// record, out of this engine's scope) subscribes with
// messaging.Manager.AddListener to learn of newly ready uploads for a
// reference.
const ReadyEventScheme = messaging.LocalMsgScheme + "://uploads/ready"

// Options configures an Engine. Store, Scanner, and Objects are required;
// everything else defaults.
type Options struct {
	Store   uploadstore.Store
	Scanner scanservice.Adapter
	Objects objectstore.Adapter
	Rules   *validation.Rules

	// Messaging, if set, receives a message on ReadyEventScheme whenever a
	// record transitions to ready and carries a reference. Optional: when
	// nil, the engine skips the notification (useful for tests and for
	// deployments with no downstream consumer wired up).
	Messaging messaging.Manager

	// DownloadURLTTL is the presigned download URL lifetime. Default 15m.
	DownloadURLTTL time.Duration

	// CallbackEnabled controls whether Callback accepts pushes at all;
	// §9's open question leaves production use of the poll vs. callback
	// path undecided, so both code paths always exist and this flag is
	// the configuration switch.
	CallbackEnabled bool
}

// Engine drives upload records through their lifecycle.
type Engine struct {
	store   uploadstore.Store
	scanner scanservice.Adapter
	objects objectstore.Adapter
	rules   *validation.Rules
	bus     messaging.Manager

	downloadTTL     time.Duration
	callbackEnabled bool
}

// New builds an Engine from opts.
func New(opts Options) *Engine {
	ttl := opts.DownloadURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Engine{
		store:           opts.Store,
		scanner:         opts.Scanner,
		objects:         opts.Objects,
		rules:           opts.Rules,
		bus:             opts.Messaging,
		downloadTTL:     ttl,
		callbackEnabled: opts.CallbackEnabled,
	}
}

// InitiateParams are the caller-supplied fields for opening an upload
// session.
type InitiateParams struct {
	EntityType   string
	EntityID     string
	Reference    string
	Redirect     string
	DownloadURLs []string
	UserID       string

	MIMETypes     []string
	MaxFileSize   int64
	StorageBucket string
	StoragePath   string
	CallbackURL   string
}

// InitiateResult is returned to the HTTP boundary on a successful Initiate.
type InitiateResult struct {
	UploadID  string
	UploadURL string
	StatusURL string
	Reference string
}

// Initiate opens a scan-service session and persists a new pending (or
// processing, if download_urls were supplied) record.
func (e *Engine) Initiate(ctx context.Context, p InitiateParams) (*InitiateResult, error) {
	callback := ""
	if e.callbackEnabled {
		callback = p.CallbackURL
	}

	resp, err := e.scanner.Initiate(ctx, scanservice.InitiateRequest{
		Redirect:      p.Redirect,
		Callback:      callback,
		MIMETypes:     p.MIMETypes,
		MaxFileSize:   p.MaxFileSize,
		StorageBucket: p.StorageBucket,
		StoragePath:   p.StoragePath,
		DownloadURLs:  p.DownloadURLs,
	})
	if err != nil {
		return nil, fmt.Errorf("uploads: initiate: %w", err)
	}

	uploadID := resp.UploadID
	if uploadID == "" {
		id, genErr := uuid.V4()
		if genErr != nil {
			return nil, fmt.Errorf("uploads: generating upload id: %w", genErr)
		}
		uploadID = id.String()
	}

	status := uploadstore.StatusPending
	if len(p.DownloadURLs) > 0 {
		status = uploadstore.StatusProcessing
	}

	now := timeNow()
	rec := &uploadstore.Record{
		UploadID:      uploadID,
		UploadStatus:  status,
		StorageBucket: p.StorageBucket,
		Reference:     p.Reference,
		EntityType:    p.EntityType,
		EntityID:      p.EntityID,
		OwnerUserID:   p.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("uploads: persisting record %q: %w", uploadID, err)
	}

	return &InitiateResult{
		UploadID:  uploadID,
		UploadURL: resp.UploadURL,
		StatusURL: resp.StatusURL,
		Reference: p.Reference,
	}, nil
}

// Status loads the record for uploadID and, if it is not yet terminal,
// reconciles it against the external scan service before returning it.
func (e *Engine) Status(ctx context.Context, uploadID string) (*uploadstore.Record, error) {
	rec, err := e.store.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, uploadstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("uploads: loading %q: %w", uploadID, err)
	}
	if rec.UploadStatus.Terminal() {
		return rec, nil
	}

	external, err := e.scanner.Status(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("uploads: reconciling %q: %w", uploadID, err)
	}
	return e.reconcile(ctx, rec, external)
}

// Callback applies the same reconciliation logic as Status but is driven
// by an external push rather than a client poll. It tolerates arriving
// before, after, or concurrently with a poll because the transition is
// keyed on the stored status, not on call order.
func (e *Engine) Callback(ctx context.Context, uploadID string, external scanservice.StatusResponse) (*uploadstore.Record, error) {
	rec, err := e.store.Get(ctx, uploadID)
	if err != nil {
		if errors.Is(err, uploadstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("uploads: loading %q: %w", uploadID, err)
	}
	if rec.UploadStatus.Terminal() {
		return rec, nil
	}
	return e.reconcile(ctx, rec, external)
}

// reconcile brings rec into agreement with external, applying validation
// on any transition to ready, and retries the optimistic update once on a
// stale write since the only writer racing us is another reconciliation
// of the same idempotent external view.
func (e *Engine) reconcile(ctx context.Context, rec *uploadstore.Record, external scanservice.StatusResponse) (*uploadstore.Record, error) {
	if string(rec.UploadStatus) == external.UploadStatus {
		return rec, nil
	}

	next := *rec
	next.FileStatus = uploadstore.FileStatus(mapFileStatus(external))
	next.Filename = external.File.Filename
	next.ContentType = external.File.ContentType
	next.DetectedContentType = external.File.DetectedContentType
	next.ContentLength = external.File.ContentLength
	next.StorageBucket = firstNonEmpty(external.File.S3Bucket, rec.StorageBucket)
	next.StorageKey = external.File.S3Key
	next.RejectionReason = external.File.RejectionReason
	if external.RejectedCount > 0 {
		next.RejectedCount = external.RejectedCount
	}

	derived := external.UploadStatus
	if derived == string(uploadstore.StatusReady) && (external.RejectedCount > 0 || external.File.RejectionReason != "") {
		derived = string(uploadstore.StatusFailed)
	}

	if derived == string(uploadstore.StatusReady) {
		archive, archiveErr := e.fetchArchiveBytes(ctx, &next)
		if archiveErr != nil {
			logger.WarnF("uploads: fetching archive contents for %q: %v", rec.UploadID, archiveErr)
		}
		if err := e.rules.Validate(validation.Metadata{
			ContentLength:       next.ContentLength,
			ContentType:         next.ContentType,
			DetectedContentType: next.DetectedContentType,
			Filename:            next.Filename,
		}, archive); err != nil {
			derived = string(uploadstore.StatusFailed)
			next.RejectionReason = err.Error()
			next.RejectedCount++
		}
	}

	next.UploadStatus = uploadstore.UploadStatus(derived)
	now := timeNow()
	next.UpdatedAt = now
	if next.UploadStatus == uploadstore.StatusReady {
		next.CompletedAt = now
	}

	if err := e.store.Update(ctx, &next, rec.UpdatedAt); err != nil {
		if errors.Is(err, uploadstore.ErrStaleWrite) {
			return e.store.Get(ctx, rec.UploadID)
		}
		return nil, fmt.Errorf("uploads: updating %q: %w", rec.UploadID, err)
	}

	if next.UploadStatus == uploadstore.StatusReady && next.Reference != "" {
		e.notifyReady(ctx, &next)
	}
	return &next, nil
}

// fetchArchiveBytes retrieves the uploaded object's bytes from storage when
// its effective content type is one validation.Validate inspects entries
// for (rule 4, the archive allow-list); for any other content type it
// returns (nil, nil) without a storage round trip. A fetch failure is
// returned, not swallowed, but the caller treats it as non-fatal to
// reconciliation: archive-entry validation simply doesn't run that pass.
func (e *Engine) fetchArchiveBytes(ctx context.Context, rec *uploadstore.Record) ([]byte, error) {
	effectiveType := rec.DetectedContentType
	if effectiveType == "" {
		effectiveType = rec.ContentType
	}
	if !validation.IsArchiveContentType(effectiveType) {
		return nil, nil
	}
	if rec.StorageBucket == "" || rec.StorageKey == "" {
		return nil, nil
	}
	return e.objects.GetObject(ctx, rec.StorageBucket, rec.StorageKey)
}

// mapFileStatus derives the scan-service verdict to persist as
// uploadstore.Record.FileStatus. Quarantined is checked first and
// independently of UploadStatus: the scan service can flag a file
// quarantined on a pass after the upload already reported ready, so a
// record can be ready + quarantined, distinct from rejected (which always
// also drives UploadStatus to failed, see reconcile).
func mapFileStatus(external scanservice.StatusResponse) string {
	switch {
	case external.File.Quarantined:
		return string(uploadstore.FileStatusQuarantined)
	case external.RejectedCount > 0 || external.File.RejectionReason != "":
		return string(uploadstore.FileStatusRejected)
	case external.UploadStatus == string(uploadstore.StatusReady):
		return string(uploadstore.FileStatusScanned)
	default:
		return ""
	}
}

// notifyReady publishes an upload.ready event carrying a freshly generated
// presigned download URL and file metadata for the record's reference. A
// failure here is logged and does not undo the transition already
// committed to the store, matching §4.4's "non-fatal warning" rule.
func (e *Engine) notifyReady(ctx context.Context, rec *uploadstore.Record) {
	if e.bus == nil {
		return
	}
	dest, err := parseReadyEventURL()
	if err != nil {
		logger.WarnF("uploads: parsing ready-event url: %v", err)
		return
	}

	downloadURL, err := e.objects.PresignedDownload(ctx, rec.StorageBucket, rec.StorageKey, e.downloadTTL, rec.Filename)
	if err != nil {
		logger.WarnF("uploads: presigning download for downstream notify of %q: %v", rec.UploadID, err)
		return
	}

	msg, err := e.bus.NewMessage(messaging.LocalMsgScheme)
	if err != nil {
		logger.WarnF("uploads: building ready-event message for %q: %v", rec.UploadID, err)
		return
	}
	if err := msg.WriteJSON(readyEvent{
		UploadID:    rec.UploadID,
		Reference:   rec.Reference,
		EntityType:  rec.EntityType,
		EntityID:    rec.EntityID,
		Filename:    rec.Filename,
		ContentType: effectiveContentType(rec),
		DownloadURL: downloadURL,
		ExpiresAt:   timeNow().Add(e.downloadTTL),
	}); err != nil {
		logger.WarnF("uploads: encoding ready-event for %q: %v", rec.UploadID, err)
		return
	}

	if err := e.bus.Send(dest, msg); err != nil {
		logger.WarnF("uploads: publishing ready-event for %q: %v", rec.UploadID, err)
	}
}

type readyEvent struct {
	UploadID    string    `json:"uploadId"`
	Reference   string    `json:"reference"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func effectiveContentType(rec *uploadstore.Record) string {
	if rec.DetectedContentType != "" {
		return rec.DetectedContentType
	}
	return rec.ContentType
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// timeNow is a seam for tests; production code always uses time.Now.
var timeNow = time.Now

// Package httpapi exposes the Upload Lifecycle Engine over HTTP using the
// teacher's rest.Server/turbo routing stack.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/defra/pafs-backend/l3"
	"github.com/defra/pafs-backend/objectstore"
	"github.com/defra/pafs-backend/rest"
	"github.com/defra/pafs-backend/scanservice"
	"github.com/defra/pafs-backend/uploads"
	"github.com/defra/pafs-backend/uploadstore"
)

var logger = l3.Get()

// Handlers bundles the Upload Lifecycle Engine for registration against a
// rest.Server.
type Handlers struct {
	Engine *uploads.Engine
}

// Register wires every file-uploads route onto srv.
func Register(srv rest.Server, engine *uploads.Engine) error {
	h := &Handlers{Engine: engine}

	if _, err := srv.Post("/file-uploads/initiate", h.initiate); err != nil {
		return err
	}
	if _, err := srv.Post("/file-uploads/callback", h.callback); err != nil {
		return err
	}
	if _, err := srv.Get("/file-uploads/:upload_id/status", h.status); err != nil {
		return err
	}
	if _, err := srv.Get("/file-uploads/:upload_id/download", h.download); err != nil {
		return err
	}
	if _, err := srv.Delete("/file-uploads/:upload_id", h.delete); err != nil {
		return err
	}
	if _, err := srv.Get("/file-uploads/ready", h.listReady); err != nil {
		return err
	}
	return nil
}

type initiateRequest struct {
	EntityType    string   `json:"entityType"`
	EntityID      string   `json:"entityId"`
	Reference     string   `json:"reference"`
	Redirect      string   `json:"redirect"`
	DownloadURLs  []string `json:"downloadUrls,omitempty"`
	MIMETypes     []string `json:"mimeTypes,omitempty"`
	MaxFileSize   int64    `json:"maxFileSize,omitempty"`
	StorageBucket string   `json:"storageBucket"`
	StoragePath   string   `json:"storagePath,omitempty"`
	CallbackURL   string   `json:"callbackUrl,omitempty"`
}

type initiateResponse struct {
	UploadID  string `json:"uploadId"`
	UploadURL string `json:"uploadUrl"`
	StatusURL string `json:"statusUrl"`
	Reference string `json:"reference"`
}

func (h *Handlers) initiate(ctx rest.Context) {
	var req initiateRequest
	if err := ctx.Read(&req); err != nil {
		writeError(ctx, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.StorageBucket == "" {
		writeError(ctx, http.StatusBadRequest, "storageBucket is required")
		return
	}

	res, err := h.Engine.Initiate(ctx.Context(), uploads.InitiateParams{
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Reference:     req.Reference,
		Redirect:      req.Redirect,
		DownloadURLs:  req.DownloadURLs,
		MIMETypes:     req.MIMETypes,
		MaxFileSize:   req.MaxFileSize,
		StorageBucket: req.StorageBucket,
		StoragePath:   req.StoragePath,
		CallbackURL:   req.CallbackURL,
	})
	if err != nil {
		logger.WarnF("httpapi: initiate: %v", err)
		writeError(ctx, http.StatusBadGateway, "upload session could not be opened")
		return
	}

	ctx.SetStatusCode(http.StatusCreated)
	_ = ctx.WriteJSON(initiateResponse{
		UploadID:  res.UploadID,
		UploadURL: res.UploadURL,
		StatusURL: res.StatusURL,
		Reference: res.Reference,
	})
}

func (h *Handlers) status(ctx rest.Context) {
	uploadID, err := ctx.GetParam("upload_id", rest.PathParam)
	if err != nil || uploadID == "" {
		writeError(ctx, http.StatusBadRequest, "upload_id is required")
		return
	}

	rec, err := h.Engine.Status(ctx.Context(), uploadID)
	if err != nil {
		writeEngineError(ctx, err)
		return
	}
	_ = ctx.WriteJSON(recordView(rec))
}

func (h *Handlers) download(ctx rest.Context) {
	uploadID, err := ctx.GetParam("upload_id", rest.PathParam)
	if err != nil || uploadID == "" {
		writeError(ctx, http.StatusBadRequest, "upload_id is required")
		return
	}

	url, err := h.Engine.DownloadURL(ctx.Context(), uploadID)
	if err != nil {
		writeEngineError(ctx, err)
		return
	}
	_ = ctx.WriteJSON(map[string]string{"downloadUrl": url})
}

func (h *Handlers) listReady(ctx rest.Context) {
	reference, err := ctx.GetParam("reference", rest.QueryParam)
	if err != nil || reference == "" {
		writeError(ctx, http.StatusBadRequest, "reference query parameter is required")
		return
	}

	recs, err := h.Engine.ListReadyForReference(ctx.Context(), reference)
	if err != nil {
		logger.WarnF("httpapi: listing ready uploads for reference %q: %v", reference, err)
		writeError(ctx, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		views = append(views, recordView(rec))
	}
	_ = ctx.WriteJSON(map[string][]recordResponse{"uploads": views})
}

func (h *Handlers) delete(ctx rest.Context) {
	uploadID, err := ctx.GetParam("upload_id", rest.PathParam)
	if err != nil || uploadID == "" {
		writeError(ctx, http.StatusBadRequest, "upload_id is required")
		return
	}

	if err := h.Engine.Delete(ctx.Context(), uploadID); err != nil {
		writeEngineError(ctx, err)
		return
	}
	ctx.SetStatusCode(http.StatusNoContent)
}

type callbackRequest struct {
	UploadID      string                `json:"uploadId"`
	UploadStatus  string                `json:"uploadStatus"`
	RejectedCount int                   `json:"rejectedCount"`
	Form          callbackRequestFormat `json:"form"`
}

type callbackRequestFormat struct {
	File callbackRequestFile `json:"file"`
}

type callbackRequestFile struct {
	ContentLength       int64  `json:"contentLength"`
	ContentType         string `json:"contentType"`
	DetectedContentType string `json:"detectedContentType"`
	Filename            string `json:"filename"`
	S3Bucket            string `json:"s3Bucket"`
	S3Key               string `json:"s3Key"`
	RejectionReason     string `json:"rejectionReason"`
	Quarantined         bool   `json:"quarantined"`
}

func (h *Handlers) callback(ctx rest.Context) {
	var req callbackRequest
	if err := ctx.Read(&req); err != nil || req.UploadID == "" {
		writeError(ctx, http.StatusBadRequest, "invalid callback payload")
		return
	}

	external := scanservice.StatusResponse{
		UploadStatus:  req.UploadStatus,
		RejectedCount: req.RejectedCount,
		File: scanservice.FileStatus{
			ContentLength:       req.Form.File.ContentLength,
			ContentType:         req.Form.File.ContentType,
			DetectedContentType: req.Form.File.DetectedContentType,
			Filename:            req.Form.File.Filename,
			S3Bucket:            req.Form.File.S3Bucket,
			S3Key:               req.Form.File.S3Key,
			RejectionReason:     req.Form.File.RejectionReason,
			Quarantined:         req.Form.File.Quarantined,
		},
	}

	rec, err := h.Engine.Callback(ctx.Context(), req.UploadID, external)
	if err != nil {
		writeEngineError(ctx, err)
		return
	}
	_ = ctx.WriteJSON(recordView(rec))
}

type recordResponse struct {
	UploadID        string `json:"uploadId"`
	UploadStatus    string `json:"uploadStatus"`
	FileStatus      string `json:"fileStatus,omitempty"`
	Filename        string `json:"filename,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
	ContentLength   int64  `json:"contentLength,omitempty"`
	Reference       string `json:"reference,omitempty"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

func recordView(rec *uploadstore.Record) recordResponse {
	return recordResponse{
		UploadID:        rec.UploadID,
		UploadStatus:    string(rec.UploadStatus),
		FileStatus:      string(rec.FileStatus),
		Filename:        rec.Filename,
		ContentType:     rec.ContentType,
		ContentLength:   rec.ContentLength,
		Reference:       rec.Reference,
		RejectionReason: rec.RejectionReason,
	}
}

func writeEngineError(ctx rest.Context, err error) {
	switch {
	case errors.Is(err, uploads.ErrNotFound):
		writeError(ctx, http.StatusNotFound, "upload not found")
	case errors.Is(err, uploads.ErrNotReady):
		writeError(ctx, http.StatusBadRequest, "upload is not ready")
	case errors.Is(err, uploads.ErrQuarantined):
		writeError(ctx, http.StatusForbidden, "file was quarantined")
	case errors.Is(err, uploads.ErrMissingStorage):
		writeError(ctx, http.StatusInternalServerError, "upload record has no storage location")
	default:
		var objErr *objectstore.Error
		if errors.As(err, &objErr) && objErr.Kind == objectstore.KindNotFound {
			writeError(ctx, http.StatusNotFound, "object not found")
			return
		}
		logger.WarnF("httpapi: %v", err)
		writeError(ctx, http.StatusInternalServerError, "internal error")
	}
}

func writeError(ctx rest.Context, status int, message string) {
	ctx.SetStatusCode(status)
	_ = ctx.WriteJSON(map[string]string{"error": message})
}

package scanservice

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/defra/pafs-backend/rest"
)

// httpAdapter implements Adapter over the teacher's rest.Client.
type httpAdapter struct {
	client  *rest.Client
	timeout time.Duration
}

// NewHTTPAdapter builds an Adapter backed by baseURL, with every call
// bounded by timeout.
func NewHTTPAdapter(baseURL string, timeout time.Duration) (Adapter, error) {
	builder := rest.CliOptsBuilder()
	if err := builder.BaseUrl(baseURL); err != nil {
		return nil, fmt.Errorf("scanservice: %w", err)
	}
	opts := builder.RequestTimeoutMs(int(timeout / time.Millisecond)).Build()
	return &httpAdapter{client: rest.NewClientWithOptions(opts), timeout: timeout}, nil
}

type initiateWireRequest struct {
	Redirect      string            `json:"redirect"`
	Callback      string            `json:"callback,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	MIMETypes     []string          `json:"mimeTypes"`
	MaxFileSize   int64             `json:"maxFileSize"`
	StorageBucket string            `json:"storageBucket"`
	StoragePath   string            `json:"storagePath,omitempty"`
	DownloadURLs  []string          `json:"downloadUrls,omitempty"`
}

type initiateWireResponse struct {
	UploadID  string `json:"uploadId"`
	UploadURL string `json:"uploadUrl"`
	StatusURL string `json:"statusUrl"`
}

func (a *httpAdapter) Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error) {
	body := initiateWireRequest{
		Redirect:      req.Redirect,
		Callback:      req.Callback,
		Metadata:      req.Metadata,
		MIMETypes:     req.MIMETypes,
		MaxFileSize:   req.MaxFileSize,
		StorageBucket: req.StorageBucket,
		StoragePath:   req.StoragePath,
		DownloadURLs:  req.DownloadURLs,
	}

	httpReq, err := a.client.NewRequest("initiate", http.MethodPost)
	if err != nil {
		return InitiateResponse{}, a.classify("initiate", 0, err)
	}
	if httpReq, err = httpReq.WithContext(ctx); err != nil {
		return InitiateResponse{}, a.classify("initiate", 0, err)
	}
	httpReq.SetBody(body).SetContentType(rest.JSONContentType)

	res, err := a.client.Execute(httpReq)
	if err != nil {
		return InitiateResponse{}, a.classify("initiate", 0, err)
	}
	var wire initiateWireResponse
	if err := res.Decode(&wire); err != nil {
		return InitiateResponse{}, a.classify("initiate", res.StatusCode(), err)
	}
	return InitiateResponse{UploadID: wire.UploadID, UploadURL: wire.UploadURL, StatusURL: wire.StatusURL}, nil
}

type statusWireFile struct {
	ContentLength       int64  `json:"contentLength"`
	ContentType         string `json:"contentType"`
	DetectedContentType string `json:"detectedContentType"`
	Filename            string `json:"filename"`
	S3Bucket            string `json:"s3Bucket"`
	S3Key               string `json:"s3Key"`
	RejectionReason     string `json:"rejectionReason"`
}

type statusWireResponse struct {
	UploadStatus  string `json:"uploadStatus"`
	RejectedCount int    `json:"rejectedCount"`
	Form          struct {
		File statusWireFile `json:"file"`
	} `json:"form"`
}

func (a *httpAdapter) Status(ctx context.Context, uploadID string) (StatusResponse, error) {
	httpReq, err := a.client.NewRequest("status/"+uploadID, http.MethodGet)
	if err != nil {
		return StatusResponse{}, a.classify("status", 0, err)
	}
	if httpReq, err = httpReq.WithContext(ctx); err != nil {
		return StatusResponse{}, a.classify("status", 0, err)
	}

	res, err := a.client.Execute(httpReq)
	if err != nil {
		return StatusResponse{}, a.classify("status", 0, err)
	}
	var wire statusWireResponse
	if err := res.Decode(&wire); err != nil {
		return StatusResponse{}, a.classify("status", res.StatusCode(), err)
	}
	return StatusResponse{
		UploadStatus:  wire.UploadStatus,
		RejectedCount: wire.RejectedCount,
		File: FileStatus{
			ContentLength:       wire.Form.File.ContentLength,
			ContentType:         wire.Form.File.ContentType,
			DetectedContentType: wire.Form.File.DetectedContentType,
			Filename:            wire.Form.File.Filename,
			S3Bucket:            wire.Form.File.S3Bucket,
			S3Key:               wire.Form.File.S3Key,
			RejectionReason:     wire.Form.File.RejectionReason,
		},
	}, nil
}

func (a *httpAdapter) classify(op string, status int, err error) error {
	kind := KindTransient
	switch status {
	case 404:
		kind = KindNotFound
	case 400, 401, 403, 422:
		kind = KindPermanent
	}
	return &Error{Kind: kind, Status: status, Op: op, Err: err}
}

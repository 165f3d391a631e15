package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"time"

	"github.com/defra/pafs-backend/vfs"
)

// localAdapter backs "local mode" storage (selected when STORAGE_DRIVER is
// not "s3", rooted at STORAGE_ROOT) for development and tests, using the same vfs.VFileSystem
// the rest of the module uses for on-disk access. Buckets become
// subdirectories under root; there is no real presigning, so
// PresignedDownload returns a file:// URL directly usable by local tooling.
type localAdapter struct {
	fs   vfs.Manager
	root *url.URL
}

// NewLocalAdapter builds an Adapter rooted at root (typically a file://
// endpoint from configuration).
func NewLocalAdapter(fs vfs.Manager, root *url.URL) Adapter {
	return &localAdapter{fs: fs, root: root}
}

func (a *localAdapter) objectURL(bucket, key string) *url.URL {
	u := *a.root
	u.Path = path.Join(u.Path, bucket, key)
	return &u
}

func (a *localAdapter) PresignedDownload(_ context.Context, bucket, key string, expiresIn time.Duration, filename string) (string, error) {
	u := a.objectURL(bucket, key)
	if filename != "" {
		q := u.Query()
		q.Set("response-content-disposition", contentDisposition(filename))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (a *localAdapter) GetObject(_ context.Context, bucket, key string) ([]byte, error) {
	f, err := a.fs.Open(a.objectURL(bucket, key))
	if err != nil {
		return nil, &Error{Kind: KindNotFound, Op: "get_object", Err: err}
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Op: "get_object", Err: err}
	}
	return data, nil
}

func (a *localAdapter) DeleteObject(_ context.Context, bucket, key string) error {
	if err := a.fs.Delete(a.objectURL(bucket, key)); err != nil {
		return &Error{Kind: KindPermanent, Op: "delete_object", Err: fmt.Errorf("deleting %s/%s: %w", bucket, key, err)}
	}
	return nil
}

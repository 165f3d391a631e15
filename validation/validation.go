// Package validation applies the size, MIME, and archive-contents rules the
// Upload Lifecycle Engine runs before accepting a reconciled upload as ready.
package validation

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/defra/pafs-backend/errutils"
)

// Metadata is the subset of a reconciled upload the rules inspect. It
// mirrors the fields of uploadstore.Record that validation cares about
// without importing that package, so validation stays a leaf dependency.
type Metadata struct {
	ContentLength       int64
	ContentType         string
	DetectedContentType string
	Filename            string
}

// Rules holds the configured thresholds. Zero values are rejected by
// NewRules in favor of explicit defaults.
type Rules struct {
	MaxSize                 int64
	AllowedMIMETypes        map[string]bool
	AllowedArchiveExtension map[string]bool
}

// DefaultMaxSize is applied by NewRules when the caller passes zero.
const DefaultMaxSize = 100 * 1024 * 1024

// NewRules builds a Rules set from configured allow-lists, applying
// DefaultMaxSize when maxSize is non-positive.
func NewRules(maxSize int64, allowedMIMETypes, allowedArchiveExtensions []string) *Rules {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Rules{
		MaxSize:                 maxSize,
		AllowedMIMETypes:        toSet(allowedMIMETypes),
		AllowedArchiveExtension: toLowerSet(allowedArchiveExtensions),
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func toLowerSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = true
	}
	return set
}

var archiveMIMETypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
}

// IsArchiveContentType reports whether contentType is one Validate inspects
// archive entries for. Callers use this to decide whether fetching the
// archive's bytes before calling Validate is worthwhile at all.
func IsArchiveContentType(contentType string) bool {
	return archiveMIMETypes[contentType]
}

// Validate runs the four reconciliation-time rules against meta and,
// when the declared type is an archive, against its entry listing. It
// returns a nil error on success, or an aggregated *errutils.MultiError
// enumerating every violated rule otherwise. Validate is a pure function
// of its inputs: calling it twice on the same meta and archive always
// yields the same outcome.
func (r *Rules) Validate(meta Metadata, archive []byte) error {
	multi := &errutils.MultiError{}

	if meta.ContentLength < 1 {
		multi.Add(fmt.Errorf("file is empty"))
	}
	if meta.ContentLength > r.MaxSize {
		multi.Add(fmt.Errorf("file size %d exceeds maximum of %d bytes", meta.ContentLength, r.MaxSize))
	}

	effectiveType := meta.DetectedContentType
	if effectiveType == "" {
		effectiveType = meta.ContentType
	}
	if !r.AllowedMIMETypes[effectiveType] {
		multi.Add(fmt.Errorf("content type %q is not permitted", effectiveType))
	}

	if archiveMIMETypes[effectiveType] && len(archive) > 0 {
		if err := r.validateArchiveEntries(archive); err != nil {
			multi.Add(err)
		}
	}

	if multi.HasErrors() {
		return multi
	}
	return nil
}

// validateArchiveEntries opens archive as a zip and rejects it if any
// entry's extension is absent from the configured allow-list. Entry
// comparison is case-insensitive, matching rule 4.
func (r *Rules) validateArchiveEntries(archive []byte) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("archive could not be read: %w", err)
	}

	var rejected []string
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if !r.AllowedArchiveExtension[ext] {
			rejected = append(rejected, f.Name)
		}
	}
	if len(rejected) > 0 {
		return fmt.Errorf("archive contains disallowed entries: %s", strings.Join(rejected, ", "))
	}
	return nil
}

package validation

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func buildZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Create(%s) returned error: %v", name, err)
		}
		if _, err := f.Write([]byte("content")); err != nil {
			t.Fatalf("Write(%s) returned error: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close returned error: %v", err)
	}
	return buf.Bytes()
}

func TestRules_Validate(t *testing.T) {
	rules := NewRules(1024, []string{"application/pdf", "application/zip"}, []string{".pdf", ".jpg"})

	tests := []struct {
		name      string
		meta      Metadata
		archive   []byte
		wantValid bool
		wantMsg   string
	}{
		{
			name:      "valid pdf",
			meta:      Metadata{ContentLength: 512, ContentType: "application/pdf"},
			wantValid: true,
		},
		{
			name:      "empty file",
			meta:      Metadata{ContentLength: 0, ContentType: "application/pdf"},
			wantValid: false,
			wantMsg:   "empty",
		},
		{
			name:      "oversized file",
			meta:      Metadata{ContentLength: 2048, ContentType: "application/pdf"},
			wantValid: false,
			wantMsg:   "exceeds maximum",
		},
		{
			name:      "disallowed mime type",
			meta:      Metadata{ContentLength: 512, ContentType: "application/exe"},
			wantValid: false,
			wantMsg:   "not permitted",
		},
		{
			name:      "detected type overrides declared type",
			meta:      Metadata{ContentLength: 512, ContentType: "application/octet-stream", DetectedContentType: "application/pdf"},
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := rules.Validate(tc.meta, nil)
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got error: %v", err)
			}
			if !tc.wantValid {
				if err == nil {
					t.Fatal("expected a validation error, got nil")
				}
				if !strings.Contains(err.Error(), tc.wantMsg) {
					t.Fatalf("expected error to contain %q, got %q", tc.wantMsg, err.Error())
				}
			}
		})
	}
}

func TestRules_Validate_ArchiveEntries(t *testing.T) {
	rules := NewRules(1<<20, []string{"application/zip"}, []string{".pdf", ".jpg"})

	t.Run("allowed entries", func(t *testing.T) {
		archive := buildZip(t, "doc.pdf", "photo.jpg")
		meta := Metadata{ContentLength: int64(len(archive)), ContentType: "application/zip"}
		if err := rules.Validate(meta, archive); err != nil {
			t.Fatalf("expected valid archive, got error: %v", err)
		}
	})

	t.Run("disallowed entry rejected", func(t *testing.T) {
		archive := buildZip(t, "doc.pdf", "malware.exe")
		meta := Metadata{ContentLength: int64(len(archive)), ContentType: "application/zip"}
		err := rules.Validate(meta, archive)
		if err == nil {
			t.Fatal("expected archive validation to fail")
		}
		if !strings.Contains(err.Error(), "malware.exe") {
			t.Fatalf("expected rejection message to name malware.exe, got %q", err.Error())
		}
	})

	t.Run("case-insensitive extension match", func(t *testing.T) {
		archive := buildZip(t, "DOC.PDF")
		meta := Metadata{ContentLength: int64(len(archive)), ContentType: "application/zip"}
		if err := rules.Validate(meta, archive); err != nil {
			t.Fatalf("expected case-insensitive match to pass, got error: %v", err)
		}
	})
}

func TestRules_Validate_Idempotence(t *testing.T) {
	rules := NewRules(1024, []string{"application/pdf"}, []string{".pdf"})
	meta := Metadata{ContentLength: 2048, ContentType: "application/exe"}

	first := rules.Validate(meta, nil)
	second := rules.Validate(meta, nil)
	if (first == nil) != (second == nil) {
		t.Fatal("expected repeated validation of the same input to agree on validity")
	}
	if first != nil && second != nil && first.Error() != second.Error() {
		t.Fatalf("expected repeated validation to produce the same message, got %q vs %q", first.Error(), second.Error())
	}
}

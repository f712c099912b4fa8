package docgen

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/theradocs/theradocs/internal/platform/blobstore"
)

func generate(t *testing.T, store blobstore.BlobStore, data DocumentData) string {
	t.Helper()
	gen := NewTemplateGenerator(store)
	ref, err := gen.Generate(context.Background(), data)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rc, _, err := store.Download(context.Background(), ref)
	if err != nil {
		t.Fatalf("download generated doc: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read generated doc: %v", err)
	}
	return string(body)
}

func TestTemplateGenerator_Generate(t *testing.T) {
	store := blobstore.NewInMemoryBlobStore()
	body := generate(t, store, DocumentData{
		RequestID:     "req-1",
		Category:      "REPORT",
		Content:       "First paragraph.\n\nSecond paragraph.",
		PatientName:   "Ana Silva",
		PatientRecord: "MR-204",
		AuthorName:    "Dr. Costa",
		AuthorLicense: "CRP 06/12345",
		Specialty:     "Speech Therapy",
		RequesterName: "Maria Silva",
		IssuedAt:      time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	})

	for _, want := range []string{
		"Therapeutic Report",
		"Ana Silva",
		"MR-204",
		"Maria Silva",
		"First paragraph.",
		"Second paragraph.",
		"Dr. Costa",
		"CRP 06/12345",
		"2025-03-10",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected document to contain %q", want)
		}
	}
	if strings.Contains(body, "Digitally signed") {
		t.Error("unsigned document should not carry a signature block")
	}
}

func TestTemplateGenerator_SignedDocument(t *testing.T) {
	store := blobstore.NewInMemoryBlobStore()
	body := generate(t, store, DocumentData{
		RequestID:  "req-2",
		Category:   "DECLARATION",
		Content:    "Attended sessions as scheduled.",
		AuthorName: "Dr. Costa",
		Signed:     true,
	})

	if !strings.Contains(body, "Attendance Declaration") {
		t.Error("expected declaration title")
	}
	if !strings.Contains(body, "Digitally signed") {
		t.Error("signed document should carry a signature block")
	}
}

func TestTemplateGenerator_EscapesContent(t *testing.T) {
	store := blobstore.NewInMemoryBlobStore()
	body := generate(t, store, DocumentData{
		RequestID:  "req-3",
		Category:   "REPORT",
		Content:    "<script>alert(1)</script>",
		AuthorName: "Dr. Costa",
	})

	if strings.Contains(body, "<script>") {
		t.Error("content must be HTML-escaped")
	}
}

func TestTemplateGenerator_StoresUnderGeneratedCategory(t *testing.T) {
	store := blobstore.NewInMemoryBlobStore()
	gen := NewTemplateGenerator(store)
	ref, err := gen.Generate(context.Background(), DocumentData{
		RequestID:  "req-4",
		Category:   "ABSENCE_JUSTIFICATION",
		Content:    "Missed session due to illness.",
		AuthorName: "Dr. Costa",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	meta, err := store.GetMetadata(context.Background(), ref)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Category != blobstore.CategoryGeneratedDocument {
		t.Errorf("expected category %s, got %s", blobstore.CategoryGeneratedDocument, meta.Category)
	}
	if meta.RequestID != "req-4" {
		t.Errorf("expected request id req-4, got %s", meta.RequestID)
	}
}

func TestTitleFor_UnknownCategory(t *testing.T) {
	if got := titleFor("SOMETHING_ELSE"); got != "Document" {
		t.Errorf("expected generic title, got %q", got)
	}
}

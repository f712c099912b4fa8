// Package docgen renders the final documents the workflow hands to
// guardians: reports, declarations, absence justifications. Callers treat
// the generator as opaque; it returns a blobstore reference to the rendered
// artifact.
package docgen

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/theradocs/theradocs/internal/platform/blobstore"
)

// DocumentData carries everything the renderer needs. It is deliberately
// flat so the workflow engine can populate it without exposing its own
// types to the renderer.
type DocumentData struct {
	RequestID     string
	Category      string
	Title         string
	Content       string
	PatientName   string
	PatientRecord string
	AuthorName    string
	AuthorLicense string
	Specialty     string
	RequesterName string
	IssuedAt      time.Time
	SignatureRef  string
	Signed        bool
}

// Generator produces a document artifact and returns its blobstore id.
type Generator interface {
	Generate(ctx context.Context, data DocumentData) (string, error)
}

const documentTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<header>
  <h1>{{.Title}}</h1>
  <p class="issued">Issued {{.IssuedAt.Format "2006-01-02"}}</p>
</header>
<section class="patient">
  <p>Patient: {{.PatientName}}{{if .PatientRecord}} (record {{.PatientRecord}}){{end}}</p>
  <p>Requested by: {{.RequesterName}}</p>
</section>
<section class="content">
{{range .Paragraphs}}  <p>{{.}}</p>
{{end}}</section>
<footer>
  <p>{{.AuthorName}}{{if .AuthorLicense}} &mdash; {{.AuthorLicense}}{{end}}{{if .Specialty}}, {{.Specialty}}{{end}}</p>
{{if .Signed}}  <p class="signature">Digitally signed by the author.</p>
{{end}}</footer>
</body>
</html>
`

type templateData struct {
	DocumentData
	Paragraphs []string
}

// TemplateGenerator renders documents from an HTML template and stores the
// result in the blob store.
type TemplateGenerator struct {
	store blobstore.BlobStore
	tmpl  *template.Template
}

// NewTemplateGenerator builds the default generator. It panics on a
// malformed built-in template, which only happens at development time.
func NewTemplateGenerator(store blobstore.BlobStore) *TemplateGenerator {
	return &TemplateGenerator{
		store: store,
		tmpl:  template.Must(template.New("document").Parse(documentTemplate)),
	}
}

// Generate renders the document and uploads it, returning the blob id.
func (g *TemplateGenerator) Generate(ctx context.Context, data DocumentData) (string, error) {
	if data.Title == "" {
		data.Title = titleFor(data.Category)
	}
	if data.IssuedAt.IsZero() {
		data.IssuedAt = time.Now().UTC()
	}

	td := templateData{DocumentData: data}
	for _, p := range strings.Split(data.Content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			td.Paragraphs = append(td.Paragraphs, p)
		}
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, td); err != nil {
		return "", fmt.Errorf("rendering document: %w", err)
	}

	meta := blobstore.BlobMetadata{
		FileName:    fmt.Sprintf("%s-%s.html", strings.ToLower(data.Category), data.RequestID),
		ContentType: "text/html",
		RequestID:   data.RequestID,
		Category:    blobstore.CategoryGeneratedDocument,
		CreatedBy:   data.AuthorName,
	}
	stored, err := g.store.Upload(ctx, meta, &buf)
	if err != nil {
		return "", fmt.Errorf("storing document: %w", err)
	}
	return stored.ID, nil
}

func titleFor(category string) string {
	switch category {
	case "REPORT":
		return "Therapeutic Report"
	case "DECLARATION":
		return "Attendance Declaration"
	case "ABSENCE_JUSTIFICATION":
		return "Absence Justification"
	case "RECORD_UPDATE":
		return "Clinical Assessment Update"
	case "DISMISSAL":
		return "Discharge Statement"
	case "ACCESSORY":
		return "Accessory Request Statement"
	default:
		return "Document"
	}
}

// Package extract turns raw document bytes into plain text.
//
// Text formats are handled in-process; everything else is sent to an
// Apache Tika server. Any failure, including an empty result, is reported
// as ExtractionFailed, which the ingestion pipeline treats as terminal.
package extract

import (
	"context"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Source is a document to extract.
type Source struct {
	Name     string
	MIMEType string
	Content  []byte
}

// Extractor extracts plain text from a source.
type Extractor interface {
	Extract(ctx context.Context, src Source) (string, error)
}

// Registry dispatches to an Extractor by MIME type.
type Registry struct {
	byType   map[string]Extractor
	fallback Extractor
}

// Ensure Registry implements Extractor.
var _ Extractor = (*Registry)(nil)

// NewRegistry returns a registry with the built-in text extractors.
// fallback handles every other type; nil means unknown types fail.
func NewRegistry(fallback Extractor) *Registry {
	r := &Registry{byType: make(map[string]Extractor), fallback: fallback}
	r.Register(PlainText{}, "text/plain", "text/csv")
	r.Register(Markdown{}, "text/markdown", "text/x-markdown")
	r.Register(HTML{}, "text/html", "application/xhtml+xml")
	r.Register(JSON{}, "application/json")
	return r
}

// Register binds e to the given MIME types, replacing earlier bindings.
func (r *Registry) Register(e Extractor, mimeTypes ...string) {
	for _, t := range mimeTypes {
		r.byType[t] = e
	}
}

// Extract detects the source type and runs the matching extractor.
func (r *Registry) Extract(ctx context.Context, src Source) (string, error) {
	src.MIMEType = DetectMIME(src.Name, src.MIMEType, src.Content)

	e, ok := r.byType[src.MIMEType]
	if !ok {
		if r.fallback == nil {
			return "", apperrors.ExtractionFailed("unsupported document type "+src.MIMEType, nil).
				WithDetail("document", src.Name).
				WithSuggestion("Enable the Tika server for binary formats")
		}
		e = r.fallback
	}

	text, err := e.Extract(ctx, src)
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeExtractionFailed {
			return "", err
		}
		return "", apperrors.ExtractionFailed("extract "+src.Name+": "+err.Error(), err).
			WithDetail("document", src.Name)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.ExtractionFailed("no extractable text in "+src.Name, nil).
			WithDetail("document", src.Name)
	}
	return text, nil
}

var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".csv":      "text/csv",
	".html":     "text/html",
	".htm":      "text/html",
	".json":     "application/json",
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// DetectMIME resolves a bare MIME type for a document. An explicit hint
// wins unless it is empty or generic; then the extension, then content
// sniffing decide.
func DetectMIME(name, hint string, content []byte) string {
	if t := baseType(hint); t != "" && t != "application/octet-stream" {
		return t
	}
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := baseType(mime.TypeByExtension(ext)); t != "" {
		return t
	}
	t := baseType(http.DetectContentType(content))
	if t == "application/octet-stream" && len(content) > 0 && utf8.Valid(content) {
		return "text/plain"
	}
	return t
}

func baseType(t string) string {
	if t == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(t))
	}
	return mt
}

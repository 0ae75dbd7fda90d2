// Package ingest drives extraction, chunking, embedding and indexing of
// documents into the keyword and vector indexes.
package ingest

import (
	"time"

	"github.com/Aman-CERP/hybridrag/internal/chunk"
)

// Backend names used in reports.
const (
	BackendKeyword = "keyword"
	BackendVector  = "vector"
	BackendGraph   = "graph"
)

// Document is one upload. ID defaults to the base name of Name.
type Document struct {
	ID         string
	Name       string
	MIMEType   string
	Content    []byte
	UploadedAt time.Time
}

// Status is the outcome of ingesting one document.
type Status string

const (
	// StatusOK means every chunk reached both indexes.
	StatusOK Status = "ok"
	// StatusPartial means one index failed; the other holds the chunks.
	StatusPartial Status = "partial"
	// StatusFailed means nothing was indexed.
	StatusFailed Status = "failed"
)

// BackendStatus is the per-backend outcome.
type BackendStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Report describes one ingestion.
type Report struct {
	DocumentID   string                   `json:"document_id"`
	Name         string                   `json:"name"`
	Status       Status                   `json:"status"`
	Chunks       int                      `json:"chunks"`
	Backends     map[string]BackendStatus `json:"backends,omitempty"`
	Error        string                   `json:"error,omitempty"`
	ErrorCode    string                   `json:"error_code,omitempty"`
	Elapsed      time.Duration            `json:"elapsed_ns"`
	PrunedChunks int                      `json:"pruned_chunks,omitempty"`

	// Err is the terminal error of a failed ingestion.
	Err error `json:"-"`
}

// Splitter splits extracted text into chunk spans.
type Splitter interface {
	Split(text string) []chunk.Span
}

package api

import (
	"errors"
	"net/http"
	"time"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// DocumentResponse describes a registered document.
type DocumentResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	MIMEType   string     `json:"mime_type"`
	SizeBytes  int64      `json:"size_bytes"`
	Checksum   string     `json:"checksum"`
	Chunks     int        `json:"chunks"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	UploadedAt time.Time  `json:"uploaded_at"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
}

// DocumentListResponse is the body of GET /api/documents.
type DocumentListResponse struct {
	Documents []DocumentResponse `json:"documents"`
	Count     int                `json:"count"`
}

// NeighborsResponse is the body of GET /api/graph/nodes/:id/neighbors.
type NeighborsResponse struct {
	NodeID string       `json:"node_id"`
	Edges  []graph.Edge `json:"edges"`
	Count  int          `json:"count"`
}

func toDocumentResponse(d *store.Document) DocumentResponse {
	r := DocumentResponse{
		ID:         d.ID,
		Name:       d.Name,
		MIMEType:   d.MIMEType,
		SizeBytes:  d.SizeBytes,
		Checksum:   d.Checksum,
		Chunks:     d.ChunkCount,
		Status:     string(d.Status),
		Error:      d.Error,
		UploadedAt: d.UploadedAt,
	}
	if !d.IndexedAt.IsZero() {
		at := d.IndexedAt
		r.IndexedAt = &at
	}
	return r
}

// NewDocumentList converts registry rows for output.
func NewDocumentList(docs []*store.Document) DocumentListResponse {
	resp := DocumentListResponse{Documents: make([]DocumentResponse, 0, len(docs)), Count: len(docs)}
	for _, d := range docs {
		resp.Documents = append(resp.Documents, toDocumentResponse(d))
	}
	return resp
}

func errorResponse(err error, reqID string) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), RequestID: reqID}
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		resp.Error = ae.Message
		resp.Code = ae.Code
		resp.Suggestion = ae.Suggestion
	}
	return resp
}

// statusForError maps an error to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, apperrors.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrDocumentNotFound), errors.Is(err, apperrors.ErrNodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrDimensionMismatch):
		return http.StatusInternalServerError
	case errors.Is(err, apperrors.ErrBackendUnavailable), errors.Is(err, apperrors.ErrBackendTimeout):
		return http.StatusServiceUnavailable
	}
	if apperrors.GetCategory(err) == apperrors.CategoryValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// statusForReport picks the upload response status.
func statusForReport(r ingest.Report) int {
	switch r.Status {
	case ingest.StatusOK:
		return http.StatusOK
	case ingest.StatusPartial:
		return http.StatusMultiStatus
	}
	if r.Err != nil {
		return statusForError(r.Err)
	}
	return http.StatusInternalServerError
}

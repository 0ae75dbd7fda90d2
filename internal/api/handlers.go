package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/extract"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// healthz handles GET /healthz, a liveness check that touches no backend.
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// search handles POST /api/search. Backend failures are reported inside
// the result set with 200; only invalid input and configuration errors
// fail the request.
func (s *Server) search(c *gin.Context) {
	var p search.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		s.fail(c, apperrors.ValidationError("invalid search request: "+err.Error(), err))
		return
	}

	rs, err := s.deps.Search.Search(c.Request.Context(), p)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rs)
}

// uploadDocument handles POST /api/documents with a multipart "file" and
// an optional "id" field.
func (s *Server) uploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBytes+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(c, apperrors.PayloadTooLarge(maxErr.Limit, s.cfg.MaxBytes))
			return
		}
		s.fail(c, apperrors.ValidationError(`multipart field "file" is required`, err))
		return
	}
	if fh.Size > s.cfg.MaxBytes {
		s.fail(c, apperrors.PayloadTooLarge(fh.Size, s.cfg.MaxBytes))
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, apperrors.InternalError("open upload", err))
		return
	}
	content, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxBytes+1))
	_ = f.Close()
	if err != nil {
		s.fail(c, apperrors.InternalError("read upload", err))
		return
	}
	if int64(len(content)) > s.cfg.MaxBytes {
		s.fail(c, apperrors.PayloadTooLarge(int64(len(content)), s.cfg.MaxBytes))
		return
	}

	name := filepath.Base(fh.Filename)
	report := s.deps.Ingest.Ingest(c.Request.Context(), ingest.Document{
		ID:         strings.TrimSpace(c.PostForm("id")),
		Name:       name,
		MIMEType:   extract.DetectMIME(name, fh.Header.Get("Content-Type"), content),
		Content:    content,
		UploadedAt: time.Now().UTC(),
	})

	status := statusForReport(report)
	if status >= http.StatusBadRequest {
		s.logger.Warn("upload_failed",
			slog.String("request_id", requestID(c)),
			slog.String("document", report.DocumentID),
			slog.String("error", report.Error))
	}
	c.JSON(status, report)
}

// listDocuments handles GET /api/documents.
func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.deps.Documents.ListDocuments(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewDocumentList(docs))
}

// getDocument handles GET /api/documents/:id.
func (s *Server) getDocument(c *gin.Context) {
	id := c.Param("id")
	doc, err := s.deps.Documents.GetDocument(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if doc == nil {
		s.fail(c, apperrors.New(apperrors.ErrCodeDocumentNotFound, "document not found: "+id, nil))
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

// deleteDocument handles DELETE /api/documents/:id.
func (s *Server) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.Ingest.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

// graphNeighbors handles GET /api/graph/nodes/:id/neighbors with an
// optional limit query parameter.
func (s *Server) graphNeighbors(c *gin.Context) {
	if s.deps.Graph == nil {
		s.fail(c, apperrors.BackendUnavailable(graph.BackendName, errors.New("graph backend is disabled")))
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(c, apperrors.ValidationError("limit must be a non-negative integer", err))
			return
		}
		limit = n
	}

	id := c.Param("id")
	edges, err := s.deps.Graph.Expand(c.Request.Context(), id, graph.ClampExpandLimit(limit))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NeighborsResponse{NodeID: id, Edges: edges, Count: len(edges)})
}

// status handles GET /api/status.
func (s *Server) status(c *gin.Context) {
	if s.deps.Status == nil {
		c.JSON(http.StatusOK, gin.H{"status": "unknown", "version": version.Version})
		return
	}
	c.JSON(http.StatusOK, s.deps.Status.Status(c.Request.Context()))
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusForError(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request_failed",
			slog.String("request_id", requestID(c)),
			slog.String("path", c.FullPath()),
			apperrors.LogAttr(err))
	}
	c.AbortWithStatusJSON(code, errorResponse(err, requestID(c)))
}

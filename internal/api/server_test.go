package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/health"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeSearcher struct {
	mu     sync.Mutex
	params []search.Params
	result *search.ResultSet
	err    error
}

func (f *fakeSearcher) Search(_ context.Context, p search.Params) (*search.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeIngester struct {
	mu        sync.Mutex
	docs      []ingest.Document
	report    ingest.Report
	deleted   []string
	deleteErr error
}

func (f *fakeIngester) Ingest(_ context.Context, doc ingest.Document) ingest.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	r := f.report
	r.DocumentID = doc.Name
	if doc.ID != "" {
		r.DocumentID = doc.ID
	}
	return r
}

func (f *fakeIngester) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

type fakeDocuments struct{ docs []*store.Document }

func (f *fakeDocuments) ListDocuments(context.Context) ([]*store.Document, error) { return f.docs, nil }

func (f *fakeDocuments) GetDocument(_ context.Context, id string) (*store.Document, error) {
	for _, d := range f.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

type fakeStatus struct{ report health.Report }

func (f fakeStatus) Status(context.Context) health.Report { return f.report }

type fakeExpander struct {
	mu     sync.Mutex
	limits []int
}

func (f *fakeExpander) Expand(_ context.Context, nodeID string, limit int) ([]graph.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if nodeID != "n1" {
		return nil, apperrors.New(apperrors.ErrCodeNodeNotFound, "graph node not found: "+nodeID, nil)
	}
	return []graph.Edge{{
		RelationshipID: "r1", Type: "SUPPLIES", Outgoing: true,
		Neighbor: graph.Node{NodeID: "n2", Label: "Rotterdam Depot", Labels: []string{"Site"}},
	}}, nil
}

type fixture struct {
	server   *Server
	searcher *fakeSearcher
	ingester *fakeIngester
	docs     *fakeDocuments
	graph    *fakeExpander
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		searcher: &fakeSearcher{result: &search.ResultSet{
			Query: "acme",
			Scope: search.ScopeAll,
			Documents: []search.FusedResult{
				{ChunkID: "contracts.pdf#00000", DocumentID: "contracts.pdf", Score: 1,
					Sources: []search.Source{search.BackendKeyword}},
			},
			Diagnostics: map[search.Backend]search.Diagnostic{
				search.BackendKeyword: {Status: search.StatusOK, Hits: 1},
				search.BackendVector:  {Status: search.StatusTimeout, Error: "vector timed out"},
				search.BackendGraph:   {Status: search.StatusUnavailable, Error: "graph unavailable"},
			},
		}},
		ingester: &fakeIngester{report: ingest.Report{Status: ingest.StatusOK, Chunks: 2}},
		graph:    &fakeExpander{},
		docs: &fakeDocuments{docs: []*store.Document{{
			ID: "contracts.pdf", Name: "contracts.pdf", MIMEType: "application/pdf",
			ChunkCount: 4, Status: store.StatusIndexed,
			UploadedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}}},
	}
	srv, err := New(Deps{
		Search:    f.searcher,
		Ingest:    f.ingester,
		Documents: f.docs,
		Status:    fakeStatus{report: health.Report{Status: "ready", Version: "dev", Documents: 1}},
		Graph:     f.graph,
	}, cfg, nil)
	require.NoError(t, err)
	f.server = srv
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// =============================================================================
// Construction and middleware
// =============================================================================

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{}, nil)

	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, w)["status"])
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, Config{})

	// Given: no incoming ID, one is generated
	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	// Given: an incoming ID, it is echoed
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = f.do(req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Config{CORSOrigins: []string{"http://localhost:3000"}})

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"allowed origin", "http://localhost:3000", "http://localhost:3000"},
		{"other origin", "http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/search", nil)
			req.Header.Set("Origin", tt.origin)

			w := f.do(req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

// =============================================================================
// Search
// =============================================================================

func TestSearch_ReturnsResultSetWithDiagnostics(t *testing.T) {
	// Given: a searcher where two backends failed
	f := newFixture(t, Config{})

	// When: posting a search
	w := f.do(jsonRequest(http.MethodPost, "/api/search",
		`{"query":"acme","scope":"documents-only","limit":5,"threshold":0.3,"synthesize":true}`))

	// Then: 200 with the per-backend diagnostics, and parameters passed through
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.searcher.params, 1)
	assert.Equal(t, search.Params{Query: "acme", Scope: search.ScopeDocumentsOnly, Limit: 5, Threshold: 0.3, Synthesize: true},
		f.searcher.params[0])

	body := decode[map[string]any](t, w)
	diags := body["diagnostics"].(map[string]any)
	assert.Equal(t, "timeout", diags["vector"].(map[string]any)["status"])
	assert.Equal(t, "unavailable", diags["graph"].(map[string]any)["status"])
	assert.Len(t, body["documents"], 1)
}

func TestSearch_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"malformed json", `{"query":`, nil, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"empty query", `{"query":""}`, apperrors.New(apperrors.ErrCodeQueryEmpty, "query is empty", nil),
			http.StatusBadRequest, apperrors.ErrCodeQueryEmpty},
		{"dimension mismatch", `{"query":"acme"}`, apperrors.DimensionMismatch(768, 384),
			http.StatusInternalServerError, apperrors.ErrCodeDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.searcher.err = tt.err

			w := f.do(jsonRequest(http.MethodPost, "/api/search", tt.body))

			assert.Equal(t, tt.wantCode, w.Code)
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

// =============================================================================
// Documents
// =============================================================================

func TestUpload_OK(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(uploadRequest(t, "notes.md", "# Acme\n\nLate again.", map[string]string{"id": "acme-notes"}))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.ingester.docs, 1)
	doc := f.ingester.docs[0]
	assert.Equal(t, "acme-notes", doc.ID)
	assert.Equal(t, "notes.md", doc.Name)
	assert.Equal(t, "text/markdown", doc.MIMEType)

	report := decode[map[string]any](t, w)
	assert.Equal(t, "acme-notes", report["document_id"])
	assert.Equal(t, "ok", report["status"])
}

func TestUpload_StatusByOutcome(t *testing.T) {
	tests := []struct {
		name   string
		report ingest.Report
		want   int
	}{
		{"partial", ingest.Report{Status: ingest.StatusPartial}, http.StatusMultiStatus},
		{"extraction failed", ingest.Report{Status: ingest.StatusFailed, Err: apperrors.ExtractionFailed("no extractable text", nil)},
			http.StatusUnprocessableEntity},
		{"too large", ingest.Report{Status: ingest.StatusFailed, Err: apperrors.PayloadTooLarge(10, 5)},
			http.StatusRequestEntityTooLarge},
		{"index failed", ingest.Report{Status: ingest.StatusFailed, Err: apperrors.New(apperrors.ErrCodeIndexFailed, "both indexes failed", nil)},
			http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.ingester.report = tt.report

			w := f.do(uploadRequest(t, "a.txt", "hello", nil))

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestUpload_TooLargeIsRejectedBeforeIngest(t *testing.T) {
	f := newFixture(t, Config{MaxBytes: 16})

	w := f.do(uploadRequest(t, "big.txt", strings.Repeat("x", 32), nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, apperrors.ErrCodePayloadTooLarge, decode[ErrorResponse](t, w).Code)
	assert.Empty(t, f.ingester.docs)
}

func TestUpload_MissingFile(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(uploadRequest(t, "", "", map[string]string{"id": "x"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_RateLimited(t *testing.T) {
	// Given: a limiter allowing a burst of one and a very slow refill
	f := newFixture(t, Config{UploadRate: 0.001, UploadBurst: 1})

	// When: uploading twice
	first := f.do(uploadRequest(t, "a.txt", "hello", nil))
	second := f.do(uploadRequest(t, "b.txt", "hello", nil))

	// Then: the second is throttled and never reaches the pipeline
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Len(t, f.ingester.docs, 1)
}

func TestListDocuments(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/documents", nil))

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[DocumentListResponse](t, w)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "contracts.pdf", resp.Documents[0].ID)
	assert.Equal(t, 4, resp.Documents[0].Chunks)
	assert.Equal(t, "indexed", resp.Documents[0].Status)
	assert.Nil(t, resp.Documents[0].IndexedAt)
}

func TestGetDocument(t *testing.T) {
	f := newFixture(t, Config{})

	ok := f.do(httptest.NewRequest(http.MethodGet, "/api/documents/contracts.pdf", nil))
	missing := f.do(httptest.NewRequest(http.MethodGet, "/api/documents/nope.txt", nil))

	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(httptest.NewRequest(http.MethodDelete, "/api/documents/contracts.pdf", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"contracts.pdf"}, f.ingester.deleted)
}

func TestDeleteDocument_NotFound(t *testing.T) {
	f := newFixture(t, Config{})
	f.ingester.deleteErr = apperrors.New(apperrors.ErrCodeDocumentNotFound, "document not found: x", nil)

	w := f.do(httptest.NewRequest(http.MethodDelete, "/api/documents/x", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.ErrCodeDocumentNotFound, decode[ErrorResponse](t, w).Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	rep := decode[health.Report](t, w)
	assert.Equal(t, "ready", rep.Status)
	assert.Equal(t, 1, rep.Documents)
}

// =============================================================================
// Graph neighbours
// =============================================================================

func TestGraphNeighbors(t *testing.T) {
	// Given: a graph with one known node
	f := newFixture(t, Config{})

	// When: expanding it with an explicit limit
	w := f.do(httptest.NewRequest(http.MethodGet, "/api/graph/nodes/n1/neighbors?limit=5", nil))

	// Then: its relationships come back with the neighbour nodes
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[NeighborsResponse](t, w)
	assert.Equal(t, "n1", resp.NodeID)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "SUPPLIES", resp.Edges[0].Type)
	assert.True(t, resp.Edges[0].Outgoing)
	assert.Equal(t, "Rotterdam Depot", resp.Edges[0].Neighbor.Label)
	assert.Equal(t, []int{5}, f.graph.limits)
}

func TestGraphNeighbors_Errors(t *testing.T) {
	f := newFixture(t, Config{})

	missing := f.do(httptest.NewRequest(http.MethodGet, "/api/graph/nodes/nope/neighbors", nil))
	badLimit := f.do(httptest.NewRequest(http.MethodGet, "/api/graph/nodes/n1/neighbors?limit=abc", nil))

	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, apperrors.ErrCodeNodeNotFound, decode[ErrorResponse](t, missing).Code)
	assert.Equal(t, http.StatusBadRequest, badLimit.Code)
	assert.Equal(t, []int{graph.DefaultExpandLimit}, f.graph.limits)
}

func TestGraphNeighbors_DisabledGraph(t *testing.T) {
	srv, err := New(Deps{Search: &fakeSearcher{}, Ingest: &fakeIngester{}, Documents: &fakeDocuments{}}, Config{}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/graph/nodes/n1/neighbors", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// =============================================================================
// Run
// =============================================================================

func TestRun_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

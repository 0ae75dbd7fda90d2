package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/chunk"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/extract"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
)

const testDims = 32

// --- Test doubles ---

type fakeKeyword struct {
	mu      sync.Mutex
	hits    []store.KeywordHit
	err     error
	queries []string
}

func (f *fakeKeyword) Search(_ context.Context, text string, _ int) ([]store.KeywordHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, text)
	return f.hits, f.err
}

func (f *fakeKeyword) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type fakeVector struct {
	hits  []store.VectorHit
	err   error
	dims  int
	block bool
}

func (f *fakeVector) QuerySimilar(ctx context.Context, _ []float32, _ int) ([]store.VectorHit, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.hits, f.err
}

func (f *fakeVector) Dimensions() int { return f.dims }

type fakeGraph struct {
	mu      sync.Mutex
	nodes   []graph.NodeMatch
	err     error
	block   bool
	queries []string
}

func (f *fakeGraph) MatchNodes(ctx context.Context, text string, _ int) ([]graph.NodeMatch, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.nodes, f.err
}

type fakeChunks map[string]store.ChunkRecord

func (f fakeChunks) ChunkText(_ context.Context, ids []string) (map[string]store.ChunkRecord, error) {
	out := make(map[string]store.ChunkRecord)
	for _, id := range ids {
		if rec, ok := f[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

type fakeSynth struct {
	text       string
	err        error
	rewritten  string
	rewriteErr error
	gotDocs    int
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string, docs []FusedResult, _ []GraphResult) (string, error) {
	f.gotDocs = len(docs)
	return f.text, f.err
}

func (f *fakeSynth) Rewrite(context.Context, string) (string, error) {
	return f.rewritten, f.rewriteErr
}

// --- Fixture ---

const (
	chunkA = "contracts.pdf#00000"
	chunkB = "contracts.pdf#00001"
	chunkC = "memo.txt#00004"
)

func records() fakeChunks {
	return fakeChunks{
		chunkA: {ID: chunkA, DocumentID: "contracts.pdf", Seq: 0, Start: 0, End: 40, Text: "Supplier delays pushed delivery into Q4."},
		chunkB: {ID: chunkB, DocumentID: "contracts.pdf", Seq: 1, Start: 20, End: 60, Text: "Penalty clauses apply to late suppliers."},
		chunkC: {ID: chunkC, DocumentID: "memo.txt", Seq: 4, Start: 300, End: 340, Text: "Shipments from Acme arrived two weeks late."},
	}
}

type engineFixture struct {
	keyword *fakeKeyword
	vector  *fakeVector
	graph   *fakeGraph
	chunks  fakeChunks
	synth   *fakeSynth
	config  EngineConfig
}

func newEngineFixture() *engineFixture {
	cfg := DefaultEngineConfig()
	cfg.BackendTimeout = 100 * time.Millisecond
	cfg.OverallTimeout = time.Second

	return &engineFixture{
		keyword: &fakeKeyword{hits: []store.KeywordHit{
			{ChunkID: chunkA, Score: 8.2, Snippet: "Supplier delays pushed delivery"},
			{ChunkID: chunkB, Score: 3.1, Snippet: "late suppliers"},
		}},
		vector: &fakeVector{dims: testDims, hits: []store.VectorHit{
			{ChunkID: chunkA, Score: 0.81},
			{ChunkID: chunkC, Score: 0.60},
		}},
		graph: &fakeGraph{nodes: []graph.NodeMatch{
			{NodeID: "7", Label: "Acme Logistics", Kind: graph.KindExact},
		}},
		chunks: records(),
		synth:  &fakeSynth{text: "Delays came from Acme Logistics.", rewritten: "supplier delivery delays"},
		config: cfg,
	}
}

func (f *engineFixture) engine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{WithGraph(f.graph), WithSynthesizer(f.synth)}
	e, err := NewEngine(f.keyword, f.vector, embed.NewStaticEmbedder(testDims), f.chunks, f.config, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func ids(results []FusedResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

// =============================================================================
// Fan-out and fusion
// =============================================================================

func TestSearch_SupplierDelays(t *testing.T) {
	// Given: keyword returns A and B, vector returns A and C, graph returns
	// an exact label match
	f := newEngineFixture()
	e := f.engine(t)

	// When
	rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Scope: ScopeAll})
	require.NoError(t, err)

	// Then: A leads at 1.0; B and C follow at 0.0 in chunk ID order
	assert.Equal(t, []string{chunkA, chunkB, chunkC}, ids(rs.Documents))
	assert.InDelta(t, 1.0, rs.Documents[0].Score, 1e-9)
	assert.Equal(t, "contracts.pdf", rs.Documents[0].DocumentID)
	assert.Equal(t, "Supplier delays pushed delivery into Q4.", rs.Documents[0].Text)
	assert.Equal(t, 40, rs.Documents[0].End)

	// And: the vector-only hit gets a snippet from its stored text
	assert.Equal(t, "Shipments from Acme arrived two weeks late.", rs.Documents[2].Snippet)

	// And: the graph group is separate, exact match first
	require.Len(t, rs.Graph, 1)
	assert.Equal(t, "Acme Logistics", rs.Graph[0].Label)
	assert.Equal(t, 1.0, rs.Graph[0].Score)

	for _, b := range Backends {
		assert.Equal(t, StatusOK, rs.Diagnostics[b].Status, b)
	}
	assert.Equal(t, 2, rs.Diagnostics[BackendKeyword].Hits)
	assert.False(t, rs.AllUnavailable)
	assert.Nil(t, rs.Synthesis)
}

func TestSearch_ThresholdKeepsOnlyStrongCombinedScores(t *testing.T) {
	f := newEngineFixture()
	e := f.engine(t)

	rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Threshold: 0.7})
	require.NoError(t, err)

	assert.Equal(t, []string{chunkA}, ids(rs.Documents))
	assert.Len(t, rs.Graph, 1, "threshold applies to documents only")
}

func TestSearch_LimitTruncatesAfterRanking(t *testing.T) {
	f := newEngineFixture()
	e := f.engine(t)

	rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{chunkA, chunkB}, ids(rs.Documents))
}

// =============================================================================
// Degradation
// =============================================================================

func TestSearch_VectorTimeoutStillReturnsKeywordAndGraph(t *testing.T) {
	// Given: a vector backend that never answers
	f := newEngineFixture()
	f.vector.block = true
	e := f.engine(t)

	// When
	start := time.Now()
	rs, err := e.Search(context.Background(), Params{Query: "supplier delays"})
	require.NoError(t, err)

	// Then: keyword and graph results come back, vector is flagged
	assert.Less(t, time.Since(start), f.config.OverallTimeout)
	assert.Equal(t, []string{chunkA, chunkB}, ids(rs.Documents))
	assert.Len(t, rs.Graph, 1)

	d := rs.Diagnostics[BackendVector]
	assert.Equal(t, StatusTimeout, d.Status)
	assert.Equal(t, apperrors.ErrCodeBackendTimeout, d.Code)
	assert.NotEmpty(t, d.Error)
	assert.Equal(t, StatusOK, rs.Diagnostics[BackendKeyword].Status)
	assert.False(t, rs.AllUnavailable)

	// And: A is now keyword-only and scores its keyword weight alone
	assert.InDelta(t, 0.4, rs.Documents[0].Score, 1e-9)
}

func TestSearch_OverallTimeoutCancelsPendingBackends(t *testing.T) {
	// Given: generous per-backend timeouts but a short overall deadline
	f := newEngineFixture()
	f.config.BackendTimeout = 5 * time.Second
	f.config.OverallTimeout = 80 * time.Millisecond
	f.graph.block = true
	e := f.engine(t)

	// When
	start := time.Now()
	rs, err := e.Search(context.Background(), Params{Query: "supplier delays"})
	require.NoError(t, err)

	// Then: the search returns at the overall deadline with what completed
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusTimeout, rs.Diagnostics[BackendGraph].Status)
	assert.Empty(t, rs.Graph)
	assert.Len(t, rs.Documents, 3)
}

func TestSearch_BackendErrorIsDiagnosticNotFailure(t *testing.T) {
	f := newEngineFixture()
	f.graph.err = apperrors.BackendUnavailable("graph", errors.New("connection refused"))
	e := f.engine(t)

	rs, err := e.Search(context.Background(), Params{Query: "supplier delays"})
	require.NoError(t, err)

	d := rs.Diagnostics[BackendGraph]
	assert.Equal(t, StatusUnavailable, d.Status)
	assert.Equal(t, apperrors.ErrCodeBackendUnavailable, d.Code)
	assert.Contains(t, d.Error, "connection refused")
	assert.Len(t, rs.Documents, 3)
}

func TestSearch_AllUnavailableDistinctFromNoMatches(t *testing.T) {
	t.Run("every requested backend failed", func(t *testing.T) {
		f := newEngineFixture()
		f.keyword.err = errors.New("index closed")
		f.vector.err = errors.New("index closed")
		f.graph.err = errors.New("bolt: connection reset")
		e := f.engine(t)

		rs, err := e.Search(context.Background(), Params{Query: "supplier delays"})
		require.NoError(t, err)

		assert.True(t, rs.AllUnavailable)
		assert.True(t, rs.Empty())
	})

	t.Run("backends answered with nothing", func(t *testing.T) {
		f := newEngineFixture()
		f.keyword.hits = nil
		f.vector.hits = nil
		f.graph.nodes = nil
		e := f.engine(t)

		rs, err := e.Search(context.Background(), Params{Query: "supplier delays"})
		require.NoError(t, err)

		assert.False(t, rs.AllUnavailable)
		assert.True(t, rs.Empty())
	})

	t.Run("skipped backends do not count", func(t *testing.T) {
		f := newEngineFixture()
		f.keyword.err = errors.New("down")
		f.vector.err = errors.New("down")
		e := f.engine(t)

		rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Scope: ScopeDocumentsOnly})
		require.NoError(t, err)

		assert.True(t, rs.AllUnavailable)
		assert.Equal(t, StatusSkipped, rs.Diagnostics[BackendGraph].Status)
	})
}

func TestSearch_UnconfiguredGraphIsUnavailable(t *testing.T) {
	f := newEngineFixture()
	e, err := NewEngine(f.keyword, f.vector, embed.NewStaticEmbedder(testDims), f.chunks, f.config)
	require.NoError(t, err)

	rs, err := e.Search(context.Background(), Params{Query: "acme", Scope: ScopeGraphOnly})
	require.NoError(t, err)

	assert.Equal(t, StatusUnavailable, rs.Diagnostics[BackendGraph].Status)
	assert.True(t, rs.AllUnavailable)
}

func TestSearch_DimensionMismatchIsFatal(t *testing.T) {
	// Given: a vector index built for another embedding size
	f := newEngineFixture()
	f.vector.dims = testDims * 2
	e := f.engine(t)

	// When
	rs, err := e.Search(context.Background(), Params{Query: "supplier delays"})

	// Then: the whole search fails instead of degrading
	require.Error(t, err)
	assert.Nil(t, rs)
	assert.ErrorIs(t, err, apperrors.ErrDimensionMismatch)
	assert.True(t, apperrors.IsFatal(err))
}

// =============================================================================
// Scope
// =============================================================================

func TestSearch_ScopeSelectsBackends(t *testing.T) {
	t.Run("graph-only", func(t *testing.T) {
		f := newEngineFixture()
		e := f.engine(t)

		rs, err := e.Search(context.Background(), Params{Query: "Acme Logistics", Scope: ScopeGraphOnly})
		require.NoError(t, err)

		assert.Empty(t, f.keyword.calls())
		assert.Empty(t, rs.Documents)
		assert.Len(t, rs.Graph, 1)
		assert.Equal(t, StatusSkipped, rs.Diagnostics[BackendKeyword].Status)
		assert.Equal(t, StatusSkipped, rs.Diagnostics[BackendVector].Status)
	})

	t.Run("documents-only", func(t *testing.T) {
		f := newEngineFixture()
		e := f.engine(t)

		rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Scope: ScopeDocumentsOnly})
		require.NoError(t, err)

		assert.Empty(t, f.graph.queries)
		assert.Empty(t, rs.Graph)
		assert.Len(t, rs.Documents, 3)
		assert.Equal(t, StatusSkipped, rs.Diagnostics[BackendGraph].Status)
	})
}

// =============================================================================
// Parameters
// =============================================================================

func TestSearch_InvalidParams(t *testing.T) {
	f := newEngineFixture()
	e := f.engine(t)

	long := make([]rune, MaxQueryRunes+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name string
		p    Params
		code string
	}{
		{"empty query", Params{Query: "   "}, apperrors.ErrCodeQueryEmpty},
		{"too long", Params{Query: string(long)}, apperrors.ErrCodeQueryTooLong},
		{"bad scope", Params{Query: "x", Scope: "everything"}, apperrors.ErrCodeInvalidQuery},
		{"negative limit", Params{Query: "x", Limit: -1}, apperrors.ErrCodeInvalidQuery},
		{"threshold above 1", Params{Query: "x", Threshold: 1.5}, apperrors.ErrCodeInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Search(context.Background(), tt.p)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))
		})
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{
		"":               ScopeAll,
		"ALL":            ScopeAll,
		"graph":          ScopeGraphOnly,
		"graph-only":     ScopeGraphOnly,
		"documents_only": ScopeDocumentsOnly,
		"docs":           ScopeDocumentsOnly,
	} {
		got, err := ParseScope(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNormalizeParams_ClampsLimit(t *testing.T) {
	cfg := DefaultEngineConfig()

	p, err := normalizeParams(Params{Query: "q"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.DefaultLimit, p.Limit)
	assert.Equal(t, ScopeAll, p.Scope)

	p, err = normalizeParams(Params{Query: "q", Limit: 5000}, cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.MaxLimit, p.Limit)
}

func TestEngineConfig_Validate(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.NoError(t, cfg.Validate())

	cfg.Weights = Weights{Vector: 0.7, Keyword: 0.7}
	assert.Error(t, cfg.Validate())

	cfg = DefaultEngineConfig()
	cfg.CandidateMultiplier = 0
	assert.Error(t, cfg.Validate())
}

func TestNewEngine_RequiresDependencies(t *testing.T) {
	f := newEngineFixture()
	_, err := NewEngine(nil, f.vector, embed.NewStaticEmbedder(testDims), f.chunks, f.config)
	assert.ErrorIs(t, err, ErrNilDependency)

	_, err = NewEngine(f.keyword, f.vector, embed.NewStaticEmbedder(testDims), nil, f.config)
	assert.ErrorIs(t, err, ErrNilDependency)
}

// =============================================================================
// Hydration
// =============================================================================

func TestSearch_DropsChunksMissingFromRegistry(t *testing.T) {
	// Given: B's document was re-ingested shorter and B is gone
	f := newEngineFixture()
	delete(f.chunks, chunkB)
	e := f.engine(t)

	rs, err := e.Search(context.Background(), Params{Query: "supplier delays"})
	require.NoError(t, err)

	assert.Equal(t, []string{chunkA, chunkC}, ids(rs.Documents))
}

// =============================================================================
// Synthesis and rewriting
// =============================================================================

func TestSearch_Synthesis(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newEngineFixture()
		e := f.engine(t)

		rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Synthesize: true, Limit: 2})
		require.NoError(t, err)

		require.NotNil(t, rs.Synthesis)
		assert.Equal(t, SynthesisOK, rs.Synthesis.Status)
		assert.Equal(t, "Delays came from Acme Logistics.", rs.Synthesis.Text)
		assert.Equal(t, 2, f.synth.gotDocs)
	})

	t.Run("failure degrades", func(t *testing.T) {
		f := newEngineFixture()
		f.synth.err = apperrors.SynthesisFailed("model returned nothing", nil)
		e := f.engine(t)

		rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Synthesize: true})
		require.NoError(t, err)

		assert.Len(t, rs.Documents, 3)
		require.NotNil(t, rs.Synthesis)
		assert.Equal(t, SynthesisFailed, rs.Synthesis.Status)
		assert.Empty(t, rs.Synthesis.Text)
		assert.Contains(t, rs.Synthesis.Error, "model returned nothing")
	})

	t.Run("not configured", func(t *testing.T) {
		f := newEngineFixture()
		e, err := NewEngine(f.keyword, f.vector, embed.NewStaticEmbedder(testDims), f.chunks, f.config)
		require.NoError(t, err)

		rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Synthesize: true})
		require.NoError(t, err)
		assert.Equal(t, SynthesisUnavailable, rs.Synthesis.Status)
	})

	t.Run("nothing to narrate", func(t *testing.T) {
		f := newEngineFixture()
		f.keyword.hits, f.vector.hits, f.graph.nodes = nil, nil, nil
		e := f.engine(t)

		rs, err := e.Search(context.Background(), Params{Query: "supplier delays", Synthesize: true})
		require.NoError(t, err)
		assert.Equal(t, SynthesisSkipped, rs.Synthesis.Status)
	})
}

func TestSearch_RewriteAppliesToDocumentBackendsOnly(t *testing.T) {
	f := newEngineFixture()
	f.config.RewriteQuery = true
	e := f.engine(t)

	rs, err := e.Search(context.Background(), Params{Query: "who was late?"})
	require.NoError(t, err)

	require.NotNil(t, rs.Rewrite)
	assert.Equal(t, "supplier delivery delays", rs.Rewrite.Query)
	assert.Equal(t, []string{"supplier delivery delays"}, f.keyword.calls())
	assert.Equal(t, []string{"who was late?"}, f.graph.queries)
}

func TestSearch_RewriteFailureFallsBackToRawQuery(t *testing.T) {
	f := newEngineFixture()
	f.config.RewriteQuery = true
	f.synth.rewriteErr = errors.New("generator down")
	e := f.engine(t)

	rs, err := e.Search(context.Background(), Params{Query: "supplier delays"})
	require.NoError(t, err)

	require.NotNil(t, rs.Rewrite)
	assert.True(t, rs.Rewrite.Failed)
	assert.Equal(t, []string{"supplier delays"}, f.keyword.calls())
	assert.Len(t, rs.Documents, 3)
}

// =============================================================================
// Telemetry
// =============================================================================

func TestSearch_RecordsMetrics(t *testing.T) {
	f := newEngineFixture()
	f.vector.block = true
	m := telemetry.NewQueryMetricsWithConfig(nil, telemetry.QueryMetricsConfig{})
	defer m.Close()
	e := f.engine(t, WithMetrics(m))

	_, err := e.Search(context.Background(), Params{Query: "supplier delays"})
	require.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.ScopeCounts["all"])
	assert.Equal(t, int64(1), snap.Backends["vector"].Timeouts)
	assert.Equal(t, int64(1), snap.Backends["keyword"].OK)
}

// =============================================================================
// End to end over the embedded backends
// =============================================================================

func TestSearch_OverIngestedDocuments(t *testing.T) {
	// Given: two documents ingested into real in-memory indexes
	kw, err := store.NewBleveIndex("")
	require.NoError(t, err)
	vec, err := store.NewHNSWIndex(store.DefaultHNSWConfig(testDims))
	require.NoError(t, err)
	reg, err := store.OpenRegistry("")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = kw.Close()
		_ = vec.Close()
		_ = reg.Close()
	})

	embedder := embed.NewStaticEmbedder(testDims)
	splitter, err := chunk.NewSentenceChunker(chunk.Options{MaxChars: 200, Overlap: 0.5, MinSentenceFraction: 0.5})
	require.NoError(t, err)

	p, err := ingest.NewPipeline(ingest.Config{
		Extractor: extract.NewRegistry(nil),
		Splitter:  splitter,
		Embedder:  embedder,
		Keyword:   kw,
		Vector:    vec,
		Registry:  reg,
		BatchSize: 8,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for _, doc := range []ingest.Document{
		{Name: "logistics.txt", MIMEType: "text/plain", Content: []byte(
			"Supplier delays at the Rotterdam port held back three shipments. " +
				"Acme Logistics blamed a crane outage for the supplier delays.")},
		{Name: "menu.txt", MIMEType: "text/plain", Content: []byte(
			"The cafeteria serves soup on Mondays and fish on Fridays.")},
	} {
		report := p.Ingest(ctx, doc)
		require.Equal(t, ingest.StatusOK, report.Status, report.Error)
	}

	e, err := NewEngine(kw, vec, embedder, reg, DefaultEngineConfig())
	require.NoError(t, err)

	// When
	rs, err := e.Search(ctx, Params{Query: "supplier delays", Scope: ScopeDocumentsOnly})
	require.NoError(t, err)

	// Then: the logistics chunk leads, cited by both backends, with its text
	require.NotEmpty(t, rs.Documents)
	top := rs.Documents[0]
	assert.Equal(t, "logistics.txt", top.DocumentID)
	assert.Equal(t, []Source{BackendKeyword, BackendVector}, top.Sources)
	assert.Contains(t, top.Text, "Supplier delays")
	assert.Equal(t, StatusOK, rs.Diagnostics[BackendKeyword].Status)
	assert.Equal(t, StatusOK, rs.Diagnostics[BackendVector].Status)
}

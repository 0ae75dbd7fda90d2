package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// KeywordSearcher is the keyword backend as the engine uses it.
type KeywordSearcher interface {
	Search(ctx context.Context, text string, limit int) ([]store.KeywordHit, error)
}

// VectorSearcher is the vector backend as the engine uses it.
type VectorSearcher interface {
	QuerySimilar(ctx context.Context, vector []float32, limit int) ([]store.VectorHit, error)
	Dimensions() int
}

// QueryEmbedder turns the query into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkLookup resolves chunk IDs to their stored text and spans.
type ChunkLookup interface {
	ChunkText(ctx context.Context, ids []string) (map[string]store.ChunkRecord, error)
}

// GraphMatcher matches query text against graph nodes.
type GraphMatcher interface {
	MatchNodes(ctx context.Context, text string, limit int) ([]graph.NodeMatch, error)
}

// Synthesizer narrates results and optionally rewrites queries.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, docs []FusedResult, nodes []GraphResult) (string, error)
	Rewrite(ctx context.Context, query string) (string, error)
}

// Engine is the hybrid retrieval and fusion engine. It holds no per-query
// state and is safe for concurrent use.
type Engine struct {
	keyword  KeywordSearcher
	vector   VectorSearcher
	embedder QueryEmbedder
	chunks   ChunkLookup
	graph    GraphMatcher
	synth    Synthesizer
	metrics  *telemetry.QueryMetrics
	config   EngineConfig
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithGraph enables the graph backend.
func WithGraph(g GraphMatcher) EngineOption {
	return func(e *Engine) {
		e.graph = g
	}
}

// WithSynthesizer enables narration and query rewriting.
func WithSynthesizer(s Synthesizer) EngineOption {
	return func(e *Engine) {
		e.synth = s
	}
}

// WithMetrics records every search in m.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine over the two document backends.
// Graph, synthesis and metrics are optional.
func NewEngine(
	keyword KeywordSearcher,
	vector VectorSearcher,
	embedder QueryEmbedder,
	chunks ChunkLookup,
	config EngineConfig,
	opts ...EngineOption,
) (*Engine, error) {
	if keyword == nil {
		return nil, fmt.Errorf("%w: keyword index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk lookup is required", ErrNilDependency)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		keyword:  keyword,
		vector:   vector,
		embedder: embedder,
		chunks:   chunks,
		config:   config,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig { return e.config }

// Search runs one query. It returns an error only for invalid parameters
// or an embedding dimension mismatch; backend failures are reported in
// the result set's diagnostics.
func (e *Engine) Search(ctx context.Context, p Params) (*ResultSet, error) {
	start := time.Now()

	p, err := normalizeParams(p, e.config)
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{
		Query:       p.Query,
		Scope:       p.Scope,
		Documents:   []FusedResult{},
		Graph:       []GraphResult{},
		Diagnostics: make(map[Backend]Diagnostic, len(Backends)),
	}

	docQuery := p.Query
	if e.config.RewriteQuery && e.synth != nil && p.Scope.IncludesDocuments() {
		docQuery, rs.Rewrite = e.rewrite(ctx, p.Query)
	}

	fr, err := e.fanOut(ctx, p, docQuery)
	if err != nil {
		return nil, err
	}
	rs.Diagnostics = fr.diags

	if p.Scope.IncludesDocuments() {
		fused := Fuse(fr.keyword, fr.vector, e.config.Weights)
		fused = e.hydrate(ctx, fused)
		rs.Documents = Select(fused, p.Threshold, p.Limit)
	}
	if p.Scope.IncludesGraph() {
		rs.Graph = RankGraph(fr.nodes, p.Limit)
	}
	rs.AllUnavailable = allUnavailable(rs.Diagnostics)

	if p.Synthesize {
		rs.Synthesis = e.synthesize(ctx, p.Query, rs)
	}

	rs.Elapsed = time.Since(start)
	slog.Debug("search_complete",
		slog.String("scope", string(p.Scope)),
		slog.Int("documents", len(rs.Documents)),
		slog.Int("graph", len(rs.Graph)),
		slog.Bool("all_unavailable", rs.AllUnavailable),
		slog.Duration("elapsed", rs.Elapsed))

	e.recordMetrics(rs, fr.queryVector)
	return rs, nil
}

// fanOutResult collects what each backend returned.
type fanOutResult struct {
	keyword     []KeywordHit
	vector      []VectorHit
	nodes       []graph.NodeMatch
	queryVector []float32
	diags       map[Backend]Diagnostic
}

// vectorResult carries the query embedding out of the vector task so it
// can feed telemetry.
type vectorResult struct {
	hits  []store.VectorHit
	query []float32
}

// fanOut queries every backend in scope concurrently, each under its own
// timeout and all under the overall timeout. A backend failure only
// empties its contribution. The one error that aborts the whole query is a
// dimension mismatch between the query embedding and the vector index.
func (e *Engine) fanOut(ctx context.Context, p Params, docQuery string) (*fanOutResult, error) {
	octx, cancel := context.WithTimeout(ctx, e.config.OverallTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(octx)
	candidates := p.Limit * e.config.CandidateMultiplier

	var (
		kwDiag, vecDiag, graphDiag = skipped(), skipped(), skipped()
		fr                         = &fanOutResult{}
	)

	if p.Scope.IncludesDocuments() {
		g.Go(func() error {
			hits, latency, err := call(gctx, e.config.BackendTimeout, func(ctx context.Context) ([]store.KeywordHit, error) {
				return e.keyword.Search(ctx, docQuery, candidates)
			})
			kwDiag = diagnose(BackendKeyword, err, len(hits), latency)
			for _, h := range hits {
				fr.keyword = append(fr.keyword, KeywordHit(h))
			}
			return nil // a failed backend must not cancel its siblings
		})

		g.Go(func() error {
			res, latency, err := call(gctx, e.config.BackendTimeout, func(ctx context.Context) (vectorResult, error) {
				v, err := e.embedder.Embed(ctx, docQuery)
				if err != nil {
					return vectorResult{}, err
				}
				if want := e.vector.Dimensions(); len(v) != want {
					return vectorResult{}, apperrors.DimensionMismatch(want, len(v))
				}
				hits, err := e.vector.QuerySimilar(ctx, v, candidates)
				return vectorResult{hits: hits, query: v}, err
			})
			if errors.Is(err, apperrors.ErrDimensionMismatch) {
				return err
			}
			vecDiag = diagnose(BackendVector, err, len(res.hits), latency)
			for _, h := range res.hits {
				fr.vector = append(fr.vector, VectorHit(h))
			}
			fr.queryVector = res.query
			return nil
		})
	}

	if p.Scope.IncludesGraph() {
		g.Go(func() error {
			if e.graph == nil {
				graphDiag = Diagnostic{
					Status: StatusUnavailable,
					Error:  "graph backend is not configured",
					Code:   apperrors.ErrCodeBackendUnavailable,
				}
				return nil
			}
			nodes, latency, err := call(gctx, e.config.BackendTimeout, func(ctx context.Context) ([]graph.NodeMatch, error) {
				return e.graph.MatchNodes(ctx, p.Query, p.Limit)
			})
			graphDiag = diagnose(BackendGraph, err, len(nodes), latency)
			fr.nodes = nodes
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("search_aborted", apperrors.LogAttr(err))
		return nil, err
	}

	fr.diags = map[Backend]Diagnostic{
		BackendKeyword: kwDiag,
		BackendVector:  vecDiag,
		BackendGraph:   graphDiag,
	}
	return fr, nil
}

// call runs fn under a timeout derived from ctx. The derived context is
// passed to fn so in-flight work is cancelled; if fn ignores cancellation
// call still returns once the deadline passes.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, time.Duration, error) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			var zero T
			return zero, time.Since(start), r.err
		}
		return r.v, time.Since(start), nil
	case <-cctx.Done():
		var zero T
		return zero, time.Since(start), cctx.Err()
	}
}

func skipped() Diagnostic {
	return Diagnostic{Status: StatusSkipped}
}

// diagnose classifies a backend outcome and logs failures.
func diagnose(b Backend, err error, hits int, latency time.Duration) Diagnostic {
	if err == nil {
		return Diagnostic{Status: StatusOK, Hits: hits, Latency: latency}
	}

	d := Diagnostic{Status: StatusUnavailable, Latency: latency, Error: err.Error(), Code: apperrors.GetCode(err)}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, apperrors.ErrBackendTimeout) {
		d.Status = StatusTimeout
	}
	if d.Code == "" {
		if d.Status == StatusTimeout {
			d.Code = apperrors.ErrCodeBackendTimeout
		} else {
			d.Code = apperrors.ErrCodeBackendUnavailable
		}
	}

	slog.Warn("backend_failed",
		slog.String("backend", string(b)),
		slog.String("status", string(d.Status)),
		slog.String("error", d.Error),
		slog.Duration("latency", latency))
	return d
}

// allUnavailable reports whether every backend that was asked failed.
func allUnavailable(diags map[Backend]Diagnostic) bool {
	asked := 0
	for _, d := range diags {
		if d.Status == StatusSkipped {
			continue
		}
		asked++
		if !d.Status.Failed() {
			return false
		}
	}
	return asked > 0
}

// hydrate attaches stored text and spans to fused results. Hits whose
// chunks are no longer in the registry belong to deleted or re-ingested
// documents and are dropped. If the lookup itself fails, results are kept
// with whatever the backends returned.
func (e *Engine) hydrate(ctx context.Context, results []FusedResult) []FusedResult {
	if len(results) == 0 {
		return results
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	records, err := e.chunks.ChunkText(ctx, ids)
	if err != nil {
		slog.Warn("chunk_lookup_failed", slog.String("error", err.Error()), slog.Int("chunks", len(ids)))
		return results
	}

	kept := results[:0]
	for _, r := range results {
		rec, ok := records[r.ChunkID]
		if !ok {
			continue
		}
		r.DocumentID = rec.DocumentID
		r.Seq = rec.Seq
		r.Start = rec.Start
		r.End = rec.End
		r.Text = rec.Text
		if r.Snippet == "" {
			r.Snippet = store.Snippet(rec.Text, -1, store.SnippetChars)
		}
		kept = append(kept, r)
	}
	return kept
}

func (e *Engine) rewrite(ctx context.Context, query string) (string, *Rewrite) {
	rctx, cancel := context.WithTimeout(ctx, e.config.BackendTimeout)
	defer cancel()

	out, err := e.synth.Rewrite(rctx, query)
	if err != nil {
		slog.Warn("query_rewrite_failed", slog.String("error", err.Error()))
		return query, &Rewrite{Query: query, Failed: true, Error: err.Error()}
	}
	return out, &Rewrite{Query: out}
}

func (e *Engine) synthesize(ctx context.Context, query string, rs *ResultSet) *Synthesis {
	if e.synth == nil {
		return &Synthesis{Status: SynthesisUnavailable, Error: "synthesis is not configured"}
	}
	if rs.Empty() {
		return &Synthesis{Status: SynthesisSkipped}
	}

	start := time.Now()
	text, err := e.synth.Synthesize(ctx, query, rs.Documents, rs.Graph)
	latency := time.Since(start)
	if err != nil {
		slog.Warn("synthesis_failed", slog.String("error", err.Error()), slog.Duration("latency", latency))
		return &Synthesis{Status: SynthesisFailed, Error: err.Error(), Latency: latency}
	}
	return &Synthesis{Text: text, Status: SynthesisOK, Latency: latency}
}

func (e *Engine) recordMetrics(rs *ResultSet, queryVector []float32) {
	if e.metrics == nil {
		return
	}

	backends := make([]telemetry.BackendEvent, 0, len(Backends))
	for _, b := range Backends {
		d := rs.Diagnostics[b]
		backends = append(backends, telemetry.BackendEvent{
			Name:    string(b),
			Outcome: telemetry.Outcome(d.Status),
			Hits:    d.Hits,
			Latency: d.Latency,
			Error:   d.Error,
		})
	}

	e.metrics.Record(telemetry.QueryEvent{
		Query:          rs.Query,
		Scope:          string(rs.Scope),
		ResultCount:    len(rs.Documents),
		GraphCount:     len(rs.Graph),
		Latency:        rs.Elapsed,
		AllUnavailable: rs.AllUnavailable,
		Backends:       backends,
		Timestamp:      time.Now(),
	})
	e.metrics.RecordQueryEmbedding(queryVector)
}

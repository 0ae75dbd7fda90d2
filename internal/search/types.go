// Package search is the query-time fusion engine. It fans a query out to
// the keyword, vector, and graph backends concurrently, normalizes each
// backend's scores to [0, 1], merges hits on the same chunk with a
// weighted sum, and returns graph matches as a separate ranked group.
package search

import (
	"time"

	"github.com/Aman-CERP/hybridrag/internal/graph"
)

// Scope selects which backends a query reaches.
type Scope string

const (
	ScopeAll           Scope = "all"
	ScopeGraphOnly     Scope = "graph-only"
	ScopeDocumentsOnly Scope = "documents-only"
)

// IncludesDocuments reports whether keyword and vector search run.
func (s Scope) IncludesDocuments() bool { return s != ScopeGraphOnly }

// IncludesGraph reports whether graph matching runs.
func (s Scope) IncludesGraph() bool { return s != ScopeDocumentsOnly }

// Backend names a retrieval backend in diagnostics.
type Backend string

const (
	BackendKeyword Backend = "keyword"
	BackendVector  Backend = "vector"
	BackendGraph   Backend = "graph"
)

// Backends lists all retrieval backends in reporting order.
var Backends = []Backend{BackendKeyword, BackendVector, BackendGraph}

// Source tags which backend contributed to a result.
type Source = Backend

// DiagnosticStatus is the outcome of one backend sub-query.
type DiagnosticStatus string

const (
	StatusOK          DiagnosticStatus = "ok"
	StatusTimeout     DiagnosticStatus = "timeout"
	StatusUnavailable DiagnosticStatus = "unavailable"
	StatusSkipped     DiagnosticStatus = "skipped"
)

// Failed reports whether the backend was asked and did not answer.
func (s DiagnosticStatus) Failed() bool {
	return s == StatusTimeout || s == StatusUnavailable
}

// Diagnostic records what happened to one backend during a query.
type Diagnostic struct {
	Status  DiagnosticStatus `json:"status"`
	Hits    int              `json:"hits"`
	Latency time.Duration    `json:"latency_ns"`
	Error   string           `json:"error,omitempty"`
	Code    string           `json:"code,omitempty"`
}

// Params are the inputs of one search.
type Params struct {
	Query      string  `json:"query"`
	Scope      Scope   `json:"scope"`
	Synthesize bool    `json:"synthesize"`
	Limit      int     `json:"limit"`
	Threshold  float64 `json:"threshold"`
}

// Weights are the fusion weights for the two document backends.
// They must sum to 1.
type Weights struct {
	Vector  float64 `json:"vector"`
	Keyword float64 `json:"keyword"`
}

// DefaultWeights favours semantic similarity.
func DefaultWeights() Weights {
	return Weights{Vector: 0.6, Keyword: 0.4}
}

// RetrievalHit is a candidate from exactly one backend. The set of
// implementations is closed: KeywordHit, VectorHit, and GraphHit.
type RetrievalHit interface {
	Source() Source
	RawScore() float64
	retrievalHit()
}

// KeywordHit is a BM25 match on a chunk.
type KeywordHit struct {
	ChunkID string
	Score   float64
	Snippet string
}

// VectorHit is a nearest-neighbour match on a chunk; Score is cosine similarity.
type VectorHit struct {
	ChunkID string
	Score   float64
}

// GraphHit is a node matched by label or property.
type GraphHit struct {
	Node graph.NodeMatch
}

func (KeywordHit) Source() Source { return BackendKeyword }
func (VectorHit) Source() Source  { return BackendVector }
func (GraphHit) Source() Source   { return BackendGraph }

func (h KeywordHit) RawScore() float64 { return h.Score }
func (h VectorHit) RawScore() float64  { return h.Score }
func (h GraphHit) RawScore() float64   { return h.Node.Kind.Score() }

func (KeywordHit) retrievalHit() {}
func (VectorHit) retrievalHit()  {}
func (GraphHit) retrievalHit()   {}

// Contribution is one backend's share of a fused score.
type Contribution struct {
	Raw        float64 `json:"raw"`
	Normalized float64 `json:"normalized"`
	Rank       int     `json:"rank"`
}

// FusedResult is a document chunk in the merged ranking.
type FusedResult struct {
	ChunkID    string        `json:"chunk_id"`
	DocumentID string        `json:"document_id"`
	Seq        int           `json:"seq"`
	Score      float64       `json:"score"`
	Sources    []Source      `json:"sources"`
	Keyword    *Contribution `json:"keyword,omitempty"`
	Vector     *Contribution `json:"vector,omitempty"`
	Snippet    string        `json:"snippet,omitempty"`
	Text       string        `json:"text,omitempty"`
	Start      int           `json:"start"`
	End        int           `json:"end"`
}

// GraphResult is a node in the separate graph group.
type GraphResult struct {
	graph.NodeMatch
	Score float64 `json:"score"`
}

// SynthesisStatus is the outcome of the optional narration step.
type SynthesisStatus string

const (
	SynthesisOK          SynthesisStatus = "ok"
	SynthesisFailed      SynthesisStatus = "failed"
	SynthesisUnavailable SynthesisStatus = "unavailable"
	SynthesisSkipped     SynthesisStatus = "skipped"
)

// Synthesis carries generated narration, or why there is none.
type Synthesis struct {
	Text    string          `json:"text"`
	Status  SynthesisStatus `json:"status"`
	Error   string          `json:"error,omitempty"`
	Latency time.Duration   `json:"latency_ns"`
}

// Rewrite records query rewriting when it is enabled.
type Rewrite struct {
	Query  string `json:"query"`
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ResultSet is the complete response to one search.
type ResultSet struct {
	Query       string                 `json:"query"`
	Scope       Scope                  `json:"scope"`
	Documents   []FusedResult          `json:"documents"`
	Graph       []GraphResult          `json:"graph"`
	Synthesis   *Synthesis             `json:"synthesis,omitempty"`
	Rewrite     *Rewrite               `json:"rewrite,omitempty"`
	Diagnostics map[Backend]Diagnostic `json:"diagnostics"`

	// AllUnavailable is set when every backend the scope asked for failed,
	// as opposed to answering with nothing.
	AllUnavailable bool          `json:"all_unavailable"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// Empty reports whether the query produced no results of either kind.
func (r *ResultSet) Empty() bool {
	return len(r.Documents) == 0 && len(r.Graph) == 0
}

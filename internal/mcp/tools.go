package mcp

import (
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/health"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// Tool names.
const (
	ToolSearch         = "search"
	ToolIngestFile     = "ingest_file"
	ToolListDocuments  = "list_documents"
	ToolBackendStatus  = "backend_status"
	ToolGraphNeighbors = "graph_neighbors"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query      string  `json:"query" jsonschema:"the natural language query"`
	Scope      string  `json:"scope,omitempty" jsonschema:"all (default), graph-only or documents-only"`
	Limit      int     `json:"limit,omitempty" jsonschema:"maximum number of document results, default 10"`
	Threshold  float64 `json:"threshold,omitempty" jsonschema:"minimum combined score between 0 and 1"`
	Synthesize bool    `json:"synthesize,omitempty" jsonschema:"also generate a short answer from the top results"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Query           string                    `json:"query"`
	Scope           string                    `json:"scope"`
	Answer          string                    `json:"answer,omitempty"`
	SynthesisStatus string                    `json:"synthesis_status,omitempty"`
	RewrittenQuery  string                    `json:"rewritten_query,omitempty"`
	Documents       []DocumentHit             `json:"documents"`
	Entities        []EntityHit               `json:"entities"`
	Backends        map[string]BackendOutcome `json:"backends"`
	AllUnavailable  bool                      `json:"all_unavailable"`
	ElapsedMs       int64                     `json:"elapsed_ms"`
}

// DocumentHit is one fused document chunk.
type DocumentHit struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Score      float64  `json:"score"`
	Sources    []string `json:"sources"`
	Snippet    string   `json:"snippet,omitempty"`
}

// EntityHit is one matched knowledge graph node.
type EntityHit struct {
	NodeID    string   `json:"node_id"`
	Label     string   `json:"label"`
	Labels    []string `json:"labels,omitempty"`
	MatchKind string   `json:"match_kind"`
	Score     float64  `json:"score"`
}

// BackendOutcome is one backend's part in a search.
type BackendOutcome struct {
	Status    string `json:"status"`
	Hits      int    `json:"hits"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// IngestFileInput defines the input schema for the ingest_file tool.
type IngestFileInput struct {
	Path string `json:"path" jsonschema:"path of the file to ingest"`
	ID   string `json:"id,omitempty" jsonschema:"document ID, defaults to the file name"`
}

// IngestFileOutput defines the output schema for the ingest_file tool.
type IngestFileOutput struct {
	DocumentID   string            `json:"document_id"`
	Status       string            `json:"status"`
	Chunks       int               `json:"chunks"`
	Backends     map[string]string `json:"backends,omitempty"`
	PrunedChunks int               `json:"pruned_chunks,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ElapsedMs    int64             `json:"elapsed_ms"`
}

// ListDocumentsInput defines the input schema for list_documents (no parameters).
type ListDocumentsInput struct{}

// ListDocumentsOutput defines the output schema for list_documents.
type ListDocumentsOutput struct {
	Documents []DocumentInfo `json:"documents"`
	Count     int            `json:"count"`
}

// DocumentInfo describes one registered document.
type DocumentInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MIMEType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	Chunks     int    `json:"chunks"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	UploadedAt string `json:"uploaded_at"`
	IndexedAt  string `json:"indexed_at,omitempty"`
}

// BackendStatusInput defines the input schema for backend_status (no parameters).
type BackendStatusInput struct{}

// BackendStatusOutput defines the output schema for backend_status.
type BackendStatusOutput struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Documents int            `json:"documents"`
	Chunks    int            `json:"chunks"`
	Backends  []BackendCheck `json:"backends"`
	Queries   *QueryStats    `json:"queries,omitempty"`
}

// BackendCheck is one dependency's health.
type BackendCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Required  bool   `json:"required"`
	Message   string `json:"message,omitempty"`
	Breaker   string `json:"breaker,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// QueryStats summarises query telemetry.
type QueryStats struct {
	Total          int64                   `json:"total"`
	ZeroResults    int64                   `json:"zero_results"`
	AllUnavailable int64                   `json:"all_unavailable"`
	Backends       map[string]BackendTally `json:"backends"`
}

// BackendTally counts one backend's query outcomes.
type BackendTally struct {
	Requests    int64   `json:"requests"`
	OK          int64   `json:"ok"`
	Timeouts    int64   `json:"timeouts"`
	Unavailable int64   `json:"unavailable"`
	FailureRate float64 `json:"failure_rate"`
}

// ToSearchOutput converts a result set to the tool's output schema.
func ToSearchOutput(rs *search.ResultSet) SearchOutput {
	out := SearchOutput{
		Query:          rs.Query,
		Scope:          string(rs.Scope),
		Documents:      make([]DocumentHit, 0, len(rs.Documents)),
		Entities:       make([]EntityHit, 0, len(rs.Graph)),
		Backends:       make(map[string]BackendOutcome, len(rs.Diagnostics)),
		AllUnavailable: rs.AllUnavailable,
		ElapsedMs:      rs.Elapsed.Milliseconds(),
	}
	if rs.Synthesis != nil {
		out.Answer = rs.Synthesis.Text
		out.SynthesisStatus = string(rs.Synthesis.Status)
	}
	if rs.Rewrite != nil && !rs.Rewrite.Failed {
		out.RewrittenQuery = rs.Rewrite.Query
	}
	for _, d := range rs.Documents {
		sources := make([]string, len(d.Sources))
		for i, s := range d.Sources {
			sources[i] = string(s)
		}
		out.Documents = append(out.Documents, DocumentHit{
			ChunkID:    d.ChunkID,
			DocumentID: d.DocumentID,
			Score:      d.Score,
			Sources:    sources,
			Snippet:    d.Snippet,
		})
	}
	for _, g := range rs.Graph {
		out.Entities = append(out.Entities, EntityHit{
			NodeID:    g.NodeID,
			Label:     g.Label,
			Labels:    g.Labels,
			MatchKind: string(g.Kind),
			Score:     g.Score,
		})
	}
	for b, d := range rs.Diagnostics {
		out.Backends[string(b)] = BackendOutcome{
			Status:    string(d.Status),
			Hits:      d.Hits,
			LatencyMs: d.Latency.Milliseconds(),
			Error:     d.Error,
		}
	}
	return out
}

// GraphNeighborsInput defines the input schema for the graph_neighbors tool.
type GraphNeighborsInput struct {
	NodeID string `json:"node_id" jsonschema:"the node_id of a graph entity returned by search"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of relationships, default 50"`
}

// GraphNeighborsOutput defines the output schema for the graph_neighbors tool.
type GraphNeighborsOutput struct {
	NodeID string         `json:"node_id"`
	Edges  []NeighborEdge `json:"edges"`
	Count  int            `json:"count"`
}

// NeighborEdge is one relationship and the node at its other end.
type NeighborEdge struct {
	Type       string   `json:"type"`
	Direction  string   `json:"direction"`
	NodeID     string   `json:"node_id"`
	Label      string   `json:"label"`
	NodeLabels []string `json:"node_labels,omitempty"`
}

// ToGraphNeighborsOutput converts expanded edges.
func ToGraphNeighborsOutput(nodeID string, edges []graph.Edge) GraphNeighborsOutput {
	out := GraphNeighborsOutput{NodeID: nodeID, Edges: make([]NeighborEdge, 0, len(edges)), Count: len(edges)}
	for _, e := range edges {
		dir := "in"
		if e.Outgoing {
			dir = "out"
		}
		out.Edges = append(out.Edges, NeighborEdge{
			Type:       e.Type,
			Direction:  dir,
			NodeID:     e.Neighbor.NodeID,
			Label:      e.Neighbor.Label,
			NodeLabels: e.Neighbor.Labels,
		})
	}
	return out
}

// ToIngestFileOutput converts an ingestion report.
func ToIngestFileOutput(r ingest.Report) IngestFileOutput {
	out := IngestFileOutput{
		DocumentID:   r.DocumentID,
		Status:       string(r.Status),
		Chunks:       r.Chunks,
		PrunedChunks: r.PrunedChunks,
		Error:        r.Error,
		ErrorCode:    r.ErrorCode,
		ElapsedMs:    r.Elapsed.Milliseconds(),
	}
	if len(r.Backends) > 0 {
		out.Backends = make(map[string]string, len(r.Backends))
		for name, b := range r.Backends {
			if b.OK {
				out.Backends[name] = "ok"
			} else {
				out.Backends[name] = b.Error
			}
		}
	}
	return out
}

// ToDocumentInfo converts a registry row.
func ToDocumentInfo(d *store.Document) DocumentInfo {
	info := DocumentInfo{
		ID:         d.ID,
		Name:       d.Name,
		MIMEType:   d.MIMEType,
		SizeBytes:  d.SizeBytes,
		Chunks:     d.ChunkCount,
		Status:     string(d.Status),
		Error:      d.Error,
		UploadedAt: d.UploadedAt.UTC().Format(time.RFC3339),
	}
	if !d.IndexedAt.IsZero() {
		info.IndexedAt = d.IndexedAt.UTC().Format(time.RFC3339)
	}
	return info
}

// ToBackendStatusOutput converts a health report.
func ToBackendStatusOutput(rep health.Report) BackendStatusOutput {
	out := BackendStatusOutput{
		Status:    rep.Status,
		Version:   rep.Version,
		Documents: rep.Documents,
		Chunks:    rep.Chunks,
		Backends:  make([]BackendCheck, 0, len(rep.Backends)),
	}
	for _, b := range rep.Backends {
		out.Backends = append(out.Backends, BackendCheck{
			Name:      b.Name,
			Status:    strings.ToLower(b.Status.String()),
			Required:  b.Required,
			Message:   b.Message,
			Breaker:   b.Breaker,
			LatencyMs: b.Latency.Milliseconds(),
		})
	}
	if q := rep.Queries; q != nil {
		stats := &QueryStats{
			Total:          q.TotalQueries,
			ZeroResults:    q.ZeroResultCount,
			AllUnavailable: q.AllUnavailableCount,
			Backends:       make(map[string]BackendTally, len(q.Backends)),
		}
		for name, b := range q.Backends {
			stats.Backends[name] = BackendTally{
				Requests:    b.Requests,
				OK:          b.OK,
				Timeouts:    b.Timeouts,
				Unavailable: b.Unavailable,
				FailureRate: b.FailureRate(),
			}
		}
		out.Queries = stats
	}
	return out
}

// sortedBackends returns the outcome names in reporting order.
func sortedBackends(m map[string]BackendOutcome) []string {
	order := make(map[string]int, len(search.Backends))
	for i, b := range search.Backends {
		order[string(b)] = i
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, iok := order[names[i]]
		oj, jok := order[names[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return names[i] < names[j]
	})
	return names
}

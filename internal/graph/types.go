// Package graph is the property-graph adapter. It matches query text
// against node labels and properties and walks a node's relationships;
// it does not do full-text search.
package graph

import (
	"context"
	"time"
)

// MatchKind grades how a node matched the query text.
type MatchKind string

const (
	// KindExact means the node label equals the query, ignoring case.
	KindExact MatchKind = "exact"
	// KindSubstring means the label contains the query or is named in it.
	KindSubstring MatchKind = "substring"
	// KindProperty means some other property or a node label matched.
	KindProperty MatchKind = "property"
)

// Rank orders kinds best first.
func (k MatchKind) Rank() int {
	switch k {
	case KindExact:
		return 0
	case KindSubstring:
		return 1
	default:
		return 2
	}
}

// Score is the match quality in (0, 1] used to order the graph group.
func (k MatchKind) Score() float64 {
	switch k {
	case KindExact:
		return 1.0
	case KindSubstring:
		return 2.0 / 3.0
	default:
		return 1.0 / 3.0
	}
}

// NodeMatch is one matched node.
type NodeMatch struct {
	NodeID     string         `json:"node_id"`
	Label      string         `json:"label"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
	Kind       MatchKind      `json:"match_kind"`
}

// Node is a graph node as returned by Expand.
type Node struct {
	NodeID     string         `json:"node_id"`
	Label      string         `json:"label"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// Edge is one relationship of an expanded node. Outgoing is true when the
// expanded node is the start of the relationship.
type Edge struct {
	RelationshipID string         `json:"relationship_id"`
	Type           string         `json:"type"`
	Outgoing       bool           `json:"outgoing"`
	Properties     map[string]any `json:"properties"`
	Neighbor       Node           `json:"neighbor"`
}

const (
	// DefaultExpandLimit caps Expand when the caller passes no limit.
	DefaultExpandLimit = 50
	// MaxExpandLimit is the largest limit Expand accepts.
	MaxExpandLimit = 500
)

// ClampExpandLimit maps a requested neighbour count onto
// [1, MaxExpandLimit], with zero or less meaning DefaultExpandLimit.
func ClampExpandLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultExpandLimit
	case limit > MaxExpandLimit:
		return MaxExpandLimit
	}
	return limit
}

// DocumentLink describes an ingested document mirrored into the graph.
type DocumentLink struct {
	ID        string
	Name      string
	MIMEType  string
	Chunks    int
	IndexedAt time.Time
}

// Expander walks the relationships of one node.
type Expander interface {
	Expand(ctx context.Context, nodeID string, limit int) ([]Edge, error)
}

// Adapter is the graph backend used by search and ingestion.
type Adapter interface {
	// MatchNodes returns up to limit nodes matching text, best first.
	MatchNodes(ctx context.Context, text string, limit int) ([]NodeMatch, error)

	// Expand returns up to limit relationships of the node with ID nodeID,
	// ordered by relationship type then neighbour ID. An unknown node is an
	// ErrNodeNotFound error; a node without relationships yields none.
	Expand(ctx context.Context, nodeID string, limit int) ([]Edge, error)

	// LinkDocument creates or updates the graph node for a document.
	LinkDocument(ctx context.Context, doc DocumentLink) error

	// UnlinkDocument removes the graph node for a document.
	UnlinkDocument(ctx context.Context, id string) error

	// VerifyConnectivity checks that the backend is reachable.
	VerifyConnectivity(ctx context.Context) error

	Close(ctx context.Context) error
}

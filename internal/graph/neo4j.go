package graph

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// BackendName identifies the graph backend in errors and logs.
const BackendName = "graph"

// DocumentLabel is the node label for ingested documents. Nodes with this
// label are never returned by MatchNodes.
const DocumentLabel = "IngestedDocument"

// scanFactor widens the Cypher prefilter so Go-side classification has
// candidates to spare once property-only matches are dropped or demoted.
const scanFactor = 4

// Config holds Neo4j connection settings.
type Config struct {
	URI           string
	User          string
	Password      string
	Database      string
	LabelProperty string
	Timeout       time.Duration
}

// Neo4jAdapter implements Adapter against Neo4j over Bolt.
type Neo4jAdapter struct {
	driver neo4j.DriverWithContext
	cfg    Config
}

var _ Adapter = (*Neo4jAdapter)(nil)

// NewNeo4jAdapter creates a driver. No connection is made until first use;
// call VerifyConnectivity to check the server.
func NewNeo4jAdapter(cfg Config) (*Neo4jAdapter, error) {
	if cfg.URI == "" {
		return nil, apperrors.ConfigError("graph.uri is empty", nil)
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.LabelProperty == "" {
		cfg.LabelProperty = "name"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *config.Config) {
			c.SocketConnectTimeout = cfg.Timeout
			c.ConnectionAcquisitionTimeout = cfg.Timeout
		})
	if err != nil {
		return nil, apperrors.ConfigError("failed to create neo4j driver", err).
			WithDetail("uri", cfg.URI)
	}
	return &Neo4jAdapter{driver: driver, cfg: cfg}, nil
}

// matchQuery ranks candidates the same way Classify does for the display
// label, so the LIMIT cuts property matches before substring ones and
// substring ones before exact ones.
const matchQuery = `
MATCH (n)
WHERE NOT n:` + DocumentLabel + `
WITH n,
     [k IN keys(n) | toLower(coalesce(toStringOrNull(n[k]), ''))] AS vals,
     toLower(trim(coalesce(toStringOrNull(n[$labelProp]), toStringOrNull(n.name), toStringOrNull(n.title), ''))) AS label
WHERE any(v IN vals WHERE v <> '' AND (v CONTAINS $needle OR (size(v) >= $minMention AND $needle CONTAINS v)))
   OR any(l IN labels(n) WHERE toLower(l) CONTAINS $needle OR (size(l) >= $minMention AND $needle CONTAINS toLower(l)))
WITH n, label,
     CASE
       WHEN label = $needle THEN 0
       WHEN label <> '' AND (label CONTAINS $needle OR (size(label) >= $minMention AND $needle CONTAINS label)) THEN 1
       ELSE 2
     END AS rank
RETURN n
ORDER BY rank, label, elementId(n)
LIMIT $scan`

// MatchNodes prefilters candidates in Cypher and classifies them in Go.
func (a *Neo4jAdapter) MatchNodes(ctx context.Context, text string, limit int) ([]NodeMatch, error) {
	needle := normalize(text)
	if needle == "" || limit <= 0 {
		return nil, nil
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.cfg.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	nodes, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, matchQuery, map[string]any{
			"needle":     needle,
			"labelProp":  a.cfg.LabelProperty,
			"minMention": MinMentionRunes,
			"scan":       limit * scanFactor,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]dbtype.Node, 0, len(records))
		for _, rec := range records {
			v, ok := rec.Get("n")
			if !ok {
				continue
			}
			if node, ok := v.(dbtype.Node); ok {
				out = append(out, node)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, a.wrapErr(ctx, err)
	}

	var matches []NodeMatch
	for _, n := range nodes.([]dbtype.Node) {
		label := displayLabel(n.ElementId, n.Labels, n.Props, a.cfg.LabelProperty)
		kind, ok := Classify(text, label, n.Labels, n.Props, a.cfg.LabelProperty)
		if !ok {
			continue
		}
		matches = append(matches, NodeMatch{
			NodeID:     n.ElementId,
			Label:      label,
			Labels:     n.Labels,
			Properties: n.Props,
			Kind:       kind,
		})
	}
	return Rank(matches, limit), nil
}

const expandQuery = `
MATCH (n) WHERE elementId(n) = $id
OPTIONAL MATCH (n)-[r]-(m)
WHERE NOT m:` + DocumentLabel + `
WITH n, r, m
ORDER BY type(r), elementId(m), elementId(r)
RETURN n, r, m
LIMIT $limit`

// Expand returns the relationships of a node and the nodes at their other
// end. Document nodes are left out.
func (a *Neo4jAdapter) Expand(ctx context.Context, nodeID string, limit int) ([]Edge, error) {
	if nodeID == "" {
		return nil, apperrors.ValidationError("node id is required", nil)
	}
	limit = ClampExpandLimit(limit)

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.cfg.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	type row struct {
		rel      *dbtype.Relationship
		neighbor *dbtype.Node
	}
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, expandQuery, map[string]any{"id": nodeID, "limit": limit})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]row, 0, len(records))
		for _, rec := range records {
			var r row
			if v, ok := rec.Get("r"); ok {
				if rel, ok := v.(dbtype.Relationship); ok {
					r.rel = &rel
				}
			}
			if v, ok := rec.Get("m"); ok {
				if node, ok := v.(dbtype.Node); ok {
					r.neighbor = &node
				}
			}
			rows = append(rows, r)
		}
		return rows, nil
	})
	if err != nil {
		return nil, a.wrapErr(ctx, err)
	}

	rows := out.([]row)
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeNodeNotFound, "graph node not found: "+nodeID, nil).
			WithDetail("node_id", nodeID)
	}
	edges := make([]Edge, 0, len(rows))
	for _, r := range rows {
		if r.rel == nil || r.neighbor == nil {
			continue
		}
		edges = append(edges, buildEdge(nodeID, *r.rel, *r.neighbor, a.cfg.LabelProperty))
	}
	return edges, nil
}

// buildEdge converts a driver relationship and its far node.
func buildEdge(centerID string, rel dbtype.Relationship, neighbor dbtype.Node, labelProperty string) Edge {
	return Edge{
		RelationshipID: rel.ElementId,
		Type:           rel.Type,
		Outgoing:       rel.StartElementId == centerID,
		Properties:     rel.Props,
		Neighbor: Node{
			NodeID:     neighbor.ElementId,
			Label:      displayLabel(neighbor.ElementId, neighbor.Labels, neighbor.Props, labelProperty),
			Labels:     neighbor.Labels,
			Properties: neighbor.Props,
		},
	}
}

// LinkDocument MERGEs the document node and refreshes its properties.
func (a *Neo4jAdapter) LinkDocument(ctx context.Context, doc DocumentLink) error {
	return a.write(ctx, `
MERGE (d:`+DocumentLabel+` {id: $id})
SET d.name = $name, d.mime_type = $mime, d.chunks = $chunks, d.indexed_at = $indexedAt`,
		map[string]any{
			"id":        doc.ID,
			"name":      doc.Name,
			"mime":      doc.MIMEType,
			"chunks":    doc.Chunks,
			"indexedAt": doc.IndexedAt.UTC().Format(time.RFC3339),
		})
}

// UnlinkDocument deletes the document node and its relationships.
func (a *Neo4jAdapter) UnlinkDocument(ctx context.Context, id string) error {
	return a.write(ctx, `MATCH (d:`+DocumentLabel+` {id: $id}) DETACH DELETE d`,
		map[string]any{"id": id})
}

func (a *Neo4jAdapter) write(ctx context.Context, query string, params map[string]any) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.cfg.Database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return a.wrapErr(ctx, err)
	}
	return nil
}

// VerifyConnectivity checks that the server accepts the credentials.
func (a *Neo4jAdapter) VerifyConnectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	if err := a.driver.VerifyConnectivity(ctx); err != nil {
		return a.wrapErr(ctx, err)
	}
	return nil
}

// Close closes the driver.
func (a *Neo4jAdapter) Close(ctx context.Context) error {
	return a.driver.Close(ctx)
}

// wrapErr maps driver errors onto the backend taxonomy. Cypher errors
// (bad query, unknown function on an old server) stay unavailable too;
// the fan-out treats both the same.
func (a *Neo4jAdapter) wrapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.BackendTimeout(BackendName, err)
	}
	if neo4j.IsNeo4jError(err) {
		slog.Debug("neo4j_error", slog.String("error", err.Error()))
	}
	return apperrors.BackendUnavailable(BackendName, err)
}

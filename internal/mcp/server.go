package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/extract"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/health"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// Searcher runs hybrid searches.
type Searcher interface {
	Search(ctx context.Context, p search.Params) (*search.ResultSet, error)
}

// Ingester ingests documents.
type Ingester interface {
	Ingest(ctx context.Context, doc ingest.Document) ingest.Report
}

// DocumentStore reads the document registry.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]*store.Document, error)
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	ChunkIDs(ctx context.Context, documentID string) ([]string, error)
	ChunkText(ctx context.Context, ids []string) (map[string]store.ChunkRecord, error)
}

// StatusReporter reports service health.
type StatusReporter interface {
	Status(ctx context.Context) health.Report
}

// Deps are the services the tools call. Search is required; a tool whose
// dependency is nil reports itself unavailable.
type Deps struct {
	Search    Searcher
	Ingest    Ingester
	Documents DocumentStore
	Status    StatusReporter
	Graph     graph.Expander

	// MaxBytes caps files read by ingest_file. Zero means ingest.DefaultMaxBytes.
	MaxBytes int64

	// Root, when set, confines ingest_file to files under it.
	Root string
}

// Server is the hybridrag MCP server.
type Server struct {
	mcp    *mcp.Server
	deps   Deps
	logger *slog.Logger
}

// NewServer creates a server and registers its tools and resources.
func NewServer(deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Search == nil {
		return nil, errors.New("mcp: search engine is required")
	}
	if deps.MaxBytes <= 0 {
		deps.MaxBytes = ingest.DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "hybridrag",
			Version: version.Version,
		}, nil),
		deps:   deps,
		logger: logger,
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// CallTool invokes a tool by name with JSON-style arguments and returns
// its markdown text. It runs the same handlers the protocol does.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolSearch:
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		res, _, err := s.handleSearch(ctx, nil, in)
		return textOf(res), err
	case ToolIngestFile:
		var in IngestFileInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		res, _, err := s.handleIngestFile(ctx, nil, in)
		return textOf(res), err
	case ToolListDocuments:
		res, _, err := s.handleListDocuments(ctx, nil, ListDocumentsInput{})
		return textOf(res), err
	case ToolBackendStatus:
		res, _, err := s.handleBackendStatus(ctx, nil, BackendStatusInput{})
		return textOf(res), err
	case ToolGraphNeighbors:
		var in GraphNeighborsInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		res, _, err := s.handleGraphNeighbors(ctx, nil, in)
		return textOf(res), err
	default:
		return "", NewMethodNotFoundError(name)
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: ToolSearch,
		Description: "Hybrid search over ingested documents and the knowledge graph. " +
			"Combines keyword (BM25) and semantic vector matches into one ranked list, " +
			"returns matching graph entities separately, and can synthesize a short answer.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolIngestFile,
		Description: "Ingest a local file (text, markdown, HTML, JSON, PDF and other Tika-supported formats) so it becomes searchable.",
	}, s.handleIngestFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolListDocuments,
		Description: "List ingested documents with their chunk counts and indexing status.",
	}, s.handleListDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolBackendStatus,
		Description: "Report the health of the embedding, keyword, vector, graph, extraction and synthesis backends, plus query statistics.",
	}, s.handleBackendStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        ToolGraphNeighbors,
		Description: "List the relationships of a knowledge graph entity and the entities at their other end. Use a node_id from search results.",
	}, s.handleGraphNeighbors)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 5))
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	scope, err := search.ParseScope(in.Scope)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	requestID := uuid.NewString()[:8]
	start := time.Now()
	rs, err := s.deps.Search.Search(ctx, search.Params{
		Query:      in.Query,
		Scope:      scope,
		Limit:      in.Limit,
		Threshold:  in.Threshold,
		Synthesize: in.Synthesize,
	})
	if err != nil {
		s.logger.Error("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	out := ToSearchOutput(rs)
	s.logger.Info("mcp_search_complete",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("documents", len(out.Documents)),
		slog.Int("entities", len(out.Entities)))
	return textResult(FormatSearchResults(out)), out, nil
}

func (s *Server) handleIngestFile(ctx context.Context, _ *mcp.CallToolRequest, in IngestFileInput) (
	*mcp.CallToolResult,
	IngestFileOutput,
	error,
) {
	if s.deps.Ingest == nil {
		return nil, IngestFileOutput{}, &MCPError{Code: ErrCodeBackendUnavailable, Message: "Ingestion is not available in this server."}
	}
	path, err := s.resolvePath(in.Path)
	if err != nil {
		return nil, IngestFileOutput{}, err
	}
	content, err := readLimited(path, s.deps.MaxBytes)
	if err != nil {
		return nil, IngestFileOutput{}, MapError(err)
	}

	name := filepath.Base(path)
	report := s.deps.Ingest.Ingest(ctx, ingest.Document{
		ID:         in.ID,
		Name:       name,
		MIMEType:   extract.DetectMIME(name, "", content),
		Content:    content,
		UploadedAt: time.Now().UTC(),
	})
	out := ToIngestFileOutput(report)
	if report.Status == ingest.StatusFailed {
		return nil, out, MapError(report.Err)
	}
	return textResult(FormatIngestReport(in.Path, out)), out, nil
}

func (s *Server) handleListDocuments(ctx context.Context, _ *mcp.CallToolRequest, _ ListDocumentsInput) (
	*mcp.CallToolResult,
	ListDocumentsOutput,
	error,
) {
	if s.deps.Documents == nil {
		return nil, ListDocumentsOutput{}, &MCPError{Code: ErrCodeBackendUnavailable, Message: "Document registry is not available."}
	}
	docs, err := s.deps.Documents.ListDocuments(ctx)
	if err != nil {
		return nil, ListDocumentsOutput{}, MapError(err)
	}
	out := ListDocumentsOutput{Documents: make([]DocumentInfo, 0, len(docs)), Count: len(docs)}
	for _, d := range docs {
		out.Documents = append(out.Documents, ToDocumentInfo(d))
	}
	return textResult(FormatDocumentList(out)), out, nil
}

func (s *Server) handleBackendStatus(ctx context.Context, _ *mcp.CallToolRequest, _ BackendStatusInput) (
	*mcp.CallToolResult,
	BackendStatusOutput,
	error,
) {
	if s.deps.Status == nil {
		return nil, BackendStatusOutput{}, &MCPError{Code: ErrCodeBackendUnavailable, Message: "Status reporting is not available."}
	}
	out := ToBackendStatusOutput(s.deps.Status.Status(ctx))
	return textResult(FormatBackendStatus(out)), out, nil
}

func (s *Server) handleGraphNeighbors(ctx context.Context, _ *mcp.CallToolRequest, in GraphNeighborsInput) (
	*mcp.CallToolResult,
	GraphNeighborsOutput,
	error,
) {
	if s.deps.Graph == nil {
		return nil, GraphNeighborsOutput{}, &MCPError{Code: ErrCodeBackendUnavailable, Message: "The knowledge graph is not enabled."}
	}
	if strings.TrimSpace(in.NodeID) == "" {
		return nil, GraphNeighborsOutput{}, NewInvalidParamsError("node_id parameter is required")
	}
	if in.Limit < 0 {
		return nil, GraphNeighborsOutput{}, NewInvalidParamsError("limit must not be negative")
	}
	edges, err := s.deps.Graph.Expand(ctx, in.NodeID, graph.ClampExpandLimit(in.Limit))
	if err != nil {
		return nil, GraphNeighborsOutput{}, MapError(err)
	}
	out := ToGraphNeighborsOutput(in.NodeID, edges)
	return textResult(FormatGraphNeighbors(out)), out, nil
}

// resolvePath makes p absolute and, when a root is configured, rejects
// anything outside it.
func (s *Server) resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", NewInvalidParamsError("path parameter is required")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", NewInvalidParamsError(fmt.Sprintf("invalid path: %s", p))
	}
	if s.deps.Root != "" {
		root, err := filepath.Abs(s.deps.Root)
		if err != nil {
			return "", MapError(err)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", NewInvalidParamsError(fmt.Sprintf("path is outside %s: %s", root, p))
		}
	}
	return abs, nil
}

func readLimited(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.ErrCodeFileNotFound, "file not found: "+path, err)
		}
		return nil, apperrors.New(apperrors.ErrCodeFilePermission, "cannot stat "+path, err)
	}
	if info.IsDir() {
		return nil, apperrors.ValidationError(path+" is a directory", nil)
	}
	if info.Size() > limit {
		return nil, apperrors.PayloadTooLarge(info.Size(), limit)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFilePermission, "cannot open "+path, err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFilePermission, "cannot read "+path, err)
	}
	if int64(len(content)) > limit {
		return nil, apperrors.PayloadTooLarge(int64(len(content)), limit)
	}
	return content, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func textOf(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func decodeArgs(args map[string]any, v any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError("arguments are not valid JSON")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

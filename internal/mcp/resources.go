package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/hybridrag/internal/store"
)

// uriScheme prefixes every hybridrag resource URI.
const uriScheme = "hybridrag://"

// MaxResourceRunes caps the text returned for one document resource.
const MaxResourceRunes = 1 << 20

func (s *Server) registerResources() {
	if s.deps.Documents == nil {
		return
	}

	s.mcp.AddResource(&mcp.Resource{
		URI:         uriScheme + "documents",
		Name:        "documents",
		Description: "All ingested documents",
		MIMEType:    "application/json",
	}, s.handleDocumentsResource)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "documents/{documentId}",
		Name:        "document-text",
		Description: "Extracted text of an ingested document",
		MIMEType:    "text/plain",
	}, s.handleDocumentTextResource)
}

func (s *Server) handleDocumentsResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	docs, err := s.deps.Documents.ListDocuments(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	infos := make([]DocumentInfo, 0, len(docs))
	for _, d := range docs {
		infos = append(infos, ToDocumentInfo(d))
	}
	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

func (s *Server) handleDocumentTextResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	id := extractDocumentID(req.Params.URI)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	text, err := s.documentText(ctx, id)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     text,
		}},
	}, nil
}

// documentText rebuilds a document's extracted text from its chunks.
func (s *Server) documentText(ctx context.Context, id string) (string, error) {
	doc, err := s.deps.Documents.GetDocument(ctx, id)
	if err != nil {
		return "", MapError(err)
	}
	if doc == nil {
		return "", NewNotFoundError(fmt.Sprintf("Document '%s'", id))
	}
	ids, err := s.deps.Documents.ChunkIDs(ctx, id)
	if err != nil {
		return "", MapError(err)
	}
	records, err := s.deps.Documents.ChunkText(ctx, ids)
	if err != nil {
		return "", MapError(err)
	}
	chunks := make([]store.ChunkRecord, 0, len(records))
	for _, r := range records {
		chunks = append(chunks, r)
	}
	return assembleText(chunks, MaxResourceRunes), nil
}

// assembleText stitches overlapping chunks back together using their rune
// offsets. Gaps between chunks are joined with a newline.
func assembleText(chunks []store.ChunkRecord, maxRunes int) string {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Seq < chunks[j].Seq })

	var sb strings.Builder
	written, pos := 0, 0
	for _, c := range chunks {
		r := []rune(c.Text)
		skip := 0
		switch {
		case c.Start < pos:
			skip = min(pos-c.Start, len(r))
		case c.Start > pos && written > 0:
			sb.WriteString("\n")
		}
		part := r[skip:]
		if written+len(part) > maxRunes {
			part = part[:maxRunes-written]
		}
		sb.WriteString(string(part))
		written += len(part)
		if written >= maxRunes {
			break
		}
		pos = max(pos, c.Start+len(r))
	}
	return sb.String()
}

// extractDocumentID extracts the ID from hybridrag://documents/{id}.
func extractDocumentID(uri string) string {
	const prefix = uriScheme + "documents/"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	return strings.TrimPrefix(uri, prefix)
}

package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/store"
)

func TestAssembleText_RemovesOverlap(t *testing.T) {
	// Given: "The quick brown fox jumps" split into overlapping chunks, out of order
	chunks := []store.ChunkRecord{
		{ID: "d#00001", Seq: 1, Start: 10, End: 25, Text: "brown fox jumps"},
		{ID: "d#00000", Seq: 0, Start: 0, End: 15, Text: "The quick brown"},
	}

	// When: assembling
	text := assembleText(chunks, MaxResourceRunes)

	// Then: the overlap appears once
	assert.Equal(t, "The quick brown fox jumps", text)
}

func TestAssembleText_GapAndLimit(t *testing.T) {
	chunks := []store.ChunkRecord{
		{Seq: 0, Start: 0, Text: "alpha"},
		{Seq: 1, Start: 9, Text: "omega"},
	}

	assert.Equal(t, "alpha\nomega", assembleText(chunks, MaxResourceRunes))
	assert.Equal(t, "alpha\nom", assembleText(chunks, 7))
}

func TestServer_DocumentText(t *testing.T) {
	docs := &fakeDocuments{
		docs: []*store.Document{{ID: "memo.txt"}},
		chunks: map[string][]store.ChunkRecord{
			"memo.txt": {
				{ID: "memo.txt#00000", DocumentID: "memo.txt", Seq: 0, Start: 0, Text: "Shipping was "},
				{ID: "memo.txt#00001", DocumentID: "memo.txt", Seq: 1, Start: 9, Text: "was late."},
			},
		},
	}
	srv := newTestServer(t, Deps{Documents: docs})

	text, err := srv.documentText(context.Background(), "memo.txt")

	require.NoError(t, err)
	assert.Equal(t, "Shipping was late.", text)
}

func TestServer_DocumentText_NotFound(t *testing.T) {
	srv := newTestServer(t, Deps{Documents: &fakeDocuments{}})

	_, err := srv.documentText(context.Background(), "missing.txt")

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeNotFound, mcpErr.Code)
}

func TestExtractDocumentID(t *testing.T) {
	assert.Equal(t, "contracts.pdf", extractDocumentID("hybridrag://documents/contracts.pdf"))
	assert.Empty(t, extractDocumentID("file:///etc/passwd"))
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KiB", humanSize(1536))
	assert.Equal(t, "3.0 MiB", humanSize(3<<20))
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

const (
	fieldContent    = "content"
	fieldDocumentID = "document_id"

	// SnippetChars is the target snippet length in runes.
	SnippetChars = 240
)

// BleveIndex implements KeywordIndex on bleve's BM25 scorer.
type BleveIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ KeywordIndex = (*BleveIndex)(nil)

type bleveDocument struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
}

// NewBleveIndex opens or creates a keyword index at path.
// An empty path creates an in-memory index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	m := buildIndexMapping()

	if path == "" {
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory keyword index: %w", err)
		}
		return &BleveIndex{index: idx}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	if err := validateIndexIntegrity(path); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeCorruptIndex,
			"keyword index is corrupted", err).
			WithDetail("path", path).
			WithSuggestion("Remove " + path + " and re-ingest your documents")
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword index at %s: %w", path, err)
	}

	slog.Debug("keyword_index_opened", slog.String("path", path))
	return &BleveIndex{index: idx, path: path}, nil
}

// buildIndexMapping stores chunk text with term vectors so hits carry
// match locations for snippets. The document ID is an untokenized keyword.
func buildIndexMapping() *mapping.IndexMappingImpl {
	content := bleve.NewTextFieldMapping()
	content.Analyzer = en.AnalyzerName
	content.Store = true
	content.IncludeTermVectors = true

	docID := bleve.NewKeywordFieldMapping()
	docID.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldContent, content)
	doc.AddFieldMappingsAt(fieldDocumentID, docID)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = en.AnalyzerName
	return m
}

// validateIndexIntegrity checks an on-disk index before bleve opens it.
// A missing directory is valid; it will be created.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is not valid JSON: %w", err)
	}
	return nil
}

// IndexChunks adds or replaces chunks in one batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, docs []KeywordDoc) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrIndexClosed
	}

	batch := b.index.NewBatch()
	for _, d := range docs {
		if err := batch.Index(d.ID, bleveDocument{Content: d.Text, DocumentID: d.DocumentID}); err != nil {
			return fmt.Errorf("failed to add chunk %s to batch: %w", d.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index %d chunks: %w", len(docs), err)
	}
	return nil
}

// Search runs a match query against chunk text and returns hits by
// descending BM25 score.
func (b *BleveIndex) Search(ctx context.Context, text string, limit int) ([]KeywordHit, error) {
	text = strings.TrimSpace(text)
	if text == "" || limit <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrIndexClosed
	}

	q := bleve.NewMatchQuery(text)
	q.SetField(fieldContent)

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{fieldContent}
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]KeywordHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		content, _ := h.Fields[fieldContent].(string)
		hits = append(hits, KeywordHit{
			ChunkID: h.ID,
			Score:   h.Score,
			Snippet: Snippet(content, firstMatchOffset(h.Locations), SnippetChars),
		})
	}
	return hits, nil
}

// Delete removes chunks by ID. Unknown IDs are ignored.
func (b *BleveIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrIndexClosed
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete %d chunks: %w", len(ids), err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (b *BleveIndex) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrIndexClosed
	}
	return b.index.DocCount()
}

// Close closes the index. It is safe to call more than once.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// firstMatchOffset returns the smallest byte offset of any matched term in
// the content field, or -1 when bleve returned no locations.
func firstMatchOffset(locs search.FieldTermLocationMap) int {
	terms, ok := locs[fieldContent]
	if !ok {
		return -1
	}
	var starts []int
	for _, tl := range terms {
		for _, l := range tl {
			starts = append(starts, int(l.Start))
		}
	}
	if len(starts) == 0 {
		return -1
	}
	sort.Ints(starts)
	return starts[0]
}

// Snippet cuts roughly width runes out of text, positioned so the byte
// offset at sits about a third of the way in. A negative offset takes the
// head of the text. Cuts are widened to the nearest space and marked with
// an ellipsis.
func Snippet(text string, at, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= width {
		return text
	}
	runes := []rune(text)

	center := 0
	if at > 0 {
		// bleve offsets are bytes into the original text; whitespace
		// collapsing can only shift them left, so this is an upper bound.
		center = utf8.RuneCountInString(text[:min(at, len(text))])
	}

	start := max(center-width/3, 0)
	end := min(start+width, len(runes))
	start = max(end-width, 0)

	for start > 0 && runes[start-1] != ' ' && center-start < width/2 {
		start--
	}
	for end < len(runes) && runes[end] != ' ' && end-start < width+width/4 {
		end++
	}

	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

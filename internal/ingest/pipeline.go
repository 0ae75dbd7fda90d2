package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/hybridrag/internal/chunk"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/extract"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

const (
	// DefaultMaxBytes is the default upload limit.
	DefaultMaxBytes int64 = 50 << 20

	// DefaultBatchSize is the default number of chunks per embedding call.
	DefaultBatchSize = 32

	// batchConcurrency bounds documents processed at once by IngestBatch.
	batchConcurrency = 2
)

// ErrNilDependency is returned by NewPipeline for a missing collaborator.
var ErrNilDependency = errors.New("ingest: nil dependency")

// Config wires a Pipeline. Graph is optional; everything else is required.
type Config struct {
	Extractor extract.Extractor
	Splitter  Splitter
	Embedder  embed.Embedder
	Keyword   store.KeywordIndex
	Vector    store.VectorIndex
	Registry  *store.Registry
	Graph     graph.Adapter

	// VectorPath is where the vector index is saved after ingestion.
	// Empty keeps it in memory only.
	VectorPath string

	MaxBytes     int64
	BatchSize    int
	PruneOrphans bool
	LinkGraph    bool

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Pipeline ingests documents. It is safe for concurrent use; ingestions
// of the same document ID are serialised.
type Pipeline struct {
	cfg   Config
	locks sync.Map // document ID -> *sync.Mutex
}

// NewPipeline validates cfg and returns a Pipeline.
func NewPipeline(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", ErrNilDependency)
	case cfg.Splitter == nil:
		return nil, fmt.Errorf("%w: splitter", ErrNilDependency)
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	case cfg.Keyword == nil:
		return nil, fmt.Errorf("%w: keyword index", ErrNilDependency)
	case cfg.Vector == nil:
		return nil, fmt.Errorf("%w: vector index", ErrNilDependency)
	case cfg.Registry == nil:
		return nil, fmt.Errorf("%w: registry", ErrNilDependency)
	}
	if cfg.Embedder.Dimensions() != cfg.Vector.Dimensions() {
		return nil, apperrors.DimensionMismatch(cfg.Vector.Dimensions(), cfg.Embedder.Dimensions())
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{cfg: cfg}, nil
}

// DocumentID derives the identity of a document: its ID, else the base
// name of its file name, else a random UUID.
func DocumentID(doc Document) string {
	if id := strings.TrimSpace(doc.ID); id != "" {
		return id
	}
	if name := strings.TrimSpace(doc.Name); name != "" {
		return filepath.Base(name)
	}
	return uuid.NewString()
}

// Ingest processes one document and saves the vector index.
func (p *Pipeline) Ingest(ctx context.Context, doc Document) Report {
	r := p.ingest(ctx, doc)
	if r.Status != StatusFailed {
		p.persist()
	}
	return r
}

// IngestBatch processes documents with bounded concurrency. A failure is
// reported in that document's Report and never stops the batch. Reports
// are returned in input order.
func (p *Pipeline) IngestBatch(ctx context.Context, docs []Document) []Report {
	reports := make([]Report, len(docs))

	g := new(errgroup.Group)
	g.SetLimit(batchConcurrency)
	for i := range docs {
		g.Go(func() error {
			reports[i] = p.ingest(ctx, docs[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range reports {
		if r.Status != StatusFailed {
			p.persist()
			break
		}
	}
	return reports
}

func (p *Pipeline) lock(id string) func() {
	v, _ := p.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (p *Pipeline) ingest(ctx context.Context, doc Document) Report {
	start := time.Now()
	id := DocumentID(doc)
	name := doc.Name
	if name == "" {
		name = id
	}

	unlock := p.lock(id)
	defer unlock()

	r := Report{DocumentID: id, Name: name, Backends: make(map[string]BackendStatus)}
	fail := func(err error) Report {
		r.Status = StatusFailed
		r.Err = err
		r.Error = err.Error()
		r.ErrorCode = apperrors.GetCode(err)
		r.Elapsed = time.Since(start)
		slog.Warn("ingest_failed",
			slog.String("document", id),
			slog.String("code", r.ErrorCode),
			slog.String("error", r.Error))
		return r
	}

	size := int64(len(doc.Content))
	if size > p.cfg.MaxBytes {
		return fail(apperrors.PayloadTooLarge(size, p.cfg.MaxBytes).WithDetail("document", id))
	}

	mimeType := extract.DetectMIME(name, doc.MIMEType, doc.Content)
	text, err := p.cfg.Extractor.Extract(ctx, extract.Source{Name: name, MIMEType: mimeType, Content: doc.Content})
	if err != nil {
		return fail(err)
	}

	spans := p.cfg.Splitter.Split(text)
	if len(spans) == 0 {
		return fail(apperrors.ExtractionFailed("no extractable text in "+name, nil).WithDetail("document", id))
	}

	now := p.cfg.Now()
	chunks := chunk.FromSpans(id, spans, now)
	r.Chunks = len(chunks)

	prev, err := p.cfg.Registry.GetDocument(ctx, id)
	if err != nil {
		return fail(apperrors.InternalError("read registry", err))
	}

	records := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = store.ChunkRecord{ID: c.ID, DocumentID: id, Seq: c.Index, Start: c.Start, End: c.End, Text: c.Text}
	}
	if err := p.cfg.Registry.PutChunks(ctx, id, records); err != nil {
		return fail(apperrors.InternalError("store chunks", err))
	}

	// A first ingestion that fails from here on has no document row, so
	// nothing could find and delete its chunks later.
	failFresh := func(err error) Report {
		if prev == nil {
			p.discard(ctx, id, chunks)
		}
		return fail(err)
	}

	kwErr := p.indexKeyword(ctx, chunks)
	vecErr := p.indexVector(ctx, chunks)
	if apperrors.IsFatal(vecErr) {
		return failFresh(vecErr)
	}
	r.Backends[BackendKeyword] = backendStatus(kwErr)
	r.Backends[BackendVector] = backendStatus(vecErr)

	switch {
	case kwErr == nil && vecErr == nil:
		r.Status = StatusOK
	case kwErr != nil && vecErr != nil:
		return failFresh(apperrors.New(apperrors.ErrCodeIndexFailed,
			fmt.Sprintf("both indexes failed: keyword: %v; vector: %v", kwErr, vecErr), kwErr))
	default:
		r.Status = StatusPartial
		failed, ferr := BackendKeyword, kwErr
		if vecErr != nil {
			failed, ferr = BackendVector, vecErr
		}
		r.Error = failed + ": " + ferr.Error()
		slog.Warn("backend_failed",
			slog.String("backend", failed),
			slog.String("document", id),
			apperrors.LogAttr(ferr))
	}

	if prev != nil && p.cfg.PruneOrphans && prev.ChunkCount > len(chunks) {
		r.PrunedChunks = p.prune(ctx, id, len(chunks), prev.ChunkCount)
	}

	status := store.StatusIndexed
	if r.Status == StatusPartial {
		status = store.StatusPartial
	}
	uploaded := doc.UploadedAt
	if uploaded.IsZero() {
		uploaded = now
	}
	sum := sha256.Sum256(doc.Content)
	if err := p.cfg.Registry.UpsertDocument(ctx, store.Document{
		ID:         id,
		Name:       name,
		MIMEType:   mimeType,
		SizeBytes:  size,
		Checksum:   hex.EncodeToString(sum[:]),
		ChunkCount: len(chunks),
		Status:     status,
		Error:      r.Error,
		UploadedAt: uploaded,
		IndexedAt:  p.cfg.Now(),
	}); err != nil {
		return failFresh(apperrors.InternalError("write registry", err))
	}

	if p.cfg.LinkGraph && p.cfg.Graph != nil {
		err := p.cfg.Graph.LinkDocument(ctx, graph.DocumentLink{
			ID: id, Name: name, MIMEType: mimeType, Chunks: len(chunks), IndexedAt: now,
		})
		r.Backends[BackendGraph] = backendStatus(err)
		if err != nil {
			slog.Warn("graph_link_failed", slog.String("document", id), slog.String("error", err.Error()))
		}
	}

	r.Elapsed = time.Since(start)
	slog.Info("ingest_complete",
		slog.String("document", id),
		slog.String("status", string(r.Status)),
		slog.Int("chunks", r.Chunks),
		slog.Int("pruned", r.PrunedChunks),
		slog.Duration("elapsed", r.Elapsed))
	return r
}

func (p *Pipeline) indexKeyword(ctx context.Context, chunks []*chunk.Chunk) error {
	docs := make([]store.KeywordDoc, len(chunks))
	for i, c := range chunks {
		docs[i] = store.KeywordDoc{ID: c.ID, DocumentID: c.DocumentID, Text: c.Text}
	}
	return p.cfg.Keyword.IndexChunks(ctx, docs)
}

// indexVector embeds chunks in batches and indexes each batch as it
// completes. The first failure stops the document.
func (p *Pipeline) indexVector(ctx context.Context, chunks []*chunk.Chunk) error {
	dims := p.cfg.Vector.Dimensions()
	for lo := 0; lo < len(chunks); lo += p.cfg.BatchSize {
		batch := chunks[lo:min(lo+p.cfg.BatchSize, len(chunks))]

		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
			ids[i] = c.ID
		}

		vectors, err := p.cfg.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return apperrors.New(apperrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(batch)), nil)
		}
		for i, v := range vectors {
			if len(v) != dims {
				return apperrors.DimensionMismatch(dims, len(v))
			}
			batch[i].Embedding = v
		}

		if err := p.cfg.Vector.IndexEmbeddings(ctx, ids, vectors); err != nil {
			return err
		}
	}
	return nil
}

// discard removes the chunks of a failed first ingestion from every
// store. Errors are logged; the ingestion error is what gets reported.
func (p *Pipeline) discard(ctx context.Context, docID string, chunks []*chunk.Chunk) {
	ctx = context.WithoutCancel(ctx)
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := p.cfg.Keyword.Delete(ctx, ids); err != nil {
		slog.Warn("discard_failed", slog.String("backend", BackendKeyword), slog.String("error", err.Error()))
	}
	if err := p.cfg.Vector.Delete(ctx, ids); err != nil {
		slog.Warn("discard_failed", slog.String("backend", BackendVector), slog.String("error", err.Error()))
	}
	if err := p.cfg.Registry.DeleteChunks(ctx, docID); err != nil {
		slog.Warn("discard_failed", slog.String("backend", "registry"), slog.String("error", err.Error()))
	}
}

// prune removes chunks with sequence numbers in [from, to) from both
// indexes and returns how many IDs were removed.
func (p *Pipeline) prune(ctx context.Context, docID string, from, to int) int {
	ids := make([]string, 0, to-from)
	for seq := from; seq < to; seq++ {
		ids = append(ids, chunk.ID(docID, seq))
	}
	if err := p.cfg.Keyword.Delete(ctx, ids); err != nil {
		slog.Warn("prune_failed", slog.String("backend", BackendKeyword), slog.String("error", err.Error()))
	}
	if err := p.cfg.Vector.Delete(ctx, ids); err != nil {
		slog.Warn("prune_failed", slog.String("backend", BackendVector), slog.String("error", err.Error()))
	}
	return len(ids)
}

// Delete removes a document from both indexes, the registry and, when
// graph linking is on, the graph.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	unlock := p.lock(docID)
	defer unlock()

	doc, err := p.cfg.Registry.GetDocument(ctx, docID)
	if err != nil {
		return apperrors.InternalError("read registry", err)
	}
	ids, err := p.cfg.Registry.ChunkIDs(ctx, docID)
	if err != nil {
		return apperrors.InternalError("list chunks", err)
	}
	if doc == nil && len(ids) == 0 {
		return apperrors.New(apperrors.ErrCodeDocumentNotFound, "document not found: "+docID, nil).
			WithDetail("document_id", docID)
	}
	// Chunks without a document row are leftovers of an interrupted
	// ingestion; delete them all the same.
	registered := doc != nil
	if !registered {
		doc = &store.Document{ID: docID}
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for seq := 0; seq < doc.ChunkCount; seq++ {
		if id := chunk.ID(docID, seq); !inSet(seen, id) {
			ids = append(ids, id)
		}
	}

	if err := p.cfg.Keyword.Delete(ctx, ids); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "delete from keyword index", err)
	}
	if err := p.cfg.Vector.Delete(ctx, ids); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "delete from vector index", err)
	}
	if err := p.cfg.Registry.DeleteChunks(ctx, docID); err != nil {
		return apperrors.InternalError("delete chunks", err)
	}
	if registered {
		if err := p.cfg.Registry.DeleteDocument(ctx, docID); err != nil {
			return err
		}
	}

	if p.cfg.LinkGraph && p.cfg.Graph != nil {
		if err := p.cfg.Graph.UnlinkDocument(ctx, docID); err != nil {
			slog.Warn("graph_unlink_failed", slog.String("document", docID), slog.String("error", err.Error()))
		}
	}

	p.persist()
	slog.Info("document_deleted", slog.String("document", docID), slog.Int("chunks", len(ids)))
	return nil
}

func inSet(set map[string]struct{}, k string) bool {
	_, ok := set[k]
	return ok
}

func (p *Pipeline) persist() {
	if p.cfg.VectorPath == "" {
		return
	}
	if err := p.cfg.Vector.Save(p.cfg.VectorPath); err != nil {
		slog.Error("vector_index_save_failed",
			slog.String("path", p.cfg.VectorPath),
			slog.String("error", err.Error()))
	}
}

func backendStatus(err error) BackendStatus {
	if err == nil {
		return BackendStatus{OK: true}
	}
	return BackendStatus{Error: err.Error()}
}

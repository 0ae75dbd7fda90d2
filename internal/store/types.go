// Package store holds the embedded retrieval backends: a bleve keyword
// index, an HNSW vector index, and the SQLite document registry that ties
// chunk identities back to their documents and text.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrIndexClosed is returned by operations on a closed index.
var ErrIndexClosed = errors.New("index is closed")

// KeywordDoc is one chunk as the keyword index sees it.
type KeywordDoc struct {
	ID         string
	DocumentID string
	Text       string
}

// KeywordHit is a keyword search result. Score is the backend-native BM25
// score and is unbounded.
type KeywordHit struct {
	ChunkID string
	Score   float64
	Snippet string
}

// VectorHit is a similarity search result. Score is cosine similarity in [-1, 1].
type VectorHit struct {
	ChunkID string
	Score   float64
}

// KeywordIndex is a full-text index over chunk text.
// Indexing a chunk ID that already exists replaces it.
type KeywordIndex interface {
	IndexChunks(ctx context.Context, docs []KeywordDoc) error
	Search(ctx context.Context, text string, limit int) ([]KeywordHit, error)
	Delete(ctx context.Context, ids []string) error
	Count() (uint64, error)
	Close() error
}

// VectorIndex is a nearest-neighbour index over chunk embeddings.
// Every vector must have exactly Dimensions() components.
// Indexing a chunk ID that already exists replaces it.
type VectorIndex interface {
	IndexEmbeddings(ctx context.Context, ids []string, vectors [][]float32) error
	QuerySimilar(ctx context.Context, vector []float32, limit int) ([]VectorHit, error)
	Delete(ctx context.Context, ids []string) error
	Dimensions() int
	Count() int
	Save(path string) error
	Close() error
}

// DocumentStatus is the ingestion outcome recorded in the registry.
type DocumentStatus string

const (
	StatusIndexed DocumentStatus = "indexed"
	StatusPartial DocumentStatus = "partial"
)

// Document is a registry row.
type Document struct {
	ID         string
	Name       string
	MIMEType   string
	SizeBytes  int64
	Checksum   string
	ChunkCount int
	Status     DocumentStatus
	Error      string
	UploadedAt time.Time
	IndexedAt  time.Time
}

// ChunkRecord is the registry's copy of a chunk, used to render results.
type ChunkRecord struct {
	ID         string
	DocumentID string
	Seq        int
	Start      int
	End        int
	Text       string
}

// Meta keys stored in the registry.
const (
	MetaEmbeddingModel      = "embedding_model"
	MetaEmbeddingDimensions = "embedding_dimensions"
)

package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// HNSWConfig configures the vector index.
type HNSWConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// DefaultHNSWConfig returns the graph parameters used for chunk embeddings.
func DefaultHNSWConfig(dimensions int) HNSWConfig {
	return HNSWConfig{Dimensions: dimensions, M: 16, EfSearch: 64}
}

// HNSWIndex implements VectorIndex with coder/hnsw.
//
// Replaced and deleted chunks are removed from the ID mappings only; their
// graph nodes stay until the next compaction. Deleting graph nodes in
// coder/hnsw can disconnect the graph when the entry node goes.
type HNSWIndex struct {
	mu      sync.RWMutex
	saveMu  sync.Mutex // one Save at a time; they share the temp file names
	graph   *hnsw.Graph[uint64]
	config  HNSWConfig
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	closed  bool
}

var _ VectorIndex = (*HNSWIndex)(nil)

type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  HNSWConfig
}

// NewHNSWIndex creates an empty in-memory index.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}

	return &HNSWIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

func newGraph(cfg HNSWConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// OpenHNSWIndex loads the index saved at path, or creates an empty one when
// nothing has been saved yet. A saved index built for a different dimension
// is a dimension mismatch.
func OpenHNSWIndex(path string, cfg HNSWConfig) (*HNSWIndex, error) {
	idx, err := NewHNSWIndex(cfg)
	if err != nil {
		return nil, err
	}

	stored, err := ReadHNSWDimensions(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "vector index metadata is unreadable", err).
			WithDetail("path", path).
			WithSuggestion("Remove " + path + "* and re-ingest your documents")
	}
	if stored == 0 {
		return idx, nil
	}
	if stored != cfg.Dimensions {
		return nil, apperrors.DimensionMismatch(stored, cfg.Dimensions)
	}

	if err := idx.Load(path); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "vector index is corrupted", err).
			WithDetail("path", path)
	}
	slog.Debug("vector_index_loaded",
		slog.String("path", path),
		slog.Int("vectors", idx.Count()))
	return idx, nil
}

// IndexEmbeddings adds or replaces vectors by chunk ID.
func (s *HNSWIndex) IndexEmbeddings(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrIndexClosed
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return apperrors.DimensionMismatch(s.config.Dimensions, len(v))
		}
	}

	for i, id := range ids {
		if old, ok := s.idMap[id]; ok {
			delete(s.keyMap, old)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	return nil
}

// QuerySimilar returns up to limit chunks by descending cosine similarity.
func (s *HNSWIndex) QuerySimilar(ctx context.Context, vector []float32, limit int) ([]VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrIndexClosed
	}
	if len(vector) != s.config.Dimensions {
		return nil, apperrors.DimensionMismatch(s.config.Dimensions, len(vector))
	}
	if s.graph.Len() == 0 || len(s.idMap) == 0 {
		return []VectorHit{}, nil
	}

	q := make([]float32, len(vector))
	copy(q, vector)
	if !normalizeVectorInPlace(q) {
		return []VectorHit{}, nil
	}

	// Orphaned nodes can occupy result slots; ask for enough to cover them.
	k := min(limit+s.graph.Len()-len(s.idMap), s.graph.Len())
	nodes := s.graph.Search(q, k)

	hits := make([]VectorHit, 0, min(limit, len(nodes)))
	for _, n := range nodes {
		id, ok := s.keyMap[n.Key]
		if !ok {
			continue
		}
		sim := 1 - float64(s.graph.Distance(q, n.Value))
		if math.IsNaN(sim) {
			continue
		}
		hits = append(hits, VectorHit{ChunkID: id, Score: clampCosine(sim)})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// Delete removes chunks by ID. Unknown IDs are ignored.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrIndexClosed
	}

	for _, id := range ids {
		if key, ok := s.idMap[id]; ok {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Dimensions returns the fixed vector size.
func (s *HNSWIndex) Dimensions() int {
	return s.config.Dimensions
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Orphans returns the number of graph nodes no longer mapped to a chunk.
func (s *HNSWIndex) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph == nil {
		return 0
	}
	return s.graph.Len() - len(s.idMap)
}

// Contains reports whether a chunk ID has a live vector.
func (s *HNSWIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Compact rebuilds the graph from live vectors when orphans make up more
// than half of it.
func (s *HNSWIndex) Compact() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	total := s.graph.Len()
	if total == 0 || total-len(s.idMap) <= total/2 {
		return
	}

	g := newGraph(s.config)
	for _, key := range s.idMap {
		if vec, ok := s.graph.Lookup(key); ok {
			g.Add(hnsw.MakeNode(key, vec))
		}
	}
	slog.Info("vector_index_compacted",
		slog.Int("before", total),
		slog.Int("after", g.Len()))
	s.graph = g
}

// Save writes the graph to path and the ID mappings to path.meta, each via
// a temp file and rename.
func (s *HNSWIndex) Save(path string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.Compact()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrIndexClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (s *HNSWIndex) saveMetadata(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the index contents with the graph saved at path.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrIndexClosed
	}

	meta, err := readHNSWMetadata(path + ".meta")
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	g := newGraph(meta.Config)
	// Import needs an io.ByteReader.
	if err := g.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.graph = g
	s.config = meta.Config
	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the graph. It is safe to call more than once.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// ReadHNSWDimensions returns the dimension recorded next to a saved index,
// or 0 when none has been saved.
func ReadHNSWDimensions(path string) (int, error) {
	meta, err := readHNSWMetadata(path + ".meta")
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

func readHNSWMetadata(path string) (*hnswMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	if meta.IDMap == nil {
		meta.IDMap = make(map[string]uint64)
	}
	return &meta, nil
}

// normalizeVectorInPlace scales v to unit length and reports false for a
// zero vector, which has no direction.
func normalizeVectorInPlace(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return true
}

func clampCosine(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

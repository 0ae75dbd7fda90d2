// Package telemetry aggregates search diagnostics: per-backend outcomes and
// latency, query scopes, frequent terms, and queries that found nothing.
// All data stays local.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Outcomes
// =============================================================================

// Outcome is how one backend fared on one query.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomeSkipped     Outcome = "skipped"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketLT50   LatencyBucket = "lt50ms"
	BucketLT250  LatencyBucket = "lt250ms"
	BucketLT1000 LatencyBucket = "lt1s"
	BucketLT3000 LatencyBucket = "lt3s"
	BucketGTE3s  LatencyBucket = "gte3s"
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 50:
		return BucketLT50
	case ms < 250:
		return BucketLT250
	case ms < 1000:
		return BucketLT1000
	case ms < 3000:
		return BucketLT3000
	default:
		return BucketGTE3s
	}
}

// =============================================================================
// Events
// =============================================================================

// BackendEvent is one backend's part in a query.
type BackendEvent struct {
	Name    string
	Outcome Outcome
	Hits    int
	Latency time.Duration
	Error   string
}

// QueryEvent is one completed search.
type QueryEvent struct {
	Query          string
	Scope          string
	ResultCount    int
	GraphCount     int
	Latency        time.Duration
	AllUnavailable bool
	Backends       []BackendEvent
	Timestamp      time.Time
}

// IsZeroResult reports whether neither documents nor graph nodes came back.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0 && e.GraphCount == 0
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear empties the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Terms
// =============================================================================

// ExtractTerms lowercases the query and keeps words of at least 3 runes.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, `.,;:!?"'()[]{}`)
		if utf8.RuneCountInString(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// BackendStats aggregates one backend's outcomes.
type BackendStats struct {
	Requests    int64                   `json:"requests"`
	OK          int64                   `json:"ok"`
	Timeouts    int64                   `json:"timeouts"`
	Unavailable int64                   `json:"unavailable"`
	Skipped     int64                   `json:"skipped"`
	Latency     map[LatencyBucket]int64 `json:"latency"`
	LastOutcome Outcome                 `json:"last_outcome,omitempty"`
	LastError   string                  `json:"last_error,omitempty"`
	LastErrorAt time.Time               `json:"last_error_at,omitempty"`
}

// FailureRate is the share of non-skipped requests that timed out or failed.
func (s BackendStats) FailureRate() float64 {
	asked := s.Requests - s.Skipped
	if asked <= 0 {
		return 0
	}
	return float64(s.Timeouts+s.Unavailable) / float64(asked)
}

// QueryMetricsSnapshot is a point-in-time copy of the aggregates.
type QueryMetricsSnapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	AllUnavailableCount int64                   `json:"all_unavailable_count"`
	ScopeCounts         map[string]int64        `json:"scope_counts"`
	Backends            map[string]BackendStats `json:"backends"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Since               time.Time               `json:"since"`

	ExactRepeatCount  int64   `json:"exact_repeat_count"`
	ExactRepeatRate   float64 `json:"exact_repeat_rate"`
	SimilarQueryCount int64   `json:"similar_query_count"`
	SimilarQueryRate  float64 `json:"similar_query_rate"`
	UniqueQueryCount  int64   `json:"unique_query_count"`
}

// ZeroResultPercentage returns the percentage of queries that found nothing.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// =============================================================================
// Store
// =============================================================================

// QueryMetricsStore persists aggregates. Counts passed in are increments.
type QueryMetricsStore interface {
	SaveScopeCounts(date string, counts map[string]int64) error
	GetScopeCounts(from, to string) (map[string]int64, error)

	SaveBackendCounts(date string, counts map[string]map[Outcome]int64) error
	GetBackendCounts(from, to string) (map[string]map[Outcome]int64, error)

	UpsertTermCounts(terms map[string]int64) error
	GetTopTerms(limit int) ([]TermCount, error)

	AddZeroResultQuery(query string, timestamp time.Time) error
	GetZeroResultQueries(limit int) ([]string, error)

	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// QueryMetricsConfig sizes the collector.
type QueryMetricsConfig struct {
	TopTermsCapacity    int
	ZeroResultsCapacity int
	FlushInterval       time.Duration // 0 disables periodic flushing

	RecentQueriesCapacity    int
	RecentEmbeddingsCapacity int
	SimilarityThreshold      float64
}

// DefaultQueryMetricsConfig returns the stock sizes.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:         100,
		ZeroResultsCapacity:      100,
		FlushInterval:            60 * time.Second,
		RecentQueriesCapacity:    500,
		RecentEmbeddingsCapacity: 10,
		SimilarityThreshold:      0.95,
	}
}

// =============================================================================
// Query Metrics
// =============================================================================

// pending holds increments not yet written to the store.
type pending struct {
	scopes    map[string]int64
	backends  map[string]map[Outcome]int64
	latencies map[LatencyBucket]int64
	terms     map[string]int64
	zero      []zeroResult
}

type zeroResult struct {
	query string
	at    time.Time
}

func newPending() *pending {
	return &pending{
		scopes:    make(map[string]int64),
		backends:  make(map[string]map[Outcome]int64),
		latencies: make(map[LatencyBucket]int64),
		terms:     make(map[string]int64),
	}
}

// QueryMetrics collects search telemetry. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.RWMutex

	scopes              map[string]int64
	backends            map[string]*BackendStats
	topTerms            *lru.Cache[string, int64]
	zeroResults         *CircularBuffer[string]
	latencies           map[LatencyBucket]int64
	totalQueries        int64
	zeroResultCount     int64
	allUnavailableCount int64
	startTime           time.Time

	recentQueries     *lru.Cache[string, struct{}]
	exactRepeatCount  int64
	recentEmbeddings  *CircularBuffer[[]float32]
	similarQueryCount int64

	unflushed *pending

	store       QueryMetricsStore
	config      QueryMetricsConfig
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a collector with default sizes.
// A nil store keeps everything in memory.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with custom sizes.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}
	if cfg.RecentEmbeddingsCapacity <= 0 {
		cfg.RecentEmbeddingsCapacity = def.RecentEmbeddingsCapacity
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		scopes:           make(map[string]int64),
		backends:         make(map[string]*BackendStats),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		latencies:        make(map[LatencyBucket]int64),
		startTime:        time.Now(),
		recentQueries:    recentQueries,
		recentEmbeddings: NewCircularBuffer[[]float32](cfg.RecentEmbeddingsCapacity),
		unflushed:        newPending(),
		store:            store,
		config:           cfg,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record folds one search into the aggregates.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.totalQueries++
	m.scopes[event.Scope]++
	m.unflushed.scopes[event.Scope]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.unflushed.terms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		m.unflushed.zero = append(m.unflushed.zero, zeroResult{query: event.Query, at: event.Timestamp})
	}
	if event.AllUnavailable {
		m.allUnavailableCount++
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.unflushed.latencies[bucket]++

	for _, b := range event.Backends {
		m.recordBackend(b, event.Timestamp)
	}

	queryHash := hashQuery(event.Query)
	if _, exists := m.recentQueries.Get(queryHash); exists {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(queryHash, struct{}{})
}

func (m *QueryMetrics) recordBackend(b BackendEvent, at time.Time) {
	st, ok := m.backends[b.Name]
	if !ok {
		st = &BackendStats{Latency: make(map[LatencyBucket]int64)}
		m.backends[b.Name] = st
	}
	st.Requests++
	st.LastOutcome = b.Outcome
	switch b.Outcome {
	case OutcomeOK:
		st.OK++
	case OutcomeTimeout:
		st.Timeouts++
	case OutcomeUnavailable:
		st.Unavailable++
	case OutcomeSkipped:
		st.Skipped++
	}
	if b.Outcome != OutcomeSkipped {
		st.Latency[LatencyToBucket(b.Latency)]++
	}
	if b.Error != "" {
		st.LastError = b.Error
		st.LastErrorAt = at
	}

	counts, ok := m.unflushed.backends[b.Name]
	if !ok {
		counts = make(map[Outcome]int64)
		m.unflushed.backends[b.Name] = counts
	}
	counts[b.Outcome]++
}

// hashQuery normalizes case and surrounding space before hashing.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// RecordQueryEmbedding samples the query vector to count near-duplicate
// queries. It is optional; without it only exact repeats are tracked.
func (m *QueryMetrics) RecordQueryEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	for _, prev := range m.recentEmbeddings.Items() {
		if cosineSimilarity(embedding, prev) > m.config.SimilarityThreshold {
			m.similarQueryCount++
			break
		}
	}

	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	m.recentEmbeddings.Add(cp)
}

// cosineSimilarity returns 0 for empty or mismatched vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Backend returns a copy of one backend's stats.
func (m *QueryMetrics) Backend(name string) (BackendStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.backends[name]
	if !ok {
		return BackendStats{}, false
	}
	return copyBackend(st), true
}

func copyBackend(st *BackendStats) BackendStats {
	cp := *st
	cp.Latency = make(map[LatencyBucket]int64, len(st.Latency))
	for k, v := range st.Latency {
		cp.Latency[k] = v
	}
	return cp
}

// Snapshot returns a copy of the current aggregates.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scopes := make(map[string]int64, len(m.scopes))
	for k, v := range m.scopes {
		scopes[k] = v
	}

	backends := make(map[string]BackendStats, len(m.backends))
	for k, v := range m.backends {
		backends[k] = copyBackend(v)
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.SliceStable(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	var exactRate, similarRate float64
	if m.totalQueries > 0 {
		exactRate = float64(m.exactRepeatCount) / float64(m.totalQueries)
		similarRate = float64(m.similarQueryCount) / float64(m.totalQueries)
	}

	return &QueryMetricsSnapshot{
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		AllUnavailableCount: m.allUnavailableCount,
		ScopeCounts:         scopes,
		Backends:            backends,
		TopTerms:            topTerms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		Since:               m.startTime,
		ExactRepeatCount:    m.exactRepeatCount,
		ExactRepeatRate:     exactRate,
		SimilarQueryCount:   m.similarQueryCount,
		SimilarQueryRate:    similarRate,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
	}
}

// Flush writes increments recorded since the last flush to the store.
// It is a no-op without a store. On a write error the increments are lost
// rather than double counted on the next flush.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	p := m.unflushed
	m.unflushed = newPending()
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")

	if len(p.scopes) > 0 {
		if err := m.store.SaveScopeCounts(today, p.scopes); err != nil {
			return err
		}
	}
	if len(p.backends) > 0 {
		if err := m.store.SaveBackendCounts(today, p.backends); err != nil {
			return err
		}
	}
	if err := m.store.UpsertTermCounts(p.terms); err != nil {
		return err
	}
	for _, z := range p.zero {
		if err := m.store.AddZeroResultQuery(z.query, z.at); err != nil {
			return err
		}
	}
	if len(p.latencies) > 0 {
		if err := m.store.SaveLatencyCounts(today, p.latencies); err != nil {
			return err
		}
	}
	return nil
}

// Close stops periodic flushing and flushes once more.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}

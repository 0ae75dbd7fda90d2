package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CircularBuffer Tests
// =============================================================================

func TestCircularBuffer(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		add      []string
		want     []string
	}{
		{"empty", 4, nil, []string{}},
		{"under capacity keeps insertion order", 4, []string{"acme", "port"}, []string{"acme", "port"}},
		{"overflow evicts oldest", 3, []string{"a", "b", "c", "d", "e"}, []string{"c", "d", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewCircularBuffer[string](tt.capacity)
			for _, q := range tt.add {
				buf.Add(q)
			}

			assert.Equal(t, tt.want, buf.Items())
			assert.Equal(t, len(tt.want), buf.Size())

			buf.Clear()
			assert.Zero(t, buf.Size())
			assert.NotNil(t, buf.Items())
		})
	}
}

// =============================================================================
// LatencyBucket Tests
// =============================================================================

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency  time.Duration
		expected LatencyBucket
	}{
		{5 * time.Millisecond, BucketLT50},
		{49 * time.Millisecond, BucketLT50},
		{50 * time.Millisecond, BucketLT250},
		{249 * time.Millisecond, BucketLT250},
		{250 * time.Millisecond, BucketLT1000},
		{999 * time.Millisecond, BucketLT1000},
		{time.Second, BucketLT3000},
		{2999 * time.Millisecond, BucketLT3000},
		{3 * time.Second, BucketGTE3s},
		{time.Minute, BucketGTE3s},
	}

	for _, tt := range tests {
		t.Run(tt.latency.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, LatencyToBucket(tt.latency))
		})
	}
}

// =============================================================================
// QueryMetrics Tests
// =============================================================================

func event(query string, results int, backends ...BackendEvent) QueryEvent {
	return QueryEvent{
		Query:       query,
		Scope:       "all",
		ResultCount: results,
		Latency:     20 * time.Millisecond,
		Backends:    backends,
	}
}

func TestQueryMetrics_Record_CountsScopes(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(event("supplier delays", 5))
	m.Record(QueryEvent{Query: "acme", Scope: "graph-only", GraphCount: 1})
	m.Record(event("late shipments", 2))

	snapshot := m.Snapshot()
	assert.Equal(t, int64(3), snapshot.TotalQueries)
	assert.Equal(t, int64(2), snapshot.ScopeCounts["all"])
	assert.Equal(t, int64(1), snapshot.ScopeCounts["graph-only"])
}

func TestQueryMetrics_Record_AggregatesBackends(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	// Given: the vector backend times out once and answers once
	m.Record(event("q1", 1,
		BackendEvent{Name: "keyword", Outcome: OutcomeOK, Hits: 4, Latency: 10 * time.Millisecond},
		BackendEvent{Name: "vector", Outcome: OutcomeTimeout, Latency: 3 * time.Second, Error: "deadline exceeded"},
		BackendEvent{Name: "graph", Outcome: OutcomeSkipped},
	))
	m.Record(event("q2", 1,
		BackendEvent{Name: "vector", Outcome: OutcomeOK, Hits: 2, Latency: 30 * time.Millisecond},
	))

	// When: reading the vector stats
	st, ok := m.Backend("vector")
	require.True(t, ok)

	// Then: outcomes, latency and the last error are kept
	assert.Equal(t, int64(2), st.Requests)
	assert.Equal(t, int64(1), st.OK)
	assert.Equal(t, int64(1), st.Timeouts)
	assert.Equal(t, OutcomeOK, st.LastOutcome)
	assert.Equal(t, "deadline exceeded", st.LastError)
	assert.Equal(t, int64(1), st.Latency[BucketGTE3s])
	assert.InDelta(t, 0.5, st.FailureRate(), 0.001)

	graphStats, ok := m.Backend("graph")
	require.True(t, ok)
	assert.Equal(t, int64(1), graphStats.Skipped)
	assert.Empty(t, graphStats.Latency)
	assert.Equal(t, 0.0, graphStats.FailureRate())
}

func TestQueryMetrics_Record_CountsAllUnavailable(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(QueryEvent{Query: "anything", Scope: "all", AllUnavailable: true})
	m.Record(event("something", 1))

	snapshot := m.Snapshot()
	assert.Equal(t, int64(1), snapshot.AllUnavailableCount)
	assert.Equal(t, int64(1), snapshot.ZeroResultCount)
}

func TestQueryMetrics_Record_TracksTopTerms(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(event("supplier delays", 5))
	m.Record(event("supplier contracts", 3))
	m.Record(event("Supplier, risk?", 2))
	m.Record(event("contracts risk", 1))

	snapshot := m.Snapshot()
	require.NotEmpty(t, snapshot.TopTerms)
	assert.Equal(t, TermCount{Term: "supplier", Count: 3}, snapshot.TopTerms[0])
}

func TestQueryMetrics_Record_CapturesZeroResults(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(event("warehouse fires", 0))
	m.Record(event("supplier delays", 5))
	m.Record(QueryEvent{Query: "acme", Scope: "graph-only", GraphCount: 2})
	m.Record(event("port strikes", 0))

	snapshot := m.Snapshot()
	assert.Equal(t, []string{"warehouse fires", "port strikes"}, snapshot.ZeroResultQueries)
	assert.InDelta(t, 50.0, snapshot.ZeroResultPercentage(), 0.01)
}

func TestQueryMetrics_Concurrent_ThreadSafe(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	var wg sync.WaitGroup
	numGoroutines := 50
	eventsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				m.Record(event("test query", 5, BackendEvent{Name: "keyword", Outcome: OutcomeOK}))
			}
		}()
	}
	wg.Wait()

	snapshot := m.Snapshot()
	expected := int64(numGoroutines * eventsPerGoroutine)
	assert.Equal(t, expected, snapshot.TotalQueries)
	assert.Equal(t, expected, snapshot.Backends["keyword"].OK)
}

func TestQueryMetrics_ZeroResultBuffer_MaintainsCapacity(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{ZeroResultsCapacity: 5})
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.Record(event("miss"+string(rune('A'+i)), 0))
	}

	snapshot := m.Snapshot()
	assert.Len(t, snapshot.ZeroResultQueries, 5)
	assert.Contains(t, snapshot.ZeroResultQueries, "missJ")
	assert.NotContains(t, snapshot.ZeroResultQueries, "missA")
}

func TestQueryMetrics_TopTerms_LRUEviction(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{TopTermsCapacity: 5})
	defer m.Close()

	m.Record(event("alpha beta", 1))
	m.Record(event("gamma delta", 1))
	m.Record(event("epsilon zeta", 1))
	m.Record(event("eta theta", 1))
	m.Record(event("iota kappa", 1))

	assert.LessOrEqual(t, len(m.Snapshot().TopTerms), 5)
}

func TestQueryMetrics_AfterClose_RecordIsNoop(t *testing.T) {
	m := NewQueryMetrics(nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	m.Record(event("after close", 1))
	assert.Equal(t, int64(0), m.Snapshot().TotalQueries)
}

// =============================================================================
// Term Extraction Tests
// =============================================================================

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		query    string
		expected []string
	}{
		{"supplier delays", []string{"supplier", "delays"}},
		{"Acme Logistics", []string{"acme", "logistics"}},
		{"  spaces  around  ", []string{"spaces", "around"}},
		{"who is (acme)?", []string{"who", "acme"}},
		{"", nil},
		{"ab", nil},
		{"été", []string{"été"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractTerms(tt.query))
		})
	}
}

func TestQueryEvent_IsZeroResult(t *testing.T) {
	assert.True(t, QueryEvent{Query: "missing"}.IsZeroResult())
	assert.False(t, QueryEvent{Query: "docs", ResultCount: 5}.IsZeroResult())
	assert.False(t, QueryEvent{Query: "nodes", GraphCount: 1}.IsZeroResult())
}

// =============================================================================
// Repetition Tracking Tests
// =============================================================================

func TestQueryMetrics_ExactRepetition(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.Record(event("supplier delays", 5))
	m.Record(event("another query", 3))
	m.Record(event("  Supplier Delays ", 5))
	m.Record(event("SUPPLIER DELAYS", 5))

	snapshot := m.Snapshot()
	assert.Equal(t, int64(4), snapshot.TotalQueries)
	assert.Equal(t, int64(2), snapshot.ExactRepeatCount)
	assert.InDelta(t, 0.5, snapshot.ExactRepeatRate, 0.01)
	assert.Equal(t, int64(2), snapshot.UniqueQueryCount)
}

func TestQueryMetrics_SemanticSimilarity_DetectsSimilar(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{
		TopTermsCapacity:         100,
		ZeroResultsCapacity:      100,
		RecentQueriesCapacity:    500,
		RecentEmbeddingsCapacity: 10,
		SimilarityThreshold:      0.95,
	})
	defer m.Close()

	// Create similar embeddings (cosine > 0.95)
	embed1 := []float32{1.0, 0.0, 0.0, 0.0}
	embed2 := []float32{0.99, 0.1, 0.0, 0.0} // Very similar to embed1
	embed3 := []float32{0.0, 1.0, 0.0, 0.0}  // Different direction

	m.RecordQueryEmbedding(embed1)
	m.RecordQueryEmbedding(embed2) // Should detect similarity to embed1
	m.RecordQueryEmbedding(embed3) // Should NOT be similar

	snapshot := m.Snapshot()
	assert.Equal(t, int64(1), snapshot.SimilarQueryCount) // Only embed2 was similar
}

func TestQueryMetrics_SemanticSimilarity_EmptyEmbeddingIgnored(t *testing.T) {
	m := NewQueryMetrics(nil)
	defer m.Close()

	m.RecordQueryEmbedding(nil)
	m.RecordQueryEmbedding([]float32{})

	snapshot := m.Snapshot()
	assert.Equal(t, int64(0), snapshot.SimilarQueryCount)
}

func TestQueryMetrics_SemanticSimilarity_CircularBuffer(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, QueryMetricsConfig{
		TopTermsCapacity:         100,
		ZeroResultsCapacity:      100,
		RecentQueriesCapacity:    500,
		RecentEmbeddingsCapacity: 3, // Small buffer for testing
		SimilarityThreshold:      0.95,
	})
	defer m.Close()

	// Fill buffer beyond capacity
	m.RecordQueryEmbedding([]float32{1.0, 0.0})
	m.RecordQueryEmbedding([]float32{0.0, 1.0})
	m.RecordQueryEmbedding([]float32{0.0, 0.0, 1.0})
	m.RecordQueryEmbedding([]float32{0.0, 0.0, 0.0, 1.0}) // Should evict first

	// Now add similar to first (which was evicted)
	m.RecordQueryEmbedding([]float32{0.99, 0.01}) // Similar to evicted [1.0, 0.0]

	snapshot := m.Snapshot()
	// Should NOT detect similarity since first embedding was evicted
	assert.Equal(t, int64(0), snapshot.SimilarQueryCount)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		min  float64
		max  float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 0.9999, 1.0001},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, -0.0001, 0.0001},
		{"near duplicate", []float32{1, 0, 0}, []float32{0.99, 0.1, 0}, 0.95, 1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0, 0},
		{"empty", nil, nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

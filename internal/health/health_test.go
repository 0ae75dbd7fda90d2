package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/preflight"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

func probe(name string, required bool, calls *atomic.Int64, err error) preflight.Probe {
	return preflight.Probe{
		Name:     name,
		Required: required,
		Details:  "http://" + name,
		Check: func(context.Context) (string, error) {
			calls.Add(1)
			if err != nil {
				return "", err
			}
			return name + " ok", nil
		},
	}
}

func findBackend(t *testing.T, rep Report, name string) Backend {
	t.Helper()
	for _, b := range rep.Backends {
		if b.Name == name {
			return b
		}
	}
	t.Fatalf("backend %q not in report", name)
	return Backend{}
}

// =============================================================================
// Status
// =============================================================================

func TestReporter_Status(t *testing.T) {
	// Given: a reporter with a healthy embedder, a down graph and live counts
	var calls atomic.Int64
	r := NewReporter(Config{
		DataDir: t.TempDir(),
		Probes: func() []preflight.Probe {
			return []preflight.Probe{
				probe("embeddings", true, &calls, nil),
				probe("graph", false, &calls, errors.New("connection refused")),
			}
		},
		Counts: func(context.Context) (int, int, error) { return 3, 42, nil },
		Breakers: map[string]func() string{
			"graph": func() string { return "open" },
		},
	})

	// When: asking for status
	rep := r.Status(context.Background())

	// Then: probes, breaker state and counts are all reported
	assert.Equal(t, version.Version, rep.Version)
	assert.Equal(t, 3, rep.Documents)
	assert.Equal(t, 42, rep.Chunks)
	assert.Equal(t, "degraded", rep.Status)

	emb := findBackend(t, rep, "embeddings")
	assert.Equal(t, preflight.StatusPass, emb.Status)
	assert.True(t, emb.Required)
	assert.Empty(t, emb.Breaker)

	g := findBackend(t, rep, "graph")
	assert.Equal(t, preflight.StatusFail, g.Status)
	assert.Equal(t, "connection refused", g.Message)
	assert.Equal(t, "open", g.Breaker)

	findBackend(t, rep, "data_dir")
	assert.Nil(t, rep.Queries)
}

func TestReporter_RequiredFailureIsFailed(t *testing.T) {
	var calls atomic.Int64
	r := NewReporter(Config{
		DataDir: t.TempDir(),
		Probes: func() []preflight.Probe {
			return []preflight.Probe{probe("embeddings", true, &calls, errors.New("model missing"))}
		},
	})

	rep := r.Status(context.Background())

	assert.Equal(t, "failed", rep.Status)
}

func TestReporter_CachesProbesForTTL(t *testing.T) {
	// Given: a reporter with a long TTL
	var calls atomic.Int64
	r := NewReporter(Config{
		DataDir: t.TempDir(),
		Probes: func() []preflight.Probe {
			return []preflight.Probe{probe("tika", false, &calls, nil)}
		},
		TTL: time.Hour,
	})

	// When: asking twice
	r.Status(context.Background())
	r.Status(context.Background())

	// Then: the backend was probed once
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), r.Rounds())

	// And: invalidating forces a new round
	r.Invalidate()
	r.Status(context.Background())
	assert.Equal(t, int64(2), calls.Load())
}

func TestReporter_CountsErrorKeepsReport(t *testing.T) {
	r := NewReporter(Config{
		DataDir: t.TempDir(),
		Counts:  func(context.Context) (int, int, error) { return 0, 0, errors.New("database is locked") },
	})

	rep := r.Status(context.Background())

	assert.Zero(t, rep.Documents)
	assert.NotEmpty(t, rep.Backends)
}

func TestReporter_IncludesQueryTelemetry(t *testing.T) {
	// Given: metrics with one recorded query
	m := telemetry.NewQueryMetrics(nil)
	t.Cleanup(func() { _ = m.Close() })
	m.Record(telemetry.QueryEvent{Query: "acme delays", Scope: "all", ResultCount: 2, Latency: 5 * time.Millisecond})

	r := NewReporter(Config{DataDir: t.TempDir(), Metrics: m})

	// When: asking for status
	rep := r.Status(context.Background())

	// Then: the snapshot is attached
	require.NotNil(t, rep.Queries)
	assert.Equal(t, int64(1), rep.Queries.TotalQueries)
}

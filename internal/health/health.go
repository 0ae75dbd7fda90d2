// Package health assembles the service status reported by the HTTP API
// and the MCP backend_status tool: backend probes, breaker states, index
// counts and query telemetry.
package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Aman-CERP/hybridrag/internal/preflight"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

// DefaultTTL is how long probe results are reused. Status endpoints are
// polled; backends should not be.
const DefaultTTL = 10 * time.Second

const cacheKey = "probes"

// Backend is the health of one dependency.
type Backend struct {
	Name     string                `json:"name"`
	Status   preflight.CheckStatus `json:"status"`
	Required bool                  `json:"required"`
	Message  string                `json:"message,omitempty"`
	Details  string                `json:"details,omitempty"`
	Breaker  string                `json:"breaker,omitempty"`
	Latency  time.Duration         `json:"latency_ns,omitempty"`
}

// Report is the full service status.
type Report struct {
	// Status is "ready", "degraded" or "failed".
	Status    string                          `json:"status"`
	Version   string                          `json:"version"`
	Documents int                             `json:"documents"`
	Chunks    int                             `json:"chunks"`
	Backends  []Backend                       `json:"backends"`
	Queries   *telemetry.QueryMetricsSnapshot `json:"queries,omitempty"`
	CheckedAt time.Time                       `json:"checked_at"`
}

// Config wires a Reporter. Every field but DataDir and Probes is optional.
type Config struct {
	DataDir string

	// Probes builds the backend probes for one check round.
	Probes func() []preflight.Probe

	// Counts returns the registry's document and chunk counts.
	Counts func(ctx context.Context) (documents, chunks int, err error)

	Metrics *telemetry.QueryMetrics

	// Breakers maps a backend name to its circuit breaker state.
	Breakers map[string]func() string

	TTL          time.Duration
	ProbeTimeout time.Duration
}

// Reporter produces Reports, caching probe results for the TTL.
type Reporter struct {
	cfg     Config
	checker *preflight.Checker
	cache   *expirable.LRU[string, []preflight.CheckResult]
	rounds  atomic.Int64
}

// NewReporter creates a Reporter.
func NewReporter(cfg Config) *Reporter {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = preflight.DefaultProbeTimeout
	}
	return &Reporter{
		cfg:     cfg,
		checker: preflight.New(preflight.WithProbeTimeout(cfg.ProbeTimeout)),
		cache:   expirable.NewLRU[string, []preflight.CheckResult](1, nil, cfg.TTL),
	}
}

// Status returns the current report. Probe results may be up to TTL old;
// counts, breakers and telemetry are always live.
func (r *Reporter) Status(ctx context.Context) Report {
	results := r.check(ctx)

	rep := Report{
		Status:    r.checker.SummaryStatus(results),
		Version:   version.Version,
		Backends:  make([]Backend, 0, len(results)),
		CheckedAt: time.Now().UTC(),
	}
	for _, res := range results {
		b := Backend{
			Name:     res.Name,
			Status:   res.Status,
			Required: res.Required,
			Message:  res.Message,
			Details:  res.Details,
			Latency:  res.Latency,
		}
		if state, ok := r.cfg.Breakers[res.Name]; ok && state != nil {
			b.Breaker = state()
		}
		rep.Backends = append(rep.Backends, b)
	}

	if r.cfg.Counts != nil {
		docs, chunks, err := r.cfg.Counts(ctx)
		if err != nil {
			slog.Warn("status_counts_failed", slog.String("error", err.Error()))
		} else {
			rep.Documents, rep.Chunks = docs, chunks
		}
	}
	if r.cfg.Metrics != nil {
		rep.Queries = r.cfg.Metrics.Snapshot()
	}
	return rep
}

// Invalidate drops cached probe results so the next Status probes again.
func (r *Reporter) Invalidate() {
	r.cache.Purge()
}

// Rounds reports how many probe rounds have run.
func (r *Reporter) Rounds() int64 {
	return r.rounds.Load()
}

func (r *Reporter) check(ctx context.Context) []preflight.CheckResult {
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached
	}
	var probes []preflight.Probe
	if r.cfg.Probes != nil {
		probes = r.cfg.Probes()
	}
	results := r.checker.RunAll(ctx, r.cfg.DataDir, probes...)
	r.rounds.Add(1)
	r.cache.Add(cacheKey, results)
	return results
}

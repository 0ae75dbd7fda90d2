// Package app is the composition root. It turns a config.Config into a
// running set of adapters, the fusion engine and the ingestion pipeline,
// and owns their lifetimes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/hybridrag/internal/breaker"
	"github.com/Aman-CERP/hybridrag/internal/chunk"
	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/extract"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/health"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/synth"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
)

// Files under the data directory.
const (
	KeywordDir   = "keyword.bleve"
	VectorFile   = "vectors.hnsw"
	RegistryFile = "registry.db"
)

// Paths locates the persistent state under a data directory.
type Paths struct {
	DataDir  string
	Keyword  string
	Vector   string
	Registry string
}

// PathsFor returns the state locations under dataDir.
func PathsFor(dataDir string) Paths {
	return Paths{
		DataDir:  dataDir,
		Keyword:  filepath.Join(dataDir, KeywordDir),
		Vector:   filepath.Join(dataDir, VectorFile),
		Registry: filepath.Join(dataDir, RegistryFile),
	}
}

// Option customises Open.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	embedder embed.Embedder
	graph    graph.Adapter
	gen      synth.Generator
}

// WithLogger sets the logger used for startup messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEmbedder replaces the configured embedder.
func WithEmbedder(e embed.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithGraph replaces the configured graph adapter. It is still wrapped
// in a circuit breaker.
func WithGraph(g graph.Adapter) Option {
	return func(o *options) { o.graph = g }
}

// WithGenerator replaces the configured text generator.
func WithGenerator(g synth.Generator) Option {
	return func(o *options) { o.gen = g }
}

// App holds every long-lived component of a hybridrag process.
type App struct {
	Config *config.Config
	Paths  Paths

	Keyword  *store.BleveIndex
	Vector   *store.HNSWIndex
	Registry *store.Registry
	Embedder *embed.CachedEmbedder
	Metrics  *telemetry.QueryMetrics

	Extractor *extract.Registry
	Tika      *extract.TikaClient     // nil when disabled
	Graph     *graph.Guarded          // nil when disabled
	Generator *synth.BreakerGenerator // nil when disabled

	Engine   *search.Engine
	Pipeline *ingest.Pipeline
	Health   *health.Reporter

	logger  *slog.Logger
	lock    *store.DataDirLock
	closers []func() error
}

// Open builds the application for cfg. It takes the data directory lock,
// so only one process can hold the embedded indexes at a time.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Paths: PathsFor(cfg.DataDir), logger: o.logger}
	a.lock = store.NewDataDirLock(cfg.DataDir)
	if err := a.lock.TryLock(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.lock.Unlock)

	steps := []func() error{
		func() error { return a.openEmbedder(ctx, o.embedder) },
		func() error { return a.openStores(ctx) },
		func() error { a.openExtractor(); return nil },
		func() error { return a.openGraph(o.graph) },
		func() error { a.openGenerator(o.gen); return nil },
		a.buildEngine,
		a.buildPipeline,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	a.Health = health.NewReporter(health.Config{
		DataDir:  cfg.DataDir,
		Probes:   a.Probes,
		Counts:   a.Registry.Stats,
		Metrics:  a.Metrics,
		Breakers: a.breakers(),
	})

	a.logger.Info("app_ready",
		slog.String("data_dir", cfg.DataDir),
		slog.String("embedder", a.Embedder.ModelName()),
		slog.Int("dimensions", a.Embedder.Dimensions()),
		slog.Int("vectors", a.Vector.Count()),
		slog.Bool("graph", a.Graph != nil),
		slog.Bool("tika", a.Tika != nil),
		slog.Bool("synthesis", a.Generator != nil))
	return a, nil
}

func (a *App) openEmbedder(ctx context.Context, override embed.Embedder) error {
	if override != nil {
		a.Embedder = embed.NewCachedEmbedder(override, a.Config.Embeddings.CacheSize)
	} else {
		e, err := embed.New(ctx, embedOptions(a.Config, false))
		if err != nil && a.Config.Embeddings.Dimensions > 0 && errors.Is(err, apperrors.ErrBackendUnavailable) {
			// Start degraded: vector search and ingestion report the
			// backend as unavailable until Ollama comes up.
			a.logger.Warn("embedder_unavailable_at_startup", slog.String("error", err.Error()))
			e, err = embed.New(ctx, embedOptions(a.Config, true))
		}
		if err != nil {
			return err
		}
		a.Embedder = e
	}
	a.closers = append(a.closers, a.Embedder.Close)
	return nil
}

func embedOptions(cfg *config.Config, lazy bool) embed.Options {
	return embed.Options{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		OllamaHost: cfg.Embeddings.OllamaHost,
		BatchSize:  cfg.Ingest.EmbedBatchSize,
		Timeout:    cfg.Embeddings.Timeout.Std(),
		CacheSize:  cfg.Embeddings.CacheSize,
		Lazy:       lazy,
	}
}

func (a *App) openStores(ctx context.Context) error {
	dims := a.Embedder.Dimensions()

	reg, err := store.OpenRegistry(a.Paths.Registry)
	if err != nil {
		return err
	}
	a.Registry = reg
	a.closers = append(a.closers, reg.Close)

	if err := reg.CheckEmbedding(ctx, a.Embedder.ModelName(), dims); err != nil {
		return err
	}

	vec, err := store.OpenHNSWIndex(a.Paths.Vector, store.DefaultHNSWConfig(dims))
	if err != nil {
		return err
	}
	a.Vector = vec
	a.closers = append(a.closers, vec.Close)

	kw, err := store.NewBleveIndex(a.Paths.Keyword)
	if err != nil {
		return err
	}
	a.Keyword = kw
	a.closers = append(a.closers, kw.Close)

	if err := telemetry.InitTelemetrySchema(reg.DB()); err != nil {
		return fmt.Errorf("failed to init telemetry schema: %w", err)
	}
	ms, err := telemetry.NewSQLiteMetricsStore(reg.DB())
	if err != nil {
		return err
	}
	a.Metrics = telemetry.NewQueryMetrics(ms)
	// Flush before the registry closes; closers run in reverse.
	a.closers = append(a.closers, a.Metrics.Close)
	return nil
}

func (a *App) openExtractor() {
	var fallback extract.Extractor
	if a.Config.Tika.Enabled {
		a.Tika = extract.NewTikaClient(extract.TikaConfig{
			URL:     a.Config.Tika.URL,
			Timeout: a.Config.Tika.Timeout.Std(),
		})
		fallback = a.Tika
	}
	a.Extractor = extract.NewRegistry(fallback)
}

func (a *App) openGraph(override graph.Adapter) error {
	inner := override
	if inner == nil {
		if !a.Config.Graph.Enabled {
			return nil
		}
		g := a.Config.Graph
		n, err := graph.NewNeo4jAdapter(graph.Config{
			URI:           g.URI,
			User:          g.User,
			Password:      g.Password,
			Database:      g.Database,
			LabelProperty: g.LabelProperty,
			Timeout:       g.Timeout.Std(),
		})
		if err != nil {
			return err
		}
		inner = n
	}
	a.Graph = graph.NewGuarded(inner, breaker.DefaultConfig())
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Graph.Close(ctx)
	})
	return nil
}

func (a *App) openGenerator(override synth.Generator) {
	gen := override
	if gen == nil {
		if !a.Config.Synthesis.Enabled {
			return
		}
		s := a.Config.Synthesis
		gen = synth.NewOpenAIGenerator(synth.GeneratorConfig{
			BaseURL:   s.BaseURL,
			APIKey:    s.APIKey,
			Model:     s.Model,
			MaxTokens: s.MaxTokens,
			Timeout:   s.Timeout.Std(),
		})
	}
	a.Generator = synth.NewBreakerGenerator(gen, breaker.DefaultConfig())
}

// EngineConfig converts the search section of the configuration.
func EngineConfig(s config.SearchConfig) search.EngineConfig {
	return search.EngineConfig{
		Weights:             search.Weights{Vector: s.VectorWeight, Keyword: s.KeywordWeight},
		DefaultLimit:        s.DefaultLimit,
		MaxLimit:            s.MaxLimit,
		BackendTimeout:      s.BackendTimeout.Std(),
		OverallTimeout:      s.OverallTimeout.Std(),
		CandidateMultiplier: s.CandidateMultiplier,
		RewriteQuery:        s.RewriteQuery,
	}
}

func (a *App) buildEngine() error {
	opts := []search.EngineOption{search.WithMetrics(a.Metrics)}
	if a.Graph != nil {
		opts = append(opts, search.WithGraph(a.Graph))
	}
	if a.Generator != nil {
		opts = append(opts, search.WithSynthesizer(synth.NewSynthesizer(a.Generator, synth.Config{
			TopN:         a.Config.Synthesis.TopN,
			ExcerptChars: a.Config.Synthesis.ExcerptChars,
		})))
	}
	e, err := search.NewEngine(a.Keyword, a.Vector, a.Embedder, a.Registry, EngineConfig(a.Config.Search), opts...)
	if err != nil {
		return err
	}
	a.Engine = e
	return nil
}

func (a *App) buildPipeline() error {
	c := a.Config.Chunking
	splitter, err := chunk.NewSentenceChunker(chunk.Options{
		MaxChars:            c.MaxChars,
		Overlap:             c.Overlap,
		MinSentenceFraction: c.MinSentenceFraction,
	})
	if err != nil {
		return apperrors.ConfigError("invalid chunking settings", err)
	}

	pc := ingest.Config{
		Extractor:    a.Extractor,
		Splitter:     splitter,
		Embedder:     a.Embedder,
		Keyword:      a.Keyword,
		Vector:       a.Vector,
		Registry:     a.Registry,
		VectorPath:   a.Paths.Vector,
		MaxBytes:     a.Config.Ingest.MaxBytes,
		BatchSize:    a.Config.Ingest.EmbedBatchSize,
		PruneOrphans: a.Config.Ingest.PruneOrphans,
		LinkGraph:    a.Config.Ingest.LinkGraph && a.Graph != nil,
	}
	if a.Graph != nil {
		pc.Graph = a.Graph
	}
	p, err := ingest.NewPipeline(pc)
	if err != nil {
		return err
	}
	a.Pipeline = p
	return nil
}

func (a *App) breakers() map[string]func() string {
	m := make(map[string]func() string)
	if a.Graph != nil {
		m["graph"] = a.Graph.State
	}
	if a.Generator != nil {
		m["synthesis"] = a.Generator.State
	}
	return m
}

// Close releases every component in reverse order of opening. It is
// safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// GraphExpander returns the guarded graph for neighbour lookups, or nil
// when the graph backend is disabled.
func (a *App) GraphExpander() graph.Expander {
	if a.Graph == nil {
		return nil
	}
	return a.Graph
}

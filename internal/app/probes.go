package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/extract"
	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/preflight"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/synth"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

type probeDeps struct {
	embedder    preflight.Embedder
	embedderErr error
	tika        *extract.TikaClient
	graph       graph.Adapter
	synth       interface{ Available(context.Context) error }
	storedDims  int
}

// Probes returns the backend checks for the running application.
func (a *App) Probes() []preflight.Probe {
	d := probeDeps{embedder: a.Embedder, tika: a.Tika}
	if v, err := a.Registry.Meta(context.Background(), store.MetaEmbeddingDimensions); err == nil {
		d.storedDims, _ = strconv.Atoi(v)
	}
	if a.Graph != nil {
		d.graph = a.Graph
	}
	if a.Generator != nil {
		d.synth = a.Generator
	}
	return buildProbes(a.Config, d)
}

// DoctorProbes builds lightweight clients for every configured backend
// and returns checks against them. It opens no index and takes no lock,
// so it works while another process is serving. Call cleanup when done.
func DoctorProbes(ctx context.Context, cfg *config.Config) (probes []preflight.Probe, cleanup func()) {
	var closers []func()
	cleanup = func() {
		for _, c := range closers {
			c()
		}
	}

	d := probeDeps{}
	if e, err := embed.New(ctx, embedOptions(cfg, cfg.Embeddings.Dimensions > 0)); err != nil {
		d.embedderErr = err
	} else {
		d.embedder = e
		closers = append(closers, func() { _ = e.Close() })
	}

	if dims, err := store.ReadHNSWDimensions(PathsFor(cfg.DataDir).Vector); err == nil {
		d.storedDims = dims
	} else {
		slog.Warn("doctor_vector_metadata_unreadable", slog.String("error", err.Error()))
	}

	if cfg.Tika.Enabled {
		d.tika = extract.NewTikaClient(extract.TikaConfig{URL: cfg.Tika.URL, Timeout: cfg.Tika.Timeout.Std()})
	}
	if cfg.Graph.Enabled {
		g, err := graph.NewNeo4jAdapter(graph.Config{
			URI:           cfg.Graph.URI,
			User:          cfg.Graph.User,
			Password:      cfg.Graph.Password,
			Database:      cfg.Graph.Database,
			LabelProperty: cfg.Graph.LabelProperty,
			Timeout:       cfg.Graph.Timeout.Std(),
		})
		if err == nil {
			d.graph = g
			closers = append(closers, func() { _ = g.Close(context.Background()) })
		} else {
			d.graph = brokenGraph{err: err}
		}
	}
	if cfg.Synthesis.Enabled {
		d.synth = synth.NewOpenAIGenerator(synth.GeneratorConfig{
			BaseURL:   cfg.Synthesis.BaseURL,
			APIKey:    cfg.Synthesis.APIKey,
			Model:     cfg.Synthesis.Model,
			MaxTokens: cfg.Synthesis.MaxTokens,
			Timeout:   cfg.Synthesis.Timeout.Std(),
		})
	}
	return buildProbes(cfg, d), cleanup
}

func buildProbes(cfg *config.Config, d probeDeps) []preflight.Probe {
	probes := make([]preflight.Probe, 0, 5)

	if d.embedder != nil {
		probes = append(probes, preflight.EmbedderProbe(d.embedder, cfg.Embeddings.OllamaHost))
		probes = append(probes, preflight.IndexProbe(d.storedDims, d.embedder.Dimensions()))
	} else {
		err := d.embedderErr
		probes = append(probes, preflight.Probe{
			Name:     "embeddings",
			Required: true,
			Details:  cfg.Embeddings.OllamaHost,
			Check:    func(context.Context) (string, error) { return "", err },
		})
		probes = append(probes, preflight.IndexProbe(d.storedDims, cfg.Embeddings.Dimensions))
	}

	var tikaVersion func(context.Context) (string, error)
	if d.tika != nil {
		tikaVersion = d.tika.Version
	}
	probes = append(probes, preflight.TikaProbe(tikaVersion, cfg.Tika.URL, d.tika != nil))

	var verify func(context.Context) error
	if d.graph != nil {
		verify = d.graph.VerifyConnectivity
	}
	probes = append(probes, preflight.GraphProbe(verify, cfg.Graph.URI, cfg.Graph.Enabled))

	var avail func(context.Context) error
	if d.synth != nil {
		avail = d.synth.Available
	}
	probes = append(probes, preflight.SynthesisProbe(avail, cfg.Synthesis.BaseURL, cfg.Synthesis.Model, cfg.Synthesis.Enabled))
	return probes
}

// brokenGraph reports a graph adapter that could not be constructed.
type brokenGraph struct {
	graph.Adapter
	err error
}

func (b brokenGraph) VerifyConnectivity(context.Context) error { return b.err }

// Fingerprint identifies the settings a passed startup check is valid for.
func Fingerprint(cfg *config.Config) string {
	return preflight.Fingerprint(
		version.Version,
		cfg.Embeddings.Provider,
		cfg.Embeddings.Model,
		strconv.Itoa(cfg.Embeddings.Dimensions),
		cfg.Embeddings.OllamaHost,
		cfg.DataDir,
	)
}

// Preflight runs the startup checks unless they already passed for the
// current fingerprint. Only failing required checks stop startup.
func (a *App) Preflight(ctx context.Context, out io.Writer, force bool) error {
	fp := Fingerprint(a.Config)
	if !force && !preflight.NeedsCheck(a.Config.DataDir, fp) {
		return nil
	}

	c := preflight.New(preflight.WithOutput(out))
	results := c.RunAll(ctx, a.Config.DataDir, a.Probes()...)
	if c.HasCriticalFailures(results) {
		c.PrintResults(results)
		return fmt.Errorf("startup checks failed; run 'hybridrag doctor' for details")
	}
	if err := preflight.MarkPassed(a.Config.DataDir, fp); err != nil {
		a.logger.Warn("preflight_marker_failed", slog.String("error", err.Error()))
	}
	a.logger.Info("preflight_passed", slog.String("status", c.SummaryStatus(results)))
	return nil
}

package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Provider names accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderStatic = "static"
)

// Options selects and configures an embedder.
type Options struct {
	Provider   string
	Model      string
	Dimensions int
	OllamaHost string
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int

	// Lazy skips the startup model check. Dimensions must then be set.
	Lazy bool
}

// New builds the configured embedder wrapped in a CachedEmbedder.
func New(ctx context.Context, opts Options) (*CachedEmbedder, error) {
	var inner Embedder
	switch strings.ToLower(opts.Provider) {
	case ProviderOllama, "":
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       opts.OllamaHost,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			Timeout:    opts.Timeout,

			SkipHealthCheck: opts.Lazy && opts.Dimensions > 0,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	case ProviderStatic:
		inner = NewStaticEmbedder(opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", opts.Provider)
	}

	slog.Info("embedder_ready",
		slog.String("provider", opts.Provider),
		slog.String("model", inner.ModelName()),
		slog.Int("dimensions", inner.Dimensions()))
	return NewCachedEmbedder(inner, opts.CacheSize), nil
}

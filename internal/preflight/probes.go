package preflight

import (
	"context"
	"errors"
	"fmt"
)

// Embedder is the part of the embedder a probe needs.
type Embedder interface {
	Available(ctx context.Context) bool
	ModelName() string
	Dimensions() int
}

// EmbedderProbe checks that the embedding backend answers and has the
// configured model. It is required: without it nothing can be ingested
// and vector search is down.
func EmbedderProbe(e Embedder, host string) Probe {
	return Probe{
		Name:     "embeddings",
		Required: true,
		Details:  host,
		Check: func(ctx context.Context) (string, error) {
			if !e.Available(ctx) {
				return "", fmt.Errorf("model %s not available at %s", e.ModelName(), host)
			}
			return fmt.Sprintf("%s (%d dimensions)", e.ModelName(), e.Dimensions()), nil
		},
	}
}

// TikaProbe checks the document extraction server.
func TikaProbe(version func(ctx context.Context) (string, error), url string, enabled bool) Probe {
	return Probe{
		Name:     "tika",
		Disabled: !enabled,
		Details:  url,
		Check: func(ctx context.Context) (string, error) {
			v, err := version(ctx)
			if err != nil {
				return "", err
			}
			return "Apache Tika " + v, nil
		},
	}
}

// GraphProbe checks the graph database.
func GraphProbe(verify func(ctx context.Context) error, uri string, enabled bool) Probe {
	return Probe{
		Name:     "graph",
		Disabled: !enabled || verify == nil,
		Details:  uri,
		Check: func(ctx context.Context) (string, error) {
			if err := verify(ctx); err != nil {
				return "", err
			}
			return "connected to " + uri, nil
		},
	}
}

// SynthesisProbe checks the text generation endpoint.
func SynthesisProbe(available func(ctx context.Context) error, baseURL, model string, enabled bool) Probe {
	return Probe{
		Name:     "synthesis",
		Disabled: !enabled || available == nil,
		Details:  baseURL,
		Check: func(ctx context.Context) (string, error) {
			if err := available(ctx); err != nil {
				return "", err
			}
			return "model " + model + " at " + baseURL, nil
		},
	}
}

// ErrDimensionDrift is reported by IndexProbe when the stored index was
// built with a different embedding size.
var ErrDimensionDrift = errors.New("embedding dimension changed since the index was built")

// IndexProbe checks that the persisted indexes match the embedder.
func IndexProbe(stored, configured int) Probe {
	return Probe{
		Name:     "index_dimensions",
		Required: true,
		Check: func(context.Context) (string, error) {
			if stored == 0 {
				return "empty index", nil
			}
			if stored != configured {
				return "", fmt.Errorf("%w: index has %d, embedder has %d; re-ingest into a new data_dir",
					ErrDimensionDrift, stored, configured)
			}
			return fmt.Sprintf("%d dimensions", stored), nil
		},
	}
}

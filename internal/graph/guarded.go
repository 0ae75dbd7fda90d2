package graph

import (
	"context"
	"errors"

	"github.com/Aman-CERP/hybridrag/internal/breaker"
	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Guarded wraps an Adapter with a circuit breaker so a down graph server
// fails fast instead of costing every search its full timeout.
type Guarded struct {
	inner Adapter
	cb    *breaker.Breaker
}

var _ Adapter = (*Guarded)(nil)

// NewGuarded wraps inner.
func NewGuarded(inner Adapter, cfg breaker.Config) *Guarded {
	return &Guarded{inner: inner, cb: breaker.New(BackendName, cfg)}
}

func (g *Guarded) MatchNodes(ctx context.Context, text string, limit int) ([]NodeMatch, error) {
	return breaker.Do(g.cb, func() ([]NodeMatch, error) {
		return g.inner.MatchNodes(ctx, text, limit)
	})
}

// Expand passes a missing node through without counting it against the
// breaker.
func (g *Guarded) Expand(ctx context.Context, nodeID string, limit int) ([]Edge, error) {
	var notFound error
	edges, err := breaker.Do(g.cb, func() ([]Edge, error) {
		edges, err := g.inner.Expand(ctx, nodeID, limit)
		if errors.Is(err, apperrors.ErrNodeNotFound) {
			notFound = err
			return nil, nil
		}
		return edges, err
	})
	if notFound != nil {
		return nil, notFound
	}
	return edges, err
}

func (g *Guarded) LinkDocument(ctx context.Context, doc DocumentLink) error {
	_, err := breaker.Do(g.cb, func() (struct{}, error) {
		return struct{}{}, g.inner.LinkDocument(ctx, doc)
	})
	return err
}

func (g *Guarded) UnlinkDocument(ctx context.Context, id string) error {
	_, err := breaker.Do(g.cb, func() (struct{}, error) {
		return struct{}{}, g.inner.UnlinkDocument(ctx, id)
	})
	return err
}

// VerifyConnectivity bypasses the breaker so health checks see the real state.
func (g *Guarded) VerifyConnectivity(ctx context.Context) error {
	return g.inner.VerifyConnectivity(ctx)
}

func (g *Guarded) Close(ctx context.Context) error {
	return g.inner.Close(ctx)
}

// State returns the breaker state.
func (g *Guarded) State() string {
	return g.cb.State()
}

package search

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// MaxQueryRunes bounds query length.
const MaxQueryRunes = 2000

// EngineConfig tunes the fusion engine.
type EngineConfig struct {
	Weights      Weights
	DefaultLimit int
	MaxLimit     int

	// BackendTimeout bounds each backend sub-query, including the query
	// embedding for the vector backend.
	BackendTimeout time.Duration

	// OverallTimeout bounds the whole fan-out. Synthesis runs after it.
	OverallTimeout time.Duration

	// CandidateMultiplier sets how many candidates each backend returns
	// relative to the requested limit, so fusion sees more than the page.
	CandidateMultiplier int

	// RewriteQuery sends the query through the synthesizer before the
	// document backends see it.
	RewriteQuery bool
}

// DefaultEngineConfig returns the stock tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights:             DefaultWeights(),
		DefaultLimit:        10,
		MaxLimit:            100,
		BackendTimeout:      3 * time.Second,
		OverallTimeout:      8 * time.Second,
		CandidateMultiplier: 3,
	}
}

// Validate checks the configuration.
func (c EngineConfig) Validate() error {
	if c.Weights.Vector < 0 || c.Weights.Keyword < 0 {
		return apperrors.ConfigError("search weights must not be negative", nil)
	}
	if math.Abs(c.Weights.Vector+c.Weights.Keyword-1) > 0.01 {
		return apperrors.ConfigError(fmt.Sprintf("search weights must sum to 1, got %.3f",
			c.Weights.Vector+c.Weights.Keyword), nil)
	}
	if c.DefaultLimit <= 0 || c.MaxLimit < c.DefaultLimit {
		return apperrors.ConfigError("search limits must satisfy 0 < default_limit <= max_limit", nil)
	}
	if c.BackendTimeout <= 0 || c.OverallTimeout <= 0 {
		return apperrors.ConfigError("search timeouts must be positive", nil)
	}
	if c.CandidateMultiplier < 1 {
		return apperrors.ConfigError("candidate_multiplier must be at least 1", nil)
	}
	return nil
}

// ParseScope maps user input to a Scope. Empty input means ScopeAll.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ScopeAll, nil
	case "graph-only", "graph_only", "graph":
		return ScopeGraphOnly, nil
	case "documents-only", "documents_only", "documents", "docs":
		return ScopeDocumentsOnly, nil
	}
	return "", apperrors.New(apperrors.ErrCodeInvalidQuery,
		fmt.Sprintf("unknown scope %q", s), nil).
		WithSuggestion("Use one of: all, graph-only, documents-only")
}

// normalizeParams validates p and fills defaults from cfg.
func normalizeParams(p Params, cfg EngineConfig) (Params, error) {
	p.Query = strings.TrimSpace(p.Query)
	if p.Query == "" {
		return p, apperrors.New(apperrors.ErrCodeQueryEmpty, "query is empty", nil)
	}
	if n := utf8.RuneCountInString(p.Query); n > MaxQueryRunes {
		return p, apperrors.New(apperrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters, the limit is %d", n, MaxQueryRunes), nil)
	}

	scope, err := ParseScope(string(p.Scope))
	if err != nil {
		return p, err
	}
	p.Scope = scope

	switch {
	case p.Limit < 0:
		return p, apperrors.New(apperrors.ErrCodeInvalidQuery, "limit must not be negative", nil)
	case p.Limit == 0:
		p.Limit = cfg.DefaultLimit
	case p.Limit > cfg.MaxLimit:
		p.Limit = cfg.MaxLimit
	}

	if math.IsNaN(p.Threshold) || p.Threshold < 0 || p.Threshold > 1 {
		return p, apperrors.New(apperrors.ErrCodeInvalidQuery,
			"threshold must be between 0 and 1", nil)
	}
	return p, nil
}

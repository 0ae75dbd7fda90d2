// Package synth turns fused search results into a short narrative answer
// and rewrites queries, using any OpenAI-compatible chat endpoint.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Aman-CERP/hybridrag/internal/breaker"
	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// BackendName identifies the generator in errors and breaker logs.
const BackendName = "synthesis"

// Default generator configuration.
const (
	DefaultBaseURL   = "http://localhost:11434/v1"
	DefaultModel     = "llama3"
	DefaultMaxTokens = 512
	DefaultTimeout   = 30 * time.Second
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorConfig configures an OpenAIGenerator.
type GeneratorConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAIGenerator calls a chat completion endpoint. Ollama's /v1 API,
// vLLM and OpenAI itself all work.
type OpenAIGenerator struct {
	client *openai.Client
	config GeneratorConfig
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator. Empty fields take defaults.
func NewOpenAIGenerator(cfg GeneratorConfig) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	// Local servers ignore the key but the client insists on one.
	key := cfg.APIKey
	if key == "" {
		key = "unused"
	}
	clientConfig := openai.DefaultConfig(key)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

// Generate sends prompt as a single user message and returns the first
// choice's content.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   g.config.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.SynthesisFailed("no choices in response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Available reports whether the endpoint answers a model listing.
func (g *OpenAIGenerator) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := g.client.ListModels(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// ModelName returns the configured model.
func (g *OpenAIGenerator) ModelName() string {
	return g.config.Model
}

// BaseURL returns the endpoint the generator talks to.
func (g *OpenAIGenerator) BaseURL() string {
	return g.config.BaseURL
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.BackendTimeout(BackendName, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
		return apperrors.SynthesisFailed(fmt.Sprintf("request rejected (%d): %s", apiErr.HTTPStatusCode, apiErr.Message), err)
	}
	return apperrors.BackendUnavailable(BackendName, err)
}

// BreakerGenerator fails fast once the wrapped generator keeps failing.
type BreakerGenerator struct {
	inner Generator
	cb    *breaker.Breaker
}

var _ Generator = (*BreakerGenerator)(nil)

// NewBreakerGenerator wraps inner with a circuit breaker.
func NewBreakerGenerator(inner Generator, cfg breaker.Config) *BreakerGenerator {
	return &BreakerGenerator{inner: inner, cb: breaker.New(BackendName, cfg)}
}

func (b *BreakerGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return breaker.Do(b.cb, func() (string, error) {
		return b.inner.Generate(ctx, prompt)
	})
}

// State returns the breaker state.
func (b *BreakerGenerator) State() string {
	return b.cb.State()
}

// Available probes the wrapped generator without going through the
// breaker. Generators that cannot be probed are assumed available.
func (b *BreakerGenerator) Available(ctx context.Context) error {
	if p, ok := b.inner.(interface{ Available(context.Context) error }); ok {
		return p.Available(ctx)
	}
	return nil
}

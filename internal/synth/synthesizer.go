package synth

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/search"
)

// Default prompt sizing.
const (
	DefaultTopN         = 5
	DefaultExcerptChars = 600
)

const truncatedMarker = " ... [truncated]"

const systemPrompt = `You are a research assistant. You answer strictly from the material you are given and say so when it does not contain the answer.`

// answerPromptTemplate is filled with the question, the excerpts and the
// graph entities.
const answerPromptTemplate = `Question: %s

Document excerpts:
%s
Knowledge graph entities:
%s
Instructions:
- Answer the question in a short paragraph
- Cite excerpts by their number, e.g. [1]
- Do not invent facts that are not in the excerpts or entities
- Output ONLY the answer, no preamble

Answer:`

const rewritePromptTemplate = `Rewrite this search query so it retrieves relevant passages from a document collection.

Query: %s

Instructions:
- Expand abbreviations and add close synonyms
- Keep it to one line
- Output ONLY the rewritten query, no preamble

Rewritten query:`

// Config sizes the synthesis prompt.
type Config struct {
	// TopN is how many fused documents are quoted.
	TopN int
	// ExcerptChars caps each quoted excerpt, in characters.
	ExcerptChars int
}

// Synthesizer builds prompts from search results and hands them to a
// Generator. It implements search.Synthesizer.
type Synthesizer struct {
	gen    Generator
	config Config
}

var _ search.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a synthesizer over gen.
func NewSynthesizer(gen Generator, cfg Config) *Synthesizer {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.ExcerptChars <= 0 {
		cfg.ExcerptChars = DefaultExcerptChars
	}
	return &Synthesizer{gen: gen, config: cfg}
}

// Synthesize answers query from the top documents and graph entities.
// Any generator failure, and an empty answer, is a SynthesisFailed error.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, docs []search.FusedResult, nodes []search.GraphResult) (string, error) {
	prompt := s.BuildPrompt(query, docs, nodes)

	out, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return "", asSynthesisFailed("generation failed", err)
	}

	out = strings.TrimSpace(out)
	out = strings.TrimSpace(strings.TrimPrefix(out, "Answer:"))
	if out == "" {
		return "", apperrors.SynthesisFailed("generator returned an empty answer", nil)
	}
	return out, nil
}

// Rewrite returns a single-line reformulation of query.
func (s *Synthesizer) Rewrite(ctx context.Context, query string) (string, error) {
	out, err := s.gen.Generate(ctx, fmt.Sprintf(rewritePromptTemplate, query))
	if err != nil {
		return "", asSynthesisFailed("query rewrite failed", err)
	}

	line := firstLine(out)
	line = strings.TrimSpace(strings.TrimPrefix(line, "Rewritten query:"))
	line = strings.Trim(line, "\"'` ")
	if line == "" {
		return "", apperrors.SynthesisFailed("generator returned an empty query", nil)
	}
	return truncateRunes(line, search.MaxQueryRunes, ""), nil
}

// BuildPrompt renders the answer prompt: the top documents, each cut to
// the excerpt size, followed by the graph entity labels.
func (s *Synthesizer) BuildPrompt(query string, docs []search.FusedResult, nodes []search.GraphResult) string {
	var excerpts strings.Builder
	if len(docs) > s.config.TopN {
		docs = docs[:s.config.TopN]
	}
	for i, d := range docs {
		text := d.Text
		if text == "" {
			text = d.Snippet
		}
		text = strings.Join(strings.Fields(text), " ")
		fmt.Fprintf(&excerpts, "[%d] %s (score %.2f)\n%s\n\n", i+1, d.DocumentID, d.Score,
			truncateRunes(text, s.config.ExcerptChars, truncatedMarker))
	}
	if len(docs) == 0 {
		excerpts.WriteString("(none)\n\n")
	}

	var entities strings.Builder
	for _, n := range nodes {
		entities.WriteString("- ")
		entities.WriteString(n.Label)
		if len(n.Labels) > 0 {
			fmt.Fprintf(&entities, " (%s)", strings.Join(n.Labels, ", "))
		}
		entities.WriteString("\n")
	}
	if len(nodes) == 0 {
		entities.WriteString("(none)\n")
	}

	return fmt.Sprintf(answerPromptTemplate, query, excerpts.String(), entities.String())
}

func asSynthesisFailed(msg string, err error) error {
	if apperrors.GetCode(err) == apperrors.ErrCodeSynthesisFailed {
		return err
	}
	return apperrors.SynthesisFailed(msg+": "+err.Error(), err)
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// truncateRunes cuts s to at most n runes and appends marker when it cut.
func truncateRunes(s string, n int, marker string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + marker
}

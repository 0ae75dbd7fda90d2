package chunk

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

// Options configures a SentenceChunker.
type Options struct {
	// MaxChars is the hard upper bound on span length, in runes.
	MaxChars int
	// Overlap is the fraction of each span repeated at the start of the next, in [0, 1).
	Overlap float64
	// MinSentenceFraction is how far into the window (as a fraction of MaxChars)
	// a sentence boundary must be before it is preferred over the hard cut.
	MinSentenceFraction float64
}

// DefaultOptions returns ~512-token chunks with 50% overlap.
func DefaultOptions() Options {
	return Options{
		MaxChars:            DefaultMaxChars,
		Overlap:             DefaultOverlap,
		MinSentenceFraction: DefaultMinSentenceFraction,
	}
}

// SentenceChunker cuts text into overlapping windows, ending each window at
// the last sentence boundary when one falls late enough in the window.
type SentenceChunker struct {
	opts Options
}

// NewSentenceChunker validates opts and returns a chunker.
func NewSentenceChunker(opts Options) (*SentenceChunker, error) {
	if opts.MaxChars < 1 {
		return nil, fmt.Errorf("max chars must be positive, got %d", opts.MaxChars)
	}
	if opts.Overlap < 0 || opts.Overlap >= 1 {
		return nil, fmt.Errorf("overlap must be in [0, 1), got %f", opts.Overlap)
	}
	if opts.MinSentenceFraction < 0 || opts.MinSentenceFraction > 1 {
		return nil, fmt.Errorf("min sentence fraction must be in [0, 1], got %f", opts.MinSentenceFraction)
	}
	return &SentenceChunker{opts: opts}, nil
}

// Options returns the chunker configuration.
func (c *SentenceChunker) Options() Options { return c.opts }

// Split returns the spans of text. Offsets are rune offsets.
//
// Spans are ordered, cover the text from the first to the last rune, never
// exceed MaxChars, and each span starts round(Overlap × previous length)
// runes before the previous one ended. Whitespace-only text has no spans.
func (c *SentenceChunker) Split(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	minBreak := int(math.Ceil(c.opts.MinSentenceFraction * float64(c.opts.MaxChars)))
	if minBreak < 1 {
		minBreak = 1
	}

	var spans []Span
	start := 0
	for {
		end := start + c.opts.MaxChars
		if end >= n {
			end = n
		} else if b := lastSentenceBreak(runes, start+minBreak, end); b > 0 {
			end = b
		}

		spans = append(spans, Span{
			Index: len(spans),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == n {
			return spans
		}

		next := end - int(math.Round(c.opts.Overlap*float64(end-start)))
		if next <= start {
			next = start + 1
		}
		start = next
	}
}

// lastSentenceBreak returns the largest p in [lo, hi] such that a sentence
// ends just before p, or 0 when there is none.
func lastSentenceBreak(runes []rune, lo, hi int) int {
	if lo < 1 {
		lo = 1
	}
	for p := hi; p >= lo; p-- {
		if isSentenceEnd(runes, p) {
			return p
		}
	}
	return 0
}

// isSentenceEnd reports whether runes[:p] ends a sentence: terminal
// punctuation followed by whitespace (or end of text), or a blank line.
func isSentenceEnd(runes []rune, p int) bool {
	prev := runes[p-1]
	switch prev {
	case '.', '!', '?', '。', '！', '？':
		return p == len(runes) || unicode.IsSpace(runes[p])
	case '\n':
		return p >= 2 && runes[p-2] == '\n'
	}
	return false
}

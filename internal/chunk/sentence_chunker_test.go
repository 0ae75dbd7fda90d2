package chunk

import (
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChunker(t *testing.T, opts Options) *SentenceChunker {
	t.Helper()
	c, err := NewSentenceChunker(opts)
	require.NoError(t, err)
	return c
}

// randomProse builds text of sentences with varied lengths and paragraph breaks.
func randomProse(r *rand.Rand, sentences int) string {
	words := []string{"supplier", "delays", "shipment", "port", "invoice", "Acme", "logistics", "contract", "risk", "quarter"}
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		n := 3 + r.Intn(25)
		for j := 0; j < n; j++ {
			if j > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(words[r.Intn(len(words))])
		}
		sb.WriteString([]string{". ", "! ", "? ", ".\n\n"}[r.Intn(4)])
	}
	return sb.String()
}

func TestSplit_SpanProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	configs := []Options{
		{MaxChars: 200, Overlap: 0.5, MinSentenceFraction: 0.5},
		{MaxChars: 64, Overlap: 0.25, MinSentenceFraction: 0.3},
		{MaxChars: 500, Overlap: 0, MinSentenceFraction: 0.8},
		{MaxChars: 37, Overlap: 0.9, MinSentenceFraction: 0},
	}

	for _, opts := range configs {
		c := newChunker(t, opts)
		for trial := 0; trial < 20; trial++ {
			text := randomProse(r, 1+r.Intn(60))
			spans := c.Split(text)
			require.NotEmpty(t, spans)

			total := len([]rune(text))
			assert.Equal(t, 0, spans[0].Start)
			assert.Equal(t, total, spans[len(spans)-1].End)

			for i, s := range spans {
				assert.Equal(t, i, s.Index)
				assert.LessOrEqual(t, s.Len(), opts.MaxChars, "span %d too long", i)
				assert.Greater(t, s.Len(), 0)
				assert.Equal(t, string([]rune(text)[s.Start:s.End]), s.Text)

				if i == 0 {
					continue
				}
				prev := spans[i-1]
				assert.Greater(t, s.Start, prev.Start, "spans must advance")
				assert.GreaterOrEqual(t, s.End, prev.End)

				want := opts.Overlap * float64(prev.Len())
				got := float64(prev.End - s.Start)
				assert.LessOrEqual(t, math.Abs(got-want), 1.0,
					"overlap between %d and %d: got %v want %v", i-1, i, got, want)
			}
		}
	}
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	// Given: two sentences where the window would cut the second one
	c := newChunker(t, Options{MaxChars: 40, Overlap: 0, MinSentenceFraction: 0.5})
	text := "The shipment left the port. Delays are expected next week."

	// When: splitting
	spans := c.Split(text)

	// Then: the first chunk ends at the full stop, not mid-word
	require.GreaterOrEqual(t, len(spans), 2)
	assert.Equal(t, "The shipment left the port.", spans[0].Text)
	assert.Equal(t, " Delays are expected next week.", spans[1].Text)
}

func TestSplit_IgnoresEarlyBoundary(t *testing.T) {
	// A boundary before MinSentenceFraction of the window is not used.
	c := newChunker(t, Options{MaxChars: 40, Overlap: 0, MinSentenceFraction: 0.9})
	text := "Short. Then a much longer sentence follows without stopping at all"

	spans := c.Split(text)

	assert.Equal(t, 40, spans[0].Len())
}

func TestSplit_BlankLineIsBoundary(t *testing.T) {
	c := newChunker(t, Options{MaxChars: 30, Overlap: 0, MinSentenceFraction: 0.5})
	text := "heading without stop\n\nbody text that continues on"

	spans := c.Split(text)

	assert.Equal(t, "heading without stop\n\n", spans[0].Text)
}

func TestSplit_EmptyAndShort(t *testing.T) {
	c := newChunker(t, DefaultOptions())

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split(" \n\t "))

	spans := c.Split("one line")
	require.Len(t, spans, 1)
	assert.Equal(t, Span{Index: 0, Start: 0, End: 8, Text: "one line"}, spans[0])
}

func TestSplit_Deterministic(t *testing.T) {
	c := newChunker(t, Options{MaxChars: 50, Overlap: 0.5, MinSentenceFraction: 0.5})
	text := randomProse(rand.New(rand.NewSource(1)), 30)

	assert.Equal(t, c.Split(text), c.Split(text))
}

func TestSplit_MultibyteRunes(t *testing.T) {
	c := newChunker(t, Options{MaxChars: 10, Overlap: 0.5, MinSentenceFraction: 0.5})
	text := strings.Repeat("日本語のテキスト。", 5)

	for _, s := range c.Split(text) {
		assert.LessOrEqual(t, len([]rune(s.Text)), 10)
	}
}

func TestNewSentenceChunker_Validates(t *testing.T) {
	_, err := NewSentenceChunker(Options{MaxChars: 0, Overlap: 0.5})
	assert.Error(t, err)
	_, err = NewSentenceChunker(Options{MaxChars: 10, Overlap: 1})
	assert.Error(t, err)
	_, err = NewSentenceChunker(Options{MaxChars: 10, Overlap: 0.1, MinSentenceFraction: 2})
	assert.Error(t, err)
}

func TestChunkID_RoundTrip(t *testing.T) {
	id := ID("reports/q3#draft.pdf", 12)
	assert.Equal(t, "reports/q3#draft.pdf#00012", id)

	doc, idx, ok := ParseID(id)
	require.True(t, ok)
	assert.Equal(t, "reports/q3#draft.pdf", doc)
	assert.Equal(t, 12, idx)

	_, _, ok = ParseID("no-separator")
	assert.False(t, ok)
	_, _, ok = ParseID("doc#x")
	assert.False(t, ok)
}

func TestCompareIDs(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"sequence within padding", ID("doc", 2), ID("doc", 10), -1},
		{"sequence past padding", ID("doc", 99999), ID("doc", 100000), -1},
		{"document first", ID("a", 100000), ID("b", 0), -1},
		{"equal", ID("doc", 7), ID("doc", 7), 0},
		{"unparsed before parsed", "legacy", ID("doc", 0), -1},
		{"unparsed by string", "b", "a", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareIDs(tt.a, tt.b))
			assert.Equal(t, -tt.want, CompareIDs(tt.b, tt.a))
		})
	}
}

func TestFromSpans(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	spans := []Span{{Index: 0, Start: 0, End: 5, Text: "hello"}, {Index: 1, Start: 3, End: 8, Text: "lo wo"}}

	chunks := FromSpans("doc", spans, now)

	require.Len(t, chunks, 2)
	assert.Equal(t, "doc#00001", chunks[1].ID)
	assert.Equal(t, 3, chunks[1].Start)
	assert.Equal(t, now, chunks[0].CreatedAt)
}

// Package chunk splits extracted document text into overlapping spans.
package chunk

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Chunk size defaults. 4 chars is roughly one token, so 2048 chars ≈ 512 tokens.
const (
	DefaultMaxChars            = 2048
	DefaultOverlap             = 0.5
	DefaultMinSentenceFraction = 0.5
	CharsPerToken              = 4
)

// Span is a half-open rune range [Start, End) of the source text.
type Span struct {
	Index int
	Start int
	End   int
	Text  string
}

// Len returns the span length in runes.
func (s Span) Len() int { return s.End - s.Start }

// Chunk is a span owned by one document, the unit of indexing and retrieval.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Start      int
	End        int
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
}

// idSep separates the document ID from the sequence number in a chunk ID.
const idSep = "#"

// ID returns the deterministic chunk identity for a document and sequence index.
// Re-ingesting a document yields the same IDs, so indexes overwrite instead of duplicating.
// The index is zero padded to five digits for readability; order IDs with
// CompareIDs, which stays in sequence order past 99999.
func ID(documentID string, index int) string {
	return fmt.Sprintf("%s%s%05d", documentID, idSep, index)
}

// CompareIDs orders chunk IDs by document ID, then numerically by sequence
// index. IDs that do not parse sort before those that do, by plain string
// comparison among themselves.
func CompareIDs(a, b string) int {
	docA, seqA, okA := ParseID(a)
	docB, seqB, okB := ParseID(b)
	switch {
	case !okA && !okB:
		return strings.Compare(a, b)
	case !okA:
		return -1
	case !okB:
		return 1
	}
	if c := strings.Compare(docA, docB); c != 0 {
		return c
	}
	return cmp.Compare(seqA, seqB)
}

// ParseID splits a chunk ID into document ID and sequence index.
func ParseID(id string) (documentID string, index int, ok bool) {
	i := strings.LastIndex(id, idSep)
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return id[:i], n, true
}

// FromSpans turns spans into chunks of documentID.
func FromSpans(documentID string, spans []Span, now time.Time) []*Chunk {
	chunks := make([]*Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = &Chunk{
			ID:         ID(documentID, s.Index),
			DocumentID: documentID,
			Index:      s.Index,
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			CreatedAt:  now,
		}
	}
	return chunks
}

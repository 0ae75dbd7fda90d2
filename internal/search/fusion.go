package search

import (
	"math"
	"sort"

	"github.com/Aman-CERP/hybridrag/internal/chunk"
	"github.com/Aman-CERP/hybridrag/internal/graph"
)

// Normalize min-max scales scores into [0, 1], preserving order. The maximum
// maps to exactly 1.0 and the minimum to exactly 0.0. A single score, or a
// batch where every score is equal, maps to 1.0.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}

	spread := hi - lo
	for i, s := range scores {
		switch {
		case spread == 0:
			out[i] = 1.0
		case s == hi:
			out[i] = 1.0
		case s == lo:
			out[i] = 0.0
		default:
			out[i] = (s - lo) / spread
		}
	}
	return out
}

// clipCosine maps cosine similarity from [-1, 1] to [0, 1] by clipping.
// Anti-correlated vectors carry no more signal than orthogonal ones.
func clipCosine(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	return math.Min(s, 1)
}

// Fuse merges keyword and vector hits into one list keyed by chunk ID.
// Each backend is normalized independently. A chunk found by both gets
// w.Keyword*kw + w.Vector*vec; a chunk found by one gets that backend's
// weighted score alone. The result is sorted by SortResults.
func Fuse(keyword []KeywordHit, vector []VectorHit, w Weights) []FusedResult {
	keyword = dedupeKeyword(keyword)
	vector = dedupeVector(vector)

	byID := make(map[string]*FusedResult, len(keyword)+len(vector))
	order := make([]string, 0, len(keyword)+len(vector))
	get := func(id string) *FusedResult {
		if r, ok := byID[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		if docID, seq, ok := chunk.ParseID(id); ok {
			r.DocumentID, r.Seq = docID, seq
		}
		byID[id] = r
		order = append(order, id)
		return r
	}

	kwRaw := make([]float64, len(keyword))
	for i, h := range keyword {
		kwRaw[i] = h.Score
	}
	for i, n := range Normalize(kwRaw) {
		r := get(keyword[i].ChunkID)
		r.Keyword = &Contribution{Raw: keyword[i].Score, Normalized: n, Rank: i + 1}
		r.Snippet = keyword[i].Snippet
	}

	vecRaw := make([]float64, len(vector))
	for i, h := range vector {
		vecRaw[i] = clipCosine(h.Score)
	}
	for i, n := range Normalize(vecRaw) {
		r := get(vector[i].ChunkID)
		r.Vector = &Contribution{Raw: vector[i].Score, Normalized: n, Rank: i + 1}
	}

	out := make([]FusedResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		r.Sources = r.Sources[:0]
		if r.Keyword != nil {
			r.Score += w.Keyword * r.Keyword.Normalized
			r.Sources = append(r.Sources, BackendKeyword)
		}
		if r.Vector != nil {
			r.Score += w.Vector * r.Vector.Normalized
			r.Sources = append(r.Sources, BackendVector)
		}
		out = append(out, *r)
	}

	SortResults(out)
	return out
}

// SortResults orders by combined score descending, then by number of
// contributing backends descending, then by document ID and sequence
// index (chunk.CompareIDs), so the last key follows document order.
func SortResults(results []FusedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Sources) != len(b.Sources) {
			return len(a.Sources) > len(b.Sources)
		}
		return chunk.CompareIDs(a.ChunkID, b.ChunkID) < 0
	})
}

// Select drops results scoring below threshold and then truncates to limit.
// results must already be sorted.
func Select(results []FusedResult, threshold float64, limit int) []FusedResult {
	kept := results[:0:0]
	for _, r := range results {
		if r.Score < threshold {
			continue
		}
		kept = append(kept, r)
	}
	if limit >= 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// RankGraph orders node matches exact first, then substring, then property,
// and caps the group at limit. Duplicate node IDs keep their best match.
func RankGraph(nodes []graph.NodeMatch, limit int) []GraphResult {
	best := make(map[string]int, len(nodes))
	unique := make([]graph.NodeMatch, 0, len(nodes))
	for _, n := range nodes {
		if i, ok := best[n.NodeID]; ok {
			if n.Kind.Rank() < unique[i].Kind.Rank() {
				unique[i] = n
			}
			continue
		}
		best[n.NodeID] = len(unique)
		unique = append(unique, n)
	}

	ranked := graph.Rank(unique, limit)
	out := make([]GraphResult, len(ranked))
	for i, n := range ranked {
		out[i] = GraphResult{NodeMatch: n, Score: n.Kind.Score()}
	}
	return out
}

func dedupeKeyword(hits []KeywordHit) []KeywordHit {
	seen := make(map[string]int, len(hits))
	out := make([]KeywordHit, 0, len(hits))
	for _, h := range hits {
		if i, ok := seen[h.ChunkID]; ok {
			if h.Score > out[i].Score {
				out[i] = h
			}
			continue
		}
		seen[h.ChunkID] = len(out)
		out = append(out, h)
	}
	return out
}

func dedupeVector(hits []VectorHit) []VectorHit {
	seen := make(map[string]int, len(hits))
	out := make([]VectorHit, 0, len(hits))
	for _, h := range hits {
		if i, ok := seen[h.ChunkID]; ok {
			if h.Score > out[i].Score {
				out[i] = h
			}
			continue
		}
		seen[h.ChunkID] = len(out)
		out = append(out, h)
	}
	return out
}

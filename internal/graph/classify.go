package graph

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinMentionRunes is the shortest label that counts as named inside a
// longer query. Shorter labels ("a", "of") would match almost anything.
const MinMentionRunes = 3

// Classify decides whether a node matches query and how well.
// label is the display label; props holds every property including the
// one label came from, which labelProperty names.
func Classify(query, label string, labels []string, props map[string]any, labelProperty string) (MatchKind, bool) {
	needle := normalize(query)
	if needle == "" {
		return "", false
	}

	l := normalize(label)
	if l != "" {
		if l == needle {
			return KindExact, true
		}
		if matches(l, needle) {
			return KindSubstring, true
		}
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		if k != labelProperty {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, ok := propertyText(props[k])
		if ok && matches(normalize(s), needle) {
			return KindProperty, true
		}
	}
	for _, nl := range labels {
		if matches(normalize(nl), needle) {
			return KindProperty, true
		}
	}
	return "", false
}

// matches reports whether value contains needle, or needle names value as
// a whole word.
func matches(value, needle string) bool {
	if value == "" {
		return false
	}
	if strings.Contains(value, needle) {
		return true
	}
	return utf8.RuneCountInString(value) >= MinMentionRunes && containsWord(needle, value)
}

// containsWord reports whether word occurs in s bounded by non-alphanumerics.
func containsWord(s, word string) bool {
	for from := 0; from <= len(s)-len(word); {
		i := strings.Index(s[from:], word)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(word)
		if boundaryBefore(s, i) && boundaryAfter(s, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		from = i + size
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// propertyText renders scalar properties as text. Lists and maps do not
// take part in matching.
func propertyText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(x), true
	default:
		return "", false
	}
}

// displayLabel picks the node's label: the configured property when it is
// a non-empty scalar, else the first node label, else the node ID.
func displayLabel(nodeID string, labels []string, props map[string]any, labelProperty string) string {
	if s, ok := propertyText(props[labelProperty]); ok && strings.TrimSpace(s) != "" {
		return s
	}
	for _, k := range []string{"name", "title"} {
		if s, ok := propertyText(props[k]); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if len(labels) > 0 {
		return labels[0]
	}
	return nodeID
}

// Rank sorts matches best kind first, then by label and node ID, and caps
// the result at limit.
func Rank(matches []NodeMatch, limit int) []NodeMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Kind.Rank() != b.Kind.Rank() {
			return a.Kind.Rank() < b.Kind.Rank()
		}
		la, lb := strings.ToLower(a.Label), strings.ToLower(b.Label)
		if la != lb {
			return la < lb
		}
		return a.NodeID < b.NodeID
	})
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

const snippetWidth = 200

// SearchResults renders a result set: fused documents, graph entities,
// the synthesized answer and a one-line backend summary.
func (w *Writer) SearchResults(rs *search.ResultSet) {
	s := w.styles

	if rs.Rewrite != nil && !rs.Rewrite.Failed && rs.Rewrite.Query != rs.Query {
		_, _ = fmt.Fprintf(w.out, "%s %s\n\n", s.Label.Render("rewritten:"), rs.Rewrite.Query)
	}

	if rs.Synthesis != nil && rs.Synthesis.Status == search.SynthesisOK {
		_, _ = fmt.Fprintln(w.out, s.Panel.Render(s.Header.Render("Answer")+"\n"+rs.Synthesis.Text))
		_, _ = fmt.Fprintln(w.out)
	}

	if rs.Scope.IncludesDocuments() {
		_, _ = fmt.Fprintln(w.out, s.Header.Render(fmt.Sprintf("Documents (%d)", len(rs.Documents))))
		if len(rs.Documents) == 0 {
			_, _ = fmt.Fprintln(w.out, s.Dim.Render("   no matching passages"))
		}
		for i, d := range rs.Documents {
			_, _ = fmt.Fprintf(w.out, "%2d. %s %s %s  %s\n",
				i+1,
				s.Score.Render(scoreBar(d.Score, 10)),
				s.Score.Render(fmt.Sprintf("%.3f", d.Score)),
				d.ChunkID,
				s.Source.Render(sourceList(d.Sources)))
			if snip := oneLine(d.Snippet, snippetWidth); snip != "" {
				_, _ = fmt.Fprintf(w.out, "    %s\n", s.Dim.Render(snip))
			}
		}
		_, _ = fmt.Fprintln(w.out)
	}

	if rs.Scope.IncludesGraph() {
		_, _ = fmt.Fprintln(w.out, s.Header.Render(fmt.Sprintf("Graph (%d)", len(rs.Graph))))
		if len(rs.Graph) == 0 {
			_, _ = fmt.Fprintln(w.out, s.Dim.Render("   no matching entities"))
		}
		for i, g := range rs.Graph {
			labels := ""
			if len(g.Labels) > 0 {
				labels = " :" + strings.Join(g.Labels, ":")
			}
			_, _ = fmt.Fprintf(w.out, "%2d. %s%s %s\n", i+1, g.Label, s.Label.Render(labels),
				s.Dim.Render(fmt.Sprintf("(%s, %.2f)", g.Kind, g.Score)))
		}
		_, _ = fmt.Fprintln(w.out)
	}

	if rs.Synthesis != nil && rs.Synthesis.Status != search.SynthesisOK {
		msg := "synthesis " + string(rs.Synthesis.Status)
		if rs.Synthesis.Error != "" {
			msg += ": " + rs.Synthesis.Error
		}
		w.Warning(msg)
	}
	if rs.AllUnavailable {
		w.Error("every backend failed; results are empty")
	}
	_, _ = fmt.Fprintln(w.out, s.Label.Render(w.diagnosticsLine(rs)))
}

// diagnosticsLine summarises backends as "keyword ok 3 (12ms) · ...".
func (w *Writer) diagnosticsLine(rs *search.ResultSet) string {
	parts := make([]string, 0, len(search.Backends)+1)
	for _, b := range search.Backends {
		d, ok := rs.Diagnostics[b]
		if !ok {
			continue
		}
		switch d.Status {
		case search.StatusOK:
			parts = append(parts, fmt.Sprintf("%s ok %d (%s)", b, d.Hits, roundMs(d.Latency)))
		case search.StatusSkipped:
			parts = append(parts, fmt.Sprintf("%s skipped", b))
		default:
			parts = append(parts, fmt.Sprintf("%s %s", b, d.Status))
		}
	}
	parts = append(parts, "total "+roundMs(rs.Elapsed).String())
	return strings.Join(parts, " · ")
}

// IngestReports renders one line per ingestion.
func (w *Writer) IngestReports(reports []ingest.Report) {
	for _, r := range reports {
		switch r.Status {
		case ingest.StatusOK:
			w.Successf("%s: %d chunks (%s)", r.DocumentID, r.Chunks, roundMs(r.Elapsed))
		case ingest.StatusPartial:
			var failed []string
			for name, b := range r.Backends {
				if !b.OK {
					failed = append(failed, name+": "+b.Error)
				}
			}
			sort.Strings(failed)
			w.Warningf("%s: %d chunks, partial (%s)", r.DocumentID, r.Chunks, strings.Join(failed, "; "))
		default:
			w.Errorf("%s: %s", r.DocumentID, r.Error)
		}
		if r.PrunedChunks > 0 {
			w.Statusf("", "pruned %d stale chunks", r.PrunedChunks)
		}
	}
}

// Documents renders the registry listing as a table.
func (w *Writer) Documents(docs []*store.Document) {
	if len(docs) == 0 {
		_, _ = fmt.Fprintln(w.out, w.styles.Dim.Render("no documents"))
		return
	}

	idWidth := len("DOCUMENT")
	for _, d := range docs {
		if len(d.ID) > idWidth {
			idWidth = len(d.ID)
		}
	}

	header := fmt.Sprintf("%-*s  %-8s  %6s  %10s  %s", idWidth, "DOCUMENT", "STATUS", "CHUNKS", "SIZE", "INDEXED")
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(header))
	for _, d := range docs {
		indexed := "-"
		if !d.IndexedAt.IsZero() {
			indexed = d.IndexedAt.Local().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w.out, "%-*s  %-8s  %6d  %10s  %s\n",
			idWidth, d.ID, d.Status, d.ChunkCount, humanBytes(d.SizeBytes), indexed)
	}
}

func sourceList(sources []search.Source) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return "[" + strings.Join(names, "+") + "]"
}

// oneLine collapses whitespace and cuts s to width runes.
func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width]) + "…"
}

func roundMs(d time.Duration) time.Duration {
	if d < time.Millisecond {
		return d.Round(time.Microsecond)
	}
	return d.Round(time.Millisecond)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

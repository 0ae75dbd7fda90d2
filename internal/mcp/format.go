package mcp

import (
	"fmt"
	"strings"
)

// FormatSearchResults renders a search as markdown.
func FormatSearchResults(out SearchOutput) string {
	var sb strings.Builder

	if len(out.Documents) == 0 && len(out.Entities) == 0 {
		if out.AllUnavailable {
			fmt.Fprintf(&sb, "No results for \"%s\": all backends are unavailable.\n\n", out.Query)
		} else {
			fmt.Fprintf(&sb, "No results found for \"%s\"\n\n", out.Query)
		}
		formatBackends(&sb, out.Backends)
		return sb.String()
	}

	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", out.Query)
	if out.RewrittenQuery != "" {
		fmt.Fprintf(&sb, "_Searched documents as:_ %s\n\n", out.RewrittenQuery)
	}

	if out.Answer != "" {
		fmt.Fprintf(&sb, "**Answer:** %s\n\n", out.Answer)
	} else if out.SynthesisStatus != "" && out.SynthesisStatus != "ok" && out.SynthesisStatus != "skipped" {
		fmt.Fprintf(&sb, "_No answer generated (synthesis %s)._\n\n", out.SynthesisStatus)
	}

	if len(out.Documents) > 0 {
		fmt.Fprintf(&sb, "Found %d document result", len(out.Documents))
		if len(out.Documents) != 1 {
			sb.WriteString("s")
		}
		sb.WriteString("\n\n")
		for i, d := range out.Documents {
			formatDocumentHit(&sb, i+1, d)
		}
	}

	if len(out.Entities) > 0 {
		sb.WriteString("### Knowledge Graph\n\n")
		for _, e := range out.Entities {
			fmt.Fprintf(&sb, "- **%s**", e.Label)
			if len(e.Labels) > 0 {
				fmt.Fprintf(&sb, " (%s)", strings.Join(e.Labels, ", "))
			}
			fmt.Fprintf(&sb, " %s match, score %.2f\n", e.MatchKind, e.Score)
		}
		sb.WriteString("\n")
	}

	formatBackends(&sb, out.Backends)
	return sb.String()
}

func formatDocumentHit(sb *strings.Builder, num int, d DocumentHit) {
	fmt.Fprintf(sb, "### %d. %s (score: %.2f, %s)\n", num, d.DocumentID, d.Score, strings.Join(d.Sources, "+"))
	fmt.Fprintf(sb, "`%s`\n\n", d.ChunkID)
	if d.Snippet != "" {
		for _, line := range strings.Split(strings.TrimSpace(d.Snippet), "\n") {
			fmt.Fprintf(sb, "> %s\n", line)
		}
		sb.WriteString("\n")
	}
}

func formatBackends(sb *strings.Builder, backends map[string]BackendOutcome) {
	if len(backends) == 0 {
		return
	}
	parts := make([]string, 0, len(backends))
	for _, name := range sortedBackends(backends) {
		b := backends[name]
		switch b.Status {
		case "ok":
			parts = append(parts, fmt.Sprintf("%s ok (%d, %dms)", name, b.Hits, b.LatencyMs))
		default:
			parts = append(parts, name+" "+b.Status)
		}
	}
	fmt.Fprintf(sb, "---\nBackends: %s\n", strings.Join(parts, " · "))
}

// FormatIngestReport renders an ingestion report as markdown.
func FormatIngestReport(path string, out IngestFileOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Ingested %s\n\n", path)
	fmt.Fprintf(&sb, "- **Document:** `%s`\n", out.DocumentID)
	fmt.Fprintf(&sb, "- **Status:** %s\n", out.Status)
	fmt.Fprintf(&sb, "- **Chunks:** %d\n", out.Chunks)
	if out.PrunedChunks > 0 {
		fmt.Fprintf(&sb, "- **Pruned stale chunks:** %d\n", out.PrunedChunks)
	}
	for _, name := range []string{"keyword", "vector", "graph"} {
		if v, ok := out.Backends[name]; ok {
			fmt.Fprintf(&sb, "- **%s:** %s\n", name, v)
		}
	}
	if out.Error != "" {
		fmt.Fprintf(&sb, "- **Error:** %s", out.Error)
		if out.ErrorCode != "" {
			fmt.Fprintf(&sb, " (`%s`)", out.ErrorCode)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatDocumentList renders the registry as a markdown table.
func FormatDocumentList(out ListDocumentsOutput) string {
	if out.Count == 0 {
		return "No documents have been ingested yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Documents (%d)\n\n", out.Count)
	sb.WriteString("| ID | Type | Size | Chunks | Status | Indexed |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, d := range out.Documents {
		fmt.Fprintf(&sb, "| %s | %s | %s | %d | %s | %s |\n",
			d.ID, d.MIMEType, humanSize(d.SizeBytes), d.Chunks, d.Status, d.IndexedAt)
	}
	return sb.String()
}

// FormatGraphNeighbors renders a node's relationships as a markdown list.
func FormatGraphNeighbors(out GraphNeighborsOutput) string {
	if out.Count == 0 {
		return fmt.Sprintf("Node `%s` has no relationships.", out.NodeID)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Neighbours of `%s` (%d)\n\n", out.NodeID, out.Count)
	for _, e := range out.Edges {
		rel := "-[" + e.Type + "]->"
		if e.Direction == "in" {
			rel = "<-[" + e.Type + "]-"
		}
		fmt.Fprintf(&sb, "- %s **%s**", rel, e.Label)
		if len(e.NodeLabels) > 0 {
			fmt.Fprintf(&sb, " (%s)", strings.Join(e.NodeLabels, ", "))
		}
		fmt.Fprintf(&sb, " `%s`\n", e.NodeID)
	}
	return sb.String()
}

// FormatBackendStatus renders service health as markdown.
func FormatBackendStatus(out BackendStatusOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## hybridrag %s: %s\n\n", out.Version, out.Status)
	fmt.Fprintf(&sb, "%d documents, %d chunks\n\n", out.Documents, out.Chunks)

	sb.WriteString("| Backend | Status | Detail |\n")
	sb.WriteString("|---|---|---|\n")
	for _, b := range out.Backends {
		detail := b.Message
		if b.Breaker != "" && b.Breaker != "closed" {
			detail = strings.TrimSpace(detail + " (breaker " + b.Breaker + ")")
		}
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", b.Name, b.Status, detail)
	}

	if q := out.Queries; q != nil && q.Total > 0 {
		fmt.Fprintf(&sb, "\n%d queries, %d with no results, %d with every backend down\n",
			q.Total, q.ZeroResults, q.AllUnavailable)
	}
	return sb.String()
}

// humanSize formats bytes for display.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

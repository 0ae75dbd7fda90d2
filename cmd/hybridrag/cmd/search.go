package cmd

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/output"
	"github.com/Aman-CERP/hybridrag/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	scope      string
	limit      int
	threshold  float64
	synthesize bool
	jsonOutput bool
}

func newSearchCmd(s *state) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search documents and the knowledge graph",
		Long: `Run a hybrid search.

Keyword (BM25) and vector scores are min-max normalised and fused with
the configured weights. Graph matches are ranked separately. A backend
that times out or is down is reported, not fatal.

Scopes: all (default), documents-only, graph-only.`,
		Example: `  hybridrag search "supplier delays"
  hybridrag search "Acme Corp" --scope graph-only
  hybridrag search "penalty clause" --limit 5 --threshold 0.4 --synthesize
  hybridrag search "late shipments" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, s, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.scope, "scope", "s", string(search.ScopeAll), "all, documents-only or graph-only")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum document results (default: search.default_limit)")
	cmd.Flags().Float64VarP(&opts.threshold, "threshold", "t", 0, "Minimum combined score for documents")
	cmd.Flags().BoolVar(&opts.synthesize, "synthesize", false, "Narrate the results with the synthesis model")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the result set as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, s *state, query string, opts searchOptions) error {
	scope, err := search.ParseScope(opts.scope)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := s.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	rs, err := a.Engine.Search(ctx, search.Params{
		Query:      query,
		Scope:      scope,
		Synthesize: opts.synthesize,
		Limit:      opts.limit,
		Threshold:  opts.threshold,
	})
	if err != nil {
		return err
	}
	slog.Info("cli_search_complete",
		slog.Int("documents", len(rs.Documents)),
		slog.Int("graph", len(rs.Graph)),
		slog.Bool("all_unavailable", rs.AllUnavailable))

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	}
	output.New(cmd.OutOrStdout()).SearchResults(rs)
	return nil
}

package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/mcp"
)

func newMCPCmd(s *state) *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Tools: search, ingest_file, list_documents, backend_status.
Resources: hybridrag://documents and hybridrag://documents/{id}.

stdout carries JSON-RPC only; logs go to the log file in the data
directory. Use 'hybridrag doctor' to diagnose backends.`,
		Example: `  # Claude Desktop / Cursor configuration
  {"command": "hybridrag", "args": ["mcp", "--root", "/srv/docs"]}`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationStdio: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := s.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv, err := mcp.NewServer(mcp.Deps{
				Search:    a.Engine,
				Ingest:    a.Pipeline,
				Documents: a.Registry,
				Status:    a.Health,
				Graph:     a.GraphExpander(),
				MaxBytes:  a.Config.Ingest.MaxBytes,
				Root:      root,
			}, slog.Default())
			if err != nil {
				return err
			}
			return srv.Serve(ctx, "stdio")
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Only allow ingest_file under this directory")

	return cmd
}

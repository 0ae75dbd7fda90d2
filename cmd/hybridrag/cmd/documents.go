package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/api"
	"github.com/Aman-CERP/hybridrag/internal/output"
)

func newDocumentsCmd(s *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List or delete ingested documents",
	}

	cmd.AddCommand(newDocumentsListCmd(s))
	cmd.AddCommand(newDocumentsDeleteCmd(s))

	return cmd
}

func newDocumentsListCmd(s *state) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := s.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			docs, err := a.Registry.ListDocuments(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(api.NewDocumentList(docs))
			}
			output.New(cmd.OutOrStdout()).Documents(docs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newDocumentsDeleteCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>...",
		Aliases: []string{"rm"},
		Short:   "Remove documents from every index",
		Example: `  hybridrag documents delete contracts.pdf`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.openApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out := output.New(cmd.OutOrStdout())
			for _, id := range args {
				if err := a.Pipeline.Delete(ctx, id); err != nil {
					return err
				}
				out.Successf("Deleted %s", id)
			}
			return nil
		},
	}
}

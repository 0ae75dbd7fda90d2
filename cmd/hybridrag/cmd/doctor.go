package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/app"
	"github.com/Aman-CERP/hybridrag/internal/preflight"
)

// errDoctorFailed is returned when a required check fails.
var errDoctorFailed = errors.New("system check failed")

// doctorReport is the JSON output of doctor.
type doctorReport struct {
	Status   string                  `json:"status"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func newDoctorCmd(s *state) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check every backend and the data directory",
		Long: `Run diagnostics against the configured backends.

Checks:
  - data directory writable, disk space, file descriptor limit
  - embeddings: Ollama reachable and the model installed (required)
  - index_dimensions: stored vectors match the embedder (required)
  - tika: extraction server version
  - graph: Neo4j connectivity
  - synthesis: OpenAI-compatible endpoint and model

Only required checks fail the command. Disabled backends are skipped.
Doctor takes no lock and can run while 'serve' is up.`,
		Example: `  hybridrag doctor
  hybridrag doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := s.config()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			probes, cleanup := app.DoctorProbes(ctx, cfg)
			defer cleanup()

			checker := preflight.New(
				preflight.WithVerbose(verbose),
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithProbeTimeout(timeout),
			)
			results := checker.RunAll(ctx, cfg.DataDir, probes...)

			if jsonOutput {
				if err := writeDoctorJSON(cmd, checker, results); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
				if age := preflight.MarkerAge(cfg.DataDir); age > 0 {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nLast passed startup check: %s ago\n", age.Round(time.Second))
				}
			}

			if checker.HasCriticalFailures(results) {
				return errDoctorFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for every check")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", preflight.DefaultProbeTimeout, "Timeout per backend probe")

	return cmd
}

func writeDoctorJSON(cmd *cobra.Command, checker *preflight.Checker, results []preflight.CheckResult) error {
	out := doctorReport{Status: checker.SummaryStatus(results), Checks: results}
	for _, r := range results {
		if r.IsCritical() {
			out.Errors = append(out.Errors, r.Name+": "+r.Message)
		} else if r.Status == preflight.StatusWarn || r.Status == preflight.StatusFail {
			out.Warnings = append(out.Warnings, r.Name+": "+r.Message)
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

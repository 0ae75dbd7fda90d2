package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/output"
)

type ingestOptions struct {
	id         string
	jsonOutput bool
}

func newIngestCmd(s *state) *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file|dir>...",
		Short: "Ingest documents into the indexes",
		Long: `Extract, chunk, embed and index documents.

Directories are read one level deep; hidden files are skipped.
Re-ingesting a document replaces its chunks. A failure on one document
never stops the others.`,
		Example: `  hybridrag ingest contracts.pdf notes.md
  hybridrag ingest ./inbox --json
  hybridrag ingest report-v2.pdf --id report.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, s, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Document ID (single file only; default: file name)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output reports as JSON")

	return cmd
}

func runIngest(cmd *cobra.Command, s *state, args []string, opts ingestOptions) error {
	files, err := expandPaths(args)
	if err != nil {
		return err
	}
	if opts.id != "" && len(files) != 1 {
		return apperrors.ValidationError("--id needs exactly one file", nil)
	}

	ctx := cmd.Context()
	a, err := s.openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	reports := ingestFiles(ctx, a.Pipeline, files, opts.id, a.Config.Ingest.MaxBytes)

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			return err
		}
	} else {
		output.New(cmd.OutOrStdout()).IngestReports(reports)
	}

	failed := 0
	for _, r := range reports {
		if r.Status == ingest.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(reports))
	}
	return nil
}

type batchIngester interface {
	IngestBatch(ctx context.Context, docs []ingest.Document) []ingest.Report
}

// ingestFiles reads and ingests files. Oversized or unreadable files get a
// failed report without reaching the pipeline.
func ingestFiles(ctx context.Context, p batchIngester, files []string, id string, maxBytes int64) []ingest.Report {
	reports := make([]ingest.Report, len(files))
	var docs []ingest.Document
	var slots []int

	for i, path := range files {
		name := filepath.Base(path)
		content, err := readFile(path, maxBytes)
		if err != nil {
			reports[i] = failedReport(name, err)
			continue
		}
		docs = append(docs, ingest.Document{
			ID:         id,
			Name:       name,
			Content:    content,
			UploadedAt: time.Now().UTC(),
		})
		slots = append(slots, i)
	}

	for j, r := range p.IngestBatch(ctx, docs) {
		reports[slots[j]] = r
	}
	return reports
}

func readFile(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFileNotFound, err.Error(), err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, apperrors.PayloadTooLarge(info.Size(), maxBytes)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeFilePermission, err.Error(), err)
	}
	return content, nil
}

func failedReport(name string, err error) ingest.Report {
	return ingest.Report{
		DocumentID: name,
		Name:       name,
		Status:     ingest.StatusFailed,
		Error:      err.Error(),
		ErrorCode:  apperrors.GetCode(err),
		Err:        err,
	}
}

// expandPaths replaces directories with the regular files directly in them.
func expandPaths(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			// Reported per file by ingestFiles.
			files = append(files, arg)
			continue
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	if len(files) == 0 {
		return nil, apperrors.ValidationError("no files to ingest", nil)
	}
	return files, nil
}

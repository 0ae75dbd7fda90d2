package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
)

// Sink receives drop-folder changes. *ingest.Pipeline implements it.
type Sink interface {
	Ingest(ctx context.Context, doc ingest.Document) ingest.Report
	Delete(ctx context.Context, docID string) error
}

// DropOptions configures a DropWatcher.
type DropOptions struct {
	// MaxBytes skips files larger than this without reading them.
	// Zero uses ingest.DefaultMaxBytes.
	MaxBytes int64

	// OnReport, if set, is called after every ingestion.
	OnReport func(ingest.Report)
}

// DropWatcher ingests files dropped into a folder and removes documents
// whose files disappear.
type DropWatcher struct {
	src  *Source
	sink Sink
	opts DropOptions
}

// NewDropWatcher connects src to sink.
func NewDropWatcher(src *Source, sink Sink, opts DropOptions) *DropWatcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = ingest.DefaultMaxBytes
	}
	return &DropWatcher{src: src, sink: sink, opts: opts}
}

// Run watches dir until ctx is done. Batches are applied in order; a
// failure on one file is logged and never stops the watcher.
func (w *DropWatcher) Run(ctx context.Context, dir string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- w.src.Run(ctx, dir) }()

	for batch := range w.src.Events() {
		for _, ev := range batch {
			w.apply(ctx, ev)
		}
	}
	return <-errCh
}

func (w *DropWatcher) apply(ctx context.Context, ev FileEvent) {
	if ev.Operation == OpDelete {
		err := w.sink.Delete(ctx, ev.Name)
		switch {
		case err == nil:
			slog.Info("watch_document_removed", slog.String("document", ev.Name))
		case errors.Is(err, apperrors.ErrDocumentNotFound):
		default:
			slog.Warn("watch_delete_failed", slog.String("document", ev.Name), slog.String("error", err.Error()))
		}
		return
	}

	content, err := w.read(ev.Path)
	if err != nil {
		slog.Warn("watch_read_failed", slog.String("file", ev.Path), slog.String("error", err.Error()))
		return
	}

	report := w.sink.Ingest(ctx, ingest.Document{
		ID:         ev.Name,
		Name:       ev.Name,
		Content:    content,
		UploadedAt: ev.Timestamp,
	})
	level := slog.LevelInfo
	if report.Status != ingest.StatusOK {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "watch_ingested",
		slog.String("document", report.DocumentID),
		slog.String("op", ev.Operation.String()),
		slog.String("status", string(report.Status)),
		slog.Int("chunks", report.Chunks),
		slog.String("error", report.Error))

	if w.opts.OnReport != nil {
		w.opts.OnReport(report)
	}
}

// read loads a file, refusing anything over the size limit.
func (w *DropWatcher) read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, w.opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > w.opts.MaxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", apperrors.ErrPayloadTooLarge, w.opts.MaxBytes)
	}
	return data, nil
}

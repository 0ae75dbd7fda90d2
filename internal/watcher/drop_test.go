package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
)

// fakeSink records what the drop watcher asked for.
type fakeSink struct {
	mu       sync.Mutex
	ingested []ingest.Document
	deleted  []string
}

func (f *fakeSink) Ingest(_ context.Context, doc ingest.Document) ingest.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, doc)
	return ingest.Report{DocumentID: doc.ID, Status: ingest.StatusOK, Chunks: 1}
}

func (f *fakeSink) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if id == "unknown.txt" {
		return apperrors.New(apperrors.ErrCodeDocumentNotFound, "document not found", nil)
	}
	return nil
}

func (f *fakeSink) ingestedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.ingested))
	for i, d := range f.ingested {
		names[i] = d.ID
	}
	return names
}

func (f *fakeSink) deletedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// startDropWatcher runs a DropWatcher on a temp dir and waits until it
// is watching.
func startDropWatcher(t *testing.T, opts Options, dopts DropOptions) (string, *fakeSink, *Source) {
	t.Helper()
	dir := t.TempDir()
	sink := &fakeSink{}
	src := NewSource(opts)
	dw := NewDropWatcher(src, sink, dopts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dw.Run(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("drop watcher did not stop")
		}
	})

	require.Eventually(t, func() bool { return src.Mode() != "" }, time.Second, 5*time.Millisecond)
	if src.Mode() == ModePolling {
		// let the baseline scan finish
		time.Sleep(50 * time.Millisecond)
	}
	return dir, sink, src
}

func fastOptions(polling bool) Options {
	return Options{DebounceWindow: 20 * time.Millisecond, PollInterval: 20 * time.Millisecond, ForcePolling: polling}
}

func TestDropWatcher_IngestsAndDeletes(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := ModeFsnotify
		if polling {
			name = ModePolling
		}
		t.Run(name, func(t *testing.T) {
			// Given: a running drop watcher
			dir, sink, src := startDropWatcher(t, fastOptions(polling), DropOptions{})
			if polling {
				assert.Equal(t, ModePolling, src.Mode())
			}

			// When: a file is dropped in
			writeFile(t, dir, "contract.txt", "Acme Corp shall deliver within 30 days.")

			// Then: it is ingested under its base name
			require.Eventually(t, func() bool {
				return assert.ObjectsAreEqual([]string{"contract.txt"}, sink.ingestedNames())
			}, 2*time.Second, 10*time.Millisecond)

			sink.mu.Lock()
			doc := sink.ingested[0]
			sink.mu.Unlock()
			assert.Equal(t, "contract.txt", doc.Name)
			assert.Equal(t, "Acme Corp shall deliver within 30 days.", string(doc.Content))

			// When: the file is removed
			require.NoError(t, os.Remove(filepath.Join(dir, "contract.txt")))

			// Then: the document is deleted
			require.Eventually(t, func() bool {
				return assert.ObjectsAreEqual([]string{"contract.txt"}, sink.deletedNames())
			}, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestDropWatcher_SkipsOversizedFiles(t *testing.T) {
	var reports []ingest.Report
	var mu sync.Mutex
	dir, sink, _ := startDropWatcher(t, fastOptions(true), DropOptions{
		MaxBytes: 8,
		OnReport: func(r ingest.Report) {
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		},
	})

	writeFile(t, dir, "a-big.txt", "far more than eight bytes")
	writeFile(t, dir, "b-small.txt", "tiny")

	require.Eventually(t, func() bool {
		return len(sink.ingestedNames()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"b-small.txt"}, sink.ingestedNames())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 1)
	assert.Equal(t, ingest.StatusOK, reports[0].Status)
}

func TestDropWatcher_DeleteOfUnknownDocumentIsQuiet(t *testing.T) {
	sink := &fakeSink{}
	dw := NewDropWatcher(NewSource(DefaultOptions()), sink, DropOptions{})

	dw.apply(context.Background(), FileEvent{Name: "unknown.txt", Operation: OpDelete})

	assert.Equal(t, []string{"unknown.txt"}, sink.deletedNames())
	assert.Empty(t, sink.ingestedNames())
}

func TestDropWatcher_MissingDir(t *testing.T) {
	dw := NewDropWatcher(NewSource(DefaultOptions()), &fakeSink{}, DropOptions{})

	err := dw.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))

	assert.Error(t, err)
}

func TestDropWatcher_FileIsNotADirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "plain.txt", "x")
	dw := NewDropWatcher(NewSource(DefaultOptions()), &fakeSink{}, DropOptions{})

	err := dw.Run(context.Background(), filepath.Join(dir, "plain.txt"))

	assert.Error(t, err)
}

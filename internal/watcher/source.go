package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watch modes.
const (
	ModeFsnotify = "fsnotify"
	ModePolling  = "polling"
)

// Source watches one flat directory and emits debounced batches. It uses
// fsnotify and falls back to polling when fsnotify cannot watch the
// directory. Subdirectories are not watched.
type Source struct {
	opts      Options
	debouncer *Debouncer

	mu   sync.RWMutex
	mode string
	root string
}

// NewSource creates a Source.
func NewSource(opts Options) *Source {
	opts = opts.WithDefaults()
	return &Source{opts: opts, debouncer: NewDebouncer(opts.DebounceWindow)}
}

// Events returns the channel of debounced batches. It is closed when Run
// returns.
func (s *Source) Events() <-chan []FileEvent {
	return s.debouncer.Output()
}

// Mode returns ModeFsnotify or ModePolling once Run has started.
func (s *Source) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Run watches dir until ctx is done. It returns an error immediately if
// dir is not a readable directory, and nil on cancellation.
func (s *Source) Run(ctx context.Context, dir string) error {
	defer s.debouncer.Stop()

	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve watch dir: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch dir %s is not a directory", root)
	}

	s.mu.Lock()
	s.root = root
	s.mu.Unlock()

	if !s.opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fsw.Add(root); err == nil {
				return s.runFsnotify(ctx, fsw)
			}
			_ = fsw.Close()
		}
		slog.Warn("fsnotify_unavailable_polling",
			slog.String("dir", root),
			slog.String("error", err.Error()))
	}
	return s.runPolling(ctx, root)
}

func (s *Source) setMode(m string) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	slog.Info("watch_started", slog.String("dir", s.root), slog.String("mode", m))
}

func (s *Source) runFsnotify(ctx context.Context, fsw *fsnotify.Watcher) error {
	defer func() { _ = fsw.Close() }()
	s.setMode(ModeFsnotify)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if fe, ok := s.convert(ev); ok {
				s.debouncer.Add(fe)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (s *Source) runPolling(ctx context.Context, root string) error {
	s.setMode(ModePolling)
	err := newPoller(root, s.opts).run(ctx, s.debouncer.Add)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// convert maps an fsnotify event onto a FileEvent. Renames arrive for the
// old name, so they count as deletions; the new name gets its own Create.
func (s *Source) convert(ev fsnotify.Event) (FileEvent, bool) {
	name := filepath.Base(ev.Name)
	if s.opts.ignored(name) {
		return FileEvent{}, false
	}

	fe := FileEvent{Name: name, Path: ev.Name}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		fe.Operation = OpDelete
	case ev.Has(fsnotify.Create):
		fe.Operation = OpCreate
	case ev.Has(fsnotify.Write):
		fe.Operation = OpModify
	default:
		return FileEvent{}, false
	}

	if fe.Operation != OpDelete {
		info, err := os.Stat(ev.Name)
		if err != nil || !info.Mode().IsRegular() {
			return FileEvent{}, false
		}
		fe.Timestamp = info.ModTime()
	}
	return fe, true
}

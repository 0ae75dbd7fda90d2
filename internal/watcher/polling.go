package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// poller detects changes by rescanning the folder on an interval. It is
// the fallback when fsnotify cannot be used.
type poller struct {
	root     string
	interval time.Duration
	opts     Options
	state    map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

func newPoller(root string, opts Options) *poller {
	return &poller{root: root, interval: opts.PollInterval, opts: opts, state: make(map[string]fileSnapshot)}
}

// run scans until ctx is done, passing every detected change to emit.
// The first scan only records a baseline.
func (p *poller) run(ctx context.Context, emit func(FileEvent)) error {
	current, err := p.scan()
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	p.state = current

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, ev := range p.detectChanges() {
				emit(ev)
			}
		}
	}
}

func (p *poller) scan() (map[string]fileSnapshot, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, err
	}
	out := make(map[string]fileSnapshot, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || p.opts.ignored(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
	}
	return out, nil
}

// detectChanges diffs a fresh scan against the previous one. A failed
// scan reports nothing and keeps the old state.
func (p *poller) detectChanges() []FileEvent {
	current, err := p.scan()
	if err != nil {
		return nil
	}

	now := time.Now()
	var events []FileEvent
	for name, snap := range current {
		prev, ok := p.state[name]
		switch {
		case !ok:
			events = append(events, p.event(name, OpCreate, now))
		case prev != snap:
			events = append(events, p.event(name, OpModify, now))
		}
	}
	for name := range p.state {
		if _, ok := current[name]; !ok {
			events = append(events, p.event(name, OpDelete, now))
		}
	}
	p.state = current
	return events
}

func (p *poller) event(name string, op Operation, at time.Time) FileEvent {
	return FileEvent{Name: name, Path: filepath.Join(p.root, name), Operation: op, Timestamp: at}
}

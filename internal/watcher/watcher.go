package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation is a file system operation.
type Operation int

const (
	// OpCreate is a new file in the folder.
	OpCreate Operation = iota
	// OpModify is a rewrite of an existing file.
	OpModify
	// OpDelete is a file removed or moved out of the folder.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a file in the watched folder.
type FileEvent struct {
	// Name is the file's base name; it doubles as the document ID.
	Name string

	// Path is the absolute path of the file.
	Path string

	Operation Operation
	Timestamp time.Time
}

// Options configures a Source.
type Options struct {
	// DebounceWindow is how long a file must stay quiet before its
	// coalesced event is emitted. Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the scan interval in polling mode. Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the capacity of the batch channel. Default: 64
	EventBufferSize int

	// ForcePolling skips fsnotify entirely.
	ForcePolling bool

	// IgnorePatterns are filepath.Match patterns on the base name, in
	// addition to hidden and partial-download files.
	IgnorePatterns []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    2 * time.Second,
		EventBufferSize: 64,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// partialSuffixes mark files still being written by editors and browsers.
var partialSuffixes = []string{"~", ".tmp", ".part", ".crdownload", ".swp", ".download"}

// ignored reports whether a base name should never be ingested.
func (o Options) ignored(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return true
	}
	lower := strings.ToLower(name)
	for _, s := range partialSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	for _, p := range o.IgnorePatterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

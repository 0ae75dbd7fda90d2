package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	apperrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// LockFileName is created inside the data directory.
const LockFileName = ".hybridrag.lock"

// DataDirLock is an exclusive cross-process lock on a data directory.
// The embedded indexes are single-writer, so only one process may open them.
type DataDirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataDirLock creates an unlocked lock for dir.
func NewDataDirLock(dir string) *DataDirLock {
	p := filepath.Join(dir, LockFileName)
	return &DataDirLock{path: p, flock: flock.New(p)}
}

// TryLock acquires the lock without blocking. A lock held by another
// process is reported as ERR_103_DATA_DIR_LOCKED.
func (l *DataDirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return apperrors.New(apperrors.ErrCodeDataDirLocked,
			"data directory is in use by another hybridrag process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("Stop the other process (serve, mcp or watch) or set a different data_dir")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. It is safe to call on an unlocked lock.
func (l *DataDirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataDirLock) Path() string {
	return l.path
}

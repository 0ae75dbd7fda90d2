package logging

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns ~/.hybridrag, or a temp-dir fallback when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hybridrag")
	}
	return filepath.Join(home, ".hybridrag")
}

// LogPath returns the server log path inside dataDir.
func LogPath(dataDir string) string {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	return filepath.Join(dataDir, "logs", "server.log")
}

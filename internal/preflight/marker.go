package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MarkerFile records that the doctor checks passed for a data directory.
// serve runs the checks on first start, and again whenever the backend
// fingerprint changes.
const MarkerFile = ".doctor-passed"

// NeedsCheck reports whether the checks should run: there is no marker,
// or it was written for a different fingerprint.
func NeedsCheck(dataDir, fingerprint string) bool {
	_, fp, ok := readMarker(dataDir)
	return !ok || fp != fingerprint
}

// MarkPassed writes the marker for fingerprint.
func MarkPassed(dataDir, fingerprint string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := time.Now().UTC().Format(time.RFC3339) + "\n" + fingerprint + "\n"
	return os.WriteFile(filepath.Join(dataDir, MarkerFile), []byte(content), 0o644)
}

// ClearMarker removes the marker, forcing a re-check on next start.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, MarkerFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}

// MarkerAge returns how long ago the checks passed, or zero.
func MarkerAge(dataDir string) time.Duration {
	at, _, ok := readMarker(dataDir)
	if !ok {
		return 0
	}
	return time.Since(at)
}

// Fingerprint joins the settings that, when changed, warrant a re-check.
func Fingerprint(parts ...string) string {
	return strings.Join(parts, "|")
}

func readMarker(dataDir string) (time.Time, string, bool) {
	content, err := os.ReadFile(filepath.Join(dataDir, MarkerFile))
	if err != nil {
		return time.Time{}, "", false
	}
	lines := strings.SplitN(strings.TrimRight(string(content), "\n"), "\n", 2)
	at, err := time.Parse(time.RFC3339, lines[0])
	if err != nil {
		return time.Time{}, "", false
	}
	fp := ""
	if len(lines) == 2 {
		fp = lines[1]
	}
	return at, fp, true
}

package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func opsByName(events []FileEvent) map[string]Operation {
	out := make(map[string]Operation, len(events))
	for _, e := range events {
		out[e.Name] = e.Operation
	}
	return out
}

func TestPoller_DetectsCreateModifyDelete(t *testing.T) {
	// Given: a folder with two files and a baseline scan
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "v1")
	writeFile(t, dir, "gone.txt", "bye")

	p := newPoller(dir, DefaultOptions())
	state, err := p.scan()
	require.NoError(t, err)
	p.state = state

	// When: one file changes, one disappears and one appears
	writeFile(t, dir, "keep.txt", "version two")
	require.NoError(t, os.Remove(filepath.Join(dir, "gone.txt")))
	writeFile(t, dir, "new.txt", "hello")

	events := p.detectChanges()

	// Then: each change is reported once
	assert.Equal(t, map[string]Operation{
		"keep.txt": OpModify,
		"gone.txt": OpDelete,
		"new.txt":  OpCreate,
	}, opsByName(events))

	for _, e := range events {
		assert.Equal(t, filepath.Join(dir, e.Name), e.Path)
	}

	// And: a second scan with no changes is quiet
	assert.Empty(t, p.detectChanges())
}

func TestPoller_SkipsIgnoredAndDirectories(t *testing.T) {
	dir := t.TempDir()
	p := newPoller(dir, Options{IgnorePatterns: []string{"*.log"}}.WithDefaults())
	p.state = map[string]fileSnapshot{}

	writeFile(t, dir, ".hidden", "x")
	writeFile(t, dir, "upload.pdf.part", "x")
	writeFile(t, dir, "server.log", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, dir, "memo.txt", "x")

	events := p.detectChanges()

	assert.Equal(t, map[string]Operation{"memo.txt": OpCreate}, opsByName(events))
}

func TestPoller_MissingDirKeepsState(t *testing.T) {
	dir := t.TempDir()
	p := newPoller(dir, DefaultOptions())
	p.state = map[string]fileSnapshot{"a.txt": {modTime: time.Now(), size: 1}}

	require.NoError(t, os.RemoveAll(dir))

	assert.Empty(t, p.detectChanges())
	assert.Len(t, p.state, 1)
}

func TestOptions_Ignored(t *testing.T) {
	o := Options{IgnorePatterns: []string{"draft-*"}}

	assert.True(t, o.ignored(""))
	assert.True(t, o.ignored(".DS_Store"))
	assert.True(t, o.ignored("notes.txt~"))
	assert.True(t, o.ignored("big.PDF.crdownload"))
	assert.True(t, o.ignored("draft-1.txt"))
	assert.False(t, o.ignored("contract.pdf"))
}

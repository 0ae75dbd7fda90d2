package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return t.TempDir()
}

func TestNewConfig_DefaultsAreValid(t *testing.T) {
	cfg := NewConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.6, cfg.Search.VectorWeight)
	assert.Equal(t, 0.4, cfg.Search.KeywordWeight)
	assert.Equal(t, 3*time.Second, cfg.Search.BackendTimeout.Std())
	assert.Equal(t, 0.5, cfg.Chunking.Overlap)
	assert.Equal(t, 32, cfg.Ingest.EmbedBatchSize)
}

func TestLoad_ProjectFileOverridesDefaults(t *testing.T) {
	// Given: a project file changing weights and a timeout
	dir := isolate(t)
	yamlBody := `
search:
  vector_weight: 0.7
  keyword_weight: 0.3
  backend_timeout: 500ms
chunking:
  overlap: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte(yamlBody), 0o644))

	// When: loading
	cfg, err := Load(dir, "")
	require.NoError(t, err)

	// Then: overridden keys change, explicit zero wins, others keep defaults
	assert.Equal(t, 0.7, cfg.Search.VectorWeight)
	assert.Equal(t, 500*time.Millisecond, cfg.Search.BackendTimeout.Std())
	assert.Equal(t, 0.0, cfg.Chunking.Overlap)
	assert.Equal(t, 8*time.Second, cfg.Search.OverallTimeout.Std())
}

func TestLoad_UserThenProjectPrecedence(t *testing.T) {
	dir := isolate(t)
	userPath := GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0o755))
	require.NoError(t, os.WriteFile(userPath, []byte("embeddings:\n  model: user-model\n  dimensions: 384\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProjectFileName), []byte("embeddings:\n  model: project-model\n"), 0o644))

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "project-model", cfg.Embeddings.Model)
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	dir := isolate(t)
	_, err := Load(dir, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesAndLegacyNames(t *testing.T) {
	dir := isolate(t)
	t.Setenv("NEO4J_URI", "bolt://graph:7687")
	t.Setenv("HYBRIDRAG_NEO4J_PASSWORD", "secret")
	t.Setenv("HYBRIDRAG_VECTOR_WEIGHT", "0.8")
	t.Setenv("HYBRIDRAG_GRAPH_ENABLED", "false")

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "bolt://graph:7687", cfg.Graph.URI)
	assert.Equal(t, "secret", cfg.Graph.Password)
	assert.Equal(t, 0.8, cfg.Search.VectorWeight)
	assert.InDelta(t, 0.2, cfg.Search.KeywordWeight, 1e-9)
	assert.False(t, cfg.Graph.Enabled)
	assert.Equal(t, "****", cfg.Redacted().Graph.Password)
	assert.Equal(t, "secret", cfg.Graph.Password)
}

func TestLoad_DotEnvFillsUnsetVariables(t *testing.T) {
	dir := isolate(t)
	// Setenv restores the original value on cleanup; the variable must be
	// absent (not empty) for godotenv to fill it.
	t.Setenv("TIKA_SERVER_URL", "placeholder")
	require.NoError(t, os.Unsetenv("TIKA_SERVER_URL"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TIKA_SERVER_URL=http://tika:9998\n"), 0o644))

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "http://tika:9998", cfg.Tika.URL)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights do not sum to one", func(c *Config) { c.Search.VectorWeight = 0.9 }},
		{"negative weight", func(c *Config) { c.Search.KeywordWeight = -0.1 }},
		{"threshold above one", func(c *Config) { c.Search.Threshold = 1.5 }},
		{"zero backend timeout", func(c *Config) { c.Search.BackendTimeout = 0 }},
		{"overlap of one", func(c *Config) { c.Chunking.Overlap = 1 }},
		{"tiny chunks", func(c *Config) { c.Chunking.MaxChars = 4 }},
		{"zero batch", func(c *Config) { c.Ingest.EmbedBatchSize = 0 }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "mlx" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"limit above max", func(c *Config) { c.Search.DefaultLimit = 500 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cfg := NewConfig()
	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend_timeout: 3s")

	loaded := NewConfig()
	loaded.Search.BackendTimeout = 0
	require.NoError(t, loaded.loadYAML(path))
	assert.Equal(t, 3*time.Second, loaded.Search.BackendTimeout.Std())
}

func TestParseDuration_BareSeconds(t *testing.T) {
	d, err := parseDuration("5")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	_, err = parseDuration("soon")
	assert.Error(t, err)
}

func TestBackupFile_KeepsNewest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	backup, err := BackupFile(path)
	require.NoError(t, err)
	assert.Empty(t, backup)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o600))
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupFile(path)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
}

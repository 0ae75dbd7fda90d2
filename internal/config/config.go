// Package config loads hybridrag configuration.
//
// Precedence, lowest first:
//  1. Hardcoded defaults (NewConfig)
//  2. User config (~/.config/hybridrag/config.yaml)
//  3. Project config (.hybridrag.yaml in the working directory, or an explicit path)
//  4. .env file in the working directory (only fills variables not already set)
//  5. Environment variables (HYBRIDRAG_* and the legacy backend names)
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProjectFileName is the per-directory config file.
const ProjectFileName = ".hybridrag.yaml"

// Config is the root configuration. Sections are handed to the adapters
// they configure; nothing here is read through globals.
type Config struct {
	Version    int              `yaml:"version"`
	DataDir    string           `yaml:"data_dir"`
	Search     SearchConfig     `yaml:"search"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Graph      GraphConfig      `yaml:"graph"`
	Tika       TikaConfig       `yaml:"tika"`
	Synthesis  SynthesisConfig  `yaml:"synthesis"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
}

// SearchConfig configures the fusion engine.
type SearchConfig struct {
	VectorWeight        float64  `yaml:"vector_weight"`
	KeywordWeight       float64  `yaml:"keyword_weight"`
	DefaultLimit        int      `yaml:"default_limit"`
	MaxLimit            int      `yaml:"max_limit"`
	Threshold           float64  `yaml:"threshold"`
	BackendTimeout      Duration `yaml:"backend_timeout"`
	OverallTimeout      Duration `yaml:"overall_timeout"`
	CandidateMultiplier int      `yaml:"candidate_multiplier"`
	RewriteQuery        bool     `yaml:"rewrite_query"`
}

// ChunkingConfig configures the sentence-aware chunker.
type ChunkingConfig struct {
	MaxChars            int     `yaml:"max_chars"`
	Overlap             float64 `yaml:"overlap"`
	MinSentenceFraction float64 `yaml:"min_sentence_fraction"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	MaxBytes       int64  `yaml:"max_bytes"`
	EmbedBatchSize int    `yaml:"embed_batch_size"`
	PruneOrphans   bool   `yaml:"prune_orphans"`
	LinkGraph      bool   `yaml:"link_graph"`
	WatchDir       string `yaml:"watch_dir"`
}

// EmbeddingsConfig configures the embedder.
type EmbeddingsConfig struct {
	Provider   string   `yaml:"provider"`
	Model      string   `yaml:"model"`
	Dimensions int      `yaml:"dimensions"`
	OllamaHost string   `yaml:"ollama_host"`
	Timeout    Duration `yaml:"timeout"`
	CacheSize  int      `yaml:"cache_size"`
}

// GraphConfig configures the Neo4j adapter.
type GraphConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URI           string   `yaml:"uri"`
	User          string   `yaml:"user"`
	Password      string   `yaml:"password"`
	Database      string   `yaml:"database"`
	LabelProperty string   `yaml:"label_property"`
	Timeout       Duration `yaml:"timeout"`
}

// TikaConfig configures the Tika extraction client.
type TikaConfig struct {
	Enabled bool     `yaml:"enabled"`
	URL     string   `yaml:"url"`
	Timeout Duration `yaml:"timeout"`
}

// SynthesisConfig configures the OpenAI-compatible generator.
type SynthesisConfig struct {
	Enabled      bool     `yaml:"enabled"`
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	Model        string   `yaml:"model"`
	TopN         int      `yaml:"top_n"`
	ExcerptChars int      `yaml:"excerpt_chars"`
	MaxTokens    int      `yaml:"max_tokens"`
	Timeout      Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	UploadRate  float64  `yaml:"upload_rate"`
	UploadBurst int      `yaml:"upload_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Stderr    bool   `yaml:"stderr"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// Duration is a time.Duration that reads and writes as "3s" in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Bare integers are seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return v, nil
}

// NewConfig returns the hardcoded defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Search: SearchConfig{
			VectorWeight:        0.6,
			KeywordWeight:       0.4,
			DefaultLimit:        10,
			MaxLimit:            100,
			Threshold:           0,
			BackendTimeout:      Duration(3 * time.Second),
			OverallTimeout:      Duration(8 * time.Second),
			CandidateMultiplier: 3,
		},
		Chunking: ChunkingConfig{
			MaxChars:            2048,
			Overlap:             0.5,
			MinSentenceFraction: 0.5,
		},
		Ingest: IngestConfig{
			MaxBytes:       50 << 20,
			EmbedBatchSize: 32,
			PruneOrphans:   true,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			OllamaHost: "http://localhost:11434",
			Timeout:    Duration(30 * time.Second),
			CacheSize:  1000,
		},
		Graph: GraphConfig{
			Enabled:       true,
			URI:           "bolt://localhost:7687",
			User:          "neo4j",
			Database:      "neo4j",
			LabelProperty: "name",
			Timeout:       Duration(5 * time.Second),
		},
		Tika: TikaConfig{
			Enabled: true,
			URL:     "http://localhost:9998",
			Timeout: Duration(60 * time.Second),
		},
		Synthesis: SynthesisConfig{
			Enabled:      true,
			BaseURL:      "http://localhost:11434/v1",
			Model:        "llama3",
			TopN:         5,
			ExcerptChars: 600,
			MaxTokens:    512,
			Timeout:      Duration(30 * time.Second),
		},
		Server: ServerConfig{
			Addr:        ":8000",
			CORSOrigins: []string{"http://localhost:3000"},
			UploadRate:  2,
			UploadBurst: 5,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hybridrag")
	}
	return filepath.Join(home, ".hybridrag")
}

// GetUserConfigPath returns the user config path, honouring XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hybridrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "hybridrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "hybridrag", "config.yaml")
}

// Load builds the configuration for dir. If path is non-empty it replaces
// the project file lookup and must exist.
func Load(dir, path string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAMLIfExists(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if err := cfg.loadYAMLIfExists(filepath.Join(dir, ProjectFileName)); err != nil {
		return nil, err
	}

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAMLIfExists(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return c.loadYAML(path)
}

// loadYAML decodes path over the current values; keys absent from the
// file keep whatever the lower layers set, and explicit zeros win.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.DataDir, "HYBRIDRAG_DATA_DIR")
	setString(&c.Log.Level, "HYBRIDRAG_LOG_LEVEL")
	setString(&c.Server.Addr, "HYBRIDRAG_ADDR")

	if v := os.Getenv("HYBRIDRAG_VECTOR_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 && w <= 1 {
			c.Search.VectorWeight = w
			c.Search.KeywordWeight = 1 - w
		}
	}
	if v := os.Getenv("HYBRIDRAG_BACKEND_TIMEOUT"); v != "" {
		if d, err := parseDuration(v); err == nil && d > 0 {
			c.Search.BackendTimeout = Duration(d)
		}
	}

	setString(&c.Embeddings.Provider, "HYBRIDRAG_EMBEDDINGS_PROVIDER")
	setString(&c.Embeddings.Model, "HYBRIDRAG_EMBEDDINGS_MODEL", "EMBEDDING_MODEL")
	setString(&c.Embeddings.OllamaHost, "HYBRIDRAG_OLLAMA_HOST", "OLLAMA_HOST")

	setString(&c.Graph.URI, "HYBRIDRAG_NEO4J_URI", "NEO4J_URI")
	setString(&c.Graph.User, "HYBRIDRAG_NEO4J_USER", "NEO4J_USER")
	setString(&c.Graph.Password, "HYBRIDRAG_NEO4J_PASSWORD", "NEO4J_PASSWORD")
	setString(&c.Graph.Database, "HYBRIDRAG_NEO4J_DATABASE", "NEO4J_DATABASE")
	if v := os.Getenv("HYBRIDRAG_GRAPH_ENABLED"); v != "" {
		c.Graph.Enabled = parseBool(v)
	}

	setString(&c.Tika.URL, "HYBRIDRAG_TIKA_URL", "TIKA_SERVER_URL")

	setString(&c.Synthesis.BaseURL, "HYBRIDRAG_LLM_BASE_URL")
	setString(&c.Synthesis.APIKey, "HYBRIDRAG_LLM_API_KEY", "OPENAI_API_KEY")
	setString(&c.Synthesis.Model, "HYBRIDRAG_LLM_MODEL", "OLLAMA_DEFAULT_MODEL")
	if v := os.Getenv("HYBRIDRAG_SYNTHESIS_ENABLED"); v != "" {
		c.Synthesis.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes"
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	s := c.Search
	if s.VectorWeight < 0 || s.VectorWeight > 1 {
		return fmt.Errorf("search.vector_weight must be between 0 and 1, got %f", s.VectorWeight)
	}
	if s.KeywordWeight < 0 || s.KeywordWeight > 1 {
		return fmt.Errorf("search.keyword_weight must be between 0 and 1, got %f", s.KeywordWeight)
	}
	if sum := s.VectorWeight + s.KeywordWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.vector_weight + search.keyword_weight must equal 1.0, got %.2f", sum)
	}
	if s.DefaultLimit <= 0 || s.MaxLimit < s.DefaultLimit {
		return fmt.Errorf("search.default_limit must be positive and <= max_limit, got %d / %d", s.DefaultLimit, s.MaxLimit)
	}
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("search.threshold must be between 0 and 1, got %f", s.Threshold)
	}
	if s.BackendTimeout <= 0 || s.OverallTimeout <= 0 {
		return fmt.Errorf("search timeouts must be positive")
	}
	if s.CandidateMultiplier < 1 {
		return fmt.Errorf("search.candidate_multiplier must be >= 1, got %d", s.CandidateMultiplier)
	}

	ch := c.Chunking
	if ch.MaxChars < 16 {
		return fmt.Errorf("chunking.max_chars must be >= 16, got %d", ch.MaxChars)
	}
	if ch.Overlap < 0 || ch.Overlap >= 1 {
		return fmt.Errorf("chunking.overlap must be in [0, 1), got %f", ch.Overlap)
	}
	if ch.MinSentenceFraction < 0 || ch.MinSentenceFraction > 1 {
		return fmt.Errorf("chunking.min_sentence_fraction must be in [0, 1], got %f", ch.MinSentenceFraction)
	}

	if c.Ingest.MaxBytes <= 0 {
		return fmt.Errorf("ingest.max_bytes must be positive")
	}
	if c.Ingest.EmbedBatchSize <= 0 {
		return fmt.Errorf("ingest.embed_batch_size must be positive")
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'ollama' or 'static', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive")
	}

	if c.Synthesis.TopN <= 0 {
		return fmt.Errorf("synthesis.top_n must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Log.Level)
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print, with secrets masked.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	if cp.Graph.Password != "" {
		cp.Graph.Password = "****"
	}
	if cp.Synthesis.APIKey != "" {
		cp.Synthesis.APIKey = "****"
	}
	return &cp
}

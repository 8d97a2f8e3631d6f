package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for csvsearch.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
	Query     QueryConfig     `yaml:"query" toml:"query"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string   `yaml:"addr" toml:"addr"`
	MaxUploadMB     int      `yaml:"max_upload_mb" toml:"max_upload_mb"`
	RateLimitRPS    float64  `yaml:"rate_limit_rps" toml:"rate_limit_rps"` // 0 disables rate limiting
	RateLimitBurst  int      `yaml:"rate_limit_burst" toml:"rate_limit_burst"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// StoreConfig selects and locates the collection store.
type StoreConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // "bolt", "sqlite", "memory"
	DataDir string `yaml:"data_dir" toml:"data_dir"`
	Metric  string `yaml:"metric" toml:"metric"` // "cosine" or "l2", fixed per collection at creation
}

// EmbeddingConfig holds embedding model configuration.
type EmbeddingConfig struct {
	Provider  string   `yaml:"provider" toml:"provider"` // "ollama", "openai", "hashing"
	Model     string   `yaml:"model" toml:"model"`
	BaseURL   string   `yaml:"base_url" toml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env" toml:"api_key_env"` // Environment variable for API key
	Dimension int      `yaml:"dimension" toml:"dimension"`     // 0 = infer from model
	Timeout   Duration `yaml:"timeout" toml:"timeout"`
}

// IngestConfig holds CSV ingestion configuration.
type IngestConfig struct {
	TextColumn string   `yaml:"text_column" toml:"text_column"`
	IDColumn   string   `yaml:"id_column" toml:"id_column"` // optional explicit record key
	BatchSize  int      `yaml:"batch_size" toml:"batch_size"`
	OnExisting string   `yaml:"on_existing" toml:"on_existing"` // "upsert" or "replace"
	Includes   []string `yaml:"includes" toml:"includes"`
	Excludes   []string `yaml:"excludes" toml:"excludes"`
}

// QueryConfig holds retrieval configuration.
type QueryConfig struct {
	DefaultTopK int     `yaml:"default_top_k" toml:"default_top_k"`
	MaxTopK     int     `yaml:"max_top_k" toml:"max_top_k"`
	MinScore    float64 `yaml:"min_score" toml:"min_score"` // Filter results below this score (0 = disabled)
}

// CacheConfig holds query cache configuration.
type CacheConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled"`
	MaxSize int      `yaml:"max_size" toml:"max_size"`
	TTL     Duration `yaml:"ttl" toml:"ttl"`
}

// WatchConfig configures the drop-folder watcher started by serve.
type WatchConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Dir     string `yaml:"dir" toml:"dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8000",
			MaxUploadMB:     32,
			RateLimitBurst:  10,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Backend: "bolt",
			DataDir: "./data",
			Metric:  "cosine",
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "all-minilm",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 384,
			Timeout:   Duration(60 * time.Second),
		},
		Ingest: IngestConfig{
			TextColumn: "Object_Text",
			BatchSize:  32,
			OnExisting: "upsert",
			Includes:   []string{"**/*.csv", "**/*.CSV"},
			Excludes:   []string{"**/.git/**", "**/node_modules/**"},
		},
		Query: QueryConfig{
			DefaultTopK: 5,
			MaxTopK:     50,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 256,
			TTL:     Duration(5 * time.Minute),
		},
		Watch: WatchConfig{
			Dir: "./inbox",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory, looking for
// csvsearch.yaml, csvsearch.toml and .csvsearch/config.yaml in that order.
func LoadFromDir(dir string) (*Config, error) {
	candidates := []string{
		filepath.Join(dir, "csvsearch.yaml"),
		filepath.Join(dir, "csvsearch.toml"),
		filepath.Join(dir, ".csvsearch", "config.yaml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return DefaultConfig(), nil
}

// ApplyEnv overrides selected settings from CSVSEARCH_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CSVSEARCH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CSVSEARCH_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("CSVSEARCH_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("CSVSEARCH_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("CSVSEARCH_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("CSVSEARCH_EMBEDDING_BASE_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("CSVSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "bolt", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Store.Metric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("unknown metric %q", c.Store.Metric)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "hashing":
	default:
		return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
	}
	switch c.Ingest.OnExisting {
	case "upsert", "replace":
	default:
		return fmt.Errorf("ingest.on_existing must be upsert or replace, got %q", c.Ingest.OnExisting)
	}
	if strings.TrimSpace(c.Ingest.TextColumn) == "" {
		return fmt.Errorf("ingest.text_column must be set")
	}
	if c.Query.DefaultTopK <= 0 || c.Query.MaxTopK <= 0 {
		return fmt.Errorf("query top_k limits must be positive")
	}
	if c.Query.DefaultTopK > c.Query.MaxTopK {
		return fmt.Errorf("query.default_top_k (%d) exceeds query.max_top_k (%d)", c.Query.DefaultTopK, c.Query.MaxTopK)
	}
	return nil
}

// Save writes the configuration to path, as TOML when the extension is
// .toml and as YAML otherwise.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		data, err = toml.Marshal(c)
	default:
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StorePath returns the database file for the configured backend.
func (c *Config) StorePath() string {
	switch c.Store.Backend {
	case "sqlite":
		return filepath.Join(c.Store.DataDir, "collections.sqlite")
	default:
		return filepath.Join(c.Store.DataDir, "collections.db")
	}
}

// EnsureDataDir ensures the data directory exists.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Store.DataDir, 0755)
}

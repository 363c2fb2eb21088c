package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envListenAddr   = "RAGSERVE_LISTEN_ADDR"
	envDBPath       = "RAGSERVE_DB_PATH"
	envLogLevel     = "RAGSERVE_LOG_LEVEL"
	envDispatchMode = "RAGSERVE_DISPATCH_MODE"
	envGenerator    = "RAGSERVE_GENERATOR"
	envIndexPath    = "RAGSERVE_INDEX_PATH"
	envOpenAIKey    = "OPENAI_API_KEY"
)

// Dispatch modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Pool strategies.
const (
	PoolRoundRobin = "round_robin"
	PoolCheckout   = "checkout"
)

// Index kinds.
const (
	IndexChromem  = "chromem"
	IndexPGVector = "pgvector"
)

// Config holds all service configuration.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	DBPath     string          `yaml:"db_path"`
	LogLevel   string          `yaml:"log_level"`
	Dispatch   DispatchConfig  `yaml:"dispatch"`
	Pool       PoolConfig      `yaml:"pool"`
	Cache      CacheConfig     `yaml:"cache"`
	Jobs       JobsConfig      `yaml:"jobs"`
	Index      IndexConfig     `yaml:"index"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
	Generator  GeneratorConfig `yaml:"generator"`
	Sources    SourcesConfig   `yaml:"sources"`
}

// DispatchConfig selects how cache misses are answered.
type DispatchConfig struct {
	Mode           string        `yaml:"mode"`
	Deadline       time.Duration `yaml:"deadline"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// PoolConfig sizes the engine pool. Strategy is "round_robin" (shared slots)
// or "checkout" (one caller per slot).
type PoolConfig struct {
	Size     int    `yaml:"size"`
	Strategy string `yaml:"strategy"`
}

// CacheConfig controls the answer cache. An empty DBPath shares the main database file.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	DBPath  string        `yaml:"db_path"`
}

// JobsConfig controls retention of finished async jobs.
type JobsConfig struct {
	Retention    time.Duration `yaml:"retention"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// IndexConfig locates the similarity index.
type IndexConfig struct {
	Kind       string `yaml:"kind"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	K          int    `yaml:"k"`
	DSN        string `yaml:"dsn"`
	Table      string `yaml:"table"`
}

// EmbeddingConfig selects how questions are embedded for retrieval.
// Provider is "openai" or "ollama". BaseURL, when set, is an OpenAI-compatible
// root such as http://localhost:11434/v1 for Ollama.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// GeneratorConfig selects the answer generator backend.
type GeneratorConfig struct {
	Backend     string  `yaml:"backend"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Region      string  `yaml:"region"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SourcesConfig controls how attributed sources are linked.
type SourcesConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		ListenAddr: ":8000",
		DBPath:     "ragserve.db",
		LogLevel:   "info",
		Dispatch: DispatchConfig{
			Mode:           ModeSync,
			Deadline:       60 * time.Second,
			MaxConcurrency: 10,
		},
		Pool: PoolConfig{
			Size:     5,
			Strategy: PoolRoundRobin,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     time.Hour,
		},
		Jobs: JobsConfig{
			Retention:    24 * time.Hour,
			ReapInterval: time.Hour,
		},
		Index: IndexConfig{
			Kind:       IndexChromem,
			Path:       "protocols.gob",
			Collection: "protocols",
			K:          25,
			Table:      "protocol_chunks",
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-ada-002",
		},
		Generator: GeneratorConfig{
			Backend:   "openai",
			Model:     "gpt-4o-mini",
			MaxTokens: 1024,
		},
		Sources: SourcesConfig{
			BaseURL: "https://defillama.com/protocol/",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// (with ${VAR} expansion) and RAGSERVE_* environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envDispatchMode); v != "" {
		c.Dispatch.Mode = v
	}
	if v := os.Getenv(envGenerator); v != "" {
		c.Generator.Backend = v
	}
	if v := os.Getenv(envIndexPath); v != "" {
		c.Index.Path = v
	}
	if v := os.Getenv(envOpenAIKey); v != "" {
		if c.Generator.APIKey == "" {
			c.Generator.APIKey = v
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = v
		}
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Dispatch.Mode != ModeSync && c.Dispatch.Mode != ModeAsync {
		errs = append(errs, fmt.Errorf("dispatch.mode %q: want %q or %q", c.Dispatch.Mode, ModeSync, ModeAsync))
	}
	if c.Dispatch.Deadline <= 0 {
		errs = append(errs, errors.New("dispatch.deadline must be positive"))
	}
	if c.Dispatch.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("dispatch.max_concurrency must be positive"))
	}
	if c.Pool.Size <= 0 {
		errs = append(errs, errors.New("pool.size must be positive"))
	}
	if c.Pool.Strategy != PoolRoundRobin && c.Pool.Strategy != PoolCheckout {
		errs = append(errs, fmt.Errorf("pool.strategy %q: want %q or %q", c.Pool.Strategy, PoolRoundRobin, PoolCheckout))
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Index.K <= 0 {
		errs = append(errs, errors.New("index.k must be positive"))
	}
	switch c.Index.Kind {
	case IndexChromem:
	case IndexPGVector:
		if c.Index.DSN == "" {
			errs = append(errs, errors.New("index.dsn is required for pgvector"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.kind %q: want %q or %q", c.Index.Kind, IndexChromem, IndexPGVector))
	}
	if c.Generator.Backend == "" {
		errs = append(errs, errors.New("generator.backend is required"))
	}
	return errors.Join(errs...)
}

// CacheDBPath returns the database file for the answer cache.
func (c *Config) CacheDBPath() string {
	if c.Cache.DBPath != "" {
		return c.Cache.DBPath
	}
	return c.DBPath
}

// Level returns the parsed slog level.
func (c *Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{envListenAddr, envDBPath, envLogLevel, envDispatchMode, envGenerator, envIndexPath, envOpenAIKey} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragserve.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8000")
	}
	if cfg.Dispatch.Mode != ModeSync {
		t.Errorf("Dispatch.Mode = %q, want %q", cfg.Dispatch.Mode, ModeSync)
	}
	if cfg.Dispatch.Deadline != 60*time.Second {
		t.Errorf("Dispatch.Deadline = %v, want 60s", cfg.Dispatch.Deadline)
	}
	if cfg.Dispatch.MaxConcurrency != 10 {
		t.Errorf("Dispatch.MaxConcurrency = %d, want 10", cfg.Dispatch.MaxConcurrency)
	}
	if cfg.Pool.Size != 5 {
		t.Errorf("Pool.Size = %d, want 5", cfg.Pool.Size)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v, want 1h", cfg.Cache.TTL)
	}
	if cfg.Index.K != 25 {
		t.Errorf("Index.K = %d, want 25", cfg.Index.K)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level = %v, want %v", cfg.Level(), slog.LevelInfo)
	}
	if cfg.CacheDBPath() != cfg.DBPath {
		t.Errorf("CacheDBPath = %q, want %q", cfg.CacheDBPath(), cfg.DBPath)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_GEN_KEY", "sk-test")

	path := writeConfig(t, `
listen_addr: ":9090"
dispatch:
  mode: async
  deadline: 5s
pool:
  size: 2
cache:
  ttl: 10m
  db_path: /tmp/cache.db
generator:
  backend: ollama
  api_key: ${TEST_GEN_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.Dispatch.Mode != ModeAsync {
		t.Errorf("Dispatch.Mode = %q, want async", cfg.Dispatch.Mode)
	}
	if cfg.Dispatch.Deadline != 5*time.Second {
		t.Errorf("Dispatch.Deadline = %v, want 5s", cfg.Dispatch.Deadline)
	}
	if cfg.Dispatch.MaxConcurrency != 10 {
		t.Errorf("Dispatch.MaxConcurrency = %d, want default 10", cfg.Dispatch.MaxConcurrency)
	}
	if cfg.Pool.Size != 2 {
		t.Errorf("Pool.Size = %d, want 2", cfg.Pool.Size)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("Cache.TTL = %v, want 10m", cfg.Cache.TTL)
	}
	if cfg.CacheDBPath() != "/tmp/cache.db" {
		t.Errorf("CacheDBPath = %q, want /tmp/cache.db", cfg.CacheDBPath())
	}
	if cfg.Generator.APIKey != "sk-test" {
		t.Errorf("Generator.APIKey = %q, want expanded value", cfg.Generator.APIKey)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "dispatch:\n  mode: sync\n")
	t.Setenv(envDispatchMode, "async")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envOpenAIKey, "sk-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dispatch.Mode != ModeAsync {
		t.Errorf("Dispatch.Mode = %q, want async", cfg.Dispatch.Mode)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level = %v, want debug", cfg.Level())
	}
	if cfg.Generator.APIKey != "sk-env" || cfg.Embedding.APIKey != "sk-env" {
		t.Errorf("api keys = %q/%q, want sk-env", cfg.Generator.APIKey, cfg.Embedding.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Dispatch.Mode = "batch" }, "dispatch.mode"},
		{"zero deadline", func(c *Config) { c.Dispatch.Deadline = 0 }, "dispatch.deadline"},
		{"zero workers", func(c *Config) { c.Dispatch.MaxConcurrency = 0 }, "max_concurrency"},
		{"zero pool", func(c *Config) { c.Pool.Size = 0 }, "pool.size"},
		{"bad strategy", func(c *Config) { c.Pool.Strategy = "lifo" }, "pool.strategy"},
		{"zero k", func(c *Config) { c.Index.K = 0 }, "index.k"},
		{"pgvector without dsn", func(c *Config) { c.Index.Kind = IndexPGVector }, "index.dsn"},
		{"unknown index", func(c *Config) { c.Index.Kind = "faiss" }, "index.kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := parseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	logger.Info("test message", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not valid JSON: %v\noutput: %s", err, buf.String())
	}
	if entry["msg"] != "test message" {
		t.Errorf("msg = %v, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want %q", entry["key"], "value")
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
jwtSecret: "0123456789abcdef0123"
tokenTTL: 24h
rateLimit:
  limit: 30
  window: 2m
chunk:
  size: 800
  overlap: 100
generation:
  provider: ollama
  model: llama3
  timeout: 45s
externalTimeout: 20s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" || cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected port/ttl: %q %s", cfg.Port, cfg.TokenTTL)
	}
	if cfg.RateLimit.Limit != 30 || cfg.RateLimit.Window != 2*time.Minute {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Chunk.Size != 800 || cfg.Chunk.Overlap != 100 {
		t.Fatalf("chunk = %+v", cfg.Chunk)
	}
	if cfg.Generation.Timeout != 45*time.Second || cfg.Generation.Provider != "ollama" {
		t.Fatalf("generation = %+v", cfg.Generation)
	}
	if cfg.ExternalTimeout != 20*time.Second {
		t.Fatalf("external timeout = %s", cfg.ExternalTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.Retrieval.TopK != 5 || cfg.Upload.MaxBytes != 10<<20 || cfg.Embedding.Provider != "hash" {
		t.Fatalf("defaults lost: %+v %+v", cfg.Retrieval, cfg.Upload)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LEXAI_PORT", "7070")
	t.Setenv("LEXAI_JWT_SECRET", "env-secret-env-secret")
	t.Setenv("LEXAI_RATE_LIMIT", "3")
	t.Setenv("LEXAI_RATE_LIMIT_WINDOW", "10s")
	t.Setenv("LEXAI_RATE_LIMIT_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LEXAI_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LEXAI_EXTERNAL_TIMEOUT", "12s")

	cfg, err := Load(writeConfig(t, "jwtSecret: \"file-secret-file-secret\"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "7070" || cfg.JWTSecret != "env-secret-env-secret" {
		t.Fatalf("env did not override: %q %q", cfg.Port, cfg.JWTSecret)
	}
	if cfg.RateLimit.Limit != 3 || cfg.RateLimit.Window != 10*time.Second || cfg.RateLimit.Backend != "redis" {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
	if cfg.ExternalTimeout != 12*time.Second {
		t.Fatalf("external timeout = %s", cfg.ExternalTimeout)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"short secret":          "jwtSecret: short\n",
		"redis without addr":    "jwtSecret: \"0123456789abcdef\"\nrateLimit:\n  backend: redis\n",
		"overlap over size":     "jwtSecret: \"0123456789abcdef\"\nchunk:\n  size: 100\n  overlap: 100\n",
		"unknown provider":      "jwtSecret: \"0123456789abcdef\"\ngeneration:\n  provider: magic\n",
		"pgvector on memory":    "jwtSecret: \"0123456789abcdef\"\nretrieval:\n  vectorBackend: pgvector\n  embeddingDim: 768\n",
		"gemini without key":    "jwtSecret: \"0123456789abcdef\"\nembedding:\n  provider: gemini\n",
		"local store no dir":    "jwtSecret: \"0123456789abcdef\"\nobjectStore:\n  backend: local\n",
		"bad duration in env":   "jwtSecret: \"0123456789abcdef\"\n",
		"zero external timeout": "jwtSecret: \"0123456789abcdef\"\nexternalTimeout: 0s\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if name == "bad duration in env" {
				t.Setenv("LEXAI_TOKEN_TTL", "forever")
			}
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("explicit missing path should fail, got %v", err)
	}
}

func TestPathPrefersEnv(t *testing.T) {
	t.Setenv("LEXAI_CONFIG", "/etc/lexai/config.yaml")
	if got := Path(); got != "/etc/lexai/config.yaml" {
		t.Fatalf("Path() = %q", got)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.RateLimit.Window != time.Minute || cfg.Generation.Timeout != 60*time.Second || cfg.ExternalTimeout != 30*time.Second {
		t.Fatalf("unexpected durations: %s %s %s", cfg.RateLimit.Window, cfg.Generation.Timeout, cfg.ExternalTimeout)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
}

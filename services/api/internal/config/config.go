package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when LEXAI_CONFIG is unset.
const DefaultPath = "config.yaml"

// Config is the service configuration loaded from YAML then environment.
type Config struct {
	Port              string            `yaml:"port"`
	LogLevel          string            `yaml:"logLevel"`
	DatabaseURL       string            `yaml:"databaseURL"`
	JWTSecret         string            `yaml:"jwtSecret"`
	JWTIssuer         string            `yaml:"jwtIssuer"`
	JWTAudience       string            `yaml:"jwtAudience"`
	JWTLeeway         time.Duration     `yaml:"jwtLeeway"`
	TokenTTL          time.Duration     `yaml:"tokenTTL"`
	// ExternalTimeout bounds embedding, vector index and object storage calls.
	ExternalTimeout   time.Duration     `yaml:"externalTimeout"`
	RateLimit         RateLimitConfig   `yaml:"rateLimit"`
	Upload            UploadConfig      `yaml:"upload"`
	Chunk             ChunkConfig       `yaml:"chunk"`
	Retrieval         RetrievalConfig   `yaml:"retrieval"`
	Embedding         EmbeddingConfig   `yaml:"embedding"`
	Generation        GenerationConfig  `yaml:"generation"`
	ObjectStore       ObjectStoreConfig `yaml:"objectStore"`
	TrustedProxyCIDRs []string          `yaml:"trustedProxyCidrs"`
	CORSOrigins       []string          `yaml:"corsOrigins"`
}

type RateLimitConfig struct {
	Limit         int           `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
	Backend       string        `yaml:"backend"` // memory | redis
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	Prefix        string        `yaml:"prefix"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"maxBytes"`
}

type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type RetrievalConfig struct {
	TopK          int    `yaml:"topK"`
	VectorBackend string `yaml:"vectorBackend"` // memory | pgvector
	EmbeddingDim  int    `yaml:"embeddingDim"`
}

type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // hash | gemini | ollama | openai
	BaseURL     string `yaml:"baseURL"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"apiKey"`
	Dimensions  int    `yaml:"dimensions"`
	BatchSize   int    `yaml:"batchSize"`
	Concurrency int    `yaml:"concurrency"`
}

type GenerationConfig struct {
	Provider          string        `yaml:"provider"` // echo | gemini | ollama | openai
	BaseURL           string        `yaml:"baseURL"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"apiKey"`
	Temperature       float64       `yaml:"temperature"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

type ObjectStoreConfig struct {
	Backend   string `yaml:"backend"` // none | local | minio
	Dir       string `yaml:"dir"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Defaults returns a configuration that runs fully in memory with offline
// providers. A JWT secret still has to be supplied.
func Defaults() Config {
	return Config{
		Port:            "8080",
		LogLevel:        "info",
		DatabaseURL:     "memory",
		JWTIssuer:       "lexai",
		JWTAudience:     "lexai-api",
		JWTLeeway:       30 * time.Second,
		TokenTTL:        7 * 24 * time.Hour,
		ExternalTimeout: 30 * time.Second,
		RateLimit: RateLimitConfig{
			Limit:   10,
			Window:  time.Minute,
			Backend: "memory",
			Prefix:  "lexai:ratelimit",
		},
		Upload:    UploadConfig{MaxBytes: 10 << 20},
		Chunk:     ChunkConfig{Size: 1000, Overlap: 200},
		Retrieval: RetrievalConfig{TopK: 5, VectorBackend: "memory"},
		Embedding: EmbeddingConfig{Provider: "hash", Dimensions: 256, BatchSize: 16, Concurrency: 4},
		Generation: GenerationConfig{
			Provider:    "echo",
			Temperature: 0.2,
			Timeout:     60 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{Backend: "none"},
	}
}

// Path returns LEXAI_CONFIG or DefaultPath.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("LEXAI_CONFIG")); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads YAML from path over the defaults, applies environment overrides
// and validates. A missing file at DefaultPath is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "LEXAI_PORT")
	setString(&cfg.LogLevel, "LEXAI_LOG_LEVEL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.JWTSecret, "LEXAI_JWT_SECRET")
	setString(&cfg.JWTIssuer, "JWT_ISSUER")
	setString(&cfg.JWTAudience, "JWT_AUDIENCE")
	setString(&cfg.RateLimit.Backend, "LEXAI_RATE_LIMIT_BACKEND")
	setString(&cfg.RateLimit.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RateLimit.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.Retrieval.VectorBackend, "LEXAI_VECTOR_BACKEND")
	setString(&cfg.Embedding.Provider, "LEXAI_EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.APIKey, "LEXAI_EMBEDDING_API_KEY")
	setString(&cfg.Generation.Provider, "LEXAI_GENERATION_PROVIDER")
	setString(&cfg.Generation.APIKey, "LEXAI_GENERATION_API_KEY")
	setString(&cfg.ObjectStore.Backend, "LEXAI_OBJECT_STORE")
	setString(&cfg.ObjectStore.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.ObjectStore.SecretKey, "MINIO_SECRET_KEY")
	if v := os.Getenv("LEXAI_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("LEXAI_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if err := setInt(&cfg.RateLimit.Limit, "LEXAI_RATE_LIMIT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.RateLimit.Window, "LEXAI_RATE_LIMIT_WINDOW"); err != nil {
		return err
	}
	if err := setDuration(&cfg.JWTLeeway, "JWT_LEEWAY"); err != nil {
		return err
	}
	if err := setDuration(&cfg.TokenTTL, "LEXAI_TOKEN_TTL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Generation.Timeout, "LEXAI_GENERATION_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ExternalTimeout, "LEXAI_EXTERNAL_TIMEOUT"); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("LEXAI_MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid LEXAI_MAX_UPLOAD_BYTES: %q", v)
		}
		cfg.Upload.MaxBytes = n
	}
	return nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("config: port is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return errors.New("config: jwtSecret must be at least 16 bytes (set in config.yaml or LEXAI_JWT_SECRET)")
	}
	if cfg.TokenTTL <= 0 {
		return errors.New("config: tokenTTL must be positive")
	}
	if cfg.RateLimit.Limit <= 0 || cfg.RateLimit.Window <= 0 {
		return errors.New("config: rateLimit.limit and rateLimit.window must be positive")
	}
	switch cfg.RateLimit.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.RateLimit.RedisAddr) == "" {
			return errors.New("config: rateLimit.redisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown rateLimit.backend %q", cfg.RateLimit.Backend)
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("config: upload.maxBytes must be positive")
	}
	if cfg.Chunk.Size <= 0 || cfg.Chunk.Overlap < 0 || cfg.Chunk.Overlap >= cfg.Chunk.Size {
		return errors.New("config: chunk.size must be positive and chunk.overlap in [0, size)")
	}
	if cfg.Retrieval.TopK <= 0 {
		return errors.New("config: retrieval.topK must be positive")
	}
	switch cfg.Retrieval.VectorBackend {
	case "memory":
	case "pgvector":
		if cfg.Retrieval.EmbeddingDim <= 0 {
			return errors.New("config: retrieval.embeddingDim is required for pgvector")
		}
		if cfg.DatabaseURL == "" || cfg.DatabaseURL == "memory" {
			return errors.New("config: pgvector needs a postgres databaseURL")
		}
	default:
		return fmt.Errorf("config: unknown retrieval.vectorBackend %q", cfg.Retrieval.VectorBackend)
	}
	switch cfg.Embedding.Provider {
	case "hash", "ollama":
	case "gemini", "openai":
		if cfg.Embedding.Provider == "gemini" && cfg.Embedding.APIKey == "" {
			return errors.New("config: embedding.apiKey is required for gemini")
		}
		if cfg.Embedding.Provider == "openai" && cfg.Embedding.BaseURL == "" {
			return errors.New("config: embedding.baseURL is required for openai")
		}
	default:
		return fmt.Errorf("config: unknown embedding.provider %q", cfg.Embedding.Provider)
	}
	switch cfg.Generation.Provider {
	case "echo", "ollama":
	case "gemini":
		if cfg.Generation.APIKey == "" {
			return errors.New("config: generation.apiKey is required for gemini")
		}
	case "openai":
		if cfg.Generation.BaseURL == "" {
			return errors.New("config: generation.baseURL is required for openai")
		}
	default:
		return fmt.Errorf("config: unknown generation.provider %q", cfg.Generation.Provider)
	}
	if cfg.Generation.Timeout <= 0 {
		return errors.New("config: generation.timeout must be positive")
	}
	if cfg.ExternalTimeout <= 0 {
		return errors.New("config: externalTimeout must be positive")
	}
	switch cfg.ObjectStore.Backend {
	case "none", "":
	case "local":
		if strings.TrimSpace(cfg.ObjectStore.Dir) == "" {
			return errors.New("config: objectStore.dir is required for the local backend")
		}
	case "minio":
		if cfg.ObjectStore.Endpoint == "" || cfg.ObjectStore.Bucket == "" {
			return errors.New("config: objectStore.endpoint and objectStore.bucket are required for minio")
		}
	default:
		return fmt.Errorf("config: unknown objectStore.backend %q", cfg.ObjectStore.Backend)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

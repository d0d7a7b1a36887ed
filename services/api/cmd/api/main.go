package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"lexai/internal/metrics"
	"lexai/internal/ratelimit"
	"lexai/internal/usertoken"
	"lexai/internal/util"
	"lexai/pkg/ai"
	"lexai/pkg/generation"
	"lexai/pkg/ingest"
	"lexai/pkg/retrieval"
	"lexai/pkg/storage"
	"lexai/pkg/store"
	"lexai/services/api/internal/app"
	"lexai/services/api/internal/config"
	"lexai/services/api/internal/server"
)

func main() {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	dataStore, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer dataStore.Close()

	index, err := newVectorIndex(cfg, dataStore)
	if err != nil {
		return err
	}
	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	dims := cfg.Embedding.Dimensions
	if cfg.Retrieval.VectorBackend == "pgvector" {
		dims = cfg.Retrieval.EmbeddingDim
	}
	retrievalEngine, err := retrieval.NewEngine(embedder, index, retrieval.Options{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		Dimensions:  dims,
	})
	if err != nil {
		return fmt.Errorf("init retrieval: %w", err)
	}

	generator, err := newGenerator(cfg.Generation)
	if err != nil {
		return err
	}
	generationEngine, err := generation.NewEngine(generator, generation.Config{
		Timeout:           cfg.Generation.Timeout,
		RequestsPerSecond: cfg.Generation.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("init generation: %w", err)
	}

	limiter, closeLimiter, err := newLimiter(ctx, cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeLimiter()

	objects, err := newObjectStore(cfg.ObjectStore)
	if err != nil {
		return err
	}

	tokens, err := usertoken.NewService(usertoken.Config{
		Secret:   cfg.JWTSecret,
		TTL:      cfg.TokenTTL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   cfg.JWTLeeway,
	})
	if err != nil {
		return fmt.Errorf("init token service: %w", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	m := metrics.New()
	appCore, err := app.New(app.Config{
		Store:           dataStore,
		Tokens:          tokens,
		Limiter:         limiter,
		Retrieval:       retrievalEngine,
		Generation:      generationEngine,
		Objects:         objects,
		Chunker:         ingest.NewChunker(cfg.Chunk.Size, cfg.Chunk.Overlap),
		TopK:            cfg.Retrieval.TopK,
		MaxUploadBytes:  cfg.Upload.MaxBytes,
		ExternalTimeout: cfg.ExternalTimeout,
		Metrics:         m,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	httpServer, err := server.New(server.Config{
		App:            appCore,
		Metrics:        m,
		TrustedProxies: trusted,
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// generation alone may take up to its own timeout
		WriteTimeout: cfg.Generation.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr,
			"vector_backend", cfg.Retrieval.VectorBackend,
			"embedding_provider", cfg.Embedding.Provider,
			"generation_provider", cfg.Generation.Provider,
			"rate_limit_backend", cfg.RateLimit.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newVectorIndex(cfg config.Config, dataStore store.Store) (retrieval.VectorIndex, error) {
	if cfg.Retrieval.VectorBackend != "pgvector" {
		return retrieval.NewMemoryIndex(), nil
	}
	gs, ok := dataStore.(*store.GormStore)
	if !ok || !gs.IsPostgres() {
		return nil, errors.New("pgvector backend requires a postgres database")
	}
	index, err := retrieval.NewPGVectorIndex(gs.DB(), cfg.Retrieval.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("init pgvector index: %w", err)
	}
	return index, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (ai.Embedder, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("init gemini embedder: %w", err)
		}
		return ai.NewGeminiEmbedder(client, defaultString(cfg.Model, "gemini-embedding-001"), cfg.Dimensions), nil
	case "ollama":
		client := ai.NewOllamaClient(cfg.BaseURL)
		return ai.NewOllamaEmbedder(client, defaultString(cfg.Model, "nomic-embed-text"), cfg.Dimensions), nil
	case "openai":
		client, err := ai.NewOpenAICompatClient(cfg.BaseURL, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("init openai embedder: %w", err)
		}
		return ai.NewOpenAICompatEmbedder(client, defaultString(cfg.Model, "text-embedding-3-small"), cfg.Dimensions), nil
	default:
		return ai.NewHashEmbedder(cfg.Dimensions), nil
	}
}

func newGenerator(cfg config.GenerationConfig) (ai.TextGenerator, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("init gemini generator: %w", err)
		}
		return ai.NewGeminiGenerator(client, defaultString(cfg.Model, "gemini-2.0-flash"), cfg.Temperature), nil
	case "ollama":
		client := ai.NewOllamaClient(cfg.BaseURL)
		return ai.NewOllamaGenerator(client, defaultString(cfg.Model, "llama3.1"), cfg.Temperature), nil
	case "openai":
		client, err := ai.NewOpenAICompatClient(cfg.BaseURL, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("init openai generator: %w", err)
		}
		return ai.NewOpenAICompatGenerator(client, defaultString(cfg.Model, "gpt-4o-mini"), cfg.Temperature), nil
	default:
		slog.Warn("using offline echo generator; answers are not model generated")
		return ai.NewEchoGenerator(), nil
	}
}

func newLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, func(), error) {
	if cfg.Backend == "redis" {
		limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Prefix:   cfg.Prefix,
			Limit:    cfg.Limit,
			Window:   cfg.Window,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis limiter: %w", err)
		}
		return limiter, func() { _ = limiter.Close() }, nil
	}
	limiter, err := ratelimit.NewMemoryLimiter(cfg.Limit, cfg.Window)
	if err != nil {
		return nil, nil, fmt.Errorf("init memory limiter: %w", err)
	}
	limiter.StartSweeper(ctx, cfg.Window)
	return limiter, func() {}, nil
}

func newObjectStore(cfg config.ObjectStoreConfig) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case "local":
		fs, err := storage.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init file store: %w", err)
		}
		return fs, nil
	case "minio":
		ms, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init minio store: %w", err)
		}
		return ms, nil
	default:
		return nil, nil
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

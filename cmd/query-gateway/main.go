package main

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/seanankenbruck/nl2sql-guard/internal/auth"
	"github.com/seanankenbruck/nl2sql-guard/internal/cache"
	"github.com/seanankenbruck/nl2sql-guard/internal/config"
	"github.com/seanankenbruck/nl2sql-guard/internal/conversation"
	"github.com/seanankenbruck/nl2sql-guard/internal/database"
	"github.com/seanankenbruck/nl2sql-guard/internal/llm"
	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
	"github.com/seanankenbruck/nl2sql-guard/internal/policy"
	"github.com/seanankenbruck/nl2sql-guard/internal/resolver"
	"github.com/seanankenbruck/nl2sql-guard/internal/security"
	"github.com/seanankenbruck/nl2sql-guard/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("query-gateway: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateWithContext(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger("query-gateway").
		WithLevel(observability.ParseLevel(cfg.Server.LogLevel))
	for _, rec := range cfg.Recommendations() {
		logger.Warn(ctx, "Configuration recommendation", map[string]interface{}{"recommendation": rec})
	}
	gin.SetMode(cfg.Server.GinMode)

	health := observability.NewHealthChecker()
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn(ctx, "Failed to close resource", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	// Target database
	targetDB, err := database.Open(ctx, databaseConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to target database: %w", err)
	}
	closers = append(closers, targetDB.Close)
	executor := database.NewCircuitBreakerExecutor(
		database.NewExecutor(targetDB, database.Options{Timeout: cfg.Database.QueryTimeout}),
		"target-db",
		database.DefaultCircuitBreakerConfig(logger.Named("database")),
	)
	health.Register("database", observability.DatabaseHealthCheck(executor.Ping))
	logger.Info(ctx, "Connected to target database", map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Database,
	})

	// Semantic cache
	store, err := openCacheStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	semCache := cache.New(store, nil, cache.Options{
		Threshold:  cfg.Pipeline.SimilarityThreshold,
		Namespaces: cfg.Pipeline.CacheNamespaces,
	}, logger.Named("cache"))
	closers = append(closers, semCache.Close)
	health.Register("cache", observability.CacheStoreHealthCheck(semCache.Ping))

	// Conversation context
	policies, err := policy.NewDefaultRegistry(cfg.Pipeline.DefaultNamespace, cfg.Pipeline.PolicyDir)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	var backend conversation.Backend
	switch cfg.Backends.Context {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, rdb.Close)
		redisBackend := conversation.NewRedisBackend(rdb, cfg.Backends.ContextTTL)
		if err := redisBackend.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		health.Register("redis", observability.RedisHealthCheck(redisBackend.Ping))
		backend = redisBackend
	default:
		backend = conversation.NewMemoryBackend()
	}
	contexts := conversation.NewStore(backend, policies, logger.Named("context"))

	// LLM
	claude, err := llm.NewClaudeClient(llm.Config{
		APIKey: cfg.Claude.APIKey,
		Model:  cfg.Claude.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create Claude client: %w", err)
	}
	llmClient := llm.NewCircuitBreakerClient(claude, llm.BreakerSettings("claude", logger.Named("llm")))
	health.Register("llm", observability.LLMHealthCheck(llmClient.Ping))

	var reviewer resolver.Reviewer
	if cfg.Claude.ReviewerEnabled {
		reviewer = llm.NewReviewer(llmClient)
	}

	validator := security.NewValidator(security.Options{
		MaxQueryLength: cfg.Pipeline.MaxQueryLength,
		MaxResultRows:  cfg.Pipeline.MaxResultRows,
	})

	pipeline, err := resolver.New(resolver.Dependencies{
		Validator: validator,
		Policies:  policies,
		Cache:     semCache,
		Context:   contexts,
		Generator: llm.NewSQLGenerator(llmClient),
		Reviewer:  reviewer,
		Executor:  executor,
		Logger:    logger.Named("resolver"),
	}, resolver.Options{
		MaxAttempts: cfg.Pipeline.MaxValidationAttempts,
		FailClosed:  !cfg.Pipeline.FailOpen,
		DisplayRows: cfg.Pipeline.DisplayRows,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	// Auth
	authManager := auth.NewManager(auth.Config{
		JWTSecret:      cfg.Auth.JWTSecret,
		JWTExpiry:      cfg.Auth.JWTExpiry,
		RateLimit:      cfg.Auth.RateLimit,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
	})
	registered, err := authManager.Bootstrap(cfg.Auth.Clients)
	if err != nil {
		return fmt.Errorf("failed to bootstrap clients: %w", err)
	}
	logger.Info(ctx, "Auth configured", map[string]interface{}{
		"clients":         registered,
		"allow_anonymous": cfg.Auth.AllowAnonymous,
		"rate_limit":      cfg.Auth.RateLimit,
	})

	srv, err := server.New(server.Dependencies{
		Pipeline:  pipeline,
		Validator: validator,
		Policies:  policies,
		Cache:     semCache,
		Context:   contexts,
		Auth:      authManager,
		Health:    health,
		Metrics:   observability.GetGlobalMetrics(),
		Logger:    logger.Named("http"),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "Starting query gateway", map[string]interface{}{
			"port":       cfg.Server.Port,
			"namespaces": policies.Namespaces(),
			"cache":      cfg.Backends.Cache,
			"context":    cfg.Backends.Context,
			"version":    observability.Version,
		})
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down query gateway", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func databaseConfig(c config.DatabaseConfig) database.Config {
	return database.Config{
		Host:         c.Host,
		Port:         c.Port,
		Database:     c.Database,
		Username:     c.Username,
		Password:     c.Password,
		SSLMode:      c.SSLMode,
		MaxOpenConns: c.MaxOpenConns,
	}
}

func openCacheStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (cache.Store, error) {
	switch cfg.Backends.Cache {
	case config.BackendSQLite:
		store, err := cache.NewSQLiteStore(cfg.Backends.CacheSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite cache: %w", err)
		}
		logger.Info(ctx, "Using sqlite semantic cache", map[string]interface{}{"path": cfg.Backends.CacheSQLitePath})
		return store, nil
	case config.BackendPostgres:
		db, err := database.Open(ctx, databaseConfig(cfg.CacheDB))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cache database: %w", err)
		}
		if err := verifySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info(ctx, "Using pgvector semantic cache", map[string]interface{}{
			"host":     cfg.CacheDB.Host,
			"database": cfg.CacheDB.Database,
		})
		return cache.NewPostgresStore(db), nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	if err := database.VerifyCacheSchema(ctx, db); err != nil {
		return fmt.Errorf("cache schema missing, run cmd/migrate first: %w", err)
	}
	return nil
}

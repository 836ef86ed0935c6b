// Package main is the entrypoint for the Sellibra API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/digiens-academy/sellibra-backend/internal/account"
	"github.com/digiens-academy/sellibra-backend/internal/ai"
	"github.com/digiens-academy/sellibra-backend/internal/api"
	"github.com/digiens-academy/sellibra-backend/internal/api/handler"
	mw "github.com/digiens-academy/sellibra-backend/internal/api/middleware"
	"github.com/digiens-academy/sellibra-backend/internal/app"
	"github.com/digiens-academy/sellibra-backend/internal/bridge"
	"github.com/digiens-academy/sellibra-backend/internal/cache"
	"github.com/digiens-academy/sellibra-backend/internal/config"
	"github.com/digiens-academy/sellibra-backend/internal/quota"
	"github.com/digiens-academy/sellibra-backend/internal/scratch"
	"github.com/digiens-academy/sellibra-backend/internal/store"
	"github.com/digiens-academy/sellibra-backend/internal/task"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "queue_driver", cfg.Queue.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	var pgStore store.Store = store.NewPostgresStore(pool)

	if cfg.Admin.BootstrapEmail != "" {
		accounts := account.NewService(pgStore, cfg.Quota.DailyAllowance)
		created, err := accounts.EnsureAdmin(ctx, cfg.Admin.BootstrapEmail, cfg.Admin.BootstrapKey)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		slog.Info("bootstrap admin ensured", "email", cfg.Admin.BootstrapEmail, "created", created)
	}

	rateCache, err := newCache(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer rateCache.Close()

	broker := app.NewBroker(ctx, cfg, logger)
	if broker != nil {
		defer broker.Close()
	}
	registry := app.NewRegistry(broker, cfg.Queue)

	uploads, err := scratch.New(cfg.Scratch.Dir, logger)
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	provider := ai.NewProvider(cfg.AI, cfg.Server.Env, logger)
	slog.Info("AI provider initialized", "provider", provider.Name())

	quotas := quota.NewManager(pgStore, quota.Policy{
		Allowance: cfg.Quota.DailyAllowance,
		Window:    cfg.Quota.ResetWindow,
	})
	executor := task.NewExecutor(provider, quotas, logger)
	submitter := bridge.New(quotas, registry, executor, uploads, app.Waits(cfg.Queue), logger)

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		uploads.RunJanitor(ctx, cfg.Scratch.SweepInterval, cfg.Scratch.MaxAge)
	}()
	if cfg.Queue.RunWorkers && broker != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			app.RunWorkers(ctx, registry, executor.Handler(uploads), cfg.Queue, logger)
		}()
	}

	aiHandler := handler.NewAI(submitter, uploads, handler.Costs{
		Design: cfg.Quota.CostDesign,
		Copy:   cfg.Quota.CostCopy,
	}, cfg.Server.UploadMaxBytes)
	keys := handler.NewKeys(pgStore, account.NewService(pgStore, cfg.Quota.DailyAllowance))

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(rateCache, cfg.Server.RateLimitPerMin),

		HealthHandler: handler.NewHealthHandler(pgStore, map[string]handler.Pinger{
			"queue": registry,
			"cache": rateCache,
		}),
		TokensHandler: handler.NewTokensHandler(quotas),
		JobHandler:    handler.NewJobHandler(registry),

		RemoveBackground:    aiHandler.RemoveBackground,
		TextToImage:         aiHandler.TextToImage,
		ImageToImage:        aiHandler.ImageToImage,
		GenerateTags:        aiHandler.GenerateContent(models.ContentTags),
		GenerateTitle:       aiHandler.GenerateContent(models.ContentTitle),
		GenerateDescription: aiHandler.GenerateContent(models.ContentDescription),
		GenerateMockup:      aiHandler.GenerateMockup,

		ListKeysHandler:   keys.List,
		CreateKeyHandler:  keys.Create,
		RevokeKeyHandler:  keys.Revoke,
		CreateUserHandler: keys.CreateUser,
	}

	router := api.NewRouter(deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Requests may wait the longest queue budget before answering.
		WriteTimeout: longestWait(cfg.Queue) + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		background.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	background.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// newCache prefers Redis for rate-limit counters so limits hold across
// instances, and falls back to process memory when Redis is absent.
func newCache(ctx context.Context, redisURL string) (cache.Cache, error) {
	if redisURL == "" {
		slog.Warn("REDIS_URL not set, rate limits are per process")
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(redisURL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := c.Ping(ctx); err != nil {
		slog.Warn("redis unreachable, rate limits are per process", "error", err)
		_ = c.Close()
		return cache.NewMemoryCache(), nil
	}
	slog.Info("redis connected")
	return c, nil
}

func longestWait(qc config.QueueConfig) time.Duration {
	var longest time.Duration
	for _, cat := range qc.Categories {
		longest = max(longest, cat.Wait)
	}
	return max(longest, bridge.DefaultWait)
}

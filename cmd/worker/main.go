// Package main runs queue workers without the HTTP API, for deployments
// that scale AI processing separately from request handling.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/digiens-academy/sellibra-backend/internal/ai"
	"github.com/digiens-academy/sellibra-backend/internal/app"
	"github.com/digiens-academy/sellibra-backend/internal/config"
	"github.com/digiens-academy/sellibra-backend/internal/quota"
	"github.com/digiens-academy/sellibra-backend/internal/scratch"
	"github.com/digiens-academy/sellibra-backend/internal/store"
	"github.com/digiens-academy/sellibra-backend/internal/task"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Queue.Driver != config.QueueDriverRedis {
		return errors.New("standalone workers need QUEUE_DRIVER=redis")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	broker := app.NewBroker(ctx, cfg, logger)
	if broker == nil {
		return errors.New("job queue unavailable")
	}
	defer broker.Close()
	registry := app.NewRegistry(broker, cfg.Queue)

	// Uploads are written by the API process; both must share this directory.
	uploads, err := scratch.New(cfg.Scratch.Dir, logger)
	if err != nil {
		return fmt.Errorf("open scratch dir: %w", err)
	}

	quotas := quota.NewManager(store.NewPostgresStore(pool), quota.Policy{
		Allowance: cfg.Quota.DailyAllowance,
		Window:    cfg.Quota.ResetWindow,
	})
	executor := task.NewExecutor(ai.NewProvider(cfg.AI, cfg.Server.Env, logger), quotas, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		uploads.RunJanitor(ctx, cfg.Scratch.SweepInterval, cfg.Scratch.MaxAge)
	}()

	slog.Info("workers starting", "queues", registry.Names())
	app.RunWorkers(ctx, registry, executor.Handler(uploads), cfg.Queue, logger)
	wg.Wait()

	slog.Info("workers stopped gracefully")
	return nil
}

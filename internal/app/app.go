// Package app wires the queue layer shared by the API server and the
// standalone worker process.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/digiens-academy/sellibra-backend/internal/config"
	"github.com/digiens-academy/sellibra-backend/internal/queue"
)

const brokerPingTimeout = 5 * time.Second

// NewBroker opens the broker selected by cfg.Queue.Driver. It returns nil
// when the driver is "none" or Redis cannot be reached; a nil broker makes
// every queue unavailable and requests run inline.
func NewBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) queue.Broker {
	switch cfg.Queue.Driver {
	case config.QueueDriverMemory:
		logger.Info("using in-process job queue")
		return queue.NewMemoryBroker()
	case config.QueueDriverNone:
		logger.Warn("job queue disabled, AI requests run inline")
		return nil
	}

	b, err := queue.NewRedisBroker(cfg.Redis.URL)
	if err != nil {
		logger.Warn("job queue unavailable, AI requests run inline", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, brokerPingTimeout)
	defer cancel()
	if err := b.Ping(pingCtx); err != nil {
		_ = b.Close()
		logger.Warn("job queue unavailable, AI requests run inline", "error", err)
		return nil
	}
	logger.Info("redis job queue connected")
	return b
}

// NewRegistry builds one queue per configured category.
func NewRegistry(b queue.Broker, qc config.QueueConfig) *queue.Registry {
	categories := make(map[string][]queue.EnqueueOption, len(qc.Categories))
	for name, cat := range qc.Categories {
		categories[name] = []queue.EnqueueOption{
			queue.WithTimeout(cat.Timeout),
			queue.WithMaxAttempts(cat.MaxAttempts),
			queue.WithBackoff(cat.Backoff),
		}
	}
	return queue.NewRegistry(b, categories)
}

// Waits returns how long a request waits on each queue before giving up.
func Waits(qc config.QueueConfig) map[string]time.Duration {
	waits := make(map[string]time.Duration, len(qc.Categories))
	for name, cat := range qc.Categories {
		waits[name] = cat.Wait
	}
	return waits
}

// RunWorkers starts a worker per available queue and blocks until ctx is
// cancelled and every in-flight job has finished.
func RunWorkers(ctx context.Context, r *queue.Registry, h queue.Handler, qc config.QueueConfig, logger *slog.Logger) {
	var wg sync.WaitGroup
	for _, name := range r.Names() {
		q, err := r.Queue(name)
		if err != nil {
			continue
		}
		w := queue.NewWorker(q, h, queue.WorkerConfig{
			Concurrency:  qc.Categories[name].Concurrency,
			PollInterval: qc.PollInterval,
			LeaseGrace:   qc.LeaseGrace,
			Logger:       logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				logger.Error("worker exited", "queue", name, "error", err)
			}
		}()
	}
	wg.Wait()
}

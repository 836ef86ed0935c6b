package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one attempt of a job. A returned error schedules a retry
// unless it is wrapped with Permanent or the attempts are exhausted.
type Handler func(ctx context.Context, job *Job) (json.RawMessage, error)

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	LeaseGrace   time.Duration
	Logger       *slog.Logger
}

// Worker pulls jobs from one queue and runs up to Concurrency of them at a
// time.
type Worker struct {
	queue   *Queue
	handler Handler
	poll    time.Duration
	grace   time.Duration
	logger  *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorker(q *Queue, h Handler, cfg WorkerConfig) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		queue:   q,
		handler: h,
		poll:    cfg.PollInterval,
		grace:   cfg.LeaseGrace,
		logger:  cfg.Logger.With("queue", q.name),
		sem:     make(chan struct{}, cfg.Concurrency),
	}
}

// Run dequeues until ctx is cancelled, then waits for in-flight jobs to
// finish. In-flight jobs are not cancelled by ctx; each is bounded by its
// own timeout.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", cap(w.sem))
	defer func() {
		w.wg.Wait()
		w.logger.Info("worker stopped")
	}()

	// Maintenance has its own ticker so delayed jobs are promoted and
	// expired leases reclaimed while every slot is busy.
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.maintainLoop(ctx)
	}()

	broker := w.queue.broker
	for {
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		job, err := broker.Dequeue(ctx, w.queue.name, w.grace)
		if err != nil {
			<-w.sem
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, ErrNoJob) {
				w.logger.Error("dequeue failed", "error", err)
			}
			if !sleep(ctx, w.poll) {
				return nil
			}
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.process(context.WithoutCancel(ctx), job)
		}()
	}
}

func (w *Worker) maintainLoop(ctx context.Context) {
	w.maintain(ctx)
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.maintain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) maintain(ctx context.Context) {
	moved, err := w.queue.broker.Maintain(ctx, w.queue.name)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("queue maintenance failed", "error", err)
		}
		return
	}
	if moved > 0 {
		w.logger.Debug("queue maintenance moved jobs", "count", moved)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	logger := w.logger.With("job_id", job.ID, "type", job.Type, "attempt", job.AttemptsMade)
	start := time.Now()

	result, err := w.run(ctx, job)
	if err == nil {
		if cerr := w.queue.broker.Complete(ctx, job, result); cerr != nil {
			logger.Error("complete job failed", "error", cerr)
			return
		}
		logger.Info("job completed", "duration_ms", time.Since(start).Milliseconds())
		return
	}

	if IsPermanent(err) || job.FinalAttempt() {
		if ferr := w.queue.broker.Fail(ctx, job, err.Error(), FailureCode(err)); ferr != nil {
			logger.Error("fail job failed", "error", ferr)
			return
		}
		logger.Error("job failed", "error", err, "permanent", IsPermanent(err))
		return
	}

	delay := backoffFor(job.Backoff, job.AttemptsMade)
	if rerr := w.queue.broker.Retry(ctx, job, err.Error(), delay); rerr != nil {
		logger.Error("retry job failed", "error", rerr)
		return
	}
	logger.Warn("job attempt failed, retrying", "error", err, "retry_in", delay.String())
}

func (w *Worker) run(ctx context.Context, job *Job) (result json.RawMessage, err error) {
	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

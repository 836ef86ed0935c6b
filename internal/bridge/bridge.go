// Package bridge connects an HTTP request to the work it asks for. It
// rejects users without tokens up front, then either queues the work and
// waits a bounded time for it, or runs it inline when no queue is available.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digiens-academy/sellibra-backend/internal/ai"
	"github.com/digiens-academy/sellibra-backend/internal/queue"
	"github.com/digiens-academy/sellibra-backend/internal/quota"
	"github.com/digiens-academy/sellibra-backend/internal/task"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

var ErrTookTooLong = errors.New("job is taking too long")

// TookTooLongError is returned when the wait budget ran out. The job keeps
// running and can be polled by ID.
type TookTooLongError struct {
	JobID string
	Queue string
}

func (e *TookTooLongError) Error() string {
	return fmt.Sprintf("job %s on %s is still running", e.JobID, e.Queue)
}

func (e *TookTooLongError) Unwrap() error { return ErrTookTooLong }

// DefaultWait applies to queues without an explicit wait budget.
const DefaultWait = 90 * time.Second

// Inline runs retry provider outages, the way a queued job would.
const (
	DefaultInlineAttempts = 3
	DefaultInlineBackoff  = 500 * time.Millisecond
)

type QuotaChecker interface {
	HasEnoughTokens(ctx context.Context, userID uuid.UUID, amount int) (bool, error)
}

type Queues interface {
	Queue(name string) (*queue.Queue, error)
}

type Executor interface {
	Execute(ctx context.Context, order models.WorkOrder) (*task.Result, error)
}

type Bridge struct {
	quota     QuotaChecker
	queues    Queues
	executor  Executor
	artifacts task.Artifacts
	waits     map[string]time.Duration
	logger    *slog.Logger

	inlineAttempts int
	inlineBackoff  time.Duration
}

type Option func(*Bridge)

// WithInlineRetry sets how often an inline run is attempted when the AI
// provider is unavailable, and the base delay between attempts.
func WithInlineRetry(attempts int, backoff time.Duration) Option {
	return func(b *Bridge) {
		b.inlineAttempts = attempts
		b.inlineBackoff = backoff
	}
}

// New builds a Bridge. waits holds the per-queue wait budget; each must be
// longer than the job timeout of its queue.
func New(q QuotaChecker, queues Queues, executor Executor, artifacts task.Artifacts, waits map[string]time.Duration, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		quota:          q,
		queues:         queues,
		executor:       executor,
		artifacts:      artifacts,
		waits:          waits,
		logger:         logger,
		inlineAttempts: DefaultInlineAttempts,
		inlineBackoff:  DefaultInlineBackoff,
	}
	for _, o := range opts {
		o(b)
	}
	if b.inlineAttempts < 1 {
		b.inlineAttempts = 1
	}
	return b
}

// Submit runs order on behalf of its user and returns the result.
//
// Until the order is on a queue the bridge owns its artifacts and removes
// them on every path. Once enqueued the worker owns them, so a wait timeout
// leaves them in place for the still-running job.
func (b *Bridge) Submit(ctx context.Context, order models.WorkOrder) (*task.Result, error) {
	if err := order.Validate(); err != nil {
		b.artifacts.Remove(order.Artifacts...)
		return nil, err
	}
	logger := b.logger.With("user_id", order.UserID, "type", order.Task.Type())

	ok, err := b.quota.HasEnoughTokens(ctx, order.UserID, order.TokenCost)
	if err != nil {
		b.artifacts.Remove(order.Artifacts...)
		return nil, fmt.Errorf("checking tokens: %w", err)
	}
	if !ok {
		b.artifacts.Remove(order.Artifacts...)
		return nil, quota.ErrInsufficientQuota
	}

	name := models.QueueFor(order.Task.Type())
	q, err := b.queues.Queue(name)
	if err != nil {
		logger.Warn("queue unavailable, executing inline", "queue", name, "error", err)
		return b.inline(ctx, order)
	}

	jobID := uuid.NewString()
	h, err := q.Enqueue(ctx, string(order.Task.Type()), order, queue.WithJobID(jobID))
	if err != nil {
		if ctx.Err() != nil {
			b.artifacts.Remove(order.Artifacts...)
			return nil, ctx.Err()
		}
		// The broker may have stored the job and lost only the reply. A
		// stored job belongs to the workers and must not also run inline.
		if _, gerr := q.Get(ctx, jobID); gerr == nil {
			logger.Warn("enqueue reported an error but the job was stored", "queue", name, "job_id", jobID, "error", err)
			h = q.Handle(jobID)
		} else {
			logger.Warn("enqueue failed, executing inline", "queue", name, "error", err)
			return b.inline(ctx, order)
		}
	}
	logger = logger.With("queue", name, "job_id", h.ID)
	logger.Debug("job queued")

	job, err := h.Await(ctx, b.waitFor(name))
	switch {
	case errors.Is(err, queue.ErrWaitTimeout):
		logger.Warn("job exceeded wait budget, leaving it running")
		return nil, &TookTooLongError{JobID: h.ID, Queue: name}
	case err != nil:
		return nil, task.RestoreFailure(err)
	}

	var res task.Result
	if err := json.Unmarshal(job.Result, &res); err != nil {
		return nil, fmt.Errorf("decoding job result: %w", err)
	}
	return &res, nil
}

// inline executes order in the request goroutine. Attempts that fail with
// ai.ErrProviderUnavailable are retried with exponential backoff; nothing is
// charged until one succeeds.
func (b *Bridge) inline(ctx context.Context, order models.WorkOrder) (*task.Result, error) {
	defer b.artifacts.Remove(order.Artifacts...)

	delay := b.inlineBackoff
	for attempt := 1; ; attempt++ {
		res, err := b.executor.Execute(ctx, order)
		if err == nil || attempt >= b.inlineAttempts || !errors.Is(err, ai.ErrProviderUnavailable) {
			return res, err
		}
		b.logger.Warn("inline attempt failed, retrying",
			"user_id", order.UserID, "type", order.Task.Type(), "attempt", attempt, "retry_in", delay.String(), "error", err)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, err
		}
		delay *= 2
	}
}

func (b *Bridge) waitFor(queueName string) time.Duration {
	if d, ok := b.waits[queueName]; ok && d > 0 {
		return d
	}
	return DefaultWait
}

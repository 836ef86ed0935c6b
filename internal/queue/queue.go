package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type jobOptions struct {
	id          string
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
}

type EnqueueOption func(*jobOptions)

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) EnqueueOption {
	return func(o *jobOptions) { o.timeout = d }
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(o *jobOptions) { o.maxAttempts = n }
}

// WithBackoff sets the base delay of the exponential retry schedule.
func WithBackoff(d time.Duration) EnqueueOption {
	return func(o *jobOptions) { o.backoff = d }
}

// WithJobID sets the job ID instead of generating one, so a caller can look
// the job up after an Enqueue whose outcome is unknown.
func WithJobID(id string) EnqueueOption {
	return func(o *jobOptions) { o.id = id }
}

// Queue is a named job category backed by a Broker.
type Queue struct {
	name     string
	broker   Broker
	defaults []EnqueueOption
	now      func() time.Time
}

// New returns a queue named name. defaults apply to every job before any
// per-call options.
func New(name string, broker Broker, defaults ...EnqueueOption) *Queue {
	return &Queue{name: name, broker: broker, defaults: defaults, now: time.Now}
}

func (q *Queue) Name() string { return q.name }

// Enqueue persists a job and returns a handle to wait on it. The job is
// durable in the broker before Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (*Handle, error) {
	o := jobOptions{timeout: DefaultTimeout, maxAttempts: DefaultMaxAttempts, backoff: DefaultBackoff}
	for _, opt := range q.defaults {
		opt(&o)
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	if o.id == "" {
		o.id = uuid.NewString()
	}
	job := &Job{
		ID:          o.id,
		Queue:       q.name,
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: o.maxAttempts,
		Timeout:     o.timeout,
		Backoff:     o.backoff,
		State:       StateWaiting,
		CreatedAt:   q.now(),
	}
	if err := q.broker.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return &Handle{ID: job.ID, queue: q}, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.broker.Get(ctx, q.name, id)
}

// Handle returns a handle for a job already on this queue.
func (q *Queue) Handle(id string) *Handle {
	return &Handle{ID: id, queue: q}
}

// Handle refers to an enqueued job.
type Handle struct {
	ID    string
	queue *Queue
}

func (h *Handle) Queue() string { return h.queue.name }

// Await blocks until the job finishes or maxWait elapses. On expiry it
// returns ErrWaitTimeout; the job itself keeps running. A job that failed
// terminally returns a *JobFailedError.
func (h *Handle) Await(ctx context.Context, maxWait time.Duration) (*Job, error) {
	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	events, stop, err := h.queue.broker.Watch(waitCtx, h.queue.name, h.ID)
	if err != nil {
		return nil, h.waitErr(ctx, waitCtx, err)
	}
	defer stop()

	for {
		job, err := h.queue.broker.Get(waitCtx, h.queue.name, h.ID)
		if err != nil {
			return nil, h.waitErr(ctx, waitCtx, err)
		}

		switch job.State {
		case StateCompleted:
			return job, nil
		case StateFailed:
			return job, &JobFailedError{
				JobID:    job.ID,
				Queue:    job.Queue,
				Reason:   job.FailureReason,
				Code:     job.FailureCode,
				Attempts: job.AttemptsMade,
			}
		}

		select {
		case <-events:
		case <-waitCtx.Done():
			return nil, h.waitErr(ctx, waitCtx, waitCtx.Err())
		}
	}
}

// waitErr turns expiry of our own deadline into ErrWaitTimeout while
// letting caller cancellation through unchanged.
func (h *Handle) waitErr(parent, waitCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return ErrWaitTimeout
	}
	return err
}

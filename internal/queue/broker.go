package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Broker stores jobs and moves them between states. Every transition is
// atomic with respect to other workers sharing the broker.
type Broker interface {
	Ping(ctx context.Context) error

	Enqueue(ctx context.Context, job *Job) error

	// Dequeue claims the oldest waiting job, counts the attempt and leases
	// it for the job timeout plus leaseGrace. Returns ErrNoJob when idle.
	Dequeue(ctx context.Context, queue string, leaseGrace time.Duration) (*Job, error)

	// Complete, Retry and Fail return ErrLeaseLost when the job is no longer
	// held, e.g. after the reaper reclaimed an expired lease. Fail stores
	// code alongside the reason; it may be empty.
	Complete(ctx context.Context, job *Job, result json.RawMessage) error
	Retry(ctx context.Context, job *Job, reason string, delay time.Duration) error
	Fail(ctx context.Context, job *Job, reason, code string) error

	Get(ctx context.Context, queue, id string) (*Job, error)

	// Watch signals on the returned channel whenever the job finishes. The
	// subscription is live before Watch returns.
	Watch(ctx context.Context, queue, id string) (<-chan struct{}, func(), error)

	// Maintain promotes delayed jobs that are due and reclaims expired
	// leases. It returns how many jobs it moved.
	Maintain(ctx context.Context, queue string) (int, error)

	Close() error
}

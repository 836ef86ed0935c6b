package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// MemoryBroker keeps jobs in process memory. It is used when no Redis is
// configured and in tests; jobs do not survive a restart.
type MemoryBroker struct {
	mu        sync.Mutex
	now       func() time.Time
	retention Retention
	jobs      map[string]*Job
	queues    map[string]*memQueue
	watchers  map[string]map[chan struct{}]struct{}
	closed    bool
}

type memQueue struct {
	waiting   []string
	delayed   map[string]time.Time
	active    map[string]time.Time
	completed []string
}

var _ Broker = (*MemoryBroker)(nil)

type MemoryOption func(*MemoryBroker)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBroker) { b.now = now }
}

func WithMemoryRetention(r Retention) MemoryOption {
	return func(b *MemoryBroker) { b.retention = r }
}

func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		now:       time.Now,
		retention: DefaultRetention,
		jobs:      make(map[string]*Job),
		queues:    make(map[string]*memQueue),
		watchers:  make(map[string]map[chan struct{}]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func memKey(queue, id string) string { return queue + "/" + id }

func (b *MemoryBroker) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{delayed: make(map[string]time.Time), active: make(map[string]time.Time)}
		b.queues[name] = q
	}
	return q
}

var errBrokerClosed = errors.New("broker closed")

func (b *MemoryBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBrokerClosed
	}
	return nil
}

func (b *MemoryBroker) Enqueue(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBrokerClosed
	}

	stored := job.clone()
	stored.State = StateWaiting
	b.jobs[memKey(job.Queue, job.ID)] = stored
	q := b.queue(job.Queue)
	q.waiting = append(q.waiting, job.ID)
	return nil
}

func (b *MemoryBroker) Dequeue(_ context.Context, queue string, leaseGrace time.Duration) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBrokerClosed
	}

	q := b.queue(queue)
	for len(q.waiting) > 0 {
		id := q.waiting[0]
		q.waiting = q.waiting[1:]

		job, ok := b.jobs[memKey(queue, id)]
		if !ok {
			continue
		}
		job.AttemptsMade++
		job.State = StateActive
		q.active[id] = b.now().Add(job.Timeout + leaseGrace)
		return job.clone(), nil
	}
	return nil, ErrNoJob
}

// release drops the lease on job and returns the stored copy.
func (b *MemoryBroker) release(job *Job) (*memQueue, *Job, error) {
	q := b.queue(job.Queue)
	if _, ok := q.active[job.ID]; !ok {
		return nil, nil, ErrLeaseLost
	}
	delete(q.active, job.ID)
	stored, ok := b.jobs[memKey(job.Queue, job.ID)]
	if !ok {
		return nil, nil, ErrLeaseLost
	}
	return q, stored, nil
}

func (b *MemoryBroker) Complete(_ context.Context, job *Job, result json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, stored, err := b.release(job)
	if err != nil {
		return err
	}
	stored.State = StateCompleted
	stored.Result = result
	stored.FinishedAt = b.now()

	q.completed = append(q.completed, job.ID)
	if keep := b.retention.CompletedKeep; keep > 0 && len(q.completed) > keep {
		for _, old := range q.completed[:len(q.completed)-keep] {
			delete(b.jobs, memKey(job.Queue, old))
		}
		q.completed = append([]string(nil), q.completed[len(q.completed)-keep:]...)
	}

	b.notify(memKey(job.Queue, job.ID))
	return nil
}

func (b *MemoryBroker) Retry(_ context.Context, job *Job, reason string, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, stored, err := b.release(job)
	if err != nil {
		return err
	}
	stored.State = StateDelayed
	stored.FailureReason = reason
	q.delayed[job.ID] = b.now().Add(delay)
	return nil
}

func (b *MemoryBroker) Fail(_ context.Context, job *Job, reason, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, stored, err := b.release(job)
	if err != nil {
		return err
	}
	stored.FailureCode = code
	b.markFailed(stored, reason)
	return nil
}

func (b *MemoryBroker) markFailed(job *Job, reason string) {
	job.State = StateFailed
	job.FailureReason = reason
	job.FinishedAt = b.now()
	b.notify(memKey(job.Queue, job.ID))
}

func (b *MemoryBroker) Get(_ context.Context, queue, id string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[memKey(queue, id)]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

func (b *MemoryBroker) Watch(_ context.Context, queue, id string) (<-chan struct{}, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := memKey(queue, id)
	ch := make(chan struct{}, 1)
	if b.watchers[key] == nil {
		b.watchers[key] = make(map[chan struct{}]struct{})
	}
	b.watchers[key][ch] = struct{}{}

	stop := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.watchers[key], ch)
		if len(b.watchers[key]) == 0 {
			delete(b.watchers, key)
		}
	}
	return ch, stop, nil
}

func (b *MemoryBroker) notify(key string) {
	for ch := range b.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *MemoryBroker) Maintain(_ context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	q := b.queue(queue)
	moved := 0

	for id, readyAt := range q.delayed {
		if readyAt.After(now) {
			continue
		}
		delete(q.delayed, id)
		if job, ok := b.jobs[memKey(queue, id)]; ok {
			job.State = StateWaiting
			q.waiting = append(q.waiting, id)
			moved++
		}
	}

	for id, deadline := range q.active {
		if deadline.After(now) {
			continue
		}
		delete(q.active, id)
		job, ok := b.jobs[memKey(queue, id)]
		if !ok {
			continue
		}
		if job.FinalAttempt() {
			b.markFailed(job, "lease expired")
		} else {
			job.State = StateWaiting
			q.waiting = append(q.waiting, id)
		}
		moved++
	}

	for key, job := range b.jobs {
		if job.Queue != queue || job.FinishedAt.IsZero() {
			continue
		}
		ttl := b.retention.CompletedTTL
		if job.State == StateFailed {
			ttl = b.retention.FailedTTL
		}
		if ttl > 0 && now.Sub(job.FinishedAt) >= ttl {
			delete(b.jobs, key)
		}
	}

	return moved, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

package queue

import (
	"context"
	"fmt"
	"sort"
)

// Registry holds the queues of one broker. A registry without a broker
// reports every queue as unavailable so callers can fall back.
type Registry struct {
	broker Broker
	queues map[string]*Queue
}

// NewRegistry builds a queue per entry of categories. broker may be nil.
func NewRegistry(broker Broker, categories map[string][]EnqueueOption) *Registry {
	r := &Registry{broker: broker, queues: make(map[string]*Queue, len(categories))}
	if broker == nil {
		return r
	}
	for name, opts := range categories {
		r.queues[name] = New(name, broker, opts...)
	}
	return r
}

func (r *Registry) Available(name string) bool {
	_, ok := r.queues[name]
	return ok
}

func (r *Registry) Queue(name string) (*Queue, error) {
	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueUnavailable, name)
	}
	return q, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Broker() Broker { return r.broker }

func (r *Registry) Ping(ctx context.Context) error {
	if r.broker == nil {
		return ErrQueueUnavailable
	}
	return r.broker.Ping(ctx)
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker stores each job in a hash and tracks it through a waiting
// list, a delayed sorted set and an active (leased) sorted set per queue.
// State transitions run as Lua scripts so concurrent workers in different
// processes never observe a half-moved job.
type RedisBroker struct {
	client    *redis.Client
	prefix    string
	retention Retention
	now       func() time.Time
}

var _ Broker = (*RedisBroker)(nil)

type RedisOption func(*RedisBroker)

// WithKeyPrefix sets the Redis key prefix (default "sellibra:queue").
func WithKeyPrefix(prefix string) RedisOption {
	return func(b *RedisBroker) { b.prefix = prefix }
}

func WithRedisRetention(r Retention) RedisOption {
	return func(b *RedisBroker) { b.retention = r }
}

// NewRedisBroker creates a broker from a redis:// URL.
func NewRedisBroker(redisURL string, opts ...RedisOption) (*RedisBroker, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return NewRedisBrokerFromClient(redis.NewClient(redisOpts), opts...), nil
}

func NewRedisBrokerFromClient(client *redis.Client, opts ...RedisOption) *RedisBroker {
	b := &RedisBroker{
		client:    client,
		prefix:    "sellibra:queue",
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// --- Key builders ---

func (b *RedisBroker) base(queue string) string     { return b.prefix + ":" + queue }
func (b *RedisBroker) jobPrefix(queue string) string { return b.base(queue) + ":job:" }
func (b *RedisBroker) jobKey(queue, id string) string {
	return b.jobPrefix(queue) + id
}
func (b *RedisBroker) waitingKey(queue string) string   { return b.base(queue) + ":waiting" }
func (b *RedisBroker) delayedKey(queue string) string   { return b.base(queue) + ":delayed" }
func (b *RedisBroker) activeKey(queue string) string    { return b.base(queue) + ":active" }
func (b *RedisBroker) completedKey(queue string) string { return b.base(queue) + ":completed" }
func (b *RedisBroker) eventsPrefix(queue string) string { return b.base(queue) + ":events:" }
func (b *RedisBroker) eventsChannel(queue, id string) string {
	return b.eventsPrefix(queue) + id
}

// --- Scripts ---

// dequeueScript
// KEYS[1] = waiting list, KEYS[2] = active zset
// ARGV[1] = now (ms), ARGV[2] = job key prefix, ARGV[3] = lease grace (ms)
var dequeueScript = redis.NewScript(`
local id = redis.call("RPOP", KEYS[1])
if not id then
    return false
end
local key = ARGV[2] .. id
if redis.call("EXISTS", key) == 0 then
    return false
end
local timeout = tonumber(redis.call("HGET", key, "timeout_ms") or "0")
redis.call("ZADD", KEYS[2], tonumber(ARGV[1]) + timeout + tonumber(ARGV[3]), id)
redis.call("HINCRBY", key, "attempts_made", 1)
redis.call("HSET", key, "state", "active")
return redis.call("HGETALL", key)
`)

// completeScript
// KEYS[1] = job hash, KEYS[2] = active zset, KEYS[3] = completed list
// ARGV[1] = id, ARGV[2] = result, ARGV[3] = now (ms), ARGV[4] = ttl (ms),
// ARGV[5] = keep, ARGV[6] = job key prefix, ARGV[7] = events channel
var completeScript = redis.NewScript(`
if redis.call("ZREM", KEYS[2], ARGV[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], "state", "completed", "result", ARGV[2], "finished_at", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
redis.call("LPUSH", KEYS[3], ARGV[1])
local keep = tonumber(ARGV[5])
if keep > 0 then
    local stale = redis.call("LRANGE", KEYS[3], keep, -1)
    for _, old in ipairs(stale) do
        redis.call("DEL", ARGV[6] .. old)
    end
    redis.call("LTRIM", KEYS[3], 0, keep - 1)
end
redis.call("PUBLISH", ARGV[7], "completed")
return 1
`)

// retryScript
// KEYS[1] = job hash, KEYS[2] = active zset, KEYS[3] = delayed zset
// ARGV[1] = id, ARGV[2] = reason, ARGV[3] = ready at (ms)
var retryScript = redis.NewScript(`
if redis.call("ZREM", KEYS[2], ARGV[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], "state", "delayed", "failure_reason", ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// failScript
// KEYS[1] = job hash, KEYS[2] = active zset
// ARGV[1] = id, ARGV[2] = reason, ARGV[3] = now (ms), ARGV[4] = ttl (ms),
// ARGV[5] = events channel, ARGV[6] = failure code
var failScript = redis.NewScript(`
if redis.call("ZREM", KEYS[2], ARGV[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], "state", "failed", "failure_reason", ARGV[2], "failure_code", ARGV[6], "finished_at", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
redis.call("PUBLISH", ARGV[5], "failed")
return 1
`)

// maintainScript promotes due delayed jobs and reclaims expired leases.
// KEYS[1] = delayed zset, KEYS[2] = waiting list, KEYS[3] = active zset
// ARGV[1] = now (ms), ARGV[2] = job key prefix, ARGV[3] = failed ttl (ms),
// ARGV[4] = events channel prefix
var maintainScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local moved = 0

local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", now)
for _, id in ipairs(due) do
    redis.call("ZREM", KEYS[1], id)
    local key = ARGV[2] .. id
    if redis.call("EXISTS", key) == 1 then
        redis.call("HSET", key, "state", "waiting")
        redis.call("LPUSH", KEYS[2], id)
        moved = moved + 1
    end
end

local expired = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", now)
for _, id in ipairs(expired) do
    redis.call("ZREM", KEYS[3], id)
    local key = ARGV[2] .. id
    if redis.call("EXISTS", key) == 1 then
        local made = tonumber(redis.call("HGET", key, "attempts_made") or "0")
        local max = tonumber(redis.call("HGET", key, "max_attempts") or "1")
        if made >= max then
            redis.call("HSET", key, "state", "failed", "failure_reason", "lease expired", "finished_at", ARGV[1])
            redis.call("PEXPIRE", key, ARGV[3])
            redis.call("PUBLISH", ARGV[4] .. id, "failed")
        else
            redis.call("HSET", key, "state", "waiting")
            redis.call("LPUSH", KEYS[2], id)
        end
        moved = moved + 1
    end
end

return moved
`)

// --- Broker ---

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Enqueue(ctx context.Context, job *Job) error {
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.jobKey(job.Queue, job.ID), map[string]any{
		"id":            job.ID,
		"queue":         job.Queue,
		"type":          job.Type,
		"payload":       string(job.Payload),
		"attempts_made": job.AttemptsMade,
		"max_attempts":  job.MaxAttempts,
		"timeout_ms":    job.Timeout.Milliseconds(),
		"backoff_ms":    job.Backoff.Milliseconds(),
		"state":         string(StateWaiting),
		"created_at":    job.CreatedAt.UnixMilli(),
	})
	pipe.LPush(ctx, b.waitingKey(job.Queue), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (b *RedisBroker) Dequeue(ctx context.Context, queue string, leaseGrace time.Duration) (*Job, error) {
	res, err := dequeueScript.Run(ctx, b.client,
		[]string{b.waitingKey(queue), b.activeKey(queue)},
		b.now().UnixMilli(), b.jobPrefix(queue), leaseGrace.Milliseconds(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return parseJob(fields)
}

func (b *RedisBroker) Complete(ctx context.Context, job *Job, result json.RawMessage) error {
	n, err := completeScript.Run(ctx, b.client,
		[]string{b.jobKey(job.Queue, job.ID), b.activeKey(job.Queue), b.completedKey(job.Queue)},
		job.ID, string(result), b.now().UnixMilli(), b.retention.CompletedTTL.Milliseconds(),
		b.retention.CompletedKeep, b.jobPrefix(job.Queue), b.eventsChannel(job.Queue, job.ID),
	).Int()
	return leaseResult(n, err, "complete job")
}

func (b *RedisBroker) Retry(ctx context.Context, job *Job, reason string, delay time.Duration) error {
	n, err := retryScript.Run(ctx, b.client,
		[]string{b.jobKey(job.Queue, job.ID), b.activeKey(job.Queue), b.delayedKey(job.Queue)},
		job.ID, reason, b.now().Add(delay).UnixMilli(),
	).Int()
	return leaseResult(n, err, "retry job")
}

func (b *RedisBroker) Fail(ctx context.Context, job *Job, reason, code string) error {
	n, err := failScript.Run(ctx, b.client,
		[]string{b.jobKey(job.Queue, job.ID), b.activeKey(job.Queue)},
		job.ID, reason, b.now().UnixMilli(), b.retention.FailedTTL.Milliseconds(),
		b.eventsChannel(job.Queue, job.ID), code,
	).Int()
	return leaseResult(n, err, "fail job")
}

func leaseResult(n int, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (b *RedisBroker) Get(ctx context.Context, queue, id string) (*Job, error) {
	fields, err := b.client.HGetAll(ctx, b.jobKey(queue, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return parseJob(fields)
}

func (b *RedisBroker) Watch(ctx context.Context, queue, id string) (<-chan struct{}, func(), error) {
	ps := b.client.Subscribe(ctx, b.eventsChannel(queue, id))
	// Receive blocks until the subscription is confirmed, so no event
	// published after Watch returns can be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe job events: %w", err)
	}

	msgs := ps.Channel()
	out := make(chan struct{}, 1)
	go func() {
		for range msgs {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out, func() { _ = ps.Close() }, nil
}

func (b *RedisBroker) Maintain(ctx context.Context, queue string) (int, error) {
	n, err := maintainScript.Run(ctx, b.client,
		[]string{b.delayedKey(queue), b.waitingKey(queue), b.activeKey(queue)},
		b.now().UnixMilli(), b.jobPrefix(queue), b.retention.FailedTTL.Milliseconds(),
		b.eventsPrefix(queue),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("maintain queue: %w", err)
	}
	return n, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

func parseJob(f map[string]string) (*Job, error) {
	j := &Job{
		ID:            f["id"],
		Queue:         f["queue"],
		Type:          f["type"],
		State:         State(f["state"]),
		FailureReason: f["failure_reason"],
		FailureCode:   f["failure_code"],
	}
	if j.ID == "" {
		return nil, fmt.Errorf("parse job: missing id")
	}
	if p := f["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}
	if r := f["result"]; r != "" {
		j.Result = json.RawMessage(r)
	}

	var attempts, maxAttempts, timeoutMS, backoffMS, createdMS, finishedMS int64
	for field, dst := range map[string]*int64{
		"attempts_made": &attempts,
		"max_attempts":  &maxAttempts,
		"timeout_ms":    &timeoutMS,
		"backoff_ms":    &backoffMS,
		"created_at":    &createdMS,
		"finished_at":   &finishedMS,
	} {
		raw := f[field]
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse job %s: %s: %w", j.ID, field, err)
		}
		*dst = v
	}

	j.AttemptsMade = int(attempts)
	j.MaxAttempts = int(maxAttempts)
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
	j.Backoff = time.Duration(backoffMS) * time.Millisecond
	j.CreatedAt = time.UnixMilli(createdMS)
	if finishedMS > 0 {
		j.FinishedAt = time.UnixMilli(finishedMS)
	}
	return j, nil
}

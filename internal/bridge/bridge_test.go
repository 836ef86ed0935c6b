package bridge_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digiens-academy/sellibra-backend/internal/ai"
	"github.com/digiens-academy/sellibra-backend/internal/ai/mock"
	"github.com/digiens-academy/sellibra-backend/internal/bridge"
	"github.com/digiens-academy/sellibra-backend/internal/queue"
	"github.com/digiens-academy/sellibra-backend/internal/quota"
	"github.com/digiens-academy/sellibra-backend/internal/scratch"
	"github.com/digiens-academy/sellibra-backend/internal/task"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

type recorder struct {
	mu      sync.Mutex
	removed []string
}

func (r *recorder) Remove(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, paths...)
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

type fixture struct {
	userID    uuid.UUID
	quota     *quota.Manager
	executor  *task.Executor
	artifacts *recorder
}

func newFixture(t *testing.T, provider models.AIProvider, tokens int) *fixture {
	t.Helper()
	now := time.Now()
	s := quota.NewMemoryStore(time.Now)
	id := uuid.New()
	s.Set(id, tokens, now)
	m := quota.NewManager(s, quota.Policy{Allowance: 40, Window: 24 * time.Hour})
	return &fixture{
		userID:    id,
		quota:     m,
		executor:  task.NewExecutor(provider, m, nil),
		artifacts: &recorder{},
	}
}

func (f *fixture) balance(t *testing.T) int {
	t.Helper()
	b, err := f.quota.Balance(context.Background(), f.userID)
	require.NoError(t, err)
	return b.Tokens
}

func (f *fixture) order() models.WorkOrder {
	return models.WorkOrder{
		UserID:    f.userID,
		TokenCost: 4,
		Artifacts: []string{"/scratch/design.png"},
		Task: models.ImageToImage{
			ImagePath: "/scratch/design.png",
			Prompt:    "watercolor",
		},
	}
}

// queued starts a registry backed by a memory broker with a worker on
// every queue.
func (f *fixture) queued(t *testing.T) *queue.Registry {
	t.Helper()
	return f.queuedOn(t, queue.NewMemoryBroker(), f.artifacts)
}

func (f *fixture) queuedOn(t *testing.T, broker queue.Broker, artifacts task.Artifacts) *queue.Registry {
	t.Helper()
	categories := make(map[string][]queue.EnqueueOption)
	for _, name := range models.Queues {
		categories[name] = []queue.EnqueueOption{queue.WithBackoff(time.Millisecond)}
	}
	reg := queue.NewRegistry(broker, categories)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, name := range reg.Names() {
		q, err := reg.Queue(name)
		require.NoError(t, err)
		w := queue.NewWorker(q, f.executor.Handler(artifacts), queue.WorkerConfig{
			Concurrency:  2,
			PollInterval: 5 * time.Millisecond,
			LeaseGrace:   time.Second,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(ctx)
		}()
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return reg
}

func echoProvider() *mock.MockProvider {
	p := mock.NewProvider()
	p.ImageToImageFunc = func(_ context.Context, t models.ImageToImage) (models.ImageResult, error) {
		return models.ImageResult{URL: "https://img.example/out.png", RevisedPrompt: t.Prompt}, nil
	}
	return p
}

func unavailable() *queue.Registry {
	return queue.NewRegistry(nil, map[string][]queue.EnqueueOption{models.QueueImageToImage: nil})
}

func TestSubmit_PrecheckRejects(t *testing.T) {
	f := newFixture(t, echoProvider(), 2)
	b := bridge.New(f.quota, unavailable(), f.executor, f.artifacts, nil, nil)

	_, err := b.Submit(context.Background(), f.order())
	assert.ErrorIs(t, err, quota.ErrInsufficientQuota)
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
	assert.Equal(t, 2, f.balance(t))
}

func TestSubmit_InvalidOrderRemovesArtifacts(t *testing.T) {
	f := newFixture(t, echoProvider(), 40)
	b := bridge.New(f.quota, unavailable(), f.executor, f.artifacts, nil, nil)

	order := f.order()
	order.Task = models.ImageToImage{ImagePath: "/scratch/design.png"}
	_, err := b.Submit(context.Background(), order)
	assert.ErrorIs(t, err, models.ErrInvalidTask)
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

func TestSubmit_InlineWhenQueueUnavailable(t *testing.T) {
	f := newFixture(t, echoProvider(), 40)
	b := bridge.New(f.quota, unavailable(), f.executor, f.artifacts, nil, nil)

	res, err := b.Submit(context.Background(), f.order())
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/out.png", res.Image.URL)
	assert.Equal(t, 36, res.TokensRemaining)
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

func TestSubmit_QueuedMatchesInline(t *testing.T) {
	inlineFx := newFixture(t, echoProvider(), 40)
	inline, err := bridge.New(inlineFx.quota, unavailable(), inlineFx.executor, inlineFx.artifacts, nil, nil).
		Submit(context.Background(), inlineFx.order())
	require.NoError(t, err)

	f := newFixture(t, echoProvider(), 40)
	b := bridge.New(f.quota, f.queued(t), f.executor, f.artifacts, nil, nil)
	queued, err := b.Submit(context.Background(), f.order())
	require.NoError(t, err)

	assert.Equal(t, inline, queued)
	assert.Equal(t, 36, f.balance(t))
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

func TestSubmit_EnqueueFailureFallsBackInline(t *testing.T) {
	f := newFixture(t, echoProvider(), 40)
	broker := queue.NewMemoryBroker()
	require.NoError(t, broker.Close())
	reg := queue.NewRegistry(broker, map[string][]queue.EnqueueOption{models.QueueImageToImage: nil})
	b := bridge.New(f.quota, reg, f.executor, f.artifacts, nil, nil)

	res, err := b.Submit(context.Background(), f.order())
	require.NoError(t, err)
	assert.Equal(t, 36, res.TokensRemaining)
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

func TestSubmit_TimeoutDoesNotDoubleCharge(t *testing.T) {
	release := make(chan struct{})
	p := echoProvider()
	p.ImageToImageFunc = func(_ context.Context, t models.ImageToImage) (models.ImageResult, error) {
		<-release
		return models.ImageResult{URL: "https://img.example/slow.png"}, nil
	}
	f := newFixture(t, p, 40)
	reg := f.queued(t)
	b := bridge.New(f.quota, reg, f.executor, f.artifacts,
		map[string]time.Duration{models.QueueImageToImage: 50 * time.Millisecond}, nil)

	_, err := b.Submit(context.Background(), f.order())
	require.ErrorIs(t, err, bridge.ErrTookTooLong)
	var tooLong *bridge.TookTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.NotEmpty(t, tooLong.JobID)
	assert.Equal(t, models.QueueImageToImage, tooLong.Queue)

	// The worker still owns the artifacts and has not charged yet.
	assert.Empty(t, f.artifacts.paths())
	assert.Equal(t, 40, f.balance(t))

	close(release)
	q, err := reg.Queue(models.QueueImageToImage)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		job, err := q.Get(context.Background(), tooLong.JobID)
		return err == nil && job.State == queue.StateCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 36, f.balance(t))
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

func TestSubmit_JobFailure(t *testing.T) {
	f := newFixture(t, mock.NewFailingProvider(ai.ErrRejected), 40)
	b := bridge.New(f.quota, f.queued(t), f.executor, f.artifacts, nil, nil)

	_, err := b.Submit(context.Background(), f.order())
	assert.ErrorIs(t, err, queue.ErrJobFailed)
	var failed *queue.JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, 40, f.balance(t))
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

// approveAll passes every precheck, as a stale read would.
type approveAll struct{}

func (approveAll) HasEnoughTokens(context.Context, uuid.UUID, int) (bool, error) {
	return true, nil
}

func TestSubmit_RefusedChargeMatchesInline(t *testing.T) {
	inlineFx := newFixture(t, echoProvider(), 0)
	_, inlineErr := bridge.New(approveAll{}, unavailable(), inlineFx.executor, inlineFx.artifacts, nil, nil).
		Submit(context.Background(), inlineFx.order())
	require.ErrorIs(t, inlineErr, quota.ErrInsufficientQuota)

	f := newFixture(t, echoProvider(), 0)
	_, queuedErr := bridge.New(approveAll{}, f.queued(t), f.executor, f.artifacts, nil, nil).
		Submit(context.Background(), f.order())
	assert.ErrorIs(t, queuedErr, quota.ErrInsufficientQuota)
	assert.ErrorIs(t, queuedErr, queue.ErrJobFailed)
	assert.Equal(t, 0, f.balance(t))
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

func TestSubmit_NotConfiguredMatchesInline(t *testing.T) {
	inlineFx := newFixture(t, mock.NewFailingProvider(ai.ErrNotConfigured), 40)
	_, inlineErr := bridge.New(inlineFx.quota, unavailable(), inlineFx.executor, inlineFx.artifacts, nil, nil).
		Submit(context.Background(), inlineFx.order())
	require.ErrorIs(t, inlineErr, ai.ErrNotConfigured)

	f := newFixture(t, mock.NewFailingProvider(ai.ErrNotConfigured), 40)
	_, queuedErr := bridge.New(f.quota, f.queued(t), f.executor, f.artifacts, nil, nil).
		Submit(context.Background(), f.order())
	assert.ErrorIs(t, queuedErr, ai.ErrNotConfigured)
	assert.NotErrorIs(t, queuedErr, quota.ErrInsufficientQuota)
	assert.Equal(t, 40, f.balance(t))
}

// lostReply stores the job and then reports a failure, like a connection
// that drops after the broker applied the write.
type lostReply struct {
	queue.Broker
}

func (b lostReply) Enqueue(ctx context.Context, job *queue.Job) error {
	if err := b.Broker.Enqueue(ctx, job); err != nil {
		return err
	}
	return errors.New("read tcp 10.0.0.2:6379: i/o timeout")
}

func TestSubmit_StoredJobIsNotRunInline(t *testing.T) {
	var calls atomic.Int64
	p := echoProvider()
	inner := p.ImageToImageFunc
	p.ImageToImageFunc = func(ctx context.Context, req models.ImageToImage) (models.ImageResult, error) {
		calls.Add(1)
		return inner(ctx, req)
	}
	f := newFixture(t, p, 40)
	reg := f.queuedOn(t, lostReply{queue.NewMemoryBroker()}, f.artifacts)
	b := bridge.New(f.quota, reg, f.executor, f.artifacts, nil, nil)

	res, err := b.Submit(context.Background(), f.order())
	require.NoError(t, err)
	assert.Equal(t, 36, res.TokensRemaining)
	assert.Equal(t, 36, f.balance(t))
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

// flakyProvider fails the first n image calls with err.
func flakyProvider(n int64, err error, calls *atomic.Int64) *mock.MockProvider {
	p := echoProvider()
	inner := p.ImageToImageFunc
	p.ImageToImageFunc = func(ctx context.Context, req models.ImageToImage) (models.ImageResult, error) {
		if calls.Add(1) <= n {
			return models.ImageResult{}, err
		}
		return inner(ctx, req)
	}
	return p
}

func TestSubmit_InlineRetriesProviderOutage(t *testing.T) {
	var calls atomic.Int64
	f := newFixture(t, flakyProvider(1, ai.ErrProviderUnavailable, &calls), 40)
	b := bridge.New(f.quota, unavailable(), f.executor, f.artifacts, nil, nil,
		bridge.WithInlineRetry(3, time.Millisecond))

	res, err := b.Submit(context.Background(), f.order())
	require.NoError(t, err)
	assert.Equal(t, 36, res.TokensRemaining)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

func TestSubmit_InlineRetryIsBounded(t *testing.T) {
	var calls atomic.Int64
	f := newFixture(t, flakyProvider(10, ai.ErrProviderUnavailable, &calls), 40)
	b := bridge.New(f.quota, unavailable(), f.executor, f.artifacts, nil, nil,
		bridge.WithInlineRetry(3, time.Millisecond))

	_, err := b.Submit(context.Background(), f.order())
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 40, f.balance(t))
	assert.Equal(t, []string{"/scratch/design.png"}, f.artifacts.paths())
}

func TestSubmit_InlineDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int64
	f := newFixture(t, flakyProvider(10, ai.ErrRejected, &calls), 40)
	b := bridge.New(f.quota, unavailable(), f.executor, f.artifacts, nil, nil,
		bridge.WithInlineRetry(3, time.Millisecond))

	_, err := b.Submit(context.Background(), f.order())
	assert.ErrorIs(t, err, ai.ErrRejected)
	assert.Equal(t, int64(1), calls.Load())
}

func TestSubmit_ScratchDirEmptyAfterEveryOutcome(t *testing.T) {
	tests := []struct {
		name     string
		provider models.AIProvider
		tokens   int
		queued   bool
		wantErr  error
	}{
		{name: "inline success", provider: echoProvider(), tokens: 40},
		{name: "queued success", provider: echoProvider(), tokens: 40, queued: true},
		{name: "precheck rejects", provider: echoProvider(), tokens: 2, wantErr: quota.ErrInsufficientQuota},
		{name: "inline failure", provider: mock.NewFailingProvider(ai.ErrRejected), tokens: 40, wantErr: ai.ErrRejected},
		{name: "queued failure", provider: mock.NewFailingProvider(ai.ErrRejected), tokens: 40, queued: true, wantErr: queue.ErrJobFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			files, err := scratch.New(dir, nil)
			require.NoError(t, err)
			path, err := files.Save(context.Background(), "design.png", bytes.NewReader([]byte("png")))
			require.NoError(t, err)

			f := newFixture(t, tt.provider, tt.tokens)
			reg := unavailable()
			if tt.queued {
				reg = f.queuedOn(t, queue.NewMemoryBroker(), files)
			}
			b := bridge.New(f.quota, reg, f.executor, files, nil, nil)

			order := f.order()
			order.Artifacts = []string{path}
			order.Task = models.ImageToImage{ImagePath: path, Prompt: "watercolor"}
			_, err = b.Submit(context.Background(), order)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/digiens-academy/sellibra-backend/internal/account"
	"github.com/digiens-academy/sellibra-backend/internal/ai"
	"github.com/digiens-academy/sellibra-backend/internal/ai/mock"
	"github.com/digiens-academy/sellibra-backend/internal/api"
	"github.com/digiens-academy/sellibra-backend/internal/api/handler"
	mw "github.com/digiens-academy/sellibra-backend/internal/api/middleware"
	"github.com/digiens-academy/sellibra-backend/internal/bridge"
	"github.com/digiens-academy/sellibra-backend/internal/cache"
	"github.com/digiens-academy/sellibra-backend/internal/queue"
	"github.com/digiens-academy/sellibra-backend/internal/quota"
	"github.com/digiens-academy/sellibra-backend/internal/scratch"
	"github.com/digiens-academy/sellibra-backend/internal/store"
	"github.com/digiens-academy/sellibra-backend/internal/task"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	sellerKey = "sk_5e11e25e11e25e11e25e11e25e11e2aa"
	adminKey  = "sk_ad417ad417ad417ad417ad417ad417bb"
	otherKey  = "sk_07e507e507e507e507e507e507e507cc"
)

var (
	sellerID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	adminID  = uuid.MustParse("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	otherID  = uuid.MustParse("cccccccc-cccc-cccc-cccc-cccccccccccc")
)

// ─── mock store ──────────────────────────────────────────────────────────────

type mockStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]*models.User
	keys  []*models.APIKey
}

func newMockStore(t *testing.T) *mockStore {
	t.Helper()
	ms := &mockStore{users: make(map[uuid.UUID]*models.User)}
	for _, u := range []struct {
		id   uuid.UUID
		role string
		raw  string
	}{
		{sellerID, models.RoleUser, sellerKey},
		{adminID, models.RoleAdmin, adminKey},
		{otherID, models.RoleUser, otherKey},
	} {
		ms.users[u.id] = &models.User{ID: u.id, Email: u.id.String()[:4] + "@example.com", Role: u.role}
		h, err := bcrypt.GenerateFromPassword([]byte(u.raw), bcrypt.MinCost)
		require.NoError(t, err)
		ms.keys = append(ms.keys, &models.APIKey{
			ID:        uuid.New(),
			UserID:    u.id,
			Name:      "default",
			KeyHash:   string(h),
			KeyPrefix: u.raw[:account.KeyPrefixLen],
			Scopes:    account.ScopesFor(u.role),
			CreatedAt: time.Now(),
		})
	}
	return ms
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return store.ErrDuplicateKey
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *mockStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *mockStore) CreateAPIKey(_ context.Context, k *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, k)
	return nil
}

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.RevokedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.UserID == userID && k.RevokedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) RevokeAPIKey(_ context.Context, id uuid.UUID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.ID == id && k.UserID == userID && k.RevokedAt == nil {
			now := time.Now()
			k.RevokedAt = &now
			return nil
		}
	}
	return store.ErrNotFound
}

// ─── test harness ────────────────────────────────────────────────────────────

type serverOptions struct {
	provider  models.AIProvider
	queued    bool
	waits     map[string]time.Duration
	rateLimit int
	tokens    int
}

type testServer struct {
	server  *httptest.Server
	store   *mockStore
	quota   *quota.Manager
	scratch *scratch.Store
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	if opts.provider == nil {
		opts.provider = mock.NewProvider()
	}
	if opts.rateLimit == 0 {
		opts.rateLimit = 100
	}
	if opts.tokens == 0 {
		opts.tokens = 40
	}

	ms := newMockStore(t)
	qs := quota.NewMemoryStore(time.Now)
	for id := range ms.users {
		qs.Set(id, opts.tokens, time.Now())
	}
	qm := quota.NewManager(qs, quota.Policy{Allowance: 40, Window: 24 * time.Hour})

	sc, err := scratch.New(t.TempDir(), nil)
	require.NoError(t, err)

	executor := task.NewExecutor(opts.provider, qm, nil)

	var broker queue.Broker
	if opts.queued {
		broker = queue.NewMemoryBroker()
	}
	categories := make(map[string][]queue.EnqueueOption)
	for _, name := range models.Queues {
		categories[name] = []queue.EnqueueOption{queue.WithBackoff(time.Millisecond), queue.WithMaxAttempts(2)}
	}
	registry := queue.NewRegistry(broker, categories)
	if opts.queued {
		startWorkers(t, registry, executor.Handler(sc))
	}

	b := bridge.New(qm, registry, executor, sc, opts.waits, nil)
	aiHandler := handler.NewAI(b, sc, handler.Costs{Design: 4, Copy: 1}, 1<<20)
	keys := handler.NewKeys(ms, account.NewService(ms, 40, account.WithBcryptCost(bcrypt.MinCost)))

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(cache.NewMemoryCache(), opts.rateLimit),

		HealthHandler: handler.NewHealthHandler(ms, map[string]handler.Pinger{"queue": registry}),
		TokensHandler: handler.NewTokensHandler(qm),
		JobHandler:    handler.NewJobHandler(registry),

		RemoveBackground:    aiHandler.RemoveBackground,
		TextToImage:         aiHandler.TextToImage,
		ImageToImage:        aiHandler.ImageToImage,
		GenerateTags:        aiHandler.GenerateContent(models.ContentTags),
		GenerateTitle:       aiHandler.GenerateContent(models.ContentTitle),
		GenerateDescription: aiHandler.GenerateContent(models.ContentDescription),
		GenerateMockup:      aiHandler.GenerateMockup,

		ListKeysHandler:   keys.List,
		CreateKeyHandler:  keys.Create,
		RevokeKeyHandler:  keys.Revoke,
		CreateUserHandler: keys.CreateUser,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: ms, quota: qm, scratch: sc}
}

func startWorkers(t *testing.T, registry *queue.Registry, h queue.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, name := range registry.Names() {
		q, err := registry.Queue(name)
		require.NoError(t, err)
		w := queue.NewWorker(q, h, queue.WorkerConfig{Concurrency: 2, PollInterval: 5 * time.Millisecond, LeaseGrace: time.Second})
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
}

func (ts *testServer) do(t *testing.T, key, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.Header.Set("Content-Type", "application/json")
	return ts.send(t, req)
}

func (ts *testServer) upload(t *testing.T, key, path, field, filename string, fields map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	part, err := mpw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfake-image-bytes"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mpw.WriteField(k, v))
	}
	require.NoError(t, mpw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp, body
}

func (ts *testServer) scratchFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(ts.scratch.Dir())
	require.NoError(t, err)
	return len(entries)
}

func data(body map[string]any) map[string]any {
	return body["data"].(map[string]any)
}

func errCode(body map[string]any) string {
	return body["error"].(map[string]any)["code"].(string)
}

// ─── health & tokens ─────────────────────────────────────────────────────────

func TestHealth_Public(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, "", http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", data(body)["status"])
	services := data(body)["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "degraded", services["queue"])
}

func TestTokens_Balance(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, sellerKey, http.MethodGet, "/api/v1/tokens", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(40), data(body)["tokens"])
	assert.Equal(t, float64(40), data(body)["allowance"])
	assert.NotEmpty(t, data(body)["next_reset"])
}

// ─── AI endpoints ────────────────────────────────────────────────────────────

func TestGenerateTags_Inline(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/generate-tags",
		map[string]any{"product_name": "Ceramic Mug", "keywords": []string{"coffee"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	d := data(body)
	assert.Equal(t, "generate_content", d["type"])
	assert.Equal(t, float64(1), d["tokens_charged"])
	assert.Equal(t, float64(39), d["tokens_remaining"])
	content := d["content"].(map[string]any)
	assert.Equal(t, "tags", content["kind"])
	assert.NotEmpty(t, content["tags"])
}

func TestGenerateTitleAndDescription_Queued(t *testing.T) {
	ts := newTestServer(t, serverOptions{queued: true})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/generate-title",
		map[string]any{"product_name": "Ceramic Mug"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, data(body)["content"].(map[string]any)["title"])

	resp, body = ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/generate-description",
		map[string]any{"product_name": "Ceramic Mug"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, data(body)["content"].(map[string]any)["description"])
	assert.Equal(t, float64(38), data(body)["tokens_remaining"])
}

func TestTextToImage(t *testing.T) {
	ts := newTestServer(t, serverOptions{queued: true})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/text-to-image",
		map[string]any{"prompt": "a fox in a teacup"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := data(body)
	assert.NotEmpty(t, d["image"].(map[string]any)["url"])
	assert.Equal(t, float64(36), d["tokens_remaining"])
}

func TestTextToImage_MissingPrompt(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/text-to-image", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))
}

func TestTextToImage_InvalidJSON(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	req, err := http.NewRequest(http.MethodPost, ts.server.URL+"/api/v1/ai/text-to-image", bytes.NewBufferString("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sellerKey)
	resp, body := ts.send(t, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))
}

func TestRemoveBackground_ReturnsDataURLAndCleansUp(t *testing.T) {
	for name, queued := range map[string]bool{"inline": false, "queued": true} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, serverOptions{queued: queued})

			resp, body := ts.upload(t, sellerKey, "/api/v1/ai/remove-background", "image", "shirt.png", nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			img := data(body)["image"].(map[string]any)
			assert.Contains(t, img["url"], "data:image/png;base64,")
			assert.Equal(t, float64(36), data(body)["tokens_remaining"])
			assert.Equal(t, 0, ts.scratchFiles(t))
		})
	}
}

func TestRemoveBackground_RejectsNonImage(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.upload(t, sellerKey, "/api/v1/ai/remove-background", "image", "notes.txt", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))
	assert.Equal(t, 0, ts.scratchFiles(t))
}

func TestRemoveBackground_MissingFile(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.upload(t, sellerKey, "/api/v1/ai/remove-background", "photo", "shirt.png", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))
}

func TestImageToImage_MissingPromptRemovesUpload(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.upload(t, sellerKey, "/api/v1/ai/image-to-image", "image", "shirt.png", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))
	assert.Equal(t, 0, ts.scratchFiles(t))
}

func TestGenerateMockup(t *testing.T) {
	ts := newTestServer(t, serverOptions{queued: true})

	resp, body := ts.upload(t, sellerKey, "/api/v1/ai/generate-mockup", "design", "logo.png",
		map[string]string{"product_type": "tshirt", "product_color": "black"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, data(body)["image"].(map[string]any)["url"], "tshirt")
	assert.Equal(t, 0, ts.scratchFiles(t))
}

func TestInsufficientTokens(t *testing.T) {
	ts := newTestServer(t, serverOptions{tokens: 2})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/text-to-image",
		map[string]any{"prompt": "a fox"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_TOKENS", errCode(body))
}

func TestAINotConfigured(t *testing.T) {
	ts := newTestServer(t, serverOptions{provider: mock.NewFailingProvider(ai.ErrNotConfigured)})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/generate-tags",
		map[string]any{"product_name": "Mug"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "AI_NOT_CONFIGURED", errCode(body))
}

func TestJobFailure(t *testing.T) {
	ts := newTestServer(t, serverOptions{queued: true, provider: mock.NewFailingProvider(ai.ErrProviderUnavailable)})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/generate-tags",
		map[string]any{"product_name": "Mug"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "AI_PROCESSING_FAILED", errCode(body))

	b, err := ts.quota.Balance(context.Background(), sellerID)
	require.NoError(t, err)
	assert.Equal(t, 40, b.Tokens)
}

// ─── took too long + job polling ─────────────────────────────────────────────

func TestTookTooLong_ThenPoll(t *testing.T) {
	release := make(chan struct{})
	p := mock.NewProvider()
	inner := p.TextToImageFunc
	p.TextToImageFunc = func(ctx context.Context, req models.TextToImage) (models.ImageResult, error) {
		<-release
		return inner(ctx, req)
	}
	ts := newTestServer(t, serverOptions{
		queued:   true,
		provider: p,
		waits:    map[string]time.Duration{models.QueueTextToImage: 50 * time.Millisecond},
	})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/ai/text-to-image",
		map[string]any{"prompt": "slow fox"})
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "TOOK_TOO_LONG", errCode(body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	jobPath := "/api/v1/jobs/" + details["queue"].(string) + "/" + details["job_id"].(string)

	resp, body = ts.do(t, sellerKey, http.MethodGet, jobPath, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, []any{"waiting", "active"}, data(body)["state"])

	resp, _ = ts.do(t, otherKey, http.MethodGet, jobPath, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	unblock()
	require.Eventually(t, func() bool {
		resp, _ := ts.do(t, sellerKey, http.MethodGet, jobPath, nil)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	_, body = ts.do(t, sellerKey, http.MethodGet, jobPath, nil)
	d := data(body)
	assert.Equal(t, "completed", d["state"])
	assert.Equal(t, float64(36), d["result"].(map[string]any)["tokens_remaining"])
}

func TestJobPoll_UnknownQueueOrJob(t *testing.T) {
	ts := newTestServer(t, serverOptions{queued: true})

	resp, _ := ts.do(t, sellerKey, http.MethodGet, "/api/v1/jobs/upscale/abc", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, sellerKey, http.MethodGet, "/api/v1/jobs/text-to-image/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── keys & admin ────────────────────────────────────────────────────────────

func TestKeys_CreateListRevoke(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/keys", map[string]any{"name": "zapier"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := data(body)
	rawKey := created["key"].(string)
	assert.True(t, account.ValidKey(rawKey))
	assert.Equal(t, []any{models.ScopeAI}, created["scopes"])
	_, hasHash := created["key_hash"]
	assert.False(t, hasHash)

	resp, body = ts.do(t, rawKey, http.MethodGet, "/api/v1/keys", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["meta"].(map[string]any)["count"])

	resp, _ = ts.do(t, sellerKey, http.MethodDelete, "/api/v1/keys/"+created["id"].(string), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, rawKey, http.MethodGet, "/api/v1/keys", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestKeys_CreateRequiresName(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/keys", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errCode(body))
}

func TestKeys_RevokeOtherUsersKey(t *testing.T) {
	ts := newTestServer(t, serverOptions{})
	keys, err := ts.store.ListAPIKeys(context.Background(), otherID)
	require.NoError(t, err)

	resp, _ := ts.do(t, sellerKey, http.MethodDelete, "/api/v1/keys/"+keys[0].ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, sellerKey, http.MethodDelete, "/api/v1/keys/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_CreateUser(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, adminKey, http.MethodPost, "/api/v1/admin/users",
		map[string]any{"email": "New.Seller@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user := data(body)["user"].(map[string]any)
	assert.Equal(t, "new.seller@example.com", user["email"])
	assert.Equal(t, float64(40), user["daily_tokens"])
	assert.True(t, account.ValidKey(data(body)["key"].(string)))

	resp, body = ts.do(t, adminKey, http.MethodPost, "/api/v1/admin/users",
		map[string]any{"email": "new.seller@example.com"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EMAIL_TAKEN", errCode(body))

	resp, _ = ts.do(t, adminKey, http.MethodPost, "/api/v1/admin/users",
		map[string]any{"email": "x@example.com", "role": "owner"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = ts.do(t, adminKey, http.MethodPost, "/api/v1/admin/users",
		map[string]any{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "email", body["error"].(map[string]any)["details"].(map[string]any)["email"])
}

func TestAdmin_ForbiddenForSeller(t *testing.T) {
	ts := newTestServer(t, serverOptions{})

	resp, body := ts.do(t, sellerKey, http.MethodPost, "/api/v1/admin/users",
		map[string]any{"email": "x@example.com"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errCode(body))
}

// ─── rate limit ──────────────────────────────────────────────────────────────

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, serverOptions{rateLimit: 2})

	for range 2 {
		resp, _ := ts.do(t, sellerKey, http.MethodGet, "/api/v1/tokens", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := ts.do(t, sellerKey, http.MethodGet, "/api/v1/tokens", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errCode(body))

	resp, _ = ts.do(t, otherKey, http.MethodGet, "/api/v1/tokens", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digiens-academy/sellibra-backend/internal/store"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// MemoryStore is an in-process Store. One mutex guards every balance, which
// makes each ConsumeQuota a single critical section.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.UserQuota
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		accounts: make(map[uuid.UUID]*models.UserQuota),
		now:      now,
	}
}

// Set creates or overwrites a user's balance.
func (s *MemoryStore) Set(userID uuid.UUID, tokens int, lastReset time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[userID] = &models.UserQuota{
		UserID:         userID,
		DailyTokens:    tokens,
		LastTokenReset: lastReset,
	}
}

func (s *MemoryStore) GetQuota(_ context.Context, userID uuid.UUID) (models.UserQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.accounts[userID]
	if !ok {
		return models.UserQuota{}, store.ErrNotFound
	}
	return *q, nil
}

func (s *MemoryStore) ConsumeQuota(_ context.Context, userID uuid.UUID, amount, allowance int, window time.Duration) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.accounts[userID]
	if !ok {
		return 0, false, nil
	}

	now := s.now()
	if now.Sub(q.LastTokenReset) >= window {
		if allowance < amount {
			return 0, false, nil
		}
		q.DailyTokens = allowance - amount
		q.LastTokenReset = now
		return q.DailyTokens, true, nil
	}

	if q.DailyTokens < amount {
		return 0, false, nil
	}
	q.DailyTokens -= amount
	return q.DailyTokens, true, nil
}

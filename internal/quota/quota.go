// Package quota enforces the daily token allowance. Reads are advisory; the
// only authoritative mutation is ConsumeTokens, which is atomic per user.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digiens-academy/sellibra-backend/internal/store"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

var (
	ErrInsufficientQuota = errors.New("insufficient tokens")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidAmount     = errors.New("token amount must be positive")
)

// Store persists per-user balances. GetQuota returns store.ErrNotFound for
// unknown users. ConsumeQuota must reset-and-deduct or deduct as a single
// atomic step and report applied=false when it changed nothing.
type Store interface {
	GetQuota(ctx context.Context, userID uuid.UUID) (models.UserQuota, error)
	ConsumeQuota(ctx context.Context, userID uuid.UUID, amount, allowance int, window time.Duration) (remaining int, applied bool, err error)
}

// Policy is the allowance a user gets back once Window has elapsed since
// their last reset.
type Policy struct {
	Allowance int
	Window    time.Duration
}

// Balance is what a user can spend right now.
type Balance struct {
	Tokens    int       `json:"tokens"`
	Allowance int       `json:"allowance"`
	NextReset time.Time `json:"next_reset"`
}

type Manager struct {
	store  Store
	policy Policy
	now    func() time.Time
}

type Option func(*Manager)

// WithClock replaces time.Now for the advisory reads.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(s Store, p Policy, opts ...Option) *Manager {
	m := &Manager{store: s, policy: p, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Policy() Policy { return m.policy }

// HasEnoughTokens reports whether the user could currently afford amount.
// The answer may be stale by the time ConsumeTokens runs.
func (m *Manager) HasEnoughTokens(ctx context.Context, userID uuid.UUID, amount int) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	b, err := m.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.Tokens >= amount, nil
}

// ConsumeTokens deducts amount and returns the remaining balance.
func (m *Manager) ConsumeTokens(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	remaining, applied, err := m.store.ConsumeQuota(ctx, userID, amount, m.policy.Allowance, m.policy.Window)
	if err != nil {
		return 0, fmt.Errorf("consume tokens: %w", err)
	}
	if applied {
		return remaining, nil
	}

	// Nothing matched: either the user is gone or the balance is too low.
	if _, err := m.store.GetQuota(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("consume tokens: %w", err)
	}
	return 0, ErrInsufficientQuota
}

// Balance returns the effective balance, counting an elapsed window as a
// full allowance even before any consume has persisted the reset.
func (m *Manager) Balance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	q, err := m.store.GetQuota(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Balance{}, ErrUserNotFound
		}
		return Balance{}, fmt.Errorf("get balance: %w", err)
	}

	now := m.now()
	b := Balance{
		Tokens:    q.DailyTokens,
		Allowance: m.policy.Allowance,
		NextReset: q.LastTokenReset.Add(m.policy.Window),
	}
	if m.windowExpired(q.LastTokenReset, now) {
		b.Tokens = m.policy.Allowance
		b.NextReset = now.Add(m.policy.Window)
	}
	return b, nil
}

func (m *Manager) windowExpired(lastReset, now time.Time) bool {
	return now.Sub(lastReset) >= m.policy.Window
}

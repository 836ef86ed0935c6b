// Package account creates users and the API keys they authenticate with.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/digiens-academy/sellibra-backend/internal/store"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// KeyPrefixLen is how many leading characters of a raw key are stored in
// clear for lookup.
const KeyPrefixLen = 8

const keyMarker = "sk_"

var (
	ErrInvalidEmail = errors.New("invalid email")
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidKey   = errors.New("invalid api key format")
)

type Store interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
}

type Service struct {
	store      Store
	allowance  int
	bcryptCost int
}

type Option func(*Service)

// WithBcryptCost lowers the hashing cost in tests.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// NewService builds a Service that gives new users allowance tokens.
func NewService(s Store, allowance int, opts ...Option) *Service {
	svc := &Service{store: s, allowance: allowance, bcryptCost: bcrypt.DefaultCost}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// GenerateKey returns a new raw key of the form sk_<32 hex chars>.
func GenerateKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return keyMarker + hex.EncodeToString(b), nil
}

// ValidKey reports whether raw looks like a key this service issues.
func ValidKey(raw string) bool {
	rest, ok := strings.CutPrefix(raw, keyMarker)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

// ScopesFor returns the scopes a key for the given role carries.
func ScopesFor(role string) []string {
	if role == models.RoleAdmin {
		return []string{models.ScopeAI, models.ScopeAdmin}
	}
	return []string{models.ScopeAI}
}

// CreateUser registers a user with a full token allowance and issues their
// first API key. The raw key is only returned here.
func (s *Service) CreateUser(ctx context.Context, email, role string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, "", ErrInvalidEmail
	}
	if role == "" {
		role = models.RoleUser
	}

	raw, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}
	user, err := s.createUser(ctx, email, role)
	if err != nil {
		return nil, "", err
	}
	if _, err := s.saveKey(ctx, user.ID, "default", raw, ScopesFor(role)); err != nil {
		return nil, "", err
	}
	return user, raw, nil
}

// IssueKey stores a new key for userID and returns it with its raw value.
func (s *Service) IssueKey(ctx context.Context, userID uuid.UUID, name string, scopes []string) (*models.APIKey, string, error) {
	raw, err := GenerateKey()
	if err != nil {
		return nil, "", err
	}
	key, err := s.saveKey(ctx, userID, name, raw, scopes)
	if err != nil {
		return nil, "", err
	}
	return key, raw, nil
}

// EnsureAdmin makes sure an admin account for email exists and accepts
// rawKey. It is safe to call on every start.
func (s *Service) EnsureAdmin(ctx context.Context, email, rawKey string) (created bool, err error) {
	if !ValidKey(rawKey) {
		return false, ErrInvalidKey
	}
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		user, err = s.createUser(ctx, email, models.RoleAdmin)
		if err != nil {
			return false, err
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("lookup admin: %w", err)
	}

	keys, err := s.store.GetAPIKeyByPrefix(ctx, rawKey[:KeyPrefixLen])
	if err != nil {
		return created, fmt.Errorf("lookup admin key: %w", err)
	}
	for _, k := range keys {
		if k.UserID == user.ID && bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(rawKey)) == nil {
			return created, nil
		}
	}
	_, err = s.saveKey(ctx, user.ID, "bootstrap", rawKey, ScopesFor(models.RoleAdmin))
	return created, err
}

func (s *Service) createUser(ctx context.Context, email, role string) (*models.User, error) {
	user := &models.User{
		ID:             uuid.New(),
		Email:          email,
		Role:           role,
		DailyTokens:    s.allowance,
		LastTokenReset: time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Service) saveKey(ctx context.Context, userID uuid.UUID, name, raw string, scopes []string) (*models.APIKey, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	key := &models.APIKey{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return key, nil
}

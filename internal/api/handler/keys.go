package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/digiens-academy/sellibra-backend/internal/account"
	"github.com/digiens-academy/sellibra-backend/internal/api/response"
	"github.com/digiens-academy/sellibra-backend/internal/store"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

type KeyStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
}

type Accounts interface {
	CreateUser(ctx context.Context, email, role string) (*models.User, string, error)
	IssueKey(ctx context.Context, userID uuid.UUID, name string, scopes []string) (*models.APIKey, string, error)
}

// Keys serves API key self-service and the admin user endpoint.
type Keys struct {
	store    KeyStore
	accounts Accounts
}

func NewKeys(s KeyStore, a Accounts) *Keys {
	return &Keys{store: s, accounts: a}
}

type issuedKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// List handles GET /api/v1/keys.
func (h *Keys) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	keys, err := h.store.ListAPIKeys(r.Context(), userID)
	if err != nil {
		slog.Error("list api keys failed", "user_id", userID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list API keys", nil)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.List(w, keys, len(keys))
}

// Create handles POST /api/v1/keys. New keys carry the scopes of the
// caller's role, never more.
func (h *Keys) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" validate:"required,max=100"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !validRequest(w, req) {
		return
	}

	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("load user failed", "user_id", userID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create API key", nil)
		return
	}
	key, raw, err := h.accounts.IssueKey(r.Context(), userID, req.Name, account.ScopesFor(user.Role))
	if err != nil {
		slog.Error("issue api key failed", "user_id", userID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create API key", nil)
		return
	}
	response.Created(w, issuedKey{APIKey: key, Key: raw})
}

// Revoke handles DELETE /api/v1/keys/{keyID}.
func (h *Keys) Revoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(w, r)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid key id", nil)
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), keyID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "API key not found", nil)
			return
		}
		slog.Error("revoke api key failed", "key_id", keyID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke API key", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateUser handles POST /api/v1/admin/users and returns the new user's
// first key.
func (h *Keys) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email" validate:"required,email"`
		Role  string `json:"role" validate:"omitempty,oneof=user admin"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !validRequest(w, req) {
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	user, raw, err := h.accounts.CreateUser(r.Context(), req.Email, req.Role)
	switch {
	case errors.Is(err, account.ErrInvalidEmail):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "A valid email is required", nil)
		return
	case errors.Is(err, account.ErrEmailTaken):
		response.Error(w, http.StatusConflict, "EMAIL_TAKEN", "Email already registered", nil)
		return
	case err != nil:
		slog.Error("create user failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user", nil)
		return
	}
	slog.Info("user created", "user_id", user.ID, "role", user.Role)
	response.Created(w, map[string]any{"user": user, "key": raw})
}

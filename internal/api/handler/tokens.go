package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/digiens-academy/sellibra-backend/internal/api/response"
	"github.com/digiens-academy/sellibra-backend/internal/quota"
)

type BalanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (quota.Balance, error)
}

// NewTokensHandler returns an http.HandlerFunc for GET /api/v1/tokens.
func NewTokensHandler(q BalanceReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userFrom(w, r)
		if !ok {
			return
		}
		b, err := q.Balance(r.Context(), userID)
		if err != nil {
			if errors.Is(err, quota.ErrUserNotFound) {
				slog.Error("authenticated user has no quota row", "user_id", userID)
			} else {
				slog.Error("read balance failed", "user_id", userID, "error", err)
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read token balance", nil)
			return
		}
		response.JSON(w, b)
	}
}

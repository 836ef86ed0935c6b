package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/digiens-academy/sellibra-backend/internal/ai"
	"github.com/digiens-academy/sellibra-backend/internal/api/response"
	"github.com/digiens-academy/sellibra-backend/internal/bridge"
	"github.com/digiens-academy/sellibra-backend/internal/queue"
	"github.com/digiens-academy/sellibra-backend/internal/quota"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// writeSubmitError maps a failed AI request onto the public error codes.
func writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLong *bridge.TookTooLongError
	switch {
	case errors.As(err, &tooLong):
		response.Error(w, http.StatusGatewayTimeout, "TOOK_TOO_LONG",
			"The job is still running; poll it for the result",
			map[string]string{"job_id": tooLong.JobID, "queue": tooLong.Queue})
	case errors.Is(err, quota.ErrInsufficientQuota):
		response.Error(w, http.StatusForbidden, "INSUFFICIENT_TOKENS",
			"Not enough tokens left for today", nil)
	case errors.Is(err, models.ErrInvalidTask):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, ai.ErrNotConfigured):
		response.Error(w, http.StatusServiceUnavailable, "AI_NOT_CONFIGURED",
			"The AI service is not configured", nil)
	case errors.Is(err, ai.ErrInferenceTimeout):
		response.Error(w, http.StatusGatewayTimeout, "AI_INFERENCE_TIMEOUT",
			"The AI provider took too long to respond", nil)
	case errors.Is(err, quota.ErrUserNotFound):
		slog.Error("authenticated user has no quota row", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	case errors.Is(err, queue.ErrJobFailed),
		errors.Is(err, ai.ErrProviderUnavailable),
		errors.Is(err, ai.ErrInvalidResponse),
		errors.Is(err, ai.ErrRejected),
		errors.Is(err, ai.ErrQuotaExceeded):
		slog.Warn("ai request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusBadGateway, "AI_PROCESSING_FAILED",
			"The AI provider could not process the request", nil)
	default:
		slog.Error("ai request failed", "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

package handler

import (
	"context"
	"net/http"

	"github.com/digiens-academy/sellibra-backend/internal/api/response"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler reports the status of each dependency. Only the database
// is required; a missing queue or cache degrades service without stopping it.
func NewHealthHandler(db Pinger, optional map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"database": "ok"}
		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "down"
		}
		for name, p := range optional {
			checks[name] = "ok"
			if p == nil || p.Ping(r.Context()) != nil {
				checks[name] = "degraded"
			}
		}

		if checks["database"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "UNAVAILABLE",
				"Database unavailable", checks)
			return
		}
		status := "ok"
		for _, v := range checks {
			if v != "ok" {
				status = "degraded"
			}
		}
		response.JSON(w, map[string]any{
			"status":   status,
			"services": checks,
		})
	}
}

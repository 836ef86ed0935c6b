package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/digiens-academy/sellibra-backend/internal/api/middleware"
	"github.com/digiens-academy/sellibra-backend/internal/api/response"
	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	TokensHandler http.HandlerFunc
	JobHandler    http.HandlerFunc

	RemoveBackground    http.HandlerFunc
	TextToImage         http.HandlerFunc
	ImageToImage        http.HandlerFunc
	GenerateTags        http.HandlerFunc
	GenerateTitle       http.HandlerFunc
	GenerateDescription http.HandlerFunc
	GenerateMockup      http.HandlerFunc

	ListKeysHandler   http.HandlerFunc
	CreateKeyHandler  http.HandlerFunc
	RevokeKeyHandler  http.HandlerFunc
	CreateUserHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/tokens", orNotImplemented(deps.TokensHandler))

		r.Get("/api/v1/keys", orNotImplemented(deps.ListKeysHandler))
		r.Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
		r.Delete("/api/v1/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAI))

			r.Route("/api/v1/ai", func(r chi.Router) {
				r.Post("/remove-background", orNotImplemented(deps.RemoveBackground))
				r.Post("/text-to-image", orNotImplemented(deps.TextToImage))
				r.Post("/image-to-image", orNotImplemented(deps.ImageToImage))
				r.Post("/generate-tags", orNotImplemented(deps.GenerateTags))
				r.Post("/generate-title", orNotImplemented(deps.GenerateTitle))
				r.Post("/generate-description", orNotImplemented(deps.GenerateDescription))
				r.Post("/generate-mockup", orNotImplemented(deps.GenerateMockup))
			})
			r.Get("/api/v1/jobs/{queue}/{jobID}", orNotImplemented(deps.JobHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Post("/api/v1/admin/users", orNotImplemented(deps.CreateUserHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mscandco/platform/internal/auth"
	"github.com/mscandco/platform/internal/observability"
	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/rbac"
	"github.com/mscandco/platform/internal/releases"
	"github.com/mscandco/platform/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	Authenticator   auth.Middleware
	AuthHandler     *auth.Handler
	AdminHandler    *rbac.Handler
	ReleasesHandler *releases.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with platform defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondError(w, httpx.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed), "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(params.Authenticator.Authenticate)
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.AdminHandler != nil {
			r.Route("/admin", params.AdminHandler.MountRoutes)
		}
		if params.ReleasesHandler != nil {
			r.Route("/releases", params.ReleasesHandler.MountRoutes)
		}
	})

	return r
}

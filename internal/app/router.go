package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/observability"
	"github.com/flightdeck/flightdeck/internal/rbac"
	rbachttp "github.com/flightdeck/flightdeck/internal/rbac/http"
	"github.com/flightdeck/flightdeck/internal/roles"
	"github.com/flightdeck/flightdeck/internal/shared"
	"github.com/flightdeck/flightdeck/internal/view"
	"github.com/flightdeck/flightdeck/jobs"
	"github.com/flightdeck/flightdeck/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Gateway        auth.Gateway
	Revocations    auth.RevocationQueue
	Guard          rbachttp.Middleware
	AuthHandler    *auth.Handler
	RolesHandler   *roles.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
	AccessLog      bool
}

// NewRouter constructs the chi.Router with Flightdeck defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Gateway:        params.Gateway,
		Revocations:    params.Revocations,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.AccessLog {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	NewPages(params.Templates, params.Logger, params.Guard).MountRoutes(r)

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.RolesHandler != nil {
		r.Route("/permissions", params.RolesHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.Guard.RequireRoles(rbac.RoleSuperAdmin))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

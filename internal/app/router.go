package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/opsdeck/opsdeck/internal/access"
	"github.com/opsdeck/opsdeck/internal/auth"
	"github.com/opsdeck/opsdeck/internal/credreset"
	"github.com/opsdeck/opsdeck/internal/enforcer"
	"github.com/opsdeck/opsdeck/internal/notify"
	"github.com/opsdeck/opsdeck/internal/observability"
	"github.com/opsdeck/opsdeck/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	AuthHandler    *auth.Handler
	AccessHandler  *access.Handler
	ResetHandler   *credreset.Handler
	NotifyHandler  *notify.Handler
	Enforcer       *enforcer.Enforcer
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with OpsDeck defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	// The enforcer runs after the session loader so it sees the live
	// identity on every navigation.
	if params.Enforcer != nil {
		r.Use(params.Enforcer.Middleware)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	params.AuthHandler.MountRoutes(r)
	params.AccessHandler.MountRoutes(r)
	params.ResetHandler.MountRoutes(r)
	params.NotifyHandler.MountRoutes(r)

	return r
}

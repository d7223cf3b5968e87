package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/immigration-casework/internal/http/middleware"
	"github.com/wolfman30/immigration-casework/internal/scheduling"
	"github.com/wolfman30/immigration-casework/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Scheduling     *scheduling.Handler
	Realtime       http.Handler
	MetricsHandler http.Handler
	Origins        *httpmiddleware.OriginPolicy
	Auth           httpmiddleware.AuthConfig
	RateLimiter    *httpmiddleware.RateLimiter
	// HealthChecks are pinged by /ready; /health only reports liveness.
	HealthChecks map[string]Pinger
	// RequestTimeout bounds every /api/v1 request. Zero disables it.
	RequestTimeout time.Duration
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Origins != nil && !cfg.Origins.Empty() {
		r.Use(httpmiddleware.CORS(cfg.Origins))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler)
		public.Get("/ready", readyHandler(cfg.HealthChecks, cfg.Logger))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Authenticated endpoints
	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		authed.Use(httpmiddleware.CallerAuth(cfg.Auth, cfg.Logger))

		if cfg.Realtime != nil {
			authed.Handle("/ws", cfg.Realtime)
		}

		authed.Route("/api/v1", func(api chi.Router) {
			api.Use(middleware.Compress(5))
			if cfg.RequestTimeout > 0 {
				api.Use(middleware.Timeout(cfg.RequestTimeout))
			}
			if cfg.Scheduling != nil {
				cfg.Scheduling.RegisterRoutes(api)
			}
		})
	})

	return r
}

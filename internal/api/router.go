// Package api provides the HTTP surface of the nearby dev server.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/geofeed/geofeed/internal/api/handler"
	"github.com/geofeed/geofeed/internal/api/middleware"
)

// DefaultRateLimit is the per-IP request budget per minute when none is configured.
const DefaultRateLimit = 600

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Search answers GET /nearby.
	Search handler.NearbySearcher

	// Listings answers GET /listings/{id}.
	Listings handler.ListingGetter

	// Checks are run by the readiness and status endpoints.
	Checks []handler.Check

	// RateLimit is requests per minute per client IP on public routes.
	RateLimit int

	// RequireTLS rejects plain HTTP forwarded by a proxy.
	RequireTLS bool
}

// NewRouter creates a chi router serving the nearby API and ops endpoints.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "nearbyd"
	}
	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = DefaultRateLimit
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Checks...)
	nearbyHandler := handler.NewNearbyHandler(cfg.Search, cfg.Listings, cfg.Logger)

	limit := middleware.RateLimitByIP(middleware.PerMinute(rateLimit))

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Get("/nearby", nearbyHandler.Nearby)
		r.Get("/listings/{id}", nearbyHandler.Listing)
	})

	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)
		r.With(limit).Get("/status", opsHandler.SystemStatus)
	})

	return r
}

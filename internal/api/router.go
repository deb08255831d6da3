// Package api provides the HTTP API for PulseFit's data-lifecycle service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pulsefit/pulsefit/internal/api/handler"
	"github.com/pulsefit/pulsefit/internal/api/middleware"
	"github.com/pulsefit/pulsefit/internal/auth"
	"github.com/pulsefit/pulsefit/internal/deletion"
	"github.com/pulsefit/pulsefit/internal/export"
	"github.com/pulsefit/pulsefit/internal/stream"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          zerolog.Logger
	ServiceName     string
	Metrics         *middleware.Metrics
	Pool            *pgxpool.Pool
	AuthService     *auth.Service
	ExportService   *export.Service
	DeletionService *deletion.Service
	Recoverer       *stream.Recoverer
	Validate        *validatorv10.Validate
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pulsefit-lifecycle-api"
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
	r.Use(middleware.RequireTLS)
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(cfg.Pool)
	exportHandler := handler.NewExportHandler(cfg.ExportService, cfg.Validate)
	deletionHandler := handler.NewDeletionHandler(cfg.DeletionService, cfg.Validate)
	adminHandler := handler.NewAdminHandler(cfg.Recoverer, cfg.DeletionService, cfg.Validate)

	authMiddleware := middleware.Auth(cfg.AuthService)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.Health)
			r.Get("/ready", opsHandler.Ready)
		})

		// Privacy endpoints (authenticated). The HTTP limiter here guards
		// the surface; the per-operation business quotas are enforced in
		// the services.
		r.Route("/privacy", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.StrictRateLimit))

			r.Route("/export-requests", func(r chi.Router) {
				r.Post("/", exportHandler.Create)
				r.Get("/", exportHandler.List)
				r.Get("/{requestID}", exportHandler.Get)
			})

			r.Route("/deletion-requests", func(r chi.Router) {
				r.Post("/", deletionHandler.Create)
				r.Get("/{requestID}", deletionHandler.Get)
				r.Post("/{requestID}/cancel", deletionHandler.Cancel)
				r.Get("/{requestID}/certificate", deletionHandler.Certificate)
			})
		})

		// Operator endpoints (authenticated admins only)
		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireAdmin)
			r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit))

			r.Post("/dlq/sweep", adminHandler.SweepDLQ)
			r.Post("/dlq/recover/{sessionID}", adminHandler.RecoverSession)
			r.Post("/deletion-requests/{requestID}/requeue", adminHandler.RequeueDeletion)
		})
	})

	return r
}

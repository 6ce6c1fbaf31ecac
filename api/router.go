// Package api exposes the subscription ledger over HTTP using the go-chi
// router. Handlers translate requests into ledger operations and map the
// ledger's error kinds onto status codes.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/xraph/subledger"
)

// Config controls the router middleware.
type Config struct {
	// CORSOrigins lists allowed browser origins. Empty allows any http(s)
	// origin without credentials.
	CORSOrigins []string
	// JWTSecret enables HS256 bearer authentication on admin routes when set.
	JWTSecret string
	// RateLimitRPS and RateLimitBurst enable a shared token bucket when both are positive.
	RateLimitRPS   float64
	RateLimitBurst int
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// RequestTimeout bounds handler execution (default 60s).
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter creates a chi router serving the ledger's admin API.
func NewRouter(l *subledger.Ledger, cfg Config) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	// Credentialed CORS only for origins the operator listed.
	origins, credentials := cfg.CORSOrigins, len(cfg.CORSOrigins) > 0
	if !credentials {
		origins = []string{"https://*", "http://*"}
	}

	h := NewHandler(l, logger)
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: credentials,
		MaxAge:           300,
	}))
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		r.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)))
	}

	r.Get("/health", h.handleHealth)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/admin", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(AdminAuth([]byte(cfg.JWTSecret)))
		} else {
			logger.Warn("JWT secret is empty; admin routes are unauthenticated")
		}

		r.Get("/plans", h.handleListPlans)
		r.Get("/users", h.handleListUsers)
		r.Get("/user/{id}/subscriptions", h.handleUserSubscriptions)
		r.Get("/user/{id}/history", h.handleUserHistory)

		r.Post("/subscription", h.handleCreateSubscription)
		r.Post("/subscription/backfill", h.handleBackfill)
		r.Post("/subscription/{id}/pause", h.handlePause)
		r.Post("/subscription/{id}/resume", h.handleResume)
		r.Put("/subscription/{id}/start-date", h.handleUpdateStartDate)
		r.Delete("/subscription/{id}", h.handleDeleteSubscription)
		r.Delete("/subscription/{id}/periods", h.handleDeletePeriods)
	})

	return r
}

package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/conversation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

// RouterConfig holds the HTTP-facing settings of the router.
type RouterConfig struct {
	JWTSecret         string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handlers groups the endpoint handlers served by the router.
type Handlers struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Stream        *StreamHandler
}

// NewRouter wires handlers and middleware into the API router.
func NewRouter(cfg RouterConfig, h Handlers, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	// Several users may share an address.
	r.Use(middleware.RateLimit(cfg.RateLimitRequests*2, cfg.RateLimitWindow))

	// Health endpoints (no auth required)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Delete("/session", h.Conversations.EndSession)
		r.Post("/messages", h.Messages.Send)
		r.Get("/events", h.Stream.Stream)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.Conversations.List)
			r.Post("/new", h.Conversations.New)
			r.Post("/delete/confirm", h.Conversations.ConfirmDelete)
			r.Post("/delete/cancel", h.Conversations.CancelDelete)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/open", h.Conversations.Open)
				r.Get("/messages", h.Conversations.Messages)
				r.Get("/summaries", h.Conversations.Summaries)
				r.Post("/delete", h.Conversations.RequestDelete)
			})
		})
	})

	return r
}

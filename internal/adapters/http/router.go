package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/newsletter-service/internal/application"
	"github.com/viralforge/newsletter-service/internal/ports"
)

// ReadinessCheck reports whether backing stores are reachable.
type ReadinessCheck func(ctx context.Context) error

// Handler is the HTTP adapter entrypoint for newsletter publishing.
type Handler struct {
	service  *application.Service
	identity ports.IdentityResolver
	ready    ReadinessCheck
	metrics  http.Handler
}

// NewHandler binds the HTTP adapter to the application service.
// ready and metrics may be nil.
func NewHandler(service *application.Service, identity ports.IdentityResolver, ready ReadinessCheck, metrics http.Handler) *Handler {
	return &Handler{
		service:  service,
		identity: identity,
		ready:    ready,
		metrics:  metrics,
	}
}

// NewRouter registers routes and the middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	if handler.metrics != nil {
		r.Method(http.MethodGet, "/metrics", handler.metrics)
	}

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(handler.authMiddleware)
		r.Post("/newsletters", handler.publishNewsletter)
	})

	return r
}

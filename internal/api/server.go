// Package api is the operator surface: campaign visibility, draft
// approval, and event-log triage. The workers run headless; everything a
// human does to a conversation goes through these endpoints.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/outreach-monitor/internal/sending"
)

// Server represents the operator API server.
type Server struct {
	handlers *Handlers
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates the API server.
func NewServer(db *sql.DB, approvals *sending.Service, allowedOrigins []string) *Server {
	handlers := NewHandlers(db, approvals)
	return &Server{
		handlers: handlers,
		router:   setupRoutes(handlers, allowedOrigins),
	}
}

func setupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/campaigns", h.ListCampaigns)
		r.Get("/campaigns/{id}", h.GetCampaign)
		r.Post("/campaigns/{id}/pause", h.PauseCampaign)
		r.Post("/campaigns/{id}/resume", h.ResumeCampaign)

		r.Get("/drafts", h.ListPendingDrafts)
		r.Post("/emails/{id}/approve", h.ApproveDraft)
		r.Post("/emails/{id}/decline", h.DeclineDraft)

		r.Post("/decision-makers/{id}/reject", h.RejectDecisionMaker)
		r.Get("/decision-makers/{id}/emails", h.ListDecisionMakerEmails)

		r.Get("/events/stuck", h.ListStuckEvents)
		r.Post("/events/{id}/requeue", h.RequeueEvent)
		r.Get("/entities/{id}/events", h.ListEntityEvents)
	})

	return r
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

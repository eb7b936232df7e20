package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/reconcile"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Operational endpoints (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Called by an external scheduler; the retention key is the credential.
		r.Post("/maintenance/purge", s.handlePurge)

		r.Group(func(r chi.Router) {
			r.Use(s.gate.Middleware(s.rejectRequest))

			r.Post("/audit/batch", s.handleSubmitEntries(reconcile.ClassAudit))
			r.Get("/audit", s.handleFetchEntries(reconcile.ClassAudit))

			r.Post("/access-events/batch", s.handleSubmitEntries(reconcile.ClassAccess))
			r.Get("/access-events", s.handleFetchEntries(reconcile.ClassAccess))

			r.Post("/consents/batch", s.handleSubmitConsents)
			r.Get("/consents", s.handleListConsents)
		})
	})

	return r
}

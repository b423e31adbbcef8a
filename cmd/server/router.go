package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marrowlabs/enrich-api/internal/api"
	apiMiddleware "github.com/marrowlabs/enrich-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	enrichmentHandler := api.NewEnrichmentHandler(app.service, app.logger)

	r.Route("/api", func(r chi.Router) {
		// Worker-facing task queue endpoints
		r.Post("/tasks/claim", enrichmentHandler.Claim)
		r.Post("/tasks/{id}/result", enrichmentHandler.SubmitResult)
		r.Post("/tasks/{id}/fail", enrichmentHandler.FailTask)
		r.Post("/tasks/recover", enrichmentHandler.Recover)

		// Operator-facing status and backfill endpoints
		r.Get("/enrichment/status", enrichmentHandler.GetStatus)
		r.Get("/enrichment/stats", enrichmentHandler.GetStats)
		r.Post("/enrichment/enqueue", enrichmentHandler.Enqueue)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := app.db.PingContext(r.Context()); err != nil {
			app.logger.Error("Health check database ping failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}

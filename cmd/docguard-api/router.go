package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nowusman/DocGuard/cmd/docguard-api/handlers"
	"github.com/nowusman/DocGuard/internal/app"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(a *app.App) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(a))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Batch-ID"},
		MaxAge:         300,
	}))

	registry := handlers.NewRegistry()
	batchHandler := handlers.NewBatchHandler(a.Logger, a, registry, a.Config.ProcessingOptions(), a.Limits)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"docguard"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", batchHandler.Create)
			r.Get("/{batchID}", batchHandler.Get)
			r.Delete("/{batchID}", batchHandler.Cancel)
		})
	})

	return r
}

// requestLogger logs each request through the application logger.
func requestLogger(a *app.App) func(http.Handler) http.Handler {
	logger := a.Logger.WithOperation("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

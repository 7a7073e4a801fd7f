package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter mounts the WebSocket endpoint, health checks and the JSON API.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", h.Health)
	r.Get("/healthz", h.Health)
	r.HandleFunc("/ws", h.WebSocket)

	r.Route("/api", func(api chi.Router) {
		api.Use(requestLogger(h.logger))
		api.Use(middleware.Timeout(15 * time.Second))
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.origins.corsOrigins(),
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))

		api.Get("/presence", h.Presence)
		api.Get("/stats", h.Stats)
		api.Post("/notify/added-to-group", h.NotifyAddedToGroup)
	})

	return r
}

// requestLogger logs one line per API request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("requestID", middleware.GetReqID(r.Context())))
		})
	}
}

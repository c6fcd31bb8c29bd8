package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const requestTimeout = 15 * time.Second

type RouteConfig struct {
	CORSOrigins  []string
	RateLimitRPM int
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

func (h *Handler) Routes(m *Middleware, cfg RouteConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(m.Timeout(requestTimeout))
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(cfg.CORSOrigins))
	r.Use(m.RateLimit(cfg.RateLimitRPM))

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	r.Get("/", h.Index)
	r.Get("/health", h.Health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/posts", func(r chi.Router) {
			r.Get("/", h.ListPosts)
			r.Get("/default", h.DefaultPosts)
			r.Get("/latest", h.LatestPosts)
			r.Get("/{id}", h.GetPost)
		})
		r.Get("/users", h.ListUsers)
		r.Get("/stats", h.Stats)
	})

	return r
}

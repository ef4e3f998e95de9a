// Package app wires the HTTP router and readiness probes for the API
// process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/persona-feedback/internal/adapter/httpserver"
	"github.com/fairyhunter13/persona-feedback/internal/config"
	"github.com/fairyhunter13/persona-feedback/internal/observability"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces. Empty
// input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Credential endpoints get the tightest rate limit.
	r.Group(func(ar chi.Router) {
		ar.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		ar.Post("/auth/register", srv.RegisterHandler())
		ar.Post("/auth/login", srv.LoginHandler())
	})

	r.Route("/v1", func(vr chi.Router) {
		vr.Use(httpserver.RequireAuth(srv.Tokens))

		// Mutating endpoints are rate limited per IP.
		vr.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			wr.Post("/products", srv.CreateProductHandler())
			wr.Delete("/products/{id}", srv.DeleteProductHandler())
			wr.Post("/personas", srv.GeneratePersonasHandler())
			wr.Post("/feedback-sessions", srv.StartFeedbackSessionHandler())
		})

		vr.Get("/products", srv.ListProductsHandler())
		vr.Get("/personas/{id}", srv.GetPersonaHandler())
		vr.Get("/feedback-sessions/{id}", srv.GetFeedbackSessionHandler())
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}

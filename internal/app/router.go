// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/relayforge/contentpipeline/internal/adapter/httpserver"
	"github.com/relayforge/contentpipeline/internal/adapter/observability"
	"github.com/relayforge/contentpipeline/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS - Updated for frontend separation
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   append(ParseOrigins(cfg.CORSAllowOrigins), "http://localhost:3001"),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true, // Enable credentials for session management
		MaxAge:           300,
	}))

	// Job control endpoints all require admin auth (spec: "All admin
	// endpoints require admin auth"). POST /jobs is additionally rate
	// limited per caller IP.
	r.Group(func(wr chi.Router) {
		if cfg.AdminEnabled() {
			wr.Use(srv.AdminAPIGuard())
			wr.Use(srv.CSRFGuard())
		}
		wr.Group(func(pr chi.Router) {
			pr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			pr.Post("/jobs", srv.CreateJobHandler())
		})
		wr.Get("/jobs", srv.ListJobsHandler())
		wr.Get("/jobs/{id}", srv.GetJobHandler())
		wr.Post("/jobs/{id}/cancel", srv.CancelJobHandler())
		wr.Post("/jobs/{id}/retry", srv.RetryJobHandler())
		wr.Get("/jobs/{id}/logs", srv.JobLogsHandler())
		wr.Get("/jobs/{id}/stream", srv.JobStreamHandler())
		wr.Get("/jobs/stream", srv.GlobalJobStreamHandler())
	})

	// Liveness/readiness probes and metrics scraping stay unauthenticated.
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Read-only admin dashboard surface (stats/jobs list/job detail).
	srv.MountAdmin(r)

	return httpserver.SecurityHeaders(r)
}

// Package httpserver contains the admin API server and HTTP adapters.
package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/go-chi/chi/v5"

	"github.com/relayforge/contentpipeline/internal/config"
)

// AdminServer handles the read-only admin dashboard routes.
type AdminServer struct {
	cfg            config.Config
	sessionManager *SessionManager
	server         *Server
}

// NewAdminServer creates a new admin server.
func NewAdminServer(cfg config.Config, server *Server) *AdminServer {
	return &AdminServer{cfg: cfg, sessionManager: NewSessionManager(cfg), server: server}
}

// AdminLoginHandler verifies the single admin credential and issues a
// signed session cookie.
func (a *AdminServer) AdminLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		_, span := tracer.Start(r.Context(), "AdminServer.AdminLoginHandler")
		defer span.End()

		lg := LoggerFrom(r)
		var req loginRequest
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(strings.ToLower(ct), "application/json") {
			_ = json.NewDecoder(r.Body).Decode(&req)
		} else {
			req.Username = strings.TrimSpace(r.FormValue("username"))
			req.Password = strings.TrimSpace(r.FormValue("password"))
		}

		if !authenticate(a.cfg, req.Username, req.Password) {
			span.SetAttributes(attribute.Bool("auth.success", false))
			lg.Warn("admin login failed", slog.String("username", req.Username))
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		session, err := a.sessionManager.CreateSession(req.Username)
		if err != nil {
			lg.Error("failed to create session", slog.Any("error", err))
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}
		a.sessionManager.SetSessionCookie(w, session)
		span.SetAttributes(attribute.Bool("auth.success", true), attribute.String("admin.username", req.Username))
		lg.Info("admin login succeeded", slog.String("username", req.Username))
		writeJSON(w, http.StatusOK, map[string]any{"username": req.Username})
	}
}

// AdminLogoutHandler clears the session cookie.
func (a *AdminServer) AdminLogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.sessionManager.ClearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
	}
}

// AdminStatsHandler returns dashboard counters.
func (a *AdminServer) AdminStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		ctx, span := tracer.Start(r.Context(), "AdminServer.AdminStatsHandler")
		defer span.End()
		writeJSON(w, http.StatusOK, a.server.getDashboardStats(ctx))
	}
}

// AdminJobsHandler returns a paginated, filterable job list.
func (a *AdminServer) AdminJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		ctx, span := tracer.Start(r.Context(), "AdminServer.AdminJobsHandler")
		defer span.End()

		page := SanitizeString(r.URL.Query().Get("page"))
		limit := SanitizeString(r.URL.Query().Get("limit"))
		search := SanitizeString(r.URL.Query().Get("search"))
		status := SanitizeString(r.URL.Query().Get("status"))

		if validation := ValidatePagination(page, limit); !validation.Valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "VALIDATION_ERROR", "message": "invalid pagination parameters", "details": validation.Errors}})
			return
		}
		if validation := ValidateSearchQuery(search); !validation.Valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "VALIDATION_ERROR", "message": "invalid search query", "details": validation.Errors}})
			return
		}
		if validation := ValidateStatus(status); !validation.Valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "VALIDATION_ERROR", "message": "invalid status filter", "details": validation.Errors}})
			return
		}

		writeJSON(w, http.StatusOK, a.server.getJobs(ctx, page, limit, search, status))
	}
}

// AdminJobDetailsHandler returns one job's full detail.
func (a *AdminServer) AdminJobDetailsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("http.admin")
		ctx, span := tracer.Start(r.Context(), "AdminServer.AdminJobDetailsHandler")
		defer span.End()

		jobID := SanitizeJobID(chi.URLParam(r, "id"))
		span.SetAttributes(attribute.String("job.id", jobID))

		if validation := ValidateJobID(jobID); !validation.Valid {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"code": "VALIDATION_ERROR", "message": "invalid job id", "details": validation.Errors}})
			return
		}

		writeJSON(w, http.StatusOK, a.server.getJobDetails(ctx, jobID))
	}
}

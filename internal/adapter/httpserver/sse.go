// Package httpserver contains HTTP handlers and middleware.
package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relayforge/contentpipeline/internal/domain"
)

const (
	ssePollInterval      = 1 * time.Second
	sseHeartbeatInterval = 15 * time.Second
)

func sseHeaders(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := w.(http.Flusher)
	if ok {
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})
	}
	return flusher, ok
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

func sendSSEHeartbeat(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = fmt.Fprintf(w, ": heartbeat\n\n")
	flusher.Flush()
}

func progressEvent(j domain.Job) map[string]any {
	return map[string]any{
		"job_id":            j.ID,
		"status":            string(j.Status),
		"current_agent":     j.CurrentAgent,
		"current_iteration": j.CurrentIteration,
		"progress_percent":  j.ProgressPercent,
		"tokens_used":       j.TotalTokensUsed,
		"cost_usd":          j.EstimatedCostUSD,
	}
}

// JobStreamHandler handles GET /jobs/{id}/stream: per-job progress SSE.
// Terminal events are "complete", "failed", and "cancelled"; all other
// updates are sent as "progress". The stream never blocks the orchestrator
// goroutine — it only polls job state on its own ticker.
func (s *Server) JobStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := SanitizeJobID(chi.URLParam(r, "id"))
		ctx := r.Context()

		job, err := s.Jobs.Get(ctx, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		flusher, ok := sseHeaders(w)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		sendSSEEvent(w, flusher, "progress", progressEvent(job))
		if terminalEvent, done := terminalFor(job.Status); done {
			sendSSEEvent(w, flusher, terminalEvent, progressEvent(job))
			return
		}

		pollTicker := time.NewTicker(ssePollInterval)
		defer pollTicker.Stop()
		heartbeatTicker := time.NewTicker(sseHeartbeatInterval)
		defer heartbeatTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeatTicker.C:
				sendSSEHeartbeat(w, flusher)
			case <-pollTicker.C:
				job, err = s.Jobs.Get(ctx, id)
				if err != nil {
					sendSSEEvent(w, flusher, "error", map[string]any{"message": err.Error()})
					continue
				}
				if terminalEvent, done := terminalFor(job.Status); done {
					sendSSEEvent(w, flusher, terminalEvent, progressEvent(job))
					return
				}
				sendSSEEvent(w, flusher, "progress", progressEvent(job))
			}
		}
	}
}

func terminalFor(status domain.JobStatus) (string, bool) {
	switch status {
	case domain.JobCompleted:
		return "complete", true
	case domain.JobFailed:
		return "failed", true
	case domain.JobCancelled:
		return "cancelled", true
	default:
		return "", false
	}
}

// GlobalJobStreamHandler handles GET /jobs/stream: a live snapshot of
// active (pending/processing) jobs, refreshed on the same poll cadence as
// the per-job stream.
func (s *Server) GlobalJobStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		flusher, ok := sseHeaders(w)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		send := func() {
			var jobs []domain.Job
			for _, status := range []domain.JobStatus{domain.JobPending, domain.JobProcessing} {
				batch, err := s.Jobs.List(ctx, 0, 100, string(status))
				if err != nil {
					sendSSEEvent(w, flusher, "error", map[string]any{"message": err.Error()})
					return
				}
				jobs = append(jobs, batch...)
			}
			events := make([]map[string]any, len(jobs))
			for i, j := range jobs {
				events[i] = progressEvent(j)
			}
			sendSSEEvent(w, flusher, "jobs", map[string]any{"jobs": events})
		}

		send()

		pollTicker := time.NewTicker(ssePollInterval)
		defer pollTicker.Stop()
		heartbeatTicker := time.NewTicker(sseHeartbeatInterval)
		defer heartbeatTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeatTicker.C:
				sendSSEHeartbeat(w, flusher)
			case <-pollTicker.C:
				send()
			}
		}
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/stimforge/internal/queue"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    s.runs.Depth(),
	})
}

// handleSubmitRun handles POST /runs
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		s.writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if !filepath.IsAbs(source) {
		s.writeError(w, http.StatusBadRequest, "source must be an absolute path")
		return
	}
	info, err := os.Stat(source)
	if err != nil || !info.Mode().IsRegular() {
		s.writeError(w, http.StatusBadRequest, "source file not found")
		return
	}

	job, err := s.runs.Enqueue(source)
	if err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error("failed to enqueue run", "source", source, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue run")
		return
	}
	s.events.NotifyJob(job)

	respondJSON(w, http.StatusAccepted, SubmitRunResponse{
		JobID:  job.ID,
		Status: string(job.Status),
		Source: job.Source,
	})
}

// handleGetRun handles GET /runs/{jobID}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.runs.Get(jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("failed to retrieve run", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve run")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleCancelRun handles POST /runs/{jobID}/cancel
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.runs.Cancel(jobID)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, queue.ErrJobFinished):
		s.writeError(w, http.StatusConflict, "run already finished with status "+string(job.Status))
		return
	case err != nil:
		s.logger.Error("failed to cancel run", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}
	s.events.NotifyJob(job)
	respondJSON(w, http.StatusAccepted, job)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

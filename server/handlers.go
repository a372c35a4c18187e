package server

import (
	"encoding/json"
	"net/http"

	"github.com/arcform/reverb/enrich"
	"github.com/arcform/reverb/errors"
)

const defaultListLimit = 100

// handleHealth reports liveness and worker pool state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"initialized": s.manager.IsInitialized(),
	})
}

// handleStatus returns queue composition and system metrics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.manager.GetQueueStatus()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":   summary,
		"metrics": s.manager.GetSystemMetrics(),
	})
}

// handleListJobs lists jobs, optionally filtered by ?status=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statusFilter *enrich.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !enrich.IsValidStatus(raw) {
			s.writeError(w, http.StatusBadRequest, errors.Newf("invalid status: %s", raw))
			return
		}
		status := enrich.JobStatus(raw)
		statusFilter = &status
	}

	jobs, err := s.manager.GetQueue().ListJobs(statusFilter, defaultListLimit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// handleGetJob returns a single job by ID
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.GetQueue().GetJob(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.CancelJob(r.PathValue("id")); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleRetryJob requeues a failed or cancelled job
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.manager.RetryJob(r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// handleMediaComplete records an externally produced optimized video
func (s *Server) handleMediaComplete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OptimizedVideoPath string `json:"optimized_video_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if body.OptimizedVideoPath == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("optimized_video_path is required"))
		return
	}

	if err := s.manager.MarkMediaProcessingComplete(r.PathValue("id"), body.OptimizedVideoPath); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// handleListSessions lists session summaries, optionally filtered by ?q=
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var summaries interface{}
	var err error

	if q := r.URL.Query().Get("q"); q != "" {
		summaries, err = s.sessions.SearchSessions(q, defaultListLimit)
	} else {
		summaries, err = s.sessions.ListSummaries(defaultListLimit)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": summaries})
}

// handleEnqueueSession creates an enrichment job for a session
func (s *Server) handleEnqueueSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Priority string          `json:"priority,omitempty"`
		Options  *enrich.Options `json:"options,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
			return
		}
	}

	priority := enrich.PriorityNormal
	if body.Priority == "high" {
		priority = enrich.PriorityHigh
	}

	opts := enrich.DefaultOptions()
	if body.Options != nil {
		opts = *body.Options
	}

	job, err := s.manager.EnqueueSession(r.PathValue("id"), priority, opts)
	if err != nil {
		if errors.Is(err, errors.ErrDuplicateActiveJob) {
			// The active job is the meaningful answer here
			s.writeJSON(w, http.StatusConflict, job)
			return
		}
		s.writeError(w, statusForError(err), err)
		return
	}

	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForError maps domain errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrDuplicateActiveJob):
		return http.StatusConflict
	case errors.Is(err, errors.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

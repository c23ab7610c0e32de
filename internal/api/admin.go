package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// ManualTrigger is recorded on tasks submitted through the admin API.
const ManualTrigger = "manual"

func (s *Server) runIngestion(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Runner.RunIngestion(r.Context())
	if err != nil {
		s.writeRunError(w, "ingestion", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) retryDetails(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Runner.RetryMissingDetails(r.Context())
	if err != nil {
		s.writeRunError(w, "retry-details", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) submitIngestion(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task queue is not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	task, err := s.deps.Tasks.Submit(ctx, newsletter.TaskIngest, ManualTrigger)
	if err != nil {
		s.logger.Error("submit ingest task failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue ingestion")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": task.ID})
}

func (s *Server) writeRunError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, newsletter.ErrRunInProgress) {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	s.logger.Error("manual run failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusBadGateway, err.Error())
}

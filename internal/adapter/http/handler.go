package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
	"github.com/bnema/celluloid/internal/service"
	"github.com/bnema/celluloid/internal/validation"
	"github.com/go-chi/chi/v5"
)

const maxSubmitBytes = 1 << 20

type JobService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.JobView, bool, error)
	Status(ctx context.Context, jobID string) (*service.JobView, error)
	Artifact(ctx context.Context, jobID string) (*service.ResultView, []byte, error)
	ListResults(externalID string) ([]domain.ResultEntry, error)
	List(ctx context.Context, filter domain.JobFilter) (*service.JobList, error)
	Queue(ctx context.Context) (*service.QueueView, error)
	Delete(ctx context.Context, jobID string) error
	Health(ctx context.Context) *service.Health
}

type Handlers struct {
	jobs    JobService
	version string
}

func NewHandlers(jobs JobService, version string) *Handlers {
	return &Handlers{
		jobs:    jobs,
		version: version,
	}
}

type submitResponse struct {
	JobID                string           `json:"job_id"`
	Status               domain.JobStatus `json:"status"`
	QueuePosition        *int             `json:"queue_position"`
	EstimatedWaitSeconds *float64         `json:"estimated_wait_seconds,omitempty"`
	Message              string           `json:"message"`
	CallbackURL          string           `json:"callback_url,omitempty"`
}

func (h *Handlers) Submit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SubmitRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes))
		if err := dec.Decode(&req); err != nil {
			msg := "request body must be a JSON object"
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				msg = "request body too large"
			}
			writeErrorStatus(w, http.StatusBadRequest, "VALIDATION_ERROR", msg)
			return
		}

		view, created, err := h.jobs.Submit(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp := submitResponse{
			JobID:                view.ID,
			Status:               view.Status,
			QueuePosition:        view.QueuePosition,
			EstimatedWaitSeconds: view.EstimatedWaitSeconds,
			CallbackURL:          view.CallbackURL,
		}
		status := http.StatusAccepted
		if created {
			resp.Message = "Video analysis job added to queue"
			logger.Info.Printf("job %s queued for external_id=%s", view.ID, logger.SanitizeForLog(view.ExternalID))
		} else {
			resp.Message = fmt.Sprintf("Project %s already has an active job", view.ExternalID)
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	}
}

func (h *Handlers) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.jobs.Status(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type resultsResponse struct {
	*service.ResultView
	Data json.RawMessage `json:"data"`
}

// Results returns the results document of a completed job, inline by default
// or as a file download with ?download=1.
func (h *Handlers) Results() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, data, err := h.jobs.Artifact(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		if r.URL.Query().Get("download") == "1" {
			name := fmt.Sprintf("detections_%s.json", view.JobID)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", validation.ContentDisposition(name, false))
			_, _ = w.Write(data)
			return
		}

		writeJSON(w, http.StatusOK, resultsResponse{ResultView: view, Data: data})
	}
}

type resultsListResponse struct {
	ExternalID string               `json:"external_id"`
	Results    []domain.ResultEntry `json:"results"`
}

func (h *Handlers) ListResults() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		externalID := chi.URLParam(r, "externalID")
		entries, err := h.jobs.ListResults(externalID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resultsListResponse{ExternalID: externalID, Results: entries})
	}
}

func (h *Handlers) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := domain.JobFilter{
			ExternalID: q.Get("external_id"),
			Status:     domain.JobStatus(q.Get("status")),
		}
		if filter.Status != "" && !filter.Status.Valid() {
			writeErrorStatus(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("unknown status %q", filter.Status))
			return
		}

		list, err := h.jobs.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func (h *Handlers) Queue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := h.jobs.Queue(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *Handlers) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.jobs.Delete(r.Context(), chi.URLParam(r, "jobID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type healthResponse struct {
	*service.Health
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.jobs.Health(r.Context())
		status := http.StatusOK
		if health.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, healthResponse{Health: health, Version: h.version, Timestamp: time.Now().UTC()})
	}
}

// NotFound keeps unknown routes in the JSON error format.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeErrorStatus(w, http.StatusNotFound, "NOT_FOUND", "route not found")
}

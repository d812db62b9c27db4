package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
)

type SubmitRequest struct {
	ExternalID          string   `json:"external_id"`
	VideoURL            string   `json:"video_url"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	CallbackURL         string   `json:"callback_url,omitempty"`
}

// JobView is a job snapshot enriched with live queue information.
type JobView struct {
	*domain.Job
	QueuePosition        *int     `json:"queue_position,omitempty"`
	EstimatedWaitSeconds *float64 `json:"estimated_wait_seconds,omitempty"`
}

type JobList struct {
	Jobs            []JobView `json:"jobs"`
	Total           int       `json:"total"`
	QueueSize       int       `json:"queue_size"`
	ProcessingCount int       `json:"processing_count"`
}

type QueueView struct {
	QueueSize              int       `json:"queue_size"`
	ProcessingJob          *JobView  `json:"processing_job,omitempty"`
	QueuedJobs             []JobView `json:"queued_jobs"`
	AverageDurationSeconds float64   `json:"average_duration_seconds"`
}

type ResultView struct {
	JobID      string         `json:"job_id"`
	ExternalID string         `json:"external_id"`
	ResultRef  string         `json:"result_ref"`
	CreatedAt  time.Time      `json:"created_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Health struct {
	Status        string                   `json:"status"`
	StoreError    string                   `json:"store_error,omitempty"`
	JobStats      map[domain.JobStatus]int `json:"job_stats"`
	QueueSize     int                      `json:"queue_size"`
	Processing    bool                     `json:"processing"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
}

type JobServiceConfig struct {
	// DedupeActive makes Submit return the existing queued or processing job
	// for an external id instead of creating a new one.
	DedupeActive bool
	// ValidateSource checks the video reference before a job is created.
	ValidateSource func(videoURL string) error
}

// JobService exposes the operations of the HTTP boundary.
type JobService struct {
	registry   *Registry
	dispatcher *Dispatcher
	results    *Results
	callbacks  CallbackSink
	cfg        JobServiceConfig
	startedAt  time.Time
}

func NewJobService(registry *Registry, dispatcher *Dispatcher, results *Results, callbacks CallbackSink, cfg JobServiceConfig) *JobService {
	return &JobService{
		registry:   registry,
		dispatcher: dispatcher,
		results:    results,
		callbacks:  callbacks,
		cfg:        cfg,
		startedAt:  time.Now(),
	}
}

// Submit creates and enqueues a job. created is false when an active job for
// the same external id was returned instead.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (view *JobView, created bool, err error) {
	if s.cfg.ValidateSource != nil && req.VideoURL != "" {
		if err := s.cfg.ValidateSource(req.VideoURL); err != nil {
			return nil, false, fmt.Errorf("%w: video_url: %v", domain.ErrValidation, err)
		}
	}

	if s.cfg.DedupeActive && req.ExternalID != "" {
		existing, err := s.activeJob(ctx, req.ExternalID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			logger.Info.Printf("returning active job %s for external_id=%s", existing.ID, logger.SanitizeForLog(req.ExternalID))
			return s.view(existing), false, nil
		}
	}

	job, err := s.registry.Create(ctx, domain.NewJobParams{
		ExternalID:          req.ExternalID,
		VideoURL:            req.VideoURL,
		SimilarityThreshold: req.SimilarityThreshold,
		CallbackURL:         req.CallbackURL,
	})
	if err != nil {
		return nil, false, err
	}
	s.dispatcher.Enqueue(job.ID, job.Sequence)

	return s.view(job), true, nil
}

func (s *JobService) activeJob(ctx context.Context, externalID string) (*domain.Job, error) {
	jobs, err := s.registry.List(ctx, domain.JobFilter{ExternalID: externalID})
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.Status == domain.JobStatusQueued || j.Status == domain.JobStatusProcessing {
			return j, nil
		}
	}
	return nil, nil
}

func (s *JobService) Status(ctx context.Context, jobID string) (*JobView, error) {
	job, err := s.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return s.view(job), nil
}

// Results resolves the artifact of a completed job. Jobs that are unknown
// or not completed yield ErrNotFound.
func (s *JobService) Results(ctx context.Context, jobID string) (*ResultView, error) {
	job, err := s.registry.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrNotFound, jobID, job.Status)
	}

	entry, err := s.results.Get(job.ExternalID, job.ID)
	if err != nil {
		return nil, err
	}
	return &ResultView{
		JobID:      job.ID,
		ExternalID: job.ExternalID,
		ResultRef:  entry.ResultRef,
		CreatedAt:  entry.CreatedAt,
		Metadata:   job.Metadata,
	}, nil
}

// Artifact returns the stored results document of a completed job.
func (s *JobService) Artifact(ctx context.Context, jobID string) (*ResultView, []byte, error) {
	view, err := s.Results(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.results.Read(view.ResultRef)
	if err != nil {
		return nil, nil, err
	}
	return view, data, nil
}

func (s *JobService) ListResults(externalID string) ([]domain.ResultEntry, error) {
	return s.results.List(externalID)
}

func (s *JobService) List(ctx context.Context, filter domain.JobFilter) (*JobList, error) {
	jobs, err := s.registry.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	list := &JobList{
		Jobs:      make([]JobView, 0, len(jobs)),
		Total:     len(jobs),
		QueueSize: s.dispatcher.Len(),
	}
	if _, running := s.dispatcher.Running(); running {
		list.ProcessingCount = 1
	}
	for _, j := range jobs {
		list.Jobs = append(list.Jobs, *s.view(j))
	}
	return list, nil
}

func (s *JobService) Queue(ctx context.Context) (*QueueView, error) {
	snap := s.dispatcher.Snapshot()

	view := &QueueView{
		QueueSize:              len(snap.Queued),
		QueuedJobs:             make([]JobView, 0, len(snap.Queued)),
		AverageDurationSeconds: snap.AverageDuration.Seconds(),
	}

	if snap.ProcessingJobID != "" {
		job, err := s.registry.Get(ctx, snap.ProcessingJobID)
		if err == nil {
			view.ProcessingJob = &JobView{Job: job}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	for _, q := range snap.Queued {
		job, err := s.registry.Get(ctx, q.JobID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		pos := q.Position
		wait := q.EstimatedWait.Seconds()
		view.QueuedJobs = append(view.QueuedJobs, JobView{Job: job, QueuePosition: &pos, EstimatedWaitSeconds: &wait})
	}
	return view, nil
}

// Delete cancels a queued job. Jobs that already started are a conflict.
func (s *JobService) Delete(ctx context.Context, jobID string) error {
	if err := s.registry.Delete(ctx, jobID); err != nil {
		return err
	}
	s.dispatcher.Remove(jobID)
	logger.Info.Printf("job %s cancelled and removed", jobID)
	return nil
}

func (s *JobService) Health(ctx context.Context) *Health {
	h := &Health{
		Status:        "healthy",
		JobStats:      map[domain.JobStatus]int{},
		QueueSize:     s.dispatcher.Len(),
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	_, h.Processing = s.dispatcher.Running()

	if err := s.registry.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.StoreError = err.Error()
		return h
	}

	jobs, err := s.registry.List(ctx, domain.JobFilter{})
	if err != nil {
		h.Status = "degraded"
		h.StoreError = err.Error()
		return h
	}
	for _, j := range jobs {
		h.JobStats[j.Status]++
	}
	return h
}

// Recover restores the queue after a restart. Jobs left in processing were
// interrupted and are failed; queued jobs are re-admitted in their original
// order.
func (s *JobService) Recover(ctx context.Context) error {
	stuck, err := s.registry.List(ctx, domain.JobFilter{Status: domain.JobStatusProcessing})
	if err != nil {
		return fmt.Errorf("list interrupted jobs: %w", err)
	}
	for _, j := range stuck {
		failed, err := s.registry.Transition(ctx, j.ID, domain.JobStatusFailed,
			domain.WithError("interrupted: service restarted before the job finished"))
		if err != nil {
			logger.Error.Printf("recover job %s: %v", j.ID, err)
			continue
		}
		if failed.CallbackURL != "" && s.callbacks != nil {
			if payload, ok := domain.NewCallbackPayload(failed, time.Now().UTC()); ok {
				s.callbacks.Notify(failed.CallbackURL, payload)
			}
		}
	}

	queued, err := s.registry.List(ctx, domain.JobFilter{Status: domain.JobStatusQueued})
	if err != nil {
		return fmt.Errorf("list queued jobs: %w", err)
	}
	for _, j := range queued {
		s.dispatcher.Enqueue(j.ID, j.Sequence)
	}

	if len(stuck) > 0 || len(queued) > 0 {
		logger.Info.Printf("recovered queue: %d interrupted jobs failed, %d jobs re-queued", len(stuck), len(queued))
	}
	return nil
}

func (s *JobService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.registry.Sweep(ctx, retention)
}

func (s *JobService) view(job *domain.Job) *JobView {
	v := &JobView{Job: job}
	if job.Status != domain.JobStatusQueued {
		return v
	}
	if pos, ok := s.dispatcher.Position(job.ID); ok {
		wait := s.dispatcher.EstimatedWait(pos).Seconds()
		v.QueuePosition = &pos
		v.EstimatedWaitSeconds = &wait
	}
	return v
}

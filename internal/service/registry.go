package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
	"github.com/bnema/celluloid/internal/port"
)

// maxTransitionAttempts bounds the read-modify-write loop when another
// writer keeps winning the compare-and-set.
const maxTransitionAttempts = 5

// Registry is the only writer of job records. Every status change goes
// through Transition, which checks the state machine and commits with a
// compare-and-set on the record version.
type Registry struct {
	store port.JobStore
	now   func() time.Time
}

func NewRegistry(store port.JobStore) *Registry {
	return &Registry{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Create(ctx context.Context, p domain.NewJobParams) (*domain.Job, error) {
	job, err := domain.NewJob(p)
	if err != nil {
		return nil, err
	}
	if err := r.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	logger.Info.Printf("job created: id=%s, external_id=%s, seq=%d",
		job.ID, logger.SanitizeForLog(job.ExternalID), job.Sequence)
	return job, nil
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Job, error) {
	return r.store.Get(ctx, id)
}

func (r *Registry) List(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	return r.store.List(ctx, filter)
}

// Transition moves a job to status to. It returns ErrInvalidTransition when
// the edge is illegal for the stored status, leaving the record untouched.
func (r *Registry) Transition(ctx context.Context, id string, to domain.JobStatus, updates ...domain.JobUpdate) (*domain.Job, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		job, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		from := job.Status
		if err := job.Apply(to, r.now(), updates...); err != nil {
			if from != to {
				logger.Warn.Printf("rejected transition for job %s: %v", id, err)
			}
			return nil, err
		}

		err = r.store.Update(ctx, job, job.Version)
		if errors.Is(err, port.ErrStaleVersion) {
			logger.Debug.Printf("job %s changed during transition to %s, retrying (attempt %d)", id, to, attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("transition job %s: %w", id, err)
		}

		if from != to {
			logger.Info.Printf("job %s: %s -> %s", id, from, to)
		}
		return job, nil
	}
	return nil, fmt.Errorf("%w: job %s kept changing during transition to %s", domain.ErrConflict, id, to)
}

// Delete cancels and removes a queued job. Jobs in any other status are
// reported as ErrConflict and left as they are.
func (r *Registry) Delete(ctx context.Context, id string) error {
	job, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusQueued {
		return fmt.Errorf("%w: job %s is %s and cannot be cancelled", domain.ErrConflict, id, job.Status)
	}

	if _, err := r.Transition(ctx, id, domain.JobStatusCancelled); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return fmt.Errorf("%w: job %s started before it could be cancelled", domain.ErrConflict, id)
		}
		return err
	}

	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// Sweep removes terminal jobs that finished more than retention ago.
func (r *Registry) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := r.store.DeleteTerminalBefore(ctx, r.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("sweep jobs: %w", err)
	}
	if n > 0 {
		logger.Info.Printf("retention sweep removed %d jobs", n)
	}
	return n, nil
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

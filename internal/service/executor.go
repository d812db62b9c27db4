package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
	"github.com/bnema/celluloid/internal/port"
)

type ExecutorConfig struct {
	MaxJobDuration time.Duration
	// ProgressStep is the minimum progress delta, in percent, between two
	// persisted progress updates.
	ProgressStep float64
	// StopGrace bounds how long a cancelled pipeline may take to return
	// before the slot is released anyway.
	StopGrace time.Duration
}

var errInterrupted = errors.New("interrupted by shutdown")

type runOutcome struct {
	res *domain.PipelineResult
	err error
}

// Executor runs one acquired job through the pipeline and records the
// outcome. It always releases the dispatcher slot.
type Executor struct {
	registry   *Registry
	dispatcher *Dispatcher
	pipeline   port.Pipeline
	results    *Results
	callbacks  CallbackSink
	eventBus   EventPublisher
	cfg        ExecutorConfig
}

func NewExecutor(
	registry *Registry,
	dispatcher *Dispatcher,
	pipeline port.Pipeline,
	results *Results,
	callbacks CallbackSink,
	eventBus EventPublisher,
	cfg ExecutorConfig,
) *Executor {
	if cfg.MaxJobDuration <= 0 {
		cfg.MaxJobDuration = time.Hour
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 30 * time.Second
	}
	return &Executor{
		registry:   registry,
		dispatcher: dispatcher,
		pipeline:   pipeline,
		results:    results,
		callbacks:  callbacks,
		eventBus:   eventBus,
		cfg:        cfg,
	}
}

// Execute is the dispatcher handler. ctx cancellation interrupts the
// pipeline; bookkeeping writes still go through.
func (e *Executor) Execute(ctx context.Context, jobID string) {
	defer e.dispatcher.Release()

	store := context.WithoutCancel(ctx)

	job, err := e.registry.Transition(store, jobID, domain.JobStatusProcessing, domain.WithProgress(0))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			logger.Warn.Printf("job %s skipped: %v", jobID, err)
		} else {
			logger.Error.Printf("job %s could not start: %v", jobID, err)
		}
		return
	}
	e.publish(job, "status", "")
	logger.Info.Printf("processing job %s (external_id=%s, video=%s, threshold=%.2f)",
		job.ID, logger.SanitizeForLog(job.ExternalID), logger.SanitizeForLog(job.VideoURL), job.SimilarityThreshold)

	started := time.Now()
	result, runErr := e.run(ctx, job)

	var final *domain.Job
	if runErr == nil {
		final, err = e.complete(store, job, result, time.Since(started))
		if err != nil {
			runErr = err
		} else {
			e.dispatcher.RecordDuration(time.Since(started))
		}
	}
	if runErr != nil {
		pipelineErr := &domain.PipelineError{JobID: job.ID, Err: runErr}
		logger.Error.Printf("%v", pipelineErr)
		final, err = e.registry.Transition(store, job.ID, domain.JobStatusFailed, domain.WithError(runErr.Error()))
		if err != nil {
			logger.Error.Printf("job %s: record failure: %v", job.ID, err)
			return
		}
	}

	e.publish(final, "status", final.ErrorMessage)
	e.notify(final)
}

func (e *Executor) run(ctx context.Context, job *domain.Job) (*domain.PipelineResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxJobDuration)
	defer cancel()

	var finished atomic.Bool
	defer finished.Store(true)

	done := make(chan runOutcome, 1)

	req := domain.PipelineRequest{
		JobID:               job.ID,
		ExternalID:          job.ExternalID,
		VideoURL:            job.VideoURL,
		SimilarityThreshold: job.SimilarityThreshold,
	}
	progress := e.progressSink(context.WithoutCancel(ctx), job.ID, &finished)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error.Printf("pipeline panic for job %s: %v\n%s", job.ID, r, debug.Stack())
				done <- runOutcome{err: fmt.Errorf("pipeline panic: %v", r)}
			}
		}()
		res, err := e.pipeline.Run(runCtx, req, progress)
		done <- runOutcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return nil, e.timeoutError()
			}
			return nil, o.err
		}
		if o.res == nil {
			return nil, errors.New("pipeline returned no result")
		}
		return o.res, nil
	case <-runCtx.Done():
		timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
		cancel()
		finished.Store(true)
		e.awaitStop(job.ID, done)
		if timedOut {
			return nil, e.timeoutError()
		}
		return nil, errInterrupted
	}
}

// awaitStop holds the slot until the cancelled pipeline returns, for at most
// StopGrace.
func (e *Executor) awaitStop(jobID string, done <-chan runOutcome) {
	timer := time.NewTimer(e.cfg.StopGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Error.Printf("job %s: pipeline still running %s after cancellation, releasing slot",
			jobID, e.cfg.StopGrace)
	}
}

func (e *Executor) timeoutError() error {
	return fmt.Errorf("job exceeded maximum duration of %s", e.cfg.MaxJobDuration)
}

// progressSink persists pipeline progress. Calls are serialized, throttled to
// ProgressStep and ignored once the run has finished.
func (e *Executor) progressSink(ctx context.Context, jobID string, finished *atomic.Bool) port.ProgressFunc {
	var (
		mu   sync.Mutex
		last = -1.0
	)
	return func(fraction float64, counters map[string]any) {
		mu.Lock()
		defer mu.Unlock()

		if finished.Load() {
			return
		}
		pct := fraction * 100
		if last >= 0 && pct < 100 && pct-last < e.cfg.ProgressStep {
			return
		}

		job, err := e.registry.Transition(ctx, jobID, domain.JobStatusProcessing,
			domain.WithProgress(pct), domain.WithMetadata(counters))
		if err != nil {
			logger.Debug.Printf("job %s: progress update dropped: %v", jobID, err)
			return
		}
		last = job.Progress
		e.publish(job, "progress", "")
	}
}

func (e *Executor) complete(ctx context.Context, job *domain.Job, result *domain.PipelineResult, elapsed time.Duration) (*domain.Job, error) {
	ref, err := e.results.Save(job, result.Artifact)
	if err != nil {
		return nil, err
	}

	counters := make(map[string]any, len(result.Counters)+1)
	for k, v := range result.Counters {
		counters[k] = v
	}
	if _, ok := counters["processing_time"]; !ok {
		counters["processing_time"] = elapsed.Seconds()
	}

	final, err := e.registry.Transition(ctx, job.ID, domain.JobStatusCompleted,
		domain.WithResultRef(ref), domain.WithMetadata(counters))
	if err != nil {
		if derr := e.results.Discard(job, ref); derr != nil {
			logger.Error.Printf("job %s: discard uncommitted results %s: %v", job.ID, logger.SanitizeForLog(ref), derr)
		}
		return nil, err
	}
	return final, nil
}

func (e *Executor) notify(job *domain.Job) {
	if job.CallbackURL == "" || e.callbacks == nil {
		return
	}
	payload, ok := domain.NewCallbackPayload(job, time.Now().UTC())
	if !ok {
		return
	}
	e.callbacks.Notify(job.CallbackURL, payload)
}

func (e *Executor) publish(job *domain.Job, eventType, message string) {
	if e.eventBus == nil || job == nil {
		return
	}
	e.eventBus.Publish(domain.Event{
		Type:     eventType,
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  message,
	})
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PipelineError is any failure reported by the detection pipeline. It is always
// terminal for the job that produced it.
type PipelineError struct {
	JobID string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed for job %s: %v", e.JobID, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// DeliveryError is returned when a callback could not be delivered after all
// attempts. It never affects the job's own status.
type DeliveryError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("callback delivery to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

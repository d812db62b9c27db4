package domain

import (
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

const DefaultSimilarityThreshold = 0.5

// transitions lists the legal edges of the job state machine. The
// processing->processing edge carries progress updates.
var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusProcessing, JobStatusCompleted, JobStatusFailed},
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for completed, failed and cancelled.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Job struct {
	ID                  string         `json:"job_id"`
	ExternalID          string         `json:"external_id"`
	VideoURL            string         `json:"video_url"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	CallbackURL         string         `json:"callback_url,omitempty"`
	Status              JobStatus      `json:"status"`
	Progress            float64        `json:"progress"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	ErrorMessage        string         `json:"error,omitempty"`
	ResultRef           string         `json:"result_ref,omitempty"`
	Sequence            int64          `json:"sequence"`
	Version             int64          `json:"version"`
	CreatedAt           time.Time      `json:"created_at"`
	StartTime           *time.Time     `json:"start_time,omitempty"`
	EndTime             *time.Time     `json:"end_time,omitempty"`
}

type NewJobParams struct {
	ExternalID          string
	VideoURL            string
	SimilarityThreshold *float64
	CallbackURL         string
}

// NewJob validates the submission and returns a queued job. The sequence
// number is assigned by the store on insert.
func NewJob(p NewJobParams) (*Job, error) {
	externalID := strings.TrimSpace(p.ExternalID)
	if externalID == "" {
		return nil, validationErrorf("external_id is required")
	}

	videoURL := strings.TrimSpace(p.VideoURL)
	if videoURL == "" {
		return nil, validationErrorf("video_url is required")
	}
	if strings.ContainsRune(videoURL, '\x00') {
		return nil, validationErrorf("video_url contains a null byte")
	}
	if strings.Contains(videoURL, "://") {
		u, err := url.Parse(videoURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, validationErrorf("video_url must be an http(s) URL or a file path")
		}
	}

	threshold := DefaultSimilarityThreshold
	if p.SimilarityThreshold != nil {
		threshold = *p.SimilarityThreshold
	}
	if threshold < 0 || threshold > 1 || threshold != threshold {
		return nil, validationErrorf("similarity_threshold must be within [0,1], got %v", threshold)
	}

	callbackURL := strings.TrimSpace(p.CallbackURL)
	if callbackURL != "" {
		u, err := url.Parse(callbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, validationErrorf("callback_url must be an http(s) URL")
		}
	}

	return &Job{
		ID:                  uuid.NewString(),
		ExternalID:          externalID,
		VideoURL:            videoURL,
		SimilarityThreshold: threshold,
		CallbackURL:         callbackURL,
		Status:              JobStatusQueued,
		Metadata:            map[string]any{},
		CreatedAt:           time.Now().UTC(),
	}, nil
}

// JobUpdate mutates the fields that may change alongside a transition.
type JobUpdate func(*Job)

func WithProgress(pct float64) JobUpdate {
	return func(j *Job) {
		j.Progress = pct
	}
}

// WithMetadata merges counters into the job metadata.
func WithMetadata(m map[string]any) JobUpdate {
	return func(j *Job) {
		if len(m) == 0 {
			return
		}
		if j.Metadata == nil {
			j.Metadata = make(map[string]any, len(m))
		}
		maps.Copy(j.Metadata, m)
	}
}

func WithError(msg string) JobUpdate {
	return func(j *Job) {
		j.ErrorMessage = msg
	}
}

func WithResultRef(ref string) JobUpdate {
	return func(j *Job) {
		j.ResultRef = ref
	}
}

// Apply moves the job to status to and applies the updates. The receiver is
// left untouched when the edge is illegal.
func (j *Job) Apply(to JobStatus, now time.Time, updates ...JobUpdate) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}

	prevProgress := j.Progress
	from := j.Status

	for _, u := range updates {
		u(j)
	}
	j.Status = to

	switch {
	case to == JobStatusProcessing && from == JobStatusQueued:
		t := now
		j.StartTime = &t
	case to.IsTerminal():
		t := now
		j.EndTime = &t
	}

	j.Progress = clampProgress(j.Progress)
	if to == JobStatusProcessing && j.Progress < prevProgress {
		j.Progress = prevProgress
	}
	if to == JobStatusCompleted {
		j.Progress = 100
	}
	if to != JobStatusFailed {
		j.ErrorMessage = ""
	}
	if to != JobStatusCompleted {
		j.ResultRef = ""
	}

	return nil
}

func clampProgress(p float64) float64 {
	if p != p || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Clone returns a deep copy so callers never share the metadata map with the store.
func (j *Job) Clone() *Job {
	c := *j
	if j.Metadata != nil {
		c.Metadata = maps.Clone(j.Metadata)
	}
	if j.StartTime != nil {
		t := *j.StartTime
		c.StartTime = &t
	}
	if j.EndTime != nil {
		t := *j.EndTime
		c.EndTime = &t
	}
	return &c
}

type JobFilter struct {
	ExternalID string
	Status     JobStatus
}

func (f JobFilter) Match(j *Job) bool {
	if f.ExternalID != "" && j.ExternalID != f.ExternalID {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	return true
}

package domain

import "time"

// CallbackPayload is the body POSTed to a job's callback_url. Completed jobs
// carry result_ref and metadata, failed jobs carry error.
type CallbackPayload struct {
	JobID      string         `json:"job_id"`
	ExternalID string         `json:"external_id"`
	Status     JobStatus      `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	ResultRef  string         `json:"result_ref,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// NewCallbackPayload builds the payload for a job in a terminal state. It
// returns false for jobs that have not finished.
func NewCallbackPayload(j *Job, now time.Time) (CallbackPayload, bool) {
	p := CallbackPayload{
		JobID:      j.ID,
		ExternalID: j.ExternalID,
		Status:     j.Status,
		Timestamp:  now,
	}
	switch j.Status {
	case JobStatusCompleted:
		p.ResultRef = j.ResultRef
		p.Metadata = j.Metadata
	case JobStatusFailed:
		p.Error = j.ErrorMessage
	default:
		return CallbackPayload{}, false
	}
	return p, true
}

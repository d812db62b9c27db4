package domain

// Event is published on the event bus whenever a job changes.
type Event struct {
	Type     string    `json:"type"` // "status", "progress"
	JobID    string    `json:"job_id"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Message  string    `json:"message,omitempty"`
}

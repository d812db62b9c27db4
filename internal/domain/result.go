package domain

import "time"

// ResultEntry locates the stored artifact of a completed job.
type ResultEntry struct {
	ExternalID string    `json:"external_id"`
	JobID      string    `json:"job_id"`
	ResultRef  string    `json:"result_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

func (e ResultEntry) Key() string {
	return ResultKey(e.ExternalID, e.JobID)
}

func ResultKey(externalID, jobID string) string {
	return externalID + "/" + jobID
}

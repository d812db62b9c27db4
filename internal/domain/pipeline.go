package domain

type PipelineRequest struct {
	JobID               string
	ExternalID          string
	VideoURL            string
	SimilarityThreshold float64
}

// PipelineResult is the detection output of one job. Artifact is the raw
// results document, Counters the summary copied into the job metadata.
type PipelineResult struct {
	Artifact []byte
	Counters map[string]any
}

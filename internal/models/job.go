package models

import "time"

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	// JobSkipped means the document produced no text or no chunks.
	JobSkipped JobStatus = "skipped"
	JobFailed  JobStatus = "failed"
)

// Done reports whether the job reached a terminal state.
func (s JobStatus) Done() bool {
	return s == JobCompleted || s == JobSkipped || s == JobFailed
}

// Job tracks one uploaded document through background processing.
type Job struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	DocumentName string     `json:"document_name"`
	Status       JobStatus  `json:"status"`
	Error        string     `json:"error,omitempty"`
	PageCount    int        `json:"page_count"`
	ChunkCount   int        `json:"chunk_count"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

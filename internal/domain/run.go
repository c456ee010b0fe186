package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	// RunStatusRunning means the run is still executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusSucceeded means every processed record was handled cleanly.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusPartiallyFailed means some documents failed but the run finished.
	RunStatusPartiallyFailed RunStatus = "partially_failed"
	// RunStatusFailed means the run aborted before completing.
	RunStatusFailed RunStatus = "failed"
)

// FingerprintEntry records the version of an identity currently in the
// index. An entry exists iff a document with that identity exists in the
// index; absence means never indexed or purged, which the pipeline treats
// the same way.
type FingerprintEntry struct {
	Identity        string    `json:"identity"`
	LastIndexedHash string    `json:"last_indexed_hash"`
	LastIndexedAt   time.Time `json:"last_indexed_at"`
}

// IngestionRun is the summary of one pipeline execution. It is owned
// exclusively by the pipeline instance executing the run and is never
// mutated after Finalize.
type IngestionRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// ProcessedCount is the number of records read from the spool.
	ProcessedCount int `json:"processed_count"`
	// UpsertedCount is the number of documents confirmed by the backend.
	UpsertedCount int `json:"upserted_count"`
	// SkippedCount is the number of records whose content was unchanged.
	SkippedCount int `json:"skipped_count"`
	// FailedCount is the number of documents that could not be indexed.
	FailedCount int `json:"failed_count"`
	// InvalidCount is the number of spool rows dropped during cleaning.
	InvalidCount int `json:"invalid_count"`

	Status RunStatus `json:"status"`
	// Error carries the fatal error message for failed runs.
	Error string `json:"error,omitempty"`
}

// NewIngestionRun creates a run in the running state.
func NewIngestionRun() *IngestionRun {
	return &IngestionRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    RunStatusRunning,
	}
}

// Finalize closes the run. A run with zero processed records still
// finalizes as succeeded.
func (r *IngestionRun) Finalize() {
	r.FinishedAt = time.Now().UTC()
	if r.FailedCount == 0 {
		r.Status = RunStatusSucceeded
	} else {
		r.Status = RunStatusPartiallyFailed
	}
}

// Fail closes the run with a fatal error.
func (r *IngestionRun) Fail(err error) {
	r.FinishedAt = time.Now().UTC()
	r.Status = RunStatusFailed
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration reports how long the run took, or time since start for a run
// that is still executing.
func (r *IngestionRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Package metrics provides metrics collection and reporting functionality.
package metrics

import (
	"sync"
	"time"

	"github.com/blogsearch/ingestor/internal/domain"
)

// Metrics holds cumulative ingestion metrics for the process lifetime.
type Metrics struct {
	// RunsStarted is the number of ingestion runs started.
	RunsStarted int64
	// RunsSucceeded is the number of runs that finished without failures.
	RunsSucceeded int64
	// RunsPartiallyFailed is the number of runs with per-document failures.
	RunsPartiallyFailed int64
	// RunsFailed is the number of runs aborted by a fatal error.
	RunsFailed int64
	// RunsRejected is the number of triggers rejected because a run was in progress.
	RunsRejected int64
	// DocumentsUpserted is the total number of confirmed upserts.
	DocumentsUpserted int64
	// DocumentsSkipped is the total number of unchanged records skipped.
	DocumentsSkipped int64
	// DocumentsFailed is the total number of documents that failed to index.
	DocumentsFailed int64
	// LastRunTime is when the most recent run finished.
	LastRunTime time.Time
	// StartTime is when the metrics collection began.
	StartTime time.Time
	// mu protects concurrent access to metrics.
	mu sync.Mutex
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// RecordRunStart notes that a run began.
func (m *Metrics) RecordRunStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunsStarted++
}

// RecordRejected notes a trigger rejected by the in-progress guard.
func (m *Metrics) RecordRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunsRejected++
}

// RecordRun folds a finalized run into the cumulative counters.
func (m *Metrics) RecordRun(run *domain.IngestionRun) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch run.Status {
	case domain.RunStatusSucceeded:
		m.RunsSucceeded++
	case domain.RunStatusPartiallyFailed:
		m.RunsPartiallyFailed++
	case domain.RunStatusFailed:
		m.RunsFailed++
	case domain.RunStatusRunning:
		// A running run is never recorded; counted at finalization.
	}

	m.DocumentsUpserted += int64(run.UpsertedCount)
	m.DocumentsSkipped += int64(run.SkippedCount)
	m.DocumentsFailed += int64(run.FailedCount)
	m.LastRunTime = run.FinishedAt
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		RunsStarted:         m.RunsStarted,
		RunsSucceeded:       m.RunsSucceeded,
		RunsPartiallyFailed: m.RunsPartiallyFailed,
		RunsFailed:          m.RunsFailed,
		RunsRejected:        m.RunsRejected,
		DocumentsUpserted:   m.DocumentsUpserted,
		DocumentsSkipped:    m.DocumentsSkipped,
		DocumentsFailed:     m.DocumentsFailed,
		LastRunTime:         m.LastRunTime,
		Uptime:              time.Since(m.StartTime),
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	RunsStarted         int64         `json:"runs_started"`
	RunsSucceeded       int64         `json:"runs_succeeded"`
	RunsPartiallyFailed int64         `json:"runs_partially_failed"`
	RunsFailed          int64         `json:"runs_failed"`
	RunsRejected        int64         `json:"runs_rejected"`
	DocumentsUpserted   int64         `json:"documents_upserted"`
	DocumentsSkipped    int64         `json:"documents_skipped"`
	DocumentsFailed     int64         `json:"documents_failed"`
	LastRunTime         time.Time     `json:"last_run_time"`
	Uptime              time.Duration `json:"uptime"`
}

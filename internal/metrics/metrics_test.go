package metrics_test

import (
	"sync"
	"testing"

	"github.com/blogsearch/ingestor/internal/domain"
	"github.com/blogsearch/ingestor/internal/metrics"
)

func TestRecordRun(t *testing.T) {
	t.Parallel()

	m := metrics.NewMetrics()

	clean := domain.NewIngestionRun()
	clean.UpsertedCount = 5
	clean.SkippedCount = 3
	clean.Finalize()
	m.RecordRunStart()
	m.RecordRun(clean)

	partial := domain.NewIngestionRun()
	partial.UpsertedCount = 8
	partial.FailedCount = 2
	partial.Finalize()
	m.RecordRunStart()
	m.RecordRun(partial)

	snap := m.Snapshot()
	if snap.RunsStarted != 2 {
		t.Errorf("expected 2 runs started, got %d", snap.RunsStarted)
	}
	if snap.RunsSucceeded != 1 {
		t.Errorf("expected 1 succeeded, got %d", snap.RunsSucceeded)
	}
	if snap.RunsPartiallyFailed != 1 {
		t.Errorf("expected 1 partially failed, got %d", snap.RunsPartiallyFailed)
	}
	if snap.DocumentsUpserted != 13 {
		t.Errorf("expected 13 upserted, got %d", snap.DocumentsUpserted)
	}
	if snap.DocumentsSkipped != 3 {
		t.Errorf("expected 3 skipped, got %d", snap.DocumentsSkipped)
	}
	if snap.DocumentsFailed != 2 {
		t.Errorf("expected 2 failed, got %d", snap.DocumentsFailed)
	}
	if snap.LastRunTime.IsZero() {
		t.Error("expected last run time to be set")
	}
}

func TestRecordConcurrent(t *testing.T) {
	t.Parallel()

	m := metrics.NewMetrics()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordRejected()
		}()
	}
	wg.Wait()

	if snap := m.Snapshot(); snap.RunsRejected != 50 {
		t.Errorf("expected 50 rejected, got %d", snap.RunsRejected)
	}
}

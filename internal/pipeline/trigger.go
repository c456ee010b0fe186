package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/blogsearch/ingestor/internal/domain"
	"github.com/blogsearch/ingestor/internal/logger"
	"github.com/blogsearch/ingestor/internal/metrics"
)

// ErrRunAlreadyInProgress is returned when a trigger arrives while a run
// is executing. The trigger is rejected, never queued.
var ErrRunAlreadyInProgress = errors.New("ingestion run already in progress")

// Runner executes one ingestion run. Implemented by Pipeline.
type Runner interface {
	Run(ctx context.Context) (*domain.IngestionRun, error)
}

// Trigger is the externally invoked entry point for ingestion runs. It
// guarantees at most one run executes at a time process-wide.
type Trigger struct {
	runner  Runner
	metrics *metrics.Metrics
	logger  logger.Interface

	mu      sync.Mutex // held for the duration of a run
	stateMu sync.Mutex // guards lastRun/inProgress
	lastRun *domain.IngestionRun
	running bool
}

// NewTrigger creates a trigger around the given runner.
func NewTrigger(runner Runner, m *metrics.Metrics, log logger.Interface) *Trigger {
	return &Trigger{
		runner:  runner,
		metrics: m,
		logger:  log.WithComponent("trigger"),
	}
}

// Run starts one ingestion run, or rejects the call immediately with
// ErrRunAlreadyInProgress when a run is executing. The guard is released
// on every exit path: success, partial failure, fatal error, panic.
func (t *Trigger) Run(ctx context.Context) (*domain.IngestionRun, error) {
	if !t.mu.TryLock() {
		t.metrics.RecordRejected()
		t.logger.Warn("Trigger rejected, run already in progress")
		return nil, ErrRunAlreadyInProgress
	}
	defer t.mu.Unlock()

	t.setRunning(true)
	defer t.setRunning(false)

	t.metrics.RecordRunStart()
	run, err := t.runner.Run(ctx)
	if run != nil {
		t.metrics.RecordRun(run)
		t.stateMu.Lock()
		t.lastRun = run
		t.stateMu.Unlock()
	}
	return run, err
}

// LastRun returns the most recently finalized run, or nil before the
// first run completes.
func (t *Trigger) LastRun() *domain.IngestionRun {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.lastRun
}

// InProgress reports whether a run is currently executing.
func (t *Trigger) InProgress() bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.running
}

func (t *Trigger) setRunning(v bool) {
	t.stateMu.Lock()
	t.running = v
	t.stateMu.Unlock()
}

// Package pipeline orchestrates one ingestion run: read pending records,
// classify them against the fingerprint ledger, upsert changed records in
// bounded batches, and commit fingerprints only after confirmed success.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blogsearch/ingestor/internal/config"
	"github.com/blogsearch/ingestor/internal/domain"
	"github.com/blogsearch/ingestor/internal/esindex"
	"github.com/blogsearch/ingestor/internal/logger"
	"github.com/blogsearch/ingestor/internal/spool"
)

// RecordSource reads pending article records. Implemented by spool.Reader.
type RecordSource interface {
	ListPending(ctx context.Context) (*spool.ReadResult, error)
}

// Ledger is the durable fingerprint store. Implemented by fingerprint.Store.
type Ledger interface {
	LookupBatch(identities []string) (map[string]*domain.FingerprintEntry, error)
	Commit(identity, contentHash string, indexedAt time.Time) error
}

// Upserter performs idempotent batched writes to the search backend.
// Implemented by esindex.Client.
type Upserter interface {
	UpsertBatch(ctx context.Context, requests []esindex.IndexRequest) (*esindex.BatchResult, error)
}

// Pipeline executes ingestion runs. A Pipeline is stateless between runs;
// all cross-run state lives in the Ledger.
type Pipeline struct {
	source   RecordSource
	ledger   Ledger
	upserter Upserter
	cfg      config.IngestConfig
	logger   logger.Interface
}

// New creates a pipeline.
func New(
	source RecordSource,
	ledger Ledger,
	upserter Upserter,
	cfg config.IngestConfig,
	log logger.Interface,
) *Pipeline {
	return &Pipeline{
		source:   source,
		ledger:   ledger,
		upserter: upserter,
		cfg:      cfg,
		logger:   log.WithComponent("pipeline"),
	}
}

// Run executes one ingestion run. The returned run is always non-nil and
// finalized; the error is non-nil only when the run aborted (record store
// unavailable or cancellation).
func (p *Pipeline) Run(ctx context.Context) (*domain.IngestionRun, error) {
	run := domain.NewIngestionRun()
	p.logger.Info("Ingestion run started", "run_id", run.ID)

	pending, err := p.source.ListPending(ctx)
	if err != nil {
		// Fatal: no partial progress, the ledger is untouched.
		run.Fail(err)
		p.logger.Error("Ingestion run aborted",
			"run_id", run.ID,
			"error", err.Error(),
		)
		return run, fmt.Errorf("listing pending records: %w", err)
	}

	run.ProcessedCount = len(pending.Records)
	run.InvalidCount = pending.InvalidCount

	needsUpsert, skipped, err := p.classify(pending.Records)
	if err != nil {
		run.Fail(err)
		return run, fmt.Errorf("classifying records: %w", err)
	}
	run.SkippedCount = skipped

	if err := p.upsertAll(ctx, run, needsUpsert); err != nil {
		run.Fail(err)
		return run, err
	}

	run.Finalize()
	p.logger.Info("Ingestion run finished",
		"run_id", run.ID,
		"status", string(run.Status),
		"processed", run.ProcessedCount,
		"upserted", run.UpsertedCount,
		"skipped", run.SkippedCount,
		"failed", run.FailedCount,
		"invalid", run.InvalidCount,
		"duration", run.Duration().String(),
	)
	return run, nil
}

// classify splits records into those needing an upsert and those whose
// content hash matches the ledger. Duplicate identities within one run
// collapse to the newest record; superseded versions count as skipped.
func (p *Pipeline) classify(records []domain.ArticleRecord) ([]esindex.IndexRequest, int, error) {
	skipped := 0

	// Later spool files supersede earlier ones for the same identity.
	latest := make(map[string]int, len(records))
	order := make([]string, 0, len(records))
	for i := range records {
		identity := records[i].Identity
		if _, seen := latest[identity]; seen {
			skipped++
		} else {
			order = append(order, identity)
		}
		latest[identity] = i
	}

	entries, err := p.ledger.LookupBatch(order)
	if err != nil {
		return nil, 0, err
	}

	var requests []esindex.IndexRequest
	for _, identity := range order {
		record := &records[latest[identity]]
		hash := record.ContentHash()

		if entry, ok := entries[identity]; ok && entry.LastIndexedHash == hash {
			// Unchanged content is never re-sent; idempotence at the
			// pipeline layer, not just the backend layer.
			skipped++
			continue
		}
		requests = append(requests, esindex.NewIndexRequest(record))
	}

	return requests, skipped, nil
}

// upsertAll dispatches batches to the backend with bounded parallelism
// and commits fingerprints for confirmed documents.
func (p *Pipeline) upsertAll(ctx context.Context, run *domain.IngestionRun, requests []esindex.IndexRequest) error {
	if len(requests) == 0 {
		return nil
	}

	batches := splitBatches(requests, p.cfg.BatchSize)
	p.logger.Debug("Dispatching upsert batches",
		"run_id", run.ID,
		"documents", len(requests),
		"batches", len(batches),
	)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex // guards run counters
		sem = make(chan struct{}, p.cfg.Concurrency)
	)

dispatch:
	for _, batch := range batches {
		// Stop dispatching once cancelled; in-flight batches finish.
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(batch []esindex.IndexRequest) {
			defer func() {
				<-sem
				wg.Done()
			}()
			upserted, failed := p.upsertBatch(ctx, run.ID, batch)
			mu.Lock()
			run.UpsertedCount += upserted
			run.FailedCount += failed
			mu.Unlock()
		}(batch)
	}

	wg.Wait()

	if ctx.Err() != nil {
		return fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	return nil
}

// upsertBatch sends one batch and commits fingerprints for every
// confirmed document. Commits happen strictly after backend confirmation,
// so a crash between the two re-attempts instead of silently skipping.
func (p *Pipeline) upsertBatch(ctx context.Context, runID string, batch []esindex.IndexRequest) (upserted, failed int) {
	result, err := p.upserter.UpsertBatch(ctx, batch)
	if err != nil {
		// Cancellation mid-batch: whatever was confirmed still gets its
		// fingerprint committed below; the rest is re-sent next run.
		p.logger.Warn("Upsert batch interrupted",
			"run_id", runID,
			"error", err.Error(),
		)
	}
	if result == nil {
		return 0, len(batch)
	}

	now := time.Now().UTC()
	for i := range result.Results {
		res := &result.Results[i]
		if res.Failed {
			failed++
			continue
		}

		if commitErr := p.ledger.Commit(res.Identity, res.ContentHash, now); commitErr != nil {
			// The document is in the index but the ledger missed it.
			// Account it failed so the run reports the gap; the next run
			// re-sends it, which the backend absorbs idempotently.
			failed++
			p.logger.Error("Fingerprint commit failed after confirmed upsert",
				"run_id", runID,
				"identity", res.Identity,
				"error", commitErr.Error(),
			)
			continue
		}
		upserted++
	}
	return upserted, failed
}

// splitBatches chunks requests into batches of at most size documents.
func splitBatches(requests []esindex.IndexRequest, size int) [][]esindex.IndexRequest {
	if size <= 0 {
		size = config.DefaultBatchSize
	}
	batches := make([][]esindex.IndexRequest, 0, (len(requests)+size-1)/size)
	for start := 0; start < len(requests); start += size {
		end := min(start+size, len(requests))
		batches = append(batches, requests[start:end])
	}
	return batches
}

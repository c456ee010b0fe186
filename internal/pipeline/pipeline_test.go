package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogsearch/ingestor/internal/config"
	"github.com/blogsearch/ingestor/internal/domain"
	"github.com/blogsearch/ingestor/internal/esindex"
	"github.com/blogsearch/ingestor/internal/fingerprint"
	"github.com/blogsearch/ingestor/internal/logger"
	"github.com/blogsearch/ingestor/internal/pipeline"
	"github.com/blogsearch/ingestor/internal/spool"
)

// fakeSource serves a fixed set of records, or an error.
type fakeSource struct {
	records []domain.ArticleRecord
	invalid int
	err     error
}

func (s *fakeSource) ListPending(context.Context) (*spool.ReadResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &spool.ReadResult{
		Records:      append([]domain.ArticleRecord(nil), s.records...),
		InvalidCount: s.invalid,
	}, nil
}

// fakeUpserter records batches and lets tests fail chosen identities.
type fakeUpserter struct {
	mu       sync.Mutex
	batches  [][]esindex.IndexRequest
	failPerm map[string]bool // identity -> permanently fail
	failAll  bool            // report everything failed (budget exhausted)
}

func (u *fakeUpserter) UpsertBatch(_ context.Context, requests []esindex.IndexRequest) (*esindex.BatchResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.batches = append(u.batches, requests)
	result := &esindex.BatchResult{}
	for _, req := range requests {
		res := esindex.DocumentResult{
			ID:          req.ID,
			Identity:    req.Identity,
			ContentHash: req.ContentHash,
		}
		switch {
		case u.failAll:
			res.Failed = true
			res.Reason = "max retry attempts exceeded"
		case u.failPerm[req.Identity]:
			res.Failed = true
			res.Permanent = true
			res.Reason = "mapper_parsing_exception"
		}
		result.Results = append(result.Results, res)
	}
	return result, nil
}

func (u *fakeUpserter) batchSizes() []int {
	u.mu.Lock()
	defer u.mu.Unlock()
	sizes := make([]int, 0, len(u.batches))
	for _, b := range u.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

// failingLedger wraps a real ledger but fails commits for one identity.
type failingLedger struct {
	*fingerprint.Store
	failIdentity string
}

func (l *failingLedger) Commit(identity, hash string, at time.Time) error {
	if identity == l.failIdentity {
		return fingerprint.ErrCommitFailure
	}
	return l.Store.Commit(identity, hash, at)
}

func openLedger(t *testing.T) *fingerprint.Store {
	t.Helper()
	store, err := fingerprint.Open(filepath.Join(t.TempDir(), "fingerprints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeRecords(n int) []domain.ArticleRecord {
	records := make([]domain.ArticleRecord, 0, n)
	for i := range n {
		r := domain.ArticleRecord{
			Identity:    fmt.Sprintf("https://example.com/posts/%d", i),
			Title:       fmt.Sprintf("Post %d", i),
			Body:        fmt.Sprintf("Body of post %d", i),
			CollectedAt: time.Now().UTC(),
		}
		r.Normalize()
		records = append(records, r)
	}
	return records
}

func ingestConfig() config.IngestConfig {
	return config.IngestConfig{
		BatchSize:    3,
		RetryLimit:   3,
		RetryBackoff: time.Millisecond,
		Concurrency:  2,
	}
}

func newPipeline(source pipeline.RecordSource, ledger pipeline.Ledger, upserter pipeline.Upserter) *pipeline.Pipeline {
	return pipeline.New(source, ledger, upserter, ingestConfig(), logger.NewNoOp())
}

func TestRun_EmptySpool(t *testing.T) {
	t.Parallel()

	p := newPipeline(&fakeSource{}, openLedger(t), &fakeUpserter{})
	run, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Zero(t, run.ProcessedCount)
	assert.Zero(t, run.UpsertedCount)
	assert.Zero(t, run.SkippedCount)
	assert.Zero(t, run.FailedCount)
}

func TestRun_StoreUnavailableIsFatal(t *testing.T) {
	t.Parallel()

	ledger := openLedger(t)
	source := &fakeSource{err: fmt.Errorf("%w: boom", spool.ErrStoreUnavailable)}
	upserter := &fakeUpserter{}

	p := newPipeline(source, ledger, upserter)
	run, err := p.Run(context.Background())

	require.ErrorIs(t, err, spool.ErrStoreUnavailable)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Empty(t, upserter.batches, "no upserts on a fatal store error")

	count, countErr := ledger.Count()
	require.NoError(t, countErr)
	assert.Zero(t, count, "ledger untouched on a fatal store error")
}

func TestRun_IdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	records := makeRecords(5)
	source := &fakeSource{records: records}
	ledger := openLedger(t)
	upserter := &fakeUpserter{}
	p := newPipeline(source, ledger, upserter)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, first.Status)
	assert.Equal(t, 5, first.UpsertedCount)
	assert.Zero(t, first.SkippedCount)

	// Second run over the same spool contents: nothing is re-sent.
	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusSucceeded, second.Status)
	assert.Zero(t, second.UpsertedCount)
	assert.Equal(t, 5, second.SkippedCount)
}

func TestRun_SelectiveReindexing(t *testing.T) {
	t.Parallel()

	records := makeRecords(4)
	source := &fakeSource{records: records}
	ledger := openLedger(t)
	upserter := &fakeUpserter{}
	p := newPipeline(source, ledger, upserter)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	// One article changes; the rest stay byte-identical.
	changed := records[2]
	changed.Body = "Rewritten body"
	changed.Normalize()
	source.records[2] = changed

	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, second.UpsertedCount)
	assert.Equal(t, 3, second.SkippedCount)

	lastBatch := upserter.batches[len(upserter.batches)-1]
	require.Len(t, lastBatch, 1)
	assert.Equal(t, changed.Identity, lastBatch[0].Identity)

	entry, err := ledger.Lookup(changed.Identity)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, changed.ContentHash(), entry.LastIndexedHash)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	t.Parallel()

	records := makeRecords(10)
	failing := map[string]bool{
		records[1].Identity: true,
		records[6].Identity: true,
	}
	source := &fakeSource{records: records}
	ledger := openLedger(t)
	upserter := &fakeUpserter{failPerm: failing}
	p := newPipeline(source, ledger, upserter)

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusPartiallyFailed, run.Status)
	assert.Equal(t, 10, run.ProcessedCount)
	assert.Equal(t, 8, run.UpsertedCount)
	assert.Equal(t, 2, run.FailedCount)

	// Ledger entries exist only for the succeeded identities.
	for _, record := range records {
		entry, lookupErr := ledger.Lookup(record.Identity)
		require.NoError(t, lookupErr)
		if failing[record.Identity] {
			assert.Nil(t, entry, "failed identity %s must not be committed", record.Identity)
		} else {
			require.NotNil(t, entry, "succeeded identity %s must be committed", record.Identity)
		}
	}

	// Failed identities are retried on the next run.
	upserter.failPerm = nil
	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.UpsertedCount)
	assert.Equal(t, 8, second.SkippedCount)
	assert.Equal(t, domain.RunStatusSucceeded, second.Status)
}

func TestRun_ExhaustedBackendFailsAllDocuments(t *testing.T) {
	t.Parallel()

	records := makeRecords(4)
	source := &fakeSource{records: records}
	ledger := openLedger(t)
	upserter := &fakeUpserter{failAll: true}
	p := newPipeline(source, ledger, upserter)

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusPartiallyFailed, run.Status)
	assert.Equal(t, 4, run.FailedCount)
	assert.Zero(t, run.UpsertedCount)

	count, countErr := ledger.Count()
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestRun_CrashBeforeCommitResends(t *testing.T) {
	t.Parallel()

	records := makeRecords(3)
	source := &fakeSource{records: records}
	store := openLedger(t)
	// The backend confirms the document but the ledger write is lost,
	// as after a crash between upsert and commit.
	ledger := &failingLedger{Store: store, failIdentity: records[1].Identity}
	upserter := &fakeUpserter{}
	p := newPipeline(source, ledger, upserter)

	first, err := p.Run(context.Background())
	require.NoError(t, err)

	// Commit failure counts against the run but does not abort it.
	assert.Equal(t, domain.RunStatusPartiallyFailed, first.Status)
	assert.Equal(t, 2, first.UpsertedCount)
	assert.Equal(t, 1, first.FailedCount)

	// Next run re-sends only the uncommitted identity; the backend
	// receives an idempotent replace.
	p = newPipeline(source, store, upserter)
	second, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.UpsertedCount)
	assert.Equal(t, 2, second.SkippedCount)

	lastBatch := upserter.batches[len(upserter.batches)-1]
	require.Len(t, lastBatch, 1)
	assert.Equal(t, records[1].Identity, lastBatch[0].Identity)
}

func TestRun_RespectsBatchSize(t *testing.T) {
	t.Parallel()

	source := &fakeSource{records: makeRecords(8)}
	upserter := &fakeUpserter{}
	p := newPipeline(source, openLedger(t), upserter)

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, run.UpsertedCount)

	total := 0
	for _, size := range upserter.batchSizes() {
		assert.LessOrEqual(t, size, 3, "batch size bound")
		total += size
	}
	assert.Equal(t, 8, total)
}

func TestRun_DuplicateIdentitiesCollapse(t *testing.T) {
	t.Parallel()

	records := makeRecords(2)
	// A newer scrape of the same identity later in the spool.
	newer := records[0]
	newer.Body = "Updated body"
	newer.Normalize()
	records = append(records, newer)

	source := &fakeSource{records: records}
	ledger := openLedger(t)
	upserter := &fakeUpserter{}
	p := newPipeline(source, ledger, upserter)

	run, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, run.ProcessedCount)
	assert.Equal(t, 2, run.UpsertedCount)
	assert.Equal(t, 1, run.SkippedCount)

	// The newest version wins.
	entry, err := ledger.Lookup(newer.Identity)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, newer.ContentHash(), entry.LastIndexedHash)
}

func TestRun_ReportsInvalidRows(t *testing.T) {
	t.Parallel()

	source := &fakeSource{records: makeRecords(2), invalid: 3}
	p := newPipeline(source, openLedger(t), &fakeUpserter{})

	run, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, run.InvalidCount)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &fakeSource{records: makeRecords(6)}
	p := newPipeline(source, openLedger(t), &fakeUpserter{})

	run, err := p.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || run.Status == domain.RunStatusFailed)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
}

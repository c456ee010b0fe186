package common

import (
	"fmt"

	"github.com/blogsearch/ingestor/internal/esindex"
	"github.com/blogsearch/ingestor/internal/fingerprint"
	"github.com/blogsearch/ingestor/internal/metrics"
	"github.com/blogsearch/ingestor/internal/pipeline"
	"github.com/blogsearch/ingestor/internal/spool"
)

// Stack wires the ingestion components together. Commands build one Stack
// and release it with Close when they finish.
type Stack struct {
	Spool       *spool.Reader
	Fingerprint *fingerprint.Store
	Index       *esindex.Client
	Pipeline    *pipeline.Pipeline
	Trigger     *pipeline.Trigger
	Metrics     *metrics.Metrics
}

// NewStack builds the full ingestion stack from the loaded configuration.
func NewStack(deps *CommandDeps) (*Stack, error) {
	reader := spool.NewReader(deps.Config.Spool.Dir, deps.Logger)

	ledger, err := fingerprint.Open(deps.Config.Fingerprint.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fingerprint ledger: %w", err)
	}

	client, err := esindex.NewClient(deps.Config, deps.Logger)
	if err != nil {
		_ = ledger.Close()
		return nil, fmt.Errorf("failed to create index client: %w", err)
	}

	m := metrics.NewMetrics()
	p := pipeline.New(reader, ledger, client, deps.Config.Ingest, deps.Logger)

	return &Stack{
		Spool:       reader,
		Fingerprint: ledger,
		Index:       client,
		Pipeline:    p,
		Trigger:     pipeline.NewTrigger(p, m, deps.Logger),
		Metrics:     m,
	}, nil
}

// Close releases resources held by the stack.
func (s *Stack) Close() error {
	if s.Fingerprint != nil {
		return s.Fingerprint.Close()
	}
	return nil
}

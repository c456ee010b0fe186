package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogsearch/ingestor/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DefaultBatchSize, cfg.Ingest.BatchSize)
	assert.Equal(t, config.DefaultRetryLimit, cfg.Ingest.RetryLimit)
	assert.Equal(t, config.DefaultRetryBackoff, cfg.Ingest.RetryBackoff)
	assert.Equal(t, config.DefaultConcurrency, cfg.Ingest.Concurrency)
	assert.Equal(t, []string{config.DefaultAddress}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, config.DefaultIndexName, cfg.Elasticsearch.IndexName)
	assert.Equal(t, config.DefaultSchedule, cfg.Scheduler.Schedule)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
ingest:
  batch_size: 50
  retry_limit: 5
  retry_backoff: 2s
  concurrency: 2
spool:
  dir: /var/spool/articles
fingerprint:
  path: /var/lib/ingestor/fingerprints.db
elasticsearch:
  addresses:
    - http://es1:9200
    - http://es2:9200
  index_name: blog_articles
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Ingest.BatchSize)
	assert.Equal(t, 5, cfg.Ingest.RetryLimit)
	assert.Equal(t, 2*time.Second, cfg.Ingest.RetryBackoff)
	assert.Equal(t, "/var/spool/articles", cfg.Spool.Dir)
	assert.Equal(t, "/var/lib/ingestor/fingerprints.db", cfg.Fingerprint.Path)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, "blog_articles", cfg.Elasticsearch.IndexName)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("INGEST_BATCH_SIZE", "25")
	t.Setenv("SPOOL_DIR", "/tmp/spool")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Ingest.BatchSize)
	assert.Equal(t, "/tmp/spool", cfg.Spool.Dir)
}

func TestLoad_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  batch_size: -1\n"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}

func TestIngestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := config.IngestConfig{
		BatchSize:    100,
		RetryLimit:   3,
		RetryBackoff: time.Second,
		Concurrency:  4,
	}

	tests := []struct {
		name   string
		mutate func(c *config.IngestConfig)
		ok     bool
	}{
		{"valid", func(c *config.IngestConfig) {}, true},
		{"zero batch", func(c *config.IngestConfig) { c.BatchSize = 0 }, false},
		{"batch over cap", func(c *config.IngestConfig) { c.BatchSize = config.MaxBatchSize + 1 }, false},
		{"zero retries", func(c *config.IngestConfig) { c.RetryLimit = 0 }, false},
		{"zero backoff", func(c *config.IngestConfig) { c.RetryBackoff = 0 }, false},
		{"concurrency over cap", func(c *config.IngestConfig) { c.Concurrency = config.MaxConcurrency + 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

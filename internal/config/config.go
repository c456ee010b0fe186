// Package config provides configuration management for the ingestor.
// It handles loading, validation, and access to configuration values from
// YAML files and environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/blogsearch/ingestor/internal/logger"
)

// Ingest defaults. Batch size and retry budget are bounded so a single run
// can never hold an unbounded number of documents in flight.
const (
	DefaultBatchSize    = 100
	DefaultRetryLimit   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultConcurrency  = 4
	MaxBatchSize        = 1000
	MaxConcurrency      = 16
)

// Elasticsearch defaults
const (
	DefaultAddress        = "http://127.0.0.1:9200"
	DefaultIndexName      = "articles"
	DefaultAttemptTimeout = 10 * time.Second
)

// Server defaults
const (
	DefaultServerAddress      = ":8080"
	DefaultServerReadTimeout  = 15 * time.Second
	DefaultServerWriteTimeout = 15 * time.Second
)

// DefaultSchedule is the cron expression for the periodic trigger.
const DefaultSchedule = "0 * * * *"

// Config represents the application configuration.
type Config struct {
	// Logger holds logging configuration
	Logger logger.Config `yaml:"logger" mapstructure:"logger"`
	// Ingest holds ingestion pipeline configuration
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	// Spool holds record spool configuration
	Spool SpoolConfig `yaml:"spool" mapstructure:"spool"`
	// Fingerprint holds fingerprint ledger configuration
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
	// Elasticsearch holds index backend configuration
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" mapstructure:"elasticsearch"`
	// Scheduler holds periodic trigger configuration
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	// Server holds HTTP trigger surface configuration
	Server ServerConfig `yaml:"server" mapstructure:"server"`
}

// IngestConfig bounds one ingestion run.
type IngestConfig struct {
	// BatchSize is the maximum number of documents per upsert batch.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// RetryLimit is the maximum attempts per batch, including the first.
	RetryLimit int `yaml:"retry_limit" mapstructure:"retry_limit"`
	// RetryBackoff is the base delay between attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	// Concurrency is the number of batches upserted in parallel.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// SpoolConfig locates pending records.
type SpoolConfig struct {
	// Dir is the directory the crawler drops dated CSV files into.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// FingerprintConfig locates the fingerprint ledger.
type FingerprintConfig struct {
	// Path is the bbolt database file for the ledger.
	Path string `yaml:"path" mapstructure:"path"`
}

// ElasticsearchConfig represents index backend connection settings.
type ElasticsearchConfig struct {
	// Addresses is a list of Elasticsearch node addresses
	Addresses []string `yaml:"addresses" mapstructure:"addresses"`
	// IndexName is the name of the article index
	IndexName string `yaml:"index_name" mapstructure:"index_name"`
	// Username is the username for basic authentication
	Username string `yaml:"username" mapstructure:"username"`
	// Password is the password for basic authentication
	Password string `yaml:"password" mapstructure:"password"`
	// APIKey is the base64 encoded API key for authentication
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// AttemptTimeout bounds each individual backend request.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" mapstructure:"attempt_timeout"`
}

// SchedulerConfig configures the periodic trigger.
type SchedulerConfig struct {
	// Schedule is a standard cron expression.
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Address      string        `yaml:"address" mapstructure:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if c.Spool.Dir == "" {
		return errors.New("spool: dir is required")
	}
	if c.Fingerprint.Path == "" {
		return errors.New("fingerprint: path is required")
	}
	if err := c.Elasticsearch.Validate(); err != nil {
		return fmt.Errorf("elasticsearch: %w", err)
	}
	return nil
}

// Validate checks the ingest bounds.
func (c *IngestConfig) Validate() error {
	if c.BatchSize <= 0 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("batch_size must be in (0, %d], got %d", MaxBatchSize, c.BatchSize)
	}
	if c.RetryLimit <= 0 {
		return fmt.Errorf("retry_limit must be positive, got %d", c.RetryLimit)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry_backoff must be positive, got %s", c.RetryBackoff)
	}
	if c.Concurrency <= 0 || c.Concurrency > MaxConcurrency {
		return fmt.Errorf("concurrency must be in (0, %d], got %d", MaxConcurrency, c.Concurrency)
	}
	return nil
}

// Validate checks the backend connection settings.
func (c *ElasticsearchConfig) Validate() error {
	if len(c.Addresses) == 0 {
		return errors.New("at least one address is required")
	}
	if c.IndexName == "" {
		return errors.New("index_name is required")
	}
	return nil
}

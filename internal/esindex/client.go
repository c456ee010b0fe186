package esindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/blogsearch/ingestor/internal/config"
	"github.com/blogsearch/ingestor/internal/logger"
	"github.com/blogsearch/ingestor/internal/retry"
)

// articleMapping is the index mapping for article documents. Keyword
// subfields keep author/section filterable the way the query API expects.
const articleMapping = `{
  "mappings": {
    "properties": {
      "author":         {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}},
      "article_title":  {"type": "text"},
      "article":        {"type": "text"},
      "url":            {"type": "keyword"},
      "topics":         {"type": "text", "fields": {"keyword": {"type": "keyword", "ignore_above": 256}}},
      "source_section": {"type": "keyword"},
      "published":      {"type": "date"},
      "ingested_at":    {"type": "date"},
      "source_file":    {"type": "keyword"},
      "content_length": {"type": "integer"},
      "word_count":     {"type": "integer"}
    }
  }
}`

// Client is the upsert client over the Elasticsearch backend.
type Client struct {
	client         *es.Client
	index          string
	attemptTimeout time.Duration
	policy         retry.Policy
	logger         logger.Interface
}

// NewClient creates the upsert client from configuration. It does not
// contact the backend; call Ping or EnsureIndex for that.
func NewClient(cfg *config.Config, log logger.Interface) (*Client, error) {
	esCfg := cfg.Elasticsearch
	if len(esCfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch configuration is required")
	}

	clientConfig := es.Config{
		Addresses: esCfg.Addresses,
	}
	if esCfg.APIKey != "" {
		clientConfig.APIKey = esCfg.APIKey
	} else if esCfg.Username != "" && esCfg.Password != "" {
		clientConfig.Username = esCfg.Username
		clientConfig.Password = esCfg.Password
	}

	client, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	attemptTimeout := esCfg.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = config.DefaultAttemptTimeout
	}

	return &Client{
		client:         client,
		index:          esCfg.IndexName,
		attemptTimeout: attemptTimeout,
		policy: retry.Policy{
			MaxAttempts: cfg.Ingest.RetryLimit,
			BaseDelay:   cfg.Ingest.RetryBackoff,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
			IsRetryable: func(err error) bool {
				return errors.Is(err, ErrBackendTransient)
			},
		},
		logger: log.WithComponent("esindex"),
	}, nil
}

// Ping verifies the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	res, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: ping: %v", ErrBackendTransient, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: ping returned %s", ErrBackendTransient, res.Status())
	}
	return nil
}

// EnsureIndex creates the article index with its mapping when absent.
func (c *Client) EnsureIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	res, err := c.client.Indices.Exists(
		[]string{c.index},
		c.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: checking index %s: %v", ErrBackendTransient, c.index, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("checking index %s: unexpected status %s", c.index, res.Status())
	}

	createRes, err := c.client.Indices.Create(
		c.index,
		c.client.Indices.Create.WithBody(strings.NewReader(articleMapping)),
		c.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: creating index %s: %v", ErrBackendTransient, c.index, err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("creating index %s: %s", c.index, createRes.String())
	}

	c.logger.Info("Created article index", "index", c.index)
	return nil
}

// Count returns the number of documents in the article index.
func (c *Client) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	res, err := c.client.Count(
		c.client.Count.WithIndex(c.index),
		c.client.Count.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrBackendTransient, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("count returned %s", res.Status())
	}

	var body struct {
		Count int `json:"count"`
	}
	if decodeErr := json.NewDecoder(res.Body).Decode(&body); decodeErr != nil {
		return 0, fmt.Errorf("decoding count response: %w", decodeErr)
	}
	return body.Count, nil
}

// DeleteAll removes every document from the article index. Used by the
// purge admin command.
func (c *Client) DeleteAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	res, err := c.client.DeleteByQuery(
		[]string{c.index},
		strings.NewReader(`{"query":{"match_all":{}}}`),
		c.client.DeleteByQuery.WithContext(ctx),
		c.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("%w: delete all: %v", ErrBackendTransient, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("delete all returned %s", res.String())
	}
	return nil
}

package esindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/blogsearch/ingestor/internal/retry"
)

// bulkResponse is the subset of the bulk API response the client reads.
type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// UpsertBatch indexes the given documents with create-or-replace
// semantics. Transient failures (connectivity, timeouts, 429/5xx) are
// retried with exponential backoff up to the configured attempt budget;
// documents still failing afterwards are reported failed, never silently
// dropped. Permanent per-document rejections fail immediately without
// retry. The returned error is non-nil only for cancellation; backend
// exhaustion is downgraded to per-document failures.
func (c *Client) UpsertBatch(ctx context.Context, requests []IndexRequest) (*BatchResult, error) {
	if len(requests) == 0 {
		return &BatchResult{}, nil
	}

	outcomes := make(map[string]DocumentResult, len(requests))
	pending := requests

	err := retry.Do(ctx, c.policy, func(attemptCtx context.Context) error {
		stillPending, attemptErr := c.attempt(attemptCtx, pending, outcomes)
		if attemptErr != nil {
			return attemptErr
		}
		pending = stillPending
		if len(pending) > 0 {
			return fmt.Errorf("%w: %d documents pending retry", ErrBackendTransient, len(pending))
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, retry.ErrContextCancelled) {
			return c.collect(requests, outcomes), err
		}
		// Budget exhausted: every still-pending document is reported
		// failed and will be re-sent on the next run.
		for _, req := range pending {
			if _, done := outcomes[req.ID]; !done {
				outcomes[req.ID] = DocumentResult{
					ID:          req.ID,
					Identity:    req.Identity,
					ContentHash: req.ContentHash,
					Failed:      true,
					Reason:      err.Error(),
				}
			}
		}
	}

	return c.collect(requests, outcomes), nil
}

// attempt sends one bulk request for the pending documents and records
// definitive outcomes. It returns the documents that still need a retry.
func (c *Client) attempt(
	ctx context.Context,
	pending []IndexRequest,
	outcomes map[string]DocumentResult,
) ([]IndexRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	body, err := encodeBulkBody(pending)
	if err != nil {
		return nil, err
	}

	res, err := c.client.Bulk(
		bytes.NewReader(body),
		c.client.Bulk.WithIndex(c.index),
		c.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: bulk request: %v", ErrBackendTransient, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, res.Body)
		if isTransientStatus(res.StatusCode) {
			return nil, fmt.Errorf("%w: bulk returned %s", ErrBackendTransient, res.Status())
		}
		return nil, fmt.Errorf("%w: bulk returned %s", ErrBackendPermanent, res.Status())
	}

	var parsed bulkResponse
	if decodeErr := json.NewDecoder(res.Body).Decode(&parsed); decodeErr != nil {
		return nil, fmt.Errorf("%w: decoding bulk response: %v", ErrBackendTransient, decodeErr)
	}
	if len(parsed.Items) != len(pending) {
		return nil, fmt.Errorf("%w: bulk returned %d items for %d documents",
			ErrBackendTransient, len(parsed.Items), len(pending))
	}

	var stillPending []IndexRequest
	for i, item := range parsed.Items {
		req := pending[i]
		result, ok := item["index"]
		if !ok {
			stillPending = append(stillPending, req)
			continue
		}

		switch {
		case result.Status >= 200 && result.Status < 300:
			outcomes[req.ID] = DocumentResult{
				ID:          req.ID,
				Identity:    req.Identity,
				ContentHash: req.ContentHash,
			}
		case isTransientStatus(result.Status):
			stillPending = append(stillPending, req)
		default:
			reason := fmt.Sprintf("status %d", result.Status)
			if result.Error != nil {
				reason = fmt.Sprintf("%s: %s", result.Error.Type, result.Error.Reason)
			}
			c.logger.Warn("Document rejected by backend",
				"identity", req.Identity,
				"status", result.Status,
				"reason", reason,
			)
			outcomes[req.ID] = DocumentResult{
				ID:          req.ID,
				Identity:    req.Identity,
				ContentHash: req.ContentHash,
				Failed:      true,
				Permanent:   true,
				Reason:      reason,
			}
		}
	}

	return stillPending, nil
}

// collect orders the recorded outcomes by the original request order.
func (c *Client) collect(requests []IndexRequest, outcomes map[string]DocumentResult) *BatchResult {
	batch := &BatchResult{Results: make([]DocumentResult, 0, len(requests))}
	for _, req := range requests {
		if outcome, ok := outcomes[req.ID]; ok {
			batch.Results = append(batch.Results, outcome)
			continue
		}
		batch.Results = append(batch.Results, DocumentResult{
			ID:          req.ID,
			Identity:    req.Identity,
			ContentHash: req.ContentHash,
			Failed:      true,
			Reason:      "not attempted",
		})
	}
	return batch
}

// encodeBulkBody builds the newline-delimited bulk request body with one
// index action per document, keyed by the stable document ID.
func encodeBulkBody(requests []IndexRequest) ([]byte, error) {
	var buf bytes.Buffer
	for i := range requests {
		req := &requests[i]
		action := map[string]map[string]string{
			"index": {"_id": req.ID},
		}
		actionLine, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("encoding bulk action for %s: %w", req.Identity, err)
		}
		docLine, err := json.Marshal(&req.Document)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding document %s: %v", ErrBackendPermanent, req.Identity, err)
		}
		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

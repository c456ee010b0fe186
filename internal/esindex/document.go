// Package esindex provides the Elasticsearch upsert client. Every write
// is a create-or-replace keyed by the article's stable document ID, so
// re-sending a document is always safe.
package esindex

import (
	"time"

	"github.com/blogsearch/ingestor/internal/domain"
)

// Document is the indexable representation of an article. Field names
// match the article index schema served by the query API.
type Document struct {
	Author        string `json:"author,omitempty"`
	ArticleTitle  string `json:"article_title"`
	Article       string `json:"article"`
	URL           string `json:"url"`
	Topics        string `json:"topics,omitempty"`
	SourceSection string `json:"source_section,omitempty"`
	Published     string `json:"published,omitempty"`
	IngestedAt    string `json:"ingested_at"`
	SourceFile    string `json:"source_file,omitempty"`
	ContentLength int    `json:"content_length"`
	WordCount     int    `json:"word_count"`
}

// IndexRequest pairs a document with its identity and content hash so the
// caller can account for per-document results.
type IndexRequest struct {
	// ID is the backend document ID (create-or-replace key).
	ID string
	// Identity is the article's stable identity.
	Identity string
	// ContentHash is the hash the caller will commit on confirmed success.
	ContentHash string
	// Document is the indexable payload.
	Document Document
}

// NewIndexRequest builds the index request for a cleaned article record.
func NewIndexRequest(record *domain.ArticleRecord) IndexRequest {
	doc := Document{
		Author:        record.Author,
		ArticleTitle:  record.Title,
		Article:       record.Body,
		URL:           record.Identity,
		Topics:        record.TopicsString(),
		SourceSection: record.Section,
		IngestedAt:    time.Now().UTC().Format(time.RFC3339),
		SourceFile:    record.SourceFile,
		ContentLength: record.ContentLength,
		WordCount:     record.WordCount,
	}
	if !record.Published.IsZero() {
		doc.Published = record.Published.UTC().Format(time.RFC3339)
	}

	return IndexRequest{
		ID:          record.DocumentID(),
		Identity:    record.Identity,
		ContentHash: record.ContentHash(),
		Document:    doc,
	}
}

// DocumentResult reports the outcome for one document in a batch.
type DocumentResult struct {
	ID          string
	Identity    string
	ContentHash string
	// Failed is set when the document could not be indexed.
	Failed bool
	// Reason describes the failure.
	Reason string
	// Permanent marks failures that retrying cannot fix.
	Permanent bool
}

// BatchResult reports the per-document outcomes of one upsert batch.
type BatchResult struct {
	Results []DocumentResult
}

// SucceededCount returns the number of confirmed documents.
func (r *BatchResult) SucceededCount() int {
	count := 0
	for i := range r.Results {
		if !r.Results[i].Failed {
			count++
		}
	}
	return count
}

// FailedCount returns the number of failed documents.
func (r *BatchResult) FailedCount() int {
	return len(r.Results) - r.SucceededCount()
}

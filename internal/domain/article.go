// Package domain provides domain models used across the application.
package domain

import (
	"crypto/md5" //nolint:gosec // document IDs only, not security sensitive
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// MaxBodyLength caps article bodies before indexing. Longer bodies are
// truncated and marked with TruncationSuffix.
const MaxBodyLength = 10000

// TruncationSuffix is appended to bodies cut at MaxBodyLength.
const TruncationSuffix = "... [truncated]"

// ErrEmptyIdentity is returned when a record carries no identity.
var ErrEmptyIdentity = errors.New("article record has empty identity")

// ErrMissingTitle is returned when a record carries no title.
var ErrMissingTitle = errors.New("article record has no title")

// ArticleRecord is one scraped article as read from the spool. Identity is
// the canonical source URL and never changes; two records with the same
// identity are the same logical article at different points in time.
type ArticleRecord struct {
	// Identity is the stable unique key for the article (canonical URL).
	Identity string `json:"identity" mapstructure:"identity"`
	// Title of the article
	Title string `json:"title" mapstructure:"title"`
	// Body is the main article text
	Body string `json:"body" mapstructure:"body"`
	// Author of the article
	Author string `json:"author,omitempty" mapstructure:"author"`
	// Topics or categories attached to the article
	Topics []string `json:"topics,omitempty" mapstructure:"topics"`
	// Section of the source site the article was scraped from
	Section string `json:"section,omitempty" mapstructure:"section"`
	// Published is when the source published the article
	Published time.Time `json:"published,omitempty" mapstructure:"published"`
	// SourceFile is the spool file the record was read from
	SourceFile string `json:"source_file,omitempty" mapstructure:"source_file"`
	// CollectedAt is when the crawler captured the record
	CollectedAt time.Time `json:"collected_at" mapstructure:"collected_at"`
	// WordCount of the body after cleaning
	WordCount int `json:"word_count" mapstructure:"word_count"`
	// ContentLength of the body in bytes after cleaning
	ContentLength int `json:"content_length" mapstructure:"content_length"`
}

// Validate checks that the record can be ingested.
func (r *ArticleRecord) Validate() error {
	if strings.TrimSpace(r.Identity) == "" {
		return ErrEmptyIdentity
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrMissingTitle
	}
	return nil
}

// Normalize cleans the record in place: trims string fields, truncates
// over-long bodies and recomputes the derived counters.
func (r *ArticleRecord) Normalize() {
	r.Identity = strings.TrimSpace(r.Identity)
	r.Title = strings.TrimSpace(r.Title)
	r.Body = strings.TrimSpace(r.Body)
	r.Author = strings.TrimSpace(r.Author)
	r.Section = strings.TrimSpace(r.Section)
	r.Topics = normalizeStringArray(r.Topics)

	if len(r.Body) > MaxBodyLength {
		r.Body = r.Body[:MaxBodyLength] + TruncationSuffix
	}

	r.ContentLength = len(r.Body)
	r.WordCount = len(strings.Fields(r.Body))
}

// ContentHash returns the hex-encoded SHA-256 over the indexable fields.
// The field order is fixed; equal payloads always hash equal, so the hash
// is the sole source of truth for "changed".
func (r *ArticleRecord) ContentHash() string {
	h := sha256.New()
	sep := []byte{0}

	h.Write([]byte(r.Identity))
	h.Write(sep)
	h.Write([]byte(r.Title))
	h.Write(sep)
	h.Write([]byte(r.Body))
	h.Write(sep)
	h.Write([]byte(r.Author))
	h.Write(sep)
	h.Write([]byte(strings.Join(r.Topics, "|")))
	h.Write(sep)
	h.Write([]byte(r.Section))
	h.Write(sep)
	if !r.Published.IsZero() {
		h.Write([]byte(strconv.FormatInt(r.Published.UTC().Unix(), 10)))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// DocumentID returns the stable backend document ID derived from the
// identity. Re-sending the same identity always targets the same document.
func (r *ArticleRecord) DocumentID() string {
	sum := md5.Sum([]byte(r.Identity)) //nolint:gosec // stable ID, not auth
	return hex.EncodeToString(sum[:])
}

// TopicsString returns topics as a pipe-separated string, matching the
// spool file representation.
func (r *ArticleRecord) TopicsString() string {
	if len(r.Topics) == 0 {
		return ""
	}
	return strings.Join(r.Topics, "|")
}

// normalizeStringArray removes empty items, deduplicates, and returns nil if empty.
func normalizeStringArray(arr []string) []string {
	if len(arr) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	cleaned := make([]string, 0, len(arr))
	for _, item := range arr {
		item = strings.TrimSpace(item)
		if item != "" && !seen[item] {
			seen[item] = true
			cleaned = append(cleaned, item)
		}
	}

	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

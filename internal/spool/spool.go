// Package spool reads pending article records from the crawler's CSV
// spool directory. The crawler appends dated CSV files; the ingestor only
// ever reads them, so the spool behaves as an append-only holding area.
package spool

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/blogsearch/ingestor/internal/domain"
	"github.com/blogsearch/ingestor/internal/logger"
)

// ErrStoreUnavailable is returned when the spool directory or one of its
// files cannot be read. Fatal for the ingestion run.
var ErrStoreUnavailable = errors.New("record store unavailable")

// datedFilePattern matches the YYYY-MM-DD datestamp the crawler puts in
// spool file names. Files without a datestamp are work in progress or
// scratch output and are never consumed.
var datedFilePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Published date layouts emitted by the crawler, most specific first.
var publishedLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// Reader reads pending records from a spool directory.
type Reader struct {
	dir    string
	logger logger.Interface
}

// ReadResult is the outcome of one spool read.
type ReadResult struct {
	// Records are the cleaned, valid records, in file order.
	Records []domain.ArticleRecord
	// InvalidCount is the number of rows dropped during cleaning.
	InvalidCount int
	// Files is the list of spool files that contributed records.
	Files []string
}

// NewReader creates a spool reader over dir.
func NewReader(dir string, log logger.Interface) *Reader {
	return &Reader{dir: dir, logger: log}
}

// ListPending reads every currently present dated spool file and returns
// the cleaned records. The read is restartable: it never mutates the
// spool, so a crashed run simply reads the same files again.
func (r *Reader) ListPending(ctx context.Context) (*ReadResult, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading spool dir %s: %v", ErrStoreUnavailable, r.dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".csv") || !datedFilePattern.MatchString(name) {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)

	result := &ReadResult{}
	for _, name := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		path := filepath.Join(r.dir, name)
		records, invalid, readErr := r.readFile(path, name)
		if readErr != nil {
			return nil, readErr
		}

		result.Records = append(result.Records, records...)
		result.InvalidCount += invalid
		result.Files = append(result.Files, name)

		r.logger.Debug("Read spool file",
			"file", name,
			"records", len(records),
			"invalid", invalid,
		)
	}

	return result, nil
}

// Healthy reports whether the spool directory is readable.
func (r *Reader) Healthy() error {
	if _, err := os.ReadDir(r.dir); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// readFile parses one spool CSV file. Opening or reading the file failing
// is fatal; a malformed row is dropped and counted.
func (r *Reader) readFile(path, name string) ([]domain.ArticleRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: opening %s: %v", ErrStoreUnavailable, name, err)
	}
	defer f.Close()

	collectedAt := time.Now().UTC()
	if info, statErr := f.Stat(); statErr == nil {
		collectedAt = info.ModTime().UTC()
	}

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("%w: reading header of %s: %v", ErrStoreUnavailable, name, err)
	}
	columns := indexColumns(header)

	var records []domain.ArticleRecord
	invalid := 0
	for {
		row, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			var parseErr *csv.ParseError
			if errors.As(readErr, &parseErr) {
				invalid++
				r.logger.Warn("Skipping malformed spool row",
					"file", name,
					"line", parseErr.Line,
					"error", parseErr.Err.Error(),
				)
				continue
			}
			return nil, invalid, fmt.Errorf("%w: reading %s: %v", ErrStoreUnavailable, name, readErr)
		}

		record := buildRecord(row, columns, name, collectedAt)
		if validateErr := record.Validate(); validateErr != nil {
			invalid++
			r.logger.Warn("Skipping invalid spool row",
				"file", name,
				"identity", record.Identity,
				"error", validateErr.Error(),
			)
			continue
		}
		records = append(records, record)
	}

	return records, invalid, nil
}

// indexColumns maps normalized header names to column positions.
func indexColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return columns
}

// buildRecord converts one CSV row to a cleaned ArticleRecord.
func buildRecord(row []string, columns map[string]int, sourceFile string, collectedAt time.Time) domain.ArticleRecord {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	record := domain.ArticleRecord{
		Identity:    field("url"),
		Title:       field("article_title"),
		Body:        field("article"),
		Author:      field("author"),
		Section:     field("source_section"),
		Published:   parsePublished(field("published")),
		SourceFile:  sourceFile,
		CollectedAt: collectedAt,
	}
	if topics := strings.TrimSpace(field("topics")); topics != "" {
		record.Topics = strings.Split(topics, "|")
	}
	record.Normalize()
	return record
}

// parsePublished parses the crawler's published formats; an unparseable
// date yields the zero time rather than dropping the record.
func parsePublished(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

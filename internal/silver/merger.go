package silver

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/f1data/silverpipe/internal/transform"
)

// ErrWriteFailure marks a segment write that left no durable output. The
// previously committed segment, if any, is untouched.
var ErrWriteFailure = errors.New("segment write failure")

// MergeResult describes a completed segment write.
type MergeResult struct {
	// RowsWritten is the number of clean records in the sealed segment.
	RowsWritten int64
	// Checksum is the SHA-256 hex digest of the canonical record encoding.
	Checksum string
	// NullCounts maps column name to the number of null values written.
	NullCounts map[string]int64
}

// Merger writes partition segments into a Store.
type Merger struct {
	store *Store
}

// NewMerger creates a merger over the given store.
func NewMerger(store *Store) *Merger {
	return &Merger{store: store}
}

// Merge writes records as the (dataset, year) segment. The write is atomic:
// records go to a uniquely named temp file in the segment directory, which
// replaces the final path only after a successful seal. A crash at any point
// leaves either the old segment or no segment, never a partial one.
func (m *Merger) Merge(schema transform.Schema, year int, records []transform.CleanRecord) (MergeResult, error) {
	final := m.store.SegmentPath(schema.Dataset, year)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return MergeResult{}, fmt.Errorf("%w: create segment dir: %v", ErrWriteFailure, err)
	}

	checksum := Checksum(records)
	tmp := fmt.Sprintf("%s.tmp.%s", final, uuid.New().String()[:8])

	if _, err := writeSegment(tmp, schema, year, records, checksum); err != nil {
		os.Remove(tmp)
		return MergeResult{}, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return MergeResult{}, fmt.Errorf("%w: seal segment: %v", ErrWriteFailure, err)
	}

	return MergeResult{
		RowsWritten: int64(len(records)),
		Checksum:    checksum,
		NullCounts:  countNulls(schema, records),
	}, nil
}

// Checksum returns the SHA-256 hex digest of the canonical encoding of
// records. The digest depends only on cleaned content and record order, so
// reprocessing identical input yields an identical checksum.
func Checksum(records []transform.CleanRecord) string {
	h := sha256.New()
	var b strings.Builder
	for _, rec := range records {
		b.Reset()
		rec.Encode(&b)
		h.Write([]byte(b.String()))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

func countNulls(schema transform.Schema, records []transform.CleanRecord) map[string]int64 {
	counts := make(map[string]int64, len(schema.Columns))
	for _, col := range schema.Columns {
		counts[col.Name] = 0
	}
	for _, rec := range records {
		for i, v := range rec {
			if v.IsNull() {
				counts[schema.Columns[i].Name]++
			}
		}
	}
	return counts
}

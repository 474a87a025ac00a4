// Package quality checks merged partitions against row-count and null-rate
// expectations. Findings are warnings: they are reported and recorded but
// never block a commit, except for a structurally empty result.
package quality

import (
	"errors"
	"fmt"
	"math"

	"github.com/f1data/silverpipe/internal/silver"
	"github.com/f1data/silverpipe/internal/transform"
)

// ErrEmptyResult marks a merge that produced zero rows from a non-empty
// source partition. That is a structural failure, not a data-quality
// finding, and the partition must not commit.
var ErrEmptyResult = errors.New("merge produced no rows from non-empty source")

// Outcome is the validation verdict for one partition.
type Outcome struct {
	// OK is false only for structural failures.
	OK bool
	// Warnings lists non-blocking findings.
	Warnings []string
}

// ThresholdFunc returns the maximum acceptable null rate for a column.
type ThresholdFunc func(dataset, column string) float64

// Validator applies post-merge checks.
type Validator struct {
	rowCountTolerance float64
	threshold         ThresholdFunc
}

// New creates a validator. rowCountTolerance is the acceptable relative
// difference between source rows and written-plus-rejected rows.
func New(rowCountTolerance float64, threshold ThresholdFunc) *Validator {
	return &Validator{rowCountTolerance: rowCountTolerance, threshold: threshold}
}

// Validate checks one merged partition. sourceRows is the catalog's row
// count hint; rejected is the count of structurally malformed rows skipped
// by the transformer.
func (v *Validator) Validate(schema transform.Schema, year int, sourceRows int64, res silver.MergeResult, rejected int64) (Outcome, error) {
	if sourceRows > 0 && res.RowsWritten == 0 {
		return Outcome{}, fmt.Errorf("%s year %d: %w (%d source rows)", schema.Dataset, year, ErrEmptyResult, sourceRows)
	}

	out := Outcome{OK: true}

	if sourceRows > 0 {
		accounted := res.RowsWritten + rejected
		diff := math.Abs(float64(accounted-sourceRows)) / float64(sourceRows)
		if diff > v.rowCountTolerance {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"row count mismatch: source %d, written %d, rejected %d (%.1f%% off)",
				sourceRows, res.RowsWritten, rejected, diff*100))
		}
	}

	if res.RowsWritten > 0 {
		for _, col := range schema.CriticalColumns() {
			nulls := res.NullCounts[col]
			rate := float64(nulls) / float64(res.RowsWritten)
			if limit := v.threshold(schema.Dataset, col); rate > limit {
				out.Warnings = append(out.Warnings, fmt.Sprintf(
					"column %s null rate %.1f%% exceeds %.1f%% (%d of %d rows)",
					col, rate*100, limit*100, nulls, res.RowsWritten))
			}
		}
	}

	return out, nil
}

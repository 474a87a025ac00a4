package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// KeyOutcome is the result of processing one partition.
type KeyOutcome struct {
	Key         int      `json:"key"`
	Status      string   `json:"status"` // committed, failed, skipped
	RowsWritten int64    `json:"rows_written"`
	RowsSource  int64    `json:"rows_source"`
	Rejected    int64    `json:"rejected,omitempty"`
	Checksum    string   `json:"checksum,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Error       string   `json:"error,omitempty"`
	Duration    float64  `json:"duration_seconds"`
}

// DatasetReport groups the outcomes of one dataset.
type DatasetReport struct {
	Dataset  string       `json:"dataset"`
	Planned  int          `json:"planned"`
	Outcomes []KeyOutcome `json:"outcomes"`
}

// RunReport is the full result of one pipeline run.
type RunReport struct {
	RunID       string          `json:"run_id"`
	Mode        string          `json:"mode"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Datasets    []DatasetReport `json:"datasets"`
}

// Committed returns the count of committed partitions.
func (r *RunReport) Committed() int {
	return r.countStatus("committed")
}

// Failed returns the count of failed partitions.
func (r *RunReport) Failed() int {
	return r.countStatus("failed")
}

func (r *RunReport) countStatus(status string) int {
	n := 0
	for _, d := range r.Datasets {
		for _, o := range d.Outcomes {
			if o.Status == status {
				n++
			}
		}
	}
	return n
}

// TotalRows returns the total rows written across all partitions.
func (r *RunReport) TotalRows() int64 {
	var n int64
	for _, d := range r.Datasets {
		for _, o := range d.Outcomes {
			n += o.RowsWritten
		}
	}
	return n
}

// FailureRefs returns "dataset/year" strings for every failed partition.
func (r *RunReport) FailureRefs() []string {
	var refs []string
	for _, d := range r.Datasets {
		for _, o := range d.Outcomes {
			if o.Status == "failed" {
				refs = append(refs, fmt.Sprintf("%s/%d", d.Dataset, o.Key))
			}
		}
	}
	return refs
}

// WriteJSON writes the report as indented JSON.
func (r *RunReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

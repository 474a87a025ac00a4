// Package state persists which partitions have been committed to the silver
// store. It is the single source of truth for incremental planning: losing or
// guessing this record would cause duplicate appends, so a malformed store is
// a fatal error, never an empty one.
package state

import (
	"errors"
	"fmt"
	"time"
)

// ErrCorruptState indicates the persisted state record is unreadable or
// malformed. The engine must refuse to proceed rather than treat all
// partitions as new.
var ErrCorruptState = errors.New("corrupt state")

// Status is the lifecycle state of one partition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Ref identifies one partition of one dataset.
type Ref struct {
	Dataset string
	Key     int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%d", r.Dataset, r.Key)
}

// PartitionState is the durable per-partition record.
type PartitionState struct {
	Dataset     string
	Key         int
	Status      Status
	RowCount    int64
	Checksum    string
	CommittedAt time.Time
	Error       string
}

// Store is the durable state backend. Implementations must serialize
// mutations internally: commits for different keys may arrive concurrently
// and must never clobber one another. Every mutation is persisted atomically
// (all-or-nothing) before the call returns.
type Store interface {
	// Load returns the full partition state mapping. A missing store is an
	// empty mapping; an unreadable or malformed one is ErrCorruptState.
	Load() (map[Ref]PartitionState, error)

	// Commit atomically marks a partition committed with its row count and
	// checksum, and persists the updated mapping.
	Commit(ref Ref, rowCount int64, checksum string) error

	// MarkFailed records a failed attempt without advancing to committed,
	// leaving the key eligible for retry on the next run.
	MarkFailed(ref Ref, reason string) error

	// MarkPending demotes a partition to pending, discarding any committed
	// record. A forced reload marks the key pending before removing its
	// segment, so a crash before the recommit still leaves the key selected
	// by the next incremental run.
	MarkPending(ref Ref) error

	// Reset removes a partition's entry entirely.
	Reset(ref Ref) error

	Close() error
}

// Run is one engine invocation, recorded for history.
type Run struct {
	ID          string
	Mode        string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Error       string
}

// HistoryStore extends Store with run history. Only the SQLite backend
// implements this; the YAML file backend tracks partitions only.
type HistoryStore interface {
	Store

	CreateRun(id, mode string) error
	CompleteRun(id, status, errMsg string) error
	ListRuns() ([]Run, error)
}

// MaxCommittedKey returns the highest committed key for a dataset, or
// (0, false) when nothing is committed.
func MaxCommittedKey(states map[Ref]PartitionState, dataset string) (int, bool) {
	maxKey, found := 0, false
	for ref, ps := range states {
		if ref.Dataset != dataset || ps.Status != StatusCommitted {
			continue
		}
		if !found || ref.Key > maxKey {
			maxKey = ref.Key
			found = true
		}
	}
	return maxKey, found
}

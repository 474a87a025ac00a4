// Package planner decides which yearly partitions to process this run.
package planner

import (
	"sort"

	"github.com/f1data/silverpipe/internal/catalog"
	"github.com/f1data/silverpipe/internal/state"
)

// Mode selects the partition selection policy.
type Mode string

const (
	// ModeInitial selects all catalog keys up to the bootstrap cutoff that
	// are not already committed.
	ModeInitial Mode = "initial"

	// ModeIncremental selects keys strictly newer than the maximum committed
	// key, plus previously attempted keys that never committed. The default
	// steady-state mode.
	ModeIncremental Mode = "incremental"
)

// Planner computes the processing plan for one dataset.
type Planner struct {
	initialLoadYear int
}

// New creates a planner with the given bootstrap cutoff year.
func New(initialLoadYear int) *Planner {
	return &Planner{initialLoadYear: initialLoadYear}
}

// Plan returns the partitions to process, ascending by key. A committed key
// is never selected unless it appears in force; an empty plan is success.
func (p *Planner) Plan(dataset string, available []catalog.Partition, states map[state.Ref]state.PartitionState, mode Mode, force []int) []catalog.Partition {
	forced := make(map[int]bool, len(force))
	for _, key := range force {
		forced[key] = true
	}

	maxCommitted, hasCommitted := state.MaxCommittedKey(states, dataset)

	var plan []catalog.Partition
	for _, part := range available {
		ps, tracked := states[state.Ref{Dataset: dataset, Key: part.Key}]
		committed := tracked && ps.Status == state.StatusCommitted

		if forced[part.Key] {
			plan = append(plan, part)
			continue
		}
		if committed {
			continue
		}

		switch mode {
		case ModeInitial:
			if part.Key <= p.initialLoadYear {
				plan = append(plan, part)
			}
		case ModeIncremental:
			// New keys beyond the high-water mark, and earlier keys whose
			// previous attempt never committed (pending/failed retries).
			if !hasCommitted || part.Key > maxCommitted || tracked {
				plan = append(plan, part)
			}
		}
	}

	sort.Slice(plan, func(i, j int) bool { return plan[i].Key < plan[j].Key })
	return plan
}

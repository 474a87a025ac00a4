// Package stats aggregates per-stage timing for a pipeline run.
package stats

import (
	"fmt"
	"sync"
	"time"
)

// StageTimings accumulates wall time spent in each processing stage of a
// dataset across its partitions.
type StageTimings struct {
	Read      time.Duration
	Transform time.Duration
	Merge     time.Duration
	Validate  time.Duration
}

// Total returns the summed stage time.
func (s StageTimings) Total() time.Duration {
	return s.Read + s.Transform + s.Merge + s.Validate
}

// String returns a formatted string for logging stage timings.
func (s StageTimings) String() string {
	return fmt.Sprintf("read %s, transform %s, merge %s, validate %s",
		s.Read.Round(time.Millisecond), s.Transform.Round(time.Millisecond),
		s.Merge.Round(time.Millisecond), s.Validate.Round(time.Millisecond))
}

// Collector accumulates stage timings per dataset. Safe for concurrent use
// by partition workers.
type Collector struct {
	mu       sync.Mutex
	datasets map[string]*StageTimings
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{datasets: make(map[string]*StageTimings)}
}

// AddRead records read time for a dataset.
func (c *Collector) AddRead(dataset string, d time.Duration) {
	c.add(dataset, func(s *StageTimings) { s.Read += d })
}

// AddTransform records transform time for a dataset.
func (c *Collector) AddTransform(dataset string, d time.Duration) {
	c.add(dataset, func(s *StageTimings) { s.Transform += d })
}

// AddMerge records merge time for a dataset.
func (c *Collector) AddMerge(dataset string, d time.Duration) {
	c.add(dataset, func(s *StageTimings) { s.Merge += d })
}

// AddValidate records validation time for a dataset.
func (c *Collector) AddValidate(dataset string, d time.Duration) {
	c.add(dataset, func(s *StageTimings) { s.Validate += d })
}

func (c *Collector) add(dataset string, fn func(*StageTimings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.datasets[dataset]
	if !ok {
		s = &StageTimings{}
		c.datasets[dataset] = s
	}
	fn(s)
}

// Timings returns a copy of the accumulated timings per dataset.
func (c *Collector) Timings() map[string]StageTimings {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]StageTimings, len(c.datasets))
	for name, s := range c.datasets {
		out[name] = *s
	}
	return out
}

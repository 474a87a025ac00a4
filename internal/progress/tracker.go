package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/f1data/silverpipe/internal/logging"
)

// Tracker tracks row progress across all partitions of a run
type Tracker struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   atomic.Int64
	startTime time.Time

	// Track active datasets for accurate display
	mu     sync.Mutex
	active map[string]int // dataset name -> in-flight partition count
}

// New creates a new progress tracker
func New() *Tracker {
	return &Tracker{
		startTime: time.Now(),
		active:    make(map[string]int),
	}
}

// SetTotal sets the total number of source rows planned for this run
func (t *Tracker) SetTotal(total int64) {
	t.total = total
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add increments the processed row counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// StartPartition marks a dataset partition as actively processing
func (t *Tracker) StartPartition(dataset string) {
	t.mu.Lock()
	t.active[dataset]++
	count := len(t.active)
	t.mu.Unlock()

	if t.bar != nil {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Processing %s", dataset))
		} else {
			t.bar.Describe(fmt.Sprintf("Processing (%d datasets)", count))
		}
		t.bar.RenderBlank()
	}
}

// EndPartition marks a dataset partition as done
func (t *Tracker) EndPartition(dataset string) {
	t.mu.Lock()
	t.active[dataset]--
	if t.active[dataset] <= 0 {
		delete(t.active, dataset)
	}
	count := len(t.active)
	var remaining string
	for name := range t.active {
		remaining = name
		break
	}
	t.mu.Unlock()

	if t.bar != nil && count > 0 {
		if count == 1 {
			t.bar.Describe(fmt.Sprintf("Processing %s", remaining))
		} else {
			t.bar.Describe(fmt.Sprintf("Processing (%d datasets)", count))
		}
	}
}

// Current returns the current processed row count
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish marks the progress as complete
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()

	fmt.Println()
	logging.Info("Run complete: %d rows in %s (%.0f rows/sec)",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}

// Package catalog enumerates the yearly bronze partitions available for
// processing. The bronze layer is read-only input: one directory per fact
// dataset, one CSV file per year, named year=<YYYY>.csv.
package catalog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/f1data/silverpipe/internal/logging"
)

// ErrSourceUnavailable indicates the bronze layer cannot be enumerated at
// all. This is fatal: without a catalog no plan is possible.
var ErrSourceUnavailable = errors.New("source unavailable")

// Partition is one yearly bronze partition of a dataset.
type Partition struct {
	Key          int    // partition key, the year
	Path         string // absolute or config-relative CSV path
	RowCountHint int64  // data rows (header excluded)
}

// Catalog lists yearly partitions under a bronze root.
type Catalog struct {
	bronzePath string
	startYear  int
}

// New creates a catalog over the given bronze root directory.
func New(bronzePath string, startYear int) *Catalog {
	return &Catalog{bronzePath: bronzePath, startYear: startYear}
}

// List returns the available partitions for a dataset in ascending key order.
// It fails with ErrSourceUnavailable when the dataset directory cannot be
// read; files that do not follow the year=<YYYY>.csv convention are skipped
// with a warning rather than failing the whole enumeration.
func (c *Catalog) List(dataset string) ([]Partition, error) {
	dir := filepath.Join(c.bronzePath, dataset)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerating bronze dataset %s: %v", ErrSourceUnavailable, dataset, err)
	}

	maxYear := time.Now().Year() + 1
	var parts []Partition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, ok := parseKey(entry.Name())
		if !ok {
			logging.Debug("catalog: skipping %s/%s (not a year partition)", dataset, entry.Name())
			continue
		}
		if key < c.startYear || key > maxYear {
			logging.Warn("catalog: skipping %s/%s (year %d outside [%d, %d])",
				dataset, entry.Name(), key, c.startYear, maxYear)
			continue
		}

		path := filepath.Join(dir, entry.Name())
		hint, err := countDataRows(path)
		if err != nil {
			return nil, fmt.Errorf("%w: reading bronze partition %s: %v", ErrSourceUnavailable, path, err)
		}

		parts = append(parts, Partition{Key: key, Path: path, RowCountHint: hint})
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].Key < parts[j].Key })
	return parts, nil
}

// parseKey extracts the year from a file name of the form year=<YYYY>.csv.
func parseKey(name string) (int, bool) {
	if !strings.HasPrefix(name, "year=") || !strings.HasSuffix(name, ".csv") {
		return 0, false
	}
	y := strings.TrimSuffix(strings.TrimPrefix(name, "year="), ".csv")
	if len(y) != 4 {
		return 0, false
	}
	key, err := strconv.Atoi(y)
	if err != nil {
		return 0, false
	}
	return key, true
}

// countDataRows counts non-empty lines after the header. Quoted newlines do
// not occur in bronze output, so plain line counting is an exact hint.
func countDataRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var count int64
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

package silver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Store locates and manages segment files under the silver root.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the silver root directory.
func (s *Store) Root() string {
	return s.root
}

// SegmentPath returns the final path of the (dataset, year) segment.
func (s *Store) SegmentPath(dataset string, year int) string {
	return filepath.Join(s.root, dataset, fmt.Sprintf("year=%d.seg.db", year))
}

// Exists reports whether a sealed segment is present for (dataset, year).
func (s *Store) Exists(dataset string, year int) bool {
	_, err := os.Stat(s.SegmentPath(dataset, year))
	return err == nil
}

// Remove deletes a sealed segment, used before a forced reload. Removing a
// segment that does not exist is not an error.
func (s *Store) Remove(dataset string, year int) error {
	err := os.Remove(s.SegmentPath(dataset, year))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove segment %s/%d: %w", dataset, year, err)
	}
	return nil
}

// Years lists the years with a sealed segment for a dataset, ascending.
func (s *Store) Years(dataset string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dataset))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list segments for %s: %w", dataset, err)
	}

	var years []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "year=") || !strings.HasSuffix(name, ".seg.db") {
			continue
		}
		y, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "year="), ".seg.db"))
		if err != nil {
			continue
		}
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// SweepTemp removes leftover in-flight segment files from interrupted runs.
// Temp files are never referenced by state, so removing them is always safe.
func (s *Store) SweepTemp() (int, error) {
	removed := 0
	datasets, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("sweep silver root: %w", err)
	}

	for _, d := range datasets {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, d.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if strings.Contains(e.Name(), ".seg.db.tmp.") {
				if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}

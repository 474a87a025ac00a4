package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileStore implements Store using a single human-inspectable YAML file.
// Designed for Airflow and headless environments where SQLite is impractical.
// Every mutation rewrites the document to a temp file in the same directory
// and renames it over the old one, so a crash mid-write never leaves a
// partially written state file.
type FileStore struct {
	path string
	mu   sync.Mutex
	doc  *fileStateDoc
}

// fileStateDoc is the YAML structure of the state file.
type fileStateDoc struct {
	UpdatedAt time.Time                  `yaml:"updated_at"`
	Datasets  map[string]map[int]fsEntry `yaml:"datasets"`
}

type fsEntry struct {
	Status      Status     `yaml:"status"`
	RowCount    int64      `yaml:"row_count"`
	Checksum    string     `yaml:"checksum,omitempty"`
	CommittedAt *time.Time `yaml:"committed_at,omitempty"`
	Error       string     `yaml:"error,omitempty"`
}

// NewFileStore opens a file-based state store, loading existing state when
// the file exists. A present but malformed file is ErrCorruptState.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		doc: &fileStateDoc{
			Datasets: make(map[string]map[int]fsEntry),
		},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading state file %s: %v", ErrCorruptState, path, err)
	}
	if err := yaml.Unmarshal(data, fs.doc); err != nil {
		return nil, fmt.Errorf("%w: parsing state file %s: %v", ErrCorruptState, path, err)
	}
	if fs.doc.Datasets == nil {
		fs.doc.Datasets = make(map[string]map[int]fsEntry)
	}
	for dataset, parts := range fs.doc.Datasets {
		for year, e := range parts {
			if err := checkEntry(e); err != nil {
				return nil, fmt.Errorf("%w: state file %s: %s/%d: %v", ErrCorruptState, path, dataset, year, err)
			}
		}
	}

	return fs, nil
}

func checkEntry(e fsEntry) error {
	switch e.Status {
	case StatusPending, StatusCommitted, StatusFailed:
	default:
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.Status == StatusCommitted && e.Checksum == "" {
		return fmt.Errorf("committed entry without checksum")
	}
	if e.RowCount < 0 {
		return fmt.Errorf("negative row count %d", e.RowCount)
	}
	return nil
}

// save writes the document to a temp file and renames it into place.
// Callers must hold fs.mu.
func (fs *FileStore) save() error {
	fs.doc.UpdatedAt = time.Now().UTC()

	data, err := yaml.Marshal(fs.doc)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(fs.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, fs.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Load returns the full partition state mapping.
func (fs *FileStore) Load() (map[Ref]PartitionState, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make(map[Ref]PartitionState)
	for dataset, parts := range fs.doc.Datasets {
		for year, e := range parts {
			ps := PartitionState{
				Dataset:  dataset,
				Key:      year,
				Status:   e.Status,
				RowCount: e.RowCount,
				Checksum: e.Checksum,
				Error:    e.Error,
			}
			if e.CommittedAt != nil {
				ps.CommittedAt = *e.CommittedAt
			}
			out[Ref{Dataset: dataset, Key: year}] = ps
		}
	}
	return out, nil
}

// Commit atomically marks a partition committed.
func (fs *FileStore) Commit(ref Ref, rowCount int64, checksum string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now().UTC()
	fs.entry(ref.Dataset)[ref.Key] = fsEntry{
		Status:      StatusCommitted,
		RowCount:    rowCount,
		Checksum:    checksum,
		CommittedAt: &now,
	}
	return fs.save()
}

// MarkFailed records a failed attempt; the key stays retryable.
func (fs *FileStore) MarkFailed(ref Ref, reason string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev := fs.entry(ref.Dataset)[ref.Key]
	fs.entry(ref.Dataset)[ref.Key] = fsEntry{
		Status:   StatusFailed,
		RowCount: prev.RowCount,
		Error:    reason,
	}
	return fs.save()
}

// MarkPending demotes a partition to pending, discarding any committed
// record.
func (fs *FileStore) MarkPending(ref Ref) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.entry(ref.Dataset)[ref.Key] = fsEntry{Status: StatusPending}
	return fs.save()
}

// Reset removes a partition's entry.
func (fs *FileStore) Reset(ref Ref) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parts, ok := fs.doc.Datasets[ref.Dataset]
	if !ok {
		return nil
	}
	if _, ok := parts[ref.Key]; !ok {
		return nil
	}
	delete(parts, ref.Key)
	if len(parts) == 0 {
		delete(fs.doc.Datasets, ref.Dataset)
	}
	return fs.save()
}

// Close is a no-op for file state.
func (fs *FileStore) Close() error {
	return nil
}

// Path returns the state file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// CommittedKeys returns the committed keys of a dataset in ascending order.
func (fs *FileStore) CommittedKeys(dataset string) []int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var keys []int
	for year, e := range fs.doc.Datasets[dataset] {
		if e.Status == StatusCommitted {
			keys = append(keys, year)
		}
	}
	sort.Ints(keys)
	return keys
}

func (fs *FileStore) entry(dataset string) map[int]fsEntry {
	parts, ok := fs.doc.Datasets[dataset]
	if !ok {
		parts = make(map[int]fsEntry)
		fs.doc.Datasets[dataset] = parts
	}
	return parts
}

var _ Store = (*FileStore)(nil)

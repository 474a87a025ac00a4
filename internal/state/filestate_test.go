package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStore_CommitAndReload(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.yaml")

	fs, err := NewFileStore(stateFile)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ref := Ref{Dataset: "results", Key: 2021}
	if err := fs.Commit(ref, 58, "abc123"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Reload from disk and verify the entry survived
	fs2, err := NewFileStore(stateFile)
	if err != nil {
		t.Fatalf("NewFileStore reload: %v", err)
	}
	states, err := fs2.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ps, ok := states[ref]
	if !ok {
		t.Fatal("expected committed entry after reload")
	}
	if ps.Status != StatusCommitted {
		t.Errorf("Status = %q, want committed", ps.Status)
	}
	if ps.RowCount != 58 {
		t.Errorf("RowCount = %d, want 58", ps.RowCount)
	}
	if ps.Checksum != "abc123" {
		t.Errorf("Checksum = %q, want abc123", ps.Checksum)
	}
	if ps.CommittedAt.IsZero() {
		t.Error("expected CommittedAt to be set")
	}
}

func TestFileStore_MarkFailedKeepsRetryable(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.yaml")
	fs, err := NewFileStore(stateFile)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ref := Ref{Dataset: "lap_times", Key: 2020}
	if err := fs.MarkFailed(ref, "write failure: disk full"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	states, _ := fs.Load()
	ps := states[ref]
	if ps.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", ps.Status)
	}
	if !strings.Contains(ps.Error, "disk full") {
		t.Errorf("Error = %q, want reason preserved", ps.Error)
	}

	// Failed entries never count toward the committed high-water mark
	if _, found := MaxCommittedKey(states, "lap_times"); found {
		t.Error("failed key must not be the max committed key")
	}
}

func TestFileStore_MarkPending(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.yaml")
	fs, err := NewFileStore(stateFile)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ref := Ref{Dataset: "results", Key: 2019}
	if err := fs.Commit(ref, 50, "aaa"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := fs.MarkPending(ref); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}

	states, _ := fs.Load()
	ps, ok := states[ref]
	if !ok {
		t.Fatal("expected entry to survive MarkPending")
	}
	if ps.Status != StatusPending {
		t.Errorf("Status = %q, want pending", ps.Status)
	}
	if ps.Checksum != "" || ps.RowCount != 0 {
		t.Errorf("entry = %+v, want committed record cleared", ps)
	}
	if _, found := MaxCommittedKey(states, "results"); found {
		t.Error("pending key must not count as committed")
	}
}

func TestFileStore_Reset(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.yaml")
	fs, _ := NewFileStore(stateFile)

	ref := Ref{Dataset: "results", Key: 2020}
	if err := fs.Commit(ref, 50, "aaa"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := fs.Reset(ref); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	states, _ := fs.Load()
	if _, ok := states[ref]; ok {
		t.Error("expected entry to be removed after Reset")
	}

	// Resetting an absent key is a no-op, not an error
	if err := fs.Reset(Ref{Dataset: "results", Key: 1999}); err != nil {
		t.Errorf("Reset absent key: %v", err)
	}
}

func TestFileStore_CorruptFileRefusesToLoad(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(stateFile, []byte("datasets: [not, a, mapping"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := NewFileStore(stateFile)
	if err == nil {
		t.Fatal("expected error for corrupt state file")
	}
	if !errors.Is(err, ErrCorruptState) {
		t.Errorf("error = %v, want ErrCorruptState", err)
	}
}

func TestFileStore_BadStatusIsCorrupt(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "state.yaml")
	doc := `
datasets:
  results:
    2020:
      status: finished
      row_count: 50
`
	if err := os.WriteFile(stateFile, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := NewFileStore(stateFile)
	if !errors.Is(err, ErrCorruptState) {
		t.Errorf("error = %v, want ErrCorruptState for unknown status", err)
	}
}

func TestFileStore_AtomicSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	stateFile := filepath.Join(dir, "state.yaml")
	fs, _ := NewFileStore(stateFile)

	for year := 2018; year <= 2021; year++ {
		if err := fs.Commit(Ref{Dataset: "results", Key: year}, 20, "x"); err != nil {
			t.Fatalf("Commit %d: %v", year, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.yaml" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory = %v, want only state.yaml", names)
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	states, err := fs.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(states) != 0 {
		t.Errorf("len(states) = %d, want 0", len(states))
	}
}

func TestMaxCommittedKey(t *testing.T) {
	states := map[Ref]PartitionState{
		{Dataset: "results", Key: 2019}: {Status: StatusCommitted},
		{Dataset: "results", Key: 2021}: {Status: StatusCommitted},
		{Dataset: "results", Key: 2022}: {Status: StatusFailed},
		{Dataset: "laps", Key: 2023}:    {Status: StatusCommitted},
	}

	key, found := MaxCommittedKey(states, "results")
	if !found || key != 2021 {
		t.Errorf("MaxCommittedKey(results) = (%d, %v), want (2021, true)", key, found)
	}
	if _, found := MaxCommittedKey(states, "pit_stops"); found {
		t.Error("expected not found for dataset with no entries")
	}
}

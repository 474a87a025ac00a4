package silver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/f1data/silverpipe/internal/transform"
)

func lapTimesSchema(t *testing.T) transform.Schema {
	t.Helper()
	schema, ok := transform.SchemaFor("lap_times")
	if !ok {
		t.Fatal("missing lap_times schema")
	}
	return schema
}

func lapRecord(raceID, driverID, lap int64, seconds float64) transform.CleanRecord {
	return transform.CleanRecord{
		transform.IntVal(raceID),
		transform.IntVal(driverID),
		transform.IntVal(lap),
		transform.IntVal(1),
		transform.FloatVal(seconds),
		transform.IntVal(int64(seconds * 1000)),
	}
}

func TestMerge_SealsSegment(t *testing.T) {
	store := NewStore(t.TempDir())
	m := NewMerger(store)
	schema := lapTimesSchema(t)

	records := []transform.CleanRecord{
		lapRecord(1000, 830, 1, 92.345),
		lapRecord(1000, 830, 2, 91.8),
	}
	res, err := m.Merge(schema, 2021, records)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.RowsWritten != 2 {
		t.Errorf("RowsWritten = %d, want 2", res.RowsWritten)
	}
	if res.Checksum == "" {
		t.Error("expected non-empty checksum")
	}

	if !store.Exists("lap_times", 2021) {
		t.Fatal("expected sealed segment on disk")
	}
	meta, err := ReadMeta(store.SegmentPath("lap_times", 2021))
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.Dataset != "lap_times" || meta.Year != 2021 || meta.RowCount != 2 {
		t.Errorf("meta = %+v, want lap_times/2021/2", meta)
	}
	if meta.Checksum != res.Checksum {
		t.Errorf("meta checksum %q != result checksum %q", meta.Checksum, res.Checksum)
	}

	n, err := CountRows(store.SegmentPath("lap_times", 2021))
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Errorf("CountRows = %d, want 2", n)
	}
}

func TestMerge_NoTempFilesRemain(t *testing.T) {
	store := NewStore(t.TempDir())
	m := NewMerger(store)
	schema := lapTimesSchema(t)

	if _, err := m.Merge(schema, 2020, []transform.CleanRecord{lapRecord(990, 1, 1, 90)}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(store.Root(), "lap_times"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestMerge_ReplacesSegmentOnForceReload(t *testing.T) {
	store := NewStore(t.TempDir())
	m := NewMerger(store)
	schema := lapTimesSchema(t)

	if _, err := m.Merge(schema, 2021, []transform.CleanRecord{lapRecord(1000, 830, 1, 92)}); err != nil {
		t.Fatalf("first Merge: %v", err)
	}
	res, err := m.Merge(schema, 2021, []transform.CleanRecord{
		lapRecord(1000, 830, 1, 92),
		lapRecord(1000, 830, 2, 91),
		lapRecord(1000, 830, 3, 90),
	})
	if err != nil {
		t.Fatalf("second Merge: %v", err)
	}
	if res.RowsWritten != 3 {
		t.Errorf("RowsWritten = %d, want 3", res.RowsWritten)
	}

	n, err := CountRows(store.SegmentPath("lap_times", 2021))
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 3 {
		t.Errorf("CountRows = %d, want 3 after replacement", n)
	}
}

func TestChecksum_DeterministicAndContentSensitive(t *testing.T) {
	a := []transform.CleanRecord{lapRecord(1, 2, 3, 90.5)}
	b := []transform.CleanRecord{lapRecord(1, 2, 3, 90.5)}
	c := []transform.CleanRecord{lapRecord(1, 2, 3, 90.6)}

	if Checksum(a) != Checksum(b) {
		t.Error("identical records must checksum identically")
	}
	if Checksum(a) == Checksum(c) {
		t.Error("different records must checksum differently")
	}
}

func TestMerge_CountsNulls(t *testing.T) {
	store := NewStore(t.TempDir())
	m := NewMerger(store)
	schema := lapTimesSchema(t)

	rec := lapRecord(1000, 830, 1, 92)
	rec[4] = transform.Missing() // time_seconds
	res, err := m.Merge(schema, 2021, []transform.CleanRecord{rec, lapRecord(1000, 830, 2, 91)})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := res.NullCounts["time_seconds"]; got != 1 {
		t.Errorf("NullCounts[time_seconds] = %d, want 1", got)
	}
	if got := res.NullCounts["race_id"]; got != 0 {
		t.Errorf("NullCounts[race_id] = %d, want 0", got)
	}
}

func TestStore_YearsAndSweep(t *testing.T) {
	store := NewStore(t.TempDir())
	m := NewMerger(store)
	schema := lapTimesSchema(t)

	for _, y := range []int{2021, 2019, 2020} {
		if _, err := m.Merge(schema, y, []transform.CleanRecord{lapRecord(1, 2, 3, 90)}); err != nil {
			t.Fatalf("Merge %d: %v", y, err)
		}
	}

	years, err := store.Years("lap_times")
	if err != nil {
		t.Fatalf("Years: %v", err)
	}
	if len(years) != 3 || years[0] != 2019 || years[2] != 2021 {
		t.Errorf("Years = %v, want [2019 2020 2021]", years)
	}

	// Simulate a crash mid-write: a stray temp file in the segment dir
	stray := store.SegmentPath("lap_times", 2022) + ".tmp.deadbeef"
	if err := os.WriteFile(stray, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	removed, err := store.SweepTemp()
	if err != nil {
		t.Fatalf("SweepTemp: %v", err)
	}
	if removed != 1 {
		t.Errorf("SweepTemp removed %d, want 1", removed)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stray temp file should be gone")
	}
}

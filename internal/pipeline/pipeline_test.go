package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/f1data/silverpipe/internal/config"
	"github.com/f1data/silverpipe/internal/silver"
	"github.com/f1data/silverpipe/internal/state"
)

func testConfig(t *testing.T, datasets ...string) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Bronze = filepath.Join(root, "bronze")
	cfg.Paths.Silver = filepath.Join(root, "silver")
	cfg.Paths.DataDir = filepath.Join(root, "data")
	cfg.Datasets = datasets
	cfg.Processing.Workers = 2
	return cfg
}

func writeLapTimes(t *testing.T, cfg *config.Config, year, rows int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("raceId,driverId,lap,position,time,milliseconds\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "%d,830,%d,1,1:3%d.123,9%d123\n", 1000+year, i+1, i%10, i%10)
	}
	writeBronze(t, cfg, "lap_times", year, b.String())
}

func writeBronze(t *testing.T, cfg *config.Config, dataset string, year int, content string) {
	t.Helper()
	dir := filepath.Join(cfg.Paths.Bronze, dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("year=%d.csv", year))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func newFileStore(t *testing.T, cfg *config.Config) *state.FileStore {
	t.Helper()
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	s, err := state.NewFileStore(filepath.Join(cfg.Paths.DataDir, "state.yaml"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func outcomeFor(t *testing.T, report *RunReport, dataset string, key int) KeyOutcome {
	t.Helper()
	for _, d := range report.Datasets {
		if d.Dataset != dataset {
			continue
		}
		for _, o := range d.Outcomes {
			if o.Key == key {
				return o
			}
		}
	}
	t.Fatalf("no outcome for %s/%d in report", dataset, key)
	return KeyOutcome{}
}

func TestEngine_InitialLoadRespectsCutoff(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	for _, y := range []int{2009, 2010, 2011} {
		writeLapTimes(t, cfg, y, 20)
	}
	store := newFileStore(t, cfg)

	eng := New(cfg, store, Options{Quiet: true})
	report, err := eng.RunInitialLoad(context.Background())
	if err != nil {
		t.Fatalf("RunInitialLoad: %v", err)
	}

	if report.Committed() != 2 {
		t.Errorf("Committed = %d, want 2 (2009 and 2010 only)", report.Committed())
	}
	states, _ := store.Load()
	if _, ok := states[state.Ref{Dataset: "lap_times", Key: 2011}]; ok {
		t.Error("2011 is beyond the bootstrap cutoff and must not be touched")
	}

	ss := silver.NewStore(cfg.Paths.Silver)
	if !ss.Exists("lap_times", 2010) || ss.Exists("lap_times", 2011) {
		t.Error("segments on disk do not match committed state")
	}
}

func TestEngine_IncrementalIsIdempotent(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeLapTimes(t, cfg, 2020, 30)
	writeLapTimes(t, cfg, 2021, 40)
	store := newFileStore(t, cfg)

	eng := New(cfg, store, Options{Quiet: true})
	first, err := eng.RunIncremental(context.Background())
	if err != nil {
		t.Fatalf("first RunIncremental: %v", err)
	}
	if first.Committed() != 2 {
		t.Fatalf("first run Committed = %d, want 2", first.Committed())
	}
	checksum := outcomeFor(t, first, "lap_times", 2021).Checksum

	// Second run must plan nothing and leave everything in place
	second, err := eng.RunIncremental(context.Background())
	if err != nil {
		t.Fatalf("second RunIncremental: %v", err)
	}
	if second.Committed() != 0 || second.Failed() != 0 {
		t.Errorf("second run committed %d, failed %d, want 0/0", second.Committed(), second.Failed())
	}

	states, _ := store.Load()
	if got := states[state.Ref{Dataset: "lap_times", Key: 2021}].Checksum; got != checksum {
		t.Errorf("checksum changed across idempotent runs: %q != %q", got, checksum)
	}
}

func TestEngine_IncrementalPicksUpNewPartition(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeLapTimes(t, cfg, 2020, 30)
	store := newFileStore(t, cfg)

	eng := New(cfg, store, Options{Quiet: true})
	if _, err := eng.RunIncremental(context.Background()); err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	writeLapTimes(t, cfg, 2021, 40)
	report, err := eng.RunIncremental(context.Background())
	if err != nil {
		t.Fatalf("RunIncremental with new partition: %v", err)
	}
	if report.Committed() != 1 {
		t.Fatalf("Committed = %d, want 1 (only the new year)", report.Committed())
	}
	if got := outcomeFor(t, report, "lap_times", 2021).RowsWritten; got != 40 {
		t.Errorf("RowsWritten = %d, want 40", got)
	}
}

func TestEngine_MalformedRowsSkippedNotFatal(t *testing.T) {
	cfg := testConfig(t, "lap_times")

	var b strings.Builder
	b.WriteString("raceId,driverId,lap,position,time,milliseconds\n")
	for i := 0; i < 58; i++ {
		fmt.Fprintf(&b, "3021,830,%d,1,1:31.500,91500\n", i+1)
	}
	b.WriteString("3021,830\n") // truncated
	b.WriteString("oops\n")     // truncated
	writeBronze(t, cfg, "lap_times", 2021, b.String())

	store := newFileStore(t, cfg)
	eng := New(cfg, store, Options{Quiet: true})
	report, err := eng.RunIncremental(context.Background())
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	o := outcomeFor(t, report, "lap_times", 2021)
	if o.Status != "committed" {
		t.Fatalf("Status = %q, want committed despite malformed rows", o.Status)
	}
	if o.RowsWritten != 58 || o.Rejected != 2 {
		t.Errorf("RowsWritten/Rejected = %d/%d, want 58/2", o.RowsWritten, o.Rejected)
	}
}

func TestEngine_PartitionFailureIsIsolated(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeLapTimes(t, cfg, 2020, 20)
	// Every data row structurally broken: merge yields zero rows from a
	// non-empty source, which must fail this partition only.
	writeBronze(t, cfg, "lap_times", 2021,
		"raceId,driverId,lap,position,time,milliseconds\nbroken\nbroken\nbroken\n")

	store := newFileStore(t, cfg)
	eng := New(cfg, store, Options{Quiet: true})
	report, err := eng.RunIncremental(context.Background())
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	if report.Committed() != 1 || report.Failed() != 1 {
		t.Fatalf("committed %d, failed %d, want 1/1", report.Committed(), report.Failed())
	}

	states, _ := store.Load()
	if got := states[state.Ref{Dataset: "lap_times", Key: 2021}].Status; got != state.StatusFailed {
		t.Errorf("2021 status = %q, want failed", got)
	}
	if got := states[state.Ref{Dataset: "lap_times", Key: 2020}].Status; got != state.StatusCommitted {
		t.Errorf("2020 status = %q, want committed", got)
	}
}

func TestEngine_FailedPartitionRetriedNextRun(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeBronze(t, cfg, "lap_times", 2021,
		"raceId,driverId,lap,position,time,milliseconds\nbroken\n")

	store := newFileStore(t, cfg)
	eng := New(cfg, store, Options{Quiet: true})
	if _, err := eng.RunIncremental(context.Background()); err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	// Source fixed upstream; the failed partition is eligible again
	writeLapTimes(t, cfg, 2021, 25)
	report, err := eng.RunIncremental(context.Background())
	if err != nil {
		t.Fatalf("retry RunIncremental: %v", err)
	}

	o := outcomeFor(t, report, "lap_times", 2021)
	if o.Status != "committed" || o.RowsWritten != 25 {
		t.Errorf("outcome = %+v, want committed with 25 rows", o)
	}
}

func TestEngine_ForceReprocessRebuildsCommittedPartition(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeLapTimes(t, cfg, 2021, 30)
	store := newFileStore(t, cfg)

	eng := New(cfg, store, Options{Quiet: true})
	if _, err := eng.RunIncremental(context.Background()); err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	// Upstream restated the partition with more rows
	writeLapTimes(t, cfg, 2021, 45)
	report, err := eng.ForceReprocess(context.Background(), "lap_times", []int{2021})
	if err != nil {
		t.Fatalf("ForceReprocess: %v", err)
	}

	o := outcomeFor(t, report, "lap_times", 2021)
	if o.Status != "committed" || o.RowsWritten != 45 {
		t.Fatalf("outcome = %+v, want committed with 45 rows", o)
	}

	n, err := silver.CountRows(silver.NewStore(cfg.Paths.Silver).SegmentPath("lap_times", 2021))
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 45 {
		t.Errorf("segment rows = %d, want 45 after rebuild", n)
	}
}

func TestEngine_InterruptedForceReloadIsResumed(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeLapTimes(t, cfg, 2020, 20)
	writeLapTimes(t, cfg, 2021, 30)
	store := newFileStore(t, cfg)

	eng := New(cfg, store, Options{Quiet: true})
	if _, err := eng.RunIncremental(context.Background()); err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	// A forced reload of 2020 got as far as the discard, then the process died
	if err := eng.discardPartition("lap_times", 2020); err != nil {
		t.Fatalf("discardPartition: %v", err)
	}

	ref := state.Ref{Dataset: "lap_times", Key: 2020}
	states, _ := store.Load()
	if got := states[ref].Status; got != state.StatusPending {
		t.Fatalf("status after discard = %q, want pending", got)
	}
	ss := silver.NewStore(cfg.Paths.Silver)
	if ss.Exists("lap_times", 2020) {
		t.Fatal("segment should be gone after discard")
	}

	// The next scheduled run must pick the demoted key back up even though it
	// sits below the committed high-water mark
	report, err := eng.RunIncremental(context.Background())
	if err != nil {
		t.Fatalf("RunIncremental after interrupted reload: %v", err)
	}
	o := outcomeFor(t, report, "lap_times", 2020)
	if o.Status != "committed" || o.RowsWritten != 20 {
		t.Errorf("outcome = %+v, want committed with 20 rows", o)
	}
	if !ss.Exists("lap_times", 2020) {
		t.Error("segment should be rebuilt")
	}
}

func TestEngine_MissingDatasetDirIsFatal(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	store := newFileStore(t, cfg)

	eng := New(cfg, store, Options{Quiet: true})
	if _, err := eng.RunIncremental(context.Background()); err == nil {
		t.Fatal("expected source unavailable error for missing bronze dataset dir")
	}
}

func TestEngine_SweepsStaleTempSegments(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeLapTimes(t, cfg, 2021, 10)
	store := newFileStore(t, cfg)

	// A crash mid-merge left an in-flight file behind
	dir := filepath.Join(cfg.Paths.Silver, "lap_times")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	stray := filepath.Join(dir, "year=2021.seg.db.tmp.deadbeef")
	if err := os.WriteFile(stray, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	eng := New(cfg, store, Options{Quiet: true})
	if _, err := eng.RunIncremental(context.Background()); err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Error("stale temp segment should be swept at run start")
	}
}

func TestEngine_CancelledContextStopsRun(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeLapTimes(t, cfg, 2020, 10)
	store := newFileStore(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := New(cfg, store, Options{Quiet: true})
	if _, err := eng.RunIncremental(ctx); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEngine_RunHistoryRecorded(t *testing.T) {
	cfg := testConfig(t, "lap_times")
	writeLapTimes(t, cfg, 2021, 10)

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	store, err := state.NewSQLiteStore(cfg.Paths.DataDir)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	eng := New(cfg, store, Options{Quiet: true, RunID: "test-run"})
	if _, err := eng.RunIncremental(context.Background()); err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].ID != "test-run" || runs[0].Status != "success" {
		t.Errorf("run = %+v, want test-run/success", runs[0])
	}
}

// Package pipeline orchestrates a run: plan partitions per dataset, process
// them on a worker pool, and commit each partition exactly once.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/f1data/silverpipe/internal/catalog"
	"github.com/f1data/silverpipe/internal/config"
	"github.com/f1data/silverpipe/internal/logging"
	"github.com/f1data/silverpipe/internal/notify"
	"github.com/f1data/silverpipe/internal/planner"
	"github.com/f1data/silverpipe/internal/progress"
	"github.com/f1data/silverpipe/internal/quality"
	"github.com/f1data/silverpipe/internal/silver"
	"github.com/f1data/silverpipe/internal/state"
	"github.com/f1data/silverpipe/internal/stats"
	"github.com/f1data/silverpipe/internal/transform"
)

// Engine wires the catalog, planner, transformer, merger, validator and
// state store into one runnable pipeline.
type Engine struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	store     state.Store
	silver    *silver.Store
	merger    *silver.Merger
	planner   *planner.Planner
	validator *quality.Validator
	notifier  notify.Provider
	tracker   *progress.Tracker
	reporter  progress.Reporter
	stats     *stats.Collector
	runID     string
	quiet     bool
}

// Options adjusts engine construction.
type Options struct {
	// RunID overrides the generated run identifier, for Airflow task retries.
	RunID string
	// Notifier receives run lifecycle events. Defaults to a disabled Slack
	// notifier.
	Notifier notify.Provider
	// Reporter receives machine-readable progress updates. Defaults to none.
	Reporter progress.Reporter
	// Quiet disables the interactive progress bar.
	Quiet bool
}

// New creates an engine over the given configuration and state store.
func New(cfg *config.Config, store state.Store, opts Options) *Engine {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()[:8]
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.New(&cfg.Slack)
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = &progress.NullReporter{}
	}

	silverStore := silver.NewStore(cfg.Paths.Silver)
	return &Engine{
		cfg:       cfg,
		catalog:   catalog.New(cfg.Paths.Bronze, cfg.Planner.StartYear),
		store:     store,
		silver:    silverStore,
		merger:    silver.NewMerger(silverStore),
		planner:   planner.New(cfg.Planner.InitialLoadYear),
		validator: quality.New(cfg.Processing.RowCountTolerance, cfg.NullThreshold),
		notifier:  notifier,
		tracker:   progress.New(),
		reporter:  reporter,
		stats:     stats.NewCollector(),
		runID:     runID,
		quiet:     opts.Quiet,
	}
}

// RunID returns the identifier of this run.
func (e *Engine) RunID() string {
	return e.runID
}

// RunInitialLoad processes the historical backfill: every uncommitted
// partition up to the bootstrap cutoff year, for all configured datasets.
func (e *Engine) RunInitialLoad(ctx context.Context) (*RunReport, error) {
	return e.run(ctx, planner.ModeInitial, e.cfg.Datasets, nil)
}

// RunIncremental processes partitions newer than each dataset's high-water
// mark plus any earlier partitions whose previous attempt never committed.
// The steady-state scheduled mode.
func (e *Engine) RunIncremental(ctx context.Context) (*RunReport, error) {
	return e.run(ctx, planner.ModeIncremental, e.cfg.Datasets, nil)
}

// ForceReprocess reprocesses the given years of one dataset regardless of
// committed state. The sealed segments and state entries are discarded first
// so the partitions rebuild from bronze.
func (e *Engine) ForceReprocess(ctx context.Context, dataset string, years []int) (*RunReport, error) {
	forced := map[string][]int{dataset: years}
	return e.run(ctx, planner.ModeIncremental, []string{dataset}, forced)
}

type job struct {
	dataset string
	schema  transform.Schema
	part    catalog.Partition
}

func (e *Engine) run(ctx context.Context, mode planner.Mode, datasets []string, forced map[string][]int) (*RunReport, error) {
	report := &RunReport{
		RunID:     e.runID,
		Mode:      string(mode),
		StartedAt: time.Now(),
	}

	if swept, err := e.silver.SweepTemp(); err != nil {
		logging.Warn("Sweeping stale segment files: %v", err)
	} else if swept > 0 {
		logging.Info("Removed %d stale in-flight segment files", swept)
	}

	states, err := e.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading partition state: %w", err)
	}

	var jobs []job
	dsReports := make(map[string]*DatasetReport, len(datasets))
	var totalRows int64

	for _, dataset := range datasets {
		schema, ok := transform.SchemaFor(dataset)
		if !ok {
			return nil, fmt.Errorf("unknown dataset %q", dataset)
		}

		parts, err := e.catalog.List(dataset)
		if err != nil {
			return nil, err
		}

		plan := e.planner.Plan(dataset, parts, states, mode, forced[dataset])
		logging.Info("Dataset %s: %d partitions available, %d planned", dataset, len(parts), len(plan))

		forcedKeys := make(map[int]bool)
		for _, key := range forced[dataset] {
			forcedKeys[key] = true
		}

		dsReports[dataset] = &DatasetReport{Dataset: dataset, Planned: len(plan)}
		for _, part := range plan {
			if forcedKeys[part.Key] {
				if err := e.discardPartition(dataset, part.Key); err != nil {
					return nil, err
				}
			}
			jobs = append(jobs, job{dataset: dataset, schema: schema, part: part})
			totalRows += part.RowCountHint
		}
	}

	if hs, ok := e.store.(state.HistoryStore); ok {
		if err := hs.CreateRun(e.runID, string(mode)); err != nil {
			return nil, fmt.Errorf("recording run start: %w", err)
		}
	}

	if err := e.notifier.RunStarted(e.runID, string(mode), len(jobs)); err != nil {
		logging.Warn("Run start notification failed: %v", err)
	}
	e.reporter.ReportImmediate(progress.ProgressUpdate{
		Phase:           "started",
		PartitionsTotal: len(jobs),
		RowsTotal:       totalRows,
	})

	if !e.quiet {
		e.tracker.SetTotal(totalRows)
	}

	runErr := e.executeJobs(ctx, jobs, dsReports)

	for _, dataset := range datasets {
		report.Datasets = append(report.Datasets, *dsReports[dataset])
	}
	report.CompletedAt = time.Now()

	if !e.quiet && len(jobs) > 0 && runErr == nil {
		e.tracker.Finish()
	}
	e.logStageProfile()

	status := "success"
	var errMsg string
	if runErr != nil {
		status = "failed"
		errMsg = runErr.Error()
	} else if report.Failed() > 0 {
		status = "completed_with_errors"
	}
	if hs, ok := e.store.(state.HistoryStore); ok {
		if err := hs.CompleteRun(e.runID, status, errMsg); err != nil {
			logging.Warn("Recording run completion failed: %v", err)
		}
	}

	e.reporter.ReportImmediate(progress.ProgressUpdate{
		Phase:              status,
		PartitionsComplete: report.Committed(),
		PartitionsTotal:    len(jobs),
		RowsProcessed:      report.TotalRows(),
		ErrorCount:         report.Failed(),
	})

	duration := report.CompletedAt.Sub(report.StartedAt)
	switch {
	case runErr != nil:
		if err := e.notifier.RunFailed(e.runID, runErr, duration); err != nil {
			logging.Warn("Run failure notification failed: %v", err)
		}
		return report, runErr
	case report.Failed() > 0:
		if err := e.notifier.RunCompletedWithErrors(e.runID, report.StartedAt, duration,
			report.Committed(), report.Failed(), report.TotalRows(), report.FailureRefs()); err != nil {
			logging.Warn("Run completion notification failed: %v", err)
		}
	default:
		if err := e.notifier.RunCompleted(e.runID, report.StartedAt, duration,
			report.Committed(), report.TotalRows()); err != nil {
			logging.Warn("Run completion notification failed: %v", err)
		}
	}

	return report, nil
}

// discardPartition demotes a forced partition to pending and drops its sealed
// segment so it rebuilds from bronze. State is demoted first: if the process
// dies between here and the recommit, the pending entry keeps the key in the
// next incremental plan.
func (e *Engine) discardPartition(dataset string, key int) error {
	logging.Info("Force reprocess: discarding %s/%d", dataset, key)
	ref := state.Ref{Dataset: dataset, Key: key}
	if err := e.store.MarkPending(ref); err != nil {
		return fmt.Errorf("demoting %s for reprocess: %w", ref, err)
	}
	if err := e.silver.Remove(dataset, key); err != nil {
		return err
	}
	return nil
}

// executeJobs runs partition jobs on a bounded worker pool. Partition
// failures are isolated: they mark state and continue. Only context
// cancellation and state store errors abort the run.
func (e *Engine) executeJobs(ctx context.Context, jobs []job, dsReports map[string]*DatasetReport) error {
	logging.Debug("Starting worker pool with %d workers, %d partitions", e.cfg.Processing.Workers, len(jobs))

	sem := make(chan struct{}, e.cfg.Processing.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	fatalCh := make(chan error, len(jobs))

	for _, j := range jobs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, fatal := e.processPartition(ctx, j)
			if fatal != nil {
				fatalCh <- fatal
			}

			mu.Lock()
			dsReports[j.dataset].Outcomes = append(dsReports[j.dataset].Outcomes, outcome)
			mu.Unlock()
		}(j)
	}

	wg.Wait()
	close(fatalCh)

	for _, r := range dsReports {
		sort.Slice(r.Outcomes, func(i, k int) bool { return r.Outcomes[i].Key < r.Outcomes[k].Key })
	}

	if err := <-fatalCh; err != nil {
		return err
	}
	return ctx.Err()
}

// processPartition runs the read, transform, merge, validate, commit chain
// for one partition. The returned fatal error is non-nil only for state
// store failures, which must abort the whole run.
func (e *Engine) processPartition(ctx context.Context, j job) (KeyOutcome, error) {
	ref := state.Ref{Dataset: j.dataset, Key: j.part.Key}
	outcome := KeyOutcome{Key: j.part.Key, RowsSource: j.part.RowCountHint}
	start := time.Now()

	if !e.quiet {
		e.tracker.StartPartition(j.dataset)
		defer e.tracker.EndPartition(j.dataset)
	}
	defer func() {
		outcome.Duration = time.Since(start).Seconds()
	}()

	if err := ctx.Err(); err != nil {
		outcome.Status = "skipped"
		outcome.Error = err.Error()
		return outcome, nil
	}

	fail := func(err error) (KeyOutcome, error) {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		logging.Error("Partition %s failed: %v", ref, err)
		if serr := e.store.MarkFailed(ref, err.Error()); serr != nil {
			return outcome, fmt.Errorf("marking %s failed: %w", ref, serr)
		}
		if nerr := e.notifier.PartitionFailed(e.runID, j.dataset, j.part.Key, err); nerr != nil {
			logging.Warn("Partition failure notification failed: %v", nerr)
		}
		return outcome, nil
	}

	readStart := time.Now()
	header, rows, err := catalog.Read(j.part)
	e.stats.AddRead(j.dataset, time.Since(readStart))
	if err != nil {
		return fail(err)
	}

	transformStart := time.Now()
	tr, err := transform.NewTransformer(j.schema, header)
	if err != nil {
		return fail(err)
	}
	records, rejected := tr.TransformAll(rows)
	e.stats.AddTransform(j.dataset, time.Since(transformStart))
	if rejected > 0 {
		logging.Warn("Partition %s: skipped %d malformed rows", ref, rejected)
	}
	outcome.Rejected = int64(rejected)

	mergeStart := time.Now()
	res, err := e.merger.Merge(j.schema, j.part.Key, records)
	e.stats.AddMerge(j.dataset, time.Since(mergeStart))
	if err != nil {
		return fail(err)
	}

	validateStart := time.Now()
	verdict, err := e.validator.Validate(j.schema, j.part.Key, j.part.RowCountHint, res, int64(rejected))
	e.stats.AddValidate(j.dataset, time.Since(validateStart))
	if err != nil {
		return fail(err)
	}
	for _, w := range verdict.Warnings {
		logging.Warn("Partition %s: %s", ref, w)
	}
	outcome.Warnings = verdict.Warnings

	if err := e.store.Commit(ref, res.RowsWritten, res.Checksum); err != nil {
		outcome.Status = "failed"
		outcome.Error = err.Error()
		return outcome, fmt.Errorf("committing %s: %w", ref, err)
	}

	outcome.Status = "committed"
	outcome.RowsWritten = res.RowsWritten
	outcome.Checksum = res.Checksum
	if !e.quiet {
		e.tracker.Add(res.RowsWritten)
	}
	logging.Info("Partition %s committed: %d rows, checksum %.12s", ref, res.RowsWritten, res.Checksum)
	return outcome, nil
}

func (e *Engine) logStageProfile() {
	if !logging.IsDebug() {
		return
	}

	logging.Debug("\nStage Profile (per dataset):")
	logging.Debug("------------------------------")
	for dataset, timings := range e.stats.Timings() {
		logging.Debug("%-25s %s", dataset, timings.String())
	}
}

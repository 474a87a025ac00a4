package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/f1data/silverpipe/internal/config"
	"github.com/f1data/silverpipe/internal/exitcodes"
	"github.com/f1data/silverpipe/internal/logging"
	"github.com/f1data/silverpipe/internal/pipeline"
	"github.com/f1data/silverpipe/internal/progress"
	"github.com/f1data/silverpipe/internal/silver"
	"github.com/f1data/silverpipe/internal/state"
	"github.com/f1data/silverpipe/internal/tui"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "silverpipe",
		Usage:   "Incremental bronze-to-silver processing for yearly fact partitions",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Use YAML state file instead of SQLite (for Airflow/headless)",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Explicit run ID (for Airflow, default: auto-generated)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON run report to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON run report to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Redirect logs to stderr when JSON output is enabled
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 && term.IsTerminal(int(os.Stdout.Fd())) {
				return startDashboard(c)
			}
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "initial",
				Usage:  "Run the historical backfill up to the bootstrap cutoff year",
				Action: runInitial,
			},
			{
				Name:   "incremental",
				Usage:  "Process partitions newer than each dataset's high-water mark",
				Action: runIncremental,
			},
			{
				Name:   "reprocess",
				Usage:  "Force specific years of one dataset to rebuild from bronze",
				Action: runReprocess,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dataset",
						Required: true,
						Usage:    "Dataset to reprocess",
					},
					&cli.IntSliceFlag{
						Name:     "years",
						Required: true,
						Usage:    "Partition years to rebuild (repeatable)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show partition state per dataset",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List pipeline runs (SQLite state backend only)",
				Action: showHistory,
			},
			{
				Name:   "validate",
				Usage:  "Verify sealed segments against committed state",
				Action: validateSegments,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if logging.IsDebug() {
			fmt.Fprintf(os.Stderr, "Exit code %d: %s\n", code, exitcodes.Description(code))
		}
		os.Exit(code)
	}
}

func startDashboard(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(c, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	return tui.Start(cfg, store)
}

func runInitial(c *cli.Context) error {
	return runPipeline(c, func(ctx context.Context, eng *pipeline.Engine) (*pipeline.RunReport, error) {
		return eng.RunInitialLoad(ctx)
	})
}

func runIncremental(c *cli.Context) error {
	return runPipeline(c, func(ctx context.Context, eng *pipeline.Engine) (*pipeline.RunReport, error) {
		return eng.RunIncremental(ctx)
	})
}

func runReprocess(c *cli.Context) error {
	dataset := c.String("dataset")
	years := c.IntSlice("years")
	return runPipeline(c, func(ctx context.Context, eng *pipeline.Engine) (*pipeline.RunReport, error) {
		return eng.ForceReprocess(ctx, dataset, years)
	})
}

func runPipeline(c *cli.Context, run func(context.Context, *pipeline.Engine) (*pipeline.RunReport, error)) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(c, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	jsonOut := c.Bool("output-json") || c.String("output-file") != ""

	opts := pipeline.Options{
		RunID: c.String("run-id"),
		Quiet: jsonOut,
	}
	if jsonOut {
		opts.Reporter = progress.NewJSONReporter(os.Stderr, 5*time.Second)
	}
	eng := pipeline.New(cfg, store, opts)

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Committed partitions are kept; the rest will retry next run.")
		cancel()
	}()

	report, runErr := run(ctx, eng)

	if jsonOut && report != nil {
		if err := outputJSON(c, report); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if report.Failed() > 0 {
		return exitcodes.NewExitError(
			fmt.Errorf("%d partitions failed, %d committed", report.Failed(), report.Committed()),
			exitcodes.ProcessError)
	}
	return nil
}

// statusEntry is the JSON shape of one partition in status output.
type statusEntry struct {
	Dataset     string `json:"dataset"`
	Year        int    `json:"year"`
	Status      string `json:"status"`
	RowCount    int64  `json:"row_count"`
	Checksum    string `json:"checksum,omitempty"`
	CommittedAt string `json:"committed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(c, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	states, err := store.Load()
	if err != nil {
		return err
	}

	entries := make([]statusEntry, 0, len(states))
	for ref, ps := range states {
		e := statusEntry{
			Dataset:  ref.Dataset,
			Year:     ref.Key,
			Status:   string(ps.Status),
			RowCount: ps.RowCount,
			Checksum: ps.Checksum,
			Error:    ps.Error,
		}
		if !ps.CommittedAt.IsZero() {
			e.CommittedAt = ps.CommittedAt.UTC().Format(time.RFC3339)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Dataset != entries[j].Dataset {
			return entries[i].Dataset < entries[j].Dataset
		}
		return entries[i].Year < entries[j].Year
	})

	if c.Bool("json") {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No partitions tracked yet")
		return nil
	}
	fmt.Printf("%-24s %-6s %-11s %12s %-20s %s\n", "Dataset", "Year", "Status", "Rows", "Committed", "Error")
	for _, e := range entries {
		fmt.Printf("%-24s %-6d %-11s %12d %-20s %s\n",
			e.Dataset, e.Year, e.Status, e.RowCount, e.CommittedAt, e.Error)
	}
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(c, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	hs, ok := store.(state.HistoryStore)
	if !ok {
		return fmt.Errorf("run history requires the SQLite state backend (omit --state-file)")
	}

	runs, err := hs.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-12s %-12s %-20s %-20s %-22s %s\n", "Run ID", "Mode", "Started", "Completed", "Status", "Error")
	for _, r := range runs {
		completed := ""
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-12s %-12s %-20s %-20s %-22s %s\n",
			r.ID, r.Mode,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			completed, r.Status, r.Error)
	}
	return nil
}

func validateSegments(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(c, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	states, err := store.Load()
	if err != nil {
		return err
	}

	ss := silver.NewStore(cfg.Paths.Silver)
	var checked, mismatched int
	for ref, ps := range states {
		if ps.Status != state.StatusCommitted {
			continue
		}
		checked++

		path := ss.SegmentPath(ref.Dataset, ref.Key)
		meta, err := silver.ReadMeta(path)
		if err != nil {
			mismatched++
			logging.Error("Partition %s: committed but segment unreadable: %v", ref, err)
			continue
		}
		if meta.RowCount != ps.RowCount {
			mismatched++
			logging.Error("Partition %s: segment has %d rows, state says %d", ref, meta.RowCount, ps.RowCount)
			continue
		}
		if meta.Checksum != ps.Checksum {
			mismatched++
			logging.Error("Partition %s: segment checksum %.12s does not match state %.12s",
				ref, meta.Checksum, ps.Checksum)
		}
	}

	if mismatched > 0 {
		return exitcodes.NewExitError(
			fmt.Errorf("segment validation failed: %d of %d committed partitions mismatched", mismatched, checked),
			exitcodes.ValidationError)
	}
	logging.Info("Validated %d committed partitions, all segments consistent", checked)
	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if c.IsSet("config") {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
		// No config file present, run on defaults
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// openStore selects the state backend: a YAML file when --state-file is set,
// otherwise SQLite under the configured data directory.
func openStore(c *cli.Context, cfg *config.Config) (state.Store, error) {
	if sf := stateFile(c); sf != "" {
		return state.NewFileStore(sf)
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return state.NewSQLiteStore(cfg.Paths.DataDir)
}

// stateFile walks the flag lineage so both global and command placement work.
func stateFile(c *cli.Context) string {
	for _, ctx := range c.Lineage() {
		if ctx == nil {
			continue
		}
		if sf := ctx.String("state-file"); sf != "" {
			return sf
		}
	}
	return ""
}

func outputJSON(c *cli.Context, report *pipeline.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
		if err := os.WriteFile(outputFile, data, 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}

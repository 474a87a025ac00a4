package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements HistoryStore using a SQLite database. Mutations run
// in transactions, which gives per-key commits the all-or-nothing discipline
// the file backend gets from write-then-rename.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the state database under dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "silverpipe.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening state database: %v", ErrCorruptState, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrating state schema: %v", ErrCorruptState, err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS partitions (
		dataset TEXT NOT NULL,
		year INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		row_count INTEGER NOT NULL DEFAULT 0,
		checksum TEXT,
		committed_at TEXT,
		error_message TEXT,
		PRIMARY KEY (dataset, year)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_partitions_status ON partitions(dataset, status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Load returns the full partition state mapping.
func (s *SQLiteStore) Load() (map[Ref]PartitionState, error) {
	rows, err := s.db.Query(`
		SELECT dataset, year, status, row_count,
		       COALESCE(checksum, ''), COALESCE(committed_at, ''), COALESCE(error_message, '')
		FROM partitions
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: loading partitions: %v", ErrCorruptState, err)
	}
	defer rows.Close()

	out := make(map[Ref]PartitionState)
	for rows.Next() {
		var ps PartitionState
		var committedAt string
		if err := rows.Scan(&ps.Dataset, &ps.Key, &ps.Status, &ps.RowCount, &ps.Checksum, &committedAt, &ps.Error); err != nil {
			return nil, fmt.Errorf("%w: scanning partition row: %v", ErrCorruptState, err)
		}
		switch ps.Status {
		case StatusPending, StatusCommitted, StatusFailed:
		default:
			return nil, fmt.Errorf("%w: partition %s/%d has unknown status %q", ErrCorruptState, ps.Dataset, ps.Key, ps.Status)
		}
		if committedAt != "" {
			t, err := time.Parse(time.RFC3339, committedAt)
			if err != nil {
				return nil, fmt.Errorf("%w: partition %s/%d has bad committed_at %q", ErrCorruptState, ps.Dataset, ps.Key, committedAt)
			}
			ps.CommittedAt = t
		}
		out[Ref{Dataset: ps.Dataset, Key: ps.Key}] = ps
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading partitions: %v", ErrCorruptState, err)
	}
	return out, nil
}

// Commit atomically marks a partition committed.
func (s *SQLiteStore) Commit(ref Ref, rowCount int64, checksum string) error {
	_, err := s.db.Exec(`
		INSERT INTO partitions (dataset, year, status, row_count, checksum, committed_at, error_message)
		VALUES (?, ?, 'committed', ?, ?, ?, NULL)
		ON CONFLICT(dataset, year) DO UPDATE SET
			status = 'committed',
			row_count = excluded.row_count,
			checksum = excluded.checksum,
			committed_at = excluded.committed_at,
			error_message = NULL
	`, ref.Dataset, ref.Key, rowCount, checksum, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("committing %s: %w", ref, err)
	}
	return nil
}

// MarkFailed records a failed attempt without advancing to committed.
func (s *SQLiteStore) MarkFailed(ref Ref, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO partitions (dataset, year, status, error_message)
		VALUES (?, ?, 'failed', ?)
		ON CONFLICT(dataset, year) DO UPDATE SET
			status = 'failed',
			error_message = excluded.error_message
	`, ref.Dataset, ref.Key, reason)
	if err != nil {
		return fmt.Errorf("marking %s failed: %w", ref, err)
	}
	return nil
}

// MarkPending demotes a partition to pending, discarding any committed
// record.
func (s *SQLiteStore) MarkPending(ref Ref) error {
	_, err := s.db.Exec(`
		INSERT INTO partitions (dataset, year, status)
		VALUES (?, ?, 'pending')
		ON CONFLICT(dataset, year) DO UPDATE SET
			status = 'pending',
			row_count = 0,
			checksum = NULL,
			committed_at = NULL,
			error_message = NULL
	`, ref.Dataset, ref.Key)
	if err != nil {
		return fmt.Errorf("marking %s pending: %w", ref, err)
	}
	return nil
}

// Reset removes a partition's entry.
func (s *SQLiteStore) Reset(ref Ref) error {
	_, err := s.db.Exec(`DELETE FROM partitions WHERE dataset = ? AND year = ?`, ref.Dataset, ref.Key)
	if err != nil {
		return fmt.Errorf("resetting %s: %w", ref, err)
	}
	return nil
}

// CreateRun records a new engine invocation.
func (s *SQLiteStore) CreateRun(id, mode string) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, mode, started_at, status)
		VALUES (?, ?, ?, 'running')
	`, id, mode, time.Now().UTC().Format(time.RFC3339))
	return err
}

// CompleteRun marks a run finished.
func (s *SQLiteStore) CompleteRun(id, status, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`, status, time.Now().UTC().Format(time.RFC3339), errMsg, id)
	return err
}

// ListRuns returns recent runs, newest first.
func (s *SQLiteStore) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, mode, started_at, COALESCE(completed_at, ''), status, COALESCE(error_message, '')
		FROM runs ORDER BY started_at DESC LIMIT 20
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt, completedAt string
		if err := rows.Scan(&r.ID, &r.Mode, &startedAt, &completedAt, &r.Status, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt != "" {
			t, _ := time.Parse(time.RFC3339, completedAt)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ HistoryStore = (*SQLiteStore)(nil)

// Package silver owns the clean columnar store: one immutable segment file
// per dataset and year, written atomically and sealed on commit.
package silver

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/f1data/silverpipe/internal/transform"
)

// SegmentMeta is the self-describing header row of a segment file.
type SegmentMeta struct {
	Dataset   string
	Year      int
	RowCount  int64
	Checksum  string
	CreatedAt time.Time
}

// writeSegment materializes records into a new SQLite segment at path. The
// file must not exist; callers write to a temp path and rename.
func writeSegment(path string, schema transform.Schema, year int, records []transform.CleanRecord, checksum string) (int64, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(OFF)&_pragma=synchronous(FULL)")
	if err != nil {
		return 0, fmt.Errorf("open segment: %w", err)
	}
	defer db.Close()

	if err := createSegmentTables(db, schema); err != nil {
		return 0, err
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin segment tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertSQL(schema))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		args := make([]any, len(rec))
		for i, v := range rec {
			args[i] = sqlValue(v)
		}
		if _, err := stmt.Exec(args...); err != nil {
			return 0, fmt.Errorf("insert row: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO segment_meta (dataset, year, row_count, checksum, created_at) VALUES (?, ?, ?, ?, ?)`,
		schema.Dataset, year, len(records), checksum, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("write segment meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit segment: %w", err)
	}
	return int64(len(records)), nil
}

func createSegmentTables(db *sql.DB, schema transform.Schema) error {
	var cols []string
	for _, c := range schema.Columns {
		cols = append(cols, fmt.Sprintf("%s %s", c.Name, c.Type.SQLType()))
	}
	ddl := fmt.Sprintf("CREATE TABLE rows (%s)", strings.Join(cols, ", "))
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create rows table: %w", err)
	}

	_, err := db.Exec(`CREATE TABLE segment_meta (
		dataset TEXT NOT NULL,
		year INTEGER NOT NULL,
		row_count INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create segment_meta table: %w", err)
	}
	return nil
}

func insertSQL(schema transform.Schema) string {
	names := make([]string, len(schema.Columns))
	marks := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		names[i] = c.Name
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO rows (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(marks, ", "))
}

func sqlValue(v transform.Value) any {
	switch v.Kind() {
	case transform.KindInt:
		i, _ := v.Int()
		return i
	case transform.KindFloat:
		f, _ := v.Float()
		return f
	case transform.KindBool:
		b, _ := v.Bool()
		if b {
			return int64(1)
		}
		return int64(0)
	case transform.KindString:
		s, _ := v.Str()
		return s
	default:
		return nil
	}
}

// ReadMeta opens a sealed segment and returns its meta row.
func ReadMeta(path string) (SegmentMeta, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return SegmentMeta{}, fmt.Errorf("open segment: %w", err)
	}
	defer db.Close()

	var meta SegmentMeta
	var createdAt string
	err = db.QueryRow(`SELECT dataset, year, row_count, checksum, created_at FROM segment_meta`).
		Scan(&meta.Dataset, &meta.Year, &meta.RowCount, &meta.Checksum, &createdAt)
	if err != nil {
		return SegmentMeta{}, fmt.Errorf("read segment meta: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		meta.CreatedAt = t
	}
	return meta, nil
}

// CountRows returns the row count of a sealed segment's rows table.
func CountRows(path string) (int64, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return 0, fmt.Errorf("open segment: %w", err)
	}
	defer db.Close()

	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM rows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count segment rows: %w", err)
	}
	return n, nil
}

package report

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/yuya-takeyama/sumcompare/pkg/planner"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteWriter appends each run to a SQLite database. Earlier runs in the
// same file are kept; rows are keyed by run_id.
type SQLiteWriter struct {
	Path string
}

func (w *SQLiteWriter) Write(ctx context.Context, r *planner.Report) error {
	db, err := Open(w.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, r); err != nil {
		return err
	}
	if err := insertCopies(ctx, tx, r); err != nil {
		return err
	}
	if err := insertDuplicates(ctx, tx, r); err != nil {
		return err
	}
	if err := insertCollisions(ctx, tx, r); err != nil {
		return err
	}
	if err := insertFailures(ctx, tx, r); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

// Open opens (creating if needed) a report database with the schema applied.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create report directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

func insertRun(ctx context.Context, tx *sql.Tx, r *planner.Report) error {
	s := r.Summary
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, source, target, algorithm, state, dry_run,
			source_files, target_files, copied, bytes_copied, duplicates, suppressed,
			collisions, errors, skipped, cancelled, started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Source, r.Target, r.Algorithm, string(s.State), s.DryRun,
		s.SourceFiles, s.TargetFiles, s.Copied, s.BytesCopied, s.Duplicates, s.Suppressed,
		s.Collisions, s.Errors, s.Skipped, s.Cancelled, s.StartedAt, s.FinishedAt, s.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func insertCopies(ctx context.Context, tx *sql.Tx, r *planner.Report) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO copied_files (run_id, source, destination, checksum, size) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare copied_files: %w", err)
	}
	defer stmt.Close()

	for _, c := range r.Copies {
		if _, err := stmt.ExecContext(ctx, r.RunID, c.Source, c.Destination, c.Fingerprint.Hex(), c.Size); err != nil {
			return fmt.Errorf("insert copied file %s: %w", c.Source, err)
		}
	}
	return nil
}

func insertDuplicates(ctx context.Context, tx *sql.Tx, r *planner.Report) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO duplicate_files (run_id, source, existing, checksum) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare duplicate_files: %w", err)
	}
	defer stmt.Close()

	for _, d := range r.Duplicates {
		if _, err := stmt.ExecContext(ctx, r.RunID, d.Source, d.Existing, d.Fingerprint.Hex()); err != nil {
			return fmt.Errorf("insert duplicate %s: %w", d.Source, err)
		}
	}
	return nil
}

func insertCollisions(ctx context.Context, tx *sql.Tx, r *planner.Report) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO target_collisions (run_id, current, existing, checksum) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare target_collisions: %w", err)
	}
	defer stmt.Close()

	for _, c := range r.Collisions {
		if _, err := stmt.ExecContext(ctx, r.RunID, c.Current, c.Existing, c.Fingerprint.Hex()); err != nil {
			return fmt.Errorf("insert collision %s: %w", c.Current, err)
		}
	}
	return nil
}

func insertFailures(ctx context.Context, tx *sql.Tx, r *planner.Report) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO failures (run_id, path, phase, error) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare failures: %w", err)
	}
	defer stmt.Close()

	for _, f := range r.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		if _, err := stmt.ExecContext(ctx, r.RunID, f.Path, f.Phase, msg); err != nil {
			return fmt.Errorf("insert failure %s: %w", f.Path, err)
		}
	}
	return nil
}

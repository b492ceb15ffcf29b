// Package store wraps access to the SisterOS SQLite store for the
// operational tooling: consistent snapshot copies, integrity checks,
// latency probes and compaction. The live application owns the schema;
// this package never writes rows.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a handle on the live SQLite store file.
type Store struct {
	path string
}

// New returns a handle for the store file at path. The file is opened
// lazily per operation so a handle can outlive restores that swap the
// file underneath it.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the live store file path.
func (s *Store) Path() string {
	return s.path
}

// openRO opens the store read-only and verifies it responds.
func (s *Store) openRO(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", s.path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	return db, nil
}

// SnapshotInto copies the store into destPath using VACUUM INTO, which
// produces a consistent point-in-time copy even with WAL mode and
// concurrent writers.
func (s *Store) SnapshotInto(ctx context.Context, destPath string) error {
	db, err := s.openRO(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	// VACUUM INTO refuses to overwrite; a stale partial copy from an
	// aborted run must be cleared first.
	_ = os.Remove(destPath)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", sqlQuote(destPath))); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check against the database file at
// path and returns an error unless the result is "ok".
func IntegrityCheck(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported: %s", result)
	}
	return nil
}

// ProbeLatency issues a trivial query and reports its wall time. Used by
// the health sampler as the store responsiveness metric.
func (s *Store) ProbeLatency(ctx context.Context) (time.Duration, error) {
	db, err := s.openRO(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()

	start := time.Now()
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return 0, fmt.Errorf("probe query: %w", err)
	}
	return time.Since(start), nil
}

// RowCounts returns per-table row counts for every user table. Recorded in
// archive manifests and reported by the database check.
func (s *Store) RowCounts(ctx context.Context) (map[string]int64, error) {
	db, err := s.openRO(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		q := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, strings.ReplaceAll(table, `"`, `""`))
		if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// SizeBytes returns the store file size. A missing file is reported as an
// error; a zero-length file is a valid (empty) store.
func (s *Store) SizeBytes() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Vacuum compacts the store in place. Requires write access; callers must
// hold the store lock.
func (s *Store) Vacuum(ctx context.Context) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", s.path))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// sqlQuote escapes a path for embedding in a single-quoted SQL literal.
func sqlQuote(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}

// Package history persists finished benchmark results in a per-user
// SQLite database so past runs can be listed and compared. The log is
// bounded: appending beyond MaxResults rotates the oldest entries out.
package history

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"spindle/internal/logger"
	"spindle/pkg/errs"
	"spindle/pkg/model"
)

// MaxResults bounds the stored history.
const MaxResults = 100

const (
	appDirName      = "spindle"
	historyFileName = "history.db"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);`

// Store is a SQLite-backed result log. Results are stored as JSON
// payloads; the schema only orders and rotates them.
type Store struct {
	db   *sql.DB
	lg   *logger.Logger
	path string
}

// DefaultPath returns the per-user history database location,
// e.g. ~/.config/spindle/history.db on Linux.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errs.Wrap(errs.KindPersistence, "locate user config dir", err)
	}
	return filepath.Join(base, appDirName, historyFileName), nil
}

// Open opens or creates the history database at path, creating parent
// directories as needed.
func Open(path string, lg *logger.Logger) (*Store, error) {
	lg = logger.Default(lg)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "create history dir", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "open history database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindPersistence, "ping history database", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindPersistence, "set journal mode", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.KindPersistence, "create results table", err)
	}

	lg.Debug("History database ready at %s", path)
	return &Store{db: db, lg: lg, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Append stores one result, then rotates entries beyond MaxResults
// out, oldest first.
func (s *Store) Append(result model.BenchmarkResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "encode result", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "begin append", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO results (created_at, payload) VALUES (?, ?)",
		result.Timestamp.Format(time.RFC3339Nano), string(payload),
	); err != nil {
		tx.Rollback()
		return errs.Wrap(errs.KindPersistence, "insert result", err)
	}
	if _, err := tx.Exec(
		"DELETE FROM results WHERE id NOT IN (SELECT id FROM results ORDER BY id DESC LIMIT ?)",
		MaxResults,
	); err != nil {
		tx.Rollback()
		return errs.Wrap(errs.KindPersistence, "rotate history", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindPersistence, "commit append", err)
	}

	s.lg.Debug("Saved result: %s", result.Summary())
	return nil
}

// Load returns every stored result, oldest first.
func (s *Store) Load() ([]model.BenchmarkResult, error) {
	return s.query("SELECT payload FROM results ORDER BY id ASC")
}

// Recent returns the newest count results in chronological order.
func (s *Store) Recent(count int) ([]model.BenchmarkResult, error) {
	if count <= 0 {
		return nil, nil
	}
	return s.query(
		"SELECT payload FROM (SELECT id, payload FROM results ORDER BY id DESC LIMIT ?) ORDER BY id ASC",
		count,
	)
}

// Count returns the number of stored results.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM results").Scan(&n); err != nil {
		return 0, errs.Wrap(errs.KindPersistence, "count history", err)
	}
	return n, nil
}

// Clear removes every stored result.
func (s *Store) Clear() error {
	if _, err := s.db.Exec("DELETE FROM results"); err != nil {
		return errs.Wrap(errs.KindPersistence, "clear history", err)
	}
	return nil
}

func (s *Store) query(q string, args ...interface{}) ([]model.BenchmarkResult, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "query history", err)
	}
	defer rows.Close()

	var results []model.BenchmarkResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errs.Wrap(errs.KindPersistence, "scan result row", err)
		}
		var r model.BenchmarkResult
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, errs.Wrap(errs.KindPersistence, "decode stored result", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, "iterate history", err)
	}
	return results, nil
}

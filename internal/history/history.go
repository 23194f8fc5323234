// Package history persists schedulability reports in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jlelli/rt-audit/internal/report"
)

var (
	// ErrNotFound is returned when no report has the requested ID.
	ErrNotFound = errors.New("report not found")
	// ErrDuplicate is returned when a report with the same ID is stored.
	ErrDuplicate = errors.New("report already stored")
)

const (
	stateDir = ".rt-audit"
	dbFile   = "history.db"

	// Fixed-width so that text ordering matches time ordering.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reports (
		id              TEXT PRIMARY KEY,
		created_at      TEXT NOT NULL,
		source          TEXT NOT NULL DEFAULT '',
		verdict         TEXT NOT NULL,
		processor_count INTEGER NOT NULL DEFAULT 0,
		task_count      INTEGER NOT NULL DEFAULT 0,
		body            TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at)`,
}

// Entry is the summary row of a stored report.
type Entry struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	Source         string         `json:"source"`
	Verdict        report.Verdict `json:"verdict"`
	ProcessorCount int            `json:"processor_count"`
	TaskCount      int            `json:"task_count"`
}

// Store is a SQLite-backed report history.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// DefaultPath returns ~/.rt-audit/history.db, or a path under the working
// directory when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(stateDir, dbFile)
	}
	return filepath.Join(home, stateDir, dbFile)
}

// Open opens (or creates) the database at path. Use ":memory:" in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Save stores a report. A stored report is never overwritten; saving an
// existing ID fails with ErrDuplicate.
func (s *Store) Save(ctx context.Context, r *report.Report) error {
	s.logger.Debug("sql", "op", "insert", "table", "reports", "id", r.ID)

	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, created_at, source, verdict, processor_count, task_count, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		r.ID, r.CreatedAt.UTC().Format(timeFormat), r.Source, string(r.Verdict),
		r.ProcessorCount, r.TaskCount, string(body),
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.ID)
	}
	return nil
}

// Get loads the full report with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*report.Report, error) {
	s.logger.Debug("sql", "op", "select", "table", "reports", "id", id)

	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM reports WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decode(body)
}

// Latest loads the most recently created report.
func (s *Store) Latest(ctx context.Context) (*report.Report, error) {
	s.logger.Debug("sql", "op", "select_latest", "table", "reports")

	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM reports ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(body)
}

// List returns up to limit summaries, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	s.logger.Debug("sql", "op", "list", "table", "reports", "limit", limit)
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, source, verdict, processor_count, task_count
		 FROM reports ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var createdAt, verdict string
		if err := rows.Scan(&e.ID, &createdAt, &e.Source, &verdict, &e.ProcessorCount, &e.TaskCount); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		e.Verdict = report.Verdict(verdict)
		out = append(out, e)
	}
	return out, rows.Err()
}

func decode(body string) (*report.Report, error) {
	var r report.Report
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, nil
}

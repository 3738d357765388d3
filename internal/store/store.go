// Package store implements the per-project embedded relational store: one
// SQLite file per project, holding metrics, system metrics, configs,
// alerts, project metadata, pending uploads, and saved reports. Steps are
// assigned inside the insert transaction, log_id inserts are idempotent,
// and cross-database moves commit the destination before deleting the
// source.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/trackhive/trackhive/internal/codec"
)

// Store is a single project's embedded relational database.
type Store struct {
	db      *sql.DB
	project string
}

// Open creates or opens the SQLite file at path for project, applying the
// durability/throughput pragmas and running migrations.
func Open(ctx context.Context, project, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=cache_size(-20000)&_pragma=busy_timeout(30000)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single physical writer per process; internal/lock additionally
	// serializes across processes. Multiple connections just contend on
	// SQLite's own lock with no throughput benefit for this workload.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{db: db, project: project}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB. Nothing in this module calls it: the
// snapshotter scans tables through AllMetricsRaw and the other *Raw
// helpers, and MoveRun uses each Store's connection directly.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			run_name TEXT NOT NULL,
			step INTEGER NOT NULL,
			metrics TEXT NOT NULL,
			log_id TEXT,
			space_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_step ON metrics(run_name, step)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_ts ON metrics(run_name, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_metrics_log_id ON metrics(log_id) WHERE log_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS system_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			run_name TEXT NOT NULL,
			metrics TEXT NOT NULL,
			log_id TEXT,
			space_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_system_metrics_run_ts ON system_metrics(run_name, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_system_metrics_log_id ON system_metrics(log_id) WHERE log_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_name TEXT NOT NULL UNIQUE,
			config TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_name TEXT NOT NULL,
			level TEXT NOT NULL,
			title TEXT NOT NULL,
			text TEXT,
			step INTEGER,
			timestamp TEXT NOT NULL,
			alert_id TEXT NOT NULL UNIQUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_run_ts ON alerts(run_name, timestamp)`,

		`CREATE TABLE IF NOT EXISTS project_metadata (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS pending_uploads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			space_id TEXT NOT NULL,
			run_name TEXT,
			step INTEGER,
			file_path TEXT NOT NULL,
			relative_path TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			markdown TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// LogEntry is one decoded metric row as returned to callers.
type LogEntry struct {
	Step      int
	Timestamp string
	Metrics   map[string]any
}

// encodeMetricsJSON prepares the metrics mapping for storage, producing
// the JSON text written to the metrics column.
func encodeMetricsJSON(metrics map[string]any) (string, error) {
	encoded, err := codec.Encode(metrics)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMetricsJSON decodes a raw metrics JSON blob (as stored in the
// metrics/system_metrics columns) back into user-facing values. Exported
// for the reconciler, which replays already-encoded rows read directly
// off disk.
func DecodeMetricsJSON(raw string) (map[string]any, error) {
	return decodeMetricsJSON(raw)
}

func decodeMetricsJSON(raw string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return codec.Decode(m).(map[string]any), nil
}

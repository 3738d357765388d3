package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// LogBatch is one unit of work submitted to BulkLog/BulkLogSystem: a set
// of metric mappings for a single run, with optional caller-supplied
// steps, timestamps, and log IDs (used for idempotent retry).
type LogBatch struct {
	Run        string
	Metrics    []map[string]any
	Steps      []*int // nil entries are auto-assigned
	Timestamps []string
	LogIDs     []string
	SpaceID    string
}

// BulkLog inserts metrics rows for a run in a single transaction. A nil
// Steps entry is assigned max(existing step for the run)+1 (or 0),
// computed within the same transaction so concurrent writers never
// collide. Rows carrying a LogID use INSERT OR IGNORE so a retried batch
// with the same log_id is delivered at most once.
func (s *Store) BulkLog(ctx context.Context, batch LogBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	nextStep, err := maxStep(ctx, tx, batch.Run)
	if err != nil {
		return err
	}
	nextStep++

	for i, metrics := range batch.Metrics {
		step := nextStep
		if i < len(batch.Steps) && batch.Steps[i] != nil {
			step = *batch.Steps[i]
		} else {
			nextStep++
		}

		ts := nowRFC3339()
		if i < len(batch.Timestamps) && batch.Timestamps[i] != "" {
			ts = batch.Timestamps[i]
		}

		var logID any
		if i < len(batch.LogIDs) && batch.LogIDs[i] != "" {
			logID = batch.LogIDs[i]
		}

		var spaceID any
		if batch.SpaceID != "" {
			spaceID = batch.SpaceID
		}

		encoded, err := encodeMetricsJSON(metrics)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO metrics (timestamp, run_name, step, metrics, log_id, space_id) VALUES (?, ?, ?, ?, ?, ?)`,
			ts, batch.Run, step, encoded, logID, spaceID,
		); err != nil {
			return fmt.Errorf("insert metric: %w", err)
		}
	}

	return tx.Commit()
}

// BulkLogSystem is the system-metric analogue of BulkLog: no step
// assignment, since the x-axis for system metrics is timestamp only.
func (s *Store) BulkLogSystem(ctx context.Context, batch LogBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, metrics := range batch.Metrics {
		ts := nowRFC3339()
		if i < len(batch.Timestamps) && batch.Timestamps[i] != "" {
			ts = batch.Timestamps[i]
		}

		var logID any
		if i < len(batch.LogIDs) && batch.LogIDs[i] != "" {
			logID = batch.LogIDs[i]
		}

		var spaceID any
		if batch.SpaceID != "" {
			spaceID = batch.SpaceID
		}

		encoded, err := encodeMetricsJSON(metrics)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO system_metrics (timestamp, run_name, metrics, log_id, space_id) VALUES (?, ?, ?, ?, ?)`,
			ts, batch.Run, encoded, logID, spaceID,
		); err != nil {
			return fmt.Errorf("insert system metric: %w", err)
		}
	}

	return tx.Commit()
}

func maxStep(ctx context.Context, tx *sql.Tx, run string) (int, error) {
	var max sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(step) FROM metrics WHERE run_name = ?`, run).Scan(&max); err != nil {
		return -1, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// GetMaxStepForRun returns the highest step logged for run, or nil if the
// run has no metrics yet.
func (s *Store) GetMaxStepForRun(ctx context.Context, run string) (*int, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(step) FROM metrics WHERE run_name = ?`, run).Scan(&max); err != nil {
		return nil, err
	}
	if !max.Valid {
		return nil, nil
	}
	v := int(max.Int64)
	return &v, nil
}

// GetLogs returns every metric row for run, ordered by timestamp, decoded
// back into user-facing values via the codec.
func (s *Store) GetLogs(ctx context.Context, run string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, timestamp, metrics FROM metrics WHERE run_name = ? ORDER BY timestamp ASC`, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var step int
		var ts, raw string
		if err := rows.Scan(&step, &ts, &raw); err != nil {
			return nil, err
		}
		metrics, err := decodeMetricsJSON(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, LogEntry{Step: step, Timestamp: ts, Metrics: metrics})
	}
	return out, rows.Err()
}

// GetSystemLogs returns every system-metric row for run, ordered by
// timestamp, the system-telemetry analogue of GetLogs (no step column).
func (s *Store) GetSystemLogs(ctx context.Context, run string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, metrics FROM system_metrics WHERE run_name = ? ORDER BY timestamp ASC`, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var ts, raw string
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, err
		}
		metrics, err := decodeMetricsJSON(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, LogEntry{Timestamp: ts, Metrics: metrics})
	}
	return out, rows.Err()
}

// GetRuns returns every run name in the project, ordered by the earliest
// timestamp logged for that run.
func (s *Store) GetRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_name FROM (
			SELECT run_name, MIN(timestamp) AS first_ts FROM metrics GROUP BY run_name
			UNION ALL
			SELECT run_name, MIN(timestamp) AS first_ts FROM system_metrics GROUP BY run_name
		)
		GROUP BY run_name
		ORDER BY MIN(first_ts) ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// DeleteRun removes every row belonging to run across all tables in a
// single transaction.
func (s *Store) DeleteRun(ctx context.Context, run string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tables := []string{"metrics", "system_metrics", "alerts"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE run_name = ?`, table), run); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM configs WHERE run_name = ?`, run); err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_uploads WHERE run_name = ?`, run); err != nil {
		return fmt.Errorf("delete pending uploads: %w", err)
	}

	return tx.Commit()
}

// RenameRun is the single-database variant of MoveRun: it rewrites
// run_name across every table and the artifact path prefix in every
// metric row belonging to the run.
func (s *Store) RenameRun(ctx context.Context, oldName, newName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := rewriteMetricPaths(ctx, tx, "metrics", oldName, newName); err != nil {
		return err
	}
	if err := rewriteMetricPaths(ctx, tx, "system_metrics", oldName, newName); err != nil {
		return err
	}

	tables := []string{"metrics", "system_metrics", "alerts", "configs", "pending_uploads"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET run_name = ? WHERE run_name = ?`, table), newName, oldName); err != nil {
			return fmt.Errorf("rename in %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// rewriteMetricPaths replaces the "<project>/<oldRun>/" artifact path
// prefix embedded in each row's metrics JSON with the new run name. It
// operates at the string level deliberately: rewriting every row through
// full JSON decode/encode would also re-normalize unrelated float
// formatting, which is unnecessary churn for a path rename.
func rewriteMetricPaths(ctx context.Context, tx *sql.Tx, table, oldRun, newRun string) error {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id, metrics FROM %s WHERE run_name = ?`, table), oldRun)
	if err != nil {
		return err
	}

	type update struct {
		id      int64
		metrics string
	}
	var updates []update
	for rows.Next() {
		var id int64
		var metrics string
		if err := rows.Scan(&id, &metrics); err != nil {
			rows.Close()
			return err
		}
		updates = append(updates, update{id: id, metrics: metrics})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, u := range updates {
		rewritten := strings.ReplaceAll(u.metrics, "/"+oldRun+"/", "/"+newRun+"/")
		if rewritten == u.metrics {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET metrics = ? WHERE id = ?`, table), rewritten, u.id); err != nil {
			return err
		}
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/trackhive/trackhive/internal/codec"
)

// dbQuerier is the subset of *sql.DB used for read-side helpers shared
// between a direct store query and a transaction-scoped one.
type dbQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MoveRun copies run's metrics, system_metrics and configs rows from src
// to dst (its alerts and pending_uploads rows stay in src), rewrites the
// artifact path prefix embedded in metric rows from "<srcProject>/<run>/"
// to "<dstProject>/<run>/", commits the destination, and only then
// deletes the source rows. Callers must hold both projects' process
// locks, acquired in a fixed order by project name, before calling this.
//
// Atomicity: the destination commit happens before the source delete. A
// crash between the two leaves the run duplicated in both databases; a
// reader that only trusts the destination project sees a consistent
// view. A retried MoveRun is not idempotent for metrics/system_metrics:
// the destination inserts are plain INSERTs with no log_id to key on, so
// rerunning it after such a crash inserts those rows into dst a second
// time.
func MoveRun(ctx context.Context, src, dst *Store, srcProject, dstProject, run string) error {
	metricsRows, err := readMetricsRows(ctx, src.db, run)
	if err != nil {
		return err
	}
	systemRows, err := readSystemMetricsRows(ctx, src.db, run)
	if err != nil {
		return err
	}
	config, createdAt, hasConfig, err := readConfigRow(ctx, src.db, run)
	if err != nil {
		return err
	}

	if len(metricsRows) == 0 && len(systemRows) == 0 && !hasConfig {
		return nil
	}

	oldPrefix := srcProject + "/" + run + "/"
	newPrefix := dstProject + "/" + run + "/"

	tx, err := dst.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, row := range metricsRows {
		rewritten, err := rewriteArtifactPrefix(row.metrics, oldPrefix, newPrefix)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metrics (timestamp, run_name, step, metrics) VALUES (?, ?, ?, ?)`,
			row.timestamp, run, row.step, rewritten,
		); err != nil {
			return err
		}
	}

	for _, row := range systemRows {
		rewritten, err := rewriteArtifactPrefix(row.metrics, oldPrefix, newPrefix)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO system_metrics (timestamp, run_name, metrics) VALUES (?, ?, ?)`,
			row.timestamp, run, rewritten,
		); err != nil {
			return err
		}
	}

	if hasConfig {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO configs (run_name, config, created_at) VALUES (?, ?, ?)
			ON CONFLICT(run_name) DO UPDATE SET config = excluded.config, created_at = excluded.created_at
		`, run, config, createdAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	// Destination is now durable. Only the source delete remains.
	if _, err := src.db.ExecContext(ctx, `DELETE FROM metrics WHERE run_name = ?`, run); err != nil {
		return err
	}
	if _, err := src.db.ExecContext(ctx, `DELETE FROM system_metrics WHERE run_name = ?`, run); err != nil {
		return err
	}
	if _, err := src.db.ExecContext(ctx, `DELETE FROM configs WHERE run_name = ?`, run); err != nil {
		return err
	}

	return nil
}

type metricsRow struct {
	timestamp string
	step      int
	metrics   string
}

func readMetricsRows(ctx context.Context, db dbQuerier, run string) ([]metricsRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT timestamp, step, metrics FROM metrics WHERE run_name = ?`, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []metricsRow
	for rows.Next() {
		var r metricsRow
		if err := rows.Scan(&r.timestamp, &r.step, &r.metrics); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type systemMetricsRow struct {
	timestamp string
	metrics   string
}

func readSystemMetricsRows(ctx context.Context, db dbQuerier, run string) ([]systemMetricsRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT timestamp, metrics FROM system_metrics WHERE run_name = ?`, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []systemMetricsRow
	for rows.Next() {
		var r systemMetricsRow
		if err := rows.Scan(&r.timestamp, &r.metrics); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func readConfigRow(ctx context.Context, db dbQuerier, run string) (config, createdAt string, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT config, created_at FROM configs WHERE run_name = ?`, run).Scan(&config, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, err
	}
	return config, createdAt, true, nil
}

func rewriteArtifactPrefix(rawMetrics, oldPrefix, newPrefix string) (string, error) {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(rawMetrics), &decoded); err != nil {
		return "", err
	}

	rewritten := rewriteArtifactPaths(decoded, oldPrefix, newPrefix)

	b, err := json.Marshal(rewritten)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// rewriteArtifactPaths walks a decoded metrics mapping (still in its
// on-wire codec form) rewriting file_path on any artifact descriptor that
// starts with oldPrefix.
func rewriteArtifactPaths(value any, oldPrefix, newPrefix string) any {
	switch v := value.(type) {
	case map[string]any:
		if codec.IsArtifactDescriptor(v) {
			if path, ok := v["file_path"].(string); ok {
				normalized := strings.ReplaceAll(path, "\\", "/")
				if strings.HasPrefix(normalized, oldPrefix) {
					out := make(map[string]any, len(v))
					for k, item := range v {
						out[k] = item
					}
					out["file_path"] = newPrefix + strings.TrimPrefix(normalized, oldPrefix)
					return out
				}
			}
			return v
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = rewriteArtifactPaths(item, oldPrefix, newPrefix)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = rewriteArtifactPaths(item, oldPrefix, newPrefix)
		}
		return out
	default:
		return value
	}
}

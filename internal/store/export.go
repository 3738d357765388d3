package store

import "context"

// RawMetricRow is one metrics-table row as needed by the columnar
// snapshot exporter: raw encoded JSON, no codec decode, so an export/
// import round trip is lossless byte-for-byte on the metrics blob.
type RawMetricRow struct {
	RunName     string
	Step        int64
	Timestamp   string
	MetricsJSON string
}

// RawSystemMetricRow is the system-metric analogue, with no step.
type RawSystemMetricRow struct {
	RunName     string
	Timestamp   string
	MetricsJSON string
}

// RawConfigRow is one configs-table row.
type RawConfigRow struct {
	RunName   string
	Config    string
	CreatedAt string
}

// AllMetricsRaw returns every metrics row across every run, ordered by
// run then step, for the snapshotter's columnar export.
func (s *Store) AllMetricsRaw(ctx context.Context) ([]RawMetricRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_name, step, timestamp, metrics FROM metrics ORDER BY run_name ASC, step ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawMetricRow
	for rows.Next() {
		var r RawMetricRow
		if err := rows.Scan(&r.RunName, &r.Step, &r.Timestamp, &r.MetricsJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllSystemMetricsRaw is the system-metric analogue of AllMetricsRaw.
func (s *Store) AllSystemMetricsRaw(ctx context.Context) ([]RawSystemMetricRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_name, timestamp, metrics FROM system_metrics ORDER BY run_name ASC, timestamp ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawSystemMetricRow
	for rows.Next() {
		var r RawSystemMetricRow
		if err := rows.Scan(&r.RunName, &r.Timestamp, &r.MetricsJSON); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllConfigsRaw returns every config row for the snapshotter's columnar
// export.
func (s *Store) AllConfigsRaw(ctx context.Context) ([]RawConfigRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_name, config, created_at FROM configs ORDER BY run_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawConfigRow
	for rows.Next() {
		var r RawConfigRow
		if err := rows.Scan(&r.RunName, &r.Config, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RestoreMetricsRow re-inserts a single metrics row exactly as read from
// a parquet snapshot, used when importing a snapshot not yet present
// locally. Idempotent only in the sense that callers are expected to
// import into a fresh database; it does not dedupe against existing rows.
func (s *Store) RestoreMetricsRow(ctx context.Context, r RawMetricRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (timestamp, run_name, step, metrics) VALUES (?, ?, ?, ?)`,
		r.Timestamp, r.RunName, r.Step, r.MetricsJSON)
	return err
}

// RestoreSystemMetricsRow is the system-metric analogue of RestoreMetricsRow.
func (s *Store) RestoreSystemMetricsRow(ctx context.Context, r RawSystemMetricRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_metrics (timestamp, run_name, metrics) VALUES (?, ?, ?)`,
		r.Timestamp, r.RunName, r.MetricsJSON)
	return err
}

// RestoreConfigRow is the config analogue of RestoreMetricsRow.
func (s *Store) RestoreConfigRow(ctx context.Context, r RawConfigRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configs (run_name, config, created_at) VALUES (?, ?, ?)
		ON CONFLICT(run_name) DO UPDATE SET config = excluded.config, created_at = excluded.created_at
	`, r.RunName, r.Config, r.CreatedAt)
	return err
}

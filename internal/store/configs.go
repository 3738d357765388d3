package store

import (
	"context"
	"database/sql"
	"errors"
)

// SetConfig replaces the config record for run.
func (s *Store) SetConfig(ctx context.Context, run string, config map[string]any) error {
	encoded, err := encodeMetricsJSON(config)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO configs (run_name, config, created_at) VALUES (?, ?, ?)
		ON CONFLICT(run_name) DO UPDATE SET config = excluded.config, created_at = excluded.created_at
	`, run, encoded, nowRFC3339())
	return err
}

// GetConfig returns the config for run, or nil if none has been set.
func (s *Store) GetConfig(ctx context.Context, run string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM configs WHERE run_name = ?`, run).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeMetricsJSON(raw)
}

// Alert is one appended alert row.
type Alert struct {
	AlertID   string
	Run       string
	Level     string
	Title     string
	Text      string
	Step      *int
	Timestamp string
}

// AppendAlert inserts an alert row; duplicate AlertID is rejected by the
// unique index rather than silently ignored, since alerts are not
// retried the way metric batches are.
func (s *Store) AppendAlert(ctx context.Context, a Alert) error {
	if a.Timestamp == "" {
		a.Timestamp = nowRFC3339()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (run_name, level, title, text, step, timestamp, alert_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.Run, a.Level, a.Title, nullableString(a.Text), a.Step, a.Timestamp, a.AlertID)
	return err
}

// GetAlerts returns every alert for run, ordered by timestamp.
func (s *Store) GetAlerts(ctx context.Context, run string) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, level, title, COALESCE(text, ''), step, timestamp
		FROM alerts WHERE run_name = ? ORDER BY timestamp ASC
	`, run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a := Alert{Run: run}
		var step *int
		if err := rows.Scan(&a.AlertID, &a.Level, &a.Title, &a.Text, &step, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Step = step
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetMetadata stores an arbitrary project-level key/value pair, used for
// bookkeeping such as the project's configured remote space_id.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadata returns the value for key, or "" if unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM project_metadata WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// PendingUpload is a media artifact awaiting delivery to a remote sink.
type PendingUpload struct {
	ID           int64
	SpaceID      string
	Run          string
	Step         *int
	FilePath     string
	RelativePath string
	CreatedAt    string
}

// AddPendingUpload records a media artifact as not-yet-uploaded.
func (s *Store) AddPendingUpload(ctx context.Context, p PendingUpload) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_uploads (space_id, run_name, step, file_path, relative_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.SpaceID, nullableString(p.Run), p.Step, p.FilePath, nullableString(p.RelativePath), nowRFC3339())
	return err
}

// ListPendingUploads returns every unresolved pending upload for spaceID.
func (s *Store) ListPendingUploads(ctx context.Context, spaceID string) ([]PendingUpload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, space_id, COALESCE(run_name, ''), step, file_path, COALESCE(relative_path, ''), created_at
		FROM pending_uploads WHERE space_id = ? ORDER BY created_at ASC
	`, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingUpload
	for rows.Next() {
		var p PendingUpload
		if err := rows.Scan(&p.ID, &p.SpaceID, &p.Run, &p.Step, &p.FilePath, &p.RelativePath, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClearPendingUpload removes a pending-upload record after successful
// delivery.
func (s *Store) ClearPendingUpload(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_uploads WHERE id = ?`, id)
	return err
}

// SaveReport upserts a named markdown report.
func (s *Store) SaveReport(ctx context.Context, name, markdown string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (name, markdown, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET markdown = excluded.markdown
	`, name, markdown, nowRFC3339())
	return err
}

// GetReport returns a saved report's markdown body.
func (s *Store) GetReport(ctx context.Context, name string) (string, error) {
	var markdown string
	err := s.db.QueryRowContext(ctx, `SELECT markdown FROM reports WHERE name = ?`, name).Scan(&markdown)
	return markdown, err
}

// ListReports returns every saved report name.
func (s *Store) ListReports(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM reports ORDER BY created_at ASC`)
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

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

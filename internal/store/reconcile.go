package store

import (
	"context"
)

// PendingRow is one metric or system-metric row still marked for
// delivery to a remote sink (a non-null log_id/space_id pair).
type PendingRow struct {
	LogID     string
	SpaceID   string
	Run       string
	Step      *int
	Timestamp string
	Metrics   string // already-encoded JSON, ready to resend as-is
}

// PendingDelivery returns every metrics row still marked pending delivery
// for spaceID, ordered by run then by step ascending, so the reconciler
// can replay each run's backlog in order.
func (s *Store) PendingDelivery(ctx context.Context, spaceID string) ([]PendingRow, error) {
	return s.pendingDeliveryFrom(ctx, "metrics", spaceID, true)
}

// PendingSystemDelivery is the system-metric analogue of PendingDelivery.
func (s *Store) PendingSystemDelivery(ctx context.Context, spaceID string) ([]PendingRow, error) {
	return s.pendingDeliveryFrom(ctx, "system_metrics", spaceID, false)
}

func (s *Store) pendingDeliveryFrom(ctx context.Context, table, spaceID string, hasStep bool) ([]PendingRow, error) {
	var query string
	if hasStep {
		query = `SELECT log_id, space_id, run_name, step, timestamp, metrics FROM ` + table + `
			WHERE space_id = ? AND log_id IS NOT NULL
			ORDER BY run_name ASC, step ASC`
	} else {
		query = `SELECT log_id, space_id, run_name, timestamp, metrics FROM ` + table + `
			WHERE space_id = ? AND log_id IS NOT NULL
			ORDER BY run_name ASC, timestamp ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, spaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingRow
	for rows.Next() {
		var r PendingRow
		if hasStep {
			if err := rows.Scan(&r.LogID, &r.SpaceID, &r.Run, &r.Step, &r.Timestamp, &r.Metrics); err != nil {
				return nil, err
			}
		} else {
			if err := rows.Scan(&r.LogID, &r.SpaceID, &r.Run, &r.Timestamp, &r.Metrics); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClearDeliveryMarkers nulls out log_id/space_id for the given logIDs in
// table, marking those rows as acknowledged by the remote sink.
func (s *Store) ClearDeliveryMarkers(ctx context.Context, table string, logIDs []string) error {
	if len(logIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE `+table+` SET log_id = NULL, space_id = NULL WHERE log_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range logIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MetricsTable and SystemMetricsTable name the two tables ClearDeliveryMarkers
// and the *_from helpers above operate on.
const (
	MetricsTable       = "metrics"
	SystemMetricsTable = "system_metrics"
)

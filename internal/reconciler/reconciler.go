// Package reconciler maintains the durable buffer (local rows marked
// with a non-null log_id/space_id pair pending remote delivery) and
// drains it to the remote sink once reachable. log_id uniqueness on the
// remote side makes replay idempotent.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/trackhive/trackhive/internal/config"
	tlog "github.com/trackhive/trackhive/internal/log"
	"github.com/trackhive/trackhive/internal/lock"
	"github.com/trackhive/trackhive/internal/sender"
	"github.com/trackhive/trackhive/internal/store"
	"github.com/trackhive/trackhive/internal/telemetry"
)

const defaultInterval = 30 * time.Second

// DurableSink wraps a remote sender.Sink so that every batch handed to it
// is first committed to the local Project Store with its log_id/space_id
// markers set (the durable buffer), then forwarded to Remote. A
// transient remote failure leaves the markers in place for the
// Reconciler to retry later; Send itself still returns nil to the batch
// sender in that case, since the data is already durable: only the
// reconciler's own resubmission, not the original caller, needs to know
// whether delivery eventually succeeds.
type DurableSink struct {
	Local    *store.Store
	LockPath string
	Project  string
	SpaceID  string
	Remote   sender.Sink
	System   bool
	Logger   *slog.Logger
}

// Send implements sender.Sink.
func (d *DurableSink) Send(ctx context.Context, run string, entries []sender.Entry) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batch := store.LogBatch{Run: run, SpaceID: d.SpaceID}
	for _, e := range entries {
		batch.Metrics = append(batch.Metrics, e.Metrics)
		batch.Steps = append(batch.Steps, e.Step)
		batch.Timestamps = append(batch.Timestamps, e.Timestamp)
		batch.LogIDs = append(batch.LogIDs, e.LogID)
	}

	if err := lock.With(ctx, d.Project, d.LockPath, func() error {
		if d.System {
			return d.Local.BulkLogSystem(ctx, batch)
		}
		return d.Local.BulkLog(ctx, batch)
	}); err != nil {
		return err
	}

	start := time.Now()
	remoteErr := d.Remote.Send(ctx, run, entries)
	telemetry.ObserveFlush("remote", start, remoteErr)

	if remoteErr != nil {
		logger.Warn("remote delivery failed, retained in durable buffer",
			tlog.RunKey, run, tlog.BatchSizeKey, len(entries), tlog.Error(remoteErr))
		return nil
	}

	logIDs := make([]string, len(entries))
	for i, e := range entries {
		logIDs[i] = e.LogID
	}
	table := store.MetricsTable
	if d.System {
		table = store.SystemMetricsTable
	}
	if err := lock.With(ctx, d.Project, d.LockPath, func() error {
		return d.Local.ClearDeliveryMarkers(ctx, table, logIDs)
	}); err != nil {
		logger.Warn("failed to clear delivery markers after remote ack", tlog.Error(err))
	} else {
		telemetry.FlushedEntries.WithLabelValues("remote").Add(float64(len(entries)))
	}
	return nil
}

// Uploader delivers a pending media file to the remote sink. Implemented
// by whatever object-store client the remote mirror uses.
type Uploader func(ctx context.Context, p store.PendingUpload) error

// Report summarizes one reconciliation pass against a project.
type Report struct {
	MetricsReplayed       int
	SystemMetricsReplayed int
	MetricsFailed         int
	UploadsReplayed       int
	UploadsFailed         int
}

// ReconcileProject drains project's durable buffer (metrics,
// system_metrics, and pending_uploads) against remote, grouping replayed
// rows per run in ascending step order (the PendingDelivery queries are
// already ordered that way).
func ReconcileProject(ctx context.Context, st *store.Store, settings *config.Settings, project, spaceID string, remote sender.Sink, upload Uploader, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = tlog.WithComponent(logger, "reconciler")

	var report Report

	if remote != nil {
		n, failed, err := replay(ctx, st, spaceID, remote, false, logger)
		if err != nil {
			return report, err
		}
		report.MetricsReplayed, report.MetricsFailed = n, failed

		n, _, err = replay(ctx, st, spaceID, remote, true, logger)
		if err != nil {
			return report, err
		}
		report.SystemMetricsReplayed = n
	}

	if upload != nil {
		replayed, failed, err := replayUploads(ctx, st, spaceID, upload, logger)
		if err != nil {
			return report, err
		}
		report.UploadsReplayed, report.UploadsFailed = replayed, failed
	}

	telemetry.ReconcileBacklog.WithLabelValues(project).Set(float64(report.MetricsFailed + report.UploadsFailed))
	return report, nil
}

func replay(ctx context.Context, st *store.Store, spaceID string, remote sender.Sink, system bool, logger *slog.Logger) (replayed, failed int, err error) {
	var rows []store.PendingRow
	if system {
		rows, err = st.PendingSystemDelivery(ctx, spaceID)
	} else {
		rows, err = st.PendingDelivery(ctx, spaceID)
	}
	if err != nil {
		return 0, 0, err
	}

	byRun := make(map[string][]store.PendingRow)
	var order []string
	for _, r := range rows {
		if _, ok := byRun[r.Run]; !ok {
			order = append(order, r.Run)
		}
		byRun[r.Run] = append(byRun[r.Run], r)
	}

	table := store.MetricsTable
	if system {
		table = store.SystemMetricsTable
	}

	for _, run := range order {
		runRows := byRun[run]
		entries := make([]sender.Entry, len(runRows))
		logIDs := make([]string, len(runRows))
		for i, r := range runRows {
			step := r.Step
			entries[i] = sender.Entry{
				Step:      step,
				Timestamp: r.Timestamp,
				LogID:     r.LogID,
				Metrics:   decodeRawMetrics(r.Metrics),
			}
			logIDs[i] = r.LogID
		}

		if err := remote.Send(ctx, run, entries); err != nil {
			logger.Warn("reconcile replay failed, will retry next tick", tlog.RunKey, run, tlog.Error(err))
			failed += len(entries)
			continue
		}

		if err := st.ClearDeliveryMarkers(ctx, table, logIDs); err != nil {
			return replayed, failed, err
		}
		replayed += len(entries)
	}

	return replayed, failed, nil
}

func replayUploads(ctx context.Context, st *store.Store, spaceID string, upload Uploader, logger *slog.Logger) (replayed, failed int, err error) {
	pending, err := st.ListPendingUploads(ctx, spaceID)
	if err != nil {
		return 0, 0, err
	}

	for _, p := range pending {
		if err := upload(ctx, p); err != nil {
			logger.Warn("pending upload failed, will retry next tick", "file_path", p.FilePath, tlog.Error(err))
			failed++
			continue
		}
		if err := st.ClearPendingUpload(ctx, p.ID); err != nil {
			return replayed, failed, err
		}
		replayed++
	}
	return replayed, failed, nil
}

func decodeRawMetrics(raw string) map[string]any {
	m, err := store.DecodeMetricsJSON(raw)
	if err != nil {
		return map[string]any{}
	}
	return m
}

// Ticker calls a caller-supplied fn on a timer until Stop is called, the
// supervised-task idiom shared with the
// snapshotter (internal/snapshot) and batch sender (internal/sender).
type Ticker struct {
	interval time.Duration
	fn       func(ctx context.Context)
	stop     chan struct{}
	done     chan struct{}
}

// NewTicker starts a background loop calling fn every interval (default
// 30s if interval <= 0).
func NewTicker(interval time.Duration, fn func(ctx context.Context)) *Ticker {
	if interval <= 0 {
		interval = defaultInterval
	}
	t := &Ticker{interval: interval, fn: fn, stop: make(chan struct{}), done: make(chan struct{})}
	go t.loop()
	return t
}

func (t *Ticker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.fn(context.Background())
		case <-t.stop:
			return
		}
	}
}

// Stop signals the loop to exit and waits for it to finish.
func (t *Ticker) Stop() {
	close(t.stop)
	<-t.done
}

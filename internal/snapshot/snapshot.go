// Package snapshot periodically exports each project's relational store
// to an immutable columnar (parquet) format, optionally mirrored to an
// S3-compatible object repository, and performs the reverse import on
// process start. The live database stays authoritative while a process
// runs; snapshots exist for long-term backup and sharing.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/trackhive/trackhive/internal/config"
	tlog "github.com/trackhive/trackhive/internal/log"
	"github.com/trackhive/trackhive/internal/store"
)

// metricRow is the parquet schema for a project's metrics export. The
// metrics JSON blob is kept as a single column rather than one physical
// column per observed key: metric keys vary per run and grow over a
// run's life, and parquet requires a stable column set per file. Storing
// the already-encoded JSON blob keeps the snapshot schema stable across
// re-exports while still letting an importer reconstruct the exact
// relational row.
type metricRow struct {
	RunName     string `parquet:"run_name"`
	Step        int64  `parquet:"step"`
	Timestamp   string `parquet:"timestamp"`
	MetricsJSON string `parquet:"metrics_json"`
}

type systemMetricRow struct {
	RunName     string `parquet:"run_name"`
	Timestamp   string `parquet:"timestamp"`
	MetricsJSON string `parquet:"metrics_json"`
}

type configRow struct {
	RunName   string `parquet:"run_name"`
	Config    string `parquet:"config_json"`
	CreatedAt string `parquet:"created_at"`
}

// Uploader mirrors a local snapshot file (or media file) to a remote
// dataset repository. Implemented by the S3 client in this package, or
// swapped out entirely in tests.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteKey string) error
}

// Snapshotter exports each project's relational store to parquet and
// mirrors it remotely.
type Snapshotter struct {
	settings *config.Settings
	upload   Uploader
	logger   *slog.Logger
}

// New builds a Snapshotter. upload may be nil, in which case Export only
// writes local parquet files and skips the remote mirror step.
func New(settings *config.Settings, upload Uploader, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{settings: settings, upload: upload, logger: tlog.WithComponent(logger, "snapshot")}
}

// NeedsExport reports whether project's database file is newer than its
// metrics parquet sibling.
func (s *Snapshotter) NeedsExport(project string) bool {
	dbPath := s.settings.DBPath(project)
	metricsPath, _, _ := s.settings.ParquetPaths(project)

	dbInfo, err := os.Stat(dbPath)
	if err != nil {
		return false
	}
	pqInfo, err := os.Stat(metricsPath)
	if err != nil {
		return true // no snapshot yet
	}
	return dbInfo.ModTime().After(pqInfo.ModTime())
}

// Export writes the three parquet files for project from st and, if an
// Uploader is configured, mirrors them plus the project's media directory
// to the remote dataset repository. Read-only against st: writers are
// never blocked, so a snapshot may trail the live store slightly.
func (s *Snapshotter) Export(ctx context.Context, project string, st *store.Store) error {
	metrics, err := st.AllMetricsRaw(ctx)
	if err != nil {
		return fmt.Errorf("read metrics: %w", err)
	}
	system, err := st.AllSystemMetricsRaw(ctx)
	if err != nil {
		return fmt.Errorf("read system metrics: %w", err)
	}
	configs, err := st.AllConfigsRaw(ctx)
	if err != nil {
		return fmt.Errorf("read configs: %w", err)
	}

	metricsPath, systemPath, configsPath := s.settings.ParquetPaths(project)

	metricRows := make([]metricRow, len(metrics))
	for i, m := range metrics {
		metricRows[i] = metricRow{RunName: m.RunName, Step: m.Step, Timestamp: m.Timestamp, MetricsJSON: m.MetricsJSON}
	}
	if err := parquet.WriteFile(metricsPath, metricRows); err != nil {
		return fmt.Errorf("write %s: %w", metricsPath, err)
	}

	systemRows := make([]systemMetricRow, len(system))
	for i, m := range system {
		systemRows[i] = systemMetricRow{RunName: m.RunName, Timestamp: m.Timestamp, MetricsJSON: m.MetricsJSON}
	}
	if err := parquet.WriteFile(systemPath, systemRows); err != nil {
		return fmt.Errorf("write %s: %w", systemPath, err)
	}

	configRows := make([]configRow, len(configs))
	for i, c := range configs {
		configRows[i] = configRow{RunName: c.RunName, Config: c.Config, CreatedAt: c.CreatedAt}
	}
	if err := parquet.WriteFile(configsPath, configRows); err != nil {
		return fmt.Errorf("write %s: %w", configsPath, err)
	}

	s.logger.Info("exported snapshot", tlog.ProjectKey, project,
		"metrics_rows", len(metricRows), "system_rows", len(systemRows), "config_rows", len(configRows))

	if s.upload == nil {
		return nil
	}
	return s.uploadAll(ctx, project, metricsPath, systemPath, configsPath)
}

func (s *Snapshotter) uploadAll(ctx context.Context, project, metricsPath, systemPath, configsPath string) error {
	for _, path := range []string{metricsPath, systemPath, configsPath} {
		key := project + "/" + filepath.Base(path)
		if err := s.upload.Upload(ctx, path, key); err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
	}

	mediaDir := filepath.Join(s.settings.MediaDir, project)
	return filepath.Walk(mediaDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.settings.MediaDir, path)
		if err != nil {
			return err
		}
		return s.upload.Upload(ctx, path, filepath.ToSlash(rel))
	})
}

// Import reads project's parquet files and inserts every row they hold
// into st, the process-start reverse direction of Export. Metric and
// system-metric rows already present in st are not detected and are
// inserted again; config rows are upserted by run name.
func (s *Snapshotter) Import(ctx context.Context, project string, st *store.Store) error {
	metricsPath, systemPath, configsPath := s.settings.ParquetPaths(project)

	if rows, err := readParquet[metricRow](metricsPath); err == nil {
		for _, r := range rows {
			if err := st.RestoreMetricsRow(ctx, store.RawMetricRow{
				RunName: r.RunName, Step: r.Step, Timestamp: r.Timestamp, MetricsJSON: r.MetricsJSON,
			}); err != nil {
				return fmt.Errorf("restore metrics row: %w", err)
			}
		}
	}

	if rows, err := readParquet[systemMetricRow](systemPath); err == nil {
		for _, r := range rows {
			if err := st.RestoreSystemMetricsRow(ctx, store.RawSystemMetricRow{
				RunName: r.RunName, Timestamp: r.Timestamp, MetricsJSON: r.MetricsJSON,
			}); err != nil {
				return fmt.Errorf("restore system metrics row: %w", err)
			}
		}
	}

	if rows, err := readParquet[configRow](configsPath); err == nil {
		for _, r := range rows {
			if err := st.RestoreConfigRow(ctx, store.RawConfigRow{
				RunName: r.RunName, Config: r.Config, CreatedAt: r.CreatedAt,
			}); err != nil {
				return fmt.Errorf("restore config row: %w", err)
			}
		}
	}

	return nil
}

func readParquet[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// Ticker runs Export against every project whose database is newer than
// its snapshot, on a timer, until Stop is called.
type Ticker struct {
	interval time.Duration
	fn       func(ctx context.Context)
	stop     chan struct{}
	done     chan struct{}
}

const defaultInterval = 5 * time.Minute

// NewTicker starts a background loop calling fn every interval (default
// 5m if interval <= 0).
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

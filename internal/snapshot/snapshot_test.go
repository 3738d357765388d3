package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trackhive/trackhive/internal/config"
	"github.com/trackhive/trackhive/internal/store"
)

func newTestSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	s := &config.Settings{Dir: dir, MediaDir: filepath.Join(dir, "media")}
	require.NoError(t, os.MkdirAll(s.MediaDir, 0o755))
	return s
}

func openTestStore(t *testing.T, settings *config.Settings, project string) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), project, settings.DBPath(project))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestExportWritesParquetFiles(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	st := openTestStore(t, settings, "demo")

	require.NoError(t, st.BulkLog(ctx, store.LogBatch{
		Run:        "swift-otter-1",
		Metrics:    []map[string]any{{"loss": 0.5}, {"loss": 0.4}},
		Steps:      []*int{nil, nil},
		Timestamps: []string{"", ""},
		LogIDs:     []string{"", ""},
	}))

	snap := New(settings, nil, nil)
	require.NoError(t, snap.Export(ctx, "demo", st))

	metricsPath, systemPath, configsPath := settings.ParquetPaths("demo")
	for _, p := range []string{metricsPath, systemPath, configsPath} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		require.Greater(t, info.Size(), int64(0))
	}
}

func TestNeedsExportReflectsMtimeComparison(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	st := openTestStore(t, settings, "demo")

	snap := New(settings, nil, nil)
	require.True(t, snap.NeedsExport("demo"), "no snapshot yet, export is needed")

	require.NoError(t, snap.Export(ctx, "demo", st))
	require.False(t, snap.NeedsExport("demo"), "freshly exported snapshot is newer than the db")

	metricsPath, _, _ := settings.ParquetPaths("demo")
	older := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(metricsPath, older, older))
	require.True(t, snap.NeedsExport("demo"), "db modified after snapshot should trigger re-export")
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	src := openTestStore(t, settings, "demo")

	require.NoError(t, src.BulkLog(ctx, store.LogBatch{
		Run:        "swift-otter-1",
		Metrics:    []map[string]any{{"loss": 0.5}},
		Steps:      []*int{nil},
		Timestamps: []string{""},
		LogIDs:     []string{""},
	}))
	require.NoError(t, src.SetConfig(ctx, "swift-otter-1", map[string]any{"lr": 0.01}))

	snap := New(settings, nil, nil)
	require.NoError(t, snap.Export(ctx, "demo", src))

	otherSettings := newTestSettings(t)
	dst := openTestStore(t, otherSettings, "demo")

	metricsPath, systemPath, configsPath := settings.ParquetPaths("demo")
	dstMetrics, dstSystem, dstConfigs := otherSettings.ParquetPaths("demo")
	require.NoError(t, copyFile(metricsPath, dstMetrics))
	require.NoError(t, copyFile(systemPath, dstSystem))
	require.NoError(t, copyFile(configsPath, dstConfigs))

	importSnap := New(otherSettings, nil, nil)
	require.NoError(t, importSnap.Import(ctx, "demo", dst))

	rows, err := dst.AllMetricsRaw(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "swift-otter-1", rows[0].RunName)

	configs, err := dst.AllConfigsRaw(ctx)
	require.NoError(t, err)
	require.Len(t, configs, 1)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

type fakeUploader struct {
	uploaded []string
}

func (f *fakeUploader) Upload(_ context.Context, localPath, remoteKey string) error {
	f.uploaded = append(f.uploaded, remoteKey)
	return nil
}

func TestExportUploadsWhenUploaderConfigured(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	st := openTestStore(t, settings, "demo")

	uploader := &fakeUploader{}
	snap := New(settings, uploader, nil)
	require.NoError(t, snap.Export(ctx, "demo", st))

	require.Len(t, uploader.uploaded, 3)
}

func TestSweepExportsStaleProjects(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	st := openTestStore(t, settings, "demo")

	require.NoError(t, st.BulkLog(ctx, store.LogBatch{
		Run:     "swift-otter-1",
		Metrics: []map[string]any{{"loss": 0.5}},
	}))

	snap := New(settings, nil, nil)
	snap.Sweep(ctx)

	metricsPath, _, _ := settings.ParquetPaths("demo")
	_, err := os.Stat(metricsPath)
	require.NoError(t, err, "sweep should have exported the stale project")
}

func TestImportMissingRebuildsDeletedDatabase(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	st := openTestStore(t, settings, "demo")

	require.NoError(t, st.BulkLog(ctx, store.LogBatch{
		Run:     "swift-otter-1",
		Metrics: []map[string]any{{"loss": 0.5}},
	}))

	snap := New(settings, nil, nil)
	require.NoError(t, snap.Export(ctx, "demo", st))
	require.NoError(t, st.Close())

	dbPath := settings.DBPath("demo")
	require.NoError(t, os.Remove(dbPath))
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")

	require.NoError(t, snap.ImportMissing(ctx))

	rebuilt := openTestStore(t, settings, "demo")
	logs, err := rebuilt.GetLogs(ctx, "swift-otter-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestTickerStopsCleanly(t *testing.T) {
	calls := make(chan struct{}, 4)
	ticker := NewTicker(5*time.Millisecond, func(ctx context.Context) {
		select {
		case calls <- struct{}{}:
		default:
		}
	})
	time.Sleep(30 * time.Millisecond)
	ticker.Stop()
	require.NotEmpty(t, calls)
}

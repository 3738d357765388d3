package store

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackhive/trackhive/internal/lock"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proj.db")
	s, err := Open(context.Background(), "proj", path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBulkLogAssignsMonotonicSteps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.BulkLog(ctx, LogBatch{
		Run:     "run-1",
		Metrics: []map[string]any{{"loss": 1.0}, {"loss": 0.9}},
	})
	require.NoError(t, err)

	logs, err := s.GetLogs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 0, logs[0].Step)
	assert.Equal(t, 1, logs[1].Step)
}

func TestBulkLogIdempotentOnLogID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := LogBatch{
		Run:     "run-1",
		Metrics: []map[string]any{{"loss": 1.0}},
		LogIDs:  []string{"abc-123"},
	}

	require.NoError(t, s.BulkLog(ctx, batch))
	require.NoError(t, s.BulkLog(ctx, batch))

	logs, err := s.GetLogs(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestBulkLogRoundTripsNonFiniteFloats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BulkLog(ctx, LogBatch{
		Run:     "run-1",
		Metrics: []map[string]any{{"loss": math.Inf(1), "acc": math.Inf(-1), "f1": math.NaN(), "ok": 0.5}},
	}))

	logs, err := s.GetLogs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	m := logs[0].Metrics
	assert.True(t, math.IsInf(m["loss"].(float64), 1))
	assert.True(t, math.IsInf(m["acc"].(float64), -1))
	assert.True(t, math.IsNaN(m["f1"].(float64)))
	assert.Equal(t, 0.5, m["ok"])
}

func TestConcurrentLockedWritersNeverCollideOnSteps(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "proj.db")
	lockPath := filepath.Join(dir, "proj.lock")

	const writers = 4
	const batchesPerWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			st, err := Open(ctx, "proj", dbPath)
			if err != nil {
				errs <- err
				return
			}
			defer st.Close()

			for b := 0; b < batchesPerWriter; b++ {
				err := lock.With(ctx, "proj", lockPath, func() error {
					return st.BulkLog(ctx, LogBatch{
						Run:     "shared-run",
						Metrics: []map[string]any{{"writer": id}},
					})
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	verify, err := Open(ctx, "proj", dbPath)
	require.NoError(t, err)
	defer verify.Close()

	logs, err := verify.GetLogs(ctx, "shared-run")
	require.NoError(t, err)
	require.Len(t, logs, writers*batchesPerWriter)

	seen := make(map[int]bool, len(logs))
	for _, l := range logs {
		require.False(t, seen[l.Step], "duplicate step %d", l.Step)
		seen[l.Step] = true
	}
}

func TestGetRunsOrderedByFirstTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BulkLog(ctx, LogBatch{
		Run: "second", Metrics: []map[string]any{{"loss": 1.0}},
		Timestamps: []string{"2026-01-02T00:00:00Z"},
	}))
	require.NoError(t, s.BulkLog(ctx, LogBatch{
		Run: "first", Metrics: []map[string]any{{"loss": 1.0}},
		Timestamps: []string{"2026-01-01T00:00:00Z"},
	}))

	runs, err := s.GetRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, runs)
}

func TestDeleteRunRemovesAllRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BulkLog(ctx, LogBatch{Run: "r", Metrics: []map[string]any{{"loss": 1.0}}}))
	require.NoError(t, s.SetConfig(ctx, "r", map[string]any{"lr": 0.01}))

	require.NoError(t, s.DeleteRun(ctx, "r"))

	logs, err := s.GetLogs(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, logs)

	cfg, err := s.GetConfig(ctx, "r")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestMoveRunCopiesAndRewritesPaths(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	dst := openTestStore(t)

	desc := map[string]any{
		"image": map[string]any{
			"_type":     "image",
			"file_path": "proj/run-a/0/pic.png",
		},
	}
	require.NoError(t, src.BulkLog(ctx, LogBatch{Run: "run-a", Metrics: []map[string]any{desc}}))
	require.NoError(t, src.SetConfig(ctx, "run-a", map[string]any{"lr": 0.01}))

	require.NoError(t, MoveRun(ctx, src, dst, "proj", "proj2", "run-a"))

	srcLogs, err := src.GetLogs(ctx, "run-a")
	require.NoError(t, err)
	assert.Empty(t, srcLogs)

	dstLogs, err := dst.GetLogs(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, dstLogs, 1)
	img := dstLogs[0].Metrics["image"].(map[string]any)
	assert.Equal(t, "proj2/run-a/0/pic.png", img["file_path"])

	dstConfig, err := dst.GetConfig(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, 0.01, dstConfig["lr"])
}

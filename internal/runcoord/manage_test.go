package runcoord

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	trackerrors "github.com/trackhive/trackhive/internal/errors"
)

func TestMoveRunMovesRowsAndMedia(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	run, err := c.Init(ctx, InitOptions{Project: "src", Name: "ported-run"})
	require.NoError(t, err)

	desc, err := run.SaveArtifact(ctx, "image", "png", strings.NewReader("png-bytes"), 0, "a chart")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(desc.FilePath, "src/ported-run/0/"))

	require.NoError(t, run.Log(map[string]any{"chart": desc.ToMap()}, nil))
	run.Finish()

	require.NoError(t, c.MoveRun(ctx, "src", "dst", "ported-run"))

	dstStore, err := c.storeFor(ctx, "dst")
	require.NoError(t, err)
	logs, err := dstStore.GetLogs(ctx, "ported-run")
	require.NoError(t, err)
	require.Len(t, logs, 1)

	img := logs[0].Metrics["chart"].(map[string]any)
	newPath := img["file_path"].(string)
	require.True(t, strings.HasPrefix(newPath, "dst/ported-run/"), "got %q", newPath)

	_, err = os.Stat(filepath.Join(settings.MediaDir, filepath.FromSlash(newPath)))
	require.NoError(t, err, "moved artifact file should exist at the new path")

	_, err = os.Stat(filepath.Join(settings.MediaDir, "src", "ported-run"))
	require.True(t, os.IsNotExist(err), "old media directory should be gone")

	srcStore, err := c.storeFor(ctx, "src")
	require.NoError(t, err)
	srcRuns, err := srcStore.GetRuns(ctx)
	require.NoError(t, err)
	require.NotContains(t, srcRuns, "ported-run")
}

func TestRenameRunRejectsExistingTarget(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	first, err := c.Init(ctx, InitOptions{Project: "demo", Name: "alpha"})
	require.NoError(t, err)
	require.NoError(t, first.Log(map[string]any{"loss": 1.0}, nil))
	first.Finish()

	second, err := c.Init(ctx, InitOptions{Project: "demo", Name: "beta"})
	require.NoError(t, err)
	require.NoError(t, second.Log(map[string]any{"loss": 2.0}, nil))
	second.Finish()

	err = c.RenameRun(ctx, "demo", "alpha", "beta")
	var conflict *trackerrors.RunConflictError
	require.True(t, errors.As(err, &conflict))
}

func TestRenameRunRewritesRows(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	run, err := c.Init(ctx, InitOptions{Project: "demo", Name: "old-name"})
	require.NoError(t, err)
	require.NoError(t, run.Log(map[string]any{"loss": 0.5}, nil))
	run.Finish()

	require.NoError(t, c.RenameRun(ctx, "demo", "old-name", "new-name"))

	st, err := c.storeFor(ctx, "demo")
	require.NoError(t, err)
	runs, err := st.GetRuns(ctx)
	require.NoError(t, err)
	require.Contains(t, runs, "new-name")
	require.NotContains(t, runs, "old-name")
}

func TestDeleteRunRemovesRowsAndMedia(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	run, err := c.Init(ctx, InitOptions{Project: "demo", Name: "doomed"})
	require.NoError(t, err)
	_, err = run.SaveArtifact(ctx, "image", "png", strings.NewReader("bytes"), 0, "")
	require.NoError(t, err)
	require.NoError(t, run.Log(map[string]any{"loss": 0.5}, nil))
	run.Finish()

	require.NoError(t, c.DeleteRun(ctx, "demo", "doomed"))

	st, err := c.storeFor(ctx, "demo")
	require.NoError(t, err)
	logs, err := st.GetLogs(ctx, "doomed")
	require.NoError(t, err)
	require.Empty(t, logs)

	_, err = os.Stat(filepath.Join(settings.MediaDir, "demo", "doomed"))
	require.True(t, os.IsNotExist(err))
}

func TestSaveArtifactRecordsPendingUploadInRemoteMode(t *testing.T) {
	ctx := context.Background()
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	remote := &capturingSink{}
	run, err := c.Init(ctx, InitOptions{Project: "demo", Name: "remote-run", SpaceID: "space-1", RemoteSink: remote})
	require.NoError(t, err)
	defer run.Finish()

	_, err = run.SaveArtifact(ctx, "image", "png", strings.NewReader("bytes"), 3, "")
	require.NoError(t, err)

	pending, err := run.store.ListPendingUploads(ctx, "space-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "remote-run", pending[0].Run)
	require.NotNil(t, pending[0].Step)
	require.Equal(t, 3, *pending[0].Step)
}

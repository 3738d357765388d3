package runcoord

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trackhive/trackhive/internal/config"
	"github.com/trackhive/trackhive/internal/sender"
)

func newTestSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	return &config.Settings{Dir: dir, MediaDir: filepath.Join(dir, "media")}
}

func TestInitGeneratesReadableNameAndLogsFlushOnFinish(t *testing.T) {
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	run, err := c.Init(context.Background(), InitOptions{Project: "demo"})
	require.NoError(t, err)
	require.NotEmpty(t, run.Name())
	require.Equal(t, StateActive, run.State())

	require.NoError(t, run.Log(map[string]any{"loss": 0.5}, nil))
	run.Finish()
	require.Equal(t, StateFinished, run.State())

	logs, err := run.store.GetLogs(context.Background(), run.Name())
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestInitResumeMustRequiresExistingRun(t *testing.T) {
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	_, err := c.Init(context.Background(), InitOptions{Project: "demo", Name: "missing-run", Resume: ResumeMust})
	require.Error(t, err)
}

func TestInitResumeMustResumesExistingRun(t *testing.T) {
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	first, err := c.Init(context.Background(), InitOptions{Project: "demo", Name: "steady-run"})
	require.NoError(t, err)
	require.NoError(t, first.Log(map[string]any{"loss": 1.0}, nil))
	first.Finish()

	second, err := c.Init(context.Background(), InitOptions{Project: "demo", Name: "steady-run", Resume: ResumeMust})
	require.NoError(t, err)
	require.Equal(t, "steady-run", second.Name())
	second.Finish()
}

func TestReservedKeysAreRenamedNotRejected(t *testing.T) {
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	run, err := c.Init(context.Background(), InitOptions{Project: "demo"})
	require.NoError(t, err)
	require.NoError(t, run.Log(map[string]any{"step": 5, "loss": 0.1}, nil))
	run.Finish()

	logs, err := run.store.GetLogs(context.Background(), run.Name())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	_, renamed := logs[0].Metrics["__step"]
	require.True(t, renamed)
}

func TestLogAfterFinishIsRejected(t *testing.T) {
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	run, err := c.Init(context.Background(), InitOptions{Project: "demo"})
	require.NoError(t, err)
	run.Finish()

	err = run.Log(map[string]any{"loss": 0.1}, nil)
	require.Error(t, err)
}

func TestDunderPrefixedKeyIsRejected(t *testing.T) {
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	run, err := c.Init(context.Background(), InitOptions{Project: "demo"})
	require.NoError(t, err)
	defer run.Finish()

	err = run.Log(map[string]any{"__hidden": 1}, nil)
	require.Error(t, err)
}

type capturingSink struct {
	mu      sync.Mutex
	entries []sender.Entry
}

func (c *capturingSink) Send(_ context.Context, _ string, entries []sender.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
	return nil
}

func TestRemoteSinkIsWrappedInDurableBuffer(t *testing.T) {
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	remote := &capturingSink{}
	run, err := c.Init(context.Background(), InitOptions{
		Project: "demo", SpaceID: "space-1", RemoteSink: remote,
	})
	require.NoError(t, err)

	require.NoError(t, run.Log(map[string]any{"loss": 0.2}, nil))
	run.Finish()

	// The durable sink always commits locally first, regardless of remote
	// outcome, so the local store has the row even though delivery went
	// through the fake remote above.
	logs, err := run.store.GetLogs(context.Background(), run.Name())
	require.NoError(t, err)
	require.Len(t, logs, 1)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	require.Len(t, remote.entries, 1)
}

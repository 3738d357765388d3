package runcoord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSystemMonitorSamplesIntoSystemChannel(t *testing.T) {
	settings := newTestSettings(t)
	c := New(settings, nil)
	defer c.Close()

	run, err := c.Init(context.Background(), InitOptions{
		Project:               "demo",
		Name:                  "monitored",
		SystemMonitorInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		logs, err := run.store.GetSystemLogs(context.Background(), "monitored")
		return err == nil && len(logs) > 0
	}, 5*time.Second, 50*time.Millisecond)

	run.Finish()

	logs, err := run.store.GetSystemLogs(context.Background(), "monitored")
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	_, ok := logs[0].Metrics["goroutines"]
	require.True(t, ok)
}

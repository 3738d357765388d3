package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trackhive/trackhive/internal/sender"
	"github.com/trackhive/trackhive/internal/store"
)

type fakeRemote struct {
	mu      sync.Mutex
	fail    bool
	batches [][]sender.Entry
}

func (f *fakeRemote) Send(_ context.Context, _ string, entries []sender.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errBoom
	}
	f.batches = append(f.batches, entries)
	return nil
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/demo.db"
	st, err := store.Open(context.Background(), "demo", path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, dir + "/demo.lock"
}

func TestDurableSinkRetainsMarkersOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	st, lockPath := newTestStore(t)
	remote := &fakeRemote{fail: true}

	sink := &DurableSink{Local: st, LockPath: lockPath, Project: "demo", SpaceID: "space-1", Remote: remote, System: false}
	err := sink.Send(ctx, "swift-otter-1", []sender.Entry{
		{LogID: "log-1", Metrics: map[string]any{"loss": 0.5}},
	})
	require.NoError(t, err, "durable sink swallows remote failure, data is already buffered locally")

	pending, err := st.PendingDelivery(ctx, "space-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestDurableSinkClearsMarkersOnRemoteSuccess(t *testing.T) {
	ctx := context.Background()
	st, lockPath := newTestStore(t)
	remote := &fakeRemote{}

	sink := &DurableSink{Local: st, LockPath: lockPath, Project: "demo", SpaceID: "space-1", Remote: remote, System: false}
	err := sink.Send(ctx, "swift-otter-1", []sender.Entry{
		{LogID: "log-1", Metrics: map[string]any{"loss": 0.5}},
	})
	require.NoError(t, err)

	pending, err := st.PendingDelivery(ctx, "space-1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestTickerInvokesAndStops(t *testing.T) {
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

func TestReconcileProjectReplaysBacklog(t *testing.T) {
	ctx := context.Background()
	st, lockPath := newTestStore(t)
	failing := &fakeRemote{fail: true}

	sink := &DurableSink{Local: st, LockPath: lockPath, Project: "demo", SpaceID: "space-1", Remote: failing, System: false}
	require.NoError(t, sink.Send(ctx, "swift-otter-1", []sender.Entry{
		{LogID: "log-1", Metrics: map[string]any{"loss": 0.5}},
	}))

	recovered := &fakeRemote{}
	report, err := ReconcileProject(ctx, st, nil, "demo", "space-1", recovered, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.MetricsReplayed)

	pending, err := st.PendingDelivery(ctx, "space-1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveFlushRecordsOutcomeLabel(t *testing.T) {
	before := testutil.CollectAndCount(FlushLatency)
	ObserveFlush("local", time.Now(), nil)
	ObserveFlush("local", time.Now(), errors.New("boom"))
	after := testutil.CollectAndCount(FlushLatency)
	require.Greater(t, after, before)
}

func TestObserveLockWaitRecordsProjectLabel(t *testing.T) {
	before := testutil.CollectAndCount(LockWaitLatency)
	ObserveLockWait("demo", time.Now())
	after := testutil.CollectAndCount(LockWaitLatency)
	require.Greater(t, after, before)
}

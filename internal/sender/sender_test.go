package sender

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]Entry
	failNext bool
}

func (f *fakeSink) Send(_ context.Context, _ string, entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.batches = append(f.batches, entries)
	return nil
}

func TestWorkerFlushesOnFinish(t *testing.T) {
	sink := &fakeSink{}
	w := NewWorker("run-1", sink, nil, nil)

	w.Enqueue(Entry{Metrics: map[string]any{"loss": 1.0}})
	w.Enqueue(Entry{Metrics: map[string]any{"loss": 0.9}})
	w.Finish()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
}

func TestWorkerFallbackOnSinkFailure(t *testing.T) {
	sink := &fakeSink{failNext: true}

	var fallbackRun string
	var fallbackEntries []Entry
	fallback := func(run string, entries []Entry) {
		fallbackRun = run
		fallbackEntries = entries
	}

	w := NewWorker("run-1", sink, fallback, nil)
	w.Enqueue(Entry{Metrics: map[string]any{"loss": 1.0}})
	w.Finish()

	assert.Equal(t, "run-1", fallbackRun)
	assert.Len(t, fallbackEntries, 1)
}

func TestWorkerPeriodicFlush(t *testing.T) {
	sink := &fakeSink{}
	w := NewWorker("run-1", sink, nil, nil)
	defer w.Finish()

	w.Enqueue(Entry{Metrics: map[string]any{"loss": 1.0}})

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.batches) == 1
	}, 2*time.Second, 50*time.Millisecond)
}

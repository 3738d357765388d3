// Package sender implements the per-run background batch worker: it
// absorbs unbounded-rate Log calls without blocking the caller, coalesces
// them on a 500ms timer with a pending-list swap under a short lock, and
// ships each batch to a sink exactly-once-eventually, handing failed
// batches to a fallback instead of dropping them.
package sender

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	tlog "github.com/trackhive/trackhive/internal/log"
	"github.com/trackhive/trackhive/internal/telemetry"
)

const (
	flushInterval = 500 * time.Millisecond
	joinTimeout   = 2 * time.Second
)

// Entry is one queued log call awaiting delivery.
type Entry struct {
	Step      *int
	Timestamp string
	LogID     string
	Metrics   map[string]any
}

// Sink delivers a batch of entries for run. A non-nil error is treated as
// a failed flush: the worker hands the batch to Fallback and continues.
type Sink interface {
	Send(ctx context.Context, run string, entries []Entry) error
}

// Fallback receives a batch that failed delivery; what happens to the
// batch is up to the caller (runcoord re-enqueues it on the same worker).
type Fallback func(run string, entries []Entry)

// Worker is the background flush loop for a single run.
type Worker struct {
	run      string
	sink     Sink
	fallback Fallback
	logger   *slog.Logger

	mu      sync.Mutex
	pending []Entry

	stop chan struct{}
	done chan struct{}
}

// NewWorker starts a worker for run. Call Enqueue to append log calls and
// Finish to flush and stop it.
func NewWorker(run string, sink Sink, fallback Fallback, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		run:      run,
		sink:     sink,
		fallback: fallback,
		logger:   tlog.WithComponent(logger, "sender").With(tlog.RunKey, run),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue appends entry to the pending batch. It never blocks on I/O.
func (w *Worker) Enqueue(entry Entry) {
	w.mu.Lock()
	w.pending = append(w.pending, entry)
	w.mu.Unlock()
}

func (w *Worker) loop() {
	defer close(w.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

func (w *Worker) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	ctx, span := telemetry.Tracer.Start(ctx, "sender.flush")
	span.SetAttributes(attribute.String("run", w.run), attribute.Int("batch_size", len(batch)))
	start := time.Now()
	err := w.sink.Send(ctx, w.run, batch)
	telemetry.ObserveFlush("queue", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Warn("flush failed, buffering for reconciliation",
			tlog.BatchSizeKey, len(batch), tlog.Error(err))
		if w.fallback != nil {
			w.fallback(w.run, batch)
		}
	} else {
		telemetry.FlushedEntries.WithLabelValues("queue").Add(float64(len(batch)))
	}
	span.End()
}

// Finish signals the worker to stop, performs one final synchronous
// flush, and waits up to 2 seconds for the loop to exit.
func (w *Worker) Finish() {
	close(w.stop)
	select {
	case <-w.done:
	case <-time.After(joinTimeout):
		w.logger.Warn("sender worker did not stop within join timeout")
	}
}

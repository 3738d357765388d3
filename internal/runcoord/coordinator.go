// Package runcoord coordinates run lifecycles: naming, resume semantics,
// config capture, alerting, batch-sender wiring, and termination. Step
// monotonicity is delegated to the project store, which assigns steps
// inside the insert transaction.
package runcoord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trackhive/trackhive/internal/artifact"
	"github.com/trackhive/trackhive/internal/config"
	trackerrors "github.com/trackhive/trackhive/internal/errors"
	"github.com/trackhive/trackhive/internal/lock"
	tlog "github.com/trackhive/trackhive/internal/log"
	"github.com/trackhive/trackhive/internal/reconciler"
	"github.com/trackhive/trackhive/internal/sender"
	"github.com/trackhive/trackhive/internal/store"
	"github.com/trackhive/trackhive/internal/telemetry"
)

// ResumeMode controls how Init treats a name collision.
type ResumeMode string

const (
	ResumeNever ResumeMode = "never"
	ResumeAllow ResumeMode = "allow"
	ResumeMust  ResumeMode = "must"
)

// Coordinator owns the per-project stores and artifact root shared by
// every Run created in this process, plus the process-wide name
// generator.
type Coordinator struct {
	settings *config.Settings
	artifact *artifact.Store
	logger   *slog.Logger

	mu      sync.Mutex
	stores  map[string]*store.Store
	names   *nameGenerator
	current *Run // process-wide "current run" ambient slot
}

// New builds a Coordinator rooted at settings.
func New(settings *config.Settings, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		settings: settings,
		artifact: artifact.New(settings.MediaDir),
		logger:   tlog.WithComponent(logger, "runcoord"),
		stores:   make(map[string]*store.Store),
		names:    newNameGenerator(),
	}
}

// InitOptions configures Init.
type InitOptions struct {
	Project    string
	Name       string
	Resume     ResumeMode
	Config     map[string]any
	SpaceID    string      // tags durable-buffer rows and pending uploads; RemoteSink, not SpaceID, selects remote mode
	RemoteSink sender.Sink // caller-provided remote adapter; nil means local-only
	Identity   string      // SPACE_AUTHOR_NAME-style identity for remote naming

	// SystemMonitorInterval, when positive, starts a per-run background
	// sampler feeding process telemetry into the system-metric channel.
	// Zero leaves the monitor off.
	SystemMonitorInterval time.Duration
}

// Init opens (or creates) the named run following resume semantics and
// starts its batch sender workers.
func (c *Coordinator) Init(ctx context.Context, opts InitOptions) (*Run, error) {
	project := config.SanitizeProject(opts.Project)

	st, err := c.storeFor(ctx, project)
	if err != nil {
		return nil, err
	}

	existingRuns, err := st.GetRuns(ctx)
	if err != nil {
		return nil, err
	}
	exists := func(name string) bool {
		for _, r := range existingRuns {
			if r == name {
				return true
			}
		}
		return false
	}

	name, err := c.resolveName(opts, exists)
	if err != nil {
		return nil, err
	}

	if opts.Config != nil {
		if err := lock.With(ctx, project, c.settings.LockPath(project), func() error {
			return st.SetConfig(ctx, name, opts.Config)
		}); err != nil {
			return nil, fmt.Errorf("capture config: %w", err)
		}
	}

	run := &Run{
		project:     project,
		name:        name,
		config:      opts.Config,
		spaceID:     opts.SpaceID,
		store:       st,
		artifact:    c.artifact,
		settings:    c.settings,
		logger:      c.logger.With(tlog.ProjectKey, project, tlog.RunKey, name),
		coordinator: c,
	}
	run.state.Store(int32(StateActive))

	localSink := &storeSink{store: st, lockPath: c.settings.LockPath(project), project: project, system: false}
	localSystemSink := &storeSink{store: st, lockPath: c.settings.LockPath(project), project: project, system: true}

	var metricSink, systemSink sender.Sink = localSink, localSystemSink
	if opts.RemoteSink != nil {
		// Remote-mode runs get the durable-buffer guarantee: every
		// batch is committed locally with log_id/space_id markers before
		// the remote round trip, so a crash or a transient remote failure
		// never loses data, only delays it until the next reconcile pass.
		metricSink = &reconciler.DurableSink{
			Local: st, LockPath: c.settings.LockPath(project), Project: project,
			SpaceID: opts.SpaceID, Remote: opts.RemoteSink, System: false, Logger: c.logger,
		}
		systemSink = &reconciler.DurableSink{
			Local: st, LockPath: c.settings.LockPath(project), Project: project,
			SpaceID: opts.SpaceID, Remote: opts.RemoteSink, System: true, Logger: c.logger,
		}
	}

	run.worker = sender.NewWorker(name, metricSink, run.bufferFallback, run.logger)
	run.systemWorker = sender.NewWorker(name, systemSink, run.bufferSystemFallback, run.logger)

	if opts.SystemMonitorInterval > 0 {
		run.monitor = startSystemMonitor(run, opts.SystemMonitorInterval)
	}

	c.mu.Lock()
	c.current = run
	c.mu.Unlock()

	run.logger.Info("run initialized", "resume", opts.Resume)
	return run, nil
}

// Current returns the process-wide ambient run set by the most recent
// Init, or nil if none is active. The ambient slot is a convenience;
// callers that need per-goroutine runs should retain the *Run returned
// by Init directly.
func (c *Coordinator) Current() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// clearCurrent detaches the ambient run slot, called by Run.Finish.
func (c *Coordinator) clearCurrent(r *Run) {
	c.mu.Lock()
	if c.current == r {
		c.current = nil
	}
	c.mu.Unlock()
}

func (c *Coordinator) resolveName(opts InitOptions, exists func(string) bool) (string, error) {
	switch opts.Resume {
	case ResumeMust:
		if opts.Name == "" {
			return "", &trackerrors.ValidationError{Field: "name", Message: "resume=must requires a run name"}
		}
		if !exists(opts.Name) {
			return "", &trackerrors.RunNotFoundError{Project: opts.Project, Run: opts.Name}
		}
		return opts.Name, nil

	case ResumeAllow:
		if opts.Name != "" {
			return opts.Name, nil
		}
		return c.generateName(opts, exists), nil

	default: // ResumeNever, "" treated as never
		if opts.Name == "" || !exists(opts.Name) {
			if opts.Name != "" {
				return opts.Name, nil
			}
			return c.generateName(opts, exists), nil
		}
		// Collision: generate a fresh name instead of reusing the
		// existing run's data.
		return c.generateName(opts, exists), nil
	}
}

// generateName picks a readable name, or "<user>-<unix_seconds>" when a
// remote identity is supplied.
func (c *Coordinator) generateName(opts InitOptions, exists func(string) bool) string {
	if opts.Identity != "" {
		for {
			name := fmt.Sprintf("%s-%d", opts.Identity, time.Now().Unix())
			if !exists(name) {
				return name
			}
			time.Sleep(time.Second)
		}
	}
	return c.names.generate(exists)
}

func (c *Coordinator) storeFor(ctx context.Context, project string) (*store.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.stores[project]; ok {
		return st, nil
	}
	st, err := store.Open(ctx, project, c.settings.DBPath(project))
	if err != nil {
		return nil, err
	}
	c.stores[project] = st
	return st, nil
}

// Close closes every project store opened by this Coordinator.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, st := range c.stores {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// storeSink adapts the project store to the sender.Sink interface,
// acquiring the per-project process lock for the duration of the write
// so concurrent multi-process writers never hit "database is locked".
type storeSink struct {
	store    *store.Store
	lockPath string
	project  string
	system   bool
}

func (s *storeSink) Send(ctx context.Context, run string, entries []sender.Entry) error {
	start := time.Now()
	batch := store.LogBatch{Run: run}
	for _, e := range entries {
		batch.Metrics = append(batch.Metrics, e.Metrics)
		batch.Steps = append(batch.Steps, e.Step)
		batch.Timestamps = append(batch.Timestamps, e.Timestamp)
		batch.LogIDs = append(batch.LogIDs, e.LogID)
	}

	err := lock.With(ctx, s.project, s.lockPath, func() error {
		if s.system {
			return s.store.BulkLogSystem(ctx, batch)
		}
		return s.store.BulkLog(ctx, batch)
	})

	telemetry.ObserveFlush("local", start, err)
	if err == nil {
		telemetry.FlushedEntries.WithLabelValues("local").Add(float64(len(entries)))
	}
	return err
}

// newLogID generates a fresh idempotency key for a queued entry.
func newLogID() string {
	return uuid.New().String()
}

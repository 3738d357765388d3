// Package trackhive is the client API surface: Init starts a run,
// Run.Log/LogSystem/Alert/Finish drive it, and a set of package-level
// convenience wrappers operate on the process's current ambient run.
//
// Go has no goroutine-local storage, so the "current run" is a single
// atomic.Pointer[Run]: callers that need more than one concurrently
// active run in the same process should hold the *Run returned by Init
// directly instead of using the package-level helpers.
package trackhive

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trackhive/trackhive/internal/config"
	trackerrors "github.com/trackhive/trackhive/internal/errors"
	"github.com/trackhive/trackhive/internal/remotesink"
	"github.com/trackhive/trackhive/internal/runcoord"
	"github.com/trackhive/trackhive/internal/secrets"
	"github.com/trackhive/trackhive/internal/sender"
	"github.com/trackhive/trackhive/internal/snapshot"
	"github.com/trackhive/trackhive/internal/webhook"
)

// ResumeMode controls how Init treats a name collision with an existing
// run. The zero value is ResumeNever.
type ResumeMode = runcoord.ResumeMode

const (
	ResumeNever ResumeMode = runcoord.ResumeNever
	ResumeAllow ResumeMode = runcoord.ResumeAllow
	ResumeMust  ResumeMode = runcoord.ResumeMust
)

// Level is an alert severity, re-exported from internal/webhook so
// callers never need to import an internal package.
type Level = webhook.Level

const (
	LevelInfo  Level = webhook.LevelInfo
	LevelWarn  Level = webhook.LevelWarn
	LevelError Level = webhook.LevelError
)

var (
	coordinatorOnce sync.Once
	coordinator     *runcoord.Coordinator
	coordinatorErr  error

	current atomic.Pointer[Run]

	snapshotterOnce sync.Once
	snapshotMu      sync.Mutex
	snapshotTicker  *snapshot.Ticker
)

// ensureSnapshotter lazily starts the process-wide snapshotter on first
// Init: any parquet snapshot without a local database is imported first,
// then a background ticker re-exports stale projects every 5 minutes. The
// ticker outlives individual runs deliberately; it stops when the process
// exits.
func ensureSnapshotter(ctx context.Context, settings *config.Settings) {
	snapshotterOnce.Do(func() {
		snap := snapshot.New(settings, snapshot.UploaderFromEnv(), nil)
		if err := snap.ImportMissing(ctx); err != nil {
			slog.Default().Warn("snapshot import on startup failed", "error", err)
		}
		snapshotMu.Lock()
		snapshotTicker = snapshot.NewTicker(0, snap.Sweep)
		snapshotMu.Unlock()
	})
}

// StopSnapshotter halts the background snapshot ticker started by the
// first Init, for hosts that embed the library and want an orderly
// shutdown instead of relying on process exit.
func StopSnapshotter() {
	snapshotMu.Lock()
	defer snapshotMu.Unlock()
	if snapshotTicker != nil {
		snapshotTicker.Stop()
		snapshotTicker = nil
	}
}

func sharedCoordinator() (*runcoord.Coordinator, error) {
	coordinatorOnce.Do(func() {
		settings, err := config.FromEnv()
		if err != nil {
			coordinatorErr = err
			return
		}
		coordinator = runcoord.New(settings, nil)
	})
	return coordinator, coordinatorErr
}

// InitOptions configures Init.
type InitOptions struct {
	Project string
	Name    string
	Resume  ResumeMode
	Config  map[string]any

	// SpaceID selects remote-mirrored mode: when set, every log is
	// durably buffered locally and forwarded to the hosted dashboard at
	// DatasetURL, authenticating with the resolved HF_TOKEN-equivalent
	// credential.
	SpaceID    string
	DatasetURL string
	Identity   string

	// SystemMonitorInterval, when positive, samples process telemetry
	// into the run's system-metric channel on that cadence.
	SystemMonitorInterval time.Duration
}

// Run is a single tracked execution, the handle returned by Init.
type Run struct {
	inner *runcoord.Run
}

// Init opens (or creates, or resumes) a run and starts its batch
// senders, and sets it as the process's current ambient run.
func Init(ctx context.Context, opts InitOptions) (*Run, error) {
	c, err := sharedCoordinator()
	if err != nil {
		return nil, err
	}

	settings, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	ensureSnapshotter(ctx, settings)

	// RemoteSink must stay a nil interface (not a typed nil *Adapter) when
	// no SpaceID is given, so Coordinator.Init's "opts.RemoteSink != nil"
	// check correctly selects local-only mode.
	var remoteSink sender.Sink
	if opts.SpaceID != "" {
		resolver := secrets.NewResolver(settings)
		token, err := resolver.Token(ctx)
		if err != nil {
			return nil, err
		}
		url := opts.DatasetURL
		if url == "" {
			url = settings.DatasetID
		}
		remoteSink = remotesink.New(&http.Client{}, url, opts.Project, token, false)
	}

	inner, err := c.Init(ctx, runcoord.InitOptions{
		Project:               opts.Project,
		Name:                  opts.Name,
		Resume:                opts.Resume,
		Config:                opts.Config,
		SpaceID:               opts.SpaceID,
		RemoteSink:            remoteSink,
		Identity:              opts.Identity,
		SystemMonitorInterval: opts.SystemMonitorInterval,
	})
	if err != nil {
		return nil, err
	}

	r := &Run{inner: inner}
	current.Store(r)
	return r, nil
}

// Current returns the process's ambient run, or nil if none is active.
func Current() *Run {
	return current.Load()
}

// Project returns the run's project namespace.
func (r *Run) Project() string { return r.inner.Project() }

// Name returns the run's unique name within its project.
func (r *Run) Name() string { return r.inner.Name() }

// Log records a batch of metrics, optionally at an explicit step.
func (r *Run) Log(metrics map[string]any, step *int) error {
	return r.inner.Log(metrics, step)
}

// LogSystem records a batch of system telemetry (no step).
func (r *Run) LogSystem(metrics map[string]any) error {
	return r.inner.LogSystem(metrics)
}

// SaveArtifact stores a media payload (image, audio, video, markdown,
// histogram, table bytes) for this run at step and returns the descriptor
// mapping to embed as a metric value in a subsequent Log call. In remote
// mode the file is also queued for upload to the hosted dashboard.
func (r *Run) SaveArtifact(ctx context.Context, kind, ext string, payload io.Reader, step int, caption string) (map[string]any, error) {
	desc, err := r.inner.SaveArtifact(ctx, kind, ext, payload, step, caption)
	if err != nil {
		return nil, err
	}
	return desc.ToMap(), nil
}

// AlertOptions configures Alert.
type AlertOptions struct {
	Level           Level
	Title           string
	Text            string
	Step            *int
	WebhookURL      string
	WebhookMinLevel *Level
}

// Alert appends an alert and, if configured, dispatches a webhook
// notification.
func (r *Run) Alert(ctx context.Context, opts AlertOptions) error {
	return r.inner.Alert(ctx, runcoord.AlertOptions{
		Level:           opts.Level,
		Title:           opts.Title,
		Text:            opts.Text,
		Step:            opts.Step,
		WebhookURL:      opts.WebhookURL,
		WebhookMinLevel: opts.WebhookMinLevel,
	})
}

// Finish flushes both batch senders and transitions the run to Finished.
func (r *Run) Finish() {
	r.inner.Finish()
}

// Log records metrics on the process's current ambient run.
func Log(metrics map[string]any, step *int) error {
	r := Current()
	if r == nil {
		return &trackerrors.ValidationError{Message: "log() called with no current run; call Init first"}
	}
	return r.Log(metrics, step)
}

// LogSystem records system telemetry on the process's current ambient run.
func LogSystem(metrics map[string]any) error {
	r := Current()
	if r == nil {
		return &trackerrors.ValidationError{Message: "log_system() called with no current run; call Init first"}
	}
	return r.LogSystem(metrics)
}

// Alert dispatches an alert on the process's current ambient run.
func Alert(ctx context.Context, opts AlertOptions) error {
	r := Current()
	if r == nil {
		return &trackerrors.ValidationError{Message: "alert() called with no current run; call Init first"}
	}
	return r.Alert(ctx, opts)
}

// Finish finishes the process's current ambient run, if any.
func Finish() {
	r := Current()
	if r == nil {
		return
	}
	r.Finish()
	current.CompareAndSwap(r, nil)
}

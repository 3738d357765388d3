package runcoord

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/trackhive/trackhive/internal/artifact"
	"github.com/trackhive/trackhive/internal/codec"
	"github.com/trackhive/trackhive/internal/config"
	trackerrors "github.com/trackhive/trackhive/internal/errors"
	tlog "github.com/trackhive/trackhive/internal/log"
	"github.com/trackhive/trackhive/internal/sender"
	"github.com/trackhive/trackhive/internal/store"
	"github.com/trackhive/trackhive/internal/webhook"
)

// State is a run's position in its lifecycle state machine.
type State int32

const (
	StateInitializing State = iota
	StateActive
	StateFinishing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// reservedKeys collide with the columns and folded-in fields of a stored
// row and may not be used as metric keys without renaming.
var reservedKeys = map[string]bool{
	"project": true, "run": true, "timestamp": true, "step": true, "time": true,
}

// Run is a single execution within a project, the handle returned by
// Coordinator.Init.
type Run struct {
	project string
	name    string
	config  map[string]any
	spaceID string

	store    *store.Store
	artifact *artifact.Store
	settings *config.Settings
	logger   *slog.Logger

	state        atomic.Int32
	worker       *sender.Worker
	systemWorker *sender.Worker
	monitor      *systemMonitor

	coordinator *Coordinator
}

// Project returns the run's project namespace.
func (r *Run) Project() string { return r.project }

// Name returns the run's unique name within its project.
func (r *Run) Name() string { return r.name }

// Config returns the config captured at Init.
func (r *Run) Config() map[string]any { return r.config }

// State returns the run's current lifecycle state.
func (r *Run) State() State { return State(r.state.Load()) }

// Artifacts exposes the coordinator's shared artifact store, rooted at
// the media root rather than this run's directory, for callers saving
// media ahead of a Log call.
func (r *Run) Artifacts() *artifact.Store { return r.artifact }

// SaveArtifact writes a media payload into the artifact store under this
// run's directory at step and returns the descriptor to embed in a
// subsequent Log call. In remote mode the saved file is also recorded in
// the pending_uploads table so the reconciler delivers it to the remote
// sink even if this process dies first.
func (r *Run) SaveArtifact(ctx context.Context, kind, ext string, payload io.Reader, step int, caption string) (artifact.Descriptor, error) {
	if r.State() != StateActive {
		return artifact.Descriptor{}, &trackerrors.ValidationError{Message: "save_artifact() called on a run that is not active (state=" + r.State().String() + ")"}
	}

	desc, err := r.artifact.Save(kind, ext, payload, r.project, r.name, step)
	if err != nil {
		return artifact.Descriptor{}, err
	}
	desc.Caption = caption

	if r.spaceID != "" {
		abs, err := r.artifact.Resolve(desc)
		if err != nil {
			return artifact.Descriptor{}, err
		}
		s := step
		if err := r.store.AddPendingUpload(ctx, store.PendingUpload{
			SpaceID:      r.spaceID,
			Run:          r.name,
			Step:         &s,
			FilePath:     abs,
			RelativePath: desc.FilePath,
		}); err != nil {
			return artifact.Descriptor{}, err
		}
	}
	return desc, nil
}

// Log validates metric keys, assigns a log ID for idempotent delivery,
// and enqueues the entry on the run's batch sender. It never blocks on
// I/O. Log fails outright when the run is not active, when a key begins
// with "__", or on an encoding cycle in the value graph; reserved keys
// are renamed with a warning instead of rejected.
func (r *Run) Log(metrics map[string]any, step *int) error {
	if r.State() != StateActive {
		return &trackerrors.ValidationError{Message: "log() called on a run that is not active (state=" + r.State().String() + ")"}
	}

	sanitized, err := sanitizeKeys(metrics, r.logger)
	if err != nil {
		return err
	}

	if _, err := codec.Encode(sanitized); err != nil {
		return err
	}

	r.worker.Enqueue(sender.Entry{
		Step:      step,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		LogID:     newLogID(),
		Metrics:   sanitized,
	})
	return nil
}

// LogSystem is the system-telemetry analogue of Log: no step, delivered
// on a separate channel into the system_metrics table.
func (r *Run) LogSystem(metrics map[string]any) error {
	if r.State() != StateActive {
		return &trackerrors.ValidationError{Message: "log_system() called on a run that is not active (state=" + r.State().String() + ")"}
	}

	sanitized, err := sanitizeKeys(metrics, r.logger)
	if err != nil {
		return err
	}
	if _, err := codec.Encode(sanitized); err != nil {
		return err
	}

	r.systemWorker.Enqueue(sender.Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		LogID:     newLogID(),
		Metrics:   sanitized,
	})
	return nil
}

// AlertOptions configures Alert's webhook dispatch.
type AlertOptions struct {
	Level          webhook.Level
	Title          string
	Text           string
	Step           *int
	WebhookURL     string
	WebhookMinLevel *webhook.Level
}

// Alert appends an alert row and, if a webhook URL is configured and the
// level meets the minimum, dispatches a notification. Webhook failures
// are logged and swallowed, never surfaced to the caller.
func (r *Run) Alert(ctx context.Context, opts AlertOptions) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	if err := r.store.AppendAlert(ctx, store.Alert{
		AlertID:   newLogID(),
		Run:       r.name,
		Level:     string(opts.Level),
		Title:     opts.Title,
		Text:      opts.Text,
		Step:      opts.Step,
		Timestamp: ts,
	}); err != nil {
		return err
	}

	if opts.WebhookURL != "" && webhook.ShouldSend(opts.Level, opts.WebhookMinLevel) {
		err := webhook.Dispatch(ctx, http.DefaultClient, r.logger, opts.WebhookURL, webhook.Notification{
			Level:     opts.Level,
			Title:     opts.Title,
			Text:      opts.Text,
			Project:   r.project,
			Run:       r.name,
			Step:      opts.Step,
			Timestamp: ts,
		})
		if err != nil {
			r.logger.Warn("webhook delivery failed", tlog.Error(&trackerrors.WebhookError{URL: opts.WebhookURL, Cause: err}))
		}
	}
	return nil
}

// Finish flushes and joins both batch senders, then transitions the run
// to Finished. Logs after Finish returns are rejected.
func (r *Run) Finish() {
	r.state.Store(int32(StateFinishing))
	if r.monitor != nil {
		r.monitor.Stop()
	}
	r.worker.Finish()
	r.systemWorker.Finish()
	r.state.Store(int32(StateFinished))
	if r.coordinator != nil {
		r.coordinator.clearCurrent(r)
	}
	r.logger.Info("run finished")
}

// bufferFallback is passed to the metric sender.Worker as its Fallback:
// entries that fail local delivery are re-enqueued for the next flush
// rather than dropped; a local-mode sink failure here is a filesystem or
// lock-timeout condition, which is transient by construction (lock.With
// already exhausted its own retry window).
func (r *Run) bufferFallback(run string, entries []sender.Entry) {
	for _, e := range entries {
		r.worker.Enqueue(e)
	}
}

func (r *Run) bufferSystemFallback(run string, entries []sender.Entry) {
	for _, e := range entries {
		r.systemWorker.Enqueue(e)
	}
}

// sanitizeKeys rejects "__"-prefixed user keys outright and renames any
// reserved key with a "__" prefix, logging a warning for each rename.
func sanitizeKeys(metrics map[string]any, logger *slog.Logger) (map[string]any, error) {
	out := make(map[string]any, len(metrics))
	for k, v := range metrics {
		if strings.HasPrefix(k, "__") {
			return nil, &trackerrors.ValidationError{Field: k, Message: "keys beginning with __ are reserved and rejected from user input"}
		}
		if reservedKeys[k] {
			renamed := "__" + k
			if logger != nil {
				logger.Warn("renaming reserved metric key", "key", k, "renamed_to", renamed)
			}
			out[renamed] = v
			continue
		}
		out[k] = v
	}
	return out, nil
}

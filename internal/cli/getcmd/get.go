// Package getcmd implements `trackhive get ...`: point lookups for a
// project, run, metric, snapshot, system-metric, alerts, or report,
// supporting --step, --around, --at-time, and --window.
package getcmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackhive/trackhive/internal/cli/shared"
	"github.com/trackhive/trackhive/internal/config"
	"github.com/trackhive/trackhive/internal/snapshot"
	"github.com/trackhive/trackhive/internal/store"
)

// NewCommand builds the get command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Point lookups for a project, run, metric, snapshot, system-metric, alerts, or report",
	}

	cmd.AddCommand(newProjectCommand())
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newMetricCommand())
	cmd.AddCommand(newSnapshotCommand())
	cmd.AddCommand(newSystemMetricCommand())
	cmd.AddCommand(newAlertsCommand())
	cmd.AddCommand(newReportCommand())
	return cmd
}

func openStore(ctx context.Context, settings *config.Settings, project string) (*store.Store, error) {
	if project == "" {
		return nil, shared.NewBadArgumentError("--project is required")
	}
	st, err := store.Open(ctx, project, settings.DBPath(project))
	if err != nil {
		return nil, shared.NewNotFoundError(fmt.Sprintf("open project %q", project), err)
	}
	return st, nil
}

func newProjectCommand() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Show a project's run count and known runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			st, err := openStore(cmd.Context(), settings, project)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.GetRuns(cmd.Context())
			if err != nil {
				return shared.NewFailedError("get project", err)
			}
			return shared.PrintJSON(map[string]any{"project": project, "runs": runs, "run_count": len(runs)})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	return cmd
}

func newRunCommand() *cobra.Command {
	var project, run string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Show a run's config and lifecycle metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			if run == "" {
				return shared.NewBadArgumentError("--run is required")
			}
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			st, err := openStore(cmd.Context(), settings, project)
			if err != nil {
				return err
			}
			defer st.Close()

			cfg, err := st.GetConfig(cmd.Context(), run)
			if err != nil {
				return shared.NewFailedError("get run config", err)
			}
			maxStep, err := st.GetMaxStepForRun(cmd.Context(), run)
			if err != nil {
				return shared.NewFailedError("get run max step", err)
			}
			return shared.PrintJSON(map[string]any{"run": run, "config": cfg, "max_step": maxStep})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&run, "run", "", "run")
	return cmd
}

func newMetricCommand() *cobra.Command {
	var (
		project, run string
		step         int
		around       int
		window       int
		atTime       string
		hasStep      bool
		hasAround    bool
	)
	cmd := &cobra.Command{
		Use:   "metric",
		Short: "Look up metric rows at a step, windowed around a step, or at a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			if run == "" {
				return shared.NewBadArgumentError("--run is required")
			}
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			st, err := openStore(cmd.Context(), settings, project)
			if err != nil {
				return err
			}
			defer st.Close()

			logs, err := st.GetLogs(cmd.Context(), run)
			if err != nil {
				return shared.NewFailedError("get metric", err)
			}

			switch {
			case hasStep:
				for _, l := range logs {
					if l.Step == step {
						return shared.PrintJSON(l)
					}
				}
				return shared.NewNotFoundError(fmt.Sprintf("no metric row at step %d", step), nil)

			case hasAround:
				lo, hi := around-window, around+window
				var out []store.LogEntry
				for _, l := range logs {
					if l.Step >= lo && l.Step <= hi {
						out = append(out, l)
					}
				}
				sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
				return shared.PrintJSON(out)

			case atTime != "":
				entry, err := entryAtTime(logs, atTime)
				if err != nil {
					return err
				}
				return shared.PrintJSON(entry)

			default:
				return shared.PrintJSON(logs)
			}
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&run, "run", "", "run")
	cmd.Flags().IntVar(&step, "step", 0, "exact step to look up")
	cmd.Flags().IntVar(&around, "around", 0, "center step for a windowed lookup")
	cmd.Flags().IntVar(&window, "window", 5, "+/- steps around --around to include")
	cmd.Flags().StringVar(&atTime, "at-time", "", "RFC-3339 instant; returns the last row logged at or before it")
	cmd.PreRunE = func(c *cobra.Command, args []string) error {
		hasStep = c.Flags().Changed("step")
		hasAround = c.Flags().Changed("around")
		return nil
	}
	return cmd
}

func newSystemMetricCommand() *cobra.Command {
	var project, run, atTime string
	cmd := &cobra.Command{
		Use:   "system-metric",
		Short: "Look up system-metric rows for a run, optionally at a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			if run == "" {
				return shared.NewBadArgumentError("--run is required")
			}
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			st, err := openStore(cmd.Context(), settings, project)
			if err != nil {
				return err
			}
			defer st.Close()

			logs, err := st.GetSystemLogs(cmd.Context(), run)
			if err != nil {
				return shared.NewFailedError("get system metric", err)
			}
			if atTime != "" {
				entry, err := entryAtTime(logs, atTime)
				if err != nil {
					return err
				}
				return shared.PrintJSON(entry)
			}
			return shared.PrintJSON(logs)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&run, "run", "", "run")
	cmd.Flags().StringVar(&atTime, "at-time", "", "RFC-3339 instant; returns the last row logged at or before it")
	return cmd
}

// entryAtTime returns the last row whose timestamp is at or before the
// given RFC-3339 instant. Rows are already ordered by timestamp.
func entryAtTime(logs []store.LogEntry, atTime string) (store.LogEntry, error) {
	target, err := time.Parse(time.RFC3339Nano, atTime)
	if err != nil {
		if target, err = time.Parse(time.RFC3339, atTime); err != nil {
			return store.LogEntry{}, shared.NewBadArgumentError(fmt.Sprintf("--at-time %q is not an RFC-3339 timestamp", atTime))
		}
	}

	found := -1
	for i, l := range logs {
		ts, err := time.Parse(time.RFC3339Nano, l.Timestamp)
		if err != nil {
			continue
		}
		if ts.After(target) {
			break
		}
		found = i
	}
	if found < 0 {
		return store.LogEntry{}, shared.NewNotFoundError(fmt.Sprintf("no row at or before %s", atTime), nil)
	}
	return logs[found], nil
}

func newAlertsCommand() *cobra.Command {
	var project, run string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show every alert for a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if run == "" {
				return shared.NewBadArgumentError("--run is required")
			}
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			st, err := openStore(cmd.Context(), settings, project)
			if err != nil {
				return err
			}
			defer st.Close()

			alerts, err := st.GetAlerts(cmd.Context(), run)
			if err != nil {
				return shared.NewFailedError("get alerts", err)
			}
			return shared.PrintJSON(alerts)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&run, "run", "", "run")
	return cmd
}

func newReportCommand() *cobra.Command {
	var project, name string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show a saved report's markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return shared.NewBadArgumentError("--name is required")
			}
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			st, err := openStore(cmd.Context(), settings, project)
			if err != nil {
				return err
			}
			defer st.Close()

			markdown, err := st.GetReport(cmd.Context(), name)
			if err != nil {
				return shared.NewNotFoundError(fmt.Sprintf("report %q", name), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), markdown)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&name, "name", "", "report name")
	return cmd
}

func newSnapshotCommand() *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Force a columnar snapshot export for a project and print its paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			st, err := openStore(cmd.Context(), settings, project)
			if err != nil {
				return err
			}
			defer st.Close()

			snap := snapshot.New(settings, nil, nil)
			if err := snap.Export(cmd.Context(), project, st); err != nil {
				return shared.NewFailedError("export snapshot", err)
			}

			metrics, system, configs := settings.ParquetPaths(project)
			return shared.PrintJSON(map[string]string{"metrics": metrics, "system_metrics": system, "configs": configs})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	return cmd
}

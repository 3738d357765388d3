// Package listcmd implements `trackhive list ...`: read-only enumeration
// of projects, runs, metrics, system-metrics, alerts, and reports.
package listcmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trackhive/trackhive/internal/cli/shared"
	"github.com/trackhive/trackhive/internal/config"
	"github.com/trackhive/trackhive/internal/store"
)

// NewCommand builds the list command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects, runs, metrics, system-metrics, alerts, or reports",
	}

	cmd.AddCommand(newProjectsCommand())
	cmd.AddCommand(newRunsCommand())
	cmd.AddCommand(newMetricsCommand())
	cmd.AddCommand(newSystemMetricsCommand())
	cmd.AddCommand(newAlertsCommand())
	cmd.AddCommand(newReportsCommand())
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

func newProjectsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List known projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			projects, err := shared.ListProjects(settings.Dir)
			if err != nil {
				return shared.NewFailedError("list projects", err)
			}
			if asJSON {
				return shared.PrintJSON(projects)
			}
			for _, p := range projects {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newRunsCommand() *cobra.Command {
	var (
		project string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs in a project",
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
				return shared.NewFailedError("list runs", err)
			}
			if asJSON {
				return shared.PrintJSON(runs)
			}
			for _, r := range runs {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project to list runs for")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newMetricsCommand() *cobra.Command {
	var (
		project string
		run     string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "List metric rows for a run",
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
				return shared.NewFailedError("list metrics", err)
			}
			if asJSON {
				return shared.PrintJSON(logs)
			}
			for _, l := range logs {
				fmt.Fprintf(cmd.OutOrStdout(), "step=%d ts=%s %v\n", l.Step, l.Timestamp, l.Metrics)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&run, "run", "", "run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newSystemMetricsCommand() *cobra.Command {
	var (
		project string
		run     string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "system-metrics",
		Short: "List system-metric rows for a run",
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
				return shared.NewFailedError("list system metrics", err)
			}
			if asJSON {
				return shared.PrintJSON(logs)
			}
			for _, l := range logs {
				fmt.Fprintf(cmd.OutOrStdout(), "ts=%s %v\n", l.Timestamp, l.Metrics)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&run, "run", "", "run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newAlertsCommand() *cobra.Command {
	var (
		project string
		run     string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts for a run",
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
				return shared.NewFailedError("list alerts", err)
			}
			if asJSON {
				return shared.PrintJSON(alerts)
			}
			for _, a := range alerts {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s (%s)\n", a.Level, a.Title, a.Text, a.Timestamp)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&run, "run", "", "run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func newReportsCommand() *cobra.Command {
	var (
		project string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List saved reports for a project",
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

			reports, err := st.ListReports(cmd.Context())
			if err != nil {
				return shared.NewFailedError("list reports", err)
			}
			if asJSON {
				return shared.PrintJSON(reports)
			}
			for _, r := range reports {
				fmt.Fprintln(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

// Package showcmd implements `trackhive show`. The dashboard UI itself
// (plot rendering, grouping, smoothing) lives in a separate process, so
// this command prints the summary that process would otherwise render
// and exits 0 rather than serving a UI. --watch reprints the summary,
// debounced, whenever a project database is written.
package showcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/trackhive/trackhive/internal/cli/shared"
	"github.com/trackhive/trackhive/internal/config"
	"github.com/trackhive/trackhive/internal/store"
)

const watchDebounce = 200 * time.Millisecond

// NewCommand builds the show command.
func NewCommand() *cobra.Command {
	var (
		project      string
		host         string
		theme        string
		colorPalette string
		mcpServer    bool
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a project's run summary (dashboard UI rendering is out of scope)",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}

			print := func() error {
				return printSummary(cmd.Context(), cmd, settings, project)
			}

			if err := print(); err != nil {
				return err
			}

			if !watch {
				_, _, _, _ = host, theme, colorPalette, mcpServer
				return nil
			}

			return watchAndReprint(cmd.Context(), settings.Dir, print)
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project to summarize (default: all)")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "dashboard bind host (unused, no UI server in this build)")
	cmd.Flags().StringVar(&theme, "theme", "", "dashboard theme hint (unused, no UI server in this build)")
	cmd.Flags().StringVar(&colorPalette, "color-palette", "", "dashboard color palette hint")
	cmd.Flags().BoolVar(&mcpServer, "mcp-server", false, "expose an MCP server alongside the dashboard (unimplemented)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reprint the summary whenever a project database is written")
	return cmd
}

func printSummary(ctx context.Context, cmd *cobra.Command, settings *config.Settings, project string) error {
	projects := []string{project}
	var err error
	if project == "" {
		projects, err = shared.ListProjects(settings.Dir)
		if err != nil {
			return shared.NewFailedError("list projects", err)
		}
	}

	for _, p := range projects {
		st, err := store.Open(ctx, p, settings.DBPath(p))
		if err != nil {
			return shared.NewFailedError(fmt.Sprintf("open project %q", p), err)
		}
		runs, err := st.GetRuns(ctx)
		st.Close()
		if err != nil {
			return shared.NewFailedError(fmt.Sprintf("list runs for %q", p), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d run(s)\n", p, len(runs))
		for _, r := range runs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", r)
		}
	}
	return nil
}

// watchAndReprint watches dir for writes to any .db file and calls
// reprint, debounced, until ctx is cancelled. A single shared debounce
// timer is enough since every event triggers the same action: reprint
// the whole summary.
func watchAndReprint(ctx context.Context, dir string, reprint func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return shared.NewFailedError("start filesystem watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return shared.NewFailedError("watch trackhive directory", err)
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				_ = reprint()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return shared.NewFailedError("watch trackhive directory", err)
		}
	}
}

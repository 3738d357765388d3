// Package statuscmd implements `trackhive status`: per-project sync
// state (local / synced / unsynced) with pending-row counts.
package statuscmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trackhive/trackhive/internal/cli/shared"
	"github.com/trackhive/trackhive/internal/config"
	"github.com/trackhive/trackhive/internal/store"
)

// NewCommand builds the status command.
func NewCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print per-project sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}
			statuses, err := collect(cmd.Context(), settings)
			if err != nil {
				return shared.NewFailedError("collect status", err)
			}
			if asJSON {
				return shared.PrintJSON(statuses)
			}
			for _, s := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s (%d pending)\n", s.Project, s.State, s.Pending)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

// ProjectStatus is one project's sync summary.
type ProjectStatus struct {
	Project string `json:"project"`
	State   string `json:"state"` // local | synced | unsynced
	Pending int    `json:"pending"`
}

func collect(ctx context.Context, settings *config.Settings) ([]ProjectStatus, error) {
	projects, err := shared.ListProjects(settings.Dir)
	if err != nil {
		return nil, err
	}

	out := make([]ProjectStatus, 0, len(projects))
	for _, project := range projects {
		st, err := store.Open(ctx, project, settings.DBPath(project))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", project, err)
		}

		spaceID, _ := st.GetMetadata(ctx, "space_id")
		metricsPending, err := st.PendingDelivery(ctx, spaceID)
		if err != nil {
			st.Close()
			return nil, err
		}
		systemPending, err := st.PendingSystemDelivery(ctx, spaceID)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.Close()

		pending := len(metricsPending) + len(systemPending)
		state := "local"
		if spaceID != "" {
			if pending == 0 {
				state = "synced"
			} else {
				state = "unsynced"
			}
		}

		out = append(out, ProjectStatus{Project: project, State: state, Pending: pending})
	}
	return out, nil
}

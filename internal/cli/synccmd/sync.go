// Package synccmd implements `trackhive sync`: drains a project's (or
// every project's) durable buffer against the configured remote sink.
package synccmd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/trackhive/trackhive/internal/cli/shared"
	"github.com/trackhive/trackhive/internal/config"
	"github.com/trackhive/trackhive/internal/reconciler"
	"github.com/trackhive/trackhive/internal/remotesink"
	"github.com/trackhive/trackhive/internal/secrets"
	"github.com/trackhive/trackhive/internal/snapshot"
	"github.com/trackhive/trackhive/internal/store"
)

// NewCommand builds the sync command.
func NewCommand() *cobra.Command {
	var (
		project string
		all     bool
		spaceID string
		private bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local buffer with remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (project == "") == !all {
				return shared.NewBadArgumentError("exactly one of --project or --all is required")
			}

			settings, err := config.FromEnv()
			if err != nil {
				return shared.NewFailedError("resolve settings", err)
			}

			resolver := secrets.NewResolver(settings)
			token, err := resolver.Token(cmd.Context())
			if err != nil {
				return shared.NewFailedError("resolve remote credential", err)
			}

			projects := []string{project}
			if all {
				projects, err = shared.ListProjects(settings.Dir)
				if err != nil {
					return shared.NewFailedError("list projects", err)
				}
			}

			for _, p := range projects {
				if err := syncOne(cmd.Context(), settings, p, spaceID, token, force); err != nil {
					return err
				}
			}
			_ = private // accepted but unused: not sent to the remote and not used locally
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "", "project to sync")
	cmd.Flags().BoolVar(&all, "all", false, "sync every known project")
	cmd.Flags().StringVar(&spaceID, "space-id", "", "remote dataset repository to sync against")
	cmd.Flags().BoolVar(&private, "private", false, "create the remote dataset repository as private (unused, has no effect in this build)")
	cmd.Flags().BoolVar(&force, "force", false, "store the resolved space id as the project's configured remote; acknowledged rows are not resent")
	return cmd
}

func syncOne(ctx context.Context, settings *config.Settings, project, spaceID, token string, force bool) error {
	st, err := store.Open(ctx, project, settings.DBPath(project))
	if err != nil {
		return shared.NewNotFoundError(fmt.Sprintf("open project %q", project), err)
	}
	defer st.Close()

	resolvedSpaceID := spaceID
	if resolvedSpaceID == "" {
		resolvedSpaceID, _ = st.GetMetadata(ctx, "space_id")
	}
	if resolvedSpaceID == "" {
		return shared.NewFailedError(fmt.Sprintf("project %q has no configured remote", project), nil)
	}

	if force {
		if err := st.SetMetadata(ctx, "space_id", resolvedSpaceID); err != nil {
			return shared.NewFailedError("persist space id", err)
		}
	}

	url := settings.DatasetID
	adapter := remotesink.New(&http.Client{}, url, project, token, false)

	var upload reconciler.Uploader
	if s3up := snapshot.UploaderFromEnv(); s3up != nil {
		upload = func(ctx context.Context, p store.PendingUpload) error {
			key := p.RelativePath
			if key == "" {
				key = filepath.Base(p.FilePath)
			}
			return s3up.Upload(ctx, p.FilePath, key)
		}
	}

	report, err := reconciler.ReconcileProject(ctx, st, settings, project, resolvedSpaceID, adapter, upload, nil)
	if err != nil {
		return shared.NewFailedError(fmt.Sprintf("reconcile %q", project), err)
	}

	fmt.Printf("%s: replayed %d metrics, %d system metrics, %d uploads (%d failed)\n",
		project, report.MetricsReplayed, report.SystemMetricsReplayed, report.UploadsReplayed,
		report.MetricsFailed+report.UploadsFailed)
	return nil
}

package runcoord

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/trackhive/trackhive/internal/config"
	trackerrors "github.com/trackhive/trackhive/internal/errors"
	"github.com/trackhive/trackhive/internal/lock"
	tlog "github.com/trackhive/trackhive/internal/log"
	"github.com/trackhive/trackhive/internal/store"
)

// MoveRun relocates run from srcProject to dstProject: rows are copied to
// the destination database, artifact path prefixes rewritten, the media
// directory renamed on disk, and the source rows deleted last. Both
// projects' process locks are held for the duration, acquired in
// lexicographic project-name order so two concurrent movers between the
// same pair of projects cannot deadlock.
func (c *Coordinator) MoveRun(ctx context.Context, srcProject, dstProject, run string) error {
	src := config.SanitizeProject(srcProject)
	dst := config.SanitizeProject(dstProject)
	if src == dst {
		return c.RenameRun(ctx, src, run, run)
	}

	srcStore, err := c.storeFor(ctx, src)
	if err != nil {
		return err
	}
	dstStore, err := c.storeFor(ctx, dst)
	if err != nil {
		return err
	}

	ordered := []string{src, dst}
	sort.Strings(ordered)

	return lock.With(ctx, ordered[0], c.settings.LockPath(ordered[0]), func() error {
		return lock.With(ctx, ordered[1], c.settings.LockPath(ordered[1]), func() error {
			if err := store.MoveRun(ctx, srcStore, dstStore, src, dst, run); err != nil {
				return err
			}
			if err := c.artifact.Move(ctx, src, run, dst, run); err != nil {
				return err
			}
			c.logger.Info("run moved", "src_project", src, "dst_project", dst, tlog.RunKey, run)
			return nil
		})
	})
}

// RenameRun renames run within project, rewriting rows and artifact paths
// and moving the media directory. Returns *errors.RunConflictError if the
// target name is already taken.
func (c *Coordinator) RenameRun(ctx context.Context, project, oldName, newName string) error {
	p := config.SanitizeProject(project)
	if oldName == newName {
		return nil
	}

	st, err := c.storeFor(ctx, p)
	if err != nil {
		return err
	}

	return lock.With(ctx, p, c.settings.LockPath(p), func() error {
		runs, err := st.GetRuns(ctx)
		if err != nil {
			return err
		}
		for _, r := range runs {
			if r == newName {
				return &trackerrors.RunConflictError{Project: p, Run: newName}
			}
		}
		if err := st.RenameRun(ctx, oldName, newName); err != nil {
			return err
		}
		if err := c.artifact.Move(ctx, p, oldName, p, newName); err != nil {
			return err
		}
		c.logger.Info("run renamed", tlog.ProjectKey, p, "old", oldName, "new", newName)
		return nil
	})
}

// DeleteRun removes every row belonging to run across all tables and
// deletes its media directory.
func (c *Coordinator) DeleteRun(ctx context.Context, project, run string) error {
	p := config.SanitizeProject(project)

	st, err := c.storeFor(ctx, p)
	if err != nil {
		return err
	}

	return lock.With(ctx, p, c.settings.LockPath(p), func() error {
		if err := st.DeleteRun(ctx, run); err != nil {
			return err
		}
		mediaDir := filepath.Join(c.settings.MediaDir, p, run)
		if err := os.RemoveAll(mediaDir); err != nil {
			return err
		}
		c.logger.Info("run deleted", tlog.ProjectKey, p, tlog.RunKey, run)
		return nil
	})
}

package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	tlog "github.com/trackhive/trackhive/internal/log"
	"github.com/trackhive/trackhive/internal/store"
)

// Sweep exports every project whose database file is newer than its
// parquet snapshot. It is the function the process-wide Ticker drives:
// each pass opens the stale project stores read-only, exports them, and
// closes them again. Errors are logged per project rather than aborting
// the sweep, so one corrupt database cannot starve every other project's
// backup.
func (s *Snapshotter) Sweep(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(s.settings.Dir, "*.db"))
	if err != nil {
		s.logger.Warn("snapshot sweep glob failed", tlog.Error(err))
		return
	}

	for _, m := range matches {
		project := strings.TrimSuffix(filepath.Base(m), ".db")
		if !s.NeedsExport(project) {
			continue
		}

		st, err := store.Open(ctx, project, m)
		if err != nil {
			s.logger.Warn("snapshot sweep could not open project", tlog.ProjectKey, project, tlog.Error(err))
			continue
		}
		if err := s.Export(ctx, project, st); err != nil {
			s.logger.Warn("snapshot export failed", tlog.ProjectKey, project, tlog.Error(err))
		}
		st.Close()
	}
}

// ImportMissing rebuilds the relational store for any project that has a
// parquet snapshot but no database file, the process-start reverse
// direction of Export. Projects whose database already exists are left
// untouched: the live store is authoritative while a process runs.
func (s *Snapshotter) ImportMissing(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(s.settings.Dir, "*.parquet"))
	if err != nil {
		return err
	}

	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".parquet")
		if strings.HasSuffix(base, "_system") || strings.HasSuffix(base, "_configs") {
			continue
		}
		project := base

		dbPath := s.settings.DBPath(project)
		if _, err := os.Stat(dbPath); err == nil {
			continue
		}

		st, err := store.Open(ctx, project, dbPath)
		if err != nil {
			return err
		}
		importErr := s.Import(ctx, project, st)
		st.Close()
		if importErr != nil {
			return importErr
		}
		s.logger.Info("imported snapshot", tlog.ProjectKey, project)
	}
	return nil
}

package shared

import (
	"path/filepath"
	"strings"
)

// ListProjects returns the sanitized project names with a database file
// under dir, discovered by globbing *.db, sorted by filepath.Glob's
// lexical order.
func ListProjects(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.db"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		out = append(out, strings.TrimSuffix(base, ".db"))
	}
	return out, nil
}

// Package artifact implements the content-addressed media store: saving
// logged images/video/audio/tables under
// <media_root>/<project>/<run>/<step>/<uuid>.<ext> and producing the
// descriptor embedded into a metric mapping by the codec layer. Random
// filenames make concurrent writes safe without inter-file locking.
package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	trackerrors "github.com/trackhive/trackhive/internal/errors"
)

// Store saves and resolves media artifacts under a single root directory.
type Store struct {
	root string
}

// New returns an artifact store rooted at root (typically
// config.Settings.MediaDir).
func New(root string) *Store {
	return &Store{root: root}
}

// Descriptor is the object embedded in a metric value once an artifact
// is saved. Only fields relevant to the artifact kind are populated.
type Descriptor struct {
	Type       string `json:"_type"`
	FilePath   string `json:"file_path"`
	FileFormat string `json:"file_format,omitempty"`
	Caption    string `json:"caption,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	FPS        int    `json:"fps,omitempty"`
}

// ToMap renders a Descriptor as the map[string]any the codec expects.
func (d Descriptor) ToMap() map[string]any {
	m := map[string]any{
		"_type":     d.Type,
		"file_path": d.FilePath,
	}
	if d.FileFormat != "" {
		m["file_format"] = d.FileFormat
	}
	if d.Caption != "" {
		m["caption"] = d.Caption
	}
	if d.SampleRate != 0 {
		m["sample_rate"] = d.SampleRate
	}
	if d.FPS != 0 {
		m["fps"] = d.FPS
	}
	return m
}

// Save writes payload under <root>/<project>/<run>/<step>/<uuid>.<ext>
// and returns the resulting descriptor. The file_path recorded is
// relative to root. Payload is read and written as-is; SaveFromPath is
// the variant that copies an existing file on disk.
func (s *Store) Save(kind, ext string, payload io.Reader, project, run string, step int) (Descriptor, error) {
	dir := filepath.Join(s.root, project, run, strconv.Itoa(step))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Descriptor{}, err
	}

	filename := uuid.New().String() + "." + ext
	abs := filepath.Join(dir, filename)

	f, err := os.Create(abs)
	if err != nil {
		return Descriptor{}, err
	}
	defer f.Close()

	if _, err := io.Copy(f, payload); err != nil {
		return Descriptor{}, err
	}

	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{Type: kind, FilePath: filepath.ToSlash(rel), FileFormat: ext}, nil
}

// SaveFromPath copies an existing file at srcPath into the media store,
// used when the caller passes an already-materialized path rather than
// in-memory bytes.
func (s *Store) SaveFromPath(kind, srcPath, project, run string, step int) (Descriptor, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return Descriptor{}, err
	}
	defer f.Close()

	ext := filepath.Ext(srcPath)
	if len(ext) > 0 {
		ext = ext[1:]
	}
	return s.Save(kind, ext, f, project, run, step)
}

// Resolve joins a descriptor's file_path with root and verifies the file
// exists, returning *errors.ArtifactMissingError if not.
func (s *Store) Resolve(desc Descriptor) (string, error) {
	abs := filepath.Join(s.root, filepath.FromSlash(desc.FilePath))
	if _, err := os.Stat(abs); err != nil {
		return "", &trackerrors.ArtifactMissingError{Path: desc.FilePath}
	}
	return abs, nil
}

// Move renames the directory holding a run's artifacts from
// <root>/<oldProject>/<oldRun> to <root>/<newProject>/<newRun>. The
// caller is responsible for rewriting descriptor paths in the project
// store (see internal/store.MoveRun / RenameRun); this only moves bytes
// on disk.
func (s *Store) Move(ctx context.Context, oldProject, oldRun, newProject, newRun string) error {
	src := filepath.Join(s.root, oldProject, oldRun)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	dst := filepath.Join(s.root, newProject, newRun)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
	}

	return os.Rename(src, dst)
}

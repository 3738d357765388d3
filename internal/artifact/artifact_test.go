package artifact

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndResolve(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	desc, err := s.Save("image", "png", bytes.NewReader([]byte("fake-png-bytes")), "proj", "run-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "image", desc.Type)
	assert.Equal(t, "png", desc.FileFormat)

	abs, err := s.Resolve(desc)
	require.NoError(t, err)
	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, "fake-png-bytes", string(data))
}

func TestResolveMissingFails(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Resolve(Descriptor{Type: "image", FilePath: "proj/run-1/0/missing.png"})
	assert.Error(t, err)
}

func TestMoveRelocatesDirectory(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	_, err := s.Save("image", "png", bytes.NewReader([]byte("x")), "proj", "run-1", 0)
	require.NoError(t, err)

	require.NoError(t, s.Move(context.Background(), "proj", "run-1", "proj2", "run-1"))

	_, err = os.Stat(filepath.Join(root, "proj", "run-1"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(root, "proj2", "run-1"))
	assert.NoError(t, err)
}

package trackhive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitLogFinishAmbientRun(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRACKHIVE_DIR", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "media"), 0o755))

	ctx := context.Background()
	run, err := Init(ctx, InitOptions{Project: "demo"})
	require.NoError(t, err)
	require.NotEmpty(t, run.Name())

	require.NoError(t, Log(map[string]any{"loss": 0.3}, nil))
	require.Equal(t, run, Current())

	Finish()
	require.Nil(t, Current())
}

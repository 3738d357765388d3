package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proj.lock")

	l, err := Acquire(context.Background(), "proj", path)
	require.NoError(t, err)
	require.NotNil(t, l)

	assert.NoError(t, l.Release())
}

func TestAcquireBlocksConcurrentHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proj.lock")

	first, err := Acquire(context.Background(), "proj", path)
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = Acquire(ctx, "proj", path)
	assert.Error(t, err)
}

func TestWithRunsAndReleases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proj.lock")

	ran := false
	err := With(context.Background(), "proj", path, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	l, err := Acquire(context.Background(), "proj", path)
	require.NoError(t, err)
	assert.NoError(t, l.Release())
}

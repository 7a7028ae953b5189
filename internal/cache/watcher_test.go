package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_InvalidatesChangedFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "beauty.0001.exr")
	other := filepath.Join(dir, "beauty.0002.exr")
	require.NoError(t, os.WriteFile(watched, []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(other, []byte("v1"), 0o644))

	pool := newTestPool(4, newFakeClock())
	addEntry(t, pool, watched, 1)
	addEntry(t, pool, other, 1)

	w, err := NewWatcher(pool, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Track(watched))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(watched, []byte("v2"), 0o644))
	// untracked file in the same directory
	require.NoError(t, os.WriteFile(other, []byte("v2"), 0o644))

	assert.Eventually(t, func() bool {
		return pool.FindCache(testKey(watched, 1)) == nil
	}, 2*time.Second, 10*time.Millisecond)

	e := pool.FindCache(testKey(other, 1))
	require.NotNil(t, e)
	e.Release()
	assert.Equal(t, uint64(1), pool.Stats().Invalidations)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_TrackMissingDirectory(t *testing.T) {
	w, err := NewWatcher(newTestPool(1, newFakeClock()), nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Error(t, w.Track(filepath.Join(t.TempDir(), "missing", "a.exr")))
}

func TestWatcher_StopsWhenClosed(t *testing.T) {
	w, err := NewWatcher(newTestPool(1, newFakeClock()), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	require.NoError(t, w.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

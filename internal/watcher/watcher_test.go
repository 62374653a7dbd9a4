package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/livegen/internal/logging"
)

func newTestWatcher(t *testing.T) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher(20*time.Millisecond, logging.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { fw.Stop() })
	return fw
}

func TestAddRemoveWatchIdempotent(t *testing.T) {
	fw := newTestWatcher(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, fw.AddWatch(path, "node-a"))
	require.NoError(t, fw.AddWatch(path, "node-a"))
	require.NoError(t, fw.AddWatch(path, "node-b"))

	abs, _ := filepath.Abs(path)
	watched := fw.WatchedPaths()
	require.Contains(t, watched, abs)
	assert.ElementsMatch(t, []string{"node-a", "node-b"}, watched[abs])

	assert.ElementsMatch(t, []string{abs}, fw.PathsForNode("node-a"))

	fw.RemoveWatch(path, "node-a")
	fw.RemoveWatch(path, "node-a")
	watched = fw.WatchedPaths()
	assert.ElementsMatch(t, []string{"node-b"}, watched[abs])

	fw.RemoveWatch(path, "node-b")
	assert.Empty(t, fw.WatchedPaths())
}

func TestDirectoryWatchReleasedOnLastRemove(t *testing.T) {
	fw := newTestWatcher(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.txt")
	second := filepath.Join(dir, "second.txt")
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("x"), 0o644))

	require.NoError(t, fw.AddWatch(first, "node-a"))
	require.NoError(t, fw.AddWatch(second, "node-b"))

	absFirst, _ := filepath.Abs(first)
	watchedDir := filepath.Dir(absFirst)
	require.Contains(t, fw.watcher.WatchList(), watchedDir)

	// A sibling path keeps the directory watched.
	fw.RemoveWatch(first, "node-a")
	assert.Contains(t, fw.watcher.WatchList(), watchedDir)

	// The last tracked path under the directory releases the OS watch.
	fw.RemoveWatch(second, "node-b")
	assert.NotContains(t, fw.watcher.WatchList(), watchedDir)
}

func TestChangeDispatchToInterestedNodes(t *testing.T) {
	fw := newTestWatcher(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("initial"), 0o644))

	require.NoError(t, fw.AddWatch(path, "node-a"))
	require.NoError(t, fw.AddWatch(path, "node-b"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	// Give the watch loops a moment to come up before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("changed"), 0o644))

	abs, _ := filepath.Abs(path)
	got := make(map[string]bool)
	deadline := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case change := <-fw.Changes():
			assert.Equal(t, abs, change.Path)
			got[change.NodeID] = true
		case <-deadline:
			t.Fatalf("timed out waiting for changes, got %v", got)
		}
	}
	assert.True(t, got["node-a"])
	assert.True(t, got["node-b"])
}

func TestUntrackedPathsAreIgnored(t *testing.T) {
	fw := newTestWatcher(t)
	dir := t.TempDir()
	tracked := filepath.Join(dir, "tracked.txt")
	untracked := filepath.Join(dir, "untracked.txt")
	require.NoError(t, os.WriteFile(tracked, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(untracked, []byte("x"), 0o644))

	require.NoError(t, fw.AddWatch(tracked, "node-a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(untracked, []byte("changed"), 0o644))

	select {
	case change := <-fw.Changes():
		t.Fatalf("unexpected change delivered: %+v", change)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDebounceCollapsesRapidWrites(t *testing.T) {
	fw := newTestWatcher(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "busy.txt")
	require.NoError(t, os.WriteFile(path, []byte("0"), 0o644))

	require.NoError(t, fw.AddWatch(path, "node-a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fw.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('0' + i)}, 0o644))
		time.Sleep(2 * time.Millisecond)
	}

	// Rapid writes within the debounce window arrive as far fewer changes.
	count := 0
	timeout := time.After(time.Second)
loop:
	for {
		select {
		case <-fw.Changes():
			count++
		case <-timeout:
			break loop
		}
	}
	assert.GreaterOrEqual(t, count, 1)
	assert.Less(t, count, 10)
}

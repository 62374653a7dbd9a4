package tail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/livegen/internal/logging"
	"github.com/conneroisu/livegen/internal/types"
)

type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) callback(nodeID string, newLines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, newLines...)
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func newTestWatcher() *TailWatcher {
	return NewTailWatcher(10*time.Millisecond, 1000, logging.NopLogger{}, nil)
}

func TestNewLinesDelivered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("old line\n"), 0o644))

	tw := newTestWatcher()
	c := &collector{}
	require.NoError(t, tw.AddWatch("node1", path, c.callback, 10))

	ctx := context.Background()

	// Existing content is seeded, not delivered.
	tw.Poll(ctx, mustAbs(t, path))
	assert.Empty(t, c.all())
	assert.Equal(t, []string{"old line"}, tw.Buffer(path))

	appendFile(t, path, "new one\nnew two\n")
	tw.Poll(ctx, mustAbs(t, path))

	assert.Equal(t, []string{"new one", "new two"}, c.all())
	assert.Equal(t, []string{"old line", "new one", "new two"}, tw.Buffer(path))
}

func TestPartialLineReassembly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	tw := newTestWatcher()
	c := &collector{}
	require.NoError(t, tw.AddWatch("node1", path, c.callback, 10))
	ctx := context.Background()
	abs := mustAbs(t, path)

	// An unterminated fragment is buffered but not delivered.
	appendFile(t, path, "partial")
	tw.Poll(ctx, abs)
	assert.Empty(t, c.all())
	assert.Equal(t, []string{"partial"}, tw.Buffer(path))

	// Its terminator completes the line.
	appendFile(t, path, " line\nnext")
	tw.Poll(ctx, abs)
	assert.Equal(t, []string{"partial line"}, c.all())
	assert.Equal(t, []string{"partial line", "next"}, tw.Buffer(path))

	appendFile(t, path, "\n")
	tw.Poll(ctx, abs)
	assert.Equal(t, []string{"partial line", "next"}, c.all())
}

func TestRotationResetsOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	tw := newTestWatcher()
	c := &collector{}
	require.NoError(t, tw.AddWatch("node1", path, c.callback, 10))
	ctx := context.Background()
	abs := mustAbs(t, path)

	tw.Poll(ctx, abs)
	assert.Empty(t, c.all())

	// Replace the file between polls: remove then recreate so the inode
	// changes. The new file's first bytes are fresh content, not a
	// continuation of the prior unterminated line.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("ab\n"), 0o644))
	tw.Poll(ctx, abs)

	assert.Equal(t, []string{"ab"}, c.all())
	assert.Equal(t, []string{"ab"}, tw.Buffer(path))
}

func TestTruncationResetsOffsetAndBuffer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("a long first line\nanother\n"), 0o644))

	tw := newTestWatcher()
	c := &collector{}
	require.NoError(t, tw.AddWatch("node1", path, c.callback, 10))
	ctx := context.Background()
	abs := mustAbs(t, path)

	tw.Poll(ctx, abs)

	// Shrink below the recorded offset in place (same inode).
	require.NoError(t, os.Truncate(path, 0))
	appendFile(t, path, "x\n")
	tw.Poll(ctx, abs)

	assert.Equal(t, []string{"x"}, c.all())
	assert.Equal(t, []string{"x"}, tw.Buffer(path))
}

func TestMissingFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("line\n"), 0o644))

	tw := newTestWatcher()
	c := &collector{}
	require.NoError(t, tw.AddWatch("node1", path, c.callback, 10))
	ctx := context.Background()
	abs := mustAbs(t, path)

	tw.Poll(ctx, abs)
	require.NoError(t, os.Remove(path))

	// Absent file resets state without error; later recreation is fresh.
	tw.Poll(ctx, abs)
	require.NoError(t, os.WriteFile(path, []byte("reborn\n"), 0o644))
	tw.Poll(ctx, abs)

	assert.Equal(t, []string{"reborn"}, c.all())
}

func TestBufferCapDropsOldest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	tw := NewTailWatcher(10*time.Millisecond, 5, logging.NopLogger{}, nil)
	c := &collector{}
	require.NoError(t, tw.AddWatch("node1", path, c.callback, 10))
	ctx := context.Background()
	abs := mustAbs(t, path)

	for i := 0; i < 8; i++ {
		appendFile(t, path, fmt.Sprintf("line-%d\n", i))
	}
	tw.Poll(ctx, abs)

	assert.Len(t, c.all(), 8)
	assert.Equal(t, []string{"line-3", "line-4", "line-5", "line-6", "line-7"}, tw.Buffer(path))
}

func TestPersistSnapshotsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	var mu sync.Mutex
	var last types.TailState
	persist := func(state types.TailState) {
		mu.Lock()
		defer mu.Unlock()
		last = state
	}

	tw := NewTailWatcher(10*time.Millisecond, 1000, logging.NopLogger{}, persist)
	require.NoError(t, tw.AddWatch("node1", path, func(string, []string) {}, 10))

	appendFile(t, path, "hello\n")
	tw.Poll(context.Background(), mustAbs(t, path))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "node1", last.NodeID)
	assert.Equal(t, int64(6), last.LastPosition)
	assert.Equal(t, []string{"hello"}, last.Buffer)
}

func TestResumeFromPersistedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("first\nsecond\n"), 0o644))

	tw := newTestWatcher()
	c := &collector{}
	require.NoError(t, tw.Resume(types.TailState{
		NodeID:       "node1",
		FilePath:     path,
		LastPosition: 6, // just after "first\n"
		LastInode:    inodeOfPath(t, path),
		Buffer:       []string{"first"},
	}, c.callback))

	tw.Poll(context.Background(), mustAbs(t, path))
	assert.Equal(t, []string{"second"}, c.all())
}

func TestResumeMergesPendingFragment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	var mu sync.Mutex
	var last types.TailState
	persist := func(state types.TailState) {
		mu.Lock()
		defer mu.Unlock()
		last = state
	}

	tw := NewTailWatcher(10*time.Millisecond, 1000, logging.NopLogger{}, persist)
	require.NoError(t, tw.AddWatch("node1", path, func(string, []string) {}, 10))

	appendFile(t, path, "unfinished")
	tw.Poll(context.Background(), mustAbs(t, path))

	mu.Lock()
	saved := last
	saved.Buffer = append([]string(nil), last.Buffer...)
	mu.Unlock()
	require.True(t, saved.Fragment, "trailing unterminated line marks the state")
	require.Equal(t, []string{"unfinished"}, saved.Buffer)

	// A fresh watcher resuming from the persisted state must join the
	// continuation onto the pending fragment, not deliver it separately.
	resumed := newTestWatcher()
	c := &collector{}
	require.NoError(t, resumed.Resume(saved, c.callback))

	appendFile(t, path, " business\n")
	resumed.Poll(context.Background(), mustAbs(t, path))

	assert.Equal(t, []string{"unfinished business"}, c.all())
	assert.Equal(t, []string{"unfinished business"}, resumed.Buffer(path))
}

func TestPersistSkippedWhenNothingChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("seeded\n"), 0o644))

	var mu sync.Mutex
	var calls int
	persist := func(types.TailState) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	}

	tw := NewTailWatcher(10*time.Millisecond, 1000, logging.NopLogger{}, persist)
	require.NoError(t, tw.AddWatch("node1", path, func(string, []string) {}, 10))
	ctx := context.Background()
	abs := mustAbs(t, path)

	// Idle polls on an unchanged file write nothing.
	tw.Poll(ctx, abs)
	tw.Poll(ctx, abs)
	tw.Poll(ctx, abs)
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()

	appendFile(t, path, "grew\n")
	tw.Poll(ctx, abs)
	tw.Poll(ctx, abs)
	mu.Lock()
	assert.Equal(t, 1, calls, "only the growth poll persists")
	mu.Unlock()
}

func TestSharedPathIndependentRegistrations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	tw := newTestWatcher()
	first := &collector{}
	second := &collector{}
	require.NoError(t, tw.AddWatch("node1", path, first.callback, 10))
	require.NoError(t, tw.AddWatch("node2", path, second.callback, 10))
	ctx := context.Background()
	abs := mustAbs(t, path)

	appendFile(t, path, "both\n")
	tw.Poll(ctx, abs)
	assert.Equal(t, []string{"both"}, first.all())
	assert.Equal(t, []string{"both"}, second.all())

	// Removing the second registration leaves the first delivering.
	tw.RemoveWatch("node2", path)
	appendFile(t, path, "only-first\n")
	tw.Poll(ctx, abs)
	assert.Equal(t, []string{"both", "only-first"}, first.all())
	assert.Equal(t, []string{"both"}, second.all())

	// Removing the last registration stops tailing the path.
	tw.RemoveWatch("node1", path)
	assert.Empty(t, tw.WatchedFiles())
}

func TestStartStopLoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	tw := newTestWatcher()
	c := &collector{}
	require.NoError(t, tw.AddWatch("node1", path, c.callback, 10))

	tw.Start(context.Background())
	appendFile(t, path, "looped\n")

	require.Eventually(t, func() bool {
		return len(c.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	tw.Stop()
	assert.Equal(t, []string{"looped"}, c.all())
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

func inodeOfPath(t *testing.T, path string) uint64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return inodeOf(info)
}

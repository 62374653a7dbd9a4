// Package tail provides line-granular monitoring of growing files. Unlike
// the file change watcher it delivers line-level deltas, enabling incremental
// output updates instead of full rebuilds.
//
// Each watched file carries an incremental-read state machine: last byte
// offset, last known inode, a bounded rolling line buffer, and a pending
// unterminated-fragment flag. A fixed interval poll detects growth, rotation
// (inode change), and truncation (size below offset), reassembling partial
// lines across reads.
package tail

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/livegen/internal/logging"
	"github.com/conneroisu/livegen/internal/types"
)

// Callback receives complete new lines for a watched file. Callbacks run on
// the watcher's poll goroutine and may block it; keep them short or hand off.
type Callback func(nodeID string, newLines []string)

// PersistFunc, when set, receives a snapshot of the tail state after every
// change so it can be stored durably.
type PersistFunc func(state types.TailState)

// subscriber is one node's registration on a watched file. Several nodes can
// tail the same path; each gets its own callback keyed by its id.
type subscriber struct {
	nodeID string
	cb     Callback
}

type watch struct {
	state types.TailState
	subs  []subscriber
}

// TailWatcher polls watched files for appended lines.
type TailWatcher struct {
	interval    time.Duration
	bufferLimit int
	logger      logging.Logger
	persist     PersistFunc

	mu      sync.Mutex
	watches map[string]*watch

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTailWatcher creates a tail watcher polling at the given interval with
// the given per-file line buffer cap. persist may be nil.
func NewTailWatcher(interval time.Duration, bufferLimit int, logger logging.Logger, persist PersistFunc) *TailWatcher {
	if bufferLimit <= 0 {
		bufferLimit = 1000
	}
	return &TailWatcher{
		interval:    interval,
		bufferLimit: bufferLimit,
		logger:      logger.WithComponent("tail"),
		persist:     persist,
		watches:     make(map[string]*watch),
	}
}

// AddWatch arms tailing of filePath for nodeID. If the file already exists
// the offset starts at end-of-file and the buffer is seeded with its last
// tailLines lines; existing content is not delivered as new. Additional
// nodes tailing the same path register independently and are removed
// independently.
func (tw *TailWatcher) AddWatch(nodeID, filePath string, callback Callback, tailLines int) error {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}
	if tailLines <= 0 {
		tailLines = 10
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	w, ok := tw.watches[abs]
	if !ok {
		w = &watch{state: types.TailState{NodeID: nodeID, FilePath: abs, UpdatedAt: time.Now()}}
		tw.seed(w, tailLines)
		tw.watches[abs] = w
	}
	w.subs = append(w.subs, subscriber{nodeID: nodeID, cb: callback})
	return nil
}

// Resume arms tailing with a previously persisted state, so a restart picks
// up from the stored offset instead of re-reading the file.
func (tw *TailWatcher) Resume(state types.TailState, callback Callback) error {
	abs, err := filepath.Abs(state.FilePath)
	if err != nil {
		return err
	}
	state.FilePath = abs

	tw.mu.Lock()
	defer tw.mu.Unlock()
	w, ok := tw.watches[abs]
	if !ok {
		w = &watch{state: state}
		tw.watches[abs] = w
	}
	w.subs = append(w.subs, subscriber{nodeID: state.NodeID, cb: callback})
	return nil
}

// RemoveWatch stops tailing filePath for nodeID. Other nodes' registrations
// on the same path survive; the file stops being polled once the last one is
// gone.
func (tw *TailWatcher) RemoveWatch(nodeID, filePath string) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()
	w, ok := tw.watches[abs]
	if !ok {
		return
	}
	kept := w.subs[:0]
	for _, sub := range w.subs {
		if sub.nodeID != nodeID {
			kept = append(kept, sub)
		}
	}
	w.subs = kept
	if len(w.subs) == 0 {
		delete(tw.watches, abs)
	}
}

// Buffer returns a copy of the current rolling line buffer for filePath.
func (tw *TailWatcher) Buffer(filePath string) []string {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if w, ok := tw.watches[abs]; ok {
		out := make([]string, len(w.state.Buffer))
		copy(out, w.state.Buffer)
		return out
	}
	return nil
}

// WatchedFiles returns the watched file paths.
func (tw *TailWatcher) WatchedFiles() []string {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	paths := make([]string, 0, len(tw.watches))
	for path := range tw.watches {
		paths = append(paths, path)
	}
	return paths
}

// Start launches the poll loop.
func (tw *TailWatcher) Start(ctx context.Context) {
	ctx, tw.cancel = context.WithCancel(ctx)
	tw.done = make(chan struct{})

	go func() {
		defer close(tw.done)
		ticker := time.NewTicker(tw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tw.pollAll(ctx)
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to finish before file handles
// are released.
func (tw *TailWatcher) Stop() {
	if tw.cancel != nil {
		tw.cancel()
		<-tw.done
	}
}

func (tw *TailWatcher) pollAll(ctx context.Context) {
	tw.mu.Lock()
	paths := make([]string, 0, len(tw.watches))
	for path := range tw.watches {
		paths = append(paths, path)
	}
	tw.mu.Unlock()

	for _, path := range paths {
		tw.Poll(ctx, path)
	}
}

// Poll runs one cycle of the incremental-read state machine for a single
// file. I/O errors are swallowed; the watcher retries on the next tick. The
// state is persisted only when the cycle actually changed it.
func (tw *TailWatcher) Poll(ctx context.Context, path string) {
	tw.mu.Lock()
	w, ok := tw.watches[path]
	if !ok {
		tw.mu.Unlock()
		return
	}

	newLines, mutated := tw.advance(ctx, w)
	subs := make([]subscriber, len(w.subs))
	copy(subs, w.subs)
	var snapshot types.TailState
	persist := tw.persist != nil && mutated
	if persist {
		snapshot = w.state
		snapshot.Buffer = append([]string(nil), w.state.Buffer...)
	}
	tw.mu.Unlock()

	if persist {
		tw.persist(snapshot)
	}
	if len(newLines) > 0 {
		for _, sub := range subs {
			sub.cb(sub.nodeID, newLines)
		}
	}
}

// advance mutates the watch state for one poll cycle and returns the
// complete new lines plus whether the state changed. Caller holds the mutex.
func (tw *TailWatcher) advance(ctx context.Context, w *watch) ([]string, bool) {
	state := &w.state

	info, err := os.Stat(state.FilePath)
	if err != nil {
		if os.IsNotExist(err) && (state.LastPosition != 0 || state.LastInode != 0 || state.Fragment) {
			// File gone: forget position and identity. Any pending fragment
			// belongs to the old file and must not absorb a successor's
			// content.
			state.LastPosition = 0
			state.LastInode = 0
			state.Fragment = false
			state.UpdatedAt = time.Now()
			return nil, true
		}
		return nil, false
	}

	currentInode := inodeOf(info)
	currentSize := info.Size()
	mutated := false

	if state.LastInode != 0 && currentInode != 0 && currentInode != state.LastInode {
		// Rotation: a different file now lives at this path.
		state.LastPosition = 0
		state.LastInode = currentInode
		state.Buffer = nil
		state.Fragment = false
		mutated = true
	}

	if currentSize < state.LastPosition {
		// Truncation below the recorded offset.
		state.LastPosition = 0
		state.Buffer = nil
		state.Fragment = false
		mutated = true
	}

	if currentSize <= state.LastPosition {
		if state.LastInode != currentInode {
			state.LastInode = currentInode
			mutated = true
		}
		return nil, mutated
	}

	f, err := os.Open(state.FilePath)
	if err != nil {
		// Lock contention or permissions; retry next tick.
		tw.logger.Debug(ctx, "tail open failed", "path", state.FilePath, "error", err.Error())
		return nil, mutated
	}
	defer f.Close()

	if _, err := f.Seek(state.LastPosition, io.SeekStart); err != nil {
		return nil, mutated
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, mutated
	}

	state.LastPosition += int64(len(data))
	state.LastInode = currentInode
	state.UpdatedAt = time.Now()

	return tw.reassemble(w, string(data)), true
}

// reassemble splits a read delta into lines, joining the first chunk onto a
// pending unterminated fragment and holding back a trailing one.
func (tw *TailWatcher) reassemble(w *watch, data string) []string {
	state := &w.state

	text := data
	if state.Fragment && len(state.Buffer) > 0 {
		text = state.Buffer[len(state.Buffer)-1] + data
		state.Buffer = state.Buffer[:len(state.Buffer)-1]
		state.Fragment = false
	}

	segments := strings.Split(text, "\n")

	var newLines []string
	for _, line := range segments[:len(segments)-1] {
		state.Buffer = append(state.Buffer, line)
		newLines = append(newLines, line)
	}

	if trailing := segments[len(segments)-1]; trailing != "" {
		state.Buffer = append(state.Buffer, trailing)
		state.Fragment = true
	}

	if len(state.Buffer) > tw.bufferLimit {
		state.Buffer = state.Buffer[len(state.Buffer)-tw.bufferLimit:]
	}

	return newLines
}

// seed initializes a fresh watch from an existing file: offset at EOF, last
// tailLines lines in the buffer. Errors leave the watch at offset 0.
func (tw *TailWatcher) seed(w *watch, tailLines int) {
	state := &w.state

	info, err := os.Stat(state.FilePath)
	if err != nil {
		return
	}

	data, err := os.ReadFile(state.FilePath)
	if err != nil {
		return
	}

	state.LastPosition = int64(len(data))
	state.LastInode = inodeOf(info)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(data) == 0 {
		lines = nil
	}
	if len(lines) > tailLines {
		lines = lines[len(lines)-tailLines:]
	}
	state.Buffer = lines
	state.Fragment = len(data) > 0 && data[len(data)-1] != '\n'
}

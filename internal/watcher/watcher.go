// Package watcher provides OS-level file change notification for the daemon.
//
// The watcher maintains a map from absolute file path to the set of node ids
// interested in it. fsnotify events arrive on the notifier's goroutine and
// are never handled there: after debouncing, each change is submitted as a
// unit of work onto a channel the daemon's control loop drains. The notifier
// never touches daemon state directly.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/livegen/internal/logging"
)

// Change is one debounced modification of a watched path, fanned out to one
// interested node.
type Change struct {
	NodeID string
	Path   string
	Op     fsnotify.Op
}

// FileWatcher watches registered paths and fans changes out to node ids.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	logger    logging.Logger

	mu sync.RWMutex
	// interests maps absolute path -> set of node ids.
	interests map[string]map[string]struct{}
	// dirs counts tracked paths per parent directory, so the OS-level
	// directory watch can be dropped when the last one goes away.
	dirs map[string]int

	changes chan Change
}

// NewFileWatcher creates a file watcher. Changes are delivered on Changes()
// after the given debounce window.
func NewFileWatcher(debounce time.Duration, logger logging.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		watcher: w,
		debouncer: &debouncer{
			delay:   debounce,
			events:  make(chan fsnotify.Event, 100),
			output:  make(chan []fsnotify.Event, 10),
			pending: make(map[string]fsnotify.Event),
		},
		logger:    logger.WithComponent("watcher"),
		interests: make(map[string]map[string]struct{}),
		dirs:      make(map[string]int),
		changes:   make(chan Change, 100),
	}, nil
}

// Changes returns the channel the control loop drains.
func (fw *FileWatcher) Changes() <-chan Change {
	return fw.changes
}

// AddWatch registers interest of nodeID in path. Idempotent.
func (fw *FileWatcher) AddWatch(path, nodeID string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	fw.mu.Lock()
	nodes, known := fw.interests[abs]
	if !known {
		nodes = make(map[string]struct{})
		fw.interests[abs] = nodes
		fw.dirs[dir]++
	}
	nodes[nodeID] = struct{}{}
	firstInDir := !known && fw.dirs[dir] == 1
	fw.mu.Unlock()

	if firstInDir {
		// Watch the parent directory so editors that replace files (rename
		// over the original) are still observed.
		if err := fw.watcher.Add(dir); err != nil {
			return err
		}
	}
	return nil
}

// RemoveWatch drops interest of nodeID in path. Idempotent. The OS-level
// watch on the parent directory is released once no tracked path remains
// under it, so kernel watches do not accumulate as nodes come and go.
func (fw *FileWatcher) RemoveWatch(path, nodeID string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	dir := filepath.Dir(abs)

	fw.mu.Lock()
	lastInDir := false
	if nodes, ok := fw.interests[abs]; ok {
		delete(nodes, nodeID)
		if len(nodes) == 0 {
			delete(fw.interests, abs)
			fw.dirs[dir]--
			if fw.dirs[dir] <= 0 {
				delete(fw.dirs, dir)
				lastInDir = true
			}
		}
	}
	fw.mu.Unlock()

	if lastInDir {
		// Best effort: the watch may already be gone with the directory.
		_ = fw.watcher.Remove(dir)
	}
}

// WatchedPaths returns every path with at least one interested node.
func (fw *FileWatcher) WatchedPaths() map[string][]string {
	fw.mu.RLock()
	defer fw.mu.RUnlock()

	result := make(map[string][]string, len(fw.interests))
	for path, nodes := range fw.interests {
		ids := make([]string, 0, len(nodes))
		for id := range nodes {
			ids = append(ids, id)
		}
		result[path] = ids
	}
	return result
}

// PathsForNode returns the paths a specific node watches.
func (fw *FileWatcher) PathsForNode(nodeID string) []string {
	fw.mu.RLock()
	defer fw.mu.RUnlock()

	var paths []string
	for path, nodes := range fw.interests {
		if _, ok := nodes[nodeID]; ok {
			paths = append(paths, path)
		}
	}
	return paths
}

// Start launches the notification and debounce loops.
func (fw *FileWatcher) Start(ctx context.Context) {
	go fw.debouncer.run(ctx)
	go fw.dispatchLoop(ctx)
	go fw.watchLoop(ctx)
}

// Stop closes the underlying OS watcher.
func (fw *FileWatcher) Stop() error {
	fw.debouncer.stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	fw.mu.RLock()
	_, tracked := fw.interests[abs]
	fw.mu.RUnlock()
	if !tracked {
		return
	}

	select {
	case fw.debouncer.events <- fsnotify.Event{Name: abs, Op: event.Op}:
	default:
		// Channel full, skip this event.
	}
}

func (fw *FileWatcher) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.output:
			for _, event := range events {
				fw.mu.RLock()
				nodes := make([]string, 0, len(fw.interests[event.Name]))
				for id := range fw.interests[event.Name] {
					nodes = append(nodes, id)
				}
				fw.mu.RUnlock()

				for _, nodeID := range nodes {
					change := Change{NodeID: nodeID, Path: event.Name, Op: event.Op}
					select {
					case fw.changes <- change:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}
}

// debouncer groups rapid file changes together, deduplicating by path.
type debouncer struct {
	delay   time.Duration
	events  chan fsnotify.Event
	output  chan []fsnotify.Event
	timer   *time.Timer
	pending map[string]fsnotify.Event
	mu      sync.Mutex
}

func (d *debouncer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			d.add(event)
		}
	}
}

func (d *debouncer) add(event fsnotify.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[event.Name] = event

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.pending) == 0 {
		return
	}

	events := make([]fsnotify.Event, 0, len(d.pending))
	for _, event := range d.pending {
		events = append(events, event)
	}
	d.pending = make(map[string]fsnotify.Event)

	select {
	case d.output <- events:
	default:
		// Channel full, skip.
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Exists reports whether a watched path currently exists, for introspection
// endpoints.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Package engine hosts the livegen daemon: node and instance lifecycle,
// per-type builders, input resolution, change handling, and the webhook
// drain loop. All durable state lives in the SQLite store; the in-memory
// registry is a cache rebuilt from it at startup.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/livegen/internal/config"
	liverrors "github.com/conneroisu/livegen/internal/errors"
	"github.com/conneroisu/livegen/internal/executor"
	"github.com/conneroisu/livegen/internal/logging"
	"github.com/conneroisu/livegen/internal/nodeconfig"
	"github.com/conneroisu/livegen/internal/registry"
	"github.com/conneroisu/livegen/internal/renderer"
	"github.com/conneroisu/livegen/internal/store"
	"github.com/conneroisu/livegen/internal/tail"
	"github.com/conneroisu/livegen/internal/types"
	"github.com/conneroisu/livegen/internal/watcher"
)

// DeriveNodeID computes the stable node id from a resolved config path: the
// first 12 hex characters of the path's sha256. Same path, same id, which
// makes registration idempotent.
func DeriveNodeID(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])[:12]
}

// Engine is the build daemon.
type Engine struct {
	cfg      *config.Config
	logger   logging.Logger
	db       *store.Database
	content  *store.ContentStore
	writer   *store.OutputWriter
	watcher  *watcher.FileWatcher
	tails    *tail.TailWatcher
	executor *executor.ProgramExecutor
	renderer renderer.Renderer
	registry *registry.Registry
	events   *Broadcaster
	pidFile  *PIDFile

	// mu serializes all mutating engine operations: the watcher drain
	// goroutine, tail callbacks, the webhook drain loop, and API calls all
	// funnel through it so shared indexes see one writer at a time.
	mu sync.Mutex

	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New wires an engine from its subsystems.
func New(cfg *config.Config, logger logging.Logger) (*Engine, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, liverrors.NewIOError("preparing daemon directory", err)
	}

	db, err := store.OpenDatabase(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	content, err := store.NewContentStore(cfg.StorePath())
	if err != nil {
		db.Close()
		return nil, err
	}

	fw, err := watcher.NewFileWatcher(cfg.Debounce(), logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.WithComponent("engine"),
		db:       db,
		content:  content,
		writer:   store.NewOutputWriter(),
		watcher:  fw,
		executor: executor.NewProgramExecutor(cfg.Executor.WorkDir, cfg.DefaultTimeout(), logger),
		renderer: renderer.NewTemplateRenderer(),
		registry: registry.NewRegistry(),
		events:   NewBroadcaster(),
		pidFile:  NewPIDFile(cfg.PIDPath()),
		done:     make(chan struct{}),
	}
	e.tails = tail.NewTailWatcher(cfg.TailInterval(), cfg.Watch.TailBufferLimit, logger, func(state types.TailState) {
		if err := e.db.StoreTailState(&state); err != nil {
			e.logger.Warn(context.Background(), err, "persisting tail state", "path", state.FilePath)
		}
	})
	return e, nil
}

// Events exposes the daemon event stream.
func (e *Engine) Events() *Broadcaster { return e.events }

// PID exposes the daemon's PID file handle.
func (e *Engine) PID() *PIDFile { return e.pidFile }

// Start acquires the PID file, rebuilds in-memory indexes from the store,
// re-arms watches for every known node, and launches the background loops.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.pidFile.Acquire(); err != nil {
		return err
	}

	if err := e.registry.Load(e.db); err != nil {
		return err
	}
	e.rearmWatches(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.startedAt = time.Now()

	e.watcher.Start(loopCtx)
	e.tails.Start(loopCtx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.drainChanges(loopCtx)
	}()
	go func() {
		defer wg.Done()
		e.drainWebhooks(loopCtx)
	}()
	go func() {
		wg.Wait()
		close(e.done)
	}()

	e.logger.Info(ctx, "daemon started",
		"dir", e.cfg.Daemon.Dir,
		"nodes", len(e.registry.Nodes()))
	return nil
}

// Stop cancels the background loops, waits for them, and releases resources.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	e.tails.Stop()
	if err := e.watcher.Stop(); err != nil {
		e.logger.Warn(context.Background(), err, "stopping file watcher")
	}
	if err := e.pidFile.Release(); err != nil {
		e.logger.Warn(context.Background(), err, "removing pid file")
	}
	return e.db.Close()
}

// rearmWatches restores config, file-input, and tail watches after restart.
func (e *Engine) rearmWatches(ctx context.Context) {
	for _, node := range e.registry.Nodes() {
		e.armConfigWatch(ctx, node)
		for _, inst := range e.registry.Instances(node.ID) {
			e.armInstanceWatches(ctx, node, inst)
		}
		if state, err := e.db.GetTailState(node.ID); err == nil {
			nodeID := node.ID
			if err := e.tails.Resume(*state, func(id string, lines []string) {
				e.HandleTailChange(context.Background(), nodeID, lines)
			}); err != nil {
				e.logger.Warn(ctx, err, "resuming tail watch", "node_id", node.ID)
			}
		}
	}
}

// drainChanges is the control loop half of the thread→loop bridge: the
// fsnotify goroutine only enqueues onto the change channel, and this loop is
// the sole caller of change handling.
func (e *Engine) drainChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-e.watcher.Changes():
			if !ok {
				return
			}
			e.HandleFileChange(ctx, change.NodeID, change.Path)
		}
	}
}

// Register parses a node config file, derives the stable node id, persists
// the node, records its dependency edges, and arms the config watch.
// Registering the same path twice yields the same node.
func (e *Engine) Register(ctx context.Context, configPath string) (*types.Node, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, liverrors.NewIOError("resolving config path", err)
	}

	cfg, _, err := nodeconfig.ParseFile(absPath)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	node := &types.Node{
		ID:         DeriveNodeID(absPath),
		Config:     *cfg,
		ConfigPath: absPath,
		CreatedAt:  time.Now(),
	}
	if existing, ok := e.registry.GetNode(node.ID); ok {
		node.CreatedAt = existing.CreatedAt
	}

	if err := e.db.StoreNode(node); err != nil {
		return nil, err
	}
	e.registry.PutNode(node)

	for _, edge := range nodeconfig.ExtractDependencies(node.ID, cfg) {
		if err := e.db.StoreDependency(edge); err != nil {
			e.logger.Warn(ctx, err, "recording dependency edge", "node_id", node.ID)
		}
	}

	e.armConfigWatch(ctx, node)

	e.logger.Info(ctx, "node registered",
		"node_id", node.ID,
		"type", string(node.Config.NodeType),
		"config_path", absPath)
	e.events.Publish(Event{Type: EventNodeRegistered, NodeID: node.ID})
	return node, nil
}

// armConfigWatch watches the node's config file for reloads, unless that
// file is also the node's executable script. A program that rewrites its own
// file would otherwise trigger a rebuild storm.
func (e *Engine) armConfigWatch(ctx context.Context, node *types.Node) {
	if node.ConfigPath == "" {
		return
	}
	if node.Config.NodeType == types.NodeTypeProgram && node.Config.ScriptPath != "" {
		scriptPath := node.Config.ScriptPath
		if !filepath.IsAbs(scriptPath) {
			base := node.Config.WorkingDirectory
			if base == "" {
				base = filepath.Dir(node.ConfigPath)
			}
			scriptPath = filepath.Join(base, scriptPath)
		}
		if scriptPath == node.ConfigPath {
			e.logger.Debug(ctx, "skipping config watch: config file is the program script",
				"node_id", node.ID)
			return
		}
	}
	if err := e.watcher.AddWatch(node.ConfigPath, node.ID); err != nil {
		e.logger.Warn(ctx, err, "watching config file", "node_id", node.ID)
	}
}

// Unregister removes a node, its instances and their output artifacts, and
// every related record.
func (e *Engine) Unregister(ctx context.Context, nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.registry.GetNode(nodeID)
	if !ok {
		return liverrors.NewNotFoundError("node_not_found", "unknown node "+nodeID)
	}

	for _, inst := range e.registry.Instances(nodeID) {
		e.removeInstance(ctx, node, inst)
	}

	if node.ConfigPath != "" {
		e.watcher.RemoveWatch(node.ConfigPath, nodeID)
	}
	for _, path := range e.registry.PathsForNode(nodeID) {
		e.watcher.RemoveWatch(path, nodeID)
		e.tails.RemoveWatch(nodeID, path)
	}

	if err := e.db.RemoveNode(nodeID); err != nil {
		return err
	}
	e.registry.RemoveNode(nodeID)

	e.logger.Info(ctx, "node unregistered", "node_id", nodeID)
	e.events.Publish(Event{Type: EventNodeUnregistered, NodeID: nodeID})
	return nil
}

// removeInstance deletes an instance's output artifact and disarms its
// watches. Database rows are removed by the caller's cascade.
func (e *Engine) removeInstance(ctx context.Context, node *types.Node, inst *types.NodeInstance) {
	if inst.OutputPath != "" {
		targets := []string{inst.OutputPath}
		if node.Config.NodeType == types.NodeTypeProgram && len(node.Config.Outputs) > 1 {
			targets = targets[:0]
			for _, outputName := range node.Config.Outputs {
				targets = append(targets, filepath.Join(inst.OutputPath, outputName))
			}
		}
		for _, target := range targets {
			if err := e.writer.RemoveSymlink(target); err != nil {
				e.logger.Warn(ctx, err, "removing output artifact",
					"instance_id", inst.ID, "path", target)
			}
		}
	}
	for name, value := range inst.InputValues {
		spec, ok := node.Config.Inputs[name]
		if !ok || spec.Type != types.InputTypeFile {
			continue
		}
		if path, ok := value.(string); ok {
			e.watcher.RemoveWatch(path, node.ID)
			e.tails.RemoveWatch(node.ID, path)
		}
	}
	e.registry.RemoveInstance(node.ID, inst.ID)
}

// CreateInstance persists a new instance of a node at an output path, arms
// watches for its file inputs, and performs the initial build. Build errors
// from this caller-initiated path propagate.
func (e *Engine) CreateInstance(ctx context.Context, nodeID, outputPath string, inputValues map[string]interface{}) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.registry.GetNode(nodeID)
	if !ok {
		return "", liverrors.NewNotFoundError("node_not_found", "unknown node "+nodeID)
	}

	absOutput, err := filepath.Abs(outputPath)
	if err != nil {
		return "", liverrors.NewIOError("resolving output path", err)
	}

	inst := &types.NodeInstance{
		ID:          uuid.NewString(),
		NodeID:      nodeID,
		InputValues: inputValues,
		OutputPath:  absOutput,
		CreatedAt:   time.Now(),
	}
	if err := e.db.StoreInstance(inst); err != nil {
		return "", err
	}
	e.registry.PutInstance(inst)

	e.armInstanceWatches(ctx, node, inst)

	if err := e.build(ctx, node, inst); err != nil {
		return inst.ID, err
	}

	e.logger.Info(ctx, "instance created",
		"node_id", nodeID, "instance_id", inst.ID, "output", absOutput)
	e.events.Publish(Event{Type: EventInstanceCreated, NodeID: nodeID, InstanceID: inst.ID})
	return inst.ID, nil
}

// armInstanceWatches subscribes to every file-typed input of the instance:
// tail-mode nodes get line-delta delivery, everything else gets whole-file
// change notification.
func (e *Engine) armInstanceWatches(ctx context.Context, node *types.Node, inst *types.NodeInstance) {
	for name, spec := range node.Config.Inputs {
		if spec.Type != types.InputTypeFile {
			continue
		}
		value, ok := inst.InputValues[name]
		if !ok {
			if spec.Default == nil {
				continue
			}
			value = spec.Default
		}
		path, ok := value.(string)
		if !ok || path == "" {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}

		if node.Config.InputMode == types.InputModeTail {
			nodeID := node.ID
			err := e.tails.AddWatch(nodeID, path, func(id string, lines []string) {
				e.HandleTailChange(context.Background(), nodeID, lines)
			}, node.Config.TailLines)
			if err != nil {
				e.logger.Warn(ctx, err, "arming tail watch", "node_id", node.ID, "path", path)
			}
		} else {
			if err := e.watcher.AddWatch(path, node.ID); err != nil {
				e.logger.Warn(ctx, err, "arming file watch", "node_id", node.ID, "path", path)
			}
		}
		e.registry.AddPathInterest(path, node.ID)
	}
}

// RebuildInstances rebuilds every instance of a node. Errors propagate to
// the caller; background change paths wrap this and swallow them.
func (e *Engine) RebuildInstances(ctx context.Context, nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked(ctx, nodeID)
}

func (e *Engine) rebuildLocked(ctx context.Context, nodeID string) error {
	node, ok := e.registry.GetNode(nodeID)
	if !ok {
		return liverrors.NewNotFoundError("node_not_found", "unknown node "+nodeID)
	}
	for _, inst := range e.registry.Instances(nodeID) {
		if err := e.build(ctx, node, inst); err != nil {
			return err
		}
	}
	return nil
}

// HandleFileChange reacts to a watched file changing. A config-file change
// reloads the node in place (same id, same created_at) and rebuilds; any
// other path is an input change and rebuilds directly. Failures here are
// background-triggered: logged and swallowed so siblings keep operating.
func (e *Engine) HandleFileChange(ctx context.Context, nodeID, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.registry.GetNode(nodeID)
	if !ok {
		return
	}

	if path == node.ConfigPath {
		cfg, _, err := nodeconfig.ParseFile(path)
		if err != nil {
			e.logger.Warn(ctx, err, "reloading node config, keeping previous", "node_id", nodeID)
			return
		}
		reloaded := &types.Node{
			ID:         node.ID,
			Config:     *cfg,
			ConfigPath: node.ConfigPath,
			CreatedAt:  node.CreatedAt,
		}
		if err := e.db.StoreNode(reloaded); err != nil {
			e.logger.Error(ctx, err, "persisting reloaded node", "node_id", nodeID)
			return
		}
		e.registry.PutNode(reloaded)
		for _, edge := range nodeconfig.ExtractDependencies(nodeID, cfg) {
			if err := e.db.StoreDependency(edge); err != nil {
				e.logger.Warn(ctx, err, "recording dependency edge", "node_id", nodeID)
			}
		}
		e.logger.Info(ctx, "node config reloaded", "node_id", nodeID)
		e.events.Publish(Event{Type: EventNodeReloaded, NodeID: nodeID})
	}

	if err := e.rebuildLocked(ctx, nodeID); err != nil {
		e.logger.Error(ctx, err, "rebuilding after file change", "node_id", nodeID, "path", path)
		e.events.Publish(Event{Type: EventBuildFailed, NodeID: nodeID})
	}
}

// HandleTailChange reacts to new lines on a tailed file. For incremental
// output modes the joined lines are written directly without a re-render;
// Replace-mode instances get a full rebuild. Background path: errors are
// logged and swallowed.
func (e *Engine) HandleTailChange(ctx context.Context, nodeID string, newLines []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.registry.GetNode(nodeID)
	if !ok {
		return
	}

	lines := applyTransform(node.Config.Transform, newLines)
	if len(lines) == 0 {
		return
	}
	content := []byte(strings.Join(lines, "\n") + "\n")

	for _, inst := range e.registry.Instances(nodeID) {
		var err error
		switch node.Config.OutputMode {
		case types.OutputModeAppend:
			err = e.writer.AppendToFile(inst.OutputPath, content)
		case types.OutputModePrepend:
			err = e.writer.PrependToFile(inst.OutputPath, content)
		case types.OutputModeConcatenate:
			err = e.writer.ConcatenateToFile(inst.OutputPath, content)
		default:
			err = e.build(ctx, node, inst)
		}
		if err != nil {
			e.logger.Error(ctx, err, "applying tail delta",
				"node_id", nodeID, "instance_id", inst.ID)
			continue
		}
		e.touchInstance(ctx, inst)
	}

	e.events.Publish(Event{
		Type:   EventTailLines,
		NodeID: nodeID,
		Details: map[string]interface{}{
			"lines": len(lines),
		},
	})
}

// touchInstance records a successful build on the instance. The mutation goes
// through the registry so concurrent readers never see a half-updated
// instance.
func (e *Engine) touchInstance(ctx context.Context, inst *types.NodeInstance) {
	updated, ok := e.registry.RecordBuild(inst.NodeID, inst.ID, time.Now())
	if !ok {
		return
	}
	if err := e.db.StoreInstance(updated); err != nil {
		e.logger.Warn(ctx, err, "updating instance build metadata", "instance_id", inst.ID)
	}
}

// resolveInputs materializes the value of every declared input, in order of
// precedence: explicit instance value, source node reference, declared
// default. A required input with none of those fails with
// RequiredInputMissing. Source resolution failures are warned and fall back
// to the default. File-typed values resolve to absolute paths when the path
// exists.
func (e *Engine) resolveInputs(ctx context.Context, node *types.Node, inst *types.NodeInstance) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(node.Config.Inputs))

	for name, spec := range node.Config.Inputs {
		var value interface{}
		var found bool

		if v, ok := inst.InputValues[name]; ok {
			value, found = v, true
		} else if spec.Source != "" {
			ref, err := types.ParseReference(spec.Source)
			if err == nil {
				if nodeValue, err := e.db.GetValue(ref.NodeID, ref.OutputName); err == nil {
					value, found = nodeValue.ValueData, true
				} else {
					e.logger.Warn(ctx, err, "resolving input source, falling back to default",
						"node_id", node.ID, "input", name, "source", spec.Source)
				}
			}
		}

		if !found && spec.Default != nil {
			value, found = spec.Default, true
		}
		if !found {
			if spec.Required {
				return nil, liverrors.NewRequiredInputError(name).WithNode(node.ID).WithInstance(inst.ID)
			}
			continue
		}

		if spec.Type == types.InputTypeFile {
			if path, ok := value.(string); ok && path != "" {
				if abs, err := filepath.Abs(path); err == nil {
					if _, statErr := os.Stat(abs); statErr == nil {
						value = abs
					}
				}
			}
		}
		resolved[name] = value
	}
	return resolved, nil
}

// cacheValue stores a node output value in the content store and the value
// cache, making it referenceable by other nodes.
func (e *Engine) cacheValue(nodeID, outputName string, content []byte) (string, string, error) {
	hash, contentPath, err := e.content.Store(content)
	if err != nil {
		return "", "", err
	}
	err = e.db.StoreValue(&types.NodeValue{
		NodeID:      nodeID,
		OutputName:  outputName,
		ValueHash:   hash,
		ValueData:   string(content),
		ContentPath: contentPath,
		UpdatedAt:   time.Now(),
	})
	return hash, contentPath, err
}

// writeOutput writes built content to an instance's output path per the
// node's output mode.
func (e *Engine) writeOutput(node *types.Node, inst *types.NodeInstance, content []byte) error {
	return e.writeOutputTo(node, inst, inst.OutputPath, content)
}

// writeOutputTo writes built content to target per the node's output mode and
// records the symlink for Replace mode. Multi-output nodes pass per-output
// targets under the instance's output directory.
func (e *Engine) writeOutputTo(node *types.Node, inst *types.NodeInstance, target string, content []byte) error {
	switch node.Config.OutputMode {
	case types.OutputModeAppend:
		return e.writer.AppendToFile(target, content)
	case types.OutputModePrepend:
		return e.writer.PrependToFile(target, content)
	case types.OutputModeConcatenate:
		return e.writer.ConcatenateToFile(target, content)
	default:
		hash, contentPath, err := e.content.Store(content)
		if err != nil {
			return err
		}
		if err := e.writer.WriteReplace(target, contentPath); err != nil {
			return err
		}
		return e.db.StoreSymlink(target, hash, inst.ID)
	}
}

// audit appends an execution log entry, best effort.
func (e *Engine) audit(ctx context.Context, nodeID, instanceID string, level types.LogLevel, message string, details map[string]interface{}) {
	entry := &types.ExecutionLog{
		ID:         uuid.NewString(),
		NodeID:     nodeID,
		InstanceID: instanceID,
		Level:      level,
		Message:    message,
		Details:    details,
		Timestamp:  time.Now(),
	}
	if err := e.db.StoreLog(entry); err != nil {
		e.logger.Warn(ctx, err, "writing execution log", "node_id", nodeID)
	}
}

// Status summarizes the daemon for the control API.
type Status struct {
	Running      bool      `json:"running"`
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
	NodeCount    int       `json:"node_count"`
	WatchedFiles int       `json:"watched_files"`
	TailedFiles  int       `json:"tailed_files"`
}

// Status reports daemon state.
func (e *Engine) Status() Status {
	return Status{
		Running:      true,
		PID:          os.Getpid(),
		StartedAt:    e.startedAt,
		NodeCount:    len(e.registry.Nodes()),
		WatchedFiles: len(e.watcher.WatchedPaths()),
		TailedFiles:  len(e.tails.WatchedFiles()),
	}
}

// Nodes lists all registered nodes.
func (e *Engine) Nodes() []*types.Node { return e.registry.Nodes() }

// GetNode looks one node up.
func (e *Engine) GetNode(nodeID string) (*types.Node, error) {
	node, ok := e.registry.GetNode(nodeID)
	if !ok {
		return nil, liverrors.NewNotFoundError("node_not_found", "unknown node "+nodeID)
	}
	return node, nil
}

// Instances lists a node's instances.
func (e *Engine) Instances(nodeID string) []*types.NodeInstance {
	return e.registry.Instances(nodeID)
}

// NodeInputs returns a node's declared input specs.
func (e *Engine) NodeInputs(nodeID string) (map[string]types.InputSpec, error) {
	node, err := e.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	return node.Config.Inputs, nil
}

// FileInputs returns the names of a node's file-typed inputs.
func (e *Engine) FileInputs(nodeID string) ([]string, error) {
	node, err := e.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	var names []string
	for name, spec := range node.Config.Inputs {
		if spec.Type == types.InputTypeFile {
			names = append(names, name)
		}
	}
	return names, nil
}

// Logs returns a node's most recent execution log entries.
func (e *Engine) Logs(nodeID string, limit int) ([]*types.ExecutionLog, error) {
	if _, err := e.GetNode(nodeID); err != nil {
		return nil, err
	}
	return e.db.GetLogs(nodeID, limit)
}

// Graph describes a node's position in the dependency graph.
type Graph struct {
	NodeID       string                 `json:"node_id,omitempty"`
	Dependencies []types.DependencyEdge `json:"dependencies"`
	Dependents   []string               `json:"dependents,omitempty"`
}

// DependencyGraph returns recorded edges, optionally scoped to one node.
// Edges are informational: upstream value changes do not cascade rebuilds.
func (e *Engine) DependencyGraph(nodeID string) (*Graph, error) {
	edges, err := e.db.GetDependencies(nodeID)
	if err != nil {
		return nil, err
	}
	graph := &Graph{NodeID: nodeID, Dependencies: edges}
	if nodeID != "" {
		node, err := e.GetNode(nodeID)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{})
		for _, output := range node.Config.Outputs {
			ids, err := e.db.GetDependents(nodeID, output)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					graph.Dependents = append(graph.Dependents, id)
				}
			}
		}
	}
	return graph, nil
}

// WatchedFiles returns the watched paths and the node ids interested in
// each, optionally scoped to one node.
func (e *Engine) WatchedFiles(nodeID string) map[string][]string {
	all := e.watcher.WatchedPaths()
	for _, path := range e.tails.WatchedFiles() {
		if _, ok := all[path]; !ok {
			all[path] = nil
		}
	}
	if nodeID == "" {
		return all
	}
	scoped := make(map[string][]string)
	for path, ids := range all {
		for _, id := range ids {
			if id == nodeID {
				scoped[path] = ids
				break
			}
		}
	}
	for _, path := range e.registry.PathsForNode(nodeID) {
		if _, ok := scoped[path]; !ok {
			scoped[path] = []string{nodeID}
		}
	}
	return scoped
}

// TailBuffer exposes the rolling line buffer for a tailed file.
func (e *Engine) TailBuffer(path string) []string {
	return e.tails.Buffer(path)
}

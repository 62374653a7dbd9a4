package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/livegen/internal/config"
	liverrors "github.com/conneroisu/livegen/internal/errors"
	"github.com/conneroisu/livegen/internal/logging"
	"github.com/conneroisu/livegen/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{
		Daemon: config.DaemonConfig{
			Dir:  t.TempDir(),
			Host: "localhost",
			Port: 8765,
		},
		Watch: config.WatchConfig{
			DebounceMillis:     20,
			TailIntervalMillis: 20,
			TailBufferLimit:    100,
		},
		Executor: config.ExecutorConfig{
			DefaultTimeoutSeconds: 5,
		},
		Log: config.LogConfig{Level: "info", Format: "text"},
	}
	e, err := New(cfg, logging.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const greetingConfig = `---
node_type: template
inputs:
  name:
    type: string
    default: World
outputs:
  - greeting.txt
---
Hello, {{.name}}!`

func TestRegisterIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "greeting.node", greetingConfig)

	first, err := e.Register(context.Background(), path)
	require.NoError(t, err)
	second, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Millisecond)
	assert.Len(t, e.Nodes(), 1)
}

func TestGreetingEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "greeting.node", greetingConfig)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	output := filepath.Join(dir, "greeting.txt")
	instID, err := e.CreateInstance(context.Background(), node.ID, output, map[string]interface{}{
		"name": "Isaac",
	})
	require.NoError(t, err)
	require.NotEmpty(t, instID)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Isaac!", string(data))

	info, err := os.Lstat(output)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "replace mode output is a symlink")

	value, err := e.db.GetValue(node.ID, "greeting.txt")
	require.NoError(t, err)
	firstHash := value.ValueHash

	require.NoError(t, e.RebuildInstances(context.Background(), node.ID))
	value, err = e.db.GetValue(node.ID, "greeting.txt")
	require.NoError(t, err)
	assert.Equal(t, firstHash, value.ValueHash, "rebuild without input changes keeps the content hash")
}

func TestInstancesReadableDuringRebuilds(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "greeting.node", greetingConfig)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)
	_, err = e.CreateInstance(context.Background(), node.ID, filepath.Join(dir, "out.txt"), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			assert.NoError(t, e.RebuildInstances(context.Background(), node.ID))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, inst := range e.Instances(node.ID) {
				_, err := json.Marshal(inst)
				assert.NoError(t, err)
			}
		}
	}()
	wg.Wait()

	insts := e.Instances(node.ID)
	require.Len(t, insts, 1)
	assert.GreaterOrEqual(t, insts[0].BuildCount, 21, "rebuilds bump the build counter")
}

func TestDefaultInputValue(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "greeting.node", greetingConfig)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	output := filepath.Join(dir, "out.txt")
	_, err = e.CreateInstance(context.Background(), node.ID, output, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(data))
}

func TestRequiredInputMissing(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "strict.node", `---
node_type: template
inputs:
  name:
    type: string
    required: true
outputs:
  - out.txt
---
Hello, {{.name}}!`)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	_, err = e.CreateInstance(context.Background(), node.ID, filepath.Join(dir, "out.txt"), nil)
	require.Error(t, err)
	assert.True(t, liverrors.IsRequiredInputMissing(err))
}

func TestProgramTimeoutStoresNoValue(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	writeConfig(t, dir, "slow.sh", "#!/bin/sh\nsleep 10\n")
	path := writeConfig(t, dir, "slow.node", `---
node_type: program
script_path: slow.sh
working_directory: `+dir+`
timeout: 1
outputs:
  - result.json
---
`)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	_, err = e.CreateInstance(context.Background(), node.ID, filepath.Join(dir, "result.json"), nil)
	require.Error(t, err)
	assert.True(t, liverrors.IsTimeout(err))

	_, err = e.db.GetValue(node.ID, "result.json")
	assert.True(t, liverrors.IsNotFound(err), "no value cached after timeout")
}

func TestProgramBuildCachesOutputs(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	writeConfig(t, dir, "gen.sh", "#!/bin/sh\nprintf 'generated' > \"$LG_OUTPUT_DIR/result.txt\"\n")
	path := writeConfig(t, dir, "gen.node", `---
node_type: program
script_path: gen.sh
working_directory: `+dir+`
outputs:
  - result.txt
---
`)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	output := filepath.Join(dir, "result.txt.out")
	_, err = e.CreateInstance(context.Background(), node.ID, output, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "generated", string(data))

	value, err := e.db.GetValue(node.ID, "result.txt")
	require.NoError(t, err)
	assert.Equal(t, "generated", value.ValueData)
}

func TestProgramMultiOutputWritesDirectory(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	writeConfig(t, dir, "gen.sh", "#!/bin/sh\n"+
		"printf 'one' > \"$LG_OUTPUT_DIR/a.txt\"\n"+
		"printf 'two' > \"$LG_OUTPUT_DIR/b.txt\"\n")
	path := writeConfig(t, dir, "gen.node", `---
node_type: program
script_path: gen.sh
working_directory: `+dir+`
outputs:
  - a.txt
  - b.txt
---
`)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	outDir := filepath.Join(dir, "generated")
	_, err = e.CreateInstance(context.Background(), node.ID, outDir, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	data, err = os.ReadFile(filepath.Join(outDir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	for name, want := range map[string]string{"a.txt": "one", "b.txt": "two"} {
		value, err := e.db.GetValue(node.ID, name)
		require.NoError(t, err)
		assert.Equal(t, want, value.ValueData)
	}
}

func TestWebhookDrainedExactlyOnce(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "hook.node", `---
node_type: webhook
output_mode: concatenate
outputs:
  - events.log
---
event: {{.webhook_data.kind}}`)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	output := filepath.Join(dir, "events.log")
	_, err = e.CreateInstance(context.Background(), node.ID, output, nil)
	require.NoError(t, err)

	triggerID, err := e.TriggerWebhook(context.Background(), node.ID, map[string]interface{}{
		"kind": "deploy",
	}, map[string]string{"X-Source": "test"})
	require.NoError(t, err)
	assert.Contains(t, triggerID, node.ID)

	require.NoError(t, e.drainPendingTriggers(context.Background()))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "event: deploy")

	pending, err := e.db.GetPendingTriggers(node.ID)
	require.NoError(t, err)
	assert.Empty(t, pending, "drained trigger must not reappear")

	// Re-draining processes nothing more.
	require.NoError(t, e.drainPendingTriggers(context.Background()))
	again, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestTriggerWebhookRejectsNonWebhookNode(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "greeting.node", greetingConfig)
	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	_, err = e.TriggerWebhook(context.Background(), node.ID, nil, nil)
	require.Error(t, err)
	assert.True(t, liverrors.IsType(err, liverrors.ErrorTypeConfig))
}

func TestHandleFileChangeReloadsConfig(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "greeting.node", greetingConfig)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)
	createdAt := node.CreatedAt

	output := filepath.Join(dir, "greeting.txt")
	_, err = e.CreateInstance(context.Background(), node.ID, output, nil)
	require.NoError(t, err)

	writeConfig(t, dir, "greeting.node", `---
node_type: template
inputs:
  name:
    type: string
    default: World
outputs:
  - greeting.txt
---
Goodbye, {{.name}}!`)

	e.HandleFileChange(context.Background(), node.ID, node.ConfigPath)

	reloaded, err := e.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, node.ID, reloaded.ID)
	assert.WithinDuration(t, createdAt, reloaded.CreatedAt, time.Millisecond)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "Goodbye, World!", string(data))
}

func TestHandleFileChangeBadReloadKeepsNode(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "greeting.node", greetingConfig)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	writeConfig(t, dir, "greeting.node", "no frontmatter here")
	e.HandleFileChange(context.Background(), node.ID, node.ConfigPath)

	kept, err := e.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeTypeTemplate, kept.Config.NodeType)
	assert.Equal(t, "Hello, {{.name}}!", kept.Config.Body)
}

func TestHandleTailChangeAppendsLines(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "tail.node", `---
node_type: tail
output_mode: append
transform: upper
inputs:
  logfile:
    type: file
outputs:
  - tail.out
---
`)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	logFile := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logFile, nil, 0o644))

	output := filepath.Join(dir, "tail.out")
	_, err = e.CreateInstance(context.Background(), node.ID, output, map[string]interface{}{
		"logfile": logFile,
	})
	require.NoError(t, err)

	e.HandleTailChange(context.Background(), node.ID, []string{"alpha", "beta"})
	e.HandleTailChange(context.Background(), node.ID, []string{"gamma"})

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "ALPHA\nBETA\nGAMMA\n", string(data))
}

func TestUnregisterCascades(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "greeting.node", greetingConfig)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	output := filepath.Join(dir, "greeting.txt")
	_, err = e.CreateInstance(context.Background(), node.ID, output, nil)
	require.NoError(t, err)

	require.NoError(t, e.Unregister(context.Background(), node.ID))

	_, err = e.GetNode(node.ID)
	assert.True(t, liverrors.IsNotFound(err))
	_, statErr := os.Lstat(output)
	assert.True(t, os.IsNotExist(statErr), "output artifact removed")
	_, err = e.db.GetNode(node.ID)
	assert.True(t, liverrors.IsNotFound(err))
}

func TestDependencyGraph(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "dep.node", `---
node_type: template
inputs:
  upstream:
    type: string
    source: "@abc123def456.greeting"
    default: none
outputs:
  - dep.txt
---
value: {{.upstream}} and @abc123def456.other`)

	node, err := e.Register(context.Background(), path)
	require.NoError(t, err)

	graph, err := e.DependencyGraph(node.ID)
	require.NoError(t, err)
	require.Len(t, graph.Dependencies, 2)
	assert.Equal(t, "abc123def456", graph.Dependencies[0].DependencyNodeID)
}

func TestDeriveNodeIDStable(t *testing.T) {
	a := DeriveNodeID("/some/path/config.node")
	b := DeriveNodeID("/some/path/config.node")
	c := DeriveNodeID("/other/path/config.node")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 12)
}

func TestTransformRegistry(t *testing.T) {
	RegisterTransform("exclaim", func(line string) (string, bool) {
		return line + "!", true
	})
	fn, ok := LookupTransform("exclaim")
	require.True(t, ok)
	out, keep := fn("hey")
	assert.True(t, keep)
	assert.Equal(t, "hey!", out)

	assert.Equal(t, []string{"kept"},
		applyTransform("nonempty", []string{"kept", "   "}))
	assert.Equal(t, []string{"as-is"},
		applyTransform("unknown-transform", []string{"as-is"}))
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Type: EventBuildCompleted, NodeID: "n1"})
	select {
	case ev := <-ch:
		assert.Equal(t, EventBuildCompleted, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	pf := NewPIDFile(path)

	assert.False(t, pf.Running())
	require.NoError(t, pf.Acquire())

	pid, ok := pf.Read()
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, pf.Running())

	// A stale pid from a dead process is replaced.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o644))
	require.NoError(t, pf.Acquire())
	pid, _ = pf.Read()
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, pf.Release())
	assert.False(t, pf.Running())
	require.NoError(t, pf.Release())
}

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/livegen/internal/config"
	"github.com/conneroisu/livegen/internal/engine"
	"github.com/conneroisu/livegen/internal/logging"
	"github.com/conneroisu/livegen/internal/types"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine, string) {
	t.Helper()
	cfg := &config.Config{
		Daemon: config.DaemonConfig{Dir: t.TempDir(), Host: "localhost", Port: 0},
		Watch: config.WatchConfig{
			DebounceMillis:     20,
			TailIntervalMillis: 20,
			TailBufferLimit:    100,
		},
		Executor: config.ExecutorConfig{DefaultTimeoutSeconds: 5},
		Log:      config.LogConfig{Level: "info", Format: "text"},
	}
	eng, err := engine.New(cfg, logging.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Stop() })

	workDir := t.TempDir()
	return New(cfg, eng, logging.NopLogger{}), eng, workDir
}

func writeNodeConfig(t *testing.T, dir, name, content string) string {
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

func doJSON(t *testing.T, handler http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Running)
	assert.Zero(t, status.NodeCount)
}

func TestNodeLifecycleOverAPI(t *testing.T) {
	srv, _, workDir := newTestServer(t)
	configPath := writeNodeConfig(t, workDir, "greeting.node", greetingConfig)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes", map[string]string{
		"config_path": configPath,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var node types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))
	assert.Len(t, node.ID, 12)
	assert.Equal(t, types.NodeTypeTemplate, node.Config.NodeType)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes []types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/nodes/"+node.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/nodes/"+node.ID+"/inputs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var inputs map[string]types.InputSpec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inputs))
	assert.Contains(t, inputs, "name")

	rec = doJSON(t, srv.Handler(), http.MethodDelete, "/api/nodes/"+node.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/nodes/"+node.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes", map[string]string{
		"config_path": "/nonexistent/path.node",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateInstanceAndRebuild(t *testing.T) {
	srv, _, workDir := newTestServer(t)
	configPath := writeNodeConfig(t, workDir, "greeting.node", greetingConfig)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes", map[string]string{
		"config_path": configPath,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var node types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))

	outputPath := filepath.Join(workDir, "greeting.txt")
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes/"+node.ID+"/instances", map[string]interface{}{
		"output_path":  outputPath,
		"input_values": map[string]interface{}{"name": "Isaac"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "Hello, Isaac!", string(data))

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/instances?node_id="+node.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var instances []types.NodeInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &instances))
	require.Len(t, instances, 1)
	assert.Equal(t, outputPath, instances[0].OutputPath)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes/"+node.ID+"/rebuild", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/nodes/"+node.ID+"/logs?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var logs []types.ExecutionLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	assert.NotEmpty(t, logs)
}

func TestRequiredInputMissingMapsTo400(t *testing.T) {
	srv, _, workDir := newTestServer(t)
	configPath := writeNodeConfig(t, workDir, "strict.node", `---
node_type: template
inputs:
  name:
    type: string
    required: true
outputs:
  - out.txt
---
Hello, {{.name}}!`)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes", map[string]string{
		"config_path": configPath,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var node types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes/"+node.ID+"/instances", map[string]interface{}{
		"output_path": filepath.Join(workDir, "out.txt"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookIngestion(t *testing.T) {
	srv, _, workDir := newTestServer(t)
	configPath := writeNodeConfig(t, workDir, "hook.node", `---
node_type: webhook
output_mode: append
outputs:
  - events.log
---
{{.webhook_data.kind}}
`)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes", map[string]string{
		"config_path": configPath,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var node types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/webhooks/"+node.ID, map[string]interface{}{
		"kind": "release",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["trigger_id"], node.ID)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/webhooks/unknown-node", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTailBufferEndpoint(t *testing.T) {
	srv, _, workDir := newTestServer(t)

	logFile := filepath.Join(workDir, "app.log")
	require.NoError(t, os.WriteFile(logFile, []byte("one\ntwo\nthree\n"), 0o644))

	configPath := writeNodeConfig(t, workDir, "tail.node", `---
node_type: tail
output_mode: append
tail_lines: 2
inputs:
  logfile:
    type: file
outputs:
  - tail.out
---
`)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes", map[string]string{
		"config_path": configPath,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var node types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes/"+node.ID+"/instances", map[string]interface{}{
		"output_path":  filepath.Join(workDir, "tail.out"),
		"input_values": map[string]interface{}{"logfile": logFile},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/tail-buffer?path="+logFile, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var buffer struct {
		Path  string   `json:"path"`
		Lines []string `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &buffer))
	assert.Equal(t, []string{"two", "three"}, buffer.Lines)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/tail-buffer", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphAndWatchedFiles(t *testing.T) {
	srv, _, workDir := newTestServer(t)
	configPath := writeNodeConfig(t, workDir, "greeting.node", greetingConfig)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/nodes", map[string]string{
		"config_path": configPath,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var node types.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &node))

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/graph?node_id="+node.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/watched-files", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var watched map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &watched))
	assert.Contains(t, watched, node.ConfigPath)
}

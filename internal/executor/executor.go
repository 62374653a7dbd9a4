// Package executor runs program nodes as sandboxed subprocesses: resolved
// inputs are injected through argv and environment, outputs are collected
// from an execution-unique temporary directory, and a wall-clock timeout
// kills and reaps the process before the failure is reported.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	liverrors "github.com/conneroisu/livegen/internal/errors"
	"github.com/conneroisu/livegen/internal/logging"
	"github.com/conneroisu/livegen/internal/types"
)

// EnvPrefix mangles resolved input names into environment variables:
// input "name" becomes LG_NAME.
const EnvPrefix = "LG_"

// OutputDirEnv names the per-execution temporary output directory.
const OutputDirEnv = "LG_OUTPUT_DIR"

// ProgramExecutor spawns program node subprocesses.
type ProgramExecutor struct {
	workDir        string
	defaultTimeout time.Duration
	logger         logging.Logger

	mu     sync.Mutex
	active map[string]*os.Process
}

// NewProgramExecutor creates an executor. workDir is the fallback working
// directory when a node declares none.
func NewProgramExecutor(workDir string, defaultTimeout time.Duration, logger logging.Logger) *ProgramExecutor {
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	return &ProgramExecutor{
		workDir:        workDir,
		defaultTimeout: defaultTimeout,
		logger:         logger.WithComponent("executor"),
		active:         make(map[string]*os.Process),
	}
}

// Execute runs the node's program with the resolved inputs and returns the
// paths of the declared output files found in the temp directory, in
// declaration order, plus the execution audit log entries. Missing declared
// outputs are logged as warnings, not errors. The temporary output
// directory is removed on every exit path; found outputs are moved out of
// it first, so the returned paths stay valid until the caller deletes them.
func (e *ProgramExecutor) Execute(ctx context.Context, node *types.Node, instance *types.NodeInstance, inputs map[string]interface{}) ([]string, []*types.ExecutionLog, error) {
	executionID := uuid.NewString()
	var logs []*types.ExecutionLog
	addLog := func(level types.LogLevel, msg string, details map[string]interface{}) {
		logs = append(logs, &types.ExecutionLog{
			ID:         uuid.NewString(),
			NodeID:     node.ID,
			InstanceID: instance.ID,
			Level:      level,
			Message:    msg,
			Details:    details,
			Timestamp:  time.Now(),
		})
	}

	addLog(types.LogLevelInfo, "starting program execution", map[string]interface{}{
		"execution_id": executionID,
	})

	tempDir, err := os.MkdirTemp("", "livegen-exec-")
	if err != nil {
		return nil, logs, liverrors.NewIOError("creating execution temp directory", err)
	}
	defer os.RemoveAll(tempDir)

	workDir := e.workDir
	if node.Config.WorkingDirectory != "" {
		workDir = node.Config.WorkingDirectory
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return nil, logs, liverrors.NewIOError("resolving working directory", err)
	}

	args, err := e.buildCommand(node, workDir, inputs)
	if err != nil {
		return nil, logs, err
	}
	addLog(types.LogLevelDebug, "resolved command", map[string]interface{}{
		"args": args,
		"cwd":  workDir,
	})

	env := os.Environ()
	for k, v := range node.Config.Environment {
		env = append(env, k+"="+v)
	}
	for name, value := range inputs {
		env = append(env, EnvPrefix+strings.ToUpper(name)+"="+encodeValue(value))
	}
	env = append(env, OutputDirEnv+"="+tempDir)

	timeout := node.Config.Timeout(e.defaultTimeout)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, logs, liverrors.NewExecutionError("starting program: "+err.Error(), "").WithNode(node.ID)
	}

	e.mu.Lock()
	e.active[executionID] = cmd.Process
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, executionID)
		e.mu.Unlock()
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var runErr error
	select {
	case runErr = <-waitErr:
	case <-timer.C:
		// Kill and reap before reporting the timeout.
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, logs, liverrors.NewTimeoutError(fmt.Sprintf("program timed out after %s", timeout)).
			WithNode(node.ID).WithInstance(instance.ID)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, logs, ctx.Err()
	}

	if stdout.Len() > 0 {
		addLog(types.LogLevelInfo, "program stdout", map[string]interface{}{
			"output": stdout.String(),
		})
	}
	if stderr.Len() > 0 {
		level := types.LogLevelWarning
		if runErr != nil {
			level = types.LogLevelError
		}
		addLog(level, "program stderr", map[string]interface{}{
			"output": stderr.String(),
		})
	}

	if runErr != nil {
		return nil, logs, liverrors.NewExecutionError("program exited with error: "+runErr.Error(), stderr.String()).
			WithNode(node.ID).WithInstance(instance.ID)
	}

	// Collect declared outputs from the temp directory. Partial output is
	// tolerated: a missing file is a warning, not a failure. Found files are
	// moved out so they survive the temp dir cleanup; the caller deletes
	// them once consumed.
	var outputFiles []string
	for _, outputName := range node.Config.Outputs {
		src := filepath.Join(tempDir, outputName)
		if _, err := os.Stat(src); err != nil {
			addLog(types.LogLevelWarning, "expected output file not found: "+outputName, map[string]interface{}{
				"expected_path": src,
			})
			continue
		}
		dst := filepath.Join(os.TempDir(), "livegen-out-"+executionID+"-"+filepath.Base(outputName))
		if err := moveFile(src, dst); err != nil {
			return nil, logs, liverrors.NewIOError("collecting output file "+outputName, err)
		}
		outputFiles = append(outputFiles, dst)
	}

	addLog(types.LogLevelInfo, "program execution completed", map[string]interface{}{
		"execution_id": executionID,
		"output_files": outputFiles,
	})
	return outputFiles, logs, nil
}

// Kill cancels a running execution by id. Returns false when no such
// execution is active.
func (e *ProgramExecutor) Kill(executionID string) bool {
	e.mu.Lock()
	proc, ok := e.active[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	_ = proc.Kill()
	return true
}

// ActiveExecutions lists the ids of currently running executions.
func (e *ProgramExecutor) ActiveExecutions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	return ids
}

// buildCommand resolves the unit of work: a script invoked positionally with
// each input value, or a command template with ${name} placeholders split
// with shell-quoting rules.
func (e *ProgramExecutor) buildCommand(node *types.Node, workDir string, inputs map[string]interface{}) ([]string, error) {
	if node.Config.ScriptPath != "" {
		scriptPath := node.Config.ScriptPath
		if !filepath.IsAbs(scriptPath) {
			scriptPath = filepath.Join(workDir, scriptPath)
		}

		info, err := os.Stat(scriptPath)
		if err != nil {
			return nil, liverrors.NewIOError("resolving script "+scriptPath, err)
		}
		if err := os.Chmod(scriptPath, info.Mode().Perm()|0o755); err != nil {
			return nil, liverrors.NewIOError("marking script executable", err)
		}

		args := []string{scriptPath}
		for _, name := range sortedKeys(inputs) {
			args = append(args, encodeValue(inputs[name]))
		}
		return args, nil
	}

	if node.Config.Command != "" {
		command := node.Config.Command
		for name, value := range inputs {
			command = strings.ReplaceAll(command, "${"+name+"}", encodeValue(value))
		}
		args, err := splitCommand(command)
		if err != nil {
			return nil, liverrors.NewConfigError("invalid_command", "tokenizing command").WithCause(err)
		}
		if len(args) == 0 {
			return nil, liverrors.NewConfigError("empty_command", "command resolves to nothing")
		}
		return args, nil
	}

	return nil, liverrors.NewConfigError("no_program", "program node must declare script_path or command")
}

// encodeValue stringifies an input value for argv or environment: strings
// pass through, composite values are JSON-encoded.
func encodeValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitCommand tokenizes a command line with shell-quoting semantics:
// whitespace separates tokens, single and double quotes group, backslash
// escapes inside double quotes and bare text.
func splitCommand(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		started bool
	)

	i := 0
	for i < len(command) {
		c := command[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
			i++
		case c == '\'':
			started = true
			end := strings.IndexByte(command[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated single quote")
			}
			current.WriteString(command[i+1 : i+1+end])
			i += end + 2
		case c == '"':
			started = true
			i++
			for i < len(command) && command[i] != '"' {
				if command[i] == '\\' && i+1 < len(command) {
					i++
				}
				current.WriteByte(command[i])
				i++
			}
			if i >= len(command) {
				return nil, fmt.Errorf("unterminated double quote")
			}
			i++
		case c == '\\' && i+1 < len(command):
			started = true
			current.WriteByte(command[i+1])
			i += 2
		default:
			started = true
			current.WriteByte(c)
			i++
		}
	}
	if started {
		args = append(args, current.String())
	}
	return args, nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename can fail across filesystems; fall back to copy.
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

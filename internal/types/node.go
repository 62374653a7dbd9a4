// Package types provides common type definitions used throughout the livegen
// daemon. This package contains shared types to avoid circular dependencies
// between packages.
package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NodeType identifies what kind of output-producing unit a node is.
type NodeType string

const (
	NodeTypeTemplate NodeType = "template"
	NodeTypeProgram  NodeType = "program"
	NodeTypeFile     NodeType = "file"
	NodeTypeWebhook  NodeType = "webhook"
	NodeTypeTail     NodeType = "tail"
	NodeTypeManual   NodeType = "manual"
)

// Valid reports whether the node type is one of the supported variants.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTemplate, NodeTypeProgram, NodeTypeFile, NodeTypeWebhook, NodeTypeTail, NodeTypeManual:
		return true
	}
	return false
}

// InputType identifies the declared type of a node input.
type InputType string

const (
	InputTypeString  InputType = "string"
	InputTypeInteger InputType = "integer"
	InputTypeNumber  InputType = "number"
	InputTypeBoolean InputType = "boolean"
	InputTypeArray   InputType = "array"
	InputTypeObject  InputType = "object"
	InputTypeFile    InputType = "file"
)

// OutputMode controls how built content is written to an instance's output path.
type OutputMode string

const (
	// OutputModeReplace swaps the output symlink to new content atomically.
	OutputModeReplace OutputMode = "replace"
	// OutputModeAppend appends new content to the existing file.
	OutputModeAppend OutputMode = "append"
	// OutputModePrepend prepends new content to the existing file.
	OutputModePrepend OutputMode = "prepend"
	// OutputModeConcatenate appends with a newline separator when needed.
	OutputModeConcatenate OutputMode = "concatenate"
)

// InputMode controls how file inputs are watched.
type InputMode string

const (
	// InputModeNormal rebuilds the whole instance when a file input changes.
	InputModeNormal InputMode = "normal"
	// InputModeTail delivers line-level deltas for incremental output updates.
	InputModeTail InputMode = "tail"
)

// LogLevel classifies execution log entries.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// InputSpec declares one named input of a node.
type InputSpec struct {
	Type        InputType   `yaml:"type" json:"type"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Default     interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Required    bool        `yaml:"required" json:"required"`
	// Source optionally references another node's output: "@node-id.output".
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
}

// Normalize enforces the invariant that an input with a default is never
// required.
func (s *InputSpec) Normalize() {
	if s.Default != nil {
		s.Required = false
	}
}

// NodeConfig is the parsed configuration of a node, taken from the
// frontmatter block of its config file.
type NodeConfig struct {
	SchemaVersion string               `yaml:"schema_version" json:"schema_version"`
	NodeType      NodeType             `yaml:"node_type" json:"node_type"`
	Inputs        map[string]InputSpec `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs       []string             `yaml:"outputs" json:"outputs"`
	OutputMode    OutputMode           `yaml:"output_mode,omitempty" json:"output_mode"`
	InputMode     InputMode            `yaml:"input_mode,omitempty" json:"input_mode"`

	// Transform names a registered line transform applied to tailed lines.
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`

	// Template-specific. Body is the opaque text after the frontmatter block.
	Body string `yaml:"-" json:"body,omitempty"`

	// Program-specific.
	ScriptPath       string            `yaml:"script_path,omitempty" json:"script_path,omitempty"`
	Command          string            `yaml:"command,omitempty" json:"command,omitempty"`
	WorkingDirectory string            `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	Environment      map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
	TimeoutSeconds   int               `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Webhook-specific.
	WebhookConfig map[string]interface{} `yaml:"webhook_config,omitempty" json:"webhook_config,omitempty"`

	// Tail-specific: number of lines seeded into the buffer when a watch is
	// armed on an existing file.
	TailLines int `yaml:"tail_lines,omitempty" json:"tail_lines,omitempty"`
}

// Timeout returns the configured execution timeout, or the given fallback.
func (c *NodeConfig) Timeout(fallback time.Duration) time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return fallback
}

// Node is a registered unit of output-producing configuration.
type Node struct {
	// ID is derived from the resolved config path; registration is idempotent.
	ID         string     `json:"id"`
	Config     NodeConfig `json:"config"`
	ConfigPath string     `json:"config_path,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// NodeInstance is one concrete materialization of a node at an output path.
type NodeInstance struct {
	ID          string                 `json:"id"`
	NodeID      string                 `json:"node_id"`
	InputValues map[string]interface{} `json:"input_values"`
	OutputPath  string                 `json:"output_path"`
	CreatedAt   time.Time              `json:"created_at"`
	LastBuilt   time.Time              `json:"last_built,omitempty"`
	BuildCount  int                    `json:"build_count"`
}

// NodeValue caches a node's most recently produced output, keyed by output
// name. Other nodes reference it via "@node-id.output" tokens.
type NodeValue struct {
	NodeID      string      `json:"node_id"`
	OutputName  string      `json:"output_name"`
	ValueHash   string      `json:"value_hash"`
	ValueData   interface{} `json:"value_data"`
	ContentPath string      `json:"content_path,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// DependencyEdge records a declared or discovered dependency between nodes.
type DependencyEdge struct {
	DependentNodeID  string `json:"dependent_node_id"`
	DependencyNodeID string `json:"dependency_node_id"`
	DependencyOutput string `json:"dependency_output"`
}

// TailState is the persisted incremental-read position for a tailed file.
type TailState struct {
	NodeID       string    `json:"node_id"`
	FilePath     string    `json:"file_path"`
	LastPosition int64     `json:"last_position"`
	// LastInode is 0 when the file identity is unknown.
	LastInode uint64   `json:"last_inode"`
	Buffer    []string `json:"buffer"`
	// Fragment reports whether the last buffer entry is an unterminated
	// line still awaiting its terminator. It must survive restarts, or the
	// line's continuation would be delivered as a separate line.
	Fragment  bool      `json:"fragment,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WebhookTrigger is one recorded webhook delivery awaiting processing.
// Immutable once recorded except for the Processed flag.
type WebhookTrigger struct {
	ID        string                 `json:"id"`
	NodeID    string                 `json:"node_id"`
	Data      map[string]interface{} `json:"data"`
	Headers   map[string]string      `json:"headers"`
	Timestamp time.Time              `json:"timestamp"`
	Processed bool                   `json:"processed"`
}

// TriggerID derives the deterministic trigger id from node id and arrival
// time.
func TriggerID(nodeID string, ts time.Time) string {
	return fmt.Sprintf("%s_%d", nodeID, ts.UnixMilli())
}

// ExecutionLog is one append-only audit trail entry for a node.
type ExecutionLog struct {
	ID         string                 `json:"id"`
	NodeID     string                 `json:"node_id"`
	InstanceID string                 `json:"instance_id,omitempty"`
	Level      LogLevel               `json:"level"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// NodeReference is a parsed "@node-id.output" token.
type NodeReference struct {
	NodeID     string
	OutputName string
}

var referencePattern = regexp.MustCompile(`^@([a-zA-Z0-9_-]+)\.([a-zA-Z0-9_-]+)$`)

// ParseReference parses an "@node-id.output" token.
func ParseReference(s string) (NodeReference, error) {
	m := referencePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return NodeReference{}, fmt.Errorf("invalid node reference %q", s)
	}
	return NodeReference{NodeID: m[1], OutputName: m[2]}, nil
}

// String renders the reference back to its token form.
func (r NodeReference) String() string {
	return "@" + r.NodeID + "." + r.OutputName
}

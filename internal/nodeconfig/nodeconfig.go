// Package nodeconfig parses node configuration files: a ----delimited YAML
// frontmatter block describing the node, followed by an opaque body handed
// unmodified to the template renderer.
package nodeconfig

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/livegen/internal/errors"
	"github.com/conneroisu/livegen/internal/types"
)

var frontmatterPattern = regexp.MustCompile(`(?s)\A---\s*\n(.*?)\n---\s*\n(.*)\z`)

// ParseFile loads and parses a node configuration file.
func ParseFile(path string) (*types.NodeConfig, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", errors.NewNotFoundError("config_not_found", "config file not found: "+path)
		}
		return nil, "", errors.NewIOError("reading config file "+path, err)
	}
	return Parse(string(data))
}

// Parse parses config file content into a NodeConfig and its opaque body.
func Parse(content string) (*types.NodeConfig, string, error) {
	m := frontmatterPattern.FindStringSubmatch(content)
	if m == nil {
		return nil, "", errors.NewConfigError("no_frontmatter", "no valid YAML frontmatter found")
	}

	var cfg types.NodeConfig
	if err := yaml.Unmarshal([]byte(m[1]), &cfg); err != nil {
		return nil, "", errors.NewConfigError("invalid_yaml", "invalid YAML in frontmatter").WithCause(err)
	}

	body := m[2]
	cfg.Body = body

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, "", err
	}

	return &cfg, body, nil
}

func applyDefaults(cfg *types.NodeConfig) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "1.0"
	}
	if cfg.OutputMode == "" {
		cfg.OutputMode = types.OutputModeReplace
	}
	if cfg.InputMode == "" {
		if cfg.NodeType == types.NodeTypeTail {
			cfg.InputMode = types.InputModeTail
		} else {
			cfg.InputMode = types.InputModeNormal
		}
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = 10
	}

	for name, spec := range cfg.Inputs {
		spec.Normalize()
		cfg.Inputs[name] = spec
	}
}

// Validate checks a parsed NodeConfig for structural problems.
func Validate(cfg *types.NodeConfig) error {
	if !cfg.NodeType.Valid() {
		return errors.NewConfigError("invalid_node_type", "unknown node_type "+string(cfg.NodeType))
	}
	if len(cfg.Outputs) == 0 {
		return errors.NewConfigError("no_outputs", "node declares no outputs")
	}
	if cfg.NodeType == types.NodeTypeTemplate && strings.TrimSpace(cfg.Body) == "" {
		return errors.NewConfigError("empty_template", "template nodes must have a body")
	}
	if cfg.NodeType == types.NodeTypeProgram && cfg.ScriptPath == "" && cfg.Command == "" {
		return errors.NewConfigError("no_program", "program nodes must declare script_path or command")
	}
	for name, spec := range cfg.Inputs {
		if spec.Source != "" {
			if _, err := types.ParseReference(spec.Source); err != nil {
				return errors.NewConfigError("invalid_source", "input "+name+" has invalid source").WithCause(err)
			}
		}
	}
	return nil
}

var inlineReferencePattern = regexp.MustCompile(`@([a-zA-Z0-9_-]+)\.([a-zA-Z0-9_-]+)`)

// ExtractDependencies collects dependency edges for a node: explicit input
// sources plus "@node-id.output" tokens scanned out of the opaque body. The
// tokens are used for graph construction only; the core never substitutes
// them.
func ExtractDependencies(nodeID string, cfg *types.NodeConfig) []types.DependencyEdge {
	seen := make(map[types.DependencyEdge]struct{})
	var edges []types.DependencyEdge

	add := func(ref types.NodeReference) {
		edge := types.DependencyEdge{
			DependentNodeID:  nodeID,
			DependencyNodeID: ref.NodeID,
			DependencyOutput: ref.OutputName,
		}
		if _, ok := seen[edge]; ok {
			return
		}
		seen[edge] = struct{}{}
		edges = append(edges, edge)
	}

	for _, spec := range cfg.Inputs {
		if spec.Source == "" {
			continue
		}
		if ref, err := types.ParseReference(spec.Source); err == nil {
			add(ref)
		}
	}

	for _, m := range inlineReferencePattern.FindAllStringSubmatch(cfg.Body, -1) {
		add(types.NodeReference{NodeID: m[1], OutputName: m[2]})
	}

	return edges
}

package engine

import (
	"context"
	"os"
	"path/filepath"

	"github.com/conneroisu/livegen/internal/types"
)

// Builder produces an instance's output from its node's current inputs.
// One implementation exists per node type.
type Builder interface {
	Build(ctx context.Context, node *types.Node, inst *types.NodeInstance) error
}

// build dispatches to the node type's builder, records the audit trail, and
// updates instance build metadata on success.
func (e *Engine) build(ctx context.Context, node *types.Node, inst *types.NodeInstance) error {
	var builder Builder
	switch node.Config.NodeType {
	case types.NodeTypeTemplate:
		builder = templateBuilder{e}
	case types.NodeTypeProgram:
		builder = programBuilder{e}
	case types.NodeTypeFile:
		builder = fileBuilder{e}
	case types.NodeTypeWebhook:
		builder = webhookBuilder{e}
	case types.NodeTypeTail:
		builder = tailBuilder{e}
	case types.NodeTypeManual:
		builder = manualBuilder{e}
	default:
		e.audit(ctx, node.ID, inst.ID, types.LogLevelError, "unknown node type", nil)
		return nil
	}

	if err := builder.Build(ctx, node, inst); err != nil {
		e.audit(ctx, node.ID, inst.ID, types.LogLevelError, "build failed", map[string]interface{}{
			"error": err.Error(),
		})
		e.events.Publish(Event{Type: EventBuildFailed, NodeID: node.ID, InstanceID: inst.ID})
		return err
	}

	e.touchInstance(ctx, inst)
	e.events.Publish(Event{Type: EventBuildCompleted, NodeID: node.ID, InstanceID: inst.ID})
	return nil
}

// templateBuilder renders the node body with resolved inputs, writes the
// result per output mode, and caches a NodeValue per declared output.
type templateBuilder struct{ e *Engine }

func (b templateBuilder) Build(ctx context.Context, node *types.Node, inst *types.NodeInstance) error {
	inputs, err := b.e.resolveInputs(ctx, node, inst)
	if err != nil {
		return err
	}

	rendered, err := b.e.renderer.Render(node.Config.Body, inputs)
	if err != nil {
		return err
	}
	content := []byte(rendered)

	if err := b.e.writeOutput(node, inst, content); err != nil {
		return err
	}
	for _, outputName := range node.Config.Outputs {
		if _, _, err := b.e.cacheValue(node.ID, outputName, content); err != nil {
			return err
		}
	}

	b.e.audit(ctx, node.ID, inst.ID, types.LogLevelInfo, "template rendered", map[string]interface{}{
		"output_path": inst.OutputPath,
		"bytes":       len(content),
	})
	return nil
}

// programBuilder runs the node's program and maps returned output files to
// declared output names by position. With a single declared output the
// instance's output path is the file itself; with several it is a directory
// holding one file per declared output. Every mapped output is cached as a
// NodeValue. The collected temp files are deleted once cached.
type programBuilder struct{ e *Engine }

func (b programBuilder) Build(ctx context.Context, node *types.Node, inst *types.NodeInstance) error {
	inputs, err := b.e.resolveInputs(ctx, node, inst)
	if err != nil {
		return err
	}

	outputFiles, logs, execErr := b.e.executor.Execute(ctx, node, inst, inputs)
	for _, entry := range logs {
		if err := b.e.db.StoreLog(entry); err != nil {
			b.e.logger.Warn(ctx, err, "writing execution log", "node_id", node.ID)
		}
	}
	if execErr != nil {
		return execErr
	}
	defer func() {
		for _, path := range outputFiles {
			if err := os.Remove(path); err != nil {
				b.e.logger.Warn(ctx, err, "removing collected output file", "path", path)
			}
		}
	}()

	multi := len(node.Config.Outputs) > 1
	if multi && inst.OutputPath != "" {
		if err := os.MkdirAll(inst.OutputPath, 0o755); err != nil {
			return err
		}
	}

	for i, outputName := range node.Config.Outputs {
		if i >= len(outputFiles) {
			break
		}
		content, err := os.ReadFile(outputFiles[i])
		if err != nil {
			return err
		}
		if multi {
			target := filepath.Join(inst.OutputPath, outputName)
			if err := b.e.writeOutputTo(node, inst, target, content); err != nil {
				return err
			}
		} else if i == 0 {
			if err := b.e.writeOutput(node, inst, content); err != nil {
				return err
			}
		}
		if _, _, err := b.e.cacheValue(node.ID, outputName, content); err != nil {
			return err
		}
	}
	return nil
}

// fileBuilder mirrors a watched source file: the first file-typed input's
// content becomes the output.
type fileBuilder struct{ e *Engine }

func (b fileBuilder) Build(ctx context.Context, node *types.Node, inst *types.NodeInstance) error {
	inputs, err := b.e.resolveInputs(ctx, node, inst)
	if err != nil {
		return err
	}

	var sourcePath string
	for name, spec := range node.Config.Inputs {
		if spec.Type != types.InputTypeFile {
			continue
		}
		if path, ok := inputs[name].(string); ok && path != "" {
			sourcePath = path
			break
		}
	}
	if sourcePath == "" {
		b.e.audit(ctx, node.ID, inst.ID, types.LogLevelWarning, "file node has no resolvable file input", nil)
		return nil
	}

	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	if err := b.e.writeOutput(node, inst, content); err != nil {
		return err
	}
	for _, outputName := range node.Config.Outputs {
		if _, _, err := b.e.cacheValue(node.ID, outputName, content); err != nil {
			return err
		}
	}
	return nil
}

// webhookBuilder does nothing at build time: webhook output is produced when
// queued triggers are drained.
type webhookBuilder struct{ e *Engine }

func (b webhookBuilder) Build(ctx context.Context, node *types.Node, inst *types.NodeInstance) error {
	b.e.audit(ctx, node.ID, inst.ID, types.LogLevelDebug, "webhook instance registered, awaiting triggers", nil)
	return nil
}

// tailBuilder does nothing at build time: tail output accrues incrementally
// as new lines arrive on the watched file.
type tailBuilder struct{ e *Engine }

func (b tailBuilder) Build(ctx context.Context, node *types.Node, inst *types.NodeInstance) error {
	b.e.audit(ctx, node.ID, inst.ID, types.LogLevelDebug, "tail instance registered, awaiting lines", nil)
	return nil
}

// manualBuilder produces nothing: manual node values are set out of band.
type manualBuilder struct{ e *Engine }

func (b manualBuilder) Build(ctx context.Context, node *types.Node, inst *types.NodeInstance) error {
	return nil
}

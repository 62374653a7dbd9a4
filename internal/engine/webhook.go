package engine

import (
	"context"
	"time"

	liverrors "github.com/conneroisu/livegen/internal/errors"
	"github.com/conneroisu/livegen/internal/types"
)

const (
	webhookPollInterval = time.Second
	webhookErrorBackoff = 5 * time.Second
)

// TriggerWebhook queues a webhook delivery for a node. Ingestion is fast and
// durable; processing happens in the background drain loop.
func (e *Engine) TriggerWebhook(ctx context.Context, nodeID string, data map[string]interface{}, headers map[string]string) (string, error) {
	e.mu.Lock()
	node, ok := e.registry.GetNode(nodeID)
	e.mu.Unlock()
	if !ok {
		return "", liverrors.NewNotFoundError("node_not_found", "unknown node "+nodeID)
	}
	if node.Config.NodeType != types.NodeTypeWebhook {
		return "", liverrors.NewConfigError("not_webhook", "node "+nodeID+" is not a webhook node")
	}

	trigger := &types.WebhookTrigger{
		NodeID:    nodeID,
		Data:      data,
		Headers:   headers,
		Timestamp: time.Now(),
	}
	id, err := e.db.StoreTrigger(trigger)
	if err != nil {
		return "", err
	}

	e.logger.Info(ctx, "webhook trigger queued", "node_id", nodeID, "trigger_id", id)
	e.events.Publish(Event{Type: EventWebhookQueued, NodeID: nodeID, Details: map[string]interface{}{
		"trigger_id": id,
	}})
	return id, nil
}

// drainWebhooks is the background queue consumer: it polls for unprocessed
// triggers at a fixed interval, processes each against every instance of
// its node, marks it processed, and keeps going on per-trigger errors. A
// whole-cycle failure backs off before the next poll.
func (e *Engine) drainWebhooks(ctx context.Context) {
	ticker := time.NewTicker(webhookPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.drainPendingTriggers(ctx); err != nil {
				e.logger.Error(ctx, err, "webhook drain cycle failed, backing off")
				select {
				case <-ctx.Done():
					return
				case <-time.After(webhookErrorBackoff):
				}
			}
		}
	}
}

func (e *Engine) drainPendingTriggers(ctx context.Context) error {
	triggers, err := e.db.GetPendingTriggers("")
	if err != nil {
		return err
	}

	for _, trigger := range triggers {
		if err := e.processTrigger(ctx, trigger); err != nil {
			e.logger.Error(ctx, err, "processing webhook trigger",
				"node_id", trigger.NodeID, "trigger_id", trigger.ID)
		}
		// Processed regardless: one poisoned trigger must not wedge the
		// queue on every subsequent cycle.
		if err := e.db.MarkTriggerProcessed(trigger.ID); err != nil {
			return err
		}
	}
	return nil
}

// processTrigger renders the webhook node's body against the trigger payload
// for every instance and writes per the node's output mode.
func (e *Engine) processTrigger(ctx context.Context, trigger *types.WebhookTrigger) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.registry.GetNode(trigger.NodeID)
	if !ok {
		return liverrors.NewNotFoundError("node_not_found", "trigger for unknown node "+trigger.NodeID)
	}

	var firstErr error
	for _, inst := range e.registry.Instances(node.ID) {
		inputs, err := e.resolveInputs(ctx, node, inst)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		vars := make(map[string]interface{}, len(inputs)+3)
		for k, v := range inputs {
			vars[k] = v
		}
		vars["webhook_data"] = trigger.Data
		vars["webhook_headers"] = trigger.Headers
		vars["webhook_timestamp"] = trigger.Timestamp.Format(time.RFC3339)

		rendered, err := e.renderer.Render(node.Config.Body, vars)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := e.writeOutput(node, inst, []byte(rendered)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.touchInstance(ctx, inst)
		e.audit(ctx, node.ID, inst.ID, types.LogLevelInfo, "webhook trigger applied", map[string]interface{}{
			"trigger_id": trigger.ID,
		})
	}

	e.events.Publish(Event{Type: EventWebhookProcessed, NodeID: node.ID, Details: map[string]interface{}{
		"trigger_id": trigger.ID,
	}})
	return firstErr
}

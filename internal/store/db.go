package store

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/conneroisu/livegen/internal/errors"
	"github.com/conneroisu/livegen/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
    id TEXT PRIMARY KEY,
    node_type TEXT NOT NULL,
    config_path TEXT,
    config_data TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS node_instances (
    id TEXT PRIMARY KEY,
    node_id TEXT NOT NULL,
    input_config TEXT,
    output_path TEXT,
    created_at TEXT NOT NULL,
    last_built TEXT,
    build_count INTEGER DEFAULT 0,
    FOREIGN KEY (node_id) REFERENCES nodes(id)
);

CREATE TABLE IF NOT EXISTS node_values (
    node_id TEXT,
    output_name TEXT,
    value_hash TEXT,
    value_data TEXT,
    content_path TEXT,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (node_id, output_name),
    FOREIGN KEY (node_id) REFERENCES nodes(id)
);

CREATE TABLE IF NOT EXISTS dependencies (
    dependent_node_id TEXT,
    dependency_node_id TEXT,
    dependency_output TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (dependent_node_id, dependency_node_id, dependency_output)
);

CREATE TABLE IF NOT EXISTS symlinks (
    target_path TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    node_instance_id TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_logs (
    id TEXT PRIMARY KEY,
    node_id TEXT NOT NULL,
    instance_id TEXT,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    details TEXT,
    timestamp TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tail_states (
    node_id TEXT PRIMARY KEY,
    file_path TEXT NOT NULL,
    last_position INTEGER DEFAULT 0,
    last_inode INTEGER DEFAULT 0,
    buffer TEXT,
    fragment INTEGER DEFAULT 0,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_triggers (
    id TEXT PRIMARY KEY,
    node_id TEXT NOT NULL,
    data TEXT NOT NULL,
    headers TEXT,
    timestamp TEXT NOT NULL,
    processed INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_dependencies_dependent ON dependencies(dependent_node_id);
CREATE INDEX IF NOT EXISTS idx_dependencies_dependency ON dependencies(dependency_node_id);
CREATE INDEX IF NOT EXISTS idx_node_values_updated ON node_values(updated_at);
CREATE INDEX IF NOT EXISTS idx_execution_logs_node ON execution_logs(node_id);
CREATE INDEX IF NOT EXISTS idx_execution_logs_timestamp ON execution_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_webhook_triggers_node ON webhook_triggers(node_id);
CREATE INDEX IF NOT EXISTS idx_webhook_triggers_processed ON webhook_triggers(processed);
`

// Database is the durable record of nodes, instances, cached output values,
// dependency edges, tail state, webhook triggers, and logs.
type Database struct {
	db *sql.DB
}

// OpenDatabase opens (and if needed creates) the SQLite database at path and
// applies the schema.
func OpenDatabase(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewIOError("opening database", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn from the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.NewIOError("applying database schema", err)
	}
	return &Database{db: db}, nil
}

// Close releases the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

const timeLayout = time.RFC3339Nano

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.NewInternalError("marshal_failed", "encoding value for storage").WithCause(err)
	}
	return string(b), nil
}

// StoreNode inserts or replaces a node record.
func (d *Database) StoreNode(node *types.Node) error {
	cfg, err := marshalJSON(node.Config)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
        INSERT INTO nodes (id, node_type, config_path, config_data, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            node_type = excluded.node_type,
            config_path = excluded.config_path,
            config_data = excluded.config_data,
            updated_at = excluded.updated_at`,
		node.ID, string(node.Config.NodeType), node.ConfigPath, cfg,
		node.CreatedAt.Format(timeLayout), time.Now().Format(timeLayout))
	if err != nil {
		return errors.NewIOError("storing node", err)
	}
	return nil
}

// GetNode retrieves a node by id.
func (d *Database) GetNode(nodeID string) (*types.Node, error) {
	row := d.db.QueryRow(`SELECT id, config_path, config_data, created_at FROM nodes WHERE id = ?`, nodeID)

	var node types.Node
	var configPath, configData, createdAt sql.NullString
	if err := row.Scan(&node.ID, &configPath, &configData, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("node_not_found", "node not found: "+nodeID)
		}
		return nil, errors.NewIOError("loading node", err)
	}

	node.ConfigPath = configPath.String
	if configData.Valid {
		if err := json.Unmarshal([]byte(configData.String), &node.Config); err != nil {
			return nil, errors.NewInternalError("unmarshal_failed", "decoding stored node config").WithCause(err)
		}
	}
	node.CreatedAt = parseTime(createdAt.String)
	return &node, nil
}

// ListNodes returns all nodes ordered by creation time.
func (d *Database) ListNodes() ([]*types.Node, error) {
	rows, err := d.db.Query(`SELECT id, config_path, config_data, created_at FROM nodes ORDER BY created_at`)
	if err != nil {
		return nil, errors.NewIOError("listing nodes", err)
	}
	defer rows.Close()

	var nodes []*types.Node
	for rows.Next() {
		var node types.Node
		var configPath, configData, createdAt sql.NullString
		if err := rows.Scan(&node.ID, &configPath, &configData, &createdAt); err != nil {
			return nil, errors.NewIOError("scanning node row", err)
		}
		node.ConfigPath = configPath.String
		if configData.Valid {
			if err := json.Unmarshal([]byte(configData.String), &node.Config); err != nil {
				return nil, errors.NewInternalError("unmarshal_failed", "decoding stored node config").WithCause(err)
			}
		}
		node.CreatedAt = parseTime(createdAt.String)
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// StoreInstance inserts or replaces an instance record.
func (d *Database) StoreInstance(inst *types.NodeInstance) error {
	inputs, err := marshalJSON(inst.InputValues)
	if err != nil {
		return err
	}
	var lastBuilt interface{}
	if !inst.LastBuilt.IsZero() {
		lastBuilt = inst.LastBuilt.Format(timeLayout)
	}
	_, err = d.db.Exec(`
        INSERT OR REPLACE INTO node_instances
        (id, node_id, input_config, output_path, created_at, last_built, build_count)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.NodeID, inputs, inst.OutputPath,
		inst.CreatedAt.Format(timeLayout), lastBuilt, inst.BuildCount)
	if err != nil {
		return errors.NewIOError("storing instance", err)
	}
	return nil
}

// GetInstances returns instances, optionally filtered by node id.
func (d *Database) GetInstances(nodeID string) ([]*types.NodeInstance, error) {
	query := `SELECT id, node_id, input_config, output_path, created_at, last_built, build_count FROM node_instances`
	var args []interface{}
	if nodeID != "" {
		query += ` WHERE node_id = ?`
		args = append(args, nodeID)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, errors.NewIOError("listing instances", err)
	}
	defer rows.Close()

	var instances []*types.NodeInstance
	for rows.Next() {
		var inst types.NodeInstance
		var inputs, createdAt, lastBuilt sql.NullString
		if err := rows.Scan(&inst.ID, &inst.NodeID, &inputs, &inst.OutputPath, &createdAt, &lastBuilt, &inst.BuildCount); err != nil {
			return nil, errors.NewIOError("scanning instance row", err)
		}
		if inputs.Valid && inputs.String != "" {
			if err := json.Unmarshal([]byte(inputs.String), &inst.InputValues); err != nil {
				return nil, errors.NewInternalError("unmarshal_failed", "decoding stored input values").WithCause(err)
			}
		}
		inst.CreatedAt = parseTime(createdAt.String)
		if lastBuilt.Valid {
			inst.LastBuilt = parseTime(lastBuilt.String)
		}
		instances = append(instances, &inst)
	}
	return instances, rows.Err()
}

// StoreValue inserts or replaces a cached node output value.
func (d *Database) StoreValue(value *types.NodeValue) error {
	data, err := marshalJSON(value.ValueData)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
        INSERT OR REPLACE INTO node_values
        (node_id, output_name, value_hash, value_data, content_path, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		value.NodeID, value.OutputName, value.ValueHash, data, value.ContentPath,
		value.UpdatedAt.Format(timeLayout))
	if err != nil {
		return errors.NewIOError("storing node value", err)
	}
	return nil
}

// GetValue retrieves the cached value of one node output.
func (d *Database) GetValue(nodeID, outputName string) (*types.NodeValue, error) {
	row := d.db.QueryRow(`
        SELECT node_id, output_name, value_hash, value_data, content_path, updated_at
        FROM node_values WHERE node_id = ? AND output_name = ?`, nodeID, outputName)

	var value types.NodeValue
	var data, contentPath, updatedAt sql.NullString
	if err := row.Scan(&value.NodeID, &value.OutputName, &value.ValueHash, &data, &contentPath, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("value_not_found", "no value for "+nodeID+"."+outputName)
		}
		return nil, errors.NewIOError("loading node value", err)
	}
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &value.ValueData); err != nil {
			// Older rows stored raw strings; fall back to the raw text.
			value.ValueData = data.String
		}
	}
	value.ContentPath = contentPath.String
	value.UpdatedAt = parseTime(updatedAt.String)
	return &value, nil
}

// StoreDependency inserts or replaces a dependency edge.
func (d *Database) StoreDependency(edge types.DependencyEdge) error {
	_, err := d.db.Exec(`
        INSERT OR REPLACE INTO dependencies
        (dependent_node_id, dependency_node_id, dependency_output, created_at)
        VALUES (?, ?, ?, ?)`,
		edge.DependentNodeID, edge.DependencyNodeID, edge.DependencyOutput,
		time.Now().Format(timeLayout))
	if err != nil {
		return errors.NewIOError("storing dependency", err)
	}
	return nil
}

// GetDependencies returns the edges where the given node is the dependent.
// An empty node id returns every edge.
func (d *Database) GetDependencies(nodeID string) ([]types.DependencyEdge, error) {
	query := `SELECT dependent_node_id, dependency_node_id, dependency_output FROM dependencies`
	var args []interface{}
	if nodeID != "" {
		query += ` WHERE dependent_node_id = ?`
		args = append(args, nodeID)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, errors.NewIOError("listing dependencies", err)
	}
	defer rows.Close()

	var edges []types.DependencyEdge
	for rows.Next() {
		var edge types.DependencyEdge
		if err := rows.Scan(&edge.DependentNodeID, &edge.DependencyNodeID, &edge.DependencyOutput); err != nil {
			return nil, errors.NewIOError("scanning dependency row", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// GetDependents returns the node ids depending on a specific node output.
func (d *Database) GetDependents(nodeID, outputName string) ([]string, error) {
	rows, err := d.db.Query(`
        SELECT dependent_node_id FROM dependencies
        WHERE dependency_node_id = ? AND dependency_output = ?`, nodeID, outputName)
	if err != nil {
		return nil, errors.NewIOError("listing dependents", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewIOError("scanning dependent row", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StoreSymlink records which content hash an output path currently points at.
func (d *Database) StoreSymlink(targetPath, contentHash, instanceID string) error {
	_, err := d.db.Exec(`
        INSERT OR REPLACE INTO symlinks (target_path, content_hash, node_instance_id, created_at)
        VALUES (?, ?, ?, ?)`,
		targetPath, contentHash, instanceID, time.Now().Format(timeLayout))
	if err != nil {
		return errors.NewIOError("storing symlink record", err)
	}
	return nil
}

// LiveHashes returns every content hash still referenced by a symlink record.
func (d *Database) LiveHashes() ([]string, error) {
	rows, err := d.db.Query(`SELECT DISTINCT content_hash FROM symlinks`)
	if err != nil {
		return nil, errors.NewIOError("listing live hashes", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, errors.NewIOError("scanning hash row", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// StoreLog appends an execution log entry.
func (d *Database) StoreLog(entry *types.ExecutionLog) error {
	details, err := marshalJSON(entry.Details)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
        INSERT INTO execution_logs (id, node_id, instance_id, level, message, details, timestamp)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.NodeID, entry.InstanceID, string(entry.Level),
		entry.Message, details, entry.Timestamp.Format(timeLayout))
	if err != nil {
		return errors.NewIOError("storing execution log", err)
	}
	return nil
}

// GetLogs returns the most recent execution logs for a node.
func (d *Database) GetLogs(nodeID string, limit int) ([]*types.ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.Query(`
        SELECT id, node_id, instance_id, level, message, details, timestamp
        FROM execution_logs WHERE node_id = ?
        ORDER BY timestamp DESC LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, errors.NewIOError("listing execution logs", err)
	}
	defer rows.Close()

	var logs []*types.ExecutionLog
	for rows.Next() {
		var entry types.ExecutionLog
		var instanceID, details, timestamp sql.NullString
		var level string
		if err := rows.Scan(&entry.ID, &entry.NodeID, &instanceID, &level, &entry.Message, &details, &timestamp); err != nil {
			return nil, errors.NewIOError("scanning log row", err)
		}
		entry.InstanceID = instanceID.String
		entry.Level = types.LogLevel(level)
		if details.Valid && details.String != "" {
			_ = json.Unmarshal([]byte(details.String), &entry.Details)
		}
		entry.Timestamp = parseTime(timestamp.String)
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

// StoreTailState persists the incremental-read position for a tailed file.
func (d *Database) StoreTailState(state *types.TailState) error {
	buffer, err := marshalJSON(state.Buffer)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
        INSERT OR REPLACE INTO tail_states
        (node_id, file_path, last_position, last_inode, buffer, fragment, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		state.NodeID, state.FilePath, state.LastPosition, state.LastInode,
		buffer, state.Fragment, state.UpdatedAt.Format(timeLayout))
	if err != nil {
		return errors.NewIOError("storing tail state", err)
	}
	return nil
}

// GetTailState retrieves the tail state for a node.
func (d *Database) GetTailState(nodeID string) (*types.TailState, error) {
	row := d.db.QueryRow(`
        SELECT node_id, file_path, last_position, last_inode, buffer, fragment, updated_at
        FROM tail_states WHERE node_id = ?`, nodeID)

	var state types.TailState
	var buffer, updatedAt sql.NullString
	if err := row.Scan(&state.NodeID, &state.FilePath, &state.LastPosition, &state.LastInode, &buffer, &state.Fragment, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("tail_state_not_found", "no tail state for node "+nodeID)
		}
		return nil, errors.NewIOError("loading tail state", err)
	}
	if buffer.Valid && buffer.String != "" {
		_ = json.Unmarshal([]byte(buffer.String), &state.Buffer)
	}
	state.UpdatedAt = parseTime(updatedAt.String)
	return &state, nil
}

// StoreTrigger appends a webhook trigger to the durable queue and returns its
// id.
func (d *Database) StoreTrigger(trigger *types.WebhookTrigger) (string, error) {
	if trigger.ID == "" {
		trigger.ID = types.TriggerID(trigger.NodeID, trigger.Timestamp)
	}
	data, err := marshalJSON(trigger.Data)
	if err != nil {
		return "", err
	}
	headers, err := marshalJSON(trigger.Headers)
	if err != nil {
		return "", err
	}
	_, err = d.db.Exec(`
        INSERT INTO webhook_triggers (id, node_id, data, headers, timestamp, processed)
        VALUES (?, ?, ?, ?, ?, 0)`,
		trigger.ID, trigger.NodeID, data, headers, trigger.Timestamp.Format(timeLayout))
	if err != nil {
		return "", errors.NewIOError("storing webhook trigger", err)
	}
	return trigger.ID, nil
}

// GetPendingTriggers returns unprocessed triggers in arrival order,
// optionally filtered by node id.
func (d *Database) GetPendingTriggers(nodeID string) ([]*types.WebhookTrigger, error) {
	query := `SELECT id, node_id, data, headers, timestamp FROM webhook_triggers WHERE processed = 0`
	var args []interface{}
	if nodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, nodeID)
	}
	query += ` ORDER BY timestamp`

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, errors.NewIOError("listing pending triggers", err)
	}
	defer rows.Close()

	var triggers []*types.WebhookTrigger
	for rows.Next() {
		var trigger types.WebhookTrigger
		var data, headers, timestamp sql.NullString
		if err := rows.Scan(&trigger.ID, &trigger.NodeID, &data, &headers, &timestamp); err != nil {
			return nil, errors.NewIOError("scanning trigger row", err)
		}
		if data.Valid && data.String != "" {
			_ = json.Unmarshal([]byte(data.String), &trigger.Data)
		}
		if headers.Valid && headers.String != "" {
			_ = json.Unmarshal([]byte(headers.String), &trigger.Headers)
		}
		trigger.Timestamp = parseTime(timestamp.String)
		triggers = append(triggers, &trigger)
	}
	return triggers, rows.Err()
}

// MarkTriggerProcessed flips a trigger's processed flag.
func (d *Database) MarkTriggerProcessed(triggerID string) error {
	_, err := d.db.Exec(`UPDATE webhook_triggers SET processed = 1 WHERE id = ?`, triggerID)
	if err != nil {
		return errors.NewIOError("marking trigger processed", err)
	}
	return nil
}

// RemoveNode cascades deletion of a node and all related records.
func (d *Database) RemoveNode(nodeID string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return errors.NewIOError("starting delete transaction", err)
	}
	defer tx.Rollback()

	statements := []struct {
		query string
		args  []interface{}
	}{
		{`DELETE FROM symlinks WHERE node_instance_id IN (SELECT id FROM node_instances WHERE node_id = ?)`, []interface{}{nodeID}},
		{`DELETE FROM execution_logs WHERE node_id = ?`, []interface{}{nodeID}},
		{`DELETE FROM tail_states WHERE node_id = ?`, []interface{}{nodeID}},
		{`DELETE FROM webhook_triggers WHERE node_id = ?`, []interface{}{nodeID}},
		{`DELETE FROM dependencies WHERE dependent_node_id = ? OR dependency_node_id = ?`, []interface{}{nodeID, nodeID}},
		{`DELETE FROM node_values WHERE node_id = ?`, []interface{}{nodeID}},
		{`DELETE FROM node_instances WHERE node_id = ?`, []interface{}{nodeID}},
		{`DELETE FROM nodes WHERE id = ?`, []interface{}{nodeID}},
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt.query, stmt.args...); err != nil {
			return errors.NewIOError("cascading node deletion", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewIOError("committing node deletion", err)
	}
	return nil
}

// RemoveInstance deletes a single instance record.
func (d *Database) RemoveInstance(instanceID string) error {
	_, err := d.db.Exec(`DELETE FROM node_instances WHERE id = ?`, instanceID)
	if err != nil {
		return errors.NewIOError("removing instance", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older rows used the second-precision layout.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

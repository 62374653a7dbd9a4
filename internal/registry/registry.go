// Package registry holds the daemon's in-memory runtime indexes: registered
// nodes, their instances, and which filesystem paths feed which nodes. The
// SQLite store owns durability; the registry is rebuilt from it at startup
// and kept in sync by the engine.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/livegen/internal/types"
)

// Loader is the slice of the persistent store the registry hydrates from.
type Loader interface {
	ListNodes() ([]*types.Node, error)
	GetInstances(nodeID string) ([]*types.NodeInstance, error)
}

// Registry indexes nodes and instances for lock-free-ish runtime lookups.
type Registry struct {
	mu        sync.RWMutex
	nodes     map[string]*types.Node
	instances map[string]map[string]*types.NodeInstance
	pathNodes map[string]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		nodes:     make(map[string]*types.Node),
		instances: make(map[string]map[string]*types.NodeInstance),
		pathNodes: make(map[string]map[string]struct{}),
	}
}

// Load hydrates the registry from the persistent store. Existing in-memory
// state is replaced.
func (r *Registry) Load(loader Loader) error {
	nodes, err := loader.ListNodes()
	if err != nil {
		return err
	}

	fresh := NewRegistry()
	for _, node := range nodes {
		fresh.nodes[node.ID] = node
		instances, err := loader.GetInstances(node.ID)
		if err != nil {
			return err
		}
		for _, inst := range instances {
			fresh.putInstanceLocked(inst)
		}
	}

	r.mu.Lock()
	r.nodes = fresh.nodes
	r.instances = fresh.instances
	r.pathNodes = fresh.pathNodes
	r.mu.Unlock()
	return nil
}

// PutNode adds or replaces a node.
func (r *Registry) PutNode(node *types.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[node.ID] = node
}

// GetNode looks up a node by id.
func (r *Registry) GetNode(nodeID string) (*types.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[nodeID]
	return node, ok
}

// Nodes returns all registered nodes ordered by id.
func (r *Registry) Nodes() []*types.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveNode drops a node, its instances, and its path interests.
func (r *Registry) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, nodeID)
	delete(r.instances, nodeID)
	for path, ids := range r.pathNodes {
		delete(ids, nodeID)
		if len(ids) == 0 {
			delete(r.pathNodes, path)
		}
	}
}

// PutInstance adds or replaces an instance under its node.
func (r *Registry) PutInstance(inst *types.NodeInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putInstanceLocked(inst)
}

func (r *Registry) putInstanceLocked(inst *types.NodeInstance) {
	byID, ok := r.instances[inst.NodeID]
	if !ok {
		byID = make(map[string]*types.NodeInstance)
		r.instances[inst.NodeID] = byID
	}
	byID[inst.ID] = inst
}

// Instances returns copies of a node's instances ordered by id. Copies keep
// callers from observing build metadata updates mid-read.
func (r *Registry) Instances(nodeID string) []*types.NodeInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byID := r.instances[nodeID]
	out := make([]*types.NodeInstance, 0, len(byID))
	for _, inst := range byID {
		out = append(out, copyInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetInstance looks up a single instance and returns a copy of it.
func (r *Registry) GetInstance(nodeID, instanceID string) (*types.NodeInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[nodeID][instanceID]
	if !ok {
		return nil, false
	}
	return copyInstance(inst), true
}

// RecordBuild stamps an instance's build metadata under the registry lock and
// returns a copy of the updated instance.
func (r *Registry) RecordBuild(nodeID, instanceID string, at time.Time) (*types.NodeInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[nodeID][instanceID]
	if !ok {
		return nil, false
	}
	inst.LastBuilt = at
	inst.BuildCount++
	return copyInstance(inst), true
}

// copyInstance makes a shallow copy. InputValues is shared: it is never
// mutated after the instance is created.
func copyInstance(inst *types.NodeInstance) *types.NodeInstance {
	dup := *inst
	return &dup
}

// RemoveInstance drops one instance.
func (r *Registry) RemoveInstance(nodeID, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byID, ok := r.instances[nodeID]; ok {
		delete(byID, instanceID)
		if len(byID) == 0 {
			delete(r.instances, nodeID)
		}
	}
}

// InstanceCount returns how many instances a node has.
func (r *Registry) InstanceCount(nodeID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances[nodeID])
}

// AddPathInterest records that a filesystem path feeds a node.
func (r *Registry) AddPathInterest(path, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.pathNodes[path]
	if !ok {
		ids = make(map[string]struct{})
		r.pathNodes[path] = ids
	}
	ids[nodeID] = struct{}{}
}

// NodesForPath returns the ids of nodes fed by a path, ordered.
func (r *Registry) NodesForPath(path string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.pathNodes[path]))
	for id := range r.pathNodes[path] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PathsForNode returns the paths a node watches, ordered.
func (r *Registry) PathsForNode(nodeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var paths []string
	for path, ids := range r.pathNodes {
		if _, ok := ids[nodeID]; ok {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// WatchedPaths returns every path with at least one interested node.
func (r *Registry) WatchedPaths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.pathNodes))
	for path := range r.pathNodes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

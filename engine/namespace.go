package engine

import (
	"sort"
	"sync"
	"time"
)

// Binding suffixes used for dataset globals. For a dataset N the engine holds
// N_data (parsed table) and N_csv (raw text).
const (
	DataSuffix = "_data"
	RawSuffix  = "_csv"
)

// DataName returns the parsed-table global for a dataset.
func DataName(dataset string) string { return dataset + DataSuffix }

// RawName returns the raw-text global for a dataset.
func RawName(dataset string) string { return dataset + RawSuffix }

// DatasetBinding is the durable record of one loaded dataset. Raw is the
// source of truth; the parsed table can always be re-derived from it.
type DatasetBinding struct {
	Name     string
	Raw      string
	LoadedAt time.Time
}

// Namespace is the session-owned store of dataset bindings plus the
// registry of loads.
//
// Access rules:
//   - LoadDataset calls Put (last write wins) then Record.
//   - Run reads Bindings for replay and never writes.
//   - Clear never touches the namespace.
type Namespace struct {
	mu       sync.RWMutex
	bindings map[string]DatasetBinding
	registry []string
}

func NewNamespace() *Namespace {
	return &Namespace{bindings: make(map[string]DatasetBinding)}
}

// Put stores the raw text for a dataset, replacing any previous binding.
func (n *Namespace) Put(name, raw string) {
	n.mu.Lock()
	n.bindings[name] = DatasetBinding{Name: name, Raw: raw, LoadedAt: time.Now()}
	n.mu.Unlock()
}

// Get returns the binding for a dataset.
func (n *Namespace) Get(name string) (DatasetBinding, bool) {
	n.mu.RLock()
	b, ok := n.bindings[name]
	n.mu.RUnlock()
	return b, ok
}

// Bindings returns all dataset bindings sorted by name.
func (n *Namespace) Bindings() []DatasetBinding {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]DatasetBinding, 0, len(n.bindings))
	for _, b := range n.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of distinct datasets bound.
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.bindings)
}

// Record appends a dataset name to the load registry. Duplicates are kept.
func (n *Namespace) Record(name string) {
	n.mu.Lock()
	n.registry = append(n.registry, name)
	n.mu.Unlock()
}

// Registry returns a copy of the load registry in load order.
func (n *Namespace) Registry() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, len(n.registry))
	copy(out, n.registry)
	return out
}

// Reset drops every binding and the registry. Used when a new engine handle
// replaces the old one.
func (n *Namespace) Reset() {
	n.mu.Lock()
	n.bindings = make(map[string]DatasetBinding)
	n.registry = nil
	n.mu.Unlock()
}

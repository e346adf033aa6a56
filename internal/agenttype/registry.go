package agenttype

import (
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry owns an immutable, process-wide map of AgentTypeID -> Definition.
// Writes only happen during Register at startup; reads take a shared read
// lock (sync.RWMutex), matching the "read-mostly" policy in spec.md §5.
type Registry struct {
	mu   sync.RWMutex
	defs map[AgentTypeID]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[AgentTypeID]Definition)}
}

// Register validates and adds definitions to the registry. Registration is
// fail-fast: the first invalid definition aborts the whole batch so callers
// can refuse to start rather than run with a partially-seeded registry.
func (r *Registry) Register(defs ...Definition) error {
	for _, d := range defs {
		if err := validateDefinition(d); err != nil {
			return fmt.Errorf("registering agent type %s: %w", d.Metadata.ID(), err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range defs {
		r.defs[d.Metadata.ID()] = d
	}
	return nil
}

// RegisterYAML parses and registers one or more YAML-encoded definitions.
func (r *Registry) RegisterYAML(docs ...[]byte) error {
	defs := make([]Definition, 0, len(docs))
	for _, doc := range docs {
		var d Definition
		if err := yaml.Unmarshal(doc, &d); err != nil {
			return fmt.Errorf("parsing agent type definition: %w", err)
		}
		defs = append(defs, d)
	}
	return r.Register(defs...)
}

// Get looks up a definition by id.
func (r *Registry) Get(id AgentTypeID) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	if !ok {
		return Definition{}, errNotFound(id)
	}
	return d, nil
}

// List returns a snapshot of all registered agent type ids.
func (r *Registry) List() []AgentTypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]AgentTypeID, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	return ids
}

// validateDefinition rejects definitions that cannot be served, per the
// boundary behaviour in spec.md §8: "a variable with required=false and no
// default is rejected at definition load."
func validateDefinition(d Definition) error {
	if d.Metadata.Namespace == "" || d.Metadata.Name == "" || d.Metadata.Version == "" {
		return fmt.Errorf("metadata: namespace, name, and version are all required")
	}
	for name, v := range d.Variables {
		switch v.Kind {
		case KindString, KindBool, KindNumber, KindFile, KindYAML, KindMap:
		default:
			return fmt.Errorf("variable %q: unknown kind %q", name, v.Kind)
		}
		if !v.Required && v.Default == nil {
			return fmt.Errorf("variable %q: required=false but no default is set", name)
		}
		if v.Kind == KindFile && v.FilePath == "" {
			return fmt.Errorf("variable %q: kind=file requires file_path", name)
		}
	}
	if d.Runtime.OnHost == nil && d.Runtime.K8s == nil {
		return fmt.Errorf("runtime: at least one of on_host or k8s must be set")
	}
	return nil
}

package tool

import (
	"context"
	"fmt"
	"sync"
)

// ErrToolNotFound is returned by Execute for unregistered tool names.
var ErrToolNotFound = fmt.Errorf("tool not found")

// ErrMissingParameter is returned by Execute when a required parameter is
// absent or nil. The check runs before the executor is invoked.
var ErrMissingParameter = fmt.Errorf("missing required parameter")

// Registry maps tool names to capabilities. Registration order is preserved
// and determines the order of Describe(), which feeds prompt construction.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]entry
	nameOrder []string
}

type entry struct {
	desc Descriptor
	exec Executor
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds a tool to the registry. Last write wins on duplicate names;
// a re-registered tool keeps its original position in Describe() order.
func (r *Registry) Register(desc Descriptor, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; !exists {
		r.nameOrder = append(r.nameOrder, desc.Name)
	}
	r.entries[desc.Name] = entry{desc: desc, exec: exec}
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Execute runs the named tool. Parameter presence is validated before the
// executor is invoked; an executor is never called with invalid input.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}

	for _, p := range e.desc.Params {
		if !p.Required {
			continue
		}
		v, present := params[p.Name]
		if !present || v == nil {
			return "", fmt.Errorf("%w: tool %q requires %q", ErrMissingParameter, name, p.Name)
		}
	}

	return e.exec(ctx, params)
}

// Describe returns all descriptors in registration order. The result is a
// copy; mutating it does not affect the registry.
func (r *Registry) Describe() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.nameOrder))
	for _, name := range r.nameOrder {
		out = append(out, r.entries[name].desc)
	}
	return out
}

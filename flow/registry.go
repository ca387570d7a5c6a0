package flow

import (
	"context"
	"sync"
)

// Handler executes the behavior of one node type.
//
// Handlers are external collaborators: the engine knows nothing about what a
// node does, only that a handler maps (parameters, input) to an output. Real
// node behavior (an HTTP call, a data transform, a notification) lives in
// handler implementations supplied by the embedding application.
//
// Implementations should:
//   - Respect context cancellation and deadlines (the engine enforces the
//     per-attempt timeout through ctx)
//   - Return values rather than mutating input in place; the engine owns all
//     shared execution state
//   - Return an error for failures; the engine applies retry policy and
//     error-port routing
type Handler interface {
	Execute(ctx context.Context, params map[string]any, input any) (any, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any, input any) (any, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, params map[string]any, input any) (any, error) {
	return f(ctx, params, input)
}

// Branch is a handler output that selects a specific output port.
//
// A handler that returns a plain value routes it along port 0 (main). A
// multi-branch handler such as a conditional returns Branch to steer its
// output down exactly one port; connections on other ports receive nothing
// from this node for this execution.
type Branch struct {
	Port   int
	Output any
}

// Registry maps node type names to their handlers.
//
// The engine resolves every node's type against the registry during
// validation, so an unregistered type is a validation error rather than a
// runtime crash. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a node type name, replacing any previous
// binding for that name.
func (r *Registry) Register(nodeType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[nodeType] = h
}

// RegisterFunc binds a plain function to a node type name.
func (r *Registry) RegisterFunc(nodeType string, f HandlerFunc) {
	r.Register(nodeType, f)
}

// Resolve returns the handler for a node type.
func (r *Registry) Resolve(nodeType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	return h, ok
}

// Has reports whether a handler is registered for the node type.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.Resolve(nodeType)
	return ok
}

// Types returns the registered node type names. Order is unspecified.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

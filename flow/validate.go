package flow

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a structural validation failure.
type ErrorKind string

// Validation error kinds, checked in the order listed. Validation fails fast
// on the first kind found but collects every error within that kind.
const (
	// ErrUnknownNodeReference: a connection names a source or target node id
	// that is not declared in the workflow.
	ErrUnknownNodeReference ErrorKind = "UnknownNodeReference"

	// ErrDuplicateConnection: two connections share the same
	// (source, sourceOutput, target) triple.
	ErrDuplicateConnection ErrorKind = "DuplicateConnection"

	// ErrUnknownNodeType: a node's type has no registered handler. Only
	// reported when validation runs with a handler registry.
	ErrUnknownNodeType ErrorKind = "UnknownNodeType"

	// ErrNoEntryPoint: no node has in-degree zero on the main-port subgraph.
	// An empty workflow also reports this kind.
	ErrNoEntryPoint ErrorKind = "NoEntryPoint"

	// ErrCircularDependency: the main-port subgraph contains a cycle.
	ErrCircularDependency ErrorKind = "CircularDependency"
)

// ValidationError describes one structural problem in a workflow definition.
type ValidationError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	NodeIDs []string  `json:"nodeIds,omitempty"`
}

// ValidationResult is the outcome of validating a workflow definition.
//
// Validation never fails with a Go error: an unsound workflow is a normal,
// fully described result so callers can render the problems to an end user.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}

// Summary renders the collected errors as a single message, each prefixed
// with its kind, so a caller holding only a flat error string can still tell
// which checks failed.
func (vr ValidationResult) Summary() string {
	parts := make([]string, 0, len(vr.Errors))
	for _, e := range vr.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Kind, e.Message))
	}
	return strings.Join(parts, "; ")
}

// Validate checks the structural soundness of a workflow definition.
//
// Checks run in order, failing fast on the first category that produces
// errors (all errors within that category are collected first):
//
//  1. Every connection references declared node ids.
//  2. No two connections share a (source, sourceOutput, target) triple.
//  3. At least one node has no incoming main-port connection. An empty node
//     list therefore reports NoEntryPoint; callers that prefer to treat an
//     empty workflow as a no-op success must special-case it themselves.
//  4. The main-port subgraph is acyclic. Cycles through error-port
//     connections are tolerated; the engine guarantees a node runs at most
//     once, so such cycles cannot re-enter completed work.
//
// Validate is a pure function: calling it twice on the same definition yields
// identical results.
func Validate(wf *Workflow) ValidationResult {
	return validate(wf, nil)
}

// Validate runs structural validation plus handler resolution: any node whose
// type has no handler registered with the engine's registry is reported as
// UnknownNodeType. Unknown types are caught here, at graph-load time, rather
// than surfacing as a runtime failure mid-execution.
func (e *Engine) Validate(wf *Workflow) ValidationResult {
	return validate(wf, e.registry)
}

func validate(wf *Workflow, reg *Registry) ValidationResult {
	gi := wf.index()

	// Category 1: dangling references.
	var errs []ValidationError
	for _, c := range wf.Connections {
		if _, ok := gi.nodeOrder[c.Source]; !ok {
			errs = append(errs, ValidationError{
				Kind:    ErrUnknownNodeReference,
				Message: fmt.Sprintf("connection source %q is not a declared node", c.Source),
				NodeIDs: []string{c.Source},
			})
		}
		if _, ok := gi.nodeOrder[c.Target]; !ok {
			errs = append(errs, ValidationError{
				Kind:    ErrUnknownNodeReference,
				Message: fmt.Sprintf("connection target %q is not a declared node", c.Target),
				NodeIDs: []string{c.Target},
			})
		}
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}

	// Category 2: duplicate connections on the same port.
	seen := make(map[[2]string]map[int]bool)
	for _, c := range wf.Connections {
		key := [2]string{c.Source, c.Target}
		ports := seen[key]
		if ports == nil {
			ports = make(map[int]bool)
			seen[key] = ports
		}
		if ports[c.SourceOutput] {
			errs = append(errs, ValidationError{
				Kind: ErrDuplicateConnection,
				Message: fmt.Sprintf("duplicate connection %s -> %s on output %d",
					c.Source, c.Target, c.SourceOutput),
				NodeIDs: []string{c.Source, c.Target},
			})
		}
		ports[c.SourceOutput] = true
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}

	// Node-level check: every type must resolve to a handler when a registry
	// is in play.
	if reg != nil {
		for _, n := range wf.Nodes {
			if !reg.Has(n.Type) {
				errs = append(errs, ValidationError{
					Kind:    ErrUnknownNodeType,
					Message: fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type),
					NodeIDs: []string{n.ID},
				})
			}
		}
		if len(errs) > 0 {
			return ValidationResult{Valid: false, Errors: errs}
		}
	}

	// Category 3: at least one entry point on the main-port subgraph.
	entries := 0
	for _, n := range wf.Nodes {
		if len(gi.mainIn(n.ID)) == 0 {
			entries++
		}
	}
	if entries == 0 {
		msg := "workflow has no entry point: every node has an incoming main connection"
		if len(wf.Nodes) == 0 {
			msg = "workflow has no entry point: node list is empty"
		}
		return ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Kind: ErrNoEntryPoint, Message: msg}},
		}
	}

	// Category 4: cycles on the main-port subgraph.
	if cycle := findMainCycle(wf, gi); cycle != nil {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Kind:    ErrCircularDependency,
				Message: fmt.Sprintf("workflow contains a circular dependency: %v", cycle),
				NodeIDs: cycle,
			}},
		}
	}

	return ValidationResult{Valid: true, Errors: []ValidationError{}}
}

// findMainCycle runs a depth-first search over the main-port subgraph using
// white/grey/black coloring and returns one cycle's node ids in traversal
// order, or nil if the subgraph is acyclic.
//
// DFS roots are visited in node declaration order, so the witness cycle is
// stable for a given definition.
func findMainCycle(wf *Workflow, gi *graphIndex) []string {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(wf.Nodes))
	parent := make(map[string]string, len(wf.Nodes))

	var cycle []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = grey
		for _, c := range gi.mainOut(id) {
			next := c.Target
			switch color[next] {
			case white:
				parent[next] = id
				if dfs(next) {
					return true
				}
			case grey:
				// Back-edge id -> next closes a cycle. Walk parents back to
				// next, then reverse into traversal order.
				var back []string
				for cur := id; ; cur = parent[cur] {
					back = append(back, cur)
					if cur == next {
						break
					}
				}
				cycle = make([]string, 0, len(back))
				for i := len(back) - 1; i >= 0; i-- {
					cycle = append(cycle, back[i])
				}
				return true
			}
		}
		color[id] = black
		return false
	}

	for _, n := range wf.Nodes {
		if color[n.ID] == white && dfs(n.ID) {
			return cycle
		}
	}
	return nil
}

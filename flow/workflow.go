// Package flow provides the core workflow graph execution engine for Fluxline.
package flow

import (
	"encoding/json"
	"fmt"
)

// Output port conventions for connections.
//
// Port 0 carries normal (main) data flow. Port 1 carries error output: it is
// traversed only when the source node's handler fails after exhausting
// retries, or when a branching handler explicitly selects it. Higher port
// numbers are valid for multi-branch nodes such as conditionals.
const (
	PortMain  = 0
	PortError = 1
)

// Node is a single processing step in a workflow definition.
//
// The engine interprets only ID and Type. Parameters are passed through to
// the node's handler untouched. Position is owned by the canvas collaborator
// and is carried for round-tripping but never read by the engine.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Position   []float64      `json:"position,omitempty"`
}

// Connection is a directed edge between two nodes.
//
// SourceOutput selects which output port of the source this edge is attached
// to (see PortMain, PortError). TargetInput is the input port on the target;
// the engine currently treats all target inputs uniformly but preserves the
// value for round-tripping.
type Connection struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceOutput int    `json:"sourceOutput"`
	TargetInput  int    `json:"targetInput"`
}

// Workflow is a complete node/edge graph definition.
//
// Declaration order of Nodes and Connections is significant: the scheduler
// breaks ordering ties strictly by declaration order, so two structurally
// identical workflows that list their nodes differently execute in
// correspondingly different (but each individually deterministic) orders.
type Workflow struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name,omitempty"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// ParseWorkflow decodes a JSON workflow definition.
//
// Only the JSON shape is checked here; structural soundness (dangling
// references, cycles, entry points) is the Validator's job.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow definition: %w", err)
	}
	return &wf, nil
}

// Node returns the node with the given id, or false if it is not declared.
func (w *Workflow) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// graphIndex is the adjacency view of a Workflow used by the validator,
// scheduler, and engine. Slices preserve connection declaration order so that
// downstream ordering decisions stay deterministic.
type graphIndex struct {
	// nodeOrder maps node id to its declaration index.
	nodeOrder map[string]int

	// outByPort maps source node id -> output port -> outgoing connections,
	// in declaration order.
	outByPort map[string]map[int][]Connection

	// in maps target node id -> all incoming connections (any port), in
	// declaration order.
	in map[string][]Connection

	// liveIn maps target node id -> incoming connections that can actually
	// deliver input, in declaration order. An error-port connection whose
	// target is a main-path ancestor of its source is excluded: the target
	// always runs before the source can fail, so the connection never feeds
	// the target's input and must not mask it as a non-entry.
	liveIn map[string][]Connection
}

// index builds the adjacency view. It tolerates structurally invalid
// workflows (dangling references are simply indexed under their ids) so the
// validator can use it to produce errors rather than panicking.
func (w *Workflow) index() *graphIndex {
	gi := &graphIndex{
		nodeOrder: make(map[string]int, len(w.Nodes)),
		outByPort: make(map[string]map[int][]Connection),
		in:        make(map[string][]Connection),
	}
	for i, n := range w.Nodes {
		if _, dup := gi.nodeOrder[n.ID]; !dup {
			gi.nodeOrder[n.ID] = i
		}
	}
	for _, c := range w.Connections {
		ports := gi.outByPort[c.Source]
		if ports == nil {
			ports = make(map[int][]Connection)
			gi.outByPort[c.Source] = ports
		}
		ports[c.SourceOutput] = append(ports[c.SourceOutput], c)
		gi.in[c.Target] = append(gi.in[c.Target], c)
	}
	gi.liveIn = make(map[string][]Connection, len(gi.in))
	for target, conns := range gi.in {
		for _, c := range conns {
			if c.SourceOutput == PortError && gi.mainReaches(target, c.Source) {
				continue
			}
			gi.liveIn[target] = append(gi.liveIn[target], c)
		}
	}
	return gi
}

// mainReaches reports whether to is reachable from from over main-port
// connections. from == to counts as reachable.
func (gi *graphIndex) mainReaches(from, to string) bool {
	visited := make(map[string]bool)
	var walk func(id string) bool
	walk = func(id string) bool {
		if id == to {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		for _, c := range gi.outByPort[id][PortMain] {
			if walk(c.Target) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// mainOut returns the outgoing main-port connections of a node in
// declaration order.
func (gi *graphIndex) mainOut(id string) []Connection {
	return gi.outByPort[id][PortMain]
}

// errorOut returns the outgoing error-port connections of a node in
// declaration order.
func (gi *graphIndex) errorOut(id string) []Connection {
	return gi.outByPort[id][PortError]
}

// mainIn returns the incoming main-port connections of a node in declaration
// order.
func (gi *graphIndex) mainIn(id string) []Connection {
	conns := gi.in[id]
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		if c.SourceOutput == PortMain {
			out = append(out, c)
		}
	}
	return out
}

// isEntry reports whether the node has no incoming connections that can
// deliver input. Entry nodes receive the execution's initial input. A node
// whose only incoming connection is an error-port feedback edge from its own
// main-path descendant is still an entry.
func (gi *graphIndex) isEntry(id string) bool {
	return len(gi.liveIn[id]) == 0
}

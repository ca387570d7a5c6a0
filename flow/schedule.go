package flow

// ComputeOrder returns the execution order for a validated workflow.
//
// The order is Kahn's algorithm over all connections (main and error ports
// alike: an error-port connection still means its target must not run before
// its source). The ready queue is seeded with zero-in-degree nodes in their
// declaration order and processed FIFO; when a node's completion releases
// successors, those successors are relaxed in the order their connections
// were declared. Ties are therefore broken strictly by declaration order,
// never by id comparison or map iteration.
//
// Nodes reachable only through error-port connections appear in the order
// after their source, but the engine runs them conditionally: a node only
// executes when one of its incoming edges actually delivered data.
//
// An error-port connection looping back to a main-path ancestor of its
// source can never deliver before its target runs, so it does not constrain
// the order. A cycle made purely of error-port connections leaves its
// members unordered by Kahn; they are appended in declaration order. The
// engine's run-at-most-once rule keeps such cycles from re-entering
// completed nodes. ComputeOrder must only be called on a workflow that
// passed validation.
func ComputeOrder(wf *Workflow) []string {
	gi := wf.index()

	indeg := make(map[string]int, len(wf.Nodes))
	for _, n := range wf.Nodes {
		indeg[n.ID] = len(gi.liveIn[n.ID])
	}

	live := make(map[Connection]bool, len(wf.Connections))
	for _, conns := range gi.liveIn {
		for _, c := range conns {
			live[c] = true
		}
	}

	queue := make([]string, 0, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	order := make([]string, 0, len(wf.Nodes))
	placed := make(map[string]bool, len(wf.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		placed[id] = true
		for _, c := range outInDeclarationOrder(wf, id) {
			if !live[c] {
				continue
			}
			indeg[c.Target]--
			if indeg[c.Target] == 0 {
				queue = append(queue, c.Target)
			}
		}
	}

	// Error-edge cycles: pick up anything Kahn could not place.
	if len(order) < len(wf.Nodes) {
		for _, n := range wf.Nodes {
			if !placed[n.ID] {
				order = append(order, n.ID)
			}
		}
	}
	return order
}

// ComputeLayers groups a validated workflow into topological layers for
// parallel execution. Layer k holds the nodes whose every predecessor (on any
// port) sits in a layer before k; all members of a layer are mutually
// independent and may run concurrently. Within a layer, nodes keep their
// declaration order.
func ComputeLayers(wf *Workflow) [][]string {
	gi := wf.index()

	depth := make(map[string]int, len(wf.Nodes))
	assigned := make(map[string]bool, len(wf.Nodes))
	for _, id := range ComputeOrder(wf) {
		d := 0
		for _, c := range gi.liveIn[id] {
			if assigned[c.Source] && depth[c.Source]+1 > d {
				d = depth[c.Source] + 1
			}
		}
		depth[id] = d
		assigned[id] = true
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]string, maxDepth+1)
	for _, n := range wf.Nodes {
		d := depth[n.ID]
		layers[d] = append(layers[d], n.ID)
	}
	return layers
}

// outInDeclarationOrder returns all outgoing connections of a node in the
// order they were declared in the workflow, regardless of port.
func outInDeclarationOrder(wf *Workflow, id string) []Connection {
	var out []Connection
	for _, c := range wf.Connections {
		if c.Source == id {
			out = append(out, c)
		}
	}
	return out
}

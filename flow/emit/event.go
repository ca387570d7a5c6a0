package emit

// Event messages emitted by the engine over one execution's lifetime.
const (
	MsgExecutionStarted   = "execution_started"
	MsgExecutionCompleted = "execution_completed"
	MsgExecutionCancelled = "execution_cancelled"
	MsgNodeStarted        = "node_started"
	MsgNodeCompleted      = "node_completed"
	MsgNodeFailed         = "node_failed"
	MsgNodeRetry          = "node_retry"
	MsgNodeSkipped        = "node_skipped"
	MsgErrorBranch        = "error_branch_activated"
)

// Event is one observability event from a workflow execution.
//
// Events cover the run lifecycle (start, completion, cancellation) and every
// node transition (start, completion, retry, failure, skip, error-branch
// activation). Step counts executed nodes, 1-indexed; it is zero for
// run-level events.
type Event struct {
	// ExecutionID identifies the run that emitted this event.
	ExecutionID string `json:"executionId"`

	// Step is the sequential executed-node counter, zero for run-level
	// events.
	Step int `json:"step"`

	// NodeID identifies the node, empty for run-level events.
	NodeID string `json:"nodeId,omitempty"`

	// Msg is the event name, one of the Msg* constants.
	Msg string `json:"msg"`

	// Meta holds additional structured data. Common keys: "duration_ms",
	// "error", "attempt", "status", "branch_target".
	Meta map[string]any `json:"meta,omitempty"`
}

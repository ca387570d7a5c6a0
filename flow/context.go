package flow

import (
	"time"
)

// ExecutionOptions configures one execution run.
//
// Zero values are valid: a zero Timeout falls back to the engine's default
// node timeout, zero MaxRetries means a single attempt per node, and
// ParallelExecution defaults to strict sequential order.
type ExecutionOptions struct {
	// ExecutionID identifies the run. Generated (UUID) when empty.
	ExecutionID string `json:"executionId,omitempty"`

	// Timeout is the per-node-attempt budget in seconds.
	Timeout float64 `json:"timeout,omitempty"`

	// MaxRetries is the number of retries after a failed attempt, so a node
	// is attempted at most MaxRetries+1 times. Negative values are treated
	// as zero.
	MaxRetries int `json:"maxRetries,omitempty"`

	// ParallelExecution runs mutually independent nodes concurrently in
	// dependency-respecting layers.
	ParallelExecution bool `json:"parallelExecution,omitempty"`
}

// ExecutionContext is the per-run mutable state owned by the engine.
//
// Handlers never see the context directly: they receive input values and
// return outputs, and only the engine writes Variables. One context belongs
// to exactly one run and is discarded (or persisted through the store
// collaborator) when the run completes.
type ExecutionContext struct {
	WorkflowID  string           `json:"workflowId"`
	ExecutionID string           `json:"executionId"`
	Input       any              `json:"inputData"`
	Variables   map[string]any   `json:"variables"`
	StartTime   time.Time        `json:"startTime"`
	Options     ExecutionOptions `json:"executionOptions"`
}

// newExecutionContext builds the context for one run. Variables starts empty
// and accumulates node outputs keyed by node id as execution progresses.
func newExecutionContext(workflowID string, execID string, input any, opts ExecutionOptions) *ExecutionContext {
	opts.ExecutionID = execID
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &ExecutionContext{
		WorkflowID:  workflowID,
		ExecutionID: execID,
		Input:       input,
		Variables:   make(map[string]any),
		StartTime:   time.Now(),
		Options:     opts,
	}
}

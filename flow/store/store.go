// Package store provides persistence for workflow execution state.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested execution id does not exist.
var ErrNotFound = errors.New("not found")

// StepRecord is one persisted node output within an execution run.
type StepRecord struct {
	Step   int    `json:"step"`
	NodeID string `json:"nodeId"`
	Output any    `json:"output"`
}

// ExecutionRecord is the persisted terminal state of one run.
type ExecutionRecord struct {
	ExecutionID   string  `json:"executionId"`
	WorkflowID    string  `json:"workflowId,omitempty"`
	Status        string  `json:"status"`
	Results       any     `json:"results,omitempty"`
	ExecutionTime float64 `json:"executionTime"`
	ErrorCode     string  `json:"errorCode,omitempty"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
}

// Store persists execution state as a run progresses.
//
// The engine writes one StepRecord per executed node and one ExecutionRecord
// when the run reaches a terminal state. Stored data supports execution
// inspection ("what did node X produce?") and monitoring surfaces.
//
// Implementations provided:
//   - MemStore: in-memory, for tests and short-lived workflows
//   - SQLiteStore: single-file persistence, zero setup
//   - MySQLStore: production persistence shared across workers
type Store interface {
	// SaveStep persists one node's output. Steps are 1-indexed within a run
	// and written in completion order.
	SaveStep(ctx context.Context, executionID string, step int, nodeID string, output any) error

	// LoadSteps returns all persisted steps for a run, ordered by step
	// number. Returns ErrNotFound when the run has no steps.
	LoadSteps(ctx context.Context, executionID string) ([]StepRecord, error)

	// SaveExecution persists the terminal record of a run, overwriting any
	// previous record for the same execution id.
	SaveExecution(ctx context.Context, rec ExecutionRecord) error

	// LoadExecution returns the terminal record of a run, or ErrNotFound.
	LoadExecution(ctx context.Context, executionID string) (ExecutionRecord, error)
}

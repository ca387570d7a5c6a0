package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for testing, development, and single-process workflows where
// persistence across restarts is not required. Thread-safe.
//
// Memory grows with execution history; long-lived processes should prefer a
// database-backed store or prune old runs themselves.
type MemStore struct {
	mu         sync.RWMutex
	steps      map[string][]StepRecord
	executions map[string]ExecutionRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		steps:      make(map[string][]StepRecord),
		executions: make(map[string]ExecutionRecord),
	}
}

// SaveStep appends one node output to the run's history.
func (m *MemStore) SaveStep(_ context.Context, executionID string, step int, nodeID string, output any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[executionID] = append(m.steps[executionID], StepRecord{
		Step:   step,
		NodeID: nodeID,
		Output: output,
	})
	return nil
}

// LoadSteps returns the run's steps ordered by step number. Handles
// out-of-order saves from parallel batches.
func (m *MemStore) LoadSteps(_ context.Context, executionID string) ([]StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.steps[executionID]
	if !ok || len(records) == 0 {
		return nil, ErrNotFound
	}

	out := make([]StepRecord, len(records))
	copy(out, records)
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

// SaveExecution stores the terminal record, overwriting any previous one.
func (m *MemStore) SaveExecution(_ context.Context, rec ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[rec.ExecutionID] = rec
	return nil
}

// LoadExecution returns the terminal record for a run.
func (m *MemStore) LoadExecution(_ context.Context, executionID string) (ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return ExecutionRecord{}, ErrNotFound
	}
	return rec, nil
}

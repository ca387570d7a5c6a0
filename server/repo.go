package server

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/fluxline/fluxline/flow"
)

// ErrWorkflowNotFound is returned for workflow ids the repository does not
// hold.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Repo stores workflow definitions by id. In-memory; definitions live for
// the lifetime of the process. Safe for concurrent use.
type Repo struct {
	mu        sync.RWMutex
	workflows map[string]*flow.Workflow
}

// NewRepo creates an empty workflow repository.
func NewRepo() *Repo {
	return &Repo{workflows: make(map[string]*flow.Workflow)}
}

// Create stores a new workflow, assigning an id when the definition has
// none. Returns the stored id.
func (r *Repo) Create(wf *flow.Workflow) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	r.workflows[wf.ID] = wf
	return wf.ID
}

// Get returns the workflow stored under id.
func (r *Repo) Get(id string) (*flow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return wf, nil
}

// Update replaces the workflow stored under id.
func (r *Repo) Update(id string, wf *flow.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	wf.ID = id
	r.workflows[id] = wf
	return nil
}

// List returns all stored workflows. Order is unspecified.
func (r *Repo) List() []*flow.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*flow.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	return out
}

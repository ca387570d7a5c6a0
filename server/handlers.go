package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/fluxline/fluxline/flow"
	"github.com/fluxline/fluxline/flow/store"
)

const maxBodySize = 10 << 20

// executeRequest is the body of POST /workflows/{id}/executions.
type executeRequest struct {
	Input   any                   `json:"input"`
	Options flow.ExecutionOptions `json:"options"`
}

// executionDetail is the response of GET /executions/{id}.
type executionDetail struct {
	Execution store.ExecutionRecord `json:"execution"`
	Steps     []store.StepRecord    `json:"steps,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) readWorkflow(w http.ResponseWriter, r *http.Request) (*flow.Workflow, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	wf, err := flow.ParseWorkflow(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return wf, true
}

// handleCreateWorkflow stores a definition and returns its id. The
// definition is not validated here; unsound drafts may be saved and fixed
// through PUT, and validation happens explicitly or at execution time.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.readWorkflow(w, r)
	if !ok {
		return
	}
	id := s.repo.Create(wf)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.repo.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.readWorkflow(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.repo.Update(id, wf); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// handleValidate validates a definition against the engine's registry and
// returns the full ValidationResult. Always 200; soundness is in the body.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.readWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Validate(wf))
}

// handleExecute runs a stored workflow synchronously and returns the
// ExecutionResult. The HTTP status reflects the terminal status: 200 for
// success, 422 for a failed or cancelled run.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	wf, err := s.repo.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req executeRequest
	if r.Body != nil {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid execution request: "+err.Error())
				return
			}
		}
	}

	result := s.engine.Execute(r.Context(), wf, req.Input, req.Options)
	status := http.StatusOK
	if result.Status != flow.StatusSuccess {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, steps, err := s.engine.Execution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, executionDetail{Execution: rec, Steps: steps})
}

func (s *Server) handleNodeTypes(w http.ResponseWriter, r *http.Request) {
	types := s.engine.Registry().Types()
	sort.Strings(types)
	writeJSON(w, http.StatusOK, map[string][]string{"types": types})
}

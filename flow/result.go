package flow

// Status is the terminal state of an execution run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// ExecutionError is the structured error carried by a failed or cancelled
// execution result. Code is one of the Code* constants.
type ExecutionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ExecutionError) Error() string {
	return e.Code + ": " + e.Message
}

// ExecutionResult is the terminal artifact of one execution run.
//
// Results holds the combined outputs of the terminal nodes (nodes with no
// outgoing main-port connections) that executed successfully: the output
// directly when exactly one terminal node ran, otherwise a map keyed by
// node id. An error-port connection does not stop its source from being
// terminal.
// ExecutionTime is wall-clock seconds for the whole run.
type ExecutionResult struct {
	ExecutionID   string          `json:"executionId"`
	Status        Status          `json:"status"`
	Results       any             `json:"results,omitempty"`
	ExecutionTime float64         `json:"executionTime"`
	Error         *ExecutionError `json:"error,omitempty"`
}

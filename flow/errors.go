package flow

import "errors"

// Execution error codes carried in ExecutionResult.Error. Validation-time
// problems are reported through ValidationResult kinds instead; these codes
// only appear on results whose status is "error" or "cancelled".
const (
	// CodeValidationFailed: the definition failed structural validation;
	// the result's message summarizes the first validation error.
	CodeValidationFailed = "ValidationFailed"

	// CodeNodeExecutionFailure: a handler returned an error (or panicked)
	// on its final attempt, with no error-port connection to absorb the
	// failure.
	CodeNodeExecutionFailure = "NodeExecutionFailure"

	// CodeNodeTimeout: a node attempt exceeded its timeout budget on the
	// final attempt, with no error-port connection to absorb the failure.
	CodeNodeTimeout = "NodeTimeout"

	// CodeExecutionCancelled: the caller cancelled the execution before it
	// completed.
	CodeExecutionCancelled = "ExecutionCancelled"

	// CodeExecutionAborted: the run's wall-clock budget expired before all
	// nodes completed.
	CodeExecutionAborted = "ExecutionAborted"

	// CodeStateStoreFailure: the persistence collaborator rejected a write.
	CodeStateStoreFailure = "StateStoreFailure"
)

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate for policies that
// violate their own constraints (negative retries, MaxDelay below BaseDelay).
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// errAttemptTimeout marks an attempt that was cut off by its timeout budget,
// distinguishing it from a handler failure for retry accounting and final
// error codes.
var errAttemptTimeout = errors.New("node attempt timed out")

// EngineError represents a configuration or usage error from Engine
// operations, distinct from execution failures which are reported as data in
// ExecutionResult.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Package emit provides observability events for workflow execution.
package emit

// Emitter receives and processes observability events from workflow
// execution.
//
// Emitters enable pluggable observability backends: logging, distributed
// tracing (OpenTelemetry), realtime broadcast to connected clients, or
// in-memory capture for tests and dashboards.
//
// Implementations should be:
//   - Non-blocking: never slow down workflow execution
//   - Thread-safe: events arrive concurrently in parallel mode
//   - Resilient: a failing backend must not crash the workflow
type Emitter interface {
	// Emit sends one event to the configured backend. Emit must not panic;
	// backend errors should be handled internally.
	Emit(event Event)
}

// Multi fans a single event stream out to several emitters, in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}

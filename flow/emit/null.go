package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when event emission is unwanted: zero overhead, safe for concurrent
// use.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}

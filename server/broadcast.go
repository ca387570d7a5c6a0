package server

import (
	"sync"

	"github.com/fluxline/fluxline/flow/emit"
)

// Broadcast fans execution events out to any number of subscribers, so a
// monitoring surface can follow runs in real time.
//
// Subscribers receive on buffered channels; a subscriber that falls behind
// has events dropped rather than blocking the engine.
type Broadcast struct {
	mu   sync.RWMutex
	subs map[int]chan emit.Event
	next int
}

// NewBroadcast creates a Broadcast with no subscribers.
func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[int]chan emit.Event)}
}

// Emit implements emit.Emitter.
func (b *Broadcast) Emit(event emit.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than stall the run.
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function that removes the subscription and closes the channel.
func (b *Broadcast) Subscribe(buffer int) (<-chan emit.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan emit.Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

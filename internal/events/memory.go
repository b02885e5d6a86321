package events

import (
	"sync"

	"streamd/pkg/types"
)

// Recorder stores events in-memory, for tests and for callers that render a
// turn after it finishes.
type Recorder struct {
	mu     sync.Mutex
	events []types.StreamEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(e types.StreamEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []types.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.StreamEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the type of every recorded event, in order.
func (r *Recorder) Types() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

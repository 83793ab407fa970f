package events

import (
	"context"
	"sync"
)

// Recorder captures events for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates a recorder subscribed to every kind of em.
func NewRecorder(em *Emitter) *Recorder {
	r := &Recorder{}
	em.OnAll(r.Listen)
	return r
}

// Listen is a Listener that records ev.
func (r *Recorder) Listen(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in order, or nil if none
// were recorded.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Clear discards recorded events.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Package events provides the typed publish/subscribe registry used to notify
// consumers of index changes.
//
// Delivery is synchronous and follows registration order per kind. A failing
// or panicking listener never prevents delivery to the listeners after it;
// failures are collected and returned from Emit.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownKind is returned for values outside the Kind enumeration.
	ErrUnknownKind = errors.New("unknown event kind")
	// ErrListenerPanic wraps a recovered listener panic.
	ErrListenerPanic = errors.New("listener panicked")
)

// Listener handles one event.
type Listener func(ctx context.Context, ev Event) error

// Subscription identifies a registered listener for Off.
type Subscription struct {
	kind Kind
	id   uint64
}

// Kind returns the kind the subscription listens to.
func (s Subscription) Kind() Kind {
	return s.kind
}

// ListenerError reports a failure of one listener.
type ListenerError struct {
	Kind Kind
	// Position is the listener's index in the delivery order of the event.
	Position int
	Err      error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %d for %s: %v", e.Position, e.Kind, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

type entry struct {
	id uint64
	fn Listener
}

// Emitter is a registry from kind to ordered listeners. The zero value is
// not usable; call NewEmitter.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[Kind][]entry
	nextID    uint64
}

// NewEmitter creates an empty registry.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[Kind][]entry)}
}

// On registers fn for kind. It panics on an unknown kind or nil listener.
func (e *Emitter) On(kind Kind, fn Listener) Subscription {
	if !kind.Valid() {
		panic(fmt.Sprintf("events: On with %v", kind))
	}
	if fn == nil {
		panic("events: On with nil listener")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[kind] = append(e.listeners[kind], entry{id: e.nextID, fn: fn})
	return Subscription{kind: kind, id: e.nextID}
}

// OnAll registers fn for every kind.
func (e *Emitter) OnAll(fn Listener) []Subscription {
	subs := make([]Subscription, 0, len(kindNames))
	for _, k := range Kinds() {
		subs = append(subs, e.On(k, fn))
	}
	return subs
}

// Off removes a subscription. It reports whether the listener was registered.
func (e *Emitter) Off(sub Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[sub.kind]
	for i, en := range list {
		if en.id != sub.id {
			continue
		}
		// Copy so that an in-flight Emit keeps its snapshot intact.
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, sub.kind)
		} else {
			e.listeners[sub.kind] = next
		}
		return true
	}
	return false
}

// Count returns the number of listeners registered for kind.
func (e *Emitter) Count(kind Kind) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[kind])
}

// Emit delivers ev to the listeners of ev.Kind. Listeners registered or
// removed during delivery take effect from the next Emit.
func (e *Emitter) Emit(ctx context.Context, ev Event) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(ev.Kind))
	}
	e.mu.RLock()
	list := e.listeners[ev.Kind]
	e.mu.RUnlock()

	var errs []error
	for i, en := range list {
		if err := call(ctx, en.fn, ev); err != nil {
			errs = append(errs, &ListenerError{Kind: ev.Kind, Position: i, Err: err})
		}
	}
	return errors.Join(errs...)
}

// EmitAll delivers events in order and joins their errors.
func (e *Emitter) EmitAll(ctx context.Context, evs []Event) error {
	var errs []error
	for _, ev := range evs {
		if err := e.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call(ctx context.Context, fn Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
	}()
	return fn(ctx, ev)
}
